// Package blob stores generated artifacts (meme cards and records) either on
// the local filesystem or in a GCS bucket.
package blob

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/zeitwise/detox-backend/internal/platform/envutil"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
)

type Store interface {
	Put(ctx context.Context, key string, r io.Reader) error
	PublicURL(key string) string
}

type Backend string

const (
	BackendLocal Backend = "local"
	BackendGCS   Backend = "gcs"
)

type Config struct {
	Backend       Backend
	LocalDir      string
	PublicBaseURL string
	Bucket        string
	EmulatorHost  string
}

func ConfigFromEnv() Config {
	return Config{
		Backend:       Backend(strings.ToLower(envutil.String("BLOB_BACKEND", string(BackendLocal)))),
		LocalDir:      envutil.String("BLOB_LOCAL_DIR", "./data/blobs"),
		PublicBaseURL: envutil.String("BLOB_PUBLIC_BASE_URL", ""),
		Bucket:        envutil.String("GCS_BUCKET", ""),
		EmulatorHost:  envutil.String("STORAGE_EMULATOR_HOST", ""),
	}
}

func New(ctx context.Context, log *logger.Logger, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendGCS:
		return NewGCSStore(ctx, log, cfg)
	case BackendLocal, "":
		return NewLocalStore(log, cfg.LocalDir, cfg.PublicBaseURL)
	default:
		return nil, fmt.Errorf("unsupported BLOB_BACKEND %q", cfg.Backend)
	}
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".gif"):
		return "image/gif"
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

func cleanKey(key string) (string, error) {
	k := strings.TrimLeft(strings.TrimSpace(key), "/")
	if k == "" {
		return "", fmt.Errorf("blob key required")
	}
	for _, part := range strings.Split(k, "/") {
		if part == ".." {
			return "", fmt.Errorf("invalid blob key %q", key)
		}
	}
	return k, nil
}
