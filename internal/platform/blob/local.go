package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeitwise/detox-backend/internal/platform/logger"
)

type localStore struct {
	log     *logger.Logger
	dir     string
	baseURL string
}

// NewLocalStore writes objects under dir. PublicURL joins baseURL and the key,
// or returns a file:// URL when no base is configured.
func NewLocalStore(log *logger.Logger, dir, baseURL string) (Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("local blob dir required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &localStore{
		log:     log.With("store", "LocalBlobStore"),
		dir:     abs,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
	}, nil
}

func (s *localStore) Put(ctx context.Context, key string, r io.Reader) error {
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	path := filepath.Join(s.dir, filepath.FromSlash(k))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write blob %s: %w", k, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *localStore) PublicURL(key string) string {
	k := strings.TrimLeft(strings.TrimSpace(key), "/")
	if s.baseURL != "" {
		return s.baseURL + "/" + k
	}
	return "file://" + filepath.ToSlash(filepath.Join(s.dir, filepath.FromSlash(k)))
}
