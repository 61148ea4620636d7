package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/zeitwise/detox-backend/internal/observability"
	"github.com/zeitwise/detox-backend/internal/platform/httpx"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
	"github.com/zeitwise/detox-backend/internal/platform/openai"
	"github.com/zeitwise/detox-backend/internal/platform/retry"
)

const (
	DefaultModel    = "text-embedding-3-small"
	DefaultMaxChars = 512
)

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Truncate cuts text to at most maxChars characters without splitting a rune.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	n := 0
	for i := range text {
		if n == maxChars {
			return text[:i]
		}
		n++
	}
	return text
}

type embeddingsAPI interface {
	Embeddings(ctx context.Context, model string, inputs []string) ([][]float32, error)
}

type OpenAIEmbedder struct {
	log      *logger.Logger
	api      embeddingsAPI
	model    string
	maxChars int
	policy   retry.Policy
	metrics  *observability.Metrics
}

func NewOpenAIEmbedder(log *logger.Logger, client *openai.Client, model string, maxChars int, policy retry.Policy, metrics *observability.Metrics) *OpenAIEmbedder {
	return newOpenAIEmbedder(log, client, model, maxChars, policy, metrics)
}

func newOpenAIEmbedder(log *logger.Logger, api embeddingsAPI, model string, maxChars int, policy retry.Policy, metrics *observability.Metrics) *OpenAIEmbedder {
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if policy.Retryable == nil {
		policy.Retryable = httpx.IsRetryableError
	}
	e := &OpenAIEmbedder{
		log:      log.With("component", "OpenAIEmbedder", "model", model),
		api:      api,
		model:    model,
		maxChars: maxChars,
		metrics:  metrics,
	}
	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, err error) {
		e.metrics.Retry("embeddings")
		e.log.Warn("Embedding call failed, retrying", "attempt", attempt, "error", err)
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}
	e.policy = policy
	return e
}

func (e *OpenAIEmbedder) Model() string { return e.model }

// Embed truncates text to the configured length and returns its embedding.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = Truncate(text, e.maxChars)
	return retry.Do(ctx, e.policy, func(ctx context.Context) ([]float32, error) {
		vecs, err := e.api.Embeddings(ctx, e.model, []string{text})
		if err != nil {
			return nil, err
		}
		if len(vecs) != 1 || len(vecs[0]) == 0 {
			return nil, retry.Permanent(fmt.Errorf("embeddings returned %d vectors", len(vecs)))
		}
		return vecs[0], nil
	})
}

// Cache stores vectors by key. redis.EmbeddingCache implements it.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Put(ctx context.Context, key string, vec []float32) error
}

// CachedEmbedder fronts another Embedder with a cache, and collapses
// concurrent requests for the same text into one upstream call. Cache errors
// are logged and otherwise ignored.
type CachedEmbedder struct {
	log      *logger.Logger
	inner    Embedder
	cache    Cache
	model    string
	maxChars int
	group    singleflight.Group
}

func NewCachedEmbedder(log *logger.Logger, inner Embedder, cache Cache, model string, maxChars int) *CachedEmbedder {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &CachedEmbedder{
		log:      log.With("component", "CachedEmbedder"),
		inner:    inner,
		cache:    cache,
		model:    model,
		maxChars: maxChars,
	}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = Truncate(text, c.maxChars)
	key := cacheKey(c.model, text)

	if c.cache != nil {
		vec, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.log.Warn("Embedding cache read failed", "error", err)
		} else if ok {
			return vec, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		vec, err := c.inner.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		if c.cache != nil {
			if perr := c.cache.Put(ctx, key, vec); perr != nil {
				c.log.Warn("Embedding cache write failed", "error", perr)
			}
		}
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	vec := v.([]float32)
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, nil
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}
