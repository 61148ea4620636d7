package pipeline

import (
	"time"

	"github.com/zeitwise/detox-backend/internal/platform/envutil"
	"github.com/zeitwise/detox-backend/internal/platform/qdrant"
)

type Config struct {
	Collection          string
	SimilarityThreshold float64
	MaxSimilarItems     int
	Temperature         float64
	MaxTokens           int
	EnableMemes         bool
	IndexResults        bool

	EmbedTimeout   time.Duration
	SearchTimeout  time.Duration
	LLMTimeout     time.Duration
	PersistTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Collection:          qdrant.DefaultCollection,
		SimilarityThreshold: 0.8,
		MaxSimilarItems:     3,
		Temperature:         0.3,
		MaxTokens:           500,
		EnableMemes:         true,
		IndexResults:        true,
		EmbedTimeout:        15 * time.Second,
		SearchTimeout:       10 * time.Second,
		LLMTimeout:          30 * time.Second,
		PersistTimeout:      10 * time.Second,
	}
}

// ConfigFromEnv reads the DETOX_* settings on top of DefaultConfig.
func ConfigFromEnv(collection string) Config {
	d := DefaultConfig()
	if collection == "" {
		collection = d.Collection
	}
	return Config{
		Collection:          collection,
		SimilarityThreshold: envutil.Float("DETOX_SIMILARITY_THRESHOLD", d.SimilarityThreshold),
		MaxSimilarItems:     envutil.Int("DETOX_MAX_SIMILAR_ITEMS", d.MaxSimilarItems),
		Temperature:         envutil.Float("DETOX_LLM_TEMPERATURE", d.Temperature),
		MaxTokens:           envutil.Int("DETOX_LLM_MAX_TOKENS", d.MaxTokens),
		EnableMemes:         envutil.Bool("DETOX_ENABLE_MEME_GENERATION", d.EnableMemes),
		IndexResults:        envutil.Bool("DETOX_INDEX_RESULTS", d.IndexResults),
		EmbedTimeout:        envutil.Seconds("DETOX_EMBED_TIMEOUT_SECONDS", d.EmbedTimeout),
		SearchTimeout:       envutil.Seconds("DETOX_SEARCH_TIMEOUT_SECONDS", d.SearchTimeout),
		LLMTimeout:          envutil.Seconds("DETOX_LLM_TIMEOUT_SECONDS", d.LLMTimeout),
		PersistTimeout:      envutil.Seconds("DETOX_PERSIST_TIMEOUT_SECONDS", d.PersistTimeout),
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Collection == "" {
		c.Collection = d.Collection
	}
	if c.MaxSimilarItems <= 0 {
		c.MaxSimilarItems = d.MaxSimilarItems
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = d.EmbedTimeout
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = d.SearchTimeout
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = d.LLMTimeout
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = d.PersistTimeout
	}
	return c
}
