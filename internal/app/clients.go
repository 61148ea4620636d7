package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/zeitwise/detox-backend/internal/detox/embedding"
	"github.com/zeitwise/detox-backend/internal/detox/llm"
	"github.com/zeitwise/detox-backend/internal/detox/masker"
	"github.com/zeitwise/detox-backend/internal/observability"
	"github.com/zeitwise/detox-backend/internal/platform/blob"
	"github.com/zeitwise/detox-backend/internal/platform/giphy"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
	"github.com/zeitwise/detox-backend/internal/platform/openai"
	"github.com/zeitwise/detox-backend/internal/platform/qdrant"
	"github.com/zeitwise/detox-backend/internal/platform/redis"
	"github.com/zeitwise/detox-backend/internal/services"
)

// Clients are the external collaborators. Optional ones are nil when their
// settings are missing.
type Clients struct {
	OpenAI   *openai.Client
	XAI      *openai.Client
	Qdrant   *qdrant.Client
	Redis    *goredis.Client
	EventBus *redis.EventBus
	Giphy    *giphy.Client
	Blob     blob.Store
	JWKS     *services.JWKSCache
}

func (c Clients) Close() {
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	var out Clients
	var err error

	if cfg.OpenAI.APIKey != "" {
		out.OpenAI, err = openai.NewClient(log, openai.Config{
			Service: llm.ProviderOpenAI,
			BaseURL: cfg.OpenAI.BaseURL,
			APIKey:  cfg.OpenAI.APIKey,
			Timeout: cfg.LLMTimeout,
		})
		if err != nil {
			return out, fmt.Errorf("init openai: %w", err)
		}
	} else {
		log.Warn("OPENAI_API_KEY not set; embeddings and the openai provider are disabled")
	}
	if cfg.XAI.APIKey != "" {
		out.XAI, err = openai.NewClient(log, openai.Config{
			Service: llm.ProviderXAI,
			BaseURL: cfg.XAI.BaseURL,
			APIKey:  cfg.XAI.APIKey,
			Timeout: cfg.LLMTimeout,
		})
		if err != nil {
			return out, fmt.Errorf("init xai: %w", err)
		}
	} else {
		log.Warn("XAI_API_KEY not set; routing to a single provider")
	}

	out.Qdrant, err = qdrant.NewClient(log, cfg.Qdrant)
	if err != nil {
		return out, fmt.Errorf("init qdrant: %w", err)
	}

	if cfg.RedisAddr != "" {
		rdb, rerr := redis.NewClient(ctx, cfg.RedisAddr)
		if rerr != nil {
			log.Warn("redis unavailable; embedding cache and job events disabled", "error", rerr)
		} else {
			out.Redis = rdb
			if out.EventBus, err = redis.NewEventBus(log, rdb, cfg.RedisChannel); err != nil {
				return out, fmt.Errorf("init event bus: %w", err)
			}
		}
	} else {
		log.Warn("REDIS_ADDR not set; embedding cache and job events disabled")
	}

	out.Giphy = giphy.NewClient(log, giphy.Config{APIKey: cfg.GiphyAPIKey})
	if !out.Giphy.Enabled() {
		log.Warn("GIPHY_API_KEY not set; memes will not include a GIF")
	}

	out.Blob, err = blob.New(ctx, log, cfg.Blob)
	if err != nil {
		return out, fmt.Errorf("init blob store: %w", err)
	}

	if cfg.Auth.JWKSURL != "" {
		out.JWKS = services.NewJWKSCache(&http.Client{Timeout: 10 * time.Second}, cfg.Auth.JWKSURL, cfg.JWKSCacheTTL)
	}
	return out, nil
}

func buildMasker(log *logger.Logger, cfg Config) (*masker.Masker, error) {
	recognizers := []masker.Recognizer{masker.NewProseRecognizer()}
	if cfg.GazetteerFile != "" {
		g, err := masker.LoadGazetteer(cfg.GazetteerFile)
		if err != nil {
			return nil, &ConfigError{Var: "DETOX_GAZETTEER_FILE", Value: cfg.GazetteerFile, Reason: err.Error()}
		}
		recognizers = append(recognizers, g)
	}
	return masker.New(log, cfg.EntityTypes, recognizers...), nil
}

// buildEmbedder returns nil when no embeddings backend is configured; the
// pipeline then skips retrieval.
func buildEmbedder(log *logger.Logger, cfg Config, clients Clients, metrics *observability.Metrics) embedding.Embedder {
	if clients.OpenAI == nil {
		return nil
	}
	inner := embedding.NewOpenAIEmbedder(log, clients.OpenAI, cfg.EmbedModel, cfg.EmbedMaxChars, cfg.LLMRouting.Retry, metrics)
	var cache embedding.Cache
	if clients.Redis != nil {
		cache = redis.NewEmbeddingCache(clients.Redis, "", cfg.EmbedCacheTTL)
	}
	return embedding.NewCachedEmbedder(log, inner, cache, cfg.EmbedModel, cfg.EmbedMaxChars)
}

func buildRouter(log *logger.Logger, cfg Config, clients Clients, metrics *observability.Metrics) (*llm.Router, error) {
	routing := cfg.LLMRouting
	if cfg.ProfanityWords != "" {
		scorer, err := llm.LoadProfanityScorer(cfg.ProfanityWords)
		if err != nil {
			return nil, &ConfigError{Var: "LLM_PROFANITY_WORDS_FILE", Value: cfg.ProfanityWords, Reason: err.Error()}
		}
		routing.Scorer = scorer
	} else {
		routing.Scorer = llm.NewProfanityScorer(nil)
	}
	var providers []llm.Provider
	if clients.OpenAI != nil {
		providers = append(providers, llm.NewOpenAIProvider(clients.OpenAI, cfg.OpenAI.Model))
	}
	if clients.XAI != nil {
		providers = append(providers, llm.NewXAIProvider(clients.XAI, cfg.XAI.Model))
	}
	if len(providers) == 0 {
		log.Warn("no LLM provider configured; analyses will use the fallback verdict")
	}
	return llm.NewRouter(log, metrics, routing, providers...), nil
}
