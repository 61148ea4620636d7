package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/zeitwise/detox-backend/internal/data/db"
	"github.com/zeitwise/detox-backend/internal/detox/embedding"
	"github.com/zeitwise/detox-backend/internal/detox/llm"
	"github.com/zeitwise/detox-backend/internal/detox/masker"
	"github.com/zeitwise/detox-backend/internal/detox/memes"
	"github.com/zeitwise/detox-backend/internal/detox/pipeline"
	"github.com/zeitwise/detox-backend/internal/jobs/worker"
	"github.com/zeitwise/detox-backend/internal/observability"
	"github.com/zeitwise/detox-backend/internal/platform/blob"
	"github.com/zeitwise/detox-backend/internal/platform/envutil"
	"github.com/zeitwise/detox-backend/internal/platform/openai"
	"github.com/zeitwise/detox-backend/internal/platform/qdrant"
	"github.com/zeitwise/detox-backend/internal/platform/redis"
	"github.com/zeitwise/detox-backend/internal/platform/retry"
	"github.com/zeitwise/detox-backend/internal/services"
)

// ConfigError names the variable that stopped startup.
type ConfigError struct {
	Var    string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s=%q: %s", e.Var, e.Value, e.Reason)
}

type ProviderSettings struct {
	APIKey  string
	BaseURL string
	Model   string
}

type Config struct {
	LogMode        string
	Port           string
	ServiceName    string
	Environment    string
	MetricsEnabled bool
	WorkerEnabled  bool
	CORSOrigins    []string

	EntityTypes   []string
	GazetteerFile string
	MemeStyle     string

	OpenAI         ProviderSettings
	XAI            ProviderSettings
	EmbedModel     string
	EmbedMaxChars  int
	EmbedCacheTTL  time.Duration
	LLMTimeout     time.Duration
	LLMRouting     llm.RouterConfig
	ProfanityWords string

	RedisAddr    string
	RedisChannel string
	GiphyAPIKey  string
	JWKSCacheTTL time.Duration

	Tracing  observability.TracingConfig
	Pipeline pipeline.Config
	Qdrant   qdrant.Config
	DB       db.Config
	Blob     blob.Config
	Auth     services.AuthConfig
	Worker   worker.Config
}

func LoadConfig() (Config, error) {
	qcfg, err := qdrant.ResolveConfigFromEnv()
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		LogMode:        envutil.String("LOG_MODE", "development"),
		Port:           envutil.String("PORT", "8080"),
		ServiceName:    envutil.String("OTEL_SERVICE_NAME", "detox-backend"),
		Environment:    envutil.String("APP_ENV", "development"),
		MetricsEnabled: envutil.Bool("METRICS_ENABLED", true),
		WorkerEnabled:  envutil.Bool("WORKER_ENABLED", true),
		CORSOrigins:    envutil.CSV("CORS_ALLOWED_ORIGINS", nil),

		EntityTypes:   envutil.CSV("DETOX_ENTITY_TYPES", masker.DefaultEntityTypes),
		GazetteerFile: envutil.String("DETOX_GAZETTEER_FILE", ""),
		MemeStyle:     envutil.String("DETOX_MEME_STYLE", memes.DefaultStyle),

		OpenAI: ProviderSettings{
			APIKey:  envutil.String("OPENAI_API_KEY", ""),
			BaseURL: envutil.String("OPENAI_BASE_URL", openai.DefaultBaseURL),
			Model:   envutil.String("OPENAI_MODEL", llm.DefaultOpenAIModel),
		},
		XAI: ProviderSettings{
			APIKey:  envutil.String("XAI_API_KEY", ""),
			BaseURL: envutil.String("XAI_BASE_URL", "https://api.x.ai"),
			Model:   envutil.String("XAI_MODEL", llm.DefaultXAIModel),
		},
		EmbedModel:    envutil.String("OPENAI_EMBED_MODEL", embedding.DefaultModel),
		EmbedMaxChars: envutil.Int("DETOX_EMBED_MAX_CHARS", embedding.DefaultMaxChars),
		EmbedCacheTTL: envutil.Seconds("EMBED_CACHE_TTL_SECONDS", 24*time.Hour),
		LLMTimeout:    envutil.Seconds("LLM_HTTP_TIMEOUT_SECONDS", 60*time.Second),
		LLMRouting: llm.RouterConfig{
			DefaultProvider:    strings.ToLower(envutil.String("LLM_DEFAULT_PROVIDER", llm.ProviderOpenAI)),
			PermissiveProvider: strings.ToLower(envutil.String("LLM_PERMISSIVE_PROVIDER", llm.ProviderXAI)),
			ProfanityThreshold: envutil.Float("LLM_PROFANITY_THRESHOLD", llm.DefaultProfanityThreshold),
			Retry: retry.Policy{
				Attempts: envutil.Int("LLM_RETRY_ATTEMPTS", 3),
				MinDelay: envutil.Seconds("LLM_RETRY_MIN_SECONDS", 4*time.Second),
				MaxDelay: envutil.Seconds("LLM_RETRY_MAX_SECONDS", 10*time.Second),
			},
		},
		ProfanityWords: envutil.String("LLM_PROFANITY_WORDS_FILE", ""),

		RedisAddr:    envutil.String("REDIS_ADDR", ""),
		RedisChannel: envutil.String("REDIS_CHANNEL", redis.DefaultChannel),
		GiphyAPIKey:  envutil.String("GIPHY_API_KEY", ""),
		JWKSCacheTTL: envutil.Seconds("JWKS_CACHE_TTL_SECONDS", services.DefaultJWKSCacheTTL),

		Pipeline: pipeline.ConfigFromEnv(qcfg.Collection),
		Qdrant:   qcfg,
		DB:       db.ConfigFromEnv(),
		Blob:     blob.ConfigFromEnv(),
		Auth:     services.AuthConfigFromEnv(),
		Worker:   worker.ConfigFromEnv(),
	}
	cfg.Tracing = observability.TracingConfigFromEnv(cfg.ServiceName, cfg.Environment)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if t := c.Pipeline.SimilarityThreshold; t < 0 || t > 1 {
		return &ConfigError{Var: "DETOX_SIMILARITY_THRESHOLD", Value: fmt.Sprint(t), Reason: "must be within [0, 1]"}
	}
	if n := c.Pipeline.MaxSimilarItems; n < 1 {
		return &ConfigError{Var: "DETOX_MAX_SIMILAR_ITEMS", Value: fmt.Sprint(n), Reason: "must be positive"}
	}
	if t := c.LLMRouting.ProfanityThreshold; t < 0 || t > 1 {
		return &ConfigError{Var: "LLM_PROFANITY_THRESHOLD", Value: fmt.Sprint(t), Reason: "must be within [0, 1]"}
	}
	for name, v := range map[string]string{
		"LLM_DEFAULT_PROVIDER":    c.LLMRouting.DefaultProvider,
		"LLM_PERMISSIVE_PROVIDER": c.LLMRouting.PermissiveProvider,
	} {
		if v != llm.ProviderOpenAI && v != llm.ProviderXAI {
			return &ConfigError{Var: name, Value: v, Reason: "must be openai or xai"}
		}
	}
	if c.DB.Driver != db.DriverPostgres && c.DB.Driver != db.DriverSQLite {
		return &ConfigError{Var: "DB_DRIVER", Value: c.DB.Driver, Reason: "must be postgres or sqlite"}
	}
	if c.Blob.Backend != blob.BackendLocal && c.Blob.Backend != blob.BackendGCS {
		return &ConfigError{Var: "BLOB_BACKEND", Value: string(c.Blob.Backend), Reason: "must be local or gcs"}
	}
	if c.Blob.Backend == blob.BackendGCS && strings.TrimSpace(c.Blob.Bucket) == "" {
		return &ConfigError{Var: "GCS_BUCKET", Reason: "required when BLOB_BACKEND=gcs"}
	}
	return nil
}
