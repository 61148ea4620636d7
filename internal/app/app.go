package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/zeitwise/detox-backend/internal/data/db"
	"github.com/zeitwise/detox-backend/internal/data/repos"
	"github.com/zeitwise/detox-backend/internal/detox/embedding"
	"github.com/zeitwise/detox-backend/internal/detox/masker"
	"github.com/zeitwise/detox-backend/internal/detox/memes"
	"github.com/zeitwise/detox-backend/internal/detox/pipeline"
	httpserver "github.com/zeitwise/detox-backend/internal/http"
	"github.com/zeitwise/detox-backend/internal/jobs/pipeline/detox_process"
	"github.com/zeitwise/detox-backend/internal/jobs/pipeline/meme_generate"
	"github.com/zeitwise/detox-backend/internal/jobs/runtime"
	"github.com/zeitwise/detox-backend/internal/jobs/worker"
	"github.com/zeitwise/detox-backend/internal/observability"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
	"github.com/zeitwise/detox-backend/internal/platform/qdrant"
	"github.com/zeitwise/detox-backend/internal/services"
)

// Options choose which surfaces a process runs. Every process gets the
// pipeline; only the API needs auth.
type Options struct {
	HTTP   bool
	Worker bool
}

type App struct {
	Log     *logger.Logger
	Cfg     Config
	DB      *gorm.DB
	Metrics *observability.Metrics

	Clients      Clients
	Masker       *masker.Masker
	Embedder     embedding.Embedder
	Index        *qdrant.Client
	Orchestrator *pipeline.Orchestrator
	Server       *httpserver.Server
	Worker       *worker.Worker

	dbService    *db.Service
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New(ctx context.Context, opts Options) (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &App{Log: log, Cfg: cfg}
	if a.otelShutdown, err = observability.InitTracing(ctx, log, cfg.Tracing); err != nil {
		log.Warn("tracing disabled", "error", err)
	}
	if cfg.MetricsEnabled {
		a.Metrics = observability.NewMetrics()
	}

	if err := a.wire(ctx, opts); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, opts Options) error {
	log, cfg := a.Log, a.Cfg

	svc, err := db.Open(log, cfg.DB)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	a.dbService = svc
	a.DB = svc.DB()
	if err := db.AutoMigrateAll(a.DB); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}

	if a.Clients, err = wireClients(ctx, log, cfg); err != nil {
		return err
	}
	a.Index = a.Clients.Qdrant
	if !a.Index.EnsureCollection(ctx, cfg.Pipeline.Collection, cfg.Qdrant.VectorDim) {
		log.Warn("similarity collection not ready; retrieval will degrade", "collection", cfg.Pipeline.Collection)
	}

	if a.Masker, err = buildMasker(log, cfg); err != nil {
		return err
	}
	a.Embedder = buildEmbedder(log, cfg, a.Clients, a.Metrics)
	router, err := buildRouter(log, cfg, a.Clients, a.Metrics)
	if err != nil {
		return err
	}

	items := repos.NewDetoxItemRepo(a.DB, log)
	jobRepo := repos.NewJobRunRepo(a.DB, log)
	notifier := services.NewJobNotifier(log, a.Clients.EventBus)
	jobService := services.NewJobService(a.DB, log, jobRepo, notifier)

	deps := pipeline.Deps{
		Masker:      a.Masker,
		Embedder:    a.Embedder,
		Index:       a.Index,
		Analyzer:    router,
		Memes:       memes.NewTrigger(log, jobService, cfg.MemeStyle),
		Store:       pipeline.NewPersistence(log, items),
		Metrics:     a.Metrics,
		DataQuality: observability.NewDataQuality(log, a.Metrics),
	}
	a.Orchestrator = pipeline.NewOrchestrator(log, cfg.Pipeline, deps)

	if opts.Worker && cfg.WorkerEnabled {
		renderer, err := memes.NewCardRenderer()
		if err != nil {
			return fmt.Errorf("init meme renderer: %w", err)
		}
		generator := memes.NewGenerator(log, router, a.Clients.Giphy, a.Clients.Blob, renderer)

		registry, err := runtime.NewRegistry(
			detox_process.New(log, items, a.Orchestrator),
			meme_generate.New(log, items, generator, cfg.Worker.MaxAttempts),
		)
		if err != nil {
			return err
		}
		a.Worker = worker.NewWorker(a.DB, log, jobRepo, registry, notifier, a.Metrics, cfg.Worker)
	}

	if opts.HTTP {
		auth, err := services.NewAuthService(log, cfg.Auth, a.Clients.JWKS)
		if err != nil {
			return &ConfigError{Var: "JWT_SECRET", Reason: err.Error()}
		}
		a.Server = httpserver.NewServer(routerConfig(a, auth, jobService, items, cfg))
	}
	return nil
}

// Start launches background loops. It is a no-op without a worker.
func (a *App) Start(ctx context.Context) {
	if a == nil || a.cancel != nil || a.Worker == nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.Worker.Start(ctx)
}

func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized for http")
	}
	addr := ":" + a.Cfg.Port
	a.Log.Info("HTTP server listening", "addr", addr)
	return a.Server.Run(addr)
}

// Close stops the server and worker, then releases clients. Safe on a
// partially wired App.
func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			a.Log.Warn("HTTP shutdown", "error", err)
		}
	}
	if a.cancel != nil {
		a.cancel()
		a.Worker.Wait()
		a.cancel = nil
	}
	a.Clients.Close()
	if a.dbService != nil {
		_ = a.dbService.Close()
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown", "error", err)
		}
	}
	a.Log.Sync()
}
