package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/zeitwise/detox-backend/internal/data/repos"
	"github.com/zeitwise/detox-backend/internal/domain/jobs"
	"github.com/zeitwise/detox-backend/internal/jobs/runtime"
	"github.com/zeitwise/detox-backend/internal/observability"
	"github.com/zeitwise/detox-backend/internal/platform/dbctx"
	"github.com/zeitwise/detox-backend/internal/platform/envutil"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
	"github.com/zeitwise/detox-backend/internal/services"
)

type Config struct {
	Concurrency       int
	PollInterval      time.Duration
	MaxAttempts       int
	RetryDelay        time.Duration
	StaleRunning      time.Duration
	HeartbeatInterval time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		Concurrency:       envutil.Int("WORKER_CONCURRENCY", 4),
		PollInterval:      envutil.Seconds("WORKER_POLL_SECONDS", time.Second),
		MaxAttempts:       envutil.Int("WORKER_MAX_ATTEMPTS", 5),
		RetryDelay:        envutil.Seconds("WORKER_RETRY_DELAY_SECONDS", 30*time.Second),
		StaleRunning:      envutil.Seconds("WORKER_STALE_RUNNING_SECONDS", 30*time.Minute),
		HeartbeatInterval: envutil.Seconds("WORKER_HEARTBEAT_SECONDS", 15*time.Second),
	}
}

func (c Config) normalized() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.StaleRunning <= 0 {
		c.StaleRunning = 30 * time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	return c
}

type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     repos.JobRunRepo
	registry *runtime.Registry
	notify   services.JobNotifier
	metrics  *observability.Metrics
	cfg      Config
	policy   repos.JobClaimPolicy
	wg       sync.WaitGroup
}

// NewWorker only claims job types registry can run, so API and worker
// processes built with different handler sets can share one queue.
func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRunRepo, registry *runtime.Registry, notify services.JobNotifier, metrics *observability.Metrics, cfg Config) *Worker {
	cfg = cfg.normalized()
	return &Worker{
		db:       db,
		log:      baseLog.With("component", "JobWorker"),
		repo:     repo,
		registry: registry,
		notify:   notify,
		metrics:  metrics,
		cfg:      cfg,
		policy: repos.JobClaimPolicy{
			JobTypes:    registry.Types(),
			MaxAttempts: cfg.MaxAttempts,
			RetryDelay:  cfg.RetryDelay,
			StaleAfter:  cfg.StaleRunning,
		},
	}
}

// Start launches the polling loops and returns immediately. Loops exit when
// ctx is done; Wait blocks until they have.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Starting job worker pool", "concurrency", w.cfg.Concurrency, "job_types", w.registry.Types())
	for i := 0; i < w.cfg.Concurrency; i++ {
		workerID := i + 1
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.runLoop(ctx, workerID)
		}()
	}
}

func (w *Worker) Wait() { w.wg.Wait() }

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			for w.RunOnce(ctx, workerID) {
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// RunOnce claims and runs at most one job. It reports whether a job was
// claimed so the loop can drain a backlog without waiting for the next tick.
func (w *Worker) RunOnce(ctx context.Context, workerID int) bool {
	if len(w.policy.JobTypes) == 0 {
		return false
	}
	job, err := w.repo.Claim(dbctx.Context{Ctx: ctx, Tx: w.db}, w.policy)
	if err != nil {
		w.log.Warn("Claim failed", "worker_id", workerID, "error", err)
		return false
	}
	if job == nil {
		return false
	}

	log := w.log.With("worker_id", workerID, "job_id", job.ID, "job_type", job.JobType, "attempt", job.Attempts)
	jc := runtime.NewContext(ctx, job, w.repo, w.notify)
	h, _ := w.registry.Get(job.JobType)

	stopHeartbeat := w.heartbeat(ctx, job)
	defer stopHeartbeat()

	start := time.Now()
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Job handler panic", "panic", r)
				jc.Fail("panic", &panicError{Val: r})
			}
		}()
		if runErr := h.Run(jc); runErr != nil && !jc.Terminal() {
			jc.Fail("run", runErr)
		}
	}()
	if !jc.Terminal() {
		jc.Fail("run", fmt.Errorf("handler returned without a terminal status"))
	}

	status := job.Status
	log.Info("Job finished", "status", status, "stage", job.Stage, "duration_ms", time.Since(start).Milliseconds())
	w.metrics.JobFinished(job.JobType, status)
	return true
}

func (w *Worker) heartbeat(ctx context.Context, job *jobs.JobRun) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(w.cfg.HeartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-t.C:
				if err := w.repo.Heartbeat(dbctx.Context{Ctx: hbCtx, Tx: w.db}, job.ID); err != nil {
					w.log.Debug("Heartbeat failed", "job_id", job.ID, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }
