package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/zeitwise/detox-backend/internal/data/repos"
	"github.com/zeitwise/detox-backend/internal/data/repos/testutil"
	"github.com/zeitwise/detox-backend/internal/domain/jobs"
	"github.com/zeitwise/detox-backend/internal/jobs/runtime"
	"github.com/zeitwise/detox-backend/internal/platform/dbctx"
)

type funcHandler struct {
	typ   string
	calls atomic.Int32
	run   func(jc *runtime.Context) error
}

func (h *funcHandler) Type() string { return h.typ }

func (h *funcHandler) Run(jc *runtime.Context) error {
	h.calls.Add(1)
	return h.run(jc)
}

func seedJob(t *testing.T, repo repos.JobRunRepo, jobType string) *jobs.JobRun {
	t.Helper()
	job := &jobs.JobRun{OwnerUserID: uuid.New(), JobType: jobType, Payload: []byte(`{"n":1}`)}
	if err := repo.Create(dbctx.Context{Ctx: context.Background()}, job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func reload(t *testing.T, repo repos.JobRunRepo, id uuid.UUID) *jobs.JobRun {
	t.Helper()
	job, err := repo.GetByID(dbctx.Context{Ctx: context.Background()}, id)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	return job
}

func TestRunOnce(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := repos.NewJobRunRepo(db, log)

	ok := &funcHandler{typ: "ok", run: func(jc *runtime.Context) error {
		jc.Progress("work", 50, "halfway")
		jc.Succeed("done", map[string]any{"n": jc.Payload()["n"]})
		return nil
	}}
	boom := &funcHandler{typ: "boom", run: func(jc *runtime.Context) error {
		panic("kaboom")
	}}
	errs := &funcHandler{typ: "errs", run: func(jc *runtime.Context) error {
		return errors.New("handler error")
	}}
	silent := &funcHandler{typ: "silent", run: func(jc *runtime.Context) error { return nil }}

	reg, err := runtime.NewRegistry(ok, boom, errs, silent)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := runtime.NewRegistry(ok, &funcHandler{typ: "ok"}); err == nil {
		t.Fatalf("duplicate job type should fail")
	}

	w := NewWorker(db, log, repo, reg, nil, nil, Config{MaxAttempts: 1, RetryDelay: time.Hour})
	ctx := context.Background()

	cases := []struct {
		jobType   string
		wantState string
		wantStage string
	}{
		{"ok", jobs.StatusSucceeded, "done"},
		{"boom", jobs.StatusFailed, "panic"},
		{"errs", jobs.StatusFailed, "run"},
		{"silent", jobs.StatusFailed, "run"},
	}
	for _, tc := range cases {
		t.Run(tc.jobType, func(t *testing.T) {
			job := seedJob(t, repo, tc.jobType)
			if !w.RunOnce(ctx, 1) {
				t.Fatalf("RunOnce should claim the seeded job")
			}
			got := reload(t, repo, job.ID)
			if got.Status != tc.wantState || got.Stage != tc.wantStage {
				t.Fatalf("status=%q stage=%q, want %q/%q (error=%q)", got.Status, got.Stage, tc.wantState, tc.wantStage, got.Error)
			}
			if got.Attempts != 1 {
				t.Fatalf("attempts=%d", got.Attempts)
			}
		})
	}

	if w.RunOnce(ctx, 1) {
		t.Fatalf("exhausted jobs must not be claimed again")
	}

	unknown := seedJob(t, repo, "unknown")
	if w.RunOnce(ctx, 1) {
		t.Fatalf("job types without a handler must not be claimed")
	}
	if got := reload(t, repo, unknown.ID); got.Status != jobs.StatusQueued || got.Attempts != 0 {
		t.Fatalf("unknown job touched: status=%q attempts=%d", got.Status, got.Attempts)
	}
	if ok.calls.Load() != 1 || boom.calls.Load() != 1 {
		t.Fatalf("unexpected handler calls ok=%d boom=%d", ok.calls.Load(), boom.calls.Load())
	}
}

func TestRunOnceRetriesFailedJob(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := repos.NewJobRunRepo(db, log)

	flaky := &funcHandler{typ: "flaky"}
	flaky.run = func(jc *runtime.Context) error {
		if flaky.calls.Load() == 1 {
			jc.Fail("generate", errors.New("upstream down"))
			return nil
		}
		jc.Succeed("done", nil)
		return nil
	}
	reg, err := runtime.NewRegistry(flaky)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	w := NewWorker(db, log, repo, reg, nil, nil, Config{MaxAttempts: 3, RetryDelay: 0})
	job := seedJob(t, repo, "flaky")
	ctx := context.Background()

	if !w.RunOnce(ctx, 1) {
		t.Fatalf("first RunOnce should claim")
	}
	if got := reload(t, repo, job.ID); got.Status != jobs.StatusFailed {
		t.Fatalf("after first attempt status=%q", got.Status)
	}
	if !w.RunOnce(ctx, 1) {
		t.Fatalf("second RunOnce should reclaim the failed job")
	}
	got := reload(t, repo, job.ID)
	if got.Status != jobs.StatusSucceeded || got.Attempts != 2 {
		t.Fatalf("after retry status=%q attempts=%d", got.Status, got.Attempts)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := repos.NewJobRunRepo(db, log)

	done := make(chan struct{}, 1)
	h := &funcHandler{typ: "ok", run: func(jc *runtime.Context) error {
		jc.Succeed("done", nil)
		done <- struct{}{}
		return nil
	}}
	reg, _ := runtime.NewRegistry(h)
	seedJob(t, repo, "ok")

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(db, log, repo, reg, nil, nil, Config{Concurrency: 2, PollInterval: 10 * time.Millisecond})
	w.Start(ctx)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("job was not processed")
	}
	cancel()
	w.Wait()
}
