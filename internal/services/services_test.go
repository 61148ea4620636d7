package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/zeitwise/detox-backend/internal/data/repos"
	"github.com/zeitwise/detox-backend/internal/data/repos/testutil"
	"github.com/zeitwise/detox-backend/internal/detox/memes"
	"github.com/zeitwise/detox-backend/internal/detox/pipeline"
	"github.com/zeitwise/detox-backend/internal/domain/detox"
	"github.com/zeitwise/detox-backend/internal/domain/jobs"
	"github.com/zeitwise/detox-backend/internal/platform/ctxutil"
	"github.com/zeitwise/detox-backend/internal/platform/dbctx"
)

type recordingNotifier struct {
	mu      sync.Mutex
	created []uuid.UUID
}

func (n *recordingNotifier) JobCreated(userID uuid.UUID, job *jobs.JobRun) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, job.ID)
}
func (n *recordingNotifier) JobProgress(uuid.UUID, *jobs.JobRun, string, int, string) {}
func (n *recordingNotifier) JobFailed(uuid.UUID, *jobs.JobRun, string, string)        {}
func (n *recordingNotifier) JobDone(uuid.UUID, *jobs.JobRun)                          {}

func userCtx(uid uuid.UUID, privileged bool) context.Context {
	ctx := ctxutil.WithTraceData(context.Background(), &ctxutil.TraceData{TraceID: "trace-1", RequestID: "req-1"})
	return ctxutil.WithRequestData(ctx, &ctxutil.RequestData{UserID: uid, Privileged: privileged})
}

func TestDetoxServiceAcceptAndStatus(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	items := repos.NewDetoxItemRepo(db, log)
	jobRepo := repos.NewJobRunRepo(db, log)
	notify := &recordingNotifier{}
	svc := NewDetoxService(db, log, items, NewJobService(db, log, jobRepo, notify))

	owner := uuid.New()
	ownerCtx := dbctx.Context{Ctx: userCtx(owner, false)}

	if _, err := svc.Accept(ownerCtx, "   ", true); !errors.Is(err, pipeline.ErrInvalidInput) {
		t.Fatalf("blank text: expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.Accept(dbctx.Context{Ctx: context.Background()}, "text", true); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("anonymous: expected ErrNotAuthenticated, got %v", err)
	}

	item, err := svc.Accept(ownerCtx, "Shocking news about John Doe", true)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if item.Status != detox.StatusPending || item.UserID != owner {
		t.Fatalf("unexpected item: %+v", item)
	}
	if len(notify.created) != 1 {
		t.Fatalf("expected one job created, got %d", len(notify.created))
	}

	job, err := jobRepo.GetByID(dbctx.Context{Ctx: context.Background()}, notify.created[0])
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if job.JobType != detox.JobTypeProcess || job.EntityID == nil || *job.EntityID != item.ID || job.Status != jobs.StatusQueued {
		t.Fatalf("unexpected job: %+v", job)
	}
	var payload map[string]any
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["detox_item_id"] != item.ID.String() || payload["generate_meme"] != true || payload["trace_id"] != "trace-1" || payload["request_id"] != "req-1" {
		t.Fatalf("unexpected payload: %v", payload)
	}

	got, err := svc.Status(ownerCtx, item.ID)
	if err != nil || got.ID != item.ID {
		t.Fatalf("Status(owner): got=%v err=%v", got, err)
	}
	if _, err := svc.Status(dbctx.Context{Ctx: userCtx(uuid.New(), false)}, item.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Status(stranger): expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Status(dbctx.Context{Ctx: userCtx(uuid.New(), true)}, item.ID); err != nil {
		t.Fatalf("Status(privileged): %v", err)
	}
	if _, err := svc.Status(ownerCtx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Status(missing): expected ErrNotFound, got %v", err)
	}
}

func TestMemeServiceGenerateAndStatus(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	jobSvc := NewJobService(db, log, repos.NewJobRunRepo(db, log), nil)
	svc := NewMemeService(log, jobSvc)

	owner := uuid.New()
	ownerCtx := dbctx.Context{Ctx: userCtx(owner, false)}

	if _, _, err := svc.Generate(ownerCtx, MemeRequest{Headline: " "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank headline: expected ErrInvalidInput, got %v", err)
	}

	job, req, err := svc.Generate(ownerCtx, MemeRequest{Headline: "Markets melt down", Analysis: "overblown"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if job.JobType != memes.JobType || req.Style != memes.DefaultStyle {
		t.Fatalf("unexpected job=%+v req=%+v", job, req)
	}

	got, err := svc.Status(ownerCtx, job.ID)
	if err != nil || got.ID != job.ID {
		t.Fatalf("Status(owner): got=%v err=%v", got, err)
	}
	if _, err := svc.Status(dbctx.Context{Ctx: userCtx(uuid.New(), false)}, job.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Status(stranger): expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Status(ownerCtx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Status(missing): expected ErrNotFound, got %v", err)
	}

	other, err := jobSvc.Enqueue(ownerCtx, jobs.Request{OwnerUserID: owner, JobType: detox.JobTypeProcess})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := svc.Status(ownerCtx, other.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Status(non-meme job): expected ErrNotFound, got %v", err)
	}
}
