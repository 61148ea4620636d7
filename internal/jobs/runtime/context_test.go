package runtime

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/zeitwise/detox-backend/internal/data/repos"
	"github.com/zeitwise/detox-backend/internal/data/repos/testutil"
	"github.com/zeitwise/detox-backend/internal/domain/jobs"
	"github.com/zeitwise/detox-backend/internal/platform/ctxutil"
	"github.com/zeitwise/detox-backend/internal/platform/dbctx"
)

type recordingNotifier struct {
	progress, failed, done int
}

func (n *recordingNotifier) JobCreated(uuid.UUID, *jobs.JobRun) {}
func (n *recordingNotifier) JobProgress(uuid.UUID, *jobs.JobRun, string, int, string) {
	n.progress++
}
func (n *recordingNotifier) JobFailed(uuid.UUID, *jobs.JobRun, string, string) { n.failed++ }
func (n *recordingNotifier) JobDone(uuid.UUID, *jobs.JobRun)                   { n.done++ }

func TestPayloadAccessors(t *testing.T) {
	id := uuid.New()
	job := &jobs.JobRun{Payload: []byte(`{"id":"` + id.String() + `","name":"  x  ","n":3,"flag":false,"bad":"nope","trace_id":"t-1"}`)}
	jc := NewContext(context.Background(), job, nil, nil)

	if got, ok := jc.PayloadUUID("id"); !ok || got != id {
		t.Fatalf("PayloadUUID=%v,%v", got, ok)
	}
	if _, ok := jc.PayloadUUID("bad"); ok {
		t.Fatalf("PayloadUUID accepted a non-uuid")
	}
	if jc.PayloadString("name") != "x" || jc.PayloadString("n") != "3" || jc.PayloadString("missing") != "" {
		t.Fatalf("PayloadString mismatch")
	}
	if jc.PayloadBool("flag", true) || !jc.PayloadBool("missing", true) {
		t.Fatalf("PayloadBool mismatch")
	}
	if td := ctxutil.GetTraceData(jc.Ctx); td == nil || td.TraceID != "t-1" {
		t.Fatalf("trace data not restored: %+v", td)
	}

	malformed := NewContext(nil, &jobs.JobRun{Payload: []byte(`not json`)}, nil, nil)
	if malformed.Ctx == nil || len(malformed.Payload()) != 0 {
		t.Fatalf("malformed payload should read as empty")
	}
	if ctxutil.GetTraceData(malformed.Ctx) != nil {
		t.Fatalf("trace data without ids")
	}
}

func TestReportPersistsAndNotifies(t *testing.T) {
	db := testutil.DB(t)
	repo := repos.NewJobRunRepo(db, testutil.Logger(t))
	job := &jobs.JobRun{OwnerUserID: uuid.New(), JobType: "detox_process"}
	if err := repo.Create(dbctx.Context{Ctx: context.Background()}, job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	n := &recordingNotifier{}
	jc := NewContext(context.Background(), job, repo, n)

	jc.Progress("embed", 40, "Embedding")
	jc.Fail("analyze", errors.New("llm down"))
	if !jc.Terminal() || n.progress != 1 || n.failed != 1 {
		t.Fatalf("after fail: terminal=%v notes=%+v", jc.Terminal(), n)
	}
	stored, _ := repo.GetByID(dbctx.Context{Ctx: context.Background()}, job.ID)
	if stored.Status != jobs.StatusFailed || stored.Error != "llm down" || stored.Stage != "analyze" {
		t.Fatalf("stored=%+v", stored)
	}

	// An unencodable result fails the run instead of storing garbage.
	jc.Succeed("done", map[string]float64{"x": math.NaN()})
	if job.Status != jobs.StatusFailed || n.done != 0 || n.failed != 2 {
		t.Fatalf("NaN result: status=%q notes=%+v", job.Status, n)
	}

	jc.Succeed("done", map[string]int{"n": 1})
	stored, _ = repo.GetByID(dbctx.Context{Ctx: context.Background()}, job.ID)
	if stored.Status != jobs.StatusSucceeded || string(stored.Result) != `{"n":1}` || n.done != 1 {
		t.Fatalf("after succeed: stored=%+v notes=%+v", stored, n)
	}
}

func TestReportSkipsCanceledRun(t *testing.T) {
	db := testutil.DB(t)
	repo := repos.NewJobRunRepo(db, testutil.Logger(t))
	job := &jobs.JobRun{OwnerUserID: uuid.New(), JobType: "meme_generate", Status: jobs.StatusCanceled}
	if err := repo.Create(dbctx.Context{Ctx: context.Background()}, job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	n := &recordingNotifier{}
	jc := NewContext(context.Background(), job, repo, n)

	jc.Progress("generate", 10, "")
	jc.Succeed("done", nil)
	if job.Status != jobs.StatusCanceled || job.Stage == "done" || n.progress+n.done != 0 {
		t.Fatalf("canceled run was written: %+v notes=%+v", job, n)
	}
}

func TestNewRegistry(t *testing.T) {
	if _, err := NewRegistry(nil); err == nil {
		t.Fatalf("nil handler accepted")
	}
	if _, err := NewRegistry(typed("")); err == nil {
		t.Fatalf("empty type accepted")
	}
	r, err := NewRegistry(typed("b"), typed("a"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if got := r.Types(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Types=%v", got)
	}
	if _, ok := r.Get("c"); ok {
		t.Fatalf("Get(unknown) ok")
	}
}

type typed string

func (t typed) Type() string           { return string(t) }
func (t typed) Run(ctx *Context) error { return nil }
