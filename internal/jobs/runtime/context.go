package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/zeitwise/detox-backend/internal/data/repos"
	"github.com/zeitwise/detox-backend/internal/domain/jobs"
	"github.com/zeitwise/detox-backend/internal/platform/ctxutil"
	"github.com/zeitwise/detox-backend/internal/platform/dbctx"
	"github.com/zeitwise/detox-backend/internal/services"
)

// Context wraps one claimed job_run for its handler. Progress, Fail and
// Succeed are the only writers of the row while the handler runs.
type Context struct {
	Ctx     context.Context
	Job     *jobs.JobRun
	Repo    repos.JobRunRepo
	Notify  services.JobNotifier
	payload map[string]any
}

// NewContext decodes the job payload and restores the trace and request ids
// the enqueuing request stored in it. A malformed payload reads as empty.
func NewContext(ctx context.Context, job *jobs.JobRun, repo repos.JobRunRepo, notify services.JobNotifier) *Context {
	c := &Context{Ctx: ctx, Job: job, Repo: repo, Notify: notify, payload: map[string]any{}}
	if job != nil && len(job.Payload) > 0 {
		var m map[string]any
		if json.Unmarshal(job.Payload, &m) == nil && m != nil {
			c.payload = m
		}
	}
	if c.Ctx == nil {
		c.Ctx = context.Background()
	}
	if td := (ctxutil.TraceData{TraceID: c.PayloadString("trace_id"), RequestID: c.PayloadString("request_id")}); td != (ctxutil.TraceData{}) {
		c.Ctx = ctxutil.WithTraceData(c.Ctx, &td)
	}
	return c
}

func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

// PayloadString returns the trimmed string form of a payload field, or "".
func (c *Context) PayloadString(key string) string {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// PayloadBool returns def unless the field holds a JSON boolean.
func (c *Context) PayloadBool(key string, def bool) bool {
	if b, ok := c.Payload()[key].(bool); ok {
		return b
	}
	return def
}

func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	s := c.PayloadString(key)
	if s == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// report persists p and mirrors it onto c.Job. It returns false, leaving the
// copy untouched, when the row was canceled or the write failed.
func (c *Context) report(p jobs.Patch) bool {
	if c == nil || c.Job == nil {
		return false
	}
	now := time.Now()
	if c.Repo != nil && c.Job.ID != uuid.Nil {
		ok, err := c.Repo.Apply(dbctx.Context{Ctx: c.Ctx}, c.Job.ID, p, now)
		if err != nil || !ok {
			return false
		}
	}
	p.ApplyTo(c.Job, now)
	return true
}

// Progress records a non-terminal stage and refreshes the heartbeat.
func (c *Context) Progress(stage string, pct int, msg string) {
	if c.report(jobs.ProgressPatch(stage, pct, msg)) && c.Notify != nil {
		c.Notify.JobProgress(c.Job.OwnerUserID, c.Job, stage, pct, msg)
	}
}

// Fail marks the attempt failed. The worker claims the run again while
// attempts remain.
func (c *Context) Fail(stage string, err error) {
	p := jobs.FailurePatch(stage, err)
	if c.report(p) && c.Notify != nil {
		c.Notify.JobFailed(c.Job.OwnerUserID, c.Job, stage, p.Error)
	}
}

// Succeed marks the run succeeded and stores result as JSON.
func (c *Context) Succeed(finalStage string, result any) {
	var res datatypes.JSON
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			c.Fail(finalStage, fmt.Errorf("encode result: %w", err))
			return
		}
		res = datatypes.JSON(b)
	}
	if c.report(jobs.SuccessPatch(finalStage, res)) && c.Notify != nil {
		c.Notify.JobDone(c.Job.OwnerUserID, c.Job)
	}
}

// Terminal reports whether the handler already settled this attempt.
func (c *Context) Terminal() bool {
	return c != nil && c.Job.Finished()
}
