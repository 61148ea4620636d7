package memes

import (
	"strings"

	"github.com/google/uuid"

	"github.com/zeitwise/detox-backend/internal/domain/detox"
	"github.com/zeitwise/detox-backend/internal/domain/jobs"
	"github.com/zeitwise/detox-backend/internal/platform/dbctx"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
)

const (
	JobType      = "meme_generate"
	EntityType   = "detox_item"
	DefaultStyle = "funny, satirical"
)

// Enqueuer hands a job to the work queue and returns the queued row.
type Enqueuer interface {
	Enqueue(dbc dbctx.Context, req jobs.Request) (*jobs.JobRun, error)
}

// Ticket identifies an enqueued meme job.
type Ticket struct {
	TaskID uuid.UUID `json:"task_id"`
	Status string    `json:"status"`
}

type Trigger struct {
	log   *logger.Logger
	queue Enqueuer
	style string
}

func NewTrigger(log *logger.Logger, queue Enqueuer, style string) *Trigger {
	style = strings.TrimSpace(style)
	if style == "" {
		style = DefaultStyle
	}
	return &Trigger{
		log:   log.With("component", "MemeTrigger"),
		queue: queue,
		style: style,
	}
}

// Payload builds the meme_generate job payload.
func Payload(headline, analysis, style string, recordID *uuid.UUID) map[string]any {
	p := map[string]any{
		"headline": headline,
		"analysis": analysis,
		"style":    style,
	}
	if recordID != nil && *recordID != uuid.Nil {
		p["detox_item_id"] = recordID.String()
	}
	return p
}

// MaybeTrigger enqueues a meme job for sensational content. Non-sensational
// analyses return nil without touching the queue. Enqueue failures are logged
// and also return nil.
func (t *Trigger) MaybeTrigger(dbc dbctx.Context, ownerUserID uuid.UUID, recordID *uuid.UUID, analysis detox.Analysis, originalText, maskedText string) *Ticket {
	if !analysis.IsSensational {
		return nil
	}
	if t == nil || t.queue == nil {
		return nil
	}
	job, err := t.queue.Enqueue(dbc, jobs.Request{
		OwnerUserID: ownerUserID,
		JobType:     JobType,
		EntityType:  EntityType,
		EntityID:    recordID,
		Payload:     Payload(originalText, analysis.Analysis, t.style, recordID),
	})
	if err != nil {
		t.log.Warn("meme enqueue failed", "error", err, "masked_text", maskedText)
		return nil
	}
	if job == nil || job.ID == uuid.Nil {
		t.log.Warn("meme enqueue returned no job")
		return nil
	}
	return &Ticket{TaskID: job.ID, Status: detox.MemeStatusPending}
}
