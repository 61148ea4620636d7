package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/zeitwise/detox-backend/internal/domain/jobs"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
	"github.com/zeitwise/detox-backend/internal/platform/redis"
)

const (
	JobEventCreated  = "created"
	JobEventProgress = "progress"
	JobEventFailed   = "failed"
	JobEventDone     = "done"
)

type JobNotifier interface {
	JobCreated(userID uuid.UUID, job *jobs.JobRun)
	JobProgress(userID uuid.UUID, job *jobs.JobRun, stage string, progress int, message string)
	JobFailed(userID uuid.UUID, job *jobs.JobRun, stage string, errorMessage string)
	JobDone(userID uuid.UUID, job *jobs.JobRun)
}

// JobEvent is the wire shape published for every job transition.
type JobEvent struct {
	Event       string          `json:"event"`
	JobID       uuid.UUID       `json:"job_id"`
	JobType     string          `json:"job_type"`
	OwnerUserID uuid.UUID       `json:"owner_user_id"`
	EntityType  string          `json:"entity_type,omitempty"`
	EntityID    *uuid.UUID      `json:"entity_id,omitempty"`
	Stage       string          `json:"stage,omitempty"`
	Progress    int             `json:"progress"`
	Message     string          `json:"message,omitempty"`
	Error       string          `json:"error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	At          time.Time       `json:"at"`
}

func newJobEvent(event string, userID uuid.UUID, job *jobs.JobRun) JobEvent {
	ev := JobEvent{Event: event, OwnerUserID: userID, At: time.Now().UTC()}
	if job != nil {
		ev.JobID = job.ID
		ev.JobType = job.JobType
		ev.EntityType = job.EntityType
		ev.EntityID = job.EntityID
		ev.Stage = job.Stage
		ev.Progress = job.Progress
	}
	return ev
}

type publisher interface {
	Publish(ctx context.Context, event any) error
}

type jobNotifier struct {
	log *logger.Logger
	bus publisher
}

// NewJobNotifier publishes job events on the redis bus. With no bus the events
// are only logged.
func NewJobNotifier(baseLog *logger.Logger, bus *redis.EventBus) JobNotifier {
	n := &jobNotifier{log: baseLog.With("service", "JobNotifier")}
	if bus != nil {
		n.bus = bus
	}
	return n
}

func (n *jobNotifier) publish(ev JobEvent) {
	n.log.Debug("Job event", "event", ev.Event, "job_id", ev.JobID, "job_type", ev.JobType, "stage", ev.Stage)
	if n.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.bus.Publish(ctx, ev); err != nil {
		n.log.Warn("Job event publish failed", "event", ev.Event, "job_id", ev.JobID, "error", err)
	}
}

func (n *jobNotifier) JobCreated(userID uuid.UUID, job *jobs.JobRun) {
	n.publish(newJobEvent(JobEventCreated, userID, job))
}

func (n *jobNotifier) JobProgress(userID uuid.UUID, job *jobs.JobRun, stage string, progress int, message string) {
	ev := newJobEvent(JobEventProgress, userID, job)
	ev.Stage = stage
	ev.Progress = progress
	ev.Message = message
	n.publish(ev)
}

func (n *jobNotifier) JobFailed(userID uuid.UUID, job *jobs.JobRun, stage string, errorMessage string) {
	ev := newJobEvent(JobEventFailed, userID, job)
	ev.Stage = stage
	ev.Error = errorMessage
	n.publish(ev)
}

func (n *jobNotifier) JobDone(userID uuid.UUID, job *jobs.JobRun) {
	ev := newJobEvent(JobEventDone, userID, job)
	ev.Progress = 100
	if job != nil && len(job.Result) > 0 {
		ev.Result = json.RawMessage(job.Result)
	}
	n.publish(ev)
}
