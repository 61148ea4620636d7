package services

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/zeitwise/detox-backend/internal/data/repos"
	"github.com/zeitwise/detox-backend/internal/domain/jobs"
	"github.com/zeitwise/detox-backend/internal/platform/ctxutil"
	"github.com/zeitwise/detox-backend/internal/platform/dbctx"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
)

type JobService interface {
	Enqueue(dbc dbctx.Context, req jobs.Request) (*jobs.JobRun, error)
	GetByIDForRequestUser(dbc dbctx.Context, jobID uuid.UUID) (*jobs.JobRun, error)
}

type jobService struct {
	db     *gorm.DB
	log    *logger.Logger
	repo   repos.JobRunRepo
	notify JobNotifier
}

func NewJobService(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRunRepo, notify JobNotifier) JobService {
	return &jobService{db: db, log: baseLog.With("service", "JobService"), repo: repo, notify: notify}
}

func (s *jobService) dbc(dbc dbctx.Context) dbctx.Context {
	if dbc.Tx == nil {
		dbc.Tx = s.db
	}
	return dbc
}

// Enqueue inserts a queued job_run. Workers poll the table, so a row written
// inside dbc.Tx is only picked up after that transaction commits. The
// caller's trace and request ids ride along in the payload so worker logs
// line up with the request that queued the work.
func (s *jobService) Enqueue(dbc dbctx.Context, req jobs.Request) (*jobs.JobRun, error) {
	switch {
	case req.OwnerUserID == uuid.Nil:
		return nil, fmt.Errorf("%w: missing owner_user_id", ErrInvalidInput)
	case req.JobType == "":
		return nil, fmt.Errorf("%w: missing job_type", ErrInvalidInput)
	}
	payload := make(map[string]any, len(req.Payload)+2)
	for k, v := range req.Payload {
		payload[k] = v
	}
	if td := ctxutil.GetTraceData(dbc.Ctx); td != nil {
		setDefault(payload, "trace_id", td.TraceID)
		setDefault(payload, "request_id", td.RequestID)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	job := &jobs.JobRun{
		OwnerUserID: req.OwnerUserID,
		JobType:     req.JobType,
		EntityType:  req.EntityType,
		EntityID:    req.EntityID,
		Message:     "Queued",
		Payload:     datatypes.JSON(b),
		Result:      datatypes.JSON(`{}`),
	}
	if err := s.repo.Create(s.dbc(dbc), job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.log.WithContext(dbc.Ctx).Debug("Job enqueued", "job_id", job.ID, "job_type", job.JobType)
	if s.notify != nil {
		s.notify.JobCreated(req.OwnerUserID, job)
	}
	return job, nil
}

func setDefault(m map[string]any, key, val string) {
	if val == "" {
		return
	}
	if _, ok := m[key]; !ok {
		m[key] = val
	}
}

// GetByIDForRequestUser loads a job owned by the caller. Privileged callers
// may read any job.
func (s *jobService) GetByIDForRequestUser(dbc dbctx.Context, jobID uuid.UUID) (*jobs.JobRun, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, ErrNotAuthenticated
	}
	job, err := s.repo.GetByID(s.dbc(dbc), jobID)
	if errors.Is(err, repos.ErrJobRunNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if job.OwnerUserID != rd.UserID && !rd.Privileged {
		return nil, ErrForbidden
	}
	return job, nil
}
