package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/zeitwise/detox-backend/internal/domain/jobs"
	"github.com/zeitwise/detox-backend/internal/platform/dbctx"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
)

var ErrNotFound = errors.New("job run not found")

// ClaimPolicy decides which rows a worker may take.
type ClaimPolicy struct {
	// JobTypes restricts claims to types the worker can run. Empty means any.
	JobTypes    []string
	MaxAttempts int
	RetryDelay  time.Duration
	StaleAfter  time.Duration
}

type JobRunRepo interface {
	Create(dbc dbctx.Context, job *types.JobRun) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.JobRun, error)
	Claim(dbc dbctx.Context, policy ClaimPolicy) (*types.JobRun, error)
	// Apply writes p unless the run was canceled and reports whether the row
	// changed.
	Apply(dbc dbctx.Context, id uuid.UUID, p types.Patch, now time.Time) (bool, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
}

type jobRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return &jobRunRepo{db: db, log: baseLog.With("repo", "JobRunRepo")}
}

func (r *jobRunRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.ContextOrBackground())
	}
	return r.db.WithContext(dbc.ContextOrBackground())
}

func (r *jobRunRepo) Create(dbc dbctx.Context, job *types.JobRun) error {
	if job == nil {
		return errors.New("nil job")
	}
	return r.tx(dbc).Create(job).Error
}

func (r *jobRunRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.JobRun, error) {
	if id == uuid.Nil {
		return nil, ErrNotFound
	}
	var job types.JobRun
	err := r.tx(dbc).Where("id = ?", id).Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// runnable matches queued rows, failed rows with attempts left whose retry
// delay has passed, and running rows whose heartbeat went stale.
func runnable(q *gorm.DB, p ClaimPolicy, now time.Time) *gorm.DB {
	queued := q.Where("status = ?", types.StatusQueued)
	retry := q.Where("status = ? AND attempts < ? AND (last_error_at IS NULL OR last_error_at < ?)",
		types.StatusFailed, p.MaxAttempts, now.Add(-p.RetryDelay))
	stale := q.Where("status = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?",
		types.StatusRunning, now.Add(-p.StaleAfter))
	return q.Where(queued.Or(retry).Or(stale))
}

// Claim takes the oldest runnable row, bumps its attempt count and marks it
// running. It returns nil, nil when the queue is empty.
func (r *jobRunRepo) Claim(dbc dbctx.Context, p ClaimPolicy) (*types.JobRun, error) {
	now := time.Now()
	var claimed *types.JobRun
	err := r.tx(dbc).Transaction(func(txx *gorm.DB) error {
		q := runnable(txx.Session(&gorm.Session{NewDB: true}), p, now)
		if len(p.JobTypes) > 0 {
			q = q.Where("job_type IN ?", p.JobTypes)
		}
		var job types.JobRun
		err := q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Order("created_at ASC").
			Take(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := txx.Model(&types.JobRun{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":       types.StatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error; err != nil {
			return err
		}
		job.Status = types.StatusRunning
		job.Attempts++
		job.LockedAt = &now
		job.HeartbeatAt = &now
		job.UpdatedAt = now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRunRepo) Apply(dbc dbctx.Context, id uuid.UUID, p types.Patch, now time.Time) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	res := r.tx(dbc).
		Model(&types.JobRun{}).
		Where("id = ? AND status <> ?", id, types.StatusCanceled).
		Updates(p.Columns(now))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRunRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return r.tx(dbc).
		Model(&types.JobRun{}).
		Where("id = ? AND status = ?", id, types.StatusRunning).
		Updates(map[string]interface{}{"heartbeat_at": now, "updated_at": now}).Error
}
