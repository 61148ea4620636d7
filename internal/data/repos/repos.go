package repos

import (
	"gorm.io/gorm"

	"github.com/zeitwise/detox-backend/internal/data/repos/detox"
	"github.com/zeitwise/detox-backend/internal/data/repos/jobs"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
)

type DetoxItemRepo = detox.DetoxItemRepo
type DetoxCompletion = detox.Completion

type JobRunRepo = jobs.JobRunRepo
type JobClaimPolicy = jobs.ClaimPolicy

var (
	ErrDetoxItemNotFound = detox.ErrNotFound
	ErrJobRunNotFound    = jobs.ErrNotFound
)

func NewDetoxItemRepo(db *gorm.DB, baseLog *logger.Logger) DetoxItemRepo {
	return detox.NewDetoxItemRepo(db, baseLog)
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return jobs.NewJobRunRepo(db, baseLog)
}
