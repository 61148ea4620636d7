package db

import (
	"gorm.io/gorm"

	"github.com/zeitwise/detox-backend/internal/domain/detox"
	"github.com/zeitwise/detox-backend/internal/domain/jobs"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&detox.DetoxItem{},
		&jobs.JobRun{},
	)
}
