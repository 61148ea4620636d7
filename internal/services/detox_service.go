package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/zeitwise/detox-backend/internal/data/repos"
	"github.com/zeitwise/detox-backend/internal/detox/pipeline"
	"github.com/zeitwise/detox-backend/internal/domain/detox"
	"github.com/zeitwise/detox-backend/internal/domain/jobs"
	"github.com/zeitwise/detox-backend/internal/platform/ctxutil"
	"github.com/zeitwise/detox-backend/internal/platform/dbctx"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
)

type DetoxService interface {
	// Accept stores a pending record and queues its pipeline run.
	Accept(dbc dbctx.Context, text string, generateMeme bool) (*detox.DetoxItem, error)
	Status(dbc dbctx.Context, id uuid.UUID) (*detox.DetoxItem, error)
}

type detoxService struct {
	db    *gorm.DB
	log   *logger.Logger
	items repos.DetoxItemRepo
	jobs  JobService
}

func NewDetoxService(db *gorm.DB, baseLog *logger.Logger, items repos.DetoxItemRepo, jobSvc JobService) DetoxService {
	return &detoxService{
		db:    db,
		log:   baseLog.With("service", "DetoxService"),
		items: items,
		jobs:  jobSvc,
	}
}

func (s *detoxService) Accept(dbc dbctx.Context, text string, generateMeme bool) (*detox.DetoxItem, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, ErrNotAuthenticated
	}
	if strings.TrimSpace(text) == "" {
		return nil, pipeline.ErrInvalidInput
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}

	var item *detox.DetoxItem
	err := transaction.WithContext(dbc.ContextOrBackground()).Transaction(func(tx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: tx}
		created, err := s.items.Create(inner, &detox.DetoxItem{
			UserID:       rd.UserID,
			OriginalText: text,
			Status:       detox.StatusPending,
			Metadata:     datatypes.NewJSONType(detox.Metadata{}),
		})
		if err != nil {
			return fmt.Errorf("create detox item: %w", err)
		}
		payload := map[string]any{
			"detox_item_id": created.ID.String(),
			"text":          text,
			"generate_meme": generateMeme,
		}
		if _, err := s.jobs.Enqueue(inner, jobs.Request{
			OwnerUserID: rd.UserID,
			JobType:     detox.JobTypeProcess,
			EntityType:  "detox_item",
			EntityID:    &created.ID,
			Payload:     payload,
		}); err != nil {
			return err
		}
		item = created
		return nil
	})
	if err != nil {
		s.log.Error("accept failed", "error", err)
		return nil, err
	}
	s.log.WithContext(dbc.Ctx).Info("detox request accepted", "detox_item_id", item.ID, "generate_meme", generateMeme)
	return item, nil
}

// Status returns the record to its submitter or to a privileged caller.
func (s *detoxService) Status(dbc dbctx.Context, id uuid.UUID) (*detox.DetoxItem, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, ErrNotAuthenticated
	}
	item, err := s.items.GetByID(dbc, id)
	if errors.Is(err, repos.ErrDetoxItemNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if item.UserID != rd.UserID && !rd.Privileged {
		return nil, ErrForbidden
	}
	return item, nil
}
