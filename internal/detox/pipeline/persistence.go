package pipeline

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/zeitwise/detox-backend/internal/data/repos"
	"github.com/zeitwise/detox-backend/internal/detox/memes"
	"github.com/zeitwise/detox-backend/internal/domain/detox"
	"github.com/zeitwise/detox-backend/internal/platform/dbctx"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
)

var ErrPersistence = errors.New("detox persistence failed")

// Record is everything a finished run writes.
type Record struct {
	OwnerUserID  uuid.UUID
	OriginalText string
	MaskedText   string
	Analysis     detox.Analysis
	Entities     []detox.Entity
	SimilarItems []detox.SimilarItem
	Meme         *memes.Ticket
}

func (r Record) metadata() detox.Metadata {
	meta := detox.Metadata{KeyPoints: r.Analysis.KeyPoints}
	if r.Meme != nil {
		meta.MemeStatus = r.Meme.Status
	}
	return meta
}

func (r Record) memeTaskID() *uuid.UUID {
	if r.Meme == nil || r.Meme.TaskID == uuid.Nil {
		return nil
	}
	id := r.Meme.TaskID
	return &id
}

type Store interface {
	Save(dbc dbctx.Context, rec Record) (uuid.UUID, error)
	Finalize(dbc dbctx.Context, id uuid.UUID, rec Record) error
}

type Persistence struct {
	log  *logger.Logger
	repo repos.DetoxItemRepo
}

func NewPersistence(log *logger.Logger, repo repos.DetoxItemRepo) *Persistence {
	return &Persistence{log: log.With("component", "DetoxPersistence"), repo: repo}
}

// Save creates one completed record per call.
func (p *Persistence) Save(dbc dbctx.Context, rec Record) (uuid.UUID, error) {
	item := &detox.DetoxItem{
		UserID:        rec.OwnerUserID,
		OriginalText:  rec.OriginalText,
		MaskedText:    rec.MaskedText,
		Analysis:      rec.Analysis.Analysis,
		IsSensational: &rec.Analysis.IsSensational,
		Confidence:    &rec.Analysis.Confidence,
		Entities:      datatypes.NewJSONSlice(nonNilEntities(rec.Entities)),
		SimilarItems:  datatypes.NewJSONSlice(nonNilSimilar(rec.SimilarItems)),
		MemeTaskID:    rec.memeTaskID(),
		Metadata:      datatypes.NewJSONType(rec.metadata()),
		Status:        detox.StatusCompleted,
	}
	if _, err := p.repo.Create(dbc, item); err != nil {
		p.log.Error("save detox item failed", "error", err)
		return uuid.Nil, fmt.Errorf("%w: save: %w", ErrPersistence, err)
	}
	return item.ID, nil
}

// Finalize completes the pending record created at accept time. A record that
// is missing or no longer pending is an error.
func (p *Persistence) Finalize(dbc dbctx.Context, id uuid.UUID, rec Record) error {
	ok, err := p.repo.CompletePending(dbc, id, repos.DetoxCompletion{
		MaskedText:    rec.MaskedText,
		Analysis:      rec.Analysis.Analysis,
		IsSensational: rec.Analysis.IsSensational,
		Confidence:    rec.Analysis.Confidence,
		Entities:      rec.Entities,
		SimilarItems:  rec.SimilarItems,
		MemeTaskID:    rec.memeTaskID(),
		Metadata:      rec.metadata(),
	})
	if err != nil {
		p.log.Error("finalize detox item failed", "detox_item_id", id, "error", err)
		return fmt.Errorf("%w: finalize %s: %w", ErrPersistence, id, err)
	}
	if !ok {
		return fmt.Errorf("%w: detox item %s is not pending", ErrPersistence, id)
	}
	return nil
}

func nonNilEntities(in []detox.Entity) []detox.Entity {
	if in == nil {
		return []detox.Entity{}
	}
	return in
}

func nonNilSimilar(in []detox.SimilarItem) []detox.SimilarItem {
	if in == nil {
		return []detox.SimilarItem{}
	}
	return in
}
