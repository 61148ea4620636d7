package detox

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/zeitwise/detox-backend/internal/domain/detox"
	"github.com/zeitwise/detox-backend/internal/platform/dbctx"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
)

var ErrNotFound = errors.New("detox item not found")

// Completion carries the fields written when a pending record finishes.
type Completion struct {
	MaskedText    string
	Analysis      string
	IsSensational bool
	Confidence    float64
	Entities      []types.Entity
	SimilarItems  []types.SimilarItem
	MemeTaskID    *uuid.UUID
	Metadata      types.Metadata
}

type DetoxItemRepo interface {
	Create(dbc dbctx.Context, item *types.DetoxItem) (*types.DetoxItem, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.DetoxItem, error)
	CompletePending(dbc dbctx.Context, id uuid.UUID, c Completion) (bool, error)
	MarkError(dbc dbctx.Context, id uuid.UUID, message string) (bool, error)
	SetMemeStatus(dbc dbctx.Context, id uuid.UUID, status string) error
}

type detoxItemRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDetoxItemRepo(db *gorm.DB, baseLog *logger.Logger) DetoxItemRepo {
	return &detoxItemRepo{
		db:  db,
		log: baseLog.With("repo", "DetoxItemRepo"),
	}
}

func (r *detoxItemRepo) tx(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.ContextOrBackground())
}

func (r *detoxItemRepo) Create(dbc dbctx.Context, item *types.DetoxItem) (*types.DetoxItem, error) {
	if item == nil {
		return nil, errors.New("nil detox item")
	}
	if err := r.tx(dbc).Create(item).Error; err != nil {
		return nil, err
	}
	return item, nil
}

func (r *detoxItemRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.DetoxItem, error) {
	if id == uuid.Nil {
		return nil, ErrNotFound
	}
	var item types.DetoxItem
	if err := r.tx(dbc).Where("id = ?", id).Limit(1).Find(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == uuid.Nil {
		return nil, ErrNotFound
	}
	return &item, nil
}

// CompletePending moves a pending record to completed. It returns false when
// the record is missing or has already left pending. A meme status already
// written by the meme job wins over the one in c.
func (r *detoxItemRepo) CompletePending(dbc dbctx.Context, id uuid.UUID, c Completion) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	entities := c.Entities
	if entities == nil {
		entities = []types.Entity{}
	}
	similar := c.SimilarItems
	if similar == nil {
		similar = []types.SimilarItem{}
	}
	changed := false
	err := r.tx(dbc).Transaction(func(txx *gorm.DB) error {
		var item types.DetoxItem
		if err := txx.Where("id = ? AND status = ?", id, types.StatusPending).Limit(1).Find(&item).Error; err != nil {
			return err
		}
		if item.ID == uuid.Nil {
			return nil
		}
		meta := c.Metadata
		if prev := item.Metadata.Data().MemeStatus; prev != "" && prev != types.MemeStatusPending {
			meta.MemeStatus = prev
		}
		updates := map[string]interface{}{
			"masked_text":    c.MaskedText,
			"analysis":       c.Analysis,
			"is_sensational": c.IsSensational,
			"confidence":     c.Confidence,
			"entities":       datatypes.NewJSONSlice(entities),
			"similar_items":  datatypes.NewJSONSlice(similar),
			"metadata":       datatypes.NewJSONType(meta),
			"status":         types.StatusCompleted,
			"updated_at":     time.Now(),
		}
		if c.MemeTaskID != nil {
			updates["meme_task_id"] = *c.MemeTaskID
		}
		res := txx.Model(&types.DetoxItem{}).
			Where("id = ? AND status = ?", id, types.StatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// MarkError moves a pending record to error and records message under
// metadata.error, keeping any metadata already present.
func (r *detoxItemRepo) MarkError(dbc dbctx.Context, id uuid.UUID, message string) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	changed := false
	err := r.tx(dbc).Transaction(func(txx *gorm.DB) error {
		var item types.DetoxItem
		if err := txx.Where("id = ? AND status = ?", id, types.StatusPending).Limit(1).Find(&item).Error; err != nil {
			return err
		}
		if item.ID == uuid.Nil {
			return nil
		}
		meta := item.Metadata.Data()
		meta.Error = message
		res := txx.Model(&types.DetoxItem{}).
			Where("id = ? AND status = ?", id, types.StatusPending).
			Updates(map[string]interface{}{
				"status":     types.StatusError,
				"metadata":   datatypes.NewJSONType(meta),
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// SetMemeStatus records the outcome of the meme job on its source record.
// Only metadata.meme_status changes; the record status is left alone.
func (r *detoxItemRepo) SetMemeStatus(dbc dbctx.Context, id uuid.UUID, status string) error {
	if id == uuid.Nil {
		return nil
	}
	return r.tx(dbc).Transaction(func(txx *gorm.DB) error {
		var item types.DetoxItem
		if err := txx.Where("id = ?", id).Limit(1).Find(&item).Error; err != nil {
			return err
		}
		if item.ID == uuid.Nil {
			return ErrNotFound
		}
		meta := item.Metadata.Data()
		meta.MemeStatus = status
		return txx.Model(&types.DetoxItem{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"metadata":   datatypes.NewJSONType(meta),
				"updated_at": time.Now(),
			}).Error
	})
}
