package detox

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// JobTypeProcess is the job that runs the pipeline for an accepted record.
const JobTypeProcess = "detox_process"

const (
	MemeStatusPending   = "pending"
	MemeStatusCompleted = "completed"
	MemeStatusFailed    = "failed"
)

// Analysis is the structured verdict produced by the language model.
type Analysis struct {
	Analysis      string   `json:"analysis"`
	IsSensational bool     `json:"is_sensational"`
	Confidence    float64  `json:"confidence"`
	KeyPoints     []string `json:"key_points"`
}

// Entity is one masked span. Start and End are byte offsets into the
// original text.
type Entity struct {
	Text  string         `json:"text"`
	Label string         `json:"label"`
	Mask  string         `json:"mask"`
	Start int            `json:"start"`
	End   int            `json:"end"`
	Extra map[string]any `json:"extra,omitempty"`
}

// SimilarItem is a neighbour from the similarity index. Headline is lifted out
// of the index payload because the analysis prompt depends on it.
type SimilarItem struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Headline string         `json:"headline,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

type Metadata struct {
	KeyPoints  []string       `json:"key_points,omitempty"`
	MemeStatus string         `json:"meme_status,omitempty"`
	Error      string         `json:"error,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// DetoxItem is created pending when a request is accepted and moved exactly
// once to completed or error by the background run that owns it.
type DetoxItem struct {
	ID            uuid.UUID                        `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID                        `gorm:"type:uuid;not null;index" json:"user_id"`
	OriginalText  string                           `gorm:"type:text;not null" json:"original_text"`
	MaskedText    string                           `gorm:"type:text" json:"masked_text,omitempty"`
	Analysis      string                           `gorm:"type:text" json:"analysis,omitempty"`
	IsSensational *bool                            `json:"is_sensational,omitempty"`
	Confidence    *float64                         `json:"confidence,omitempty"`
	Entities      datatypes.JSONSlice[Entity]      `json:"entities,omitempty"`
	SimilarItems  datatypes.JSONSlice[SimilarItem] `json:"similar_items,omitempty"`
	MemeTaskID    *uuid.UUID                       `gorm:"type:uuid;index" json:"meme_task_id,omitempty"`
	Metadata      datatypes.JSONType[Metadata]     `json:"metadata"`
	Status        string                           `gorm:"not null;index" json:"status"`
	CreatedAt     time.Time                        `gorm:"not null;index" json:"created_at"`
	UpdatedAt     time.Time                        `gorm:"not null" json:"updated_at"`
}

func (DetoxItem) TableName() string { return "detox_item" }

func (d *DetoxItem) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = StatusPending
	}
	return nil
}

// Terminal reports whether the record has left pending.
func (d *DetoxItem) Terminal() bool {
	return d != nil && d.Status != StatusPending
}
