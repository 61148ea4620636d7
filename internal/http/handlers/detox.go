package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zeitwise/detox-backend/internal/domain/detox"
	"github.com/zeitwise/detox-backend/internal/http/response"
	"github.com/zeitwise/detox-backend/internal/platform/apierr"
	"github.com/zeitwise/detox-backend/internal/platform/dbctx"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
	"github.com/zeitwise/detox-backend/internal/services"
)

type DetoxHandler struct {
	log *logger.Logger
	svc services.DetoxService
}

func NewDetoxHandler(log *logger.Logger, svc services.DetoxService) *DetoxHandler {
	return &DetoxHandler{log: log.With("handler", "DetoxHandler"), svc: svc}
}

type processRequest struct {
	Text         string `json:"text"`
	GenerateMeme *bool  `json:"generate_meme"`
}

type acceptedResponse struct {
	ID           uuid.UUID `json:"id"`
	Status       string    `json:"status"`
	OriginalText string    `json:"original_text"`
}

// POST /api/detox/process
func (h *DetoxHandler) Process(c *gin.Context) {
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	generateMeme := true
	if req.GenerateMeme != nil {
		generateMeme = *req.GenerateMeme
	}
	item, err := h.svc.Accept(dbctx.Context{Ctx: c.Request.Context()}, req.Text, generateMeme)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondAccepted(c, acceptedResponse{
		ID:           item.ID,
		Status:       item.Status,
		OriginalText: item.OriginalText,
	})
}

type statusResponse struct {
	ID            uuid.UUID           `json:"id"`
	Status        string              `json:"status"`
	OriginalText  string              `json:"original_text"`
	MaskedText    string              `json:"masked_text,omitempty"`
	Analysis      string              `json:"analysis,omitempty"`
	IsSensational *bool               `json:"is_sensational,omitempty"`
	Confidence    *float64            `json:"confidence,omitempty"`
	KeyPoints     []string            `json:"key_points,omitempty"`
	Entities      []detox.Entity      `json:"entities,omitempty"`
	SimilarItems  []detox.SimilarItem `json:"similar_items,omitempty"`
	MemeTaskID    *uuid.UUID          `json:"meme_task_id,omitempty"`
	MemeStatus    string              `json:"meme_status,omitempty"`
	Error         string              `json:"error,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

func newStatusResponse(item *detox.DetoxItem) statusResponse {
	meta := item.Metadata.Data()
	out := statusResponse{
		ID:            item.ID,
		Status:        item.Status,
		OriginalText:  item.OriginalText,
		MaskedText:    item.MaskedText,
		Analysis:      item.Analysis,
		IsSensational: item.IsSensational,
		Confidence:    item.Confidence,
		KeyPoints:     meta.KeyPoints,
		Entities:      item.Entities,
		SimilarItems:  item.SimilarItems,
		MemeTaskID:    item.MemeTaskID,
		MemeStatus:    meta.MemeStatus,
		CreatedAt:     item.CreatedAt,
		UpdatedAt:     item.UpdatedAt,
	}
	if item.Status == detox.StatusError {
		out.Error = meta.Error
	}
	return out
}

// GET /api/detox/status/:id
func (h *DetoxHandler) Status(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondServiceError(c, apierr.BadRequest(apierr.CodeInvalidID, err))
		return
	}
	item, err := h.svc.Status(dbctx.Context{Ctx: c.Request.Context()}, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, newStatusResponse(item))
}
