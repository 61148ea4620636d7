package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zeitwise/detox-backend/internal/domain/jobs"
	"github.com/zeitwise/detox-backend/internal/http/response"
	"github.com/zeitwise/detox-backend/internal/platform/apierr"
	"github.com/zeitwise/detox-backend/internal/platform/dbctx"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
	"github.com/zeitwise/detox-backend/internal/services"
)

const (
	memeStatusPending   = "pending"
	memeStatusCompleted = "completed"
	memeStatusFailed    = "failed"
)

type MemeHandler struct {
	log         *logger.Logger
	svc         services.MemeService
	maxAttempts int
}

// NewMemeHandler takes the worker's attempt limit so a failed job that will
// still be retried reads as pending.
func NewMemeHandler(log *logger.Logger, svc services.MemeService, maxAttempts int) *MemeHandler {
	return &MemeHandler{log: log.With("handler", "MemeHandler"), svc: svc, maxAttempts: maxAttempts}
}

type memeRequest struct {
	Headline string `json:"headline"`
	Analysis string `json:"analysis"`
	Style    string `json:"style"`
}

// POST /api/memes/generate
func (h *MemeHandler) Generate(c *gin.Context) {
	var req memeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	job, used, err := h.svc.Generate(dbctx.Context{Ctx: c.Request.Context()}, services.MemeRequest{
		Headline: req.Headline,
		Analysis: req.Analysis,
		Style:    req.Style,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{
		"status":  memeStatusPending,
		"task_id": job.ID,
		"message": "Meme generation started",
		"data": gin.H{
			"headline": used.Headline,
			"style":    used.Style,
		},
	})
}

type memeStatusResponse struct {
	TaskID uuid.UUID       `json:"task_id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// GET /api/memes/status/:task_id
func (h *MemeHandler) Status(c *gin.Context) {
	taskID, err := uuid.Parse(c.Param("task_id"))
	if err != nil {
		respondServiceError(c, apierr.BadRequest(apierr.CodeInvalidID, err))
		return
	}
	job, err := h.svc.Status(dbctx.Context{Ctx: c.Request.Context()}, taskID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.RespondOK(c, h.statusOf(job))
}

func (h *MemeHandler) statusOf(job *jobs.JobRun) memeStatusResponse {
	out := memeStatusResponse{TaskID: job.ID, Status: memeStatusPending}
	switch job.Status {
	case jobs.StatusSucceeded:
		out.Status = memeStatusCompleted
		if len(job.Result) > 0 {
			out.Result = json.RawMessage(job.Result)
		}
	case jobs.StatusCanceled:
		out.Status = memeStatusFailed
		out.Error = "canceled"
	case jobs.StatusFailed:
		if h.maxAttempts <= 0 || job.Exhausted(h.maxAttempts) {
			out.Status = memeStatusFailed
			out.Error = job.Error
		}
	}
	return out
}
