package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zeitwise/detox-backend/internal/detox/pipeline"
	"github.com/zeitwise/detox-backend/internal/http/response"
	"github.com/zeitwise/detox-backend/internal/platform/apierr"
	"github.com/zeitwise/detox-backend/internal/services"
)

// respondServiceError maps service sentinels onto the error envelope.
// Anything unrecognised is a 500 and the cause is not echoed.
func respondServiceError(c *gin.Context, err error) {
	ae, ok := apierr.As(err)
	if !ok {
		ae = classify(err)
	}
	if ae.Status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	response.RespondError(c, ae.Status, ae.Code, ae)
}

func classify(err error) *apierr.Error {
	switch {
	case errors.Is(err, pipeline.ErrInvalidInput), errors.Is(err, services.ErrInvalidInput):
		return apierr.BadRequest(apierr.CodeInvalidInput, err)
	case errors.Is(err, services.ErrNotAuthenticated):
		return apierr.Unauthorized(err)
	case errors.Is(err, services.ErrForbidden):
		return apierr.Forbidden(err)
	case errors.Is(err, services.ErrNotFound):
		return apierr.NotFound(err)
	default:
		return apierr.Internal(err)
	}
}
