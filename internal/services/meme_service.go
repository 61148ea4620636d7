package services

import (
	"fmt"
	"strings"

	"github.com/zeitwise/detox-backend/internal/detox/memes"
	"github.com/zeitwise/detox-backend/internal/domain/jobs"
	"github.com/zeitwise/detox-backend/internal/platform/ctxutil"
	"github.com/zeitwise/detox-backend/internal/platform/dbctx"
	"github.com/zeitwise/detox-backend/internal/platform/logger"

	"github.com/google/uuid"
)

type MemeRequest struct {
	Headline string
	Analysis string
	Style    string
}

type MemeService interface {
	// Generate queues a meme_generate job and returns it with the style used.
	Generate(dbc dbctx.Context, req MemeRequest) (*jobs.JobRun, MemeRequest, error)
	Status(dbc dbctx.Context, taskID uuid.UUID) (*jobs.JobRun, error)
}

type memeService struct {
	log  *logger.Logger
	jobs JobService
}

func NewMemeService(baseLog *logger.Logger, jobs JobService) MemeService {
	return &memeService{
		log:  baseLog.With("service", "MemeService"),
		jobs: jobs,
	}
}

func (s *memeService) Generate(dbc dbctx.Context, req MemeRequest) (*jobs.JobRun, MemeRequest, error) {
	rd := ctxutil.GetRequestData(dbc.Ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, req, ErrNotAuthenticated
	}
	req.Headline = strings.TrimSpace(req.Headline)
	if req.Headline == "" {
		return nil, req, fmt.Errorf("%w: headline is required", ErrInvalidInput)
	}
	req.Style = strings.TrimSpace(req.Style)
	if req.Style == "" {
		req.Style = memes.DefaultStyle
	}
	job, err := s.jobs.Enqueue(dbc, jobs.Request{
		OwnerUserID: rd.UserID,
		JobType:     memes.JobType,
		Payload:     memes.Payload(req.Headline, req.Analysis, req.Style, nil),
	})
	if err != nil {
		return nil, req, err
	}
	return job, req, nil
}

func (s *memeService) Status(dbc dbctx.Context, taskID uuid.UUID) (*jobs.JobRun, error) {
	job, err := s.jobs.GetByIDForRequestUser(dbc, taskID)
	if err != nil {
		return nil, err
	}
	if job.JobType != memes.JobType {
		return nil, ErrNotFound
	}
	return job, nil
}
