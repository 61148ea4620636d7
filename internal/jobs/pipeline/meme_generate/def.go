package meme_generate

import (
	"context"

	"github.com/google/uuid"

	"github.com/zeitwise/detox-backend/internal/data/repos"
	"github.com/zeitwise/detox-backend/internal/detox/memes"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
)

type Generator interface {
	Generate(ctx context.Context, memeID uuid.UUID, req memes.Request) (*memes.Meme, error)
}

type Pipeline struct {
	log         *logger.Logger
	items       repos.DetoxItemRepo
	gen         Generator
	maxAttempts int
}

// New builds the meme_generate handler. maxAttempts matches the worker's so
// the last failed attempt can mark the source record's meme as failed.
func New(baseLog *logger.Logger, items repos.DetoxItemRepo, gen Generator, maxAttempts int) *Pipeline {
	return &Pipeline{
		log:         baseLog.With("job", memes.JobType),
		items:       items,
		gen:         gen,
		maxAttempts: maxAttempts,
	}
}

func (p *Pipeline) Type() string { return memes.JobType }
