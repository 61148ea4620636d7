package detox_process

import (
	"context"

	"github.com/zeitwise/detox-backend/internal/data/repos"
	"github.com/zeitwise/detox-backend/internal/detox/pipeline"
	"github.com/zeitwise/detox-backend/internal/domain/detox"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
)

const JobType = detox.JobTypeProcess

type Processor interface {
	Process(ctx context.Context, in pipeline.Input) (*pipeline.Result, error)
}

type Pipeline struct {
	log   *logger.Logger
	items repos.DetoxItemRepo
	orch  Processor
}

func New(baseLog *logger.Logger, items repos.DetoxItemRepo, orch Processor) *Pipeline {
	return &Pipeline{
		log:   baseLog.With("job", JobType),
		items: items,
		orch:  orch,
	}
}

func (p *Pipeline) Type() string { return JobType }
