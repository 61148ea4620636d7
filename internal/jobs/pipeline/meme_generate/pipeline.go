package meme_generate

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/zeitwise/detox-backend/internal/data/repos"
	"github.com/zeitwise/detox-backend/internal/detox/memes"
	"github.com/zeitwise/detox-backend/internal/domain/detox"
	jobrt "github.com/zeitwise/detox-backend/internal/jobs/runtime"
	"github.com/zeitwise/detox-backend/internal/platform/dbctx"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	itemID, hasItem := jc.PayloadUUID("detox_item_id")
	headline := jc.PayloadString("headline")
	if headline == "" {
		if hasItem {
			p.markMeme(jc, itemID, detox.MemeStatusFailed)
		}
		jc.Fail("validate", fmt.Errorf("missing headline"))
		return nil
	}

	jc.Progress("generate", 10, "Generating meme")
	m, err := p.gen.Generate(jc.Ctx, jc.Job.ID, memes.Request{
		Headline: headline,
		Analysis: jc.PayloadString("analysis"),
		Style:    jc.PayloadString("style"),
	})
	if err != nil {
		if hasItem && p.maxAttempts > 0 && jc.Job.Attempts >= p.maxAttempts {
			p.markMeme(jc, itemID, detox.MemeStatusFailed)
		}
		jc.Fail("generate", err)
		return nil
	}
	if hasItem {
		p.markMeme(jc, itemID, detox.MemeStatusCompleted)
	}
	jc.Succeed("done", m)
	return nil
}

func (p *Pipeline) markMeme(jc *jobrt.Context, itemID uuid.UUID, status string) {
	err := p.items.SetMemeStatus(dbctx.Context{Ctx: jc.Ctx}, itemID, status)
	if err != nil && !errors.Is(err, repos.ErrDetoxItemNotFound) {
		p.log.Warn("set meme status failed", "detox_item_id", itemID, "status", status, "error", err)
	}
}
