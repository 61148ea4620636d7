package detox_process

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/zeitwise/detox-backend/internal/data/repos"
	"github.com/zeitwise/detox-backend/internal/detox/pipeline"
	jobrt "github.com/zeitwise/detox-backend/internal/jobs/runtime"
	"github.com/zeitwise/detox-backend/internal/platform/dbctx"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	itemID, ok := jc.PayloadUUID("detox_item_id")
	if !ok {
		jc.Fail("validate", fmt.Errorf("missing detox_item_id"))
		return nil
	}
	log := p.log.WithContext(jc.Ctx).With("job_id", jc.Job.ID, "detox_item_id", itemID)

	item, err := p.items.GetByID(dbctx.Context{Ctx: jc.Ctx}, itemID)
	if errors.Is(err, repos.ErrDetoxItemNotFound) {
		jc.Fail("validate", fmt.Errorf("detox item %s not found", itemID))
		return nil
	}
	if err != nil {
		jc.Fail("load", err)
		return nil
	}
	// A retry after the record reached a terminal state has nothing to do.
	if item.Terminal() {
		log.Info("detox item already terminal; skipping", "status", item.Status)
		jc.Succeed("done", map[string]any{
			"detox_item_id": itemID.String(),
			"status":        item.Status,
			"skipped":       true,
		})
		return nil
	}

	jc.Progress("process", 10, "Running detox pipeline")
	res, err := p.orch.Process(jc.Ctx, pipeline.Input{
		Text:         item.OriginalText,
		GenerateMeme: jc.PayloadBool("generate_meme", true),
		OwnerUserID:  jc.Job.OwnerUserID,
		RecordID:     &itemID,
	})
	if err != nil {
		stage := "persist"
		if errors.Is(err, pipeline.ErrInvalidInput) {
			stage = "validate"
		}
		if _, merr := p.items.MarkError(dbctx.Context{Ctx: jc.Ctx}, itemID, err.Error()); merr != nil {
			log.Error("mark detox item error failed", "error", merr, "cause", err)
		}
		jc.Fail(stage, err)
		return nil
	}

	out := map[string]any{
		"detox_item_id":  itemID.String(),
		"status":         "completed",
		"is_sensational": res.Analysis.IsSensational,
		"confidence":     res.Analysis.Confidence,
		"similar_items":  len(res.SimilarItems),
	}
	if res.MemeData != nil && res.MemeData.TaskID != uuid.Nil {
		out["meme_task_id"] = res.MemeData.TaskID.String()
	}
	jc.Succeed("done", out)
	return nil
}
