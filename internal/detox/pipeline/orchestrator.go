// Package pipeline runs one piece of text through masking, retrieval,
// analysis and the meme gate, then persists the outcome.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/zeitwise/detox-backend/internal/detox/embedding"
	"github.com/zeitwise/detox-backend/internal/detox/llm"
	"github.com/zeitwise/detox-backend/internal/detox/memes"
	"github.com/zeitwise/detox-backend/internal/domain/detox"
	"github.com/zeitwise/detox-backend/internal/observability"
	"github.com/zeitwise/detox-backend/internal/platform/dbctx"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
	"github.com/zeitwise/detox-backend/internal/platform/qdrant"
)

var ErrInvalidInput = errors.New("input text cannot be empty")

const (
	outcomeOK       = "ok"
	outcomeSkipped  = "skipped"
	outcomeDegraded = "degraded"
	outcomeFallback = "fallback"
	outcomeFailed   = "failed"
)

type Masker interface {
	Mask(text string) (string, []detox.Entity)
}

type SimilarityIndex interface {
	Search(ctx context.Context, collection string, vector []float32, topK int, minScore float64, filter map[string]any) ([]qdrant.Match, bool)
	Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]any) bool
}

type Analyzer interface {
	Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (*llm.Result, error)
}

type MemeTrigger interface {
	MaybeTrigger(dbc dbctx.Context, ownerUserID uuid.UUID, recordID *uuid.UUID, analysis detox.Analysis, originalText, maskedText string) *memes.Ticket
}

// Deps are the stage collaborators. Index and Memes may be nil, which skips
// retrieval and the meme gate respectively.
type Deps struct {
	Masker      Masker
	Embedder    embedding.Embedder
	Index       SimilarityIndex
	Analyzer    Analyzer
	Memes       MemeTrigger
	Store       Store
	Metrics     *observability.Metrics
	DataQuality *observability.DataQuality
}

type Input struct {
	Text         string
	GenerateMeme bool
	OwnerUserID  uuid.UUID
	// RecordID names a pending record to finalize. When nil a new record is
	// created.
	RecordID *uuid.UUID
}

type Result struct {
	OriginalText string              `json:"original_text"`
	MaskedText   string              `json:"masked_text"`
	Entities     []detox.Entity      `json:"entities"`
	SimilarItems []detox.SimilarItem `json:"similar_items"`
	Analysis     detox.Analysis      `json:"analysis"`
	MemeData     *memes.Ticket       `json:"meme_data"`
	DetoxItemID  uuid.UUID           `json:"detox_item_id"`
}

type Orchestrator struct {
	log  *logger.Logger
	cfg  Config
	deps Deps
}

func NewOrchestrator(log *logger.Logger, cfg Config, deps Deps) *Orchestrator {
	return &Orchestrator{
		log:  log.With("component", "Orchestrator"),
		cfg:  cfg.normalized(),
		deps: deps,
	}
}

// Process runs every stage in order. Retrieval, analysis and the meme gate
// degrade in place; only invalid input and persistence failures are returned.
func (o *Orchestrator) Process(ctx context.Context, in Input) (*Result, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, ErrInvalidInput
	}
	ctx, span := observability.StartSpan(ctx, "detox.process", attribute.Bool("generate_meme", in.GenerateMeme))
	defer span.End()
	log := o.log.WithContext(ctx)

	res := &Result{OriginalText: in.Text, SimilarItems: []detox.SimilarItem{}}

	start := time.Now()
	res.MaskedText, res.Entities = o.deps.Masker.Mask(in.Text)
	o.deps.Metrics.ObserveStage("mask", outcomeOK, time.Since(start))
	span.SetAttributes(attribute.Int("entities", len(res.Entities)))

	vector := o.embed(ctx, log, res.MaskedText)
	if vector != nil {
		res.SimilarItems = o.search(ctx, vector)
	}

	res.Analysis = o.analyze(ctx, log, in.Text, res.MaskedText, res.SimilarItems)
	span.SetAttributes(attribute.Bool("is_sensational", res.Analysis.IsSensational))

	if in.GenerateMeme && o.cfg.EnableMemes && o.deps.Memes != nil && res.Analysis.IsSensational {
		start = time.Now()
		res.MemeData = o.deps.Memes.MaybeTrigger(dbctx.Context{Ctx: ctx}, in.OwnerUserID, in.RecordID, res.Analysis, in.Text, res.MaskedText)
		outcome := outcomeOK
		if res.MemeData == nil {
			outcome = outcomeDegraded
		}
		o.deps.Metrics.ObserveStage("meme", outcome, time.Since(start))
	} else {
		o.deps.Metrics.ObserveStage("meme", outcomeSkipped, 0)
	}

	id, err := o.persist(ctx, in, res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return nil, err
	}
	res.DetoxItemID = id

	if o.cfg.IndexResults && vector != nil {
		o.indexResult(ctx, log, res, vector)
	}

	log.Info("detox run complete",
		"detox_item_id", id,
		"entities", len(res.Entities),
		"similar_items", len(res.SimilarItems),
		"is_sensational", res.Analysis.IsSensational,
		"meme_triggered", res.MemeData != nil,
	)
	return res, nil
}

func (o *Orchestrator) embed(ctx context.Context, log *logger.Logger, masked string) []float32 {
	if o.deps.Embedder == nil || o.deps.Index == nil {
		o.deps.Metrics.ObserveStage("embed", outcomeSkipped, 0)
		return nil
	}
	start := time.Now()
	ectx, cancel := context.WithTimeout(ctx, o.cfg.EmbedTimeout)
	defer cancel()
	ectx, span := observability.StartSpan(ectx, "detox.embed")
	defer span.End()

	vec, err := o.deps.Embedder.Embed(ectx, masked)
	if err != nil {
		span.RecordError(err)
		log.Warn("embedding failed; continuing without similar items", "error", err)
		o.deps.Metrics.ObserveStage("embed", outcomeDegraded, time.Since(start))
		return nil
	}
	o.deps.Metrics.ObserveStage("embed", outcomeOK, time.Since(start))
	return vec
}

func (o *Orchestrator) search(ctx context.Context, vector []float32) []detox.SimilarItem {
	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, o.cfg.SearchTimeout)
	defer cancel()
	sctx, span := observability.StartSpan(sctx, "detox.search", attribute.String("collection", o.cfg.Collection))
	defer span.End()

	matches, ok := o.deps.Index.Search(sctx, o.cfg.Collection, vector, o.cfg.MaxSimilarItems, o.cfg.SimilarityThreshold, nil)
	out := make([]detox.SimilarItem, 0, len(matches))
	for _, m := range matches {
		if m.Score < o.cfg.SimilarityThreshold {
			continue
		}
		out = append(out, similarItem(m))
		if len(out) == o.cfg.MaxSimilarItems {
			break
		}
	}
	outcome := outcomeOK
	if !ok || sctx.Err() != nil {
		outcome = outcomeDegraded
	}
	span.SetAttributes(attribute.Int("matches", len(out)))
	o.deps.Metrics.ObserveStage("search", outcome, time.Since(start))
	return out
}

func similarItem(m qdrant.Match) detox.SimilarItem {
	it := detox.SimilarItem{ID: m.ID, Score: m.Score}
	if len(m.Payload) == 0 {
		return it
	}
	extra := make(map[string]any, len(m.Payload))
	for k, v := range m.Payload {
		if k == "headline" {
			if s, ok := v.(string); ok {
				it.Headline = s
				continue
			}
		}
		extra[k] = v
	}
	if len(extra) > 0 {
		it.Extra = extra
	}
	return it
}

func (o *Orchestrator) analyze(ctx context.Context, log *logger.Logger, original, masked string, similar []detox.SimilarItem) detox.Analysis {
	start := time.Now()
	actx, cancel := context.WithTimeout(ctx, o.cfg.LLMTimeout)
	defer cancel()
	actx, span := observability.StartSpan(actx, "detox.analyze")
	defer span.End()

	temp := o.cfg.Temperature
	maxTokens := o.cfg.MaxTokens
	res, err := o.deps.Analyzer.Generate(actx, AnalysisPrompt(original, masked, similar), llm.GenerateOptions{
		Overrides:  llm.Overrides{Temperature: &temp, MaxTokens: &maxTokens},
		JSONObject: true,
	})
	if err != nil {
		span.RecordError(err)
		log.Error("analysis failed; using fallback", "error", err)
		o.deps.Metrics.ObserveStage("analyze", outcomeFallback, time.Since(start))
		return FallbackAnalysis()
	}
	span.SetAttributes(attribute.String("provider", res.Provider), attribute.String("model", res.Model))

	a, clamped, err := parseAnalysis(res.Content)
	if err != nil {
		span.RecordError(err)
		log.Error("analysis output unusable; using fallback", "error", err, "provider", res.Provider)
		o.deps.DataQuality.Report(ctx, "analyze", "invalid_json", map[string]any{"provider": res.Provider})
		o.deps.Metrics.ObserveStage("analyze", outcomeFallback, time.Since(start))
		return FallbackAnalysis()
	}
	if clamped {
		o.deps.DataQuality.Report(ctx, "analyze", "confidence_out_of_range", map[string]any{"provider": res.Provider})
	}
	o.deps.Metrics.ObserveStage("analyze", outcomeOK, time.Since(start))
	return a
}

func (o *Orchestrator) persist(ctx context.Context, in Input, res *Result) (uuid.UUID, error) {
	start := time.Now()
	pctx, cancel := context.WithTimeout(ctx, o.cfg.PersistTimeout)
	defer cancel()
	pctx, span := observability.StartSpan(pctx, "detox.persist")
	defer span.End()

	rec := Record{
		OwnerUserID:  in.OwnerUserID,
		OriginalText: in.Text,
		MaskedText:   res.MaskedText,
		Analysis:     res.Analysis,
		Entities:     res.Entities,
		SimilarItems: res.SimilarItems,
		Meme:         res.MemeData,
	}
	dbc := dbctx.Context{Ctx: pctx}
	var (
		id  uuid.UUID
		err error
	)
	if in.RecordID != nil && *in.RecordID != uuid.Nil {
		id = *in.RecordID
		err = o.deps.Store.Finalize(dbc, id, rec)
	} else {
		id, err = o.deps.Store.Save(dbc, rec)
	}
	if err != nil {
		span.RecordError(err)
		o.deps.Metrics.ObserveStage("persist", outcomeFailed, time.Since(start))
		return uuid.Nil, err
	}
	o.deps.Metrics.ObserveStage("persist", outcomeOK, time.Since(start))
	return id, nil
}

func (o *Orchestrator) indexResult(ctx context.Context, log *logger.Logger, res *Result, vector []float32) {
	start := time.Now()
	ictx, cancel := context.WithTimeout(ctx, o.cfg.SearchTimeout)
	defer cancel()
	payload := map[string]any{
		"headline":       res.OriginalText,
		"detox_item_id":  res.DetoxItemID.String(),
		"is_sensational": res.Analysis.IsSensational,
		"confidence":     res.Analysis.Confidence,
	}
	if !o.deps.Index.Upsert(ictx, o.cfg.Collection, res.DetoxItemID.String(), vector, payload) {
		log.Warn("result indexing failed", "detox_item_id", res.DetoxItemID)
		o.deps.Metrics.ObserveStage("index", outcomeDegraded, time.Since(start))
		return
	}
	o.deps.Metrics.ObserveStage("index", outcomeOK, time.Since(start))
}
