package memes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zeitwise/detox-backend/internal/detox/llm"
	"github.com/zeitwise/detox-backend/internal/observability"
	"github.com/zeitwise/detox-backend/internal/platform/blob"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
)

const (
	captionSystemPrompt = "You are a creative meme writer. Create funny, witty, and engaging meme text."
	captionMaxTokens    = 100
	captionTemperature  = 0.8
	keywordCount        = 3
)

type TextGenerator interface {
	Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (*llm.Result, error)
}

type GIFSearcher interface {
	SearchFirst(ctx context.Context, keywords []string) (string, error)
}

type Request struct {
	Headline string
	Analysis string
	Style    string
}

// Meme is the stored meme record and the meme_generate job result.
type Meme struct {
	MemeID    uuid.UUID `json:"meme_id"`
	Headline  string    `json:"headline"`
	Analysis  string    `json:"analysis"`
	Style     string    `json:"style"`
	MemeText  string    `json:"meme_text"`
	ImageURL  string    `json:"image_url"`
	GIFURL    string    `json:"gif_url"`
	CardURL   string    `json:"card_url"`
	RecordURL string    `json:"record_url"`
	Keywords  []string  `json:"keywords"`
}

type Generator struct {
	log      *logger.Logger
	text     TextGenerator
	gifs     GIFSearcher
	store    blob.Store
	renderer *CardRenderer
}

// NewGenerator wires the meme job collaborators. gifs may be nil.
func NewGenerator(log *logger.Logger, text TextGenerator, gifs GIFSearcher, store blob.Store, renderer *CardRenderer) *Generator {
	return &Generator{
		log:      log.With("component", "MemeGenerator"),
		text:     text,
		gifs:     gifs,
		store:    store,
		renderer: renderer,
	}
}

func captionPrompt(req Request) string {
	return fmt.Sprintf(
		"Create a concise, witty meme text (1-2 lines) based on this information:\n\nHeadline: %s\nAnalysis: %s\nStyle: %s\n\nKeep it funny, relevant, and under 100 characters.",
		req.Headline, req.Analysis, req.Style,
	)
}

func cleanCaption(s string) string {
	s = strings.ReplaceAll(s, `"`, "")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}

// Generate writes the caption, looks up a GIF and stores the caption card and
// meme record under memes/<memeID>. Reusing memeID overwrites the same keys.
func (g *Generator) Generate(ctx context.Context, memeID uuid.UUID, req Request) (*Meme, error) {
	req.Headline = strings.TrimSpace(req.Headline)
	if req.Headline == "" {
		return nil, fmt.Errorf("missing headline")
	}
	if strings.TrimSpace(req.Style) == "" {
		req.Style = DefaultStyle
	}
	ctx, span := observability.StartSpan(ctx, "meme.generate", attribute.String("meme_id", memeID.String()))
	defer span.End()

	res, err := g.text.Generate(ctx, captionPrompt(req), llm.GenerateOptions{
		System: captionSystemPrompt,
		Overrides: llm.Overrides{
			Temperature: ptrFloat(captionTemperature),
			MaxTokens:   ptrInt(captionMaxTokens),
		},
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("meme text: %w", err)
	}
	caption := cleanCaption(res.Content)
	if caption == "" {
		return nil, fmt.Errorf("meme text: empty completion")
	}

	m := &Meme{
		MemeID:   memeID,
		Headline: req.Headline,
		Analysis: req.Analysis,
		Style:    req.Style,
		MemeText: caption,
		Keywords: Keywords(req.Headline+" "+req.Analysis+" "+caption, keywordCount),
	}

	if g.gifs != nil {
		gif, gerr := g.gifs.SearchFirst(ctx, m.Keywords)
		if gerr != nil {
			g.log.Warn("gif search failed", "meme_id", memeID, "error", gerr)
		}
		m.GIFURL = gif
	}

	png, err := g.renderer.Render(caption, req.Headline)
	if err != nil {
		return nil, fmt.Errorf("meme card: %w", err)
	}
	cardKey := fmt.Sprintf("memes/%s.png", memeID)
	if err := g.store.Put(ctx, cardKey, bytes.NewReader(png)); err != nil {
		return nil, fmt.Errorf("store meme card: %w", err)
	}
	m.CardURL = g.store.PublicURL(cardKey)
	m.ImageURL = m.CardURL
	if m.GIFURL != "" {
		m.ImageURL = m.GIFURL
	}

	recordKey := fmt.Sprintf("memes/%s.json", memeID)
	m.RecordURL = g.store.PublicURL(recordKey)
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if err := g.store.Put(ctx, recordKey, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("store meme record: %w", err)
	}
	g.log.Info("meme generated", "meme_id", memeID, "keywords", m.Keywords, "has_gif", m.GIFURL != "")
	return m, nil
}

func ptrFloat(v float64) *float64 { return &v }

func ptrInt(v int) *int { return &v }
