package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/zeitwise/detox-backend/internal/observability"
	"github.com/zeitwise/detox-backend/internal/platform/httpx"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
	"github.com/zeitwise/detox-backend/internal/platform/openai"
	"github.com/zeitwise/detox-backend/internal/platform/retry"
)

type RouterConfig struct {
	DefaultProvider    string
	PermissiveProvider string
	ProfanityThreshold float64
	Scorer             Scorer
	Retry              retry.Policy
}

// Router picks a backend per prompt and runs the completion with retries.
// The provider set is fixed at construction and only read afterwards.
type Router struct {
	log        *logger.Logger
	metrics    *observability.Metrics
	providers  map[string]Provider
	def        string
	permissive string
	threshold  float64
	scorer     Scorer
	policy     retry.Policy
}

func NewRouter(log *logger.Logger, metrics *observability.Metrics, cfg RouterConfig, providers ...Provider) *Router {
	r := &Router{
		log:        log.With("component", "LLMRouter"),
		metrics:    metrics,
		providers:  make(map[string]Provider, len(providers)),
		def:        strings.TrimSpace(cfg.DefaultProvider),
		permissive: strings.TrimSpace(cfg.PermissiveProvider),
		threshold:  cfg.ProfanityThreshold,
		scorer:     cfg.Scorer,
		policy:     cfg.Retry,
	}
	for _, p := range providers {
		if p == nil {
			continue
		}
		r.providers[p.Config().Name] = p
	}
	if r.def == "" {
		r.def = ProviderOpenAI
	}
	if r.permissive == "" {
		r.permissive = ProviderXAI
	}
	if r.threshold <= 0 {
		r.threshold = DefaultProfanityThreshold
	}
	if r.scorer == nil {
		r.scorer = NewProfanityScorer(nil)
	}
	if r.policy.Attempts <= 0 {
		r.policy = retry.Default()
	}
	if r.policy.Retryable == nil {
		r.policy.Retryable = retryableGenerateError
	}
	return r
}

// Providers lists configured provider names in sorted order.
func (r *Router) Providers() []string {
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ProfanityScore exposes the routing signal for a prompt.
func (r *Router) ProfanityScore(prompt string) float64 {
	return r.scorer.Score(prompt)
}

// SelectProvider routes profane prompts to the permissive backend when it is
// configured and everything else to the default. With a single provider the
// score is never computed.
func (r *Router) SelectProvider(prompt string) (string, error) {
	switch len(r.providers) {
	case 0:
		return "", ErrConfiguration
	case 1:
		for name := range r.providers {
			return name, nil
		}
	}
	score := r.scorer.Score(prompt)
	r.log.Debug("Routing prompt", "profanity_score", score, "prompt", prompt)
	if score > r.threshold {
		if _, ok := r.providers[r.permissive]; ok {
			return r.permissive, nil
		}
	}
	if _, ok := r.providers[r.def]; ok {
		return r.def, nil
	}
	// Default is not configured; fall back to any non-permissive backend so
	// routing stays deterministic.
	for _, name := range r.Providers() {
		if name != r.permissive {
			return name, nil
		}
	}
	return r.permissive, nil
}

// GenerateOptions tunes one Generate call.
type GenerateOptions struct {
	// Provider forces a backend instead of routing.
	Provider string
	// System is sent as a system message ahead of the prompt.
	System     string
	Overrides  Overrides
	JSONObject bool
}

// Generate sends prompt to the chosen backend with the merged parameters.
// Transient failures are retried per the router's policy; the last error is
// returned once attempts run out.
func (r *Router) Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Result, error) {
	if len(r.providers) == 0 {
		return nil, ErrConfiguration
	}
	name := strings.TrimSpace(opts.Provider)
	if name == "" {
		var err error
		if name, err = r.SelectProvider(prompt); err != nil {
			return nil, err
		}
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	cfg := p.Config()
	r.metrics.ProviderSelected(name)

	var messages []openai.Message
	if s := strings.TrimSpace(opts.System); s != "" {
		messages = append(messages, openai.Message{Role: "system", Content: s})
	}
	messages = append(messages, openai.Message{Role: "user", Content: prompt})
	req := Request{
		Messages:   messages,
		Params:     cfg.Params.Merge(opts.Overrides),
		JSONObject: opts.JSONObject,
	}

	log := r.log.WithContext(ctx).With("provider", name, "model", cfg.Model)
	log.Info("Generating completion")

	policy := r.policy
	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, err error) {
		r.metrics.Retry("llm_generate")
		log.Warn("Completion failed, retrying", "attempt", attempt, "error", err)
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}

	res, err := retry.Do(ctx, policy, func(ctx context.Context) (*Result, error) {
		return p.Generate(ctx, req)
	})
	if err != nil {
		r.metrics.ObserveLLM(name, false, 0, 0)
		log.Error("Completion failed", "error", err)
		return nil, err
	}
	res.Metadata.ProfanityScore = r.scorer.Score(prompt)
	r.metrics.ObserveLLM(name, true, res.Usage.PromptTokens, res.Usage.CompletionTokens)
	return res, nil
}

// retryableGenerateError retries everything except a definitive upstream
// rejection such as 400 or 401.
func retryableGenerateError(err error) bool {
	var sc httpx.HTTPStatusCoder
	if errors.As(err, &sc) {
		return httpx.IsRetryableHTTPStatus(sc.HTTPStatusCode())
	}
	return true
}
