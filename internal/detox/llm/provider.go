package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/zeitwise/detox-backend/internal/platform/openai"
)

const (
	ProviderOpenAI = "openai"
	ProviderXAI    = "xai"

	DefaultOpenAIModel = "gpt-4-turbo-preview"
	DefaultXAIModel    = "grok-1"
)

// Params are the sampling parameters sent with every completion request.
type Params struct {
	Temperature      float64
	MaxTokens        int
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
	Stop             []string
}

func DefaultParams() Params {
	return Params{Temperature: 0.7, MaxTokens: 2048, TopP: 1.0}
}

// Overrides replaces individual Params fields for one call. Nil fields keep the
// provider default.
type Overrides struct {
	Temperature      *float64
	MaxTokens        *int
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	Stop             []string
}

func (p Params) Merge(o Overrides) Params {
	if o.Temperature != nil {
		p.Temperature = *o.Temperature
	}
	if o.MaxTokens != nil {
		p.MaxTokens = *o.MaxTokens
	}
	if o.TopP != nil {
		p.TopP = *o.TopP
	}
	if o.FrequencyPenalty != nil {
		p.FrequencyPenalty = *o.FrequencyPenalty
	}
	if o.PresencePenalty != nil {
		p.PresencePenalty = *o.PresencePenalty
	}
	if o.Stop != nil {
		p.Stop = o.Stop
	}
	return p
}

type ProviderConfig struct {
	Name   string
	Model  string
	Params Params
}

// Request is what the router hands to a provider after merging parameters.
type Request struct {
	Messages   []openai.Message
	Params     Params
	JSONObject bool
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Metadata struct {
	ProfanityScore float64        `json:"profanity_score"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// Result is the normalized output of every provider.
type Result struct {
	Content  string   `json:"content"`
	Provider string   `json:"provider"`
	Model    string   `json:"model"`
	Usage    Usage    `json:"usage"`
	Metadata Metadata `json:"metadata"`
}

// Provider is one completion backend.
type Provider interface {
	Config() ProviderConfig
	Generate(ctx context.Context, req Request) (*Result, error)
}

type chatAPI interface {
	ChatCompletion(ctx context.Context, req openai.ChatRequest) (*openai.ChatResponse, error)
}

type openAIProvider struct {
	cfg  ProviderConfig
	chat chatAPI
}

// NewOpenAIProvider serves the OpenAI chat completions API.
func NewOpenAIProvider(chat chatAPI, model string) Provider {
	if strings.TrimSpace(model) == "" {
		model = DefaultOpenAIModel
	}
	return &openAIProvider{
		cfg:  ProviderConfig{Name: ProviderOpenAI, Model: model, Params: DefaultParams()},
		chat: chat,
	}
}

func (p *openAIProvider) Config() ProviderConfig { return p.cfg }

func (p *openAIProvider) Generate(ctx context.Context, req Request) (*Result, error) {
	creq := openai.ChatRequest{
		Model:            p.cfg.Model,
		Messages:         req.Messages,
		Temperature:      ptr(req.Params.Temperature),
		MaxTokens:        req.Params.MaxTokens,
		TopP:             ptr(req.Params.TopP),
		FrequencyPenalty: ptr(req.Params.FrequencyPenalty),
		PresencePenalty:  ptr(req.Params.PresencePenalty),
		Stop:             req.Params.Stop,
	}
	if req.JSONObject {
		creq.ResponseFormat = &openai.ResponseFormat{Type: "json_object"}
	}
	resp, err := p.chat.ChatCompletion(ctx, creq)
	if err != nil {
		return nil, err
	}
	return &Result{
		Content:  resp.Content(),
		Provider: p.cfg.Name,
		Model:    p.cfg.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

type xaiProvider struct {
	cfg  ProviderConfig
	chat chatAPI
}

// NewXAIProvider serves xAI's OpenAI-compatible endpoint. It runs warmer by
// default, does not send penalty parameters, and fills in total_tokens when
// the backend leaves it out.
func NewXAIProvider(chat chatAPI, model string) Provider {
	if strings.TrimSpace(model) == "" {
		model = DefaultXAIModel
	}
	params := DefaultParams()
	params.Temperature = 0.9
	return &xaiProvider{
		cfg:  ProviderConfig{Name: ProviderXAI, Model: model, Params: params},
		chat: chat,
	}
}

func (p *xaiProvider) Config() ProviderConfig { return p.cfg }

func (p *xaiProvider) Generate(ctx context.Context, req Request) (*Result, error) {
	creq := openai.ChatRequest{
		Model:       p.cfg.Model,
		Messages:    req.Messages,
		Temperature: ptr(req.Params.Temperature),
		MaxTokens:   req.Params.MaxTokens,
		TopP:        ptr(req.Params.TopP),
		Stop:        req.Params.Stop,
	}
	if req.JSONObject {
		creq.ResponseFormat = &openai.ResponseFormat{Type: "json_object"}
	}
	resp, err := p.chat.ChatCompletion(ctx, creq)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("xai: empty choices")
	}
	usage := Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return &Result{
		Content:  resp.Content(),
		Provider: p.cfg.Name,
		Model:    p.cfg.Model,
		Usage:    usage,
	}, nil
}

func ptr[T any](v T) *T { return &v }
