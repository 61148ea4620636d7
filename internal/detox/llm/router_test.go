package llm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zeitwise/detox-backend/internal/platform/httpx"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
	"github.com/zeitwise/detox-backend/internal/platform/openai"
	"github.com/zeitwise/detox-backend/internal/platform/retry"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	t.Cleanup(func() { log.Sync() })
	return log
}

type fakeChat struct {
	mu    sync.Mutex
	reqs  []openai.ChatRequest
	reply func(call int) (*openai.ChatResponse, error)
}

func (f *fakeChat) ChatCompletion(_ context.Context, req openai.ChatRequest) (*openai.ChatResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	n := len(f.reqs)
	f.mu.Unlock()
	if f.reply == nil {
		return okChat("hello", 10, 20, 30), nil
	}
	return f.reply(n)
}

func (f *fakeChat) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func okChat(content string, prompt, completion, total int) *openai.ChatResponse {
	return &openai.ChatResponse{
		Model:   "upstream-model",
		Choices: []openai.ChatChoice{{Message: openai.Message{Role: "assistant", Content: content}}},
		Usage:   openai.Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: total},
	}
}

type countingScorer struct {
	calls int
	score float64
}

func (c *countingScorer) Score(string) float64 {
	c.calls++
	return c.score
}

func fastRetry() retry.Policy {
	return retry.Policy{Attempts: 3, MinDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestSelectProviderNoProviders(t *testing.T) {
	r := NewRouter(newTestLogger(t), nil, RouterConfig{})
	if _, err := r.SelectProvider("hi"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if _, err := r.Generate(context.Background(), "hi", GenerateOptions{}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Generate: expected ErrConfiguration, got %v", err)
	}
}

func TestSelectProviderSingleProviderShortCircuits(t *testing.T) {
	scorer := &countingScorer{score: ScoreProfane}
	r := NewRouter(newTestLogger(t), nil, RouterConfig{Scorer: scorer}, NewOpenAIProvider(&fakeChat{}, ""))

	got, err := r.SelectProvider("you f***ing idiot")
	if err != nil || got != ProviderOpenAI {
		t.Fatalf("SelectProvider=%q err=%v", got, err)
	}
	if scorer.calls != 0 {
		t.Fatalf("scorer must not run with one provider, calls=%d", scorer.calls)
	}

	only := NewRouter(newTestLogger(t), nil, RouterConfig{Scorer: scorer}, NewXAIProvider(&fakeChat{}, ""))
	if got, _ := only.SelectProvider("hello"); got != ProviderXAI {
		t.Fatalf("single xai provider: got %q", got)
	}
}

func TestSelectProviderRoutesOnProfanity(t *testing.T) {
	r := NewRouter(newTestLogger(t), nil, RouterConfig{},
		NewOpenAIProvider(&fakeChat{}, ""),
		NewXAIProvider(&fakeChat{}, ""),
	)
	cases := []struct {
		prompt string
		want   string
	}{
		{"What a calm and measured headline", ProviderOpenAI},
		{"This is total bullshit!", ProviderXAI},
		{"you f***ing idiot", ProviderXAI},
		{"Shares of Acme* fell", ProviderOpenAI},
		{"", ProviderOpenAI},
	}
	for _, tc := range cases {
		got, err := r.SelectProvider(tc.prompt)
		if err != nil {
			t.Fatalf("SelectProvider(%q): %v", tc.prompt, err)
		}
		if got != tc.want {
			t.Fatalf("SelectProvider(%q)=%q want %q", tc.prompt, got, tc.want)
		}
	}
}

func TestSelectProviderThresholdIsStrict(t *testing.T) {
	scorer := &countingScorer{score: 0.75}
	r := NewRouter(newTestLogger(t), nil, RouterConfig{Scorer: scorer, ProfanityThreshold: 0.75},
		NewOpenAIProvider(&fakeChat{}, ""),
		NewXAIProvider(&fakeChat{}, ""),
	)
	if got, _ := r.SelectProvider("x"); got != ProviderOpenAI {
		t.Fatalf("score equal to threshold must use default, got %q", got)
	}
}

func TestGenerateMergesOverridesAndNormalizes(t *testing.T) {
	chat := &fakeChat{}
	r := NewRouter(newTestLogger(t), nil, RouterConfig{Retry: fastRetry()}, NewOpenAIProvider(chat, "gpt-test"))

	temp := 0.3
	maxTokens := 500
	res, err := r.Generate(context.Background(), "Analyze this", GenerateOptions{
		Overrides:  Overrides{Temperature: &temp, MaxTokens: &maxTokens},
		JSONObject: true,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Content != "hello" || res.Provider != ProviderOpenAI || res.Model != "gpt-test" {
		t.Fatalf("result=%+v", res)
	}
	if res.Usage != (Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30}) {
		t.Fatalf("usage=%+v", res.Usage)
	}
	if res.Metadata.ProfanityScore != ScoreClean {
		t.Fatalf("profanity score=%v", res.Metadata.ProfanityScore)
	}

	req := chat.reqs[0]
	if req.Model != "gpt-test" || *req.Temperature != 0.3 || req.MaxTokens != 500 || *req.TopP != 1.0 {
		t.Fatalf("request params=%+v", req)
	}
	if *req.FrequencyPenalty != 0 || *req.PresencePenalty != 0 {
		t.Fatalf("penalties=%v %v", *req.FrequencyPenalty, *req.PresencePenalty)
	}
	if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
		t.Fatalf("response format=%+v", req.ResponseFormat)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" || req.Messages[0].Content != "Analyze this" {
		t.Fatalf("messages=%+v", req.Messages)
	}
}

func TestGenerateSystemMessageAndForcedProvider(t *testing.T) {
	openaiChat := &fakeChat{}
	xaiChat := &fakeChat{reply: func(int) (*openai.ChatResponse, error) {
		return okChat("meme", 4, 6, 0), nil
	}}
	r := NewRouter(newTestLogger(t), nil, RouterConfig{Retry: fastRetry()},
		NewOpenAIProvider(openaiChat, ""),
		NewXAIProvider(xaiChat, ""),
	)

	res, err := r.Generate(context.Background(), "clean prompt", GenerateOptions{Provider: ProviderXAI, System: "be funny"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if openaiChat.calls() != 0 || xaiChat.calls() != 1 {
		t.Fatalf("forced provider ignored: openai=%d xai=%d", openaiChat.calls(), xaiChat.calls())
	}
	if res.Usage.TotalTokens != 10 {
		t.Fatalf("xai total tokens not derived: %+v", res.Usage)
	}
	req := xaiChat.reqs[0]
	if req.FrequencyPenalty != nil || req.PresencePenalty != nil {
		t.Fatalf("xai must not send penalties")
	}
	if *req.Temperature != 0.9 || req.Model != DefaultXAIModel {
		t.Fatalf("xai defaults: temp=%v model=%q", *req.Temperature, req.Model)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
		t.Fatalf("messages=%+v", req.Messages)
	}

	if _, err := r.Generate(context.Background(), "x", GenerateOptions{Provider: "anthropic"}); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestGenerateRetriesTransientFailures(t *testing.T) {
	chat := &fakeChat{reply: func(call int) (*openai.ChatResponse, error) {
		if call < 3 {
			return nil, &httpx.StatusError{Service: "openai", StatusCode: 503, Body: "overloaded"}
		}
		return okChat("ok", 1, 1, 2), nil
	}}
	var retried []int
	policy := fastRetry()
	policy.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }
	r := NewRouter(newTestLogger(t), nil, RouterConfig{Retry: policy}, NewOpenAIProvider(chat, ""))

	res, err := r.Generate(context.Background(), "p", GenerateOptions{})
	if err != nil || res.Content != "ok" {
		t.Fatalf("Generate: res=%+v err=%v", res, err)
	}
	if chat.calls() != 3 || len(retried) != 2 {
		t.Fatalf("calls=%d retries=%v", chat.calls(), retried)
	}
}

func TestGenerateReturnsLastFailureAfterExhaustion(t *testing.T) {
	chat := &fakeChat{reply: func(call int) (*openai.ChatResponse, error) {
		return nil, errors.New("connection reset")
	}}
	r := NewRouter(newTestLogger(t), nil, RouterConfig{Retry: fastRetry()}, NewOpenAIProvider(chat, ""))

	if _, err := r.Generate(context.Background(), "p", GenerateOptions{}); err == nil || err.Error() != "connection reset" {
		t.Fatalf("expected last failure, got %v", err)
	}
	if chat.calls() != 3 {
		t.Fatalf("expected 3 attempts, got %d", chat.calls())
	}
}

func TestGenerateDoesNotRetryRejections(t *testing.T) {
	chat := &fakeChat{reply: func(int) (*openai.ChatResponse, error) {
		return nil, &httpx.StatusError{Service: "openai", StatusCode: 401, Body: "bad key"}
	}}
	r := NewRouter(newTestLogger(t), nil, RouterConfig{Retry: fastRetry()}, NewOpenAIProvider(chat, ""))

	_, err := r.Generate(context.Background(), "p", GenerateOptions{})
	var se *httpx.StatusError
	if !errors.As(err, &se) || se.StatusCode != 401 {
		t.Fatalf("expected 401, got %v", err)
	}
	if chat.calls() != 1 {
		t.Fatalf("expected 1 attempt, got %d", chat.calls())
	}
}

func TestProfanityScorer(t *testing.T) {
	s := NewProfanityScorer(nil)
	cases := map[string]float64{
		"":                         ScoreNone,
		"   ":                      ScoreNone,
		"Markets rally on news":    ScoreClean,
		"What the hell... SHIT!":   ScoreProfane,
		"you're a f***ing idiot":   ScoreProfane,
		"what a load of sh*t":      ScoreProfane,
		"classic assessment":       ScoreClean,
		"rating: ***** five stars": ScoreClean,
		// trailing footnote and trademark asterisks mask nothing
		"Shares of Acme* fell":              ScoreClean,
		"Prices rose sharply, says report*": ScoreClean,
		"Winter* arrives early":             ScoreClean,
	}
	for text, want := range cases {
		if got := s.Score(text); got != want {
			t.Fatalf("Score(%q)=%v want %v", text, got, want)
		}
	}
}

func TestMasksWordNeedsSameLengthAndKeptLetters(t *testing.T) {
	s := NewProfanityScorer([]string{"frak"})
	cases := map[string]bool{
		"fr*k":  true,
		"f**k":  true,
		"fr*ks": false,
		"z*z*z": false,
		"acme*": false,
		"****":  false,
	}
	for tok, want := range cases {
		if got := s.masksWord(tok); got != want {
			t.Fatalf("masksWord(%q)=%v want %v", tok, got, want)
		}
	}
}

func TestLoadProfanityScorer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "words.yaml")
	if err := os.WriteFile(path, []byte("words:\n  - Frak\n  - Gorram\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := LoadProfanityScorer(path)
	if err != nil {
		t.Fatalf("LoadProfanityScorer: %v", err)
	}
	if s.Score("what the frak") != ScoreProfane || s.Score("that gorram ship") != ScoreProfane {
		t.Fatalf("extra words not applied")
	}
	if s.Score("what the f*ck") != ScoreProfane {
		t.Fatalf("default dictionary dropped when extra words are loaded")
	}
	if s.Score("what a quiet morning") != ScoreClean {
		t.Fatalf("clean text flagged")
	}

	empty := filepath.Join(dir, "empty.yaml")
	_ = os.WriteFile(empty, []byte("words: []\n"), 0o644)
	if _, err := LoadProfanityScorer(empty); err == nil {
		t.Fatalf("expected error for empty list")
	}
}

func TestParamsMerge(t *testing.T) {
	base := DefaultParams()
	topP := 0.5
	got := base.Merge(Overrides{TopP: &topP, Stop: []string{"\n"}})
	if got.TopP != 0.5 || got.Temperature != 0.7 || got.MaxTokens != 2048 || len(got.Stop) != 1 {
		t.Fatalf("merge=%+v", got)
	}
	if base.TopP != 1.0 {
		t.Fatalf("merge mutated base")
	}
}
