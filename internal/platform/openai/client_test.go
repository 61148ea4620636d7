package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/zeitwise/detox-backend/internal/platform/httpx"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
)

func TestChatCompletionRequestShape(t *testing.T) {
	var captured map[string]any
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("path: got=%q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Fatalf("missing bearer auth")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return jsonResponse(http.StatusOK, `{
			"id":"c1","model":"gpt-test",
			"choices":[{"index":0,"message":{"role":"assistant","content":"{\"ok\":true}"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}
		}`), nil
	})

	temp := 0.3
	resp, err := c.ChatCompletion(context.Background(), ChatRequest{
		Model:          "gpt-test",
		Messages:       []Message{{Role: "user", Content: "hi"}},
		Temperature:    &temp,
		MaxTokens:      500,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if resp.Content() != `{"ok":true}` || resp.Usage.TotalTokens != 15 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if captured["max_tokens"].(float64) != 500 || captured["temperature"].(float64) != 0.3 {
		t.Fatalf("unexpected request: %#v", captured)
	}
	if rf := captured["response_format"].(map[string]any); rf["type"] != "json_object" {
		t.Fatalf("response_format: %#v", rf)
	}
	if _, present := captured["top_p"]; present {
		t.Fatalf("unset top_p should be omitted")
	}
}

func TestChatCompletionStatusError(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusTooManyRequests, `{"error":"slow down"}`), nil
	})
	_, err := c.ChatCompletion(context.Background(), ChatRequest{Model: "m", Messages: []Message{{Role: "user", Content: "x"}}})
	var se *httpx.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 StatusError, got %v", err)
	}
	if !httpx.IsRetryableError(err) {
		t.Fatalf("429 should be retryable")
	}
}

func TestEmbeddingsOrdersByIndex(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"data":[
			{"index":1,"embedding":[0.4,0.5]},
			{"index":0,"embedding":[0.1,0.2]}
		]}`), nil
	})
	out, err := c.Embeddings(context.Background(), "embed-test", []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embeddings: %v", err)
	}
	if out[0][0] != float32(0.1) || out[1][0] != float32(0.4) {
		t.Fatalf("unexpected order: %#v", out)
	}
}

func TestEmbeddingsMissingVector(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"data":[{"index":0,"embedding":[0.1]}]}`), nil
	})
	if _, err := c.Embeddings(context.Background(), "embed-test", []string{"a", "b"}); err == nil {
		t.Fatalf("expected error for missing vector")
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(newTestLogger(t), Config{Service: "xai"}); err == nil {
		t.Fatalf("expected missing key error")
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	c, err := NewClient(newTestLogger(t), Config{Service: "openai", BaseURL: "http://llm.local", APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c.WithHTTPClient(&http.Client{Transport: rt})
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}
