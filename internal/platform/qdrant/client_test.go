package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/zeitwise/detox-backend/internal/platform/logger"
)

func TestClientUpsertRequestShape(t *testing.T) {
	var captured map[string]any
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPut {
			t.Fatalf("method: want=%s got=%s", http.MethodPut, r.Method)
		}
		if r.URL.Path != "/collections/news/points" || r.URL.RawQuery != "wait=true" {
			t.Fatalf("unexpected url: %s", r.URL.String())
		}
		if r.Header.Get("api-key") != "secret" {
			t.Fatalf("api-key header missing")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, map[string]any{"status": "acknowledged"}), nil
	})

	payload := map[string]any{"headline": "Markets rally"}
	if ok := c.Upsert(context.Background(), "", "item-1", []float32{1, 2, 3}, payload); !ok {
		t.Fatalf("Upsert returned false")
	}
	points, _ := captured["points"].([]any)
	if len(points) != 1 {
		t.Fatalf("points length: want=1 got=%d", len(points))
	}
	point := points[0].(map[string]any)
	if point["id"] != pointID("news", "item-1") {
		t.Fatalf("point id mismatch: %v", point["id"])
	}
	body := point["payload"].(map[string]any)
	if body[payloadExternalIDKey] != "item-1" || body["headline"] != "Markets rally" {
		t.Fatalf("unexpected payload: %#v", body)
	}
	if _, mutated := payload[payloadExternalIDKey]; mutated {
		t.Fatalf("caller payload mutated")
	}
}

func TestClientUpsertReturnsFalseOnFailure(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	if c.Upsert(context.Background(), "news", "item-1", []float32{1, 2, 3}, nil) {
		t.Fatalf("expected false on transport failure")
	}
	if c.Upsert(context.Background(), "news", "item-1", []float32{1, 2}, nil) {
		t.Fatalf("expected false on dimension mismatch")
	}
}

func TestClientSearchFiltersByScoreAndCapsTopK(t *testing.T) {
	var captured map[string]any
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/collections/news/points/search" {
			t.Fatalf("path: got=%q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		// Deliberately unordered, over the limit, and with one item below threshold.
		return okResponse(t, []map[string]any{
			{"id": "p1", "score": 0.81, "payload": map[string]any{payloadExternalIDKey: "a", "headline": "A"}},
			{"id": "p2", "score": 0.95, "payload": map[string]any{payloadExternalIDKey: "b", "headline": "B"}},
			{"id": "p3", "score": 0.42, "payload": map[string]any{payloadExternalIDKey: "c"}},
			{"id": "p4", "score": 0.90, "payload": map[string]any{payloadExternalIDKey: "d"}},
			{"id": 17, "score": 0.85, "payload": map[string]any{}},
		}), nil
	})

	matches, ok := c.Search(context.Background(), "news", []float32{1, 2, 3}, 3, 0.8, map[string]any{"source": "wire"})
	if !ok {
		t.Fatalf("search reported failure")
	}
	if len(matches) != 3 {
		t.Fatalf("matches length: want=3 got=%d", len(matches))
	}
	want := []string{"b", "d", "17"}
	for i, m := range matches {
		if m.ID != want[i] {
			t.Fatalf("match %d: want=%q got=%q", i, want[i], m.ID)
		}
		if m.Score < 0.8 {
			t.Fatalf("match %d below threshold: %v", i, m.Score)
		}
		if _, leaked := m.Payload[payloadExternalIDKey]; leaked {
			t.Fatalf("internal payload key leaked")
		}
	}
	if captured["limit"].(float64) != 3 || captured["score_threshold"].(float64) != 0.8 {
		t.Fatalf("unexpected request: %#v", captured)
	}
	filter := captured["filter"].(map[string]any)
	must := filter["must"].([]any)
	cond := must[0].(map[string]any)
	if cond["key"] != "source" {
		t.Fatalf("unexpected filter: %#v", filter)
	}
}

func TestClientSearchDegradesToEmptyOnFailure(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusServiceUnavailable,
			Body:       io.NopCloser(bytes.NewBufferString(`{"status":{"error":"down"}}`)),
			Header:     make(http.Header),
		}, nil
	})
	matches, ok := c.Search(context.Background(), "news", []float32{1, 2, 3}, 3, 0.8, nil)
	if ok {
		t.Fatalf("failed search must report false")
	}
	if matches == nil || len(matches) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", matches)
	}
}

func TestClientEnsureCollectionExisting(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		calls++
		if r.Method != http.MethodGet {
			t.Fatalf("existing collection must not be recreated, got %s", r.Method)
		}
		return okResponse(t, map[string]any{
			"config": map[string]any{"params": map[string]any{"vectors": map[string]any{"size": 3, "distance": "Cosine"}}},
		}), nil
	})
	if !c.EnsureCollection(context.Background(), "news", 3) {
		t.Fatalf("expected true for existing collection")
	}
	if calls != 1 {
		t.Fatalf("calls: want=1 got=%d", calls)
	}
}

func TestClientEnsureCollectionCreatesMissing(t *testing.T) {
	var created map[string]any
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		switch r.Method {
		case http.MethodGet:
			return &http.Response{
				StatusCode: http.StatusNotFound,
				Body:       io.NopCloser(bytes.NewBufferString(`{"status":{"error":"Not found"}}`)),
				Header:     make(http.Header),
			}, nil
		case http.MethodPut:
			if err := json.NewDecoder(r.Body).Decode(&created); err != nil {
				t.Fatalf("decode: %v", err)
			}
			return okResponse(t, true), nil
		}
		t.Fatalf("unexpected method %s", r.Method)
		return nil, nil
	})
	if !c.EnsureCollection(context.Background(), "news", 3) {
		t.Fatalf("expected true after creation")
	}
	vectors := created["vectors"].(map[string]any)
	if vectors["size"].(float64) != 3 || vectors["distance"] != "Cosine" {
		t.Fatalf("unexpected create body: %#v", created)
	}
}

func TestClientEnsureCollectionSizeMismatch(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return okResponse(t, map[string]any{
			"config": map[string]any{"params": map[string]any{"vectors": map[string]any{"size": 768}}},
		}), nil
	})
	if c.EnsureCollection(context.Background(), "news", 3) {
		t.Fatalf("expected false on size mismatch")
	}
}

func TestPointIDDeterministic(t *testing.T) {
	if pointID("news", "x") != pointID("news", "x") {
		t.Fatalf("point id should be deterministic")
	}
	if pointID("news", "x") == pointID("other", "x") {
		t.Fatalf("point id should be collection scoped")
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	c, err := NewClient(newTestLogger(t), Config{
		URL:        "http://qdrant.local",
		APIKey:     "secret",
		Collection: "news",
		VectorDim:  3,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.http = &http.Client{Transport: rt}
	return c
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

func okResponse(t *testing.T, result any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"result": result, "status": "ok", "time": 0.001})
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(raw)),
		Header:     make(http.Header),
	}
}
