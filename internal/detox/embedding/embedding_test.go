package embedding

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/zeitwise/detox-backend/internal/platform/httpx"
	"github.com/zeitwise/detox-backend/internal/platform/logger"
	detoxredis "github.com/zeitwise/detox-backend/internal/platform/redis"
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

type fakeAPI struct {
	calls  atomic.Int32
	inputs []string
	mu     sync.Mutex
	fn     func(call int32, input string) ([][]float32, error)
}

func (f *fakeAPI) Embeddings(_ context.Context, _ string, inputs []string) ([][]float32, error) {
	n := f.calls.Add(1)
	f.mu.Lock()
	f.inputs = append(f.inputs, inputs...)
	f.mu.Unlock()
	return f.fn(n, inputs[0])
}

func fastPolicy() retry.Policy {
	return retry.Policy{Attempts: 3, MinDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("héllo wörld", 4); got != "héll" {
		t.Fatalf("Truncate=%q", got)
	}
	if got := Truncate("short", 512); got != "short" {
		t.Fatalf("Truncate(short)=%q", got)
	}
	if got := Truncate("anything", 0); got != "anything" {
		t.Fatalf("Truncate(0)=%q", got)
	}
}

func TestOpenAIEmbedderTruncatesAndRetries(t *testing.T) {
	api := &fakeAPI{fn: func(call int32, _ string) ([][]float32, error) {
		if call == 1 {
			return nil, &httpx.StatusError{Service: "openai", StatusCode: 503, Body: "busy"}
		}
		return [][]float32{{0.1, 0.2, 0.3}}, nil
	}}
	e := newOpenAIEmbedder(newTestLogger(t), api, "", 512, fastPolicy(), nil)

	long := strings.Repeat("ä", 600)
	vec, err := e.Embed(context.Background(), long)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("vec=%v", vec)
	}
	if api.calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", api.calls.Load())
	}
	if n := utf8.RuneCountInString(api.inputs[0]); n != 512 {
		t.Fatalf("input not truncated: %d runes", n)
	}
	if e.Model() != DefaultModel {
		t.Fatalf("model=%q", e.Model())
	}
}

func TestOpenAIEmbedderDoesNotRetryClientErrors(t *testing.T) {
	api := &fakeAPI{fn: func(int32, string) ([][]float32, error) {
		return nil, &httpx.StatusError{Service: "openai", StatusCode: 400, Body: "bad"}
	}}
	e := newOpenAIEmbedder(newTestLogger(t), api, "m", 0, fastPolicy(), nil)

	_, err := e.Embed(context.Background(), "text")
	var se *httpx.StatusError
	if !errors.As(err, &se) || se.StatusCode != 400 {
		t.Fatalf("expected status error, got %v", err)
	}
	if api.calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", api.calls.Load())
	}
}

func TestCachedEmbedderUsesRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	inner := &countingEmbedder{vec: []float32{1, 2, 3}}
	cache := detoxredis.NewEmbeddingCache(rdb, "", time.Minute)
	e := NewCachedEmbedder(newTestLogger(t), inner, cache, "m", 512)
	ctx := context.Background()

	first, err := e.Embed(ctx, "AI takes over the world")
	if err != nil {
		t.Fatalf("Embed #1: %v", err)
	}
	second, err := e.Embed(ctx, "AI takes over the world")
	if err != nil {
		t.Fatalf("Embed #2: %v", err)
	}
	if inner.calls.Load() != 1 {
		t.Fatalf("expected one upstream call, got %d", inner.calls.Load())
	}
	if len(first) != 3 || second[2] != 3 {
		t.Fatalf("vectors differ: %v %v", first, second)
	}
	if _, err := e.Embed(ctx, "different text"); err != nil {
		t.Fatalf("Embed #3: %v", err)
	}
	if inner.calls.Load() != 2 {
		t.Fatalf("expected miss for new text, calls=%d", inner.calls.Load())
	}
}

func TestCachedEmbedderSurvivesCacheOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	inner := &countingEmbedder{vec: []float32{4}}
	e := NewCachedEmbedder(newTestLogger(t), inner, detoxredis.NewEmbeddingCache(rdb, "", time.Minute), "m", 0)
	vec, err := e.Embed(context.Background(), "text")
	if err != nil || len(vec) != 1 {
		t.Fatalf("Embed: vec=%v err=%v", vec, err)
	}
}

func TestCachedEmbedderPropagatesErrors(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("upstream down")}
	e := NewCachedEmbedder(newTestLogger(t), inner, nil, "m", 0)
	if _, err := e.Embed(context.Background(), "text"); err == nil {
		t.Fatalf("expected error")
	}
}

type countingEmbedder struct {
	calls atomic.Int32
	vec   []float32
	err   error
}

func (c *countingEmbedder) Embed(context.Context, string) ([]float32, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.vec, nil
}
