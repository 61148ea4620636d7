// Package retry is the one place backoff math lives. External calls that should
// survive transient failures are wrapped with Do instead of looping by hand.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// Policy describes how many attempts to make and how long to wait between
// them. Delays grow exponentially from MinDelay and are capped at MaxDelay.
type Policy struct {
	Attempts int
	MinDelay time.Duration
	MaxDelay time.Duration
	// Retryable decides whether a failed attempt is tried again. Nil retries
	// every error except permanent ones and caller cancellation.
	Retryable func(error) bool
	// OnRetry is called before each retry with the attempt that just failed.
	OnRetry func(attempt int, err error)
}

// Default is three attempts with backoff between 4s and 10s.
func Default() Policy {
	return Policy{Attempts: 3, MinDelay: 4 * time.Second, MaxDelay: 10 * time.Second}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

func shouldRetry(p Policy, err error) bool {
	if err == nil || IsPermanent(err) || errors.Is(err, context.Canceled) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return true
}

func normalize(p Policy) Policy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.MinDelay <= 0 {
		p.MinDelay = 10 * time.Millisecond
	}
	if p.MaxDelay < p.MinDelay {
		p.MaxDelay = p.MinDelay
	}
	return p
}

// Do runs fn until it succeeds, a non-retryable error is returned, the policy
// is exhausted, or ctx ends. The last failure is returned unchanged, except
// that a Permanent marker is stripped.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = normalize(p)
	builder := retrypolicy.NewBuilder[T]().
		HandleIf(func(_ T, err error) bool { return shouldRetry(p, err) }).
		WithMaxRetries(p.Attempts-1).
		WithBackoff(p.MinDelay, p.MaxDelay).
		WithJitterFactor(0.1).
		ReturnLastFailure()
	if p.OnRetry != nil {
		builder = builder.OnRetry(func(e failsafe.ExecutionEvent[T]) {
			p.OnRetry(e.Attempts()-1, e.LastError())
		})
	}
	out, err := failsafe.With[T](builder.Build()).WithContext(ctx).Get(func() (T, error) {
		return fn(ctx)
	})
	if pe, ok := err.(*permanentError); ok {
		return out, pe.err
	}
	return out, err
}
