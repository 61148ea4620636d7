package llm

import "errors"

var (
	// ErrConfiguration means no provider is usable.
	ErrConfiguration = errors.New("llm: no providers configured")
	// ErrUnknownProvider means a caller forced a provider that is not configured.
	ErrUnknownProvider = errors.New("llm: unknown provider")
)
