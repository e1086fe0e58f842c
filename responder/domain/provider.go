package domain

import "context"

// Provider is the uniform interface over distinct LLM backends. Each adapter
// owns vendor-specific request shaping, tool handling, and error translation.
type Provider interface {
	// Name is the stable registry identifier (e.g. "openai", "gemini").
	Name() string

	// Available reports whether the required credentials are present and
	// well-formed. An unavailable provider is skipped at startup and during
	// failover.
	Available() bool

	// ModelID returns the active model identifier for this adapter.
	ModelID() string

	// Capabilities reports how this adapter can ground a request.
	Capabilities() Capabilities

	// Complete renders req into the vendor format, performs the call (and
	// any tool-call follow-ups), and returns the final completion. Failures
	// come back as *ProviderError.
	Complete(ctx context.Context, req ChatRequest) (Completion, error)
}
