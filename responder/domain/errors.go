package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the fixed failure taxonomy every adapter must translate
// vendor errors into. Raw SDK errors never cross the adapter boundary.
type ErrorKind string

const (
	ErrRateLimited       ErrorKind = "rate_limited"
	ErrUnauthorized      ErrorKind = "unauthorized"
	ErrUnavailable       ErrorKind = "upstream_unavailable"
	ErrMalformedResponse ErrorKind = "malformed_upstream_response"
	ErrSafetyFiltered    ErrorKind = "safety_filtered_empty_response"
	ErrUnknown           ErrorKind = "unknown_upstream_error"
)

// ProviderError wraps an upstream failure with its taxonomy kind and the
// provider that produced it. The original error is preserved for logs.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError builds a typed provider failure.
func NewProviderError(provider string, kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// KindOf extracts the taxonomy kind from an error chain, or ErrUnknown.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrUnknown
}

// IsKind reports whether err carries the given taxonomy kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// ErrNoProviderAvailable is returned by the orchestrator when neither the
// active provider nor any alternate could serve a request.
var ErrNoProviderAvailable = errors.New("no available provider")

// ErrProviderNotRegistered is returned on a switch to an unknown provider.
var ErrProviderNotRegistered = errors.New("provider not registered")

// TemplateError reports a template rendering failure, such as an unbound
// placeholder. It surfaces to the caller instead of silently emitting an
// empty prompt.
type TemplateError struct {
	TemplateID string
	Missing    []string
}

func (e *TemplateError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("template %s: unresolved placeholders: %v", e.TemplateID, e.Missing)
	}
	return fmt.Sprintf("template %s: not found", e.TemplateID)
}
