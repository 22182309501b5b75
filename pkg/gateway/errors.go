package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/dtnitsch/llm-web-search/pkg/fetcher"
	"github.com/dtnitsch/llm-web-search/pkg/llm"
	"github.com/dtnitsch/llm-web-search/pkg/parser"
	"github.com/dtnitsch/llm-web-search/pkg/search"
)

// ErrCancelled marks work aborted because the turn was cancelled.
var ErrCancelled = errors.New("generation cancelled")

// ConfigurationError reports a missing credential or setting. It is never retried
// against the same provider.
type ConfigurationError struct {
	Capability string
	Provider   string
	Missing    string
}

func (e *ConfigurationError) Error() string {
	if e.Capability == "" {
		return fmt.Sprintf("provider %s: missing %s", e.Provider, e.Missing)
	}
	return fmt.Sprintf("%s via %s: missing %s", e.Capability, e.Provider, e.Missing)
}

// TransportError is a network failure or a per-call timeout.
type TransportError struct {
	Provider string
	Op       string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: transport failure: %v", e.Provider, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProviderError is a non-2xx answer or a payload that failed validation.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: http %d: %s", e.Provider, e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Op, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsCancellation reports whether err means the turn was cancelled.
// Deadline expiry is not a cancellation.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// cancelled reports whether ctx was cancelled by its owner, as opposed to timing out.
func cancelled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

// classify maps a raw client error onto the gateway taxonomy.
func classify(ctx context.Context, capability, provider string, err error) error {
	if err == nil {
		return nil
	}
	if cancelled(ctx) || IsCancellation(err) {
		return ErrCancelled
	}

	var (
		cfgErr   *ConfigurationError
		provErr  *ProviderError
		transErr *TransportError
	)
	if errors.As(err, &cfgErr) || errors.As(err, &provErr) || errors.As(err, &transErr) {
		return err
	}

	if errors.Is(err, llm.ErrNoCredential) || errors.Is(err, search.ErrNoAPIKey) {
		return &ConfigurationError{Capability: capability, Provider: provider, Missing: "api key"}
	}
	if code, ok := llm.StatusCode(err); ok {
		return &ProviderError{Provider: provider, Op: capability, StatusCode: code, Message: err.Error(), Err: err}
	}

	var searchErr *search.HTTPError
	if errors.As(err, &searchErr) {
		return &ProviderError{Provider: provider, Op: capability, StatusCode: searchErr.StatusCode, Message: err.Error(), Err: err}
	}
	var fetchErr *fetcher.StatusError
	if errors.As(err, &fetchErr) {
		return &ProviderError{Provider: provider, Op: capability, StatusCode: fetchErr.StatusCode, Message: err.Error(), Err: err}
	}
	var tooLarge *fetcher.TooLargeError
	if errors.As(err, &tooLarge) {
		return &ProviderError{Provider: provider, Op: capability, Message: err.Error(), Err: err}
	}
	if errors.Is(err, llm.ErrEmptyCompletion) ||
		errors.Is(err, search.ErrMalformedResponse) ||
		errors.Is(err, search.ErrUnsupportedKind) ||
		errors.Is(err, fetcher.ErrNotHTML) ||
		errors.Is(err, parser.ErrNoContent) ||
		errors.Is(err, ErrSchema) {
		return &ProviderError{Provider: provider, Op: capability, Message: err.Error(), Err: err}
	}
	return &TransportError{Provider: provider, Op: capability, Err: err}
}
