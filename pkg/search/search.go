// Package search implements the web and image search providers.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/time/rate"

	"github.com/dtnitsch/llm-web-search/models"
)

const (
	ProviderBrave      = "brave"
	ProviderDuckDuckGo = "duckduckgo"

	DefaultCount = 5
	MaxCount     = 20
)

// ErrUnsupportedKind is returned by providers that cannot serve a search kind.
var ErrUnsupportedKind = errors.New("search kind not supported by provider")

// ErrMalformedResponse wraps decode failures of provider payloads.
var ErrMalformedResponse = errors.New("malformed search response")

// HTTPError is a non-2xx answer from a search provider.
type HTTPError struct {
	Provider   string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s search returned http %d", e.Provider, e.StatusCode)
}

// Request is a normalized search request.
type Request struct {
	Query      string
	Kind       models.SearchKind
	Count      int
	SearchLang string
	Country    string
}

// Provider performs searches against one backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, req Request) ([]models.SearchResult, error)
}

// Registry stores named providers.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces a provider by name.
func (r *Registry) Register(p Provider) {
	if p == nil {
		return
	}
	r.providers[p.Name()] = p
}

// Get returns a provider by name, or nil.
func (r *Registry) Get(name string) Provider {
	return r.providers[name]
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NewRegistryFromConfig registers every provider the configuration enables.
func NewRegistryFromConfig(cfg models.SearchConfig, userAgent string) *Registry {
	r := NewRegistry()
	r.Register(NewBrave(cfg.Brave))
	if cfg.DuckDuckGo.Enabled {
		r.Register(NewDuckDuckGo(cfg.DuckDuckGo, userAgent))
	}
	return r
}

func normalizeCount(n int) int {
	if n <= 0 {
		return DefaultCount
	}
	if n > MaxCount {
		return MaxCount
	}
	return n
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}
