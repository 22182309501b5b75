// Package gateway exposes every external capability the search pipeline needs
// (LLM calls, search, page and image fetching) behind one type that applies the
// primary/fallback rule and maps failures onto a small error taxonomy.
package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/dtnitsch/llm-web-search/models"
	"github.com/dtnitsch/llm-web-search/pkg/caching"
	"github.com/dtnitsch/llm-web-search/pkg/fetcher"
	"github.com/dtnitsch/llm-web-search/pkg/llm"
	"github.com/dtnitsch/llm-web-search/pkg/metrics"
	"github.com/dtnitsch/llm-web-search/pkg/parser"
	"github.com/dtnitsch/llm-web-search/pkg/search"
	"github.com/dtnitsch/llm-web-search/pkg/selector"
)

// Capability labels for the non-LLM calls.
const (
	capabilitySearch = "search"
	capabilityFetch  = "fetch"
	capabilityProbe  = "probe"
	providerHTTP     = "http"
)

// SummaryPass selects the prompt of a summarization call.
type SummaryPass string

const (
	PassChunk   SummaryPass = "chunk"
	PassCombine SummaryPass = "combine"
)

// SummarizeRequest is one summarization pass over text, scoped to Query.
type SummarizeRequest struct {
	Query     string
	Text      string
	Pass      SummaryPass
	MaxTokens int
}

// AnswerRequest carries the numbered sources the answer may cite.
type AnswerRequest struct {
	Query        string
	Language     string
	Sources      []models.Source
	ImageSources []models.Source
}

type target struct {
	provider    string
	client      *llm.Client
	models      selector.Selector[string]
	maxTokens   int
	temperature float64
}

func (t *target) request(system, user string) llm.Request {
	return llm.Request{
		Model:       t.models.Next(),
		System:      system,
		User:        user,
		MaxTokens:   t.maxTokens,
		Temperature: t.temperature,
	}
}

type route struct {
	primary  target
	fallback *target
}

// Gateway is safe for concurrent use.
type Gateway struct {
	cfg     *models.Config
	logger  *slog.Logger
	clients map[string]*llm.Client
	routes  map[string]*route
	search  *search.Registry
	fetcher *fetcher.Fetcher
	parser  *parser.Parser
	cache   caching.Store
	rng     *rand.Rand
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithCache stores extracted page text in store.
func WithCache(store caching.Store) Option {
	return func(g *Gateway) { g.cache = store }
}

// WithRand makes weighted-random selection deterministic. rng only seeds one
// private source per selector and is not used after New returns.
func WithRand(rng *rand.Rand) Option {
	return func(g *Gateway) { g.rng = rng }
}

// WithSearchRegistry replaces the providers built from the search configuration.
func WithSearchRegistry(r *search.Registry) Option {
	return func(g *Gateway) { g.search = r }
}

// New builds the gateway. It fails with a *ConfigurationError when the query
// optimizer's primary provider has no credential, since no other path exists.
func New(cfg *models.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	g := &Gateway{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[string]*llm.Client, len(cfg.Providers)),
		routes:  make(map[string]*route, len(cfg.Capabilities)),
		fetcher: fetcher.NewFetcher(cfg.Fetch),
		parser:  parser.NewParser(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.search == nil {
		g.search = search.NewRegistryFromConfig(cfg.Search, cfg.Fetch.UserAgent)
	}

	for _, name := range slices.Sorted(maps.Keys(cfg.Providers)) {
		p := cfg.Providers[name]
		var keys selector.Selector[string]
		if len(p.APIKeys) > 0 {
			s, err := selector.New(p.KeySelection, p.APIKeys, nil, g.selectorRand())
			if err != nil {
				return nil, fmt.Errorf("provider %s keys: %w", name, err)
			}
			keys = s
		}
		g.clients[name] = llm.NewClient(name, keys, llm.Options{BaseURL: p.BaseURL, Timeout: p.Timeout})
	}

	for _, capability := range slices.Sorted(maps.Keys(cfg.Capabilities)) {
		rc := cfg.Capabilities[capability]
		primary, err := g.buildTarget(capability, rc.Primary)
		if err != nil {
			return nil, err
		}
		r := &route{primary: *primary}
		if rc.Fallback != nil {
			if r.fallback, err = g.buildTarget(capability, *rc.Fallback); err != nil {
				return nil, err
			}
		}
		g.routes[capability] = r
	}

	optimize, ok := g.routes[models.CapabilityOptimize]
	if !ok {
		return nil, &ConfigurationError{Capability: models.CapabilityOptimize, Missing: "route"}
	}
	if !optimize.primary.client.HasCredential() {
		return nil, &ConfigurationError{
			Capability: models.CapabilityOptimize,
			Provider:   optimize.primary.provider,
			Missing:    "api key",
		}
	}
	return g, nil
}

func (g *Gateway) buildTarget(capability string, t models.TargetConfig) (*target, error) {
	client, ok := g.clients[t.Provider]
	if !ok {
		return nil, &ConfigurationError{Capability: capability, Provider: t.Provider, Missing: "provider definition"}
	}
	names := make([]string, 0, len(t.Models))
	weights := make([]float64, 0, len(t.Models))
	for _, m := range t.Models {
		names = append(names, m.Name)
		weights = append(weights, m.Weight)
	}
	if allZero(weights) {
		weights = nil
	}
	picker, err := selector.New(t.ModelSelection, names, weights, g.selectorRand())
	if err != nil {
		return nil, fmt.Errorf("%s models on %s: %w", capability, t.Provider, err)
	}
	return &target{
		provider:    t.Provider,
		client:      client,
		models:      picker,
		maxTokens:   t.MaxTokens,
		temperature: t.Temperature,
	}, nil
}

// selectorRand derives a fresh source from the injected one. Selectors lock
// only their own state, so they must never share a source.
func (g *Gateway) selectorRand() *rand.Rand {
	if g.rng == nil {
		return nil
	}
	return rand.New(rand.NewPCG(g.rng.Uint64(), g.rng.Uint64()))
}

func allZero(ws []float64) bool {
	for _, w := range ws {
		if w != 0 {
			return false
		}
	}
	return true
}

func (g *Gateway) route(capability string) (*route, error) {
	r, ok := g.routes[capability]
	if !ok {
		return nil, &ConfigurationError{Capability: capability, Missing: "route"}
	}
	return r, nil
}

type attempt[T any] struct {
	provider string
	run      func(context.Context) (T, error)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsCancellation(err):
		return "cancelled"
	default:
		return "error"
	}
}

func observe[T any](ctx context.Context, g *Gateway, capability string, a attempt[T]) (T, error) {
	started := time.Now()
	out, err := a.run(ctx)
	err = classify(ctx, capability, a.provider, err)
	metrics.ObserveProvider(capability, a.provider, outcome(err), started)
	return out, err
}

// withFallback runs primary and, after a failure that is not a cancellation,
// fallback exactly once.
func withFallback[T any](ctx context.Context, g *Gateway, capability string, primary attempt[T], fallback *attempt[T]) (T, error) {
	var zero T
	if cancelled(ctx) {
		return zero, ErrCancelled
	}
	out, err := observe(ctx, g, capability, primary)
	if err == nil {
		return out, nil
	}
	if IsCancellation(err) {
		return zero, ErrCancelled
	}
	if fallback == nil {
		return zero, err
	}
	if cancelled(ctx) {
		return zero, ErrCancelled
	}

	g.logger.Warn("primary provider failed, trying fallback",
		"capability", capability,
		"provider", primary.provider,
		"fallback", fallback.provider,
		"error", err)
	metrics.ProviderFallbacks.WithLabelValues(capability).Inc()

	out, ferr := observe(ctx, g, capability, *fallback)
	if ferr == nil {
		return out, nil
	}
	if IsCancellation(ferr) {
		return zero, ErrCancelled
	}
	return zero, errors.Join(err, ferr)
}

// callRoute runs fn against the capability's primary target, then its fallback.
func callRoute[T any](ctx context.Context, g *Gateway, capability string, fn func(context.Context, *target) (T, error)) (T, error) {
	r, err := g.route(capability)
	if err != nil {
		var zero T
		return zero, err
	}
	primary := attempt[T]{
		provider: r.primary.provider,
		run:      func(ctx context.Context) (T, error) { return fn(ctx, &r.primary) },
	}
	var fallback *attempt[T]
	if r.fallback != nil {
		fb := r.fallback
		fallback = &attempt[T]{
			provider: fb.provider,
			run:      func(ctx context.Context) (T, error) { return fn(ctx, fb) },
		}
	}
	return withFallback(ctx, g, capability, primary, fallback)
}

func completeText(ctx context.Context, t *target, req llm.Request) (string, error) {
	out, err := t.client.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", llm.ErrEmptyCompletion
	}
	return out, nil
}

// OptimizeQuery asks for count refined queries for kind. The count is advisory.
func (g *Gateway) OptimizeQuery(ctx context.Context, query string, count int, kind models.SearchKind) (*models.QueryOptimization, error) {
	system := optimizePrompt(count, kind)
	queries, err := callRoute(ctx, g, models.CapabilityOptimize, func(ctx context.Context, t *target) ([]string, error) {
		req := t.request(system, query)
		req.JSON = true
		raw, err := t.client.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		return decodeQueries(raw)
	})
	if err != nil {
		return nil, err
	}
	return &models.QueryOptimization{Queries: queries}, nil
}

// Search runs query against the kind's primary search provider, then its fallback.
func (g *Gateway) Search(ctx context.Context, query string, kind models.SearchKind, lang string) ([]models.SearchResult, error) {
	sr := g.cfg.Search.Web
	if kind == models.KindImage {
		sr = g.cfg.Search.Image
	}
	req := search.Request{Query: query, Kind: kind, Count: sr.Count, SearchLang: lang}

	build := func(name string) *attempt[[]models.SearchResult] {
		p := g.search.Get(name)
		if p == nil {
			return nil
		}
		return &attempt[[]models.SearchResult]{
			provider: name,
			run: func(ctx context.Context) ([]models.SearchResult, error) {
				return p.Search(ctx, req)
			},
		}
	}
	primary := build(sr.Primary)
	if primary == nil {
		return nil, &ConfigurationError{Capability: capabilitySearch, Provider: sr.Primary, Missing: "search provider"}
	}
	var fallback *attempt[[]models.SearchResult]
	if sr.Fallback != "" {
		fallback = build(sr.Fallback)
	}
	return withFallback(ctx, g, capabilitySearch, *primary, fallback)
}

// FetchText downloads url and returns the markdown of its main content.
func (g *Gateway) FetchText(ctx context.Context, url string) (string, error) {
	key := models.NormalizeURL(url)
	if g.cache != nil {
		if data, ok := g.cache.Get(ctx, key); ok {
			g.logger.Debug("page cache hit", "url", url)
			return string(data), nil
		}
	}

	text, err := withFallback(ctx, g, capabilityFetch, attempt[string]{
		provider: providerHTTP,
		run: func(ctx context.Context) (string, error) {
			resp, err := g.fetcher.GetHtml(ctx, url)
			if err != nil {
				return "", err
			}
			page, err := g.parser.Parse(models.ParseRequest{
				URL:         resp.URL,
				HTML:        string(resp.Body),
				ContentType: resp.ContentType,
			})
			if err != nil {
				return "", err
			}
			return page.ToPlainText(), nil
		},
	}, nil)
	if err != nil {
		return "", err
	}

	if g.cache != nil {
		if err := g.cache.Set(ctx, key, []byte(text)); err != nil {
			g.logger.Warn("failed to cache page", "url", url, "error", err)
		}
	}
	return text, nil
}

// FetchImageBytes downloads an image and returns its bytes and media type.
func (g *Gateway) FetchImageBytes(ctx context.Context, url string) ([]byte, string, error) {
	resp, err := withFallback(ctx, g, capabilityFetch, attempt[*fetcher.Response]{
		provider: providerHTTP,
		run: func(ctx context.Context) (*fetcher.Response, error) {
			return g.fetcher.GetImage(ctx, url)
		},
	}, nil)
	if err != nil {
		return nil, "", err
	}
	return resp.Body, resp.ContentType, nil
}

// ProbeImage checks that an image URL is reachable without downloading it.
func (g *Gateway) ProbeImage(ctx context.Context, url string) error {
	_, err := withFallback(ctx, g, capabilityProbe, attempt[struct{}]{
		provider: providerHTTP,
		run: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, g.fetcher.Probe(ctx, url)
		},
	}, nil)
	return err
}

// Summarize runs one chunk or combine pass.
func (g *Gateway) Summarize(ctx context.Context, req SummarizeRequest) (string, error) {
	system := chunkSummaryPrompt(req.Query)
	if req.Pass == PassCombine {
		system = combineSummaryPrompt(req.Query)
	}
	return callRoute(ctx, g, models.CapabilitySummarize, func(ctx context.Context, t *target) (string, error) {
		llmReq := t.request(system, req.Text)
		if req.MaxTokens > 0 {
			llmReq.MaxTokens = req.MaxTokens
		}
		return completeText(ctx, t, llmReq)
	})
}

// DescribeImage asks a vision model to describe an image given its title.
func (g *Gateway) DescribeImage(ctx context.Context, title string, data []byte, mime string) (string, error) {
	if len(data) == 0 {
		return "", &ProviderError{Provider: providerHTTP, Op: models.CapabilityDescribe, Message: "empty image"}
	}
	if mime == "" {
		mime = "image/jpeg"
	}
	dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
	prompt := describeImagePrompt(title)
	return callRoute(ctx, g, models.CapabilityDescribe, func(ctx context.Context, t *target) (string, error) {
		req := t.request("", prompt)
		req.ImageDataURL = dataURL
		return completeText(ctx, t, req)
	})
}

// Decide reports whether query satisfies constraint. The primary reasons first and
// then extracts the boolean; the fallback answers directly. Total failure yields
// false; the only error returned is ErrCancelled.
func (g *Gateway) Decide(ctx context.Context, query, constraint string) (bool, error) {
	r, err := g.route(models.CapabilityDecide)
	if err != nil {
		g.logger.Warn("decision route missing", "error", err)
		return false, nil
	}
	user := decideUserPrompt(query, constraint)

	primary := attempt[bool]{
		provider: r.primary.provider,
		run: func(ctx context.Context) (bool, error) {
			t := &r.primary
			reasoning, err := completeText(ctx, t, t.request(decideReasonPrompt, user))
			if err != nil {
				return false, err
			}
			if cancelled(ctx) {
				return false, ErrCancelled
			}
			req := t.request(decideExtractPrompt, "Decision: "+reasoning)
			req.JSON = true
			raw, err := t.client.Complete(ctx, req)
			if err != nil {
				return false, err
			}
			return decodeDecision(raw)
		},
	}
	var fallback *attempt[bool]
	if r.fallback != nil {
		fb := r.fallback
		fallback = &attempt[bool]{
			provider: fb.provider,
			run: func(ctx context.Context) (bool, error) {
				req := fb.request(decideDirectPrompt, user)
				req.JSON = true
				raw, err := fb.client.Complete(ctx, req)
				if err != nil {
					return false, err
				}
				return decodeDecision(raw)
			},
		}
	}

	decision, err := withFallback(ctx, g, models.CapabilityDecide, primary, fallback)
	if err != nil {
		if IsCancellation(err) {
			return false, ErrCancelled
		}
		g.logger.Warn("decision failed, defaulting to false", "error", err)
		return false, nil
	}
	return decision, nil
}

// StreamAnswer starts the streamed answer. The fallback is only used when the
// primary fails before producing any fragment.
func (g *Gateway) StreamAnswer(ctx context.Context, req AnswerRequest) (*AnswerStream, error) {
	r, err := g.route(models.CapabilityAnswer)
	if err != nil {
		return nil, err
	}
	if cancelled(ctx) {
		return nil, ErrCancelled
	}
	user := answerUserPrompt(req)

	return NewAnswerStream(ctx, 32, func(ctx context.Context, emit func(string) error) error {
		sent := false
		run := func(t *target) error {
			started := time.Now()
			err := t.client.Stream(ctx, t.request(answerPrompt, user), func(fragment string) error {
				sent = true
				return emit(fragment)
			})
			err = classify(ctx, models.CapabilityAnswer, t.provider, err)
			metrics.ObserveProvider(models.CapabilityAnswer, t.provider, outcome(err), started)
			return err
		}

		err := run(&r.primary)
		if err == nil || IsCancellation(err) || sent || r.fallback == nil {
			return err
		}
		g.logger.Warn("answer stream failed before first fragment, trying fallback",
			"provider", r.primary.provider,
			"fallback", r.fallback.provider,
			"error", err)
		metrics.ProviderFallbacks.WithLabelValues(models.CapabilityAnswer).Inc()
		if ferr := run(r.fallback); ferr != nil {
			if IsCancellation(ferr) {
				return ErrCancelled
			}
			return errors.Join(err, ferr)
		}
		return nil
	}), nil
}

// FollowUp proposes count related queries from the queries used and the answer.
func (g *Gateway) FollowUp(ctx context.Context, queries []string, answer string, count int) (*models.QueryOptimization, error) {
	system := followUpPrompt(count)
	user := followUpUserPrompt(queries, answer)
	out, err := callRoute(ctx, g, models.CapabilityFollowUp, func(ctx context.Context, t *target) ([]string, error) {
		req := t.request(system, user)
		req.JSON = true
		raw, err := t.client.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		return decodeQueries(raw)
	})
	if err != nil {
		return nil, err
	}
	return &models.QueryOptimization{Queries: out}, nil
}

// Title returns a short session title, or the query itself when generation fails.
func (g *Gateway) Title(ctx context.Context, query string) string {
	title, err := callRoute(ctx, g, models.CapabilityTitle, func(ctx context.Context, t *target) (string, error) {
		return completeText(ctx, t, t.request(titlePrompt, query))
	})
	if err != nil {
		g.logger.Debug("title generation failed", "error", err)
		return query
	}
	title = strings.Trim(strings.TrimSpace(title), "\"'")
	if title == "" {
		return query
	}
	return title
}
