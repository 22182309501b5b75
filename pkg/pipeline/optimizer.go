package pipeline

import (
	"context"
	"log/slog"

	"github.com/dtnitsch/llm-web-search/models"
	"github.com/dtnitsch/llm-web-search/pkg/gateway"
)

const defaultQueryCount = 3

// Optimizer turns a raw query into refined search strings.
type Optimizer struct {
	caps       Capabilities
	webCount   int
	imageCount int
	logger     *slog.Logger
}

func NewOptimizer(caps Capabilities, webCount, imageCount int, logger *slog.Logger) *Optimizer {
	if webCount <= 0 {
		webCount = defaultQueryCount
	}
	if imageCount <= 0 {
		imageCount = defaultQueryCount
	}
	return &Optimizer{caps: caps, webCount: webCount, imageCount: imageCount, logger: logger}
}

// Optimize returns at most count trimmed, non-empty queries for kind, or nil when
// both providers failed. Cancellation is returned as gateway.ErrCancelled.
func (o *Optimizer) Optimize(ctx context.Context, query string, kind models.SearchKind) (*models.QueryOptimization, error) {
	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	count := o.webCount
	if kind == models.KindImage {
		count = o.imageCount
	}

	out, err := o.caps.OptimizeQuery(ctx, query, count, kind)
	if isCancelled(ctx, err) {
		return nil, gateway.ErrCancelled
	}
	if err != nil {
		o.logger.Warn("query optimization failed", "kind", kind, "error", err)
		return nil, nil
	}
	if out == nil {
		return nil, nil
	}
	queries := cleanQueries(out.Queries, count)
	if len(queries) == 0 {
		o.logger.Warn("query optimization returned no usable queries", "kind", kind)
		return nil, nil
	}
	o.logger.Debug("optimized query", "kind", kind, "queries", queries)
	return &models.QueryOptimization{Queries: queries}, nil
}
