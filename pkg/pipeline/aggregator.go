package pipeline

import (
	"context"
	"log/slog"
	"slices"

	"github.com/dtnitsch/llm-web-search/models"
	"github.com/dtnitsch/llm-web-search/pkg/gateway"
)

// Aggregator searches every optimized query in order and builds the deduplicated,
// capped result set.
type Aggregator struct {
	caps     Capabilities
	webCap   int
	imageCap int
	exact    bool
	logger   *slog.Logger
}

func NewAggregator(caps Capabilities, webCap, imageCap int, exactURLs bool, logger *slog.Logger) *Aggregator {
	return &Aggregator{caps: caps, webCap: webCap, imageCap: imageCap, exact: exactURLs, logger: logger}
}

// Aggregate returns results ordered by query order, then provider rank. Every
// query is searched even once the cap is reached; a failed search is skipped.
// Image candidates must pass a reachability probe and failures do not count
// against the cap. onUpdate receives the set after each query.
func (a *Aggregator) Aggregate(ctx context.Context, queries []string, kind models.SearchKind, lang string, onUpdate func([]models.SearchResult)) ([]models.SearchResult, error) {
	limit := a.webCap
	if kind == models.KindImage {
		limit = a.imageCap
	}
	accepted := make([]models.SearchResult, 0, limit)
	seen := make(map[string]bool)
	unreachable := make(map[string]bool)

	for _, q := range queries {
		if err := checkpoint(ctx); err != nil {
			return accepted, err
		}
		results, err := a.caps.Search(ctx, q, kind, lang)
		if isCancelled(ctx, err) {
			return accepted, gateway.ErrCancelled
		}
		if err != nil {
			a.logger.Warn("search failed, skipping query", "kind", kind, "query", q, "error", err)
			continue
		}

		for _, r := range results {
			if len(accepted) >= limit {
				break
			}
			key := r.IdentityKey(a.exact)
			if key == "" || seen[key] || unreachable[key] {
				continue
			}
			if kind == models.KindImage {
				if err := a.caps.ProbeImage(ctx, r.MediaURL()); err != nil {
					if isCancelled(ctx, err) {
						return accepted, gateway.ErrCancelled
					}
					a.logger.Debug("image probe failed", "url", r.MediaURL(), "error", err)
					unreachable[key] = true
					continue
				}
			}
			seen[key] = true
			accepted = append(accepted, r)
		}

		if onUpdate != nil {
			onUpdate(slices.Clone(accepted))
		}
	}
	return accepted, nil
}
