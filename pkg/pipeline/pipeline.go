// Package pipeline runs one search turn: query optimization, search, content
// processing, answer synthesis and follow-up generation.
package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/dtnitsch/llm-web-search/models"
	"github.com/dtnitsch/llm-web-search/pkg/gateway"
)

// Capabilities is the provider surface the pipeline depends on. *gateway.Gateway
// implements it.
type Capabilities interface {
	OptimizeQuery(ctx context.Context, query string, count int, kind models.SearchKind) (*models.QueryOptimization, error)
	Search(ctx context.Context, query string, kind models.SearchKind, lang string) ([]models.SearchResult, error)
	FetchText(ctx context.Context, url string) (string, error)
	FetchImageBytes(ctx context.Context, url string) ([]byte, string, error)
	ProbeImage(ctx context.Context, url string) error
	Summarize(ctx context.Context, req gateway.SummarizeRequest) (string, error)
	DescribeImage(ctx context.Context, title string, data []byte, mime string) (string, error)
	Decide(ctx context.Context, query, constraint string) (bool, error)
	StreamAnswer(ctx context.Context, req gateway.AnswerRequest) (*gateway.AnswerStream, error)
	FollowUp(ctx context.Context, queries []string, answer string, count int) (*models.QueryOptimization, error)
}

var _ Capabilities = (*gateway.Gateway)(nil)

// Emitter receives partial turn updates. It is called from several goroutines
// and must be safe for concurrent use.
type Emitter func(models.TurnPatch)

// checkpoint returns gateway.ErrCancelled once the turn context is cancelled.
func checkpoint(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return gateway.ErrCancelled
	}
	return nil
}

// isCancelled folds a stage error and the context state into one answer.
func isCancelled(ctx context.Context, err error) bool {
	return gateway.IsCancellation(err) || checkpoint(ctx) != nil
}

// cleanQueries trims entries, drops empty ones and keeps at most limit.
func cleanQueries(queries []string, limit int) []string {
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		if q = strings.TrimSpace(q); q == "" {
			continue
		}
		out = append(out, q)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
