package pipeline

import (
	"context"
	"log/slog"

	"github.com/dtnitsch/llm-web-search/pkg/gateway"
)

const defaultFollowUpCount = 5

// FollowUpGenerator proposes related queries once the answer is complete.
type FollowUpGenerator struct {
	caps   Capabilities
	count  int
	logger *slog.Logger
}

func NewFollowUpGenerator(caps Capabilities, count int, logger *slog.Logger) *FollowUpGenerator {
	if count <= 0 {
		count = defaultFollowUpCount
	}
	return &FollowUpGenerator{caps: caps, count: count, logger: logger}
}

// Generate returns up to count follow-up queries. Provider failure yields nil
// with no error; only cancellation is returned.
func (f *FollowUpGenerator) Generate(ctx context.Context, queries []string, answer string) ([]string, error) {
	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	out, err := f.caps.FollowUp(ctx, queries, answer, f.count)
	if isCancelled(ctx, err) {
		return nil, gateway.ErrCancelled
	}
	if err != nil {
		f.logger.Warn("follow-up generation failed", "error", err)
		return nil, nil
	}
	if out == nil {
		return nil, nil
	}
	followUps := cleanQueries(out.Queries, f.count)
	if len(followUps) == 0 {
		return nil, nil
	}
	return followUps, nil
}
