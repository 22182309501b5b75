package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtnitsch/llm-web-search/models"
	"github.com/dtnitsch/llm-web-search/pkg/gateway"
)

func scriptedSearch(byQuery map[string][]models.SearchResult) func(context.Context, string, models.SearchKind) ([]models.SearchResult, error) {
	return func(_ context.Context, q string, _ models.SearchKind) ([]models.SearchResult, error) {
		r, ok := byQuery[q]
		if !ok {
			return nil, errors.New("unexpected query " + q)
		}
		return r, nil
	}
}

func urls(results []models.SearchResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.MediaURL())
	}
	return out
}

func TestAggregateDedupesAndCaps(t *testing.T) {
	caps := newFakeCaps()
	caps.search = scriptedSearch(map[string][]models.SearchResult{
		"boots 2024":   {webResult(1), webResult(2), webResult(3)},
		"boots review": {webResult(2), webResult(4)},
		"trail boots":  {webResult(3), webResult(5), webResult(6)},
	})
	var updates int
	a := NewAggregator(caps, 5, 6, false, discard)

	got, err := a.Aggregate(context.Background(), []string{"boots 2024", "boots review", "trail boots"}, models.KindWeb, "en", func([]models.SearchResult) {
		updates++
	})
	require.NoError(t, err)
	assert.Equal(t, urls([]models.SearchResult{webResult(1), webResult(2), webResult(3), webResult(4), webResult(5)}), urls(got))
	assert.Equal(t, 3, caps.count("search"), "every query is searched")
	assert.Equal(t, 3, updates)
}

func TestAggregateFewerUniqueThanCap(t *testing.T) {
	caps := newFakeCaps()
	caps.search = scriptedSearch(map[string][]models.SearchResult{
		"a": {webResult(1), webResult(2)},
		"b": {webResult(2), webResult(1)},
		"c": {webResult(3)},
	})
	got, err := NewAggregator(caps, 5, 6, false, discard).Aggregate(context.Background(), []string{"a", "b", "c"}, models.KindWeb, "", nil)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestAggregateNormalizesURLs(t *testing.T) {
	tracked := webResult(1)
	tracked.URL = "https://EXAMPLE.com/boots/1/?utm_source=news#reviews"

	caps := newFakeCaps()
	caps.search = scriptedSearch(map[string][]models.SearchResult{
		"a": {webResult(1)},
		"b": {tracked},
	})

	got, err := NewAggregator(caps, 5, 6, false, discard).Aggregate(context.Background(), []string{"a", "b"}, models.KindWeb, "", nil)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = NewAggregator(caps, 5, 6, true, discard).Aggregate(context.Background(), []string{"a", "b"}, models.KindWeb, "", nil)
	require.NoError(t, err)
	assert.Len(t, got, 2, "exact urls keep near duplicates")
}

func TestAggregateSkipsFailedQuery(t *testing.T) {
	caps := newFakeCaps()
	caps.search = func(_ context.Context, q string, _ models.SearchKind) ([]models.SearchResult, error) {
		if q == "bad" {
			return nil, &gateway.ProviderError{Provider: "brave", Op: "search", StatusCode: 500}
		}
		return []models.SearchResult{webResult(len(q))}, nil
	}
	got, err := NewAggregator(caps, 5, 6, false, discard).Aggregate(context.Background(), []string{"bad", "ok", "okay"}, models.KindWeb, "", nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestAggregateImageProbe(t *testing.T) {
	caps := newFakeCaps()
	caps.search = scriptedSearch(map[string][]models.SearchResult{
		"a": {imageResult(1), imageResult(2), imageResult(3)},
		"b": {imageResult(2), imageResult(4)},
	})
	caps.probe = func(_ context.Context, url string) error {
		if url == imageResult(2).ImageURL {
			return errors.New("404")
		}
		return nil
	}

	got, err := NewAggregator(caps, 5, 2, false, discard).Aggregate(context.Background(), []string{"a", "b"}, models.KindImage, "", nil)
	require.NoError(t, err)
	assert.Equal(t, urls([]models.SearchResult{imageResult(1), imageResult(3)}), urls(got))
	assert.Equal(t, 3, caps.count("probe"), "unreachable images are probed once")
}

func TestAggregateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	caps := newFakeCaps()
	caps.search = func(context.Context, string, models.SearchKind) ([]models.SearchResult, error) {
		cancel()
		return []models.SearchResult{webResult(1)}, nil
	}

	_, err := NewAggregator(caps, 5, 6, false, discard).Aggregate(ctx, []string{"a", "b", "c"}, models.KindWeb, "", nil)
	assert.ErrorIs(t, err, gateway.ErrCancelled)
	assert.Equal(t, 1, caps.count("search"))
}
