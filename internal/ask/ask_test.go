package ask

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/dtnitsch/llm-web-search/models"
	"github.com/dtnitsch/llm-web-search/pkg/pipeline"
	"github.com/dtnitsch/llm-web-search/pkg/session"
)

var discard = slog.New(slog.DiscardHandler)

type runnerFunc func(ctx context.Context, turnID, query string, emit pipeline.Emitter) error

func (f runnerFunc) Run(ctx context.Context, turnID, query string, emit pipeline.Emitter) error {
	return f(ctx, turnID, query, emit)
}

func source(n int, kind models.SearchKind, status models.ProcessingStatus) models.SourceStatus {
	s := models.SourceStatus{
		Status: status,
		Source: models.Source{
			SourceNumber: n,
			Kind:         kind,
			Title:        "Boots review",
			URL:          "https://example.com/boots",
			Summary:      "waterproof",
		},
	}
	if status == models.StatusError {
		s.Error = "failed to fetch page: timeout"
	}
	if kind == models.KindImage {
		s.Source.ImageURL = "https://img.example.com/1.png"
	}
	return s
}

func completedTurn() models.AssistantTurn {
	return models.AssistantTurn{
		ID:                    "turn-1",
		Query:                 "best hiking boots",
		SearchQueries:         []string{"hiking boots 2026"},
		FinalAnswer:           "Boots are great [1](https://example.com/boots).",
		FollowUpSearchQueries: []string{"waterproof boots"},
		ProcessedSearchResults: []models.SourceStatus{
			source(1, models.KindWeb, models.StatusSuccess),
			source(2, models.KindWeb, models.StatusError),
		},
		ProcessedImageSearchResults: []models.SourceStatus{source(1, models.KindImage, models.StatusSuccess)},
		Status:                      models.TurnCompleted,
	}
}

func TestAsk_Completes(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, turnID, query string, emit pipeline.Emitter) error {
		emit(models.TurnPatch{SearchQueries: []string{query + " review"}, DoneSearchQueries: true})
		emit(models.TurnPatch{DoneSearch: true, DoneImageSearch: true, DoneProcessingImages: true})
		emit(models.TurnPatch{WebSource: ptr(source(1, models.KindWeb, models.StatusSuccess))})
		emit(models.TurnPatch{DoneProcessingSearch: true})
		emit(models.TurnPatch{AnswerDelta: "Boots "})
		emit(models.TurnPatch{AnswerDelta: "are great."})
		emit(models.TurnPatch{DoneAnswer: true, FollowUpSearchQueries: []string{"boot care"}})
		return nil
	})
	store := session.New(runner, discard)
	defer store.Close()

	var log, answer bytes.Buffer
	progress := NewProgress(&log)
	progress.StreamAnswer(&answer)

	turn, err := Ask(context.Background(), store, "hiking boots", progress)
	require.NoError(t, err)
	assert.Equal(t, models.TurnCompleted, turn.Status)
	assert.Equal(t, "Boots are great.", turn.FinalAnswer)
	assert.Equal(t, "Boots are great.", answer.String())
	assert.True(t, progress.Streamed())
	assert.Contains(t, log.String(), "Searching: hiking boots review")
	assert.Contains(t, log.String(), "[1] read https://example.com/boots")
}

func TestAsk_CancelledByContext(t *testing.T) {
	started := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, turnID, query string, emit pipeline.Emitter) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	store := session.New(runner, discard)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	done := make(chan models.AssistantTurn, 1)
	go func() {
		turn, err := Ask(ctx, store, "hiking boots", NewProgress(&bytes.Buffer{}))
		assert.NoError(t, err)
		done <- turn
	}()

	select {
	case turn := <-done:
		assert.Equal(t, models.TurnCancelled, turn.Status)
		assert.False(t, turn.IsDoneGeneratingFinalAnswer)
	case <-time.After(5 * time.Second):
		t.Fatal("Ask did not return after cancellation")
	}
}

func TestAsk_RejectsEmptyQuery(t *testing.T) {
	store := session.New(runnerFunc(func(context.Context, string, string, pipeline.Emitter) error { return nil }), discard)
	defer store.Close()

	_, err := Ask(context.Background(), store, "   ", NewProgress(&bytes.Buffer{}))
	require.Error(t, err)
}

func TestProgress_ReportsOnce(t *testing.T) {
	var log bytes.Buffer
	p := NewProgress(&log)
	turn := completedTurn()
	turn.IsDoneGeneratingSearchQueries = true
	turn.IsDoneProcessingSearchResults = true

	p.Update(turn)
	p.Update(turn)

	out := log.String()
	assert.Equal(t, 1, strings.Count(out, "Searching:"))
	assert.Equal(t, 1, strings.Count(out, "[1] read"))
	assert.Equal(t, 1, strings.Count(out, "[2] failed"))
	assert.Contains(t, out, "Read 1 of 2 pages")
	assert.False(t, p.Streamed())
}

func TestRender_Markdown(t *testing.T) {
	var out bytes.Buffer
	turn := completedTurn()
	turn.InvalidCitations = []int{7}
	require.NoError(t, Render(&out, FormatMarkdown, turn, false))

	text := out.String()
	assert.True(t, strings.HasPrefix(text, turn.FinalAnswer))
	assert.Contains(t, text, "1. [Boots review](https://example.com/boots)")
	assert.NotContains(t, text, "2. [")
	assert.Contains(t, text, "## Images")
	assert.Contains(t, text, "- waterproof boots")
	assert.Contains(t, text, "Unverified citations: [7]")
}

func TestRender_MarkdownStreamedSkipsAnswer(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Render(&out, FormatMarkdown, completedTurn(), true))
	assert.NotContains(t, out.String(), "Boots are great")
	assert.Contains(t, out.String(), "## Sources")
}

func TestRender_Structured(t *testing.T) {
	turn := completedTurn()

	var jsonOut bytes.Buffer
	require.NoError(t, Render(&jsonOut, FormatJSON, turn, false))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(jsonOut.Bytes(), &decoded))
	assert.Equal(t, turn.FinalAnswer, decoded["finalAnswer"])
	assert.Equal(t, "completed", decoded["status"])

	var yamlOut bytes.Buffer
	require.NoError(t, Render(&yamlOut, FormatYAML, turn, false))
	var fromYAML map[string]any
	require.NoError(t, yaml.Unmarshal(yamlOut.Bytes(), &fromYAML))
	assert.Equal(t, turn.Query, fromYAML["query"])
}

func TestValidFormat(t *testing.T) {
	assert.True(t, ValidFormat(FormatMarkdown))
	assert.True(t, ValidFormat(FormatYAML))
	assert.False(t, ValidFormat("xml"))
}

func TestApplyFlags(t *testing.T) {
	run := func(cfg *models.Config, args ...string) error {
		app := &cli.App{
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "workers"},
				&cli.BoolFlag{Name: "no-images"},
				&cli.BoolFlag{Name: "archive"},
				&cli.StringFlag{Name: "db"},
			},
			Action: func(c *cli.Context) error { return ApplyFlags(c, cfg) },
		}
		return app.Run(append([]string{"lws"}, args...))
	}

	cfg := models.DefaultConfig()
	require.NoError(t, run(cfg, "--workers", "2", "--no-images", "--db", "/tmp/h.db"))
	assert.Equal(t, 2, cfg.Pipeline.Workers)
	assert.False(t, cfg.Pipeline.ImageSearch)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, "/tmp/h.db", cfg.Archive.Path)

	assert.Error(t, run(models.DefaultConfig(), "--workers", "0"))
}

func ptr[T any](v T) *T { return &v }
