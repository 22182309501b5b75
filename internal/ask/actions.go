package ask

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/llm-web-search/internal/common"
	"github.com/dtnitsch/llm-web-search/internal/engine"
	"github.com/dtnitsch/llm-web-search/models"
	"github.com/dtnitsch/llm-web-search/pkg/session"
)

// ExitCancelled is returned when the user interrupts a turn.
const ExitCancelled = 130

func AskAction(c *cli.Context) error {
	cfg, logger, err := common.LoadConfig(c)
	if err != nil {
		return err
	}
	if err := ApplyFlags(c, cfg); err != nil {
		return common.ConfigExit(err)
	}

	format := strings.ToLower(c.String("format"))
	if !ValidFormat(format) {
		return fmt.Errorf("unknown format: %s (use: markdown, json, or yaml)", format)
	}

	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return fmt.Errorf("question required\nUsage: lws ask \"<question>\"\nExample: lws ask \"best waterproof hiking boots\"")
	}

	e, err := engine.Build(cfg, logger, engine.Options{Titles: cfg.Archive.Enabled})
	if err != nil {
		if engine.IsConfigurationError(err) {
			return common.ConfigExit(err)
		}
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		if err := e.Close(); err != nil {
			logger.Warn("shutdown failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var progressOut io.Writer = os.Stderr
	if c.Bool("quiet") {
		progressOut = io.Discard
	}
	progress := NewProgress(progressOut)
	if format == FormatMarkdown {
		progress.StreamAnswer(os.Stdout)
	}

	turn, err := Ask(ctx, e.Store, query, progress)
	if err != nil {
		return err
	}
	logger.Info("turn settled", "turn_id", turn.ID, "status", turn.Status)

	if err := Render(os.Stdout, format, turn, progress.Streamed()); err != nil {
		return fmt.Errorf("failed to write answer: %w", err)
	}

	switch turn.Status {
	case models.TurnCancelled:
		return cli.Exit("turn cancelled", ExitCancelled)
	case models.TurnFailed:
		return fmt.Errorf("turn failed: %s", turn.Error)
	}
	return nil
}

// ApplyFlags overrides configuration values with command flags and revalidates.
func ApplyFlags(c *cli.Context, cfg *models.Config) error {
	if c.IsSet("workers") {
		cfg.Pipeline.Workers = c.Int("workers")
	}
	if c.Bool("no-images") {
		cfg.Pipeline.ImageSearch = false
	}
	if c.IsSet("archive") {
		cfg.Archive.Enabled = c.Bool("archive")
	}
	if c.IsSet("db") {
		cfg.Archive.Enabled = true
		cfg.Archive.Path = c.String("db")
	}
	return cfg.Validate()
}

// Ask runs one turn in a fresh session and reports progress until it settles.
// Cancelling ctx cancels the turn; the settled (cancelled) turn is still returned.
func Ask(ctx context.Context, store *session.Store, query string, progress *Progress) (models.AssistantTurn, error) {
	sess := store.CreateSession()
	turn, err := store.Submit(sess.ID, query)
	if err != nil {
		return models.AssistantTurn{}, fmt.Errorf("failed to start turn: %w", err)
	}

	updates, release, err := store.Subscribe(turn.ID)
	if err != nil {
		return models.AssistantTurn{}, fmt.Errorf("failed to follow turn: %w", err)
	}
	defer release()

	interrupted := ctx.Done()
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				final, err := store.Turn(turn.ID)
				if err != nil {
					return models.AssistantTurn{}, err
				}
				progress.Update(final)
				return final, nil
			}
			progress.Update(snap)
		case <-interrupted:
			interrupted = nil
			if _, err := store.Cancel(sess.ID); err != nil {
				return models.AssistantTurn{}, fmt.Errorf("failed to cancel turn: %w", err)
			}
		}
	}
}
