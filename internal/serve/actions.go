package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/llm-web-search/internal/common"
	"github.com/dtnitsch/llm-web-search/internal/engine"
)

func ServeAction(c *cli.Context) error {
	cfg, logger, err := common.LoadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("addr") {
		cfg.Server.Addr = c.String("addr")
	}
	if c.IsSet("archive") {
		cfg.Archive.Enabled = c.Bool("archive")
	}
	if c.IsSet("db") {
		cfg.Archive.Enabled = true
		cfg.Archive.Path = c.String("db")
	}

	e, err := engine.Build(cfg, logger, engine.Options{Titles: true})
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

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           NewServer(e.Store, logger, cfg.Server.Heartbeat).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	// Closing the store settles every turn, which ends open event streams.
	e.Store.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("server stopped")
	return nil
}
