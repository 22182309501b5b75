// Package engine assembles the gateway, pipeline controller, session store and
// archive shared by the ask and serve commands.
package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dtnitsch/llm-web-search/models"
	"github.com/dtnitsch/llm-web-search/pkg/caching"
	"github.com/dtnitsch/llm-web-search/pkg/db"
	"github.com/dtnitsch/llm-web-search/pkg/gateway"
	"github.com/dtnitsch/llm-web-search/pkg/pipeline"
	"github.com/dtnitsch/llm-web-search/pkg/session"
)

// Engine owns every long-lived component of a running command.
type Engine struct {
	Gateway    *gateway.Gateway
	Controller *pipeline.Controller
	Store      *session.Store
	Archive    *db.DB

	cache  caching.Store
	logger *slog.Logger
}

// Options tweak how the engine is assembled.
type Options struct {
	// Titles asks the title capability to name each session.
	Titles bool
	// Gateway options, for tests and alternative search registries.
	GatewayOptions []gateway.Option
}

// Build wires the components from cfg. A *gateway.ConfigurationError is
// returned unwrapped so callers can map it to the configuration exit code.
func Build(cfg *models.Config, logger *slog.Logger, opts Options) (*Engine, error) {
	e := &Engine{logger: logger}

	cache, err := caching.New(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to open page cache: %w", err)
	}
	e.cache = cache

	gwOpts := opts.GatewayOptions
	if cache != nil {
		gwOpts = append([]gateway.Option{gateway.WithCache(cache)}, gwOpts...)
	}
	gw, err := gateway.New(cfg, logger, gwOpts...)
	if err != nil {
		e.closeCache()
		return nil, err
	}
	e.Gateway = gw
	e.Controller = pipeline.NewController(gw, cfg.Pipeline, logger)

	var storeOpts []session.Option
	if opts.Titles {
		storeOpts = append(storeOpts, session.WithTitler(gw))
	}
	if cfg.Archive.Enabled {
		archive, err := db.Open(cfg.Archive.Path)
		if err != nil {
			e.closeCache()
			return nil, fmt.Errorf("failed to open archive: %w", err)
		}
		e.Archive = archive
		storeOpts = append(storeOpts, session.WithArchiver(archive))
		logger.Debug("archive enabled", "path", archive.Path())
	}
	e.Store = session.New(e.Controller, logger, storeOpts...)
	return e, nil
}

// IsConfigurationError reports whether Build failed because of unusable configuration.
func IsConfigurationError(err error) bool {
	var cfgErr *gateway.ConfigurationError
	return errors.As(err, &cfgErr)
}

// Close stops running turns, then releases the archive and cache.
func (e *Engine) Close() error {
	e.Store.Close()
	var errs []error
	if e.Archive != nil {
		if err := e.Archive.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close archive: %w", err))
		}
	}
	if err := e.closeCache(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e *Engine) closeCache() error {
	c, ok := e.cache.(io.Closer)
	if !ok {
		return nil
	}
	if err := c.Close(); err != nil {
		return fmt.Errorf("failed to close page cache: %w", err)
	}
	return nil
}
