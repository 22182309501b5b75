package common

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/llm-web-search/models"
)

// DefaultConfigFile is read when --config is not given and the file exists.
const DefaultConfigFile = "lws.yaml"

// ExitConfig is the exit code for unusable configuration.
const ExitConfig = 2

// ParseLevel maps a config log level to slog. Unknown values mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the JSON logger used by every command. quiet wins over verbose.
func NewLogger(w io.Writer, level string, quiet, verbose bool) *slog.Logger {
	logLevel := ParseLevel(level)
	if verbose {
		logLevel = slog.LevelDebug
	}
	if quiet {
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

// ConfigPath resolves the --config flag, falling back to DefaultConfigFile
// when it exists in the working directory.
func ConfigPath(c *cli.Context) string {
	if c.IsSet("config") {
		return c.String("config")
	}
	if _, err := os.Stat(DefaultConfigFile); err == nil {
		return DefaultConfigFile
	}
	return ""
}

// LoadConfig loads the configuration and builds the command logger. Failures
// are returned as cli exit errors with ExitConfig.
func LoadConfig(c *cli.Context) (*models.Config, *slog.Logger, error) {
	cfg, err := models.LoadConfig(ConfigPath(c))
	if err != nil {
		return nil, nil, cli.Exit(fmt.Sprintf("invalid configuration: %v", err), ExitConfig)
	}
	logger := NewLogger(os.Stderr, cfg.LogLevel, c.Bool("quiet"), c.Bool("verbose"))
	return cfg, logger, nil
}

// ConfigExit wraps err as a configuration exit error unless it already is one.
func ConfigExit(err error) error {
	var exit cli.ExitCoder
	if errors.As(err, &exit) {
		return err
	}
	return cli.Exit(err.Error(), ExitConfig)
}
