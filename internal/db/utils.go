package db

import (
	"fmt"
	"unicode/utf8"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/llm-web-search/internal/common"
	dbpkg "github.com/dtnitsch/llm-web-search/pkg/db"
)

// OpenArchive opens the archive named by --db, else the configured path.
func OpenArchive(c *cli.Context) (*dbpkg.DB, error) {
	path := c.String("db")
	if path == "" {
		cfg, _, err := common.LoadConfig(c)
		if err != nil {
			return nil, err
		}
		path = cfg.Archive.Path
	}
	database, err := dbpkg.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

// GetTurnIDOrLatest returns the turn ID from args, or the latest archived turn if not provided
func GetTurnIDOrLatest(c *cli.Context, database *dbpkg.DB) (string, error) {
	if c.NArg() > 0 {
		return c.Args().First(), nil
	}
	turns, err := database.ListTurns(1)
	if err != nil {
		return "", fmt.Errorf("failed to get latest turn: %w", err)
	}
	if len(turns) == 0 {
		return "", fmt.Errorf("no turns found. Run 'lws ask --archive \"...\"' first")
	}
	return turns[0].TurnID, nil
}

// truncate shortens s to n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}
