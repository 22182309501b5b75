package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/llm-web-search/internal/ask"
	historydb "github.com/dtnitsch/llm-web-search/internal/db"
	"github.com/dtnitsch/llm-web-search/internal/serve"
)

func main() {
	app := &cli.App{
		Name:  "lws",
		Usage: "Answer questions from live web and image search with cited sources",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file (default: lws.yaml when present)",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Only log errors and hide progress",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log at debug level",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "ask",
				Usage:     "Run one search turn and print the cited answer",
				ArgsUsage: "<question>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Value:   ask.FormatMarkdown,
						Usage:   "Output format: markdown, json, or yaml",
					},
					&cli.IntFlag{
						Name:    "workers",
						Aliases: []string{"w"},
						Usage:   "Concurrent page and image processors",
					},
					&cli.BoolFlag{
						Name:  "no-images",
						Usage: "Skip the image search sub-pipeline",
					},
					&cli.BoolFlag{
						Name:  "archive",
						Usage: "Save the finished turn to the history database",
					},
					&cli.StringFlag{
						Name:  "db",
						Usage: "History database path (implies --archive)",
					},
				},
				Action: ask.AskAction,
			},
			{
				Name:  "serve",
				Usage: "Serve the session API with live turn events",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address (default from config, :8080)",
					},
					&cli.BoolFlag{
						Name:  "archive",
						Usage: "Save finished turns to the history database",
					},
					&cli.StringFlag{
						Name:  "db",
						Usage: "History database path (implies --archive)",
					},
				},
				Action: serve.ServeAction,
			},
			{
				Name:   "history",
				Usage:  "Browse archived turns",
				Action: historydb.ListAction,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "db", Usage: "History database path"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "Maximum turns to list"},
				},
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List archived turns, newest first",
						Action: historydb.ListAction,
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "Maximum turns to list"},
						},
					},
					{
						Name:      "show",
						Usage:     "Show one turn (latest when no id is given)",
						ArgsUsage: "[turn-id]",
						Action:    historydb.ShowAction,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "text", Usage: "text, markdown, json, or yaml"},
						},
					},
					{
						Name:   "query",
						Usage:  "Filter archived turns",
						Action: historydb.QueryAction,
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "today", Usage: "Only turns started today"},
							&cli.BoolFlag{Name: "failed", Usage: "Only failed turns"},
							&cli.StringFlag{Name: "query", Usage: "Substring of the question"},
							&cli.StringFlag{Name: "domain", Usage: "Turns citing this domain"},
							&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Maximum turns to list"},
						},
					},
					{
						Name:   "domains",
						Usage:  "Show the most used source domains",
						Action: historydb.DomainsAction,
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "Maximum domains to list"},
						},
					},
					{
						Name:      "source",
						Usage:     "Show the last processing outcome of a source URL",
						ArgsUsage: "<url>",
						Action:    historydb.SourceAction,
					},
					{
						Name:      "delete",
						Usage:     "Delete an archived session and its turns",
						ArgsUsage: "<session-id>",
						Action:    historydb.DeleteAction,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
