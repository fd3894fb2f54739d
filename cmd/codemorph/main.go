package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "codemorph",
		Usage:   "Hybrid semantic and lexical code search over tree-sitter symbols",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (YAML or TOML)",
				Sources: cli.EnvVars("CODEMORPH_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Repository root",
				Value:   ".",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format (text, json)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "index",
				Usage:  "Index the repository, skipping unchanged files",
				Action: runIndex,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "exclude",
						Usage: "Additional exclude glob (repeatable)",
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Search the index",
				ArgsUsage: "QUERY",
				Action:    runSearch,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "k",
						Aliases: []string{"n"},
						Usage:   "Maximum number of results (default from config)",
					},
					&cli.StringSliceFlag{
						Name:  "kind",
						Usage: "Symbol kind to search: module, class, function, method, block (repeatable)",
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format: markdown, json, text",
						Value:   "markdown",
					},
					&cli.BoolFlag{
						Name:  "no-color",
						Usage: "Disable terminal rendering",
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Show index statistics and the last run",
				Action: runStatus,
			},
			{
				Name:   "watch",
				Usage:  "Index, then re-index on file changes until interrupted",
				Action: runWatch,
			},
			{
				Name:   "serve",
				Usage:  "Serve the index over MCP (stdio) and/or HTTP",
				Action: runServe,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "mcp",
						Usage: "Serve the MCP protocol on stdin/stdout (default when no transport is chosen)",
					},
					&cli.BoolFlag{
						Name:  "http",
						Usage: "Serve the HTTP API",
					},
					&cli.StringFlag{
						Name:  "addr",
						Usage: "HTTP listen address (default from config)",
					},
				},
			},
			{
				Name:   "version",
				Usage:  "Print version and build information",
				Action: runVersion,
			},
		},
	}
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		slog.Error("codemorph failed", slog.String("error", err.Error()))
		var exit cli.ExitCoder
		if errors.As(err, &exit) {
			os.Exit(exit.ExitCode())
		}
		os.Exit(1)
	}
}
