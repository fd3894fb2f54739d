package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/codemorph/internal/api"
	"github.com/dshills/codemorph/internal/config"
	"github.com/dshills/codemorph/internal/indexer"
	"github.com/dshills/codemorph/internal/logger"
	"github.com/dshills/codemorph/internal/mcp"
	"github.com/dshills/codemorph/internal/searcher"
	"github.com/dshills/codemorph/internal/storage"
	"github.com/dshills/codemorph/internal/workspace"
	"github.com/dshills/codemorph/pkg/types"
)

const (
	exitError  = 1
	exitConfig = 2
)

// setup resolves the repository root, loads its configuration and installs
// the default logger
func setup(cmd *cli.Command) (string, *config.Config, error) {
	root, err := workspace.ResolveRoot(cmd.String("root"))
	if err != nil {
		return "", nil, cli.Exit(err.Error(), exitConfig)
	}

	cfg, err := config.Load(cmd.String("config"), root)
	if err != nil {
		return "", nil, cli.Exit(fmt.Sprintf("failed to load config: %v", err), exitConfig)
	}
	if level := cmd.String("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if format := cmd.String("log-format"); format != "" {
		cfg.Log.Format = format
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return "", nil, cli.Exit(err.Error(), exitConfig)
	}
	logger.Init(logger.Config{
		Level:  level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	return root, cfg, nil
}

// exitCode maps fatal errors onto the process exit status
func exitCode(err error) error {
	if err == nil {
		return nil
	}
	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		return err
	}
	if errors.Is(err, types.ErrModelMismatch) {
		return cli.Exit(err.Error(), exitConfig)
	}
	return cli.Exit(err.Error(), exitError)
}

func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func runIndex(ctx context.Context, cmd *cli.Command) error {
	root, cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	cfg.Index.Exclude = append(cfg.Index.Exclude, cmd.StringSlice("exclude")...)

	ws, err := workspace.Open(root, cfg, true, logger.ForComponent("workspace"))
	if err != nil {
		return exitCode(err)
	}
	defer func() { _ = ws.Close() }()

	ctx, cancel := interruptible(ctx)
	defer cancel()

	stats, err := ws.Index(ctx)
	if err != nil {
		return exitCode(err)
	}
	printStatistics(os.Stdout, ws.Root, stats)
	return nil
}

func runSearch(ctx context.Context, cmd *cli.Command) error {
	root, cfg, err := setup(cmd)
	if err != nil {
		return err
	}

	query := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return cli.Exit("search: a query is required", exitError)
	}
	format, err := searcher.ParseFormat(cmd.String("format"))
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}
	var kinds []types.SymbolKind
	for _, name := range cmd.StringSlice("kind") {
		kind, err := types.ParseKind(name)
		if err != nil {
			return cli.Exit(err.Error(), exitConfig)
		}
		kinds = append(kinds, kind)
	}

	ws, err := workspace.Open(root, cfg, false, logger.ForComponent("workspace"))
	if errors.Is(err, workspace.ErrNotIndexed) {
		return cli.Exit(fmt.Sprintf("%s is not indexed; run 'codemorph index' first", root), exitError)
	}
	if err != nil {
		return exitCode(err)
	}
	defer func() { _ = ws.Close() }()

	ctx, cancel := interruptible(ctx)
	defer cancel()

	resp, err := ws.Search(ctx, query, int(cmd.Int("k")), kinds)
	if err != nil {
		return exitCode(err)
	}
	tty := !cmd.Bool("no-color") && searcher.IsTerminal(os.Stdout.Fd())
	return searcher.Write(os.Stdout, resp, format, ws.Root, tty)
}

func runStatus(ctx context.Context, cmd *cli.Command) error {
	root, cfg, err := setup(cmd)
	if err != nil {
		return err
	}

	ws, err := workspace.Open(root, cfg, false, logger.ForComponent("workspace"))
	if errors.Is(err, workspace.ErrNotIndexed) {
		fmt.Fprintf(os.Stdout, "%s is not indexed\n", root)
		return nil
	}
	if err != nil {
		return exitCode(err)
	}
	defer func() { _ = ws.Close() }()

	status, err := ws.Status(ctx)
	if err != nil {
		return exitCode(err)
	}
	printStatus(os.Stdout, status)
	return nil
}

func runWatch(ctx context.Context, cmd *cli.Command) error {
	root, cfg, err := setup(cmd)
	if err != nil {
		return err
	}

	ws, err := workspace.Open(root, cfg, true, logger.ForComponent("workspace"))
	if err != nil {
		return exitCode(err)
	}
	defer func() { _ = ws.Close() }()

	ctx, cancel := interruptible(ctx)
	defer cancel()

	log := logger.ForComponent("watch")
	log.Info("watching repository", slog.String("root", ws.Root))
	err = ws.Watch(ctx, func(stats *indexer.Statistics, err error) {
		if err != nil {
			log.Error("index run failed", slog.String("error", err.Error()))
			return
		}
		log.Info("index updated",
			slog.Int("indexed", stats.FilesIndexed),
			slog.Int("removed", stats.FilesRemoved),
			slog.Int("failed", stats.FilesFailed),
			slog.Int("symbols", stats.SymbolsIndexed),
			slog.Duration("duration", stats.Duration))
	})
	return exitCode(err)
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	root, cfg, err := setup(cmd)
	if err != nil {
		return err
	}

	serveMCP := cmd.Bool("mcp")
	serveHTTP := cmd.Bool("http")
	if !serveMCP && !serveHTTP {
		serveMCP = true
	}
	addr := cmd.String("addr")
	if addr == "" {
		addr = cfg.HTTP.Addr
	}

	log := logger.ForComponent("serve")
	pool := workspace.NewPool(cfg, log)
	defer func() {
		if err := pool.Close(); err != nil {
			log.Error("failed to close indexes", slog.String("error", err.Error()))
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	if serveMCP {
		server := mcp.NewServer(pool, root, logger.ForComponent("mcp"))
		g.Go(func() error {
			// The client closing stdin ends the whole process
			defer cancel()
			log.Info("MCP server ready, listening on stdio", slog.String("root", root))
			if err := server.Serve(gCtx, os.Stdin, os.Stdout); err != nil && gCtx.Err() == nil {
				return fmt.Errorf("MCP server error: %w", err)
			}
			return nil
		})
	}

	if serveHTTP {
		handler := api.NewHandlerTree(api.NewHandler(pool, root, logger.ForComponent("api")), logger.ForComponent("http"))
		g.Go(func() error {
			return api.Serve(gCtx, addr, handler, log)
		})
	}

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			log.Info("received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-gCtx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return exitCode(err)
	}
	log.Info("server stopped")
	return nil
}

func runVersion(_ context.Context, _ *cli.Command) error {
	fmt.Fprintf(os.Stdout, "codemorph %s\n", version)
	fmt.Fprintf(os.Stdout, "Build Time: %s\n", buildTime)
	fmt.Fprintf(os.Stdout, "Build Mode: %s\n", storage.BuildMode)
	fmt.Fprintf(os.Stdout, "SQLite Driver: %s\n", storage.DriverName)
	fmt.Fprintf(os.Stdout, "Schema Version: %s\n", storage.CurrentSchemaVersion)
	return nil
}
