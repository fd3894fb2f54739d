// Package workspace ties the index of one repository together: its store
// under <root>/.morph/<model>/, the embedding cache, the indexer and the
// searcher. The CLI, the MCP server and the HTTP API all work through it.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dshills/codemorph/internal/config"
	"github.com/dshills/codemorph/internal/embedder"
	"github.com/dshills/codemorph/internal/indexer"
	"github.com/dshills/codemorph/internal/searcher"
	"github.com/dshills/codemorph/internal/storage"
	"github.com/dshills/codemorph/pkg/types"
)

// ErrNotIndexed is returned when a repository has no index for the configured model
var ErrNotIndexed = errors.New("repository not indexed")

// Workspace is an opened repository index
type Workspace struct {
	Root      string
	IndexPath string
	Config    *config.Config

	Store    *storage.SQLiteStorage
	Cache    *embedder.Cache
	Indexer  *indexer.Indexer
	Searcher *searcher.Searcher

	logger *slog.Logger
}

// Status describes an opened index
type Status struct {
	Root      string
	IndexPath string
	Model     string
	Indexing  bool
	Index     *storage.IndexStatus
	Cache     embedder.CacheStats
}

// ResolveRoot returns the absolute, symlink-free form of a repository root
func ResolveRoot(root string) (string, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("repository root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("repository root %s is not a directory", abs)
	}
	return abs, nil
}

// Open opens the index of root for the configured embedding provider.
// With create false a missing index is reported as ErrNotIndexed.
func Open(root string, cfg *config.Config, create bool, logger *slog.Logger) (*Workspace, error) {
	provider, err := embedder.New(cfg.Embedding.Options())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	ws, err := OpenWithProvider(root, cfg, provider, create, logger)
	if err != nil {
		_ = provider.Close()
		return nil, err
	}
	return ws, nil
}

// OpenWithProvider is Open with an explicit embedding provider
func OpenWithProvider(root string, cfg *config.Config, provider embedder.Embedder, create bool, logger *slog.Logger) (*Workspace, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := ResolveRoot(root)
	if err != nil {
		return nil, err
	}

	path := storage.IndexPath(abs, embedder.SanitizeModelID(provider.Model()))
	if !create {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no index at %s", ErrNotIndexed, path)
		}
	}
	store, err := storage.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	cache := embedder.NewCache(provider, store, embedder.CacheOptions{
		BatchSize:     cfg.Embedding.BatchSize,
		MaxTokens:     cfg.Index.MaxTokens,
		MemoryEntries: cfg.Embedding.MemoryEntries,
		Logger:        logger.With("component", "embedder"),
	})

	opts := cfg.Search.Options()
	opts.Logger = logger.With("component", "searcher")

	return &Workspace{
		Root:      abs,
		IndexPath: path,
		Config:    cfg,
		Store:     store,
		Cache:     cache,
		Indexer:   indexer.New(store, cache, logger.With("component", "indexer")),
		Searcher:  searcher.NewSearcher(store, cache, abs, opts),
		logger:    logger,
	}, nil
}

// Index runs one indexing pass over the repository
func (w *Workspace) Index(ctx context.Context) (*indexer.Statistics, error) {
	return w.Indexer.Index(ctx, w.Root, w.Config.Index.Indexer())
}

// Watch indexes the repository and keeps it up to date until ctx is done
func (w *Workspace) Watch(ctx context.Context, onIndex func(*indexer.Statistics, error)) error {
	return w.Indexer.Watch(ctx, w.Root, w.Config.Index.Indexer(), indexer.WatchOptions{
		Debounce: w.Config.Index.Debounce,
		OnIndex:  onIndex,
	})
}

// Search runs query. Zero k and empty kinds fall back to the configuration.
func (w *Workspace) Search(ctx context.Context, query string, k int, kinds []types.SymbolKind) (*searcher.SearchResponse, error) {
	if k <= 0 {
		k = w.Config.Search.K
	}
	if len(kinds) == 0 {
		kinds = w.Config.Search.SymbolKinds()
	}
	if timeout := w.Config.Search.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return w.Searcher.Search(ctx, searcher.SearchRequest{Query: query, K: k, Kinds: kinds})
}

// Status reports the state of the index
func (w *Workspace) Status(ctx context.Context) (*Status, error) {
	st, err := w.Store.Status(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		Root:      w.Root,
		IndexPath: w.IndexPath,
		Model:     w.Cache.Model(),
		Indexing:  w.Indexer.Indexing(),
		Index:     st,
		Cache:     w.Cache.Stats(),
	}, nil
}

// Close releases the provider and the store
func (w *Workspace) Close() error {
	return errors.Join(w.Cache.Close(), w.Store.Close())
}

// Pool keeps one Workspace per repository root open for long-running servers.
// It is safe for concurrent use.
type Pool struct {
	cfg         *config.Config
	logger      *slog.Logger
	newProvider func() (embedder.Embedder, error)

	mu   sync.Mutex
	open map[string]*Workspace
}

// NewPool creates a pool opening workspaces with cfg
func NewPool(cfg *config.Config, logger *slog.Logger) *Pool {
	return &Pool{
		cfg:    cfg,
		logger: logger,
		newProvider: func() (embedder.Embedder, error) {
			return embedder.New(cfg.Embedding.Options())
		},
		open: make(map[string]*Workspace),
	}
}

// NewPoolWithProvider creates a pool whose workspaces use providers from newProvider
func NewPoolWithProvider(cfg *config.Config, logger *slog.Logger, newProvider func() (embedder.Embedder, error)) *Pool {
	p := NewPool(cfg, logger)
	p.newProvider = newProvider
	return p
}

// Get returns the workspace of root, opening it on first use. With create
// false a repository without an index yields ErrNotIndexed.
func (p *Pool) Get(root string, create bool) (*Workspace, error) {
	abs, err := ResolveRoot(root)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if ws, ok := p.open[abs]; ok {
		return ws, nil
	}

	provider, err := p.newProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	ws, err := OpenWithProvider(abs, p.cfg, provider, create, p.logger)
	if err != nil {
		_ = provider.Close()
		return nil, err
	}
	p.open[abs] = ws
	return ws, nil
}

// Close closes every open workspace
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for root, ws := range p.open {
		errs = append(errs, ws.Close())
		delete(p.open, root)
	}
	return errors.Join(errs...)
}
