package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/codemorph/internal/chunker"
	"github.com/dshills/codemorph/internal/embedder"
	"github.com/dshills/codemorph/internal/extractor"
	"github.com/dshills/codemorph/internal/parser"
	"github.com/dshills/codemorph/internal/storage"
	"github.com/dshills/codemorph/pkg/types"
)

// ErrIndexInProgress is returned when another run holds the indexer
var ErrIndexInProgress = errors.New("indexing already in progress")

// Indexer coordinates the indexing pipeline: discover -> parse -> extract -> embed -> store
type Indexer struct {
	parser    *parser.Parser
	extractor *extractor.Extractor
	store     storage.Store
	cache     *embedder.Cache
	logger    *slog.Logger
	lock      IndexLock
}

// Config contains configuration for the indexer
type Config struct {
	Workers      int      // Number of concurrent workers (default: runtime.NumCPU())
	MaxFileBytes int64    // Files above this size are skipped (default: 1 MiB)
	MaxTokens    int      // Token budget of one embedding document
	Exclude      []string // doublestar globs over repo-relative paths
	Languages    []string // restrict indexing to these languages
}

// Statistics contains statistics about the indexing operation
type Statistics struct {
	RunID             string
	FilesDiscovered   int
	FilesIndexed      int
	FilesUnchanged    int
	FilesUnsupported  int
	FilesSkipped      int // over the size limit
	FilesFailed       int
	FilesStale        int // failed to parse, previous symbols kept
	FilesRemoved      int
	SymbolsIndexed    int
	EmbeddingFailures int
	ParseErrors       []string
	ErrorMessages     []string
	Interrupted       []string // earlier runs that never finished
	Duration          time.Duration
}

// New creates a new Indexer instance. A nil logger uses slog.Default().
func New(store storage.Store, cache *embedder.Cache, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		parser:    parser.New(),
		extractor: extractor.New(),
		store:     store,
		cache:     cache,
		logger:    logger,
	}
}

// Indexing reports whether a run is in progress
func (idx *Indexer) Indexing() bool {
	return idx.lock.Held()
}

// counters are shared by the workers of one run
type counters struct {
	indexed     atomic.Int32
	unchanged   atomic.Int32
	unsupported atomic.Int32
	failed      atomic.Int32
	symbols     atomic.Int32
	embedFailed atomic.Int32
	stale       atomic.Int32

	mu          sync.Mutex
	parseErrors []string
	messages    []string
}

func (c *counters) parseError(msg string) {
	c.failed.Add(1)
	c.mu.Lock()
	c.parseErrors = append(c.parseErrors, msg)
	c.mu.Unlock()
}

func (c *counters) fail(path string, err error) {
	c.failed.Add(1)
	c.mu.Lock()
	c.messages = append(c.messages, fmt.Sprintf("%s: %v", path, err))
	c.mu.Unlock()
}

// Index brings the store in line with the repository at root. Each file is
// committed on its own, so a cancelled run keeps its progress and the next
// run skips what was already committed.
func (idx *Indexer) Index(ctx context.Context, root string, config *Config) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexInProgress
	}
	defer idx.lock.Release()

	if config == nil {
		config = &Config{}
	}
	workers := config.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	startTime := time.Now()
	if err := idx.store.CheckModel(ctx, idx.cache.Model(), idx.cache.Dimension()); err != nil {
		return nil, err
	}

	run, err := idx.store.BeginRun(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("failed to begin run: %w", err)
	}
	for _, id := range run.Interrupted {
		idx.logger.Warn("previous run was interrupted", "run_id", id)
	}

	stats := &Statistics{
		RunID:         run.ID,
		ParseErrors:   make([]string, 0),
		ErrorMessages: make([]string, 0),
		Interrupted:   run.Interrupted,
	}
	runErr := idx.index(ctx, root, config, workers, run, stats)
	stats.Duration = time.Since(startTime)

	switch {
	case runErr == nil:
		run.Status = storage.RunCompleted
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		run.Status = storage.RunCancelled
		run.Error = runErr.Error()
	default:
		run.Status = storage.RunFailed
		run.Error = runErr.Error()
	}
	stats.toRun(run)
	if err := idx.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		idx.logger.Error("failed to record run", "run_id", run.ID, "error", err)
	}

	idx.logger.Info("index run finished",
		"run_id", run.ID,
		"status", run.Status,
		"indexed", stats.FilesIndexed,
		"unchanged", stats.FilesUnchanged,
		"removed", stats.FilesRemoved,
		"parse_errors", len(stats.ParseErrors),
		"stale", stats.FilesStale,
		"embedding_failures", stats.EmbeddingFailures,
		"duration", stats.Duration)

	if runErr != nil {
		return stats, runErr
	}
	return stats, nil
}

func (idx *Indexer) index(ctx context.Context, root string, config *Config, workers int,
	run *storage.Run, stats *Statistics) error {

	discovery, err := Discover(root, DiscoverOptions{
		Exclude:      config.Exclude,
		MaxFileBytes: config.MaxFileBytes,
		Languages:    config.Languages,
	})
	if err != nil {
		return fmt.Errorf("failed to discover files: %w", err)
	}
	stats.FilesDiscovered = len(discovery.Files)
	stats.FilesSkipped = len(discovery.TooLarge)
	stats.FilesUnsupported = len(discovery.Unsupported)
	for _, path := range discovery.TooLarge {
		idx.logger.Debug("skipping large file", "path", path)
	}

	removed, err := idx.removeMissing(ctx, discovery.Files)
	stats.FilesRemoved = removed
	if err != nil {
		return err
	}

	run.FilesTotal = len(discovery.Files)
	if err := idx.store.UpdateRun(ctx, run); err != nil {
		return err
	}

	documents := chunker.New(config.MaxTokens)
	c := &counters{}
	err = idx.indexFiles(ctx, root, discovery.Files, workers, documents, c)

	stats.FilesIndexed = int(c.indexed.Load())
	stats.FilesUnchanged = int(c.unchanged.Load())
	stats.FilesUnsupported += int(c.unsupported.Load())
	stats.FilesFailed = int(c.failed.Load())
	stats.SymbolsIndexed = int(c.symbols.Load())
	stats.EmbeddingFailures = int(c.embedFailed.Load())
	stats.FilesStale = int(c.stale.Load())
	stats.ParseErrors = append(stats.ParseErrors, c.parseErrors...)
	stats.ErrorMessages = append(stats.ErrorMessages, c.messages...)
	sort.Strings(stats.ParseErrors)
	sort.Strings(stats.ErrorMessages)
	return err
}

// removeMissing drops files that are stored but no longer discovered
func (idx *Indexer) removeMissing(ctx context.Context, files []FileEntry) (int, error) {
	stored, err := idx.store.ListFiles(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list indexed files: %w", err)
	}
	present := make(map[string]struct{}, len(files))
	for _, f := range files {
		present[f.Path] = struct{}{}
	}

	removed := 0
	for _, f := range stored {
		if _, ok := present[f.Path]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := idx.store.RemoveByFile(ctx, f.Path); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", f.Path, err)
		}
		idx.logger.Debug("removed file", "path", f.Path)
		removed++
	}
	return removed, nil
}

// indexFiles indexes files concurrently. Only store-level errors and
// cancellation stop the group; everything else is counted.
func (idx *Indexer) indexFiles(ctx context.Context, root string, files []FileEntry, workers int,
	documents *chunker.Chunker, c *counters) error {

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, entry := range files {
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			err := idx.indexFile(gctx, root, entry, documents, c)
			if err == nil {
				return nil
			}
			if fatal(err) {
				return err
			}
			c.fail(entry.Path, err)
			idx.logger.Warn("failed to index file", "path", entry.Path, "error", err)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// fatal reports errors that must end the run
func fatal(err error) bool {
	return errors.Is(err, types.ErrStoreCorruption) ||
		errors.Is(err, types.ErrModelMismatch) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// indexFile indexes a single file
func (idx *Indexer) indexFile(ctx context.Context, root string, entry FileEntry,
	documents *chunker.Chunker, c *counters) error {

	content, info, err := readFile(filepath.Join(root, filepath.FromSlash(entry.Path)))
	if err != nil {
		return err
	}
	hash := contentHash(content)

	existing, err := idx.store.GetFile(ctx, entry.Path)
	switch {
	case err == nil && existing.ContentHash == hash:
		c.unchanged.Add(1)
		return nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return err
	}
	stored := err == nil

	file := types.SourceFile{
		Path:        entry.Path,
		ContentHash: hash,
		Language:    entry.Language,
		SizeBytes:   info.Size(),
		ModTime:     info.ModTime(),
	}

	tree, err := idx.parser.Parse(ctx, entry.Path, content, entry.Language)
	if err != nil {
		var parseErr *types.ParseError
		switch {
		case errors.As(err, &parseErr):
			c.parseError(parseErr.Error())
			idx.logger.Warn("parse error", "path", entry.Path, "line", parseErr.Line, "column", parseErr.Column)
			if stored {
				c.stale.Add(1)
				idx.logger.Info("keeping symbols from last successful parse", "path", entry.Path)
			}
			return nil
		case errors.Is(err, types.ErrUnsupportedLanguage):
			c.unsupported.Add(1)
			return nil
		}
		return err
	}
	result, err := idx.extractor.Extract(tree, file)
	tree.Close()
	if err != nil {
		return fmt.Errorf("failed to extract symbols: %w", err)
	}

	docs := documents.Documents(result, content)
	texts := make([]string, len(docs))
	for i := range docs {
		texts[i] = docs[i].Text
	}
	embeddings := idx.cache.GetOrComputeBatch(ctx, texts)

	records := make([]storage.Record, len(result.Symbols))
	missing := 0
	for i := range result.Symbols {
		records[i] = storage.Record{Symbol: result.Symbols[i]}
		res := embeddings[i]
		if res.Err != nil {
			if errors.Is(res.Err, types.ErrStoreCorruption) {
				return res.Err
			}
			c.embedFailed.Add(1)
			missing++
			continue
		}
		records[i].EmbeddingHash = res.Hash
		records[i].Vector = res.Vector
	}

	// Interrupted embedding must not be committed as unavailable
	if err := ctx.Err(); err != nil {
		return err
	}

	// A file missing vectors never matches its content hash, so the next run retries it
	if missing > 0 {
		file.ContentHash = pendingContentHash
	}
	file.LastIndexedAt = time.Now().UTC()
	diff, err := idx.store.ReplaceFile(ctx, storage.FileUpdate{
		File:    file,
		Records: records,
		Edges:   result.Edges,
	})
	if err != nil {
		return fmt.Errorf("failed to store file: %w", err)
	}

	c.indexed.Add(1)
	c.symbols.Add(int32(len(records)))
	idx.logger.Debug("indexed file",
		"path", entry.Path,
		"added", diff.Added,
		"kept", diff.Kept,
		"removed", diff.Removed)
	return nil
}

func (s *Statistics) toRun(run *storage.Run) {
	run.FilesIndexed = s.FilesIndexed
	run.FilesUnchanged = s.FilesUnchanged
	run.FilesFailed = s.FilesFailed
	run.FilesRemoved = s.FilesRemoved
	run.Symbols = s.SymbolsIndexed
	run.EmbeddingFailures = s.EmbeddingFailures
}

func readFile(path string) ([]byte, os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return content, info, nil
}

// pendingContentHash marks a stored file whose symbols still lack embeddings
const pendingContentHash = ""

// contentHash computes the hex SHA-256 of file content
func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
