package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/dshills/codemorph/internal/chunker"
	"github.com/dshills/codemorph/pkg/types"
)

// RecordStore is the persistent tier of the cache. Vectors are keyed by
// (text hash, model) so different models never share vectors.
type RecordStore interface {
	// GetEmbeddings returns the stored vectors for the hashes that exist.
	GetEmbeddings(ctx context.Context, model string, hashes []string) (map[string][]float32, error)
	// PutEmbeddings stores vectors by hash.
	PutEmbeddings(ctx context.Context, model string, vectors map[string][]float32) error
}

// CacheOptions configures a Cache
type CacheOptions struct {
	BatchSize     int // texts per provider call
	MaxTokens     int // texts are truncated to this budget before hashing
	MemoryEntries int
	Logger        *slog.Logger
}

// Result is the outcome of one text of a batch lookup
type Result struct {
	Hash   string
	Vector []float32
	Err    error
}

// CacheStats counts cache activity since creation
type CacheStats struct {
	MemoryHits    int64
	StoreHits     int64
	Computed      int64
	Failed        int64
	ProviderCalls int64
	MemoryEntries int
}

// Cache is the two-tier embedding cache in front of a provider.
// It is safe for concurrent use.
type Cache struct {
	provider  Embedder
	store     RecordStore
	memory    *memoryCache
	flight    *flightGroup
	batchSize int
	maxTokens int
	logger    *slog.Logger

	memoryHits    atomic.Int64
	storeHits     atomic.Int64
	computed      atomic.Int64
	failed        atomic.Int64
	providerCalls atomic.Int64
}

// NewCache creates a cache over provider. store may be nil for a memory-only cache.
func NewCache(provider Embedder, store RecordStore, opts CacheOptions) *Cache {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = chunker.DefaultMaxTokens
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		provider:  provider,
		store:     store,
		memory:    newMemoryCache(opts.MemoryEntries),
		flight:    newFlightGroup(),
		batchSize: batchSize,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// Model returns the model id that namespaces cached vectors
func (c *Cache) Model() string {
	return c.provider.Model()
}

// Dimension returns the provider's vector dimension
func (c *Cache) Dimension() int {
	return c.provider.Dimension()
}

// Key returns the cache key of text after truncation to the token budget
func (c *Cache) Key(text string) string {
	return ComputeHash(chunker.Truncate(text, c.maxTokens))
}

// GetOrCompute returns the vector of text, calling the provider only on a miss
func (c *Cache) GetOrCompute(ctx context.Context, text string) ([]float32, error) {
	res := c.GetOrComputeBatch(ctx, []string{text})
	return res[0].Vector, res[0].Err
}

// GetOrComputeBatch returns one Result per text, in order. Misses are sent to
// the provider in batches; a failed batch marks its texts with
// types.ErrEmbeddingUnavailable while other batches continue.
func (c *Cache) GetOrComputeBatch(ctx context.Context, texts []string) []Result {
	results := make([]Result, len(texts))
	textOf := make(map[string]string, len(texts))
	var pending []string

	for i, text := range texts {
		if text == "" {
			results[i].Err = fmt.Errorf("%w: %w", types.ErrEmbeddingUnavailable, ErrEmptyText)
			continue
		}
		truncated := chunker.Truncate(text, c.maxTokens)
		key := ComputeHash(truncated)
		results[i].Hash = key
		if _, seen := textOf[key]; !seen {
			textOf[key] = truncated
			pending = append(pending, key)
		}
	}

	found := make(map[string]Result, len(pending))
	pending = c.lookupMemory(pending, found)
	pending = c.lookupStore(ctx, pending, found)

	for len(pending) > 0 {
		lead, wait := c.flight.claim(pending)
		c.lead(ctx, lead, textOf, found)

		var reclaim []string
		for key, call := range wait {
			select {
			case <-call.done:
				if call.abandoned {
					reclaim = append(reclaim, key)
					continue
				}
				found[key] = Result{Hash: key, Vector: copyVector(call.vec), Err: call.err}
			case <-ctx.Done():
				found[key] = Result{Hash: key, Err: fmt.Errorf("%w: %w", types.ErrEmbeddingUnavailable, ctx.Err())}
			}
		}
		pending = reclaim
	}

	for i := range results {
		if results[i].Err != nil {
			continue
		}
		r := found[results[i].Hash]
		results[i].Vector = copyVector(r.Vector)
		results[i].Err = r.Err
	}
	return results
}

func (c *Cache) lookupMemory(keys []string, found map[string]Result) []string {
	var missing []string
	for _, key := range keys {
		if vec, ok := c.memory.get(key); ok {
			c.memoryHits.Add(1)
			found[key] = Result{Hash: key, Vector: vec}
			continue
		}
		missing = append(missing, key)
	}
	return missing
}

func (c *Cache) lookupStore(ctx context.Context, keys []string, found map[string]Result) []string {
	if c.store == nil || len(keys) == 0 {
		return keys
	}
	stored, err := c.store.GetEmbeddings(ctx, c.Model(), keys)
	if err != nil {
		c.logger.Warn("embedding store lookup failed", "error", err, "keys", len(keys))
		return keys
	}
	var missing []string
	for _, key := range keys {
		if vec, ok := stored[key]; ok {
			c.storeHits.Add(1)
			c.memory.set(key, vec)
			found[key] = Result{Hash: key, Vector: vec}
			continue
		}
		missing = append(missing, key)
	}
	return missing
}

// lead computes the keys this caller claimed and releases their waiters
func (c *Cache) lead(ctx context.Context, keys []string, textOf map[string]string, found map[string]Result) {
	// A leader that finished between our lookup and our claim left its vector in memory.
	var todo []string
	for _, key := range keys {
		if vec, ok := c.memory.get(key); ok {
			c.memoryHits.Add(1)
			found[key] = Result{Hash: key, Vector: vec}
			c.flight.finish(key, vec, nil)
			continue
		}
		todo = append(todo, key)
	}

	for start := 0; start < len(todo); start += c.batchSize {
		end := start + c.batchSize
		if end > len(todo) {
			end = len(todo)
		}
		batch := todo[start:end]
		vectors, err := c.compute(ctx, batch, textOf)
		for i, key := range batch {
			var r Result
			if err != nil {
				r = Result{Hash: key, Err: err}
			} else {
				r = Result{Hash: key, Vector: vectors[i]}
				c.memory.set(key, vectors[i])
			}
			found[key] = r
			// Waiters with live contexts retry rather than inherit this caller's cancellation
			if err != nil && ctx.Err() != nil {
				c.flight.abandon(key)
				continue
			}
			c.flight.finish(key, r.Vector, r.Err)
		}
	}
}

// compute embeds one batch and persists the vectors
func (c *Cache) compute(ctx context.Context, keys []string, textOf map[string]string) ([][]float32, error) {
	texts := make([]string, len(keys))
	for i, key := range keys {
		texts[i] = textOf[key]
	}

	c.providerCalls.Add(1)
	resp, err := c.provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: texts})
	if err == nil && len(resp.Embeddings) != len(texts) {
		err = fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(resp.Embeddings), len(texts))
	}
	if err != nil {
		c.failed.Add(int64(len(keys)))
		c.logger.Warn("embedding batch failed", "texts", len(texts), "error", err)
		return nil, fmt.Errorf("%w: %w", types.ErrEmbeddingUnavailable, err)
	}

	vectors := make([][]float32, len(keys))
	records := make(map[string][]float32, len(keys))
	for i, emb := range resp.Embeddings {
		vectors[i] = emb.Vector
		records[keys[i]] = emb.Vector
	}
	c.computed.Add(int64(len(keys)))

	if c.store != nil {
		if err := c.store.PutEmbeddings(ctx, c.Model(), records); err != nil {
			if errors.Is(err, types.ErrStoreCorruption) {
				return nil, err
			}
			c.logger.Warn("persisting embeddings failed", "texts", len(keys), "error", err)
		}
	}
	return vectors, nil
}

// Stats returns a snapshot of the cache counters
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		MemoryHits:    c.memoryHits.Load(),
		StoreHits:     c.storeHits.Load(),
		Computed:      c.computed.Load(),
		Failed:        c.failed.Load(),
		ProviderCalls: c.providerCalls.Load(),
		MemoryEntries: c.memory.len(),
	}
}

// Purge empties the memory tier
func (c *Cache) Purge() {
	c.memory.purge()
}

// Close releases the provider
func (c *Cache) Close() error {
	return c.provider.Close()
}
