package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/codemorph/internal/embedder"
	"github.com/dshills/codemorph/internal/graph"
	"github.com/dshills/codemorph/internal/storage"
	"github.com/dshills/codemorph/pkg/types"
)

// Search defaults
const (
	DefaultK         = 10
	MaxK             = 100
	DefaultPoolSize  = 50
	DefaultSnapshots = 4
	DefaultTimeout   = 30 * time.Second
)

// DefaultKinds are searched when a request names no kinds
var DefaultKinds = []types.SymbolKind{types.KindFunction, types.KindMethod, types.KindClass}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query   string
	K       int
	Kinds   []types.SymbolKind
	Weights *Weights // nil uses the searcher's weights
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Query      string
	Results    []types.SearchResult
	Total      int   // symbols in the index
	Candidates int   // symbols of the requested kinds with a vector
	Generation int64 // store generation the results were computed from
	Duration   time.Duration
}

// Options configures a Searcher
type Options struct {
	Weights   Weights
	PoolSize  int // candidates considered for graph proximity
	Snapshots int // store generations kept in memory
	Logger    *slog.Logger
}

// Searcher ranks indexed symbols against boolean queries. It reads
// point-in-time snapshots of the store, so it may run while the index is
// being rebuilt. It is safe for concurrent use.
type Searcher struct {
	store    storage.Store
	cache    *embedder.Cache
	root     string
	weights  Weights
	poolSize int
	logger   *slog.Logger

	snapshots *lru.Cache[int64, *snapshotIndex]
	loads     singleflight.Group
}

// snapshotIndex is a snapshot prepared for ranking
type snapshotIndex struct {
	generation int64
	records    []storage.Record
	graph      *graph.Graph
}

// NewSearcher creates a Searcher over store. root is the repository root that
// symbol paths are relative to; result content is read from it.
func NewSearcher(store storage.Store, cache *embedder.Cache, root string, opts Options) *Searcher {
	weights := opts.Weights
	if weights.IsZero() {
		weights = DefaultWeights
	}
	poolSize := opts.PoolSize
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	size := opts.Snapshots
	if size <= 0 {
		size = DefaultSnapshots
	}
	snapshots, err := lru.New[int64, *snapshotIndex](size)
	if err != nil {
		// This should never happen with valid size parameter
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Searcher{
		store:     store,
		cache:     cache,
		root:      root,
		weights:   weights,
		poolSize:  poolSize,
		logger:    logger,
		snapshots: snapshots,
	}
}

// Search performs a search based on the request parameters
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if err := s.validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}
	tree, err := ParseQuery(req.Query)
	if err != nil {
		return nil, err
	}

	response := &SearchResponse{Query: req.Query, Results: make([]types.SearchResult, 0)}

	model, dimension := s.store.Model()
	if model == "" {
		// Nothing was ever indexed
		response.Duration = time.Since(startTime)
		return response, nil
	}
	if model != s.cache.Model() || dimension != s.cache.Dimension() {
		return nil, fmt.Errorf("%w: index built with %s (%d dimensions), searching with %s (%d dimensions)",
			types.ErrModelMismatch, model, dimension, s.cache.Model(), s.cache.Dimension())
	}

	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	response.Generation = snap.generation
	response.Total = len(snap.records)

	leaves, err := s.embedLeaves(ctx, tree)
	if err != nil {
		return nil, err
	}

	weights := s.weights
	if req.Weights != nil {
		weights = *req.Weights
	}

	texts := positiveTexts(tree)
	textHits, err := s.store.SearchText(ctx, strings.Join(texts, " "), s.poolSize)
	if err != nil {
		return nil, fmt.Errorf("text search failed: %w", err)
	}

	ranked := rank(snap, tree, leaves, newTextMatcher(texts), textHits, rankOptions{
		kinds:    req.Kinds,
		weights:  weights,
		poolSize: s.poolSize,
	})
	response.Candidates = len(ranked)
	if len(ranked) > req.K {
		ranked = ranked[:req.K]
	}

	files := make(map[string][]byte)
	for i, c := range ranked {
		rec := snap.records[c.index]
		response.Results = append(response.Results, types.SearchResult{
			Rank:       i + 1,
			Score:      c.score,
			Similarity: c.similarity,
			TextMatch:  c.text,
			Proximity:  c.proximity,
			Symbol:     rec.Symbol,
			Content:    s.content(rec.Symbol, files),
		})
	}

	response.Duration = time.Since(startTime)
	s.logger.Debug("search finished",
		"query", req.Query,
		"results", len(response.Results),
		"candidates", response.Candidates,
		"generation", response.Generation,
		"duration", response.Duration)
	return response, nil
}

// validateRequest ensures search request is valid
func (s *Searcher) validateRequest(req *SearchRequest) error {
	if req.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}

	if req.K <= 0 {
		req.K = DefaultK
	}

	if req.K > MaxK {
		req.K = MaxK
	}

	if len(req.Kinds) == 0 {
		req.Kinds = DefaultKinds
	}
	for _, k := range req.Kinds {
		if _, err := types.ParseKind(string(k)); err != nil {
			return err
		}
	}

	if req.Weights != nil && (req.Weights.Vector < 0 || req.Weights.Name < 0 || req.Weights.Graph < 0) {
		return errors.New("weights cannot be negative")
	}
	return nil
}

// embedLeaves embeds every text leaf of the query. A leaf that cannot be
// embedded fails the search; ranking never silently falls back to text only.
func (s *Searcher) embedLeaves(ctx context.Context, tree Node) (map[string][]float32, error) {
	texts := Texts(tree)
	results := s.cache.GetOrComputeBatch(ctx, texts)
	leaves := make(map[string][]float32, len(texts))
	for i, res := range results {
		if res.Err != nil {
			return nil, fmt.Errorf("failed to embed query %q: %w", texts[i], res.Err)
		}
		leaves[texts[i]] = res.Vector
	}
	return leaves, nil
}

// snapshot returns the prepared snapshot of the current store generation.
// Concurrent loads of one generation share a single store read.
func (s *Searcher) snapshot(ctx context.Context) (*snapshotIndex, error) {
	generation, err := s.store.Generation(ctx)
	if err != nil {
		return nil, err
	}
	if snap, ok := s.snapshots.Get(generation); ok {
		return snap, nil
	}

	v, err, _ := s.loads.Do(strconv.FormatInt(generation, 10), func() (interface{}, error) {
		raw, err := s.store.Snapshot(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		snap := newSnapshotIndex(raw)
		s.snapshots.Add(snap.generation, snap)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*snapshotIndex), nil
}

func newSnapshotIndex(raw *storage.Snapshot) *snapshotIndex {
	snap := &snapshotIndex{
		generation: raw.Generation,
		records:    raw.Records,
	}
	symbols := make([]types.Symbol, len(raw.Records))
	for i := range raw.Records {
		symbols[i] = raw.Records[i].Symbol
	}
	snap.graph = graph.Build(symbols, raw.Edges)
	return snap
}

// InvalidateCache drops every cached snapshot
func (s *Searcher) InvalidateCache() {
	s.snapshots.Purge()
}

// content returns the source text of sym read from disk. Files that changed
// since indexing may yield text that no longer matches the span; such spans
// are clamped.
func (s *Searcher) content(sym types.Symbol, files map[string][]byte) string {
	data, ok := files[sym.Path]
	if !ok {
		var err error
		data, err = os.ReadFile(filepath.Join(s.root, filepath.FromSlash(sym.Path)))
		if err != nil {
			s.logger.Debug("cannot read result content", "path", sym.Path, "error", err)
		}
		files[sym.Path] = data
	}
	start, end := sym.Span.StartByte, sym.Span.EndByte
	if end > len(data) {
		end = len(data)
	}
	if start < 0 || start >= end {
		return ""
	}
	return string(data[start:end])
}

// candidate is a symbol under consideration for one query
type candidate struct {
	index      int // into snapshotIndex.records
	id         string
	similarity float64
	text       float64
	proximity  float64
	score      float64
}

type rankOptions struct {
	kinds    []types.SymbolKind
	weights  Weights
	poolSize int
}

// rank scores every symbol of the requested kinds that has a vector and
// returns them by score descending, ties by id ascending
func rank(snap *snapshotIndex, tree Node, leaves map[string][]float32, matcher *textMatcher,
	textHits []storage.TextResult, opts rankOptions) []candidate {

	kinds := make(map[types.SymbolKind]bool, len(opts.kinds))
	for _, k := range opts.kinds {
		kinds[k] = true
	}

	candidates := make([]candidate, 0)
	for i := range snap.records {
		rec := &snap.records[i]
		if !kinds[rec.Symbol.Kind] || !rec.HasVector() {
			continue
		}
		sim := tree.similarity(func(text string) float64 {
			return storage.CosineSimilarity(leaves[text], rec.Vector)
		})
		candidates = append(candidates, candidate{
			index:      i,
			id:         rec.Symbol.ID,
			similarity: sim,
			text:       matcher.score(&rec.Symbol),
		})
	}

	applyProximity(snap, candidates, textHits, opts.poolSize)

	for i := range candidates {
		c := &candidates[i]
		c.score = opts.weights.combine(c.similarity, c.text, c.proximity)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].text != candidates[j].text {
			return candidates[i].text > candidates[j].text
		}
		return candidates[i].id < candidates[j].id
	})
	return candidates
}

// applyProximity gives each pooled candidate the highest clamped similarity
// among its call and containment neighbors that are also pooled. The pool is
// the top poolSize candidates by similarity plus every full-text hit.
func applyProximity(snap *snapshotIndex, candidates []candidate, textHits []storage.TextResult, poolSize int) {
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		ca, cb := candidates[order[a]], candidates[order[b]]
		if ca.similarity != cb.similarity {
			return ca.similarity > cb.similarity
		}
		return ca.id < cb.id
	})

	pool := make(map[string]int, poolSize+len(textHits))
	for _, i := range order[:min(poolSize, len(order))] {
		pool[candidates[i].id] = i
	}
	byID := make(map[string]int, len(candidates))
	for i := range candidates {
		byID[candidates[i].id] = i
	}
	for _, hit := range textHits {
		if i, ok := byID[hit.SymbolID]; ok {
			pool[hit.SymbolID] = i
		}
	}

	for id, i := range pool {
		best := 0.0
		for _, n := range snap.graph.Neighbors(id, types.EdgeCalls, types.EdgeContains) {
			if j, ok := pool[n]; ok {
				if v := clamp(candidates[j].similarity); v > best {
					best = v
				}
			}
		}
		candidates[i].proximity = best
	}
}
