package searcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codemorph/internal/embedder"
	"github.com/dshills/codemorph/internal/indexer"
	"github.com/dshills/codemorph/internal/storage"
	"github.com/dshills/codemorph/pkg/types"
)

// countingEmbedder wraps the local provider, counting texts sent to it
type countingEmbedder struct {
	*embedder.LocalProvider

	mu    sync.Mutex
	texts map[string]int
	delay time.Duration
	fail  bool
}

func newCountingEmbedder(t testing.TB) *countingEmbedder {
	t.Helper()
	local, err := embedder.NewLocalProvider(embedder.ProviderOptions{Dimension: 64})
	require.NoError(t, err)
	return &countingEmbedder{LocalProvider: local, texts: make(map[string]int)}
}

func (m *countingEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	m.mu.Lock()
	for _, text := range req.Texts {
		m.texts[text]++
	}
	delay, fail := m.delay, m.fail
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fail {
		return nil, &embedder.APIError{StatusCode: 400, Body: "rejected"}
	}
	return m.LocalProvider.GenerateBatch(ctx, req)
}

func (m *countingEmbedder) count(text string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.texts[text]
}

type testEnv struct {
	root     string
	store    *storage.SQLiteStorage
	embedder *countingEmbedder
	cache    *embedder.Cache
	indexer  *indexer.Indexer
	searcher *Searcher
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb := newCountingEmbedder(t)
	cache := embedder.NewCache(emb, store, embedder.CacheOptions{})
	root := t.TempDir()
	return &testEnv{
		root:     root,
		store:    store,
		embedder: emb,
		cache:    cache,
		indexer:  indexer.New(store, cache, nil),
		searcher: NewSearcher(store, cache, root, Options{}),
	}
}

func (e *testEnv) write(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(e.root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (e *testEnv) index(t *testing.T) *indexer.Statistics {
	t.Helper()
	stats, err := e.indexer.Index(context.Background(), e.root, nil)
	require.NoError(t, err)
	return stats
}

func resultNames(resp *SearchResponse) []string {
	names := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		names[i] = r.Symbol.Name
	}
	return names
}

func TestSearch_CheckoutAndBalance(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	env.write(t, "a.py", "def checkout():\n    return cart.pay()\n")
	env.write(t, "b.py", "def get_balance():\n    return account.balance\n")
	env.index(t)

	resp, err := env.searcher.Search(ctx, SearchRequest{Query: "checkout and balance", K: 2})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.ElementsMatch(t, []string{"checkout", "get_balance"}, resultNames(resp))
	assert.GreaterOrEqual(t, resp.Results[0].Score, resp.Results[1].Score)
	for i, r := range resp.Results {
		assert.Equal(t, i+1, r.Rank)
		assert.Greater(t, r.Score, 0.0)
		assert.NoError(t, r.Validate())
	}

	byName := make(map[string]types.SearchResult)
	for _, r := range resp.Results {
		byName[r.Symbol.Name] = r
	}
	assert.Equal(t, 1.0, byName["checkout"].TextMatch)
	assert.Equal(t, 0.75, byName["get_balance"].TextMatch)
	assert.Equal(t, "def checkout():\n    return cart.pay()", strings.TrimSpace(byName["checkout"].Content))

	// Removing a.py removes checkout from later results entirely
	require.NoError(t, os.Remove(filepath.Join(env.root, "a.py")))
	env.index(t)

	resp, err = env.searcher.Search(ctx, SearchRequest{Query: "checkout and balance", K: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"get_balance"}, resultNames(resp))
}

func TestSearch_ExactNameOutranksVectorOnly(t *testing.T) {
	env := setupTestEnv(t)
	env.write(t, "config.py", `def parse_config(path):
    return load(path)


def load_config_file(path):
    with open(path) as f:
        return parse(f.read())


def read_settings(path):
    return parse(open(path).read())
`)
	env.write(t, "util.py", `def parse(text):
    return dict(line.split("=") for line in text.splitlines())


def config_loader_for_path(path):
    return parse(path)


def tokenize(text):
    return text.split()
`)
	env.index(t)

	resp, err := env.searcher.Search(context.Background(), SearchRequest{Query: "parse_config loader", K: 20})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	exact := -1
	for i, r := range resp.Results {
		if r.Symbol.Name == "parse_config" {
			exact = i
			assert.Equal(t, 1.0, r.TextMatch)
		}
	}
	require.GreaterOrEqual(t, exact, 0)
	vectorOnly := 0
	for i, r := range resp.Results {
		if r.TextMatch == 0 {
			vectorOnly++
			assert.Greater(t, i, exact, "vector-only match %s ranked above exact name match", r.Symbol.URI())
			assert.LessOrEqual(t, r.Score, resp.Results[exact].Score)
		}
	}
	assert.Positive(t, vectorOnly)
}

func TestSearch_EmptyIndex(t *testing.T) {
	env := setupTestEnv(t)

	resp, err := env.searcher.Search(context.Background(), SearchRequest{Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)

	env.index(t)
	resp, err = env.searcher.Search(context.Background(), SearchRequest{Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, 0, resp.Total)
}

func TestSearch_ModelMismatch(t *testing.T) {
	env := setupTestEnv(t)
	require.NoError(t, env.store.CheckModel(context.Background(), "another-model", 64))

	_, err := env.searcher.Search(context.Background(), SearchRequest{Query: "checkout"})
	assert.ErrorIs(t, err, types.ErrModelMismatch)
}

func TestSearch_QueryEmbeddingFailureIsFatal(t *testing.T) {
	env := setupTestEnv(t)
	env.write(t, "a.py", "def checkout():\n    return 1\n")
	env.index(t)

	env.embedder.fail = true
	_, err := env.searcher.Search(context.Background(), SearchRequest{Query: "a novel query"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrEmbeddingUnavailable))
}

func TestSearch_ConcurrentQueriesEmbedOnce(t *testing.T) {
	env := setupTestEnv(t)
	env.write(t, "a.py", "def checkout():\n    return 1\n")
	env.index(t)
	env.embedder.delay = 50 * time.Millisecond

	const query = "brand new query text"
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.searcher.Search(context.Background(), SearchRequest{Query: query})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, env.embedder.count(query))
}

func TestSearch_KindFilter(t *testing.T) {
	env := setupTestEnv(t)
	env.write(t, "shop.py", `class Cart:
    def checkout(self):
        return 1


def checkout_all(carts):
    return [c.checkout() for c in carts]
`)
	env.index(t)
	ctx := context.Background()

	resp, err := env.searcher.Search(ctx, SearchRequest{Query: "checkout", K: 10})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Cart", "checkout", "checkout_all"}, resultNames(resp))

	resp, err = env.searcher.Search(ctx, SearchRequest{Query: "checkout", Kinds: []types.SymbolKind{types.KindMethod}})
	require.NoError(t, err)
	assert.Equal(t, []string{"checkout"}, resultNames(resp))

	resp, err = env.searcher.Search(ctx, SearchRequest{Query: "checkout", Kinds: []types.SymbolKind{types.KindModule}})
	require.NoError(t, err)
	assert.Equal(t, []string{"shop"}, resultNames(resp))

	_, err = env.searcher.Search(ctx, SearchRequest{Query: "checkout", Kinds: []types.SymbolKind{"widget"}})
	assert.Error(t, err)
}

func TestSearch_TruncatesToK(t *testing.T) {
	env := setupTestEnv(t)
	var b strings.Builder
	for _, name := range []string{"alpha", "beta", "gamma", "delta", "epsilon"} {
		b.WriteString("def " + name + "():\n    return 1\n\n\n")
	}
	env.write(t, "many.py", b.String())
	env.index(t)

	resp, err := env.searcher.Search(context.Background(), SearchRequest{Query: "function", K: 3})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 3)
	assert.Equal(t, 5, resp.Candidates)
	assert.Equal(t, 6, resp.Total)
}

func TestSearch_SnapshotCachedByGeneration(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	env.write(t, "a.py", "def checkout():\n    return 1\n")
	env.index(t)

	first, err := env.searcher.Search(ctx, SearchRequest{Query: "checkout"})
	require.NoError(t, err)
	second, err := env.searcher.Search(ctx, SearchRequest{Query: "checkout"})
	require.NoError(t, err)
	assert.Equal(t, first.Generation, second.Generation)
	assert.Equal(t, 1, env.searcher.snapshots.Len())

	env.write(t, "b.py", "def refund():\n    return 2\n")
	env.index(t)

	third, err := env.searcher.Search(ctx, SearchRequest{Query: "checkout"})
	require.NoError(t, err)
	assert.Greater(t, third.Generation, second.Generation)
	assert.Equal(t, 2, env.searcher.snapshots.Len())

	env.searcher.InvalidateCache()
	assert.Equal(t, 0, env.searcher.snapshots.Len())
}

func TestSearch_InvalidRequests(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	_, err := env.searcher.Search(ctx, SearchRequest{Query: ""})
	assert.Error(t, err)

	_, err = env.searcher.Search(ctx, SearchRequest{Query: "(unbalanced"})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = env.searcher.Search(ctx, SearchRequest{Query: "x", Weights: &Weights{Vector: -1}})
	assert.Error(t, err)
}

func TestValidateRequest_Defaults(t *testing.T) {
	s := &Searcher{}
	req := SearchRequest{Query: "q"}
	require.NoError(t, s.validateRequest(&req))
	assert.Equal(t, DefaultK, req.K)
	assert.Equal(t, DefaultKinds, req.Kinds)

	req = SearchRequest{Query: "q", K: 1000}
	require.NoError(t, s.validateRequest(&req))
	assert.Equal(t, MaxK, req.K)
}

// rankFixture builds a snapshot with hand-made vectors:
// alpha and delta point along the query, beta is orthogonal and calls alpha.
func rankFixture() *snapshotIndex {
	sym := func(id, name string, kind types.SymbolKind) types.Symbol {
		return types.Symbol{
			ID: id, Name: name, QualifiedName: name, Kind: kind, Path: "x.py", Language: "python",
			Span: types.Span{StartByte: 0, EndByte: 1, StartLine: 1, EndLine: 1},
		}
	}
	raw := &storage.Snapshot{
		Generation: 7,
		Records: []storage.Record{
			{Symbol: sym("id-a", "alpha", types.KindFunction), EmbeddingHash: "h", Vector: []float32{1, 0}},
			{Symbol: sym("id-b", "beta", types.KindFunction), EmbeddingHash: "h", Vector: []float32{0, 1}},
			{Symbol: sym("id-c", "gamma", types.KindMethod), EmbeddingHash: "h", Vector: []float32{0.6, 0.8}},
			{Symbol: sym("id-d", "delta", types.KindFunction), EmbeddingHash: "h", Vector: []float32{1, 0}},
			{Symbol: sym("id-e", "epsilon", types.KindFunction)},
			{Symbol: sym("id-m", "x", types.KindModule), EmbeddingHash: "h", Vector: []float32{1, 0}},
		},
		Edges: []types.Edge{{Source: "id-b", Kind: types.EdgeCalls, Target: "id-a"}},
	}
	return newSnapshotIndex(raw)
}

func rankedIDs(cs []candidate) []string {
	ids := make([]string, len(cs))
	for i, c := range cs {
		ids[i] = c.id
	}
	return ids
}

func TestRank_WeightedScore(t *testing.T) {
	snap := rankFixture()
	leaves := map[string][]float32{"zzz": {1, 0}}
	opts := rankOptions{kinds: DefaultKinds, weights: DefaultWeights, poolSize: DefaultPoolSize}

	ranked := rank(snap, &Text{Text: "zzz"}, leaves, newTextMatcher([]string{"zzz"}), nil, opts)
	require.Equal(t, []string{"id-a", "id-d", "id-c", "id-b"}, rankedIDs(ranked))

	assert.InDelta(t, 1.0, ranked[0].score, 1e-6)
	assert.InDelta(t, 1.0, ranked[1].score, 1e-6)
	assert.InDelta(t, 0.6, ranked[2].score, 1e-6)
	assert.InDelta(t, 0.2, ranked[3].score, 1e-6)
	assert.InDelta(t, 1.0, ranked[3].proximity, 1e-6)
	assert.Equal(t, 0.0, ranked[0].proximity)
}

func TestRank_NameInSnakeCaseQuery(t *testing.T) {
	raw := &storage.Snapshot{
		Records: []storage.Record{
			{Symbol: types.Symbol{ID: "id-bal", Name: "balance", QualifiedName: "balance", Kind: types.KindFunction, Path: "a.py"},
				EmbeddingHash: "h", Vector: []float32{0, 1}},
			{Symbol: types.Symbol{ID: "id-zzz", Name: "zzz", QualifiedName: "zzz", Kind: types.KindFunction, Path: "b.py"},
				EmbeddingHash: "h", Vector: []float32{1, 0}},
		},
	}
	query := "account_balance"
	leaves := map[string][]float32{query: {1, 0}}
	opts := rankOptions{kinds: DefaultKinds, weights: DefaultWeights, poolSize: DefaultPoolSize}

	ranked := rank(newSnapshotIndex(raw), &Text{Text: query}, leaves, newTextMatcher([]string{query}), nil, opts)
	require.Equal(t, []string{"id-bal", "id-zzz"}, rankedIDs(ranked))
	assert.Equal(t, 1.0, ranked[0].text)
	assert.GreaterOrEqual(t, ranked[0].score, ranked[1].score)
}

func TestRank_TextBreaksTies(t *testing.T) {
	raw := &storage.Snapshot{
		Records: []storage.Record{
			{Symbol: types.Symbol{ID: "id-a", Name: "vector_twin", QualifiedName: "vector_twin", Kind: types.KindFunction, Path: "a.py"},
				EmbeddingHash: "h", Vector: []float32{1, 0}},
			{Symbol: types.Symbol{ID: "id-z", Name: "lookup", QualifiedName: "lookup", Kind: types.KindFunction, Path: "b.py"},
				EmbeddingHash: "h", Vector: []float32{0, 1}},
		},
	}
	leaves := map[string][]float32{"lookup": {1, 0}}
	opts := rankOptions{kinds: DefaultKinds, weights: Weights{Vector: 1, Name: 1}, poolSize: DefaultPoolSize}

	ranked := rank(newSnapshotIndex(raw), &Text{Text: "lookup"}, leaves, newTextMatcher([]string{"lookup"}), nil, opts)
	require.Equal(t, []string{"id-z", "id-a"}, rankedIDs(ranked))
	assert.InDelta(t, ranked[0].score, ranked[1].score, 1e-9)
}

func TestRank_Not(t *testing.T) {
	snap := rankFixture()
	leaves := map[string][]float32{"zzz": {1, 0}}
	opts := rankOptions{kinds: DefaultKinds, weights: DefaultWeights, poolSize: DefaultPoolSize}

	ranked := rank(snap, &Not{Arg: &Text{Text: "zzz"}}, leaves, newTextMatcher(nil), nil, opts)
	require.Equal(t, []string{"id-b", "id-c", "id-a", "id-d"}, rankedIDs(ranked))
	assert.InDelta(t, 1.0, ranked[0].score, 1e-6)
	assert.InDelta(t, 0.4, ranked[1].score, 1e-6)
	// alpha is called by beta, the best match
	assert.InDelta(t, 0.2, ranked[2].score, 1e-6)
	assert.InDelta(t, 0.0, ranked[3].score, 1e-6)
}

func TestRank_AndOr(t *testing.T) {
	snap := rankFixture()
	leaves := map[string][]float32{"x": {1, 0}, "y": {0, 1}}
	opts := rankOptions{kinds: []types.SymbolKind{types.KindMethod}, weights: Weights{Vector: 1}, poolSize: DefaultPoolSize}

	and := rank(snap, &And{Args: []Node{&Text{Text: "x"}, &Text{Text: "y"}}}, leaves, newTextMatcher(nil), nil, opts)
	require.Len(t, and, 1)
	assert.InDelta(t, 0.6, and[0].similarity, 1e-6)

	or := rank(snap, &Or{Args: []Node{&Text{Text: "x"}, &Text{Text: "y"}}}, leaves, newTextMatcher(nil), nil, opts)
	require.Len(t, or, 1)
	assert.InDelta(t, 0.8, or[0].similarity, 1e-6)
}

func TestRank_ProximityPool(t *testing.T) {
	snap := rankFixture()
	leaves := map[string][]float32{"zzz": {1, 0}}
	opts := rankOptions{kinds: DefaultKinds, weights: DefaultWeights, poolSize: 1}

	ranked := rank(snap, &Text{Text: "zzz"}, leaves, newTextMatcher(nil), nil, opts)
	byID := make(map[string]candidate)
	for _, c := range ranked {
		byID[c.id] = c
	}
	assert.Equal(t, 0.0, byID["id-b"].proximity, "beta is outside the pool")

	hits := []storage.TextResult{{SymbolID: "id-b", BM25Score: 0.5}}
	ranked = rank(snap, &Text{Text: "zzz"}, leaves, newTextMatcher(nil), hits, opts)
	for _, c := range ranked {
		byID[c.id] = c
	}
	assert.InDelta(t, 1.0, byID["id-b"].proximity, 1e-6, "text hits join the pool")
}

func TestTextMatcher(t *testing.T) {
	sym := func(name, qualified, path string) *types.Symbol {
		return &types.Symbol{Name: name, QualifiedName: qualified, Path: path}
	}
	tests := []struct {
		name  string
		query string
		sym   *types.Symbol
		want  float64
	}{
		{"name in query", "checkout and balance", sym("checkout", "checkout", "a.py"), 1},
		{"query in name", "check", sym("checkout", "checkout", "a.py"), 1},
		{"case folded", "GETBALANCE please", sym("getBalance", "getBalance", "a.js"), 1},
		{"partial terms", "checkout and balance", sym("get_balance", "get_balance", "b.py"), 0.75},
		{"qualified name", "cart total", sym("total", "Cart.total", "b.py"), 1},
		{"path only", "checkout and balance", sym("total", "Cart.total", "billing/balance.py"), 0.125},
		{"no match", "checkout", sym("refund", "refund", "c.py"), 0},
		{"embedded name", "foods", sym("foo", "foo", "c.py"), 1},
		{"snake_case part", "account_balance", sym("balance", "balance", "b.py"), 1},
		{"term equals short name", "id lookup", sym("id", "User.id", "u.py"), 1},
		{"unicode name", "größe_berechnen", sym("Größe", "Größe", "m.py"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTextMatcher([]string{tt.query})
			assert.InDelta(t, tt.want, m.score(tt.sym), 1e-9)
		})
	}
}

func TestMarkdown(t *testing.T) {
	resp := &SearchResponse{
		Query: "checkout",
		Total: 12,
		Results: []types.SearchResult{{
			Rank:  1,
			Score: 1.5,
			Symbol: types.Symbol{
				ID: "id", Name: "checkout", QualifiedName: "Cart.checkout", Path: "shop/cart.py", Language: "python",
				Span: types.Span{StartLine: 3, EndLine: 4},
			},
			Content: "def checkout(self):\n    return 1\n",
		}},
	}

	md := Markdown(resp, "/repo")
	assert.Contains(t, md, "Displaying top **1** out of **12** code objects for:")
	assert.Contains(t, md, "'checkout'")
	assert.Contains(t, md, "[1.5000] [shop/cart.py#Cart.checkout](/repo/shop/cart.py) lines 3-4")
	assert.Contains(t, md, "```python\ndef checkout(self):\n    return 1\n```")

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, resp, FormatMarkdown, "/repo", false))
	assert.Equal(t, md, buf.String())
}

func TestWriteJSON(t *testing.T) {
	resp := &SearchResponse{
		Query: "q",
		Total: 3,
		Results: []types.SearchResult{{
			Rank: 1, Score: 0.9, TextMatch: 0.5,
			Symbol: types.Symbol{ID: "abc", Name: "f", QualifiedName: "f", Kind: types.KindFunction, Path: "a.py"},
		}},
	}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, resp, FormatJSON, "", false))

	var view ResponseView
	require.NoError(t, json.Unmarshal(buf.Bytes(), &view))
	assert.Equal(t, "q", view.Query)
	assert.Equal(t, 3, view.Total)
	require.Len(t, view.Results, 1)
	assert.Equal(t, "a.py#f", view.Results[0].URI)
	assert.Equal(t, "function", view.Results[0].Kind)
	assert.Equal(t, 0.5, view.Results[0].TextMatch)
}

func TestWriteText(t *testing.T) {
	resp := &SearchResponse{Query: "q", Total: 5}
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, resp, false))
	assert.Contains(t, buf.String(), "no results")

	resp.Results = []types.SearchResult{{
		Rank: 1, Score: 0.25,
		Symbol:  types.Symbol{Name: "f", QualifiedName: "f", Path: "a.py", Language: "python", Span: types.Span{StartLine: 1, EndLine: 2}},
		Content: "def f():\n    pass\n",
	}}
	buf.Reset()
	require.NoError(t, WriteText(&buf, resp, false))
	assert.Equal(t, "0.2500  a.py#f  a.py:1-2\ndef f():\n    pass\n\n", buf.String())

	colored := Highlight("def f():\n    pass", "python")
	assert.Contains(t, colored, "\x1b[")
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"markdown": FormatMarkdown, "md": FormatMarkdown, "JSON": FormatJSON, "text": FormatText, "plain": FormatText} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}
