package embedder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codemorph/pkg/types"
)

// mockEmbedder counts provider calls and can fail or block on demand
type mockEmbedder struct {
	mu        sync.Mutex
	callCount int
	texts     []string
	failOn    func(texts []string) error
	delay     time.Duration
	model     string
}

func (m *mockEmbedder) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	resp, err := m.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (m *mockEmbedder) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	m.mu.Lock()
	m.callCount++
	m.texts = append(m.texts, req.Texts...)
	failOn := m.failOn
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failOn != nil {
		if err := failOn(req.Texts); err != nil {
			return nil, err
		}
	}

	embs := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		embs[i] = &Embedding{Vector: HashVector(text, 8), Dimension: 8, Hash: ComputeHash(text)}
	}
	return &BatchEmbeddingResponse{Embeddings: embs, Model: m.Model()}, nil
}

func (m *mockEmbedder) Dimension() int   { return 8 }
func (m *mockEmbedder) Provider() string { return "mock" }
func (m *mockEmbedder) Close() error     { return nil }
func (m *mockEmbedder) Model() string {
	if m.model == "" {
		return "mock-model"
	}
	return m.model
}

func (m *mockEmbedder) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// memStore is an in-memory RecordStore
type memStore struct {
	mu      sync.Mutex
	records map[string][]float32
	gets    int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string][]float32)}
}

func (s *memStore) GetEmbeddings(_ context.Context, model string, hashes []string) (map[string][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	out := make(map[string][]float32)
	for _, h := range hashes {
		if v, ok := s.records[model+"/"+h]; ok {
			out[h] = v
		}
	}
	return out, nil
}

func (s *memStore) PutEmbeddings(_ context.Context, model string, vectors map[string][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, v := range vectors {
		s.records[model+"/"+h] = v
	}
	return nil
}

func TestCache_HitDoesNotCallProvider(t *testing.T) {
	mock := &mockEmbedder{}
	cache := NewCache(mock, nil, CacheOptions{})
	ctx := context.Background()

	v1, err := cache.GetOrCompute(ctx, "def checkout(): pass")
	require.NoError(t, err)
	v2, err := cache.GetOrCompute(ctx, "def checkout(): pass")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, mock.calls())

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Computed)
	assert.Equal(t, int64(1), stats.MemoryHits)
	assert.Equal(t, int64(1), stats.ProviderCalls)
}

func TestCache_StoreTier(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	first := NewCache(&mockEmbedder{}, store, CacheOptions{})
	_, err := first.GetOrCompute(ctx, "persisted text")
	require.NoError(t, err)

	// A fresh cache over the same store simulates a process restart
	mock := &mockEmbedder{}
	second := NewCache(mock, store, CacheOptions{})
	_, err = second.GetOrCompute(ctx, "persisted text")
	require.NoError(t, err)

	assert.Equal(t, 0, mock.calls())
	assert.Equal(t, int64(1), second.Stats().StoreHits)
}

func TestCache_ModelNamespacesStore(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	_, err := NewCache(&mockEmbedder{model: "a"}, store, CacheOptions{}).GetOrCompute(ctx, "text")
	require.NoError(t, err)

	other := &mockEmbedder{model: "b"}
	_, err = NewCache(other, store, CacheOptions{}).GetOrCompute(ctx, "text")
	require.NoError(t, err)
	assert.Equal(t, 1, other.calls(), "vectors of another model must not be reused")
}

func TestCache_Batching(t *testing.T) {
	mock := &mockEmbedder{}
	cache := NewCache(mock, nil, CacheOptions{BatchSize: 4})

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = fmt.Sprintf("text %d", i)
	}
	texts = append(texts, "text 0") // duplicate within the call

	results := cache.GetOrComputeBatch(context.Background(), texts)
	require.Len(t, results, 11)
	for i, r := range results {
		require.NoError(t, r.Err, i)
		assert.Equal(t, ComputeHash(texts[i]), r.Hash)
		assert.Equal(t, HashVector(texts[i], 8), r.Vector)
	}
	assert.Equal(t, 3, mock.calls(), "10 unique texts in batches of 4")
	assert.Len(t, mock.texts, 10)
}

func TestCache_FailedBatchIsolated(t *testing.T) {
	mock := &mockEmbedder{
		failOn: func(texts []string) error {
			for _, text := range texts {
				if strings.HasPrefix(text, "bad") {
					return &APIError{StatusCode: 500}
				}
			}
			return nil
		},
	}
	cache := NewCache(mock, nil, CacheOptions{BatchSize: 2})

	results := cache.GetOrComputeBatch(context.Background(), []string{"good 1", "good 2", "bad 1", "good 3"})

	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.ErrorIs(t, results[2].Err, types.ErrEmbeddingUnavailable)
	assert.ErrorIs(t, results[3].Err, types.ErrEmbeddingUnavailable, "shares the failed batch")
	assert.Nil(t, results[2].Vector)
	assert.Equal(t, int64(2), cache.Stats().Failed)

	// failures are not cached
	mock.mu.Lock()
	mock.failOn = nil
	mock.mu.Unlock()
	v, err := cache.GetOrCompute(context.Background(), "bad 1")
	require.NoError(t, err)
	assert.NotEmpty(t, v)
}

func TestCache_EmptyText(t *testing.T) {
	mock := &mockEmbedder{}
	cache := NewCache(mock, nil, CacheOptions{})

	_, err := cache.GetOrCompute(context.Background(), "")
	assert.ErrorIs(t, err, types.ErrEmbeddingUnavailable)
	assert.ErrorIs(t, err, ErrEmptyText)
	assert.Equal(t, 0, mock.calls())
}

func TestCache_TruncatesToBudget(t *testing.T) {
	mock := &mockEmbedder{}
	cache := NewCache(mock, nil, CacheOptions{MaxTokens: 2})

	_, err := cache.GetOrCompute(context.Background(), "abcdefghijklmnop")
	require.NoError(t, err)
	assert.Equal(t, []string{"abcdefgh"}, mock.texts)
	assert.Equal(t, ComputeHash("abcdefgh"), cache.Key("abcdefghijklmnop"))
}

func TestCache_ConcurrentMissesCollapse(t *testing.T) {
	mock := &mockEmbedder{delay: 50 * time.Millisecond}
	cache := NewCache(mock, newMemStore(), CacheOptions{})

	const n = 32
	var wg sync.WaitGroup
	vectors := make([][]float32, n)
	errs := make([]error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			vectors[i], errs[i] = cache.GetOrCompute(context.Background(), "novel query text")
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, mock.calls(), "exactly one provider call for one novel text")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, vectors[0], vectors[i])
	}
	assert.Equal(t, 0, cache.flight.inFlight())
}

func TestCache_OverlappingBatches(t *testing.T) {
	mock := &mockEmbedder{delay: 20 * time.Millisecond}
	cache := NewCache(mock, nil, CacheOptions{BatchSize: 10})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// every caller shares "common" and has one text of its own
			results := cache.GetOrComputeBatch(context.Background(), []string{"common", fmt.Sprintf("own %d", i)})
			for _, r := range results {
				assert.NoError(t, r.Err)
			}
		}(i)
	}
	wg.Wait()

	counts := make(map[string]int)
	for _, text := range mock.texts {
		counts[text]++
	}
	assert.Equal(t, 1, counts["common"])
	assert.Len(t, counts, 9)
}

func TestCache_WaiterHonorsContext(t *testing.T) {
	mock := &mockEmbedder{delay: 500 * time.Millisecond}
	cache := NewCache(mock, nil, CacheOptions{})

	go func() {
		_, _ = cache.GetOrCompute(context.Background(), "slow")
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := cache.GetOrCompute(ctx, "slow")
	assert.True(t, errors.Is(err, types.ErrEmbeddingUnavailable))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCache_CancelledLeaderDoesNotFailWaiters(t *testing.T) {
	mock := &mockEmbedder{delay: 200 * time.Millisecond}
	cache := NewCache(mock, nil, CacheOptions{})

	leaderCtx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	leaderErr := make(chan error, 1)
	go func() {
		_, err := cache.GetOrCompute(leaderCtx, "shared")
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return cache.flight.inFlight() == 1 }, time.Second, time.Millisecond)

	vec, err := cache.GetOrCompute(context.Background(), "shared")
	require.NoError(t, err)
	assert.Len(t, vec, 8)

	err = <-leaderErr
	assert.ErrorIs(t, err, types.ErrEmbeddingUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, mock.calls())
	assert.Equal(t, 0, cache.flight.inFlight())
}
