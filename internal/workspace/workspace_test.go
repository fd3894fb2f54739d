package workspace

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codemorph/internal/config"
	"github.com/dshills/codemorph/internal/embedder"
	"github.com/dshills/codemorph/internal/logger"
	"github.com/dshills/codemorph/internal/storage"
)

func localProvider() (embedder.Embedder, error) {
	return embedder.NewLocalProvider(embedder.ProviderOptions{Dimension: 64})
}

func testRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("def checkout():\n    return 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.py"), []byte("def get_balance():\n    return 2\n"), 0o644))
	return root
}

func TestWorkspace_IndexSearchStatus(t *testing.T) {
	root := testRepo(t)
	provider, err := localProvider()
	require.NoError(t, err)

	ws, err := OpenWithProvider(root, config.NewDefaultConfig(), provider, true, logger.Discard())
	require.NoError(t, err)
	defer ws.Close()

	assert.Equal(t, storage.IndexPath(ws.Root, embedder.DefaultLocalModel), ws.IndexPath)

	stats, err := ws.Index(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesIndexed)

	resp, err := ws.Search(context.Background(), "checkout", 0, nil)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "checkout", resp.Results[0].Symbol.Name)

	status, err := ws.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, embedder.DefaultLocalModel, status.Model)
	assert.Equal(t, 2, status.Index.Files)
	assert.Equal(t, 4, status.Index.Symbols)
	assert.False(t, status.Indexing)
	require.NotNil(t, status.Index.LastRun)
	assert.Equal(t, storage.RunCompleted, status.Index.LastRun.Status)

	_, err = os.Stat(ws.IndexPath)
	assert.NoError(t, err)
}

// stallingProvider blocks query embeddings until the caller gives up
type stallingProvider struct {
	*embedder.LocalProvider
	stall atomic.Bool
}

func (p *stallingProvider) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	if p.stall.Load() {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return p.LocalProvider.GenerateBatch(ctx, req)
}

func TestWorkspace_SearchTimeout(t *testing.T) {
	root := testRepo(t)
	local, err := embedder.NewLocalProvider(embedder.ProviderOptions{Dimension: 64})
	require.NoError(t, err)
	provider := &stallingProvider{LocalProvider: local}

	cfg := config.NewDefaultConfig()
	cfg.Search.Timeout = 50 * time.Millisecond
	ws, err := OpenWithProvider(root, cfg, provider, true, logger.Discard())
	require.NoError(t, err)
	defer ws.Close()

	_, err = ws.Index(context.Background())
	require.NoError(t, err)

	provider.stall.Store(true)
	start := time.Now()
	_, err = ws.Search(context.Background(), "refund the order", 0, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestOpen_NotIndexed(t *testing.T) {
	provider, err := localProvider()
	require.NoError(t, err)

	_, err = OpenWithProvider(t.TempDir(), config.NewDefaultConfig(), provider, false, logger.Discard())
	assert.ErrorIs(t, err, ErrNotIndexed)
}

func TestResolveRoot(t *testing.T) {
	root := t.TempDir()
	abs, err := ResolveRoot(root)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(abs))

	_, err = ResolveRoot(filepath.Join(root, "missing"))
	assert.Error(t, err)

	file := filepath.Join(root, "f.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = ResolveRoot(file)
	assert.ErrorContains(t, err, "not a directory")
}

func TestPool(t *testing.T) {
	root := testRepo(t)
	pool := NewPoolWithProvider(config.NewDefaultConfig(), logger.Discard(), localProvider)
	defer pool.Close()

	_, err := pool.Get(root, false)
	assert.ErrorIs(t, err, ErrNotIndexed)

	ws, err := pool.Get(root, true)
	require.NoError(t, err)
	_, err = ws.Index(context.Background())
	require.NoError(t, err)

	again, err := pool.Get(root, false)
	require.NoError(t, err)
	assert.Same(t, ws, again)

	require.NoError(t, pool.Close())

	// A fresh pool finds the index on disk
	reopened := NewPoolWithProvider(config.NewDefaultConfig(), logger.Discard(), localProvider)
	defer reopened.Close()
	ws, err = reopened.Get(root, false)
	require.NoError(t, err)
	resp, err := ws.Search(context.Background(), "get_balance", 1, nil)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "get_balance", resp.Results[0].Symbol.Name)
}
