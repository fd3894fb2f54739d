package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/dshills/codemorph/internal/embedder"
	"github.com/dshills/codemorph/internal/indexer"
	"github.com/dshills/codemorph/internal/searcher"
	"github.com/dshills/codemorph/internal/storage"
	"github.com/dshills/codemorph/internal/workspace"
	"github.com/dshills/codemorph/pkg/types"
)

const testConfig = `
log:
  level: error
embedding:
  provider: local
  dimension: 64
`

func testRepo(t *testing.T) (root, cfgPath string) {
	t.Helper()
	root = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("def checkout():\n    return 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.py"), []byte("def get_balance():\n    return 2\n"), 0o644))
	cfgPath = filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(testConfig), 0o644))
	return root, cfgPath
}

// run executes the CLI and returns its stdout
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	exiter := cli.OsExiter
	cli.OsExiter = func(int) {}
	defer func() { cli.OsExiter = exiter }()

	stdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	defer func() { os.Stdout = stdout }()

	out := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		out <- buf.String()
	}()

	runErr := newApp().Run(context.Background(), append([]string{"codemorph"}, args...))
	_ = w.Close()
	return <-out, runErr
}

func code(err error) int {
	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return 0
}

func TestCLI_IndexSearchStatus(t *testing.T) {
	root, cfg := testRepo(t)

	out, err := run(t, "--root", root, "--config", cfg, "index")
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed ")
	assert.Contains(t, out, "2 indexed")

	_, err = os.Stat(storage.IndexPath(mustResolve(t, root), embedder.DefaultLocalModel))
	assert.NoError(t, err)

	out, err = run(t, "--root", root, "--config", cfg, "search", "--format", "json", "--k", "1", "checkout")
	require.NoError(t, err)
	var view searcher.ResponseView
	require.NoError(t, json.Unmarshal([]byte(out), &view), out)
	require.Len(t, view.Results, 1)
	assert.Equal(t, "checkout", view.Results[0].Name)

	out, err = run(t, "--root", root, "--config", cfg, "search", "--format", "text", "--no-color", "get", "balance")
	require.NoError(t, err)
	first := strings.SplitN(out, "\n", 2)[0]
	assert.Contains(t, first, "b.py#get_balance")

	out, err = run(t, "--root", root, "--config", cfg, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Repository: "+mustResolve(t, root))
	assert.Contains(t, out, "Symbols:    4")
	assert.Contains(t, out, "completed")
}

func TestCLI_ExitCodes(t *testing.T) {
	root, cfg := testRepo(t)

	_, err := run(t, "--root", root, "--config", cfg, "search", "checkout")
	assert.Equal(t, exitError, code(err), "search before index")

	_, err = run(t, "--root", root, "--config", cfg, "search")
	assert.Equal(t, exitError, code(err), "missing query")

	_, err = run(t, "--root", root, "--config", cfg, "search", "--kind", "widget", "x")
	assert.Equal(t, exitConfig, code(err), "bad kind")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("search:\n  k: -1\n"), 0o644))
	_, err = run(t, "--root", root, "--config", bad, "status")
	assert.Equal(t, exitConfig, code(err), "invalid config")

	_, err = run(t, "--root", filepath.Join(root, "missing"), "--config", cfg, "status")
	assert.Equal(t, exitConfig, code(err), "missing root")

	out, err := run(t, "--root", root, "--config", cfg, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "is not indexed")
}

func TestExitCode(t *testing.T) {
	assert.NoError(t, exitCode(nil))
	assert.Equal(t, exitConfig, code(exitCode(types.ErrModelMismatch)))
	assert.Equal(t, exitError, code(exitCode(errors.New("boom"))))
	assert.Equal(t, 7, code(exitCode(cli.Exit("custom", 7))))
}

func TestPrintStatistics(t *testing.T) {
	var buf bytes.Buffer
	errs := make([]string, 12)
	for i := range errs {
		errs[i] = "f.py:1:1: syntax error"
	}
	printStatistics(&buf, "/repo", &indexer.Statistics{
		FilesIndexed:      1234,
		FilesStale:        1,
		SymbolsIndexed:    5678,
		EmbeddingFailures: 2,
		ParseErrors:       errs,
		Interrupted:       []string{"run-1"},
		Duration:          1500 * time.Millisecond,
	})
	out := buf.String()
	assert.Contains(t, out, "Indexed /repo in 1.5s")
	assert.Contains(t, out, "1,234 indexed")
	assert.Contains(t, out, "symbols:  5,678")
	assert.Contains(t, out, "stale:    1 files")
	assert.Contains(t, out, "embedding failures: 2")
	assert.Contains(t, out, "previous run run-1 did not finish")
	assert.Contains(t, out, "parse errors (12)")
	assert.Contains(t, out, "... and 2 more")
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, &workspace.Status{
		Root:      "/repo",
		IndexPath: "/repo/.morph/m/index.db",
		Indexing:  true,
		Index: &storage.IndexStatus{
			Model:                 "m",
			Dimension:             8,
			Symbols:               3,
			UnavailableEmbeddings: 1,
			SizeBytes:             2048,
		},
	})
	out := buf.String()
	assert.Contains(t, out, "Model:      m (8 dimensions)")
	assert.Contains(t, out, "2.0 kB")
	assert.Contains(t, out, "(1 unavailable)")
	assert.Contains(t, out, "Indexing:   in progress")
	assert.Contains(t, out, "Last run:   none")
}

func mustResolve(t *testing.T, root string) string {
	t.Helper()
	abs, err := workspace.ResolveRoot(root)
	require.NoError(t, err)
	return abs
}
