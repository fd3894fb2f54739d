package storage

import (
	"context"
	"time"

	"github.com/dshills/codemorph/pkg/types"
)

// Store persists the symbol graph of one repository for one embedding model
type Store interface {
	// Model operations
	CheckModel(ctx context.Context, model string, dimension int) error
	Model() (string, int)

	// Symbol operations
	Upsert(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (*Record, error)
	All(ctx context.Context) ([]Record, error)
	RemoveByFile(ctx context.Context, path string) error
	ReplaceFile(ctx context.Context, update FileUpdate) (*FileDiff, error)

	// File operations
	GetFile(ctx context.Context, path string) (*types.SourceFile, error)
	ListFiles(ctx context.Context) ([]types.SourceFile, error)

	// Embedding operations
	GetEmbeddings(ctx context.Context, model string, hashes []string) (map[string][]float32, error)
	PutEmbeddings(ctx context.Context, model string, vectors map[string][]float32) error

	// Search operations
	Snapshot(ctx context.Context) (*Snapshot, error)
	Generation(ctx context.Context) (int64, error)
	SearchText(ctx context.Context, query string, limit int) ([]TextResult, error)

	// Run operations
	BeginRun(ctx context.Context, root string) (*Run, error)
	UpdateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, run *Run) error
	LastRun(ctx context.Context) (*Run, error)

	// Status operations
	Status(ctx context.Context) (*IndexStatus, error)

	// Database operations
	Close() error
}

// Record is a symbol with a reference to its embedding
type Record struct {
	Symbol types.Symbol

	// EmbeddingHash is the cache key of the embedded document; empty when
	// the embedding was unavailable.
	EmbeddingHash string
	Vector        []float32
}

// HasVector reports whether the record takes part in similarity ranking
func (r *Record) HasVector() bool {
	return r.EmbeddingHash != "" && len(r.Vector) > 0
}

// FileUpdate is the complete new state of one file
type FileUpdate struct {
	File    types.SourceFile
	Records []Record
	Edges   []types.Edge
}

// FileDiff counts what ReplaceFile changed
type FileDiff struct {
	Added   int
	Kept    int
	Removed int
}

// Snapshot is a consistent point-in-time view of the index
type Snapshot struct {
	Generation int64
	Model      string
	Dimension  int
	Records    []Record // sorted by symbol id
	Edges      []types.Edge
}

// TextResult is one full-text hit
type TextResult struct {
	SymbolID  string
	BM25Score float64 // normalized to (0, 1], higher is better
}

// RunStatus is the lifecycle state of an index run
type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunFailed      RunStatus = "failed"
	RunCancelled   RunStatus = "cancelled"
	RunInterrupted RunStatus = "interrupted"
)

// Run is the persisted progress of one index pass
type Run struct {
	ID         string
	Root       string
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt time.Time

	FilesTotal        int
	FilesIndexed      int
	FilesUnchanged    int
	FilesFailed       int
	FilesRemoved      int
	Symbols           int
	EmbeddingFailures int
	Error             string

	// Interrupted lists earlier runs that never finished. Filled by BeginRun.
	Interrupted []string
}

// IndexStatus contains statistics about the index
type IndexStatus struct {
	Model                 string
	Dimension             int
	SchemaVersion         string
	Generation            int64
	Files                 int
	Symbols               int
	Edges                 int
	Embeddings            int
	UnavailableEmbeddings int
	SizeBytes             int64
	LastRun               *Run
}
