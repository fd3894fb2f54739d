package api

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dshills/codemorph/internal/indexer"
	"github.com/dshills/codemorph/internal/storage"
	"github.com/dshills/codemorph/internal/workspace"
)

// IndexRequest is the optional body of POST /api/index
type IndexRequest struct {
	Path string `json:"path"`
}

// IndexResponse reports one indexing run
type IndexResponse struct {
	Path              string   `json:"path"`
	RunID             string   `json:"run_id"`
	FilesDiscovered   int      `json:"files_discovered"`
	FilesIndexed      int      `json:"files_indexed"`
	FilesUnchanged    int      `json:"files_unchanged"`
	FilesUnsupported  int      `json:"files_unsupported"`
	FilesSkipped      int      `json:"files_skipped"`
	FilesFailed       int      `json:"files_failed"`
	FilesRemoved      int      `json:"files_removed"`
	SymbolsIndexed    int      `json:"symbols_indexed"`
	EmbeddingFailures int      `json:"embedding_failures"`
	ParseErrors       []string `json:"parse_errors,omitempty"`
	Errors            []string `json:"errors,omitempty"`
	InterruptedRuns   []string `json:"interrupted_runs,omitempty"`
	DurationMS        int64    `json:"duration_ms"`
}

func newIndexResponse(root string, stats *indexer.Statistics) IndexResponse {
	return IndexResponse{
		Path:              root,
		RunID:             stats.RunID,
		FilesDiscovered:   stats.FilesDiscovered,
		FilesIndexed:      stats.FilesIndexed,
		FilesUnchanged:    stats.FilesUnchanged,
		FilesUnsupported:  stats.FilesUnsupported,
		FilesSkipped:      stats.FilesSkipped,
		FilesFailed:       stats.FilesFailed,
		FilesRemoved:      stats.FilesRemoved,
		SymbolsIndexed:    stats.SymbolsIndexed,
		EmbeddingFailures: stats.EmbeddingFailures,
		ParseErrors:       stats.ParseErrors,
		Errors:            stats.ErrorMessages,
		InterruptedRuns:   stats.Interrupted,
		DurationMS:        stats.Duration.Milliseconds(),
	}
}

// RunResponse describes an indexing run recorded in the store
type RunResponse struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	Finished          string     `json:"finished,omitempty"`
	FilesTotal        int        `json:"files_total"`
	FilesIndexed      int        `json:"files_indexed"`
	FilesUnchanged    int        `json:"files_unchanged"`
	FilesFailed       int        `json:"files_failed"`
	FilesRemoved      int        `json:"files_removed"`
	Symbols           int        `json:"symbols"`
	EmbeddingFailures int        `json:"embedding_failures"`
	Error             string     `json:"error,omitempty"`
}

func newRunResponse(run *storage.Run) *RunResponse {
	if run == nil {
		return nil
	}
	resp := &RunResponse{
		ID:                run.ID,
		Status:            string(run.Status),
		StartedAt:         run.StartedAt,
		FilesTotal:        run.FilesTotal,
		FilesIndexed:      run.FilesIndexed,
		FilesUnchanged:    run.FilesUnchanged,
		FilesFailed:       run.FilesFailed,
		FilesRemoved:      run.FilesRemoved,
		Symbols:           run.Symbols,
		EmbeddingFailures: run.EmbeddingFailures,
		Error:             run.Error,
	}
	if !run.FinishedAt.IsZero() {
		finished := run.FinishedAt
		resp.FinishedAt = &finished
		resp.Finished = humanize.Time(finished)
	}
	return resp
}

// StatusResponse is the body of GET /api/status
type StatusResponse struct {
	Indexed               bool                `json:"indexed"`
	Path                  string              `json:"path"`
	Index                 string              `json:"index,omitempty"`
	Model                 string              `json:"model,omitempty"`
	Indexing              bool                `json:"indexing"`
	Generation            int64               `json:"generation"`
	Files                 int                 `json:"files"`
	Symbols               int                 `json:"symbols"`
	Edges                 int                 `json:"edges"`
	Embeddings            int                 `json:"embeddings"`
	UnavailableEmbeddings int                 `json:"unavailable_embeddings"`
	Dimension             int                 `json:"dimension"`
	SchemaVersion         string              `json:"schema_version,omitempty"`
	SizeBytes             int64               `json:"size_bytes"`
	Size                  string              `json:"size,omitempty"`
	Cache                 *CacheStatsResponse `json:"cache,omitempty"`
	LastRun               *RunResponse        `json:"last_run,omitempty"`
}

// CacheStatsResponse reports embedding cache counters
type CacheStatsResponse struct {
	MemoryHits    int64 `json:"memory_hits"`
	StoreHits     int64 `json:"store_hits"`
	Computed      int64 `json:"computed"`
	Failed        int64 `json:"failed"`
	ProviderCalls int64 `json:"provider_calls"`
	MemoryEntries int   `json:"memory_entries"`
}

func newStatusResponse(status *workspace.Status) StatusResponse {
	st := status.Index
	return StatusResponse{
		Indexed:               true,
		Path:                  status.Root,
		Index:                 status.IndexPath,
		Model:                 st.Model,
		Indexing:              status.Indexing,
		Generation:            st.Generation,
		Files:                 st.Files,
		Symbols:               st.Symbols,
		Edges:                 st.Edges,
		Embeddings:            st.Embeddings,
		UnavailableEmbeddings: st.UnavailableEmbeddings,
		Dimension:             st.Dimension,
		SchemaVersion:         st.SchemaVersion,
		SizeBytes:             st.SizeBytes,
		Size:                  humanize.Bytes(uint64(st.SizeBytes)),
		Cache: &CacheStatsResponse{
			MemoryHits:    status.Cache.MemoryHits,
			StoreHits:     status.Cache.StoreHits,
			Computed:      status.Cache.Computed,
			Failed:        status.Cache.Failed,
			ProviderCalls: status.Cache.ProviderCalls,
			MemoryEntries: status.Cache.MemoryEntries,
		},
		LastRun: newRunResponse(st.LastRun),
	}
}
