package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dshills/codemorph/internal/indexer"
	"github.com/dshills/codemorph/internal/workspace"
)

// maxPrintedErrors bounds per-file error lines in the index summary
const maxPrintedErrors = 10

func printStatistics(w io.Writer, root string, stats *indexer.Statistics) {
	fmt.Fprintf(w, "Indexed %s in %s\n", root, stats.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  files:    %s indexed, %s unchanged, %s removed, %s failed\n",
		humanize.Comma(int64(stats.FilesIndexed)),
		humanize.Comma(int64(stats.FilesUnchanged)),
		humanize.Comma(int64(stats.FilesRemoved)),
		humanize.Comma(int64(stats.FilesFailed)))
	if stats.FilesUnsupported > 0 || stats.FilesSkipped > 0 {
		fmt.Fprintf(w, "  skipped:  %d unsupported, %d over size limit\n", stats.FilesUnsupported, stats.FilesSkipped)
	}
	fmt.Fprintf(w, "  symbols:  %s\n", humanize.Comma(int64(stats.SymbolsIndexed)))
	if stats.FilesStale > 0 {
		fmt.Fprintf(w, "  stale:    %d files failed to parse and keep their previous symbols\n", stats.FilesStale)
	}
	if stats.EmbeddingFailures > 0 {
		fmt.Fprintf(w, "  embedding failures: %d (retried on the next run)\n", stats.EmbeddingFailures)
	}
	for _, id := range stats.Interrupted {
		fmt.Fprintf(w, "  previous run %s did not finish\n", id)
	}
	printErrors(w, "parse errors", stats.ParseErrors)
	printErrors(w, "errors", stats.ErrorMessages)
}

func printErrors(w io.Writer, label string, messages []string) {
	if len(messages) == 0 {
		return
	}
	fmt.Fprintf(w, "  %s (%d):\n", label, len(messages))
	for i, msg := range messages {
		if i == maxPrintedErrors {
			fmt.Fprintf(w, "    ... and %d more\n", len(messages)-maxPrintedErrors)
			break
		}
		fmt.Fprintf(w, "    %s\n", msg)
	}
}

func printStatus(w io.Writer, status *workspace.Status) {
	st := status.Index
	fmt.Fprintf(w, "Repository: %s\n", status.Root)
	fmt.Fprintf(w, "Index:      %s (%s, schema %s)\n", status.IndexPath, humanize.Bytes(uint64(st.SizeBytes)), st.SchemaVersion)
	fmt.Fprintf(w, "Model:      %s (%d dimensions)\n", st.Model, st.Dimension)
	fmt.Fprintf(w, "Files:      %s\n", humanize.Comma(int64(st.Files)))
	fmt.Fprintf(w, "Symbols:    %s (%s edges)\n", humanize.Comma(int64(st.Symbols)), humanize.Comma(int64(st.Edges)))
	fmt.Fprintf(w, "Embeddings: %s", humanize.Comma(int64(st.Embeddings)))
	if st.UnavailableEmbeddings > 0 {
		fmt.Fprintf(w, " (%d unavailable)", st.UnavailableEmbeddings)
	}
	fmt.Fprintln(w)
	if status.Indexing {
		fmt.Fprintln(w, "Indexing:   in progress")
	}

	run := st.LastRun
	if run == nil {
		fmt.Fprintln(w, "Last run:   none")
		return
	}
	when := humanize.Time(run.StartedAt)
	if !run.FinishedAt.IsZero() {
		when = humanize.Time(run.FinishedAt)
	}
	fmt.Fprintf(w, "Last run:   %s %s (%s)\n", run.ID, run.Status, when)
	fmt.Fprintf(w, "            %d indexed, %d unchanged, %d removed, %d failed, %d symbols\n",
		run.FilesIndexed, run.FilesUnchanged, run.FilesRemoved, run.FilesFailed, run.Symbols)
	if run.Error != "" {
		fmt.Fprintf(w, "            error: %s\n", run.Error)
	}
}
