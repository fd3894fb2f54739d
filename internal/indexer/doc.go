// Package indexer coordinates the end-to-end indexing pipeline for a repository.
//
// The indexer walks a repository, parses every supported source file with
// tree-sitter, extracts symbols and edges, embeds one document per symbol
// through the embedding cache and commits each file atomically to the index store.
//
// # Basic Usage
//
//	idx := indexer.New(store, cache, logger.ForComponent("indexer"))
//
//	stats, err := idx.Index(ctx, "/path/to/repo", &indexer.Config{
//	    Workers: 8,
//	    Exclude: []string{"**/testdata/**"},
//	})
//
//	fmt.Printf("Indexed %d files in %v\n", stats.FilesIndexed, stats.Duration)
//
// # Indexing Pipeline
//
//  1. Discovery: walk the root, skip hidden, vendored and build directories,
//     honor .gitignore and exclude globs, drop files over MaxFileBytes
//  2. Removal: files stored but no longer on disk are removed
//  3. Incremental decision: compare SHA-256 content hashes, skip unchanged files
//  4. Parse and extract: symbols, contains/calls/imports edges
//  5. Embed: one document per symbol, cached by (text hash, model)
//  6. Store: ReplaceFile diffs the file's symbol ids in one transaction
//
// # Checkpoints
//
// The per-file commit is the checkpoint. Cancelling a run keeps every committed
// file; the next run skips them by hash. A file whose embeddings were
// interrupted by cancellation is not committed.
//
// # Error Handling
//
// Per-file problems never abort a run:
//   - Parse errors: the file is not stored and is reported in Statistics.ParseErrors
//   - Unsupported files: counted in Statistics.FilesUnsupported
//   - Embedding failures: the symbol is stored without a vector
//
// Store corruption, model mismatch and cancellation end the run and are returned.
//
// # Watch Mode
//
// Watch re-runs Index after filesystem changes settle:
//
//	err := idx.Watch(ctx, root, cfg, indexer.WatchOptions{
//	    OnIndex: func(stats *indexer.Statistics, err error) { ... },
//	})
package indexer
