// Package storage persists the symbol graph and embeddings of one repository.
//
// Each embedding model gets its own SQLite database under the repository:
//
//	<repo>/.morph/<model>/index.db
//
// so switching models never touches another model's index.
//
// # Database Schema
//
// Tables:
//   - meta: model id, dimension and the write generation
//   - files: repository-relative paths and SHA-256 content hashes
//   - symbols: extracted symbols keyed by stable id, with a nullable embedding_hash
//   - edges: contains, calls and imports edges, tagged with their source file
//   - embeddings: vectors keyed by (content hash, model)
//   - index_runs: progress and outcome of every index pass
//   - symbols_fts: FTS5 index over name, qualified name and path
//
// # Basic Usage
//
//	store, err := storage.Open(storage.IndexPath(root, "local-embeddings"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	if err := store.CheckModel(ctx, model, dimension); err != nil {
//	    return err // types.ErrModelMismatch or types.ErrStoreCorruption
//	}
//
// # Atomic File Updates
//
// ReplaceFile applies the full new state of a file in one transaction: ids
// that disappeared are deleted, the rest are upserted and the file's edges are
// rewritten. Every committed write bumps the generation counter, and Snapshot
// reads symbols, vectors and edges in one transaction, so a reader sees either
// the old or the new state of a file and never a mix.
//
// # Embedding Records
//
// The embeddings table is the persistent tier of the embedding cache. Records
// are never deleted with their symbols: unchanged text re-indexed later, or
// moved to another file, reuses its vector without a provider call.
//
// # Build Modes
//
// The default build uses modernc.org/sqlite (pure Go). Building with the
// sqlite_vec and fts5 tags switches to github.com/mattn/go-sqlite3 (CGO).
package storage
