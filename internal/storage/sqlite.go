package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/codemorph/pkg/types"
)

const (
	// DirName is the repository-local directory holding all indexes
	DirName = ".morph"
	// FileName is the database file inside a model directory
	FileName = "index.db"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrModelNotSet is returned when vectors are written before CheckModel
	ErrModelNotSet = errors.New("index model not set")
	// ErrDimensionMismatch is returned when a vector does not fit the index dimension
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// SQLiteStorage implements the Store interface using SQLite
type SQLiteStorage struct {
	db *sql.DB

	mu        sync.RWMutex
	model     string
	dimension int
}

// memoryPath opens a private in-memory database
const memoryPath = ":memory:"

// IndexPath returns the database location for a model under a repository root.
// modelDir must already be sanitized for use as a path element.
func IndexPath(root, modelDir string) string {
	return filepath.Join(root, DirName, modelDir, FileName)
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dataSourceName(dbPath))
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// Open creates the parent directory of dbPath and opens the store
func Open(dbPath string) (*SQLiteStorage, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	return NewSQLiteStorage(dbPath)
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to open database: %w", err))
	}

	ctx := context.Background()
	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, classify(fmt.Errorf("failed to apply migrations: %w", err))
	}

	s := &SQLiteStorage{db: db}
	if err := s.loadMeta(ctx); err != nil {
		_ = db.Close()
		return nil, classify(err)
	}
	return s, nil
}

// classify marks errors SQLite reports for damaged files as store corruption
func classify(err error) error {
	if err == nil || errors.Is(err, types.ErrStoreCorruption) {
		return err
	}
	msg := err.Error()
	for _, marker := range []string{"not a database", "malformed", "SQLITE_CORRUPT", "SQLITE_NOTADB"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %w", types.ErrStoreCorruption, err)
		}
	}
	return err
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// beginTx starts a new transaction
func (s *SQLiteStorage) beginTx(ctx context.Context) (*sqliteTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// write runs fn in a transaction and bumps the store generation on commit,
// so readers see either all or none of the change.
func (s *SQLiteStorage) write(ctx context.Context, fn func(t *sqliteTx) error) error {
	t, err := s.beginTx(ctx)
	if err != nil {
		return err
	}
	if err := fn(t); err != nil {
		_ = t.Rollback()
		return classify(err)
	}
	if err := bumpGenerationWithQuerier(ctx, t.querier()); err != nil {
		_ = t.Rollback()
		return classify(err)
	}
	if err := t.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// Model operations

func (s *SQLiteStorage) loadMeta(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM meta WHERE key IN ('model_id', 'dimension')")
	if err != nil {
		return fmt.Errorf("failed to read meta: %w", err)
	}
	defer func() { _ = rows.Close() }()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		switch key {
		case "model_id":
			s.model = value
		case "dimension":
			dim, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("%w: invalid dimension %q", types.ErrStoreCorruption, value)
			}
			s.dimension = dim
		}
	}
	return rows.Err()
}

// CheckModel verifies the store integrity and binds it to model on first use.
// A store built with another model or dimension returns types.ErrModelMismatch.
func (s *SQLiteStorage) CheckModel(ctx context.Context, model string, dimension int) error {
	if err := s.QuickCheck(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.model == "" {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO meta (key, value) VALUES ('model_id', ?), ('dimension', ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, model, strconv.Itoa(dimension))
		if err != nil {
			return classify(fmt.Errorf("failed to record model: %w", err))
		}
		s.model = model
		s.dimension = dimension
		return nil
	}

	if s.model != model {
		return fmt.Errorf("%w: index built with %q, configured model is %q", types.ErrModelMismatch, s.model, model)
	}
	if dimension > 0 && s.dimension != dimension {
		return fmt.Errorf("%w: index has dimension %d, model produces %d", types.ErrModelMismatch, s.dimension, dimension)
	}
	return nil
}

// Model returns the model id and dimension the store is bound to
func (s *SQLiteStorage) Model() (string, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model, s.dimension
}

// QuickCheck runs SQLite's integrity check
func (s *SQLiteStorage) QuickCheck(ctx context.Context) error {
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return classify(fmt.Errorf("quick_check failed: %w", err))
	}
	if result != "ok" {
		return fmt.Errorf("%w: quick_check: %s", types.ErrStoreCorruption, result)
	}
	return nil
}

// Symbol operations

const symbolColumns = `
	s.id, s.kind, s.name, s.qualified_name, s.path, s.language,
	s.start_byte, s.end_byte, s.start_line, s.end_line,
	s.content_hash, s.signature, s.doc, s.parent_id, s.embedding_hash,
	e.vector, e.dimension
`

const selectRecords = `SELECT ` + symbolColumns + `
	FROM symbols s
	LEFT JOIN embeddings e ON e.content_hash = s.embedding_hash AND e.model = ?
`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	var sym = &rec.Symbol
	var kind string
	var signature, doc, parentID, embeddingHash sql.NullString
	var blob []byte
	var dimension sql.NullInt64

	err := row.Scan(
		&sym.ID, &kind, &sym.Name, &sym.QualifiedName, &sym.Path, &sym.Language,
		&sym.Span.StartByte, &sym.Span.EndByte, &sym.Span.StartLine, &sym.Span.EndLine,
		&sym.ContentHash, &signature, &doc, &parentID, &embeddingHash,
		&blob, &dimension,
	)
	if err != nil {
		return nil, err
	}

	sym.Kind = types.SymbolKind(kind)
	sym.Signature = signature.String
	sym.Doc = doc.String
	sym.ParentID = parentID.String
	rec.EmbeddingHash = embeddingHash.String

	if blob != nil {
		vec, err := decodeVector(blob, int(dimension.Int64))
		if err != nil {
			return nil, fmt.Errorf("symbol %s: %w", sym.ID, err)
		}
		rec.Vector = vec
	}
	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// upsertRecordWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) upsertRecordWithQuerier(ctx context.Context, q querier, rec Record) error {
	sym := rec.Symbol
	if err := sym.Validate(); err != nil {
		return fmt.Errorf("invalid symbol %s: %w", sym.QualifiedName, err)
	}

	query := `
		INSERT INTO symbols (id, kind, name, qualified_name, path, language,
		                     start_byte, end_byte, start_line, end_line,
		                     content_hash, signature, doc, parent_id, embedding_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			qualified_name = excluded.qualified_name,
			path = excluded.path,
			language = excluded.language,
			start_byte = excluded.start_byte,
			end_byte = excluded.end_byte,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			content_hash = excluded.content_hash,
			signature = excluded.signature,
			doc = excluded.doc,
			parent_id = excluded.parent_id,
			embedding_hash = excluded.embedding_hash
	`
	_, err := q.ExecContext(ctx, query,
		sym.ID, string(sym.Kind), sym.Name, sym.QualifiedName, sym.Path, sym.Language,
		sym.Span.StartByte, sym.Span.EndByte, sym.Span.StartLine, sym.Span.EndLine,
		sym.ContentHash, nullString(sym.Signature), nullString(sym.Doc),
		nullString(sym.ParentID), nullString(rec.EmbeddingHash))
	if err != nil {
		return fmt.Errorf("failed to upsert symbol: %w", err)
	}

	if rec.EmbeddingHash != "" && len(rec.Vector) > 0 {
		model, _ := s.Model()
		if model == "" {
			return ErrModelNotSet
		}
		return s.putEmbeddingsWithQuerier(ctx, q, model, map[string][]float32{rec.EmbeddingHash: rec.Vector})
	}
	return nil
}

// Upsert stores one symbol and, when present, its vector
func (s *SQLiteStorage) Upsert(ctx context.Context, rec Record) error {
	return s.write(ctx, func(t *sqliteTx) error {
		return t.storage.upsertRecordWithQuerier(ctx, t.querier(), rec)
	})
}

// Get returns the symbol with id and its vector
func (s *SQLiteStorage) Get(ctx context.Context, id string) (*Record, error) {
	model, _ := s.Model()
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectRecords+" WHERE s.id = ?", model, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return rec, nil
}

// allWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) allWithQuerier(ctx context.Context, q querier) ([]Record, error) {
	model, _ := s.Model()
	rows, err := q.QueryContext(ctx, selectRecords+" ORDER BY s.id", model)
	if err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}
	return collectRecords(rows)
}

// All returns every symbol with its vector, sorted by id
func (s *SQLiteStorage) All(ctx context.Context) ([]Record, error) {
	records, err := s.allWithQuerier(ctx, s.querier())
	return records, classify(err)
}

// idsByFileWithQuerier returns the stored symbol ids of a file
func (s *SQLiteStorage) idsByFileWithQuerier(ctx context.Context, q querier, path string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, "SELECT id FROM symbols WHERE path = ?", path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// removeByFileWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) removeByFileWithQuerier(ctx context.Context, q querier, path string) error {
	for _, query := range []string{
		"DELETE FROM edges WHERE path = ?",
		"DELETE FROM symbols WHERE path = ?",
		"DELETE FROM files WHERE path = ?",
	} {
		if _, err := q.ExecContext(ctx, query, path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	return nil
}

// RemoveByFile deletes a file with all its symbols and edges. Embedding
// records stay: they are the cache and are keyed by content, not by file.
func (s *SQLiteStorage) RemoveByFile(ctx context.Context, path string) error {
	return s.write(ctx, func(t *sqliteTx) error {
		return t.storage.removeByFileWithQuerier(ctx, t.querier(), path)
	})
}

// ReplaceFile swaps the stored state of one file for update in a single
// transaction: ids no longer present are deleted, the rest are upserted and
// the file's edges are rewritten.
func (s *SQLiteStorage) ReplaceFile(ctx context.Context, update FileUpdate) (*FileDiff, error) {
	path := update.File.Path
	if path == "" {
		return nil, errors.New("file path is required")
	}
	for _, rec := range update.Records {
		if rec.Symbol.Path != path {
			return nil, fmt.Errorf("symbol %s belongs to %s, not %s", rec.Symbol.ID, rec.Symbol.Path, path)
		}
	}

	diff := &FileDiff{}
	err := s.write(ctx, func(t *sqliteTx) error {
		q := t.querier()
		existing, err := t.storage.idsByFileWithQuerier(ctx, q, path)
		if err != nil {
			return err
		}

		incoming := make(map[string]bool, len(update.Records))
		for _, rec := range update.Records {
			incoming[rec.Symbol.ID] = true
		}

		removed := make([]string, 0)
		for id := range existing {
			if !incoming[id] {
				removed = append(removed, id)
			}
		}
		sort.Strings(removed)
		for _, id := range removed {
			if _, err := q.ExecContext(ctx, "DELETE FROM symbols WHERE id = ?", id); err != nil {
				return fmt.Errorf("failed to delete symbol: %w", err)
			}
		}
		diff.Removed = len(removed)

		for _, rec := range update.Records {
			if existing[rec.Symbol.ID] {
				diff.Kept++
			} else {
				diff.Added++
			}
			if err := t.storage.upsertRecordWithQuerier(ctx, q, rec); err != nil {
				return err
			}
		}

		if _, err := q.ExecContext(ctx, "DELETE FROM edges WHERE path = ?", path); err != nil {
			return fmt.Errorf("failed to clear edges: %w", err)
		}
		for _, edge := range update.Edges {
			_, err := q.ExecContext(ctx, `
				INSERT OR IGNORE INTO edges (source, kind, target, target_name, path)
				VALUES (?, ?, ?, ?, ?)
			`, edge.Source, string(edge.Kind), edge.Target, edge.TargetName, path)
			if err != nil {
				return fmt.Errorf("failed to insert edge: %w", err)
			}
		}

		return t.storage.upsertFileWithQuerier(ctx, q, update.File)
	})
	if err != nil {
		return nil, err
	}
	return diff, nil
}

// File operations

// upsertFileWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) upsertFileWithQuerier(ctx context.Context, q querier, file types.SourceFile) error {
	query := `
		INSERT INTO files (path, content_hash, language, size_bytes, mod_time, last_indexed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			content_hash = excluded.content_hash,
			language = excluded.language,
			size_bytes = excluded.size_bytes,
			mod_time = excluded.mod_time,
			last_indexed_at = excluded.last_indexed_at
	`
	indexedAt := file.LastIndexedAt
	if indexedAt.IsZero() {
		indexedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, query,
		file.Path, file.ContentHash, file.Language, file.SizeBytes,
		nullTime(file.ModTime), indexedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert file: %w", err)
	}
	return nil
}

const fileColumns = `path, content_hash, language, size_bytes, mod_time, last_indexed_at`

func scanFile(row scanner) (*types.SourceFile, error) {
	var file types.SourceFile
	var size sql.NullInt64
	var modTime, indexedAt sql.NullTime
	if err := row.Scan(&file.Path, &file.ContentHash, &file.Language, &size, &modTime, &indexedAt); err != nil {
		return nil, err
	}
	file.SizeBytes = size.Int64
	if modTime.Valid {
		file.ModTime = modTime.Time
	}
	if indexedAt.Valid {
		file.LastIndexedAt = indexedAt.Time
	}
	return &file, nil
}

// GetFile returns the stored state of one file
func (s *SQLiteStorage) GetFile(ctx context.Context, path string) (*types.SourceFile, error) {
	file, err := scanFile(s.db.QueryRowContext(ctx, "SELECT "+fileColumns+" FROM files WHERE path = ?", path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return file, nil
}

// ListFiles returns all indexed files sorted by path
func (s *SQLiteStorage) ListFiles(ctx context.Context) ([]types.SourceFile, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+fileColumns+" FROM files ORDER BY path")
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list files: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var files []types.SourceFile
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *file)
	}
	return files, rows.Err()
}

// Embedding operations

// putEmbeddingsWithQuerier is the internal implementation that uses a querier.
// Existing records are left untouched.
func (s *SQLiteStorage) putEmbeddingsWithQuerier(ctx context.Context, q querier, model string, vectors map[string][]float32) error {
	boundModel, dimension := s.Model()

	hashes := make([]string, 0, len(vectors))
	for hash := range vectors {
		hashes = append(hashes, hash)
	}
	sort.Strings(hashes)

	for _, hash := range hashes {
		vec := vectors[hash]
		if len(vec) == 0 {
			return fmt.Errorf("%w: empty vector for %s", ErrDimensionMismatch, hash)
		}
		if model == boundModel && dimension > 0 && len(vec) != dimension {
			return fmt.Errorf("%w: got %d, index expects %d", ErrDimensionMismatch, len(vec), dimension)
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO embeddings (content_hash, model, dimension, vector)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(content_hash, model) DO NOTHING
		`, hash, model, len(vec), serializeVector(vec))
		if err != nil {
			return fmt.Errorf("failed to store embedding: %w", err)
		}
	}
	return nil
}

// PutEmbeddings stores vectors by content hash for model
func (s *SQLiteStorage) PutEmbeddings(ctx context.Context, model string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	t, err := s.beginTx(ctx)
	if err != nil {
		return err
	}
	if err := s.putEmbeddingsWithQuerier(ctx, t.querier(), model, vectors); err != nil {
		_ = t.Rollback()
		return classify(err)
	}
	return classify(t.Commit())
}

// embeddingLookupBatch bounds the number of parameters per query
const embeddingLookupBatch = 500

// GetEmbeddings returns the stored vectors of model for the hashes that exist
func (s *SQLiteStorage) GetEmbeddings(ctx context.Context, model string, hashes []string) (map[string][]float32, error) {
	found := make(map[string][]float32, len(hashes))

	for start := 0; start < len(hashes); start += embeddingLookupBatch {
		end := start + embeddingLookupBatch
		if end > len(hashes) {
			end = len(hashes)
		}
		batch := hashes[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		args := make([]interface{}, 0, len(batch)+1)
		args = append(args, model)
		for _, h := range batch {
			args = append(args, h)
		}

		rows, err := s.db.QueryContext(ctx,
			"SELECT content_hash, dimension, vector FROM embeddings WHERE model = ? AND content_hash IN ("+placeholders+")",
			args...)
		if err != nil {
			return nil, classify(fmt.Errorf("failed to read embeddings: %w", err))
		}
		err = func() error {
			defer func() { _ = rows.Close() }()
			for rows.Next() {
				var hash string
				var dimension int
				var blob []byte
				if err := rows.Scan(&hash, &dimension, &blob); err != nil {
					return err
				}
				vec, err := decodeVector(blob, dimension)
				if err != nil {
					return fmt.Errorf("embedding %s: %w", hash, err)
				}
				found[hash] = vec
			}
			return rows.Err()
		}()
		if err != nil {
			return nil, classify(err)
		}
	}
	return found, nil
}

// Search operations

func generationWithQuerier(ctx context.Context, q querier) (int64, error) {
	var gen int64
	err := q.QueryRowContext(ctx, "SELECT CAST(value AS INTEGER) FROM meta WHERE key = 'generation'").Scan(&gen)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return gen, err
}

func bumpGenerationWithQuerier(ctx context.Context, q querier) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ('generation', '1')
		ON CONFLICT(key) DO UPDATE SET value = CAST(CAST(value AS INTEGER) + 1 AS TEXT)
	`)
	if err != nil {
		return fmt.Errorf("failed to bump generation: %w", err)
	}
	return nil
}

// Generation returns the counter bumped by every committed symbol write
func (s *SQLiteStorage) Generation(ctx context.Context) (int64, error) {
	gen, err := generationWithQuerier(ctx, s.querier())
	return gen, classify(err)
}

// Snapshot reads symbols, vectors and edges in one transaction
func (s *SQLiteStorage) Snapshot(ctx context.Context) (*Snapshot, error) {
	t, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = t.Rollback() }()

	q := t.querier()
	model, dimension := s.Model()
	snap := &Snapshot{Model: model, Dimension: dimension}

	if snap.Generation, err = generationWithQuerier(ctx, q); err != nil {
		return nil, classify(err)
	}
	if snap.Records, err = s.allWithQuerier(ctx, q); err != nil {
		return nil, classify(err)
	}
	for i := range snap.Records {
		vec := snap.Records[i].Vector
		if vec != nil && dimension > 0 && len(vec) != dimension {
			return nil, fmt.Errorf("%w: symbol %s has a %d-dimensional vector, index dimension is %d",
				types.ErrStoreCorruption, snap.Records[i].Symbol.ID, len(vec), dimension)
		}
	}

	rows, err := q.QueryContext(ctx, "SELECT source, kind, target, target_name FROM edges ORDER BY source, kind, target, target_name")
	if err != nil {
		return nil, classify(fmt.Errorf("failed to read edges: %w", err))
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var edge types.Edge
		var kind string
		if err := rows.Scan(&edge.Source, &kind, &edge.Target, &edge.TargetName); err != nil {
			return nil, err
		}
		edge.Kind = types.EdgeKind(kind)
		snap.Edges = append(snap.Edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return snap, nil
}

// SearchText runs a full-text query over symbol names and paths
func (s *SQLiteStorage) SearchText(ctx context.Context, query string, limit int) ([]TextResult, error) {
	results, err := searchText(ctx, s.querier(), query, limit)
	return results, classify(err)
}

// Run operations

const runColumns = `id, root, status, started_at, finished_at, files_total, files_indexed,
	files_unchanged, files_failed, files_removed, symbols, embedding_failures, error`

func scanRun(row scanner) (*Run, error) {
	var run Run
	var status string
	var finishedAt sql.NullTime
	var runErr sql.NullString
	err := row.Scan(&run.ID, &run.Root, &status, &run.StartedAt, &finishedAt,
		&run.FilesTotal, &run.FilesIndexed, &run.FilesUnchanged, &run.FilesFailed,
		&run.FilesRemoved, &run.Symbols, &run.EmbeddingFailures, &runErr)
	if err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time
	}
	run.Error = runErr.String
	return &run, nil
}

// BeginRun records a new running index pass. Runs left running by a previous
// process are marked interrupted and listed in the returned run.
func (s *SQLiteStorage) BeginRun(ctx context.Context, root string) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Root:      root,
		Status:    RunRunning,
		StartedAt: time.Now().UTC(),
	}

	t, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = t.Rollback() }()
	q := t.querier()

	rows, err := q.QueryContext(ctx, "SELECT id FROM index_runs WHERE status = ? ORDER BY started_at, id", string(RunRunning))
	if err != nil {
		return nil, classify(fmt.Errorf("failed to read runs: %w", err))
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		run.Interrupted = append(run.Interrupted, id)
	}
	_ = rows.Close()

	if len(run.Interrupted) > 0 {
		_, err := q.ExecContext(ctx, "UPDATE index_runs SET status = ?, finished_at = ? WHERE status = ?",
			string(RunInterrupted), run.StartedAt, string(RunRunning))
		if err != nil {
			return nil, classify(fmt.Errorf("failed to mark interrupted runs: %w", err))
		}
	}

	_, err = q.ExecContext(ctx, "INSERT INTO index_runs (id, root, status, started_at) VALUES (?, ?, ?, ?)",
		run.ID, run.Root, string(run.Status), run.StartedAt)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to begin run: %w", err))
	}
	if err := t.Commit(); err != nil {
		return nil, classify(err)
	}
	return run, nil
}

// UpdateRun persists the counters and status of run
func (s *SQLiteStorage) UpdateRun(ctx context.Context, run *Run) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE index_runs SET
			status = ?, finished_at = ?, files_total = ?, files_indexed = ?, files_unchanged = ?,
			files_failed = ?, files_removed = ?, symbols = ?, embedding_failures = ?, error = ?
		WHERE id = ?
	`, string(run.Status), nullTime(run.FinishedAt), run.FilesTotal, run.FilesIndexed, run.FilesUnchanged,
		run.FilesFailed, run.FilesRemoved, run.Symbols, run.EmbeddingFailures, nullString(run.Error), run.ID)
	if err != nil {
		return classify(fmt.Errorf("failed to update run: %w", err))
	}
	return nil
}

// FinishRun stamps the finish time and persists run. A run still marked
// running is completed.
func (s *SQLiteStorage) FinishRun(ctx context.Context, run *Run) error {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}
	if run.Status == RunRunning || run.Status == "" {
		run.Status = RunCompleted
	}
	return s.UpdateRun(ctx, run)
}

// LastRun returns the most recently started run
func (s *SQLiteStorage) LastRun(ctx context.Context) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM index_runs ORDER BY started_at DESC, rowid DESC LIMIT 1"))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return run, nil
}

// Status operations

// Status reports counts, size and the last run of the index
func (s *SQLiteStorage) Status(ctx context.Context) (*IndexStatus, error) {
	model, dimension := s.Model()
	status := &IndexStatus{Model: model, Dimension: dimension}

	version, err := currentSchemaVersion(ctx, s.db)
	if err != nil {
		return nil, classify(err)
	}
	status.SchemaVersion = version.String()

	if status.Generation, err = s.Generation(ctx); err != nil {
		return nil, err
	}

	counts := []struct {
		dest  *int
		query string
		args  []interface{}
	}{
		{&status.Files, "SELECT COUNT(*) FROM files", nil},
		{&status.Symbols, "SELECT COUNT(*) FROM symbols", nil},
		{&status.Edges, "SELECT COUNT(*) FROM edges", nil},
		{&status.Embeddings, "SELECT COUNT(*) FROM embeddings WHERE model = ?", []interface{}{model}},
		{&status.UnavailableEmbeddings, "SELECT COUNT(*) FROM symbols WHERE embedding_hash IS NULL", nil},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, c.args...).Scan(c.dest); err != nil {
			return nil, classify(err)
		}
	}

	// Calculate database size
	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.SizeBytes = pageCount * pageSize
	}

	run, err := s.LastRun(ctx)
	switch {
	case err == nil:
		status.LastRun = run
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}
	return status, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
