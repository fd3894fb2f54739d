package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/dshills/codemorph/pkg/types"
)

// searchText performs BM25 full-text search using FTS5
func searchText(ctx context.Context, q querier, query string, limit int) ([]TextResult, error) {
	sanitized := sanitizeFTSQuery(query)
	if sanitized == "" || limit <= 0 {
		return []TextResult{}, nil
	}

	sqlQuery := `
		SELECT s.id, bm25(symbols_fts) AS score
		FROM symbols_fts
		INNER JOIN symbols s ON s.rowid = symbols_fts.rowid
		WHERE symbols_fts MATCH ?
		ORDER BY score, s.id
		LIMIT ?
	`
	rows, err := q.QueryContext(ctx, sqlQuery, sanitized, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]TextResult, 0)
	for rows.Next() {
		var result TextResult
		if err := rows.Scan(&result.SymbolID, &result.BM25Score); err != nil {
			return nil, err
		}
		// Convert BM25 score (negative, lower is better) to positive normalized score
		// BM25 scores are typically in range [-50, 0]
		result.BM25Score = 1.0 / (1.0 + math.Abs(result.BM25Score)/50.0)
		results = append(results, result)
	}
	return results, rows.Err()
}

// ftsTerm matches the words FTS5's unicode61 tokenizer indexes
var ftsTerm = regexp.MustCompile(`[\p{L}\p{N}]+`)

// FTS5 operators are dropped rather than escaped
var ftsOperators = map[string]bool{"AND": true, "OR": true, "NOT": true, "NEAR": true}

// sanitizeFTSQuery turns free text into a safe FTS5 expression: every word
// becomes a quoted term and terms are joined with OR. Operators and syntax
// characters never reach FTS5.
func sanitizeFTSQuery(query string) string {
	words := ftsTerm.FindAllString(query, -1)
	seen := make(map[string]bool, len(words))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if ftsOperators[w] {
			continue
		}
		key := strings.ToLower(w)
		if seen[key] {
			continue
		}
		seen[key] = true
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// decodeVector deserializes a stored vector and checks it against its
// recorded dimension. A mismatch means the row was damaged.
func decodeVector(blob []byte, dimension int) ([]float32, error) {
	if len(blob)%4 != 0 || len(blob)/4 != dimension {
		return nil, fmt.Errorf("%w: vector of %d bytes recorded with dimension %d",
			types.ErrStoreCorruption, len(blob), dimension)
	}
	return deserializeVector(blob), nil
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// their lengths differ or either is zero
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
