package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/dshills/docpack-mcp/pkg/types"
)

// searchVector performs vector similarity search using cosine similarity
func searchVector(ctx context.Context, db *sql.DB, queryVector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	if limit <= 0 {
		return []VectorResult{}, nil
	}
	// Use SQL-based search when sqlite-vec is available
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, db, queryVector, limit, filters)
	}
	// Fall back to Go-based computation for purego builds
	return searchVectorFallback(ctx, db, queryVector, limit, filters)
}

// searchVectorOptimized uses the sqlite-vec extension to compute distances at
// the database layer.
func searchVectorOptimized(ctx context.Context, db *sql.DB, queryVector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	queryVectorBlob := serializeVector(queryVector)

	// vec_distance_cosine returns distance (lower is better); convert to
	// similarity to keep one score convention across build modes.
	query := `
		SELECT
			id,
			1.0 - vec_distance_cosine(embedding, ?) as similarity
		FROM chunks
		WHERE 1=1
	`
	args := []interface{}{queryVectorBlob}
	query, args = applyChunkFilters(query, args, filters)

	query += " ORDER BY similarity DESC, id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]VectorResult, 0, limit)
	for rows.Next() {
		var result VectorResult
		if err := rows.Scan(&result.ChunkID, &result.Score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// searchVectorFallback scans all candidate embeddings and computes cosine
// similarity in Go. Used when sqlite-vec is not available (purego builds).
func searchVectorFallback(ctx context.Context, db *sql.DB, queryVector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	query := `SELECT id, embedding FROM chunks WHERE 1=1`
	args := []interface{}{}
	query, args = applyChunkFilters(query, args, filters)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates := make([]VectorResult, 0, 1000)
	for rows.Next() {
		var chunkID int64
		var blob []byte
		if err := rows.Scan(&chunkID, &blob); err != nil {
			return nil, err
		}

		vector := deserializeVector(blob)
		if len(vector) != len(queryVector) {
			return nil, fmt.Errorf("%w: chunk %d has embedding of %d dimensions, expected %d",
				types.ErrCorrupted, chunkID, len(vector), len(queryVector))
		}
		candidates = append(candidates, VectorResult{
			ChunkID: chunkID,
			Score:   cosineSimilarity(queryVector, vector),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ChunkID < candidates[j].ChunkID
	})

	if limit > len(candidates) {
		limit = len(candidates)
	}
	return candidates[:limit], nil
}

// searchFTS performs BM25 full-text search using FTS5
func searchFTS(ctx context.Context, db *sql.DB, query string, limit int, filters *SearchFilters) ([]FTSResult, error) {
	if limit <= 0 {
		return []FTSResult{}, nil
	}
	sanitized := sanitizeFTSQuery(query)
	if sanitized == "" {
		return []FTSResult{}, nil
	}

	// bm25() is negative, lower is better; sort raw then normalize
	sqlQuery := `
		SELECT
			c.id,
			bm25(chunks_fts) as score
		FROM chunks_fts
		INNER JOIN chunks c ON chunks_fts.rowid = c.id
		WHERE chunks_fts MATCH ?
	`
	args := []interface{}{sanitized}

	if filters != nil {
		if filters.ContentVersion != "" {
			sqlQuery += " AND c.content_version = ?"
			args = append(args, filters.ContentVersion)
		}
		if filters.SourceFile != "" {
			sqlQuery += " AND c.source_file = ?"
			args = append(args, filters.SourceFile)
		}
	}

	sqlQuery += " ORDER BY score ASC, c.id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]FTSResult, 0, limit)
	for rows.Next() {
		var result FTSResult
		if err := rows.Scan(&result.ChunkID, &result.Score); err != nil {
			return nil, err
		}
		// Map BM25 (typically in [-50, 0]) onto (0, 1], higher is better
		result.Score = 1.0 / (1.0 + math.Abs(result.Score)/50.0)
		results = append(results, result)
	}
	return results, rows.Err()
}

// applyChunkFilters adds WHERE clause filters on the chunks table.
func applyChunkFilters(query string, args []interface{}, filters *SearchFilters) (string, []interface{}) {
	if filters == nil {
		return query, args
	}
	if filters.ContentVersion != "" {
		query += " AND content_version = ?"
		args = append(args, filters.ContentVersion)
	}
	if filters.SourceFile != "" {
		query += " AND source_file = ?"
		args = append(args, filters.SourceFile)
	}
	return query, args
}

// sanitizeFTSQuery turns free text into a safe FTS5 MATCH expression. Each
// term is double-quoted so user input can never inject FTS5 operators, and
// terms are OR-joined to keep the lexical leg recall-friendly.
func sanitizeFTSQuery(query string) string {
	terms := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(terms) == 0 {
		return ""
	}

	quoted := make([]string, len(terms))
	for i, term := range terms {
		quoted[i] = `"` + term + `"`
	}
	return strings.Join(quoted, " OR ")
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

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity is an exported helper for testing
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
