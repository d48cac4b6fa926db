package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/dshills/docpack-mcp/pkg/types"
)

// SQLiteStore implements the Store interface over a single SQLite file.
type SQLiteStore struct {
	db       *sql.DB
	path     string
	readOnly bool
	closed   atomic.Bool

	// dimensions is read once at open; every embedding written or searched
	// against must match it.
	dimensions int
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string, readOnly bool) (*sql.DB, error) {
	dsn := dbPath
	if readOnly {
		dsn = "file:" + dbPath + "?mode=ro"
	}
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, err
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if !readOnly {
		// Enable WAL mode for better concurrency
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	return db, nil
}

// Create creates a new library file at path with the given metadata. An
// existing file fails with ErrAlreadyExists unless overwrite is set.
func Create(path string, metadata *types.LibraryMetadata, overwrite bool) (*SQLiteStore, error) {
	if err := metadata.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}

	if _, err := os.Stat(path); err == nil {
		if !overwrite {
			return nil, fmt.Errorf("%w: %s", types.ErrAlreadyExists, path)
		}
		for _, p := range []string{path, path + "-wal", path + "-shm"} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to remove existing library: %w", err)
			}
		}
	}

	db, err := openDatabase(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, schemaCurrent); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", CurrentSchemaVersion); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to write schema version: %w", err)
	}

	now := time.Now().UTC()
	_, err = db.ExecContext(ctx, `
		INSERT INTO library (
			id, name, version, description, content_version,
			embedding_model, embedding_dimensions,
			chunk_strategy, chunk_size, chunk_overlap,
			source, license, created_at
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		metadata.Name, metadata.Version, metadata.Description, metadata.ContentVersion,
		metadata.Embedding.Model, metadata.Embedding.Dimensions,
		string(metadata.Chunking.Strategy), metadata.Chunking.ChunkSize, metadata.Chunking.ChunkOverlap,
		metadata.Source, metadata.License, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to write library metadata: %w", err)
	}

	metadata.SchemaVersion = CurrentSchemaVersion
	metadata.CreatedAt = now

	return &SQLiteStore{db: db, path: path, dimensions: metadata.Embedding.Dimensions}, nil
}

// Open opens an existing library file. A file written by a newer build fails
// with ErrSchemaVersion; an older file fails with ErrMigrationRequired until
// migrated.
func Open(path string, readOnly bool) (*SQLiteStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, path)
	}

	db, err := openDatabase(path, readOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx := context.Background()
	version, err := readSchemaVersion(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := checkSchemaVersion(version); err != nil {
		_ = db.Close()
		return nil, err
	}

	var dimensions int
	if err := db.QueryRowContext(ctx, "SELECT embedding_dimensions FROM library WHERE id = 1").Scan(&dimensions); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: missing library metadata: %v", types.ErrCorrupted, err)
	}

	return &SQLiteStore{db: db, path: path, readOnly: readOnly, dimensions: dimensions}, nil
}

// Path returns the library file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database connection. Subsequent calls on the store fail
// with ErrClosed.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return fmt.Errorf("%w: library already closed", types.ErrClosed)
	}
	return s.db.Close()
}

func (s *SQLiteStore) checkOpen() error {
	if s.closed.Load() {
		return fmt.Errorf("%w: library is closed", types.ErrClosed)
	}
	return nil
}

func (s *SQLiteStore) checkWritable() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.readOnly {
		return fmt.Errorf("%w: library opened read-only", types.ErrConfiguration)
	}
	return nil
}

// AddChunks appends chunks and their embeddings in one transaction. Ids are
// assigned by insertion order, so callers persisting one source file per
// call get a contiguous id run per file.
func (s *SQLiteStore) AddChunks(ctx context.Context, chunks []types.Chunk, embeddings [][]float32, contentVersion string) ([]int64, error) {
	if err := s.checkWritable(); err != nil {
		return nil, err
	}
	if len(chunks) != len(embeddings) {
		return nil, fmt.Errorf("%w: %d chunks with %d embeddings", types.ErrConfiguration, len(chunks), len(embeddings))
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	for i, emb := range embeddings {
		if len(emb) != s.dimensions {
			return nil, fmt.Errorf("%w: embedding %d has %d dimensions, library expects %d",
				types.ErrCorrupted, i, len(emb), s.dimensions)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	ids := make([]int64, 0, len(chunks))
	for i := range chunks {
		id, err := insertChunk(ctx, tx, &chunks[i], embeddings[i], contentVersion)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := updateStats(ctx, tx); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// insertChunk writes one chunk row and returns its assigned id.
func insertChunk(ctx context.Context, q querier, chunk *types.Chunk, embedding []float32, contentVersion string) (int64, error) {
	var embeddingContent interface{}
	if chunk.EmbeddingContent != "" {
		embeddingContent = chunk.EmbeddingContent
	}

	var codeContext interface{}
	if !chunk.Metadata.CodeContext.Empty() {
		encoded, err := json.Marshal(chunk.Metadata.CodeContext)
		if err != nil {
			return 0, fmt.Errorf("failed to encode code context: %w", err)
		}
		codeContext = string(encoded)
	}

	query := `
		INSERT INTO chunks (
			content, embedding_content, embedding,
			source_file, start_line, end_line, language,
			token_count, content_version, code_context
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := q.ExecContext(ctx, query,
		chunk.Content, embeddingContent, serializeVector(embedding),
		chunk.Metadata.SourceFile, chunk.Metadata.StartLine, chunk.Metadata.EndLine,
		chunk.Metadata.Language, chunk.TokenCount, contentVersion, codeContext,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert chunk: %w", err)
	}
	return result.LastInsertId()
}

// updateStats refreshes the counters on the library row.
func updateStats(ctx context.Context, q querier) error {
	_, err := q.ExecContext(ctx, `
		UPDATE library SET
			chunk_count = (SELECT COUNT(*) FROM chunks),
			source_count = (SELECT COUNT(DISTINCT source_file) FROM chunks)
		WHERE id = 1
	`)
	if err != nil {
		return fmt.Errorf("failed to update library stats: %w", err)
	}
	return nil
}

// Metadata returns the library metadata with stats refreshed.
func (s *SQLiteStore) Metadata(ctx context.Context) (*types.LibraryMetadata, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT name, version, description, content_version,
		       embedding_model, embedding_dimensions,
		       chunk_strategy, chunk_size, chunk_overlap,
		       chunk_count, source_count, source, license, created_at
		FROM library
		WHERE id = 1
	`
	var meta types.LibraryMetadata
	var strategy, createdAt string
	err := s.db.QueryRowContext(ctx, query).Scan(
		&meta.Name, &meta.Version, &meta.Description, &meta.ContentVersion,
		&meta.Embedding.Model, &meta.Embedding.Dimensions,
		&strategy, &meta.Chunking.ChunkSize, &meta.Chunking.ChunkOverlap,
		&meta.Stats.ChunkCount, &meta.Stats.SourceCount,
		&meta.Source, &meta.License, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: missing library metadata", types.ErrCorrupted)
	}
	if err != nil {
		return nil, err
	}
	meta.Chunking.Strategy = types.ChunkStrategy(strategy)
	if parsed, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		meta.CreatedAt = parsed
	}

	version, err := readSchemaVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}
	meta.SchemaVersion = version

	if info, err := os.Stat(s.path); err == nil {
		meta.Stats.FileSize = info.Size()
	}

	return &meta, nil
}

// VectorSearch returns the top chunks by cosine similarity.
func (s *SQLiteStore) VectorSearch(ctx context.Context, queryVector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if len(queryVector) != s.dimensions {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, library expects %d",
			types.ErrConfiguration, len(queryVector), s.dimensions)
	}
	return searchVector(ctx, s.db, queryVector, limit, filters)
}

// FTSSearch returns the top chunks by BM25 relevance.
func (s *SQLiteStore) FTSSearch(ctx context.Context, query string, limit int, filters *SearchFilters) ([]FTSResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return searchFTS(ctx, s.db, query, limit, filters)
}

const chunkColumns = `
	id, content, embedding_content, embedding,
	source_file, start_line, end_line, language,
	token_count, content_version, code_context
`

// GetChunk returns one stored chunk by id.
func (s *SQLiteStore) GetChunk(ctx context.Context, chunkID int64) (*types.StoredChunk, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, "SELECT "+chunkColumns+" FROM chunks WHERE id = ?", chunkID)
	chunk, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: chunk %d", types.ErrNotFound, chunkID)
	}
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

// GetByIDRange returns the chunks in [lo, hi] belonging to sourceFile, in id
// order. Neighboring ids from other files are excluded, which clips context
// expansion at file boundaries.
func (s *SQLiteStore) GetByIDRange(ctx context.Context, sourceFile string, lo, hi int64) ([]types.StoredChunk, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if hi < lo {
		return nil, nil
	}

	query := "SELECT " + chunkColumns + " FROM chunks WHERE id BETWEEN ? AND ? AND source_file = ? ORDER BY id"
	rows, err := s.db.QueryContext(ctx, query, lo, hi, sourceFile)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	chunks := make([]types.StoredChunk, 0)
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *chunk)
	}
	return chunks, rows.Err()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanChunk reads one chunk row. Legacy rows predating embedding content
// simply leave EmbeddingContent empty; EmbeddingText falls back to Content.
func scanChunk(row rowScanner) (*types.StoredChunk, error) {
	var chunk types.StoredChunk
	var embeddingContent sql.NullString
	var embeddingBlob []byte
	var codeContext sql.NullString

	err := row.Scan(
		&chunk.ID, &chunk.Content, &embeddingContent, &embeddingBlob,
		&chunk.Metadata.SourceFile, &chunk.Metadata.StartLine, &chunk.Metadata.EndLine,
		&chunk.Metadata.Language, &chunk.TokenCount, &chunk.ContentVersion, &codeContext,
	)
	if err != nil {
		return nil, err
	}

	if embeddingContent.Valid {
		chunk.EmbeddingContent = embeddingContent.String
	}
	chunk.Embedding = deserializeVector(embeddingBlob)

	if codeContext.Valid && codeContext.String != "" {
		var cc types.CodeContext
		if err := json.Unmarshal([]byte(codeContext.String), &cc); err != nil {
			return nil, fmt.Errorf("%w: invalid code context on chunk %d: %v", types.ErrCorrupted, chunk.ID, err)
		}
		chunk.Metadata.CodeContext = &cc
	}

	return &chunk, nil
}
