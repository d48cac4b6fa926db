package storage

import (
	"context"

	"github.com/dshills/docpack-mcp/pkg/types"
)

// SearchFilters narrows search candidates before ranking. Filters apply in
// SQL, so filtered rows never compete for candidate slots.
type SearchFilters struct {
	// ContentVersion restricts results to chunks tagged with this exact
	// version. Empty means no restriction.
	ContentVersion string

	// SourceFile restricts results to chunks from one source file.
	SourceFile string
}

// VectorResult is one vector-search candidate. Score is cosine similarity,
// higher is better.
type VectorResult struct {
	ChunkID int64
	Score   float64
}

// FTSResult is one full-text candidate. Score is the BM25 rank mapped onto
// (0,1], higher is better.
type FTSResult struct {
	ChunkID int64
	Score   float64
}

// Store is the persistence surface of a single library file. Chunks are
// append-only; ids are assigned monotonically in insertion order, so chunks
// added file-by-file stay contiguous per source file.
type Store interface {
	// Metadata returns the library metadata record, with stats refreshed.
	Metadata(ctx context.Context) (*types.LibraryMetadata, error)

	// AddChunks appends chunks with their embeddings atomically and returns
	// the assigned ids in input order. Every embedding must match the
	// library's declared dimensions.
	AddChunks(ctx context.Context, chunks []types.Chunk, embeddings [][]float32, contentVersion string) ([]int64, error)

	// VectorSearch returns up to limit chunks by cosine similarity,
	// descending, ties broken by lower id.
	VectorSearch(ctx context.Context, queryVector []float32, limit int, filters *SearchFilters) ([]VectorResult, error)

	// FTSSearch returns up to limit chunks by BM25 relevance, best first,
	// ties broken by lower id.
	FTSSearch(ctx context.Context, query string, limit int, filters *SearchFilters) ([]FTSResult, error)

	// GetChunk returns one stored chunk by id, or ErrNotFound.
	GetChunk(ctx context.Context, chunkID int64) (*types.StoredChunk, error)

	// GetByIDRange returns chunks with id in [lo, hi] that belong to
	// sourceFile, in id order. Ids outside the file are skipped, which is
	// how context expansion clips at file boundaries.
	GetByIDRange(ctx context.Context, sourceFile string, lo, hi int64) ([]types.StoredChunk, error)

	// Path returns the library file path.
	Path() string

	// Close releases the underlying database. Any call after Close fails
	// with ErrClosed.
	Close() error
}
