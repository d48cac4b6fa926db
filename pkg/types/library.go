package types

import (
	"errors"
	"time"
)

// EmbeddingInfo records which model produced a library's vectors. Dimensions
// is fixed at creation time; every stored embedding must match it.
type EmbeddingInfo struct {
	Model      string
	Dimensions int
}

// ChunkingInfo records how a library's chunks were produced.
type ChunkingInfo struct {
	Strategy     ChunkStrategy
	ChunkSize    int
	ChunkOverlap int
}

// LibraryStats is maintained by the storage engine as chunks are added.
type LibraryStats struct {
	ChunkCount  int
	SourceCount int
	FileSize    int64
}

// LibraryMetadata is the single metadata record stored in every library file.
type LibraryMetadata struct {
	Name           string
	Version        string
	Description    string
	ContentVersion string
	SchemaVersion  int
	CreatedAt      time.Time
	Embedding      EmbeddingInfo
	Chunking       ChunkingInfo
	Stats          LibraryStats
	Source         string
	License        string
}

// Validate checks the invariants required before a library can be created.
func (m *LibraryMetadata) Validate() error {
	if m.Name == "" {
		return errors.New("library name is required")
	}
	if m.Embedding.Dimensions <= 0 {
		return errors.New("embedding dimensions must be positive")
	}
	if m.Chunking.ChunkSize <= 0 {
		return errors.New("chunk size must be positive")
	}
	if m.Chunking.ChunkOverlap < 0 || m.Chunking.ChunkOverlap >= m.Chunking.ChunkSize {
		return errors.New("chunk overlap must be in [0, chunkSize)")
	}
	return nil
}
