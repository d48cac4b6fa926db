package types

// SearchResult is a single ranked hit with optional surrounding context.
type SearchResult struct {
	ChunkID int64
	Rank    int // 1-based position in the result set

	// Score is the fused relevance in [0,1] (or the reranker's score when
	// reranking replaced the ordering).
	Score float64

	// Per-signal scores, normalized to [0,1] within their candidate set.
	// Zero when the chunk was absent from that signal's candidates.
	VectorScore  float64
	LexicalScore float64

	Content        string
	Metadata       ChunkMetadata
	ContentVersion string

	// ContextBefore/ContextAfter hold adjacent chunks from the same source
	// file, in document order, when context expansion was requested.
	ContextBefore []StoredChunk
	ContextAfter  []StoredChunk
}

// ChunkOutcomeKind tags the result of an attempted semantic chunking.
type ChunkOutcomeKind int

const (
	// ChunkOK means semantic chunking succeeded.
	ChunkOK ChunkOutcomeKind = iota
	// ChunkUnsupported means the file type is not recognized.
	ChunkUnsupported
	// ChunkParseFailed means the AST capability failed on the content.
	ChunkParseFailed
)

// ChunkOutcome is the tagged result of the semantic chunking path. The
// fallback decision is made at exactly one point (the record builder) by
// inspecting the tag, rather than by errors crossing layers.
type ChunkOutcome struct {
	Kind   ChunkOutcomeKind
	Chunks []Chunk
	Err    error // set for ChunkParseFailed
}

// Ok reports whether the outcome carries usable chunks.
func (o ChunkOutcome) Ok() bool { return o.Kind == ChunkOK }
