package types

import "fmt"

// ChunkStrategy identifies which chunking path produced a library's chunks.
type ChunkStrategy string

const (
	// StrategyText is the boundary-aware sliding-window splitter.
	StrategyText ChunkStrategy = "text"
	// StrategyAST is semantic chunking via the external AST capability.
	StrategyAST ChunkStrategy = "ast"
)

// ContextMode controls how much semantic context the AST capability renders
// into a chunk's embedding content, and whether CodeContext is persisted.
type ContextMode string

const (
	ContextModeNone    ContextMode = "none"
	ContextModeMinimal ContextMode = "minimal"
	ContextModeFull    ContextMode = "full"
)

// ParseContextMode validates a user-supplied mode string. Empty selects the
// full mode.
func ParseContextMode(s string) (ContextMode, error) {
	switch ContextMode(s) {
	case "":
		return ContextModeFull, nil
	case ContextModeNone, ContextModeMinimal, ContextModeFull:
		return ContextMode(s), nil
	}
	return "", fmt.Errorf("%w: context mode must be none, minimal, or full, got %q", ErrConfiguration, s)
}

// ScopeEntry is one level of the enclosing-scope chain for a code chunk.
type ScopeEntry struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Signature string `json:"signature,omitempty"`
}

// EntityEntry describes an entity defined (fully or partially) inside a chunk.
type EntityEntry struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Signature string `json:"signature,omitempty"`
	Docstring string `json:"docstring,omitempty"`
	LineRange []int  `json:"lineRange,omitempty"`
	IsPartial bool   `json:"isPartial,omitempty"`
}

// SiblingEntry describes an entity adjacent to the chunk in the same scope.
type SiblingEntry struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Position string `json:"position"` // "before" or "after"
	Distance int    `json:"distance"`
}

// ImportEntry describes an import visible to the chunk.
type ImportEntry struct {
	Name        string `json:"name"`
	Source      string `json:"source"`
	IsDefault   bool   `json:"isDefault,omitempty"`
	IsNamespace bool   `json:"isNamespace,omitempty"`
}

// CodeContext carries the semantic annotations the AST capability produced
// for a chunk. Purely descriptive; never drives storage identity.
type CodeContext struct {
	Scope    []ScopeEntry   `json:"scope,omitempty"`
	Entities []EntityEntry  `json:"entities,omitempty"`
	Siblings []SiblingEntry `json:"siblings,omitempty"`
	Imports  []ImportEntry  `json:"imports,omitempty"`
}

// Empty reports whether the context carries no annotations at all.
func (c *CodeContext) Empty() bool {
	return c == nil || (len(c.Scope) == 0 && len(c.Entities) == 0 &&
		len(c.Siblings) == 0 && len(c.Imports) == 0)
}

// ChunkMetadata is the positional metadata attached to every chunk. Lines are
// 1-indexed and zero when the source is not line-oriented.
type ChunkMetadata struct {
	SourceFile  string
	StartLine   int
	EndLine     int
	Language    string
	CodeContext *CodeContext
}

// Chunk is one retrievable unit produced by the build pipeline, before
// storage assigns identity.
type Chunk struct {
	// Content is the raw text as it appeared in the source, for display.
	Content string

	// EmbeddingContent is the text fed to the embedder. Empty means "use
	// Content"; AST-derived chunks carry a contextualized rendering here,
	// which may be larger than Content.
	EmbeddingContent string

	Metadata ChunkMetadata

	// TokenCount is an estimate of EmbeddingText's size in model tokens.
	TokenCount int
}

// EmbeddingText returns the text to embed, falling back to Content when no
// embedding-optimized rendering exists. The same fallback applies when
// reading legacy library files that predate embedding content.
func (c *Chunk) EmbeddingText() string {
	if c.EmbeddingContent != "" {
		return c.EmbeddingContent
	}
	return c.Content
}

// StoredChunk is a Chunk plus storage-assigned fields. ID is monotonically
// increasing in document order within a source file, which is what makes
// context-before/after reconstruction possible after chunking destroyed
// document locality.
type StoredChunk struct {
	Chunk

	ID             int64
	Embedding      []float32
	ContentVersion string
}
