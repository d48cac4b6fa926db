package chunker

import (
	"context"

	"github.com/dshills/docpack-mcp/pkg/types"
)

// ASTChunk is the external AST capability's output shape. Line ranges are
// 0-indexed on this boundary; the adapter converts to the engine's 1-indexed
// convention.
type ASTChunk struct {
	// Text is the raw chunk as it appears in the source.
	Text string

	// ContextualizedText is the embedding-optimized rendering with scope,
	// entity, and import context interleaved. May be larger than Text.
	ContextualizedText string

	StartLine int // 0-indexed
	EndLine   int // 0-indexed, inclusive

	Context types.CodeContext
}

// ASTOptions is forwarded verbatim to the AST capability.
type ASTOptions struct {
	// MaxChunkSize bounds a single chunk's size in characters.
	MaxChunkSize int

	// ContextMode controls context richness: none, minimal, or full.
	ContextMode types.ContextMode

	// OverlapLines is the number of lines repeated between adjacent chunks.
	OverlapLines int
}

// ASTChunker is the consumed AST-parsing capability. Implementations parse
// (content, language) into semantically bounded chunks; the engine never
// parses any grammar itself. An error from Chunk is treated as a parse
// failure and handled by the text-splitter fallback.
type ASTChunker interface {
	// Languages returns the language names the capability can parse.
	Languages() []string

	Chunk(ctx context.Context, filePath, content string, opts ASTOptions) ([]ASTChunk, error)
}
