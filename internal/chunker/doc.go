// Package chunker adapts the external AST chunking capability to the
// engine's chunk records.
//
// The adapter owns three decisions and nothing else:
//
//   - Support: recognized by file extension (case-insensitive), resolved
//     through enry's linguist data and the capability's language list.
//   - Mapping: the capability's 0-indexed line ranges become 1-indexed, and
//     every mapped chunk's EmbeddingContent is set to the contextualized
//     rendering, even when that rendering is larger than the raw text.
//   - Failure shape: ChunkText fails with ErrUnsupportedFileType or
//     ErrParseFailure; TryChunkText returns the tagged ChunkOutcome the
//     record builder uses as the single fallback decision point.
//
// Parsing itself belongs entirely to the injected ASTChunker capability.
package chunker
