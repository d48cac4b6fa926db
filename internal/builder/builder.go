// Package builder normalizes both chunking paths into uniform chunk records.
//
// The builder owns the single fallback decision: a file goes through the
// semantic adapter first, and on an Unsupported or ParseFailed outcome it is
// retried with the text splitter. Content is never dropped.
package builder

import (
	"context"

	"github.com/pkoukk/tiktoken-go"

	"github.com/dshills/docpack-mcp/internal/chunker"
	"github.com/dshills/docpack-mcp/internal/splitter"
	"github.com/dshills/docpack-mcp/pkg/types"
)

// tokenEncoding matches OpenAI's text-embedding-3 family.
const tokenEncoding = "cl100k_base"

// FileChunks is the normalized result of chunking one file.
type FileChunks struct {
	Chunks   []types.Chunk
	Strategy types.ChunkStrategy

	// FallbackErr is set when the semantic path failed and the text
	// splitter was used instead. Surfaced as a build warning, never fatal.
	FallbackErr error
}

// Builder turns file content into uniform chunk records.
type Builder struct {
	adapter  *chunker.Adapter
	splitter *splitter.Splitter
	encoder  *tiktoken.Tiktoken

	// noAST forces every file through the text splitter.
	noAST bool
}

// New creates a Builder. When noAST is set the semantic adapter is bypassed
// entirely.
func New(adapter *chunker.Adapter, split *splitter.Splitter, noAST bool) *Builder {
	// Token counts are advisory (build stats, size tuning). When the BPE
	// data is unavailable we fall back to the chars/4 heuristic rather
	// than failing the build.
	encoder, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		encoder = nil
	}
	return &Builder{adapter: adapter, splitter: split, encoder: encoder, noAST: noAST}
}

// BuildFile chunks one file's content. Empty content yields no chunks. The
// semantic path is tried first when enabled and supported; any other
// outcome falls back to the text splitter at this one decision point.
func (b *Builder) BuildFile(ctx context.Context, content, filePath string) FileChunks {
	if content == "" {
		return FileChunks{Strategy: types.StrategyText}
	}

	if !b.noAST && b.adapter != nil {
		outcome := b.adapter.TryChunkText(ctx, content, filePath)
		if outcome.Ok() {
			return FileChunks{
				Chunks:   b.finalize(outcome.Chunks),
				Strategy: types.StrategyAST,
			}
		}
		if outcome.Kind == types.ChunkParseFailed {
			// Recoverable: retry with the splitter, keep the cause for
			// the build summary.
			fc := b.splitText(content, filePath)
			fc.FallbackErr = outcome.Err
			return fc
		}
	}

	return b.splitText(content, filePath)
}

// splitText is the plain-text path. EmbeddingContent stays empty, meaning
// "embed the raw content".
func (b *Builder) splitText(content, filePath string) FileChunks {
	pieces := b.splitter.Split(content)
	chunks := make([]types.Chunk, 0, len(pieces))
	for _, p := range pieces {
		startLine, endLine := splitter.LineRange(content, p)
		chunks = append(chunks, types.Chunk{
			Content: p.Content,
			Metadata: types.ChunkMetadata{
				SourceFile: filePath,
				StartLine:  startLine,
				EndLine:    endLine,
			},
		})
	}
	return FileChunks{Chunks: b.finalize(chunks), Strategy: types.StrategyText}
}

// finalize stamps token counts on every chunk.
func (b *Builder) finalize(chunks []types.Chunk) []types.Chunk {
	for i := range chunks {
		chunks[i].TokenCount = b.CountTokens(chunks[i].EmbeddingText())
	}
	return chunks
}

// CountTokens estimates the token length of text.
func (b *Builder) CountTokens(text string) int {
	if b.encoder != nil {
		return len(b.encoder.Encode(text, nil, nil))
	}
	return len(text) / 4
}
