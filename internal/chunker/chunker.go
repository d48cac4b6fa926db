package chunker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-enry/go-enry/v2"

	"github.com/dshills/docpack-mcp/pkg/types"
)

// Adapter wraps the external AST capability and maps its output into the
// engine's chunk records. It decides support purely by file extension
// (case-insensitive); parsing itself is delegated to the capability.
type Adapter struct {
	capability ASTChunker
	opts       ASTOptions

	// languages supported by the capability, keyed by lower-case name.
	languages map[string]struct{}
}

// New creates an Adapter over the given capability. Options are forwarded
// verbatim on every Chunk call.
func New(capability ASTChunker, opts ASTOptions) *Adapter {
	langs := make(map[string]struct{})
	if capability != nil {
		for _, l := range capability.Languages() {
			langs[strings.ToLower(l)] = struct{}{}
		}
	}
	return &Adapter{capability: capability, opts: opts, languages: langs}
}

// DetectLanguage returns the language for a file path based on its
// extension, or "" when the extension is not recognized. Detection is
// delegated to enry's linguist data, so extension casing is irrelevant.
func (a *Adapter) DetectLanguage(filePath string) string {
	base := filepath.Base(filePath)
	lang, safe := enry.GetLanguageByExtension(base)
	if safe && lang != "" {
		return lang
	}

	// Ambiguous extensions still resolve when exactly one candidate is a
	// language the capability supports.
	var match string
	for _, c := range enry.GetLanguagesByExtension(base, nil, nil) {
		if _, ok := a.languages[strings.ToLower(c)]; ok {
			if match != "" {
				return ""
			}
			match = c
		}
	}
	return match
}

// IsSupported reports whether the semantic path can handle the file.
func (a *Adapter) IsSupported(filePath string) bool {
	lang := a.DetectLanguage(filePath)
	if lang == "" {
		return false
	}
	_, ok := a.languages[strings.ToLower(lang)]
	return ok
}

// ChunkText runs the AST capability on content and maps the result into
// engine chunks. It fails with types.ErrUnsupportedFileType when the
// extension is not recognized and types.ErrParseFailure when the capability
// errors.
func (a *Adapter) ChunkText(ctx context.Context, content, filePath string) ([]types.Chunk, error) {
	lang := a.DetectLanguage(filePath)
	if lang == "" {
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedFileType, filepath.Ext(filePath))
	}
	if _, ok := a.languages[strings.ToLower(lang)]; !ok {
		return nil, fmt.Errorf("%w: %s (%s)", types.ErrUnsupportedFileType, filepath.Ext(filePath), lang)
	}

	astChunks, err := a.capability.Chunk(ctx, filePath, content, a.opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrParseFailure, filePath, err)
	}

	chunks := make([]types.Chunk, 0, len(astChunks))
	for _, ac := range astChunks {
		chunks = append(chunks, a.mapChunk(ac, filePath, lang))
	}
	return chunks, nil
}

// TryChunkText is the non-throwing variant: it returns a tagged outcome so
// the record builder can fall back silently without errors crossing layers.
func (a *Adapter) TryChunkText(ctx context.Context, content, filePath string) types.ChunkOutcome {
	chunks, err := a.ChunkText(ctx, content, filePath)
	switch {
	case err == nil:
		return types.ChunkOutcome{Kind: types.ChunkOK, Chunks: chunks}
	case errors.Is(err, types.ErrUnsupportedFileType):
		return types.ChunkOutcome{Kind: types.ChunkUnsupported, Err: err}
	default:
		return types.ChunkOutcome{Kind: types.ChunkParseFailed, Err: err}
	}
}

// ChunkFiles chunks a batch of (path, content) pairs in lexical path
// order, so the same batch always yields the same chunk sequence.
// Unsupported or failing files are silently skipped; the result holds
// only chunks from files that succeeded.
func (a *Adapter) ChunkFiles(ctx context.Context, files map[string]string) []types.Chunk {
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var all []types.Chunk
	for _, path := range paths {
		outcome := a.TryChunkText(ctx, files[path], path)
		if outcome.Ok() {
			all = append(all, outcome.Chunks...)
		}
	}
	return all
}

// mapChunk converts one external chunk into an engine chunk record. The
// 0-indexed external line range becomes 1-indexed, and EmbeddingContent is
// always the contextualized rendering, even when larger than the raw text.
func (a *Adapter) mapChunk(ac ASTChunk, filePath, lang string) types.Chunk {
	meta := types.ChunkMetadata{
		SourceFile: filePath,
		StartLine:  ac.StartLine + 1,
		EndLine:    ac.EndLine + 1,
		Language:   lang,
	}
	// ContextMode none means no semantic context is persisted at all.
	if a.opts.ContextMode != types.ContextModeNone && !ac.Context.Empty() {
		ctxCopy := ac.Context
		meta.CodeContext = &ctxCopy
	}

	embedding := ac.ContextualizedText
	if embedding == "" {
		embedding = ac.Text
	}

	return types.Chunk{
		Content:          ac.Text,
		EmbeddingContent: embedding,
		Metadata:         meta,
	}
}
