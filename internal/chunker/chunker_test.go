package chunker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docpack-mcp/pkg/types"
)

// fakeCapability is a scripted ASTChunker for tests.
type fakeCapability struct {
	langs  []string
	chunks []ASTChunk
	err    error

	lastPath string
	lastOpts ASTOptions
}

func (f *fakeCapability) Languages() []string { return f.langs }

func (f *fakeCapability) Chunk(_ context.Context, filePath, _ string, opts ASTOptions) ([]ASTChunk, error) {
	f.lastPath = filePath
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.chunks, nil
}

func goCapability() *fakeCapability {
	return &fakeCapability{
		langs: []string{"Go"},
		chunks: []ASTChunk{
			{
				Text:               "func Add(a, b int) int { return a + b }",
				ContextualizedText: "// package calc\nfunc Add(a, b int) int { return a + b }",
				StartLine:          4,
				EndLine:            6,
				Context: types.CodeContext{
					Scope: []types.ScopeEntry{{Name: "Calculator", Type: "class"}},
				},
			},
		},
	}
}

func TestDetectLanguage(t *testing.T) {
	a := New(goCapability(), ASTOptions{ContextMode: types.ContextModeFull})

	tests := []struct {
		path string
		want string
	}{
		{"main.go", "Go"},
		{"src/deep/nested/file.go", "Go"},
		{"MAIN.GO", "Go"},
		{"readme", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, a.DetectLanguage(tt.path), tt.path)
	}
}

func TestIsSupported(t *testing.T) {
	a := New(goCapability(), ASTOptions{ContextMode: types.ContextModeFull})

	assert.True(t, a.IsSupported("main.go"))
	assert.True(t, a.IsSupported("MAIN.GO"))
	assert.False(t, a.IsSupported("notes.txt"))
	assert.False(t, a.IsSupported("noextension"))
	// Recognized language, but not one the capability parses.
	assert.False(t, a.IsSupported("script.rb"))
}

func TestChunkTextMapsLinesAndContext(t *testing.T) {
	fc := goCapability()
	a := New(fc, ASTOptions{MaxChunkSize: 1000, ContextMode: types.ContextModeFull, OverlapLines: 2})

	chunks, err := a.ChunkText(context.Background(), "package calc\n...", "calc/add.go")
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	c := chunks[0]
	// External 0-indexed lines become 1-indexed.
	assert.Equal(t, 5, c.Metadata.StartLine)
	assert.Equal(t, 7, c.Metadata.EndLine)
	assert.Equal(t, "Go", c.Metadata.Language)
	assert.Equal(t, "calc/add.go", c.Metadata.SourceFile)

	// EmbeddingContent is the contextualized rendering even though it is
	// larger than the raw text.
	assert.Equal(t, fc.chunks[0].ContextualizedText, c.EmbeddingContent)
	assert.Greater(t, len(c.EmbeddingContent), len(c.Content))

	require.NotNil(t, c.Metadata.CodeContext)
	require.Len(t, c.Metadata.CodeContext.Scope, 1)
	assert.Equal(t, "Calculator", c.Metadata.CodeContext.Scope[0].Name)

	// Options were forwarded verbatim.
	assert.Equal(t, 1000, fc.lastOpts.MaxChunkSize)
	assert.Equal(t, types.ContextModeFull, fc.lastOpts.ContextMode)
	assert.Equal(t, 2, fc.lastOpts.OverlapLines)
}

func TestChunkTextContextModeNone(t *testing.T) {
	a := New(goCapability(), ASTOptions{ContextMode: types.ContextModeNone})

	chunks, err := a.ChunkText(context.Background(), "package calc", "add.go")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Nil(t, chunks[0].Metadata.CodeContext, "contextMode none must not persist code context")
}

func TestChunkTextUnsupported(t *testing.T) {
	a := New(goCapability(), ASTOptions{})

	_, err := a.ChunkText(context.Background(), "plain text", "notes.txt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrUnsupportedFileType))
}

func TestChunkTextParseFailure(t *testing.T) {
	fc := goCapability()
	fc.err = errors.New("unexpected token")
	a := New(fc, ASTOptions{})

	_, err := a.ChunkText(context.Background(), "package broken {", "broken.go")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrParseFailure))
}

func TestTryChunkTextOutcomes(t *testing.T) {
	ctx := context.Background()

	ok := New(goCapability(), ASTOptions{}).TryChunkText(ctx, "package x", "x.go")
	assert.Equal(t, types.ChunkOK, ok.Kind)
	assert.True(t, ok.Ok())
	assert.Len(t, ok.Chunks, 1)

	unsupported := New(goCapability(), ASTOptions{}).TryChunkText(ctx, "text", "x.txt")
	assert.Equal(t, types.ChunkUnsupported, unsupported.Kind)
	assert.False(t, unsupported.Ok())

	failing := goCapability()
	failing.err = errors.New("boom")
	parseFailed := New(failing, ASTOptions{}).TryChunkText(ctx, "package x", "x.go")
	assert.Equal(t, types.ChunkParseFailed, parseFailed.Kind)
	assert.Error(t, parseFailed.Err)
}

func TestChunkFilesSkipsFailures(t *testing.T) {
	a := New(goCapability(), ASTOptions{})

	chunks := a.ChunkFiles(context.Background(), map[string]string{
		"good.go":   "package good",
		"notes.txt": "not code",
		"README":    "no extension",
	})

	// Only the supported file contributes; failures are silent.
	require.Len(t, chunks, 1)
	assert.Equal(t, "good.go", chunks[0].Metadata.SourceFile)
}

func TestChunkFilesDeterministicOrder(t *testing.T) {
	a := New(goCapability(), ASTOptions{})
	files := map[string]string{
		"zeta.go":  "package zeta",
		"alpha.go": "package alpha",
		"mid.go":   "package mid",
		"beta.go":  "package beta",
	}

	want := []string{"alpha.go", "beta.go", "mid.go", "zeta.go"}
	for run := 0; run < 5; run++ {
		chunks := a.ChunkFiles(context.Background(), files)
		require.Len(t, chunks, len(want))
		for i, c := range chunks {
			assert.Equal(t, want[i], c.Metadata.SourceFile)
		}
	}
}
