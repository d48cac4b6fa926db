package library

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docpack-mcp/internal/storage"
	"github.com/dshills/docpack-mcp/pkg/types"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
}

func TestParseFilename(t *testing.T) {
	tests := []struct {
		base, name, version string
	}{
		{"react-18.2.0.docpack", "react", "18.2.0"},
		{"go-stdlib-1.22.0.docpack", "go-stdlib", "1.22.0"},
		{"notes.docpack", "notes", ""},
		{"my-notes.docpack", "my-notes", ""},
	}
	for _, tt := range tests {
		name, version := parseFilename(tt.base)
		assert.Equal(t, tt.name, name, tt.base)
		assert.Equal(t, tt.version, version, tt.base)
	}
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "react-18.2.0.docpack", Filename("react", "18.2.0"))
	assert.Equal(t, "notes.docpack", Filename("notes", ""))
}

func TestListScansSearchPaths(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	touch(t, dirA, "react-18.2.0.docpack")
	touch(t, dirA, "react-17.0.2.docpack")
	touch(t, dirB, "vue-3.4.0.docpack")
	touch(t, dirA, "README.txt") // ignored

	reg := NewRegistry(dirA, dirB, filepath.Join(dirA, "missing-subdir"))
	entries, err := reg.List()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Sorted by name, then version descending
	assert.Equal(t, "react", entries[0].Name)
	assert.Equal(t, "18.2.0", entries[0].Version)
	assert.Equal(t, "17.0.2", entries[1].Version)
	assert.Equal(t, "vue", entries[2].Name)
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "react-17.0.2.docpack")
	touch(t, dir, "react-18.2.0.docpack")
	touch(t, dir, "react-19.0.0.docpack")
	reg := NewRegistry(dir)

	// Empty range picks the highest version
	entry, err := reg.Resolve("react", "")
	require.NoError(t, err)
	assert.Equal(t, "19.0.0", entry.Version)

	entry, err = reg.Resolve("react", "^18.0")
	require.NoError(t, err)
	assert.Equal(t, "18.2.0", entry.Version)

	entry, err = reg.Resolve("react", ">=17.0 <18.0")
	require.NoError(t, err)
	assert.Equal(t, "17.0.2", entry.Version)

	_, err = reg.Resolve("react", "^20.0")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNotFound))

	_, err = reg.Resolve("angular", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNotFound))

	_, err = reg.Resolve("react", "not-a-range")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrConfiguration))
}

func TestOpenResolvedLibrary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, Filename("docs", "1.0.0"))

	store, err := storage.Create(path, &types.LibraryMetadata{
		Name:      "docs",
		Version:   "1.0.0",
		Embedding: types.EmbeddingInfo{Model: "test", Dimensions: 4},
		Chunking:  types.ChunkingInfo{Strategy: types.StrategyText, ChunkSize: 100},
	}, false)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reg := NewRegistry(dir)
	ctx := context.Background()

	opened, err := reg.Open(ctx, "docs", "", true, true)
	require.NoError(t, err)
	defer func() { _ = opened.Close() }()

	meta, err := opened.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "docs", meta.Name)
}

func TestOpenPathMissing(t *testing.T) {
	_, err := OpenPath(context.Background(), filepath.Join(t.TempDir(), "nope.docpack"), true, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}
