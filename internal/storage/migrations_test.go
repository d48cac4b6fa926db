package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docpack-mcp/pkg/types"
)

// createLegacyV1Library fabricates a library file with the original schema.
func createLegacyV1Library(t *testing.T, path string) {
	t.Helper()

	db, err := openDatabase(path, false)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	_, err = db.ExecContext(ctx, schemaV1)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (1)")
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `
		INSERT INTO library (
			id, name, version, description, embedding_model, embedding_dimensions,
			chunk_strategy, chunk_size, chunk_overlap, created_at
		) VALUES (1, 'legacy-lib', '0.1.0', '', 'test-model', 4, 'text', 1500, 200, ?)
	`, time.Now().UTC().Format(time.RFC3339Nano))
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `
		INSERT INTO chunks (content, embedding, source_file, start_line, end_line)
		VALUES ('legacy content', ?, 'old.md', 1, 1)
	`, serializeVector([]float32{1, 0, 0, 0}))
	require.NoError(t, err)
}

func TestOpenLegacyRequiresMigration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.docpack")
	createLegacyV1Library(t, path)

	_, err := Open(path, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrMigrationRequired))
}

func TestMigrateWithoutForceReportsRequired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.docpack")
	createLegacyV1Library(t, path)

	_, err := MigrateIfNeeded(context.Background(), path, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrMigrationRequired))
}

func TestMigrateForcedUpgradesToCurrentVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.docpack")
	createLegacyV1Library(t, path)
	ctx := context.Background()

	result, err := MigrateIfNeeded(ctx, path, true)
	require.NoError(t, err)
	assert.True(t, result.Migrated)
	assert.Equal(t, 1, result.FromVersion)
	assert.Equal(t, CurrentSchemaVersion, result.ToVersion)

	// Open now succeeds; content survived the migration
	store, err := Open(path, false)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	chunk, err := store.GetChunk(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "legacy content", chunk.Content)
	assert.Empty(t, chunk.ContentVersion)
	// Rows predating embedding content fall back to display content
	assert.Empty(t, chunk.EmbeddingContent)
	assert.Equal(t, "legacy content", chunk.EmbeddingText())

	// The migrated file is writable under the new schema
	_, err = store.AddChunks(ctx, []types.Chunk{textChunk("new content", "new.md")}, [][]float32{{0, 1, 0, 0}}, "2.0")
	require.NoError(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.docpack")
	createLegacyV1Library(t, path)
	ctx := context.Background()

	_, err := MigrateIfNeeded(ctx, path, true)
	require.NoError(t, err)

	// Second run is a no-op regardless of force
	result, err := MigrateIfNeeded(ctx, path, false)
	require.NoError(t, err)
	assert.False(t, result.Migrated)
	assert.Equal(t, CurrentSchemaVersion, result.FromVersion)
	assert.Equal(t, CurrentSchemaVersion, result.ToVersion)

	result, err = MigrateIfNeeded(ctx, path, true)
	require.NoError(t, err)
	assert.False(t, result.Migrated)
}

func TestNewerSchemaVersionRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.docpack")
	store, err := Create(path, testMetadata(), false)
	require.NoError(t, err)

	_, err = store.db.Exec("UPDATE schema_version SET version = ?", CurrentSchemaVersion+10)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = Open(path, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrSchemaVersion))

	_, err = MigrateIfNeeded(context.Background(), path, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrSchemaVersion))
}

func TestMigrateMissingFile(t *testing.T) {
	_, err := MigrateIfNeeded(context.Background(), filepath.Join(t.TempDir(), "nope.docpack"), true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}
