package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/dshills/docpack-mcp/pkg/types"
)

const (
	// CurrentSchemaVersion is the schema written by this build. History:
	// v1 stored display content only, v2 added embedding_content, v3 added
	// content_version and code_context.
	CurrentSchemaVersion = 3
)

// Migration upgrades a library file by exactly one schema version.
type Migration struct {
	From int
	To   int
	Up   string
}

// AllMigrations contains all schema migrations in order.
var AllMigrations = []Migration{
	{From: 1, To: 2, Up: migrationV2Up},
	{From: 2, To: 3, Up: migrationV3Up},
}

// schemaCurrent is the complete current schema, applied when a library is
// created fresh. Migrated files arrive at an equivalent shape.
const schemaCurrent = `
-- Schema version marker (single row)
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);

-- Library metadata (single row)
CREATE TABLE IF NOT EXISTS library (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    name TEXT NOT NULL,
    version TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    content_version TEXT NOT NULL DEFAULT '',
    embedding_model TEXT NOT NULL,
    embedding_dimensions INTEGER NOT NULL,
    chunk_strategy TEXT NOT NULL DEFAULT 'text',
    chunk_size INTEGER NOT NULL,
    chunk_overlap INTEGER NOT NULL,
    chunk_count INTEGER NOT NULL DEFAULT 0,
    source_count INTEGER NOT NULL DEFAULT 0,
    source TEXT NOT NULL DEFAULT '',
    license TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

-- Chunks table (append-only; id order is document order per source file)
CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    content TEXT NOT NULL,
    embedding_content TEXT,
    embedding BLOB NOT NULL,
    source_file TEXT NOT NULL DEFAULT '',
    start_line INTEGER NOT NULL DEFAULT 0,
    end_line INTEGER NOT NULL DEFAULT 0,
    language TEXT NOT NULL DEFAULT '',
    token_count INTEGER NOT NULL DEFAULT 0,
    content_version TEXT NOT NULL DEFAULT '',
    code_context TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source_file);
CREATE INDEX IF NOT EXISTS idx_chunks_content_version ON chunks(content_version);

-- Full-text search over display content
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
    content,
    content='chunks',
    content_rowid='id'
);

-- Triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
    INSERT INTO chunks_fts(rowid, content) VALUES (new.id, new.content);
END;

CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.id, old.content);
END;

CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.id, old.content);
    INSERT INTO chunks_fts(rowid, content) VALUES (new.id, new.content);
END;
`

// schemaV1 is the original schema, kept so tests can fabricate legacy files.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS library (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    name TEXT NOT NULL,
    version TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    embedding_model TEXT NOT NULL,
    embedding_dimensions INTEGER NOT NULL,
    chunk_strategy TEXT NOT NULL DEFAULT 'text',
    chunk_size INTEGER NOT NULL,
    chunk_overlap INTEGER NOT NULL,
    chunk_count INTEGER NOT NULL DEFAULT 0,
    source_count INTEGER NOT NULL DEFAULT 0,
    source TEXT NOT NULL DEFAULT '',
    license TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    content TEXT NOT NULL,
    embedding BLOB NOT NULL,
    source_file TEXT NOT NULL DEFAULT '',
    start_line INTEGER NOT NULL DEFAULT 0,
    end_line INTEGER NOT NULL DEFAULT 0,
    language TEXT NOT NULL DEFAULT '',
    token_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source_file);

CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
    content,
    content='chunks',
    content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
    INSERT INTO chunks_fts(rowid, content) VALUES (new.id, new.content);
END;

CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.id, old.content);
END;

CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.id, old.content);
    INSERT INTO chunks_fts(rowid, content) VALUES (new.id, new.content);
END;
`

const migrationV2Up = `
ALTER TABLE chunks ADD COLUMN embedding_content TEXT;
`

const migrationV3Up = `
ALTER TABLE chunks ADD COLUMN content_version TEXT NOT NULL DEFAULT '';
ALTER TABLE chunks ADD COLUMN code_context TEXT;
CREATE INDEX IF NOT EXISTS idx_chunks_content_version ON chunks(content_version);
ALTER TABLE library ADD COLUMN content_version TEXT NOT NULL DEFAULT '';
`

// MigrationResult reports what MigrateIfNeeded did.
type MigrationResult struct {
	Migrated    bool
	FromVersion int
	ToVersion   int
}

// readSchemaVersion reads the version marker. Returns 0 when the marker is
// missing entirely, which means the file is not a library.
func readSchemaVersion(ctx context.Context, q querier) (int, error) {
	var tableName string
	err := q.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	var version int
	err = q.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// checkSchemaVersion validates a file's version against this build.
func checkSchemaVersion(version int) error {
	switch {
	case version == 0:
		return fmt.Errorf("%w: no schema version marker", types.ErrCorrupted)
	case version > CurrentSchemaVersion:
		return fmt.Errorf("%w: library has schema version %d, this build supports up to %d",
			types.ErrSchemaVersion, version, CurrentSchemaVersion)
	case version < CurrentSchemaVersion:
		return fmt.Errorf("%w: library has schema version %d, current is %d",
			types.ErrMigrationRequired, version, CurrentSchemaVersion)
	}
	return nil
}

// MigrateIfNeeded upgrades a library file to the current schema version.
// Without force it only reports: up to date returns Migrated=false, an older
// file fails with ErrMigrationRequired. A file newer than this build always
// fails with ErrSchemaVersion. Each step runs in its own transaction and
// re-checks the version marker, so an interrupted migration resumes cleanly.
func MigrateIfNeeded(ctx context.Context, path string, force bool) (*MigrationResult, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, path)
	}

	db, err := openDatabase(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	version, err := readSchemaVersion(ctx, db)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, fmt.Errorf("%w: no schema version marker", types.ErrCorrupted)
	}
	if version > CurrentSchemaVersion {
		return nil, fmt.Errorf("%w: library has schema version %d, this build supports up to %d",
			types.ErrSchemaVersion, version, CurrentSchemaVersion)
	}

	result := &MigrationResult{FromVersion: version, ToVersion: version}
	if version == CurrentSchemaVersion {
		return result, nil
	}
	if !force {
		return nil, fmt.Errorf("%w: library has schema version %d, current is %d",
			types.ErrMigrationRequired, version, CurrentSchemaVersion)
	}

	for _, migration := range AllMigrations {
		current, err := readSchemaVersion(ctx, db)
		if err != nil {
			return nil, err
		}
		if current != migration.From {
			continue // already past this step
		}

		if err := applyMigration(ctx, db, migration); err != nil {
			return nil, err
		}
		result.ToVersion = migration.To
	}

	result.Migrated = result.ToVersion != result.FromVersion
	return result, nil
}

// applyMigration runs one migration step transactionally.
func applyMigration(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
		return fmt.Errorf("failed to apply migration %d->%d: %w", migration.From, migration.To, err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE schema_version SET version = ?", migration.To); err != nil {
		return fmt.Errorf("failed to record migration %d->%d: %w", migration.From, migration.To, err)
	}
	return tx.Commit()
}
