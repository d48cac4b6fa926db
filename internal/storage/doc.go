// Package storage persists one library as a single portable SQLite file.
//
// Everything a library needs travels in the one file:
//   - library: single metadata row (embedding model, chunking config, stats)
//   - chunks: append-only content rows with embedding BLOBs
//   - chunks_fts: FTS5 full-text index, kept in sync by triggers
//   - schema_version: single integer marker
//
// # Basic Usage
//
//	store, err := storage.Create("go-stdlib-1.22.docpack", meta, false)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	ids, err := store.AddChunks(ctx, chunks, embeddings, "1.22.0")
//
// Chunk ids are assigned monotonically in insertion order. Builds persist
// one source file per AddChunks call, so each file occupies a contiguous id
// run and neighbors by id are neighbors in the document. GetByIDRange relies
// on this to expand context around a search hit.
//
// # Schema Versions
//
// Files carry an integer schema version. Open refuses files from a newer
// build (ErrSchemaVersion) and files needing migration (ErrMigrationRequired);
// MigrateIfNeeded upgrades in ordered single-version steps.
//
// # Build Modes
//
// Two drivers are selected by build tag: mattn/go-sqlite3 with the
// sqlite-vec extension (tag sqlite_vec, CGO) computes similarity in SQL;
// modernc.org/sqlite (default, pure Go) computes it in Go. Result ordering
// is identical in both modes.
package storage
