package types

import "errors"

// Error taxonomy shared across the build and search paths. Callers test with
// errors.Is; wrapped errors carry the detail.
var (
	// ErrConfiguration indicates a bad option combination detected before
	// any I/O (e.g. overlap >= chunk size).
	ErrConfiguration = errors.New("invalid configuration")

	// ErrUnsupportedFileType indicates the semantic chunker does not
	// recognize the file extension.
	ErrUnsupportedFileType = errors.New("unsupported file type")

	// ErrParseFailure indicates the AST capability failed on a file. Always
	// recoverable by falling back to the text splitter.
	ErrParseFailure = errors.New("parse failure")

	// ErrAlreadyExists indicates the target library file exists and
	// overwrite was not requested.
	ErrAlreadyExists = errors.New("library already exists")

	// ErrAlreadyLocked indicates another build holds the write lock on the
	// target library file.
	ErrAlreadyLocked = errors.New("library locked by another build")

	// ErrSchemaVersion indicates the file's schema is newer than this
	// reader understands. Fatal; downgrade is never attempted.
	ErrSchemaVersion = errors.New("unsupported schema version")

	// ErrMigrationRequired indicates the file's schema is older than
	// current and the caller did not opt into migration.
	ErrMigrationRequired = errors.New("migration required")

	// ErrCorrupted indicates index/content disagreement or an embedding
	// dimensionality mismatch. Fatal; the library must be rebuilt.
	ErrCorrupted = errors.New("library corrupted")

	// ErrEmbedder indicates the embedding capability failed. Fatal for the
	// single call, not for the process.
	ErrEmbedder = errors.New("embedder failed")

	// ErrReranker indicates the reranking capability failed.
	ErrReranker = errors.New("reranker failed")

	// ErrClosed is returned by storage operations after Close.
	ErrClosed = errors.New("storage closed")

	// ErrNotFound is returned when a requested entity doesn't exist.
	ErrNotFound = errors.New("not found")
)
