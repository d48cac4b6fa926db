// Package pipeline runs library builds: discover files, chunk them, embed
// the chunks, and persist everything into one library file.
//
// Each source file is chunked and persisted in a single AddChunks call, so
// its chunks occupy a contiguous id run and context expansion stays cheap.
// Per-file failures become warnings on the build result; only cancellation
// and setup errors abort a build, and an aborted build removes the
// partially written library file so a half-built library is never left on
// disk.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/docpack-mcp/internal/builder"
	"github.com/dshills/docpack-mcp/internal/embedder"
	"github.com/dshills/docpack-mcp/internal/splitter"
	"github.com/dshills/docpack-mcp/internal/storage"
	"github.com/dshills/docpack-mcp/pkg/types"
)

// Config describes one build.
type Config struct {
	// LibraryPath is where the library file is written.
	LibraryPath string

	// Metadata seeds the library record. Embedding info is filled in from
	// the configured embedder; chunking info defaults to the splitter
	// defaults when unset.
	Metadata *types.LibraryMetadata

	// Roots are the files and directories to ingest.
	Roots []string

	Overwrite bool

	// Workers bounds concurrent file processing. Defaults to NumCPU.
	Workers int

	// EmbedBatchSize bounds texts per embedding request.
	EmbedBatchSize int
}

// Result summarizes a completed build.
type Result struct {
	BuildID     string
	LibraryPath string

	FilesProcessed int
	FilesFailed    int
	ChunksStored   int
	SemanticFiles  int
	TextFiles      int

	// Warnings are per-file problems that did not abort the build:
	// unreadable files, semantic fallbacks, embedding failures.
	Warnings []string

	Duration time.Duration
}

// Pipeline wires the chunk builder and embedder into library builds.
type Pipeline struct {
	builder  *builder.Builder
	embedder embedder.Embedder
	logger   *zap.Logger
}

// New creates a Pipeline. A nil logger disables logging.
func New(b *builder.Builder, emb embedder.Embedder, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{builder: b, embedder: emb, logger: logger}
}

// Build creates a library file from the configured roots. The library is
// locked for the duration; a concurrent build of the same path fails with
// ErrAlreadyLocked.
func (p *Pipeline) Build(ctx context.Context, cfg Config) (*Result, error) {
	startTime := time.Now()

	if err := p.normalizeConfig(&cfg); err != nil {
		return nil, err
	}

	buildID := uuid.NewString()
	log := p.logger.With(zap.String("buildId", buildID), zap.String("library", cfg.LibraryPath))

	lock, err := storage.AcquireBuildLock(cfg.LibraryPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	if err := p.embedder.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	meta := *cfg.Metadata
	meta.Embedding = types.EmbeddingInfo{
		Model:      p.embedder.Model(),
		Dimensions: p.embedder.Dimensions(),
	}

	store, err := storage.Create(cfg.LibraryPath, &meta, cfg.Overwrite)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	// An aborted build must leave no partial library file behind.
	discard := func() {
		_ = store.Close()
		removeLibraryFiles(cfg.LibraryPath)
	}

	files, err := discoverFiles(cfg.Roots)
	if err != nil {
		discard()
		return nil, err
	}
	log.Info("build started", zap.Int("files", len(files)), zap.Int("workers", cfg.Workers))

	var processed, failed, chunksStored, semanticFiles, textFiles atomic.Int32
	var warningsMu sync.Mutex
	warnings := make([]string, 0)
	addWarning := func(format string, args ...interface{}) {
		warningsMu.Lock()
		warnings = append(warnings, fmt.Sprintf(format, args...))
		warningsMu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)

	for _, file := range files {
		file := file
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			stored, strategy, err := p.processFile(gctx, store, file, meta.ContentVersion, cfg.EmbedBatchSize, addWarning)
			if err != nil {
				// Cancellation aborts the build; everything else is a
				// per-file warning
				if gctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				addWarning("%s: %v", file.relPath, err)
				failed.Add(1)
				return nil
			}

			processed.Add(1)
			chunksStored.Add(int32(stored))
			if strategy == types.StrategyAST {
				semanticFiles.Add(1)
			} else {
				textFiles.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Warn("build aborted", zap.Error(err))
		discard()
		return nil, err
	}

	result := &Result{
		BuildID:        buildID,
		LibraryPath:    cfg.LibraryPath,
		FilesProcessed: int(processed.Load()),
		FilesFailed:    int(failed.Load()),
		ChunksStored:   int(chunksStored.Load()),
		SemanticFiles:  int(semanticFiles.Load()),
		TextFiles:      int(textFiles.Load()),
		Warnings:       warnings,
		Duration:       time.Since(startTime),
	}

	log.Info("build complete",
		zap.Int("filesProcessed", result.FilesProcessed),
		zap.Int("filesFailed", result.FilesFailed),
		zap.Int("chunksStored", result.ChunksStored),
		zap.Int("warnings", len(result.Warnings)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (p *Pipeline) normalizeConfig(cfg *Config) error {
	if cfg.LibraryPath == "" {
		return fmt.Errorf("%w: library path is required", types.ErrConfiguration)
	}
	if len(cfg.Roots) == 0 {
		return fmt.Errorf("%w: at least one root is required", types.ErrConfiguration)
	}
	if cfg.Metadata == nil {
		return fmt.Errorf("%w: library metadata is required", types.ErrConfiguration)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.EmbedBatchSize <= 0 || cfg.EmbedBatchSize > embedder.MaxBatchSize {
		cfg.EmbedBatchSize = embedder.MaxBatchSize
	}
	if cfg.Metadata.Chunking.ChunkSize == 0 {
		cfg.Metadata.Chunking = types.ChunkingInfo{
			Strategy:     types.StrategyText,
			ChunkSize:    splitter.DefaultChunkSize,
			ChunkOverlap: splitter.DefaultChunkOverlap,
		}
	}
	return nil
}

// processFile chunks, embeds, and persists one source file atomically.
func (p *Pipeline) processFile(ctx context.Context, store storage.Store, file sourceFile, contentVersion string, batchSize int, addWarning func(string, ...interface{})) (int, types.ChunkStrategy, error) {
	content, err := os.ReadFile(file.absPath)
	if err != nil {
		return 0, "", fmt.Errorf("failed to read: %w", err)
	}

	fc := p.builder.BuildFile(ctx, string(content), file.relPath)
	if fc.FallbackErr != nil {
		addWarning("%s: semantic chunking failed, used text splitter: %v", file.relPath, fc.FallbackErr)
	}
	if len(fc.Chunks) == 0 {
		return 0, fc.Strategy, nil
	}

	embeddings, err := p.embedChunks(ctx, fc.Chunks, batchSize)
	if err != nil {
		return 0, "", err
	}

	if _, err := store.AddChunks(ctx, fc.Chunks, embeddings, contentVersion); err != nil {
		return 0, "", fmt.Errorf("failed to store chunks: %w", err)
	}
	return len(fc.Chunks), fc.Strategy, nil
}

func (p *Pipeline) embedChunks(ctx context.Context, chunks []types.Chunk, batchSize int) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].EmbeddingText()
	}

	embeddings := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := p.embedder.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunks: %w", err)
		}
		embeddings = append(embeddings, batch...)
	}
	return embeddings, nil
}

// sourceFile pairs a file's location with the path recorded in chunk
// metadata.
type sourceFile struct {
	absPath string
	relPath string
}

// discoverFiles walks the roots collecting regular files. Hidden files and
// directories are skipped, as are library and lock files.
func discoverFiles(roots []string) ([]sourceFile, error) {
	files := make([]sourceFile, 0)
	seen := make(map[string]struct{})

	add := func(absPath, relPath string) {
		if _, dup := seen[absPath]; dup {
			return
		}
		seen[absPath] = struct{}{}
		files = append(files, sourceFile{absPath: absPath, relPath: filepath.ToSlash(relPath)})
	}

	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", types.ErrNotFound, root)
		}

		if !info.IsDir() {
			add(root, filepath.Base(root))
			continue
		}

		err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			name := d.Name()
			if d.IsDir() {
				if path != root && strings.HasPrefix(name, ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasPrefix(name, ".") || skipExtension(name) {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				rel = name
			}
			add(path, rel)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}
	return files, nil
}

// removeLibraryFiles deletes the library file and its WAL sidecars.
func removeLibraryFiles(path string) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		_ = os.Remove(p)
	}
}

func skipExtension(name string) bool {
	switch filepath.Ext(name) {
	case ".docpack", ".lock":
		return true
	}
	return false
}
