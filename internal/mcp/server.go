package mcp

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/docpack-mcp/internal/builder"
	"github.com/dshills/docpack-mcp/internal/chunker"
	"github.com/dshills/docpack-mcp/internal/embedder"
	"github.com/dshills/docpack-mcp/internal/library"
	"github.com/dshills/docpack-mcp/internal/pipeline"
	"github.com/dshills/docpack-mcp/internal/reranker"
	"github.com/dshills/docpack-mcp/internal/searcher"
	"github.com/dshills/docpack-mcp/internal/splitter"
	"github.com/dshills/docpack-mcp/internal/storage"
	"github.com/dshills/docpack-mcp/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "docpack-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Environment variables consulted when no reranker is injected.
const (
	EnvRerankerAPIKey = "DOCPACK_RERANKER_API_KEY"
	EnvRerankerBase   = "DOCPACK_RERANKER_BASE_URL"
	EnvRerankerModel  = "DOCPACK_RERANKER_MODEL"
)

// Config holds the server's dependencies. Zero-value fields are filled from
// the environment where possible.
type Config struct {
	// LibraryDirs are the directories scanned for library files. Empty means
	// ~/.docpack/libraries.
	LibraryDirs []string

	// Embedder generates query and chunk vectors. Nil means construct from
	// environment variables.
	Embedder embedder.Embedder

	// Reranker is optional; nil disables the rerank search option unless
	// DOCPACK_RERANKER_API_KEY is set.
	Reranker reranker.Reranker

	// ASTChunker is the optional semantic chunking capability. Nil means
	// every build uses the text splitter.
	ASTChunker chunker.ASTChunker

	Logger *zap.Logger
}

// buildOptions are the per-build chunking knobs accepted by build_library.
type buildOptions struct {
	chunkSize    int
	chunkOverlap int
	noAST        bool
	contextMode  types.ContextMode
}

// session pairs an open library with the searcher bound to it.
type session struct {
	store    *storage.SQLiteStore
	searcher *searcher.Searcher
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp        *server.MCPServer
	registry   *library.Registry
	embedder   embedder.Embedder
	reranker   reranker.Reranker
	astChunker chunker.ASTChunker
	logger     *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewServer creates a new MCP server instance
func NewServer(cfg Config) (*Server, error) {
	dirs := cfg.LibraryDirs
	if len(dirs) == 0 {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dirs = []string{filepath.Join(home, ".docpack", "libraries")}
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create library directory: %w", err)
		}
	}

	emb := cfg.Embedder
	if emb == nil {
		var err error
		emb, err = embedder.NewFromEnv()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
	}

	rr := cfg.Reranker
	if rr == nil {
		if key := os.Getenv(EnvRerankerAPIKey); key != "" {
			jr, err := reranker.NewJinaReranker(key, os.Getenv(EnvRerankerBase), os.Getenv(EnvRerankerModel))
			if err != nil {
				return nil, fmt.Errorf("failed to initialize reranker: %w", err)
			}
			rr = jr
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		mcp:        server.NewMCPServer(ServerName, ServerVersion),
		registry:   library.NewRegistry(dirs...),
		embedder:   emb,
		reranker:   rr,
		astChunker: cfg.ASTChunker,
		logger:     logger,
		sessions:   make(map[string]*session),
	}

	s.registerTools()
	return s, nil
}

// newPipeline assembles a build pipeline for one build's chunking options.
func (s *Server) newPipeline(opts buildOptions) (*pipeline.Pipeline, error) {
	split, err := splitter.New(opts.chunkSize, opts.chunkOverlap)
	if err != nil {
		return nil, err
	}
	var adapter *chunker.Adapter
	if s.astChunker != nil {
		adapter = chunker.New(s.astChunker, chunker.ASTOptions{
			MaxChunkSize: opts.chunkSize,
			ContextMode:  opts.contextMode,
		})
	}
	return pipeline.New(builder.New(adapter, split, opts.noAST), s.embedder, s.logger), nil
}

// Serve starts the MCP server on stdio and blocks until the context is
// cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	defer s.closeSessions()
	defer func() { _ = s.embedder.Dispose() }()
	return s.serve(ctx, os.Stdin, os.Stdout)
}

func (s *Server) serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchDocsTool(), s.handleSearchDocs)
	s.mcp.AddTool(buildLibraryTool(), s.handleBuildLibrary)
	s.mcp.AddTool(listLibrariesTool(), s.handleListLibraries)
	s.mcp.AddTool(libraryInfoTool(), s.handleLibraryInfo)
}

// openSession returns a cached read-only session for the resolved library,
// opening it on first use.
func (s *Server) openSession(ctx context.Context, name, versionRange string) (*session, error) {
	entry, err := s.registry.Resolve(name, versionRange)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[entry.Path]; ok {
		return sess, nil
	}

	store, err := library.OpenPath(ctx, entry.Path, true, false)
	if err != nil {
		return nil, err
	}
	sess := &session{
		store:    store,
		searcher: searcher.New(store, s.embedder, s.reranker),
	}
	s.sessions[entry.Path] = sess
	return sess, nil
}

// invalidateSession drops any cached session for path, typically after a
// rebuild replaced the file.
func (s *Server) invalidateSession(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[path]; ok {
		_ = sess.store.Close()
		delete(s.sessions, path)
	}
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path, sess := range s.sessions {
		_ = sess.store.Close()
		delete(s.sessions, path)
	}
}
