package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/docpack-mcp/internal/pipeline"
	"github.com/dshills/docpack-mcp/internal/searcher"
	"github.com/dshills/docpack-mcp/internal/splitter"
	"github.com/dshills/docpack-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams    = -32602 // Invalid method parameters
	ErrorCodeInternalError    = -32603 // Internal JSON-RPC error
	ErrorCodeLibraryNotFound  = -32001 // No library file matches the name and version range
	ErrorCodeBuildInProgress  = -32002 // Another build already holds the library's lock
	ErrorCodeMigrationNeeded  = -32003 // Library schema is older than this build supports
	ErrorCodeEmptyQuery       = -32004 // Query parameter is empty
	ErrorCodeLibraryCorrupted = -32005 // Library file failed integrity checks
)

// handleSearchDocs handles the search_docs tool invocation
func (s *Server) handleSearchDocs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	name, ok := args["library"].(string)
	if !ok || name == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "library parameter is required", map[string]interface{}{
			"param":  "library",
			"reason": "missing or empty",
		})
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	k := getIntDefault(args, "k", searcher.DefaultK)
	if k < 1 || k > searcher.MaxK {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("k must be between 1 and %d", searcher.MaxK), map[string]interface{}{
			"param": "k",
			"value": k,
		})
	}

	alpha := getFloatDefault(args, "hybrid_alpha", searcher.DefaultAlpha)
	if alpha < 0 || alpha > 1 {
		return nil, newMCPError(ErrorCodeInvalidParams, "hybrid_alpha must be between 0.0 and 1.0", map[string]interface{}{
			"param": "hybrid_alpha",
			"value": alpha,
		})
	}

	rerank := getBoolDefault(args, "rerank", false)
	if rerank && s.reranker == nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "rerank requested but no reranker is configured", map[string]interface{}{
			"param": "rerank",
		})
	}

	sess, err := s.openSession(ctx, name, getStringDefault(args, "version", ""))
	if err != nil {
		return nil, mcpErrorFor(err, "failed to open library")
	}

	resp, err := sess.searcher.Search(ctx, searcher.Request{
		Query:          query,
		K:              k,
		HybridAlpha:    alpha,
		ContentVersion: getStringDefault(args, "content_version", ""),
		ContextBefore:  getIntDefault(args, "context_before", 0),
		ContextAfter:   getIntDefault(args, "context_after", 0),
		Rerank:         rerank,
		UseCache:       getBoolDefault(args, "use_cache", true),
	})
	if err != nil {
		return nil, mcpErrorFor(err, "search failed")
	}

	return mcp.NewToolResultText(formatJSON(searchResponse(resp))), nil
}

// searchResponse flattens a search response into the wire shape.
func searchResponse(resp *searcher.Response) map[string]interface{} {
	results := make([]map[string]interface{}, 0, len(resp.Results))
	for _, r := range resp.Results {
		entry := map[string]interface{}{
			"chunk_id":      r.ChunkID,
			"rank":          r.Rank,
			"score":         r.Score,
			"vector_score":  r.VectorScore,
			"lexical_score": r.LexicalScore,
			"content":       r.Content,
			"source_file":   r.Metadata.SourceFile,
		}
		if r.Metadata.StartLine > 0 {
			entry["start_line"] = r.Metadata.StartLine
			entry["end_line"] = r.Metadata.EndLine
		}
		if r.Metadata.Language != "" {
			entry["language"] = r.Metadata.Language
		}
		if r.ContentVersion != "" {
			entry["content_version"] = r.ContentVersion
		}
		if len(r.ContextBefore) > 0 {
			entry["context_before"] = chunkContents(r.ContextBefore)
		}
		if len(r.ContextAfter) > 0 {
			entry["context_after"] = chunkContents(r.ContextAfter)
		}
		results = append(results, entry)
	}

	out := map[string]interface{}{
		"results":     results,
		"count":       len(results),
		"duration_ms": resp.Duration.Milliseconds(),
		"cache_hit":   resp.CacheHit,
		"reranked":    resp.Reranked,
	}
	if len(resp.Warnings) > 0 {
		out["warnings"] = resp.Warnings
	}
	return out
}

func chunkContents(chunks []types.StoredChunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Content
	}
	return out
}

// handleBuildLibrary handles the build_library tool invocation
func (s *Server) handleBuildLibrary(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	name, ok := args["name"].(string)
	if !ok || name == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "name parameter is required", map[string]interface{}{
			"param":  "name",
			"reason": "missing or empty",
		})
	}

	roots := getStringSlice(args, "roots")
	if len(roots) == 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "roots parameter is required", map[string]interface{}{
			"param":  "roots",
			"reason": "missing or empty",
		})
	}

	version := getStringDefault(args, "version", "")
	output := getStringDefault(args, "output", "")
	if output == "" {
		output = s.registry.DefaultPath(name, version)
	}

	contextMode, err := types.ParseContextMode(getStringDefault(args, "context_mode", ""))
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid context_mode", map[string]interface{}{
			"param":   "context_mode",
			"allowed": []string{"none", "minimal", "full"},
		})
	}
	opts := buildOptions{
		chunkSize:    getIntDefault(args, "chunk_size", splitter.DefaultChunkSize),
		chunkOverlap: getIntDefault(args, "chunk_overlap", splitter.DefaultChunkOverlap),
		noAST:        getBoolDefault(args, "no_ast", false),
		contextMode:  contextMode,
	}

	p, err := s.newPipeline(opts)
	if err != nil {
		return nil, mcpErrorFor(err, "invalid chunking options")
	}

	cfg := pipeline.Config{
		LibraryPath: output,
		Metadata: &types.LibraryMetadata{
			Name:           name,
			Version:        version,
			Description:    getStringDefault(args, "description", ""),
			ContentVersion: getStringDefault(args, "content_version", ""),
			Chunking: types.ChunkingInfo{
				Strategy:     types.StrategyText,
				ChunkSize:    opts.chunkSize,
				ChunkOverlap: opts.chunkOverlap,
			},
		},
		Roots:     roots,
		Overwrite: getBoolDefault(args, "overwrite", false),
		Workers:   getIntDefault(args, "workers", 0),
	}

	// A rebuild replaces the file under any open read-only handle.
	s.invalidateSession(output)

	result, err := p.Build(ctx, cfg)
	if err != nil {
		return nil, mcpErrorFor(err, "build failed")
	}

	response := map[string]interface{}{
		"build_id":        result.BuildID,
		"library_path":    result.LibraryPath,
		"files_processed": result.FilesProcessed,
		"files_failed":    result.FilesFailed,
		"chunks_stored":   result.ChunksStored,
		"duration_ms":     result.Duration.Milliseconds(),
	}
	if len(result.Warnings) > 0 {
		warnings := result.Warnings
		if len(warnings) > 5 {
			response["warning_count"] = len(warnings)
			warnings = warnings[:5]
		}
		response["warnings"] = warnings
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleListLibraries handles the list_libraries tool invocation
func (s *Server) handleListLibraries(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := s.registry.List()
	if err != nil {
		return nil, mcpErrorFor(err, "failed to scan library directories")
	}

	libraries := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		libraries = append(libraries, map[string]interface{}{
			"name":    e.Name,
			"version": e.Version,
			"path":    e.Path,
		})
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"libraries": libraries,
		"count":     len(libraries),
	})), nil
}

// handleLibraryInfo handles the library_info tool invocation
func (s *Server) handleLibraryInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	name, ok := args["library"].(string)
	if !ok || name == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "library parameter is required", map[string]interface{}{
			"param":  "library",
			"reason": "missing or empty",
		})
	}

	sess, err := s.openSession(ctx, name, getStringDefault(args, "version", ""))
	if err != nil {
		return nil, mcpErrorFor(err, "failed to open library")
	}

	meta, err := sess.store.Metadata(ctx)
	if err != nil {
		return nil, mcpErrorFor(err, "failed to read library metadata")
	}

	response := map[string]interface{}{
		"name":            meta.Name,
		"version":         meta.Version,
		"description":     meta.Description,
		"content_version": meta.ContentVersion,
		"schema_version":  meta.SchemaVersion,
		"created_at":      meta.CreatedAt.Format(time.RFC3339),
		"path":            sess.store.Path(),
		"embedding": map[string]interface{}{
			"model":      meta.Embedding.Model,
			"dimensions": meta.Embedding.Dimensions,
		},
		"chunking": map[string]interface{}{
			"strategy":      string(meta.Chunking.Strategy),
			"chunk_size":    meta.Chunking.ChunkSize,
			"chunk_overlap": meta.Chunking.ChunkOverlap,
		},
		"statistics": map[string]interface{}{
			"chunk_count":  meta.Stats.ChunkCount,
			"source_count": meta.Stats.SourceCount,
			"file_size_mb": fmt.Sprintf("%.2f", float64(meta.Stats.FileSize)/(1024*1024)),
		},
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// mcpErrorFor maps application errors onto protocol error codes.
func mcpErrorFor(err error, message string) error {
	code := ErrorCodeInternalError
	switch {
	case errors.Is(err, types.ErrNotFound):
		code = ErrorCodeLibraryNotFound
	case errors.Is(err, types.ErrAlreadyLocked):
		code = ErrorCodeBuildInProgress
	case errors.Is(err, types.ErrMigrationRequired), errors.Is(err, types.ErrSchemaVersion):
		code = ErrorCodeMigrationNeeded
	case errors.Is(err, types.ErrCorrupted):
		code = ErrorCodeLibraryCorrupted
	case errors.Is(err, types.ErrConfiguration), errors.Is(err, types.ErrAlreadyExists):
		code = ErrorCodeInvalidParams
	}
	return newMCPError(code, message, map[string]interface{}{
		"error": err.Error(),
	})
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getFloatDefault extracts a float parameter with a default value
func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	if val, ok := args[key].(float64); ok {
		return val
	}
	if val, ok := args[key].(int); ok {
		return float64(val)
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice extracts a string array parameter
func getStringSlice(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
