package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// searchDocsTool returns the tool definition for search_docs
func searchDocsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_docs",
		Description: "Search a documentation library with hybrid semantic and keyword retrieval",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"library": map[string]interface{}{
					"type":        "string",
					"description": "Library name to search (e.g. 'react')",
				},
				"version": map[string]interface{}{
					"type":        "string",
					"description": "Semver range selecting the library file (e.g. '^18.0'); empty picks the highest version",
				},
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"hybrid_alpha": map[string]interface{}{
					"type":        "number",
					"description": "Vector weight in the score blend: 1.0 is pure semantic, 0.0 is pure keyword",
					"default":     0.7,
					"minimum":     0.0,
					"maximum":     1.0,
				},
				"content_version": map[string]interface{}{
					"type":        "string",
					"description": "Restrict results to chunks tagged with this content version",
				},
				"context_before": map[string]interface{}{
					"type":        "integer",
					"description": "Number of adjacent chunks from the same file to attach before each hit",
					"default":     0,
					"minimum":     0,
				},
				"context_after": map[string]interface{}{
					"type":        "integer",
					"description": "Number of adjacent chunks from the same file to attach after each hit",
					"default":     0,
					"minimum":     0,
				},
				"rerank": map[string]interface{}{
					"type":        "boolean",
					"description": "Reorder the final result set with the configured reranking model",
					"default":     false,
				},
				"use_cache": map[string]interface{}{
					"type":        "boolean",
					"description": "Serve repeated queries from the in-memory result cache",
					"default":     true,
				},
			},
			Required: []string{"library", "query"},
		},
	}
}

// buildLibraryTool returns the tool definition for build_library
func buildLibraryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "build_library",
		Description: "Build a portable library file from documentation source directories",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Library name",
				},
				"version": map[string]interface{}{
					"type":        "string",
					"description": "Library semver (e.g. '18.2.0')",
				},
				"content_version": map[string]interface{}{
					"type":        "string",
					"description": "Content version tag stamped on every chunk",
				},
				"description": map[string]interface{}{
					"type":        "string",
					"description": "Human-readable library description",
				},
				"roots": map[string]interface{}{
					"type":        "array",
					"description": "Absolute paths of files or directories to ingest",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"output": map[string]interface{}{
					"type":        "string",
					"description": "Output file path; defaults to '<name>-<version>.docpack' in the first library directory",
				},
				"overwrite": map[string]interface{}{
					"type":        "boolean",
					"description": "Replace the output file if it already exists",
					"default":     false,
				},
				"chunk_size": map[string]interface{}{
					"type":        "integer",
					"description": "Target chunk size in characters",
					"default":     1500,
					"minimum":     1,
				},
				"chunk_overlap": map[string]interface{}{
					"type":        "integer",
					"description": "Overlap between adjacent chunks in characters",
					"default":     200,
					"minimum":     0,
				},
				"no_ast": map[string]interface{}{
					"type":        "boolean",
					"description": "Disable semantic chunking, use text splitting only",
					"default":     false,
				},
				"context_mode": map[string]interface{}{
					"type":        "string",
					"description": "How much semantic context to persist for code chunks",
					"enum":        []string{"none", "minimal", "full"},
					"default":     "full",
				},
				"workers": map[string]interface{}{
					"type":        "integer",
					"description": "Concurrent file workers; defaults to the CPU count",
					"minimum":     1,
				},
			},
			Required: []string{"name", "roots"},
		},
	}
}

// listLibrariesTool returns the tool definition for list_libraries
func listLibrariesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_libraries",
		Description: "List the library files available in the configured search paths",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// libraryInfoTool returns the tool definition for library_info
func libraryInfoTool() mcp.Tool {
	return mcp.Tool{
		Name:        "library_info",
		Description: "Show metadata and statistics for a library file",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"library": map[string]interface{}{
					"type":        "string",
					"description": "Library name",
				},
				"version": map[string]interface{}{
					"type":        "string",
					"description": "Semver range selecting the library file; empty picks the highest version",
				},
			},
			Required: []string{"library"},
		},
	}
}
