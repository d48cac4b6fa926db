// Package mcp exposes the retrieval engine over the Model Context Protocol.
//
// The server speaks MCP on stdio and registers four tools:
//
//   - search_docs: hybrid semantic + keyword search over one library file,
//     with optional context expansion and reranking
//   - build_library: ingest documentation trees into a new .docpack file
//   - list_libraries: enumerate library files in the configured directories
//   - library_info: metadata and statistics for one library file
//
// Libraries are opened read-only and lazily. Each open library gets a
// dedicated searcher (with its own query cache) that lives for the rest of
// the process, except when build_library replaces the file, which drops the
// cached handle. Builds always write through the pipeline, so a library
// being rebuilt is protected by the build lock and searches against the old
// handle keep working until the handle is invalidated.
//
// Errors cross the protocol boundary as JSON-RPC error codes: resolution
// failures map to "library not found", lock contention to "build in
// progress", and stale on-disk schemas to "migration needed" so the client
// can suggest running the migrate command.
package mcp
