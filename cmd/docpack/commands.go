package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/docpack-mcp/internal/builder"
	"github.com/dshills/docpack-mcp/internal/chunker"
	"github.com/dshills/docpack-mcp/internal/embedder"
	"github.com/dshills/docpack-mcp/internal/library"
	"github.com/dshills/docpack-mcp/internal/mcp"
	"github.com/dshills/docpack-mcp/internal/pipeline"
	"github.com/dshills/docpack-mcp/internal/reranker"
	"github.com/dshills/docpack-mcp/internal/searcher"
	"github.com/dshills/docpack-mcp/internal/splitter"
	"github.com/dshills/docpack-mcp/internal/storage"
	"github.com/dshills/docpack-mcp/pkg/types"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(false)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			dirs, err := resolveLibraryDirs()
			if err != nil {
				return err
			}

			srv, err := mcp.NewServer(mcp.Config{
				LibraryDirs: dirs,
				Logger:      logger,
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			errChan := make(chan error, 1)
			go func() {
				logger.Info("MCP server ready, listening on stdio",
					zap.String("version", version),
					zap.String("build_mode", storage.BuildMode),
					zap.Strings("library_dirs", dirs))
				errChan <- srv.Serve(ctx)
			}()

			select {
			case sig := <-sigChan:
				logger.Info("shutting down", zap.String("signal", sig.String()))
				cancel()
				return nil
			case err := <-errChan:
				return err
			}
		},
	}
}

func buildCommand() *cobra.Command {
	var (
		name           string
		libVersion     string
		contentVersion string
		description    string
		output         string
		overwrite      bool
		workers        int
		chunkSize      int
		chunkOverlap   int
		noAST          bool
		contextMode    string
	)

	cmd := &cobra.Command{
		Use:   "build [roots...]",
		Short: "Build a library file from documentation sources",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("%w: --name is required", types.ErrConfiguration)
			}
			mode, err := types.ParseContextMode(contextMode)
			if err != nil {
				return err
			}

			logger, err := newLogger(true)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			emb, err := embedder.NewFromEnv()
			if err != nil {
				return err
			}
			defer func() { _ = emb.Dispose() }()

			split, err := splitter.New(chunkSize, chunkOverlap)
			if err != nil {
				return err
			}

			if output == "" {
				dirs, err := resolveLibraryDirs()
				if err != nil {
					return err
				}
				if err := os.MkdirAll(dirs[0], 0o755); err != nil {
					return err
				}
				output = library.NewRegistry(dirs...).DefaultPath(name, libVersion)
			}

			// The AST capability is an external plug-in; the adapter still
			// carries the options so a configured capability picks them up.
			adapter := chunker.New(nil, chunker.ASTOptions{
				MaxChunkSize: chunkSize,
				ContextMode:  mode,
			})

			p := pipeline.New(builder.New(adapter, split, noAST), emb, logger)
			result, err := p.Build(cmd.Context(), pipeline.Config{
				LibraryPath: output,
				Metadata: &types.LibraryMetadata{
					Name:           name,
					Version:        libVersion,
					Description:    description,
					ContentVersion: contentVersion,
					Chunking: types.ChunkingInfo{
						Strategy:     types.StrategyText,
						ChunkSize:    chunkSize,
						ChunkOverlap: chunkOverlap,
					},
				},
				Roots:     args,
				Overwrite: overwrite,
				Workers:   workers,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Built %s\n", result.LibraryPath)
			fmt.Printf("  Files:  %d processed, %d failed\n", result.FilesProcessed, result.FilesFailed)
			fmt.Printf("  Chunks: %d\n", result.ChunksStored)
			fmt.Printf("  Took:   %s\n", result.Duration.Round(time.Millisecond))
			for _, w := range result.Warnings {
				fmt.Printf("  warning: %s\n", w)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "library name (required)")
	cmd.Flags().StringVar(&libVersion, "version", "", "library semver, e.g. 18.2.0")
	cmd.Flags().StringVar(&contentVersion, "content-version", "", "content version tag stamped on every chunk")
	cmd.Flags().StringVar(&description, "description", "", "library description")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file path (default: first library dir)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing library file")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent file workers (default: CPU count)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", splitter.DefaultChunkSize, "target chunk size in characters")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", splitter.DefaultChunkOverlap, "overlap between adjacent chunks")
	cmd.Flags().BoolVar(&noAST, "no-ast", false, "disable semantic chunking, use text splitting only")
	cmd.Flags().StringVar(&contextMode, "context-mode", "full", "semantic context persisted for code chunks: none, minimal, or full")
	return cmd
}

func searchCommand() *cobra.Command {
	var (
		libName        string
		versionRange   string
		k              int
		alpha          float64
		contentVersion string
		contextBefore  int
		contextAfter   int
		rerank         bool
		asJSON         bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search a library from the command line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if libName == "" {
				return fmt.Errorf("%w: --library is required", types.ErrConfiguration)
			}

			emb, err := embedder.NewFromEnv()
			if err != nil {
				return err
			}
			defer func() { _ = emb.Dispose() }()

			var rr reranker.Reranker
			if rerank {
				key := os.Getenv(mcp.EnvRerankerAPIKey)
				if key == "" {
					return fmt.Errorf("%w: --rerank needs %s", types.ErrConfiguration, mcp.EnvRerankerAPIKey)
				}
				rr, err = reranker.NewJinaReranker(key,
					os.Getenv(mcp.EnvRerankerBase), os.Getenv(mcp.EnvRerankerModel))
				if err != nil {
					return err
				}
			}

			dirs, err := resolveLibraryDirs()
			if err != nil {
				return err
			}
			store, err := library.NewRegistry(dirs...).Open(cmd.Context(), libName, versionRange, true, false)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			resp, err := searcher.New(store, emb, rr).Search(cmd.Context(), searcher.Request{
				Query:          args[0],
				K:              k,
				HybridAlpha:    alpha,
				ContentVersion: contentVersion,
				ContextBefore:  contextBefore,
				ContextAfter:   contextAfter,
				Rerank:         rerank,
			})
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			printResults(resp)
			return nil
		},
	}

	cmd.Flags().StringVarP(&libName, "library", "l", "", "library name (required)")
	cmd.Flags().StringVar(&versionRange, "version", "", "semver range, e.g. '^18.0'")
	cmd.Flags().IntVarP(&k, "k", "k", searcher.DefaultK, "number of results")
	cmd.Flags().Float64Var(&alpha, "alpha", searcher.DefaultAlpha, "vector weight: 1.0 semantic only, 0.0 keyword only")
	cmd.Flags().StringVar(&contentVersion, "content-version", "", "restrict to chunks with this content version")
	cmd.Flags().IntVar(&contextBefore, "context-before", 0, "adjacent chunks to attach before each hit")
	cmd.Flags().IntVar(&contextAfter, "context-after", 0, "adjacent chunks to attach after each hit")
	cmd.Flags().BoolVar(&rerank, "rerank", false, "rerank the final results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit results as JSON")
	return cmd
}

func printResults(resp *searcher.Response) {
	for _, w := range resp.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	if len(resp.Results) == 0 {
		fmt.Println("No results.")
		return
	}
	for _, r := range resp.Results {
		loc := r.Metadata.SourceFile
		if r.Metadata.StartLine > 0 {
			loc = fmt.Sprintf("%s:%d-%d", loc, r.Metadata.StartLine, r.Metadata.EndLine)
		}
		fmt.Printf("%2d. [%.3f] %s\n", r.Rank, r.Score, loc)
		for _, c := range r.ContextBefore {
			fmt.Println(indent(c.Content))
		}
		fmt.Println(indent(r.Content))
		for _, c := range r.ContextAfter {
			fmt.Println(indent(c.Content))
		}
		fmt.Println()
	}
	fmt.Printf("%d results in %s\n", len(resp.Results), resp.Duration.Round(time.Millisecond))
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}

func listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed library files",
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs, err := resolveLibraryDirs()
			if err != nil {
				return err
			}
			entries, err := library.NewRegistry(dirs...).List()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No libraries installed.")
				return nil
			}
			for _, e := range entries {
				if e.Version == "" {
					fmt.Printf("%s\t%s\n", e.Name, e.Path)
					continue
				}
				fmt.Printf("%s %s\t%s\n", e.Name, e.Version, e.Path)
			}
			return nil
		},
	}
}

func infoCommand() *cobra.Command {
	var versionRange string

	cmd := &cobra.Command{
		Use:   "info <library>",
		Short: "Show metadata and statistics for a library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs, err := resolveLibraryDirs()
			if err != nil {
				return err
			}
			store, err := library.NewRegistry(dirs...).Open(cmd.Context(), args[0], versionRange, true, false)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			meta, err := store.Metadata(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Name:            %s\n", meta.Name)
			fmt.Printf("Version:         %s\n", meta.Version)
			if meta.Description != "" {
				fmt.Printf("Description:     %s\n", meta.Description)
			}
			if meta.ContentVersion != "" {
				fmt.Printf("Content Version: %s\n", meta.ContentVersion)
			}
			fmt.Printf("Schema Version:  %d\n", meta.SchemaVersion)
			fmt.Printf("Created:         %s\n", meta.CreatedAt.Format(time.RFC3339))
			fmt.Printf("Path:            %s\n", store.Path())
			fmt.Printf("Embedding:       %s (%d dimensions)\n", meta.Embedding.Model, meta.Embedding.Dimensions)
			fmt.Printf("Chunking:        %s, size %d, overlap %d\n",
				meta.Chunking.Strategy, meta.Chunking.ChunkSize, meta.Chunking.ChunkOverlap)
			fmt.Printf("Chunks:          %d across %d files\n", meta.Stats.ChunkCount, meta.Stats.SourceCount)
			fmt.Printf("File Size:       %.2f MB\n", float64(meta.Stats.FileSize)/(1024*1024))
			return nil
		},
	}

	cmd.Flags().StringVar(&versionRange, "version", "", "semver range, e.g. '^18.0'")
	return cmd
}

func migrateCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "migrate <path>",
		Short: "Check or upgrade a library file's schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := storage.MigrateIfNeeded(cmd.Context(), args[0], force)
			if err != nil {
				if !force && errors.Is(err, types.ErrMigrationRequired) {
					fmt.Printf("Schema upgrade required. Re-run with --force to migrate in place.\n")
				}
				return err
			}
			if result.Migrated {
				fmt.Printf("Migrated %s from schema %d to %d\n", args[0], result.FromVersion, result.ToVersion)
			} else {
				fmt.Printf("%s is up to date (schema %d)\n", args[0], result.ToVersion)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "apply pending migrations in place")
	return cmd
}
