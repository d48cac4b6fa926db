package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/docpack-mcp/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var libraryDirs []string

func main() {
	root := &cobra.Command{
		Use:           "docpack",
		Short:         "Portable documentation libraries with hybrid retrieval",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringArrayVar(&libraryDirs, "library-dir", nil,
		"directory scanned for .docpack files (repeatable; default ~/.docpack/libraries)")

	root.AddCommand(
		serveCommand(),
		buildCommand(),
		searchCommand(),
		listCommand(),
		infoCommand(),
		migrateCommand(),
		versionCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("docpack %s\n", version)
			fmt.Printf("Build Time: %s\n", buildTime)
			fmt.Printf("Build Mode: %s\n", storage.BuildMode)
			fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
			fmt.Printf("Vector Extension: %v\n", storage.VectorExtensionAvailable)
		},
	}
}

// resolveLibraryDirs applies the default directory when none was given.
func resolveLibraryDirs() ([]string, error) {
	if len(libraryDirs) > 0 {
		return libraryDirs, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return []string{filepath.Join(home, ".docpack", "libraries")}, nil
}

// newLogger builds a stderr logger so stdout stays free for command output
// (and for the MCP protocol under serve).
func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}
