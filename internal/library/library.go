// Package library locates and opens library files. A registry scans an
// explicit set of directories for `<name>-<version>.docpack` files and
// resolves version ranges against what is installed. Search paths are
// injected at construction; nothing here reads globals.
package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/dshills/docpack-mcp/internal/storage"
	"github.com/dshills/docpack-mcp/pkg/types"
)

// Extension is the library file extension.
const Extension = ".docpack"

// Entry is one installed library file.
type Entry struct {
	Name    string
	Version string
	Path    string
}

// Filename builds the canonical file name for a library.
func Filename(name, version string) string {
	if version == "" {
		return name + Extension
	}
	return name + "-" + version + Extension
}

// parseFilename splits `<name>-<version>.docpack` into its parts. The
// version is the suffix after the last dash that parses as semver; names may
// themselves contain dashes.
func parseFilename(base string) (name, version string) {
	stem := strings.TrimSuffix(base, Extension)
	idx := strings.LastIndex(stem, "-")
	if idx <= 0 {
		return stem, ""
	}
	candidate := stem[idx+1:]
	if _, err := semver.NewVersion(candidate); err != nil {
		return stem, ""
	}
	return stem[:idx], candidate
}

// Registry resolves library names against a fixed set of directories.
type Registry struct {
	searchPaths []string
}

// NewRegistry creates a registry over the given directories, scanned in
// order. Missing directories are skipped at scan time.
func NewRegistry(searchPaths ...string) *Registry {
	return &Registry{searchPaths: searchPaths}
}

// DefaultPath returns where a new library with the given name and version
// would be written: the registry's first search path.
func (r *Registry) DefaultPath(name, version string) string {
	if len(r.searchPaths) == 0 {
		return Filename(name, version)
	}
	return filepath.Join(r.searchPaths[0], Filename(name, version))
}

// List returns every installed library, sorted by name then version
// descending.
func (r *Registry) List() ([]Entry, error) {
	entries := make([]Entry, 0)
	for _, dir := range r.searchPaths {
		files, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), Extension) {
				continue
			}
			name, version := parseFilename(f.Name())
			entries = append(entries, Entry{
				Name:    name,
				Version: version,
				Path:    filepath.Join(dir, f.Name()),
			})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return compareVersions(entries[i].Version, entries[j].Version) > 0
	})
	return entries, nil
}

// Resolve picks the best installed version of a library. An empty range
// means "highest version". Ranges use semver constraint syntax ("^1.2",
// ">=0.4 <2.0").
func (r *Registry) Resolve(name, versionRange string) (*Entry, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}

	var constraint *semver.Constraints
	if versionRange != "" {
		constraint, err = semver.NewConstraint(versionRange)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid version range %q: %v", types.ErrConfiguration, versionRange, err)
		}
	}

	var best *Entry
	var bestVersion *semver.Version
	for i := range all {
		e := all[i]
		if e.Name != name {
			continue
		}
		if constraint == nil {
			if best == nil {
				best = &e
				bestVersion, _ = semver.NewVersion(e.Version)
				continue
			}
			v, err := semver.NewVersion(e.Version)
			if err != nil {
				continue
			}
			if bestVersion == nil || v.GreaterThan(bestVersion) {
				best = &e
				bestVersion = v
			}
			continue
		}

		v, err := semver.NewVersion(e.Version)
		if err != nil {
			continue
		}
		if !constraint.Check(v) {
			continue
		}
		if bestVersion == nil || v.GreaterThan(bestVersion) {
			best = &e
			bestVersion = v
		}
	}

	if best == nil {
		if versionRange == "" {
			return nil, fmt.Errorf("%w: library %q not installed", types.ErrNotFound, name)
		}
		return nil, fmt.Errorf("%w: no installed version of %q satisfies %q", types.ErrNotFound, name, versionRange)
	}
	return best, nil
}

// Open resolves a library and opens its store. With autoMigrate, a file on
// an older schema is migrated in place first.
func (r *Registry) Open(ctx context.Context, name, versionRange string, readOnly, autoMigrate bool) (*storage.SQLiteStore, error) {
	entry, err := r.Resolve(name, versionRange)
	if err != nil {
		return nil, err
	}
	return OpenPath(ctx, entry.Path, readOnly, autoMigrate)
}

// OpenPath opens a library file directly, optionally migrating it forward.
func OpenPath(ctx context.Context, path string, readOnly, autoMigrate bool) (*storage.SQLiteStore, error) {
	store, err := storage.Open(path, readOnly)
	if err == nil {
		return store, nil
	}
	if !autoMigrate || !errors.Is(err, types.ErrMigrationRequired) {
		return nil, err
	}

	if _, err := storage.MigrateIfNeeded(ctx, path, true); err != nil {
		return nil, err
	}
	return storage.Open(path, readOnly)
}

// compareVersions orders semver strings; unparseable versions sort last.
func compareVersions(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return va.Compare(vb)
}
