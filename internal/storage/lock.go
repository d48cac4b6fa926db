package storage

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/dshills/docpack-mcp/pkg/types"
)

// BuildLock guards a library file against concurrent builds. Cross-process
// exclusion uses a `<path>.lock` sentinel created with O_EXCL; in-process
// exclusion uses a shared registry, since two goroutines in one process
// would race the filesystem check.
type BuildLock struct {
	libraryPath string
	lockPath    string
}

var (
	heldLocksMu sync.Mutex
	heldLocks   = map[string]struct{}{}
)

// AcquireBuildLock takes the build lock for a library file. A lock already
// held by any process fails with ErrAlreadyLocked.
func AcquireBuildLock(libraryPath string) (*BuildLock, error) {
	lockPath := libraryPath + ".lock"

	heldLocksMu.Lock()
	if _, held := heldLocks[lockPath]; held {
		heldLocksMu.Unlock()
		return nil, fmt.Errorf("%w: %s", types.ErrAlreadyLocked, libraryPath)
	}
	heldLocks[lockPath] = struct{}{}
	heldLocksMu.Unlock()

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		heldLocksMu.Lock()
		delete(heldLocks, lockPath)
		heldLocksMu.Unlock()
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", types.ErrAlreadyLocked, libraryPath)
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}

	_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	_ = f.Close()

	return &BuildLock{libraryPath: libraryPath, lockPath: lockPath}, nil
}

// Release removes the lock file. Must only be called by the holder.
func (l *BuildLock) Release() error {
	heldLocksMu.Lock()
	delete(heldLocks, l.lockPath)
	heldLocksMu.Unlock()

	if err := os.Remove(l.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}
