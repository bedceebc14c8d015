package toc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/mchaput/tessera/pkg/errors"
)

// LockFilename is the writer lock file inside the index directory.
const LockFilename = "write.lock"

// Lock is the non-reentrant exclusive writer lock, held as a lock file for
// the session's duration.
type Lock struct {
	path string
}

// Acquire takes the write lock. With wait zero it fails fast with
// ErrLockBusy; otherwise it polls every retry until wait elapses or ctx is
// cancelled. There is no queueing between waiters.
func Acquire(ctx context.Context, dir string, wait, retry time.Duration) (*Lock, error) {
	path := filepath.Join(dir, LockFilename)
	deadline := time.Now().Add(wait)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("creating lock file: %w", err)
		}
		if wait <= 0 || time.Now().After(deadline) {
			return nil, fmt.Errorf("lock file %s held: %w", path, apperrors.ErrLockBusy)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retry):
		}
	}
}

// Release removes the lock file. Safe to call once per acquired lock.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}
