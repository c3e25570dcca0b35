package cachemgr

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"corpusdb/corpuserr"
)

const lockFileName = ".lock"

// warningTimeout is the point at which an unacquired lock starts logging a
// warning, per spec section 4.4 and lock.py's FolderLock default.
const warningTimeout = 2 * time.Second

// abandonTimeout is the point at which lock acquisition gives up entirely.
const abandonTimeout = 24 * time.Hour

const retryInterval = 200 * time.Millisecond

// Lock is an exclusive, cross-process advisory lock on a flavor directory.
type Lock struct {
	file *os.File
	path string
}

// Acquire locks dir's ".lock" file, implementing the two-phase wait from
// lock.py's FolderLock: try quietly for warningTimeout, then log a warning
// naming the lock file and keep retrying until abandonTimeout.
func Acquire(dir string) (*Lock, error) {
	return AcquireWithTimeout(dir, warningTimeout, abandonTimeout)
}

// AcquireWithTimeout is Acquire with caller-supplied warning/abandon
// durations, exposed so tests can exercise the timeout path without
// waiting the production 24h abandon window.
func AcquireWithTimeout(dir string, warn, abandon time.Duration) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &corpuserr.IoError{Op: "mkdir " + dir, Inner: err}
	}
	path := filepath.Join(dir, lockFileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644) //nolint:gosec // path is derived from a configured cache root
	if err != nil {
		return nil, &corpuserr.IoError{Op: "open lock file " + path, Inner: err}
	}

	warned := false
	deadline := time.Now().Add(abandon)
	warnAt := time.Now().Add(warn)

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			fmt.Fprintf(f, "pid=%d\n", os.Getpid())
			return &Lock{file: f, path: path}, nil
		}

		now := time.Now()
		if now.After(deadline) {
			f.Close()
			return nil, &corpuserr.LockTimeoutError{Path: path}
		}
		if !warned && now.After(warnAt) {
			warned = true
			log.Warn().
				Str("component", "cachemgr").
				Str("lock_file", path).
				Msg("lock could not be acquired immediately; another process may be loading the same database")
		}
		time.Sleep(retryInterval)
	}
}

// Release unlocks and closes the lock file. The lock file itself is left on
// disk, matching the original implementation's behavior of never deleting
// lock files (their presence with a stale pid is a diagnostic aid).
func (l *Lock) Release() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}
