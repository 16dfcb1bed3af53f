package axidraw

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/tkoval83/cplot-sub000/errs"
)

// lockFileName is the well-known advisory lock path, shared by every
// process on the machine that might open a session concurrently.
const lockFileName = "cplot-axidraw.lock"

// LockHandle is the held advisory lock: an OS file descriptor on a
// well-known path, flocked for the lifetime of a connected session.
type LockHandle struct {
	file *os.File
}

// AcquireLock takes an exclusive, non-blocking advisory lock on the
// well-known lock path under the process temp directory, recording the
// owning pid for diagnostics. A second acquirer (another process, or
// this one, holding the lock already) fails fast with errs.Busy rather
// than blocking: the device session is meant to serve one caller.
func AcquireLock() (*LockHandle, error) {
	path := filepath.Join(os.TempDir(), lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errs.New(errs.Busy, "axidraw.AcquireLock", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, errs.New(errs.Busy, "axidraw.AcquireLock", fmt.Errorf("lock held: %w", err))
	}
	if err := f.Truncate(0); err == nil {
		f.WriteAt([]byte(fmt.Sprintf("pid=%d\n", os.Getpid())), 0)
	}
	return &LockHandle{file: f}, nil
}

// Release unlocks and closes the lock file. Releasing a nil or
// already-released handle is a no-op.
func (h *LockHandle) Release() error {
	if h == nil || h.file == nil {
		return nil
	}
	unix.Flock(int(h.file.Fd()), unix.LOCK_UN)
	err := h.file.Close()
	h.file = nil
	return err
}
