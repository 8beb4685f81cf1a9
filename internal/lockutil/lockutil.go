// Package lockutil serializes cross-process access to shared files via
// advisory flock locks.
package lockutil

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// WithFileLock holds an exclusive flock on path (created if absent) for the
// duration of fn. Multiple writers in the same or different processes are
// serialized; the lock is advisory, so only cooperating code is excluded.
func WithFileLock(path string, fn func() error) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("opening lock file %q: %w", path, err)
	}
	defer f.Close()

	if err := flock(f, unix.LOCK_EX); err != nil {
		return fmt.Errorf("locking %q: %w", path, err)
	}
	defer flock(f, unix.LOCK_UN) //nolint:errcheck // unlock also happens on close

	return fn()
}

func flock(f *os.File, flags int) error {
	fd := int(f.Fd())
	for {
		err := unix.Flock(fd, flags)
		if err == nil || err != unix.EINTR {
			return err
		}
	}
}
