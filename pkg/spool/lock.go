//go:build linux

package spool

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Lock holds an advisory flock(2) on a spool directory for the lifetime of
// one session, the way uucico's reference refuses two simultaneous
// conversations with the same remote system from sharing a spool (spec
// §5). Grounded on the teacher's ioctl-by-fd style in
// pkg/channel/serial.go, generalized from TCGETS/TCSETS to LOCK_EX.
type Lock struct {
	f *os.File
}

// AcquireLock takes an exclusive, non-blocking lock on the file at path,
// creating it if needed (uucp.Endpoint uses "<LockDir>/.LCK..<system>",
// one per remote system). It returns an error if another session already
// holds it.
func AcquireLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("spool: open lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("spool: %s already locked: %w", path, err)
	}
	return &Lock{f: f}, nil
}

// Release drops the lock and closes the underlying file.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
