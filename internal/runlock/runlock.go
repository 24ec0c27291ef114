// Package runlock gates pipeline startup: required privilege and a
// single-instance guarantee via an exclusive advisory lock file.
package runlock

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/dmitrijs2005/snapvault/internal/common"
)

// geteuid is a test seam.
var geteuid = os.Geteuid

// CheckPrivilege verifies the process runs with the rights the disk tooling
// needs (effective UID 0). Failure is common.ErrPrivilege.
func CheckPrivilege() error {
	if geteuid() != 0 {
		return fmt.Errorf("%w: must run as root", common.ErrPrivilege)
	}
	return nil
}

// Lock is a held exclusive advisory lock.
type Lock struct {
	f *os.File
}

// Acquire takes an exclusive non-blocking flock on path, creating the file
// when missing and recording the holder's PID. A second concurrent
// invocation gets common.ErrAlreadyRunning.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, fmt.Errorf("%w: lock held on %s", common.ErrAlreadyRunning, path)
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	// Best-effort PID record for the operator; the flock is the guarantee.
	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)

	return &Lock{f: f}, nil
}

// Release drops the lock. Safe to call once per Acquire.
func (l *Lock) Release() {
	if l == nil || l.f == nil {
		return
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	_ = l.f.Close()
	l.f = nil
}
