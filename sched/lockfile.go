package sched

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/base/errors"
)

// Lock is a symlink-based mutual-exclusion lock (spec §4.H "a run directory
// may have at most one active scheduler"): os.Symlink is atomic, so two
// processes racing to create the same link name can never both succeed.
type Lock struct {
	path string
}

// lockToken derives a short, audit-friendly fingerprint for a lock holder
// from its hostname, pid and acquisition time, using seahash the way the
// scheduler's manifest cross-checks use fast non-crypto hashes elsewhere in
// the pack (SPEC_FULL §5 domain stack).
func lockToken() string {
	host, _ := os.Hostname()
	s := fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().UnixNano())
	sum := seahash.Sum64([]byte(s))
	return fmt.Sprintf("pid-%d-%x", os.Getpid(), sum)
}

// AcquireLock creates a lock at path pointing at a token identifying the
// current process, failing if a live lock already exists.
func AcquireLock(path string) (*Lock, error) {
	target := lockToken()
	err := os.Symlink(target, path)
	if err == nil {
		return &Lock{path: path}, nil
	}
	if !os.IsExist(err) {
		return nil, errors.E(err, "sched: creating lock "+path)
	}
	if stale, staleErr := isStaleLock(path); staleErr == nil && stale {
		if rmErr := os.Remove(path); rmErr == nil {
			if err2 := os.Symlink(target, path); err2 == nil {
				return &Lock{path: path}, nil
			}
		}
	}
	return nil, errors.E(errors.Precondition, "sched: another run holds the lock at "+path)
}

// isStaleLock reports whether the process recorded in the lock's target no
// longer exists. Best-effort: a false negative just means the lock is
// treated as live, which is always safe.
func isStaleLock(path string) (bool, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return false, err
	}
	var pid int
	if _, err := fmt.Sscanf(target, "pid-%d", &pid); err != nil {
		return false, nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return true, nil
	}
	// On Unix, FindProcess always succeeds; signal 0 probes liveness
	// without affecting the process.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return true, nil
	}
	return false, nil
}

// Release removes the lock. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	err := os.Remove(l.path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// WaitForLock polls AcquireLock until it succeeds or cancel is raised —
// used by cmd/bscall's run subcommand when --wait-for-lock is set.
func WaitForLock(path string, pollEvery time.Duration, cancel *CancelFlag) (*Lock, error) {
	for {
		l, err := AcquireLock(path)
		if err == nil {
			return l, nil
		}
		if cancel.Raised() {
			return nil, errors.E(errors.Canceled, "sched: canceled while waiting for lock")
		}
		time.Sleep(pollEvery)
	}
}
