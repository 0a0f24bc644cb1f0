package coldboot

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkerFailed reports a worker that exited non-zero or was killed.
	ErrWorkerFailed = errors.New("cold-boot worker failed")
	// ErrNoChildren reports that wait found no children while workers were
	// still outstanding.
	ErrNoChildren = errors.New("no child processes left to reap")
)

// FatalError aborts a cold-boot run. The caller must exit non-zero so the
// supervisor restarts ueventd; the completion marker is never written.
type FatalError struct {
	Op  string
	PID int
	Err error
}

func (e *FatalError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("cold boot %s (pid %d): %v", e.Op, e.PID, e.Err)
	}
	return fmt.Sprintf("cold boot %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func fatal(op string, pid int, err error) *FatalError {
	return &FatalError{Op: op, PID: pid, Err: err}
}
