package coldboot

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// ExitStatus is how a worker ended.
type ExitStatus struct {
	Code     int
	Signaled bool
	Signal   syscall.Signal
}

// Success reports a normal exit with status zero.
func (s ExitStatus) Success() bool {
	return !s.Signaled && s.Code == 0
}

func (s ExitStatus) String() string {
	if s.Signaled {
		return fmt.Sprintf("killed by signal %d (%s)", int(s.Signal), s.Signal)
	}
	return fmt.Sprintf("exit status %d", s.Code)
}

// Reaper waits for any worker to end. It returns unix.ECHILD when no child
// is left and may return unix.EINTR or other transient errors.
type Reaper interface {
	Wait() (int, ExitStatus, error)
}

// ProcessReaper reaps child processes with wait4.
type ProcessReaper struct{}

func (ProcessReaper) Wait() (int, ExitStatus, error) {
	var ws unix.WaitStatus
	pid, err := unix.Wait4(-1, &ws, 0, nil)
	if err != nil {
		return 0, ExitStatus{}, err
	}
	if ws.Signaled() {
		return pid, ExitStatus{Signaled: true, Signal: ws.Signal()}, nil
	}
	return pid, ExitStatus{Code: ws.ExitStatus()}, nil
}
