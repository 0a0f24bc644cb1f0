package coldboot

import (
	"context"
	"sync"

	"golang.org/x/sys/unix"

	"ueventd/internal/uevent"
)

// WorkerFunc runs one worker to completion.
type WorkerFunc func(ctx context.Context, spec WorkerSpec) error

// InProcess runs workers as goroutines and reports their ends through the
// same Reaper contract as real processes. Pids are synthetic.
type InProcess struct {
	run WorkerFunc

	mu      sync.Mutex
	cond    *sync.Cond
	nextPID int
	live    int
	done    []reaped
}

type reaped struct {
	pid    int
	status ExitStatus
}

// NewInProcess returns a spawner that is also the matching reaper.
func NewInProcess(run WorkerFunc) *InProcess {
	p := &InProcess{run: run, nextPID: 1 << 22}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *InProcess) Spawn(ctx context.Context, spec WorkerSpec) (int, error) {
	p.mu.Lock()
	p.nextPID++
	pid := p.nextPID
	p.live++
	p.mu.Unlock()

	go func() {
		status := ExitStatus{}
		func() {
			defer func() {
				if recover() != nil {
					status = ExitStatus{Code: 2}
				}
			}()
			if err := p.run(ctx, spec); err != nil {
				status = ExitStatus{Code: 1}
			}
		}()
		p.mu.Lock()
		p.done = append(p.done, reaped{pid: pid, status: status})
		p.cond.Signal()
		p.mu.Unlock()
	}()
	return pid, nil
}

// Kill is a no-op; in-process workers stop when their context is canceled.
func (p *InProcess) Kill(int) error {
	return nil
}

func (p *InProcess) Wait() (int, ExitStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.done) == 0 {
		if p.live == 0 {
			return 0, ExitStatus{}, unix.ECHILD
		}
		p.cond.Wait()
	}
	r := p.done[0]
	p.done = p.done[1:]
	p.live--
	return r.pid, r.status, nil
}

// SerializedHandler guards a handler so goroutine workers never run two
// events at once. Label writes are process-wide state and must not
// interleave.
type SerializedHandler struct {
	mu      sync.Mutex
	handler DeviceHandler
}

// Serialize wraps h.
func Serialize(h DeviceHandler) *SerializedHandler {
	return &SerializedHandler{handler: h}
}

func (s *SerializedHandler) HandleDeviceEvent(ev uevent.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler.HandleDeviceEvent(ev)
}
