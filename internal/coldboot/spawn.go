package coldboot

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// WorkerCommand is the hidden subcommand that runs one cold-boot worker.
const WorkerCommand = "coldboot-worker"

// WorkerSpec identifies one worker of a run and where its input lives.
type WorkerSpec struct {
	RunID        string
	Index        int
	Total        int
	Strategy     string
	SnapshotPath string
	CursorPath   string
}

// Validate rejects a spec whose index is not a valid slot among total
// workers. Stride partitions of such a spec would overlap another worker's.
func (s WorkerSpec) Validate() error {
	if s.Total < 1 {
		return fmt.Errorf("worker total must be at least 1, got %d", s.Total)
	}
	if s.Index < 0 || s.Index >= s.Total {
		return fmt.Errorf("worker index %d out of range [0,%d)", s.Index, s.Total)
	}
	return nil
}

// Spawner starts workers. Spawn returns the pid the Reaper will report.
type Spawner interface {
	Spawn(ctx context.Context, spec WorkerSpec) (int, error)
	Kill(pid int) error
}

// ExecSpawner re-executes the ueventd binary as a worker process.
type ExecSpawner struct {
	// Executable defaults to the running binary.
	Executable string
	// ConfigPath is forwarded so workers build the same handler.
	ConfigPath string
}

// WorkerArgs renders the argv tail for spec.
func WorkerArgs(spec WorkerSpec, configPath string) []string {
	args := []string{
		WorkerCommand,
		"--run-id", spec.RunID,
		"--index", strconv.Itoa(spec.Index),
		"--total", strconv.Itoa(spec.Total),
		"--strategy", spec.Strategy,
		"--snapshot", spec.SnapshotPath,
	}
	if spec.CursorPath != "" {
		args = append(args, "--cursor", spec.CursorPath)
	}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return args
}

func (s ExecSpawner) Spawn(_ context.Context, spec WorkerSpec) (int, error) {
	exe := s.Executable
	if exe == "" {
		var err error
		exe, err = os.Executable()
		if err != nil {
			exe = "/proc/self/exe"
		}
	}
	argv := append([]string{exe}, WorkerArgs(spec, s.ConfigPath)...)
	proc, err := os.StartProcess(exe, argv, &os.ProcAttr{
		Env:   os.Environ(),
		Files: []*os.File{nil, os.Stdout, os.Stderr},
	})
	if err != nil {
		return 0, fmt.Errorf("start worker %d: %w", spec.Index, err)
	}
	pid := proc.Pid
	// The Reaper collects the exit status with wait4; drop the handle
	// without waiting.
	_ = proc.Release()
	return pid, nil
}

func (ExecSpawner) Kill(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}
