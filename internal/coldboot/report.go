package coldboot

import (
	"context"
	"time"
)

// Report summarizes one coordinator run.
type Report struct {
	RunID       string
	StartedAt   time.Time
	Duration    time.Duration
	Events      int
	Duplicates  int
	Workers     int
	Strategy    string
	Spawn       string
	Visited     int64
	Relabeled   int64
	LabelErrors int64
	Success     bool
	Error       string
}

// Recorder persists run reports. Recording failures are logged and never
// fail the run.
type Recorder interface {
	RecordRun(ctx context.Context, report Report) error
}
