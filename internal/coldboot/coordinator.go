package coldboot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"ueventd/internal/config"
	"ueventd/internal/fileutil"
	"ueventd/internal/listener"
	"ueventd/internal/logging"
	"ueventd/internal/selinux"
	"ueventd/internal/uevent"
)

const fallbackWorkers = 4

// Source regenerates the uevents of devices already present.
type Source interface {
	RegenerateEvents(fn listener.Callback) error
}

// Handler is the coordinator's own device handler. Only its label mode is
// touched during a run; workers build their own.
type Handler interface {
	SetSkipLabelRestoration(skip bool) error
}

// FirmwareHook services firmware requests in submission order.
type FirmwareHook interface {
	HandleFirmwareEvent(uevent.Event)
}

// Restorer relabels whole trees.
type Restorer interface {
	RestoreRecursive(ctx context.Context, roots ...string) (selinux.Stats, error)
}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Source    Source
	Handler   Handler
	Firmware  FirmwareHook
	Restorer  Restorer
	Spawner   Spawner
	Reaper    Reaper
	Recorders []Recorder
	Logger    *slog.Logger
}

// Coordinator runs cold boot once.
type Coordinator struct {
	cfg       *config.Config
	source    Source
	handler   Handler
	firmware  FirmwareHook
	restorer  Restorer
	spawner   Spawner
	reaper    Reaper
	recorders []Recorder
	logger    *slog.Logger

	now    func() time.Time
	numCPU func() int
	runID  string
}

// New builds a coordinator. Source, Handler, Spawner and Reaper are required.
func New(cfg *config.Config, deps Deps) *Coordinator {
	runID := uuid.NewString()
	return &Coordinator{
		cfg:       cfg,
		source:    deps.Source,
		handler:   deps.Handler,
		firmware:  deps.Firmware,
		restorer:  deps.Restorer,
		spawner:   deps.Spawner,
		reaper:    deps.Reaper,
		recorders: deps.Recorders,
		logger:    logging.NewComponentLogger(deps.Logger, "coldboot").With(logging.String(logging.FieldRunID, runID)),
		now:       time.Now,
		numCPU:    runtime.NumCPU,
		runID:     runID,
	}
}

// RunID identifies this coordinator's run in logs, snapshots and history.
func (c *Coordinator) RunID() string {
	return c.runID
}

// WorkerCount resolves the configured worker count: the explicit value when
// positive, otherwise the CPU count, otherwise 4.
func WorkerCount(configured int, numCPU func() int) int {
	if configured > 0 {
		return configured
	}
	if numCPU != nil {
		if n := numCPU(); n > 0 {
			return n
		}
	}
	return fallbackWorkers
}

// Run executes cold boot. On success the completion marker exists when Run
// returns. Any error is a *FatalError and the marker is left absent.
func (c *Coordinator) Run(ctx context.Context) error {
	start := c.now()
	report := Report{
		RunID:     c.runID,
		StartedAt: start,
		Strategy:  c.cfg.ColdBoot.Strategy,
		Spawn:     c.cfg.ColdBoot.Spawn,
	}

	err := c.run(ctx, &report)
	if err == nil {
		err = c.createMarker()
	}
	report.Duration = c.now().Sub(start)
	if report.Duration < 0 {
		report.Duration = 0
	}

	if err != nil {
		report.Error = err.Error()
		logging.ErrorWithContext(c.logger, "cold boot failed", "coldboot_failed",
			logging.Error(err),
			logging.Duration("elapsed", report.Duration),
			logging.String(logging.FieldErrorHint, "ueventd exits so the supervisor can restart it"),
		)
		c.record(ctx, report)
		return err
	}

	report.Success = true
	c.logger.Info("cold boot complete",
		logging.Duration("elapsed", report.Duration),
		logging.Int("events", report.Events),
		logging.Int(logging.FieldWorkerTotal, report.Workers),
		logging.String("marker", c.cfg.Paths.ColdbootMarker),
	)
	c.record(ctx, report)
	return nil
}

func (c *Coordinator) run(ctx context.Context, report *Report) error {
	queue, err := c.regenerateEvents()
	if err != nil {
		return err
	}
	report.Events = queue.Len()
	report.Duplicates = c.checkUnique(queue)

	workers := WorkerCount(c.cfg.ColdBoot.Workers, c.numCPU)
	report.Workers = workers

	snapshot := filepath.Join(c.cfg.Paths.StateDir, "coldboot-"+c.runID+".jsonl")
	if err := queue.WriteSnapshot(snapshot); err != nil {
		return fatal("snapshot", 0, err)
	}
	cursor := ""
	if c.cfg.ColdBoot.Strategy == config.StrategySharedQueue {
		cursor = snapshot + ".cursor"
		if err := InitCursor(cursor); err != nil {
			return fatal("snapshot", 0, err)
		}
	}
	defer c.cleanup(snapshot, cursor)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	set, err := c.forkSubProcesses(workerCtx, workers, snapshot, cursor)
	if err != nil {
		stopWorkers()
		return err
	}

	stats := c.doRestoreCon(ctx)
	report.Visited = stats.Visited
	report.Relabeled = stats.Relabeled
	report.LabelErrors = stats.Failed

	if err := c.waitForSubProcesses(ctx, set); err != nil {
		stopWorkers()
		c.killAll(set)
		return err
	}
	return nil
}

// regenerateEvents builds the queue. The firmware hook runs inline so
// requests are answered in the order the kernel reported them.
func (c *Coordinator) regenerateEvents() (*uevent.Queue, error) {
	queue := uevent.NewQueue()
	err := c.source.RegenerateEvents(func(ev uevent.Event) listener.Action {
		if c.firmware != nil {
			c.firmware.HandleFirmwareEvent(ev)
		}
		queue.Append(ev)
		return listener.Continue
	})
	if err != nil {
		return nil, fatal("regenerate", 0, err)
	}
	c.logger.Info("uevents regenerated", logging.Int("events", queue.Len()))
	return queue, nil
}

func (c *Coordinator) checkUnique(queue *uevent.Queue) int {
	if !c.cfg.ColdBoot.CheckUniqueDevices {
		return 0
	}
	dups := queue.DuplicateDevPaths()
	if len(dups) == 0 {
		return 0
	}
	logging.WarnWithContext(c.logger, "regeneration produced duplicate devpaths", "coldboot_duplicate_devpaths",
		logging.Int("count", len(dups)),
		logging.Any("devpaths", dups[:min(len(dups), 10)]),
		logging.String(logging.FieldImpact, "two workers may handle the same device concurrently"),
		logging.String(logging.FieldErrorHint, "check for overlapping coldboot.regenerate_roots"),
	)
	return len(dups)
}

// workerSet maps live worker pids to their partition index.
type workerSet map[int]int

func (c *Coordinator) forkSubProcesses(ctx context.Context, total int, snapshot, cursor string) (workerSet, error) {
	set := make(workerSet, total)
	for i := range total {
		spec := WorkerSpec{
			RunID:        c.runID,
			Index:        i,
			Total:        total,
			Strategy:     c.cfg.ColdBoot.Strategy,
			SnapshotPath: snapshot,
			CursorPath:   cursor,
		}
		pid, err := c.spawner.Spawn(ctx, spec)
		if err != nil {
			c.killAll(set)
			return nil, fatal("spawn", 0, err)
		}
		set[pid] = i
		c.logger.Debug("worker started",
			logging.Int(logging.FieldPID, pid),
			logging.Int(logging.FieldWorkerIndex, i),
			logging.Int(logging.FieldWorkerTotal, total),
		)
	}
	return set, nil
}

// doRestoreCon relabels the configured sysfs roots, then switches the
// handler to per-event labeling. The switch happens even when some paths
// failed to relabel.
func (c *Coordinator) doRestoreCon(ctx context.Context) selinux.Stats {
	var stats selinux.Stats
	if c.restorer != nil {
		roots := make([]string, 0, len(c.cfg.ColdBoot.RestoreconRoots))
		for _, root := range c.cfg.ColdBoot.RestoreconRoots {
			if !filepath.IsAbs(root) {
				root = filepath.Join(c.cfg.Paths.SysfsRoot, root)
			}
			roots = append(roots, root)
		}
		var err error
		stats, err = c.restorer.RestoreRecursive(ctx, roots...)
		if err != nil {
			logging.WarnWithContext(c.logger, "bulk label restoration incomplete", "coldboot_restorecon_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "some sysfs entries may keep stale labels"),
			)
		}
		c.logger.Debug("bulk label restoration done",
			logging.Int64("visited", stats.Visited),
			logging.Int64("relabeled", stats.Relabeled),
			logging.Int64("failed", stats.Failed),
		)
	}
	if err := c.handler.SetSkipLabelRestoration(false); err != nil {
		logging.WarnWithContext(c.logger, "label mode switch rejected", "coldboot_label_mode",
			logging.Error(err),
		)
	}
	return stats
}

func (c *Coordinator) waitForSubProcesses(ctx context.Context, set workerSet) error {
	for len(set) > 0 {
		if err := ctx.Err(); err != nil {
			return fatal("wait", 0, err)
		}
		pid, status, err := c.reaper.Wait()
		if err != nil {
			if errors.Is(err, unix.ECHILD) {
				return fatal("wait", 0, errors.Join(ErrNoChildren, err))
			}
			logging.WarnWithContext(c.logger, "wait for workers interrupted; retrying", "coldboot_wait_retry",
				logging.Error(err),
				logging.Int("outstanding", len(set)),
				logging.String(logging.FieldImpact, "none; waiting resumes"),
			)
			continue
		}

		index, ok := set[pid]
		if !ok {
			c.logger.Debug("reaped unrelated child", logging.Int(logging.FieldPID, pid))
			continue
		}
		if !status.Success() {
			delete(set, pid)
			return fatal("worker", pid, &workerExitError{index: index, status: status})
		}
		delete(set, pid)
		c.logger.Debug("worker finished",
			logging.Int(logging.FieldPID, pid),
			logging.Int(logging.FieldWorkerIndex, index),
			logging.Int("outstanding", len(set)),
		)
	}
	return nil
}

func (c *Coordinator) killAll(set workerSet) {
	pids := make([]int, 0, len(set))
	for pid := range set {
		pids = append(pids, pid)
	}
	slices.Sort(pids)
	for _, pid := range pids {
		if err := c.spawner.Kill(pid); err != nil {
			c.logger.Debug("kill worker failed", logging.Int(logging.FieldPID, pid), logging.Error(err))
		}
	}
}

// createMarker signals completion to anything waiting on cold boot.
func (c *Coordinator) createMarker() error {
	if err := fileutil.Touch(c.cfg.Paths.ColdbootMarker, 0); err != nil {
		return fatal("marker", 0, err)
	}
	return nil
}

func (c *Coordinator) cleanup(snapshot, cursor string) {
	if c.cfg.ColdBoot.KeepSnapshot {
		return
	}
	for _, path := range []string{snapshot, cursor, cursor + ".lock"} {
		if path == "" || path == ".lock" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			c.logger.Debug("remove cold-boot state failed", logging.String(logging.FieldPath, path), logging.Error(err))
		}
	}
}

func (c *Coordinator) record(ctx context.Context, report Report) {
	for _, rec := range c.recorders {
		if rec == nil {
			continue
		}
		if err := rec.RecordRun(context.WithoutCancel(ctx), report); err != nil {
			logging.WarnWithContext(c.logger, "failed to record cold-boot run", "coldboot_record_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "run missing from history or metrics"),
			)
		}
	}
}

type workerExitError struct {
	index  int
	status ExitStatus
}

func (e *workerExitError) Error() string {
	return fmt.Sprintf("worker %d %s", e.index, e.status)
}

func (e *workerExitError) Unwrap() error {
	return ErrWorkerFailed
}
