package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"ueventd/internal/config"
	"ueventd/internal/devices"
	"ueventd/internal/fileutil"
	"ueventd/internal/listener"
	"ueventd/internal/logging"
	"ueventd/internal/uevent"
)

// ErrAlreadyRunning is returned when another instance holds the daemon lock.
var ErrAlreadyRunning = errors.New("another ueventd instance is already running")

// LiveSource delivers kernel events as they arrive.
type LiveSource interface {
	Poll(ctx context.Context, fn listener.Callback) error
}

// Handler is the device handler used for live events.
type Handler interface {
	HandleDeviceEvent(uevent.Event)
	SetSkipLabelRestoration(skip bool) error
	LabelMode() devices.LabelMode
	Handled() int64
}

// FirmwareHook services firmware requests.
type FirmwareHook interface {
	HandleFirmwareEvent(uevent.Event)
}

// ColdBooter replays devices present at boot.
type ColdBooter interface {
	Run(ctx context.Context) error
	RunID() string
}

// Deps are the collaborators of a Daemon. ColdBoot may be nil when the
// marker is known to exist.
type Deps struct {
	Source   LiveSource
	Handler  Handler
	Firmware FirmwareHook
	ColdBoot ColdBooter
	Logger   *slog.Logger
}

// Daemon coordinates cold boot and the live event loop and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	source   LiveSource
	handler  Handler
	firmware FirmwareHook
	coldboot ColdBooter

	lockPath string
	lock     *flock.Flock

	startedAt       atomic.Int64
	running         atomic.Bool
	coldbootDone    atomic.Bool
	coldbootSkipped atomic.Bool
	liveEvents      atomic.Int64
	lastEvent       atomic.Int64
}

// Status represents daemon runtime information.
type Status struct {
	PID             int
	Running         bool
	StartedAt       time.Time
	ColdBootDone    bool
	ColdBootSkipped bool
	RunID           string
	LabelMode       string
	HandledEvents   int64
	LiveEvents      int64
	LastEvent       time.Time
	LockPath        string
	Marker          string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, deps Deps) (*Daemon, error) {
	if cfg == nil || deps.Source == nil || deps.Handler == nil {
		return nil, errors.New("daemon requires config, event source, and device handler")
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(deps.Logger, "daemon"),
		source:   deps.Source,
		handler:  deps.Handler,
		firmware: deps.Firmware,
		coldboot: deps.ColdBoot,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Run holds the daemon lock, completes cold boot and services live events
// until ctx is canceled. A cold-boot failure is returned unchanged.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock", logging.Error(err))
		}
	}()

	d.startedAt.Store(time.Now().UnixNano())
	d.running.Store(true)
	defer d.running.Store(false)
	d.logger.Info("ueventd started", logging.String("lock", d.lockPath), logging.Int(logging.FieldPID, os.Getpid()))

	if err := d.coldBoot(ctx); err != nil {
		return err
	}
	return d.live(ctx)
}

func (d *Daemon) coldBoot(ctx context.Context) error {
	done, err := fileutil.Exists(d.cfg.Paths.ColdbootMarker)
	if err != nil {
		return fmt.Errorf("check cold-boot marker: %w", err)
	}
	if done {
		d.coldbootSkipped.Store(true)
		d.coldbootDone.Store(true)
		if err := d.handler.SetSkipLabelRestoration(false); err != nil {
			d.logger.Warn("label mode switch rejected", logging.Error(err))
		}
		d.logger.Info("cold boot already complete; skipping",
			logging.String(logging.FieldEventType, "coldboot_skipped"),
			logging.String("marker", d.cfg.Paths.ColdbootMarker),
		)
		return nil
	}
	if d.coldboot == nil {
		return errors.New("cold boot required but no coordinator configured")
	}
	if err := d.coldboot.Run(ctx); err != nil {
		return err
	}
	d.coldbootDone.Store(true)
	return nil
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	status := Status{
		PID:             os.Getpid(),
		Running:         d.running.Load(),
		ColdBootDone:    d.coldbootDone.Load(),
		ColdBootSkipped: d.coldbootSkipped.Load(),
		LabelMode:       d.handler.LabelMode().String(),
		HandledEvents:   d.handler.Handled(),
		LiveEvents:      d.liveEvents.Load(),
		LockPath:        d.lockPath,
		Marker:          d.cfg.Paths.ColdbootMarker,
	}
	if d.coldboot != nil && !status.ColdBootSkipped {
		status.RunID = d.coldboot.RunID()
	}
	if ts := d.startedAt.Load(); ts > 0 {
		status.StartedAt = time.Unix(0, ts)
	}
	if ts := d.lastEvent.Load(); ts > 0 {
		status.LastEvent = time.Unix(0, ts)
	}
	return status
}
