package listener

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"ueventd/internal/config"
	"ueventd/internal/logging"
	"ueventd/internal/uevent"
)

// Action tells the listener whether to keep delivering events.
type Action int

const (
	Continue Action = iota
	Stop
)

// Callback receives one event and returns a continue/stop directive.
type Callback func(uevent.Event) Action

const defaultPollInterval = 500 * time.Millisecond

// Listener delivers regenerated and live uevents.
type Listener struct {
	conn      Conn
	sysfsRoot string
	roots     []string
	logger    *slog.Logger

	trigger      func(path string) error
	pollInterval time.Duration
}

// Option customizes a Listener.
type Option func(*Listener)

// WithTrigger replaces the function that writes "add" into a uevent control file.
func WithTrigger(fn func(path string) error) Option {
	return func(l *Listener) {
		if fn != nil {
			l.trigger = fn
		}
	}
}

// WithPollInterval bounds how long Poll blocks before rechecking its context.
func WithPollInterval(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// New wraps an existing connection.
func New(conn Conn, cfg *config.Config, logger *slog.Logger, opts ...Option) *Listener {
	l := &Listener{
		conn:         conn,
		sysfsRoot:    cfg.Paths.SysfsRoot,
		roots:        cfg.ColdBoot.RegenerateRoots,
		logger:       logging.NewComponentLogger(logger, "listener"),
		trigger:      writeAdd,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open connects to the kernel uevent socket.
func Open(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Listener, error) {
	conn, err := DialNetlink()
	if err != nil {
		return nil, err
	}
	return New(conn, cfg, logger, opts...), nil
}

// Close releases the netlink socket.
func (l *Listener) Close() error {
	if l == nil || l.conn == nil {
		return nil
	}
	return l.conn.Close()
}

// RegenerateEvents walks the configured sysfs roots in lexical order, writes
// "add" to every uevent file it finds and hands each resulting event to fn in
// the order the kernel emitted it. It returns early when fn returns Stop.
func (l *Listener) RegenerateEvents(fn Callback) error {
	stopped := false
	drain := func() error {
		for !stopped {
			ready, err := l.conn.Pending(0)
			if err != nil {
				return err
			}
			if !ready {
				return nil
			}
			ev, err := l.conn.Read()
			if err != nil {
				logging.WarnWithContext(l.logger, "dropping unreadable uevent", "uevent_read_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "one device may be missing from cold boot"),
				)
				continue
			}
			if fn(ev) == Stop {
				stopped = true
			}
		}
		return nil
	}

	for _, root := range l.roots {
		dir := root
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(l.sysfsRoot, root)
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if stopped {
				return fs.SkipAll
			}
			if err != nil {
				if path == dir {
					return err
				}
				l.logger.Debug("skipping unreadable sysfs entry", logging.String(logging.FieldPath, path), logging.Error(err))
				return nil
			}
			// Trigger on directory entry so a parent device is announced
			// before its children.
			if !d.IsDir() {
				return nil
			}
			control := filepath.Join(path, "uevent")
			if info, err := os.Lstat(control); err != nil || !info.Mode().IsRegular() {
				return nil
			}
			if err := l.trigger(control); err != nil {
				l.logger.Debug("uevent trigger failed", logging.String(logging.FieldPath, control), logging.Error(err))
				return nil
			}
			return drain()
		})
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				l.logger.Debug("regenerate root missing", logging.String(logging.FieldPath, dir))
				continue
			}
			return fmt.Errorf("regenerate uevents under %s: %w", dir, err)
		}
		if stopped {
			return nil
		}
	}
	return drain()
}

// Poll blocks delivering live events to fn until fn returns Stop or ctx is
// canceled. Unreadable messages are logged and skipped.
func (l *Listener) Poll(ctx context.Context, fn Callback) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ready, err := l.conn.Pending(l.pollInterval)
		if err != nil {
			return err
		}
		if !ready {
			continue
		}
		ev, err := l.conn.Read()
		if err != nil {
			logging.WarnWithContext(l.logger, "dropping unreadable uevent", "uevent_read_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "a device change may be missed"),
			)
			continue
		}
		if fn(ev) == Stop {
			return nil
		}
	}
}

func writeAdd(path string) error {
	return os.WriteFile(path, []byte("add\n"), 0)
}
