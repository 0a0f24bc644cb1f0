// Package firmware answers kernel firmware requests.
//
// When a driver asks for firmware the kernel emits an add event in the
// firmware subsystem carrying a FIRMWARE key. The loader writes 1 to the
// request's loading attribute, streams the image into data and writes 0, or
// writes -1 when no configured directory holds the image.
package firmware

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"ueventd/internal/config"
	"ueventd/internal/fileutil"
	"ueventd/internal/logging"
	"ueventd/internal/uevent"
)

const subsystem = "firmware"

// Loader serves firmware requests from a list of directories.
type Loader struct {
	enabled   bool
	sysfsRoot string
	dirs      []string
	logger    *slog.Logger

	loaded  atomic.Int64
	missing atomic.Int64
}

// New builds a loader from the firmware section of cfg.
func New(cfg *config.Config, logger *slog.Logger) *Loader {
	return &Loader{
		enabled:   cfg.Firmware.Enabled,
		sysfsRoot: cfg.Paths.SysfsRoot,
		dirs:      append([]string(nil), cfg.Firmware.Dirs...),
		logger:    logging.NewComponentLogger(logger, "firmware"),
	}
}

// HandleFirmwareEvent services ev when it is a firmware request and ignores
// it otherwise. It returns once the kernel has been told the outcome.
func (l *Loader) HandleFirmwareEvent(ev uevent.Event) {
	if l == nil || !l.enabled {
		return
	}
	if ev.Subsystem != subsystem || ev.Action != uevent.ActionAdd || ev.Firmware == "" {
		return
	}

	request := filepath.Join(l.sysfsRoot, strings.TrimPrefix(ev.DevPath, "/"))
	loading := filepath.Join(request, "loading")
	data := filepath.Join(request, "data")
	attrs := []logging.Attr{
		logging.String(logging.FieldDevPath, ev.DevPath),
		logging.String("firmware", ev.Firmware),
	}

	image, ok := l.find(ev.Firmware)
	if !ok {
		l.missing.Add(1)
		logging.WarnWithContext(l.logger, "firmware image not found", "firmware_missing",
			append(attrs,
				logging.Any("dirs", l.dirs),
				logging.String(logging.FieldImpact, "driver will run without its firmware"),
				logging.String(logging.FieldErrorHint, "install the image into one of the firmware dirs"),
			)...,
		)
		l.abort(loading, attrs)
		return
	}

	if err := fileutil.WriteAttr(loading, "1"); err != nil {
		l.logger.Warn("firmware request vanished", logging.Args(append(attrs, logging.Error(err))...)...)
		return
	}
	written, err := fileutil.StreamFile(image, data)
	if err != nil {
		logging.WarnWithContext(l.logger, "firmware copy failed", "firmware_copy_failed",
			append(attrs, logging.String(logging.FieldPath, image), logging.Error(err))...,
		)
		l.abort(loading, attrs)
		return
	}
	if err := fileutil.WriteAttr(loading, "0"); err != nil {
		l.logger.Warn("firmware completion not acknowledged", logging.Args(append(attrs, logging.Error(err))...)...)
		return
	}
	l.loaded.Add(1)
	l.logger.Info("firmware loaded", logging.Args(append(attrs,
		logging.String(logging.FieldPath, image),
		logging.Int64("bytes", written),
	)...)...)
}

// Loaded and Missing count completed and unanswered requests.
func (l *Loader) Loaded() int64  { return l.loaded.Load() }
func (l *Loader) Missing() int64 { return l.missing.Load() }

func (l *Loader) find(name string) (string, bool) {
	clean := filepath.Clean("/" + name)
	for _, dir := range l.dirs {
		candidate := filepath.Join(dir, clean)
		info, err := os.Stat(candidate)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				l.logger.Debug("firmware candidate unreadable", logging.String(logging.FieldPath, candidate), logging.Error(err))
			}
			continue
		}
		if info.Mode().IsRegular() {
			return candidate, true
		}
	}
	return "", false
}

func (l *Loader) abort(loading string, attrs []logging.Attr) {
	if err := fileutil.WriteAttr(loading, "-1"); err != nil {
		l.logger.Debug("firmware abort not delivered", logging.Args(append(attrs, logging.Error(err))...)...)
	}
}
