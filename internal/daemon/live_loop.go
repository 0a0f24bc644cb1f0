package daemon

import (
	"context"
	"errors"
	"time"

	"ueventd/internal/listener"
	"ueventd/internal/logging"
	"ueventd/internal/uevent"
)

// live services kernel events until ctx is canceled. Events that arrived
// during cold boot are still queued on the socket and are handled first.
func (d *Daemon) live(ctx context.Context) error {
	d.logger.Info("live event loop started",
		logging.String(logging.FieldEventType, "live_loop_started"),
	)
	err := d.source.Poll(ctx, d.handleEvent)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		d.logger.Info("live event loop stopped",
			logging.String(logging.FieldEventType, "live_loop_stopped"),
			logging.Int64("live_events", d.liveEvents.Load()),
		)
		return nil
	}
	logging.ErrorWithContext(d.logger, "live event loop failed", "live_loop_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the kernel netlink socket"),
	)
	return err
}

// handleEvent runs the firmware hook and then the device handler.
func (d *Daemon) handleEvent(ev uevent.Event) listener.Action {
	if d.firmware != nil {
		d.firmware.HandleFirmwareEvent(ev)
	}
	d.handler.HandleDeviceEvent(ev)
	d.liveEvents.Add(1)
	d.lastEvent.Store(time.Now().UnixNano())
	d.logger.Debug("live event handled",
		logging.String(logging.FieldAction, string(ev.Action)),
		logging.String(logging.FieldDevPath, ev.DevPath),
		logging.String(logging.FieldSubsystem, ev.Subsystem),
	)
	return listener.Continue
}
