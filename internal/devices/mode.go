package devices

import "errors"

// LabelMode selects how sysfs labels are restored for handled events.
type LabelMode int

const (
	// LabelBulk skips per-event sysfs relabeling; a bulk pass covers it.
	LabelBulk LabelMode = iota
	// LabelPerEvent relabels /sys/<devpath> for every handled event.
	LabelPerEvent
)

func (m LabelMode) String() string {
	switch m {
	case LabelBulk:
		return "bulk"
	case LabelPerEvent:
		return "per_event"
	default:
		return "unknown"
	}
}

// ErrLabelModeTransition is returned when a caller asks to return to bulk
// mode after per-event labeling has started.
var ErrLabelModeTransition = errors.New("label mode cannot return to bulk restoration")

// SetSkipLabelRestoration switches between bulk (skip=true) and per-event
// (skip=false) label restoration. Only the bulk to per-event transition is
// allowed; repeating the current mode is a no-op.
func (h *Handler) SetSkipLabelRestoration(skip bool) error {
	h.modeMu.Lock()
	defer h.modeMu.Unlock()

	switch {
	case skip && h.mode == LabelPerEvent:
		return ErrLabelModeTransition
	case !skip && h.mode == LabelBulk:
		h.mode = LabelPerEvent
		h.transitions++
		h.logger.Debug("label restoration switched to per-event")
	}
	return nil
}

// LabelMode returns the current label restoration mode.
func (h *Handler) LabelMode() LabelMode {
	h.modeMu.Lock()
	defer h.modeMu.Unlock()
	return h.mode
}

// Transitions counts bulk to per-event switches. It is at most one.
func (h *Handler) Transitions() int {
	h.modeMu.Lock()
	defer h.modeMu.Unlock()
	return h.transitions
}
