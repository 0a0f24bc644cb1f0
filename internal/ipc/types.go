package ipc

import "time"

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse mirrors daemon.Status on the wire.
type StatusResponse struct {
	PID             int       `json:"pid"`
	Running         bool      `json:"running"`
	StartedAt       time.Time `json:"started_at"`
	ColdBootDone    bool      `json:"coldboot_done"`
	ColdBootSkipped bool      `json:"coldboot_skipped"`
	RunID           string    `json:"run_id,omitempty"`
	LabelMode       string    `json:"label_mode"`
	HandledEvents   int64     `json:"handled_events"`
	LiveEvents      int64     `json:"live_events"`
	LastEvent       time.Time `json:"last_event"`
	LockPath        string    `json:"lock_path"`
	Marker          string    `json:"marker"`
}
