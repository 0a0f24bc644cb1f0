package ipc_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ueventd/internal/daemon"
	"ueventd/internal/ipc"
	"ueventd/internal/logging"
)

type fixedStatus struct {
	status daemon.Status
}

func (f fixedStatus) Status() daemon.Status { return f.status }

func TestIPCServerClient(t *testing.T) {
	started := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	provider := fixedStatus{status: daemon.Status{
		PID:           4242,
		Running:       true,
		StartedAt:     started,
		ColdBootDone:  true,
		RunID:         "b7b5a0e4",
		LabelMode:     "per_event",
		HandledEvents: 311,
		LiveEvents:    7,
		LockPath:      "/dev/.ueventd/ueventd.lock",
		Marker:        "/dev/.coldboot_done",
	}}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	socket := filepath.Join(t.TempDir(), "ueventd.sock")
	srv, err := ipc.NewServer(ctx, socket, provider, logging.NewNop())
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if status.PID != 4242 || !status.Running || !status.ColdBootDone || status.ColdBootSkipped {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.RunID != "b7b5a0e4" || status.LabelMode != "per_event" {
		t.Fatalf("unexpected run fields %+v", status)
	}
	if status.HandledEvents != 311 || status.LiveEvents != 7 {
		t.Fatalf("unexpected counters %+v", status)
	}
	if !status.StartedAt.Equal(started) {
		t.Fatalf("started_at mismatch: %v", status.StartedAt)
	}
}

func TestDialMissingSocket(t *testing.T) {
	if _, err := ipc.Dial(filepath.Join(t.TempDir(), "absent.sock")); err == nil {
		t.Fatal("expected dial error for a missing socket")
	}
}
