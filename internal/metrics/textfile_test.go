package metrics_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ueventd/internal/coldboot"
	"ueventd/internal/metrics"
)

func TestTextfileWritesGauges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "textfile", "ueventd.prom")
	tf := metrics.NewTextfile(path)

	report := coldboot.Report{
		RunID:     "abc",
		StartedAt: time.Unix(1700000000, 0),
		Duration:  2 * time.Second,
		Events:    42,
		Workers:   4,
		Strategy:  "stride",
		Spawn:     "exec",
		Relabeled: 7,
		Success:   true,
	}
	if err := tf.RecordRun(context.Background(), report); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	body := string(data)
	for _, want := range []string{
		"ueventd_coldboot_duration_seconds 2",
		"ueventd_coldboot_events 42",
		"ueventd_coldboot_workers 4",
		"ueventd_coldboot_restorecon_relabeled 7",
		"ueventd_coldboot_success 1",
		`ueventd_coldboot_run_info{run_id="abc",spawn="exec",strategy="stride"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}

	report.RunID = "def"
	report.Success = false
	if err := tf.RecordRun(context.Background(), report); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(path)
	if strings.Contains(string(data), `run_id="abc"`) {
		t.Fatal("stale run info must be dropped")
	}
	if !strings.Contains(string(data), "ueventd_coldboot_success 0") {
		t.Fatalf("expected failed run, got:\n%s", data)
	}
}

func TestDisabledTextfile(t *testing.T) {
	tf := metrics.NewTextfile("")
	if tf != nil {
		t.Fatal("empty path should disable the recorder")
	}
	if err := tf.RecordRun(context.Background(), coldboot.Report{}); err != nil {
		t.Fatalf("nil recorder must be a no-op, got %v", err)
	}
}
