// Package metrics exports cold-boot diagnostics in the Prometheus text format
// for node_exporter's textfile collector.
package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"ueventd/internal/coldboot"
)

const namespace = "ueventd"

// Textfile rewrites one .prom file per cold-boot run.
type Textfile struct {
	path string

	registry    *prometheus.Registry
	duration    prometheus.Gauge
	events      prometheus.Gauge
	duplicates  prometheus.Gauge
	workers     prometheus.Gauge
	visited     prometheus.Gauge
	relabeled   prometheus.Gauge
	labelErrors prometheus.Gauge
	success     prometheus.Gauge
	completed   prometheus.Gauge
	info        *prometheus.GaugeVec
}

// NewTextfile returns a recorder writing to path. An empty path disables it.
func NewTextfile(path string) *Textfile {
	if path == "" {
		return nil
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coldboot",
			Name:      name,
			Help:      help,
		})
	}
	t := &Textfile{
		path:        path,
		registry:    prometheus.NewRegistry(),
		duration:    gauge("duration_seconds", "Wall time of the last cold-boot run."),
		events:      gauge("events", "Events regenerated by the last cold-boot run."),
		duplicates:  gauge("duplicate_devpaths", "Devpaths regenerated more than once in the last run."),
		workers:     gauge("workers", "Worker processes used by the last cold-boot run."),
		visited:     gauge("restorecon_visited", "Sysfs entries visited by the bulk label pass."),
		relabeled:   gauge("restorecon_relabeled", "Sysfs entries relabeled by the bulk label pass."),
		labelErrors: gauge("restorecon_errors", "Sysfs entries the bulk label pass failed on."),
		success:     gauge("success", "1 when the last cold-boot run created the completion marker."),
		completed:   gauge("last_run_timestamp_seconds", "Start time of the last cold-boot run."),
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coldboot",
			Name:      "run_info",
			Help:      "Settings of the last cold-boot run.",
		}, []string{"run_id", "strategy", "spawn"}),
	}
	t.registry.MustRegister(
		t.duration, t.events, t.duplicates, t.workers,
		t.visited, t.relabeled, t.labelErrors, t.success, t.completed, t.info,
	)
	return t
}

// RecordRun implements coldboot.Recorder.
func (t *Textfile) RecordRun(_ context.Context, r coldboot.Report) error {
	if t == nil {
		return nil
	}
	t.duration.Set(r.Duration.Seconds())
	t.events.Set(float64(r.Events))
	t.duplicates.Set(float64(r.Duplicates))
	t.workers.Set(float64(r.Workers))
	t.visited.Set(float64(r.Visited))
	t.relabeled.Set(float64(r.Relabeled))
	t.labelErrors.Set(float64(r.LabelErrors))
	if r.Success {
		t.success.Set(1)
	} else {
		t.success.Set(0)
	}
	t.completed.Set(float64(r.StartedAt.Unix()))
	t.info.Reset()
	t.info.WithLabelValues(r.RunID, r.Strategy, r.Spawn).Set(1)

	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(t.path, t.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
