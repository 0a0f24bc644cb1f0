package main

import (
	"context"
	"log/slog"

	"ueventd/internal/coldboot"
	"ueventd/internal/config"
	"ueventd/internal/devices"
	"ueventd/internal/firmware"
	"ueventd/internal/history"
	"ueventd/internal/logging"
	"ueventd/internal/metrics"
	"ueventd/internal/selinux"
)

// newDeviceHandler builds the handler shared by the daemon and workers. It
// starts in bulk label mode.
func newDeviceHandler(cfg *config.Config, logger *slog.Logger) (*devices.Handler, *selinux.Labeler, error) {
	labeler, err := selinux.New(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	handler, err := devices.New(cfg, labeler, logger)
	if err != nil {
		return nil, nil, err
	}
	return handler, labeler, nil
}

// spawnerFor picks worker isolation. Exec workers are real processes
// reaped with wait4; in-process workers share one serialized handler.
func spawnerFor(cfg *config.Config, configPath string, logger *slog.Logger) (coldboot.Spawner, coldboot.Reaper, error) {
	if cfg.ColdBoot.Spawn != config.SpawnInProcess {
		return coldboot.ExecSpawner{ConfigPath: configPath}, coldboot.ProcessReaper{}, nil
	}
	workerHandler, _, err := newDeviceHandler(cfg, logging.NewComponentLogger(logger, "worker"))
	if err != nil {
		return nil, nil, err
	}
	shared := coldboot.Serialize(workerHandler)
	inproc := coldboot.NewInProcess(func(ctx context.Context, spec coldboot.WorkerSpec) error {
		return coldboot.RunWorker(ctx, spec, shared)
	})
	return inproc, inproc, nil
}

// openRecorders opens the optional run sinks. Failures degrade to a
// warning; history is diagnostic and never blocks boot.
func openRecorders(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]coldboot.Recorder, func()) {
	var recorders []coldboot.Recorder
	closeFn := func() {}

	if cfg.Paths.HistoryDB != "" {
		store, err := history.Open(ctx, cfg.Paths.HistoryDB)
		if err != nil {
			logging.WarnWithContext(logger, "run history unavailable", "history_open_failed",
				logging.Error(err),
				logging.String(logging.FieldPath, cfg.Paths.HistoryDB),
				logging.String(logging.FieldImpact, "this cold boot will not be recorded"),
			)
		} else {
			recorders = append(recorders, store)
			closeFn = func() { _ = store.Close() }
		}
	}
	if textfile := metrics.NewTextfile(cfg.Metrics.Textfile); textfile != nil {
		recorders = append(recorders, textfile)
	}
	return recorders, closeFn
}

func newFirmwareLoader(cfg *config.Config, logger *slog.Logger) *firmware.Loader {
	if !cfg.Firmware.Enabled {
		return nil
	}
	return firmware.New(cfg, logger)
}
