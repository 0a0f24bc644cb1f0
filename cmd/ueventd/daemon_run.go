package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"ueventd/internal/coldboot"
	"ueventd/internal/daemon"
	"ueventd/internal/ipc"
	"ueventd/internal/listener"
	"ueventd/internal/logging"
)

func runDaemonProcess(cmdCtx context.Context, ctx *commandContext) error {
	if ctx == nil {
		return fmt.Errorf("command context is required")
	}
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	// Node permissions come from the rules, not from an inherited umask.
	unix.Umask(0)

	// Open the socket before regenerating so events that race cold boot
	// stay queued for the live loop.
	source, err := listener.Open(cfg, logger)
	if err != nil {
		return fmt.Errorf("open uevent socket: %w", err)
	}
	defer source.Close()

	handler, labeler, err := newDeviceHandler(cfg, logger)
	if err != nil {
		return fmt.Errorf("build device handler: %w", err)
	}
	loader := newFirmwareLoader(cfg, logger)

	spawner, reaper, err := spawnerFor(cfg, ctx.loadedConfigPath(), logger)
	if err != nil {
		return fmt.Errorf("build worker spawner: %w", err)
	}
	recorders, closeRecorders := openRecorders(signalCtx, cfg, logger)
	defer closeRecorders()

	cbDeps := coldboot.Deps{
		Source:    source,
		Handler:   handler,
		Restorer:  labeler,
		Spawner:   spawner,
		Reaper:    reaper,
		Recorders: recorders,
		Logger:    logger,
	}
	dDeps := daemon.Deps{
		Source:  source,
		Handler: handler,
		Logger:  logger,
	}
	if loader != nil {
		cbDeps.Firmware = loader
		dDeps.Firmware = loader
	}
	dDeps.ColdBoot = coldboot.New(cfg, cbDeps)

	d, err := daemon.New(cfg, dDeps)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	if cfg.Paths.ControlSocket != "" {
		ipcServer, err := ipc.NewServer(signalCtx, cfg.Paths.ControlSocket, d, logger)
		if err != nil {
			logging.WarnWithContext(logger, "control socket unavailable", "ipc_start_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "ueventd status cannot reach the daemon"),
			)
		} else {
			defer ipcServer.Close()
			ipcServer.Serve()
		}
	}

	err = d.Run(signalCtx)
	var fatal *coldboot.FatalError
	switch {
	case err == nil:
		logger.Info("ueventd shutting down")
		return nil
	case errors.As(err, &fatal):
		logging.ErrorWithContext(logger, "cold boot aborted", "coldboot_fatal",
			logging.String("op", fatal.Op),
			logging.Int(logging.FieldPID, fatal.PID),
			logging.Error(fatal.Err),
			logging.String(logging.FieldErrorHint, "inspect the worker log lines above; the marker was not written"),
		)
		return err
	default:
		return err
	}
}
