package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"ueventd/internal/coldboot"
	"ueventd/internal/logging"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var spec coldboot.WorkerSpec

	cmd := &cobra.Command{
		Use:    coldboot.WorkerCommand,
		Short:  "Replay one partition of a cold-boot queue snapshot",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := spec.Validate(); err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			baseLogger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			logger := logging.NewComponentLogger(baseLogger, "worker").With(
				logging.String(logging.FieldRunID, spec.RunID),
				logging.Int(logging.FieldWorkerIndex, spec.Index),
				logging.Int(logging.FieldWorkerTotal, spec.Total),
			)
			unix.Umask(0)

			handler, _, err := newDeviceHandler(cfg, logger)
			if err != nil {
				return fmt.Errorf("build device handler: %w", err)
			}
			if err := coldboot.RunWorker(cmd.Context(), spec, handler); err != nil {
				logging.ErrorWithContext(logger, "cold-boot worker failed", "coldboot_worker_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "the coordinator aborts cold boot"),
				)
				return err
			}
			logger.Debug("cold-boot worker finished",
				logging.Int64("handled", handler.Handled()),
				logging.Int64("failures", handler.Failures()),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&spec.RunID, "run-id", "", "Run identifier of the coordinator")
	cmd.Flags().IntVar(&spec.Index, "index", 0, "Worker index")
	cmd.Flags().IntVar(&spec.Total, "total", 1, "Total number of workers")
	cmd.Flags().StringVar(&spec.Strategy, "strategy", "stride", "Partition strategy")
	cmd.Flags().StringVar(&spec.SnapshotPath, "snapshot", "", "Queue snapshot path")
	cmd.Flags().StringVar(&spec.CursorPath, "cursor", "", "Shared-queue cursor path")
	_ = cmd.MarkFlagRequired("snapshot")
	return cmd
}
