package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ueventd/internal/config"
	"ueventd/internal/fileutil"
	"ueventd/internal/history"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show cold-boot and daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			var lines []string

			lines = append(lines, renderSectionHeader("Cold boot", colorize)...)
			done, err := fileutil.Exists(cfg.Paths.ColdbootMarker)
			switch {
			case err != nil:
				lines = append(lines, renderStatusLine("Marker", healthError, err.Error(), colorize))
			case done:
				lines = append(lines, renderStatusLine("Marker", healthOK, cfg.Paths.ColdbootMarker, colorize))
			default:
				lines = append(lines, renderStatusLine("Marker", healthWarn, "absent; next start runs cold boot", colorize))
			}
			lines = append(lines, renderStatusLine("SELinux labels", healthInfo, yesNo(cfg.SELinux.Enabled), colorize))
			lines = append(lines, latestRunLines(cmd.Context(), cfg, colorize)...)

			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Daemon", colorize)...)
			lines = append(lines, daemonStatusLines(ctx, colorize)...)

			fmt.Fprintln(out, strings.Join(lines, "\n"))
			return nil
		},
	}
}

func latestRunLines(ctx context.Context, cfg *config.Config, colorize bool) []string {
	if ctx == nil {
		ctx = context.Background()
	}
	exists, err := fileutil.Exists(cfg.Paths.HistoryDB)
	if err != nil || !exists {
		return []string{renderStatusLine("Last run", healthInfo, "no history recorded", colorize)}
	}
	store, err := history.Open(ctx, cfg.Paths.HistoryDB)
	if err != nil {
		return []string{renderStatusLine("Last run", healthError, err.Error(), colorize)}
	}
	defer store.Close()
	run, err := store.Latest(ctx)
	if err != nil {
		return []string{renderStatusLine("Last run", healthError, err.Error(), colorize)}
	}
	if run == nil {
		return []string{renderStatusLine("Last run", healthInfo, "no history recorded", colorize)}
	}
	summary := fmt.Sprintf("%s %d events, %d workers (%s/%s) in %s",
		run.StartedAt.Local().Format(time.DateTime),
		run.Events, run.Workers, run.Strategy, run.Spawn,
		run.Duration.Round(time.Millisecond))
	if !run.Success {
		return []string{
			renderStatusLine("Last run", healthError, summary, colorize),
			renderStatusLine("Error", healthError, run.Error, colorize),
		}
	}
	return []string{renderStatusLine("Last run", healthOK, summary, colorize)}
}

func daemonStatusLines(ctx *commandContext, colorize bool) []string {
	client, err := ctx.dialClient()
	if err != nil {
		return []string{renderStatusLine("Running", healthWarn, err.Error(), colorize)}
	}
	defer client.Close()
	status, err := client.Status()
	if err != nil {
		return []string{renderStatusLine("Running", healthError, err.Error(), colorize)}
	}

	lines := []string{
		renderStatusLine("Running", healthOK, fmt.Sprintf("pid %d since %s", status.PID, status.StartedAt.Local().Format(time.DateTime)), colorize),
	}
	switch {
	case status.ColdBootSkipped:
		lines = append(lines, renderStatusLine("Cold boot", healthInfo, "skipped (marker present at start)", colorize))
	case status.ColdBootDone:
		lines = append(lines, renderStatusLine("Cold boot", healthOK, "run "+status.RunID, colorize))
	default:
		lines = append(lines, renderStatusLine("Cold boot", healthWarn, "in progress, run "+status.RunID, colorize))
	}
	lines = append(lines,
		renderStatusLine("Label mode", healthInfo, status.LabelMode, colorize),
		renderStatusLine("Live events", healthInfo, fmt.Sprintf("%d (handler total %d)", status.LiveEvents, status.HandledEvents), colorize),
	)
	if !status.LastEvent.IsZero() {
		lines = append(lines, renderStatusLine("Last event", healthInfo, status.LastEvent.Local().Format(time.DateTime), colorize))
	}
	return lines
}
