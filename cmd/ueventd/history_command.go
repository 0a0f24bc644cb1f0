package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"ueventd/internal/fileutil"
	"ueventd/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded cold-boot runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			exists, err := fileutil.Exists(cfg.Paths.HistoryDB)
			if err != nil {
				return err
			}
			if !exists {
				fmt.Fprintln(out, "No cold-boot runs recorded")
				return nil
			}
			store, err := history.Open(cmd.Context(), cfg.Paths.HistoryDB)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No cold-boot runs recorded")
				return nil
			}
			fmt.Fprintln(out, renderHistoryTable(runs, shouldColorize(out)))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show")
	return cmd
}

var historyColumns = []column{
	{title: "Started"},
	{title: "Run"},
	{title: "Result"},
	{title: "Events", numeric: true},
	{title: "Dups", numeric: true},
	{title: "Workers", numeric: true},
	{title: "Mode"},
	{title: "Relabeled", numeric: true},
	{title: "Elapsed", numeric: true},
}

func renderHistoryTable(runs []history.Run, colorize bool) string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.StartedAt.Local().Format(time.DateTime),
			shortRunID(run.RunID),
			resultLabel(run.Success, colorize),
			strconv.Itoa(run.Events),
			strconv.Itoa(run.Duplicates),
			strconv.Itoa(run.Workers),
			run.Strategy + "/" + run.Spawn,
			strconv.FormatInt(run.Relabeled, 10),
			run.Duration.Round(time.Millisecond).String(),
		})
	}
	return renderTable(historyColumns, rows)
}

func resultLabel(success, colorize bool) string {
	label, color := "ok", text.FgGreen
	if !success {
		label, color = "failed", text.FgRed
	}
	if colorize {
		return color.Sprint(label)
	}
	return label
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
