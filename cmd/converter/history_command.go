package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mkv-converter/internal/history"
	"mkv-converter/internal/report"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var showRuns, includeSkipped bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent conversions",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := ctx.ensureSettings()
			if err != nil {
				return err
			}
			store, err := history.Open(settings.LogRoot)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if showRuns {
				runs, err := store.Runs(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}
				rows := make([][]string, 0, len(runs))
				for _, r := range runs {
					rows = append(rows, []string{
						r.StartedAt.Local().Format(time.DateTime),
						r.RunID,
						strconv.Itoa(r.Totals.Jobs),
						strconv.Itoa(r.Totals.Succeeded),
						strconv.Itoa(r.Totals.Failed),
						report.FormatBytes(r.Totals.SpaceSaved()),
						r.Duration.Round(time.Second).String(),
					})
				}
				fmt.Fprintln(out, report.Table([]string{"Started", "Run", "Jobs", "OK", "Failed", "Saved", "Duration"}, rows, 2, 3, 4, 5, 6))
				return nil
			}

			entries, err := store.Recent(cmd.Context(), limit, includeSkipped)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No conversions recorded")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				status := "ok"
				switch {
				case e.Skipped:
					status = "skipped"
				case !e.Success:
					status = e.Category.Label()
				}
				rows = append(rows, []string{
					e.RecordedAt.Local().Format(time.DateTime),
					e.RelPath,
					status,
					report.FormatBytes(e.InputBytes),
					report.FormatBytes(e.OutputBytes),
					e.Elapsed.Round(time.Second).String(),
				})
			}
			fmt.Fprintln(out, report.Table([]string{"Finished", "File", "Status", "Input", "Output", "Time"}, rows, 3, 4, 5))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of rows to show")
	cmd.Flags().BoolVar(&showRuns, "runs", false, "Show run summaries instead of files")
	cmd.Flags().BoolVar(&includeSkipped, "all", false, "Include skipped files")
	return cmd
}
