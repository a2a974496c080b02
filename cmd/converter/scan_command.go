package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mkv-converter/internal/pipeline"
	"mkv-converter/internal/report"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "List input files and whether they are already converted",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := ctx.ensureSettings()
			if err != nil {
				return err
			}
			logger, closeLogs, err := newLogger(settings, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer closeLogs()

			entries, err := pipeline.Inventory(settings, logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintf(out, "No %s files found in %s\n", settings.SourceExtension, settings.InputRoot)
				return nil
			}

			var total int64
			pending := 0
			rows := make([][]string, 0, len(entries))
			for i, e := range entries {
				total += e.Input.Size
				if e.Status == pipeline.StatusPending {
					pending++
				}
				rows = append(rows, []string{
					strconv.Itoa(i + 1),
					e.Input.RelPath,
					report.FormatBytes(e.Input.Size),
					e.Status,
				})
			}
			fmt.Fprintln(out, report.Table([]string{"#", "File", "Size", "Status"}, rows, 0, 2))
			fmt.Fprintf(out, "%d files, %s total, %d pending\n", len(entries), report.FormatBytes(total), pending)
			return nil
		},
	}
}
