package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mkv-converter/internal/monitor"
	"mkv-converter/internal/report"
	"mkv-converter/internal/transcoder"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify ffmpeg, ffprobe, encoders and the host",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := ctx.ensureSettings()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			engine, err := transcoder.NewEngine(settings.FFmpegPath, settings.FFprobePath)
			if err != nil {
				return err
			}
			if err := engine.ProbeCapabilities(cmd.Context()); err != nil {
				return fmt.Errorf("%w: %v", transcoder.ErrEngineUnavailable, err)
			}

			probe := engine.FFprobePath
			if probe == "" {
				probe = "not found (subtitle language selection disabled)"
			}
			rows := [][]string{
				{"ffmpeg", engine.FFmpegPath},
				{"version", engine.Version},
				{"ffprobe", probe},
				{"subtitles filter", yesNo(engine.HasSubtitleBurn)},
				{"video encoder", engine.EncoderFor(settings.Video.Codec)},
			}
			for _, name := range []string{transcoder.EncoderX264, transcoder.EncoderX265} {
				rows = append(rows, []string{name, yesNo(engine.Encoders[name])})
			}
			hw := strings.Join(engine.HardwareEncoders(), ", ")
			if hw == "" {
				hw = "none"
			}
			rows = append(rows, []string{"hardware encoders", hw})

			stats, err := monitor.NewSystemMonitor().GetStats(cmd.Context())
			if err == nil {
				rows = append(rows,
					[]string{"cpu", fmt.Sprintf("%s (%d logical cores, %.0f%% busy)", stats.CPUModel, stats.LogicalCores, stats.CPUPercent)},
					[]string{"memory", fmt.Sprintf("%s of %s used", report.FormatBytes(int64(stats.RAMUsed)), report.FormatBytes(int64(stats.RAMTotal)))},
					[]string{"suggested max_workers", fmt.Sprint(monitor.SuggestWorkers(stats))},
				)
			}

			fmt.Fprintln(out, report.Table([]string{"Check", "Result"}, rows))
			if settings.Subtitles.Enabled && !engine.HasSubtitleBurn {
				return fmt.Errorf("ffmpeg at %s lacks the subtitles filter required for subtitle burn-in", engine.FFmpegPath)
			}
			return nil
		},
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
