package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mkv-converter/internal/client"
	"mkv-converter/internal/config"
	"mkv-converter/internal/history"
	"mkv-converter/internal/monitor"
	"mkv-converter/internal/pipeline"
	"mkv-converter/internal/transcoder"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Convert every pending file under the input root",
		Long: "Convert every pending file under the input root.\n\n" +
			"The first interrupt stops new conversions and waits for running ones;\n" +
			"a second interrupt terminates them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := ctx.ensureSettings()
			if err != nil {
				return err
			}
			return runBatch(cmd, settings)
		},
	}

	flags := cmd.Flags()
	flags.Bool("parallel", false, "Convert files in parallel (overrides parallel_processing)")
	flags.IntP("workers", "w", 0, "Parallel worker count, 1-16 (overrides max_workers)")
	flags.Bool("no-skip", false, "Convert files even when the output already exists")
	ctx.bindFlag(flags.Lookup("parallel"), "parallel_processing")
	ctx.bindFlag(flags.Lookup("workers"), "max_workers")
	return cmd
}

func runBatch(cmd *cobra.Command, settings config.Settings) error {
	if noSkip, _ := cmd.Flags().GetBool("no-skip"); noSkip {
		settings.SkipExisting = false
	}

	logger, closeLogs, err := newLogger(settings, cmd.ErrOrStderr(), true)
	if err != nil {
		return err
	}
	defer closeLogs()

	engine, err := transcoder.NewEngine(settings.FFmpegPath, settings.FFprobePath)
	if err != nil {
		logger.Error("ffmpeg not found", "path", settings.FFmpegPath, "error", err)
		return err
	}
	stopCtx, killCtx, release := signalContexts(cmd.ErrOrStderr())
	defer release()

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithOutput(cmd.OutOrStdout()),
		pipeline.WithKillContext(killCtx),
		pipeline.WithInvoker(transcoder.NewProcessInvoker(engine.FFmpegPath, liveOutput(settings, cmd.ErrOrStderr()))),
		pipeline.WithMonitor(monitor.NewSystemMonitor()),
	}
	opts = append(opts, engineOptions(stopCtx, engine, settings, logger)...)

	if settings.HistoryEnabled {
		store, err := history.Open(settings.LogRoot)
		if err != nil {
			logger.Warn("run history disabled", "error", err)
		} else {
			defer store.Close()
			opts = append(opts, pipeline.WithRecorder(store))
		}
	}
	if settings.Notify.WebhookURL != "" {
		opts = append(opts, pipeline.WithNotifier(client.NewWebhookClient(settings.Notify.WebhookURL)))
	}

	logger.Info("starting conversion run",
		"input_root", settings.InputRoot,
		"output_root", settings.OutputRoot,
		"resolution", settings.Video.Resolution,
		"codec", settings.Video.Codec,
		"parallel", settings.ParallelProcessing,
		"workers", settings.Workers(),
	)
	_, err = pipeline.New(settings, opts...).Run(stopCtx)
	return err
}

// engineOptions probes ffmpeg and derives the encoder and subtitle prober.
// A failed probe falls back to ffmpeg's generic encoder names.
func engineOptions(ctx context.Context, engine *transcoder.Engine, s config.Settings, logger *slog.Logger) []pipeline.Option {
	var opts []pipeline.Option
	if err := engine.ProbeCapabilities(ctx); err != nil {
		logger.Warn("ffmpeg capability probe failed", "error", err)
	} else {
		logger.Debug("ffmpeg detected", "version", engine.Version, "hardware_encoders", engine.HardwareEncoders())
		if s.Subtitles.Enabled && !engine.HasSubtitleBurn {
			logger.Warn("ffmpeg has no subtitles filter; subtitle burn-in will fail")
		}
	}

	encoder := engine.EncoderFor(s.Video.Codec)
	if s.IsHardwareCodec() && !engine.HasHWAccel {
		logger.Warn("no hardware encoder detected, using generic encoder", "encoder", encoder)
	}
	opts = append(opts, pipeline.WithVideoEncoder(encoder))

	if engine.FFprobePath != "" {
		opts = append(opts, pipeline.WithProber(transcoder.NewProber(engine.FFprobePath)))
	} else if s.Subtitles.Enabled {
		logger.Warn("ffprobe not found; subtitle language selection disabled", "path", s.FFprobePath)
	}
	return opts
}

// liveOutput streams ffmpeg's stderr in verbose sequential runs. Parallel
// output would interleave, so it is only captured.
func liveOutput(s config.Settings, w io.Writer) io.Writer {
	if s.Verbose && !s.ParallelProcessing {
		return w
	}
	return nil
}

// signalContexts returns a context canceled by the first interrupt and one
// canceled by the second.
func signalContexts(stderr io.Writer) (stop, kill context.Context, release func()) {
	stop, stopCancel := context.WithCancel(context.Background())
	kill, killCancel := context.WithCancel(context.Background())

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case <-sigs:
			fmt.Fprintln(stderr, "Interrupt received: waiting for running conversions. Press Ctrl+C again to abort them.")
			stopCancel()
		case <-done:
			return
		}
		select {
		case <-sigs:
			fmt.Fprintln(stderr, "Aborting running conversions.")
			killCancel()
		case <-done:
		}
	}()

	return stop, kill, func() {
		signal.Stop(sigs)
		close(done)
		stopCancel()
		killCancel()
	}
}
