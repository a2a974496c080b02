package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"mkv-converter/internal/client"
	"mkv-converter/internal/config"
	"mkv-converter/internal/heartbeat"
	"mkv-converter/internal/monitor"
	"mkv-converter/internal/planner"
	"mkv-converter/internal/report"
	"mkv-converter/internal/scanner"
	"mkv-converter/internal/scheduler"
	"mkv-converter/internal/transcoder"
	"mkv-converter/pkg/models"
)

// LockFileName is created in the output root while a run is active.
const LockFileName = ".converter.lock"

// notifyTimeout bounds the webhook call, including retries.
const notifyTimeout = 30 * time.Second

// ErrLocked means another run is converting into the same output root.
var ErrLocked = errors.New("another conversion run holds the lock")

// Recorder persists finished runs.
type Recorder interface {
	RecordRun(ctx context.Context, r models.RunReport, started, finished time.Time) error
}

// Runner executes conversion batches for one settings snapshot.
type Runner struct {
	settings     config.Settings
	logger       *slog.Logger
	invoker      transcoder.Invoker
	prober       planner.SubtitleProber
	videoEncoder string
	notifier     client.Notifier
	recorder     Recorder
	monitor      *monitor.SystemMonitor
	killCtx      context.Context
	out          io.Writer
	now          func() time.Time
}

type Option func(*Runner)

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithInvoker replaces the ffmpeg process invoker.
func WithInvoker(inv transcoder.Invoker) Option {
	return func(r *Runner) { r.invoker = inv }
}

func WithProber(p planner.SubtitleProber) Option {
	return func(r *Runner) { r.prober = p }
}

func WithVideoEncoder(name string) Option {
	return func(r *Runner) { r.videoEncoder = name }
}

func WithNotifier(n client.Notifier) Option {
	return func(r *Runner) { r.notifier = n }
}

func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithMonitor adds host load to progress pulses.
func WithMonitor(m *monitor.SystemMonitor) Option {
	return func(r *Runner) { r.monitor = m }
}

// WithKillContext terminates running ffmpeg processes when kill is canceled.
func WithKillContext(kill context.Context) Option {
	return func(r *Runner) { r.killCtx = kill }
}

// WithOutput sets where the rendered report is written.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) { r.out = w }
}

func New(s config.Settings, opts ...Option) *Runner {
	r := &Runner{
		settings: s,
		logger:   slog.New(slog.DiscardHandler),
		killCtx:  context.Background(),
		out:      os.Stdout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.invoker == nil {
		r.invoker = transcoder.NewProcessInvoker(s.FFmpegPath, nil)
	}
	return r
}

// Run converts every eligible file under the input root. Per-file failures
// are part of the returned report; an error means the run could not start.
func (r *Runner) Run(ctx context.Context) (models.RunReport, error) {
	runID := uuid.NewString()
	logger := r.logger.With("run_id", runID)

	pl, err := planner.New(r.settings,
		planner.WithProber(r.prober),
		planner.WithVideoEncoder(r.videoEncoder),
		planner.WithLogger(logger),
	)
	if err != nil {
		return models.RunReport{}, err
	}

	unlock, err := r.acquireLock()
	if err != nil {
		return models.RunReport{}, err
	}
	defer unlock()

	started := r.now()
	inputs, err := scanner.New(r.settings.SourceExtension, logger).Scan(r.settings.InputRoot)
	if err != nil {
		return models.RunReport{}, err
	}
	logger.Info("scan complete", "input_root", r.settings.InputRoot, "files", len(inputs))

	jobs := pl.PlanAll(ctx, inputs)
	agg := report.NewAggregator(runID)

	var done, failed atomic.Int64
	pulse := heartbeat.New(r.settings.HeartbeatInterval(), func() heartbeat.Progress {
		return heartbeat.Progress{Done: int(done.Load()), Total: len(jobs), Failed: int(failed.Load())}
	}, logger).WithMonitor(r.monitor)
	pulseCtx, stopPulse := context.WithCancel(ctx)
	pulseDone := pulse.Start(pulseCtx)

	opts := scheduler.FromSettings(r.settings)
	opts.Logger = logger
	opts.KillContext = r.killCtx
	opts.OnOutcome = func(o models.Outcome) {
		agg.Add(o)
		done.Add(1)
		if !o.Success {
			failed.Add(1)
		}
	}
	outcomes := scheduler.New(r.invoker, opts).Run(ctx, jobs)

	stopPulse()
	<-pulseDone

	finished := r.now()
	agg.SetRunDuration(finished.Sub(started))
	rep := agg.Report()
	if len(outcomes) != len(jobs) || len(rep.Outcomes) != len(jobs) {
		return rep, fmt.Errorf("run %s: %d jobs produced %d outcomes", runID, len(jobs), len(rep.Outcomes))
	}

	logger.Info("run complete",
		"jobs", rep.Totals.Jobs,
		"succeeded", rep.Totals.Succeeded,
		"skipped", rep.Totals.Skipped,
		"failed", rep.Totals.Failed,
		"duration", rep.RunDuration.Round(time.Second),
	)
	fmt.Fprint(r.out, report.Render(rep))

	r.publish(ctx, logger, rep, started, finished)
	return rep, nil
}

// publish records and announces the report. Neither step can fail the run.
func (r *Runner) publish(ctx context.Context, logger *slog.Logger, rep models.RunReport, started, finished time.Time) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if r.recorder != nil {
		if err := r.recorder.RecordRun(ctx, rep, started, finished); err != nil {
			logger.Warn("failed to record run history", "error", err)
		}
	}
	if r.notifier != nil {
		if err := r.notifier.NotifyRun(ctx, models.NewRunSummaryPayload(rep, started, finished)); err != nil {
			logger.Warn("failed to send run notification", "error", err)
		}
	}
}

func (r *Runner) acquireLock() (func(), error) {
	if err := os.MkdirAll(r.settings.OutputRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create output root: %w", err)
	}
	lockPath := filepath.Join(r.settings.OutputRoot, LockFileName)
	lock := flock.New(lockPath)

	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, lockPath)
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			r.logger.Warn("failed to release run lock", "error", err)
		}
	}, nil
}
