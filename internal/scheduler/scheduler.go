package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mkv-converter/internal/config"
	"mkv-converter/internal/transcoder"
	"mkv-converter/pkg/models"
)

// stderrTailLines bounds how much engine output ends up in an outcome
// message.
const stderrTailLines = 6

type Options struct {
	Parallel bool
	Workers  int           // Clamped to [config.MinWorkers, config.MaxWorkers]
	Timeout  time.Duration // Per-job wall clock budget, zero means none
	Logger   *slog.Logger

	// OnOutcome is called from the single collecting goroutine, once per job.
	OnOutcome func(models.Outcome)

	// KillContext parents every engine invocation. Canceling the ctx passed
	// to Run only stops new jobs; canceling KillContext terminates the ones
	// already running.
	KillContext context.Context
}

// Engine runs planned jobs through an Invoker and produces one outcome per
// job.
type Engine struct {
	invoker transcoder.Invoker
	opts    Options
	logger  *slog.Logger

	claims sync.Map // output path -> job seq
}

func New(invoker transcoder.Invoker, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.KillContext == nil {
		opts.KillContext = context.Background()
	}
	opts.Workers = min(max(opts.Workers, config.MinWorkers), config.MaxWorkers)
	return &Engine{invoker: invoker, opts: opts, logger: opts.Logger}
}

// FromSettings maps the scheduling fields of a settings snapshot to Options.
func FromSettings(s config.Settings) Options {
	return Options{
		Parallel: s.ParallelProcessing,
		Workers:  s.Workers(),
		Timeout:  s.JobTimeout,
	}
}

// Run executes jobs and returns their outcomes sorted by Job.Seq. Per-job
// failures never stop the run. After ctx is canceled no new job is started
// and every remaining job gets a Canceled outcome.
func (e *Engine) Run(ctx context.Context, jobs []models.Job) []models.Outcome {
	results := make(chan models.Outcome)
	outcomes := make([]models.Outcome, 0, len(jobs))

	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for o := range results {
			outcomes = append(outcomes, o)
			if e.opts.OnOutcome != nil {
				e.opts.OnOutcome(o)
			}
		}
	}()

	if e.opts.Parallel {
		e.runPool(ctx, jobs, results)
	} else {
		e.runSequential(ctx, jobs, results)
	}
	close(results)
	<-collected

	slices.SortFunc(outcomes, func(a, b models.Outcome) int { return a.Job.Seq - b.Job.Seq })
	return outcomes
}

func (e *Engine) runSequential(ctx context.Context, jobs []models.Job, results chan<- models.Outcome) {
	e.logger.Info("running jobs sequentially", "jobs", len(jobs))
	for _, job := range jobs {
		results <- e.execute(ctx, job)
	}
}

func (e *Engine) runPool(ctx context.Context, jobs []models.Job, results chan<- models.Outcome) {
	e.logger.Info("running jobs in parallel", "jobs", len(jobs), "workers", e.opts.Workers)

	var g errgroup.Group
	g.SetLimit(e.opts.Workers)
	for _, job := range jobs {
		if ctx.Err() != nil {
			// Resolves without invoking the engine.
			results <- e.execute(ctx, job)
			continue
		}
		// Blocks until a worker slot frees up, so submission follows scan order.
		g.Go(func() error {
			results <- e.execute(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) execute(ctx context.Context, job models.Job) models.Outcome {
	switch {
	case job.PlanErr != nil:
		return failed(job, models.CategoryPlan, job.PlanErr.Error(), 0)
	case job.Skip:
		e.logger.Info("skipping job", "input", job.Input.RelPath, "reason", job.SkipReason)
		return models.Outcome{
			Job:        job,
			Success:    true,
			Skipped:    true,
			InputSize:  job.ExistingSize,
			OutputSize: job.ExistingSize,
		}
	case ctx.Err() != nil:
		return canceled(job)
	}

	if prev, loaded := e.claims.LoadOrStore(job.OutputPath, job.Seq); loaded {
		return failed(job, models.CategoryPlan, fmt.Sprintf("output %s already claimed by job %d", job.OutputPath, prev), 0)
	}

	logger := e.logger.With("input", job.Input.RelPath, "seq", job.Seq)
	logger.Info("conversion started", "output", job.OutputPath)

	o := e.invoke(job)
	if !o.Success {
		_ = os.Remove(job.ClaimPath)
		logger.Error("conversion failed", "category", string(o.Category), "error", o.Message, "elapsed", o.Elapsed)
		return o
	}
	logger.Info("conversion finished", "elapsed", o.Elapsed, "input_bytes", o.InputSize, "output_bytes", o.OutputSize)
	return o
}

// invoke runs the engine for one job and classifies the result.
func (e *Engine) invoke(job models.Job) models.Outcome {
	runCtx := e.opts.KillContext
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, e.opts.Timeout)
		defer cancel()
	}

	// A claim file left by an interrupted run is stale; the run lock
	// guarantees no other process owns it.
	_ = os.Remove(job.ClaimPath)

	start := time.Now()
	res, err := e.invoker.Invoke(runCtx, job.Args, filepath.Dir(job.OutputPath))
	elapsed := res.Elapsed
	if elapsed == 0 {
		elapsed = time.Since(start)
	}

	switch {
	case err != nil:
		return failed(job, models.CategoryEngine, err.Error(), elapsed)
	case res.TimedOut:
		return failed(job, models.CategoryTimeout, fmt.Sprintf("killed after exceeding %s", e.opts.Timeout), elapsed)
	case res.ExitCode != 0:
		msg := fmt.Sprintf("exit status %d", res.ExitCode)
		if tail := stderrTail(res.Stderr); tail != "" {
			msg += ": " + tail
		}
		return failed(job, models.CategoryEngine, msg, elapsed)
	}

	info, err := os.Stat(job.ClaimPath)
	switch {
	case err != nil:
		return failed(job, models.CategoryIntegrity, "engine exited cleanly but produced no output file", elapsed)
	case !info.Mode().IsRegular() || info.Size() == 0:
		return failed(job, models.CategoryIntegrity, "engine exited cleanly but output file is empty", elapsed)
	}
	if err := os.Rename(job.ClaimPath, job.OutputPath); err != nil {
		return failed(job, models.CategoryIntegrity, fmt.Sprintf("finalize output: %v", err), elapsed)
	}

	return models.Outcome{
		Job:        job,
		Success:    true,
		Elapsed:    elapsed,
		InputSize:  job.Input.Size,
		OutputSize: info.Size(),
	}
}

func failed(job models.Job, category models.ErrorCategory, msg string, elapsed time.Duration) models.Outcome {
	return models.Outcome{
		Job:       job,
		Elapsed:   elapsed,
		InputSize: job.Input.Size,
		Category:  category,
		Message:   msg,
	}
}

func canceled(job models.Job) models.Outcome {
	return failed(job, models.CategoryCanceled, "run interrupted before the job started", 0)
}

// stderrTail keeps the last few non-empty lines of engine output.
func stderrTail(stderr []byte) string {
	var lines []string
	for _, line := range strings.Split(string(stderr), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > stderrTailLines {
		lines = lines[len(lines)-stderrTailLines:]
	}
	return strings.Join(lines, " | ")
}
