package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"mkv-converter/internal/config"
	"mkv-converter/internal/transcoder"
	"mkv-converter/pkg/models"
)

// SkipReasonConverted is recorded on jobs whose output already exists.
const SkipReasonConverted = "already converted"

// ErrOutsideOutputRoot is returned when a relative input path would place its
// output outside the output root.
var ErrOutsideOutputRoot = errors.New("output path escapes output root")

// PlanError means a job could not be planned. It is recorded on the job and
// never reaches the engine.
type PlanError struct {
	Input string
	Err   error
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("plan %s: %v", e.Input, e.Err)
}

func (e *PlanError) Unwrap() error { return e.Err }

// SubtitleProber lists the subtitle streams of an input file.
type SubtitleProber interface {
	SubtitleStreams(ctx context.Context, path string) ([]transcoder.SubtitleStream, error)
}

// Planner turns input descriptors into jobs for one settings snapshot.
type Planner struct {
	settings     config.Settings
	outputRoot   string
	prober       SubtitleProber
	videoEncoder string
	logger       *slog.Logger
}

type Option func(*Planner)

// WithProber enables subtitle stream selection. Without a prober the burn
// clause leaves the stream choice to ffmpeg.
func WithProber(p SubtitleProber) Option {
	return func(pl *Planner) { pl.prober = p }
}

// WithVideoEncoder overrides the encoder derived from video.codec, normally
// with the hardware encoder found by the engine probe.
func WithVideoEncoder(name string) Option {
	return func(pl *Planner) {
		if name != "" {
			pl.videoEncoder = name
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(pl *Planner) {
		if l != nil {
			pl.logger = l
		}
	}
}

// New validates the settings snapshot. Invalid settings are rejected here so
// that no job is ever built from them.
func New(s config.Settings, opts ...Option) (*Planner, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	root, err := filepath.Abs(s.OutputRoot)
	if err != nil {
		return nil, fmt.Errorf("planner: resolve output root: %w", err)
	}

	p := &Planner{
		settings:     s,
		outputRoot:   root,
		videoEncoder: transcoder.StaticEncoderFor(s.Video.Codec),
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// VideoEncoder returns the ffmpeg encoder name used in argument vectors.
func (p *Planner) VideoEncoder() string { return p.videoEncoder }

// Plan builds the job for one input. Failures are recorded in Job.PlanErr.
func (p *Planner) Plan(ctx context.Context, seq int, in models.InputDescriptor) models.Job {
	job := models.Job{Seq: seq, Input: in}

	out, err := OutputPath(p.outputRoot, in.RelPath, p.settings.OutputSuffix())
	if err != nil {
		job.PlanErr = &PlanError{Input: in.RelPath, Err: err}
		return job
	}
	job.OutputPath = out
	job.ClaimPath = ClaimPath(out)

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		job.PlanErr = &PlanError{Input: in.RelPath, Err: fmt.Errorf("create output dir: %w", err)}
		return job
	}

	if p.settings.SkipExisting {
		if info, err := os.Stat(out); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
			job.Skip = true
			job.SkipReason = SkipReasonConverted
			job.ExistingSize = info.Size()
			return job
		}
	}

	sub := p.subtitleFor(ctx, in.Path)
	job.Args = BuildArgs(in.Path, job.ClaimPath, p.settings, p.videoEncoder, sub)
	return job
}

// PlanAll plans every descriptor, using its index as the sequence number.
func (p *Planner) PlanAll(ctx context.Context, inputs []models.InputDescriptor) []models.Job {
	jobs := make([]models.Job, 0, len(inputs))
	for i, in := range inputs {
		job := p.Plan(ctx, i, in)
		switch {
		case job.PlanErr != nil:
			p.logger.Warn("job planning failed", "input", in.RelPath, "error", job.PlanErr)
		case job.Skip:
			p.logger.Debug("job skipped", "input", in.RelPath, "reason", job.SkipReason)
		default:
			p.logger.Debug("job planned", "input", in.RelPath, "output", job.OutputPath)
		}
		jobs = append(jobs, job)
	}
	return jobs
}

func (p *Planner) subtitleFor(ctx context.Context, input string) Subtitle {
	if !p.settings.Subtitles.Enabled {
		return Subtitle{}
	}
	if p.prober == nil {
		return Subtitle{Burn: true, Position: -1}
	}

	streams, err := p.prober.SubtitleStreams(ctx, input)
	if err != nil {
		p.logger.Warn("subtitle probe failed, using first stream", "input", input, "error", err)
		return Subtitle{Burn: true, Position: -1}
	}
	if len(streams) == 0 {
		return Subtitle{}
	}
	chosen := SelectStream(streams, p.settings.Subtitles.Language)
	return Subtitle{Burn: true, Position: chosen.Position}
}

// OutputPath maps a slash-separated relative input path to
// <root>/<parent dirs>/<stem><suffix>.mp4. root must be absolute.
func OutputPath(root, relPath, suffix string) (string, error) {
	clean := path.Clean(relPath)
	if clean == "." || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrOutsideOutputRoot, relPath)
	}

	dir, name := path.Split(clean)
	stem := strings.TrimSuffix(name, path.Ext(name))
	if stem == "" {
		return "", fmt.Errorf("empty file stem in %q", relPath)
	}

	out := filepath.Join(root, filepath.FromSlash(dir), stem+suffix+".mp4")
	rel, err := filepath.Rel(root, out)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrOutsideOutputRoot, relPath)
	}
	return out, nil
}

// ClaimPath is the hidden sibling ffmpeg writes to before the result is
// renamed into place. The scanner never lists it.
func ClaimPath(output string) string {
	dir, name := filepath.Split(output)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return filepath.Join(dir, "."+stem+".partial"+filepath.Ext(name))
}
