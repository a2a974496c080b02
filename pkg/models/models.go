package models

import "time"

// InputDescriptor is one eligible source file found by the scanner.
type InputDescriptor struct {
	Path    string `json:"path"`     // Absolute path
	RelPath string `json:"rel_path"` // Slash separated, relative to the scan root
	Size    int64  `json:"size"`
}

// Job is one planned unit of work. Jobs are passed by value and never
// modified after the planner returns them.
type Job struct {
	Seq          int             `json:"seq"` // Position in scan order
	Input        InputDescriptor `json:"input"`
	OutputPath   string          `json:"output_path"`
	ClaimPath    string          `json:"claim_path"` // ffmpeg writes here, renamed to OutputPath on success
	Args         []string        `json:"args"`
	Skip         bool            `json:"skip"`
	SkipReason   string          `json:"skip_reason,omitempty"`
	ExistingSize int64           `json:"existing_size,omitempty"`
	PlanErr      error           `json:"-"`
}

// ErrorCategory classifies why a job did not succeed.
type ErrorCategory string

const (
	CategoryNone      ErrorCategory = ""
	CategoryPlan      ErrorCategory = "PlanError"
	CategoryEngine    ErrorCategory = "EngineFailure"
	CategoryIntegrity ErrorCategory = "IntegrityFailure"
	CategoryTimeout   ErrorCategory = "TimeoutFailure"
	CategoryCanceled  ErrorCategory = "Canceled"
)

// Label returns a human readable name for the category.
func (c ErrorCategory) Label() string {
	switch c {
	case CategoryPlan:
		return "planning failed"
	case CategoryEngine:
		return "ffmpeg failed"
	case CategoryIntegrity:
		return "invalid output"
	case CategoryTimeout:
		return "timed out"
	case CategoryCanceled:
		return "canceled"
	default:
		return ""
	}
}

// Outcome is the recorded result of attempting (or skipping) a Job.
type Outcome struct {
	Job        Job           `json:"job"`
	Success    bool          `json:"success"`
	Skipped    bool          `json:"skipped"`
	Elapsed    time.Duration `json:"elapsed"`
	InputSize  int64         `json:"input_size"`
	OutputSize int64         `json:"output_size"`
	Category   ErrorCategory `json:"category,omitempty"`
	Message    string        `json:"message,omitempty"`
}

// Totals are monotonic sums over the outcomes of a run.
type Totals struct {
	Jobs        int   `json:"jobs"`
	Succeeded   int   `json:"succeeded"` // Includes skipped jobs
	Skipped     int   `json:"skipped"`
	Failed      int   `json:"failed"`
	InputBytes  int64 `json:"input_bytes"`
	OutputBytes int64 `json:"output_bytes"`

	// CumulativeElapsed is the sum of per-job times. Under parallel execution
	// it exceeds the wall-clock run duration.
	CumulativeElapsed time.Duration `json:"cumulative_elapsed"`
}

// SpaceSaved returns input minus output bytes. Negative means outputs grew.
func (t Totals) SpaceSaved() int64 {
	return t.InputBytes - t.OutputBytes
}

// RunReport is the scan-ordered, aggregated result of one batch.
type RunReport struct {
	RunID       string        `json:"run_id"`
	Outcomes    []Outcome     `json:"outcomes"`
	Totals      Totals        `json:"totals"`
	RunDuration time.Duration `json:"run_duration"`
}

// Failures returns the failed outcomes in scan order.
func (r RunReport) Failures() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if !o.Success {
			failed = append(failed, o)
		}
	}
	return failed
}

// Payload for the run-finished webhook
type RunSummaryPayload struct {
	RunID      string           `json:"run_id"`
	Status     string           `json:"status"` // "COMPLETED", "COMPLETED_WITH_FAILURES"
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Totals     Totals           `json:"totals"`
	Failures   []FailurePayload `json:"failures,omitempty"`
}

type FailurePayload struct {
	File     string `json:"file"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

// NewRunSummaryPayload builds the webhook body for a finished run.
func NewRunSummaryPayload(r RunReport, started, finished time.Time) RunSummaryPayload {
	p := RunSummaryPayload{
		RunID:      r.RunID,
		Status:     "COMPLETED",
		StartedAt:  started.UTC(),
		FinishedAt: finished.UTC(),
		Totals:     r.Totals,
	}
	for _, o := range r.Failures() {
		p.Failures = append(p.Failures, FailurePayload{
			File:     o.Job.Input.RelPath,
			Category: string(o.Category),
			Message:  o.Message,
		})
	}
	if len(p.Failures) > 0 {
		p.Status = "COMPLETED_WITH_FAILURES"
	}
	return p
}
