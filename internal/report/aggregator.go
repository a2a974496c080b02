package report

import (
	"slices"
	"sync"
	"time"

	"mkv-converter/pkg/models"
)

// Aggregator folds outcomes into run totals as they arrive. Add may be
// called from any goroutine.
type Aggregator struct {
	mu          sync.Mutex
	runID       string
	outcomes    []models.Outcome
	totals      models.Totals
	runDuration time.Duration
}

func NewAggregator(runID string) *Aggregator {
	return &Aggregator{runID: runID}
}

// Add records one outcome and updates the running totals.
func (a *Aggregator) Add(o models.Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.outcomes = append(a.outcomes, o)
	a.totals.Jobs++
	a.totals.InputBytes += o.InputSize
	a.totals.CumulativeElapsed += o.Elapsed
	if o.Success {
		a.totals.Succeeded++
		a.totals.OutputBytes += o.OutputSize
		if o.Skipped {
			a.totals.Skipped++
		}
	} else {
		a.totals.Failed++
	}
}

// SetRunDuration records the wall clock time of the whole run.
func (a *Aggregator) SetRunDuration(d time.Duration) {
	a.mu.Lock()
	a.runDuration = d
	a.mu.Unlock()
}

// Totals returns a snapshot of the running totals.
func (a *Aggregator) Totals() models.Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totals
}

// Report returns a copy of the collected outcomes sorted into scan order,
// regardless of the order they were added in.
func (a *Aggregator) Report() models.RunReport {
	a.mu.Lock()
	defer a.mu.Unlock()

	outcomes := slices.Clone(a.outcomes)
	slices.SortStableFunc(outcomes, func(x, y models.Outcome) int { return x.Job.Seq - y.Job.Seq })
	return models.RunReport{
		RunID:       a.runID,
		Outcomes:    outcomes,
		Totals:      a.totals,
		RunDuration: a.runDuration,
	}
}

// Aggregate is the one-shot form of Aggregator.
func Aggregate(outcomes []models.Outcome) models.RunReport {
	a := NewAggregator("")
	for _, o := range outcomes {
		a.Add(o)
	}
	return a.Report()
}
