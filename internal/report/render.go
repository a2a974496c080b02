package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"mkv-converter/pkg/models"
)

// Render formats a run report as plain text. It does not modify r and
// returns the same text for the same report.
func Render(r models.RunReport) string {
	t := r.Totals
	var b strings.Builder

	if r.RunID != "" {
		fmt.Fprintf(&b, "Conversion summary (run %s)\n", r.RunID)
	} else {
		b.WriteString("Conversion summary\n")
	}
	line := func(label, value string) {
		fmt.Fprintf(&b, "  %-22s %s\n", label+":", value)
	}

	line("Jobs", strconv.Itoa(t.Jobs))
	succeeded := strconv.Itoa(t.Succeeded)
	if t.Skipped > 0 {
		succeeded += fmt.Sprintf(" (%d skipped)", t.Skipped)
	}
	line("Succeeded", succeeded)
	line("Failed", strconv.Itoa(t.Failed))
	line("Input size", FormatBytes(t.InputBytes))
	line("Output size", FormatBytes(t.OutputBytes))
	line("Space saved", spaceSaved(t))
	line("Cumulative job time", formatDuration(t.CumulativeElapsed))
	if r.RunDuration > 0 {
		line("Run duration", formatDuration(r.RunDuration))
	}

	failures := r.Failures()
	if len(failures) == 0 {
		return b.String()
	}

	rows := make([][]string, 0, len(failures))
	for _, o := range failures {
		rows = append(rows, []string{
			strconv.Itoa(o.Job.Seq + 1),
			o.Job.Input.RelPath,
			o.Category.Label(),
			o.Message,
		})
	}
	fmt.Fprintf(&b, "\nFailed jobs (%d)\n", len(failures))
	b.WriteString(Table([]string{"#", "File", "Reason", "Message"}, rows, 0))
	b.WriteString("\n")
	return b.String()
}

// SavedPercent returns the space saved as a percentage of the input total.
// ok is false when there is no input to compare against.
func SavedPercent(t models.Totals) (pct float64, ok bool) {
	if t.InputBytes <= 0 {
		return 0, false
	}
	return float64(t.SpaceSaved()) * 100 / float64(t.InputBytes), true
}

func spaceSaved(t models.Totals) string {
	pct, ok := SavedPercent(t)
	if !ok {
		return "n/a"
	}
	saved := t.SpaceSaved()
	if saved < 0 {
		return fmt.Sprintf("-%s (%.1f%%, output is larger)", FormatBytes(-saved), pct)
	}
	return fmt.Sprintf("%s (%.1f%%)", FormatBytes(saved), pct)
}

// FormatBytes renders a byte count with IEC units.
func FormatBytes(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}

func formatDuration(d time.Duration) string {
	switch {
	case d == 0:
		return "0s"
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}
