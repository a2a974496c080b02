package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"mkv-converter/internal/monitor"
)

// Progress is the run state reported on each pulse.
type Progress struct {
	Done   int
	Total  int
	Failed int
}

// Service logs a progress line every interval while a batch runs.
type Service struct {
	interval time.Duration
	source   func() Progress
	logger   *slog.Logger
	host     *monitor.SystemMonitor
	started  time.Time
}

// New creates a heartbeat service. source is called from the heartbeat
// goroutine and must be safe for concurrent use.
func New(interval time.Duration, source func() Progress, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{interval: interval, source: source, logger: logger}
}

// WithMonitor adds host CPU and RAM usage to each pulse.
func (s *Service) WithMonitor(m *monitor.SystemMonitor) *Service {
	s.host = m
	return s
}

// Start launches the heartbeat loop in the background. The returned channel
// is closed once the loop has exited after ctx is done. A non-positive
// interval disables the loop.
func (s *Service) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if s.interval <= 0 || s.source == nil {
		close(done)
		return done
	}

	s.started = time.Now()
	ticker := time.NewTicker(s.interval)
	go func() {
		defer close(done)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.pulse(ctx)
			}
		}
	}()
	return done
}

func (s *Service) pulse(ctx context.Context) {
	p := s.source()
	attrs := []any{
		"done", p.Done,
		"total", p.Total,
		"failed", p.Failed,
		"elapsed", time.Since(s.started).Round(time.Second),
	}
	if s.host != nil {
		if stats, err := s.host.GetStats(ctx); err == nil {
			attrs = append(attrs, "cpu_percent", int(stats.CPUPercent), "ram_percent", int(stats.RAMPercent))
		}
	}
	s.logger.Info("conversion progress", attrs...)
}
