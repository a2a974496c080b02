package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"mkv-converter/internal/config"
)

// Busy thresholds. A busy host gets a single worker suggestion.
const (
	busyCPUPercent = 80.0
	busyRAMPercent = 90.0
)

// HostStats is a point-in-time view of the machine running the batch.
type HostStats struct {
	CPUModel     string
	LogicalCores int
	CPUPercent   float64
	RAMTotal     uint64
	RAMUsed      uint64
	RAMPercent   float64
	IsBusy       bool
}

type SystemMonitor struct {
	once       sync.Once
	cpuModel   string
	cores      int
	infoErr    error
	sampleTime time.Duration
}

func NewSystemMonitor() *SystemMonitor {
	return &SystemMonitor{sampleTime: 500 * time.Millisecond}
}

// staticInfo reads CPU model and core count once; they do not change at
// runtime.
func (m *SystemMonitor) staticInfo(ctx context.Context) error {
	m.once.Do(func() {
		cores, err := cpu.CountsWithContext(ctx, true)
		if err != nil {
			m.infoErr = fmt.Errorf("count cpus: %w", err)
			return
		}
		m.cores = cores

		infos, err := cpu.InfoWithContext(ctx)
		if err == nil && len(infos) > 0 {
			m.cpuModel = strings.TrimSpace(infos[0].ModelName)
		}
	})
	return m.infoErr
}

// GetStats gathers CPU and RAM usage. CPU usage is sampled over a short
// window, so the call blocks for about half a second.
func (m *SystemMonitor) GetStats(ctx context.Context) (HostStats, error) {
	var stats HostStats
	if err := m.staticInfo(ctx); err != nil {
		return stats, err
	}
	stats.CPUModel = m.cpuModel
	stats.LogicalCores = m.cores

	// 1. Get Memory Stats
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to get mem stats: %w", err)
	}
	stats.RAMTotal = v.Total
	stats.RAMUsed = v.Used
	stats.RAMPercent = v.UsedPercent

	// 2. Get CPU Percent (sampled over sampleTime)
	cpuPct, err := cpu.PercentWithContext(ctx, m.sampleTime, false)
	if err != nil {
		return stats, fmt.Errorf("failed to get cpu stats: %w", err)
	}
	if len(cpuPct) > 0 {
		stats.CPUPercent = cpuPct[0]
	}

	// 3. Busy Logic: a loaded host should not get more workers
	stats.IsBusy = stats.CPUPercent > busyCPUPercent || stats.RAMPercent > busyRAMPercent
	return stats, nil
}

// SuggestWorkers returns a max_workers value for software encoding on this
// host: one worker per four logical cores, a single worker when busy.
func SuggestWorkers(stats HostStats) int {
	if stats.IsBusy || stats.LogicalCores <= 0 {
		return config.MinWorkers
	}
	return min(max(stats.LogicalCores/4, config.MinWorkers), config.MaxWorkers)
}
