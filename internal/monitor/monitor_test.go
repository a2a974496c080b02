package monitor

import (
	"context"
	"testing"
	"time"
)

func TestSuggestWorkers(t *testing.T) {
	cases := []struct {
		name  string
		stats HostStats
		want  int
	}{
		{"unknown cores", HostStats{}, 1},
		{"small host", HostStats{LogicalCores: 2}, 1},
		{"eight cores", HostStats{LogicalCores: 8}, 2},
		{"busy", HostStats{LogicalCores: 32, IsBusy: true}, 1},
		{"capped", HostStats{LogicalCores: 256}, 16},
	}
	for _, tc := range cases {
		if got := SuggestWorkers(tc.stats); got != tc.want {
			t.Errorf("%s: SuggestWorkers = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestGetStats(t *testing.T) {
	m := NewSystemMonitor()
	m.sampleTime = 50 * time.Millisecond

	stats, err := m.GetStats(context.Background())
	if err != nil {
		t.Skipf("host stats unavailable: %v", err)
	}
	if stats.LogicalCores < 1 {
		t.Errorf("LogicalCores = %d", stats.LogicalCores)
	}
	if stats.RAMTotal == 0 || stats.RAMPercent < 0 || stats.RAMPercent > 100 {
		t.Errorf("RAM stats = %+v", stats)
	}
}
