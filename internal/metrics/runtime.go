package metrics

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Sampler periodically logs process resource usage: CPU, resident memory,
// and goroutine count. It is diagnostics-only and never affects the feed.
type Sampler struct {
	interval time.Duration
	logger   *slog.Logger
}

func NewSampler(interval time.Duration, logger *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Sampler{
		interval: interval,
		logger:   logger.With("component", "sampler"),
	}
}

// Run blocks until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		s.logger.Warn("process handle unavailable, sampling goroutines only", "error", err)
		proc = nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		attrs := []any{"goroutines", runtime.NumGoroutine()}
		if proc != nil {
			if pct, err := proc.CPUPercent(); err == nil {
				attrs = append(attrs, "cpu_percent", pct)
			}
			if mem, err := proc.MemoryInfo(); err == nil {
				attrs = append(attrs, "rss_mb", float64(mem.RSS)/1024/1024)
			}
		}
		s.logger.Info("resource usage", attrs...)
	}
}
