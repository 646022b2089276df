package api

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const cpuSampleInterval = 200 * time.Millisecond

type systemMetrics struct {
	CPUPercent float64
	MemUsed    uint64
	MemTotal   uint64
	MemPercent float64
}

func collectSystemMetrics(ctx context.Context) systemMetrics {
	var metrics systemMetrics

	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err == nil {
		// Per-core percentage, normalized to 0-100.
		if cpuPercent, err := proc.PercentWithContext(ctx, cpuSampleInterval); err == nil {
			metrics.CPUPercent = cpuPercent / float64(max(runtime.NumCPU(), 1))
		}
		if memInfo, err := proc.MemoryInfoWithContext(ctx); err == nil {
			metrics.MemUsed = memInfo.RSS
		}
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		metrics.MemTotal = vm.Total
		if metrics.MemTotal > 0 && metrics.MemUsed > 0 {
			metrics.MemPercent = float64(metrics.MemUsed) / float64(metrics.MemTotal) * 100
		}
	}

	return metrics
}

// handleSystem handles GET /api/system
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	m := collectSystemMetrics(r.Context())

	s.writeJSON(w, http.StatusOK, SystemResponse{
		CPUPercent:    m.CPUPercent,
		MemUsed:       m.MemUsed,
		MemUsedHuman:  humanize.Bytes(m.MemUsed),
		MemTotal:      m.MemTotal,
		MemTotalHuman: humanize.Bytes(m.MemTotal),
		MemPercent:    m.MemPercent,
		Goroutines:    runtime.NumGoroutine(),
		Uptime:        s.getUptime(),
	})
}
