package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/rfm-gateway/internal/bridges/rfm"
	"github.com/nerrad567/rfm-gateway/internal/daemon"
)

// StatusResponse is the /api/v1/status body.
type StatusResponse struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	Gateway       rfm.Status       `json:"gateway"`
	Radio         *rfm.RadiodStats `json:"radio,omitempty"`
	Daemon        *daemon.Stats    `json:"daemon,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// handleStatus returns the gateway snapshot plus process statistics.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	resp := StatusResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Gateway: s.gateway.Status(),
	}

	if s.radio != nil {
		stats := s.radio.Stats()
		resp.Radio = &stats
	}
	if s.daemon != nil {
		stats := s.daemon.Stats()
		resp.Daemon = &stats
	}

	writeJSON(w, http.StatusOK, resp)
}
