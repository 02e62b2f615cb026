package api

import (
	"context"
	"net/http"
	"runtime"
	"time"
)

// healthCheckTimeout bounds each dependency health check on the metrics endpoint.
const healthCheckTimeout = 2 * time.Second

// SystemMetrics is the /admin/metrics response.
type SystemMetrics struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	Accounts      AccountMetrics    `json:"accounts"`
	Dependencies  map[string]string `json:"dependencies"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// AccountMetrics counts accounts per role and live refresh sessions.
type AccountMetrics struct {
	ByRole         map[string]int `json:"by_role"`
	ActiveSessions int            `json:"active_sessions"`
}

// handleMetrics returns runtime, account and dependency health metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Accounts:     AccountMetrics{ByRole: map[string]int{}},
		Dependencies: map[string]string{},
	}

	if s.accounts != nil {
		byRole, err := s.accounts.CountByRole(r.Context())
		if err != nil {
			s.writeInternal(w, r, "count accounts failed", err)
			return
		}
		for role, n := range byRole {
			metrics.Accounts.ByRole[string(role)] = n
		}
	}
	if s.sessions != nil {
		n, err := s.sessions.CountActive(r.Context())
		if err != nil {
			s.writeInternal(w, r, "count sessions failed", err)
			return
		}
		metrics.Accounts.ActiveSessions = n
	}

	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		if err := check.HealthCheck(ctx); err != nil {
			metrics.Dependencies[name] = err.Error()
		} else {
			metrics.Dependencies[name] = "ok"
		}
		cancel()
	}

	writeJSON(w, http.StatusOK, metrics)
}
