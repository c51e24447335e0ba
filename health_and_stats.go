package main

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// serverMetrics holds the counters reported by /health, /metrics and /stats.
type serverMetrics struct {
	active    atomic.Int64
	queued    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	mu             sync.Mutex
	processedCount int64
	processedTotal time.Duration
}

func (m *serverMetrics) observe(d time.Duration) {
	if d < 0 {
		return
	}
	m.mu.Lock()
	m.processedCount++
	m.processedTotal += d
	m.mu.Unlock()
}

// successRate is the percentage of finished jobs that completed.
func (m *serverMetrics) successRate() float64 {
	completed := m.completed.Load()
	total := completed + m.failed.Load()
	if total == 0 {
		return 0
	}
	return float64(completed) / float64(total) * 100
}

func (m *serverMetrics) avgProcessingSeconds() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processedCount == 0 {
		return 0
	}
	return (m.processedTotal / time.Duration(m.processedCount)).Seconds()
}

func memoryUsage() string {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return fmt.Sprintf("%.1f MiB", float64(ms.Alloc)/(1<<20))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	tools := make(map[string]bool)
	status := "healthy"
	checks := s.media.Check()
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		err := checks[name]
		tools[name] = err == nil
		if err != nil {
			status = "degraded"
			s.logger.Warn().Err(err).Str("tool", name).Msg("tool check failed")
		}
	}
	if s.metrics.active.Load() > int64(s.cfg.Workers*2) {
		status = "overloaded"
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	writeJSON(w, http.StatusOK, HealthStatus{
		Status:        status,
		ActiveJobs:    s.metrics.active.Load(),
		QueuedJobs:    s.metrics.queued.Load(),
		CompletedJobs: s.metrics.completed.Load(),
		FailedJobs:    s.metrics.failed.Load(),
		Workers:       s.cfg.Workers,
		Uptime:        time.Since(s.startedAt).Round(time.Second).String(),
		MemoryUsage:   memoryUsage(),
		Tools:         tools,
		Redis:         s.store.RedisConnected(ctx),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active_jobs":    s.metrics.active.Load(),
		"queued_jobs":    s.metrics.queued.Load(),
		"completed_jobs": s.metrics.completed.Load(),
		"failed_jobs":    s.metrics.failed.Load(),
		"workers":        s.cfg.Workers,
		"queue_capacity": s.cfg.QueueCapacity,
		"queue_length":   len(s.queue),
		"rate_limit":     s.cfg.RequestsPerSecond,
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"total_jobs":          s.store.Len(),
		"active_jobs":         s.metrics.active.Load(),
		"queued_jobs":         s.metrics.queued.Load(),
		"completed_jobs":      s.metrics.completed.Load(),
		"failed_jobs":         s.metrics.failed.Load(),
		"pending_waiters":     s.waiters.pending(),
		"success_rate":        s.metrics.successRate(),
		"avg_processing_time": s.metrics.avgProcessingSeconds(),
	})
}
