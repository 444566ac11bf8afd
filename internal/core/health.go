package core

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/e7canasta/orion-gaze/internal/emitter"
	"github.com/e7canasta/orion-gaze/internal/types"
)

// PublisherHealth is the delivery state of one publisher.
type PublisherHealth struct {
	Connected bool   `json:"connected"`
	Errors    uint64 `json:"errors"`
	Dropped   uint64 `json:"dropped"`
}

// HealthStatus represents the health state of the gaze service
type HealthStatus struct {
	Status          string                     `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds   int64                      `json:"uptime_seconds"`
	Source          string                     `json:"source"`
	SourceConnected bool                       `json:"source_connected"`
	Ticks           uint64                     `json:"ticks"`
	SuppressedTicks uint64                     `json:"suppressed_ticks"`
	Saccades        uint64                     `json:"saccades"`
	Jitters         uint64                     `json:"jitters"`
	RowsBuffered    int                        `json:"rows_buffered"`
	Publishers      map[string]PublisherHealth `json:"publishers,omitempty"`
}

// publishers that report their own counters
type statser interface {
	Stats() emitter.Stats
}

// HealthCheck returns the current health status of the service
func (s *Service) HealthCheck() HealthStatus {
	s.mu.RLock()
	running := s.isRunning
	started := s.started
	stats := s.stats
	s.mu.RUnlock()

	status := HealthStatus{
		Status:          "healthy",
		Source:          s.cfg.Source.Kind,
		Ticks:           stats.Ticks,
		SuppressedTicks: stats.Suppressed,
		Saccades:        stats.Saccades[types.AxisH] + stats.Saccades[types.AxisV],
		Jitters:         stats.Jitters[types.AxisH] + stats.Jitters[types.AxisV],
		RowsBuffered:    s.recorder.Len(),
		Publishers:      make(map[string]PublisherHealth),
	}
	if !started.IsZero() {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
	}

	// Replay has no device to lose
	if running {
		status.SourceConnected = true
		if src := s.currentSource(); src != nil {
			status.SourceConnected = src.Stats().IsConnected
		}
	}

	busStats := s.bus.Stats()
	degraded := false
	for _, p := range s.currentPublishers() {
		ph := PublisherHealth{Connected: true}
		if st, ok := p.(statser); ok {
			pst := st.Stats()
			ph.Connected = pst.Connected
			ph.Errors = pst.Errors
		}
		ph.Dropped = busStats.Subscribers[p.Name()].Dropped
		if !ph.Connected {
			degraded = true
		}
		status.Publishers[p.Name()] = ph
	}

	// Determine overall health status
	if !running {
		status.Status = "unhealthy"
	} else if !status.SourceConnected || degraded {
		status.Status = "degraded"
	}

	return status
}

// LivenessHandler handles /health endpoint (simple liveness check)
func (s *Service) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": s.HealthCheck().UptimeSeconds,
	})
}

// ReadinessHandler handles /readiness endpoint (detailed readiness check).
// Degraded is still ready; only a stopped pipeline answers 503.
func (s *Service) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, health)
}

// SnapshotHandler handles /snapshot: the most recent engine snapshot, or
// 204 before the first tick.
func (s *Service) SnapshotHandler(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.latest.Get()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	meta := emitter.Meta{InstanceID: s.cfg.InstanceID, SessionID: s.cfg.SessionID}
	writeJSON(w, http.StatusOK, emitter.NewSnapshotPayload(meta, snap))
}

// Handler returns the health/metrics mux.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()

	// Register health check endpoints
	mux.HandleFunc("/health", s.LivenessHandler)
	mux.HandleFunc("/readiness", s.ReadinessHandler)
	mux.HandleFunc("/snapshot", s.SnapshotHandler)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// StartHealthServer starts the HTTP health check server on the given port.
// It runs in a separate goroutine and is stopped by Shutdown. Port 0 is a
// no-op.
func (s *Service) StartHealthServer(port int) error {
	if port == 0 {
		s.logger.Info("health check server disabled")
		return nil
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return fmt.Errorf("health server already started")
	}
	s.server = server
	s.mu.Unlock()

	s.logger.Info("starting health check server",
		"port", port,
		"endpoints", []string{"/health", "/readiness", "/snapshot", "/metrics"},
	)

	// Start server in goroutine (non-blocking)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("health check server failed", "error", err)
		}
	}()

	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
