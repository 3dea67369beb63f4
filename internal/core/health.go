package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthStatus represents the health state of the detectd service
type HealthStatus struct {
	Status         string      `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds  int64       `json:"uptime_seconds"`
	Ticks          uint64      `json:"ticks"`
	Paused         bool        `json:"paused"`
	PendingHistory bool        `json:"pending_history"`
	StoreLen       int         `json:"store_len"`
	MQTTConnected  bool        `json:"mqtt_connected"`
	LastOutcome    TickOutcome `json:"last_outcome,omitempty"`
}

// HealthCheck returns the current health status of the service.
// Buffering is normal operation, so pending history alone never degrades it.
func (s *Service) HealthCheck(ctx context.Context) HealthStatus {
	s.mu.RLock()
	running := s.isRunning
	started := s.started
	s.mu.RUnlock()

	ctrl := s.controller.Status()
	status := HealthStatus{
		Status:         "healthy",
		Ticks:          ctrl.Ticks,
		Paused:         ctrl.Paused,
		PendingHistory: ctrl.PendingHistory,
		MQTTConnected:  s.session.IsConnected(),
		LastOutcome:    ctrl.LastOutcome,
	}
	if running {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
	}

	n, err := s.store.Len(ctx)
	if err != nil {
		slog.Warn("failed to read store length", "error", err)
		status.Status = "degraded"
		status.StoreLen = -1
	} else {
		status.StoreLen = n
	}

	// Determine overall health status
	if !running {
		status.Status = "unhealthy"
	} else if ctrl.LastOutcome == OutcomeAborted {
		status.Status = "degraded"
	}

	return status
}

// LivenessHandler handles /health endpoint (simple liveness check)
func (s *Service) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	response := map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(started).Seconds()),
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// ReadinessHandler handles /readiness endpoint (detailed readiness check)
// Returns 503 only when the service is not running
func (s *Service) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := s.HealthCheck(r.Context())

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// newHealthServer builds the HTTP server for /health, /readiness and /metrics
func (s *Service) newHealthServer(port string) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.LivenessHandler)
	mux.HandleFunc("/readiness", s.ReadinessHandler)
	mux.Handle("/metrics", promhttp.Handler())

	slog.Info("starting health check server",
		"port", port,
		"endpoints", []string{"/health", "/readiness", "/metrics"},
	)

	return &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
