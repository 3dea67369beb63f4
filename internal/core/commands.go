package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// getStatus returns the current service status for the control plane
func (s *Service) getStatus() map[string]interface{} {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	ctrl := s.controller.Status()
	emitterStats := s.session.Stats()

	storeLen, err := s.store.Len(context.Background())
	if err != nil {
		slog.Warn("failed to read store length", "error", err)
		storeLen = -1
	}

	status := map[string]interface{}{
		"instance_id":     s.cfg.InstanceID,
		"uptime_s":        time.Since(started).Seconds(),
		"ticks":           ctrl.Ticks,
		"paused":          ctrl.Paused,
		"pending_history": ctrl.PendingHistory,
		"store_len":       storeLen,
		"last_outcome":    ctrl.LastOutcome,
		"labels":          s.labels.Table().Len(),
		"mqtt": map[string]interface{}{
			"broker":    s.cfg.MQTT.Broker,
			"connected": emitterStats.Connected,
			"published": emitterStats.Published,
			"errors":    emitterStats.Errors,
			"refusals":  emitterStats.Refusals,
		},
		"config": map[string]interface{}{
			"threshold":   ctrl.Threshold,
			"interval_ms": ctrl.IntervalMS,
			"max_ticks":   s.cfg.Pipeline.MaxTicks,
			"store":       s.cfg.Store.Backend,
		},
	}

	if s.process != nil {
		m := s.process.Metrics()
		status["detector"] = map[string]interface{}{
			"id":             s.process.ID(),
			"processed":      m.FramesProcessed,
			"failures":       m.Failures,
			"restarts":       m.Restarts,
			"avg_latency_ms": m.AvgLatencyMS,
		}
	}

	return status
}

// pauseCapture stops new ticks; buffered history stays in the store
func (s *Service) pauseCapture() error {
	if s.controller.IsPaused() {
		return fmt.Errorf("capture already paused")
	}
	s.controller.Pause()
	slog.Info("capture paused via control plane")
	return nil
}

// resumeCapture restarts ticking after a pause
func (s *Service) resumeCapture() error {
	if !s.controller.IsPaused() {
		return fmt.Errorf("capture is not paused")
	}
	s.controller.Resume()
	slog.Info("capture resumed via control plane")
	return nil
}

// shutdownViaControl ends Run; the caller performs the graceful shutdown
func (s *Service) shutdownViaControl() error {
	s.mu.RLock()
	cancel := s.cancelCtx
	s.mu.RUnlock()
	if cancel == nil {
		return fmt.Errorf("service is not running")
	}

	slog.Info("shutdown requested via control plane")
	// let the response go out before the session is torn down
	time.AfterFunc(100*time.Millisecond, cancel)
	return nil
}
