package core

import (
	"fmt"
	"log/slog"
	"time"
)

// updateConfig applies configuration changes without restarting.
// Supported keys: pipeline.interval_ms, detector.confidence.
func (s *Service) updateConfig(newConfig map[string]interface{}) error {
	slog.Info("applying config update", "changes", newConfig)

	changes := []string{}

	if pipelineCfg, ok := newConfig["pipeline"].(map[string]interface{}); ok {
		if ms, ok := pipelineCfg["interval_ms"].(float64); ok {
			old := s.controller.Interval()
			interval := time.Duration(ms) * time.Millisecond
			if err := s.controller.SetInterval(interval); err != nil {
				return fmt.Errorf("pipeline.interval_ms: %w", err)
			}
			changes = append(changes, fmt.Sprintf("pipeline.interval_ms: %d → %d", old.Milliseconds(), interval.Milliseconds()))
		}
		if _, ok := pipelineCfg["max_ticks"]; ok {
			slog.Warn("pipeline.max_ticks change requires restart")
		}
	}

	if detectorCfg, ok := newConfig["detector"].(map[string]interface{}); ok {
		if confidence, ok := detectorCfg["confidence"].(float64); ok {
			old := s.controller.Threshold()
			if err := s.controller.SetThreshold(confidence); err != nil {
				return fmt.Errorf("detector.confidence: %w", err)
			}
			changes = append(changes, fmt.Sprintf("detector.confidence: %v → %v", old, confidence))
		}
	}

	if len(changes) == 0 {
		return fmt.Errorf("no valid configuration changes found")
	}

	slog.Info("config update applied", "changes_count", len(changes))

	for _, change := range changes {
		slog.Info("config changed", "change", change)
	}

	return nil
}
