package config

import (
	"fmt"
	"net"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid and fills zero-valued defaults
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	switch cfg.Camera.Source {
	case "", "mock":
		cfg.Camera.Source = "mock"
	case "command":
		if len(cfg.Camera.Command) == 0 {
			return fmt.Errorf("camera.command is required when camera.source is 'command'")
		}
	default:
		return fmt.Errorf("camera.source: unknown source '%s' (must be 'mock' or 'command')", cfg.Camera.Source)
	}
	if cfg.Camera.Width < 0 || cfg.Camera.Height < 0 {
		return fmt.Errorf("camera dimensions must be >= 0")
	}

	if cfg.Detector.Confidence <= 0 || cfg.Detector.Confidence > 1 {
		return fmt.Errorf("detector.confidence must be in (0, 1], got %v", cfg.Detector.Confidence)
	}
	if cfg.Detector.TimeoutMS < 0 {
		return fmt.Errorf("detector.timeout_ms must be >= 0")
	}
	if cfg.Detector.TimeoutMS == 0 {
		cfg.Detector.TimeoutMS = 5000
	}

	if cfg.Labels.Path == "" {
		return fmt.Errorf("labels.path is required")
	}

	if cfg.Pipeline.IntervalMS < 0 {
		return fmt.Errorf("pipeline.interval_ms must be >= 0")
	}
	if cfg.Pipeline.MaxTicks < 0 {
		return fmt.Errorf("pipeline.max_ticks must be >= 0 (0 = run forever)")
	}

	switch cfg.Store.Backend {
	case "":
		cfg.Store.Backend = "file"
	case "file", "sqlite":
	default:
		return fmt.Errorf("store.backend: unknown backend '%s' (must be 'file' or 'sqlite')", cfg.Store.Backend)
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}

	if cfg.Connectivity.URL == "" {
		return fmt.Errorf("connectivity.url is required")
	}
	if cfg.Connectivity.TimeoutMS <= 0 {
		cfg.Connectivity.TimeoutMS = 5000
	}

	// Validate MQTT broker
	if cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if _, _, err := net.SplitHostPort(cfg.MQTT.Broker); err != nil {
		return fmt.Errorf("mqtt.broker must be host:port: %w", err)
	}
	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
	}
	if cfg.MQTT.KeepaliveS <= 0 {
		cfg.MQTT.KeepaliveS = 60
	}
	if cfg.MQTT.ConnectWaitMS < 0 {
		return fmt.Errorf("mqtt.connect_wait_ms must be >= 0")
	}
	if cfg.MQTT.MaxPublishRateHz < 0 {
		return fmt.Errorf("mqtt.max_publish_rate_hz must be >= 0")
	}

	// Set default topics if not provided
	if cfg.MQTT.Topics.Meta == "" {
		cfg.MQTT.Topics.Meta = "raspberry/meta"
	}
	if cfg.MQTT.Topics.Status == "" {
		cfg.MQTT.Topics.Status = "raspberry/status"
	}
	if cfg.MQTT.Topics.Control != "" && cfg.MQTT.Topics.ControlResponse == "" {
		cfg.MQTT.Topics.ControlResponse = cfg.MQTT.Topics.Control + "/response"
	}
	if cfg.MQTT.WillPayload == "" {
		cfg.MQTT.WillPayload = `{"status": "Off"}`
	}

	return nil
}
