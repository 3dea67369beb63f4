package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Detector.Confidence != 0.6 {
		t.Errorf("Expected confidence 0.6, got %v", cfg.Detector.Confidence)
	}
	if cfg.Interval() != 3*time.Second {
		t.Errorf("Expected 3s interval, got %v", cfg.Interval())
	}
	if cfg.Pipeline.MaxTicks != 20 {
		t.Errorf("Expected 20 max ticks, got %d", cfg.Pipeline.MaxTicks)
	}
	if cfg.MQTT.Broker != "broker.emqx.io:1883" {
		t.Errorf("Expected default broker, got %q", cfg.MQTT.Broker)
	}
	if cfg.MQTT.Topics.Meta != "raspberry/meta" || cfg.MQTT.Topics.Status != "raspberry/status" {
		t.Errorf("Unexpected topics: %+v", cfg.MQTT.Topics)
	}
	if cfg.MQTT.QoS != 0 || cfg.MQTT.Retain {
		t.Errorf("Expected qos 0 / retain false, got %d / %v", cfg.MQTT.QoS, cfg.MQTT.Retain)
	}
	if cfg.Store.Backend != "file" || cfg.Store.Path != "history.csv" {
		t.Errorf("Unexpected store config: %+v", cfg.Store)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detectd.yaml")
	yaml := `
instance_id: pi-kitchen
pipeline:
  interval_ms: 500
  max_ticks: 0
store:
  backend: sqlite
  path: /var/lib/detectd/history.db
mqtt:
  broker: localhost:1883
  max_publish_rate_hz: 20
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.InstanceID != "pi-kitchen" {
		t.Errorf("Expected instance pi-kitchen, got %q", cfg.InstanceID)
	}
	if cfg.Pipeline.MaxTicks != 0 {
		t.Errorf("Expected unbounded run, got %d", cfg.Pipeline.MaxTicks)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("Expected sqlite backend, got %q", cfg.Store.Backend)
	}
	// untouched keys keep defaults
	if cfg.MQTT.Topics.Meta != "raspberry/meta" {
		t.Errorf("Expected default meta topic, got %q", cfg.MQTT.Topics.Meta)
	}
	if cfg.Detector.Confidence != 0.6 {
		t.Errorf("Expected default confidence, got %v", cfg.Detector.Confidence)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad instance", func(c *Config) { c.InstanceID = "Pi_01" }, "instance_id"},
		{"threshold zero", func(c *Config) { c.Detector.Confidence = 0 }, "detector.confidence"},
		{"threshold above one", func(c *Config) { c.Detector.Confidence = 1.5 }, "detector.confidence"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "redis" }, "store.backend"},
		{"broker without port", func(c *Config) { c.MQTT.Broker = "broker.emqx.io" }, "mqtt.broker"},
		{"qos 3", func(c *Config) { c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"command camera without argv", func(c *Config) { c.Camera.Source = "command" }, "camera.command"},
		{"negative ticks", func(c *Config) { c.Pipeline.MaxTicks = -1 }, "pipeline.max_ticks"},
		{"negative connect wait", func(c *Config) { c.MQTT.ConnectWaitMS = -1 }, "mqtt.connect_wait_ms"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestValidateControlResponseTopic(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.MQTT.Topics.ControlResponse != "" {
		t.Errorf("Expected control plane disabled by default, got %q", cfg.MQTT.Topics.ControlResponse)
	}

	cfg.MQTT.Topics.Control = "raspberry/control"
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.MQTT.Topics.ControlResponse != "raspberry/control/response" {
		t.Errorf("Expected derived response topic, got %q", cfg.MQTT.Topics.ControlResponse)
	}
}

func TestShippedConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "detectd.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := Default()
	if err := Validate(want); err != nil {
		t.Fatal(err)
	}

	if cfg.Pipeline != want.Pipeline || cfg.Store != want.Store || cfg.Connectivity != want.Connectivity {
		t.Errorf("Expected shipped pipeline/store/connectivity to match defaults, got %+v %+v %+v",
			cfg.Pipeline, cfg.Store, cfg.Connectivity)
	}
	if cfg.MQTT.Broker != want.MQTT.Broker || cfg.MQTT.Topics != want.MQTT.Topics || cfg.MQTT.WillPayload != want.MQTT.WillPayload {
		t.Errorf("Expected shipped mqtt settings to match defaults, got %+v", cfg.MQTT)
	}
	if cfg.Detector.Confidence != 0.6 || cfg.Labels.Path != "coco_labels.txt" {
		t.Errorf("Unexpected detector/labels settings: %+v %+v", cfg.Detector, cfg.Labels)
	}
}
