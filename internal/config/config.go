package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete detectd configuration
type Config struct {
	InstanceID       string             `yaml:"instance_id"`
	ShutdownTimeoutS int                `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Log              LogConfig          `yaml:"log"`
	Camera           CameraConfig       `yaml:"camera"`
	Detector         DetectorConfig     `yaml:"detector"`
	Labels           LabelsConfig       `yaml:"labels"`
	Pipeline         PipelineConfig     `yaml:"pipeline"`
	Store            StoreConfig        `yaml:"store"`
	Connectivity     ConnectivityConfig `yaml:"connectivity"`
	MQTT             MQTTConfig         `yaml:"mqtt"`
	Health           HealthConfig       `yaml:"health"`
}

// LogConfig contains logger settings
type LogConfig struct {
	Debug bool `yaml:"debug"`
}

// CameraConfig selects the capture source
type CameraConfig struct {
	Source  string   `yaml:"source"`  // mock, command
	Command []string `yaml:"command"` // argv of a still-capture tool writing one image to stdout
	Width   int      `yaml:"width"`
	Height  int      `yaml:"height"`
}

// DetectorConfig configures the inference subprocess
type DetectorConfig struct {
	Command    []string `yaml:"command"` // empty = no detector (no detections)
	Confidence float64  `yaml:"confidence"`
	TimeoutMS  int      `yaml:"timeout_ms"`
}

// LabelsConfig points at the class-id → label mapping file
type LabelsConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"` // hot-reload on file change
}

// PipelineConfig controls the tick loop
type PipelineConfig struct {
	IntervalMS int `yaml:"interval_ms"` // inter-tick delay
	MaxTicks   int `yaml:"max_ticks"`   // 0 = run forever
}

// StoreConfig selects the Event Store backend
type StoreConfig struct {
	Backend string `yaml:"backend"` // file, sqlite
	Path    string `yaml:"path"`
}

// ConnectivityConfig configures the reachability probe
type ConnectivityConfig struct {
	URL       string `yaml:"url"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker           string     `yaml:"broker"` // host:port
	ClientID         string     `yaml:"client_id"`
	KeepaliveS       int        `yaml:"keepalive_s"`
	QoS              byte       `yaml:"qos"`
	Retain           bool       `yaml:"retain"`
	MaxPublishRateHz float64    `yaml:"max_publish_rate_hz"` // 0 = unlimited
	ConnectWaitMS    int        `yaml:"connect_wait_ms"`     // 0 = do not wait for CONNACK
	Topics           MQTTTopics `yaml:"topics"`
	WillPayload      string     `yaml:"will_payload"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Meta            string `yaml:"meta"`
	Status          string `yaml:"status"`
	Control         string `yaml:"control"`          // empty disables the control plane
	ControlResponse string `yaml:"control_response"` // defaults to <control>/response
}

// HealthConfig configures the health/metrics HTTP server
type HealthConfig struct {
	Port string `yaml:"port"` // empty disables the server
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		InstanceID:       "detectd",
		ShutdownTimeoutS: 5,
		Camera: CameraConfig{
			Source: "mock",
			Width:  500,
			Height: 500,
		},
		Detector: DetectorConfig{
			Confidence: 0.6,
			TimeoutMS:  5000,
		},
		Labels: LabelsConfig{
			Path: "coco_labels.txt",
		},
		Pipeline: PipelineConfig{
			IntervalMS: 3000,
			MaxTicks:   20,
		},
		Store: StoreConfig{
			Backend: "file",
			Path:    "history.csv",
		},
		Connectivity: ConnectivityConfig{
			URL:       "http://google.com",
			TimeoutMS: 5000,
		},
		MQTT: MQTTConfig{
			Broker:     "broker.emqx.io:1883",
			KeepaliveS: 60,
			Topics: MQTTTopics{
				Meta:   "raspberry/meta",
				Status: "raspberry/status",
			},
			WillPayload: `{"status": "Off"}`,
		},
		Health: HealthConfig{
			Port: "8080",
		},
	}
}

// Load reads and parses a YAML configuration file on top of the defaults.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Info("config file not found, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Interval returns the inter-tick delay
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Pipeline.IntervalMS) * time.Millisecond
}

// ProbeTimeout returns the connectivity probe timeout
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Connectivity.TimeoutMS) * time.Millisecond
}

// DetectTimeout returns the per-frame inference timeout
func (c *Config) DetectTimeout() time.Duration {
	return time.Duration(c.Detector.TimeoutMS) * time.Millisecond
}

// Keepalive returns the MQTT keepalive interval
func (c *Config) Keepalive() time.Duration {
	return time.Duration(c.MQTT.KeepaliveS) * time.Second
}

// ConnectWait returns how long Connect waits for the CONNACK
func (c *Config) ConnectWait() time.Duration {
	return time.Duration(c.MQTT.ConnectWaitMS) * time.Millisecond
}

// ShutdownTimeout returns the configured graceful shutdown timeout
func (c *Config) ShutdownTimeout() time.Duration {
	if c.ShutdownTimeoutS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}
