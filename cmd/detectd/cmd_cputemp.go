package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/care/detectd/internal/emitter"
)

const thermalZonePath = "/sys/class/thermal/thermal_zone0/temp"

var (
	cputempCount    int
	cputempInterval time.Duration
	cputempTopic    string
	cputempHold     bool
)

func init() {
	cputempCmd.Flags().IntVar(&cputempCount, "count", 5, "Number of readings to publish")
	cputempCmd.Flags().DurationVar(&cputempInterval, "interval", 2*time.Second, "Delay between readings")
	cputempCmd.Flags().StringVar(&cputempTopic, "topic", "", "Topic to publish on (default: the meta topic)")
	cputempCmd.Flags().BoolVar(&cputempHold, "hold", true, "Keep the session open after the last reading until interrupted")
	rootCmd.AddCommand(cputempCmd)
}

var cputempCmd = &cobra.Command{
	Use:   "cputemp",
	Short: "Publish the CPU temperature a few times",
	RunE:  runCPUTemp,
}

type cpuTempReading struct {
	Temperature float64 `json:"cpu_temp"`
	Timestamp   string  `json:"timestamp"`
}

func runCPUTemp(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	topic := cputempTopic
	if topic == "" {
		topic = cfg.MQTT.Topics.Meta
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session := emitter.NewMQTTSession(emitter.SessionConfig{
		Broker:      cfg.MQTT.Broker,
		ClientID:    emitter.ClientID(cfg.InstanceID + "-temp"),
		Keepalive:   cfg.Keepalive(),
		ConnectWait: 5 * time.Second,
	})
	if err := session.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect mqtt: %w", err)
	}
	defer session.Disconnect()

	for i := 0; i < cputempCount; i++ {
		celsius, err := readCPUTemp(thermalZonePath)
		if err != nil {
			return err
		}

		payload, _ := json.Marshal(cpuTempReading{
			Temperature: celsius,
			Timestamp:   time.Now().Format("2006-01-02 15:04:05"),
		})
		if err := session.Publish(topic, payload, cfg.MQTT.QoS, cfg.MQTT.Retain); err != nil {
			slog.Error("failed to publish cpu temperature", "error", err)
		} else {
			slog.Info("cpu temperature published", "topic", topic, "cpu_temp", celsius)
		}

		if i < cputempCount-1 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(cputempInterval):
			}
		}
	}

	if cputempHold {
		slog.Info("readings published, holding session until interrupted")
		<-ctx.Done()
	}
	return nil
}

// readCPUTemp reads a sysfs thermal zone, which reports millidegrees Celsius
func readCPUTemp(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read cpu temperature: %w", err)
	}
	milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cpu temperature %q: %w", strings.TrimSpace(string(data)), err)
	}
	return milli / 1000, nil
}
