package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/care/detectd/internal/config"
)

const defaultConfigPath = "config/detectd.yaml"

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "detectd",
	Short: "Connectivity-aware detection event pipeline",
	Long: `detectd captures frames, runs object detection and publishes one MQTT
message per detection. While the network is unreachable, events are kept in an
on-device store and delivered ahead of live events once it returns.`,
	SilenceUsage: true,
	RunE:         runPipeline,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig sets up logging and loads the configuration. Logging is
// configured twice so config errors are logged as JSON as well.
func loadConfig() (*config.Config, error) {
	setupLogging(debug)

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Log.Debug && !debug {
		setupLogging(true)
	}
	return cfg, nil
}

func setupLogging(debug bool) {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
}
