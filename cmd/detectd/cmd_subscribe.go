package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/care/detectd/internal/emitter"
)

func init() {
	rootCmd.AddCommand(subscribeCmd)
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Print every detection event published on the meta topic",
	Long: `subscribe registers a last will on the status topic, subscribes to the
meta topic and logs each message until interrupted.`,
	RunE: runSubscribe,
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session := emitter.NewMQTTSession(emitter.SessionConfig{
		Broker:      cfg.MQTT.Broker,
		ClientID:    emitter.ClientID(cfg.InstanceID + "-sub"),
		Keepalive:   cfg.Keepalive(),
		ConnectWait: cfg.ConnectWait(),
	})
	session.SetWill(cfg.MQTT.Topics.Status, []byte(cfg.MQTT.WillPayload))
	session.Subscribe(cfg.MQTT.Topics.Meta, cfg.MQTT.QoS, emitter.LogMessage)

	slog.Info("starting subscriber",
		"broker", cfg.MQTT.Broker,
		"topic", cfg.MQTT.Topics.Meta,
		"will_topic", cfg.MQTT.Topics.Status,
	)

	return session.Listen(ctx)
}
