package emitter

import (
	"context"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Message is one inbound publish delivered to a subscriber
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// MessageHandler is invoked from the transport's event loop for every inbound publish
type MessageHandler func(Message)

// Subscribe registers a topic filter. The subscription is (re)issued every
// time the session connects, so it survives automatic reconnects.
func (s *MQTTSession) Subscribe(topic string, qos byte, handler MessageHandler) {
	wrapped := func(_ mqtt.Client, msg mqtt.Message) {
		handler(Message{
			Topic:    msg.Topic(),
			Payload:  msg.Payload(),
			QoS:      msg.Qos(),
			Retained: msg.Retained(),
		})
	}

	s.mu.Lock()
	s.subscriptions = append(s.subscriptions, subscription{topic: topic, qos: qos, handler: wrapped})
	client := s.client
	s.mu.Unlock()

	// already connected: onConnect will not run again until a reconnect
	if client != nil && client.IsConnectionOpen() {
		client.Subscribe(topic, qos, wrapped)
	}
}

// listenRetryInterval is how often Listen re-issues a connect that was refused
const listenRetryInterval = 5 * time.Second

// Listen is the subscriber receive loop. It connects, then blocks until ctx
// is cancelled while the transport delivers messages to the registered
// handlers. A refused connect is retried; once connected the transport
// reconnects on its own. In normal operation it never returns.
func (s *MQTTSession) Listen(ctx context.Context) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}

	slog.Info("subscriber listening", "broker", s.cfg.Broker)

	ticker := time.NewTicker(listenRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Disconnect()
			slog.Info("subscriber stopped")
			return nil
		case <-ticker.C:
			if err := s.Connect(ctx); err != nil {
				slog.Warn("subscriber reconnect failed", "error", err)
			}
		}
	}
}

// LogMessage is the default subscriber handler: it logs topic and payload.
func LogMessage(msg Message) {
	slog.Info("message received",
		"topic", msg.Topic,
		"payload", string(msg.Payload),
		"qos", msg.QoS,
		"retained", msg.Retained)
}
