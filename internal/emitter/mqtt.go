package emitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// ErrNotConnected is returned by Publish when the session has no open
// connection to hand the message to.
var ErrNotConnected = errors.New("mqtt not connected")

// SessionConfig configures an MQTTSession
type SessionConfig struct {
	Broker    string // host:port
	ClientID  string
	Keepalive time.Duration
	// ConnectWait bounds how long Connect waits for the CONNACK.
	// Zero keeps Connect fire-and-forget.
	ConnectWait time.Duration
}

// Will is the last-will message registered with the broker
type Will struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// MQTTSession is one client session bound to a single broker.
//
// Connect never blocks on the CONNACK (unless ConnectWait is set): the
// outcome is reported asynchronously through the connection callbacks.
// Publish only hands messages to an open connection. A publish issued before
// the CONNACK arrives returns ErrNotConnected instead of being dropped
// silently, so callers can keep the message.
type MQTTSession struct {
	cfg       SessionConfig
	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu            sync.RWMutex
	client        mqtt.Client
	will          *Will
	subscriptions []subscription
	connecting    bool
	published     map[string]uint64 // count per topic
	errors        uint64
	refusals      uint64
}

type subscription struct {
	topic   string
	qos     byte
	handler mqtt.MessageHandler
}

// NewMQTTSession creates a session. No network activity happens until Connect.
func NewMQTTSession(cfg SessionConfig) *MQTTSession {
	if cfg.ClientID == "" {
		cfg.ClientID = ClientID("detectd")
	}
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = 60 * time.Second
	}
	return &MQTTSession{
		cfg:       cfg,
		newClient: mqtt.NewClient,
		published: make(map[string]uint64),
	}
}

// ClientID returns prefix plus a random suffix so two devices never share an id
func ClientID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
}

// SetWill registers a last will. It only takes effect for connections
// established after the call.
func (s *MQTTSession) SetWill(topic string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.will = &Will{Topic: topic, Payload: payload}
	// force the options to be rebuilt on next Connect
	if s.client != nil && !s.client.IsConnectionOpen() {
		s.client = nil
	}
}

func (s *MQTTSession) options() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", s.cfg.Broker))
	opts.SetClientID(s.cfg.ClientID)
	opts.SetKeepAlive(s.cfg.Keepalive)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetMaxReconnectInterval(30 * time.Second)

	if s.will != nil {
		opts.SetBinaryWill(s.will.Topic, s.will.Payload, s.will.QoS, s.will.Retain)
	}

	opts.OnConnect = s.onConnect
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", s.cfg.Broker,
			"max_retry_interval", "30s")
	}
	return opts
}

// onConnect is the connection callback run by the transport's event loop.
func (s *MQTTSession) onConnect(c mqtt.Client) {
	s.mu.Lock()
	s.connecting = false
	subs := make([]subscription, len(s.subscriptions))
	copy(subs, s.subscriptions)
	s.mu.Unlock()

	slog.Info("mqtt connection success",
		"broker", s.cfg.Broker,
		"client_id", s.cfg.ClientID)

	// subscriptions are renewed on every (re)connect
	for _, sub := range subs {
		token := c.Subscribe(sub.topic, sub.qos, sub.handler)
		go func(topic string) {
			if !token.WaitTimeout(5 * time.Second) {
				slog.Error("mqtt subscription timeout", "topic", topic)
				return
			}
			if err := token.Error(); err != nil {
				slog.Error("mqtt subscription failed", "topic", topic, "error", err)
				return
			}
			slog.Info("mqtt subscribed", "topic", topic)
		}(sub.topic)
	}
}

// Connect opens the session, or reuses it when a connection is already open,
// in flight, or being re-established by the transport.
func (s *MQTTSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.client == nil {
		s.client = s.newClient(s.options())
	}
	client := s.client
	// IsConnected also covers a transport-driven reconnect in progress
	if client.IsConnected() || s.connecting {
		s.mu.Unlock()
		return nil
	}
	s.connecting = true
	s.mu.Unlock()

	slog.Debug("connecting to mqtt broker", "broker", s.cfg.Broker)

	token := client.Connect()
	go s.awaitConnect(token)

	if s.cfg.ConnectWait <= 0 {
		return nil
	}

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connection failed: %w", err)
		}
		return nil
	case <-time.After(s.cfg.ConnectWait):
		// still in flight, the callback will report the outcome
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// awaitConnect reports a refused or failed connect. Success is reported by onConnect.
func (s *MQTTSession) awaitConnect(token mqtt.Token) {
	<-token.Done()
	err := token.Error()

	s.mu.Lock()
	s.connecting = false
	if err != nil {
		s.refusals++
	}
	s.mu.Unlock()

	if err != nil {
		slog.Error("mqtt connection failed",
			"broker", s.cfg.Broker,
			"error", err)
	}
}

// Publish hands one message to the transport without waiting for delivery.
func (s *MQTTSession) Publish(topic string, payload []byte, qos byte, retain bool) error {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()

	if client == nil || !client.IsConnectionOpen() {
		s.countError()
		return ErrNotConnected
	}

	token := client.Publish(topic, qos, retain, payload)

	// report immediate rejections only, never block on the ack
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			s.countError()
			return fmt.Errorf("publish to %s: %w", topic, err)
		}
	default:
	}

	s.mu.Lock()
	s.published[topic]++
	s.mu.Unlock()

	slog.Debug("mqtt message handed off",
		"topic", topic,
		"qos", qos,
		"size", len(payload))

	return nil
}

// IsConnected reports whether a connection is currently open
func (s *MQTTSession) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client != nil && s.client.IsConnectionOpen()
}

// Disconnect closes the MQTT connection
func (s *MQTTSession) Disconnect() {
	s.mu.Lock()
	client := s.client
	s.connecting = false
	s.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250) // 250ms grace period
		slog.Info("mqtt disconnected")
	}
}

func (s *MQTTSession) countError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}

// Stats returns session statistics
func (s *MQTTSession) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	published := make(map[string]uint64, len(s.published))
	for k, v := range s.published {
		published[k] = v
	}

	return Stats{
		Connected: s.client != nil && s.client.IsConnectionOpen(),
		Published: published,
		Errors:    s.errors,
		Refusals:  s.refusals,
	}
}

// Stats contains session statistics
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
	Refusals  uint64
}
