// Package control is the MQTT control plane: JSON commands arrive on the
// control topic and responses are published on the response topic.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/care/detectd/internal/emitter"
)

// Command represents a control plane command
type Command struct {
	Command string                 `json:"command"`
	Config  map[string]interface{} `json:"config,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// Session is the part of the MQTT session the control plane needs
type Session interface {
	Subscribe(topic string, qos byte, handler emitter.MessageHandler)
	Publish(topic string, payload []byte, qos byte, retain bool) error
}

// Topics names the command and response topics
type Topics struct {
	Control  string
	Response string
}

// CommandCallbacks contains callback functions for commands
type CommandCallbacks struct {
	OnGetStatus    func() map[string]interface{}
	OnPause        func() error
	OnResume       func() error
	OnUpdateConfig func(map[string]interface{}) error
	OnShutdown     func() error
}

// Handler handles control plane commands
type Handler struct {
	session   Session
	topics    Topics
	commands  chan Command
	callbacks CommandCallbacks
	now       func() time.Time

	mu       sync.RWMutex
	isPaused bool
	stopped  bool
}

// NewHandler creates a new control plane handler
func NewHandler(session Session, topics Topics, callbacks CommandCallbacks) *Handler {
	return &Handler{
		session:   session,
		topics:    topics,
		commands:  make(chan Command, 10),
		callbacks: callbacks,
		now:       time.Now,
	}
}

// Start registers the command subscription and starts processing commands.
// The subscription takes effect once the session connects.
func (h *Handler) Start(ctx context.Context) error {
	if h.topics.Control == "" {
		return fmt.Errorf("control topic is required")
	}

	slog.Info("subscribing to control plane", "topic", h.topics.Control)
	h.session.Subscribe(h.topics.Control, 0, h.messageHandler)

	go h.processCommands(ctx)

	slog.Info("control plane handler started")
	return nil
}

// Stop stops accepting commands
func (h *Handler) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil
	}
	h.stopped = true
	close(h.commands)

	slog.Info("control plane handler stopped")
	return nil
}

// messageHandler is called when a control message is received
func (h *Handler) messageHandler(msg emitter.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control command received", "command", cmd.Command)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return
	}

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

// processCommands processes commands from the queue
func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-h.commands:
			if !ok {
				return
			}
			h.sendResponse(h.handleCommand(cmd))
		}
	}
}

// handleCommand executes a command
func (h *Handler) handleCommand(cmd Command) Response {
	resp := Response{CommandAck: cmd.Command}

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			return notImplemented(resp)
		}
		resp.Status = "success"
		resp.Data = h.callbacks.OnGetStatus()

	case "pause":
		if h.callbacks.OnPause == nil {
			return notImplemented(resp)
		}
		if err := h.callbacks.OnPause(); err != nil {
			return failed(resp, err)
		}
		h.setPaused(true)
		resp.Status = "paused"
		resp.Data = map[string]interface{}{"capture_active": false}

	case "resume":
		if h.callbacks.OnResume == nil {
			return notImplemented(resp)
		}
		if err := h.callbacks.OnResume(); err != nil {
			return failed(resp, err)
		}
		h.setPaused(false)
		resp.Status = "success"
		resp.Data = map[string]interface{}{"capture_active": true}

	case "update_config":
		if h.callbacks.OnUpdateConfig == nil {
			return notImplemented(resp)
		}
		if err := h.callbacks.OnUpdateConfig(cmd.Config); err != nil {
			return failed(resp, err)
		}
		resp.Status = "success"
		resp.Data = map[string]interface{}{"config_updated": true}

	case "shutdown":
		if h.callbacks.OnShutdown == nil {
			return notImplemented(resp)
		}
		if err := h.callbacks.OnShutdown(); err != nil {
			return failed(resp, err)
		}
		resp.Status = "success"
		resp.Data = map[string]interface{}{"message": "shutting down"}

	default:
		slog.Warn("unknown control command", "command", cmd.Command)
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	return resp
}

func notImplemented(resp Response) Response {
	resp.Status = "error"
	resp.Error = resp.CommandAck + " not implemented"
	return resp
}

func failed(resp Response, err error) Response {
	resp.Status = "error"
	resp.Error = err.Error()
	return resp
}

// sendResponse publishes a response on the response topic. Responses are
// best effort: a disconnected session drops them.
func (h *Handler) sendResponse(resp Response) {
	if h.topics.Response == "" {
		return
	}
	resp.Timestamp = h.now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	if err := h.session.Publish(h.topics.Response, payload, 0, false); err != nil {
		slog.Error("failed to publish response", "error", err)
		return
	}

	slog.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}

func (h *Handler) setPaused(paused bool) {
	h.mu.Lock()
	h.isPaused = paused
	h.mu.Unlock()
}

// IsPaused returns whether capturing is paused
func (h *Handler) IsPaused() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.isPaused
}
