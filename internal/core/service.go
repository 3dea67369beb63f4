package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/care/detectd/internal/camera"
	"github.com/care/detectd/internal/config"
	"github.com/care/detectd/internal/connectivity"
	"github.com/care/detectd/internal/control"
	"github.com/care/detectd/internal/detector"
	"github.com/care/detectd/internal/emitter"
	"github.com/care/detectd/internal/labels"
	"github.com/care/detectd/internal/store"
)

// Service wires the pipeline components together and owns their lifecycle
type Service struct {
	cfg *config.Config

	// Core components
	camera         Capturer
	detector       Detector
	process        *detector.ProcessDetector // nil when no detector command is configured
	labels         *labels.Watcher
	prober         *connectivity.Prober
	session        *emitter.MQTTSession
	store          store.Store
	controller     *Controller
	controlHandler *control.Handler

	// Lifecycle management
	started      time.Time
	mu           sync.RWMutex
	isRunning    bool
	stopWatching func()
	cancelCtx    context.CancelFunc // For MQTT shutdown command
	runDone      chan struct{}
	server       *http.Server
	closeOnce    sync.Once
	closeErr     error
}

// NewService builds every component from cfg. Nothing touches the network
// until Run.
func NewService(cfg *config.Config) (*Service, error) {
	slog.Info("configuration loaded",
		"instance_id", cfg.InstanceID,
		"camera", cfg.Camera.Source,
		"store", cfg.Store.Backend,
		"broker", cfg.MQTT.Broker,
	)

	s := &Service{cfg: cfg}

	switch cfg.Camera.Source {
	case "command":
		cam, err := camera.NewCommandCamera(cfg.Camera.Command, cfg.Camera.Width, cfg.Camera.Height, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to create camera: %w", err)
		}
		s.camera = cam
	default:
		s.camera = camera.NewMockCamera(cfg.Camera.Width, cfg.Camera.Height)
	}

	if len(cfg.Detector.Command) > 0 {
		proc, err := detector.NewProcessDetector(detector.ProcessConfig{
			ID:      "detector",
			Command: cfg.Detector.Command,
			Timeout: cfg.DetectTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create detector: %w", err)
		}
		s.process = proc
		s.detector = proc
	} else {
		slog.Warn("no detector command configured, ticks will have no detections")
		s.detector = detector.NullDetector{}
	}

	watcher, err := labels.NewWatcher(cfg.Labels.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load labels: %w", err)
	}
	s.labels = watcher

	s.prober = connectivity.NewProber(cfg.Connectivity.URL, cfg.ProbeTimeout())

	clientID := cfg.MQTT.ClientID
	if clientID == "" {
		clientID = emitter.ClientID(cfg.InstanceID)
	}
	s.session = emitter.NewMQTTSession(emitter.SessionConfig{
		Broker:      cfg.MQTT.Broker,
		ClientID:    clientID,
		Keepalive:   cfg.Keepalive(),
		ConnectWait: cfg.ConnectWait(),
	})

	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}
	s.store = st

	s.controller, err = NewController(context.Background(), Deps{
		Camera:   s.camera,
		Detector: s.detector,
		Labels:   s.labels,
		Prober:   s.prober,
		Session:  s.session,
		Store:    s.store,
	}, ControllerOptions{
		Threshold:   cfg.Detector.Confidence,
		Topic:       cfg.MQTT.Topics.Meta,
		QoS:         cfg.MQTT.QoS,
		Retain:      cfg.MQTT.Retain,
		Interval:    cfg.Interval(),
		MaxTicks:    cfg.Pipeline.MaxTicks,
		PublishRate: cfg.MQTT.MaxPublishRateHz,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create controller: %w", err)
	}

	return s, nil
}

// Run starts the service and blocks until the controller finishes its ticks
// or ctx is cancelled
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	s.isRunning = true
	s.started = time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancelCtx = cancel
	s.runDone = make(chan struct{})
	defer close(s.runDone)
	s.mu.Unlock()

	slog.Info("detectd service starting", "instance_id", s.cfg.InstanceID)

	if s.process != nil {
		if err := s.process.Start(ctx); err != nil {
			return fmt.Errorf("failed to start detector: %w", err)
		}
	}

	if s.cfg.Labels.Watch {
		stop, err := s.labels.Watch()
		if err != nil {
			slog.Warn("label hot-reload disabled", "error", err)
		} else {
			s.mu.Lock()
			s.stopWatching = stop
			s.mu.Unlock()
		}
	}

	if s.cfg.MQTT.Topics.Control != "" {
		s.controlHandler = control.NewHandler(s.session, control.Topics{
			Control:  s.cfg.MQTT.Topics.Control,
			Response: s.cfg.MQTT.Topics.ControlResponse,
		}, control.CommandCallbacks{
			OnGetStatus:    s.getStatus,
			OnPause:        s.pauseCapture,
			OnResume:       s.resumeCapture,
			OnUpdateConfig: s.updateConfig,
			OnShutdown:     s.shutdownViaControl,
		})
		if err := s.controlHandler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start control plane: %w", err)
		}
		// the control plane needs a session even while no events flow
		if err := s.session.Connect(ctx); err != nil {
			slog.Warn("mqtt connect failed", "error", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if s.cfg.Health.Port != "" {
		s.server = s.newHealthServer(s.cfg.Health.Port)
		g.Go(func() error {
			if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
			defer shutdownCancel()
			return s.server.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		// the run ends with the controller, even when it stops on max_ticks
		defer cancel()
		return s.controller.Run(gctx)
	})

	err := g.Wait()
	slog.Info("detectd service run loop exiting")
	return err
}

// Shutdown stops components in order: controller, label watcher, control
// plane, detector, MQTT session, store
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return s.closeStore()
	}
	s.cancelCtx()
	stopWatching := s.stopWatching
	runDone := s.runDone
	s.mu.Unlock()

	slog.Info("shutting down detectd service")

	select {
	case <-runDone:
	case <-ctx.Done():
		slog.Error("controller did not stop before the shutdown deadline", "error", ctx.Err())
	}

	if stopWatching != nil {
		stopWatching()
	}

	if s.controlHandler != nil {
		if err := s.controlHandler.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}

	if s.process != nil {
		if err := s.process.Stop(); err != nil {
			slog.Error("failed to stop detector", "error", err)
		}
	}

	s.session.Disconnect()

	if err := s.closeStore(); err != nil {
		return err
	}

	s.mu.Lock()
	uptime := time.Since(s.started)
	s.isRunning = false
	s.mu.Unlock()

	slog.Info("detectd service shutdown complete", "uptime", uptime)
	return nil
}

func (s *Service) closeStore() error {
	s.closeOnce.Do(func() {
		if err := s.store.Close(); err != nil {
			s.closeErr = fmt.Errorf("failed to close event store: %w", err)
		}
	})
	return s.closeErr
}

// Controller exposes the pipeline controller
func (s *Service) Controller() *Controller {
	return s.controller
}

// ShutdownTimeout returns the configured graceful shutdown timeout
func (s *Service) ShutdownTimeout() time.Duration {
	return s.cfg.ShutdownTimeout()
}
