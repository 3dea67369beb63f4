package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/care/detectd/internal/metrics"
	"github.com/care/detectd/internal/store"
	"github.com/care/detectd/internal/types"
)

// TickOutcome describes how a tick ended
type TickOutcome string

const (
	OutcomeEmpty     TickOutcome = "empty"     // no qualifying detections
	OutcomePublished TickOutcome = "published" // every event handed to the transport
	OutcomeBuffered  TickOutcome = "buffered"  // events kept in the store
	OutcomeAborted   TickOutcome = "aborted"   // capture or detect failed
)

// TickResult summarises one tick
type TickResult struct {
	Seq       uint64
	TraceID   string
	Outcome   TickOutcome
	Live      int // qualifying detections of this tick
	History   int // stored events read for the drain
	Published int
	Buffered  int
	Duration  time.Duration
}

// ControllerOptions configures the tick loop
type ControllerOptions struct {
	Threshold   float64
	Topic       string
	QoS         byte
	Retain      bool
	Interval    time.Duration
	MaxTicks    int     // 0 = run forever
	PublishRate float64 // hand-offs per second, 0 = unlimited
}

// Deps are the collaborators the controller drives
type Deps struct {
	Camera   Capturer
	Detector Detector
	Labels   LabelResolver
	Prober   Prober
	Session  Session
	Store    store.Store
}

// ControllerStatus is a point-in-time view of the controller
type ControllerStatus struct {
	Ticks          uint64      `json:"ticks"`
	PendingHistory bool        `json:"pending_history"`
	Paused         bool        `json:"paused"`
	LastOutcome    TickOutcome `json:"last_outcome,omitempty"`
	LastTickAt     time.Time   `json:"last_tick_at,omitempty"`
	Threshold      float64     `json:"threshold"`
	IntervalMS     int64       `json:"interval_ms"`
}

// Controller is the capture → detect → route state machine.
//
// hasPendingHistory is true whenever the store may hold undelivered events.
// It is set before any write to the store and cleared only after a
// successful drain, so a non-empty store always implies the flag.
type Controller struct {
	deps    Deps
	opts    ControllerOptions
	limiter *rate.Limiter

	mu                sync.RWMutex
	hasPendingHistory bool
	paused            bool
	ticks             uint64
	last              TickResult
	lastAt            time.Time
}

// NewController creates a controller and initialises the pending-history flag
// from the store, so events buffered before a restart are drained first.
func NewController(ctx context.Context, deps Deps, opts ControllerOptions) (*Controller, error) {
	if deps.Camera == nil || deps.Detector == nil || deps.Labels == nil ||
		deps.Prober == nil || deps.Session == nil || deps.Store == nil {
		return nil, fmt.Errorf("controller requires camera, detector, labels, prober, session and store")
	}
	if opts.Threshold <= 0 || opts.Threshold > 1 {
		return nil, fmt.Errorf("threshold must be in (0, 1], got %v", opts.Threshold)
	}
	if opts.Topic == "" {
		return nil, fmt.Errorf("publish topic is required")
	}

	n, err := deps.Store.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect event store: %w", err)
	}

	c := &Controller{
		deps:              deps,
		opts:              opts,
		hasPendingHistory: n > 0,
	}
	if opts.PublishRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.PublishRate), 1)
	}

	metrics.StoreRecords.Set(float64(n))
	metrics.SetPendingHistory(c.hasPendingHistory)

	if n > 0 {
		slog.Info("event store holds undelivered events", "records", n)
	}

	return c, nil
}

// Run executes ticks until MaxTicks is reached or ctx is cancelled.
// Tick errors are logged and never stop the loop.
func (c *Controller) Run(ctx context.Context) error {
	slog.Info("pipeline controller started",
		"max_ticks", c.opts.MaxTicks,
		"interval", c.Interval(),
		"threshold", c.Threshold(),
	)

	for done := 0; c.opts.MaxTicks == 0 || done < c.opts.MaxTicks; {
		if ctx.Err() != nil {
			break
		}

		if c.IsPaused() {
			if !sleepCtx(ctx, c.Interval()) {
				break
			}
			continue
		}

		res, err := c.Tick(ctx)
		done++
		if err != nil {
			slog.Error("tick failed",
				"seq", res.Seq,
				"trace_id", res.TraceID,
				"outcome", res.Outcome,
				"error", err,
			)
		}

		if c.opts.MaxTicks > 0 && done >= c.opts.MaxTicks {
			break
		}
		if !sleepCtx(ctx, c.Interval()) {
			break
		}
	}

	slog.Info("pipeline controller stopped", "ticks", c.Status().Ticks)
	return nil
}

// Tick performs one capture → detect → route cycle
func (c *Controller) Tick(ctx context.Context) (TickResult, error) {
	start := time.Now()
	var res TickResult

	frame, err := c.deps.Camera.CaptureFrame(ctx)
	if err != nil {
		metrics.StageFailures.WithLabelValues("capture").Inc()
		res.Outcome = OutcomeAborted
		return c.finish(res, start), fmt.Errorf("capture failed: %w", err)
	}
	res.Seq = frame.Seq
	res.TraceID = frame.TraceID

	threshold := c.Threshold()
	detections, err := c.deps.Detector.Detect(ctx, frame, threshold)
	if err != nil {
		metrics.StageFailures.WithLabelValues("detect").Inc()
		res.Outcome = OutcomeAborted
		return c.finish(res, start), fmt.Errorf("detection failed: %w", err)
	}

	detections = types.FilterByScore(detections, threshold)
	if len(detections) == 0 {
		slog.Debug("no qualifying detections", "seq", frame.Seq, "trace_id", frame.TraceID)
		res.Outcome = OutcomeEmpty
		return c.finish(res, start), nil
	}

	batch := make(types.Batch, 0, len(detections))
	for _, d := range detections {
		batch = append(batch, types.NewDetectionEvent(frame.Timestamp, c.deps.Labels.Resolve(d.ClassID)))
	}
	res.Live = len(batch)

	if !c.deps.Prober.IsReachable(ctx) {
		res, err = c.buffer(ctx, res, batch)
		return c.finish(res, start), err
	}

	res, err = c.flush(ctx, res, batch)
	return c.finish(res, start), err
}

// buffer keeps the batch in the store behind any existing history
func (c *Controller) buffer(ctx context.Context, res TickResult, batch types.Batch) (TickResult, error) {
	c.setPending(true)
	res.Outcome = OutcomeBuffered

	if err := c.deps.Store.Append(ctx, batch); err != nil {
		metrics.StageFailures.WithLabelValues("store").Inc()
		return res, fmt.Errorf("failed to buffer %d events: %w", len(batch), err)
	}

	res.Buffered = len(batch)
	metrics.EventsBuffered.Add(float64(len(batch)))
	c.refreshStoreGauge(ctx)

	slog.Info("tick buffered",
		"seq", res.Seq,
		"trace_id", res.TraceID,
		"events", len(batch),
	)
	return res, nil
}

// flush publishes stored history followed by the live batch. The store is
// cleared only after every event has been handed off.
func (c *Controller) flush(ctx context.Context, res TickResult, batch types.Batch) (TickResult, error) {
	if err := c.deps.Session.Connect(ctx); err != nil {
		slog.Warn("mqtt session unavailable, buffering", "trace_id", res.TraceID, "error", err)
		return c.buffer(ctx, res, batch)
	}

	pending := c.HasPendingHistory()
	outgoing := []types.DetectionEvent(batch)

	if pending {
		history, err := c.deps.Store.ReadAll(ctx)
		if err != nil {
			metrics.StageFailures.WithLabelValues("store").Inc()
			slog.Error("failed to read event history, keeping live events behind it",
				"trace_id", res.TraceID,
				"error", err,
			)
			return c.buffer(ctx, res, batch)
		}
		res.History = len(history)
		outgoing = make([]types.DetectionEvent, 0, len(history)+len(batch))
		outgoing = append(outgoing, history...)
		outgoing = append(outgoing, batch...)
	}

	for i, ev := range outgoing {
		if err := c.publish(ctx, ev); err != nil {
			metrics.PublishFailures.Inc()
			return c.requeue(ctx, res, outgoing[i:], pending, err)
		}
		res.Published++
		metrics.EventsPublished.Inc()
	}
	res.Outcome = OutcomePublished

	if pending {
		if err := c.deps.Store.Clear(ctx); err != nil {
			metrics.StageFailures.WithLabelValues("store").Inc()
			return res, fmt.Errorf("history published but store not cleared, it will be re-delivered: %w", err)
		}
		c.setPending(false)
		c.refreshStoreGauge(ctx)
		metrics.HistoryDrains.Inc()

		slog.Info("history drained",
			"trace_id", res.TraceID,
			"history", res.History,
			"live", res.Live,
		)
	}

	slog.Info("tick published",
		"seq", res.Seq,
		"trace_id", res.TraceID,
		"events", res.Published,
	)
	return res, nil
}

func (c *Controller) publish(ctx context.Context, ev types.DetectionEvent) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("publish pacing: %w", err)
		}
	}

	payload, err := ev.Payload()
	if err != nil {
		return err
	}
	return c.deps.Session.Publish(c.opts.Topic, payload, c.opts.QoS, c.opts.Retain)
}

// requeue stores the events that were not handed off. When history was being
// drained the store still holds it, so the store becomes exactly the unsent
// tail; otherwise the tail is appended. If that replace fails, the unsent
// live events are appended behind the intact history, which is then
// delivered again.
func (c *Controller) requeue(ctx context.Context, res TickResult, unsent []types.DetectionEvent, draining bool, cause error) (TickResult, error) {
	c.setPending(true)
	res.Outcome = OutcomeBuffered

	kept := unsent
	var err error
	if draining {
		err = c.deps.Store.Replace(ctx, unsent)
		if err != nil {
			metrics.StageFailures.WithLabelValues("store").Inc()
			kept = unsent[max(0, len(unsent)-res.Live):]
			slog.Error("failed to trim delivered history, keeping live events behind it",
				"trace_id", res.TraceID,
				"error", err,
			)
			if appendErr := c.deps.Store.Append(ctx, kept); appendErr != nil {
				err = errors.Join(err, appendErr)
			} else {
				err = nil
			}
		}
	} else {
		err = c.deps.Store.Append(ctx, unsent)
	}
	if err != nil {
		metrics.StageFailures.WithLabelValues("store").Inc()
		return res, errors.Join(
			fmt.Errorf("publish interrupted: %w", cause),
			fmt.Errorf("failed to keep %d unsent events: %w", len(kept), err),
		)
	}

	res.Buffered = len(kept)
	metrics.EventsBuffered.Add(float64(len(kept)))
	c.refreshStoreGauge(ctx)

	slog.Warn("publish interrupted, unsent events kept",
		"trace_id", res.TraceID,
		"published", res.Published,
		"kept", len(kept),
		"error", cause,
	)
	return res, fmt.Errorf("publish interrupted after %d events: %w", res.Published, cause)
}

func (c *Controller) finish(res TickResult, start time.Time) TickResult {
	res.Duration = time.Since(start)

	c.mu.Lock()
	c.ticks++
	c.last = res
	c.lastAt = start
	c.mu.Unlock()

	metrics.Ticks.WithLabelValues(string(res.Outcome)).Inc()
	metrics.TickDuration.Observe(float64(res.Duration.Milliseconds()))
	return res
}

func (c *Controller) refreshStoreGauge(ctx context.Context) {
	n, err := c.deps.Store.Len(ctx)
	if err != nil {
		slog.Debug("failed to read store length", "error", err)
		return
	}
	metrics.StoreRecords.Set(float64(n))
}

func (c *Controller) setPending(pending bool) {
	c.mu.Lock()
	c.hasPendingHistory = pending
	c.mu.Unlock()
	metrics.SetPendingHistory(pending)
}

// HasPendingHistory reports whether the store may hold undelivered events
func (c *Controller) HasPendingHistory() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasPendingHistory
}

// Pause stops capturing until Resume is called. An in-flight tick completes.
func (c *Controller) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Resume restarts capturing after Pause
func (c *Controller) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

// IsPaused reports whether capturing is paused
func (c *Controller) IsPaused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

// Threshold returns the current confidence threshold
func (c *Controller) Threshold() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opts.Threshold
}

// SetThreshold changes the confidence threshold for subsequent ticks
func (c *Controller) SetThreshold(threshold float64) error {
	if threshold <= 0 || threshold > 1 {
		return fmt.Errorf("threshold must be in (0, 1], got %v", threshold)
	}
	c.mu.Lock()
	c.opts.Threshold = threshold
	c.mu.Unlock()
	return nil
}

// Interval returns the current inter-tick delay
func (c *Controller) Interval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opts.Interval
}

// SetInterval changes the inter-tick delay starting with the next sleep
func (c *Controller) SetInterval(interval time.Duration) error {
	if interval < 0 {
		return fmt.Errorf("interval must be >= 0, got %v", interval)
	}
	c.mu.Lock()
	c.opts.Interval = interval
	c.mu.Unlock()
	return nil
}

// Status returns a snapshot of the controller state
func (c *Controller) Status() ControllerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ControllerStatus{
		Ticks:          c.ticks,
		PendingHistory: c.hasPendingHistory,
		Paused:         c.paused,
		LastOutcome:    c.last.Outcome,
		LastTickAt:     c.lastAt,
		Threshold:      c.opts.Threshold,
		IntervalMS:     c.opts.Interval.Milliseconds(),
	}
}

// sleepCtx waits for d and reports false if ctx ended first
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
