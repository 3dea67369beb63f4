// Package detector runs object detection in an external inference process.
//
// The process is spawned once and kept alive. Each Detect call is one
// synchronous round trip over the process's stdin/stdout:
//
//	request  (Go → process): 4-byte big-endian length + msgpack
//	    {frame_data, width, height, format, threshold, meta: {seq, trace_id, timestamp}}
//	response (process → Go): 4-byte big-endian length + msgpack
//	    {detections: [{class_id, score, bbox: [ymin, xmin, ymax, xmax]}], error, timing}
//
// stderr lines are forwarded to slog, mapping "[ERROR]"/"[WARNING]" prefixes
// to the matching level. Any protocol failure or timeout kills the process;
// the next Detect call respawns it.
package detector

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/care/detectd/internal/types"
)

// ProcessConfig configures the inference subprocess
type ProcessConfig struct {
	ID      string
	Command []string // argv; Command[0] is the executable
	Env     []string // extra environment, appended to os.Environ()
	Timeout time.Duration
}

// Metrics contains detector health metrics
type Metrics struct {
	FramesProcessed uint64    `json:"frames_processed"`
	Failures        uint64    `json:"failures"`
	Restarts        uint64    `json:"restarts"`
	AvgLatencyMS    float64   `json:"avg_latency_ms"`
	LastSeenAt      time.Time `json:"last_seen_at"`
}

// ProcessDetector wraps a long-lived inference process
type ProcessDetector struct {
	id      string
	command []string
	env     []string
	timeout time.Duration

	// mu serialises round trips; the stream carries one request at a time
	mu     sync.Mutex
	parent context.Context
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdin  io.WriteCloser
	stdout *bufio.Reader
	wg     sync.WaitGroup

	isActive atomic.Bool
	// live is the process whose exit may clear isActive
	live atomic.Pointer[exec.Cmd]

	frameCount     atomic.Uint64
	failures       atomic.Uint64
	restarts       atomic.Uint64
	totalLatencyMS atomic.Uint64
	lastSeenAt     atomic.Value // time.Time
}

// NewProcessDetector validates cfg. The process is spawned by Start or by the first Detect.
func NewProcessDetector(cfg ProcessConfig) (*ProcessDetector, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("detector command is required")
	}
	if cfg.ID == "" {
		cfg.ID = "detector"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	slog.Info("inference detector configured",
		"detector_id", cfg.ID,
		"command", strings.Join(cfg.Command, " "),
		"timeout", cfg.Timeout,
	)

	return &ProcessDetector{
		id:      cfg.ID,
		command: cfg.Command,
		env:     cfg.Env,
		timeout: cfg.Timeout,
		parent:  context.Background(),
	}, nil
}

// ID returns the detector ID
func (d *ProcessDetector) ID() string {
	return d.id
}

// Start spawns the inference process. ctx bounds the process lifetime.
func (d *ProcessDetector) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isActive.Load() {
		return fmt.Errorf("detector already started")
	}
	d.parent = ctx
	return d.spawn()
}

// spawn starts the process; callers hold d.mu
func (d *ProcessDetector) spawn() error {
	procCtx, cancel := context.WithCancel(d.parent)

	cmd := exec.CommandContext(procCtx, d.command[0], d.command[1:]...)
	cmd.Env = append(os.Environ(), d.env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start inference process: %w", err)
	}

	d.cmd = cmd
	d.live.Store(cmd)
	d.cancel = cancel
	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.isActive.Store(true)
	d.lastSeenAt.Store(time.Now())

	slog.Info("inference process spawned",
		"detector_id", d.id,
		"pid", cmd.Process.Pid,
	)

	d.wg.Add(1)
	go d.logStderr(stderr)

	d.wg.Add(1)
	go d.waitProcess(cmd, procCtx)

	return nil
}

// Detect runs one frame through the inference process and returns the
// detections scoring at least threshold, in model order.
func (d *ProcessDetector) Detect(ctx context.Context, frame types.Frame, threshold float64) ([]types.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isActive.Load() {
		if d.cmd != nil {
			d.restarts.Add(1)
		}
		if err := d.spawn(); err != nil {
			d.failures.Add(1)
			return nil, err
		}
	}

	d.frameCount.Add(1)
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type result struct {
		resp response
		err  error
	}
	done := make(chan result, 1)
	stdin, stdout := d.stdin, d.stdout

	go func() {
		if err := writeMessage(stdin, newRequest(frame, threshold)); err != nil {
			done <- result{err: err}
			return
		}
		var resp response
		err := readMessage(stdout, &resp)
		done <- result{resp: resp, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			d.failures.Add(1)
			slog.Error("inference round trip failed",
				"detector_id", d.id,
				"frame_seq", frame.Seq,
				"trace_id", frame.TraceID,
				"error", res.err,
				"action", "restarting inference process on next frame")
			d.stopProcess()
			return nil, fmt.Errorf("inference round trip: %w", res.err)
		}
		if res.resp.Error != "" {
			d.failures.Add(1)
			return nil, fmt.Errorf("inference failed: %s", res.resp.Error)
		}

		d.totalLatencyMS.Add(uint64(time.Since(start).Milliseconds()))
		d.lastSeenAt.Store(time.Now())
		return types.FilterByScore(res.resp.detections(), threshold), nil

	case <-ctx.Done():
		d.failures.Add(1)
		slog.Error("inference timeout, killing process",
			"detector_id", d.id,
			"frame_seq", frame.Seq,
			"trace_id", frame.TraceID,
			"timeout", d.timeout)
		// killing the process unblocks the round-trip goroutine
		d.stopProcess()
		return nil, fmt.Errorf("inference timeout after %v: %w", d.timeout, ctx.Err())
	}
}

// logStderr forwards process stderr to slog
func (d *ProcessDetector) logStderr(stderr io.Reader) {
	defer d.wg.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
			slog.Error("inference process error", "detector_id", d.id, "log", line)
		case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
			slog.Warn("inference process warning", "detector_id", d.id, "log", line)
		default:
			slog.Debug("inference process log", "detector_id", d.id, "log", line)
		}
	}
}

// waitProcess reaps the process and marks the detector inactive when it exits.
// A process already replaced by a respawn leaves isActive alone.
func (d *ProcessDetector) waitProcess(cmd *exec.Cmd, procCtx context.Context) {
	defer d.wg.Done()

	err := cmd.Wait()
	if d.live.CompareAndSwap(cmd, nil) {
		d.isActive.Store(false)
	}

	switch {
	case err == nil:
		slog.Info("inference process exited cleanly", "detector_id", d.id, "pid", cmd.Process.Pid)
	case procCtx.Err() != nil:
		slog.Debug("inference process exited (shutdown)", "detector_id", d.id, "pid", cmd.Process.Pid)
	default:
		slog.Error("inference process exited unexpectedly",
			"detector_id", d.id,
			"pid", cmd.Process.Pid,
			"error", err)
	}
}

// stopProcess terminates the current process; callers hold d.mu
func (d *ProcessDetector) stopProcess() {
	if d.cmd == nil {
		return
	}
	d.isActive.Store(false)

	if d.stdin != nil {
		d.stdin.Close()
	}
	if d.cancel != nil {
		d.cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		slog.Warn("inference process stop timeout, force killing", "detector_id", d.id)
		if d.cmd.Process != nil {
			if err := d.cmd.Process.Kill(); err != nil {
				slog.Error("failed to kill inference process", "detector_id", d.id, "error", err)
			}
		}
	}
}

// Stop terminates the inference process
func (d *ProcessDetector) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cmd == nil {
		return nil
	}

	slog.Info("stopping inference detector", "detector_id", d.id)
	d.stopProcess()

	slog.Info("inference detector stopped",
		"detector_id", d.id,
		"frames_processed", d.frameCount.Load(),
		"failures", d.failures.Load(),
	)
	return nil
}

// Metrics returns current detector health metrics
func (d *ProcessDetector) Metrics() Metrics {
	processed := d.frameCount.Load()
	failures := d.failures.Load()

	var avgLatencyMS float64
	if processed > failures {
		avgLatencyMS = float64(d.totalLatencyMS.Load()) / float64(processed-failures)
	}

	var lastSeen time.Time
	if v := d.lastSeenAt.Load(); v != nil {
		lastSeen = v.(time.Time)
	}

	return Metrics{
		FramesProcessed: processed,
		Failures:        failures,
		Restarts:        d.restarts.Load(),
		AvgLatencyMS:    avgLatencyMS,
		LastSeenAt:      lastSeen,
	}
}
