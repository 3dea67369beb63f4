// Package camera provides the frame capture sources.
package camera

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/care/detectd/internal/types"
)

// Stats contains capture statistics
type Stats struct {
	Source     string
	Resolution string
	Captured   uint64
	Errors     uint64
}

// CommandCamera runs a still-capture tool once per frame and reads the
// encoded image from its stdout, e.g.
//
//	libcamera-still -n -t 1 --width 500 --height 500 --rotation 180 -e jpg -o -
type CommandCamera struct {
	argv    []string
	width   int
	height  int
	timeout time.Duration

	mu       sync.Mutex
	seq      uint64
	captured uint64
	errors   uint64
}

// NewCommandCamera creates a capture source backed by argv
func NewCommandCamera(argv []string, width, height int, timeout time.Duration) (*CommandCamera, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("capture command is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	slog.Info("using command camera", "command", strings.Join(argv, " "), "width", width, "height", height)

	return &CommandCamera{
		argv:    argv,
		width:   width,
		height:  height,
		timeout: timeout,
	}, nil
}

// CaptureFrame blocks until the capture tool exits
func (c *CommandCamera) CaptureFrame(ctx context.Context) (types.Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// children of the tool may keep stdout open after it is killed
	cmd.WaitDelay = time.Second

	capturedAt := time.Now()
	if err := cmd.Run(); err != nil {
		c.countError()
		return types.Frame{}, fmt.Errorf("capture command failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		c.countError()
		return types.Frame{}, fmt.Errorf("capture command produced no image")
	}

	c.mu.Lock()
	seq := c.seq
	c.seq++
	c.captured++
	c.mu.Unlock()

	return types.Frame{
		Seq:       seq,
		Timestamp: capturedAt,
		Width:     c.width,
		Height:    c.height,
		Format:    "JPEG",
		Data:      stdout.Bytes(),
		TraceID:   uuid.New().String(),
	}, nil
}

func (c *CommandCamera) countError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// Stats returns capture statistics
func (c *CommandCamera) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Source:     "command",
		Resolution: fmt.Sprintf("%dx%d", c.width, c.height),
		Captured:   c.captured,
		Errors:     c.errors,
	}
}
