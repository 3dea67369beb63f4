package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/care/detectd/internal/types"
)

// MockCamera generates synthetic frames for testing and for running
// without camera hardware
type MockCamera struct {
	width  int
	height int

	mu       sync.Mutex
	seq      uint64
	captured uint64
}

// NewMockCamera creates a new mock capture source
func NewMockCamera(width, height int) *MockCamera {
	slog.Info("using mock camera", "width", width, "height", height)
	return &MockCamera{width: width, height: height}
}

// CaptureFrame returns a black RGB24 frame
func (m *MockCamera) CaptureFrame(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, fmt.Errorf("capture cancelled: %w", err)
	}

	m.mu.Lock()
	seq := m.seq
	m.seq++
	m.captured++
	m.mu.Unlock()

	return types.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     m.width,
		Height:    m.height,
		Format:    "RGB24",
		Data:      make([]byte, m.width*m.height*3),
		TraceID:   uuid.New().String(),
	}, nil
}

// Stats returns capture statistics
func (m *MockCamera) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Source:     "mock",
		Resolution: fmt.Sprintf("%dx%d", m.width, m.height),
		Captured:   m.captured,
	}
}
