package core

import (
	"context"

	"github.com/care/detectd/internal/types"
)

// Capturer produces one frame per call
type Capturer interface {
	// CaptureFrame blocks until a frame is available
	CaptureFrame(ctx context.Context) (types.Frame, error)
}

// Detector runs object detection on a frame
type Detector interface {
	// Detect returns the detections for frame. Implementations may already
	// filter by threshold; the controller filters again.
	Detect(ctx context.Context, frame types.Frame, threshold float64) ([]types.Detection, error)
}

// LabelResolver maps class ids to human-readable labels
type LabelResolver interface {
	Resolve(id int) string
}

// Prober reports wide-area reachability
type Prober interface {
	IsReachable(ctx context.Context) bool
}

// Session publishes messages to a message broker
type Session interface {
	// Connect starts (or reuses) the broker session without waiting for the ack
	Connect(ctx context.Context) error
	// Publish hands one message to the transport
	Publish(topic string, payload []byte, qos byte, retain bool) error
	// IsConnected reports whether the connection is open
	IsConnected() bool
}
