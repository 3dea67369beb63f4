package types

import "time"

// Frame represents a single captured image
type Frame struct {
	// Seq is the monotonic capture sequence number
	Seq uint64
	// Timestamp is when the frame was captured
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Format of Data ("JPEG", "RGB24")
	Format string
	// Data contains the encoded or raw image bytes
	Data []byte
	// TraceID correlates every log line produced for this frame's tick
	TraceID string
}

// FrameMeta contains frame metadata without the raw data
type FrameMeta struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Format    string
	TraceID   string
}

// Meta strips the image payload
func (f Frame) Meta() FrameMeta {
	return FrameMeta{
		Seq:       f.Seq,
		Timestamp: f.Timestamp,
		Width:     f.Width,
		Height:    f.Height,
		Format:    f.Format,
		TraceID:   f.TraceID,
	}
}
