package detector

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/care/detectd/internal/types"
)

// maxMessageSize guards against a corrupt length prefix
const maxMessageSize = 64 << 20

// request is one frame sent to the inference process
type request struct {
	FrameData []byte      `msgpack:"frame_data"`
	Width     int         `msgpack:"width"`
	Height    int         `msgpack:"height"`
	Format    string      `msgpack:"format"`
	Threshold float64     `msgpack:"threshold"`
	Meta      requestMeta `msgpack:"meta"`
}

type requestMeta struct {
	Seq       uint64 `msgpack:"seq"`
	TraceID   string `msgpack:"trace_id"`
	Timestamp string `msgpack:"timestamp"`
}

// response is what the inference process answers for one request
type response struct {
	Detections []wireDetection     `msgpack:"detections"`
	Error      string              `msgpack:"error"`
	Timing     map[string]float64 `msgpack:"timing"`
}

// wireDetection mirrors the raw model outputs; class ids arrive as floats
// from most runtimes.
type wireDetection struct {
	ClassID float64   `msgpack:"class_id"`
	Score   float64   `msgpack:"score"`
	BBox    []float64 `msgpack:"bbox"` // ymin, xmin, ymax, xmax
}

func newRequest(frame types.Frame, threshold float64) request {
	return request{
		FrameData: frame.Data,
		Width:     frame.Width,
		Height:    frame.Height,
		Format:    frame.Format,
		Threshold: threshold,
		Meta: requestMeta{
			Seq:       frame.Seq,
			TraceID:   frame.TraceID,
			Timestamp: frame.Timestamp.Format(time.RFC3339Nano),
		},
	}
}

func (r response) detections() []types.Detection {
	out := make([]types.Detection, 0, len(r.Detections))
	for _, d := range r.Detections {
		det := types.Detection{
			ClassID: int(math.Round(d.ClassID)),
			Score:   d.Score,
		}
		if len(d.BBox) == 4 {
			det.BBox = types.BBox{YMin: d.BBox[0], XMin: d.BBox[1], YMax: d.BBox[2], XMax: d.BBox[3]}
		}
		out = append(out, det)
	}
	return out
}

// writeMessage writes a 4-byte big-endian length prefix followed by the msgpack body
func writeMessage(w io.Writer, v interface{}) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack message: %w", err)
	}

	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// readMessage reads one length-prefixed msgpack message into v
func readMessage(r io.Reader, v interface{}) error {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return fmt.Errorf("failed to read length prefix: %w", err)
	}

	n := binary.BigEndian.Uint32(lengthBuf[:])
	if n > maxMessageSize {
		return fmt.Errorf("message length %d exceeds limit %d", n, maxMessageSize)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("failed to read message body (expected %d bytes): %w", n, err)
	}

	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to unmarshal msgpack message: %w", err)
	}
	return nil
}
