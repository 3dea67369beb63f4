package detector

import (
	"context"

	"github.com/care/detectd/internal/types"
)

// NullDetector never detects anything. It stands in when no inference
// command is configured, so the pipeline runs but every tick is empty.
type NullDetector struct{}

func (NullDetector) Detect(ctx context.Context, frame types.Frame, threshold float64) ([]types.Detection, error) {
	return nil, ctx.Err()
}
