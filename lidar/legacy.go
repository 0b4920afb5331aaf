package lidar

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrScanLength is returned when a full scan does not have the configured
// number of samples
var ErrScanLength = errors.New("invalid lidar scan length")

// ConvertLegacyScan turns a full polar sweep into buffer points. Index i sits
// at bearing i*2π/N from forward, sweeping clockwise when viewed from above.
// NaN, non-positive and beyond-range samples are skipped individually.
func ConvertLegacyScan(ranges []float64, cfg PipelineConfig, now time.Time) ([]Point, error) {
	if len(ranges) != cfg.LegacyScanLength {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrScanLength, len(ranges), cfg.LegacyScanLength)
	}

	step := 2 * math.Pi / float64(len(ranges))
	ts := now.UnixMilli()
	points := make([]Point, 0, len(ranges))

	for i, r := range ranges {
		if math.IsNaN(r) || r <= 0 || r > cfg.MaxRange {
			continue
		}
		angle := float64(i) * step
		points = append(points, Point{
			X:         r * math.Sin(angle),
			Z:         r * math.Cos(angle),
			Timestamp: ts,
		})
	}

	return points, nil
}
