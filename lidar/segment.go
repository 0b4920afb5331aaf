package lidar

import (
	"math"
	"sort"
)

// MinSegmentPoints is the smallest run that is reported as a wall
const MinSegmentPoints = 3

// BuildSegments groups classified points into wall runs. Points are sorted
// by bearing (stable, so equal bearings keep buffer order) and a point joins
// the current run when it lies strictly closer than threshold to its
// predecessor in that order. Runs shorter than MinSegmentPoints are dropped.
//
// The sweep does not wrap: the first and last bearings are never joined even
// if they are spatially close.
func BuildSegments(points []ClassifiedPoint, threshold float64) []Segment {
	if len(points) == 0 {
		return nil
	}

	sorted := make([]ClassifiedPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Angle < sorted[j].Angle
	})

	var segments []Segment
	current := Segment{sorted[0]}

	for i := 1; i < len(sorted); i++ {
		prev, p := sorted[i-1], sorted[i]
		if math.Hypot(p.X-prev.X, p.Z-prev.Z) < threshold {
			current = append(current, p)
			continue
		}
		if len(current) >= MinSegmentPoints {
			segments = append(segments, current)
		}
		current = Segment{p}
	}
	if len(current) >= MinSegmentPoints {
		segments = append(segments, current)
	}

	return segments
}
