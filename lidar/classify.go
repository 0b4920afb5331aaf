package lidar

import "math"

// Classify annotates each point with its range, bearing and color, dropping
// anything beyond maxRange. Input order is preserved.
func Classify(points []Point, maxRange float64) []ClassifiedPoint {
	out := make([]ClassifiedPoint, 0, len(points))
	for _, p := range points {
		d := math.Hypot(p.X, p.Z)
		if d > maxRange {
			continue
		}
		out = append(out, ClassifiedPoint{
			X:        p.X,
			Z:        p.Z,
			Distance: d,
			Angle:    math.Atan2(p.X, p.Z),
			Color:    DistanceColor(d, maxRange),
		})
	}
	return out
}

// DistanceColor maps range to a red -> green -> cyan ramp.
//
//	nd < 0.3        r=1, g=3nd, b=0
//	0.3 <= nd < 0.6 r=(0.6-nd)/0.3, g=1, b=0
//	nd >= 0.6       r=0, g=1, b=(nd-0.6)*2.5
func DistanceColor(d, maxRange float64) RGB {
	nd := 1.0
	if maxRange > 0 {
		nd = math.Min(d/maxRange, 1)
	}
	switch {
	case nd < 0.3:
		return RGB{R: 1, G: 3 * nd, B: 0}
	case nd < 0.6:
		return RGB{R: (0.6 - nd) / 0.3, G: 1, B: 0}
	default:
		return RGB{R: 0, G: 1, B: (nd - 0.6) * 2.5}
	}
}

// ToColored converts classified points to the renderer-facing form at
// display height y
func ToColored(points []ClassifiedPoint, y float64) []ColoredPoint {
	out := make([]ColoredPoint, len(points))
	for i, p := range points {
		out[i] = ColoredPoint{X: p.X, Y: y, Z: p.Z, R: p.Color.R, G: p.Color.G, B: p.Color.B}
	}
	return out
}
