package lidar

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pointAtBearing(deg, r float64) Point {
	rad := deg * math.Pi / 180
	return Point{X: r * math.Sin(rad), Z: r * math.Cos(rad)}
}

func TestBuildSegments_TwoClusters(t *testing.T) {
	var points []Point
	for _, deg := range []float64{0, 10, 20, 200, 210, 220} {
		points = append(points, pointAtBearing(deg, 2))
	}
	segments := BuildSegments(Classify(points, 10), 0.5)
	require.Len(t, segments, 2)
	for _, seg := range segments {
		assert.Len(t, seg, 3)
	}

	rings := Polygonize(segments, 1.5)
	require.Len(t, rings, 2)
	for _, r := range rings {
		assert.Len(t, r.Vertices, 4)
		assert.Equal(t, r.Vertices[0], r.Vertices[len(r.Vertices)-1])
		assert.Equal(t, 1.5, r.Height)
	}
}

func TestBuildSegments_TooFewPoints(t *testing.T) {
	points := []Point{{X: 1, Z: 2}, {X: 1.1, Z: 2.05}}
	assert.Empty(t, BuildSegments(Classify(points, 10), 0.5))
	assert.Empty(t, BuildSegments(nil, 0.5))
}

func TestBuildSegments_ThresholdIsStrict(t *testing.T) {
	// three points on a line exactly 0.5 apart never join
	cps := []ClassifiedPoint{
		{X: 0, Z: 5, Angle: 0},
		{X: 0.5, Z: 5, Angle: 0.1},
		{X: 1.0, Z: 5, Angle: 0.2},
	}
	assert.Empty(t, BuildSegments(cps, 0.5))
	assert.Len(t, BuildSegments(cps, 0.5001), 1)
}

func TestBuildSegments_ComparesSortOrderPredecessor(t *testing.T) {
	// buffer order differs from bearing order; joins follow bearing order
	cps := []ClassifiedPoint{
		{X: 0.2, Z: 5, Angle: 0.2},
		{X: 0, Z: 5, Angle: 0},
		{X: 0.1, Z: 5, Angle: 0.1},
	}
	segments := BuildSegments(cps, 0.15)
	require.Len(t, segments, 1)
	assert.Equal(t, []float64{0, 0.1, 0.2}, []float64{segments[0][0].Angle, segments[0][1].Angle, segments[0][2].Angle})
}

func TestBuildSegments_StableForEqualBearings(t *testing.T) {
	cps := []ClassifiedPoint{
		{X: 1, Z: 1, Angle: 0.5, Distance: 1},
		{X: 1.01, Z: 1.01, Angle: 0.5, Distance: 2},
		{X: 1.02, Z: 1.02, Angle: 0.5, Distance: 3},
	}
	segments := BuildSegments(cps, 0.5)
	require.Len(t, segments, 1)
	for i, p := range segments[0] {
		assert.Equal(t, float64(i+1), p.Distance)
	}
}

func TestBuildSegments_DoesNotMutateInput(t *testing.T) {
	cps := []ClassifiedPoint{{Angle: 3}, {Angle: 1}, {Angle: 2}}
	BuildSegments(cps, 10)
	assert.Equal(t, 3.0, cps[0].Angle)
}

func TestBuildSegments_NoWrapAround(t *testing.T) {
	// 178° and 182° are close in space but sit at opposite ends of the
	// bearing order, so each side is left with a two-point run
	var points []Point
	for _, deg := range []float64{170, 178, 182, 190} {
		points = append(points, pointAtBearing(deg, 2))
	}
	segments := BuildSegments(Classify(points, 10), 0.5)
	assert.Empty(t, segments)
}
