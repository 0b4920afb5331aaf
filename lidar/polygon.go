package lidar

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Polygonize closes each segment into a boundary ring: the segment's points
// in order followed by the first point again. Segments with fewer than
// MinSegmentPoints points yield no ring.
func Polygonize(segments []Segment, wallHeight float64) []BoundaryRing {
	rings := make([]BoundaryRing, 0, len(segments))
	for _, seg := range segments {
		if len(seg) < MinSegmentPoints {
			continue
		}
		ring := make(orb.Ring, 0, len(seg)+1)
		for _, p := range seg {
			ring = append(ring, orb.Point{p.X, p.Z})
		}
		ring = append(ring, ring[0])
		rings = append(rings, BoundaryRing{Vertices: ring, Height: wallHeight})
	}
	return rings
}

// Area returns the unsigned planar area enclosed by the ring
func (r BoundaryRing) Area() float64 {
	return math.Abs(planar.Area(r.Vertices))
}

// Bound returns the ring's bounding box in (x, z)
func (r BoundaryRing) Bound() orb.Bound {
	return r.Vertices.Bound()
}

// RingsToGeoJSON exports boundary rings as Polygon features in the robot's
// local (x, z) frame, in metres
func RingsToGeoJSON(rings []BoundaryRing) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i, r := range rings {
		f := geojson.NewFeature(orb.Polygon{r.Vertices})
		f.ID = i
		f.Properties["height"] = r.Height
		f.Properties["area"] = r.Area()
		f.Properties["vertexCount"] = len(r.Vertices)
		fc.Append(f)
	}
	return fc
}

// FrameBound returns the bounding box covering every point and ring in the
// frame, or false when the frame is empty
func FrameBound(f *Frame) (orb.Bound, bool) {
	var mp orb.MultiPoint
	for _, p := range f.Points {
		mp = append(mp, orb.Point{p.X, p.Z})
	}
	for _, r := range f.Rings {
		mp = append(mp, r.Vertices...)
	}
	if len(mp) == 0 {
		return orb.Bound{}, false
	}
	return mp.Bound(), true
}

// FeatureCollection exports the frame as GeoJSON: the ground-layer points as
// Point features carrying their color, followed by the wall polygons
func (f *Frame) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range f.GroundPoints() {
		pf := geojson.NewFeature(orb.Point{p.X, p.Z})
		pf.Properties["kind"] = "point"
		pf.Properties["color"] = []float64{p.R, p.G, p.B}
		fc.Append(pf)
	}
	for _, wall := range RingsToGeoJSON(f.Rings).Features {
		wall.Properties["kind"] = "wall"
		fc.Append(wall)
	}
	return fc
}
