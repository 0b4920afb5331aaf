package lidar

import (
	"fmt"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// FrameRenderer draws a top-down view of a frame: range rings around the
// robot, colored points and wall polygons. Forward (+z) points up.
type FrameRenderer struct {
	Scale       float64           // canvas units (mm) per metre
	Padding     float64           // metres of margin around the content
	Resolution  canvas.Resolution // PNG output resolution
	RingSpacing float64           // range ring spacing in metres; 0 disables
	PointRadius float64           // metres
	WallStroke  float64           // metres
}

// NewFrameRenderer creates a renderer with default settings
func NewFrameRenderer() *FrameRenderer {
	return &FrameRenderer{
		Scale:       100.0,
		Padding:     0.5,
		Resolution:  canvas.DPI(96),
		RingSpacing: 1.0,
		PointRadius: 0.03,
		WallStroke:  0.04,
	}
}

// rgbToColor converts a [0,1] channel color to 8-bit RGBA with the given alpha
func rgbToColor(c RGB, alpha uint8) color.RGBA {
	clamp := func(v float64) float64 { return math.Max(0, math.Min(1, v)) }
	a := float64(alpha) / 255
	// canvas expects premultiplied alpha
	return color.RGBA{
		R: uint8(math.Round(clamp(c.R) * 255 * a)),
		G: uint8(math.Round(clamp(c.G) * 255 * a)),
		B: uint8(math.Round(clamp(c.B) * 255 * a)),
		A: alpha,
	}
}

// viewBound returns the region to draw: the frame content plus the robot at
// the origin, or a MaxRange square when the frame is empty
func viewBound(f *Frame) orb.Bound {
	b, ok := FrameBound(f)
	if !ok {
		r := f.MaxRange
		if r <= 0 {
			r = DefaultMaxRange
		}
		return orb.Bound{Min: orb.Point{-r, -r}, Max: orb.Point{r, r}}
	}
	return b.Extend(orb.Point{0, 0})
}

// RenderToSVG writes the frame as an SVG to the provided writer
func (r *FrameRenderer) RenderToSVG(w io.Writer, f *Frame) error {
	if f == nil {
		return fmt.Errorf("no frame to render")
	}
	bound := viewBound(f)
	width, height := r.canvasSize(bound)

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, f, bound, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the frame as a PNG to the provided writer
func (r *FrameRenderer) RenderToPNG(w io.Writer, f *Frame) error {
	if f == nil {
		return fmt.Errorf("no frame to render")
	}
	bound := viewBound(f)
	width, height := r.canvasSize(bound)

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, f, bound, width, height)
	return png.Encode(w, rast)
}

func (r *FrameRenderer) canvasSize(b orb.Bound) (float64, float64) {
	width := (b.Max[0]-b.Min[0])*r.Scale + 2*r.Padding*r.Scale
	height := (b.Max[1]-b.Min[1])*r.Scale + 2*r.Padding*r.Scale
	return width, height
}

// renderToCanvas draws the frame (shared logic for SVG and PNG)
func (r *FrameRenderer) renderToCanvas(renderer canvasRenderer, f *Frame, b orb.Bound, width, height float64) {
	toCanvas := func(x, z float64) (float64, float64) {
		return (x-b.Min[0]+r.Padding)*r.Scale, (z-b.Min[1]+r.Padding)*r.Scale
	}

	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	ox, oz := toCanvas(0, 0)

	// Range rings
	if r.RingSpacing > 0 && f.MaxRange > 0 {
		ringStyle := canvas.DefaultStyle
		ringStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		ringStyle.Stroke = canvas.Paint{Color: canvas.Gray}
		ringStyle.StrokeWidth = 0.01 * r.Scale
		ringStyle.Dashes = []float64{0.1 * r.Scale, 0.1 * r.Scale}

		for d := r.RingSpacing; d <= f.MaxRange+1e-9; d += r.RingSpacing {
			renderer.RenderPath(canvas.Circle(d*r.Scale).Translate(ox, oz), ringStyle, canvas.Identity)
		}
	}

	// Walls: translucent fill, solid outline
	for _, ring := range f.Rings {
		if len(ring.Vertices) < 2 {
			continue
		}
		cp := &canvas.Path{}
		for i, v := range ring.Vertices {
			cx, cy := toCanvas(v[0], v[1])
			if i == 0 {
				cp.MoveTo(cx, cy)
			} else {
				cp.LineTo(cx, cy)
			}
		}
		cp.Close()

		wallStyle := canvas.DefaultStyle
		wallStyle.Fill = canvas.Paint{Color: color.RGBA{0, 0, 96, 96}}
		wallStyle.Stroke = canvas.Paint{Color: color.RGBA{0, 0, 160, 255}}
		wallStyle.StrokeWidth = r.WallStroke * r.Scale
		renderer.RenderPath(cp, wallStyle, canvas.Identity)
	}

	// Points, ground layer only
	for _, p := range f.GroundPoints() {
		pointStyle := canvas.DefaultStyle
		pointStyle.Fill = canvas.Paint{Color: rgbToColor(RGB{R: p.R, G: p.G, B: p.B}, 255)}
		pointStyle.Stroke = canvas.Paint{Color: canvas.Transparent}

		cx, cy := toCanvas(p.X, p.Z)
		renderer.RenderPath(canvas.Circle(r.PointRadius*r.Scale).Translate(cx, cy), pointStyle, canvas.Identity)
	}

	// Robot at the origin, pointing forward
	robotStyle := canvas.DefaultStyle
	robotStyle.Fill = canvas.Paint{Color: canvas.Black}
	robotStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	size := 0.15 * r.Scale
	robot := &canvas.Path{}
	robot.MoveTo(ox, oz+size)
	robot.LineTo(ox-size*0.6, oz-size*0.6)
	robot.LineTo(ox+size*0.6, oz-size*0.6)
	robot.Close()
	renderer.RenderPath(robot, robotStyle, canvas.Identity)
}
