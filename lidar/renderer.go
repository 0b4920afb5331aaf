package lidar

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// RasterRenderer draws a frame straight into an RGBA image, with a caption
// line. Cheaper than FrameRenderer and used for quick previews.
type RasterRenderer struct {
	PixelsPerMetre float64
	Size           int // image is Size x Size pixels, robot in the centre
	PointRadius    int
}

// NewRasterRenderer creates a raster renderer covering ±range metres
func NewRasterRenderer(maxRange float64) *RasterRenderer {
	if maxRange <= 0 {
		maxRange = DefaultMaxRange
	}
	const size = 600
	return &RasterRenderer{
		PixelsPerMetre: float64(size) / (2 * maxRange * 1.05),
		Size:           size,
		PointRadius:    2,
	}
}

// Render draws f into a new image
func (r *RasterRenderer) Render(f *Frame) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, r.Size, r.Size))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.RGBA{255, 255, 255, 255}}, image.Point{}, draw.Src)

	half := float64(r.Size) / 2
	toPixel := func(x, z float64) (int, int) {
		return int(math.Round(half + x*r.PixelsPerMetre)), int(math.Round(half - z*r.PixelsPerMetre))
	}

	wall := color.RGBA{0, 0, 160, 255}
	for _, ring := range f.Rings {
		for i := 1; i < len(ring.Vertices); i++ {
			x0, y0 := toPixel(ring.Vertices[i-1][0], ring.Vertices[i-1][1])
			x1, y1 := toPixel(ring.Vertices[i][0], ring.Vertices[i][1])
			drawLine(img, x0, y0, x1, y1, wall)
		}
	}

	for _, p := range f.GroundPoints() {
		x, y := toPixel(p.X, p.Z)
		drawCircle(img, x, y, r.PointRadius, rgbToColor(RGB{R: p.R, G: p.G, B: p.B}, 255))
	}

	cx, cy := toPixel(0, 0)
	drawCircle(img, cx, cy, 4, color.RGBA{0, 0, 0, 255})

	caption := fmt.Sprintf("#%d  points %d  walls %d", f.Sequence, len(f.GroundPoints()), len(f.Rings))
	drawText(img, 8, 16, caption, color.RGBA{0, 0, 0, 255})
	return img
}

// RenderToPNG writes the rendered frame as PNG
func (r *RasterRenderer) RenderToPNG(w io.Writer, f *Frame) error {
	if f == nil {
		return fmt.Errorf("no frame to render")
	}
	return png.Encode(w, r.Render(f))
}

// drawCircle draws a filled circle
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				x, y := cx+dx, cy+dy
				if (image.Point{x, y}).In(img.Bounds()) {
					img.SetRGBA(x, y, c)
				}
			}
		}
	}
}

// drawLine draws a one pixel line (Bresenham)
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for {
		if (image.Point{x0, y0}).In(img.Bounds()) {
			img.SetRGBA(x0, y0, c)
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
