package lidar

import (
	"bytes"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRasterRenderer_Render(t *testing.T) {
	r := NewRasterRenderer(10)
	f := &Frame{
		Sequence:       3,
		VerticalLayers: 1,
		Points:         []ColoredPoint{{X: 0, Z: 5, R: 1}},
	}
	img := r.Render(f)
	require.Equal(t, 600, img.Bounds().Dx())

	// the point 5m ahead lands above the centre in red
	x := 300
	y := int(300 - 5*r.PixelsPerMetre + 0.5)
	assert.Equal(t, color.RGBA{255, 0, 0, 255}, img.RGBAAt(x, y))

	// robot marker at the centre
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, img.RGBAAt(300, 300))

	// corner is background
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, img.RGBAAt(599, 599))
}

func TestRasterRenderer_RenderToPNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewRasterRenderer(0).RenderToPNG(&buf, renderTestFrame()))
	_, err := png.Decode(&buf)
	assert.NoError(t, err)

	assert.Error(t, NewRasterRenderer(0).RenderToPNG(&buf, nil))
}

func TestDrawLine_Endpoints(t *testing.T) {
	img := NewRasterRenderer(10).Render(&Frame{})
	c := color.RGBA{1, 2, 3, 255}
	drawLine(img, 10, 500, 40, 520, c)
	assert.Equal(t, c, img.RGBAAt(10, 500))
	assert.Equal(t, c, img.RGBAAt(40, 520))
	drawLine(img, -5, -5, 2, 2, c) // clipped, must not panic
}
