package lidar

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderScanChart(t *testing.T) {
	f := renderTestFrame()

	var buf bytes.Buffer
	require.NoError(t, RenderScanChart(&buf, f))

	html := buf.String()
	assert.Contains(t, html, "echarts")
	assert.Contains(t, html, "Lidar Walls")
	assert.Contains(t, html, `"name":"points"`)
	assert.Contains(t, html, `"name":"walls"`)
}

func TestScanChart_EmptyFrame(t *testing.T) {
	f := NewPipeline(DefaultPipelineConfig()).Frame()

	var buf bytes.Buffer
	require.NoError(t, RenderScanChart(&buf, f))
	assert.Contains(t, buf.String(), "frame=0 buffer=0 walls=0")
}
