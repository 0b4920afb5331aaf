package lidar

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// distanceGradient spans the same red -> green -> cyan ramp as DistanceColor
var distanceGradient = []string{"#ff0000", "#ffe600", "#00ff00", "#00ff80", "#00ffff"}

// ScanChart builds an interactive top-down scatter of the frame's ground
// points, coloured by distance, with wall vertices as a second, larger series.
func ScanChart(f *Frame) *charts.Scatter {
	ground := f.GroundPoints()
	points := make([]opts.ScatterData, 0, len(ground))
	for _, p := range ground {
		d := math.Hypot(p.X, p.Z)
		points = append(points, opts.ScatterData{Value: []interface{}{p.X, p.Z, d}})
	}

	var walls []opts.ScatterData
	for _, ring := range f.Rings {
		for _, v := range ring.Vertices {
			walls = append(walls, opts.ScatterData{Value: []interface{}{v[0], v[1], math.Hypot(v[0], v[1])}})
		}
	}

	pad := f.MaxRange * 1.05
	if pad <= 0 {
		pad = 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Lidar Walls", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Lidar Scan",
			Subtitle: fmt.Sprintf("frame=%d buffer=%d walls=%d", f.Sequence, f.BufferSize, len(f.Rings)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Z (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(f.MaxRange),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: distanceGradient},
		}),
	)

	scatter.AddSeries("points", points, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	scatter.AddSeries("walls", walls, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	return scatter
}

// RenderScanChart writes the chart page for f as HTML
func RenderScanChart(w io.Writer, f *Frame) error {
	var buf bytes.Buffer
	if err := ScanChart(f).Render(&buf); err != nil {
		return fmt.Errorf("rendering scan chart: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}
