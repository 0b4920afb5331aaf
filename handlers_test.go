package main

import (
	"bytes"
	"encoding/json"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kwv/lidarwall/lidar"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// wallPipeline returns a pipeline holding two separate three-point walls
func wallPipeline() *lidar.Pipeline {
	p := lidar.NewPipeline(lidar.DefaultPipelineConfig())
	for _, deg := range []float64{0, 10, 20, 200, 210, 220} {
		rad := deg * math.Pi / 180
		p.IngestObservation(lidar.Observation{
			Kind: lidar.Incremental,
			X:    2 * math.Sin(rad),
			Y:    2 * math.Cos(rad),
		})
	}
	return p
}

func newTestServer(publisher *lidar.Publisher) (*lidar.Pipeline, http.Handler) {
	p := wallPipeline()
	return p, newHTTPServer(p, lidar.NewTelemetryState(), publisher)
}

func doRequest(h http.Handler, method, target string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// ---------------------------------------------------------------------------
// read endpoints
// ---------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	_, h := newTestServer(nil)
	rr := doRequest(h, http.MethodGet, "/health", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Status     string `json:"status"`
		Sequence   uint64 `json:"sequence"`
		BufferSize int    `json:"bufferSize"`
		Walls      int    `json:"walls"`
		Connection string `json:"connection"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode health: %v", err)
	}
	if body.Status != "ok" || body.BufferSize != 6 || body.Walls != 2 || body.Sequence != 6 {
		t.Errorf("unexpected health body: %+v", body)
	}
	if body.Connection != lidar.StatusOffline {
		t.Errorf("expected connection %s, got %s", lidar.StatusOffline, body.Connection)
	}
}

func TestFrameJSON(t *testing.T) {
	p, h := newTestServer(nil)
	rr := doRequest(h, http.MethodGet, "/frame.json", "")

	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}
	var frame lidar.Frame
	if err := json.NewDecoder(rr.Body).Decode(&frame); err != nil {
		t.Fatalf("failed to decode frame: %v", err)
	}
	if frame.Sequence != p.Frame().Sequence {
		t.Errorf("expected sequence %d, got %d", p.Frame().Sequence, frame.Sequence)
	}
	if len(frame.Points) != 6*lidar.DefaultVerticalLayers {
		t.Errorf("expected %d layered points, got %d", 6*lidar.DefaultVerticalLayers, len(frame.Points))
	}
}

func TestWallsGeoJSON(t *testing.T) {
	_, h := newTestServer(nil)
	rr := doRequest(h, http.MethodGet, "/walls.geojson", "")

	if ct := rr.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Errorf("expected application/geo+json, got %s", ct)
	}
	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type string `json:"type"`
			} `json:"geometry"`
		} `json:"features"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&fc); err != nil {
		t.Fatalf("failed to decode geojson: %v", err)
	}
	if fc.Type != "FeatureCollection" || len(fc.Features) != 2 {
		t.Fatalf("expected 2 wall features, got %+v", fc)
	}
	for _, f := range fc.Features {
		if f.Geometry.Type != "Polygon" {
			t.Errorf("expected Polygon geometry, got %s", f.Geometry.Type)
		}
	}
}

func TestRenderEndpoints(t *testing.T) {
	tests := []struct {
		path        string
		contentType string
		check       func(t *testing.T, body []byte)
	}{
		{
			path:        "/frame.svg",
			contentType: "image/svg+xml",
			check: func(t *testing.T, body []byte) {
				if !bytes.Contains(body, []byte("<svg")) {
					t.Error("expected <svg in body")
				}
			},
		},
		{
			path:        "/frame.png",
			contentType: "image/png",
			check: func(t *testing.T, body []byte) {
				if _, err := png.Decode(bytes.NewReader(body)); err != nil {
					t.Errorf("invalid PNG: %v", err)
				}
			},
		},
		{
			path:        "/frame-raster.png",
			contentType: "image/png",
			check: func(t *testing.T, body []byte) {
				img, err := png.Decode(bytes.NewReader(body))
				if err != nil {
					t.Fatalf("invalid PNG: %v", err)
				}
				if img.Bounds().Dx() != 600 {
					t.Errorf("expected 600px raster, got %d", img.Bounds().Dx())
				}
			},
		},
		{
			path:        "/scan.html",
			contentType: "text/html; charset=utf-8",
			check: func(t *testing.T, body []byte) {
				if !bytes.Contains(body, []byte("echarts")) {
					t.Error("expected echarts page")
				}
			},
		},
		{
			path:        "/",
			contentType: "text/html; charset=utf-8",
			check: func(t *testing.T, body []byte) {
				if !bytes.Contains(body, []byte("/walls.geojson")) {
					t.Error("expected index to link endpoints")
				}
			},
		},
	}

	_, h := newTestServer(nil)
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rr := doRequest(h, http.MethodGet, tt.path, "")
			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
			}
			if ct := rr.Header().Get("Content-Type"); ct != tt.contentType {
				t.Errorf("expected %s, got %s", tt.contentType, ct)
			}
			tt.check(t, rr.Body.Bytes())
		})
	}
}

func TestUnknownPathIs404(t *testing.T) {
	_, h := newTestServer(nil)
	if rr := doRequest(h, http.MethodGet, "/nope", ""); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestTelemetryJSON(t *testing.T) {
	_, h := newTestServer(nil)
	rr := doRequest(h, http.MethodGet, "/telemetry.json", "")

	var tel lidar.Telemetry
	if err := json.NewDecoder(rr.Body).Decode(&tel); err != nil {
		t.Fatalf("failed to decode telemetry: %v", err)
	}
	if tel.Map.Width != 20 || tel.Map.Height != 20 {
		t.Errorf("expected default 20x20 map, got %dx%d", tel.Map.Width, tel.Map.Height)
	}
}

func TestStatsJSON(t *testing.T) {
	_, h := newTestServer(nil)
	rr := doRequest(h, http.MethodGet, "/stats.json", "")

	var body struct {
		Pipeline lidar.PipelineStats `json:"pipeline"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if body.Pipeline.Incremental != 6 || body.Pipeline.BufferSize != 6 {
		t.Errorf("unexpected stats: %+v", body.Pipeline)
	}
}

// ---------------------------------------------------------------------------
// control endpoints
// ---------------------------------------------------------------------------

func TestLayers(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantCode int
		want     int
	}{
		{"within range", "n=3", http.StatusOK, 3},
		{"clamped high", "n=50", http.StatusOK, lidar.MaxVerticalLayers},
		{"clamped low", "n=0", http.StatusOK, lidar.MinVerticalLayers},
		{"not a number", "n=abc", http.StatusBadRequest, 0},
		{"missing", "", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, h := newTestServer(nil)
			rr := doRequest(h, http.MethodPost, "/layers?"+tt.query, "")
			if rr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rr.Code)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if got := p.Frame().VerticalLayers; got != tt.want {
				t.Errorf("expected %d layers, got %d", tt.want, got)
			}
		})
	}
}

func TestLayersRequiresPost(t *testing.T) {
	_, h := newTestServer(nil)
	if rr := doRequest(h, http.MethodGet, "/layers?n=2", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestClear(t *testing.T) {
	p, h := newTestServer(nil)
	rr := doRequest(h, http.MethodPost, "/clear", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	f := p.Frame()
	if f.BufferSize != 0 || len(f.Points) != 0 || len(f.Rings) != 0 {
		t.Errorf("expected empty frame after clear, got buffer=%d points=%d rings=%d",
			f.BufferSize, len(f.Points), len(f.Rings))
	}
}

func TestCommand(t *testing.T) {
	mock := lidar.NewMockClient()
	mock.SetConnected(true)
	publisher := lidar.NewPublisher(mock, lidar.MQTTConfig{})
	_, h := newTestServer(publisher)

	rr := doRequest(h, http.MethodPost, "/command/move", `{"direction":"left"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	msgs := mock.GetPublishedMessages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 published command, got %d", len(msgs))
	}
	if msgs[0].Topic != "robot/command/move" {
		t.Errorf("expected robot/command/move, got %s", msgs[0].Topic)
	}
	var body map[string]any
	if err := json.Unmarshal(msgs[0].Payload, &body); err != nil {
		t.Fatalf("invalid command payload: %v", err)
	}
	if body["direction"] != "left" || body["command"] != "move" {
		t.Errorf("unexpected command payload: %v", body)
	}
}

func TestCommand_Errors(t *testing.T) {
	connected := lidar.NewMockClient()
	connected.SetConnected(true)

	tests := []struct {
		name      string
		publisher *lidar.Publisher
		target    string
		body      string
		wantCode  int
	}{
		{"mqtt disabled", nil, "/command/stop", "", http.StatusServiceUnavailable},
		{"not connected", lidar.NewPublisher(lidar.NewMockClient(), lidar.MQTTConfig{}), "/command/stop", "", http.StatusServiceUnavailable},
		{"wildcard name", lidar.NewPublisher(connected, lidar.MQTTConfig{}), "/command/%2B", "", http.StatusBadRequest},
		{"bad body", lidar.NewPublisher(connected, lidar.MQTTConfig{}), "/command/stop", "[1,2]", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, h := newTestServer(tt.publisher)
			rr := doRequest(h, http.MethodPost, tt.target, tt.body)
			if rr.Code != tt.wantCode {
				t.Errorf("expected %d, got %d: %s", tt.wantCode, rr.Code, rr.Body.String())
			}
		})
	}
}

// ---------------------------------------------------------------------------
// websocket
// ---------------------------------------------------------------------------

func TestFrameStream(t *testing.T) {
	p, h := newTestServer(nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	readFrame := func() lidar.Frame {
		t.Helper()
		if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
			t.Fatal(err)
		}
		var f lidar.Frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read failed: %v", err)
		}
		return f
	}

	// the current frame is delivered on subscribe
	first := readFrame()
	if first.Sequence != p.Frame().Sequence {
		t.Errorf("expected current frame %d, got %d", p.Frame().Sequence, first.Sequence)
	}

	p.Ingest([]byte(`{"x": 0.5, "y": 0.5}`))
	next := readFrame()
	if next.Sequence != first.Sequence+1 {
		t.Errorf("expected frame %d, got %d", first.Sequence+1, next.Sequence)
	}
	if next.BufferSize != first.BufferSize+1 {
		t.Errorf("expected buffer %d, got %d", first.BufferSize+1, next.BufferSize)
	}
}
