package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kwv/lidarwall/lidar"
)

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// newHTTPServer creates an HTTP server with all endpoints. publisher may be
// nil when MQTT is disabled; command requests then fail with 503.
func newHTTPServer(pipeline *lidar.Pipeline, telemetry *lidar.TelemetryState, publisher *lidar.Publisher) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		frame := pipeline.Frame()
		status := struct {
			Status     string    `json:"status"`
			Timestamp  time.Time `json:"timestamp"`
			Sequence   uint64    `json:"sequence"`
			BufferSize int       `json:"bufferSize"`
			Walls      int       `json:"walls"`
			Connection string    `json:"connection"`
		}{
			Status:     "ok",
			Timestamp:  time.Now(),
			Sequence:   frame.Sequence,
			BufferSize: frame.BufferSize,
			Walls:      len(frame.Rings),
			Connection: telemetry.Snapshot().ConnectionStatus,
		}
		writeJSON(w, status)
	})

	mux.HandleFunc("GET /frame.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, pipeline.Frame())
	})

	mux.HandleFunc("GET /walls.geojson", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(lidar.RingsToGeoJSON(pipeline.Frame().Rings)); err != nil {
			log.Printf("Error encoding walls GeoJSON: %v", err)
		}
	})

	mux.HandleFunc("GET /frame.geojson", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(pipeline.Frame().FeatureCollection()); err != nil {
			log.Printf("Error encoding frame GeoJSON: %v", err)
		}
	})

	mux.HandleFunc("GET /frame.svg", func(w http.ResponseWriter, r *http.Request) {
		serveRendered(w, "image/svg+xml", func(out io.Writer) error {
			return lidar.NewFrameRenderer().RenderToSVG(out, pipeline.Frame())
		})
	})

	mux.HandleFunc("GET /frame.png", func(w http.ResponseWriter, r *http.Request) {
		serveRendered(w, "image/png", func(out io.Writer) error {
			return lidar.NewFrameRenderer().RenderToPNG(out, pipeline.Frame())
		})
	})

	mux.HandleFunc("GET /frame-raster.png", func(w http.ResponseWriter, r *http.Request) {
		frame := pipeline.Frame()
		serveRendered(w, "image/png", func(out io.Writer) error {
			return lidar.NewRasterRenderer(frame.MaxRange).RenderToPNG(out, frame)
		})
	})

	mux.HandleFunc("GET /scan.html", func(w http.ResponseWriter, r *http.Request) {
		serveRendered(w, "text/html; charset=utf-8", func(out io.Writer) error {
			return lidar.RenderScanChart(out, pipeline.Frame())
		})
	})

	mux.HandleFunc("GET /telemetry.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, telemetry.Snapshot())
	})

	mux.HandleFunc("GET /stats.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, struct {
			Pipeline    lidar.PipelineStats       `json:"pipeline"`
			Subscribers []lidar.SubscriptionStats `json:"subscribers"`
		}{
			Pipeline:    pipeline.Stats(),
			Subscribers: pipeline.SubscriberStats(),
		})
	})

	mux.HandleFunc("POST /command/{name}", func(w http.ResponseWriter, r *http.Request) {
		if publisher == nil {
			http.Error(w, "MQTT not enabled", http.StatusServiceUnavailable)
			return
		}

		var data map[string]any
		body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
		if err != nil {
			http.Error(w, "Failed to read body", http.StatusBadRequest)
			return
		}
		if len(bytes.TrimSpace(body)) > 0 {
			if err := json.Unmarshal(body, &data); err != nil {
				http.Error(w, "Command body must be a JSON object", http.StatusBadRequest)
				return
			}
		}

		name := r.PathValue("name")
		err = publisher.SendCommand(name, data)
		switch {
		case errors.Is(err, lidar.ErrInvalidCommand):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, lidar.ErrNotConnected):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		case err != nil:
			log.Printf("[HTTP] Command %s failed: %v", name, err)
			http.Error(w, err.Error(), http.StatusBadGateway)
		default:
			writeJSON(w, map[string]string{"status": "sent", "command": name})
		}
	})

	mux.HandleFunc("POST /layers", func(w http.ResponseWriter, r *http.Request) {
		n, err := strconv.Atoi(r.URL.Query().Get("n"))
		if err != nil {
			http.Error(w, "n must be an integer", http.StatusBadRequest)
			return
		}
		layers := pipeline.SetVerticalLayers(n)
		log.Printf("[HTTP] Vertical layers set to %d", layers)
		writeJSON(w, map[string]int{"verticalLayers": layers})
	})

	mux.HandleFunc("POST /clear", func(w http.ResponseWriter, r *http.Request) {
		frame := pipeline.Clear()
		log.Printf("[HTTP] Display cleared")
		writeJSON(w, map[string]uint64{"sequence": frame.Sequence})
	})

	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		serveFrameStream(pipeline, w, r)
	})

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, indexHTML)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

// serveRendered buffers the render so a failure can still produce a 500
func serveRendered(w http.ResponseWriter, contentType string, render func(io.Writer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		log.Printf("Error rendering %s: %v", contentType, err)
		http.Error(w, "Failed to render frame", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Printf("Error writing %s: %v", contentType, err)
	}
}

// serveFrameStream upgrades to a websocket and pushes every new frame as
// JSON. Each connection gets its own mailbox, so a slow client only ever
// skips frames.
func serveFrameStream(pipeline *lidar.Pipeline, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[HTTP] websocket upgrade failed: %v", err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Printf("[HTTP] warning: failed to close websocket: %v", err)
		}
	}()

	sub := pipeline.Subscribe("ws-" + r.RemoteAddr)
	defer pipeline.Unsubscribe(sub)
	log.Printf("[HTTP] websocket client %s connected", sub.ID())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reads only detect the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		frame, err := sub.Next(ctx)
		if err != nil {
			log.Printf("[HTTP] websocket client %s disconnected", sub.ID())
			return
		}
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return
		}
		if err := conn.WriteJSON(frame); err != nil {
			log.Printf("[HTTP] websocket write to %s failed: %v", sub.ID(), err)
			return
		}
	}
}

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>lidarwall</title></head>
<body style="background:#111;color:#ddd;font-family:sans-serif">
<h1>lidarwall</h1>
<ul>
<li><a href="/frame.svg">/frame.svg</a> top-down render</li>
<li><a href="/frame.png">/frame.png</a> rasterized render</li>
<li><a href="/frame-raster.png">/frame-raster.png</a> quick raster</li>
<li><a href="/scan.html">/scan.html</a> interactive scatter</li>
<li><a href="/frame.json">/frame.json</a> latest frame</li>
<li><a href="/walls.geojson">/walls.geojson</a> wall polygons</li>
<li><a href="/frame.geojson">/frame.geojson</a> points and walls</li>
<li><a href="/telemetry.json">/telemetry.json</a> robot telemetry</li>
<li><a href="/stats.json">/stats.json</a> pipeline counters</li>
<li><a href="/health">/health</a></li>
</ul>
<p>POST /command/{name}, POST /layers?n=, POST /clear, websocket /ws</p>
</body>
</html>
`
