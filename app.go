package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/kwv/lidarwall/lidar"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *lidar.Config
	Pipeline   *lidar.Pipeline
	Telemetry  *lidar.TelemetryState
	MQTTClient *lidar.MQTTClient
	Publisher  *lidar.Publisher
	Bridge     *lidar.Bridge
	Recorder   *lidar.Recorder

	// CLI Flags (effectively dependencies)
	ConfigFile    string
	HttpPort      int
	MqttMode      bool
	HttpMode      bool
	RecordFile    string
	ReplayFile    string
	ReplaySession string
	OutputFile    string
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		Telemetry: lidar.NewTelemetryState(),
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
	a.RecordFile = opts.RecordFile
	a.ReplayFile = opts.ReplayFile
	a.ReplaySession = opts.ReplaySession
	a.OutputFile = opts.OutputFile
}

// loadConfig reads the config file. A missing file at the default path is
// not an error: everything can come from the environment.
func (a *App) loadConfig() (*lidar.Config, error) {
	path := a.ConfigFile
	if path == "" {
		path = "config.yaml"
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == "config.yaml" {
		log.Printf("No %s found, using defaults and environment", path)
		return &lidar.Config{
			Pipeline: lidar.DefaultPipelineConfig(),
			MQTT:     lidar.MQTTConfig{Topics: lidar.TopicConfig{}.WithDefaults()},
		}, nil
	}

	config, err := lidar.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log.Printf("Loaded config from %s", path)
	return config, nil
}

// setup loads config and builds the pipeline. Safe to call more than once.
func (a *App) setup() error {
	if a.Config == nil {
		config, err := a.loadConfig()
		if err != nil {
			return err
		}
		a.Config = config
	}
	if a.Pipeline == nil {
		a.Pipeline = lidar.NewPipeline(a.Config.Pipeline)
	}
	if a.Telemetry == nil {
		a.Telemetry = lidar.NewTelemetryState()
	}
	return nil
}

// onLidar is called after every lidar message has been ingested
func (a *App) onLidar(topic string, payload []byte, result lidar.IngestResult) {
	if result.Err != nil {
		log.Printf("[LIDAR] %s: %s", topic, result.Diagnostic)
	}
	if a.Recorder != nil {
		if err := a.Recorder.Record(topic, payload); err != nil {
			log.Printf("[RECORDER] %v", err)
		}
	}
}

// publishFrames republishes every new frame as a wall summary until ctx ends.
// Frames produced while disconnected are dropped; the mailbox keeps only the
// newest one anyway.
func (a *App) publishFrames(ctx context.Context) {
	sub := a.Pipeline.Subscribe("mqtt-publisher")
	defer a.Pipeline.Unsubscribe(sub)

	for {
		frame, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if err := a.Publisher.PublishFrame(frame); err != nil && !errors.Is(err, lidar.ErrNotConnected) {
			log.Printf("Error publishing frame %d: %v", frame.Sequence, err)
		}
	}
}

// RunService runs MQTT ingestion and/or the HTTP server until interrupted
func (a *App) RunService() error {
	fmt.Println("Starting lidarwall service...")

	if err := a.setup(); err != nil {
		return err
	}
	config := a.Config

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Expire stale points even when the sensor goes quiet
	go a.Pipeline.RunPruner(ctx, time.Second)

	recordPath := a.RecordFile
	if recordPath == "" {
		recordPath = config.RecordPath
	}
	if recordPath != "" {
		rec, err := lidar.OpenRecorder(recordPath)
		if err != nil {
			return err
		}
		if _, err := rec.StartSession("service"); err != nil {
			rec.Close()
			return err
		}
		a.Recorder = rec
		defer rec.Close()
	}

	if a.MqttMode {
		mqttClient, err := lidar.InitMQTT(config, a.Pipeline, a.Telemetry, a.onLidar)
		if err != nil {
			return fmt.Errorf("failed to initialize MQTT: %w", err)
		}
		if mqttClient == nil {
			return errors.New("MQTT broker not configured: set mqtt.broker in config.yaml or MQTT_BROKER")
		}
		a.MQTTClient = mqttClient
		defer mqttClient.Disconnect()

		a.Publisher = lidar.NewPublisher(mqttClient.GetClient(), config.MQTT)
		go a.publishFrames(ctx)
		fmt.Println("MQTT wall publisher initialized")
	}

	var server *http.Server
	if a.HttpMode {
		port := a.HttpPort
		if port == 0 {
			port = config.HTTP.Port
		}
		server = &http.Server{
			Addr:    fmt.Sprintf("0.0.0.0:%d", port),
			Handler: newHTTPServer(a.Pipeline, a.Telemetry, a.Publisher),
		}
		go func() {
			log.Printf("[HTTP] Starting server on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[HTTP] Server error: %v", err)
				stop()
			}
		}()
	}

	a.printServiceInfo(os.Stdout)
	fmt.Println("\nPress Ctrl+C to stop")

	<-ctx.Done()

	fmt.Println("\nShutting down service...")
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[HTTP] Shutdown error: %v", err)
		}
	}
	fmt.Println("Service stopped")
	return nil
}

func (a *App) printServiceInfo(w io.Writer) {
	fmt.Fprintln(w, "\nService Running")
	fmt.Fprintln(w, "===============")

	cfg := a.Pipeline.Config()
	fmt.Fprintf(w, "\nPipeline: range=%.1fm window=%dms threshold=%.2fm scan=%d layers=%d\n",
		cfg.MaxRange, cfg.WindowMS, cfg.ProximityThreshold, cfg.LegacyScanLength, cfg.VerticalLayers)

	if a.MqttMode && a.Config != nil {
		topics := a.Config.MQTT.Topics.WithDefaults()
		fmt.Fprintln(w, "\nMQTT:")
		fmt.Fprintf(w, "  Lidar topic: %s\n", topics.Lidar)
		if a.Publisher != nil {
			fmt.Fprintf(w, "  Publishing walls to: %s\n", a.Publisher.WallsTopic())
		}
		fmt.Fprintf(w, "  Commands: %s/{command}\n", topics.Command)
	}
	if a.Recorder != nil {
		fmt.Fprintf(w, "  Recording session: %s\n", a.Recorder.Session())
	}

	if a.HttpMode {
		fmt.Fprintf(w, "\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Fprintln(w, "  GET  /health           - Health check")
		fmt.Fprintln(w, "  GET  /frame.json       - Latest frame")
		fmt.Fprintln(w, "  GET  /walls.geojson    - Wall polygons")
		fmt.Fprintln(w, "  GET  /frame.svg        - Top-down vector render")
		fmt.Fprintln(w, "  GET  /scan.html        - Interactive scatter")
		fmt.Fprintln(w, "  GET  /ws               - Live frame stream")
	}
}

// RunBridge forwards local broker traffic to the public broker until interrupted
func (a *App) RunBridge() error {
	fmt.Println("Starting lidarwall bridge...")

	config, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.Config = config

	bridge, err := lidar.NewBridge(lidar.BridgeFromEnv(config.Bridge))
	if err != nil {
		return err
	}
	a.Bridge = bridge

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bridge.Start(ctx); err != nil {
		return err
	}
	fmt.Println("Bridge running, press Ctrl+C to stop")

	<-ctx.Done()

	bridge.Stop()
	stats := bridge.Stats()
	fmt.Printf("Bridge stopped: received=%d forwarded=%d failed=%d\n", stats.Received, stats.Forwarded, stats.Failed)
	return nil
}

// RunReplay feeds a recorded session through a fresh pipeline and writes the
// final frame to OutputFile, in a format picked by its extension
func (a *App) RunReplay() error {
	if err := a.setup(); err != nil {
		return err
	}

	rec, err := lidar.OpenRecorder(a.ReplayFile)
	if err != nil {
		return err
	}
	defer rec.Close()

	n, err := rec.ReplayInto(context.Background(), a.Pipeline, a.ReplaySession)
	if err != nil {
		return fmt.Errorf("replaying %s: %w", a.ReplayFile, err)
	}

	frame := a.Pipeline.Frame()
	fmt.Printf("Replayed %d messages: %d points in buffer, %d walls\n", n, frame.BufferSize, len(frame.Rings))

	output := a.OutputFile
	if output == "" {
		output = "walls.svg"
	}
	if err := writeFrame(output, frame); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", output)
	return nil
}

// writeFrame renders f to path; the extension selects the format
func writeFrame(path string, f *lidar.Frame) error {
	var render func(io.Writer) error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".svg":
		render = func(w io.Writer) error { return lidar.NewFrameRenderer().RenderToSVG(w, f) }
	case ".png":
		render = func(w io.Writer) error { return lidar.NewFrameRenderer().RenderToPNG(w, f) }
	case ".json":
		render = func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(f)
		}
	case ".geojson":
		render = func(w io.Writer) error { return json.NewEncoder(w).Encode(lidar.RingsToGeoJSON(f.Rings)) }
	case ".html":
		render = func(w io.Writer) error { return lidar.RenderScanChart(w, f) }
	default:
		return fmt.Errorf("unsupported output format %q", filepath.Ext(path))
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	if err := render(out); err != nil {
		out.Close()
		return fmt.Errorf("rendering %s: %w", path, err)
	}
	return out.Close()
}
