package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line
type AppOptions struct {
	ConfigFile    string
	MqttMode      bool
	HttpMode      bool
	HttpPort      int
	BridgeMode    bool
	RecordFile    string
	ReplayFile    string
	ReplaySession string
	OutputFile    string
}

// Runner is the set of modes main can dispatch to
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunService() error
	RunBridge() error
	RunReplay() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

// run parses args and dispatches to the selected mode
func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("lidarwall", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Subscribe to the robot's MQTT topics and reconstruct walls")
	fs.BoolVar(&opts.HttpMode, "http", false, "Serve frames, renders and telemetry over HTTP")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")
	fs.BoolVar(&opts.BridgeMode, "bridge", false, "Forward local broker traffic to the public broker")
	fs.StringVar(&opts.RecordFile, "record", "", "Record raw lidar payloads to this SQLite file")
	fs.StringVar(&opts.ReplayFile, "replay", "", "Replay a recording through the pipeline and render the result")
	fs.StringVar(&opts.ReplaySession, "session", "", "Recording session to replay (default: latest)")
	fs.StringVar(&opts.OutputFile, "output", "walls.svg", "Output file for --replay (.svg, .png, .json, .geojson, .html)")
	showVersion := fs.Bool("version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "lidarwall version: %s\n", Version)
	if *showVersion {
		return nil
	}

	app.ApplyOptions(opts)

	switch {
	case opts.ReplayFile != "":
		return app.RunReplay()
	case opts.BridgeMode:
		return app.RunBridge()
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	}

	fmt.Fprintln(out, "lidarwall service starting...")
	fmt.Fprintln(out, "Use --mqtt to reconstruct walls from the robot's lidar topic")
	fmt.Fprintln(out, "Use --http to serve frames, renders and telemetry")
	fmt.Fprintln(out, "Use --mqtt --http to run both together")
	fmt.Fprintln(out, "Use --record=FILE with --mqtt to capture raw lidar payloads")
	fmt.Fprintln(out, "Use --replay=FILE --output=walls.svg to render a recording")
	fmt.Fprintln(out, "Use --bridge to forward local broker traffic to the public broker")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml - MQTT, bridge and pipeline settings")
	return nil
}
