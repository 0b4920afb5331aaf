package lidar

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultPublishPrefix is used when neither env nor config set one
const DefaultPublishPrefix = "lidarwall"

// WallRecord is one boundary ring in the published wall summary
type WallRecord struct {
	Vertices [][2]float64 `json:"vertices"`
	Height   float64      `json:"height"`
	Area     float64      `json:"area"`
}

// WallSummary is the retained message describing the latest frame
type WallSummary struct {
	Sequence   uint64       `json:"sequence"`
	Timestamp  int64        `json:"timestamp"` // Unix ms
	BufferSize int          `json:"bufferSize"`
	PointCount int          `json:"pointCount"`
	WallCount  int          `json:"wallCount"`
	Walls      []WallRecord `json:"walls"`
}

// Publisher publishes reconstructed walls and robot commands
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	commandPrefix string
	qos           byte
	retain        bool
	lastSequence  uint64
	published     uint64
	mu            sync.RWMutex
}

// NewPublisher creates a publisher. MQTT_PUBLISH_PREFIX overrides the
// configured prefix. If client is nil, publishing is disabled.
func NewPublisher(client mqtt.Client, cfg MQTTConfig) *Publisher {
	prefix := os.Getenv("MQTT_PUBLISH_PREFIX")
	if prefix == "" {
		prefix = cfg.PublishPrefix
	}
	if prefix == "" {
		prefix = DefaultPublishPrefix
	}
	commandPrefix := cfg.Topics.Command
	if commandPrefix == "" {
		commandPrefix = DefaultCommandPrefix
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		commandPrefix: strings.TrimSuffix(commandPrefix, "/"),
		qos:           0,    // walls are superseded by the next frame
		retain:        true, // late subscribers get the current walls
	}
}

// WallsTopic returns the topic frames are published to
func (p *Publisher) WallsTopic() string {
	return p.publishPrefix + "/lidar/walls"
}

// NewWallSummary builds the published form of a frame
func NewWallSummary(f *Frame) WallSummary {
	walls := make([]WallRecord, len(f.Rings))
	for i, r := range f.Rings {
		verts := make([][2]float64, len(r.Vertices))
		for j, v := range r.Vertices {
			verts[j] = [2]float64{v[0], v[1]}
		}
		walls[i] = WallRecord{Vertices: verts, Height: r.Height, Area: r.Area()}
	}
	return WallSummary{
		Sequence:   f.Sequence,
		Timestamp:  f.ComputedAt.UnixMilli(),
		BufferSize: f.BufferSize,
		PointCount: len(f.GroundPoints()),
		WallCount:  len(f.Rings),
		Walls:      walls,
	}
}

// PublishFrame publishes the frame's wall summary. Frames already published
// are skipped.
func (p *Publisher) PublishFrame(f *Frame) error {
	if p.client == nil || !p.client.IsConnected() {
		return ErrNotConnected
	}
	if f == nil {
		return nil
	}

	p.mu.Lock()
	if f.Sequence != 0 && f.Sequence == p.lastSequence {
		p.mu.Unlock()
		return nil
	}
	p.lastSequence = f.Sequence
	p.mu.Unlock()

	payload, err := json.Marshal(NewWallSummary(f))
	if err != nil {
		return fmt.Errorf("marshaling wall summary: %w", err)
	}

	topic := p.WallsTopic()
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()
	return nil
}

// ErrInvalidCommand rejects command names that would escape the command topic
var ErrInvalidCommand = errors.New("invalid command name")

// SendCommand publishes {timestamp, command, ...data} to <command prefix>/<cmd>
// at QoS 1. Keys in data take precedence over the generated fields.
func (p *Publisher) SendCommand(cmd string, data map[string]any) error {
	if cmd == "" || strings.ContainsAny(cmd, "/+#") {
		return fmt.Errorf("%w %q", ErrInvalidCommand, cmd)
	}
	if p.client == nil || !p.client.IsConnected() {
		log.Printf("Cannot send command %s: not connected to MQTT broker", cmd)
		return ErrNotConnected
	}

	message := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"command":   cmd,
	}
	for k, v := range data {
		message[k] = v
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshaling command %s: %w", cmd, err)
	}

	topic := fmt.Sprintf("%s/%s", p.commandPrefix, cmd)
	token := p.client.Publish(topic, 1, false, payload)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		return fmt.Errorf("sending command %s: %w", cmd, token.Error())
	}

	log.Printf("Command %s sent successfully", cmd)
	return nil
}

// Published returns how many frames have been published
func (p *Publisher) Published() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.published
}

// SetQoS sets the Quality of Service level for frame publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether frame messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
