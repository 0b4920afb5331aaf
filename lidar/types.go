package lidar

import (
	"time"

	"github.com/paulmach/orb"
)

// Point is a single planar observation in the robot's local frame.
// X is lateral, Z is forward. Timestamp is Unix milliseconds.
type Point struct {
	X         float64 `json:"x"`
	Z         float64 `json:"z"`
	Timestamp int64   `json:"timestamp"`
}

// RGB is a color with channels in [0,1]
type RGB struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

// ClassifiedPoint is a buffered point annotated with its range, bearing and
// display color. It is recomputed on every pass and never stored.
type ClassifiedPoint struct {
	X        float64
	Z        float64
	Distance float64
	Angle    float64 // radians, atan2(x, z): 0 = forward
	Color    RGB
}

// Segment is a run of classified points adjacent in bearing and within the
// proximity threshold of their sort-order predecessor.
type Segment []ClassifiedPoint

// ColoredPoint is the renderer-facing form of a classified point.
// Y is the display height offset (0 for the ground layer).
type ColoredPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

// BoundaryRing is a closed polygon approximating one obstacle footprint.
// Vertices are (x, z) pairs; the first vertex is repeated at the end.
type BoundaryRing struct {
	Vertices orb.Ring `json:"vertices"`
	Height   float64  `json:"height"`
}

// Frame is one immutable recompute result handed to consumers.
type Frame struct {
	Sequence       uint64         `json:"sequence"`
	ComputedAt     time.Time      `json:"computedAt"`
	BufferSize     int            `json:"bufferSize"`
	Points         []ColoredPoint `json:"points"`
	Rings          []BoundaryRing `json:"rings"`
	VerticalLayers int            `json:"verticalLayers"`
	MaxRange       float64        `json:"maxRange"`
}

// Config represents the full configuration file
type Config struct {
	MQTT       MQTTConfig     `yaml:"mqtt" json:"mqtt"`
	Bridge     BridgeConfig   `yaml:"bridge,omitempty" json:"bridge,omitempty"`
	Pipeline   PipelineConfig `yaml:"pipeline,omitempty" json:"pipeline,omitempty"`
	HTTP       HTTPConfig     `yaml:"http,omitempty" json:"http,omitempty"`
	RecordPath string         `yaml:"recordPath,omitempty" json:"recordPath,omitempty"` // SQLite file for raw lidar payloads
}

// MQTTConfig holds the dashboard's broker connection settings
type MQTTConfig struct {
	Broker        string      `yaml:"broker" json:"broker"`
	PublishPrefix string      `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string      `yaml:"clientId" json:"clientId"`
	Username      string      `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string      `yaml:"password,omitempty" json:"password,omitempty"`
	Topics        TopicConfig `yaml:"topics,omitempty" json:"topics,omitempty"`
}

// TopicConfig names the robot topics the dashboard listens on
type TopicConfig struct {
	Lidar     string `yaml:"lidar,omitempty" json:"lidar,omitempty"`
	Obstacle  string `yaml:"obstacle,omitempty" json:"obstacle,omitempty"`
	Magnetic  string `yaml:"magnetic,omitempty" json:"magnetic,omitempty"`
	Alcohol   string `yaml:"alcohol,omitempty" json:"alcohol,omitempty"`
	Vibration string `yaml:"vibration,omitempty" json:"vibration,omitempty"`
	Camera    string `yaml:"camera,omitempty" json:"camera,omitempty"`
	MapData   string `yaml:"mapData,omitempty" json:"mapData,omitempty"`
	Position  string `yaml:"position,omitempty" json:"position,omitempty"`
	Decision  string `yaml:"decision,omitempty" json:"decision,omitempty"`
	Status    string `yaml:"status,omitempty" json:"status,omitempty"`
	Command   string `yaml:"command,omitempty" json:"command,omitempty"` // prefix, e.g. robot/command
}

// BrokerConfig describes one side of the bridge
type BrokerConfig struct {
	URL      string `yaml:"url" json:"url"`
	ClientID string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
}

// BridgeConfig configures the local -> public broker forwarder
type BridgeConfig struct {
	Local  BrokerConfig `yaml:"local" json:"local"`
	Public BrokerConfig `yaml:"public" json:"public"`
	Topics []string     `yaml:"topics,omitempty" json:"topics,omitempty"`
}

// PipelineConfig holds the reconstruction constants. Read-only after startup.
type PipelineConfig struct {
	MaxRange           float64 `yaml:"maxRange,omitempty" json:"maxRange,omitempty"`                     // sensor cutoff (m)
	WindowMS           int64   `yaml:"windowMs,omitempty" json:"windowMs,omitempty"`                     // point retention horizon
	ProximityThreshold float64 `yaml:"proximityThreshold,omitempty" json:"proximityThreshold,omitempty"` // segmentation cutoff (m)
	LegacyScanLength   int     `yaml:"legacyScanLength,omitempty" json:"legacyScanLength,omitempty"`
	WallHeight         float64 `yaml:"wallHeight,omitempty" json:"wallHeight,omitempty"`
	VerticalLayers     int     `yaml:"verticalLayers,omitempty" json:"verticalLayers,omitempty"` // display only, [1,10]
	MaxBufferPoints    int     `yaml:"maxBufferPoints,omitempty" json:"maxBufferPoints,omitempty"`
}

// HTTPConfig holds HTTP server settings
type HTTPConfig struct {
	Port int `yaml:"port,omitempty" json:"port,omitempty"`
}

// Window returns the retention horizon as a duration
func (p PipelineConfig) Window() time.Duration {
	return time.Duration(p.WindowMS) * time.Millisecond
}
