package lidar

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pipeline defaults
const (
	DefaultMaxRange           = 10.0
	DefaultWindowMS           = 5000
	DefaultProximityThreshold = 0.5
	DefaultLegacyScanLength   = 502
	DefaultWallHeight         = 1.5
	DefaultVerticalLayers     = 5
	DefaultMaxBufferPoints    = 20000

	MinVerticalLayers = 1
	MaxVerticalLayers = 10
)

// Default robot topics
const (
	DefaultLidarTopic     = "robot/sensors/lidar"
	DefaultObstacleTopic  = "robot/sensors/obstacle"
	DefaultMagneticTopic  = "robot/sensors/magnetic"
	DefaultAlcoholTopic   = "robot/sensors/alcohol"
	DefaultVibrationTopic = "robot/sensors/vibration"
	DefaultCameraTopic    = "robot/camera/feed"
	DefaultMapDataTopic   = "robot/map/data"
	DefaultPositionTopic  = "robot/map/position"
	DefaultDecisionTopic  = "robot/decision/current"
	DefaultStatusTopic    = "robot/system/status"
	DefaultCommandPrefix  = "robot/command"
)

// DefaultPipelineConfig returns the stock reconstruction constants
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxRange:           DefaultMaxRange,
		WindowMS:           DefaultWindowMS,
		ProximityThreshold: DefaultProximityThreshold,
		LegacyScanLength:   DefaultLegacyScanLength,
		WallHeight:         DefaultWallHeight,
		VerticalLayers:     DefaultVerticalLayers,
		MaxBufferPoints:    DefaultMaxBufferPoints,
	}
}

// WithDefaults fills zero values with defaults and clamps the layer count
func (p PipelineConfig) WithDefaults() PipelineConfig {
	d := DefaultPipelineConfig()
	if p.MaxRange <= 0 {
		p.MaxRange = d.MaxRange
	}
	if p.WindowMS <= 0 {
		p.WindowMS = d.WindowMS
	}
	if p.ProximityThreshold <= 0 {
		p.ProximityThreshold = d.ProximityThreshold
	}
	if p.LegacyScanLength <= 0 {
		p.LegacyScanLength = d.LegacyScanLength
	}
	if p.WallHeight <= 0 {
		p.WallHeight = d.WallHeight
	}
	if p.VerticalLayers == 0 {
		p.VerticalLayers = d.VerticalLayers
	}
	p.VerticalLayers = ClampVerticalLayers(p.VerticalLayers)
	if p.MaxBufferPoints <= 0 {
		p.MaxBufferPoints = d.MaxBufferPoints
	}
	return p
}

// ClampVerticalLayers limits n to [MinVerticalLayers, MaxVerticalLayers]
func ClampVerticalLayers(n int) int {
	if n < MinVerticalLayers {
		return MinVerticalLayers
	}
	if n > MaxVerticalLayers {
		return MaxVerticalLayers
	}
	return n
}

// WithDefaults fills empty topic names with the robot's stock topics
func (t TopicConfig) WithDefaults() TopicConfig {
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&t.Lidar, DefaultLidarTopic)
	fill(&t.Obstacle, DefaultObstacleTopic)
	fill(&t.Magnetic, DefaultMagneticTopic)
	fill(&t.Alcohol, DefaultAlcoholTopic)
	fill(&t.Vibration, DefaultVibrationTopic)
	fill(&t.Camera, DefaultCameraTopic)
	fill(&t.MapData, DefaultMapDataTopic)
	fill(&t.Position, DefaultPositionTopic)
	fill(&t.Decision, DefaultDecisionTopic)
	fill(&t.Status, DefaultStatusTopic)
	fill(&t.Command, DefaultCommandPrefix)
	return t
}

// LoadConfig loads the dashboard configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	config.Pipeline = config.Pipeline.WithDefaults()
	config.MQTT.Topics = config.MQTT.Topics.WithDefaults()

	return &config, nil
}

// Validate rejects values that cannot be defaulted sensibly
func (c *Config) Validate() error {
	p := c.Pipeline
	if p.MaxRange < 0 {
		return fmt.Errorf("pipeline.maxRange must not be negative")
	}
	if p.WindowMS < 0 {
		return fmt.Errorf("pipeline.windowMs must not be negative")
	}
	if p.ProximityThreshold < 0 {
		return fmt.Errorf("pipeline.proximityThreshold must not be negative")
	}
	if p.LegacyScanLength < 0 {
		return fmt.Errorf("pipeline.legacyScanLength must not be negative")
	}

	// A bridge needs both ends or neither
	if (c.Bridge.Local.URL == "") != (c.Bridge.Public.URL == "") {
		return fmt.Errorf("bridge requires both local.url and public.url")
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// BridgeFromEnv overlays LOCAL_MQTT_* / PUBLIC_MQTT_* / TOPICS environment
// variables onto the bridge section
func BridgeFromEnv(bc BridgeConfig) BridgeConfig {
	overlay := func(prefix string, b *BrokerConfig) {
		if v := os.Getenv(prefix + "_MQTT_URL"); v != "" {
			b.URL = v
		}
		if v := os.Getenv(prefix + "_MQTT_CLIENT_ID"); v != "" {
			b.ClientID = v
		}
		if v := os.Getenv(prefix + "_MQTT_USERNAME"); v != "" {
			b.Username = v
		}
		if v := os.Getenv(prefix + "_MQTT_PASSWORD"); v != "" {
			b.Password = v
		}
	}
	overlay("LOCAL", &bc.Local)
	overlay("PUBLIC", &bc.Public)

	if v := os.Getenv("TOPICS"); v != "" {
		bc.Topics = splitTopics(v)
	}
	if len(bc.Topics) == 0 {
		bc.Topics = []string{"#"}
	}
	return bc
}

// splitTopics parses a comma-separated topic list, dropping blanks
func splitTopics(s string) []string {
	var topics []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}
