package lidar

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"
)

// MaxDecisionHistory bounds the retained decision log
const MaxDecisionHistory = 100

// Connection status values reported in Telemetry.ConnectionStatus
const (
	StatusOnline  = "Online"
	StatusOffline = "Offline"
	StatusError   = "Error"
)

var (
	magneticKeys  = []string{"detected", "value", "state", "field", "magnetic"}
	vibrationKeys = []string{"detected", "value", "state", "vibration", "movement"}
)

// Detection is a binary sensor reading
type Detection struct {
	Detected  bool      `json:"detected"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// GridPosition is the robot's cell position on the maze map
type GridPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// MapState is the coarse maze map reported by the robot
type MapState struct {
	MazeData              [][]int      `json:"mazeData"`
	Width                 int          `json:"width"`
	Height                int          `json:"height"`
	RobotPosition         GridPosition `json:"robotPosition"`
	RobotDirection        float64      `json:"robotDirection"` // degrees, 0 = right, 90 = down
	ExplorationPercentage int          `json:"explorationPercentage"`
}

// DecisionRecord is one entry of the decision log
type DecisionRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Reasoning string    `json:"reasoning"`
}

// Telemetry is a copy of everything the dashboard knows about the robot
// besides the lidar geometry
type Telemetry struct {
	Obstacle         map[string]any   `json:"obstacle"`
	Alcohol          map[string]any   `json:"alcohol"`
	Magnetic         Detection        `json:"magnetic"`
	Vibration        Detection        `json:"vibration"`
	CameraImageURL   string           `json:"cameraImageUrl,omitempty"`
	Map              MapState         `json:"map"`
	Decision         map[string]any   `json:"decision"`
	DecisionHistory  []DecisionRecord `json:"decisionHistory"`
	SystemStatus     map[string]any   `json:"systemStatus"`
	ConnectionStatus string           `json:"connectionStatus"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// TelemetryState holds the latest robot telemetry
type TelemetryState struct {
	mu  sync.RWMutex
	t   Telemetry
	now func() time.Time
}

// NewTelemetryState creates an empty state with the robot's stock defaults
func NewTelemetryState() *TelemetryState {
	return &TelemetryState{
		t: Telemetry{
			Obstacle:         map[string]any{"front": 0.0, "left": 0.0, "right": 0.0, "back": 0.0},
			Alcohol:          map[string]any{"level": 0.0, "detected": false},
			Map:              MapState{Width: 20, Height: 20},
			Decision:         map[string]any{"currentAction": "Waiting", "nextAction": "Undecided", "confidence": 0.0},
			SystemStatus:     map[string]any{"batteryLevel": 0.0, "cpuUsage": 0.0, "memoryUsage": 0.0},
			ConnectionStatus: StatusOffline,
		},
		now: time.Now,
	}
}

// UpdateObstacle merges an obstacle sensor object (front/left/right/back cm)
func (s *TelemetryState) UpdateObstacle(payload []byte) error {
	return s.mergeInto(payload, func(t *Telemetry) map[string]any { return t.Obstacle })
}

// UpdateAlcohol merges an alcohol sensor object (level, detected)
func (s *TelemetryState) UpdateAlcohol(payload []byte) error {
	return s.mergeInto(payload, func(t *Telemetry) map[string]any { return t.Alcohol })
}

// UpdateSystemStatus merges a system status object
func (s *TelemetryState) UpdateSystemStatus(payload []byte) error {
	return s.mergeInto(payload, func(t *Telemetry) map[string]any { return t.SystemStatus })
}

// UpdateMagnetic records a magnetic detection and returns the stored value
func (s *TelemetryState) UpdateMagnetic(payload []byte) bool {
	detected, ok := probeDetection(payload, magneticKeys)
	if !ok {
		log.Printf("[TELEMETRY] Invalid magnetic sensor data format: %s", truncatePayload(payload))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t.Magnetic = Detection{Detected: detected, UpdatedAt: s.now()}
	s.t.UpdatedAt = s.t.Magnetic.UpdatedAt
	return detected
}

// UpdateVibration records a vibration detection and returns the stored value
func (s *TelemetryState) UpdateVibration(payload []byte) bool {
	detected, ok := probeDetection(payload, vibrationKeys)
	if !ok {
		log.Printf("[TELEMETRY] Invalid vibration sensor data format: %s", truncatePayload(payload))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t.Vibration = Detection{Detected: detected, UpdatedAt: s.now()}
	s.t.UpdatedAt = s.t.Vibration.UpdatedAt
	return detected
}

// UpdateCamera stores the latest camera frame reference
func (s *TelemetryState) UpdateCamera(payload []byte) error {
	var msg struct {
		ImageURL string `json:"imageUrl"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding camera payload: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t.CameraImageURL = msg.ImageURL
	s.t.UpdatedAt = s.now()
	return nil
}

// UpdateMap stores the maze grid and recomputes the explored share
func (s *TelemetryState) UpdateMap(payload []byte) error {
	var msg struct {
		MazeData [][]int `json:"mazeData"`
		Width    *int    `json:"width"`
		Height   *int    `json:"height"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding map payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m := &s.t.Map
	if msg.Width != nil {
		m.Width = *msg.Width
	}
	if msg.Height != nil {
		m.Height = *msg.Height
	}
	m.MazeData = msg.MazeData
	m.ExplorationPercentage = explorationPercentage(m.MazeData, m.Width, m.Height)
	s.t.UpdatedAt = s.now()
	return nil
}

// UpdatePosition stores the robot's grid position and heading. Missing
// fields keep their previous values.
func (s *TelemetryState) UpdatePosition(payload []byte) error {
	var msg struct {
		Position  *GridPosition `json:"position"`
		Direction *float64      `json:"direction"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding position payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Position != nil {
		s.t.Map.RobotPosition = *msg.Position
	}
	if msg.Direction != nil {
		s.t.Map.RobotDirection = *msg.Direction
	}
	s.t.UpdatedAt = s.now()
	return nil
}

// UpdateDecision merges the current decision and appends it to the log
func (s *TelemetryState) UpdateDecision(payload []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return fmt.Errorf("decoding decision payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range fields {
		s.t.Decision[k] = v
	}

	action, _ := fields["currentAction"].(string)
	reasoning, _ := fields["reasoning"].(string)
	now := s.now()
	s.t.DecisionHistory = append(s.t.DecisionHistory, DecisionRecord{
		Timestamp: now,
		Action:    action,
		Reasoning: reasoning,
	})
	if over := len(s.t.DecisionHistory) - MaxDecisionHistory; over > 0 {
		s.t.DecisionHistory = append([]DecisionRecord(nil), s.t.DecisionHistory[over:]...)
	}
	s.t.UpdatedAt = now
	return nil
}

// SetConnectionStatus records the broker link state
func (s *TelemetryState) SetConnectionStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t.ConnectionStatus = status
}

// Snapshot returns a deep copy of the current telemetry
func (s *TelemetryState) Snapshot() Telemetry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.t
	out.Obstacle = copyFields(s.t.Obstacle)
	out.Alcohol = copyFields(s.t.Alcohol)
	out.Decision = copyFields(s.t.Decision)
	out.SystemStatus = copyFields(s.t.SystemStatus)
	out.DecisionHistory = append([]DecisionRecord(nil), s.t.DecisionHistory...)
	if s.t.Map.MazeData != nil {
		out.Map.MazeData = make([][]int, len(s.t.Map.MazeData))
		for i, row := range s.t.Map.MazeData {
			out.Map.MazeData[i] = append([]int(nil), row...)
		}
	}
	return out
}

func (s *TelemetryState) mergeInto(payload []byte, target func(*Telemetry) map[string]any) error {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return fmt.Errorf("decoding sensor payload: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dst := target(&s.t)
	for k, v := range fields {
		dst[k] = v
	}
	s.t.UpdatedAt = s.now()
	return nil
}

// probeDetection reads a 0/1 style detection. A bare number is detected when
// it equals 1. For an object the preferred keys are tried first, then every
// other key in sorted order; the first numeric or boolean field decides.
// ok is false when nothing usable was found.
func probeDetection(payload []byte, preferred []string) (detected, ok bool) {
	var v any
	if err := json.Unmarshal(sanitizeNonFinite(payload), &v); err != nil {
		return false, false
	}

	switch val := v.(type) {
	case float64:
		return val == 1, true
	case map[string]any:
		for _, key := range preferred {
			if d, ok := detectionValue(val[key]); ok {
				return d, true
			}
		}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if d, ok := detectionValue(val[key]); ok {
				return d, true
			}
		}
	}
	return false, false
}

func detectionValue(v any) (bool, bool) {
	switch x := v.(type) {
	case float64:
		return x == 1, true
	case bool:
		return x, true
	}
	return false, false
}

// explorationPercentage is the rounded share of non-zero cells over the
// nominal width x height grid
func explorationPercentage(maze [][]int, width, height int) int {
	total := width * height
	if total <= 0 || len(maze) == 0 {
		return 0
	}
	explored := 0
	for _, row := range maze {
		for _, cell := range row {
			if cell != 0 {
				explored++
			}
		}
	}
	return int(math.Round(float64(explored) / float64(total) * 100))
}

func copyFields(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func truncatePayload(p []byte) string {
	const max = 120
	if len(p) > max {
		return string(p[:max]) + "..."
	}
	return string(p)
}
