package lidar

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame(seq uint64) *Frame {
	return &Frame{
		Sequence:       seq,
		ComputedAt:     time.UnixMilli(1_700_000_000_000),
		BufferSize:     4,
		Points:         []ColoredPoint{{X: 1}, {X: 2}, {X: 1, Y: 0.2}, {X: 2, Y: 0.2}},
		VerticalLayers: 2,
		Rings: []BoundaryRing{{
			Vertices: orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 0}},
			Height:   1.5,
		}},
	}
}

func TestNewPublisher_Prefix(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	assert.Equal(t, "lidarwall/lidar/walls", NewPublisher(nil, MQTTConfig{}).WallsTopic())
	assert.Equal(t, "car/lidar/walls", NewPublisher(nil, MQTTConfig{PublishPrefix: "car"}).WallsTopic())

	t.Setenv("MQTT_PUBLISH_PREFIX", "env")
	assert.Equal(t, "env/lidar/walls", NewPublisher(nil, MQTTConfig{PublishPrefix: "car"}).WallsTopic())
}

func TestPublisher_NotConnected(t *testing.T) {
	p := NewPublisher(nil, MQTTConfig{})
	assert.ErrorIs(t, p.PublishFrame(testFrame(1)), ErrNotConnected)
	assert.ErrorIs(t, p.SendCommand("stop", nil), ErrNotConnected)

	mock := NewMockClient()
	p = NewPublisher(mock, MQTTConfig{})
	assert.ErrorIs(t, p.PublishFrame(testFrame(1)), ErrNotConnected)
}

func TestPublisher_PublishFrame(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	mock := NewMockClient()
	mock.SetConnected(true)
	p := NewPublisher(mock, MQTTConfig{})

	require.NoError(t, p.PublishFrame(testFrame(7)))
	require.NoError(t, p.PublishFrame(testFrame(7))) // duplicate skipped

	msgs := mock.GetPublishedMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "lidarwall/lidar/walls", msgs[0].Topic)
	assert.Equal(t, byte(0), msgs[0].QoS)
	assert.True(t, msgs[0].Retain)
	assert.Equal(t, uint64(1), p.Published())

	var summary WallSummary
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &summary))
	assert.Equal(t, uint64(7), summary.Sequence)
	assert.Equal(t, int64(1_700_000_000_000), summary.Timestamp)
	assert.Equal(t, 2, summary.PointCount)
	assert.Equal(t, 1, summary.WallCount)
	require.Len(t, summary.Walls, 1)
	assert.Len(t, summary.Walls[0].Vertices, 4)
	assert.InDelta(t, 0.5, summary.Walls[0].Area, 1e-9)
}

func TestPublisher_SendCommand(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	p := NewPublisher(mock, MQTTConfig{})

	require.NoError(t, p.SendCommand("move", map[string]any{"direction": "forward", "speed": 0.5}))

	msgs := mock.GetPublishedMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "robot/command/move", msgs[0].Topic)
	assert.Equal(t, byte(1), msgs[0].QoS)
	assert.False(t, msgs[0].Retain)

	var body map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &body))
	assert.Equal(t, "move", body["command"])
	assert.Equal(t, "forward", body["direction"])
	assert.Equal(t, 0.5, body["speed"])
	_, err := time.Parse(time.RFC3339Nano, body["timestamp"].(string))
	assert.NoError(t, err)
}

func TestPublisher_SendCommandValidatesName(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	p := NewPublisher(mock, MQTTConfig{Topics: TopicConfig{Command: "car/cmd/"}})

	for _, bad := range []string{"", "a/b", "x+", "#"} {
		assert.ErrorIs(t, p.SendCommand(bad, nil), ErrInvalidCommand, "command %q", bad)
	}
	require.NoError(t, p.SendCommand("stop", nil))
	assert.Equal(t, "car/cmd/stop", mock.GetPublishedMessages()[0].Topic)
}
