package lidar

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecorder(t *testing.T) (*Recorder, *fakeClock) {
	t.Helper()
	rec, err := OpenRecorder(filepath.Join(t.TempDir(), "lidar.db"))
	require.NoError(t, err)
	t.Cleanup(func() { rec.Close() })

	clock := newFakeClock(1_000)
	rec.now = clock.Now
	return rec, clock
}

func TestRecorder_RecordRequiresSession(t *testing.T) {
	rec, _ := newTestRecorder(t)
	err := rec.Record("robot/sensors/lidar", []byte(`{"x":1,"y":1}`))
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRecorder_RecordAndReplay(t *testing.T) {
	rec, clock := newTestRecorder(t)

	id, err := rec.StartSession("hallway")
	require.NoError(t, err)
	assert.Equal(t, id, rec.Session())

	require.NoError(t, rec.Record("robot/sensors/lidar", []byte(`{"x":1,"y":2}`)))
	clock.Set(1_250)
	require.NoError(t, rec.Record("robot/sensors/lidar", []byte(`{"x":3,"y":4}`)))

	var got []RecordedMessage
	err = rec.Replay(context.Background(), id, func(m RecordedMessage) error {
		got = append(got, m)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, `{"x":1,"y":2}`, string(got[0].Payload))
	assert.Equal(t, int64(1_000), got[0].ReceivedAt.UnixMilli())
	assert.Equal(t, int64(1_250), got[1].ReceivedAt.UnixMilli())
	assert.Equal(t, "robot/sensors/lidar", got[1].Topic)
}

func TestRecorder_Sessions(t *testing.T) {
	rec, clock := newTestRecorder(t)

	first, err := rec.StartSession("one")
	require.NoError(t, err)
	require.NoError(t, rec.Record("t", []byte("[1]")))
	clock.Set(2_000)
	require.NoError(t, rec.EndSession())
	assert.Empty(t, rec.Session())

	clock.Set(3_000)
	second, err := rec.StartSession("two")
	require.NoError(t, err)

	sessions, err := rec.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, first, sessions[0].ID)
	assert.Equal(t, 1, sessions[0].Messages)
	assert.Equal(t, int64(2_000), sessions[0].EndedAt.UnixMilli())
	assert.Equal(t, second, sessions[1].ID)
	assert.Zero(t, sessions[1].Messages)
	assert.True(t, sessions[1].EndedAt.IsZero())
}

func TestRecorder_ReplayLatestByDefault(t *testing.T) {
	rec, clock := newTestRecorder(t)

	_, err := rec.StartSession("")
	require.NoError(t, err)
	require.NoError(t, rec.Record("t", []byte("old")))

	clock.Set(5_000)
	_, err = rec.StartSession("")
	require.NoError(t, err)
	require.NoError(t, rec.Record("t", []byte("new")))

	var payloads []string
	require.NoError(t, rec.Replay(context.Background(), "", func(m RecordedMessage) error {
		payloads = append(payloads, string(m.Payload))
		return nil
	}))
	assert.Equal(t, []string{"new"}, payloads)
}

func TestRecorder_ReplayEmptyDatabase(t *testing.T) {
	rec, _ := newTestRecorder(t)
	err := rec.Replay(context.Background(), "", func(RecordedMessage) error { return nil })
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRecorder_ReplayStopsOnCallbackError(t *testing.T) {
	rec, _ := newTestRecorder(t)
	_, err := rec.StartSession("")
	require.NoError(t, err)
	require.NoError(t, rec.Record("t", []byte("a")))
	require.NoError(t, rec.Record("t", []byte("b")))

	stop := errors.New("stop")
	calls := 0
	err = rec.Replay(context.Background(), "", func(RecordedMessage) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestRecorder_ReplayIntoFollowsRecordedClock(t *testing.T) {
	rec, clock := newTestRecorder(t)
	_, err := rec.StartSession("")
	require.NoError(t, err)

	require.NoError(t, rec.Record("t", []byte(`{"x":1,"y":2}`)))
	clock.Set(1_100)
	require.NoError(t, rec.Record("t", []byte(`{"x":1.1,"y":2.05}`)))
	// beyond the 5s window: the first two points expire on this arrival
	clock.Set(7_000)
	require.NoError(t, rec.Record("t", []byte(`{"x":3,"y":3}`)))

	p := NewPipeline(DefaultPipelineConfig())
	n, err := rec.ReplayInto(context.Background(), p, "")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	f := p.Frame()
	assert.Equal(t, 1, f.BufferSize)
	assert.Equal(t, int64(7_000), f.ComputedAt.UnixMilli())
}
