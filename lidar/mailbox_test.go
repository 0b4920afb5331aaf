package lidar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscription_OverwriteCountsDrops(t *testing.T) {
	s := newSubscription("a")
	s.publish(&Frame{Sequence: 1})
	s.publish(&Frame{Sequence: 2})
	s.publish(&Frame{Sequence: 3})

	f, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), f.Sequence)

	st := s.Stats()
	assert.Equal(t, uint64(2), st.TotalDrops)
	assert.Zero(t, st.ConsecutiveDrops)
	assert.Equal(t, uint64(1), st.Delivered)
	assert.Equal(t, uint64(3), st.LastConsumedSeq)
}

func TestSubscription_IgnoresOlderFrames(t *testing.T) {
	s := newSubscription("a")
	s.publish(&Frame{Sequence: 5})
	s.publish(&Frame{Sequence: 4})
	s.publish(&Frame{Sequence: 5})

	f, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), f.Sequence)
	assert.Zero(t, s.Stats().TotalDrops)
}

func TestSubscription_NextWaitsForPublish(t *testing.T) {
	s := newSubscription("a")
	go func() {
		time.Sleep(10 * time.Millisecond)
		s.publish(&Frame{Sequence: 1})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.Sequence)
}

func TestSubscription_CloseWakesReader(t *testing.T) {
	s := newSubscription("a")
	done := make(chan error, 1)
	go func() {
		_, err := s.Next(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	s.close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSubscriptionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after close")
	}

	s.publish(&Frame{Sequence: 9})
	_, err := s.Next(context.Background())
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
}
