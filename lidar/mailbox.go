package lidar

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSubscriptionClosed is returned by Next after Unsubscribe
var ErrSubscriptionClosed = errors.New("subscription closed")

// Subscription is a single-slot frame mailbox. Publishing overwrites any
// unconsumed frame, so a slow reader always sees the newest frame and never
// blocks the pipeline.
type Subscription struct {
	id string

	mu     sync.Mutex
	frame  *Frame
	closed bool
	notify chan struct{} // capacity 1, signalled on publish and close

	published bool
	lastSeq   uint64 // newest sequence ever stored; older frames are ignored

	lastConsumedAt   time.Time
	lastConsumedSeq  uint64
	consecutiveDrops uint64
	totalDrops       uint64
	delivered        uint64
}

// SubscriptionStats describes how well a reader is keeping up
type SubscriptionStats struct {
	ID               string    `json:"id"`
	Delivered        uint64    `json:"delivered"`
	TotalDrops       uint64    `json:"totalDrops"`
	ConsecutiveDrops uint64    `json:"consecutiveDrops"`
	LastConsumedSeq  uint64    `json:"lastConsumedSeq"`
	LastConsumedAt   time.Time `json:"lastConsumedAt"`
}

func newSubscription(id string) *Subscription {
	return &Subscription{
		id:             id,
		notify:         make(chan struct{}, 1),
		lastConsumedAt: time.Now(),
	}
}

// ID returns the subscriber identifier
func (s *Subscription) ID() string {
	return s.id
}

// publish stores f in the slot without blocking. A frame not newer than one
// already published is ignored.
func (s *Subscription) publish(f *Frame) {
	s.mu.Lock()
	if s.closed || (s.published && f.Sequence <= s.lastSeq) {
		s.mu.Unlock()
		return
	}
	s.published = true
	s.lastSeq = f.Sequence
	if s.frame != nil {
		s.consecutiveDrops++
		s.totalDrops++
	}
	s.frame = f
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until a frame is available, the subscription is closed or ctx
// is done. Only one goroutine may call Next.
func (s *Subscription) Next(ctx context.Context) (*Frame, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrSubscriptionClosed
		}
		if f := s.frame; f != nil {
			s.frame = nil
			s.lastConsumedAt = time.Now()
			s.lastConsumedSeq = f.Sequence
			s.consecutiveDrops = 0
			s.delivered++
			s.mu.Unlock()
			return f, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.notify:
		}
	}
}

// Stats returns a snapshot of the mailbox counters
func (s *Subscription) Stats() SubscriptionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SubscriptionStats{
		ID:               s.id,
		Delivered:        s.delivered,
		TotalDrops:       s.totalDrops,
		ConsecutiveDrops: s.consecutiveDrops,
		LastConsumedSeq:  s.lastConsumedSeq,
		LastConsumedAt:   s.lastConsumedAt,
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.frame = nil
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}
