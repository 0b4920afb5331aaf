package lidar

import (
	"sync"
	"time"
)

// WindowBuffer holds the sliding window of recent points. Eviction runs on
// every append, measured against wall-clock now rather than the newest
// sample. All methods are safe for concurrent use.
type WindowBuffer struct {
	mu        sync.Mutex
	points    []Point
	window    time.Duration
	maxPoints int
	now       func() time.Time
}

// NewWindowBuffer creates an empty buffer. maxPoints <= 0 disables the cap.
func NewWindowBuffer(window time.Duration, maxPoints int) *WindowBuffer {
	return &WindowBuffer{
		window:    window,
		maxPoints: maxPoints,
		now:       time.Now,
	}
}

// SetClock replaces the time source, for tests and replay
func (b *WindowBuffer) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// SetWindow changes the window length; it takes effect on the next eviction
func (b *WindowBuffer) SetWindow(window time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window = window
}

// Append adds p and then drops every earlier point whose age has reached the
// window. The appended point itself always survives this pass. Returns the
// number of points evicted.
func (b *WindowBuffer) Append(p Point) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.points = append(b.points, p)
	evicted := b.evictLocked(len(b.points) - 1)

	if b.maxPoints > 0 && len(b.points) > b.maxPoints {
		over := len(b.points) - b.maxPoints
		b.points = append(b.points[:0], b.points[over:]...)
		evicted += over
	}
	return evicted
}

// Replace discards the whole buffer and installs points
func (b *WindowBuffer) Replace(points []Point) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.points = make([]Point, len(points))
	copy(b.points, points)
}

// EvictExpired drops every point whose age has reached the window and
// returns how many were removed
func (b *WindowBuffer) EvictExpired() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evictLocked(-1)
}

// evictLocked filters in place, always keeping the point at index keep
func (b *WindowBuffer) evictLocked(keep int) int {
	nowMS := b.now().UnixMilli()
	windowMS := b.window.Milliseconds()

	kept := b.points[:0]
	for i, p := range b.points {
		if i == keep || nowMS-p.Timestamp < windowMS {
			kept = append(kept, p)
		}
	}
	evicted := len(b.points) - len(kept)
	b.points = kept
	return evicted
}

// Snapshot returns a copy of the current contents in insertion order
func (b *WindowBuffer) Snapshot() []Point {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Point, len(b.points))
	copy(out, b.points)
	return out
}

// Len returns the number of buffered points
func (b *WindowBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.points)
}

// Clear empties the buffer
func (b *WindowBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.points = nil
}
