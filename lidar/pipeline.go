package lidar

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// LayerSpacing is the display height between duplicated point layers (m)
const LayerSpacing = 0.2

// ErrUnrecognizedObservation reports a payload in none of the known shapes
var ErrUnrecognizedObservation = errors.New("unrecognized lidar observation")

// IngestResult summarizes what one observation did to the buffer.
// A zero Accepted count with a nil Err means the observation was ignored.
type IngestResult struct {
	Kind       ObservationKind
	Accepted   int
	Evicted    int
	Replaced   bool
	Err        error
	Diagnostic string // human-readable reason when nothing was accepted
	Frame      *Frame // the frame published for this observation, nil if none
}

// PipelineStats holds lifetime ingest counters
type PipelineStats struct {
	Observations uint64 `json:"observations"`
	Incremental  uint64 `json:"incremental"`
	Legacy       uint64 `json:"legacy"`
	Rejected     uint64 `json:"rejected"`
	Ignored      uint64 `json:"ignored"`
	Evicted      uint64 `json:"evicted"`
	Frames       uint64 `json:"frames"`
	BufferSize   int    `json:"bufferSize"`
	Subscribers  int    `json:"subscribers"`
}

// Pipeline owns the window buffer and turns each observation into a fresh
// immutable Frame. Ingest calls are serialized; Frame and subscriber reads
// never block on a recompute.
type Pipeline struct {
	mu     sync.Mutex // serializes buffer mutation and recompute
	cfg    PipelineConfig
	buffer *WindowBuffer
	now    func() time.Time
	seq    uint64

	latest atomic.Pointer[Frame]

	subsMu sync.RWMutex
	subs   map[string]*Subscription

	observations atomic.Uint64
	incremental  atomic.Uint64
	legacy       atomic.Uint64
	rejected     atomic.Uint64
	ignored      atomic.Uint64
	evicted      atomic.Uint64
}

// NewPipeline creates a pipeline with an empty buffer and an empty frame
func NewPipeline(cfg PipelineConfig) *Pipeline {
	cfg = cfg.WithDefaults()
	p := &Pipeline{
		cfg:    cfg,
		buffer: NewWindowBuffer(cfg.Window(), cfg.MaxBufferPoints),
		now:    time.Now,
		subs:   make(map[string]*Subscription),
	}
	p.latest.Store(&Frame{
		ComputedAt:     p.now(),
		Points:         []ColoredPoint{},
		Rings:          []BoundaryRing{},
		VerticalLayers: cfg.VerticalLayers,
		MaxRange:       cfg.MaxRange,
	})
	return p
}

// SetClock replaces the time source used for arrival stamps and eviction
func (p *Pipeline) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
	p.buffer.SetClock(now)
}

// Config returns the active pipeline configuration
func (p *Pipeline) Config() PipelineConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Ingest parses a raw payload and applies it
func (p *Pipeline) Ingest(payload []byte) IngestResult {
	return p.IngestObservation(ParseObservation(payload))
}

// IngestObservation applies one observation to the buffer and, when the
// buffer changed, recomputes and publishes a new frame.
func (p *Pipeline) IngestObservation(obs Observation) IngestResult {
	p.observations.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	result := IngestResult{Kind: obs.Kind}

	switch obs.Kind {
	case Incremental:
		pt, ok := NormalizeIncremental(obs, now)
		if !ok {
			p.ignored.Add(1)
			result.Diagnostic = "incremental point with non-finite coordinate dropped"
			return result
		}
		result.Evicted = p.buffer.Append(pt)
		result.Accepted = 1
		p.incremental.Add(1)
		p.evicted.Add(uint64(result.Evicted))

	case LegacyArray, LegacyWrapped:
		points, err := ConvertLegacyScan(obs.Ranges, p.cfg, now)
		if err != nil {
			p.rejected.Add(1)
			result.Err = err
			result.Diagnostic = err.Error()
			log.Printf("[LIDAR] Rejected %s scan: %v", obs.Kind, err)
			return result
		}
		p.buffer.Replace(points)
		result.Accepted = len(points)
		result.Replaced = true
		p.legacy.Add(1)

	default:
		p.ignored.Add(1)
		result.Err = ErrUnrecognizedObservation
		result.Diagnostic = "data format not recognized"
		log.Printf("[LIDAR] Data format not recognized, ignoring payload")
		return result
	}

	result.Frame = p.recomputeLocked(now)
	return result
}

// Frame returns the most recently published frame. Never nil.
func (p *Pipeline) Frame() *Frame {
	return p.latest.Load()
}

// Prune evicts expired points without new data arriving. A new frame is
// published only when something was removed.
func (p *Pipeline) Prune() (int, *Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.buffer.EvictExpired()
	if n == 0 {
		return 0, nil
	}
	p.evicted.Add(uint64(n))
	return n, p.recomputeLocked(p.now())
}

// RunPruner calls Prune every interval until ctx is done
func (p *Pipeline) RunPruner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = p.Config().Window() / 5
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune()
		}
	}
}

// Clear empties the buffer and publishes an empty frame
func (p *Pipeline) Clear() *Frame {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buffer.Clear()
	return p.recomputeLocked(p.now())
}

// SetVerticalLayers changes the display layer count, clamped to [1,10], and
// republishes the current geometry. Returns the value applied.
func (p *Pipeline) SetVerticalLayers(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cfg.VerticalLayers = ClampVerticalLayers(n)
	p.recomputeLocked(p.now())
	return p.cfg.VerticalLayers
}

// recomputeLocked runs classify -> segment -> polygonize over a buffer
// snapshot and swaps in the resulting frame. Caller holds p.mu.
func (p *Pipeline) recomputeLocked(now time.Time) *Frame {
	snapshot := p.buffer.Snapshot()
	classified := Classify(snapshot, p.cfg.MaxRange)
	segments := BuildSegments(classified, p.cfg.ProximityThreshold)
	rings := Polygonize(segments, p.cfg.WallHeight)

	p.seq++
	frame := &Frame{
		Sequence:       p.seq,
		ComputedAt:     now,
		BufferSize:     len(snapshot),
		Points:         LayeredPoints(classified, p.cfg.VerticalLayers),
		Rings:          rings,
		VerticalLayers: p.cfg.VerticalLayers,
		MaxRange:       p.cfg.MaxRange,
	}
	p.latest.Store(frame)
	p.broadcast(frame)
	return frame
}

// LayeredPoints repeats the classified points once per display layer,
// stacked LayerSpacing apart starting at ground level
func LayeredPoints(points []ClassifiedPoint, layers int) []ColoredPoint {
	layers = ClampVerticalLayers(layers)
	out := make([]ColoredPoint, 0, len(points)*layers)
	for layer := 0; layer < layers; layer++ {
		out = append(out, ToColored(points, float64(layer)*LayerSpacing)...)
	}
	return out
}

// GroundPoints returns only the y=0 layer of a frame's points
func (f *Frame) GroundPoints() []ColoredPoint {
	layers := f.VerticalLayers
	if layers < 1 {
		layers = 1
	}
	n := len(f.Points) / layers
	return f.Points[:n]
}

// Subscribe registers a frame reader under id, or a generated id when empty.
// The current frame is delivered immediately so a late joiner does not wait
// for the next observation. Subscribing an id twice replaces the old reader.
func (p *Pipeline) Subscribe(id string) *Subscription {
	if id == "" {
		id = fmt.Sprintf("sub-%s", uuid.NewString()[:8])
	}
	sub := newSubscription(id)

	p.subsMu.Lock()
	old := p.subs[id]
	p.subs[id] = sub
	p.subsMu.Unlock()
	if old != nil {
		old.close()
	}

	sub.publish(p.latest.Load())
	return sub
}

// Unsubscribe closes sub; its pending Next returns ErrSubscriptionClosed.
// Idempotent.
func (p *Pipeline) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	p.subsMu.Lock()
	if p.subs[sub.id] == sub {
		delete(p.subs, sub.id)
	}
	p.subsMu.Unlock()
	sub.close()
}

// SubscriberStats returns mailbox counters for every live subscriber
func (p *Pipeline) SubscriberStats() []SubscriptionStats {
	p.subsMu.RLock()
	defer p.subsMu.RUnlock()

	stats := make([]SubscriptionStats, 0, len(p.subs))
	for _, sub := range p.subs {
		stats = append(stats, sub.Stats())
	}
	return stats
}

func (p *Pipeline) broadcast(f *Frame) {
	p.subsMu.RLock()
	defer p.subsMu.RUnlock()
	for _, sub := range p.subs {
		sub.publish(f)
	}
}

// Stats returns lifetime counters
func (p *Pipeline) Stats() PipelineStats {
	p.subsMu.RLock()
	subs := len(p.subs)
	p.subsMu.RUnlock()

	return PipelineStats{
		Observations: p.observations.Load(),
		Incremental:  p.incremental.Load(),
		Legacy:       p.legacy.Load(),
		Rejected:     p.rejected.Load(),
		Ignored:      p.ignored.Load(),
		Evicted:      p.evicted.Load(),
		Frames:       p.Frame().Sequence,
		BufferSize:   p.buffer.Len(),
		Subscribers:  subs,
	}
}
