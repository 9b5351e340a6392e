package candle

import (
	"fmt"
	"time"
)

// Aggregator converts a tick stream into bars under one strategy. Aggregators
// are not safe for concurrent use; each subscription handle owns its own.
type Aggregator interface {
	// Push feeds one tick and returns a completed bar when one closes.
	Push(t Tick) (Candle, bool)

	// Flush returns the partially built bar, if any, when the stream is torn
	// down. Partial windows are flushed, not discarded.
	Flush() (Candle, bool)
}

// Spec selects the aggregation strategy for one subscription.
type Spec struct {
	Kind   Kind
	Window time.Duration // KindDuration: bar length
	Size   int           // KindChunk: ticks per bar
}

// Kind names an aggregation strategy.
type Kind int

const (
	// KindDirect passes each tick through as a zero-duration bar.
	KindDirect Kind = iota
	// KindDuration buckets ticks into fixed wall-clock-aligned windows.
	KindDuration
	// KindChunk emits a bar every fixed number of ticks.
	KindChunk
)

// Direct returns a pass-through spec.
func Direct() Spec { return Spec{Kind: KindDirect} }

// Window returns a duration-bucketing spec.
func Window(w time.Duration) Spec { return Spec{Kind: KindDuration, Window: w} }

// Chunk returns a tick-count spec.
func Chunk(n int) Spec { return Spec{Kind: KindChunk, Size: n} }

// Validate checks the spec parameters.
func (s Spec) Validate() error {
	switch s.Kind {
	case KindDirect:
		return nil
	case KindDuration:
		if s.Window <= 0 {
			return fmt.Errorf("window must be positive, got %v", s.Window)
		}
		return nil
	case KindChunk:
		if s.Size < 1 {
			return fmt.Errorf("chunk size must be >= 1, got %d", s.Size)
		}
		return nil
	default:
		return fmt.Errorf("unknown aggregation kind %d", s.Kind)
	}
}

// NewAggregator builds the aggregator for a spec.
func NewAggregator(s Spec) (Aggregator, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	switch s.Kind {
	case KindDuration:
		return &durationAggregator{window: s.Window}, nil
	case KindChunk:
		return &chunkAggregator{size: s.Size}, nil
	default:
		return directAggregator{}, nil
	}
}

// directAggregator passes every tick through unmodified.
type directAggregator struct{}

func (directAggregator) Push(t Tick) (Candle, bool) {
	return seed(t, 0, t.At), true
}

func (directAggregator) Flush() (Candle, bool) {
	return Candle{}, false
}

// durationAggregator buckets ticks into contiguous, non-overlapping windows
// aligned to wall-clock boundaries. A bar is emitted when a tick at or past
// the window's end arrives; the tick then opens the next window.
type durationAggregator struct {
	window  time.Duration
	current Candle
	open    bool
}

func (d *durationAggregator) Push(t Tick) (Candle, bool) {
	start := t.At.Truncate(d.window)

	if !d.open {
		d.current = seed(t, d.window, start)
		d.open = true
		return Candle{}, false
	}

	if t.At.Before(d.current.Start.Add(d.window)) {
		d.current.apply(t)
		return Candle{}, false
	}

	done := d.current
	d.current = seed(t, d.window, start)
	return done, true
}

func (d *durationAggregator) Flush() (Candle, bool) {
	if !d.open {
		return Candle{}, false
	}
	d.open = false
	return d.current, true
}

// chunkAggregator emits a bar every size ticks regardless of elapsed time.
type chunkAggregator struct {
	size    int
	count   int
	current Candle
}

func (c *chunkAggregator) Push(t Tick) (Candle, bool) {
	if c.count == 0 {
		c.current = seed(t, 0, t.At)
	} else {
		c.current.apply(t)
	}
	c.count++

	if c.count >= c.size {
		c.count = 0
		return c.current, true
	}
	return Candle{}, false
}

func (c *chunkAggregator) Flush() (Candle, bool) {
	if c.count == 0 {
		return Candle{}, false
	}
	c.count = 0
	return c.current, true
}
