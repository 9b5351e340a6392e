// Package subscription manages live price feeds on top of the runtime: it
// multiplexes caller subscriptions onto a bounded set of provider feeds,
// aggregates ticks into candles per handle, and replays subscriptions after a
// reconnect.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/optionwire/optionwire/internal/candle"
	"github.com/optionwire/optionwire/internal/connection"
	"github.com/optionwire/optionwire/internal/rule"
	"github.com/optionwire/optionwire/internal/runtime"
)

// MaxActiveFeeds is the provider-side ceiling on distinct live symbols.
const MaxActiveFeeds = 4

// ErrMaxSubscriptions is returned when a subscription would require a fifth
// distinct provider feed. Existing feeds are untouched.
var ErrMaxSubscriptions = errors.New("subscription limit reached")

// DefaultStreamBuffer is the candle channel capacity per handle.
const DefaultStreamBuffer = 16

const releaseTimeout = 5 * time.Second

// HistoryBatch is one historical candle reply for a symbol and period.
type HistoryBatch struct {
	Symbol  string
	Period  time.Duration
	Candles []candle.Candle
}

// Event is the decoded form of one inbound feed frame.
type Event struct {
	Ticks   []candle.Tick
	History *HistoryBatch
}

// Protocol abstracts the platform wire format so the manager stays neutral.
type Protocol interface {
	// SubscribeFrames builds the outbound frames that open a feed.
	SubscribeFrames(symbol string, period time.Duration) []connection.Frame

	// UnsubscribeFrames builds the outbound frames that close a feed.
	UnsubscribeFrames(symbol string) []connection.Frame

	// HistoryFrames builds the outbound frames requesting historical bars.
	HistoryFrames(symbol string, period time.Duration) []connection.Frame

	// Rule matches the inbound frames Parse understands.
	Rule() rule.Rule

	// Parse decodes one matched frame into ticks or a history batch.
	Parse(f *connection.Frame) (Event, error)
}

// Sender queues outbound frames; satisfied by the runtime.
type Sender interface {
	Send(ctx context.Context, f connection.Frame) error
}

// Stats describes one handle's activity.
type Stats struct {
	Ticks        uint64
	Candles      uint64
	LastActivity time.Time
}

// Stream is one caller's view of a feed. Candles arrive on C; Close releases
// the handle and, when it is the feed's last, the provider slot.
type Stream struct {
	id     uuid.UUID
	symbol string
	mgr    *Manager

	agg candle.Aggregator
	out chan candle.Candle

	// outMu serializes sends on out against its close; done is closed first
	// so an in-flight blocking send aborts instead of racing the close.
	outMu sync.Mutex
	done  chan struct{}

	statsMu sync.Mutex
	stats   Stats

	closeOnce sync.Once
}

// Candles returns the handle's candle channel. It is closed when the stream
// is closed.
func (s *Stream) Candles() <-chan candle.Candle {
	return s.out
}

// Symbol returns the subscribed symbol.
func (s *Stream) Symbol() string {
	return s.symbol
}

// Stats returns a snapshot of the handle's counters.
func (s *Stream) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// Close releases the handle. Idempotent.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.mgr.release(s)
	})
}

// emit delivers one candle to the handle, blocking until the consumer makes
// room, the handle closes, or ctx ends.
func (s *Stream) emit(ctx context.Context, c candle.Candle) error {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	select {
	case <-s.done:
		return nil
	default:
	}

	select {
	case s.out <- c:
		s.statsMu.Lock()
		s.stats.Candles++
		s.statsMu.Unlock()
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// emitBestEffort delivers a candle without blocking; a full channel drops it.
func (s *Stream) emitBestEffort(c candle.Candle) bool {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.out <- c:
		s.statsMu.Lock()
		s.stats.Candles++
		s.statsMu.Unlock()
		return true
	default:
		return false
	}
}

// feed is one provider-side symbol subscription shared by its handles.
type feed struct {
	symbol  string
	period  time.Duration
	handles map[uuid.UUID]*Stream
}

// Manager is the subscription module. It is long-lived; Run is re-entered by
// the runtime once per connection.
type Manager struct {
	proto  Protocol
	sender Sender
	logger *slog.Logger
	buffer int

	mu    sync.Mutex
	feeds map[string]*feed

	histMu  sync.Mutex
	waiters map[string]chan HistoryBatch
}

// NewManager creates a subscription manager over the given protocol.
// streamBuffer <= 0 selects DefaultStreamBuffer.
func NewManager(proto Protocol, sender Sender, streamBuffer int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if streamBuffer <= 0 {
		streamBuffer = DefaultStreamBuffer
	}
	return &Manager{
		proto:   proto,
		sender:  sender,
		logger:  logger,
		buffer:  streamBuffer,
		feeds:   make(map[string]*feed),
		waiters: make(map[string]chan HistoryBatch),
	}
}

// Name identifies the module.
func (m *Manager) Name() string { return "subscriptions" }

// Rule delegates frame matching to the platform protocol.
func (m *Manager) Rule() rule.Rule { return m.proto.Rule() }

// Count returns the number of live provider feeds.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.feeds)
}

// Subscribe opens a handle on symbol with the given aggregation. A symbol
// already live provider-side is multiplexed onto the existing feed, whose
// provider sampling period was fixed by its first subscriber; later handles
// aggregate from that tick rate. A fifth distinct symbol fails with
// ErrMaxSubscriptions without touching the existing feeds.
func (m *Manager) Subscribe(ctx context.Context, symbol string, spec candle.Spec) (*Stream, error) {
	agg, err := candle.NewAggregator(spec)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", symbol, err)
	}

	s := &Stream{
		id:     uuid.New(),
		symbol: symbol,
		mgr:    m,
		agg:    agg,
		out:    make(chan candle.Candle, m.buffer),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	f, live := m.feeds[symbol]
	if live {
		f.handles[s.id] = s
		m.mu.Unlock()
		return s, nil
	}
	if len(m.feeds) >= MaxActiveFeeds {
		m.mu.Unlock()
		return nil, fmt.Errorf("subscribe %s: %w", symbol, ErrMaxSubscriptions)
	}
	f = &feed{
		symbol:  symbol,
		period:  providerPeriod(spec),
		handles: map[uuid.UUID]*Stream{s.id: s},
	}
	m.feeds[symbol] = f
	m.mu.Unlock()

	for _, frame := range m.proto.SubscribeFrames(symbol, f.period) {
		if err := m.sender.Send(ctx, frame); err != nil {
			m.mu.Lock()
			delete(m.feeds, symbol)
			m.mu.Unlock()
			close(s.out)
			return nil, fmt.Errorf("subscribe %s: %w", symbol, err)
		}
	}

	m.logger.Info("feed opened", "symbol", symbol, "period", f.period)
	return s, nil
}

// Unsubscribe releases a handle. Equivalent to (*Stream).Close.
func (m *Manager) Unsubscribe(s *Stream) {
	s.Close()
}

// providerPeriod picks the provider sampling period for a feed. Duration
// aggregation reuses its window; tick-level strategies sample every second.
func providerPeriod(spec candle.Spec) time.Duration {
	if spec.Kind == candle.KindDuration {
		return spec.Window
	}
	return time.Second
}

func (m *Manager) release(s *Stream) {
	m.mu.Lock()
	f, live := m.feeds[s.symbol]
	var last bool
	if live {
		delete(f.handles, s.id)
		last = len(f.handles) == 0
		if last {
			delete(m.feeds, s.symbol)
		}
	}
	m.mu.Unlock()

	close(s.done)
	s.outMu.Lock()
	close(s.out)
	s.outMu.Unlock()

	if !live || !last {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	for _, frame := range m.proto.UnsubscribeFrames(s.symbol) {
		if err := m.sender.Send(ctx, frame); err != nil {
			m.logger.Warn("unsubscribe send failed", "symbol", s.symbol, "error", err)
			return
		}
	}
	m.logger.Info("feed closed", "symbol", s.symbol)
}

// History requests historical bars for symbol at period and waits for the
// correlated reply. A missing reply within timeout is a NotFoundError.
func (m *Manager) History(ctx context.Context, symbol string, period time.Duration, timeout time.Duration) ([]candle.Candle, error) {
	key := historyKey(symbol, period)

	ch := make(chan HistoryBatch, 1)
	m.histMu.Lock()
	if _, dup := m.waiters[key]; dup {
		m.histMu.Unlock()
		return nil, fmt.Errorf("history %s: request already in flight", key)
	}
	m.waiters[key] = ch
	m.histMu.Unlock()

	defer func() {
		m.histMu.Lock()
		delete(m.waiters, key)
		m.histMu.Unlock()
	}()

	for _, frame := range m.proto.HistoryFrames(symbol, period) {
		if err := m.sender.Send(ctx, frame); err != nil {
			return nil, fmt.Errorf("history %s: %w", key, err)
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case batch := <-ch:
		return batch.Candles, nil
	case <-timer.C:
		return nil, &runtime.NotFoundError{Kind: "history reply", Key: key}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func historyKey(symbol string, period time.Duration) string {
	return fmt.Sprintf("%s/%s", symbol, period)
}

// Run consumes matched feed frames for one connection cycle. On exit, partial
// aggregation windows are flushed to their handles.
func (m *Manager) Run(ctx context.Context, in <-chan *connection.Frame, out chan<- connection.Frame) error {
	defer m.flushAll()

	for {
		select {
		case f, ok := <-in:
			if !ok {
				return fmt.Errorf("%s: %w", m.Name(), runtime.ErrLoopEnded)
			}
			ev, err := m.proto.Parse(f)
			if err != nil {
				m.logger.Warn("unparseable feed frame", "error", err)
				continue
			}
			if ev.History != nil {
				m.deliverHistory(*ev.History)
			}
			for _, t := range ev.Ticks {
				if err := m.deliverTick(ctx, t); err != nil {
					return err
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// OnReconnect replays the subscribe sequence for every live feed so the new
// transport resumes the same streams.
func (m *Manager) OnReconnect(ctx context.Context, out chan<- connection.Frame) error {
	m.mu.Lock()
	type resub struct {
		symbol string
		period time.Duration
	}
	resubs := make([]resub, 0, len(m.feeds))
	for _, f := range m.feeds {
		resubs = append(resubs, resub{symbol: f.symbol, period: f.period})
	}
	m.mu.Unlock()

	for _, r := range resubs {
		for _, frame := range m.proto.SubscribeFrames(r.symbol, r.period) {
			select {
			case out <- frame:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		m.logger.Info("feed resubscribed", "symbol", r.symbol)
	}
	return nil
}

func (m *Manager) deliverTick(ctx context.Context, t candle.Tick) error {
	m.mu.Lock()
	f, live := m.feeds[t.Symbol]
	if !live {
		m.mu.Unlock()
		return nil
	}
	handles := make([]*Stream, 0, len(f.handles))
	for _, s := range f.handles {
		handles = append(handles, s)
	}
	m.mu.Unlock()

	for _, s := range handles {
		s.statsMu.Lock()
		s.stats.Ticks++
		s.stats.LastActivity = time.Now()
		s.statsMu.Unlock()

		c, done := s.agg.Push(t)
		if !done {
			continue
		}
		if err := s.emit(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) deliverHistory(batch HistoryBatch) {
	key := historyKey(batch.Symbol, batch.Period)
	m.histMu.Lock()
	ch, waiting := m.waiters[key]
	m.histMu.Unlock()

	if !waiting {
		m.logger.Warn("uncorrelated history reply dropped", "key", key)
		return
	}
	select {
	case ch <- batch:
	default:
	}
}

// flushAll hands every handle its partial window on teardown. Delivery is
// best-effort: a full channel drops the partial bar with a warning.
func (m *Manager) flushAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range m.feeds {
		for _, s := range f.handles {
			c, ok := s.agg.Flush()
			if !ok {
				continue
			}
			if !s.emitBestEffort(c) {
				m.logger.Warn("partial candle dropped on teardown", "symbol", s.symbol)
			}
		}
	}
}
