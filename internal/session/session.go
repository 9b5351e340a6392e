// Package session holds the mutable shared state of one platform session.
// Each field has exactly one writer module; readers get coherent snapshots
// through per-field locks so unrelated modules never serialize on each other.
package session

import (
	"errors"
	"sync"
	"time"
)

// ErrNoState is returned when an operation requires session state that has
// not been populated yet (e.g. balance before the first balance update).
var ErrNoState = errors.New("session state not populated")

// AssetType categorizes tradeable instruments.
type AssetType string

const (
	AssetStock          AssetType = "stock"
	AssetCurrency       AssetType = "currency"
	AssetCommodity      AssetType = "commodity"
	AssetCryptocurrency AssetType = "cryptocurrency"
	AssetIndex          AssetType = "index"
)

// Asset describes one tradeable instrument as reported by the platform.
type Asset struct {
	ID               int
	Symbol           string
	Name             string
	Type             AssetType
	OTC              bool
	Active           bool
	Payout           int
	AllowedDurations []time.Duration
}

// ValidDuration reports whether the asset permits bars of the given length.
func (a Asset) ValidDuration(d time.Duration) bool {
	for _, allowed := range a.AllowedDurations {
		if allowed == d {
			return true
		}
	}
	return false
}

// Credentials identify the session to the platform. Immutable once built.
type Credentials struct {
	Raw       string // auth payload re-sent verbatim during the handshake
	Demo      bool
	UID       uint64
	UserAgent string
}

// Session is the shared state of one connection lifecycle. It is created at
// session start, mutated by the owning modules for the connection's life, and
// discarded with the session.
type Session struct {
	creds      Credentials
	defaultURL string

	balanceMu sync.RWMutex
	balance   float64
	hasBal    bool

	assetsMu sync.RWMutex
	assets   map[string]Asset

	clockMu        sync.RWMutex
	lastServerTime float64
	lastUpdated    time.Time
	offset         time.Duration
}

// New creates a session for the given credentials. defaultURL, when
// non-empty, pins the connector to a single endpoint.
func New(creds Credentials, defaultURL string) *Session {
	return &Session{
		creds:      creds,
		defaultURL: defaultURL,
		assets:     make(map[string]Asset),
	}
}

// Credentials returns the session credentials.
func (s *Session) Credentials() Credentials {
	return s.creds
}

// DefaultURL returns the pinned endpoint, if any.
func (s *Session) DefaultURL() string {
	return s.defaultURL
}

// SetBalance records the current balance. Written by the balance module only.
func (s *Session) SetBalance(balance float64) {
	s.balanceMu.Lock()
	s.balance = balance
	s.hasBal = true
	s.balanceMu.Unlock()
}

// Balance returns the last known balance, or ErrNoState before the first
// balance update arrives.
func (s *Session) Balance() (float64, error) {
	s.balanceMu.RLock()
	defer s.balanceMu.RUnlock()
	if !s.hasBal {
		return 0, ErrNoState
	}
	return s.balance, nil
}

// SetAssets replaces the asset map. Written by the assets module only.
func (s *Session) SetAssets(assets map[string]Asset) {
	s.assetsMu.Lock()
	s.assets = assets
	s.assetsMu.Unlock()
}

// Asset looks up an asset by symbol.
func (s *Session) Asset(symbol string) (Asset, bool) {
	s.assetsMu.RLock()
	defer s.assetsMu.RUnlock()
	a, ok := s.assets[symbol]
	return a, ok
}

// AssetCount returns the number of loaded assets.
func (s *Session) AssetCount() int {
	s.assetsMu.RLock()
	defer s.assetsMu.RUnlock()
	return len(s.assets)
}

// AssetNames returns the symbols of all loaded assets.
func (s *Session) AssetNames() []string {
	s.assetsMu.RLock()
	defer s.assetsMu.RUnlock()
	names := make([]string, 0, len(s.assets))
	for symbol := range s.assets {
		names = append(names, symbol)
	}
	return names
}

// UpdateServerTime records a server timestamp (Unix seconds, fractional) and
// recomputes the offset against the local clock. Written by the server-time
// module only.
func (s *Session) UpdateServerTime(serverUnix float64) {
	now := time.Now()
	s.clockMu.Lock()
	s.lastServerTime = serverUnix
	s.lastUpdated = now
	localUnix := float64(now.UnixMilli()) / 1000.0
	s.offset = time.Duration((serverUnix - localUnix) * float64(time.Second))
	s.clockMu.Unlock()
}

// ServerTime extrapolates the current server time from the last update.
func (s *Session) ServerTime() time.Time {
	s.clockMu.RLock()
	defer s.clockMu.RUnlock()
	if s.lastUpdated.IsZero() {
		return time.Now()
	}
	return time.Now().Add(s.offset)
}

// Offset returns the server-local clock offset.
func (s *Session) Offset() time.Duration {
	s.clockMu.RLock()
	defer s.clockMu.RUnlock()
	return s.offset
}

// ClockStale reports whether the last server timestamp is older than 30s.
func (s *Session) ClockStale() bool {
	s.clockMu.RLock()
	defer s.clockMu.RUnlock()
	return s.lastUpdated.IsZero() || time.Since(s.lastUpdated) > 30*time.Second
}

// ClearTemporal drops state that must not survive a hard disconnect. The
// clock offset is kept: it stays useful across reconnects.
func (s *Session) ClearTemporal() {
	s.balanceMu.Lock()
	s.hasBal = false
	s.balance = 0
	s.balanceMu.Unlock()
}
