// Package signal provides the process-wide connection-state notifier. Any
// task can snapshot the current state or suspend until the next transition
// without busy polling.
package signal

import (
	"context"
	"sync"
)

// Signals tracks the connected/disconnected flag and lets waiters block on
// the next transition in either direction.
type Signals struct {
	mu        sync.Mutex
	connected bool
	connCh    chan struct{} // closed when a connection is established
	discCh    chan struct{} // closed when a disconnection occurs
}

// New returns Signals in the disconnected state.
func New() *Signals {
	return &Signals{
		connCh: make(chan struct{}),
		discCh: make(chan struct{}),
	}
}

// SetConnected marks the session connected and wakes all WaitConnected
// callers. Idempotent.
func (s *Signals) SetConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return
	}
	s.connected = true
	close(s.connCh)
	s.discCh = make(chan struct{})
}

// SetDisconnected marks the session disconnected and wakes all
// WaitDisconnected callers. Idempotent.
func (s *Signals) SetDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return
	}
	s.connected = false
	close(s.discCh)
	s.connCh = make(chan struct{})
}

// IsConnected returns a non-blocking snapshot of the flag.
func (s *Signals) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// WaitConnected blocks until the session is connected, returning immediately
// if it already is.
func (s *Signals) WaitConnected(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	ch := s.connCh
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitDisconnected blocks until the session is disconnected, returning
// immediately if it already is.
func (s *Signals) WaitDisconnected(ctx context.Context) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	ch := s.discCh
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
