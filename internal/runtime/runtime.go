// Package runtime supervises one platform session: it owns the connector,
// fans inbound frames to registered modules, serializes outbound frames, and
// reconnects with backoff when the transport dies.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/sync/errgroup"

	"github.com/optionwire/optionwire/internal/connection"
	"github.com/optionwire/optionwire/internal/rule"
	"github.com/optionwire/optionwire/internal/signal"
)

// Options tune the supervisor.
type Options struct {
	InboxSize       int           // per-module inbound frame buffer
	OutboxSize      int           // shared outbound frame buffer
	ReconnectMin    time.Duration // first retry delay
	ReconnectMax    time.Duration // retry delay ceiling
	ReconnectFactor float64       // delay growth per consecutive failure
}

// DefaultOptions returns the supervisor defaults.
func DefaultOptions() Options {
	return Options{
		InboxSize:       64,
		OutboxSize:      64,
		ReconnectMin:    5 * time.Second,
		ReconnectMax:    60 * time.Second,
		ReconnectFactor: 1.0,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.InboxSize <= 0 {
		o.InboxSize = def.InboxSize
	}
	if o.OutboxSize <= 0 {
		o.OutboxSize = def.OutboxSize
	}
	if o.ReconnectMin <= 0 {
		o.ReconnectMin = def.ReconnectMin
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = def.ReconnectMax
	}
	if o.ReconnectFactor < 1.0 {
		o.ReconnectFactor = def.ReconnectFactor
	}
	return o
}

// Runtime drives the connect / dispatch / teardown / retry cycle. Modules are
// registered before Run and live across reconnects; their Run methods are
// re-entered once per connection with fresh inboxes.
type Runtime struct {
	connector connection.Connector
	signals   *signal.Signals
	logger    *slog.Logger
	opts      Options

	modules []Module

	// outbox outlives individual connections so queued frames survive a
	// transport swap.
	outbox chan connection.Frame
}

// New creates a runtime over the given connector.
func New(connector connection.Connector, opts Options, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()

	return &Runtime{
		connector: connector,
		signals:   signal.New(),
		logger:    logger,
		opts:      opts,
		outbox:    make(chan connection.Frame, opts.OutboxSize),
	}
}

// Register adds a module. Must be called before Run.
func (r *Runtime) Register(m Module) {
	r.modules = append(r.modules, m)
}

// Signals exposes the connection-state notifier.
func (r *Runtime) Signals() *signal.Signals {
	return r.signals
}

// Send queues an outbound frame, blocking when the outbox is full.
func (r *Runtime) Send(ctx context.Context, f connection.Frame) error {
	select {
	case r.outbox <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives connection cycles until ctx is cancelled. Connection failures
// are never fatal; the runtime retries with backoff.
func (r *Runtime) Run(ctx context.Context) error {
	retry := &backoff.Backoff{
		Min:    r.opts.ReconnectMin,
		Max:    r.opts.ReconnectMax,
		Factor: r.opts.ReconnectFactor,
		Jitter: true,
	}

	first := true

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		client, err := r.connector.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := retry.Duration()
			r.logger.Warn("connect failed, retrying", "error", err, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		retry.Reset()

		r.signals.SetConnected()

		err = r.runConnection(ctx, client, !first)
		first = false

		r.signals.SetDisconnected()
		client.Close()

		for _, m := range r.modules {
			if h, ok := m.(DisconnectHandler); ok {
				h.OnDisconnect()
			}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Info("connection cycle ended, reconnecting", "reason", err)
	}
}

// runConnection runs one connection cycle: writer, reconnect hooks, dispatch,
// and one task per module. It returns when the transport dies or any task
// fails; ErrLoopEnded is the normal teardown signal.
func (r *Runtime) runConnection(ctx context.Context, client connection.Client, reconnected bool) error {
	g, gctx := errgroup.WithContext(ctx)

	// Rules are resolved once per connection: a stateful rule armed by a
	// priming frame must be the same instance that sees the payload frame.
	rules := make([]rule.Rule, len(r.modules))
	for i, m := range r.modules {
		rules[i] = m.Rule()
		rules[i].Reset()
	}

	// Writer drains the persistent outbox into the transport. A send failure
	// tears the cycle down.
	g.Go(func() error {
		for {
			select {
			case f := <-r.outbox:
				if err := client.Send(f); err != nil {
					return fmt.Errorf("writer: %w", err)
				}
			case <-gctx.Done():
				return nil
			}
		}
	})

	if reconnected {
		for _, m := range r.modules {
			h, ok := m.(ReconnectHandler)
			if !ok {
				continue
			}
			if err := h.OnReconnect(gctx, r.outbox); err != nil {
				r.logger.Error("reconnect hook failed", "module", m.Name(), "error", err)
				return fmt.Errorf("reconnect hook %s: %w", m.Name(), err)
			}
		}
	}

	inboxes := make([]chan *connection.Frame, len(r.modules))
	for i, m := range r.modules {
		inbox := make(chan *connection.Frame, r.opts.InboxSize)
		inboxes[i] = inbox
		m := m
		g.Go(func() error {
			err := m.Run(gctx, inbox, r.outbox)
			if errors.Is(err, ErrLoopEnded) {
				r.logger.Debug("module loop ended", "module", m.Name())
			} else if err != nil {
				r.logger.Error("module failed", "module", m.Name(), "error", err)
			}
			if err == nil {
				err = fmt.Errorf("%s: %w", m.Name(), ErrLoopEnded)
			}
			return err
		})
	}

	// Single dispatch goroutine preserves per-module transport order. Inbox
	// sends block when a module falls behind; frames are never dropped.
	g.Go(func() error {
		defer func() {
			for _, inbox := range inboxes {
				close(inbox)
			}
		}()

		frames := client.Frames()
		for {
			select {
			case f, ok := <-frames:
				if !ok {
					return fmt.Errorf("dispatch: %w", ErrLoopEnded)
				}
				for i := range r.modules {
					if !rules[i].Match(f) {
						continue
					}
					select {
					case inboxes[i] <- f:
					case <-gctx.Done():
						return gctx.Err()
					}
				}
			case err := <-client.Errors():
				r.logger.Warn("transport error", "error", err)
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	return g.Wait()
}
