package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/optionwire/optionwire/internal/connection"
	"github.com/optionwire/optionwire/internal/rule"
)

// Module is one protocol handler plugged into the runtime. Modules are
// long-lived objects; Run is invoked once per connection cycle with fresh
// channels and must return when the inbox closes.
type Module interface {
	// Name identifies the module in logs and errors.
	Name() string

	// Rule decides which inbound frames land in this module's inbox. The
	// runtime resolves it once per connection and resets that instance
	// before frames flow, so arm state carries across frames.
	Rule() rule.Rule

	// Run processes frames from in and may emit outbound frames on out.
	// When in closes the module returns an error wrapping ErrLoopEnded.
	Run(ctx context.Context, in <-chan *connection.Frame, out chan<- connection.Frame) error
}

// ReconnectHandler is implemented by modules that must replay state after the
// transport is replaced, such as re-sending subscriptions.
type ReconnectHandler interface {
	// OnReconnect runs after every successful connect except the first,
	// before frames start flowing to the module.
	OnReconnect(ctx context.Context, out chan<- connection.Frame) error
}

// DisconnectHandler is implemented by modules that must drop state when the
// transport is lost, such as a balance that cannot be trusted across a gap.
type DisconnectHandler interface {
	// OnDisconnect runs after every connection cycle ends, before the next
	// connect attempt.
	OnDisconnect()
}

// WaitTimeout runs fn with a deadline of d. If fn loses the race the result
// is a TimeoutError carrying the task name; fn's context is cancelled but the
// caller's is untouched.
func WaitTimeout(ctx context.Context, name string, d time.Duration, fn func(ctx context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(tctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-tctx.Done():
		err = tctx.Err()
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Task: name, Elapsed: d}
	}
	return err
}
