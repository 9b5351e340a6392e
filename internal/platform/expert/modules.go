package expert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/optionwire/optionwire/internal/connection"
	"github.com/optionwire/optionwire/internal/rule"
	"github.com/optionwire/optionwire/internal/runtime"
)

// Action names handled by the built-in modules.
const (
	ActionPing       = "ping"
	ActionPong       = "pong"
	ActionProfile    = "profile"
	ActionSetContext = "setContext"
)

const pingInterval = 25 * time.Second

// PingModule keeps the session alive: it emits a periodic ping and answers
// server pings with a pong echoing their payload.
type PingModule struct {
	token  string
	logger *slog.Logger
}

// NewPingModule creates the keepalive module for the session token.
func NewPingModule(token string, logger *slog.Logger) *PingModule {
	if logger == nil {
		logger = slog.Default()
	}
	return &PingModule{token: token, logger: logger}
}

func (m *PingModule) Name() string { return "ping" }

func (m *PingModule) Rule() rule.Rule {
	return ActionRule(ActionPing, ActionPong)
}

func (m *PingModule) Run(ctx context.Context, in <-chan *connection.Frame, out chan<- connection.Frame) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			env, err := NewEnvelope(ActionPing, m.token, 2, struct{}{})
			if err != nil {
				return err
			}
			if err := m.send(ctx, out, env); err != nil {
				return err
			}
		case f, ok := <-in:
			if !ok {
				return fmt.Errorf("%s: %w", m.Name(), runtime.ErrLoopEnded)
			}
			env, err := ParseEnvelope(f.Data)
			if err != nil {
				m.logger.Warn("unparseable keepalive frame", "error", err)
				continue
			}
			if env.Action != ActionPing {
				continue
			}
			pong := Envelope{
				Action:  ActionPong,
				Token:   &m.token,
				Ns:      env.Ns,
				Message: env.Message,
			}
			if err := m.send(ctx, out, pong); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *PingModule) send(ctx context.Context, out chan<- connection.Frame, env Envelope) error {
	f, err := env.Frame()
	if err != nil {
		return err
	}
	select {
	case out <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Profile is the decoded account profile.
type Profile struct {
	DemoBalance decimal.Decimal `json:"demo_balance"`
	RealBalance decimal.Decimal `json:"real_balance"`
	IsDemo      int             `json:"is_demo"`
}

// Demo reports whether the profile is in demo context. The wire encodes the
// flag as 0/1.
func (p Profile) Demo() bool { return p.IsDemo == 1 }

type pendingReply struct {
	action string
	ch     chan Envelope
}

// ProfileModule issues profile commands and correlates their replies by
// action name and ns tag. Unmatched replies are dropped with a warning.
type ProfileModule struct {
	token  string
	logger *slog.Logger

	mu      sync.Mutex
	pending map[uint64]pendingReply
}

// NewProfileModule creates the profile command module.
func NewProfileModule(token string, logger *slog.Logger) *ProfileModule {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileModule{
		token:   token,
		logger:  logger,
		pending: make(map[uint64]pendingReply),
	}
}

func (m *ProfileModule) Name() string { return "profile" }

func (m *ProfileModule) Rule() rule.Rule {
	return ActionRule(ActionProfile, ActionSetContext)
}

func (m *ProfileModule) Run(ctx context.Context, in <-chan *connection.Frame, out chan<- connection.Frame) error {
	for {
		select {
		case f, ok := <-in:
			if !ok {
				return fmt.Errorf("%s: %w", m.Name(), runtime.ErrLoopEnded)
			}
			env, err := ParseEnvelope(f.Data)
			if err != nil {
				m.logger.Warn("unparseable profile frame", "error", err)
				continue
			}
			m.deliver(env)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *ProfileModule) deliver(env Envelope) {
	if env.Ns == nil {
		m.logger.Warn("reply without ns dropped", "action", env.Action)
		return
	}
	m.mu.Lock()
	p, ok := m.pending[*env.Ns]
	if ok && p.action == env.Action {
		delete(m.pending, *env.Ns)
	}
	m.mu.Unlock()

	if !ok || p.action != env.Action {
		m.logger.Warn("uncorrelated reply dropped", "action", env.Action, "ns", *env.Ns)
		return
	}
	select {
	case p.ch <- env:
	default:
	}
}

// call sends a command envelope and waits for its correlated reply.
func (m *ProfileModule) call(ctx context.Context, sender Sender, action string, payload any, timeout time.Duration) (Envelope, error) {
	ns := uint64(uuid.New().ID())

	env, err := NewEnvelope(action, m.token, ns, payload)
	if err != nil {
		return Envelope{}, err
	}
	f, err := env.Frame()
	if err != nil {
		return Envelope{}, err
	}

	ch := make(chan Envelope, 1)
	m.mu.Lock()
	m.pending[ns] = pendingReply{action: action, ch: ch}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, ns)
		m.mu.Unlock()
	}()

	if err := sender.Send(ctx, f); err != nil {
		return Envelope{}, fmt.Errorf("%s: %w", action, err)
	}

	var reply Envelope
	err = runtime.WaitTimeout(ctx, action, timeout, func(ctx context.Context) error {
		select {
		case reply = <-ch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		return Envelope{}, err
	}
	return reply, nil
}

// Sender queues outbound frames; satisfied by the runtime.
type Sender interface {
	Send(ctx context.Context, f connection.Frame) error
}

// Profile fetches the account profile.
func (m *ProfileModule) Profile(ctx context.Context, sender Sender, timeout time.Duration) (Profile, error) {
	reply, err := m.call(ctx, sender, ActionProfile, struct{}{}, timeout)
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := reply.Payload(&p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

type contextPayload struct {
	IsDemo int `json:"is_demo"`
}

type resultPayload struct {
	Result string `json:"result"`
}

// SetContext switches the account between demo and real context.
func (m *ProfileModule) SetContext(ctx context.Context, sender Sender, demo bool, timeout time.Duration) error {
	payload := contextPayload{}
	if demo {
		payload.IsDemo = 1
	}
	reply, err := m.call(ctx, sender, ActionSetContext, payload, timeout)
	if err != nil {
		return err
	}
	var res resultPayload
	if err := reply.Payload(&res); err != nil {
		return err
	}
	if res.Result != "success" {
		return fmt.Errorf("set context: %s", res.Result)
	}
	return nil
}
