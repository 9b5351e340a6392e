package pocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/optionwire/optionwire/internal/connection"
	"github.com/optionwire/optionwire/internal/rule"
	"github.com/optionwire/optionwire/internal/runtime"
	"github.com/optionwire/optionwire/internal/session"
)

// DefaultSymbol is the asset selected right after authentication. The
// platform expects a feed target before any explicit subscription arrives.
const DefaultSymbol = "EURUSD_otc"

const keepAliveInterval = 20 * time.Second

func send(ctx context.Context, out chan<- connection.Frame, f connection.Frame) error {
	select {
	case out <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SessionModule drives the connection handshake: sid exchange, auth replay,
// post-auth bootstrap, and the ping/pong keepalive reply.
type SessionModule struct {
	cred   *Cred
	logger *slog.Logger
}

// NewSessionModule creates the handshake module for the given credential.
func NewSessionModule(cred *Cred, logger *slog.Logger) *SessionModule {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionModule{cred: cred, logger: logger}
}

func (m *SessionModule) Name() string { return "handshake" }

func (m *SessionModule) Rule() rule.Rule {
	return rule.Func(func(f *connection.Frame) bool {
		return f.TextPrefix(PrefixSID) ||
			f.TextPrefix(PrefixSIDConfirm) ||
			f.TextPrefix(PrefixAuthOK) ||
			(f.IsText() && f.Text() == PingPayload)
	})
}

func (m *SessionModule) Run(ctx context.Context, in <-chan *connection.Frame, out chan<- connection.Frame) error {
	for {
		select {
		case f, ok := <-in:
			if !ok {
				return fmt.Errorf("%s: %w", m.Name(), runtime.ErrLoopEnded)
			}
			if err := m.handle(ctx, f, out); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *SessionModule) handle(ctx context.Context, f *connection.Frame, out chan<- connection.Frame) error {
	switch {
	case f.TextPrefix(PrefixSID):
		return send(ctx, out, connection.Text("40"))

	case f.TextPrefix(PrefixSIDConfirm):
		m.logger.Debug("sid confirmed, authenticating")
		return send(ctx, out, m.cred.Frame())

	case f.TextPrefix(PrefixAuthOK):
		m.logger.Info("authenticated")
		bootstrap := []connection.Frame{
			connection.Text(`42["indicator/load"]`),
			connection.Text(`42["favorite/load"]`),
			connection.Text(`42["price-alert/load"]`),
			ChangeSymbol(DefaultSymbol, time.Second),
			Subfor(DefaultSymbol),
		}
		for _, b := range bootstrap {
			if err := send(ctx, out, b); err != nil {
				return err
			}
		}
		return nil

	case f.IsText() && f.Text() == PingPayload:
		return send(ctx, out, connection.Text(PongPayload))
	}
	return nil
}

// KeepAliveModule emits the periodic application-level heartbeat.
type KeepAliveModule struct{}

func (KeepAliveModule) Name() string { return "keepalive" }

// Rule matches nothing: the module only writes.
func (KeepAliveModule) Rule() rule.Rule {
	return rule.Func(func(*connection.Frame) bool { return false })
}

func (KeepAliveModule) Run(ctx context.Context, in <-chan *connection.Frame, out chan<- connection.Frame) error {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := send(ctx, out, connection.Text(`42["ps"]`)); err != nil {
				return err
			}
		case _, ok := <-in:
			if !ok {
				return fmt.Errorf("keepalive: %w", runtime.ErrLoopEnded)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// BalanceModule tracks the account balance from successupdateBalance events.
type BalanceModule struct {
	sess       *session.Session
	logger     *slog.Logger
	armTimeout time.Duration
}

// NewBalanceModule creates the balance tracker.
func NewBalanceModule(sess *session.Session, armTimeout time.Duration, logger *slog.Logger) *BalanceModule {
	if logger == nil {
		logger = slog.Default()
	}
	return &BalanceModule{sess: sess, logger: logger, armTimeout: armTimeout}
}

func (m *BalanceModule) Name() string { return "balance" }

func (m *BalanceModule) Rule() rule.Rule {
	return rule.NewTwoStep(PrefixBalance, m.armTimeout)
}

// OnDisconnect drops the balance: it cannot be trusted across a gap and the
// platform re-sends it after authentication.
func (m *BalanceModule) OnDisconnect() {
	m.sess.ClearTemporal()
}

func (m *BalanceModule) Run(ctx context.Context, in <-chan *connection.Frame, out chan<- connection.Frame) error {
	for {
		select {
		case f, ok := <-in:
			if !ok {
				return fmt.Errorf("%s: %w", m.Name(), runtime.ErrLoopEnded)
			}
			var payload struct {
				Balance float64 `json:"balance"`
			}
			if err := json.Unmarshal(f.Data, &payload); err != nil {
				m.logger.Warn("unparseable balance payload", "error", err)
				continue
			}
			m.sess.SetBalance(payload.Balance)
			m.logger.Debug("balance updated", "balance", payload.Balance)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// AssetsModule loads the tradeable asset table from updateAssets events.
type AssetsModule struct {
	sess       *session.Session
	logger     *slog.Logger
	armTimeout time.Duration
}

// NewAssetsModule creates the asset table loader.
func NewAssetsModule(sess *session.Session, armTimeout time.Duration, logger *slog.Logger) *AssetsModule {
	if logger == nil {
		logger = slog.Default()
	}
	return &AssetsModule{sess: sess, logger: logger, armTimeout: armTimeout}
}

func (m *AssetsModule) Name() string { return "assets" }

func (m *AssetsModule) Rule() rule.Rule {
	return rule.NewTwoStep(PrefixAssets, m.armTimeout)
}

func (m *AssetsModule) Run(ctx context.Context, in <-chan *connection.Frame, out chan<- connection.Frame) error {
	for {
		select {
		case f, ok := <-in:
			if !ok {
				return fmt.Errorf("%s: %w", m.Name(), runtime.ErrLoopEnded)
			}
			assets, skipped, err := ParseAssets(f.Data)
			if err != nil {
				m.logger.Warn("unparseable assets payload", "error", err)
				continue
			}
			m.sess.SetAssets(assets)
			m.logger.Info("assets loaded", "count", len(assets), "skipped", skipped)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ServerTimeModule keeps the session clock offset in sync using stream tick
// timestamps.
type ServerTimeModule struct {
	sess       *session.Session
	logger     *slog.Logger
	armTimeout time.Duration
}

// NewServerTimeModule creates the clock sync module.
func NewServerTimeModule(sess *session.Session, armTimeout time.Duration, logger *slog.Logger) *ServerTimeModule {
	if logger == nil {
		logger = slog.Default()
	}
	return &ServerTimeModule{sess: sess, logger: logger, armTimeout: armTimeout}
}

func (m *ServerTimeModule) Name() string { return "servertime" }

func (m *ServerTimeModule) Rule() rule.Rule {
	return rule.NewTwoStep(PrefixStream, m.armTimeout)
}

func (m *ServerTimeModule) Run(ctx context.Context, in <-chan *connection.Frame, out chan<- connection.Frame) error {
	for {
		select {
		case f, ok := <-in:
			if !ok {
				return fmt.Errorf("%s: %w", m.Name(), runtime.ErrLoopEnded)
			}
			ticks, err := ParseStream(f.Data)
			if err != nil || len(ticks) == 0 {
				continue
			}
			last := ticks[len(ticks)-1].At
			m.sess.UpdateServerTime(float64(last.UnixMilli()) / 1000.0)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
