package pocket

import (
	"context"
	"log/slog"
	"time"

	"github.com/optionwire/optionwire/internal/candle"
	"github.com/optionwire/optionwire/internal/connection"
	"github.com/optionwire/optionwire/internal/runtime"
	"github.com/optionwire/optionwire/internal/session"
	"github.com/optionwire/optionwire/internal/subscription"
)

// Options assemble a pocket client.
type Options struct {
	Endpoints    []string        // overrides the built-in region table when set
	PinnedURL    string          // overrides the region race when set
	ArmTimeout   time.Duration   // two-phase event/payload gap bound, 0 = none
	Runtime      runtime.Options // supervisor tuning
	StreamBuffer int             // candle channel capacity per subscription
	Logger       *slog.Logger
}

// Client is the assembled pocket platform session: supervisor, protocol
// modules, and subscription manager wired together.
type Client struct {
	rt   *runtime.Runtime
	sess *session.Session
	subs *subscription.Manager
}

// NewClient wires a client for the given credential. Run must be started for
// anything to flow.
func NewClient(cred *Cred, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sess := session.New(cred.Credentials(), opts.PinnedURL)

	endpoints := cred.Endpoints()
	if len(opts.Endpoints) > 0 {
		endpoints.URLs = opts.Endpoints
	}
	endpoints.Pinned = opts.PinnedURL

	ccfg := connection.DefaultClientConfig()
	ccfg.Origin = Origin
	ccfg.UserAgent = DefaultUserAgent

	connector := connection.NewRaceConnector(endpoints, ccfg, logger)
	rt := runtime.New(connector, opts.Runtime, logger)
	subs := subscription.NewManager(NewStreamProtocol(opts.ArmTimeout), rt, opts.StreamBuffer, logger)

	rt.Register(NewSessionModule(cred, logger))
	rt.Register(KeepAliveModule{})
	rt.Register(NewBalanceModule(sess, opts.ArmTimeout, logger))
	rt.Register(NewAssetsModule(sess, opts.ArmTimeout, logger))
	rt.Register(NewServerTimeModule(sess, opts.ArmTimeout, logger))
	rt.Register(subs)

	return &Client{rt: rt, sess: sess, subs: subs}
}

// Run drives the session until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	return c.rt.Run(ctx)
}

// Session exposes the shared session state.
func (c *Client) Session() *session.Session {
	return c.sess
}

// Runtime exposes the supervisor, mainly for its Signals.
func (c *Client) Runtime() *runtime.Runtime {
	return c.rt
}

// Subscribe opens a candle stream for symbol with the given aggregation.
func (c *Client) Subscribe(ctx context.Context, symbol string, spec candle.Spec) (*subscription.Stream, error) {
	return c.subs.Subscribe(ctx, symbol, spec)
}

// History fetches historical bars for symbol at period.
func (c *Client) History(ctx context.Context, symbol string, period, timeout time.Duration) ([]candle.Candle, error) {
	return c.subs.History(ctx, symbol, period, timeout)
}

// Balance returns the last known account balance.
func (c *Client) Balance() (float64, error) {
	return c.sess.Balance()
}
