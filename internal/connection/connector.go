package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Connector establishes and re-establishes the transport.
type Connector interface {
	// Connect returns a connected client, or an error if no endpoint is
	// reachable. Connection errors are never fatal to the runtime; callers
	// retry via Reconnect.
	Connect(ctx context.Context) (Client, error)

	// Disconnect is best-effort; the default implementation assumes the
	// transport is already closed or about to be replaced.
	Disconnect() error

	// Reconnect tears down and establishes a fresh connection.
	Reconnect(ctx context.Context) (Client, error)
}

// RaceConnector dials every candidate endpoint concurrently and keeps the
// first connection that succeeds. A pinned URL, when set, is attempted alone.
type RaceConnector struct {
	endpoints Endpoints
	cfg       ClientConfig // URL field is filled per attempt
	logger    *slog.Logger
}

// NewRaceConnector creates a connector over the given endpoint set.
func NewRaceConnector(endpoints Endpoints, cfg ClientConfig, logger *slog.Logger) *RaceConnector {
	if logger == nil {
		logger = slog.Default()
	}
	return &RaceConnector{
		endpoints: endpoints,
		cfg:       cfg,
		logger:    logger,
	}
}

// Connect races all candidate endpoints and returns the first success.
func (r *RaceConnector) Connect(ctx context.Context) (Client, error) {
	if r.endpoints.Pinned != "" {
		return r.dial(ctx, r.endpoints.Pinned)
	}
	if len(r.endpoints.URLs) == 0 {
		return nil, ErrNoEndpoint
	}
	return r.connectMultiple(ctx, r.endpoints.URLs)
}

// Disconnect is a no-op: the previous client is owned by the caller and is
// either already closed or about to be replaced.
func (r *RaceConnector) Disconnect() error {
	return nil
}

// Reconnect disconnects and establishes a fresh connection.
func (r *RaceConnector) Reconnect(ctx context.Context) (Client, error) {
	if err := r.Disconnect(); err != nil {
		return nil, err
	}
	return r.Connect(ctx)
}

type raceResult struct {
	client Client
	url    string
	err    error
}

// connectMultiple races every URL; the first success wins and the remaining
// in-flight attempts are abandoned (their sockets closed as their results
// arrive). If every candidate fails the error aggregates all causes.
func (r *RaceConnector) connectMultiple(ctx context.Context, urls []string) (Client, error) {
	results := make(chan raceResult, len(urls))

	for _, u := range urls {
		go func(u string) {
			r.logger.Debug("attempting connection", "url", u)
			c, err := r.dial(ctx, u)
			results <- raceResult{client: c, url: u, err: err}
		}(u)
	}

	var failures []error
	remaining := len(urls)

	for remaining > 0 {
		res := <-results
		remaining--

		if res.err != nil {
			r.logger.Warn("failed to connect", "url", res.url, "error", res.err)
			failures = append(failures, fmt.Errorf("%s: %w", res.url, res.err))
			continue
		}

		r.logger.Info("connected", "url", res.url)

		// Drain the stragglers: close late successes so they don't leak,
		// log late failures so every attempt leaves a trace.
		go func(remaining int) {
			for i := 0; i < remaining; i++ {
				late := <-results
				if late.err != nil {
					r.logger.Warn("failed to connect", "url", late.url, "error", late.err)
					continue
				}
				late.client.Close()
			}
		}(remaining)

		return res.client, nil
	}

	return nil, errors.Join(ErrNoEndpoint, errors.Join(failures...))
}

func (r *RaceConnector) dial(ctx context.Context, url string) (Client, error) {
	cfg := r.cfg
	cfg.URL = url
	c := NewClient(cfg, r.logger.With("url", url))
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}
