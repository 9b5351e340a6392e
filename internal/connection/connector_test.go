package connection

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// captureHandler records log messages for assertions.
type captureHandler struct {
	mu   sync.Mutex
	msgs []string
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	h.msgs = append(h.msgs, r.Message)
	h.mu.Unlock()
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

func (h *captureHandler) has(msg string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.msgs {
		if m == msg {
			return true
		}
	}
	return false
}

func idleServer(t *testing.T) *httptest.Server {
	return mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
}

func TestRaceConnector_FirstSuccessWins(t *testing.T) {
	fast := idleServer(t)
	defer fast.Close()
	slow := idleServer(t)
	defer slow.Close()

	endpoints := Endpoints{URLs: []string{wsURL(fast), wsURL(slow)}}
	connector := NewRaceConnector(endpoints, DefaultClientConfig(), nil)

	client, err := connector.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("expected a connected client")
	}
}

func TestRaceConnector_SlowEndpointDoesNotDelayFast(t *testing.T) {
	fast := idleServer(t)
	defer fast.Close()

	// The slow endpoint accepts TCP but stalls the upgrade.
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer slow.Close()

	endpoints := Endpoints{URLs: []string{wsURL(slow), wsURL(fast)}}
	connector := NewRaceConnector(endpoints, DefaultClientConfig(), nil)

	start := time.Now()
	client, err := connector.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Connect took %v, should be bounded by the fast endpoint", elapsed)
	}
	if client.URL() != wsURL(fast) {
		t.Errorf("connected to %q, want fast endpoint %q", client.URL(), wsURL(fast))
	}
}

func TestRaceConnector_LateFailureIsLogged(t *testing.T) {
	fast := idleServer(t)
	defer fast.Close()

	// Accepts the TCP connection, then rejects the upgrade well after the
	// winner has been picked.
	lateFail := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer lateFail.Close()

	capture := &captureHandler{}
	endpoints := Endpoints{URLs: []string{wsURL(fast), wsURL(lateFail)}}
	connector := NewRaceConnector(endpoints, DefaultClientConfig(), slog.New(capture))

	client, err := connector.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	deadline := time.After(2 * time.Second)
	for !capture.has("failed to connect") {
		select {
		case <-deadline:
			t.Fatal("late dial failure was never logged")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRaceConnector_AllFail(t *testing.T) {
	endpoints := Endpoints{URLs: []string{"ws://127.0.0.1:1", "ws://127.0.0.1:2"}}
	cfg := DefaultClientConfig()
	cfg.HandshakeTimeout = time.Second
	connector := NewRaceConnector(endpoints, cfg, nil)

	_, err := connector.Connect(context.Background())
	if err == nil {
		t.Fatal("expected error when every endpoint fails")
	}
	if !errors.Is(err, ErrNoEndpoint) {
		t.Errorf("error = %v, want ErrNoEndpoint in chain", err)
	}
}

func TestRaceConnector_NoEndpoints(t *testing.T) {
	connector := NewRaceConnector(Endpoints{}, DefaultClientConfig(), nil)

	_, err := connector.Connect(context.Background())
	if !errors.Is(err, ErrNoEndpoint) {
		t.Errorf("error = %v, want ErrNoEndpoint", err)
	}
}

func TestRaceConnector_PinnedOverridesRace(t *testing.T) {
	pinned := idleServer(t)
	defer pinned.Close()

	endpoints := Endpoints{
		URLs:   []string{"ws://127.0.0.1:1"},
		Pinned: wsURL(pinned),
	}
	connector := NewRaceConnector(endpoints, DefaultClientConfig(), nil)

	client, err := connector.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if client.URL() != wsURL(pinned) {
		t.Errorf("connected to %q, want pinned %q", client.URL(), wsURL(pinned))
	}
}
