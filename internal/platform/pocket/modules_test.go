package pocket

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/optionwire/optionwire/internal/connection"
	"github.com/optionwire/optionwire/internal/runtime"
	"github.com/optionwire/optionwire/internal/session"
)

func textPtr(s string) *connection.Frame {
	f := connection.Text(s)
	return &f
}

func binaryPtr(s string) *connection.Frame {
	f := connection.Binary([]byte(s))
	return &f
}

// runModule drives a module loop with buffered channels and returns them.
func runModule(t *testing.T, m runtime.Module) (chan *connection.Frame, chan connection.Frame, chan error) {
	t.Helper()
	in := make(chan *connection.Frame, 16)
	out := make(chan connection.Frame, 16)
	done := make(chan error, 1)
	go func() {
		done <- m.Run(context.Background(), in, out)
	}()
	return in, out, done
}

func collect(t *testing.T, out chan connection.Frame, n int) []string {
	t.Helper()
	var got []string
	for i := 0; i < n; i++ {
		select {
		case f := <-out:
			got = append(got, f.Text())
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d of %d (have %v)", i+1, n, got)
		}
	}
	return got
}

func TestSessionModule_Handshake(t *testing.T) {
	cred, _ := ParseCred(demoAuth)
	m := NewSessionModule(cred, nil)
	in, out, done := runModule(t, m)

	// sid frame -> "40"
	in <- textPtr(`0{"sid":"abc","upgrades":[]}`)
	if got := collect(t, out, 1); got[0] != "40" {
		t.Errorf("sid reply = %q, want \"40\"", got[0])
	}

	// sid confirm -> auth replay
	in <- textPtr(`40{"sid":"def"}`)
	if got := collect(t, out, 1); got[0] != demoAuth {
		t.Errorf("auth reply = %q, want the credential frame", got[0])
	}

	// successauth -> bootstrap sequence ending in the default feed
	in <- textPtr(`451-["successauth",{"_placeholder":true,"num":0}]`)
	boot := collect(t, out, 5)
	if boot[0] != `42["indicator/load"]` {
		t.Errorf("bootstrap[0] = %q", boot[0])
	}
	if !strings.Contains(boot[3], `"changeSymbol"`) || !strings.Contains(boot[3], DefaultSymbol) {
		t.Errorf("bootstrap[3] = %q, want changeSymbol for the default feed", boot[3])
	}
	if boot[4] != `42["subfor","`+DefaultSymbol+`"]` {
		t.Errorf("bootstrap[4] = %q", boot[4])
	}

	// ping -> pong
	in <- textPtr("2")
	if got := collect(t, out, 1); got[0] != "3" {
		t.Errorf("ping reply = %q, want \"3\"", got[0])
	}

	close(in)
	if err := <-done; !errors.Is(err, runtime.ErrLoopEnded) {
		t.Errorf("Run = %v, want ErrLoopEnded", err)
	}
}

func TestSessionModule_RuleMatchesHandshakeFrames(t *testing.T) {
	cred, _ := ParseCred(demoAuth)
	r := NewSessionModule(cred, nil).Rule()

	matching := []string{
		`0{"sid":"abc"}`,
		`40{"sid":"def"}`,
		`451-["successauth",{}]`,
		"2",
	}
	for _, s := range matching {
		if !r.Match(textPtr(s)) {
			t.Errorf("rule did not match %q", s)
		}
	}
	if r.Match(textPtr(`42["other"]`)) {
		t.Error("rule matched an unrelated frame")
	}
	if r.Match(textPtr("25")) {
		t.Error("rule must match \"2\" exactly, not by prefix")
	}
}

func TestBalanceModule_UpdatesSession(t *testing.T) {
	sess := session.New(session.Credentials{}, "")
	m := NewBalanceModule(sess, 0, nil)
	in, _, done := runModule(t, m)

	in <- binaryPtr(`{"balance":9815.42,"isDemo":1}`)
	close(in)
	<-done

	bal, err := sess.Balance()
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if bal != 9815.42 {
		t.Errorf("Balance = %v, want 9815.42", bal)
	}
}

func TestBalanceModule_MalformedLeavesStateAndLoopAlive(t *testing.T) {
	sess := session.New(session.Credentials{}, "")
	sess.SetBalance(100)
	m := NewBalanceModule(sess, 0, nil)
	in, _, done := runModule(t, m)

	in <- binaryPtr(`{balance broken`)
	// The loop survives and processes the next payload.
	in <- binaryPtr(`{"balance":200}`)
	close(in)

	if err := <-done; !errors.Is(err, runtime.ErrLoopEnded) {
		t.Fatalf("Run = %v, want ErrLoopEnded", err)
	}

	bal, _ := sess.Balance()
	if bal != 200 {
		t.Errorf("Balance = %v, want 200 (malformed frame skipped)", bal)
	}
}

func TestBalanceModule_OnDisconnectClearsBalance(t *testing.T) {
	sess := session.New(session.Credentials{}, "")
	sess.SetBalance(100)
	m := NewBalanceModule(sess, 0, nil)

	m.OnDisconnect()

	if _, err := sess.Balance(); !errors.Is(err, session.ErrNoState) {
		t.Errorf("Balance after disconnect = %v, want ErrNoState", err)
	}
}

func TestAssetsModule_LoadsSession(t *testing.T) {
	sess := session.New(session.Credentials{}, "")
	m := NewAssetsModule(sess, 0, nil)
	in, _, done := runModule(t, m)

	in <- binaryPtr(`[` + assetRow + `]`)
	close(in)
	<-done

	if got := sess.AssetCount(); got != 1 {
		t.Errorf("AssetCount = %d, want 1", got)
	}
	if _, ok := sess.Asset("AAPL"); !ok {
		t.Error("expected AAPL loaded into the session")
	}
}

func TestServerTimeModule_UpdatesClock(t *testing.T) {
	sess := session.New(session.Credentials{}, "")
	m := NewServerTimeModule(sess, 0, nil)
	in, _, done := runModule(t, m)

	if !sess.ClockStale() {
		t.Fatal("clock must start stale")
	}

	in <- binaryPtr(`[["EURUSD_otc",1700000000.25,1.1]]`)
	close(in)
	<-done

	if sess.ClockStale() {
		t.Error("expected a fresh clock after a stream tick")
	}
}
