package expert

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/optionwire/optionwire/internal/connection"
	"github.com/optionwire/optionwire/internal/runtime"
)

type recordingSender struct {
	mu     sync.Mutex
	frames []connection.Frame
}

func (s *recordingSender) Send(ctx context.Context, f connection.Frame) error {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) last() (connection.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return connection.Frame{}, false
	}
	return s.frames[len(s.frames)-1], true
}

func framePtr(f connection.Frame) *connection.Frame { return &f }

func TestPingModule_AnswersServerPing(t *testing.T) {
	m := NewPingModule("tok", nil)
	in := make(chan *connection.Frame, 4)
	out := make(chan connection.Frame, 4)
	done := make(chan error, 1)
	go func() {
		done <- m.Run(context.Background(), in, out)
	}()

	ping, _ := NewEnvelope(ActionPing, "server", 7, map[string]int{"t": 1})
	pf, _ := ping.Frame()
	in <- framePtr(pf)

	select {
	case f := <-out:
		env, err := ParseEnvelope(f.Data)
		if err != nil {
			t.Fatalf("reply is not an envelope: %v", err)
		}
		if env.Action != ActionPong {
			t.Errorf("reply action = %q, want pong", env.Action)
		}
		if env.Ns == nil || *env.Ns != 7 {
			t.Errorf("reply ns = %v, want echo of 7", env.Ns)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no pong reply")
	}

	close(in)
	if err := <-done; !errors.Is(err, runtime.ErrLoopEnded) {
		t.Errorf("Run = %v, want ErrLoopEnded", err)
	}
}

func TestProfileModule_CorrelatesReply(t *testing.T) {
	m := NewProfileModule("tok", nil)
	sender := &recordingSender{}

	in := make(chan *connection.Frame, 4)
	go m.Run(context.Background(), in, nil)
	defer close(in)

	type result struct {
		profile Profile
		err     error
	}
	res := make(chan result, 1)
	go func() {
		p, err := m.Profile(context.Background(), sender, 2*time.Second)
		res <- result{profile: p, err: err}
	}()

	// Wait for the outbound command and echo its ns back.
	var sent connection.Frame
	deadline := time.After(time.Second)
	for {
		if f, ok := sender.last(); ok {
			sent = f
			break
		}
		select {
		case <-deadline:
			t.Fatal("profile command never sent")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cmd, err := ParseEnvelope(sent.Data)
	if err != nil {
		t.Fatalf("outbound command is not an envelope: %v", err)
	}
	if cmd.Ns == nil {
		t.Fatal("outbound command has no ns tag")
	}

	payload, _ := json.Marshal(map[string]any{
		"demo_balance": "10000",
		"real_balance": "52.5",
		"is_demo":      1,
	})
	reply := Envelope{Action: ActionProfile, Ns: cmd.Ns, Message: payload}
	rf, _ := reply.Frame()
	in <- framePtr(rf)

	r := <-res
	if r.err != nil {
		t.Fatalf("Profile failed: %v", r.err)
	}
	if !r.profile.Demo() {
		t.Error("expected demo profile")
	}
	if r.profile.RealBalance.String() != "52.5" {
		t.Errorf("RealBalance = %v, want 52.5", r.profile.RealBalance)
	}
}

func TestProfileModule_UnmatchedReplyDroppedThenTimeout(t *testing.T) {
	m := NewProfileModule("tok", nil)
	sender := &recordingSender{}

	in := make(chan *connection.Frame, 4)
	go m.Run(context.Background(), in, nil)
	defer close(in)

	// A reply nobody asked for is dropped without breaking the loop.
	ns := uint64(999)
	stray := Envelope{Action: ActionProfile, Ns: &ns, Message: json.RawMessage(`{}`)}
	sf, _ := stray.Frame()
	in <- framePtr(sf)

	_, err := m.Profile(context.Background(), sender, 50*time.Millisecond)

	var te *runtime.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want TimeoutError", err)
	}
	if te.Task != ActionProfile {
		t.Errorf("Task = %q, want %q", te.Task, ActionProfile)
	}
}
