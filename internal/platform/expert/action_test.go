package expert

import (
	"encoding/json"
	"testing"

	"github.com/optionwire/optionwire/internal/connection"
)

func TestEnvelope_RoundTrip(t *testing.T) {
	env, err := NewEnvelope("profile", "tok-123", 42, map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}

	f, err := env.Frame()
	if err != nil {
		t.Fatalf("Frame failed: %v", err)
	}
	if !f.IsBinary() {
		t.Error("commands must be sent as binary frames")
	}

	back, err := ParseEnvelope(f.Data)
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}

	if back.Action != "profile" {
		t.Errorf("Action = %q, want \"profile\"", back.Action)
	}
	if back.Token == nil || *back.Token != "tok-123" {
		t.Errorf("Token = %v, want tok-123", back.Token)
	}
	if back.Ns == nil || *back.Ns != 42 {
		t.Errorf("Ns = %v, want 42", back.Ns)
	}

	var payload map[string]string
	if err := back.Payload(&payload); err != nil {
		t.Fatalf("Payload failed: %v", err)
	}
	if payload["k"] != "v" {
		t.Errorf("payload = %v, want k=v", payload)
	}
}

func TestParseEnvelope_Invalid(t *testing.T) {
	cases := [][]byte{
		[]byte(`not json`),
		[]byte(`{"token":"x"}`), // missing action
		[]byte(`[]`),
	}
	for _, c := range cases {
		if _, err := ParseEnvelope(c); err == nil {
			t.Errorf("ParseEnvelope(%q) succeeded, want error", c)
		}
	}
}

func TestActionRule(t *testing.T) {
	r := ActionRule("ping", "profile")

	ping := connection.Binary([]byte(`{"action":"ping","message":{}}`))
	if !r.Match(&ping) {
		t.Error("expected match on known action")
	}

	text := connection.Text(`{"action":"profile","ns":1}`)
	if !r.Match(&text) {
		t.Error("expected match on text frames too")
	}

	other := connection.Binary([]byte(`{"action":"assets"}`))
	if r.Match(&other) {
		t.Error("unexpected match on unknown action")
	}

	junk := connection.Binary([]byte(`garbage`))
	if r.Match(&junk) {
		t.Error("unexpected match on non-JSON frame")
	}
}

func TestEnvelope_NullFieldsStayOptional(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"action":"ping","token":null,"ns":null,"message":{}}`))
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}
	if env.Token != nil || env.Ns != nil {
		t.Errorf("Token/Ns = %v/%v, want nil/nil", env.Token, env.Ns)
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	back, err := ParseEnvelope(data)
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	if back.Action != "ping" {
		t.Errorf("Action = %q", back.Action)
	}
}
