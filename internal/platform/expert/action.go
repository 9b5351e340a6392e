// Package expert implements the JSON envelope wire variant: every command and
// reply is a single JSON object sent as a binary frame.
package expert

import (
	"encoding/json"
	"fmt"

	"github.com/optionwire/optionwire/internal/connection"
	"github.com/optionwire/optionwire/internal/rule"
)

// Envelope is the wire shape shared by nearly all platform messages.
type Envelope struct {
	Action  string          `json:"action"`
	Token   *string         `json:"token"`
	Ns      *uint64         `json:"ns"`
	Message json.RawMessage `json:"message"`
}

// NewEnvelope builds a command envelope with the given payload.
func NewEnvelope(action, token string, ns uint64, payload any) (Envelope, error) {
	msg, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope %s: %w", action, err)
	}
	return Envelope{
		Action:  action,
		Token:   &token,
		Ns:      &ns,
		Message: msg,
	}, nil
}

// ParseEnvelope decodes an inbound envelope.
func ParseEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("envelope: %w", err)
	}
	if e.Action == "" {
		return Envelope{}, fmt.Errorf("envelope: empty action")
	}
	return e, nil
}

// Frame serializes the envelope as a binary frame.
func (e Envelope) Frame() (connection.Frame, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return connection.Frame{}, fmt.Errorf("envelope %s: %w", e.Action, err)
	}
	return connection.Binary(data), nil
}

// Payload decodes the envelope message into the given value.
func (e Envelope) Payload(into any) error {
	if len(e.Message) == 0 {
		return fmt.Errorf("envelope %s: empty message", e.Action)
	}
	if err := json.Unmarshal(e.Message, into); err != nil {
		return fmt.Errorf("envelope %s: %w", e.Action, err)
	}
	return nil
}

// ActionRule matches frames whose JSON carries one of the given action names.
// Works for both text and binary frames; this variant does not split payloads
// across frames.
func ActionRule(actions ...string) rule.Rule {
	set := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		set[a] = struct{}{}
	}
	return rule.Func(func(f *connection.Frame) bool {
		var head struct {
			Action string `json:"action"`
		}
		if json.Unmarshal(f.Data, &head) != nil {
			return false
		}
		_, ok := set[head.Action]
		return ok
	})
}
