package pocket

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/optionwire/optionwire/internal/connection"
	"github.com/optionwire/optionwire/internal/session"
)

const authEnvelopePrefix = `42["auth",`

// DefaultUserAgent is sent on upgrade when the session carries none.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Region endpoint tables. Ordering is accepted as given; proximity sorting is
// a separate concern.
var (
	liveEndpoints = []string{
		"wss://api-eu.po.market/socket.io/?EIO=4&transport=websocket",
		"wss://api-sc.po.market/socket.io/?EIO=4&transport=websocket",
		"wss://api-hk.po.market/socket.io/?EIO=4&transport=websocket",
	}
	demoEndpoints = []string{
		"wss://demo-api-eu.po.market/socket.io/?EIO=4&transport=websocket",
	}
)

// Cred is the parsed session credential. The raw auth message is kept
// verbatim so the handshake replays exactly what the caller supplied.
type Cred struct {
	raw      string
	Session  string
	Demo     bool
	UID      uint64
	Platform int
}

type credPayload struct {
	Session  string `json:"session"`
	IsDemo   int    `json:"isDemo"`
	UID      uint64 `json:"uid"`
	Platform int    `json:"platform"`
}

// ParseCred accepts either the full `42["auth",{...}]` message or the bare
// JSON object and normalizes to the full form.
func ParseCred(data string) (*Cred, error) {
	trimmed := strings.TrimSpace(data)

	body := trimmed
	if strings.HasPrefix(trimmed, authEnvelopePrefix) {
		body = strings.TrimPrefix(trimmed, authEnvelopePrefix)
		var ok bool
		body, ok = strings.CutSuffix(body, "]")
		if !ok {
			return nil, fmt.Errorf("parse credential: missing closing bracket")
		}
	}

	var payload credPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("parse credential: %w", err)
	}
	if payload.Session == "" {
		return nil, fmt.Errorf("parse credential: empty session")
	}

	raw := trimmed
	if !strings.HasPrefix(trimmed, authEnvelopePrefix) {
		raw = authEnvelopePrefix + body + "]"
	}

	return &Cred{
		raw:      raw,
		Session:  payload.Session,
		Demo:     payload.IsDemo == 1,
		UID:      payload.UID,
		Platform: payload.Platform,
	}, nil
}

// Frame re-emits the auth message for the handshake.
func (c *Cred) Frame() connection.Frame {
	return connection.Text(c.raw)
}

// Credentials converts to the session representation.
func (c *Cred) Credentials() session.Credentials {
	return session.Credentials{
		Raw:       c.raw,
		Demo:      c.Demo,
		UID:       c.UID,
		UserAgent: DefaultUserAgent,
	}
}

// Endpoints returns the candidate region URLs for this credential.
func (c *Cred) Endpoints() connection.Endpoints {
	urls := liveEndpoints
	if c.Demo {
		urls = demoEndpoints
	}
	out := make([]string, len(urls))
	copy(out, urls)
	return connection.Endpoints{URLs: out}
}
