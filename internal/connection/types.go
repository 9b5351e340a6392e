package connection

import (
	"errors"
	"strings"
	"time"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrAlreadyClosed = errors.New("already closed")
	ErrNoEndpoint    = errors.New("no endpoint reachable")
)

// FrameType distinguishes text and binary WebSocket messages.
type FrameType int

const (
	TextFrame FrameType = iota + 1
	BinaryFrame
)

// Frame is one WebSocket message crossing the wire. Inbound frames are
// dispatched as shared *Frame values and must be treated as read-only;
// outbound frames are owned by the sender until handed to the transport.
type Frame struct {
	Type FrameType
	Data []byte
}

// Text builds an outbound text frame.
func Text(s string) Frame {
	return Frame{Type: TextFrame, Data: []byte(s)}
}

// Binary builds an outbound binary frame.
func Binary(data []byte) Frame {
	return Frame{Type: BinaryFrame, Data: data}
}

// IsText reports whether the frame carries a text payload.
func (f Frame) IsText() bool {
	return f.Type == TextFrame
}

// IsBinary reports whether the frame carries a binary payload.
func (f Frame) IsBinary() bool {
	return f.Type == BinaryFrame
}

// TextPrefix reports whether the frame is a text frame starting with prefix.
func (f Frame) TextPrefix(prefix string) bool {
	return f.Type == TextFrame && strings.HasPrefix(string(f.Data), prefix)
}

// Text returns the payload as a string.
func (f Frame) Text() string {
	return string(f.Data)
}

// Endpoints is the set of candidate connection URLs. Ordering is supplied by
// the caller (e.g. by proximity); a non-empty Pinned URL overrides the set.
type Endpoints struct {
	URLs   []string
	Pinned string
}

// ClientConfig configures a single WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL
	Origin           string        // Origin header sent on upgrade
	UserAgent        string        // User-Agent header sent on upgrade
	HandshakeTimeout time.Duration // Dial timeout
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Inbound frame channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       256,
	}
}
