// Package connection provides the WebSocket transport layer: a Client
// wrapping a single connection, the Frame type shared by every layer above,
// and a Connector that races candidate endpoints and keeps the first winner.
package connection
