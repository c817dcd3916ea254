// Package conn implements connection lifecycle: the client-side three-way
// open and four-way close, and the server-side dispatch loop that
// demultiplexes inbound segments to registry peers by flag.
package conn

import (
	"errors"
	"time"
)

// Timing and retry parameters from the protocol design;
// fixed, not configurable per connection.
const (
	// HandshakeTimeout bounds how long the client waits for a reply to
	// each SYN or FIN before retrying.
	HandshakeTimeout = 2 * time.Second

	// MaxRetries caps handshake and close retries.
	MaxRetries = 3

	// SweepInterval is the server loop's periodic wake for
	// registry.Sweep, doubling as the receive deadline on the shared
	// socket.
	SweepInterval = 5 * time.Second
)

// ErrHandshakeFailed is returned by Dial when the three-way open exhausts
// MaxRetries without completing, or wrapped when the server's SYN|ACK
// acknowledges the wrong sequence number.
var ErrHandshakeFailed = errors.New("conn: handshake failed")

// ErrCloseFailed is returned by Close when the four-way close exhausts
// MaxRetries without completing.
var ErrCloseFailed = errors.New("conn: close failed")

// ClientObserver receives notifications of client-side connection events
// that have no other natural home; it lets an optional metrics bundle
// observe Dial without coupling this package to any particular metrics
// library.
type ClientObserver interface {
	// HandshakeFailed is called when the three-way open exhausts
	// MaxRetries without completing or the server's SYN|ACK acknowledges
	// the wrong sequence number.
	HandshakeFailed()
}
