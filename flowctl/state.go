// Package flowctl implements reliable, windowed, cumulative-ACK data
// transfer over one connection: stop-and-wait per-chunk sending bounded by
// the effective window, and single-segment-at-a-time receiving with a
// cumulative ACK reply.
package flowctl

import (
	"math/rand"
	"net"

	"github.com/gorudt/rudt/substrate"
)

// FlowState holds the per-connection sequencing state shared by the send
// and receive paths.
type FlowState struct {
	// BaseSeq is the connection's initial sequence number, randomised at
	// connect time.
	BaseSeq uint32

	// NextSeq is the next byte (sequence number) the sender will send.
	NextSeq uint32

	// LastAck is the highest cumulative ACK number received so far.
	LastAck uint32

	// Rwnd is the peer-advertised receive window from the most recently
	// processed ACK.
	Rwnd uint16

	peer   substrate.Peer
	local  uint16
	remote uint16
}

// RandomISN returns a randomised initial sequence number, so successive
// connections between the same pair of ports don't collide on a
// predictable starting sequence.
func RandomISN() uint32 {
	return rand.Uint32()
}

// RemoteAddr returns the address of the peer this flow is bound to.
func (f *FlowState) RemoteAddr() *net.UDPAddr {
	return f.peer.RemoteAddr()
}

// LocalPort returns the local port identifying this endpoint in segments.
func (f *FlowState) LocalPort() uint16 { return f.local }

// RemotePort returns the remote peer's port.
func (f *FlowState) RemotePort() uint16 { return f.remote }
