package conn

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gorudt/rudt/flowctl"
	"github.com/gorudt/rudt/segment"
	"github.com/gorudt/rudt/substrate"
)

// Client is a client-initiated connection: one peer, taken through the
// three-way open, an established data phase, and the four-way close.
type Client struct {
	peer   substrate.Peer
	engine *flowctl.Engine
	closed bool
}

// Dial performs the three-way open against addr and returns an established
// Client. localPort identifies this endpoint in the segments it sends; mss
// is frozen into the connection's congestion state for its lifetime.
// observer may be nil; if given, its HandshakeFailed method is called once
// if the open exhausts MaxRetries without completing or the server's
// SYN|ACK acknowledges the wrong sequence number.
func Dial(addr *net.UDPAddr, localPort uint16, mss uint32, observer ClientObserver) (*Client, error) {
	peer, err := substrate.Dial(addr)
	if err != nil {
		return nil, err
	}
	return dialOverPeer(peer, localPort, uint16(addr.Port), mss, observer)
}

// dialOverPeer performs the three-way open over an already-bound peer. It
// is split out from Dial so the handshake logic can be exercised against an
// in-memory substrate in tests.
func dialOverPeer(peer substrate.Peer, localPort, remotePort uint16, mss uint32, observer ClientObserver) (*Client, error) {
	isn := flowctl.RandomISN()

	syn := &segment.Segment{
		SourcePort: localPort,
		DestPort:   remotePort,
		SeqNum:     isn,
		Flags:      segment.FlagSyn,
		WindowSize: flowctl.DefaultReceiveWindow,
	}

	synAck, err := sendAndWaitForFlags(peer, syn, segment.FlagSyn|segment.FlagAck)
	if err != nil {
		if observer != nil && errors.Is(err, ErrHandshakeFailed) {
			observer.HandshakeFailed()
		}
		return nil, err
	}

	rAck, rSeq := synAck.AckNum, synAck.SeqNum
	if rAck != isn+1 {
		if observer != nil {
			observer.HandshakeFailed()
		}
		return nil, fmt.Errorf("%w: server acked %d, expected %d", ErrHandshakeFailed, rAck, isn+1)
	}

	final := &segment.Segment{
		SourcePort: localPort,
		DestPort:   remotePort,
		SeqNum:     rAck,
		AckNum:     rSeq + 1,
		Flags:      segment.FlagAck,
		WindowSize: flowctl.DefaultReceiveWindow,
	}
	if err := peer.Send(segment.Encode(final)); err != nil {
		return nil, err
	}

	engine := flowctl.New(peer, localPort, remotePort, rAck, rAck, mss)
	return &Client{peer: peer, engine: engine}, nil
}

// sendAndWaitForFlags transmits seg up to MaxRetries times in all, waiting
// HandshakeTimeout after each transmission, until a reply carrying every
// flag in wantFlags arrives with a valid checksum.
func sendAndWaitForFlags(peer substrate.Peer, seg *segment.Segment, wantFlags uint8) (*segment.Segment, error) {
	raw := segment.Encode(seg)

	for attempt := 0; attempt < MaxRetries; attempt++ {
		if err := peer.Send(raw); err != nil {
			return nil, err
		}

		deadline := time.Now().Add(HandshakeTimeout)
		for time.Now().Before(deadline) {
			reply, err := peer.Recv(deadline)
			if err != nil {
				if substrate.IsTimeout(err) {
					break
				}
				return nil, err
			}
			decoded, err := segment.Decode(reply)
			if err != nil || !segment.Verify(decoded) {
				continue
			}
			if decoded.HasFlag(wantFlags) {
				return decoded, nil
			}
			// Unexpected segment for this state: dropped
			// silently and keeps waiting for the real reply.
		}
	}

	return nil, ErrHandshakeFailed
}

// Send transmits data reliably over the connection. See flowctl.Engine.Send.
func (c *Client) Send(data []byte) (int, error) {
	return c.engine.Send(data)
}

// Recv waits for one incoming data segment. See flowctl.Engine.Recv.
func (c *Client) Recv(buf []byte, deadline time.Time) (int, error) {
	return c.engine.Recv(buf, deadline)
}

// Close performs the four-way close: it sends FIN, waits for the
// responder's combined FIN|ACK, and sends the final ACK.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	state := c.engine.State()
	fin := &segment.Segment{
		SourcePort: state.LocalPort(),
		DestPort:   state.RemotePort(),
		SeqNum:     state.NextSeq,
		AckNum:     state.LastAck,
		Flags:      segment.FlagFin,
		WindowSize: flowctl.DefaultReceiveWindow,
	}

	finAck, err := sendAndWaitForFlags(c.peer, fin, segment.FlagFin|segment.FlagAck)
	if err != nil {
		return ErrCloseFailed
	}

	final := &segment.Segment{
		SourcePort: state.LocalPort(),
		DestPort:   state.RemotePort(),
		SeqNum:     finAck.AckNum,
		AckNum:     finAck.SeqNum + 1,
		Flags:      segment.FlagAck,
		WindowSize: flowctl.DefaultReceiveWindow,
	}
	return c.peer.Send(segment.Encode(final))
}
