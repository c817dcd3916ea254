package flowctl

import (
	"errors"
	"fmt"
	"time"

	"github.com/gorudt/rudt/congestion"
	"github.com/gorudt/rudt/segment"
	"github.com/gorudt/rudt/substrate"
)

// Tunable-in-name-only constants from the protocol design; these are fixed
// parameters of the wire protocol, not configuration knobs.
const (
	// FlowControlTimeout is how long the sender waits for an ACK to a
	// single outstanding chunk before retransmitting.
	FlowControlTimeout = 2 * time.Second

	// MaxRetransmissions is the number of timeouts a single chunk may
	// suffer before Send gives up and reports ErrTransferFailed.
	MaxRetransmissions = 5

	// gatingWait is how long Send waits for an opportunistic ACK when the
	// congestion window does not currently admit the next chunk.
	gatingWait = 100 * time.Millisecond

	// DefaultReceiveWindow is the window this endpoint advertises for its
	// own receive buffer absent any other signal.
	DefaultReceiveWindow = 65535
)

// ErrTransferFailed is returned by Send once MaxRetransmissions has been
// exhausted for a chunk.
var ErrTransferFailed = errors.New("flowctl: transfer failed, retransmission budget exhausted")

// ErrTimeout is returned by Recv when no segment arrives before the
// caller's deadline.
var ErrTimeout = errors.New("flowctl: receive timed out")

// ErrSubstrateError wraps an underlying I/O failure from the substrate.
var ErrSubstrateError = errors.New("flowctl: substrate error")

// Observer receives notifications of flow-control events; it is used to
// feed an optional metrics bundle without coupling this package to any
// particular metrics library.
type Observer interface {
	Retransmission()
	TransferFailed()
}

// Engine drives reliable, windowed, cumulative-ACK transfer over a single
// connection. It binds one FlowState to one congestion.State for the
// lifetime of the connection: callers must not construct a
// fresh congestion.State per Send call.
type Engine struct {
	peer       substrate.Peer
	state      *FlowState
	congestion *congestion.State
	localPort  uint16
	remotePort uint16
	recvWindow uint16
	observer   Observer
}

// New creates an Engine bound to peer, with the given local/remote ports
// and initial sequence number. mss is frozen into the bound congestion
// state for the engine's lifetime. LastAck starts at initialSeq, so nothing
// is in flight; peerAck is not stored.
func New(peer substrate.Peer, localPort, remotePort uint16, initialSeq, peerAck uint32, mss uint32) *Engine {
	return &Engine{
		peer: peer,
		state: &FlowState{
			BaseSeq: initialSeq,
			NextSeq: initialSeq,
			LastAck: initialSeq,
			Rwnd:    DefaultReceiveWindow,
			peer:    peer,
			local:   localPort,
			remote:  remotePort,
		},
		congestion: congestion.New(mss),
		localPort:  localPort,
		remotePort: remotePort,
		recvWindow: DefaultReceiveWindow,
	}
}

// SetObserver attaches an Observer notified of retransmissions and transfer
// failures. Passing nil detaches any existing observer.
func (e *Engine) SetObserver(o Observer) {
	e.observer = o
}

// State returns the engine's FlowState.
func (e *Engine) State() *FlowState { return e.state }

// Congestion returns the engine's bound congestion-control state.
func (e *Engine) Congestion() *congestion.State { return e.congestion }

// Send transmits data reliably to the peer, chunked to the effective
// window (min of congestion and receiver windows) and acknowledged
// cumulatively. It uses stop-and-wait per-chunk semantics: at most one
// chunk is outstanding at a time. It returns the number of bytes
// successfully delivered. When a chunk exhausts the retransmission budget,
// Send returns ErrTransferFailed together with the bytes acknowledged
// before that chunk (0 if it was the first).
func (e *Engine) Send(data []byte) (int, error) {
	bytesSent := 0
	total := len(data)

	for bytesSent < total {
		chunk, ok := e.nextChunk(data[bytesSent:])
		if !ok {
			e.awaitOpportunisticAck()
			continue
		}

		segStart := e.state.NextSeq
		priorLastAck := e.state.LastAck

		n, err := e.sendChunkUntilAcked(chunk, segStart, priorLastAck)
		if err != nil {
			return bytesSent, err
		}
		bytesSent += n
	}

	return bytesSent, nil
}

// nextChunk computes the next payload slice to send, bounded by the
// effective window and MaxPayloadSize, and reports whether the congestion
// window currently admits it.
func (e *Engine) nextChunk(remaining []byte) ([]byte, bool) {
	eff := e.congestion.Cwnd()
	if uint32(e.state.Rwnd) < eff {
		eff = uint32(e.state.Rwnd)
	}

	size := len(remaining)
	if uint32(size) > eff {
		size = int(eff)
	}
	if size > segment.MaxPayloadSize {
		size = segment.MaxPayloadSize
	}

	if size == 0 {
		return nil, false
	}

	if !e.congestion.CanSend(e.state.NextSeq, e.state.LastAck, size) {
		return nil, false
	}

	return remaining[:size], true
}

// awaitOpportunisticAck waits briefly for an incoming ACK while the
// congestion window doesn't currently admit the next chunk, applying it if
// one arrives so the next gating check sees an updated window.
func (e *Engine) awaitOpportunisticAck() {
	raw, err := e.peer.Recv(time.Now().Add(gatingWait))
	if err != nil {
		return
	}
	seg, err := segment.Decode(raw)
	if err != nil || !segment.Verify(seg) || !seg.HasFlag(segment.FlagAck) {
		return
	}
	e.applyAck(seg, e.state.NextSeq, e.state.LastAck)
}

// sendChunkUntilAcked transmits chunk starting at segStart and retries on
// timeout until it is acknowledged or the retransmission budget is
// exhausted. It returns the number of bytes the peer actually acknowledged
// (capped at len(chunk)).
func (e *Engine) sendChunkUntilAcked(chunk []byte, segStart, priorLastAck uint32) (int, error) {
	seg := &segment.Segment{
		SourcePort: e.localPort,
		DestPort:   e.remotePort,
		SeqNum:     segStart,
		AckNum:     e.state.LastAck,
		Flags:      segment.FlagPsh,
		WindowSize: uint16(e.congestion.Cwnd()),
		Payload:    chunk,
	}

	retransmissions := 0
	for {
		if err := e.peer.Send(segment.Encode(seg)); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrSubstrateError, err)
		}

		ack, timedOut, err := e.waitForAck()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrSubstrateError, err)
		}

		if timedOut {
			retransmissions++
			if e.observer != nil {
				e.observer.Retransmission()
			}
			if retransmissions >= MaxRetransmissions {
				if e.observer != nil {
					e.observer.TransferFailed()
				}
				return 0, ErrTransferFailed
			}
			e.congestion.OnTimeout()
			continue
		}
		if ack == nil {
			// Malformed, unrelated or non-ACK segment: dropped silently,
			// keep waiting for this same chunk.
			continue
		}

		advanced, newAck := e.applyAck(ack, segStart, priorLastAck)
		if newAck {
			advanced = min(advanced, len(chunk))
			e.state.NextSeq = segStart + uint32(advanced)
			return advanced, nil
		}
		// Duplicate or regressing ACK: keep waiting for the real one.
	}
}

// waitForAck waits up to FlowControlTimeout for the next segment from the
// peer, returning a decoded+verified segment, or (nil, true, nil) on
// timeout, or (nil, false, nil) if a segment arrived but was malformed or
// not an ACK.
func (e *Engine) waitForAck() (seg *segment.Segment, timedOut bool, err error) {
	raw, rerr := e.peer.Recv(time.Now().Add(FlowControlTimeout))
	if rerr != nil {
		if substrate.IsTimeout(rerr) {
			return nil, true, nil
		}
		return nil, false, rerr
	}

	s, derr := segment.Decode(raw)
	if derr != nil || !segment.Verify(s) || !s.HasFlag(segment.FlagAck) {
		return nil, false, nil
	}
	return s, false, nil
}

// applyAck folds an incoming ACK segment into the flow and congestion
// state. It always updates rwnd and the monotonic last-ack (FlowState's
// on_ack), and additionally drives the bound congestion
// state's new-ack or duplicate-ack transition. It reports the number of
// newly acknowledged bytes relative to segStart and whether ackNum
// represents a genuinely new cumulative ack (ackNum > segStart).
func (e *Engine) applyAck(ack *segment.Segment, segStart, priorLastAck uint32) (advanced int, isNew bool) {
	e.state.Rwnd = ack.WindowSize
	if ack.AckNum > e.state.LastAck {
		e.state.LastAck = ack.AckNum
	}

	switch {
	case ack.AckNum > segStart:
		e.congestion.OnAck(ack.AckNum)
		return int(ack.AckNum - segStart), true
	case ack.AckNum == priorLastAck:
		e.congestion.OnDupAck(ack.AckNum)
		return 0, false
	default:
		// Protocol violation: ignore.
		return 0, false
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Recv waits for one incoming data segment, up to deadline. On success it
// copies the payload into buf (truncated to buf's capacity), emits a
// cumulative ACK, and returns the payload length. It returns ErrTimeout if
// no segment arrives before deadline. A malformed or non-PSH segment is
// dropped and Recv returns (0, nil) without emitting an ACK.
func (e *Engine) Recv(buf []byte, deadline time.Time) (int, error) {
	raw, err := e.peer.Recv(deadline)
	if err != nil {
		if substrate.IsTimeout(err) {
			return 0, ErrTimeout
		}
		return 0, fmt.Errorf("%w: %v", ErrSubstrateError, err)
	}

	seg, err := segment.Decode(raw)
	if err != nil || !segment.Verify(seg) {
		return 0, nil
	}

	payload, err := e.HandleData(seg)
	if payload == nil {
		return 0, err
	}
	return copy(buf, payload), err
}

// HandleData applies the receive algorithm to a segment that has
// already been read and verified by the caller (the server dispatch loop
// demultiplexes inbound datagrams by address before handing one off to its
// peer's Engine, so it decodes and checksum-verifies once, centrally,
// rather than through Recv's own blocking read). It returns the segment's
// payload, or nil if the segment did not carry PSH. A non-nil error
// indicates the acknowledgement could not be sent.
func (e *Engine) HandleData(seg *segment.Segment) ([]byte, error) {
	if !seg.HasFlag(segment.FlagPsh) {
		return nil, nil
	}

	payload := append([]byte(nil), seg.Payload...)

	ack := &segment.Segment{
		SourcePort: e.localPort,
		DestPort:   e.remotePort,
		SeqNum:     e.state.NextSeq,
		AckNum:     seg.SeqNum + uint32(len(seg.Payload)),
		Flags:      segment.FlagAck,
		WindowSize: e.recvWindow,
	}
	if err := e.peer.Send(segment.Encode(ack)); err != nil {
		return payload, fmt.Errorf("%w: %v", ErrSubstrateError, err)
	}

	return payload, nil
}
