package conn

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gorudt/rudt/congestion"
	"github.com/gorudt/rudt/flowctl"
	"github.com/gorudt/rudt/registry"
	"github.com/gorudt/rudt/segment"
	"github.com/gorudt/rudt/substrate"
)

// Observer bundles the registry, flow-control and congestion-control
// observer interfaces so a single metrics implementation can be wired into
// every engine the server creates.
type Observer interface {
	registry.Observer
	flowctl.Observer
	congestion.Observer
}

// DataHandler is invoked with the payload of every successfully delivered
// PSH segment. The default, if none is set, discards the payload.
type DataHandler func(from *net.UDPAddr, payload []byte)

// Server owns the registry and the shared listening socket, and runs the
// single dispatch loop that demultiplexes inbound segments by flag
// precedence.
type Server struct {
	listener substrate.Listener
	registry *registry.Registry
	mss      uint32
	log      *logrus.Entry
	observer Observer
	onData   DataHandler

	mu      sync.Mutex
	pending map[registry.Key]pendingHandshake
}

type pendingHandshake struct {
	serverISN uint32
	clientISN uint32
}

// NewServer creates a Server over listener, using reg as its peer table.
func NewServer(listener substrate.Listener, reg *registry.Registry, mss uint32, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		listener: listener,
		registry: reg,
		mss:      mss,
		log:      log,
		pending:  make(map[registry.Key]pendingHandshake),
	}
}

// SetObserver attaches an Observer notified of registry, flow-control and
// congestion-control events across every connection the server handles.
func (s *Server) SetObserver(o Observer) {
	s.observer = o
	s.registry.SetObserver(o)
}

// SetDataHandler sets the callback invoked with each delivered payload.
func (s *Server) SetDataHandler(h DataHandler) {
	s.onData = h
}

// Run drives the dispatch loop until ctx is cancelled or the listener
// fails. A periodic wake of SweepInterval both bounds the blocking receive
// and drives registry.Sweep.
func (s *Server) Run(ctx context.Context) error {
	nextSweep := time.Now().Add(SweepInterval)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		buf, from, err := s.listener.RecvFrom(nextSweep)
		now := time.Now()
		if !now.Before(nextSweep) {
			s.sweep(now)
			nextSweep = now.Add(SweepInterval)
		}
		if err != nil {
			if substrate.IsTimeout(err) {
				continue
			}
			return fmt.Errorf("conn: listener error: %w", err)
		}

		seg, err := segment.Decode(buf)
		if err != nil || !segment.Verify(seg) {
			continue // Malformed segment: drop silently.
		}

		s.dispatch(seg, from, now)
	}
}

func (s *Server) sweep(now time.Time) {
	evicted := s.registry.Sweep(now)
	if len(evicted) == 0 {
		return
	}
	s.mu.Lock()
	for _, addr := range evicted {
		delete(s.pending, registry.KeyOf(addr))
	}
	s.mu.Unlock()
	s.log.WithField("count", len(evicted)).Debug("swept inactive peers")
}

// dispatch demultiplexes one verified segment by flag precedence: SYN, then
// FIN, then a PSH-free ACK (heartbeat/handshake finalizer), then PSH.
func (s *Server) dispatch(seg *segment.Segment, from *net.UDPAddr, now time.Time) {
	switch {
	case seg.HasFlag(segment.FlagSyn):
		s.handleSyn(seg, from, now)
	case seg.HasFlag(segment.FlagFin):
		s.handleFin(seg, from)
	case seg.HasFlag(segment.FlagAck) && !seg.HasFlag(segment.FlagPsh):
		s.handleAck(seg, from, now)
	case seg.HasFlag(segment.FlagPsh):
		s.handleData(seg, from, now)
	}
}

func (s *Server) handleSyn(seg *segment.Segment, from *net.UDPAddr, now time.Time) {
	p, err := s.registry.Add(from, now)
	if err != nil {
		return // CapacityExceeded: SYN from an unregisterable peer is dropped.
	}

	key := registry.KeyOf(from)

	switch p.State() {
	case registry.StateClosed:
		pending := pendingHandshake{serverISN: flowctl.RandomISN(), clientISN: seg.SeqNum}
		s.mu.Lock()
		s.pending[key] = pending
		s.mu.Unlock()

		p.SetState(registry.StateSynReceived)
		p.Touch(now)
		s.sendSynAck(from, seg.DestPort, seg.SourcePort, pending)
	case registry.StateSynReceived:
		// The client's own SYN retransmission timer fired again, most
		// likely because our first SYN|ACK was lost: resend it with the
		// same ISN rather than minting a new one, so the handshake can
		// still complete once the reply gets through.
		s.mu.Lock()
		pending, ok := s.pending[key]
		s.mu.Unlock()
		if !ok {
			return
		}
		p.Touch(now)
		s.sendSynAck(from, seg.DestPort, seg.SourcePort, pending)
	default:
		// ESTABLISHED/CLOSING: handshake already completed; a late SYN is
		// stale and ignored.
	}
}

func (s *Server) sendSynAck(from *net.UDPAddr, localPort, remotePort uint16, pending pendingHandshake) {
	reply := &segment.Segment{
		SourcePort: localPort,
		DestPort:   remotePort,
		SeqNum:     pending.serverISN,
		AckNum:     pending.clientISN + 1,
		Flags:      segment.FlagSyn | segment.FlagAck,
		WindowSize: flowctl.DefaultReceiveWindow,
	}
	if err := s.listener.SendTo(segment.Encode(reply), from); err != nil {
		s.log.WithError(err).Warn("failed to send SYN|ACK")
	}
}

func (s *Server) handleAck(seg *segment.Segment, from *net.UDPAddr, now time.Time) {
	p := s.registry.Find(from)
	if p == nil {
		return
	}

	switch p.State() {
	case registry.StateSynReceived:
		s.finalizeHandshake(p, seg, from, now)
	case registry.StateEstablished:
		p.Touch(now) // Bare heartbeat ACK.
	default:
		// CLOSING/CLOSED: the peer is already torn down server-side;
		// a late ACK is terminal and ignored.
	}
}

func (s *Server) finalizeHandshake(p *registry.PeerRecord, seg *segment.Segment, from *net.UDPAddr, now time.Time) {
	key := registry.KeyOf(from)
	s.mu.Lock()
	pending, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	s.mu.Unlock()
	if !ok || seg.AckNum != pending.serverISN+1 {
		return // Protocol violation: ignore.
	}

	p.SetState(registry.StateEstablished)
	p.SetExpectedNext(pending.clientISN + 1)
	p.Touch(now)

	peer := s.listener.PeerFor(from)
	p.EnsureFlow(func() *flowctl.Engine {
		e := flowctl.New(peer, seg.DestPort, seg.SourcePort, pending.serverISN+1, pending.clientISN+1, s.mss)
		if s.observer != nil {
			e.SetObserver(s.observer)
			e.Congestion().SetObserver(s.observer)
		}
		return e
	})
}

func (s *Server) handleFin(seg *segment.Segment, from *net.UDPAddr) {
	p := s.registry.Find(from)
	if p == nil {
		return
	}

	var seq uint32
	if flow := p.Flow(); flow != nil {
		seq = flow.State().NextSeq
	}

	reply := &segment.Segment{
		SourcePort: seg.DestPort,
		DestPort:   seg.SourcePort,
		SeqNum:     seq,
		AckNum:     seg.SeqNum + 1,
		Flags:      segment.FlagFin | segment.FlagAck,
		WindowSize: flowctl.DefaultReceiveWindow,
	}
	if err := s.listener.SendTo(segment.Encode(reply), from); err != nil {
		s.log.WithError(err).Warn("failed to send FIN|ACK")
	}

	s.registry.Remove(from)
}

func (s *Server) handleData(seg *segment.Segment, from *net.UDPAddr, now time.Time) {
	p := s.registry.Find(from)
	if p == nil || p.State() != registry.StateEstablished {
		return
	}

	peer := s.listener.PeerFor(from)
	flow := p.EnsureFlow(func() *flowctl.Engine {
		e := flowctl.New(peer, seg.DestPort, seg.SourcePort, 0, 0, s.mss)
		if s.observer != nil {
			e.SetObserver(s.observer)
			e.Congestion().SetObserver(s.observer)
		}
		return e
	})

	payload, err := flow.HandleData(seg)
	if err != nil {
		s.log.WithError(err).Warn("failed to acknowledge data segment")
		return
	}
	if payload == nil {
		return
	}

	p.Touch(now)
	p.SetExpectedNext(seg.SeqNum + uint32(len(seg.Payload)))

	if s.onData != nil {
		s.onData(from, payload)
	}
}
