package substrate

import (
	"math/rand"
	"net"
	"time"
)

// FakeLink is an in-memory, channel-backed datagram link between two Peers,
// used by the core packages' own tests so the control loops can be
// exercised deterministically without opening real sockets. A pair of
// directional channels stands in for the wire, with optional loss/
// duplication injection.
type FakeLink struct {
	aToB chan []byte
	bToA chan []byte

	addrA *net.UDPAddr
	addrB *net.UDPAddr

	// DropRate is the probability, in [0,1], that an outbound datagram is
	// silently dropped instead of delivered. Zero means a perfectly
	// reliable substrate; 1 drops every datagram.
	DropRate float64

	// DupRate is the probability, in [0,1), that an outbound datagram is
	// delivered twice.
	DupRate float64

	rand *rand.Rand
}

// NewFakeLink creates a connected pair of fake Peers addressed as addrA and
// addrB, with a no-loss, no-duplication substrate by default.
func NewFakeLink(addrA, addrB *net.UDPAddr, seed int64) (a, b Peer, link *FakeLink) {
	l := &FakeLink{
		aToB:  make(chan []byte, 64),
		bToA:  make(chan []byte, 64),
		addrA: addrA,
		addrB: addrB,
		rand:  rand.New(rand.NewSource(seed)),
	}
	return &fakePeer{link: l, send: l.aToB, recv: l.bToA, remote: addrB},
		&fakePeer{link: l, send: l.bToA, recv: l.aToB, remote: addrA},
		l
}

type fakePeer struct {
	link   *FakeLink
	send   chan []byte
	recv   chan []byte
	remote *net.UDPAddr
}

func (p *fakePeer) Send(buf []byte) error {
	cp := append([]byte(nil), buf...)

	if p.link.DropRate > 0 && p.link.rand.Float64() < p.link.DropRate {
		return nil
	}

	select {
	case p.send <- cp:
	default:
		// Channel full: the substrate is best-effort and may drop.
		return nil
	}

	if p.link.DupRate > 0 && p.link.rand.Float64() < p.link.DupRate {
		select {
		case p.send <- append([]byte(nil), cp...):
		default:
		}
	}

	return nil
}

func (p *fakePeer) Recv(deadline time.Time) ([]byte, error) {
	var timer *time.Timer
	var after <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return nil, &timeoutError{}
		}
		timer = time.NewTimer(d)
		after = timer.C
		defer timer.Stop()
	}

	select {
	case buf := <-p.recv:
		return buf, nil
	case <-after:
		return nil, &timeoutError{}
	}
}

func (p *fakePeer) RemoteAddr() *net.UDPAddr {
	return p.remote
}

type timeoutError struct{}

func (*timeoutError) Error() string   { return "substrate: i/o timeout" }
func (*timeoutError) Timeout() bool   { return true }
func (*timeoutError) Temporary() bool { return true }
