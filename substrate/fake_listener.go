package substrate

import (
	"net"
	"sync"
	"time"
)

// FakeListener is an in-memory, channel-backed stand-in for a shared
// listening socket, used by the conn package's own tests to exercise the
// server dispatch loop against multiple simulated clients without opening
// real sockets. It generalizes FakeLink's one-pair idiom to the
// many-clients-over-one-socket shape a real Listener has.
type FakeListener struct {
	addr    *net.UDPAddr
	inbound chan fakeDatagram

	mu      sync.Mutex
	clients map[string]chan []byte
}

type fakeDatagram struct {
	buf  []byte
	from *net.UDPAddr
}

// NewFakeListener creates a FakeListener bound to addr.
func NewFakeListener(addr *net.UDPAddr) *FakeListener {
	return &FakeListener{
		addr:    addr,
		inbound: make(chan fakeDatagram, 256),
		clients: make(map[string]chan []byte),
	}
}

// NewClient registers a simulated client socket at addr and returns a Peer
// bound to this listener that a test can drive as if it were a real
// client-side substrate.Dial.
func (l *FakeListener) NewClient(addr *net.UDPAddr) Peer {
	ch := make(chan []byte, 64)
	l.mu.Lock()
	l.clients[addr.String()] = ch
	l.mu.Unlock()
	return &fakeClientPeer{listener: l, local: addr, recvCh: ch}
}

func (l *FakeListener) RecvFrom(deadline time.Time) ([]byte, *net.UDPAddr, error) {
	var after <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return nil, nil, &timeoutError{}
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		after = timer.C
	}

	select {
	case dg := <-l.inbound:
		return dg.buf, dg.from, nil
	case <-after:
		return nil, nil, &timeoutError{}
	}
}

func (l *FakeListener) SendTo(buf []byte, addr *net.UDPAddr) error {
	l.mu.Lock()
	ch, ok := l.clients[addr.String()]
	l.mu.Unlock()
	if !ok {
		return nil // Unknown recipient: the substrate is best-effort.
	}
	cp := append([]byte(nil), buf...)
	select {
	case ch <- cp:
	default:
	}
	return nil
}

func (l *FakeListener) PeerFor(addr *net.UDPAddr) Peer {
	return &fakeListenerPeer{listener: l, remote: addr}
}

func (l *FakeListener) LocalAddr() *net.UDPAddr { return l.addr }

func (l *FakeListener) Close() error { return nil }

// fakeClientPeer is the client side of a FakeListener conversation.
type fakeClientPeer struct {
	listener *FakeListener
	local    *net.UDPAddr
	recvCh   chan []byte
}

func (p *fakeClientPeer) Send(buf []byte) error {
	cp := append([]byte(nil), buf...)
	select {
	case p.listener.inbound <- fakeDatagram{buf: cp, from: p.local}:
	default:
	}
	return nil
}

func (p *fakeClientPeer) Recv(deadline time.Time) ([]byte, error) {
	var after <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return nil, &timeoutError{}
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		after = timer.C
	}

	select {
	case buf := <-p.recvCh:
		return buf, nil
	case <-after:
		return nil, &timeoutError{}
	}
}

func (p *fakeClientPeer) RemoteAddr() *net.UDPAddr { return p.listener.addr }

// fakeListenerPeer is the server side of one conversation, bound to a
// specific remote address over the shared FakeListener.
type fakeListenerPeer struct {
	listener *FakeListener
	remote   *net.UDPAddr
}

func (p *fakeListenerPeer) Send(buf []byte) error {
	return p.listener.SendTo(buf, p.remote)
}

func (p *fakeListenerPeer) Recv(deadline time.Time) ([]byte, error) {
	// The server dispatch loop only ever hands already-received segments
	// to an Engine via HandleData; nothing calls Recv on this side of a
	// FakeListener conversation. Block until deadline for interface
	// completeness.
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d > 0 {
			time.Sleep(d)
		}
	}
	return nil, &timeoutError{}
}

func (p *fakeListenerPeer) RemoteAddr() *net.UDPAddr { return p.remote }
