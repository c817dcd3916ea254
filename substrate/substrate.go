// Package substrate binds the protocol core to a concrete datagram
// transport. The core only relies on unordered, lossy, duplicating,
// size-preserving delivery between address pairs; this
// package supplies that contract over net.PacketConn (UDP) and gives the
// core's own tests a seam to substitute an in-memory fake.
package substrate

import (
	"errors"
	"net"
	"time"

	"github.com/gorudt/rudt/buffer"
)

// ErrSubstrate wraps any I/O failure surfaced by the substrate, matching
// the category of errors the protocol core treats as substrate failures.
var ErrSubstrate = errors.New("substrate: I/O error")

// Peer is a bound conversation with one resolved remote address: sends
// always go to that address, and receives are filtered to datagrams that
// arrive from it. Endpoint-side code (flow control, handshake) only ever
// sees a Peer, never the shared listening socket.
type Peer interface {
	// Send transmits buf to the peer. It never blocks past the
	// substrate's own write deadline handling.
	Send(buf []byte) error

	// Recv waits for the next datagram from the peer, up to deadline. It
	// returns (nil, a net.Error whose Timeout reports true) on timeout;
	// callers distinguish timeout from other errors with IsTimeout.
	Recv(deadline time.Time) ([]byte, error)

	// RemoteAddr returns the peer's address.
	RemoteAddr() *net.UDPAddr
}

// IsTimeout reports whether err indicates that a Recv deadline elapsed
// without a datagram arriving, as opposed to a genuine I/O failure.
func IsTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// Listener is the server-side rendezvous point: it owns one shared
// net.PacketConn and reports the source address of each inbound datagram
// so the server loop can resolve it to a registry peer.
type Listener interface {
	// RecvFrom waits for the next datagram on the shared socket, up to
	// deadline.
	RecvFrom(deadline time.Time) (buf []byte, from *net.UDPAddr, err error)

	// SendTo transmits buf to addr.
	SendTo(buf []byte, addr *net.UDPAddr) error

	// PeerFor returns a Peer bound to addr, reusing this Listener's
	// underlying socket.
	PeerFor(addr *net.UDPAddr) Peer

	// LocalAddr returns the address the Listener is bound to.
	LocalAddr() *net.UDPAddr

	Close() error
}

const maxDatagramSize = 2048

// udpListener is the net.PacketConn-backed Listener implementation.
type udpListener struct {
	conn *net.UDPConn
}

// Listen binds a UDP socket at addr and returns a Listener over it.
func Listen(addr *net.UDPAddr) (Listener, error) {
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errWrap(err)
	}
	return &udpListener{conn: conn}, nil
}

func (l *udpListener) RecvFrom(deadline time.Time) ([]byte, *net.UDPAddr, error) {
	if err := l.conn.SetReadDeadline(deadline); err != nil {
		return nil, nil, errWrap(err)
	}
	buf := buffer.NewView(maxDatagramSize)
	n, from, err := l.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, err
	}
	buf.CapLength(n)
	return buf, from, nil
}

func (l *udpListener) SendTo(buf []byte, addr *net.UDPAddr) error {
	_, err := l.conn.WriteToUDP(buf, addr)
	if err != nil {
		return errWrap(err)
	}
	return nil
}

func (l *udpListener) PeerFor(addr *net.UDPAddr) Peer {
	return &udpPeer{listener: l, remote: addr}
}

func (l *udpListener) LocalAddr() *net.UDPAddr {
	return l.conn.LocalAddr().(*net.UDPAddr)
}

func (l *udpListener) Close() error {
	return l.conn.Close()
}

// udpPeer is a Peer bound to one remote address over a shared listening
// socket (server side) or a connected socket (client side).
type udpPeer struct {
	listener *udpListener
	conn     *net.UDPConn
	remote   *net.UDPAddr
}

// Dial opens a UDP socket connected to addr and returns a Peer over it,
// for client-side use where there is no shared Listener.
func Dial(addr *net.UDPAddr) (Peer, error) {
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, errWrap(err)
	}
	return &udpPeer{conn: conn, remote: addr}, nil
}

func (p *udpPeer) Send(buf []byte) error {
	var err error
	if p.conn != nil {
		_, err = p.conn.Write(buf)
	} else {
		_, err = p.listener.conn.WriteToUDP(buf, p.remote)
	}
	if err != nil {
		return errWrap(err)
	}
	return nil
}

func (p *udpPeer) Recv(deadline time.Time) ([]byte, error) {
	if p.conn == nil {
		return nil, errors.New("substrate: Recv on a listener-backed peer is not supported; use Listener.RecvFrom")
	}
	if err := p.conn.SetReadDeadline(deadline); err != nil {
		return nil, errWrap(err)
	}
	buf := buffer.NewView(maxDatagramSize)
	n, err := p.conn.Read(buf)
	if err != nil {
		return nil, err
	}
	buf.CapLength(n)
	return buf, nil
}

func (p *udpPeer) RemoteAddr() *net.UDPAddr {
	return p.remote
}

func (p *udpPeer) Close() error {
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func errWrap(err error) error {
	if err == nil {
		return nil
	}
	return &substrateError{err: err}
}

type substrateError struct {
	err error
}

func (e *substrateError) Error() string { return "substrate: " + e.err.Error() }
func (e *substrateError) Unwrap() error { return e.err }
func (e *substrateError) Is(target error) bool {
	return target == ErrSubstrate
}
