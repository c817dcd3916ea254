// Package registry implements the server-side peer table: it indexes
// active peers by address, tracks their liveness, and expires peers that
// have gone silent.
package registry

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gorudt/rudt/congestion"
	"github.com/gorudt/rudt/flowctl"
)

// DefaultHeartbeatTimeout is the default interval of silence after which a
// peer is considered dead and swept.
const DefaultHeartbeatTimeout = 30 * time.Second

// DefaultCapacity is the default maximum number of peers a Registry will
// hold at once.
const DefaultCapacity = 100

// ErrCapacityExceeded is returned by Add when the registry is already at
// capacity and does not hold a record for the given address.
var ErrCapacityExceeded = errors.New("registry: capacity exceeded")

// State is the per-peer connection lifecycle state, server side.
type State int

const (
	StateClosed State = iota
	StateSynReceived
	StateEstablished
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateSynReceived:
		return "SYN_RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// Key uniquely identifies a peer by address. net.UDPAddr is not itself
// comparable in a way maps can key on reliably (the Zone field aside), so
// Registry normalizes addresses to Key before indexing.
type Key struct {
	IP   string
	Port int
}

// KeyOf derives the registry Key for a UDP address.
func KeyOf(addr *net.UDPAddr) Key {
	return Key{IP: addr.IP.String(), Port: addr.Port}
}

func (k Key) String() string {
	return net.JoinHostPort(k.IP, strconv.Itoa(k.Port))
}

// PeerRecord is the server's view of one remote peer.
type PeerRecord struct {
	Addr *net.UDPAddr

	mu            sync.Mutex
	lastHeartbeat time.Time
	expectedNext  uint32
	state         State
	flow          *flowctl.Engine
}

// Touch refreshes the peer's liveness timestamp. Called on every
// successfully processed segment from this peer.
func (p *PeerRecord) Touch(now time.Time) {
	p.mu.Lock()
	p.lastHeartbeat = now
	p.mu.Unlock()
}

// LastHeartbeat returns the timestamp of the peer's last successfully
// processed segment.
func (p *PeerRecord) LastHeartbeat() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastHeartbeat
}

// State returns the peer's current lifecycle state.
func (p *PeerRecord) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetState transitions the peer's lifecycle state.
func (p *PeerRecord) SetState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// ExpectedNext returns the next in-order sequence number expected from this
// peer.
func (p *PeerRecord) ExpectedNext() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expectedNext
}

// SetExpectedNext updates the next in-order sequence number expected from
// this peer.
func (p *PeerRecord) SetExpectedNext(seq uint32) {
	p.mu.Lock()
	p.expectedNext = seq
	p.mu.Unlock()
}

// Flow returns the peer's flow-control engine, or nil if EnsureFlow has not
// been called yet.
func (p *PeerRecord) Flow() *flowctl.Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flow
}

// EnsureFlow instantiates the peer's flow-control engine (and its bound
// congestion-control state) with new on the first call, and returns it.
// Subsequent calls return the same instance: the congestion state persists
// for the lifetime of the flow, not just for one send or receive call.
func (p *PeerRecord) EnsureFlow(new func() *flowctl.Engine) *flowctl.Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.flow == nil {
		p.flow = new()
	}
	return p.flow
}

// Congestion returns the peer's congestion-control state, or nil if no flow
// has been established yet.
func (p *PeerRecord) Congestion() *congestion.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.flow == nil {
		return nil
	}
	return p.flow.Congestion()
}

// Observer receives notifications of registry occupancy changes; it is used
// to feed an optional metrics bundle without coupling the registry to any
// particular metrics library.
type Observer interface {
	SetPeerCount(n int)
	PeerEvicted()
}

// Registry indexes active peers by address with a bounded capacity.
type Registry struct {
	capacity         int
	heartbeatTimeout time.Duration
	observer         Observer

	mu    sync.Mutex
	peers map[Key]*PeerRecord
}

// New creates a Registry with the given capacity and heartbeat timeout. A
// capacity of 0 selects DefaultCapacity; a timeout of 0 selects
// DefaultHeartbeatTimeout.
func New(capacity int, heartbeatTimeout time.Duration) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = DefaultHeartbeatTimeout
	}
	return &Registry{
		capacity:         capacity,
		heartbeatTimeout: heartbeatTimeout,
		peers:            make(map[Key]*PeerRecord),
	}
}

// SetObserver attaches an Observer that is notified of occupancy changes.
// Passing nil detaches any existing observer. Not safe to call concurrently
// with Add/Remove/Sweep.
func (r *Registry) SetObserver(o Observer) {
	r.observer = o
}

// Find looks up the peer record for addr, returning nil if none is
// registered.
func (r *Registry) Find(addr *net.UDPAddr) *PeerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peers[KeyOf(addr)]
}

// Add returns the existing record for addr if present; otherwise it
// allocates and inserts a new one, failing with ErrCapacityExceeded if the
// registry is already full.
func (r *Registry) Add(addr *net.UDPAddr, now time.Time) (*PeerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := KeyOf(addr)
	if p, ok := r.peers[key]; ok {
		return p, nil
	}

	if len(r.peers) >= r.capacity {
		return nil, ErrCapacityExceeded
	}

	p := &PeerRecord{
		Addr:          addr,
		lastHeartbeat: now,
		state:         StateClosed,
	}
	r.peers[key] = p
	r.notifyCount()
	return p, nil
}

// Remove deletes the record for addr, if any, releasing its owned
// FlowState.
func (r *Registry) Remove(addr *net.UDPAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := KeyOf(addr)
	if _, ok := r.peers[key]; ok {
		delete(r.peers, key)
		r.notifyCount()
	}
}

// Len returns the number of peers currently registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Sweep removes every peer whose last heartbeat plus the registry's
// heartbeat timeout has elapsed as of now, releasing their owned
// FlowState. It returns the addresses of the evicted peers.
func (r *Registry) Sweep(now time.Time) []*net.UDPAddr {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []*net.UDPAddr
	for key, p := range r.peers {
		if p.LastHeartbeat().Add(r.heartbeatTimeout).Before(now) {
			evicted = append(evicted, p.Addr)
			delete(r.peers, key)
			if r.observer != nil {
				r.observer.PeerEvicted()
			}
		}
	}
	if len(evicted) > 0 {
		r.notifyCount()
	}
	return evicted
}

// notifyCount reports current occupancy to the observer. Callers must hold
// r.mu.
func (r *Registry) notifyCount() {
	if r.observer != nil {
		r.observer.SetPeerCount(len(r.peers))
	}
}
