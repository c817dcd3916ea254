package registry

import (
	"net"
	"testing"
	"time"

	"github.com/gorudt/rudt/flowctl"
	"github.com/gorudt/rudt/substrate"
	"github.com/stretchr/testify/require"
)

func addr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}
}

func TestAddFindRemove(t *testing.T) {
	r := New(0, 0)
	now := time.Unix(1000, 0)

	p, err := r.Add(addr(1), now)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, 1, r.Len())

	found := r.Find(addr(1))
	require.Same(t, p, found)

	r.Remove(addr(1))
	require.Nil(t, r.Find(addr(1)))
	require.Equal(t, 0, r.Len())
}

func TestAddIsIdempotentPerAddress(t *testing.T) {
	r := New(0, 0)
	now := time.Unix(0, 0)

	p1, err := r.Add(addr(1), now)
	require.NoError(t, err)
	p2, err := r.Add(addr(1), now)
	require.NoError(t, err)
	require.Same(t, p1, p2)
	require.Equal(t, 1, r.Len())
}

func TestAddressEqualityIsIPAndPort(t *testing.T) {
	r := New(0, 0)
	now := time.Unix(0, 0)

	_, err := r.Add(addr(1), now)
	require.NoError(t, err)

	// Same IP, different port: distinct peer.
	_, err = r.Add(addr(2), now)
	require.NoError(t, err)
	require.Equal(t, 2, r.Len())
}

// Boundary behaviour: the N+1-th insertion refuses and leaves existing
// records intact.
func TestCapacityExceeded(t *testing.T) {
	r := New(2, 0)
	now := time.Unix(0, 0)

	_, err := r.Add(addr(1), now)
	require.NoError(t, err)
	_, err = r.Add(addr(2), now)
	require.NoError(t, err)

	_, err = r.Add(addr(3), now)
	require.ErrorIs(t, err, ErrCapacityExceeded)
	require.Equal(t, 2, r.Len())
	require.NotNil(t, r.Find(addr(1)))
	require.NotNil(t, r.Find(addr(2)))
}

func TestSweepEvictsOnlyExpiredPeers(t *testing.T) {
	r := New(0, 30*time.Second)
	base := time.Unix(10000, 0)

	_, err := r.Add(addr(1), base)
	require.NoError(t, err)
	pFresh, err := r.Add(addr(2), base)
	require.NoError(t, err)

	// Refresh pFresh just before the sweep point.
	pFresh.Touch(base.Add(29 * time.Second))

	evicted := r.Sweep(base.Add(31 * time.Second))
	require.Len(t, evicted, 1)
	require.Equal(t, KeyOf(addr(1)), KeyOf(evicted[0]))

	require.Nil(t, r.Find(addr(1)))
	require.NotNil(t, r.Find(addr(2)))
}

func TestSweepReleasesFlowState(t *testing.T) {
	r := New(0, time.Second)
	now := time.Unix(0, 0)

	p, err := r.Add(addr(1), now)
	require.NoError(t, err)
	peer, _, _ := substrate.NewFakeLink(addr(1), addr(2), 1)
	p.EnsureFlow(func() *flowctl.Engine {
		return flowctl.New(peer, 1, 2, 0, 0, 44)
	})
	require.NotNil(t, p.Flow())
	require.NotNil(t, p.Congestion())

	r.Sweep(now.Add(2 * time.Second))
	require.Nil(t, r.Find(addr(1)))
}

type countingObserver struct {
	counts  []int
	evicted int
}

func (c *countingObserver) SetPeerCount(n int) { c.counts = append(c.counts, n) }
func (c *countingObserver) PeerEvicted()       { c.evicted++ }

func TestObserverNotifiedOnOccupancyChange(t *testing.T) {
	r := New(0, time.Second)
	obs := &countingObserver{}
	r.SetObserver(obs)
	now := time.Unix(0, 0)

	_, err := r.Add(addr(1), now)
	require.NoError(t, err)
	r.Sweep(now.Add(2 * time.Second))

	require.Equal(t, 1, obs.evicted)
	require.Contains(t, obs.counts, 1)
	require.Contains(t, obs.counts, 0)
}

func TestPeerLifecycleStateTransitions(t *testing.T) {
	r := New(0, 0)
	p, err := r.Add(addr(1), time.Unix(0, 0))
	require.NoError(t, err)

	require.Equal(t, StateClosed, p.State())
	p.SetState(StateSynReceived)
	require.Equal(t, StateSynReceived, p.State())
	p.SetState(StateEstablished)
	require.Equal(t, "ESTABLISHED", p.State().String())
}
