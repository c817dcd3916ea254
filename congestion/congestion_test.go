package congestion

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitialState(t *testing.T) {
	s := New(536)
	require.Equal(t, uint32(536), s.Cwnd())
	require.Equal(t, uint32(SsthreshInitial), s.Ssthresh())
	require.Equal(t, SlowStart, s.Phase())
}

// Literal scenario 4: slow-start growth.
func TestSlowStartGrowth(t *testing.T) {
	s := New(536)
	s.OnAck(1)
	require.Equal(t, uint32(1072), s.Cwnd())
	require.Equal(t, SlowStart, s.Phase())

	s.OnAck(2)
	require.Equal(t, uint32(1608), s.Cwnd())
	require.Equal(t, SlowStart, s.Phase())
}

func TestSlowStartTransitionsAtSsthresh(t *testing.T) {
	s := New(1000)
	s.ssthresh = 2500
	s.OnAck(1) // cwnd 1000 -> 2000, still slow start
	require.Equal(t, uint32(2000), s.Cwnd())
	require.Equal(t, SlowStart, s.Phase())

	s.OnAck(2) // cwnd 2000 -> 3000 >= ssthresh(2500)
	require.Equal(t, uint32(3000), s.Cwnd())
	require.Equal(t, CongestionAvoidance, s.Phase())
}

func TestCongestionAvoidanceAdditiveIncrease(t *testing.T) {
	s := New(500)
	s.phase = CongestionAvoidance
	s.cwnd = 5000
	s.ssthresh = 2000

	s.OnAck(1)
	// cwnd += mss*mss/cwnd = 500*500/5000 = 50
	require.Equal(t, uint32(5050), s.Cwnd())
	require.Equal(t, CongestionAvoidance, s.Phase())
}

// Literal scenario 5: fast retransmit.
func TestFastRetransmitOnThirdDuplicate(t *testing.T) {
	s := New(536)
	s.phase = CongestionAvoidance
	s.cwnd = 5360
	s.lastAck = 1000
	s.haveLastAck = true

	s.OnDupAck(1000)
	require.Equal(t, 1, s.dupAckCount)
	require.Equal(t, CongestionAvoidance, s.Phase())

	s.OnDupAck(1000)
	require.Equal(t, 2, s.dupAckCount)
	require.Equal(t, CongestionAvoidance, s.Phase(), "2 duplicates must not yet trigger fast recovery")

	s.OnDupAck(1000)
	require.Equal(t, uint32(2680), s.Ssthresh())
	require.Equal(t, uint32(2680+3*536), s.Cwnd())
	require.Equal(t, FastRecovery, s.Phase())
}

func TestFastRecoveryInflatesOnFurtherDuplicates(t *testing.T) {
	s := New(536)
	s.phase = CongestionAvoidance
	s.cwnd = 5360
	s.lastAck = 1000
	s.haveLastAck = true

	s.OnDupAck(1000)
	s.OnDupAck(1000)
	s.OnDupAck(1000)
	cwndAfterEntry := s.Cwnd()

	s.OnDupAck(1000)
	require.Equal(t, cwndAfterEntry+536, s.Cwnd())
	require.Equal(t, FastRecovery, s.Phase())
}

func TestNewAckExitsFastRecovery(t *testing.T) {
	s := New(536)
	s.phase = FastRecovery
	s.ssthresh = 2680
	s.cwnd = 4288
	s.lastAck = 1000
	s.haveLastAck = true

	s.OnAck(2000)
	require.Equal(t, uint32(2680), s.Cwnd())
	require.Equal(t, CongestionAvoidance, s.Phase())
	require.Equal(t, 0, s.dupAckCount)
}

// Literal scenario 6: timeout then recover.
func TestTimeoutReturnsToSlowStart(t *testing.T) {
	s := New(536)
	s.phase = CongestionAvoidance
	s.cwnd = 10 * 536

	s.OnTimeout()
	require.Equal(t, uint32(2680), s.Ssthresh())
	require.Equal(t, uint32(536), s.Cwnd())
	require.Equal(t, SlowStart, s.Phase())
	require.Equal(t, 0, s.dupAckCount)
}

func TestTimeoutSsthreshFloorsAtMSS(t *testing.T) {
	s := New(1000)
	s.cwnd = 1500 // cwnd/2 = 750 < mss
	s.OnTimeout()
	require.Equal(t, uint32(1000), s.Ssthresh())
	require.Equal(t, uint32(1000), s.Cwnd())
}

func TestCanSendRespectsInFlightCap(t *testing.T) {
	s := New(536)
	s.cwnd = 1000

	require.True(t, s.CanSend(1000, 500, 500))  // in-flight 500 + 500 == cwnd
	require.False(t, s.CanSend(1000, 400, 500)) // in-flight 600 + 500 > cwnd
}

func TestCwndNeverBelowMSSAfterTransitions(t *testing.T) {
	s := New(536)
	require.GreaterOrEqual(t, s.Cwnd(), s.MSS())

	for i := 0; i < 50; i++ {
		s.OnAck(uint32(i + 1))
		require.GreaterOrEqual(t, s.Cwnd(), s.MSS())
		require.GreaterOrEqual(t, s.Ssthresh(), s.MSS())
	}

	s.OnTimeout()
	require.GreaterOrEqual(t, s.Cwnd(), s.MSS())
	require.GreaterOrEqual(t, s.Ssthresh(), s.MSS())
}

type recordingObserver struct {
	fastRecoveries int
	timeouts       int
	samples        int
}

func (r *recordingObserver) SampleWindow(cwnd, ssthresh uint32) { r.samples++ }
func (r *recordingObserver) FastRecoveryEntered()               { r.fastRecoveries++ }
func (r *recordingObserver) TimeoutOccurred()                   { r.timeouts++ }

func TestObserverNotified(t *testing.T) {
	obs := &recordingObserver{}
	s := New(536)
	s.SetObserver(obs)
	s.lastAck = 1000
	s.haveLastAck = true
	s.phase = CongestionAvoidance
	s.cwnd = 5360

	s.OnDupAck(1000)
	s.OnDupAck(1000)
	s.OnDupAck(1000)
	require.Equal(t, 1, obs.fastRecoveries)

	s.OnTimeout()
	require.Equal(t, 1, obs.timeouts)
	require.True(t, obs.samples > 0)
}
