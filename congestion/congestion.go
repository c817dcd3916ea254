// Package congestion implements the per-connection congestion-control state
// machine: slow start, congestion avoidance and fast recovery, driven by
// cumulative and duplicate acknowledgements and by retransmission timeouts.
package congestion

// Phase is a congestion-control state-machine phase.
type Phase int

const (
	SlowStart Phase = iota
	CongestionAvoidance
	FastRecovery
)

func (p Phase) String() string {
	switch p {
	case SlowStart:
		return "SlowStart"
	case CongestionAvoidance:
		return "CongestionAvoidance"
	case FastRecovery:
		return "FastRecovery"
	default:
		return "Unknown"
	}
}

// Constants from the protocol's congestion-control design; these are fixed
// parameters, not tunables.
const (
	// InitialCwndMSS is the number of MSS-sized segments the congestion
	// window starts at.
	InitialCwndMSS = 1

	// SsthreshInitial is the initial slow-start threshold, in bytes.
	SsthreshInitial = 65535

	// DuplicateAckThreshold is the number of duplicate ACKs that triggers
	// fast retransmit / fast recovery.
	DuplicateAckThreshold = 3
)

// Observer receives notifications of congestion-control transitions; it is
// used to feed an optional metrics bundle without coupling this package to
// any particular metrics library.
type Observer interface {
	SampleWindow(cwnd, ssthresh uint32)
	FastRecoveryEntered()
	TimeoutOccurred()
}

// State is the congestion-control state bound to one connection's
// lifetime. A State must not be shared between connections: creating it
// fresh on every send call (rather than once per connection) silently
// restarts slow start on every call, which is a
// likely bug in the system this protocol was modeled on.
type State struct {
	cwnd        uint32
	ssthresh    uint32
	phase       Phase
	lastAck     uint32
	haveLastAck bool
	dupAckCount int
	mss         uint32
	observer    Observer
}

// New creates a State for a connection with the given maximum segment size.
func New(mss uint32) *State {
	s := &State{
		cwnd:     InitialCwndMSS * mss,
		ssthresh: SsthreshInitial,
		phase:    SlowStart,
		mss:      mss,
	}
	return s
}

// SetObserver attaches an Observer notified of window samples and phase
// transitions. Passing nil detaches any existing observer.
func (s *State) SetObserver(o Observer) {
	s.observer = o
}

// Cwnd returns the current congestion window, in bytes.
func (s *State) Cwnd() uint32 { return s.cwnd }

// Ssthresh returns the current slow-start threshold, in bytes.
func (s *State) Ssthresh() uint32 { return s.ssthresh }

// Phase returns the current congestion-control phase.
func (s *State) Phase() Phase { return s.phase }

// MSS returns the maximum segment size this State was constructed with. It
// never changes over the State's lifetime.
func (s *State) MSS() uint32 { return s.mss }

func max(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// OnAck processes a new cumulative acknowledgement (ackNum greater than any
// previously seen). It advances the window per the current phase and
// transitions phases as required.
func (s *State) OnAck(ackNum uint32) {
	s.lastAck = ackNum
	s.haveLastAck = true
	s.dupAckCount = 0

	switch s.phase {
	case FastRecovery:
		s.cwnd = s.ssthresh
		s.phase = CongestionAvoidance
	case SlowStart:
		s.cwnd += s.mss
		if s.cwnd >= s.ssthresh {
			s.phase = CongestionAvoidance
		}
	case CongestionAvoidance:
		s.cwnd += (s.mss * s.mss) / s.cwnd
	}

	s.notify()
}

// OnDupAck processes a duplicate acknowledgement (same ackNum as the
// current lastAck). On the third consecutive duplicate it triggers fast
// retransmit / fast recovery; while already in FastRecovery, each further
// duplicate inflates the window by one MSS.
func (s *State) OnDupAck(ackNum uint32) {
	if !s.haveLastAck || ackNum != s.lastAck {
		// Not actually a duplicate of the tracked ack; ignore, as with
		// any other protocol violation.
		return
	}

	s.dupAckCount++

	switch {
	case s.dupAckCount == DuplicateAckThreshold:
		s.ssthresh = max(s.cwnd/2, s.mss)
		s.cwnd = s.ssthresh + DuplicateAckThreshold*s.mss
		s.phase = FastRecovery
		if s.observer != nil {
			s.observer.FastRecoveryEntered()
		}
	case s.phase == FastRecovery:
		s.cwnd += s.mss
	}

	s.notify()
}

// OnTimeout processes a retransmission timeout: it halves the window into
// the slow-start threshold, resets the congestion window to one MSS, and
// returns to SlowStart.
func (s *State) OnTimeout() {
	s.ssthresh = max(s.cwnd/2, s.mss)
	s.cwnd = s.mss
	s.dupAckCount = 0
	s.phase = SlowStart

	if s.observer != nil {
		s.observer.TimeoutOccurred()
	}
	s.notify()
}

// CanSend reports whether sending an additional chunk bytes would keep the
// in-flight total (nextSeq - lastAck) within the congestion window.
func (s *State) CanSend(nextSeq, lastAck uint32, chunk int) bool {
	inFlight := nextSeq - lastAck
	return uint64(inFlight)+uint64(chunk) <= uint64(s.cwnd)
}

func (s *State) notify() {
	if s.observer != nil {
		s.observer.SampleWindow(s.cwnd, s.ssthresh)
	}
}
