// Package metrics exposes the protocol's running state as Prometheus
// collectors. It implements the Observer interfaces of the registry,
// congestion and flowctl packages so those packages stay decoupled from any
// particular metrics library.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Bundle is the full set of collectors fed by the running protocol.
type Bundle struct {
	PeerCount          prometheus.Gauge
	PeersEvicted       prometheus.Counter
	Retransmissions    prometheus.Counter
	TransfersFailed    prometheus.Counter
	HandshakeFailures  prometheus.Counter
	Timeouts           prometheus.Counter
	FastRecoveries     prometheus.Counter
	CongestionWindow   prometheus.Gauge
	SlowStartThreshold prometheus.Gauge
}

// New registers and returns a Bundle on reg. Passing nil registers on the
// default Prometheus registry.
func New(reg prometheus.Registerer) *Bundle {
	factory := promauto.With(reg)
	return &Bundle{
		PeerCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rudt",
			Subsystem: "registry",
			Name:      "peers",
			Help:      "Number of peers currently registered.",
		}),
		PeersEvicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rudt",
			Subsystem: "registry",
			Name:      "peers_evicted_total",
			Help:      "Total peers evicted for liveness timeout.",
		}),
		Retransmissions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rudt",
			Subsystem: "flow",
			Name:      "retransmissions_total",
			Help:      "Total chunk retransmissions due to ACK timeout.",
		}),
		TransfersFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rudt",
			Subsystem: "flow",
			Name:      "transfers_failed_total",
			Help:      "Total sends that exhausted the retransmission budget.",
		}),
		HandshakeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rudt",
			Subsystem: "conn",
			Name:      "handshake_failures_total",
			Help:      "Total client handshakes that exhausted their retry budget.",
		}),
		Timeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rudt",
			Subsystem: "congestion",
			Name:      "timeouts_total",
			Help:      "Total retransmission-timeout events observed by congestion control.",
		}),
		FastRecoveries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rudt",
			Subsystem: "congestion",
			Name:      "fast_recoveries_total",
			Help:      "Total entries into the FastRecovery phase.",
		}),
		CongestionWindow: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rudt",
			Subsystem: "congestion",
			Name:      "cwnd_bytes",
			Help:      "Most recently sampled congestion window, in bytes.",
		}),
		SlowStartThreshold: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rudt",
			Subsystem: "congestion",
			Name:      "ssthresh_bytes",
			Help:      "Most recently sampled slow-start threshold, in bytes.",
		}),
	}
}

// Handler returns the HTTP handler that serves the registry's metrics in
// the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetPeerCount implements registry.Observer.
func (b *Bundle) SetPeerCount(n int) { b.PeerCount.Set(float64(n)) }

// PeerEvicted implements registry.Observer.
func (b *Bundle) PeerEvicted() { b.PeersEvicted.Inc() }

// Retransmission implements flowctl.Observer.
func (b *Bundle) Retransmission() { b.Retransmissions.Inc() }

// TransferFailed implements flowctl.Observer.
func (b *Bundle) TransferFailed() { b.TransfersFailed.Inc() }

// SampleWindow implements congestion.Observer.
func (b *Bundle) SampleWindow(cwnd, ssthresh uint32) {
	b.CongestionWindow.Set(float64(cwnd))
	b.SlowStartThreshold.Set(float64(ssthresh))
}

// FastRecoveryEntered implements congestion.Observer.
func (b *Bundle) FastRecoveryEntered() { b.FastRecoveries.Inc() }

// TimeoutOccurred implements congestion.Observer.
func (b *Bundle) TimeoutOccurred() { b.Timeouts.Inc() }

// HandshakeFailed is called by the client when the three-way open fails:
// on exhausting MaxRetries, or on a SYN|ACK that acknowledges the wrong
// sequence number.
func (b *Bundle) HandshakeFailed() { b.HandshakeFailures.Inc() }
