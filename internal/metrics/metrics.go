// Package metrics defines the Prometheus collectors exported by the
// server: connection counts, acknowledgement traffic, retransmits,
// and queue depths.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector registered by the server. Passing a
// single struct around (instead of package-level globals) keeps
// per-peer and per-listener code testable against a private registry.
type Metrics struct {
	ConnectedPeers   prometheus.Gauge
	AcksReceived     prometheus.Counter
	NacksReceived    prometheus.Counter
	Retransmits      prometheus.Counter
	RecoveryDepth    prometheus.Gauge
	SplitReassembled prometheus.Counter
	SplitAbandoned   prometheus.Counter
	BytesReceived    prometheus.Counter
	BytesSent        prometheus.Counter
	TCPHeartbeats    prometheus.Counter
}

// New registers every collector with reg and returns the bundle.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "skyline",
			Name:      "connected_peers",
			Help:      "Number of peers currently in the Connected state.",
		}),
		AcksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skyline",
			Name:      "acks_received_total",
			Help:      "Total acknowledgements received across all peers.",
		}),
		NacksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skyline",
			Name:      "nacks_received_total",
			Help:      "Total negative acknowledgements received across all peers.",
		}),
		Retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skyline",
			Name:      "retransmits_total",
			Help:      "Total datagrams retransmitted from the recovery queue.",
		}),
		RecoveryDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "skyline",
			Name:      "recovery_queue_depth",
			Help:      "Sum of unacknowledged datagrams across all peers' recovery queues.",
		}),
		SplitReassembled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skyline",
			Name:      "split_reassembled_total",
			Help:      "Total split payloads successfully reassembled.",
		}),
		SplitAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skyline",
			Name:      "split_abandoned_total",
			Help:      "Total split payloads abandoned before full reassembly.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skyline",
			Name:      "bytes_received_total",
			Help:      "Total bytes received across UDP and TCP listeners.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skyline",
			Name:      "bytes_sent_total",
			Help:      "Total bytes sent across UDP and TCP listeners.",
		}),
		TCPHeartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skyline",
			Name:      "tcp_heartbeats_total",
			Help:      "Total TCP heartbeats emitted.",
		}),
	}

	reg.MustRegister(
		m.ConnectedPeers,
		m.AcksReceived,
		m.NacksReceived,
		m.Retransmits,
		m.RecoveryDepth,
		m.SplitReassembled,
		m.SplitAbandoned,
		m.BytesReceived,
		m.BytesSent,
		m.TCPHeartbeats,
	)
	return m
}
