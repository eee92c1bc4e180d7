// Package metrics defines the Prometheus collectors for the relay.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "relay"

// TransportMetrics holds collectors for the websocket transport layer.
type TransportMetrics struct {
	ActiveConnections prometheus.Gauge
	ActiveRooms       prometheus.Gauge
	MessagesSent      prometheus.Counter
	SlowClientsEvicted prometheus.Counter
}

// NewTransportMetrics creates and registers transport metrics on the given registry.
func NewTransportMetrics(reg prometheus.Registerer) *TransportMetrics {
	m := &TransportMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "active_connections",
			Help:      "Number of active WebSocket connections.",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "active_rooms",
			Help:      "Number of rooms with at least one member.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "messages_sent_total",
			Help:      "Total number of WebSocket messages written to clients.",
		}),
		SlowClientsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "slow_clients_evicted_total",
			Help:      "Clients disconnected because their send buffer was full.",
		}),
	}

	reg.MustRegister(m.ActiveConnections, m.ActiveRooms, m.MessagesSent, m.SlowClientsEvicted)
	return m
}

// BroadcastMetrics holds collectors for the broadcast router.
type BroadcastMetrics struct {
	BroadcastsTotal *prometheus.CounterVec
	ClientsReached  prometheus.Counter
	EmptyBroadcasts prometheus.Counter
}

// NewBroadcastMetrics creates and registers broadcast metrics on the given registry.
func NewBroadcastMetrics(reg prometheus.Registerer) *BroadcastMetrics {
	m := &BroadcastMetrics{
		BroadcastsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "broadcasts_total",
			Help:      "Total number of broadcast calls by target kind.",
		}, []string{"target_kind"}),
		ClientsReached: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "clients_reached_total",
			Help:      "Total number of clients reached by broadcasts.",
		}),
		EmptyBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "empty_broadcasts_total",
			Help:      "Broadcasts that found no recipients locally.",
		}),
	}

	reg.MustRegister(m.BroadcastsTotal, m.ClientsReached, m.EmptyBroadcasts)
	return m
}

// ClusterMetrics holds collectors for cross-node synchronization.
type ClusterMetrics struct {
	EnvelopesPublished prometheus.Counter
	PublishFailures    prometheus.Counter
	EnvelopesReplayed  prometheus.Counter
	EnvelopesDropped   *prometheus.CounterVec
}

// NewClusterMetrics creates and registers cluster metrics on the given registry.
func NewClusterMetrics(reg prometheus.Registerer) *ClusterMetrics {
	m := &ClusterMetrics{
		EnvelopesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "envelopes_published_total",
			Help:      "Broadcast envelopes published to the shared topic.",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "publish_failures_total",
			Help:      "Envelope publishes that failed.",
		}),
		EnvelopesReplayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "envelopes_replayed_total",
			Help:      "Envelopes from peer nodes replayed locally.",
		}),
		EnvelopesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "envelopes_dropped_total",
			Help:      "Envelopes dropped instead of being processed, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.EnvelopesPublished, m.PublishFailures, m.EnvelopesReplayed, m.EnvelopesDropped)
	return m
}
