package chat

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mafia_registered_connections",
		Help: "Number of connections that completed the name handshake",
	})

	RegistryEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mafia_registry_events_total",
		Help: "Total registry events processed by type",
	}, []string{"type"})

	EventProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mafia_registry_event_processing_seconds",
		Help:    "Time to process each registry event type",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	HandshakeFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mafia_handshake_failures_total",
		Help: "Handshake rejections and aborts by reason",
	}, []string{"reason"})

	RelayedLinesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mafia_relayed_lines_total",
		Help: "Lines received from registered connections for relay",
	})

	RelayDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mafia_relay_dropped_total",
		Help: "Relay deliveries dropped because the receiver queue was full or closed",
	})

	WriteFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mafia_write_failures_total",
		Help: "Connections dropped after a failed socket write",
	})
)

func init() {
	prometheus.MustRegister(ConnectedClients)
	prometheus.MustRegister(RegistryEventsTotal)
	prometheus.MustRegister(EventProcessingDuration)
	prometheus.MustRegister(HandshakeFailuresTotal)
	prometheus.MustRegister(RelayedLinesTotal)
	prometheus.MustRegister(RelayDroppedTotal)
	prometheus.MustRegister(WriteFailuresTotal)
}
