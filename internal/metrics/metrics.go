// Package metrics holds the relay's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wormhole"

var (
	InboundMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Messages handed to the core by bridges, by platform and outcome.",
		},
		[]string{"platform", "outcome"},
	)

	GateVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_verdicts_total",
			Help:      "Reputation gate decisions by reason.",
		},
		[]string{"reason"},
	)

	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Per-destination delivery attempts by platform and outcome.",
		},
		[]string{"platform", "outcome"},
	)

	FanOutDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fan_out_duration_seconds",
			Help:      "Wall time of one fan-out across all destinations.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	ChannelsRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channels_removed_total",
			Help:      "Destinations unsubscribed after a permission failure.",
		},
	)

	BusEnvelopes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_envelopes_total",
			Help:      "Bus envelopes by direction (published, received, failed).",
		},
		[]string{"direction"},
	)

	RecordsPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_records_pruned_total",
			Help:      "Message records removed by retention.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		InboundMessages,
		GateVerdicts,
		Deliveries,
		FanOutDuration,
		ChannelsRemoved,
		BusEnvelopes,
		RecordsPruned,
	)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
