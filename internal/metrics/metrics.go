// Package metrics exposes the chat service's prometheus collectors.
package metrics

import (
	"net/http"

	"supportchat/backend/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "supportchat"

// Metrics owns a private registry so tests can build as many as they like.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	messages        prometheus.Counter
	claimConflicts  prometheus.Counter
	persistFailures prometheus.Counter
	connections     *prometheus.GaugeVec
}

// New registers the collectors. counts, when set, is sampled on every scrape
// for the per-state room gauge.
func New(counts func() map[models.RoomState]int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Messages persisted and relayed.",
		}),
		claimConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_conflicts_total",
			Help:      "Claims rejected because another administrator won the room.",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Operations rejected because the message store failed.",
		}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open websocket connections.",
		}, []string{"role"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.messages,
		m.claimConflicts,
		m.persistFailures,
		m.connections,
	)

	if counts != nil {
		for _, state := range []models.RoomState{models.RoomWaiting, models.RoomActive} {
			state := state
			m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "rooms",
				Help:        "Rooms held by the registry.",
				ConstLabels: prometheus.Labels{"state": string(state)},
			}, func() float64 { return float64(counts()[state]) }))
		}
	}
	return m
}

func (m *Metrics) MessageStored() {
	if m == nil {
		return
	}
	m.messages.Inc()
}

func (m *Metrics) ClaimConflict() {
	if m == nil {
		return
	}
	m.claimConflicts.Inc()
}

func (m *Metrics) PersistFailure() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

func (m *Metrics) ConnectionOpened(role models.Role) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(string(role)).Inc()
}

func (m *Metrics) ConnectionClosed(role models.Role) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(string(role)).Dec()
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
