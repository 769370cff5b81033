package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the sync engine. All collectors are registered on
// the given registerer so tests can use isolated registries.
type Metrics struct {
	// Reconciliations counts successfully applied snapshots.
	Reconciliations prometheus.Counter

	// FetchFailures counts reconciliation fetches that failed and left
	// the store at its last-known-good snapshot.
	FetchFailures prometheus.Counter

	// CoalescedSignals counts change notifications absorbed into an
	// already-scheduled fetch.
	CoalescedSignals prometheus.Counter

	// Mutations counts mutation intents by intent and outcome
	// (ok, failed, invalid).
	Mutations *prometheus.CounterVec

	// StreamReconnects counts push-channel disconnects.
	StreamReconnects prometheus.Counter

	// Connected is 1 while the push channel is connected.
	Connected prometheus.Gauge
}

// NewMetrics creates and registers the engine's collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Reconciliations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "clarence",
			Subsystem: "inbox",
			Name:      "reconciliations_total",
			Help:      "Authoritative snapshots applied to the proposal store.",
		}),
		FetchFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "clarence",
			Subsystem: "inbox",
			Name:      "fetch_failures_total",
			Help:      "Reconciliation fetches that failed.",
		}),
		CoalescedSignals: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "clarence",
			Subsystem: "inbox",
			Name:      "coalesced_signals_total",
			Help:      "Change notifications coalesced into a pending fetch.",
		}),
		Mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clarence",
			Subsystem: "inbox",
			Name:      "mutations_total",
			Help:      "Mutation intents by intent and outcome.",
		}, []string{"intent", "outcome"}),
		StreamReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "clarence",
			Subsystem: "push",
			Name:      "disconnects_total",
			Help:      "Push channel disconnects observed.",
		}),
		Connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "clarence",
			Subsystem: "push",
			Name:      "connected",
			Help:      "1 while the push channel is connected.",
		}),
	}
}
