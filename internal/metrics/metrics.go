package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every series when New is given an empty namespace.
const DefaultNamespace = "pulse_realtime"

// Metrics holds all Prometheus collectors for the realtime service.
// Each instance owns its registry so tests can build isolated copies.
type Metrics struct {
	Registry *prometheus.Registry

	// Bridge metrics
	MessagesEnqueued prometheus.Counter
	MessagesDropped  *prometheus.CounterVec

	// Hub metrics
	EventsDecoded     *prometheus.CounterVec
	DecodeErrors      *prometheus.CounterVec
	StateTransitions  *prometheus.CounterVec
	ReconnectAttempts *prometheus.CounterVec
	TerminalFailures  *prometheus.CounterVec
	Invocations       *prometheus.CounterVec

	// Session metrics
	ActiveSessions   prometheus.Gauge
	JanitorEvictions prometheus.Counter

	// Remote call metrics
	Retries         *prometheus.CounterVec
	TokenHandshakes *prometheus.CounterVec
	ContractLookups *prometheus.CounterVec
}

// New creates a Metrics instance registered on a fresh registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		MessagesEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "messages_enqueued_total",
			Help:      "Total number of hub events appended to session queues",
		}),
		MessagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "messages_dropped_total",
			Help:      "Total number of events dropped by stage (queue overflow or stream backpressure)",
		}, []string{"stage"}),

		EventsDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "events_decoded_total",
			Help:      "Total number of hub events decoded by kind",
		}, []string{"kind"}),
		DecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "decode_errors_total",
			Help:      "Total number of hub invocations that failed to decode, by target",
		}, []string{"target"}),
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "state_transitions_total",
			Help:      "Total number of stream state transitions by hub and target state",
		}, []string{"hub", "state"}),
		ReconnectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of reconnect attempts by hub",
		}, []string{"hub"}),
		TerminalFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "terminal_failures_total",
			Help:      "Total number of streams that exhausted reconnect attempts",
		}, []string{"hub"}),
		Invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "invocations_total",
			Help:      "Total number of hub invocations by target and result",
		}, []string{"target", "result"}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Current number of live realtime sessions",
		}),
		JanitorEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "janitor_evictions_total",
			Help:      "Total number of idle sessions evicted by the janitor",
		}),

		Retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "retries_total",
			Help:      "Total number of retried remote calls by operation",
		}, []string{"operation"}),
		TokenHandshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "token_handshakes_total",
			Help:      "Total number of broker authentication handshakes by result",
		}, []string{"result"}),
		ContractLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "contract_lookups_total",
			Help:      "Total number of contract resolutions by cache result",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
