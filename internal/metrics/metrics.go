// Package metrics defines the Prometheus collectors exported by the client.
//
// Collectors are created against a caller-supplied registerer. A nil
// registerer yields working but unregistered collectors, and a nil
// *Metrics is a valid no-op receiver.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "e2eedm"

// Metrics holds all collectors.
type Metrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	unlocks         *prometheus.CounterVec
	prompts         *prometheus.CounterVec
	keyLookups      *prometheus.CounterVec
	envelopes       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg when non-nil.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP requests to the server by endpoint and status code.",
		}, []string{"endpoint", "code"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		unlocks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unlock",
			Name:      "attempts_total",
			Help:      "Unlock attempts by result.",
		}, []string{"result"}),
		prompts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unlock",
			Name:      "prompts_total",
			Help:      "Authenticator or recovery phrase prompts by wrapper type.",
		}, []string{"wrapper"}),
		keyLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "lookups_total",
			Help:      "Actor key resolutions by outcome.",
		}, []string{"outcome"}),
		envelopes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dm",
			Name:      "envelopes_total",
			Help:      "Envelope operations by operation and result.",
		}, []string{"op", "result"}),
	}
}

// ObserveRequest records one HTTP exchange.
func (m *Metrics) ObserveRequest(endpoint, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, code).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// Unlock records the result of an unlock attempt.
func (m *Metrics) Unlock(result string) {
	if m == nil {
		return
	}
	m.unlocks.WithLabelValues(result).Inc()
}

// Prompt records a user-facing unlock prompt.
func (m *Metrics) Prompt(wrapper string) {
	if m == nil {
		return
	}
	m.prompts.WithLabelValues(wrapper).Inc()
}

// KeyLookup records an actor key resolution outcome.
func (m *Metrics) KeyLookup(outcome string) {
	if m == nil {
		return
	}
	m.keyLookups.WithLabelValues(outcome).Inc()
}

// Envelope records an encrypt or decrypt result.
func (m *Metrics) Envelope(op, result string) {
	if m == nil {
		return
	}
	m.envelopes.WithLabelValues(op, result).Inc()
}
