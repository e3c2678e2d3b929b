// Package metrics provides Prometheus metrics for Flowplane: the xDS
// control plane's global version, active stream count, NACKs observed
// from Envoy, and authentication failures. It is grounded on the
// teacher's internal/metrics/metrics.go (GaugeVec/CounterVec
// construction and a single register-with-registry entrypoint),
// retargeted from HTTPProxy status gauges to xDS protocol gauges.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	GlobalVersionGauge  = "flowplane_xds_global_version"
	StreamsActiveGauge  = "flowplane_xds_streams_active"
	NacksTotal          = "flowplane_xds_nacks_total"
	AuthFailuresTotal   = "flowplane_auth_failures_total"
	PushDurationSummary = "flowplane_xds_push_duration_seconds"
)

// Registry holds the Prometheus collectors Flowplane registers with a
// prometheus.Registry. Unlike the teacher's Metrics type, which also
// caches the previous values it set so it can clean up stale label
// sets, Flowplane's label sets (type_url, reason) are bounded and
// never need pruning.
type Registry struct {
	globalVersion prometheus.Gauge
	streamsActive *prometheus.GaugeVec
	nacksTotal    *prometheus.CounterVec
	authFailures  *prometheus.CounterVec
	pushDuration  prometheus.Summary
}

// NewRegistry creates the Flowplane metric collectors and registers
// them with reg.
func NewRegistry(reg *prometheus.Registry) *Registry {
	m := &Registry{
		globalVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: GlobalVersionGauge,
			Help: "Current global version of the Resource Cache.",
		}),
		streamsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: StreamsActiveGauge,
			Help: "Number of active xDS streams, by transport variant.",
		}, []string{"variant"}),
		nacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: NacksTotal,
			Help: "Total number of NACKed discovery responses received from Envoy, by resource type.",
		}, []string{"type_url"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: AuthFailuresTotal,
			Help: "Total number of token authentication failures, by reason.",
		}, []string{"reason"}),
		pushDuration: prometheus.NewSummary(prometheus.SummaryOpts{
			Name:       PushDurationSummary,
			Help:       "Summary of the time spent building and sending a discovery response.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}),
	}
	m.register(reg)
	return m
}

func (m *Registry) register(reg *prometheus.Registry) {
	reg.MustRegister(
		m.globalVersion,
		m.streamsActive,
		m.nacksTotal,
		m.authFailures,
		m.pushDuration,
	)
}

// SetGlobalVersion records the Resource Cache's current global version.
func (m *Registry) SetGlobalVersion(v uint64) {
	m.globalVersion.Set(float64(v))
}

// StreamOpened increments the active-stream gauge for variant ("sotw"
// or "delta").
func (m *Registry) StreamOpened(variant string) {
	m.streamsActive.WithLabelValues(variant).Inc()
}

// StreamClosed decrements the active-stream gauge for variant.
func (m *Registry) StreamClosed(variant string) {
	m.streamsActive.WithLabelValues(variant).Dec()
}

// NackReceived records a NACK for the given discovery type URL.
func (m *Registry) NackReceived(typeURL string) {
	m.nacksTotal.WithLabelValues(typeURL).Inc()
}

// AuthFailure records an authentication failure classified by reason.
func (m *Registry) AuthFailure(reason string) {
	m.authFailures.WithLabelValues(reason).Inc()
}

// ObservePush records how long a push to a single stream took.
func (m *Registry) ObservePush(seconds float64) {
	m.pushDuration.Observe(seconds)
}

// Handler returns an http Handler for a metrics endpoint.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
