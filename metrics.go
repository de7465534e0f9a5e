package halo

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sumup/halo/stepup"
)

const metricsNamespace = "halo"

// Metrics counts translations, inspections and step-up verifications.
type Metrics struct {
	registry      *prometheus.Registry
	translations  *prometheus.CounterVec
	inspections   *prometheus.CounterVec
	verifications *prometheus.CounterVec
	rateLimited   prometheus.Counter
}

// NewMetrics registers the halo collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		translations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "translations_total",
			Help:      "Intent translations by protocol and outcome.",
		}, []string{"protocol", "outcome"}),
		inspections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "inspections_total",
			Help:      "Inbound payload inspections by detected protocol and outcome.",
		}, []string{"protocol", "outcome"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stepup_verifications_total",
			Help:      "Step-up verification events by method and outcome.",
		}, []string{"method", "outcome"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}
	m.registry.MustRegister(m.translations, m.inspections, m.verifications, m.rateLimited)
	return m
}

// Handler exposes the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer returns the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// ObserveVerification satisfies [stepup.Observer].
func (m *Metrics) ObserveVerification(method stepup.Method, outcome stepup.Outcome) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(string(method), string(outcome)).Inc()
}

func (m *Metrics) observeTranslation(protocol, outcome string) {
	if m == nil {
		return
	}
	m.translations.WithLabelValues(protocol, outcome).Inc()
}

func (m *Metrics) observeInspection(protocol, outcome string) {
	if m == nil {
		return
	}
	m.inspections.WithLabelValues(protocol, outcome).Inc()
}

func (m *Metrics) observeRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// outcomeLabel turns err into a low-cardinality label.
func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(AsHTTPError(err).Code)
}
