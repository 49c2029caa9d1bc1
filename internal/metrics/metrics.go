// Package metrics provides Prometheus instrumentation for the engage server.
//
// All metrics are registered in a custom [prometheus.Registry] (not the global
// default) so that only engage metrics appear on the /metrics endpoint.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors used by the engage server.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
	RuleChecksTotal        *prometheus.CounterVec
	EngagementsTotal       prometheus.Counter
	CandidateFailuresTotal *prometheus.CounterVec
	GeoLookupsTotal        *prometheus.CounterVec
	RateLimitedTotal       prometheus.Counter
}

// New creates and registers all engage metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engage_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "engage_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		RuleChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engage_rule_checks_total",
			Help: "Total number of candidate rule set evaluations.",
		}, []string{"passed"}),

		EngagementsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engage_engagements_total",
			Help: "Total number of auto-engagements fired.",
		}),

		CandidateFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engage_candidate_failures_total",
			Help: "Total number of candidate pipelines that failed, by stage.",
		}, []string{"stage"}),

		GeoLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engage_geo_lookups_total",
			Help: "Total number of geolocation resolutions, by outcome.",
		}, []string{"outcome"}),

		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engage_rate_limited_total",
			Help: "Total number of requests rejected by the connect rate limiter.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RuleChecksTotal,
		m.EngagementsTotal,
		m.CandidateFailuresTotal,
		m.GeoLookupsTotal,
		m.RateLimitedTotal,
	)

	return m
}

// Handler returns an [http.Handler] that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// RecordRuleCheck increments the rule check counter with the given result.
func (m *Metrics) RecordRuleCheck(passed bool) {
	m.RuleChecksTotal.WithLabelValues(strconv.FormatBool(passed)).Inc()
}

// RecordEngagement increments the fired engagement counter.
func (m *Metrics) RecordEngagement() {
	m.EngagementsTotal.Inc()
}

// RecordCandidateFailure increments the failure counter for a pipeline stage.
func (m *Metrics) RecordCandidateFailure(stage string) {
	m.CandidateFailuresTotal.WithLabelValues(stage).Inc()
}

// RecordGeoLookup increments the geolocation counter for an outcome.
func (m *Metrics) RecordGeoLookup(outcome string) {
	m.GeoLookupsTotal.WithLabelValues(outcome).Inc()
}

// RecordRateLimited increments the rate limiter rejection counter.
func (m *Metrics) RecordRateLimited() {
	m.RateLimitedTotal.Inc()
}

// ObserveHTTPRequest records one completed HTTP request.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, seconds float64) {
	code := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, route, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route, code).Observe(seconds)
}
