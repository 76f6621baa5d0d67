// Package metrics holds the Prometheus collectors shared by the API and worker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login outcomes.
const (
	LoginSuccess           = "success"
	LoginNotFound          = "not_found"
	LoginInvalidCredential = "invalid_credential"
	LoginInactive          = "inactive"
)

// Gateway outcomes.
const (
	GatewayOK    = "ok"
	GatewayError = "error"
)

// Metrics groups the counters recorded by domain services. A nil *Metrics is a no-op.
type Metrics struct {
	registry        *prometheus.Registry
	logins          *prometheus.CounterVec
	registrations   prometheus.Counter
	kycDecisions    *prometheus.CounterVec
	orgEvents       *prometheus.CounterVec
	gatewayRequests *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec
	reconciled      prometheus.Counter
}

// New creates the collectors on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deevents_auth_logins_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deevents_auth_registrations_total",
			Help: "Accounts created.",
		}),
		kycDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deevents_kyc_events_total",
			Help: "KYC submissions and admin decisions.",
		}, []string{"action"}),
		orgEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deevents_organization_events_total",
			Help: "Organization lifecycle and membership events.",
		}, []string{"event"}),
		gatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deevents_mpesa_requests_total",
			Help: "M-Pesa API calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deevents_mpesa_request_duration_seconds",
			Help:    "M-Pesa API call latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		reconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deevents_worker_personal_orgs_repaired_total",
			Help: "Personal organizations provisioned by the reconciliation pass.",
		}),
	}
	reg.MustRegister(
		m.logins, m.registrations, m.kycDecisions, m.orgEvents,
		m.gatewayRequests, m.gatewayLatency, m.reconciled,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Login(outcome string) {
	if m != nil {
		m.logins.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Registration() {
	if m != nil {
		m.registrations.Inc()
	}
}

func (m *Metrics) KYC(action string) {
	if m != nil {
		m.kycDecisions.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) Organization(event string) {
	if m != nil {
		m.orgEvents.WithLabelValues(event).Inc()
	}
}

// Gateway records one provider call.
func (m *Metrics) Gateway(operation, outcome string, seconds float64) {
	if m != nil {
		m.gatewayRequests.WithLabelValues(operation, outcome).Inc()
		m.gatewayLatency.WithLabelValues(operation).Observe(seconds)
	}
}

func (m *Metrics) Reconciled(n int) {
	if m != nil && n > 0 {
		m.reconciled.Add(float64(n))
	}
}
