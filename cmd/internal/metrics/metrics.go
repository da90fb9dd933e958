// Package metrics holds the Prometheus collectors of the session service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "estatedesk"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	HTTPRequestsTotal          *prometheus.CounterVec
	HTTPRequestDurationSeconds *prometheus.HistogramVec

	SessionRegistrationsTotal *prometheus.CounterVec
	SessionValidationsTotal   *prometheus.CounterVec
	SessionStoreDegraded      prometheus.Gauge
}

// New builds the collectors and registers them on reg. reg may be nil (tests).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		SessionRegistrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_registrations_total",
				Help:      "Total number of session registrations by store mode and result.",
			},
			[]string{"mode", "result"},
		),
		SessionValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_validations_total",
				Help:      "Total number of session validations by outcome.",
			},
			[]string{"outcome"},
		),
		SessionStoreDegraded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_store_degraded",
				Help:      "1 when the session store runs on the last_session_id fallback pointer.",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.HTTPRequestsTotal,
			m.HTTPRequestDurationSeconds,
			m.SessionRegistrationsTotal,
			m.SessionValidationsTotal,
			m.SessionStoreDegraded,
		)
	}
	return m
}

// ObserveHTTP records one finished request.
func (m *Metrics) ObserveHTTP(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDurationSeconds.WithLabelValues(method, path).Observe(d.Seconds())
}

// ObserveRegister records one registration attempt.
func (m *Metrics) ObserveRegister(mode, result string) {
	if m == nil {
		return
	}
	m.SessionRegistrationsTotal.WithLabelValues(mode, result).Inc()
}

// ObserveValidate records one validation outcome: valid, kicked or error.
func (m *Metrics) ObserveValidate(outcome string) {
	if m == nil {
		return
	}
	m.SessionValidationsTotal.WithLabelValues(outcome).Inc()
}

// SetDegraded flips the degraded gauge.
func (m *Metrics) SetDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.SessionStoreDegraded.Set(1)
		return
	}
	m.SessionStoreDegraded.Set(0)
}
