// Package metrics owns the Prometheus registry of the API process.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for account events and email sends.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Metrics holds the application collectors. A nil *Metrics is valid and
// records nothing, so services can be built without one in tests.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
	AccountEvents *prometheus.CounterVec
	EmailSends    *prometheus.CounterVec
	FeedClients   prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vexekhach_http_requests_total",
				Help: "HTTP requests by method, route pattern and status code",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vexekhach_http_request_duration_seconds",
				Help:    "HTTP request latency by method and route pattern",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		AccountEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vexekhach_account_events_total",
				Help: "Registration, verification and login attempts by outcome",
			},
			[]string{"event", "outcome"},
		),
		EmailSends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vexekhach_verification_emails_total",
				Help: "Verification email delivery attempts by outcome",
			},
			[]string{"outcome"},
		),
		FeedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vexekhach_feed_clients",
			Help: "Connected websocket feed clients",
		}),
	}
	reg.MustRegister(m.HTTPRequests, m.HTTPDuration, m.AccountEvents, m.EmailSends, m.FeedClients)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) ObserveRequest(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) AccountEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.AccountEvents.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) EmailSend(outcome string) {
	if m == nil {
		return
	}
	m.EmailSends.WithLabelValues(outcome).Inc()
}

func (m *Metrics) FeedClientDelta(n int) {
	if m == nil {
		return
	}
	m.FeedClients.Add(float64(n))
}
