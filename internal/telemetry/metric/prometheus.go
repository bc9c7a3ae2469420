package metric

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yndnr/jalsync-go/internal/core/domain"
	"github.com/yndnr/jalsync-go/internal/core/service"
)

// Namespace prefixes every metric name.
const Namespace = "jalsync"

// Registry holds all application metrics.
type Registry struct {
	registry *prometheus.Registry

	SessionsActive    prometheus.Gauge
	SessionsAdmitted  prometheus.Counter
	SessionsEvicted   prometheus.Counter
	NegotiationReject *prometheus.CounterVec

	RecordsReceived *prometheus.CounterVec
	RecordsSent     *prometheus.CounterVec
	BytesReceived   *prometheus.CounterVec
	BytesSent       *prometheus.CounterVec
	DigestOutcomes  *prometheus.CounterVec
	DigestBatchSize prometheus.Histogram

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

var _ service.Observer = (*Registry)(nil)

// NewRegistry creates the metrics on a private prometheus registry that
// also carries the Go runtime and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		registry: reg,
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: "sessions", Name: "active",
			Help: "Sessions currently registered.",
		}),
		SessionsAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "sessions", Name: "admitted_total",
			Help: "Sessions admitted after negotiation.",
		}),
		SessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "sessions", Name: "evicted_total",
			Help: "Sessions evicted to make room for a new one.",
		}),
		NegotiationReject: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "negotiation", Name: "rejections_total",
			Help: "Rejected initialize attempts by reason.",
		}, []string{"reason"}),
		RecordsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "records", Name: "received_total",
			Help: "Records received by type and result.",
		}, []string{"record_type", "result"}),
		RecordsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "records", Name: "sent_total",
			Help: "Records sent by type.",
		}, []string{"record_type"}),
		BytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "records", Name: "received_bytes_total",
			Help: "Record bytes received by type.",
		}, []string{"record_type"}),
		BytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "records", Name: "sent_bytes_total",
			Help: "Record bytes sent by type.",
		}, []string{"record_type"}),
		DigestOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "digests", Name: "outcomes_total",
			Help: "Reconciled digests by outcome.",
		}, []string{"outcome"}),
		DigestBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace, Subsystem: "digests", Name: "batch_size",
			Help:    "Entries per digest message.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(
		r.SessionsActive, r.SessionsAdmitted, r.SessionsEvicted, r.NegotiationReject,
		r.RecordsReceived, r.RecordsSent, r.BytesReceived, r.BytesSent,
		r.DigestOutcomes, r.DigestBatchSize,
		r.RequestsTotal, r.RequestDuration,
	)
	return r
}

// Registerer exposes the registry for components that add their own
// metrics.
func (r *Registry) Registerer() prometheus.Registerer { return r.registry }

// Gatherer exposes the registry for tests and custom handlers.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.registry }

// Handler returns the /metrics handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Registry) RecordReceived(rt domain.RecordType, result string, bytes int64) {
	r.RecordsReceived.WithLabelValues(rt.String(), result).Inc()
	if bytes > 0 {
		r.BytesReceived.WithLabelValues(rt.String()).Add(float64(bytes))
	}
}

func (r *Registry) RecordSent(rt domain.RecordType, bytes int64) {
	r.RecordsSent.WithLabelValues(rt.String()).Inc()
	if bytes > 0 {
		r.BytesSent.WithLabelValues(rt.String()).Add(float64(bytes))
	}
}

func (r *Registry) DigestOutcome(o domain.DigestOutcome) {
	r.DigestOutcomes.WithLabelValues(o.String()).Inc()
}

func (r *Registry) DigestBatch(size int) {
	r.DigestBatchSize.Observe(float64(size))
}

// SessionsChanged is a SessionRegistry OnChange hook.
func (r *Registry) SessionsChanged(active int) {
	r.SessionsActive.Set(float64(active))
}

// SessionEvicted is a SessionRegistry OnEvict hook.
func (r *Registry) SessionEvicted(*domain.Session) {
	r.SessionsEvicted.Inc()
}

// SessionAdmitted counts a negotiated session.
func (r *Registry) SessionAdmitted() {
	r.SessionsAdmitted.Inc()
}

// Rejected is a negotiator reject hook.
func (r *Registry) Rejected(reasons []domain.RejectionReason) {
	for _, reason := range reasons {
		r.NegotiationReject.WithLabelValues(string(reason)).Inc()
	}
}

// ObserveRequest records one served HTTP request.
func (r *Registry) ObserveRequest(route string, code int, elapsed time.Duration) {
	r.RequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	r.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
