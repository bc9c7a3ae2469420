package metric

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/jalsync-go/internal/core/service"
)

// LedgerSource reports ledger totals over all running sessions.
type LedgerSource interface {
	Stats() (sessions int, total service.LedgerStats)
}

// Collector reads ledger gauges from the engine at scrape time.
type Collector struct {
	src LedgerSource

	running  *prometheus.Desc
	pending  *prometheus.Desc
	inFlight *prometheus.Desc
}

// NewCollector creates a collector over src.
func NewCollector(src LedgerSource) *Collector {
	return &Collector{
		src: src,
		running: prometheus.NewDesc(prometheus.BuildFQName(Namespace, "engine", "sessions_running"),
			"Sessions with running workers.", nil, nil),
		pending: prometheus.NewDesc(prometheus.BuildFQName(Namespace, "ledger", "pending"),
			"Digests awaiting reconciliation.", nil, nil),
		inFlight: prometheus.NewDesc(prometheus.BuildFQName(Namespace, "ledger", "in_flight"),
			"Digests sent and awaiting a response.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.running
	ch <- c.pending
	ch <- c.inFlight
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	sessions, st := c.src.Stats()
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, float64(sessions))
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(st.Pending))
	ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(st.InFlight))
}
