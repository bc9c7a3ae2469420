// Package metric provides Prometheus metrics for jalsync.
//
//   - prometheus.go: the Registry, engine and negotiation counters, and
//     the /metrics handler
//   - collector.go: gauges read from the running sessions at scrape time
package metric
