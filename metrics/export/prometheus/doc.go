// Package prometheus renders authgate counters in Prometheus text exposition format.
//
// [NewPrometheusExporter] reads [authgate.Engine.MetricsSnapshot] on every scrape. Counter
// names are prefixed authgate_*_total; the single histogram is
// authgate_backend_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry; callers mount the Handler.
//   - Mutate engine state.
package prometheus
