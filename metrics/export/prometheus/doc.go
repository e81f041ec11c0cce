// Package prometheus exposes authcore metrics through client_golang.
//
// [Collector] turns each scrape into a MetricsSnapshot read; [Handler] serves it from a
// private registry. Counters are named authcore_*_total and the two latency histograms
// authcore_login_latency_seconds and authcore_authenticate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry.
//   - Mutate engine state.
package prometheus
