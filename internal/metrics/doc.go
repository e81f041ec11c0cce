// Package metrics stores authcore counters and latency histograms.
//
// Counters are atomic uint64 slots indexed by metric id. Histograms use eight fixed
// buckets from 5ms to +Inf. Neither allocates on the write path. Ids and names are
// owned by the root package; exporters live in metrics/export.
package metrics
