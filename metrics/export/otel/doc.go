// Package otel binds authcore metrics to an OpenTelemetry Meter.
//
// [New] registers one Int64ObservableCounter per engine counter and cumulative
// Int64ObservableGauge instruments per histogram bucket. A single callback reads
// [authcore.Engine.MetricsSnapshot] on each collection.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
