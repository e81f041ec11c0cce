// Package internal holds helpers private to authcore.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher and Sink implementations)
//   - flows: flow orchestrators for every Engine operation
//   - metrics: lock-free counters and latency histograms
//   - rate: in-process login throttle
//   - config: environment-driven settings for cmd/authcore
//   - httpapi: chi router exposing the engine over HTTP
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
package internal
