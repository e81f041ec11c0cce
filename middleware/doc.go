// Package middleware adapts authcore.Engine to net/http.
//
// # Middleware
//
//   - [Guard] verifies the bearer access token and injects the [authcore.Identity].
//   - [ClientIP] records the caller address for throttling and audit events.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine.Authenticate).
//   - Touch the store.
//   - Make authorization decisions beyond pass/reject.
package middleware
