// Package rate provides the in-process login throttle used by the engine.
//
// # Bucket semantics
//
// Each key owns a golang.org/x/time/rate token bucket holding MaxAttempts tokens and
// refilling one token every Cooldown/MaxAttempts. Only failed attempts spend tokens;
// a key with no tokens left is throttled until one refills. Key prefixes:
//   - al:  login per (tenant, email)
//   - ali: login per client IP
//
// # What this package must NOT do
//
//   - Decide which attempts count as failures (the login flow does).
//   - Be imported outside the authcore module.
package rate
