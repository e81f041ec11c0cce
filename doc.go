// Package authcore is a self-contained email/password authentication engine: Argon2id
// credential verification, signed JWT access tokens with a rotatable key set, and
// server-side sessions with single-use rotating refresh tokens and reuse detection.
//
// Engine methods are safe to call from multiple goroutines after [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config] and value types
// ([TokenPair], [Identity], [SignupResult]). Persistence goes through the store.Store
// capability interface; memory, Redis and SQL implementations live under store/. Flow
// orchestration, rate limiting and audit dispatch live under internal/.
//
// # What this package must NOT do
//
//   - Pick a storage engine or a network framework.
//   - Log or return plaintext passwords, tokens, or refresh hashes.
//   - Retry transient store failures. Callers see ErrTransient and decide.
//
// # Errors
//
// Every error returned by an Engine method is an *[Error]. Use errors.Is against the
// exported sentinels or [KindOf] to branch on the failure class.
package authcore
