// Package flows contains the orchestrators behind every Engine operation.
//
// Each flow function (RunSignup, RunLogin, RunRefresh, RunAuthenticate, etc.) accepts a
// typed dependency struct and returns results without side-effects beyond those
// dependencies. Host-level sentinel errors, metric ids and audit event names are
// injected, so the root package keeps ownership of its public vocabulary.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the account store, password hasher, session
// manager, login limiter, audit dispatcher and metrics. They do NOT own any of these
// resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authcore (to avoid import cycles).
//   - Perform I/O directly; all I/O is mediated through dependency interfaces.
//   - Pass plaintext passwords or tokens to audit, metrics or log hooks.
package flows
