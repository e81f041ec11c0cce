// Package refresh generates and parses opaque refresh tokens.
//
// # Token format
//
// 32 random bytes, base64url without padding. Tokens carry no session id or counter;
// the session store maps the token's SHA-256 to its session. Plaintext tokens are never
// stored.
//
// # What this package must NOT do
//
//   - Perform I/O.
//   - Implement rotation or replay logic. That belongs to the session manager.
package refresh
