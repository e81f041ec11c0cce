// Package session owns server-side session state: persistence on a store.Store, compact
// binary record encoding, and the lifecycle in [Manager].
//
// # Keys
//
//	sess:<id>              encoded Session
//	rt:<hex sha256>        refresh index entry: state (current|consumed) + session id
//	acct-sess:<account id> length-prefixed list of the account's session ids
//
// Consumed refresh entries are kept until the session can no longer be refreshed so a
// replay is always recognised as reuse.
//
// # What this package must NOT do
//
//   - Store plaintext refresh tokens.
//   - Decide credential validity. Password checks belong to the engine.
package session
