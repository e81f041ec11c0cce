// Package store defines the persistence capability consumed by authcore: put/get/delete by
// key plus an optimistic multi-key transaction used for uniqueness checks and single-use
// refresh token consumption.
//
// # Implementations
//
//   - store/memory: in-process map guarded by a mutex; tests and single-node deployments.
//   - store/redisstore: go-redis WATCH/MULTI/EXEC.
//   - store/sqlstore: gorm over SQLite or PostgreSQL with a versioned key/value table.
//
// The conformance suite in store/storetest is run against every implementation.
//
// # What this package must NOT do
//
//   - Interpret values; encoding belongs to the account and session packages.
//   - Retry on ErrUnavailable. Retrying transient failures is the caller's decision.
package store
