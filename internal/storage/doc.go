// Package storage persists pending timers and student verifications.
//
// Drivers:
//   - "memory":   process-local maps (tests, dry runs; not durable)
//   - "sqlite":   single-file database (default)
//   - "postgres": pgx connection pool
//   - "mongo":    MongoDB collections (timers, counters, verifications)
//   - "redis":    sorted set on expiry plus one hash per timer
//
// Every driver error caused by the backing service is marked with ErrUnavailable so callers
// can tell transient outages apart from caller mistakes.
package storage
