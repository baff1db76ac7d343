// Package pool implements the session-keyed connection pool.
//
// The pool guarantees at most one live connection per session key and at
// most Capacity live connections overall; acquiring beyond capacity
// evicts the least-recently-used idle connection, never an actively-held
// one. Dial attempts are governed by the backoff policy up to a
// configured ceiling; past the ceiling the pool reports a terminal
// failure exactly once and stops retrying. Open/close transitions are
// published as lifecycle events for the presence tracker and room
// registry to consume.
package pool
