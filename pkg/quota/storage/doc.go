// Package storage provides durable state for quota accounting: quota
// records with weekly and monthly counters, rolling accounting sessions,
// and the append-only usage log.
//
// The SQLite backend is the production store. Counter mutations are
// expressed as conditional SQL updates and transactions rather than Go-side
// read-modify-write, so accounting stays correct even with multiple server
// processes sharing one database file. An in-memory backend with the same
// semantics backs tests.
package storage
