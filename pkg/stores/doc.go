// Package stores persists AUR engine history in SQLite.
// Invocations, per-package results and the last known state of every
// package the engine touched are kept in one database file with WAL mode
// and embedded schema migrations.
package stores
