// Package storage provides the persistence backends for scheduled jobs and
// their fire history.
//
// Drivers:
//   - "memory": process memory only, lost on restart
//   - "file": JSON snapshot of definitions plus an append-only fires journal
//   - "sqlite": SQLite database file (pure Go driver)
package storage
