// Package storage persists calendar events and notifier dedup state.
//
// Drivers:
//   - "memory": process-local maps (tests, dry runs)
//   - "file": JSON snapshot of events plus a dedup snapshot/journal pair
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package storage
