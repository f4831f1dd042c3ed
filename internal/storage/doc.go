// Package storage persists the ordered task list and the run history.
//
// Drivers:
//   - "file": a JSON document replaced atomically (tmp + rename) plus a
//     JSON Lines history file next to it
//   - "sqlite": SQLite database file (build tag "sqlite")
package storage
