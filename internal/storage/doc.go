// Package storage persists shuffle state and shuffle history.
//
// Drivers:
//   - "file":   <path>/data.yml (state) + <path>/history.jsonl (append-only history)
//   - "sqlite": one SQLite database file (build with -tags sqlite)
//   - "memory": process-local, nothing survives a restart
package storage
