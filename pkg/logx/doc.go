// Package logx configures reshuffle's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output on stderr, readable or JSON (logging.format)
//   - File output JSON-structured, one event per line
//   - Level and outputs swappable at runtime via Service.Apply (config hot reload)
package logx
