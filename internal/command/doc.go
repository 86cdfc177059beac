// Package command implements the operator commands (shuffle, timer, seed,
// reload, restore, status, history) as a cobra command tree that is rebuilt
// for every dispatched line. The same router serves the local console and
// the Telegram adapter.
package command
