// Package notify implements the broadcast pipeline: an ordered async queue
// with rate limiting and retry that fans each message out to a set of sinks
// (console, log, Telegram).
//
// Messages are written in tag markup (<red>, <bold>, ...). Sinks render it
// for their medium: lipgloss styles on a terminal, plain text elsewhere.
package notify
