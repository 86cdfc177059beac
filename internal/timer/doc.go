// Package timer drives automatic shuffles: a periodic trigger starts a
// one-second countdown that broadcasts at configured thresholds and asks for
// a shuffle when it reaches zero.
//
// Engine state changes happen on the writer context of an exec.Coordinator;
// triggers only post ticks there.
package timer
