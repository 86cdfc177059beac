// Package catalog coordinates shuffles of the host's live recipe catalog.
//
// The Coordinator owns two recipe sets: the original set, captured once from
// the live catalog on the first shuffle, and the currently applied shuffled
// set. A shuffle runs in two phases:
//
//	prepare (caller goroutine + build workers): assignment and definitions
//	apply   (writer context): remove originals, add shuffled, mark state
//
// At most one shuffle or restore is in flight; later requests queue in
// arrival order. A failed apply triggers a best-effort restore of the
// original set; if that also fails the coordinator reports Inconsistent.
package catalog
