// Package exec decides where callbacks run.
//
// Catalog mutations must happen on the writer context: one logical execution
// context on which no two callbacks for the same Dispatcher overlap. Pure work
// (assignment computation, definition building) runs on a worker pool.
//
// Two host threading models share the Coordinator contract:
//
//   - single writer: one loop goroutine drains the writer queue.
//   - partitioned: the same ordered queue, but every callback also holds the
//     host's global ordering primitive (an Orderer) while it runs, so host
//     threads that take the same Orderer never observe a half-applied change.
//
// A callback that is already on the writer context runs inline.
package exec
