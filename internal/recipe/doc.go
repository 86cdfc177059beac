// Package recipe models recipe definitions and the operations needed to
// rewrite their outputs.
//
// A Set iterates in Key order so that any seeded computation over it is
// reproducible from the seed alone. Definitions are values; Clone returns a
// copy that shares no slices or maps with the original.
package recipe
