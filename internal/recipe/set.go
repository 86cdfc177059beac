package recipe

import (
	"slices"
)

// Set is an immutable mapping from Key to Definition iterated in Key order.
type Set struct {
	keys []Key
	defs map[Key]Definition
}

// NewSet builds a Set from defs. A later definition with the same key replaces
// an earlier one. Definitions are cloned on the way in.
func NewSet(defs ...Definition) *Set {
	s := &Set{defs: make(map[Key]Definition, len(defs))}
	for _, d := range defs {
		if _, dup := s.defs[d.Key]; !dup {
			s.keys = append(s.keys, d.Key)
		}
		s.defs[d.Key] = d.Clone()
	}
	slices.SortFunc(s.keys, Key.Compare)
	return s
}

// Len returns the number of entries. A nil Set is empty.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Keys returns the keys in order.
func (s *Set) Keys() []Key {
	if s == nil {
		return nil
	}
	return slices.Clone(s.keys)
}

// Get returns a copy of the definition stored under k.
func (s *Set) Get(k Key) (Definition, bool) {
	if s == nil {
		return Definition{}, false
	}
	d, ok := s.defs[k]
	if !ok {
		return Definition{}, false
	}
	return d.Clone(), true
}

func (s *Set) Has(k Key) bool {
	if s == nil {
		return false
	}
	_, ok := s.defs[k]
	return ok
}

// Entries returns copies of all definitions in key order.
func (s *Set) Entries() []Definition {
	if s == nil {
		return nil
	}
	out := make([]Definition, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, s.defs[k].Clone())
	}
	return out
}

// Outputs returns each entry's output in key order.
func (s *Set) Outputs() []Item {
	if s == nil {
		return nil
	}
	out := make([]Item, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, s.defs[k].Output)
	}
	return out
}

// Filter returns a new Set holding the entries for which keep returns true.
func (s *Set) Filter(keep func(Definition) bool) *Set {
	if s == nil {
		return NewSet()
	}
	kept := make([]Definition, 0, len(s.keys))
	for _, k := range s.keys {
		if d := s.defs[k]; keep(d) {
			kept = append(kept, d)
		}
	}
	return NewSet(kept...)
}
