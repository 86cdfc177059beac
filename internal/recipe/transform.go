package recipe

import (
	"errors"
	"fmt"
	"slices"
)

// ErrUnsupportedKind is matched by every UnsupportedKindError.
var ErrUnsupportedKind = errors.New("unsupported recipe kind")

// UnsupportedKindError reports a definition that no builder is registered for.
// Callers skip the entry and continue.
type UnsupportedKindError struct {
	Key  Key
	Kind Kind
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("recipe %s: unsupported kind %q", e.Key, e.Kind)
}

func (e *UnsupportedKindError) Is(target error) bool { return target == ErrUnsupportedKind }

// BuildFunc constructs a definition for key that copies the inputs of orig and
// produces out.
type BuildFunc func(key Key, orig Definition, out Item) Definition

// Transformer dispatches on Kind through a table of builders.
//
// Register must not be called concurrently with Build; the default table is
// populated by NewTransformer and read-only afterwards.
type Transformer struct {
	builders map[Kind]BuildFunc
}

// NewTransformer returns a Transformer with builders for every kind in Kinds().
func NewTransformer() *Transformer {
	t := &Transformer{builders: make(map[Kind]BuildFunc, 8)}
	t.Register(KindShaped, buildShaped)
	t.Register(KindShapeless, buildShapeless)
	for _, k := range []Kind{KindFurnace, KindBlasting, KindSmoking, KindCampfire} {
		t.Register(k, buildCooking)
	}
	t.Register(KindStonecutting, buildCutting)
	return t
}

// Register sets the builder for kind, replacing any previous one.
func (t *Transformer) Register(kind Kind, fn BuildFunc) {
	if fn == nil {
		delete(t.builders, kind)
		return
	}
	t.builders[kind] = fn
}

// Supports reports whether kind has a builder.
func (t *Transformer) Supports(kind Kind) bool {
	_, ok := t.builders[kind]
	return ok
}

// Build returns the rewritten definition, or an *UnsupportedKindError.
func (t *Transformer) Build(key Key, orig Definition, out Item) (Definition, error) {
	fn, ok := t.builders[orig.Kind]
	if !ok {
		return Definition{}, &UnsupportedKindError{Key: key, Kind: orig.Kind}
	}
	return fn(key, orig, out), nil
}

func buildShaped(key Key, orig Definition, out Item) Definition {
	d := Definition{Key: key, Kind: orig.Kind, Group: orig.Group, Output: out, Shape: slices.Clone(orig.Shape)}
	for sym, ch := range orig.Ingredients {
		if ch.Empty() {
			continue
		}
		if d.Ingredients == nil {
			d.Ingredients = make(map[string]Choice, len(orig.Ingredients))
		}
		d.Ingredients[sym] = slices.Clone(ch)
	}
	return d
}

func buildShapeless(key Key, orig Definition, out Item) Definition {
	d := Definition{Key: key, Kind: orig.Kind, Group: orig.Group, Output: out}
	for _, ch := range orig.List {
		if ch.Empty() {
			continue
		}
		d.List = append(d.List, slices.Clone(ch))
	}
	return d
}

func buildCooking(key Key, orig Definition, out Item) Definition {
	return Definition{
		Key:        key,
		Kind:       orig.Kind,
		Group:      orig.Group,
		Output:     out,
		Input:      slices.Clone(orig.Input),
		Experience: orig.Experience,
		CookTime:   orig.CookTime,
	}
}

func buildCutting(key Key, orig Definition, out Item) Definition {
	return Definition{Key: key, Kind: orig.Kind, Group: orig.Group, Output: out, Input: slices.Clone(orig.Input)}
}
