package host

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"reshuffle/internal/catalog"
	"reshuffle/internal/exec"
	"reshuffle/internal/recipe"
)

// ErrOffWriter is returned when the live catalog is touched outside the writer context.
var ErrOffWriter = errors.New("host: catalog accessed off the writer context")

// DuplicateKeyError is returned by Add for a key that is already registered.
type DuplicateKeyError struct{ Key recipe.Key }

func (e *DuplicateKeyError) Error() string { return fmt.Sprintf("host: recipe %s already registered", e.Key) }

// Catalog is the live recipe catalog. When built with a coordinator, every
// call must come from its writer context.
type Catalog struct {
	exec exec.Coordinator

	mu      sync.Mutex
	defs    map[recipe.Key]recipe.Definition
	failAdd func(recipe.Definition) error // consulted before each Add
}

var _ catalog.Catalog = (*Catalog)(nil)

func NewCatalog(ex exec.Coordinator, defs []recipe.Definition) *Catalog {
	c := &Catalog{exec: ex, defs: make(map[recipe.Key]recipe.Definition, len(defs))}
	for _, d := range defs {
		c.defs[d.Key] = d.Clone()
	}
	return c
}

// FailAdds installs fn as a fault hook for Add; nil removes it.
func (c *Catalog) FailAdds(fn func(recipe.Definition) error) {
	c.mu.Lock()
	c.failAdd = fn
	c.mu.Unlock()
}

func (c *Catalog) check(ctx context.Context) error {
	if c.exec != nil && !c.exec.OnWriter(ctx) {
		return ErrOffWriter
	}
	return nil
}

// Enumerate returns every definition in key order.
func (c *Catalog) Enumerate(ctx context.Context) ([]recipe.Definition, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]recipe.Definition, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d.Clone())
	}
	slices.SortFunc(out, func(a, b recipe.Definition) int { return a.Key.Compare(b.Key) })
	return out, nil
}

func (c *Catalog) Remove(ctx context.Context, key recipe.Key) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.defs, key)
	c.mu.Unlock()
	return nil
}

func (c *Catalog) Add(ctx context.Context, def recipe.Definition) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAdd != nil {
		if err := c.failAdd(def); err != nil {
			return err
		}
	}
	if _, ok := c.defs[def.Key]; ok {
		return &DuplicateKeyError{Key: def.Key}
	}
	c.defs[def.Key] = def.Clone()
	return nil
}

// Lookup returns the live definition for key. It does not require the writer context.
func (c *Catalog) Lookup(key recipe.Key) (recipe.Definition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.defs[key]
	if !ok {
		return recipe.Definition{}, false
	}
	return d.Clone(), true
}

func (c *Catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.defs)
}

// Items is the registry of every item ID the host knows.
type Items struct {
	ids []string
}

var _ catalog.ItemSource = (*Items)(nil)

// NewItems normalizes, de-duplicates and sorts ids.
func NewItems(ids ...string) *Items {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = recipe.NormalizeID(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	slices.Sort(out)
	return &Items{ids: out}
}

func (it *Items) Items(context.Context) ([]string, error) { return slices.Clone(it.ids), nil }

// Probe reports the host threading model to exec.Select.
type Probe struct{ Regionized bool }

func (p Probe) Partitioned() bool { return p.Regionized }

// ParseThreading maps host.threading to a Probe.
func ParseThreading(s string) (Probe, error) {
	switch s {
	case "", "single":
		return Probe{}, nil
	case "regionized":
		return Probe{Regionized: true}, nil
	default:
		return Probe{}, fmt.Errorf("unknown host threading %q (want single or regionized)", s)
	}
}
