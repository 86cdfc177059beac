package recipe

import (
	"fmt"
	"slices"
	"strings"
)

// Key identifies a recipe definition. The canonical form is "namespace:path".
type Key string

// ParseKey validates s and returns its Key. A missing namespace defaults to "minecraft".
func ParseKey(s string) (Key, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", fmt.Errorf("recipe key is empty")
	}
	ns, path, ok := strings.Cut(s, ":")
	if !ok {
		ns, path = DefaultNamespace, s
	}
	if ns == "" || path == "" {
		return "", fmt.Errorf("recipe key %q: namespace and path must be non-empty", s)
	}
	for _, r := range ns {
		if !validRune(r, false) {
			return "", fmt.Errorf("recipe key %q: invalid namespace character %q", s, r)
		}
	}
	for _, r := range path {
		if !validRune(r, true) {
			return "", fmt.Errorf("recipe key %q: invalid path character %q", s, r)
		}
	}
	return Key(ns + ":" + path), nil
}

// DefaultNamespace is applied to keys written without one.
const DefaultNamespace = "minecraft"

// NormalizeID lower-cases an item or recipe identifier and adds the default
// namespace when it has none. It does not validate characters.
func NormalizeID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || strings.Contains(s, ":") {
		return s
	}
	return DefaultNamespace + ":" + s
}

func validRune(r rune, path bool) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-' || r == '.':
		return true
	case r == '/':
		return path
	}
	return false
}

func (k Key) String() string { return string(k) }

func (k Key) Namespace() string {
	ns, _, ok := strings.Cut(string(k), ":")
	if !ok {
		return ""
	}
	return ns
}

func (k Key) Path() string {
	_, p, ok := strings.Cut(string(k), ":")
	if !ok {
		return string(k)
	}
	return p
}

// Compare defines the total order over keys: lexicographic on the canonical form.
func (k Key) Compare(other Key) int { return strings.Compare(string(k), string(other)) }

// Kind tags the shape of a definition. The set of kinds is closed; builders
// are registered per kind in a Transformer.
type Kind string

const (
	KindShaped       Kind = "shaped"
	KindShapeless    Kind = "shapeless"
	KindFurnace      Kind = "furnace"
	KindBlasting     Kind = "blasting"
	KindSmoking      Kind = "smoking"
	KindCampfire     Kind = "campfire"
	KindStonecutting Kind = "stonecutting"
)

// Kinds lists every supported kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindShaped, KindShapeless, KindFurnace, KindBlasting, KindSmoking, KindCampfire, KindStonecutting}
}

// Cooking reports whether k belongs to the smelting family.
func (k Kind) Cooking() bool {
	switch k {
	case KindFurnace, KindBlasting, KindSmoking, KindCampfire:
		return true
	}
	return false
}

// Item is a stack of a single item type.
type Item struct {
	ID    string `json:"id" yaml:"id"`
	Count int    `json:"count,omitempty" yaml:"count,omitempty"`
}

// Amount returns Count, treating zero as one.
func (it Item) Amount() int {
	if it.Count <= 0 {
		return 1
	}
	return it.Count
}

func (it Item) String() string {
	if it.Amount() == 1 {
		return it.ID
	}
	return fmt.Sprintf("%dx%s", it.Count, it.ID)
}

// Choice is the set of item IDs accepted by one ingredient slot.
// An empty Choice is an absent slot.
type Choice []string

func (c Choice) Empty() bool { return len(c) == 0 }

// Definition is one recipe. Which input fields are meaningful depends on Kind:
//
//   - shaped:       Shape + Ingredients
//   - shapeless:    List
//   - cooking:      Input + Experience + CookTime
//   - stonecutting: Input
type Definition struct {
	Key    Key    `json:"key" yaml:"key"`
	Kind   Kind   `json:"kind" yaml:"kind"`
	Group  string `json:"group,omitempty" yaml:"group,omitempty"`
	Output Item   `json:"output" yaml:"output"`

	Shape       []string          `json:"shape,omitempty" yaml:"shape,omitempty"`
	Ingredients map[string]Choice `json:"ingredients,omitempty" yaml:"ingredients,omitempty"`
	List        []Choice          `json:"list,omitempty" yaml:"list,omitempty"`

	Input      Choice  `json:"input,omitempty" yaml:"input,omitempty"`
	Experience float64 `json:"experience,omitempty" yaml:"experience,omitempty"`
	CookTime   int     `json:"cook_time,omitempty" yaml:"cook_time,omitempty"`
}

// Clone returns a deep copy of d.
func (d Definition) Clone() Definition {
	cp := d
	cp.Shape = slices.Clone(d.Shape)
	if d.Ingredients != nil {
		cp.Ingredients = make(map[string]Choice, len(d.Ingredients))
		for sym, ch := range d.Ingredients {
			cp.Ingredients[sym] = slices.Clone(ch)
		}
	}
	if d.List != nil {
		cp.List = make([]Choice, len(d.List))
		for i, ch := range d.List {
			cp.List[i] = slices.Clone(ch)
		}
	}
	cp.Input = slices.Clone(d.Input)
	return cp
}
