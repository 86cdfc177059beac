// Package shuffle computes seeded, reproducible output assignments for a recipe set.
//
// Everything here is pure: the same inputs always produce the same Assignment,
// and functions are safe to call from any goroutine.
package shuffle

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"reshuffle/internal/recipe"
)

// ErrEmptyOutputPool is returned in ModeRandomItem when there are no candidate outputs.
var ErrEmptyOutputPool = errors.New("shuffle: empty output pool")

// Mode selects how new outputs are chosen.
type Mode int

const (
	// ModeRandomItem draws each output independently from the available item pool.
	ModeRandomItem Mode = iota
	// ModeRecipeResult permutes the existing outputs among the recipes.
	ModeRecipeResult
)

func (m Mode) String() string {
	switch m {
	case ModeRandomItem:
		return "random_item"
	case ModeRecipeResult:
		return "recipe_result"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ModeNames lists the accepted textual forms.
func ModeNames() []string { return []string{ModeRandomItem.String(), ModeRecipeResult.String()} }

// ParseMode accepts "random_item" or "recipe_result" (case-insensitive).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "random_item":
		return ModeRandomItem, nil
	case "recipe_result":
		return ModeRecipeResult, nil
	default:
		return 0, fmt.Errorf("unknown shuffle mode %q (want %s)", s, strings.Join(ModeNames(), " or "))
	}
}

// Entry is one key with its newly assigned output.
type Entry struct {
	Key    recipe.Key
	Output recipe.Item
}

// Assignment lists entries in key order, which is also the draw order.
type Assignment []Entry

// Map returns the assignment indexed by key.
func (a Assignment) Map() map[recipe.Key]recipe.Item {
	m := make(map[recipe.Key]recipe.Item, len(a))
	for _, e := range a {
		m[e.Key] = e.Output
	}
	return m
}

// NewRand returns the generator used for seed. The draw sequence for a given
// seed is fixed by math/rand's Source contract.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// ComputeAssignment returns a new output for every key in original.
//
// In ModeRandomItem, keys are visited in order and each draws one index into
// available. In ModeRecipeResult, the existing outputs (in key order) are
// Fisher-Yates shuffled and zipped back onto the keys. An empty original
// yields an empty Assignment.
func ComputeAssignment(original *recipe.Set, mode Mode, seed int64, available []recipe.Item) (Assignment, error) {
	keys := original.Keys()
	switch mode {
	case ModeRandomItem:
		if len(keys) == 0 {
			return Assignment{}, nil
		}
		if len(available) == 0 {
			return nil, ErrEmptyOutputPool
		}
		rnd := NewRand(seed)
		out := make(Assignment, len(keys))
		for i, k := range keys {
			out[i] = Entry{Key: k, Output: available[rnd.Intn(len(available))]}
		}
		return out, nil

	case ModeRecipeResult:
		outputs := original.Outputs()
		Permute(NewRand(seed), outputs)
		out := make(Assignment, len(keys))
		for i, k := range keys {
			out[i] = Entry{Key: k, Output: outputs[i]}
		}
		return out, nil

	default:
		return nil, fmt.Errorf("shuffle: unsupported mode %v", mode)
	}
}

// Permute shuffles items in place: for i from the last index down to 1,
// swap i with a uniform draw from [0, i].
func Permute[T any](rnd *rand.Rand, items []T) {
	for i := len(items) - 1; i > 0; i-- {
		j := rnd.Intn(i + 1)
		items[i], items[j] = items[j], items[i]
	}
}
