package recipe

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Key
		wantErr bool
	}{
		{in: "minecraft:stone", want: "minecraft:stone"},
		{in: "Stone", want: "minecraft:stone"},
		{in: "myplugin:tools/axe_v2", want: "myplugin:tools/axe_v2"},
		{in: "", wantErr: true},
		{in: ":stone", wantErr: true},
		{in: "bad ns:stone", wantErr: true},
		{in: "a/b:stone", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKey(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseKey(%q) expected error, got %q", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKey(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("ParseKey(%q)=%q want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSetOrdersByKey(t *testing.T) {
	t.Parallel()

	s := NewSet(
		Definition{Key: "b:two", Kind: KindShapeless, Output: Item{ID: "y"}},
		Definition{Key: "a:one", Kind: KindShapeless, Output: Item{ID: "x"}},
		Definition{Key: "a:zero", Kind: KindShapeless, Output: Item{ID: "z"}},
	)
	if diff := cmp.Diff([]Key{"a:one", "a:zero", "b:two"}, s.Keys()); diff != "" {
		t.Fatalf("keys (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Item{{ID: "x"}, {ID: "z"}, {ID: "y"}}, s.Outputs()); diff != "" {
		t.Fatalf("outputs (-want +got):\n%s", diff)
	}
}

func TestSetIsolatedFromCallerMutation(t *testing.T) {
	t.Parallel()

	in := Definition{Key: "a:x", Kind: KindShapeless, List: []Choice{{"stick"}}}
	s := NewSet(in)
	in.List[0][0] = "changed"

	got, _ := s.Get("a:x")
	if got.List[0][0] != "stick" {
		t.Fatalf("set shares storage with input: %v", got.List)
	}
	got.List[0][0] = "again"
	again, _ := s.Get("a:x")
	if again.List[0][0] != "stick" {
		t.Fatalf("Get leaks internal storage: %v", again.List)
	}
}

func TestTransformerCopiesInputsAndSwapsOutput(t *testing.T) {
	t.Parallel()

	tr := NewTransformer()
	out := Item{ID: "diamond", Count: 2}

	tests := []struct {
		name string
		orig Definition
		want Definition
	}{
		{
			name: "shaped skips absent slot",
			orig: Definition{
				Key: "m:axe", Kind: KindShaped, Output: Item{ID: "axe"},
				Shape:       []string{"XX", "X#", " #"},
				Ingredients: map[string]Choice{"X": {"planks"}, "#": {"stick"}, "?": nil},
			},
			want: Definition{
				Key: "m:axe", Kind: KindShaped, Output: out,
				Shape:       []string{"XX", "X#", " #"},
				Ingredients: map[string]Choice{"X": {"planks"}, "#": {"stick"}},
			},
		},
		{
			name: "shapeless skips absent slot",
			orig: Definition{Key: "m:dye", Kind: KindShapeless, Output: Item{ID: "dye"}, List: []Choice{{"flower"}, nil, {"bone_meal", "ink"}}},
			want: Definition{Key: "m:dye", Kind: KindShapeless, Output: out, List: []Choice{{"flower"}, {"bone_meal", "ink"}}},
		},
		{
			name: "cooking keeps shared fields",
			orig: Definition{Key: "m:glass", Kind: KindBlasting, Output: Item{ID: "glass"}, Input: Choice{"sand"}, Experience: 0.1, CookTime: 100},
			want: Definition{Key: "m:glass", Kind: KindBlasting, Output: out, Input: Choice{"sand"}, Experience: 0.1, CookTime: 100},
		},
		{
			name: "cutting",
			orig: Definition{Key: "m:slab", Kind: KindStonecutting, Output: Item{ID: "slab", Count: 2}, Input: Choice{"stone"}},
			want: Definition{Key: "m:slab", Kind: KindStonecutting, Output: out, Input: Choice{"stone"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tr.Build(tt.orig.Key, tt.orig, out)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("Build (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTransformerUnsupportedKind(t *testing.T) {
	t.Parallel()

	tr := NewTransformer()
	_, err := tr.Build("m:smith", Definition{Key: "m:smith", Kind: "smithing"}, Item{ID: "x"})
	if !errors.Is(err, ErrUnsupportedKind) {
		t.Fatalf("expected ErrUnsupportedKind, got %v", err)
	}
	var uk *UnsupportedKindError
	if !errors.As(err, &uk) || uk.Kind != "smithing" || uk.Key != "m:smith" {
		t.Fatalf("unexpected error detail: %#v", err)
	}

	tr.Register("smithing", func(key Key, orig Definition, out Item) Definition {
		return Definition{Key: key, Kind: orig.Kind, Output: out}
	})
	if !tr.Supports("smithing") {
		t.Fatalf("Register did not add builder")
	}
	if _, err := tr.Build("m:smith", Definition{Key: "m:smith", Kind: "smithing"}, Item{ID: "x"}); err != nil {
		t.Fatalf("Build after Register: %v", err)
	}
}
