package host

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"reshuffle/internal/catalog"
	"reshuffle/internal/exec"
	"reshuffle/internal/recipe"
	"reshuffle/internal/shuffle"
	"reshuffle/internal/storage"
	logx "reshuffle/pkg/logx"
)

func startWriter(t *testing.T) *exec.Dispatcher {
	t.Helper()
	d := exec.NewSingleWriter(exec.Options{Workers: 2}, logx.Nop())
	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})
	return d
}

func TestSampleCatalog(t *testing.T) {
	t.Parallel()

	f, err := Sample()
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Recipes) != 13 {
		t.Fatalf("recipes=%d want 13", len(f.Recipes))
	}
	kinds := map[recipe.Kind]int{}
	for _, d := range f.Recipes {
		kinds[d.Kind]++
	}
	for _, k := range recipe.Kinds() {
		if kinds[k] == 0 {
			t.Errorf("sample has no %s recipe", k)
		}
	}
	if kinds["smithing"] != 1 {
		t.Errorf("expected one unsupported smithing recipe")
	}
}

func TestParseFileNormalizes(t *testing.T) {
	t.Parallel()

	src := `
items: [stone]
recipes:
  - key: Glass
    kind: FURNACE
    output: {id: glass}
    input: [sand]
`
	f, err := ParseFile("test.yaml", []byte(src))
	if err != nil {
		t.Fatal(err)
	}
	want := recipe.Definition{
		Key:    "minecraft:glass",
		Kind:   recipe.KindFurnace,
		Output: recipe.Item{ID: "minecraft:glass"},
		Input:  recipe.Choice{"minecraft:sand"},
	}
	if diff := cmp.Diff(want, f.Recipes[0]); diff != "" {
		t.Fatalf("definition (-want +got):\n%s", diff)
	}
	items, _ := NewItems(f.ItemIDs()...).Items(context.Background())
	if diff := cmp.Diff([]string{"minecraft:glass", "minecraft:sand", "minecraft:stone"}, items); diff != "" {
		t.Fatalf("items (-want +got):\n%s", diff)
	}
}

func TestParseFileRejects(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"duplicate": "recipes:\n  - {key: a, kind: shapeless, output: {id: x}}\n  - {key: minecraft:a, kind: shapeless, output: {id: y}}\n",
		"bad key":   "recipes:\n  - {key: 'bad key', kind: shapeless, output: {id: x}}\n",
		"no output": "recipes:\n  - {key: a, kind: shapeless}\n",
		"unknown":   "recipes: []\nextra: 1\n",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseFile("test.yaml", []byte(src)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadWithItemsFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	items := filepath.Join(dir, "items.txt")
	if err := os.WriteFile(items, []byte("# extra\nnether_star\n\nminecraft:diamond\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	h, err := Load(Options{ItemsFile: items, Threading: "regionized"})
	if err != nil {
		t.Fatal(err)
	}
	if !h.Probe.Partitioned() {
		t.Fatalf("regionized host should report partitioned")
	}
	ids, _ := h.Items.Items(context.Background())
	found := false
	for _, id := range ids {
		if id == "minecraft:nether_star" {
			found = true
		}
	}
	if !found {
		t.Fatalf("extra item missing from %v", ids)
	}

	if _, err := Load(Options{Threading: "green"}); err == nil {
		t.Fatalf("expected threading error")
	}
	if _, err := Load(Options{RecipesFile: filepath.Join(dir, "missing.yaml")}); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestCatalogRequiresWriter(t *testing.T) {
	t.Parallel()

	d := startWriter(t)
	c := NewCatalog(d, []recipe.Definition{{Key: "minecraft:a", Kind: recipe.KindShapeless, Output: recipe.Item{ID: "minecraft:x"}}})

	if _, err := c.Enumerate(context.Background()); !errors.Is(err, ErrOffWriter) {
		t.Fatalf("err=%v want ErrOffWriter", err)
	}

	err := d.RunOnWriterAndAwait(context.Background(), func(ctx context.Context) error {
		defs, err := c.Enumerate(ctx)
		if err != nil || len(defs) != 1 {
			t.Errorf("Enumerate=%v,%v", defs, err)
		}
		var dup *DuplicateKeyError
		if err := c.Add(ctx, defs[0]); !errors.As(err, &dup) {
			t.Errorf("Add duplicate err=%v", err)
		}
		if err := c.Remove(ctx, "minecraft:missing"); err != nil {
			t.Errorf("Remove missing: %v", err)
		}
		return c.Remove(ctx, "minecraft:a")
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 0 {
		t.Fatalf("len=%d", c.Len())
	}
}

func TestClientsOnlineSorted(t *testing.T) {
	t.Parallel()

	cs := NewClients()
	cs.Join(NewPlayer("steve"))
	cs.Join(NewPlayer("alex"))
	cs.Join(NewPlayer("zed"))
	cs.Leave("zed")

	var names []string
	for _, c := range cs.Online() {
		names = append(names, c.Name())
	}
	if diff := cmp.Diff([]string{"alex", "steve"}, names); diff != "" {
		t.Fatalf("online (-want +got):\n%s", diff)
	}

	p := NewPlayer("p")
	p.Discover([]recipe.Key{"minecraft:b", "minecraft:a"})
	p.Undiscover([]recipe.Key{"minecraft:b"})
	if diff := cmp.Diff([]recipe.Key{"minecraft:a"}, p.Known()); diff != "" {
		t.Fatalf("known (-want +got):\n%s", diff)
	}
}

// The sample catalog survives a shuffle and restore through the coordinator.
func TestShuffleRoundTripOnSample(t *testing.T) {
	t.Parallel()

	h, err := Load(Options{})
	if err != nil {
		t.Fatal(err)
	}
	d := startWriter(t)
	live, err := h.Attach(d)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Attach(d); err == nil {
		t.Fatalf("second Attach should fail")
	}
	steve := NewPlayer("steve")
	h.Clients.Join(steve)

	keeper := catalog.LoadStateKeeper(context.Background(), storage.NewMemory(), logx.Nop())
	coord, err := catalog.New(catalog.Deps{
		Exec:     d,
		Host:     live,
		Items:    h.Items,
		State:    keeper,
		Sync:     catalog.NewClientSync(h.Clients, logx.Nop()),
		Settings: func() catalog.Settings { return catalog.Settings{SyncMode: catalog.SyncResync} },
	})
	if err != nil {
		t.Fatal(err)
	}

	before := map[recipe.Key]recipe.Definition{}
	for _, def := range h.Recipes() {
		before[def.Key] = def
	}

	ctx := context.Background()
	res, err := coord.Shuffle(ctx, catalog.Request{Mode: shuffle.ModeRecipeResult, Seed: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != "minecraft:netherite_sword_smithing" {
		t.Fatalf("skipped=%v", res.Skipped)
	}
	if live.Len() != len(before) {
		t.Fatalf("live=%d want %d", live.Len(), len(before))
	}
	if len(steve.Known()) == 0 || steve.Refreshes() != 1 {
		t.Fatalf("client not resynced: known=%d refreshes=%d", len(steve.Known()), steve.Refreshes())
	}

	if _, err := coord.Restore(ctx); err != nil {
		t.Fatal(err)
	}
	for key, want := range before {
		got, ok := live.Lookup(key)
		if !ok {
			t.Fatalf("%s missing after restore", key)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("%s (-want +got):\n%s", key, diff)
		}
	}
	if steve.Refreshes() != 2 {
		t.Fatalf("refreshes=%d want 2", steve.Refreshes())
	}
}
