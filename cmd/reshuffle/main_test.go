package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reshuffle/internal/catalog"
	"reshuffle/internal/host"
	"reshuffle/internal/shuffle"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestPreviewIsDeterministic(t *testing.T) {
	for _, mode := range []string{"random_item", "recipe_result"} {
		first, err := execute(t, "preview", "--seed", "42", "--mode", mode)
		if err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		second, err := execute(t, "preview", "--seed", "42", "--mode", mode)
		if err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		if first != second {
			t.Fatalf("%s: same seed printed different assignments:\n%s\n%s", mode, first, second)
		}
		if !strings.HasPrefix(first, "mode="+mode+" seed=42 recipes=") {
			t.Fatalf("unexpected header: %q", first)
		}
		if !strings.Contains(first, " -> ") {
			t.Fatalf("no assignment lines: %q", first)
		}
	}
}

func TestPreviewUsesConfigExclusions(t *testing.T) {
	sample, err := host.Sample()
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	items := filepath.Join(dir, "items.txt")
	if err := os.WriteFile(items, []byte("minecraft:gold_ingot\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf("host:\n  items_file: %q\nshuffle:\n  excluded_recipes: [%q]\n  excluded_outputs: [%q]\n",
		items, "minecraft:torch", "minecraft:dirt")
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := execute(t, "preview", "--config", cfgPath, "--seed", "7")
	if err != nil {
		t.Fatalf("preview: %v", err)
	}

	original := catalog.ExcludeRecipes(sample.Recipes, []string{"minecraft:torch"})
	pool := catalog.OutputPool(append(sample.ItemIDs(), "minecraft:gold_ingot"), []string{"minecraft:dirt"})
	asg, err := shuffle.ComputeAssignment(original, shuffle.ModeRandomItem, 7, pool)
	if err != nil {
		t.Fatal(err)
	}
	var want strings.Builder
	fmt.Fprintf(&want, "mode=random_item seed=7 recipes=%d\n", len(asg))
	for _, e := range asg {
		fmt.Fprintf(&want, "%s -> %s\n", e.Key, e.Output)
	}
	if got != want.String() {
		t.Fatalf("preview output:\n%s\nwant:\n%s", got, want.String())
	}
	if strings.Contains(got, "minecraft:torch -> ") || strings.Contains(got, "-> minecraft:dirt\n") {
		t.Fatalf("excluded entries printed:\n%s", got)
	}
}

func TestPreviewRejectsUnknownMode(t *testing.T) {
	if _, err := execute(t, "preview", "--mode", "sideways"); err == nil {
		t.Fatal("expected error")
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "reshuffle dev" {
		t.Fatalf("got %q", out)
	}
}
