package host

import (
	"bufio"
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"

	"reshuffle/internal/recipe"
)

//go:embed sample_recipes.yaml
var sampleRecipes []byte

// File is the on-disk recipe catalog.
type File struct {
	// Items are registered in addition to every item the recipes mention.
	Items   []string            `yaml:"items"`
	Recipes []recipe.Definition `yaml:"recipes"`
}

// Sample returns the built-in catalog.
func Sample() (*File, error) { return ParseFile("sample_recipes.yaml", sampleRecipes) }

// LoadFile reads a recipe catalog. An empty path loads the built-in sample.
func LoadFile(path string) (*File, error) {
	if path == "" {
		return Sample()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recipes: %w", err)
	}
	return ParseFile(path, b)
}

// ParseFile decodes and normalizes a catalog. Keys are validated, item IDs
// get the default namespace and duplicate keys are rejected.
func ParseFile(name string, b []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}

	seen := make(map[recipe.Key]struct{}, len(f.Recipes))
	for i := range f.Recipes {
		d := &f.Recipes[i]
		key, err := recipe.ParseKey(string(d.Key))
		if err != nil {
			return nil, fmt.Errorf("%s: recipe %d: %w", name, i, err)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%s: duplicate recipe %s", name, key)
		}
		seen[key] = struct{}{}
		d.Key = key
		d.Kind = recipe.Kind(strings.ToLower(string(d.Kind)))
		d.Output.ID = recipe.NormalizeID(d.Output.ID)
		if d.Output.ID == "" {
			return nil, fmt.Errorf("%s: recipe %s has no output", name, key)
		}
		normalizeChoice(d.Input)
		for _, ch := range d.List {
			normalizeChoice(ch)
		}
		for _, ch := range d.Ingredients {
			normalizeChoice(ch)
		}
	}
	return &f, nil
}

func normalizeChoice(ch recipe.Choice) {
	for i, id := range ch {
		ch[i] = recipe.NormalizeID(id)
	}
}

// ItemIDs returns the explicit items plus every item mentioned by a recipe.
func (f *File) ItemIDs() []string {
	ids := append([]string(nil), f.Items...)
	for _, d := range f.Recipes {
		ids = append(ids, d.Output.ID)
		ids = append(ids, d.Input...)
		for _, ch := range d.List {
			ids = append(ids, ch...)
		}
		for _, ch := range d.Ingredients {
			ids = append(ids, ch...)
		}
	}
	return ids
}

// ReadItemsFile reads one item ID per line. Blank lines and lines starting with # are skipped.
func ReadItemsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read items: %w", err)
	}
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read items: %w", err)
	}
	return ids, nil
}
