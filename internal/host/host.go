package host

import (
	"fmt"

	"reshuffle/internal/exec"
	"reshuffle/internal/recipe"
)

type Options struct {
	RecipesFile string
	ItemsFile   string
	Threading   string
}

// Host bundles the in-memory host components.
type Host struct {
	Probe   Probe
	Items   *Items
	Clients *Clients

	recipes []recipe.Definition
	catalog *Catalog
}

// Load reads recipes and items. The catalog is created by Attach once the
// execution coordinator exists, since choosing the coordinator needs Probe.
func Load(opts Options) (*Host, error) {
	probe, err := ParseThreading(opts.Threading)
	if err != nil {
		return nil, err
	}
	f, err := LoadFile(opts.RecipesFile)
	if err != nil {
		return nil, err
	}
	ids := f.ItemIDs()
	if opts.ItemsFile != "" {
		extra, err := ReadItemsFile(opts.ItemsFile)
		if err != nil {
			return nil, err
		}
		ids = append(ids, extra...)
	}
	return &Host{
		Probe:   probe,
		Items:   NewItems(ids...),
		Clients: NewClients(),
		recipes: f.Recipes,
	}, nil
}

// Attach creates the live catalog guarded by ex. It may be called once.
func (h *Host) Attach(ex exec.Coordinator) (*Catalog, error) {
	if h.catalog != nil {
		return nil, fmt.Errorf("host: catalog already attached")
	}
	h.catalog = NewCatalog(ex, h.recipes)
	return h.catalog, nil
}

// Recipes returns the loaded definitions.
func (h *Host) Recipes() []recipe.Definition {
	out := make([]recipe.Definition, len(h.recipes))
	for i, d := range h.recipes {
		out[i] = d.Clone()
	}
	return out
}
