package catalog

import (
	"context"

	"reshuffle/internal/recipe"
)

// Catalog is the host's live recipe catalog. Every method is called on the writer context.
type Catalog interface {
	Enumerate(ctx context.Context) ([]recipe.Definition, error)
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key recipe.Key) error
	Add(ctx context.Context, def recipe.Definition) error
}

// ItemSource lists every item ID the host knows. It may be called off the writer context.
type ItemSource interface {
	Items(ctx context.Context) ([]string, error)
}

// Notifier delivers a formatted message to everyone connected.
type Notifier interface {
	Broadcast(msg string)
}

// SyncPolicy updates connected clients after the live catalog changed.
type SyncPolicy interface {
	AfterShuffle(ctx context.Context, mode SyncMode, shuffled, original []recipe.Key)
	AfterRestore(ctx context.Context, mode SyncMode, original []recipe.Key)
}

// Settings are the config values the coordinator reads at the start of each operation.
type Settings struct {
	ExcludedRecipes []string
	ExcludedOutputs []string
	SyncMode        SyncMode
	StartedMessage  string
	FinishedMessage string
}
