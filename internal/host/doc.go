// Package host is the bundled in-memory host: a live recipe catalog, an item
// registry, connected clients and the threading-model probe. Recipes are
// loaded from a YAML file or the built-in sample.
package host
