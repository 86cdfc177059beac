package host

import (
	"slices"
	"sort"
	"sync"

	"reshuffle/internal/catalog"
	"reshuffle/internal/recipe"
)

// Player is a connected client with a recipe book.
type Player struct {
	name string

	mu        sync.Mutex
	known     map[recipe.Key]struct{}
	refreshes int
}

var _ catalog.Client = (*Player)(nil)

func NewPlayer(name string) *Player {
	return &Player{name: name, known: map[recipe.Key]struct{}{}}
}

func (p *Player) Name() string { return p.name }

func (p *Player) RefreshCommands() {
	p.mu.Lock()
	p.refreshes++
	p.mu.Unlock()
}

func (p *Player) Discover(keys []recipe.Key) {
	p.mu.Lock()
	for _, k := range keys {
		p.known[k] = struct{}{}
	}
	p.mu.Unlock()
}

func (p *Player) Undiscover(keys []recipe.Key) {
	p.mu.Lock()
	for _, k := range keys {
		delete(p.known, k)
	}
	p.mu.Unlock()
}

// Known returns the discovered keys in order.
func (p *Player) Known() []recipe.Key {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]recipe.Key, 0, len(p.known))
	for k := range p.known {
		out = append(out, k)
	}
	slices.SortFunc(out, recipe.Key.Compare)
	return out
}

// Refreshes counts RefreshCommands calls.
func (p *Player) Refreshes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshes
}

// Clients is the set of connected players.
type Clients struct {
	mu     sync.Mutex
	online map[string]*Player
}

var _ catalog.Clients = (*Clients)(nil)

func NewClients() *Clients { return &Clients{online: map[string]*Player{}} }

// Join connects a player, replacing one with the same name.
func (c *Clients) Join(p *Player) {
	c.mu.Lock()
	c.online[p.Name()] = p
	c.mu.Unlock()
}

func (c *Clients) Leave(name string) {
	c.mu.Lock()
	delete(c.online, name)
	c.mu.Unlock()
}

// Online returns connected players sorted by name.
func (c *Clients) Online() []catalog.Client {
	c.mu.Lock()
	names := make([]string, 0, len(c.online))
	for n := range c.online {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]catalog.Client, 0, len(names))
	for _, n := range names {
		out = append(out, c.online[n])
	}
	c.mu.Unlock()
	return out
}
