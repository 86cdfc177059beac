package catalog

import (
	"context"
	"fmt"
	"strings"

	"reshuffle/internal/recipe"
	logx "reshuffle/pkg/logx"
)

// SyncMode selects how connected clients learn about catalog changes.
type SyncMode string

const (
	// SyncResync makes every client discover the current keys.
	SyncResync SyncMode = "resync"
	// SyncClear makes clients forget the original keys after a shuffle.
	SyncClear SyncMode = "clear"
	// SyncVanilla leaves clients alone.
	SyncVanilla SyncMode = "vanilla"
)

func ParseSyncMode(s string) (SyncMode, error) {
	switch m := SyncMode(strings.ToLower(strings.TrimSpace(s))); m {
	case SyncResync, SyncClear, SyncVanilla:
		return m, nil
	default:
		return "", fmt.Errorf("unknown client sync mode %q (want resync, clear or vanilla)", s)
	}
}

// Client is one connected player as seen by the sync policy.
type Client interface {
	Name() string
	// RefreshCommands re-sends the client's command and recipe-book view.
	RefreshCommands()
	Discover(keys []recipe.Key)
	Undiscover(keys []recipe.Key)
}

// Clients lists connected clients.
type Clients interface {
	Online() []Client
}

// ClientSync is the SyncPolicy that talks to connected clients.
type ClientSync struct {
	clients Clients
	log     logx.Logger
}

func NewClientSync(clients Clients, log logx.Logger) *ClientSync {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ClientSync{clients: clients, log: log.With(logx.String("comp", "clientsync"))}
}

func (s *ClientSync) AfterShuffle(ctx context.Context, mode SyncMode, shuffled, original []recipe.Key) {
	_ = ctx
	switch mode {
	case SyncResync:
		n := s.each(func(c Client) { c.Discover(shuffled) })
		s.log.Info("resynced clients with new recipes", logx.Int("clients", n))
	case SyncClear:
		n := s.each(func(c Client) { c.Undiscover(original) })
		s.log.Info("cleared recipes from clients", logx.Int("clients", n))
	case SyncVanilla:
		s.log.Debug("vanilla client recipe handling")
	default:
		s.log.Warn("unknown client sync mode, using resync", logx.String("mode", string(mode)))
		s.each(func(c Client) { c.Discover(shuffled) })
	}
}

func (s *ClientSync) AfterRestore(ctx context.Context, mode SyncMode, original []recipe.Key) {
	_ = ctx
	if mode != SyncResync && mode != SyncClear {
		return
	}
	n := s.each(func(c Client) { c.Discover(original) })
	s.log.Info("resynced clients with original recipes", logx.Int("clients", n))
}

func (s *ClientSync) each(fn func(Client)) int {
	if s.clients == nil {
		return 0
	}
	online := s.clients.Online()
	for _, c := range online {
		c.RefreshCommands()
		fn(c)
	}
	return len(online)
}
