package catalog

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"reshuffle/internal/storage"
	logx "reshuffle/pkg/logx"
)

// StateKeeper holds the seed and shuffle state in memory and writes it
// through to a storage.Store. Persistence failures are returned to the caller
// but never roll back the in-memory value.
type StateKeeper struct {
	store storage.Store
	log   logx.Logger
	now   func() time.Time
	rand  func() int64

	saveMu sync.Mutex // orders store writes
	mu     sync.Mutex
	st     storage.State
}

// KeeperOption configures a StateKeeper.
type KeeperOption func(*StateKeeper)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) KeeperOption {
	return func(k *StateKeeper) { k.now = now }
}

// WithSeedSource overrides random seed generation.
func WithSeedSource(fn func() int64) KeeperOption {
	return func(k *StateKeeper) { k.rand = fn }
}

// LoadStateKeeper reads the stored state. Without a stored seed, a random one
// is generated and saved. Read or write failures are logged and the in-memory
// state is used.
func LoadStateKeeper(ctx context.Context, store storage.Store, log logx.Logger, opts ...KeeperOption) *StateKeeper {
	if log.IsZero() {
		log = logx.Nop()
	}
	if store == nil {
		store = storage.NewMemory()
	}
	k := &StateKeeper{store: store, log: log.With(logx.String("comp", "state")), now: time.Now, rand: rand.Int64}
	for _, o := range opts {
		o(k)
	}

	st, ok, err := store.LoadState(ctx)
	if err != nil {
		k.log.Warn("failed to load state, using defaults", logx.Err(err))
	}
	if !ok {
		st.Seed = k.rand()
		st.UserSetSeed = false
		if err := store.SaveState(ctx, st); err != nil {
			k.log.Warn("failed to save generated seed", logx.Err(err))
		}
		k.log.Info("generated random seed", logx.Int64("seed", st.Seed))
	}
	k.st = st
	return k
}

// Snapshot returns the current state.
func (k *StateKeeper) Snapshot() storage.State {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.st
}

// SetSeed stores a user-chosen seed.
func (k *StateKeeper) SetSeed(ctx context.Context, seed int64) error {
	return k.update(ctx, func(st *storage.State) {
		st.Seed = seed
		st.UserSetSeed = true
	})
}

// RandomizeSeed generates, stores and returns a new random seed.
func (k *StateKeeper) RandomizeSeed(ctx context.Context) (int64, error) {
	var seed int64
	err := k.update(ctx, func(st *storage.State) {
		seed = k.rand()
		st.Seed = seed
		st.UserSetSeed = false
	})
	return seed, err
}

// Persist writes the current in-memory state.
func (k *StateKeeper) Persist(ctx context.Context) error {
	k.saveMu.Lock()
	defer k.saveMu.Unlock()
	return k.store.SaveState(ctx, k.Snapshot())
}

// setShuffled updates the in-memory flag and stamps the shuffle time.
// It is called from the writer context and never touches the store.
func (k *StateKeeper) setShuffled(shuffled bool) {
	k.mu.Lock()
	k.st.Shuffled = shuffled
	k.st.LastShuffle = k.now().UnixMilli()
	k.mu.Unlock()
}

func (k *StateKeeper) update(ctx context.Context, fn func(*storage.State)) error {
	k.saveMu.Lock()
	defer k.saveMu.Unlock()
	k.mu.Lock()
	fn(&k.st)
	st := k.st
	k.mu.Unlock()
	return k.store.SaveState(ctx, st)
}
