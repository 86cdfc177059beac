package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"reshuffle/internal/recipe"
	"reshuffle/internal/storage"
	logx "reshuffle/pkg/logx"
)

type failingStore struct {
	storage.Store
	saveErr error
}

func (s failingStore) SaveState(context.Context, storage.State) error { return s.saveErr }

func TestStateKeeperGeneratesSeedWhenMissing(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	k := LoadStateKeeper(context.Background(), store, logx.Nop(), WithSeedSource(func() int64 { return 777 }))

	if st := k.Snapshot(); st.Seed != 777 || st.UserSetSeed || st.Shuffled {
		t.Fatalf("snapshot %+v", st)
	}
	saved, ok, _ := store.LoadState(context.Background())
	if !ok || saved.Seed != 777 {
		t.Fatalf("generated seed not saved: %+v ok=%v", saved, ok)
	}
}

func TestStateKeeperKeepsStoredState(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	want := storage.State{Seed: 5, UserSetSeed: true, Shuffled: true, LastShuffle: 1000}
	_ = store.SaveState(context.Background(), want)

	k := LoadStateKeeper(context.Background(), store, logx.Nop(), WithSeedSource(func() int64 {
		t.Fatal("seed source called with stored state")
		return 0
	}))
	if diff := cmp.Diff(want, k.Snapshot()); diff != "" {
		t.Fatalf("state (-want +got):\n%s", diff)
	}
}

func TestStateKeeperSeedUpdates(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	next := int64(10)
	k := LoadStateKeeper(context.Background(), store, logx.Nop(), WithSeedSource(func() int64 { next++; return next }))
	ctx := context.Background()

	if err := k.SetSeed(ctx, -3); err != nil {
		t.Fatal(err)
	}
	if st, _, _ := store.LoadState(ctx); st.Seed != -3 || !st.UserSetSeed {
		t.Fatalf("after SetSeed: %+v", st)
	}

	seed, err := k.RandomizeSeed(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if seed != 12 {
		t.Fatalf("RandomizeSeed=%d want 12", seed)
	}
	if st, _, _ := store.LoadState(ctx); st.Seed != 12 || st.UserSetSeed {
		t.Fatalf("after RandomizeSeed: %+v", st)
	}
}

func TestStateKeeperSetShuffledStampsTime(t *testing.T) {
	t.Parallel()

	at := time.UnixMilli(1_700_000_000_000)
	k := LoadStateKeeper(context.Background(), storage.NewMemory(), logx.Nop(), WithClock(func() time.Time { return at }))
	k.setShuffled(true)
	st := k.Snapshot()
	if !st.Shuffled || st.LastShuffle != at.UnixMilli() || !st.LastShuffleTime().Equal(at) {
		t.Fatalf("state %+v", st)
	}
}

func TestStateKeeperSaveFailureKeepsMemory(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk full")
	k := LoadStateKeeper(context.Background(), failingStore{Store: storage.NewMemory(), saveErr: boom}, logx.Nop())
	if err := k.SetSeed(context.Background(), 9); !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	if k.Snapshot().Seed != 9 {
		t.Fatalf("in-memory seed not updated")
	}
}

type fakeClient struct {
	name    string
	calls   []string
	learned []recipe.Key
	forgot  []recipe.Key
}

func (c *fakeClient) Name() string     { return c.name }
func (c *fakeClient) RefreshCommands() { c.calls = append(c.calls, "refresh") }
func (c *fakeClient) Discover(keys []recipe.Key) {
	c.calls = append(c.calls, "discover")
	c.learned = append(c.learned, keys...)
}
func (c *fakeClient) Undiscover(keys []recipe.Key) {
	c.calls = append(c.calls, "undiscover")
	c.forgot = append(c.forgot, keys...)
}

type fakeClients []*fakeClient

func (f fakeClients) Online() []Client {
	out := make([]Client, len(f))
	for i, c := range f {
		out[i] = c
	}
	return out
}

func TestClientSyncModes(t *testing.T) {
	t.Parallel()

	shuffled := []recipe.Key{"minecraft:a", "minecraft:b"}
	original := []recipe.Key{"minecraft:a", "minecraft:b", "minecraft:c"}

	tests := []struct {
		mode      SyncMode
		restore   bool
		calls     []string
		learned   []recipe.Key
		forgotten []recipe.Key
	}{
		{mode: SyncResync, calls: []string{"refresh", "discover"}, learned: shuffled},
		{mode: SyncClear, calls: []string{"refresh", "undiscover"}, forgotten: original},
		{mode: SyncVanilla},
		{mode: "bogus", calls: []string{"refresh", "discover"}, learned: shuffled},
		{mode: SyncResync, restore: true, calls: []string{"refresh", "discover"}, learned: original},
		{mode: SyncClear, restore: true, calls: []string{"refresh", "discover"}, learned: original},
		{mode: SyncVanilla, restore: true},
	}
	for _, tt := range tests {
		c := &fakeClient{name: "alex"}
		s := NewClientSync(fakeClients{c}, logx.Nop())
		if tt.restore {
			s.AfterRestore(context.Background(), tt.mode, original)
		} else {
			s.AfterShuffle(context.Background(), tt.mode, shuffled, original)
		}
		if diff := cmp.Diff(tt.calls, c.calls); diff != "" {
			t.Errorf("%s restore=%v calls (-want +got):\n%s", tt.mode, tt.restore, diff)
		}
		if diff := cmp.Diff(tt.learned, c.learned); diff != "" {
			t.Errorf("%s restore=%v discovered (-want +got):\n%s", tt.mode, tt.restore, diff)
		}
		if diff := cmp.Diff(tt.forgotten, c.forgot); diff != "" {
			t.Errorf("%s restore=%v undiscovered (-want +got):\n%s", tt.mode, tt.restore, diff)
		}
	}
}

func TestParseSyncMode(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]SyncMode{"resync": SyncResync, " CLEAR ": SyncClear, "Vanilla": SyncVanilla} {
		got, err := ParseSyncMode(in)
		if err != nil || got != want {
			t.Errorf("ParseSyncMode(%q)=%q,%v", in, got, err)
		}
	}
	if _, err := ParseSyncMode("sometimes"); err == nil {
		t.Errorf("expected error")
	}
}
