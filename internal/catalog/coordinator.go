package catalog

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"reshuffle/internal/eventbus"
	"reshuffle/internal/exec"
	"reshuffle/internal/recipe"
	"reshuffle/internal/shuffle"
	"reshuffle/internal/storage"
	logx "reshuffle/pkg/logx"
)

// ErrOnWriter is returned when Shuffle or Restore is called from the writer
// context; use ShuffleAsync or RestoreAsync there.
var ErrOnWriter = errors.New("catalog: blocking call from the writer context")

// WriterError reports a writer-context step that failed.
type WriterError struct {
	Op  string
	Err error
	// Rollback is the result of the best-effort restore after a failed apply;
	// nil with RolledBack=true means the original set is live again.
	Rollback   error
	RolledBack bool
}

func (e *WriterError) Error() string {
	msg := fmt.Sprintf("catalog %s: %v", e.Op, e.Err)
	switch {
	case e.RolledBack && e.Rollback == nil:
		msg += " (original recipes restored)"
	case e.Rollback != nil:
		msg += fmt.Sprintf(" (restore failed: %v)", e.Rollback)
	}
	return msg
}

func (e *WriterError) Unwrap() error { return e.Err }

// Phase is the coordinator's progress through one operation.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhasePreparing
	PhaseApplying
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePreparing:
		return "preparing"
	case PhaseApplying:
		return "applying"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

const (
	ActionShuffle = "shuffle"
	ActionRestore = "restore"
)

// Request parameterizes one shuffle.
type Request struct {
	Mode     shuffle.Mode
	Seed     int64
	Announce bool
}

// Result describes a finished operation.
type Result struct {
	ID      string
	Action  string
	Mode    shuffle.Mode
	Seed    int64
	Recipes int
	// Skipped lists keys whose kind has no builder; they keep their original definition.
	// In recipe_result mode the outputs assigned to them are dropped, so once any
	// key is skipped the live outputs are no longer a permutation of the original
	// outputs. The assignment itself always is.
	Skipped []recipe.Key
	// Noop is set for a restore that found nothing to undo.
	Noop bool
	Took time.Duration
}

// Deps are the collaborators of a Coordinator. Exec, Host and State are required.
type Deps struct {
	Exec        exec.Coordinator
	Host        Catalog
	Items       ItemSource
	Transformer *recipe.Transformer
	State       *StateKeeper
	Notifier    Notifier
	Sync        SyncPolicy
	Settings    func() Settings
	Bus         eventbus.Bus
	Log         logx.Logger
	Now         func() time.Time
	// BuildWorkers bounds parallel definition building (default GOMAXPROCS).
	BuildWorkers int
}

// Status is a point-in-time view for operators.
type Status struct {
	Phase        Phase
	Captured     bool
	Original     int
	Shuffled     int
	Skipped      int
	State        storage.State
	Inconsistent bool
	LastError    string
}

type Coordinator struct {
	exec     exec.Coordinator
	host     Catalog
	items    ItemSource
	tr       *recipe.Transformer
	state    *StateKeeper
	notify   Notifier
	sync     SyncPolicy
	settings func() Settings
	bus      eventbus.Bus
	log      logx.Logger
	now      func() time.Time
	workers  int

	gate         *semaphore.Weighted
	phase        atomic.Int32
	inconsistent atomic.Bool

	mu       sync.RWMutex
	original *recipe.Set
	shuffled *recipe.Set
	skipped  map[recipe.Key]struct{}
	lastErr  string
}

func New(d Deps) (*Coordinator, error) {
	if d.Exec == nil || d.Host == nil || d.State == nil {
		return nil, errors.New("catalog: Exec, Host and State are required")
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Transformer == nil {
		d.Transformer = recipe.NewTransformer()
	}
	if d.Settings == nil {
		d.Settings = func() Settings { return Settings{SyncMode: SyncResync} }
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.BuildWorkers <= 0 {
		d.BuildWorkers = runtime.GOMAXPROCS(0)
	}
	return &Coordinator{
		exec:     d.Exec,
		host:     d.Host,
		items:    d.Items,
		tr:       d.Transformer,
		state:    d.State,
		notify:   d.Notifier,
		sync:     d.Sync,
		settings: d.Settings,
		bus:      d.Bus,
		log:      d.Log.With(logx.String("comp", "catalog")),
		now:      d.Now,
		workers:  d.BuildWorkers,
		gate:     semaphore.NewWeighted(1),
		skipped:  map[recipe.Key]struct{}{},
	}, nil
}

// State returns the seed and shuffle state keeper.
func (c *Coordinator) State() *StateKeeper { return c.state }

// Inconsistent reports that a rollback failed and the live catalog may hold a mix of sets.
func (c *Coordinator) Inconsistent() bool { return c.inconsistent.Load() }

func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{
		Phase:        Phase(c.phase.Load()),
		Captured:     c.original != nil,
		Original:     c.original.Len(),
		Shuffled:     c.shuffled.Len(),
		Skipped:      len(c.skipped),
		State:        c.state.Snapshot(),
		Inconsistent: c.inconsistent.Load(),
		LastError:    c.lastErr,
	}
}

// Original returns the captured original set, or nil before the first capture.
func (c *Coordinator) Original() *recipe.Set {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.original
}

// Shuffled returns the applied shuffled set, or nil when none is live.
func (c *Coordinator) Shuffled() *recipe.Set {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.shuffled
}

// Initialize re-applies the persisted shuffle after a restart, without announcing it.
func (c *Coordinator) Initialize(ctx context.Context, mode shuffle.Mode) error {
	st := c.state.Snapshot()
	if !st.Shuffled {
		return nil
	}
	c.log.Info("recipes were shuffled before restart, restoring shuffle state", logx.Int64("seed", st.Seed))
	_, err := c.Shuffle(ctx, Request{Mode: mode, Seed: st.Seed, Announce: false})
	return err
}

// ShuffleAsync runs Shuffle on a worker. Safe to call from the writer context.
func (c *Coordinator) ShuffleAsync(ctx context.Context, req Request) exec.Handle {
	return c.exec.RunOnWorker(ctx, func(wctx context.Context) error {
		_, err := c.Shuffle(wctx, req)
		return err
	})
}

// RestoreAsync runs Restore on a worker. Safe to call from the writer context.
func (c *Coordinator) RestoreAsync(ctx context.Context) exec.Handle {
	return c.exec.RunOnWorker(ctx, func(wctx context.Context) error {
		_, err := c.Restore(wctx)
		return err
	})
}

// Shuffle captures the original set if needed, prepares the shuffled set off
// the writer, and applies it on the writer. It queues behind any operation in
// flight. If the apply fails, the original set is restored best-effort.
func (c *Coordinator) Shuffle(ctx context.Context, req Request) (Result, error) {
	if c.exec.OnWriter(ctx) {
		return Result{}, ErrOnWriter
	}
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer c.release()

	begin := c.now()
	res := Result{ID: uuid.NewString(), Action: ActionShuffle, Mode: req.Mode, Seed: req.Seed}
	log := c.log.With(logx.String("run", res.ID), logx.String("mode", req.Mode.String()), logx.Int64("seed", req.Seed))
	set := c.settings()

	c.phase.Store(int32(PhasePreparing))
	c.publish(eventbus.TypeShuffleStarted, res, req.Announce, nil)
	if req.Announce {
		c.broadcast(set.StartedMessage)
	}

	original, err := c.capture(ctx, set.ExcludedRecipes)
	if err != nil {
		return c.failed(log, res, begin, req.Announce, err)
	}

	p, err := c.prepare(ctx, original, req, set)
	if err != nil {
		return c.failed(log, res, begin, req.Announce, err)
	}
	res.Skipped = p.skipped
	if len(p.skipped) > 0 {
		log.Warn("skipped recipes of unsupported kind", logx.Int("count", len(p.skipped)), logx.Any("keys", p.skipped))
	}

	c.phase.Store(int32(PhaseApplying))
	var applyStarted atomic.Bool
	err = c.exec.RunOnWriterAndAwait(ctx, func(wctx context.Context) error {
		applyStarted.Store(true)
		return c.apply(wctx, original, p, set.SyncMode)
	})
	if err != nil {
		werr := &WriterError{Op: "apply", Err: err}
		if applyStarted.Load() {
			werr.RolledBack = true
			werr.Rollback = c.rollback(ctx, original, set.SyncMode)
		}
		return c.failed(log, res, begin, req.Announce, werr)
	}

	if err := c.state.Persist(ctx); err != nil {
		log.Warn("failed to persist shuffle state", logx.Err(err))
	}
	if req.Announce {
		c.broadcast(set.FinishedMessage)
	}

	res.Recipes = p.set.Len()
	res.Took = c.now().Sub(begin)
	st := c.state.Snapshot()
	log.Info("recipes shuffled",
		logx.Int("recipes", res.Recipes),
		logx.Int("skipped", len(res.Skipped)),
		logx.Bool("user_set_seed", st.UserSetSeed),
		logx.Duration("took", res.Took),
	)
	c.setLastErr("")
	c.publish(eventbus.TypeShuffleApplied, res, req.Announce, nil)
	return res, nil
}

// Restore puts the original set back. It is a no-op when nothing is shuffled.
func (c *Coordinator) Restore(ctx context.Context) (Result, error) {
	if c.exec.OnWriter(ctx) {
		return Result{}, ErrOnWriter
	}
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer c.release()

	begin := c.now()
	res := Result{ID: uuid.NewString(), Action: ActionRestore, Seed: c.state.Snapshot().Seed}
	log := c.log.With(logx.String("run", res.ID))

	if !c.state.Snapshot().Shuffled {
		res.Noop = true
		return res, nil
	}

	original := c.Original()
	if original == nil {
		// Nothing was applied in this process, so the live catalog is already original.
		c.state.setShuffled(false)
	} else {
		c.phase.Store(int32(PhaseApplying))
		set := c.settings()
		err := c.exec.RunOnWriterAndAwait(ctx, func(wctx context.Context) error {
			return c.restoreLive(wctx, original, set.SyncMode)
		})
		if err != nil {
			c.inconsistent.Store(true)
			werr := &WriterError{Op: "restore", Err: err}
			res.Took = c.now().Sub(begin)
			log.Error("failed to restore original recipes", logx.Err(err))
			c.setLastErr(werr.Error())
			c.publish(eventbus.TypeRestoreFailed, res, false, werr)
			return res, werr
		}
		res.Recipes = original.Len()
	}

	if err := c.state.Persist(ctx); err != nil {
		log.Warn("failed to persist restore state", logx.Err(err))
	}
	res.Took = c.now().Sub(begin)
	log.Info("restored original recipes", logx.Int("recipes", res.Recipes))
	c.setLastErr("")
	c.publish(eventbus.TypeRestoreApplied, res, false, nil)
	return res, nil
}

func (c *Coordinator) release() {
	c.phase.Store(int32(PhaseIdle))
	c.gate.Release(1)
}

func (c *Coordinator) failed(log logx.Logger, res Result, begin time.Time, announce bool, err error) (Result, error) {
	res.Took = c.now().Sub(begin)
	log.Error("shuffle failed", logx.Err(err), logx.Duration("took", res.Took))
	c.setLastErr(err.Error())
	c.publish(eventbus.TypeShuffleFailed, res, announce, err)
	return res, err
}

// capture enumerates the live catalog once, on the writer.
func (c *Coordinator) capture(ctx context.Context, excluded []string) (*recipe.Set, error) {
	if orig := c.Original(); orig != nil {
		return orig, nil
	}
	err := c.exec.RunOnWriterAndAwait(ctx, func(wctx context.Context) error {
		defs, err := c.host.Enumerate(wctx)
		if err != nil {
			return err
		}
		set := ExcludeRecipes(defs, excluded)

		c.mu.Lock()
		if c.original == nil {
			c.original = set
		}
		c.mu.Unlock()
		c.log.Info("stored original recipes", logx.Int("recipes", set.Len()), logx.Int("excluded", len(defs)-set.Len()))
		return nil
	})
	if err != nil {
		return nil, &WriterError{Op: "capture", Err: err}
	}
	return c.Original(), nil
}

type plan struct {
	set     *recipe.Set
	skipped []recipe.Key
}

// prepare computes the assignment and builds every definition. It touches no
// coordinator state and runs off the writer context.
func (c *Coordinator) prepare(ctx context.Context, original *recipe.Set, req Request, set Settings) (plan, error) {
	var pool []recipe.Item
	if req.Mode == shuffle.ModeRandomItem {
		var err error
		if pool, err = c.outputPool(ctx, set.ExcludedOutputs); err != nil {
			return plan{}, err
		}
	}
	asg, err := shuffle.ComputeAssignment(original, req.Mode, req.Seed, pool)
	if err != nil {
		return plan{}, err
	}

	built := make([]recipe.Definition, len(asg))
	ok := make([]bool, len(asg))
	chunk := max(1, (len(asg)+c.workers-1)/c.workers)

	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < len(asg); lo += chunk {
		lo, hi := lo, min(lo+chunk, len(asg))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				e := asg[i]
				orig, _ := original.Get(e.Key)
				d, err := c.tr.Build(e.Key, orig, e.Output)
				if errors.Is(err, recipe.ErrUnsupportedKind) {
					continue
				}
				if err != nil {
					return err
				}
				built[i], ok[i] = d, true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return plan{}, err
	}

	p := plan{}
	defs := make([]recipe.Definition, 0, len(built))
	for i, d := range built {
		if !ok[i] {
			p.skipped = append(p.skipped, asg[i].Key)
			continue
		}
		defs = append(defs, d)
	}
	p.set = recipe.NewSet(defs...)
	return p, nil
}

// outputPool lists candidate outputs for random_item mode.
func (c *Coordinator) outputPool(ctx context.Context, excluded []string) ([]recipe.Item, error) {
	if c.items == nil {
		return nil, shuffle.ErrEmptyOutputPool
	}
	ids, err := c.items.Items(ctx)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return OutputPool(ids, excluded), nil
}

// ExcludeRecipes builds the set captured as the original catalog: defs minus
// the excluded keys.
func ExcludeRecipes(defs []recipe.Definition, excluded []string) *recipe.Set {
	skip := make(map[string]struct{}, len(excluded))
	for _, k := range excluded {
		skip[recipe.NormalizeID(k)] = struct{}{}
	}
	kept := make([]recipe.Definition, 0, len(defs))
	for _, d := range defs {
		if _, ex := skip[string(d.Key)]; ex {
			continue
		}
		kept = append(kept, d)
	}
	return recipe.NewSet(kept...)
}

// OutputPool turns item ids into the random_item candidate list: normalized,
// minus exclusions, de-duplicated and sorted.
func OutputPool(ids []string, excluded []string) []recipe.Item {
	skip := make(map[string]struct{}, len(excluded))
	for _, id := range excluded {
		skip[recipe.NormalizeID(id)] = struct{}{}
	}
	seen := make(map[string]struct{}, len(ids))
	norm := make([]string, 0, len(ids))
	for _, id := range ids {
		id = recipe.NormalizeID(id)
		if id == "" {
			continue
		}
		if _, ex := skip[id]; ex {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		norm = append(norm, id)
	}
	slices.Sort(norm)
	pool := make([]recipe.Item, len(norm))
	for i, id := range norm {
		pool[i] = recipe.Item{ID: id}
	}
	return pool
}

// apply swaps the live catalog to p.set. Runs on the writer.
func (c *Coordinator) apply(ctx context.Context, original *recipe.Set, p plan, mode SyncMode) error {
	skipped := make(map[recipe.Key]struct{}, len(p.skipped))
	for _, k := range p.skipped {
		skipped[k] = struct{}{}
	}
	for _, k := range original.Keys() {
		if _, keep := skipped[k]; keep {
			continue
		}
		if err := c.host.Remove(ctx, k); err != nil {
			return fmt.Errorf("remove %s: %w", k, err)
		}
	}
	for _, d := range p.set.Entries() {
		if err := c.host.Add(ctx, d); err != nil {
			return fmt.Errorf("add %s: %w", d.Key, err)
		}
	}

	c.mu.Lock()
	c.shuffled = p.set
	c.skipped = skipped
	c.mu.Unlock()
	c.state.setShuffled(true)
	c.inconsistent.Store(false)

	if c.sync != nil {
		c.sync.AfterShuffle(ctx, mode, p.set.Keys(), original.Keys())
	}
	return nil
}

// restoreLive puts every original definition back. Runs on the writer.
// It keeps going past individual failures so as much as possible is restored.
func (c *Coordinator) restoreLive(ctx context.Context, original *recipe.Set, mode SyncMode) error {
	var errs []error
	remove := original.Keys()
	if cur := c.Shuffled(); cur != nil {
		for _, k := range cur.Keys() {
			if !original.Has(k) {
				remove = append(remove, k)
			}
		}
	}
	for _, k := range remove {
		if err := c.host.Remove(ctx, k); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", k, err))
		}
	}
	for _, d := range original.Entries() {
		if err := c.host.Add(ctx, d); err != nil {
			errs = append(errs, fmt.Errorf("add %s: %w", d.Key, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	c.mu.Lock()
	c.shuffled = nil
	c.skipped = map[recipe.Key]struct{}{}
	c.mu.Unlock()
	c.state.setShuffled(false)
	c.inconsistent.Store(false)

	if c.sync != nil {
		c.sync.AfterRestore(ctx, mode, original.Keys())
	}
	return nil
}

func (c *Coordinator) rollback(ctx context.Context, original *recipe.Set, mode SyncMode) error {
	err := c.exec.RunOnWriterAndAwait(context.WithoutCancel(ctx), func(wctx context.Context) error {
		return c.restoreLive(wctx, original, mode)
	})
	if err != nil {
		c.inconsistent.Store(true)
		c.log.Error("failed to restore original recipes after apply error; live catalog may be inconsistent", logx.Err(err))
		return err
	}
	if perr := c.state.Persist(ctx); perr != nil {
		c.log.Warn("failed to persist state after rollback", logx.Err(perr))
	}
	c.log.Warn("restored original recipes after apply error")
	return nil
}

func (c *Coordinator) broadcast(msg string) {
	if c.notify == nil || msg == "" {
		return
	}
	c.notify.Broadcast(msg)
}

func (c *Coordinator) setLastErr(s string) {
	c.mu.Lock()
	c.lastErr = s
	c.mu.Unlock()
}

func (c *Coordinator) publish(typ string, res Result, announce bool, err error) {
	if c.bus == nil {
		return
	}
	rec := storage.Record{
		ID:       res.ID,
		At:       c.now(),
		Action:   res.Action,
		Seed:     res.Seed,
		Recipes:  res.Recipes,
		Skipped:  len(res.Skipped),
		Announce: announce,
		TookMS:   res.Took.Milliseconds(),
	}
	if res.Action == ActionShuffle {
		rec.Mode = res.Mode.String()
	}
	if err != nil {
		rec.Error = err.Error()
	}
	c.bus.Publish(eventbus.Event{Type: typ, Time: rec.At, Data: rec})
}
