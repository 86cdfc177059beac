package timer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"reshuffle/internal/exec"
	logx "reshuffle/pkg/logx"
)

// ErrInvalidInterval is returned by Start and Restart for a non-positive interval.
var ErrInvalidInterval = errors.New("timer: interval must be positive")

type State int

const (
	StateIdle State = iota
	StateRunning
	StateCountingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCountingDown:
		return "counting_down"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Shuffler starts an announced shuffle. It is called on the writer context and must not block on it.
type Shuffler interface {
	TimedShuffle(ctx context.Context)
}

// Notifier receives countdown messages.
type Notifier interface {
	Broadcast(msg string)
}

// Settings are read when each countdown begins.
type Settings struct {
	Thresholds []int
	Templates  Templates
}

type Deps struct {
	Exec     exec.Coordinator
	Trigger  Trigger
	Shuffler Shuffler
	Notifier Notifier
	Settings func() Settings
	Log      logx.Logger
	Now      func() time.Time
}

// Status is a snapshot of the engine.
type Status struct {
	State    State
	Interval time.Duration
	// Remaining is the countdown value of the next tick; only set while counting down.
	Remaining int
	// NextTrigger is when the periodic trigger fires next; zero when idle.
	NextTrigger time.Time
}

type Engine struct {
	exec     exec.Coordinator
	trig     Trigger
	shuf     Shuffler
	notify   Notifier
	settings func() Settings
	log      logx.Logger
	now      func() time.Time

	mu       sync.Mutex
	state    State
	interval time.Duration
	gen      uint64
	periodic exec.Handle
	ticker   exec.Handle
	cd       *countdown
	lastFire time.Time
}

func New(d Deps) (*Engine, error) {
	if d.Exec == nil || d.Trigger == nil || d.Shuffler == nil {
		return nil, errors.New("timer: Exec, Trigger and Shuffler are required")
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Settings == nil {
		d.Settings = func() Settings {
			return Settings{Thresholds: []int{300, 60, 30, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1}, Templates: DefaultTemplates()}
		}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Engine{
		exec:     d.Exec,
		trig:     d.Trigger,
		shuf:     d.Shuffler,
		notify:   d.Notifier,
		settings: d.Settings,
		log:      d.Log.With(logx.String("comp", "timer")),
		now:      d.Now,
	}, nil
}

// Start schedules the periodic trigger. When already active it is
// rescheduled with the new interval.
func (e *Engine) Start(interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		if e.interval == interval {
			return nil
		}
		e.stopLocked()
	}
	return e.startLocked(interval)
}

// Stop cancels the periodic trigger and any countdown. A shuffle that was
// already requested is not affected.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateIdle {
		return
	}
	e.stopLocked()
	e.log.Info("timer stopped")
}

// Restart is Stop followed by Start.
func (e *Engine) Restart(interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		e.stopLocked()
	}
	return e.startLocked(interval)
}

// Running reports whether the periodic trigger is scheduled.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state != StateIdle
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{State: e.state, Interval: e.interval}
	if e.state == StateIdle {
		return st
	}
	st.NextTrigger = e.lastFire.Add(e.interval)
	if e.cd != nil {
		st.Remaining = e.cd.remaining()
	}
	return st
}

func (e *Engine) startLocked(interval time.Duration) error {
	e.gen++
	gen := e.gen
	h, err := e.trig.Every(interval, func() { e.post(func() { e.fire(gen) }) })
	if err != nil {
		return fmt.Errorf("schedule timer: %w", err)
	}
	e.periodic = h
	e.interval = interval
	e.state = StateRunning
	e.lastFire = e.now()
	e.log.Info("timer started", logx.Duration("interval", interval))
	return nil
}

func (e *Engine) stopLocked() {
	e.gen++
	if e.periodic != nil {
		e.periodic.Cancel()
		e.periodic = nil
	}
	e.cancelCountdownLocked()
	e.state = StateIdle
}

func (e *Engine) cancelCountdownLocked() {
	if e.ticker != nil {
		e.ticker.Cancel()
		e.ticker = nil
	}
	e.cd = nil
}

// post hands fn to the writer context. Ticks arriving after Stop are
// discarded by the generation and countdown checks.
func (e *Engine) post(fn func()) {
	h := e.exec.RunOnWriter(context.Background(), func(context.Context) error {
		fn()
		return nil
	})
	select {
	case <-h.Done():
		if err := h.Err(); err != nil && !errors.Is(err, exec.ErrStopped) {
			e.log.Warn("timer tick not delivered", logx.Err(err))
		}
	default:
	}
}

// fire runs on the writer when the periodic trigger elapses.
func (e *Engine) fire(gen uint64) {
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	e.lastFire = e.now()
	if e.state == StateCountingDown {
		e.mu.Unlock()
		e.log.Debug("trigger fired during countdown, ignored")
		return
	}

	set := e.settings()
	cd := newCountdown(set.Thresholds)
	h, err := e.trig.Every(time.Second, func() { e.post(func() { e.tick(cd, set.Templates) }) })
	if err != nil {
		e.mu.Unlock()
		e.log.Error("failed to schedule countdown", logx.Err(err))
		return
	}
	e.cd = cd
	e.ticker = h
	e.state = StateCountingDown
	e.mu.Unlock()

	e.log.Debug("countdown started", logx.Int("seconds", cd.remaining()))
	e.tick(cd, set.Templates)
}

// tick runs on the writer once per countdown second.
func (e *Engine) tick(cd *countdown, tpl Templates) {
	e.mu.Lock()
	if e.cd != cd || e.state != StateCountingDown {
		e.mu.Unlock()
		return
	}
	seconds, hit := cd.next()
	done := seconds <= 0
	if done {
		e.cancelCountdownLocked()
		e.state = StateRunning
	}
	e.mu.Unlock()

	if hit && e.notify != nil {
		if msg, ok := tpl.Format(seconds); ok {
			e.notify.Broadcast(msg)
		}
	}
	if done {
		e.log.Info("countdown finished, shuffling recipes")
		e.shuf.TimedShuffle(context.Background())
	}
}
