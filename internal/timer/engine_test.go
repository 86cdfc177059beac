package timer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"reshuffle/internal/exec"
	logx "reshuffle/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeEntry struct {
	period time.Duration
	fn     func()
	h      *exec.Future
}

func (e *fakeEntry) cancelled() bool {
	select {
	case <-e.h.Done():
		return true
	default:
		return false
	}
}

type fakeTrigger struct {
	mu      sync.Mutex
	entries []*fakeEntry
}

func (f *fakeTrigger) Every(d time.Duration, fn func()) (exec.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := &fakeEntry{period: d, fn: fn, h: exec.NewFuture(nil)}
	f.entries = append(f.entries, e)
	return e.h, nil
}

// live returns the scheduled, uncancelled entries with period d.
func (f *fakeTrigger) live(d time.Duration) []*fakeEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeEntry
	for _, e := range f.entries {
		if e.period == d && !e.cancelled() {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeTrigger) all(d time.Duration) []*fakeEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeEntry
	for _, e := range f.entries {
		if e.period == d {
			out = append(out, e)
		}
	}
	return out
}

type recorder struct {
	mu       sync.Mutex
	msgs     []string
	shuffles int
}

func (r *recorder) Broadcast(msg string) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recorder) TimedShuffle(context.Context) {
	r.mu.Lock()
	r.shuffles++
	r.mu.Unlock()
}

func (r *recorder) snapshot() ([]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...), r.shuffles
}

type harness struct {
	t    *testing.T
	d    *exec.Dispatcher
	trig *fakeTrigger
	rec  *recorder
	eng  *Engine
}

func newHarness(t *testing.T, thresholds []int) *harness {
	t.Helper()
	d := exec.NewSingleWriter(exec.Options{}, logx.Nop())
	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})
	h := &harness{t: t, d: d, trig: &fakeTrigger{}, rec: &recorder{}}
	eng, err := New(Deps{
		Exec:     d,
		Trigger:  h.trig,
		Shuffler: h.rec,
		Notifier: h.rec,
		Settings: func() Settings { return Settings{Thresholds: thresholds, Templates: DefaultTemplates()} },
		Log:      logx.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	h.eng = eng
	return h
}

// flush waits until every tick posted so far has run on the writer.
func (h *harness) flush() {
	h.t.Helper()
	if err := h.d.RunOnWriterAndAwait(context.Background(), func(context.Context) error { return nil }); err != nil {
		h.t.Fatal(err)
	}
}

func (h *harness) fire(e *fakeEntry) {
	h.t.Helper()
	e.fn()
	h.flush()
}

func (h *harness) periodic() *fakeEntry {
	h.t.Helper()
	live := h.trig.live(time.Hour)
	if len(live) != 1 {
		h.t.Fatalf("want one periodic trigger, have %d", len(live))
	}
	return live[0]
}

func (h *harness) ticker() *fakeEntry {
	h.t.Helper()
	live := h.trig.live(time.Second)
	if len(live) != 1 {
		h.t.Fatalf("want one countdown ticker, have %d", len(live))
	}
	return live[0]
}

func defaultThresholds() []int { return []int{300, 60, 30, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1} }

func TestCountdownFiresAtThresholds(t *testing.T) {
	t.Parallel()

	h := newHarness(t, defaultThresholds())
	if err := h.eng.Start(time.Hour); err != nil {
		t.Fatal(err)
	}
	h.fire(h.periodic())
	tk := h.ticker()

	// The first tick (300 remaining) runs when the trigger fires; 300 more reach zero.
	var at []int
	seen := 0
	record := func(remaining int) {
		msgs, _ := h.rec.snapshot()
		for ; seen < len(msgs); seen++ {
			at = append(at, remaining)
		}
	}
	record(300)
	for remaining := 299; remaining >= 0; remaining-- {
		if _, n := h.rec.snapshot(); n != 0 {
			t.Fatalf("shuffled early at %d remaining", remaining+1)
		}
		h.fire(tk)
		record(remaining)
	}

	if diff := cmp.Diff(defaultThresholds(), at); diff != "" {
		t.Fatalf("notification seconds (-want +got):\n%s", diff)
	}
	msgs, shuffles := h.rec.snapshot()
	if shuffles != 1 {
		t.Fatalf("shuffles=%d want 1", shuffles)
	}
	tpl := DefaultTemplates()
	if msgs[0] != tpl.FiveMinutes || msgs[1] != tpl.OneMinute || msgs[2] != tpl.ThirtySeconds {
		t.Fatalf("threshold messages %q", msgs[:3])
	}
	if want := "<red>Recipes will shuffle in <bold>10</bold> seconds!</red>"; msgs[3] != want {
		t.Fatalf("msgs[3]=%q want %q", msgs[3], want)
	}
	if want := "<red>Recipes will shuffle in <bold>1</bold> seconds!</red>"; msgs[12] != want {
		t.Fatalf("msgs[12]=%q want %q", msgs[12], want)
	}

	if !tk.cancelled() {
		t.Fatalf("countdown ticker still scheduled")
	}
	if st := h.eng.Status(); st.State != StateRunning {
		t.Fatalf("state=%v want running", st.State)
	}

	// Stray ticks after zero do nothing.
	h.fire(tk)
	if _, n := h.rec.snapshot(); n != 1 {
		t.Fatalf("stray tick shuffled again")
	}
}

func TestTriggerDuringCountdownIsIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t, defaultThresholds())
	_ = h.eng.Start(time.Hour)
	p := h.periodic()
	h.fire(p)
	h.fire(p)

	if n := len(h.trig.all(time.Second)); n != 1 {
		t.Fatalf("countdowns started=%d want 1", n)
	}
	if st := h.eng.Status(); st.State != StateCountingDown || st.Remaining != 299 {
		t.Fatalf("status %+v", st)
	}
}

func TestNextCountdownAfterShuffle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []int{2, 1})
	_ = h.eng.Start(time.Hour)
	p := h.periodic()

	for round := 1; round <= 2; round++ {
		h.fire(p)
		tk := h.ticker()
		h.fire(tk)
		h.fire(tk)
		if _, n := h.rec.snapshot(); n != round {
			t.Fatalf("round %d: shuffles=%d", round, n)
		}
	}
	msgs, _ := h.rec.snapshot()
	if len(msgs) != 4 {
		t.Fatalf("messages %q", msgs)
	}
}

func TestStopCancelsCountdown(t *testing.T) {
	t.Parallel()

	h := newHarness(t, defaultThresholds())
	_ = h.eng.Start(time.Hour)
	p := h.periodic()
	h.fire(p)
	tk := h.ticker()
	h.fire(tk)

	h.eng.Stop()
	if !p.cancelled() || !tk.cancelled() {
		t.Fatalf("handles not cancelled: periodic=%v ticker=%v", p.cancelled(), tk.cancelled())
	}
	if h.eng.Running() || h.eng.Status().State != StateIdle {
		t.Fatalf("engine still active")
	}

	// Ticks that were already in flight when Stop ran are discarded.
	msgsBefore, _ := h.rec.snapshot()
	for i := 0; i < 50; i++ {
		tk.fn()
	}
	p.fn()
	h.flush()
	msgs, shuffles := h.rec.snapshot()
	if shuffles != 0 || len(msgs) != len(msgsBefore) {
		t.Fatalf("work after stop: shuffles=%d msgs=%d", shuffles, len(msgs))
	}
	if n := len(h.trig.all(time.Second)); n != 1 {
		t.Fatalf("stale periodic fire started a countdown")
	}
}

func TestRestartReplacesTrigger(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []int{1})
	_ = h.eng.Start(time.Hour)
	old := h.periodic()

	if err := h.eng.Restart(2 * time.Hour); err != nil {
		t.Fatal(err)
	}
	if !old.cancelled() {
		t.Fatalf("old trigger still scheduled")
	}
	live := h.trig.live(2 * time.Hour)
	if len(live) != 1 {
		t.Fatalf("new trigger missing")
	}
	h.fire(old)
	if n := len(h.trig.all(time.Second)); n != 0 {
		t.Fatalf("stale trigger started a countdown")
	}
	h.fire(live[0])
	if n := len(h.trig.all(time.Second)); n != 1 {
		t.Fatalf("new trigger did not start a countdown")
	}
	if st := h.eng.Status(); st.Interval != 2*time.Hour {
		t.Fatalf("interval=%s", st.Interval)
	}
}

func TestStartValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	for _, d := range []time.Duration{0, -time.Second} {
		if err := h.eng.Start(d); !errors.Is(err, ErrInvalidInterval) {
			t.Fatalf("Start(%s) err=%v", d, err)
		}
		if err := h.eng.Restart(d); !errors.Is(err, ErrInvalidInterval) {
			t.Fatalf("Restart(%s) err=%v", d, err)
		}
	}
	if h.eng.Running() {
		t.Fatalf("invalid start left engine running")
	}

	_ = h.eng.Start(time.Hour)
	_ = h.eng.Start(time.Hour)
	if n := len(h.trig.all(time.Hour)); n != 1 {
		t.Fatalf("second Start with same interval rescheduled (%d entries)", n)
	}
}

func TestEmptyThresholdsShuffleOnFirstTick(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	_ = h.eng.Start(time.Hour)
	h.fire(h.periodic())
	msgs, shuffles := h.rec.snapshot()
	if shuffles != 1 || len(msgs) != 0 {
		t.Fatalf("shuffles=%d msgs=%q", shuffles, msgs)
	}
	if h.eng.Status().State != StateRunning {
		t.Fatalf("state=%v", h.eng.Status().State)
	}
}

func TestStatusNextTrigger(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	d := exec.NewSingleWriter(exec.Options{}, logx.Nop())
	_ = d.Start(context.Background())
	t.Cleanup(func() { _ = d.Stop(context.Background()) })

	eng, err := New(Deps{Exec: d, Trigger: &fakeTrigger{}, Shuffler: &recorder{}, Now: func() time.Time { return now }})
	if err != nil {
		t.Fatal(err)
	}
	if st := eng.Status(); !st.NextTrigger.IsZero() {
		t.Fatalf("idle NextTrigger=%v", st.NextTrigger)
	}
	_ = eng.Start(30 * time.Minute)
	if st := eng.Status(); !st.NextTrigger.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("NextTrigger=%v", st.NextTrigger)
	}
}

func TestTemplates(t *testing.T) {
	t.Parallel()

	tpl := Templates{FiveMinutes: "five", OneMinute: "one", ThirtySeconds: "thirty", TenSeconds: "in <seconds>s"}
	tests := []struct {
		seconds int
		class   Class
		msg     string
	}{
		{600, ClassFiveMinutes, "five"},
		{300, ClassFiveMinutes, "five"},
		{120, ClassOneMinute, "one"},
		{60, ClassOneMinute, "one"},
		{45, ClassThirtySeconds, "thirty"},
		{30, ClassThirtySeconds, "thirty"},
		{20, ClassNone, ""},
		{11, ClassNone, ""},
		{10, ClassFinal, "in 10s"},
		{3, ClassFinal, "in 3s"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.seconds), func(t *testing.T) {
			if got := Classify(tt.seconds); got != tt.class {
				t.Fatalf("Classify=%v want %v", got, tt.class)
			}
			msg, ok := tpl.Format(tt.seconds)
			if msg != tt.msg || ok != (tt.msg != "") {
				t.Fatalf("Format=%q,%v", msg, ok)
			}
		})
	}

	if _, ok := (Templates{}).Format(300); ok {
		t.Fatalf("empty template formatted")
	}
}

func TestCountdownStartsAtLargestThreshold(t *testing.T) {
	t.Parallel()

	cd := newCountdown([]int{5, 120, -3, 30})
	s, hit := cd.next()
	if s != 120 || !hit {
		t.Fatalf("first=%d,%v", s, hit)
	}
	s, hit = cd.next()
	if s != 119 || hit {
		t.Fatalf("second=%d,%v", s, hit)
	}
}

func TestCronTrigger(t *testing.T) {
	t.Parallel()

	tr := NewCronTrigger(logx.Nop())
	tr.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tr.Stop(ctx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()

	if _, err := tr.Every(500*time.Millisecond, func() {}); err == nil {
		t.Fatalf("sub-second period accepted")
	}

	fired := make(chan struct{}, 8)
	h, err := tr.Every(time.Second, func() { fired <- struct{}{} })
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("cron trigger never fired")
	}
	if !h.Cancel() {
		t.Fatal("Cancel reported false")
	}
	<-h.Done()
	if !errors.Is(h.Err(), exec.ErrCanceled) {
		t.Fatalf("err=%v", h.Err())
	}
}
