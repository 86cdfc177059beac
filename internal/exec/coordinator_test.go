package exec

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	logx "reshuffle/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})
}

func TestWriterCallbacksNeverOverlap(t *testing.T) {
	t.Parallel()

	for _, d := range []*Dispatcher{NewSingleWriter(Options{}, logx.Nop()), NewPartitioned(nil, Options{}, logx.Nop())} {
		d := d
		t.Run(d.Model().String(), func(t *testing.T) {
			t.Parallel()
			startDispatcher(t, d)

			var inFlight, maxSeen atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 64; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := d.RunOnWriterAndAwait(context.Background(), func(ctx context.Context) error {
						n := inFlight.Add(1)
						for {
							m := maxSeen.Load()
							if n <= m || maxSeen.CompareAndSwap(m, n) {
								break
							}
						}
						time.Sleep(100 * time.Microsecond)
						inFlight.Add(-1)
						return nil
					})
					if err != nil {
						t.Errorf("await: %v", err)
					}
				}()
			}
			wg.Wait()
			if got := maxSeen.Load(); got != 1 {
				t.Fatalf("max concurrent writer callbacks = %d, want 1", got)
			}
		})
	}
}

func TestWriterPreservesSubmissionOrder(t *testing.T) {
	t.Parallel()

	d := NewSingleWriter(Options{}, logx.Nop())
	startDispatcher(t, d)

	var mu sync.Mutex
	var got []int
	var last Handle
	for i := 0; i < 100; i++ {
		i := i
		last = d.RunOnWriter(context.Background(), func(context.Context) error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		})
	}
	<-last.Done()
	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("order broken at %d: %v", i, got)
		}
	}
}

func TestOnWriterAndInlineReentry(t *testing.T) {
	t.Parallel()

	d := NewSingleWriter(Options{}, logx.Nop())
	startDispatcher(t, d)

	if d.OnWriter(context.Background()) {
		t.Fatalf("background ctx reported as writer")
	}

	inner := false
	err := d.RunOnWriterAndAwait(context.Background(), func(ctx context.Context) error {
		if !d.OnWriter(ctx) {
			return errors.New("callback ctx not marked as writer")
		}
		// Must not deadlock: already on the writer.
		return d.RunOnWriterAndAwait(ctx, func(context.Context) error {
			inner = true
			return nil
		})
	})
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if !inner {
		t.Fatalf("inline callback did not run")
	}

	other := NewSingleWriter(Options{}, logx.Nop())
	err = d.RunOnWriterAndAwait(context.Background(), func(ctx context.Context) error {
		if other.OnWriter(ctx) {
			return errors.New("writer ctx leaked to another dispatcher")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	h := d.RunOnWorker(context.Background(), func(ctx context.Context) error {
		if d.OnWriter(ctx) {
			return errors.New("worker ctx marked as writer")
		}
		return nil
	})
	<-h.Done()
	if h.Err() != nil {
		t.Fatal(h.Err())
	}

	// Work handed to a worker from the writer runs off the writer.
	var fromWriter Handle
	_ = d.RunOnWriterAndAwait(context.Background(), func(ctx context.Context) error {
		fromWriter = d.RunOnWorker(ctx, func(ctx context.Context) error {
			if d.OnWriter(ctx) {
				return errors.New("worker inherited writer marker")
			}
			return nil
		})
		return nil
	})
	<-fromWriter.Done()
	if fromWriter.Err() != nil {
		t.Fatal(fromWriter.Err())
	}
}

func TestCancelPendingWriterCallback(t *testing.T) {
	t.Parallel()

	d := NewSingleWriter(Options{}, logx.Nop())
	startDispatcher(t, d)

	release := make(chan struct{})
	blocker := d.RunOnWriter(context.Background(), func(context.Context) error {
		<-release
		return nil
	})

	var ran atomic.Bool
	h := d.RunOnWriter(context.Background(), func(context.Context) error {
		ran.Store(true)
		return nil
	})
	if !h.Cancel() {
		t.Fatalf("Cancel on pending handle returned false")
	}
	if h.Cancel() {
		t.Fatalf("second Cancel returned true")
	}
	close(release)
	<-blocker.Done()

	// Flush the queue.
	if err := d.RunOnWriterAndAwait(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	<-h.Done()
	if ran.Load() {
		t.Fatalf("cancelled callback ran")
	}
	if !errors.Is(h.Err(), ErrCanceled) {
		t.Fatalf("Err=%v want ErrCanceled", h.Err())
	}
	if blocker.Cancel() {
		t.Fatalf("Cancel on finished handle returned true")
	}
}

func TestAwaitCancelledContextWhileQueued(t *testing.T) {
	t.Parallel()

	d := NewSingleWriter(Options{}, logx.Nop())
	startDispatcher(t, d)

	release := make(chan struct{})
	d.RunOnWriter(context.Background(), func(context.Context) error {
		<-release
		return nil
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.RunOnWriterAndAwait(ctx, func(context.Context) error {
		t.Errorf("callback should have been cancelled")
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want DeadlineExceeded", err)
	}
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()

	d := NewSingleWriter(Options{}, logx.Nop())
	startDispatcher(t, d)

	err := d.RunOnWriterAndAwait(context.Background(), func(context.Context) error { panic("boom") })
	var pe *PanicError
	if !errors.As(err, &pe) || pe.Value != "boom" {
		t.Fatalf("err=%v want PanicError(boom)", err)
	}
	// The writer keeps serving after a panic.
	if err := d.RunOnWriterAndAwait(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("writer dead after panic: %v", err)
	}
}

func TestStopFailsQueuedAndRejectsNewWork(t *testing.T) {
	t.Parallel()

	d := NewSingleWriter(Options{}, logx.Nop())
	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	release := make(chan struct{})
	started := make(chan struct{})
	running := d.RunOnWriter(context.Background(), func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started
	queued := d.RunOnWriter(context.Background(), func(context.Context) error { return nil })

	stopDone := make(chan error, 1)
	go func() { stopDone <- d.Stop(context.Background()) }()
	for !d.writer.isClosed() {
		time.Sleep(time.Millisecond)
	}

	close(release)
	if err := <-stopDone; err != nil {
		t.Fatalf("Stop: %v", err)
	}
	<-running.Done()
	if running.Err() != nil {
		t.Fatalf("running callback should finish cleanly: %v", running.Err())
	}
	<-queued.Done()
	if !errors.Is(queued.Err(), ErrStopped) {
		t.Fatalf("queued err=%v want ErrStopped", queued.Err())
	}
	if err := d.RunOnWriterAndAwait(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrStopped) {
		t.Fatalf("after stop err=%v want ErrStopped", err)
	}
}

type countingOrderer struct {
	held     atomic.Int32
	acquired atomic.Int32
	inner    *GlobalOrderer
}

func (o *countingOrderer) Acquire(ctx context.Context) error {
	if err := o.inner.Acquire(ctx); err != nil {
		return err
	}
	o.held.Store(1)
	o.acquired.Add(1)
	return nil
}

func (o *countingOrderer) Release() {
	o.held.Store(0)
	o.inner.Release()
}

func TestPartitionedHoldsOrderer(t *testing.T) {
	t.Parallel()

	o := &countingOrderer{inner: NewGlobalOrderer()}
	d := NewPartitioned(o, Options{}, logx.Nop())
	startDispatcher(t, d)

	for i := 0; i < 3; i++ {
		err := d.RunOnWriterAndAwait(context.Background(), func(context.Context) error {
			if o.held.Load() != 1 {
				return errors.New("orderer not held during writer callback")
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if got := o.acquired.Load(); got != 3 {
		t.Fatalf("acquired %d times, want 3", got)
	}
	if o.held.Load() != 0 {
		t.Fatalf("orderer still held")
	}
}

type fixedProbe bool

func (p fixedProbe) Partitioned() bool { return bool(p) }

func TestSelect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		setting string
		probe   Probe
		want    Model
		wantErr bool
	}{
		{setting: "auto", probe: fixedProbe(false), want: ModelSingleWriter},
		{setting: "", probe: fixedProbe(true), want: ModelPartitioned},
		{setting: "single", probe: fixedProbe(true), want: ModelSingleWriter},
		{setting: "partitioned", probe: nil, want: ModelPartitioned},
		{setting: "threads", wantErr: true},
	}
	for _, tt := range tests {
		d, err := Select(tt.setting, tt.probe, nil, Options{}, logx.Nop())
		if tt.wantErr {
			if err == nil {
				t.Fatalf("Select(%q) expected error", tt.setting)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Select(%q): %v", tt.setting, err)
		}
		if d.Model() != tt.want {
			t.Fatalf("Select(%q)=%v want %v", tt.setting, d.Model(), tt.want)
		}
	}
}
