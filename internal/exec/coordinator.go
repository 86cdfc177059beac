package exec

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"reshuffle/internal/runtime/supervisor"
	logx "reshuffle/pkg/logx"
)

// Func is a unit of work. The ctx passed to writer callbacks satisfies OnWriter.
type Func func(ctx context.Context) error

// Coordinator is the execution strategy shared by both threading models.
type Coordinator interface {
	Model() Model
	// RunOnWriter queues fn for the writer context. Called from the writer
	// context it runs fn inline and returns a completed handle.
	RunOnWriter(ctx context.Context, fn Func) Handle
	// RunOnWriterAndAwait runs fn on the writer context and waits for it.
	// If ctx ends while fn is queued, fn is cancelled; once fn is running the
	// call waits for it to finish.
	RunOnWriterAndAwait(ctx context.Context, fn Func) error
	// RunOnWorker queues fn on the background worker pool.
	RunOnWorker(ctx context.Context, fn Func) Handle
	// OnWriter reports whether ctx belongs to a callback running on this coordinator's writer.
	OnWriter(ctx context.Context) bool
}

// Model names a host threading model.
type Model int

const (
	ModelSingleWriter Model = iota
	ModelPartitioned
)

func (m Model) String() string {
	switch m {
	case ModelSingleWriter:
		return "single_writer"
	case ModelPartitioned:
		return "partitioned"
	default:
		return fmt.Sprintf("model(%d)", int(m))
	}
}

// Orderer is the host's global ordering primitive for the partitioned model.
type Orderer interface {
	Acquire(ctx context.Context) error
	Release()
}

// GlobalOrderer is an Orderer backed by a weighted semaphore of size one.
type GlobalOrderer struct{ sem *semaphore.Weighted }

func NewGlobalOrderer() *GlobalOrderer { return &GlobalOrderer{sem: semaphore.NewWeighted(1)} }

func (o *GlobalOrderer) Acquire(ctx context.Context) error { return o.sem.Acquire(ctx, 1) }
func (o *GlobalOrderer) Release()                          { o.sem.Release(1) }

// Options tune a Dispatcher. Zero values take defaults.
type Options struct {
	// Workers is the worker pool size (default 2).
	Workers int
	// QueueSize bounds both the writer and worker queues (default 256).
	QueueSize int
	// SlowCallback logs writer callbacks that hold the writer longer than this (default 1s; <0 disables).
	SlowCallback time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.SlowCallback == 0 {
		o.SlowCallback = time.Second
	}
	return o
}

type writerKey struct{}

// Dispatcher implements Coordinator for either model.
type Dispatcher struct {
	model   Model
	orderer Orderer
	opts    Options
	log     logx.Logger

	writer  *queue
	workers *queue

	mu      sync.Mutex
	sup     *supervisor.Supervisor
	stopped bool
}

var _ Coordinator = (*Dispatcher)(nil)

// NewSingleWriter returns a Dispatcher whose writer context is one loop goroutine.
func NewSingleWriter(opts Options, log logx.Logger) *Dispatcher {
	return newDispatcher(ModelSingleWriter, nil, opts, log)
}

// NewPartitioned returns a Dispatcher whose writer callbacks hold orderer while they run.
// A nil orderer gets a fresh GlobalOrderer.
func NewPartitioned(orderer Orderer, opts Options, log logx.Logger) *Dispatcher {
	if orderer == nil {
		orderer = NewGlobalOrderer()
	}
	return newDispatcher(ModelPartitioned, orderer, opts, log)
}

func newDispatcher(model Model, orderer Orderer, opts Options, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	opts = opts.withDefaults()
	return &Dispatcher{
		model:   model,
		orderer: orderer,
		opts:    opts,
		log:     log.With(logx.String("comp", "exec"), logx.String("model", model.String())),
		writer:  newQueue(opts.QueueSize),
		workers: newQueue(opts.QueueSize),
	}
}

func (d *Dispatcher) Model() Model { return d.model }

// Orderer returns the global ordering primitive (nil in the single-writer model).
func (d *Dispatcher) Orderer() Orderer { return d.orderer }

// Start launches the writer loop and worker pool. Work queued before Start runs once started.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrStopped
	}
	if d.sup != nil {
		return nil
	}
	d.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(d.log))
	d.sup.Go0("exec.writer", d.writerLoop)
	for i := 0; i < d.opts.Workers; i++ {
		d.sup.Go0(fmt.Sprintf("exec.worker.%d", i), d.workerLoop)
	}
	d.log.Info("execution coordinator started", logx.Int("workers", d.opts.Workers))
	return nil
}

// Stop rejects new work, lets the running callbacks finish, and fails whatever is still queued with ErrStopped.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	sup := d.sup
	d.mu.Unlock()

	d.writer.close()
	d.workers.close()

	var err error
	if sup != nil {
		err = sup.Stop(ctx)
	}
	n := d.writer.drain() + d.workers.drain()
	if n > 0 {
		d.log.Warn("dropped queued work on stop", logx.Int("count", n))
	}
	return err
}

func (d *Dispatcher) OnWriter(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	owner, _ := ctx.Value(writerKey{}).(*Dispatcher)
	return owner == d
}

func (d *Dispatcher) RunOnWriter(ctx context.Context, fn Func) Handle {
	if d.OnWriter(ctx) {
		return Completed(d.call(ctx, "writer", fn))
	}
	return d.writer.submit(ctx, fn)
}

func (d *Dispatcher) RunOnWriterAndAwait(ctx context.Context, fn Func) error {
	if d.OnWriter(ctx) {
		return d.call(ctx, "writer", fn)
	}
	return Await(ctx, d.writer.submit(ctx, fn))
}

func (d *Dispatcher) RunOnWorker(ctx context.Context, fn Func) Handle {
	return d.workers.submit(ctx, fn)
}

// Await waits for h. If ctx ends first, a pending h is cancelled; a running one is waited for.
func Await(ctx context.Context, h Handle) error {
	select {
	case <-h.Done():
		return h.Err()
	case <-ctx.Done():
		if h.Cancel() {
			return ctx.Err()
		}
		<-h.Done()
		return h.Err()
	}
}

func (d *Dispatcher) writerLoop(ctx context.Context) {
	for {
		t, ok := d.writer.next(ctx)
		if !ok {
			return
		}
		d.runWriter(ctx, t)
	}
}

func (d *Dispatcher) runWriter(loopCtx context.Context, t *task) {
	if !t.fut.Begin() {
		return
	}
	if err := t.ctx.Err(); err != nil {
		t.fut.Complete(err)
		return
	}
	if d.orderer != nil {
		if err := d.orderer.Acquire(loopCtx); err != nil {
			t.fut.Complete(fmt.Errorf("exec: acquire global order: %w", err))
			return
		}
		defer d.orderer.Release()
	}

	wctx := context.WithValue(t.ctx, writerKey{}, d)
	started := time.Now()
	err := d.call(wctx, "writer", t.fn)
	if took := time.Since(started); d.opts.SlowCallback > 0 && took > d.opts.SlowCallback {
		d.log.Warn("slow writer callback", logx.Duration("took", took))
	}
	t.fut.Complete(err)
}

func (d *Dispatcher) workerLoop(ctx context.Context) {
	for {
		t, ok := d.workers.next(ctx)
		if !ok {
			return
		}
		if !t.fut.Begin() {
			continue
		}
		if err := t.ctx.Err(); err != nil {
			t.fut.Complete(err)
			continue
		}
		t.fut.Complete(d.call(offWriter{t.ctx}, "worker", t.fn))
	}
}

// offWriter hides the writer marker from work submitted by a writer callback.
type offWriter struct{ context.Context }

func (c offWriter) Value(key any) any {
	if _, ok := key.(writerKey); ok {
		return nil
	}
	return c.Context.Value(key)
}

// PanicError wraps a recovered panic from a callback.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("exec: callback panicked: %v", e.Value) }

func (d *Dispatcher) call(ctx context.Context, where string, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("callback panicked", logx.String("where", where), logx.Any("panic", r), logx.Stack(logx.StackTrace(3, 24)))
			err = &PanicError{Value: r}
		}
	}()
	return fn(ctx)
}

// ParseModel parses an execution.model setting. "auto" (or empty) reports auto=true.
func ParseModel(s string) (m Model, auto bool, err error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModelSingleWriter, true, nil
	case "single", "single_writer":
		return ModelSingleWriter, false, nil
	case "partitioned", "regionized":
		return ModelPartitioned, false, nil
	default:
		return 0, false, fmt.Errorf("unknown execution model %q", s)
	}
}

// Probe reports which threading model the host provides. It is queried once.
type Probe interface {
	Partitioned() bool
}

// Select builds the Dispatcher for setting, consulting probe only for "auto".
func Select(setting string, probe Probe, orderer Orderer, opts Options, log logx.Logger) (*Dispatcher, error) {
	m, auto, err := ParseModel(setting)
	if err != nil {
		return nil, err
	}
	if auto && probe != nil && probe.Partitioned() {
		m = ModelPartitioned
	}
	if m == ModelPartitioned {
		return NewPartitioned(orderer, opts, log), nil
	}
	return NewSingleWriter(opts, log), nil
}

// ---- queue ----

type task struct {
	ctx context.Context
	fn  Func
	fut *Future
}

type queue struct {
	tasks  chan *task
	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
}

func newQueue(size int) *queue {
	return &queue{tasks: make(chan *task, size), stop: make(chan struct{})}
}

func (q *queue) submit(ctx context.Context, fn Func) Handle {
	if fn == nil {
		return Completed(errors.New("exec: nil func"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return Completed(ErrStopped)
	}
	t := &task{ctx: ctx, fn: fn, fut: NewFuture(nil)}
	select {
	case q.tasks <- t:
		return t.fut
	case <-ctx.Done():
		return Completed(ctx.Err())
	case <-q.stop:
		return Completed(ErrStopped)
	}
}

// next returns false once the queue is closed or ctx ends; closed queues are drained by Stop.
func (q *queue) next(ctx context.Context) (*task, bool) {
	if q.isClosed() {
		return nil, false
	}
	select {
	case <-ctx.Done():
		return nil, false
	case t := <-q.tasks:
		return t, true
	}
}

func (q *queue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

func (q *queue) close() {
	// Unblock senders waiting on a full queue before taking the write lock.
	select {
	case <-q.stop:
	default:
		close(q.stop)
	}
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *queue) drain() int {
	n := 0
	for {
		select {
		case t := <-q.tasks:
			if t.fut.Begin() {
				t.fut.Complete(ErrStopped)
			}
			n++
		default:
			return n
		}
	}
}
