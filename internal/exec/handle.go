package exec

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrStopped is reported for work submitted to, or still queued in, a stopped coordinator.
	ErrStopped = errors.New("exec: coordinator stopped")
	// ErrCanceled is reported by a handle cancelled before it ran.
	ErrCanceled = errors.New("exec: canceled")
)

// Handle is the uniform cancellable handle returned for writer callbacks,
// worker tasks and timer schedules.
type Handle interface {
	// Cancel prevents a pending run. It reports whether this call cancelled it;
	// a callback already running is never interrupted.
	Cancel() bool
	// Done is closed once the work has finished or was cancelled.
	Done() <-chan struct{}
	// Err is valid after Done is closed.
	Err() error
}

const (
	futurePending int32 = iota
	futureRunning
	futureDone
)

// Future is the Handle implementation used throughout the module.
type Future struct {
	state    atomic.Int32
	done     chan struct{}
	once     sync.Once
	err      error
	onCancel func()
}

// NewFuture returns a pending Future. onCancel, if set, runs once when Cancel succeeds.
func NewFuture(onCancel func()) *Future {
	return &Future{done: make(chan struct{}), onCancel: onCancel}
}

// Completed returns a Future that is already done with err.
func Completed(err error) *Future {
	f := NewFuture(nil)
	f.state.Store(futureRunning)
	f.Complete(err)
	return f
}

// Begin moves a pending Future to running. It returns false if it was cancelled.
func (f *Future) Begin() bool { return f.state.CompareAndSwap(futurePending, futureRunning) }

// Complete finishes the Future. Only the first call has an effect.
func (f *Future) Complete(err error) {
	f.once.Do(func() {
		f.err = err
		f.state.Store(futureDone)
		close(f.done)
	})
}

func (f *Future) Cancel() bool {
	if !f.state.CompareAndSwap(futurePending, futureDone) {
		return false
	}
	f.once.Do(func() {
		f.err = ErrCanceled
		close(f.done)
	})
	if f.onCancel != nil {
		f.onCancel()
	}
	return true
}

func (f *Future) Done() <-chan struct{} { return f.done }

func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}
