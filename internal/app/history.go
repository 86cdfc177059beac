package app

import (
	"context"
	"sync"
	"time"

	"reshuffle/internal/eventbus"
	"reshuffle/internal/storage"
	logx "reshuffle/pkg/logx"
)

// historyRecorder appends every shuffle and restore outcome published on the
// bus to the store. Started events are logged but not stored.
type historyRecorder struct {
	bus   eventbus.Bus
	store storage.Store
	log   logx.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newHistoryRecorder(bus eventbus.Bus, store storage.Store, log logx.Logger) *historyRecorder {
	return &historyRecorder{bus: bus, store: store, log: log.With(logx.String("comp", "history"))}
}

func (h *historyRecorder) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}
	events, unsub := h.bus.Subscribe(128)
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	go func() {
		defer close(h.done)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				// Keep what was already published before stopping.
				for {
					select {
					case e := <-events:
						h.record(e)
					default:
						return
					}
				}
			case e, ok := <-events:
				if !ok {
					return
				}
				h.record(e)
			}
		}
	}()
}

// Stop ends the loop after draining buffered events.
func (h *historyRecorder) Stop(ctx context.Context) error {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *historyRecorder) record(e eventbus.Event) {
	h.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	rec, ok := e.Data.(storage.Record)
	if !ok || e.Type == eventbus.TypeShuffleStarted {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.store.AppendHistory(ctx, rec); err != nil {
		h.log.Warn("append history failed", logx.String("id", rec.ID), logx.Err(err))
	}
}
