package notify

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	rtsup "reshuffle/internal/runtime/supervisor"
	logx "reshuffle/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notify queue full")
	ErrStopped   = errors.New("notify stopped")
)

// Config tunes the pipeline. Zero values take defaults.
type Config struct {
	QueueSize   int
	RatePerSec  float64
	Burst       int
	RetryMax    int
	RetryBase   time.Duration
	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 20
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 250 * time.Millisecond
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

// HistoryItem is a delivered broadcast.
type HistoryItem struct {
	At   time.Time
	Text string
}

// Service queues broadcasts and delivers them in order on one worker.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	cfg     Config
	limiter *rate.Limiter
	sinks   []Sink

	accepting bool
	sendWG    sync.WaitGroup
	queue     chan Message
	sup       *rtsup.Supervisor
	stopDone  chan struct{} // non-nil while stopping

	seq     atomic.Uint64
	dropped atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger, sinks ...Sink) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log.With(logx.String("comp", "notify")), sinks: sinks}
	s.applyLocked(cfg)
	return s
}

// Apply updates rate limiting and retry. Queue size takes effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
}

// AddSink registers another sink. Messages already queued are delivered to it too.
func (s *Service) AddSink(sink Sink) {
	s.mu.Lock()
	s.sinks = append(s.sinks, sink)
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	// If stopping, wait for it to finish before restarting.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan Message, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		// broadcast failures should not take down the whole app; treat as best-effort.
		rtsup.WithCancelOnError(false),
	)
	sup, q := s.sup, s.queue
	s.mu.Unlock()

	sup.GoRestart("worker", func(c context.Context) error {
		s.workerLoop(c, q)
		s.mu.Lock()
		stopping := s.stopDone != nil
		s.mu.Unlock()
		if stopping || c.Err() != nil {
			return context.Canceled
		}
		return errors.New("notify worker exited unexpectedly")
	})
}

// Stop stops intake and drains the queue best-effort until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// Wait for in-flight enqueues to finish, then close the queue so the worker can drain.
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())
		sup.Cancel()

		s.mu.Lock()
		s.queue = nil
		s.sup = nil
		s.stopDone = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Force-stop the worker; undelivered messages are dropped.
		sup.Cancel()
		<-done
	}
}

// Broadcast queues markup for every sink without blocking. A full or stopped
// queue drops the message.
func (s *Service) Broadcast(markup string) {
	if err := s.Notify(context.Background(), markup); err != nil {
		s.dropped.Add(1)
		s.log.Warn("broadcast dropped", logx.Err(err), logx.String("text", Strip(markup)))
	}
}

func (s *Service) Notify(ctx context.Context, markup string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if markup == "" {
		return nil
	}

	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	m := Message{ID: s.seq.Add(1), At: time.Now(), Markup: markup}
	select {
	case q <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dropped counts broadcasts that never reached the queue.
func (s *Service) Dropped() uint64 { return s.dropped.Load() }

// Recent returns delivered broadcasts, oldest first.
func (s *Service) Recent() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(m Message) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: m.At, Text: m.Plain()})
	if len(s.history) > 100 {
		s.history = s.history[len(s.history)-100:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, m)
		}
	}
}

// deliver fans m out to every sink concurrently and waits for all of them.
func (s *Service) deliver(ctx context.Context, m Message) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	sinks := append([]Sink(nil), s.sinks...)
	s.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return
	}

	var g errgroup.Group
	for _, sink := range sinks {
		g.Go(func() error {
			if err := s.sendWithRetry(ctx, cfg, sink, m); err != nil {
				s.log.Warn("broadcast send failed", logx.String("sink", sink.Name()), logx.Err(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	s.appendHistory(m)
}

func (s *Service) sendWithRetry(ctx context.Context, cfg Config, sink Sink, m Message) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.RetryMax; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(retryDelay(cfg.RetryBase, attempt))
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := sink.Send(callCtx, m)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		s.log.Debug("send failed", logx.String("sink", sink.Name()), logx.Int("attempt", attempt+1), logx.Err(err))
	}
	return lastErr
}

func retryDelay(base time.Duration, attempt int) time.Duration {
	// Exponential backoff base * 2^(attempt-1), capped at 32x, jitter 0.7..1.3.
	d := base << min(attempt-1, 5)
	j := 0.7 + rand.Float64()*0.6
	return time.Duration(float64(d) * j)
}
