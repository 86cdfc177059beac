package timer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"reshuffle/internal/exec"
	logx "reshuffle/pkg/logx"
)

// Trigger schedules fn to be called every d until the returned handle is
// cancelled. The first call happens one period after scheduling.
type Trigger interface {
	Every(d time.Duration, fn func()) (exec.Handle, error)
}

// CronTrigger is a Trigger backed by a robfig/cron scheduler. Periods are
// rounded down to whole seconds.
type CronTrigger struct {
	c   *cron.Cron
	log logx.Logger
}

func NewCronTrigger(log logx.Logger) *CronTrigger {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "cron"))
	cl := cronLogger{log: log}
	return &CronTrigger{
		c:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		log: log,
	}
}

// Start runs the scheduler in its own goroutine. Calling Start twice is a no-op.
func (t *CronTrigger) Start() { t.c.Start() }

// Stop halts the scheduler and waits for running jobs until ctx ends.
func (t *CronTrigger) Stop(ctx context.Context) error {
	select {
	case <-t.c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *CronTrigger) Every(d time.Duration, fn func()) (exec.Handle, error) {
	if fn == nil {
		return nil, errors.New("timer: nil trigger func")
	}
	if d < time.Second {
		return nil, fmt.Errorf("timer: period %s is shorter than one second", d)
	}
	id := t.c.Schedule(cron.Every(d), cron.FuncJob(fn))
	t.log.Debug("scheduled", logx.Duration("every", d), logx.Int("entry", int(id)))
	return exec.NewFuture(func() { t.c.Remove(id) }), nil
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Trace(msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
