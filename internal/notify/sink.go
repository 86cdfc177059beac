package notify

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	logx "reshuffle/pkg/logx"
)

// Message is one broadcast.
type Message struct {
	ID     uint64
	At     time.Time
	Markup string
}

// Plain returns the message text without markup.
func (m Message) Plain() string { return Strip(m.Markup) }

// Sink delivers messages to one audience.
type Sink interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

// ConsoleSink writes rendered messages to a terminal or file.
type ConsoleSink struct {
	mu     sync.Mutex
	w      io.Writer
	r      *lipgloss.Renderer
	prefix string
}

// NewConsoleSink renders with the color profile detected for w.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w, r: lipgloss.NewRenderer(w), prefix: "[Broadcast] "}
}

// NewConsoleSinkWithRenderer uses r as is; tests pass a renderer with a fixed profile.
func NewConsoleSinkWithRenderer(w io.Writer, r *lipgloss.Renderer) *ConsoleSink {
	return &ConsoleSink{w: w, r: r, prefix: "[Broadcast] "}
}

func (c *ConsoleSink) Name() string { return "console" }

func (c *ConsoleSink) Send(_ context.Context, m Message) error {
	line := c.prefix + Render(c.r, m.Markup)
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.w, line)
	return err
}

// LogSink records broadcasts in the structured log.
type LogSink struct{ log logx.Logger }

func NewLogSink(log logx.Logger) *LogSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSink{log: log.With(logx.String("comp", "broadcast"))}
}

func (l *LogSink) Name() string { return "log" }

func (l *LogSink) Send(_ context.Context, m Message) error {
	l.log.Info(m.Plain(), logx.Int64("msg_id", int64(m.ID)))
	return nil
}

// FuncSink adapts a function to Sink.
type FuncSink struct {
	SinkName string
	Fn       func(ctx context.Context, m Message) error
}

func (f FuncSink) Name() string { return f.SinkName }

func (f FuncSink) Send(ctx context.Context, m Message) error { return f.Fn(ctx, m) }
