package telegram

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"reshuffle/internal/notify"
	logx "reshuffle/pkg/logx"
)

// Config mirrors config.TelegramConfig with the poll timeout parsed.
type Config struct {
	Token        string
	ChatIDs      []int64
	OwnerUserIDs []int64
	PollTimeout  time.Duration
}

// Handler runs one command line for a Telegram user and writes the reply to out.
type Handler func(ctx context.Context, from string, line string, out io.Writer) error

type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Adapter mirrors broadcasts to chats and accepts commands from owners.
// It implements notify.Sink.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot  *tele.Bot
	send sender

	runCancel context.CancelFunc
	runWG     sync.WaitGroup
	runMu     sync.Mutex
	running   bool

	handled atomic.Uint64
	denied  atomic.Uint64
}

var _ notify.Sink = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log.With(logx.String("comp", "telegram")), bot: b, send: b}, nil
}

func (a *Adapter) Name() string { return "telegram" }

// Send delivers the plain text of m to every configured chat. It returns the
// first error after trying all chats.
func (a *Adapter) Send(ctx context.Context, m notify.Message) error {
	text := m.Plain()
	var firstErr error
	for _, id := range a.cfg.ChatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.send.Send(tele.ChatID(id), text); err != nil {
			a.log.Debug("send failed", logx.Int64("chat_id", id), logx.Err(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Start begins long polling. Text messages from owners are passed to h.
func (a *Adapter) Start(ctx context.Context, h Handler) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.runWG.Add(1)
	a.runMu.Unlock()

	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		u := c.Sender()
		if u == nil {
			return nil
		}
		line, ok := CommandLine(c.Text())
		if !ok {
			return nil
		}
		if !a.owner(u.ID) {
			a.denied.Add(1)
			a.log.Debug("ignoring command from non-owner", logx.Int64("user_id", u.ID))
			return nil
		}
		a.handled.Add(1)
		var out bytes.Buffer
		if err := h(rctx, "telegram:"+strconv.FormatInt(u.ID, 10), line, &out); err != nil {
			if out.Len() > 0 {
				out.WriteByte('\n')
			}
			out.WriteString(err.Error())
		}
		reply := strings.TrimSpace(notify.Strip(out.String()))
		if reply == "" {
			return nil
		}
		return c.Send(reply)
	})

	go func() {
		defer a.runWG.Done()
		go func() {
			<-rctx.Done()
			a.bot.Stop()
		}()
		a.log.Info("polling started", logx.Int("chats", len(a.cfg.ChatIDs)))
		a.bot.Start() // blocks until Stop() called
	}()
	return nil
}

// Stop ends polling. It never blocks shutdown for longer than a short grace window.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	a.log.Info("stopping", logx.Int64("commands_handled", int64(a.handled.Load())), logx.Int64("commands_denied", int64(a.denied.Load())))
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()

	// getUpdates may still be waiting on its long poll.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		a.log.Info("polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		a.log.Warn("telegram stop grace elapsed; continuing shutdown")
		return nil
	}
}

func (a *Adapter) owner(id int64) bool {
	return slices.Contains(a.cfg.OwnerUserIDs, id)
}

// CommandLine turns "/shuffle@mybot recipe_result" into "shuffle recipe_result".
// A leading "/reshuffle" is accepted and dropped. Text that is not a command reports false.
func CommandLine(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", false
	}
	if i := strings.IndexByte(fields[0], '@'); i >= 0 {
		fields[0] = fields[0][:i]
	}
	if strings.EqualFold(fields[0], "reshuffle") {
		fields = fields[1:]
	}
	return strings.Join(fields, " "), true
}
