package telegram

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	tele "gopkg.in/telebot.v4"

	"reshuffle/internal/notify"
	logx "reshuffle/pkg/logx"
)

type fakeSender struct {
	sent []string
	fail map[int64]bool
}

func (f *fakeSender) Send(to tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	id := to.Recipient()
	chat, _ := strconv.ParseInt(id, 10, 64)
	if f.fail[chat] {
		return nil, errors.New("chat not found")
	}
	f.sent = append(f.sent, id+": "+what.(string))
	return &tele.Message{}, nil
}

func TestSendMirrorsPlainTextToEveryChat(t *testing.T) {
	t.Parallel()

	fs := &fakeSender{fail: map[int64]bool{2: true}}
	a := &Adapter{cfg: Config{ChatIDs: []int64{1, 2, 3}}, log: logx.Nop(), send: fs}

	err := a.Send(context.Background(), notify.Message{Markup: "<green><bold>Recipes have been shuffled!</bold></green>"})
	if err == nil {
		t.Fatalf("expected error from failing chat")
	}
	want := []string{"1: Recipes have been shuffled!", "3: Recipes have been shuffled!"}
	if diff := cmp.Diff(want, fs.sent); diff != "" {
		t.Fatalf("sent (-want +got):\n%s", diff)
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCommandLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"/shuffle recipe_result", "shuffle recipe_result", true},
		{"/shuffle@reshuffle_bot  seed 42", "shuffle seed 42", true},
		{"/reshuffle timer interval 60", "timer interval 60", true},
		{"/reshuffle", "", true},
		{"hello", "", false},
		{"/", "", false},
	}
	for _, tt := range tests {
		got, ok := CommandLine(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("CommandLine(%q)=(%q,%v) want (%q,%v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestOwner(t *testing.T) {
	t.Parallel()

	a := &Adapter{cfg: Config{OwnerUserIDs: []int64{7}}}
	if !a.owner(7) || a.owner(8) {
		t.Fatalf("owner check wrong")
	}
}
