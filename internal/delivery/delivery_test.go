package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"remindbot/internal/backup"
	"remindbot/internal/clock"
	"remindbot/internal/record"
	"remindbot/internal/registry"
	"remindbot/internal/store"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type sentText struct {
	chatID int64
	text   string
	opt    transport.SendOptions
}

// fakeGateway scripts per-chat send outcomes.
type fakeGateway struct {
	mu        sync.Mutex
	textErrs  map[int64][]error // popped per call
	pollErrs  map[int64]error
	sent      []sentText
	sentPolls []int64
	kinds     map[int64]transport.ChatKind
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		textErrs: map[int64][]error{},
		pollErrs: map[int64]error{},
		kinds:    map[int64]transport.ChatKind{},
	}
}

func (g *fakeGateway) SendText(_ context.Context, chatID int64, text string, opt *transport.SendOptions) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var o transport.SendOptions
	if opt != nil {
		o = *opt
	}
	if errs := g.textErrs[chatID]; len(errs) > 0 {
		err := errs[0]
		g.textErrs[chatID] = errs[1:]
		if err != nil {
			return err
		}
	}
	g.sent = append(g.sent, sentText{chatID: chatID, text: text, opt: o})
	return nil
}

func (g *fakeGateway) SendPoll(_ context.Context, chatID int64, _ transport.PollSpec) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.pollErrs[chatID]; err != nil {
		return err
	}
	g.sentPolls = append(g.sentPolls, chatID)
	return nil
}

func (g *fakeGateway) ChatInfo(_ context.Context, chatID int64) (transport.ChatInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if k, ok := g.kinds[chatID]; ok {
		return transport.ChatInfo{Kind: k}, nil
	}
	return transport.ChatInfo{}, errors.New("chat info unavailable")
}

type mirrorCall struct {
	id     string
	action backup.Action
}

// fakeBackup records mirror writes.
type fakeBackup struct {
	backup.Disabled
	mu        sync.Mutex
	reminders []mirrorCall
	polls     []mirrorCall
	subs      [][]int64
}

func (b *fakeBackup) SyncReminder(_ context.Context, r record.Reminder, a backup.Action) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reminders = append(b.reminders, mirrorCall{id: r.ID, action: a})
	return nil
}

func (b *fakeBackup) SyncPoll(_ context.Context, p record.Poll, a backup.Action) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.polls = append(b.polls, mirrorCall{id: p.ID, action: a})
	return nil
}

func (b *fakeBackup) ReplaceSubscribers(_ context.Context, ids []int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, ids)
	return nil
}

func fixedClock() *clock.Clock {
	at := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	return clock.New("MSK", 3*time.Hour, clock.WithNow(func() time.Time { return at }))
}

type env struct {
	gw  *fakeGateway
	st  *store.Store
	bk  *fakeBackup
	eng *Engine
}

func newEnv(t *testing.T, subscribers []int64) *env {
	t.Helper()
	st, err := store.Open(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	if err := st.SaveSubscribers(subscribers); err != nil {
		t.Fatalf("SaveSubscribers: %v", err)
	}
	gw := newFakeGateway()
	bk := &fakeBackup{}
	reg := registry.New(st, bk, logx.Nop())
	eng := New(gw, st, reg, bk, nil, fixedClock(), logx.Nop())
	return &env{gw: gw, st: st, bk: bk, eng: eng}
}

func TestReminderOnceRetiredAfterDelivery(t *testing.T) {
	t.Parallel()
	e := newEnv(t, []int64{10, 20})
	e.gw.kinds[10] = transport.ChatPrivate
	e.gw.kinds[20] = transport.ChatGroup

	r := record.Reminder{ID: "1", Kind: record.KindOnce, Text: "<b>hi</b>", DateTime: "2025-06-10 14:55"}
	if err := e.st.SaveReminders([]record.Reminder{r}); err != nil {
		t.Fatal(err)
	}

	e.eng.DeliverReminder(context.Background(), r)

	if len(e.gw.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(e.gw.sent))
	}
	// Private chat gets the opt-out button; the group does not.
	for _, s := range e.gw.sent {
		wantButton := s.chatID == 10
		if s.opt.UnsubscribeButton != wantButton {
			t.Fatalf("chat %d button = %v, want %v", s.chatID, s.opt.UnsubscribeButton, wantButton)
		}
	}

	rs, _ := e.st.LoadReminders()
	if len(rs) != 0 {
		t.Fatalf("one-shot not removed locally: %+v", rs)
	}
	if len(e.bk.reminders) != 2 ||
		e.bk.reminders[0].action != backup.ActionUpdate ||
		e.bk.reminders[1].action != backup.ActionDelete {
		t.Fatalf("unexpected mirror sequence: %+v", e.bk.reminders)
	}
}

func TestReminderRecurringUpdatesLastSent(t *testing.T) {
	t.Parallel()
	e := newEnv(t, []int64{10})

	r := record.Reminder{ID: "2", Kind: record.KindDaily, Text: "daily", TimeOfDay: "15:00"}
	if err := e.st.SaveReminders([]record.Reminder{r}); err != nil {
		t.Fatal(err)
	}

	e.eng.DeliverReminder(context.Background(), r)

	rs, _ := e.st.LoadReminders()
	if len(rs) != 1 {
		t.Fatalf("recurring record removed: %+v", rs)
	}
	if rs[0].LastSent != "2025-06-10 15:00:00" {
		t.Fatalf("LastSent = %q, want local stamp", rs[0].LastSent)
	}
	if len(e.bk.reminders) != 1 || e.bk.reminders[0].action != backup.ActionUpdate {
		t.Fatalf("unexpected mirror calls: %+v", e.bk.reminders)
	}
}

func TestReminderHTMLFallsBackToPlainText(t *testing.T) {
	t.Parallel()
	e := newEnv(t, []int64{10})
	e.gw.textErrs[10] = []error{errors.New("Bad Request: can't parse entities")}

	r := record.Reminder{ID: "3", Kind: record.KindDaily, Text: "<b>bold</b> and <i>italic</i>", TimeOfDay: "09:00"}
	e.eng.DeliverReminder(context.Background(), r)

	if len(e.gw.sent) != 1 {
		t.Fatalf("sent %d messages, want 1 fallback", len(e.gw.sent))
	}
	got := e.gw.sent[0]
	if got.text != "bold and italic" {
		t.Fatalf("fallback text = %q", got.text)
	}
	if got.opt.ParseMode != "" {
		t.Fatalf("fallback kept parse mode %q", got.opt.ParseMode)
	}
}

func TestReminderBlockedChatAutoRemoved(t *testing.T) {
	t.Parallel()
	e := newEnv(t, []int64{10, 20})
	e.gw.textErrs[20] = []error{errors.New("Forbidden: bot was blocked by the user")}

	r := record.Reminder{ID: "4", Kind: record.KindDaily, Text: "hello", TimeOfDay: "09:00"}
	e.eng.DeliverReminder(context.Background(), r)

	ids, _ := e.st.LoadSubscribers()
	if len(ids) != 1 || ids[0] != 10 {
		t.Fatalf("blocked chat not removed, subscribers: %v", ids)
	}
	// One delivery, no plain-text retry toward the blocked chat.
	if len(e.gw.sent) != 1 || e.gw.sent[0].chatID != 10 {
		t.Fatalf("unexpected sends: %+v", e.gw.sent)
	}
}

func TestReminderNoRecipientsRetiresOnceOnly(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)

	once := record.Reminder{ID: "5", Kind: record.KindOnce, Text: "void", DateTime: "2025-06-10 14:00"}
	daily := record.Reminder{ID: "6", Kind: record.KindDaily, Text: "void", TimeOfDay: "10:00"}
	if err := e.st.SaveReminders([]record.Reminder{once, daily}); err != nil {
		t.Fatal(err)
	}

	e.eng.DeliverReminder(context.Background(), once)
	e.eng.DeliverReminder(context.Background(), daily)

	rs, _ := e.st.LoadReminders()
	if len(rs) != 1 || rs[0].ID != "6" {
		t.Fatalf("expected only the recurring record to survive, got %+v", rs)
	}
	if len(e.bk.reminders) != 2 ||
		e.bk.reminders[0].action != backup.ActionUpdate ||
		e.bk.reminders[1].action != backup.ActionDelete {
		t.Fatalf("unexpected mirror sequence: %+v", e.bk.reminders)
	}
}

func TestPollDelivery(t *testing.T) {
	t.Parallel()
	e := newEnv(t, []int64{10, 20, 30})
	e.gw.pollErrs[20] = errors.New("Forbidden: the group chat was deleted")

	p := record.Poll{
		ID: "1", Kind: record.KindOnce, Question: "lunch?",
		Options: []string{"yes", "no"}, DateTime: "2025-06-10 13:00",
		Status: record.StatusActive,
	}
	if err := e.st.SavePolls([]record.Poll{p}); err != nil {
		t.Fatal(err)
	}

	e.eng.DeliverPoll(context.Background(), p)

	if len(e.gw.sentPolls) != 2 {
		t.Fatalf("sent %d polls, want 2", len(e.gw.sentPolls))
	}
	ids, _ := e.st.LoadSubscribers()
	if len(ids) != 2 {
		t.Fatalf("deleted chat not removed, subscribers: %v", ids)
	}
	ps, _ := e.st.LoadPolls()
	if len(ps) != 0 {
		t.Fatalf("one-shot poll not retired: %+v", ps)
	}
	if len(e.bk.polls) != 2 ||
		e.bk.polls[0].action != backup.ActionUpdate ||
		e.bk.polls[1].action != backup.ActionDelete {
		t.Fatalf("unexpected mirror sequence: %+v", e.bk.polls)
	}
}

func TestPollInvalidRejectedBeforeSend(t *testing.T) {
	t.Parallel()
	e := newEnv(t, []int64{10})

	p := record.Poll{ID: "2", Kind: record.KindDaily, Question: "?", Options: []string{"only"}, TimeOfDay: "10:00"}
	e.eng.DeliverPoll(context.Background(), p)

	if len(e.gw.sentPolls) != 0 {
		t.Fatalf("invalid poll was sent: %v", e.gw.sentPolls)
	}
}

func TestStripTags(t *testing.T) {
	t.Parallel()
	got := stripTags("<b>a</b> <i>b</i> <u>c</u>")
	if got != "a b <u>c</u>" {
		t.Fatalf("stripTags = %q", got)
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()
	long := make([]rune, 0, 60)
	for i := 0; i < 60; i++ {
		long = append(long, 'ж')
	}
	got := preview(string(long))
	if rl := len([]rune(got)); rl != 53 {
		t.Fatalf("preview length = %d runes, want 53", rl)
	}
	if short := preview("hi"); short != "hi" {
		t.Fatalf("preview(short) = %q", short)
	}
}
