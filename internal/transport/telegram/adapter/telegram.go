package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration

	// SendRate caps outbound Bot API calls per second across all
	// destinations. Telegram throttles bots around 30 msg/s globally.
	SendRate  float64
	SendBurst int
}

type Adapter struct {
	cfg Config
	log logx.Logger

	limiter *rate.Limiter

	botMu sync.Mutex
	bot   *tele.Bot

	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool
	outCh   chan<- kit.Update

	// sup owns adapter internal goroutines (poll loop, drop logger, stop watcher).
	// It is created on Start() and cancelled on Stop().
	sup *rtsup.Supervisor

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the poll loop. Logged periodically to avoid per-update spam.
	droppedUpdates uint64

	conflicts chan error

	http *http.Client
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	sendRate := cfg.SendRate
	if sendRate <= 0 {
		sendRate = 25
	}
	burst := cfg.SendBurst
	if burst <= 0 {
		burst = 5
	}

	a := &Adapter{
		cfg:       cfg,
		log:       log,
		limiter:   rate.NewLimiter(rate.Limit(sendRate), burst),
		conflicts: make(chan error, 4),
		http:      &http.Client{Timeout: 8 * time.Second},
	}

	b, err := a.buildBot(cfg.PollTimeout)
	if err != nil {
		return nil, err
	}
	a.bot = b

	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	return a, nil
}

func (a *Adapter) buildBot(pollTimeout time.Duration) (*tele.Bot, error) {
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   a.cfg.Token,
		Poller:  &tele.LongPoller{Timeout: pollTimeout},
		OnError: a.onBotError,
	})
	if err != nil {
		return nil, err
	}
	a.registerHandlers(b)
	return b, nil
}

func (a *Adapter) onBotError(err error, _ tele.Context) {
	if err == nil {
		return
	}
	if kit.IsConflict(err) {
		a.log.Warn("getUpdates conflict detected", logx.Err(err))
		select {
		case a.conflicts <- err:
		default:
		}
		return
	}
	a.log.Error("telegram error", logx.Err(err))
}

// Conflicts delivers consume-conflict signals observed by the poller.
func (a *Adapter) Conflicts() <-chan error { return a.conflicts }

func (a *Adapter) registerHandlers(b *tele.Bot) {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	b.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil || m.Sender == nil {
			return nil
		}
		up := kit.Update{
			Kind: kit.UpdateMessage,
			Message: &kit.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				Text:         m.Text,
				ChatKind:     chatKind(m.Chat),
				ChatTitle:    chatTitle(m.Chat),
			},
		}
		a.sendUpdate(up)
		return nil
	})

	b.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil || m.Chat == nil {
			return nil
		}
		up := kit.Update{
			Kind: kit.UpdateCallback,
			Callback: &kit.Callback{
				ID:        cb.ID,
				ChatID:    m.Chat.ID,
				FromID:    cb.Sender.ID,
				MessageID: m.ID,
				Data:      strings.TrimSpace(strings.TrimPrefix(cb.Data, "\f")),
			},
		}
		a.sendUpdate(up)
		return nil
	})
}

func chatKind(ch *tele.Chat) kit.ChatKind {
	switch ch.Type {
	case tele.ChatGroup:
		return kit.ChatGroup
	case tele.ChatSuperGroup:
		return kit.ChatSupergroup
	case tele.ChatChannel, tele.ChatChannelPrivate:
		return kit.ChatChannel
	default:
		return kit.ChatPrivate
	}
}

func chatTitle(ch *tele.Chat) string {
	if ch.Title != "" {
		return ch.Title
	}
	if ch.Username != "" {
		return "@" + ch.Username
	}
	return ch.FirstName
}

func (a *Adapter) currentBot() *tele.Bot {
	a.botMu.Lock()
	defer a.botMu.Unlock()
	return a.bot
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.outCh = out
	a.out.Store(out)
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		// adapter errors should not take down the whole app
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	bot := a.currentBot()
	a.runMu.Unlock()

	// Periodic summary for dropped updates.
	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Int64("count", int64(n)))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Int64("count", int64(n)))
				}
			}
		}
	})

	// Stop telebot when the adapter context is cancelled.
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		bot.Stop()
	})

	// Telebot's Start() is a long-running loop. In some failure modes it can
	// exit unexpectedly; run it under a restart loop so the adapter self-heals.
	sup.GoRestart0("telebot.poll", func(c context.Context) {
		a.log.Info("polling started")
		bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	// Best-effort graceful stop. Never block shutdown on a long poll.
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	bot := a.bot
	a.runMu.Unlock()

	if !wasRunning {
		a.log.Debug("telegram stop called but not running")
		return nil
	}
	a.log.Info("stopping consumer")

	if sup != nil {
		sup.Cancel()
	}
	if bot != nil {
		go bot.Stop()
	}

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}

	if sup == nil {
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with error", logx.Err(err))
	}
	return nil
}

// Restart rebuilds the underlying bot with a new long-poll timeout and
// resumes consuming into the channel passed to the original Start. Used
// by conflict recovery, which needs a fresh getUpdates session.
func (a *Adapter) Restart(ctx context.Context, pollTimeout time.Duration) error {
	a.runMu.Lock()
	out := a.outCh
	running := a.running
	a.runMu.Unlock()

	if out == nil {
		return errors.New("adapter was never started")
	}
	if running {
		if err := a.Stop(ctx); err != nil {
			return err
		}
	}

	b, err := a.buildBot(pollTimeout)
	if err != nil {
		return fmt.Errorf("rebuild bot: %w", err)
	}
	a.botMu.Lock()
	a.bot = b
	a.botMu.Unlock()

	return a.Start(ctx, out)
}

const telegramTextLimit = 4000

// splitText splits long messages into chunks that are safe to send to
// Telegram, preferring newline boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func unsubscribeMarkup() *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	btn := rm.Data("🚫 Отписаться от бота", kit.CallbackUnsubscribe)
	rm.Inline(rm.Row(btn))
	return rm
}

func (a *Adapter) SendText(ctx context.Context, chatID int64, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}

	chunks := splitText(text, telegramTextLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	chat := &tele.Chat{ID: chatID}
	bot := a.currentBot()

	for i, chunk := range chunks {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}

		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
		}
		// Attach the opt-out button only to the last chunk.
		if opt.UnsubscribeButton && i == len(chunks)-1 {
			sendOpt.ReplyMarkup = unsubscribeMarkup()
		}

		if _, err := bot.Send(chat, chunk, sendOpt); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) SendPoll(ctx context.Context, chatID int64, spec kit.PollSpec) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}

	opts := make([]tele.PollOption, 0, len(spec.Options))
	for _, o := range spec.Options {
		opts = append(opts, tele.PollOption{Text: o})
	}
	poll := &tele.Poll{
		Type:            tele.PollRegular,
		Question:        spec.Question,
		Options:         opts,
		Anonymous:       spec.IsAnonymous,
		MultipleAnswers: spec.AllowsMultiple,
	}

	_, err := a.currentBot().Send(&tele.Chat{ID: chatID}, poll)
	return err
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return a.currentBot().Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// ChatInfo fetches chat metadata via getChat. Member count is filled
// best-effort for group chats only.
func (a *Adapter) ChatInfo(ctx context.Context, chatID int64) (kit.ChatInfo, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return kit.ChatInfo{}, err
	}
	bot := a.currentBot()
	ch, err := bot.ChatByID(chatID)
	if err != nil {
		return kit.ChatInfo{}, err
	}
	info := kit.ChatInfo{
		Kind:     chatKind(ch),
		Title:    chatTitle(ch),
		Username: ch.Username,
	}
	if info.Kind == kit.ChatGroup || info.Kind == kit.ChatSupergroup {
		if n, err := bot.Len(ch); err == nil {
			info.MemberCount = n
		}
	}
	return info, nil
}

// DropPendingUpdates calls deleteWebhook with drop_pending_updates so a
// recovered consumer starts from a clean update queue. Uses the raw Bot
// API because telebot does not expose the drop flag.
func (a *Adapter) DropPendingUpdates(ctx context.Context) error {
	payload := []byte(`{"drop_pending_updates":true}`)
	url := "https://api.telegram.org/bot" + strings.TrimSpace(a.cfg.Token) + "/deleteWebhook"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := a.http
	if client == nil {
		client = &http.Client{Timeout: 8 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool   `json:"ok"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode/100 != 2 || !out.OK {
		if out.Description != "" {
			return fmt.Errorf("telegram deleteWebhook failed: %s (code=%d http=%d)", out.Description, out.ErrorCode, resp.StatusCode)
		}
		return fmt.Errorf("telegram deleteWebhook failed: http=%d", resp.StatusCode)
	}
	a.log.Info("pending updates dropped")
	return nil
}
