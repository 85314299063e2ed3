// Package delivery fans broadcasts out to the subscriber set and owns
// the post-send bookkeeping: unreachable-chat removal, last-sent
// stamps, one-shot retirement, and the backup mirror.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"remindbot/internal/backup"
	"remindbot/internal/clock"
	"remindbot/internal/history"
	"remindbot/internal/record"
	"remindbot/internal/registry"
	"remindbot/internal/store"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Per-destination delivery outcomes, recorded in history.
const (
	StatusSuccess         = "SUCCESS"
	StatusSuccessFallback = "SUCCESS_FALLBACK"
	StatusFailed          = "FAILED"
	StatusBlocked         = "BLOCKED_AUTO_REMOVE"
	StatusNoRecipients    = "NO_RECIPIENTS"
)

// Gateway is the slice of the transport adapter delivery needs.
type Gateway interface {
	SendText(ctx context.Context, chatID int64, text string, opt *transport.SendOptions) error
	SendPoll(ctx context.Context, chatID int64, poll transport.PollSpec) error
	ChatInfo(ctx context.Context, chatID int64) (transport.ChatInfo, error)
}

type Engine struct {
	gw    Gateway
	store *store.Store
	reg   *registry.Registry
	bk    backup.Client
	hist  history.Store // may be nil
	clk   *clock.Clock
	log   logx.Logger
}

func New(gw Gateway, st *store.Store, reg *registry.Registry, bk backup.Client, hist history.Store, clk *clock.Clock, log logx.Logger) *Engine {
	if bk == nil {
		bk = backup.Disabled{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{gw: gw, store: st, reg: reg, bk: bk, hist: hist, clk: clk, log: log}
}

type fanOutResult struct {
	sent    int
	failed  int
	blocked []int64
}

func (r fanOutResult) summary() string {
	return fmt.Sprintf("Sent: %d, Failed: %d, Blocked: %d", r.sent, r.failed, len(r.blocked))
}

// isPrivate decides whether the destination is a private chat. When
// chat metadata cannot be fetched the chat is treated as private, so
// the opt-out button is never withheld from a user by mistake.
func (e *Engine) isPrivate(ctx context.Context, chatID int64) bool {
	info, err := e.gw.ChatInfo(ctx, chatID)
	if err != nil {
		return true
	}
	return info.Kind == transport.ChatPrivate
}

func (e *Engine) record(ctx context.Context, entry history.Entry) {
	if e.hist == nil {
		return
	}
	entry.LocalTime = e.clk.Stamp(e.clk.Now())
	if err := e.hist.Append(ctx, entry); err != nil && !errors.Is(err, history.ErrDisabled) {
		e.log.Warn("history append failed", logx.Err(err))
	}
}

func (e *Engine) mirrorReminder(ctx context.Context, r record.Reminder, a backup.Action) {
	if err := e.bk.SyncReminder(ctx, r, a); err != nil && !errors.Is(err, backup.ErrDisabled) {
		e.log.Warn("reminder mirror to backup failed",
			logx.String("id", r.ID), logx.String("action", string(a)), logx.Err(err))
	}
}

func (e *Engine) mirrorPoll(ctx context.Context, p record.Poll, a backup.Action) {
	if err := e.bk.SyncPoll(ctx, p, a); err != nil && !errors.Is(err, backup.ErrDisabled) {
		e.log.Warn("poll mirror to backup failed",
			logx.String("id", p.ID), logx.String("action", string(a)), logx.Err(err))
	}
}

// stripTags drops the basic HTML formatting used in reminder texts so
// the message can be retried as plain text.
func stripTags(s string) string {
	rep := strings.NewReplacer("<b>", "", "</b>", "", "<i>", "", "</i>", "")
	return rep.Replace(s)
}

// preview shortens a text for history rows.
func preview(s string) string {
	rs := []rune(s)
	if len(rs) <= 50 {
		return s
	}
	return string(rs[:50]) + "..."
}
