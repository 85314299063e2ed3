package delivery

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"remindbot/internal/backup"
	"remindbot/internal/history"
	"remindbot/internal/record"
	"remindbot/internal/registry"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// DeliverReminder broadcasts one reminder to every subscriber. It is
// the scheduler's callback; failures are absorbed here, never
// propagated back into the scheduler.
func (e *Engine) DeliverReminder(ctx context.Context, r record.Reminder) {
	log := e.log.With(logx.String("reminder", r.ID))

	audience, err := e.reg.AllOrRestore(ctx)
	if err != nil {
		log.Error("audience load failed, delivery aborted", logx.Err(err))
		return
	}
	if len(audience) == 0 {
		e.reminderNoRecipients(ctx, r, log)
		return
	}

	res := e.fanOutReminder(ctx, r, audience, log)

	if len(res.blocked) > 0 {
		if err := e.reg.RemoveBatch(ctx, res.blocked, registry.ReasonAutoBlocked); err != nil {
			log.Error("auto-removal of unreachable chats failed", logx.Err(err))
		}
	}

	e.record(ctx, historySummary("reminder", r.ID, res, preview(r.Text)))
	log.Info("reminder delivery finished",
		logx.Int("sent", res.sent),
		logx.Int("failed", res.failed),
		logx.Int("auto_removed", len(res.blocked)))

	e.finishReminder(ctx, r, res, log)
}

func (e *Engine) fanOutReminder(ctx context.Context, r record.Reminder, audience []int64, log logx.Logger) fanOutResult {
	var res fanOutResult
	for _, cid := range audience {
		if ctx.Err() != nil {
			log.Warn("delivery interrupted", logx.Int("remaining", len(audience)-res.sent-res.failed))
			break
		}

		private := e.isPrivate(ctx, cid)
		opt := &transport.SendOptions{ParseMode: "HTML", UnsubscribeButton: private}

		err := e.gw.SendText(ctx, cid, r.Text, opt)
		if err == nil {
			res.sent++
			e.record(ctx, historyRow("reminder", r.ID, cid, StatusSuccess, "", preview(r.Text)))
			continue
		}

		if transport.IsPermanentUnreachable(err) {
			log.Warn("chat unreachable, queued for removal", logx.Int64("chat_id", cid), logx.Err(err))
			res.failed++
			res.blocked = append(res.blocked, cid)
			e.record(ctx, historyRow("reminder", r.ID, cid, StatusBlocked, err.Error(), preview(r.Text)))
			continue
		}

		// Formatting is the usual culprit; retry once as plain text.
		log.Warn("send failed, retrying as plain text", logx.Int64("chat_id", cid), logx.Err(err))
		plainOpt := &transport.SendOptions{UnsubscribeButton: private}
		err2 := e.gw.SendText(ctx, cid, stripTags(r.Text), plainOpt)
		switch {
		case err2 == nil:
			res.sent++
			e.record(ctx, historyRow("reminder", r.ID, cid, StatusSuccessFallback,
				fmt.Sprintf("HTML failed: %v, sent as plain text", err), preview(r.Text)))
		case transport.IsPermanentUnreachable(err2):
			log.Warn("chat unreachable on fallback, queued for removal", logx.Int64("chat_id", cid), logx.Err(err2))
			res.failed++
			res.blocked = append(res.blocked, cid)
			e.record(ctx, historyRow("reminder", r.ID, cid, StatusBlocked, err2.Error(), preview(r.Text)))
		default:
			log.Error("fallback send failed", logx.Int64("chat_id", cid), logx.Err(err2))
			res.failed++
			e.record(ctx, historyRow("reminder", r.ID, cid, StatusFailed, err2.Error(), preview(r.Text)))
		}
	}
	return res
}

// reminderNoRecipients handles a firing with an empty subscriber set:
// one-shots are retired (they will never get another chance), recurring
// records simply wait for the next firing.
func (e *Engine) reminderNoRecipients(ctx context.Context, r record.Reminder, log logx.Logger) {
	log.Warn("no subscribers for reminder firing")
	e.record(ctx, historyNoChats("reminder", r.ID, preview(r.Text)))

	if r.Kind != record.KindOnce {
		log.Info("recurring reminder will retry on next firing")
		return
	}

	retired := r
	retired.LastSent = e.clk.Stamp(e.clk.Now())
	retired.DeliveryStatus = record.DeliveryStatusNoRecipients

	if err := e.store.MutateReminders(func(rs []record.Reminder) []record.Reminder {
		return deleteReminder(rs, r.ID)
	}); err != nil {
		log.Error("local removal of one-shot reminder failed", logx.Err(err))
		return
	}
	log.Info("one-shot reminder retired: no recipients")

	e.mirrorReminder(ctx, retired, backup.ActionUpdate)
	e.mirrorReminder(ctx, retired, backup.ActionDelete)
}

func (e *Engine) finishReminder(ctx context.Context, r record.Reminder, res fanOutResult, log logx.Logger) {
	stamp := e.clk.Stamp(e.clk.Now())

	if r.Kind == record.KindOnce {
		retired := r
		retired.LastSent = stamp
		retired.DeliveryStatus = fmt.Sprintf("Sent to %d chats, failed to %d chats, removed %d blocked",
			res.sent, res.failed, len(res.blocked))

		// Local removal first: the one-shot must never fire twice even
		// if the mirror write fails.
		if err := e.store.MutateReminders(func(rs []record.Reminder) []record.Reminder {
			return deleteReminder(rs, r.ID)
		}); err != nil {
			log.Error("local removal of one-shot reminder failed", logx.Err(err))
			return
		}
		log.Info("one-shot reminder retired after delivery")

		e.mirrorReminder(ctx, retired, backup.ActionUpdate)
		e.mirrorReminder(ctx, retired, backup.ActionDelete)
		return
	}

	updated := r
	updated.LastSent = stamp
	if err := e.store.MutateReminders(func(rs []record.Reminder) []record.Reminder {
		for i := range rs {
			if rs[i].ID == r.ID {
				rs[i].LastSent = stamp
			}
		}
		return rs
	}); err != nil {
		log.Error("last-sent update failed", logx.Err(err))
	}
	e.mirrorReminder(ctx, updated, backup.ActionUpdate)
}

func deleteReminder(rs []record.Reminder, id string) []record.Reminder {
	out := rs[:0]
	for _, r := range rs {
		if r.ID == id {
			continue
		}
		out = append(out, r)
	}
	return out
}

func historyRow(kind, id string, chatID int64, status, errText, prev string) history.Entry {
	return history.Entry{
		At:         time.Now(),
		RecordKind: kind,
		RecordID:   id,
		ChatID:     strconv.FormatInt(chatID, 10),
		Status:     status,
		Error:      errText,
		Preview:    prev,
	}
}

func historyRowStr(kind, id, chatID, status, errText, prev string) history.Entry {
	return history.Entry{
		At:         time.Now(),
		RecordKind: kind,
		RecordID:   id,
		ChatID:     chatID,
		Status:     status,
		Error:      errText,
		Preview:    prev,
	}
}

func historySummary(kind, id string, res fanOutResult, prev string) history.Entry {
	status := "COMPLETED"
	if res.failed > 0 {
		status = fmt.Sprintf("PARTIAL (%d/%d)", res.sent, res.sent+res.failed)
	}
	if len(res.blocked) > 0 {
		status += fmt.Sprintf(", REMOVED %d BLOCKED", len(res.blocked))
	}
	return history.Entry{
		At:         time.Now(),
		RecordKind: kind,
		RecordID:   id,
		ChatID:     "SUMMARY",
		Status:     status,
		Error:      res.summary(),
		Preview:    prev,
	}
}

func historyNoChats(kind, id, prev string) history.Entry {
	return history.Entry{
		At:         time.Now(),
		RecordKind: kind,
		RecordID:   id,
		ChatID:     "NO_CHATS",
		Status:     StatusNoRecipients,
		Error:      "no subscribers available for delivery",
		Preview:    prev,
	}
}
