package delivery

import (
	"context"
	"fmt"

	"remindbot/internal/backup"
	"remindbot/internal/record"
	"remindbot/internal/registry"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// DeliverPoll broadcasts one native poll to every subscriber. Unlike
// reminders there is no plain-text fallback: a poll either posts or it
// does not.
func (e *Engine) DeliverPoll(ctx context.Context, p record.Poll) {
	log := e.log.With(logx.String("poll", p.ID))

	if err := record.ValidatePoll(p); err != nil {
		log.Error("poll rejected before send", logx.Err(err))
		e.record(ctx, historyRowStr("poll", p.ID, "INVALID", StatusFailed, err.Error(), preview(p.Question)))
		return
	}

	audience, err := e.reg.AllOrRestore(ctx)
	if err != nil {
		log.Error("audience load failed, delivery aborted", logx.Err(err))
		return
	}
	if len(audience) == 0 {
		e.pollNoRecipients(ctx, p, log)
		return
	}

	spec := transport.PollSpec{
		Question:       p.Question,
		Options:        p.Options,
		IsAnonymous:    false,
		AllowsMultiple: p.AllowMultiple,
	}

	var res fanOutResult
	for _, cid := range audience {
		if ctx.Err() != nil {
			log.Warn("delivery interrupted", logx.Int("remaining", len(audience)-res.sent-res.failed))
			break
		}

		err := e.gw.SendPoll(ctx, cid, spec)
		switch {
		case err == nil:
			res.sent++
			e.record(ctx, historyRow("poll", p.ID, cid, StatusSuccess, "", preview(p.Question)))
		case transport.IsPermanentUnreachable(err):
			log.Warn("chat unreachable, queued for removal", logx.Int64("chat_id", cid), logx.Err(err))
			res.failed++
			res.blocked = append(res.blocked, cid)
			e.record(ctx, historyRow("poll", p.ID, cid, StatusBlocked, err.Error(), preview(p.Question)))
		default:
			log.Error("poll send failed", logx.Int64("chat_id", cid), logx.Err(err))
			res.failed++
			e.record(ctx, historyRow("poll", p.ID, cid, StatusFailed, err.Error(), preview(p.Question)))
		}
	}

	if len(res.blocked) > 0 {
		if err := e.reg.RemoveBatch(ctx, res.blocked, registry.ReasonAutoBlocked); err != nil {
			log.Error("auto-removal of unreachable chats failed", logx.Err(err))
		}
	}

	e.record(ctx, historySummary("poll", p.ID, res, preview(p.Question)))
	log.Info("poll delivery finished",
		logx.Int("sent", res.sent),
		logx.Int("failed", res.failed),
		logx.Int("auto_removed", len(res.blocked)))

	e.finishPoll(ctx, p, res, log)
}

func (e *Engine) pollNoRecipients(ctx context.Context, p record.Poll, log logx.Logger) {
	log.Warn("no subscribers for poll firing")
	e.record(ctx, historyNoChats("poll", p.ID, preview(p.Question)))

	if p.Kind != record.KindOnce {
		log.Info("recurring poll will retry on next firing")
		return
	}

	retired := p
	retired.LastSent = e.clk.Stamp(e.clk.Now())
	retired.DeliveryStatus = record.DeliveryStatusNoRecipients
	retired.Status = record.StatusDeleted

	if err := e.store.MutatePolls(func(ps []record.Poll) []record.Poll {
		return deletePoll(ps, p.ID)
	}); err != nil {
		log.Error("local removal of one-shot poll failed", logx.Err(err))
		return
	}
	log.Info("one-shot poll retired: no recipients")

	e.mirrorPoll(ctx, retired, backup.ActionUpdate)
	e.mirrorPoll(ctx, retired, backup.ActionDelete)
}

func (e *Engine) finishPoll(ctx context.Context, p record.Poll, res fanOutResult, log logx.Logger) {
	stamp := e.clk.Stamp(e.clk.Now())

	if p.Kind == record.KindOnce {
		retired := p
		retired.LastSent = stamp
		retired.Status = record.StatusDeleted
		retired.DeliveryStatus = fmt.Sprintf("Sent to %d chats, failed to %d chats, removed %d blocked",
			res.sent, res.failed, len(res.blocked))

		// Local removal first, mirror second.
		if err := e.store.MutatePolls(func(ps []record.Poll) []record.Poll {
			return deletePoll(ps, p.ID)
		}); err != nil {
			log.Error("local removal of one-shot poll failed", logx.Err(err))
			return
		}
		log.Info("one-shot poll retired after delivery")

		e.mirrorPoll(ctx, retired, backup.ActionUpdate)
		e.mirrorPoll(ctx, retired, backup.ActionDelete)
		return
	}

	updated := p
	updated.LastSent = stamp
	if err := e.store.MutatePolls(func(ps []record.Poll) []record.Poll {
		for i := range ps {
			if ps[i].ID == p.ID {
				ps[i].LastSent = stamp
			}
		}
		return ps
	}); err != nil {
		log.Error("last-sent update failed", logx.Err(err))
	}
	e.mirrorPoll(ctx, updated, backup.ActionUpdate)
}

func deletePoll(ps []record.Poll, id string) []record.Poll {
	out := ps[:0]
	for _, p := range ps {
		if p.ID == id {
			continue
		}
		out = append(out, p)
	}
	return out
}
