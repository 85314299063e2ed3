// Package registry owns the subscriber set: every chat that receives
// broadcasts. Local file first, backup store mirrored best-effort.
package registry

import (
	"context"
	"errors"
	"slices"

	"remindbot/internal/backup"
	"remindbot/internal/store"
	logx "remindbot/pkg/logx"
)

// Removal reasons, recorded in logs and delivery history.
const (
	ReasonCommand      = "COMMAND"
	ReasonInlineOptOut = "INLINE_BUTTON"
	ReasonAutoBlocked  = "AUTO_BLOCKED"
)

// Meta is diagnostic chat metadata captured on subscribe.
type Meta struct {
	Name    string
	Kind    string
	Members int
}

type Registry struct {
	store  *store.Store
	backup backup.Client
	log    logx.Logger
}

func New(st *store.Store, bk backup.Client, log logx.Logger) *Registry {
	if bk == nil {
		bk = backup.Disabled{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{store: st, backup: bk, log: log}
}

// Add subscribes a chat. Returns false if it was already subscribed.
func (r *Registry) Add(ctx context.Context, chatID int64, meta Meta) (bool, error) {
	added := false
	err := r.store.MutateSubscribers(func(ids []int64) []int64 {
		if slices.Contains(ids, chatID) {
			return ids
		}
		added = true
		return append(ids, chatID)
	})
	if err != nil {
		return false, err
	}
	if !added {
		return false, nil
	}
	r.log.Info("chat subscribed",
		logx.Int64("chat_id", chatID),
		logx.String("name", meta.Name),
		logx.String("kind", meta.Kind))
	r.mirror(ctx)
	return true, nil
}

// Remove unsubscribes a chat. Returns false if it was not subscribed.
// Local removal always wins; the backup mirror is best-effort.
func (r *Registry) Remove(ctx context.Context, chatID int64, reason string) (bool, error) {
	removed := false
	err := r.store.MutateSubscribers(func(ids []int64) []int64 {
		out := slices.DeleteFunc(ids, func(id int64) bool { return id == chatID })
		removed = len(out) != len(ids)
		return out
	})
	if err != nil {
		return false, err
	}
	if !removed {
		return false, nil
	}
	r.log.Info("chat unsubscribed", logx.Int64("chat_id", chatID), logx.String("reason", reason))
	r.mirror(ctx)
	return true, nil
}

// RemoveBatch drops several chats at once (auto-removal of unreachable
// destinations after a broadcast).
func (r *Registry) RemoveBatch(ctx context.Context, chatIDs []int64, reason string) error {
	if len(chatIDs) == 0 {
		return nil
	}
	err := r.store.MutateSubscribers(func(ids []int64) []int64 {
		return slices.DeleteFunc(ids, func(id int64) bool {
			return slices.Contains(chatIDs, id)
		})
	})
	if err != nil {
		return err
	}
	r.log.Warn("chats removed from subscriber set",
		logx.Int("count", len(chatIDs)),
		logx.String("reason", reason))
	r.mirror(ctx)
	return nil
}

// All returns the current subscriber set without side effects.
func (r *Registry) All(ctx context.Context) ([]int64, error) {
	return r.store.LoadSubscribers()
}

// AllOrRestore returns the subscriber set; when local state is empty it
// tries one best-effort restore from the backup store before giving up.
func (r *Registry) AllOrRestore(ctx context.Context) ([]int64, error) {
	ids, err := r.store.LoadSubscribers()
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		return ids, nil
	}

	restored, err := r.backup.FetchSubscriberIDs(ctx)
	if err != nil {
		if !errors.Is(err, backup.ErrDisabled) {
			r.log.Warn("subscriber restore from backup failed", logx.Err(err))
		}
		return ids, nil
	}
	if len(restored) == 0 {
		return ids, nil
	}
	if err := r.store.SaveSubscribers(restored); err != nil {
		return nil, err
	}
	r.log.Info("subscriber set restored from backup", logx.Int("count", len(restored)))
	return restored, nil
}

// ReplaceAll overwrites the subscriber set (reconciliation).
func (r *Registry) ReplaceAll(ctx context.Context, ids []int64) error {
	return r.store.SaveSubscribers(ids)
}

func (r *Registry) mirror(ctx context.Context) {
	ids, err := r.store.LoadSubscribers()
	if err != nil {
		r.log.Warn("subscriber mirror skipped", logx.Err(err))
		return
	}
	if err := r.backup.ReplaceSubscribers(ctx, ids); err != nil {
		if errors.Is(err, backup.ErrDisabled) {
			return
		}
		r.log.Warn("subscriber mirror to backup failed", logx.Err(err))
	}
}
