// Package backup talks to the external backup store that mirrors the
// local collections. All mirror writes are best-effort: delivery and
// registry code logs failures and moves on, local state stays the
// source of truth between reconciliation pulls.
package backup

import (
	"context"
	"errors"

	"remindbot/internal/record"
)

// Action tags a mirror write.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Collection names accepted by MaxAssignedID.
const (
	CollectionReminders = "reminders"
	CollectionPolls     = "polls"
)

// ErrDisabled is returned by the no-op client. Callers treat it as a
// quiet condition, not a failure.
var ErrDisabled = errors.New("backup store disabled")

type Client interface {
	// Fetch* return the authoritative active records for restore.
	FetchActiveReminders(ctx context.Context) ([]record.Reminder, error)
	FetchActivePolls(ctx context.Context) ([]record.Poll, error)
	FetchSubscriberIDs(ctx context.Context) ([]int64, error)

	// Mirror writes.
	SyncReminder(ctx context.Context, r record.Reminder, a Action) error
	SyncPoll(ctx context.Context, p record.Poll, a Action) error
	ReplaceSubscribers(ctx context.Context, ids []int64) error

	// MaxAssignedID returns the highest id the backup has ever seen for
	// a collection, so locally allocated ids never collide with
	// historical ones.
	MaxAssignedID(ctx context.Context, collection string) (int, error)
}

// Disabled is the no-op client used when no backup store is configured.
type Disabled struct{}

func (Disabled) FetchActiveReminders(context.Context) ([]record.Reminder, error) {
	return nil, ErrDisabled
}
func (Disabled) FetchActivePolls(context.Context) ([]record.Poll, error) { return nil, ErrDisabled }
func (Disabled) FetchSubscriberIDs(context.Context) ([]int64, error)    { return nil, ErrDisabled }
func (Disabled) SyncReminder(context.Context, record.Reminder, Action) error {
	return ErrDisabled
}
func (Disabled) SyncPoll(context.Context, record.Poll, Action) error { return ErrDisabled }
func (Disabled) ReplaceSubscribers(context.Context, []int64) error   { return ErrDisabled }
func (Disabled) MaxAssignedID(context.Context, string) (int, error)  { return 0, ErrDisabled }
