package history

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("history disabled")

// Config configures the delivery history store.
//
// Driver values:
//   - "file": dependency-free jsonl append log
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", history is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Entry records one delivery outcome (or a broadcast summary row).
// Keep it compact and schema-stable.
type Entry struct {
	At         time.Time
	LocalTime  string // wall clock in the bot's local zone
	RecordKind string // "reminder" | "poll"
	RecordID   string
	ChatID     string // numeric id, or markers like "NO_CHATS" / "SUMMARY"
	Status     string
	Error      string
	Preview    string // first part of the text/question
}

type Store interface {
	Append(ctx context.Context, e Entry) error
	Close() error
}
