// Package record defines the persisted reminder and poll records and
// their schedule triggers.
package record

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/clock"
)

type Kind string

const (
	KindOnce   Kind = "once"
	KindDaily  Kind = "daily"
	KindWeekly Kind = "weekly"
)

// Poll lifecycle status mirrored to the backup store.
const (
	StatusActive  = "Active"
	StatusDeleted = "Deleted"
)

// DeliveryStatusNoRecipients is recorded on a one-shot record that
// fired with an empty subscriber set and was retired.
const DeliveryStatusNoRecipients = "No recipients available - auto-deleted"

// Reminder is a scheduled text broadcast.
//
// The trigger fields are stored as local wall-clock strings: DateTime
// ("YYYY-MM-DD HH:MM") for once, TimeOfDay ("HH:MM") for daily and
// weekly, Day (lowercase English weekday) for weekly.
type Reminder struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"type"`
	Text      string `json:"text"`
	DateTime  string `json:"datetime,omitempty"`
	Day       string `json:"day,omitempty"`
	TimeOfDay string `json:"time,omitempty"`

	LastSent       string `json:"last_sent,omitempty"`
	DeliveryStatus string `json:"delivery_status,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// Poll is a scheduled native poll broadcast.
type Poll struct {
	ID        string   `json:"id"`
	Kind      Kind     `json:"type"`
	Question  string   `json:"question"`
	Options   []string `json:"options"`
	DateTime  string   `json:"datetime,omitempty"`
	Day       string   `json:"day,omitempty"`
	TimeOfDay string   `json:"time,omitempty"`

	AllowMultiple bool   `json:"allow_multiple_answers"`
	Status        string `json:"status,omitempty"`
	ChatID        int64  `json:"chat_id,omitempty"`
	ChatName      string `json:"chat_name,omitempty"`
	Username      string `json:"username,omitempty"`

	LastSent       string `json:"last_sent,omitempty"`
	DeliveryStatus string `json:"delivery_status,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// Trigger is the resolved schedule of a record: exactly one of the
// variants below.
type Trigger interface {
	Kind() Kind
}

// OnceAt fires a single time at a local-zone instant.
type OnceAt struct {
	At time.Time
}

// DailyAt fires every day at a local wall time.
type DailyAt struct {
	Hour, Minute int
}

// WeeklyAt fires once a week at a local weekday + wall time.
type WeeklyAt struct {
	Day          time.Weekday
	Hour, Minute int
}

func (OnceAt) Kind() Kind   { return KindOnce }
func (DailyAt) Kind() Kind  { return KindDaily }
func (WeeklyAt) Kind() Kind { return KindWeekly }

// Trigger resolves the reminder's raw schedule fields against the
// local clock. Malformed fields surface here, not at send time.
func (r Reminder) Trigger(c *clock.Clock) (Trigger, error) {
	return resolveTrigger(r.Kind, r.DateTime, r.Day, r.TimeOfDay, c)
}

// Trigger resolves the poll's raw schedule fields.
func (p Poll) Trigger(c *clock.Clock) (Trigger, error) {
	return resolveTrigger(p.Kind, p.DateTime, p.Day, p.TimeOfDay, c)
}

func resolveTrigger(kind Kind, dateTime, day, timeOfDay string, c *clock.Clock) (Trigger, error) {
	switch kind {
	case KindOnce:
		at, err := c.ParseDateTime(dateTime)
		if err != nil {
			return nil, err
		}
		return OnceAt{At: at}, nil
	case KindDaily:
		h, m, err := clock.ParseTimeOfDay(timeOfDay)
		if err != nil {
			return nil, err
		}
		return DailyAt{Hour: h, Minute: m}, nil
	case KindWeekly:
		wd, err := ParseWeekday(day)
		if err != nil {
			return nil, err
		}
		h, m, err := clock.ParseTimeOfDay(timeOfDay)
		if err != nil {
			return nil, err
		}
		return WeeklyAt{Day: wd, Hour: h, Minute: m}, nil
	default:
		return nil, fmt.Errorf("unknown record type %q", kind)
	}
}

var weekdays = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,

	// Legacy records store Russian day names.
	"понедельник": time.Monday,
	"вторник":     time.Tuesday,
	"среда":       time.Wednesday,
	"четверг":     time.Thursday,
	"пятница":     time.Friday,
	"суббота":     time.Saturday,
	"воскресенье": time.Sunday,
}

// ParseWeekday parses a lowercase weekday name as stored in weekly
// records. English and Russian names are accepted.
func ParseWeekday(s string) (time.Weekday, error) {
	wd, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", s)
	}
	return wd, nil
}

// ValidatePoll enforces Bot API poll constraints before a record is
// accepted.
func ValidatePoll(p Poll) error {
	q := strings.TrimSpace(p.Question)
	if q == "" {
		return fmt.Errorf("poll %s: empty question", p.ID)
	}
	if len([]rune(q)) > 300 {
		return fmt.Errorf("poll %s: question longer than 300 chars", p.ID)
	}
	if len(p.Options) < 2 {
		return fmt.Errorf("poll %s: needs at least 2 options", p.ID)
	}
	if len(p.Options) > 12 {
		return fmt.Errorf("poll %s: more than 12 options", p.ID)
	}
	for i, o := range p.Options {
		if strings.TrimSpace(o) == "" {
			return fmt.Errorf("poll %s: option %d is empty", p.ID, i+1)
		}
		if len([]rune(o)) > 100 {
			return fmt.Errorf("poll %s: option %d longer than 100 chars", p.ID, i+1)
		}
	}
	return nil
}

// NextID allocates the next numeric id given the ids already present
// locally and the highest id the backup store has ever assigned.
// Non-numeric ids are skipped.
func NextID(existing []string, backupMax int) string {
	maxID := backupMax
	if maxID < 0 {
		maxID = 0
	}
	for _, s := range existing {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			continue
		}
		if n > maxID {
			maxID = n
		}
	}
	return strconv.Itoa(maxID + 1)
}
