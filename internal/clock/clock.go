// Package clock provides the bot's fixed local time model.
//
// All user-facing times are interpreted in one configured local zone
// (Moscow by default) regardless of host timezone, while everything
// handed to the scheduler runs in UTC.
package clock

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DateTimeLayout is the wall-clock layout for one-shot triggers.
	DateTimeLayout = "2006-01-02 15:04"
	// StampLayout is the layout used for last-sent and audit stamps.
	StampLayout = "2006-01-02 15:04:05"
)

type Clock struct {
	loc    *time.Location
	offset time.Duration
	nowFn  func() time.Time
}

type Option func(*Clock)

// WithNow overrides the time source. Tests only.
func WithNow(fn func() time.Time) Option {
	return func(c *Clock) { c.nowFn = fn }
}

// New builds a clock for a fixed UTC offset zone. The zone is built
// with time.FixedZone, so it never follows host tzdata or DST.
func New(name string, offset time.Duration, opts ...Option) *Clock {
	if name == "" {
		name = "LOCAL"
	}
	c := &Clock{
		loc:    time.FixedZone(name, int(offset/time.Second)),
		offset: offset,
		nowFn:  time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Default returns the Moscow clock (UTC+3, no DST).
func Default() *Clock { return New("MSK", 3*time.Hour) }

func (c *Clock) Location() *time.Location { return c.loc }

func (c *Clock) Offset() time.Duration { return c.offset }

// Now returns the current time expressed in the local zone.
func (c *Clock) Now() time.Time { return c.nowFn().In(c.loc) }

// Stamp formats t in the local zone for persistence and logs.
func (c *Clock) Stamp(t time.Time) string { return t.In(c.loc).Format(StampLayout) }

// ParseDateTime parses a "YYYY-MM-DD HH:MM" wall-clock string as a
// local-zone instant.
func (c *Clock) ParseDateTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateTimeLayout, strings.TrimSpace(s), c.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid datetime %q: %w", s, err)
	}
	return t, nil
}

// ParseTimeOfDay parses "HH:MM" into hour and minute.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("time %q out of range", s)
	}
	return h, m, nil
}

// UTCTimeOfDay converts a local wall time-of-day to UTC, wrapping
// across midnight.
func (c *Clock) UTCTimeOfDay(hour, minute int) (int, int) {
	total := hour*60 + minute - int(c.offset/time.Minute)
	total %= 24 * 60
	if total < 0 {
		total += 24 * 60
	}
	return total / 60, total % 60
}

// UTCWeekdayTime converts a local weekday + wall time to their UTC
// counterparts. The weekday shifts when the conversion crosses
// midnight (e.g. Monday 01:00 MSK is Sunday 22:00 UTC).
func (c *Clock) UTCWeekdayTime(day time.Weekday, hour, minute int) (time.Weekday, int, int) {
	total := hour*60 + minute - int(c.offset/time.Minute)
	shift := 0
	switch {
	case total < 0:
		total += 24 * 60
		shift = -1
	case total >= 24*60:
		total -= 24 * 60
		shift = 1
	}
	d := (int(day) + shift + 7) % 7
	return time.Weekday(d), total / 60, total % 60
}
