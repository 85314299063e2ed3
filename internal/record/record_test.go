package record

import (
	"strings"
	"testing"
	"time"

	"remindbot/internal/clock"
)

func TestReminderTriggerVariants(t *testing.T) {
	t.Parallel()
	c := clock.Default()

	once := Reminder{ID: "1", Kind: KindOnce, DateTime: "2025-12-31 23:30"}
	trig, err := once.Trigger(c)
	if err != nil {
		t.Fatalf("once trigger: %v", err)
	}
	at, ok := trig.(OnceAt)
	if !ok {
		t.Fatalf("expected OnceAt, got %T", trig)
	}
	if at.At.Hour() != 23 || at.At.Minute() != 30 {
		t.Fatalf("unexpected instant: %v", at.At)
	}

	daily := Reminder{ID: "2", Kind: KindDaily, TimeOfDay: "08:15"}
	trig, err = daily.Trigger(c)
	if err != nil {
		t.Fatalf("daily trigger: %v", err)
	}
	d, ok := trig.(DailyAt)
	if !ok {
		t.Fatalf("expected DailyAt, got %T", trig)
	}
	if d.Hour != 8 || d.Minute != 15 {
		t.Fatalf("unexpected time: %02d:%02d", d.Hour, d.Minute)
	}

	weekly := Reminder{ID: "3", Kind: KindWeekly, Day: "friday", TimeOfDay: "19:00"}
	trig, err = weekly.Trigger(c)
	if err != nil {
		t.Fatalf("weekly trigger: %v", err)
	}
	w, ok := trig.(WeeklyAt)
	if !ok {
		t.Fatalf("expected WeeklyAt, got %T", trig)
	}
	if w.Day != time.Friday || w.Hour != 19 {
		t.Fatalf("unexpected schedule: %v %02d:%02d", w.Day, w.Hour, w.Minute)
	}
}

func TestTriggerMalformed(t *testing.T) {
	t.Parallel()
	c := clock.Default()

	bad := []Reminder{
		{ID: "a", Kind: KindOnce, DateTime: "tomorrow"},
		{ID: "b", Kind: KindDaily, TimeOfDay: "25:00"},
		{ID: "c", Kind: KindWeekly, Day: "someday", TimeOfDay: "10:00"},
		{ID: "d", Kind: Kind("hourly")},
	}
	for _, r := range bad {
		if _, err := r.Trigger(c); err == nil {
			t.Fatalf("expected error for reminder %s", r.ID)
		}
	}
}

func TestParseWeekdayAcceptsRussianNames(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want time.Weekday
	}{
		{"monday", time.Monday},
		{"Sunday", time.Sunday},
		{"понедельник", time.Monday},
		{"воскресенье", time.Sunday},
		{"  пятница ", time.Friday},
	}
	for _, tt := range tests {
		got, err := ParseWeekday(tt.raw)
		if err != nil {
			t.Fatalf("ParseWeekday(%q) error: %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("ParseWeekday(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}

	if _, err := ParseWeekday("caturday"); err == nil {
		t.Fatal("expected error for unknown weekday")
	}
}

func TestValidatePoll(t *testing.T) {
	t.Parallel()
	valid := Poll{ID: "1", Question: "Lunch?", Options: []string{"yes", "no"}}
	if err := ValidatePoll(valid); err != nil {
		t.Fatalf("valid poll rejected: %v", err)
	}

	longOpt := strings.Repeat("x", 101)
	many := make([]string, 13)
	for i := range many {
		many[i] = "opt"
	}

	bad := []Poll{
		{ID: "q", Options: []string{"a", "b"}},
		{ID: "long-q", Question: strings.Repeat("я", 301), Options: []string{"a", "b"}},
		{ID: "one-opt", Question: "?", Options: []string{"a"}},
		{ID: "many", Question: "?", Options: many},
		{ID: "empty-opt", Question: "?", Options: []string{"a", " "}},
		{ID: "long-opt", Question: "?", Options: []string{"a", longOpt}},
	}
	for _, p := range bad {
		if err := ValidatePoll(p); err == nil {
			t.Fatalf("expected error for poll %s", p.ID)
		}
	}
}

func TestNextID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		existing  []string
		backupMax int
		want      string
	}{
		{name: "empty", want: "1"},
		{name: "local only", existing: []string{"1", "3", "2"}, want: "4"},
		{name: "backup higher", existing: []string{"2"}, backupMax: 7, want: "8"},
		{name: "skips junk", existing: []string{"5", "abc", ""}, want: "6"},
		{name: "negative backup", existing: nil, backupMax: -4, want: "1"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := NextID(tt.existing, tt.backupMax); got != tt.want {
				t.Fatalf("NextID = %q, want %q", got, tt.want)
			}
		})
	}
}
