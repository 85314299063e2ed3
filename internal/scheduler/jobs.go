package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/record"
	logx "remindbot/pkg/logx"
)

// ScheduleReminder registers (or replaces) the job for one reminder.
// A malformed trigger leaves the record unscheduled and is returned as
// an error; it never panics a worker.
func (s *Service) ScheduleReminder(r record.Reminder) error {
	trig, err := r.Trigger(s.clk)
	if err != nil {
		return fmt.Errorf("reminder %s: %w", r.ID, err)
	}
	rec := r
	return s.schedule(jobKey(ReminderPrefix, r.ID), trig, func(ctx context.Context) {
		s.sink.DeliverReminder(ctx, rec)
	})
}

// SchedulePoll registers (or replaces) the job for one poll.
func (s *Service) SchedulePoll(p record.Poll) error {
	trig, err := p.Trigger(s.clk)
	if err != nil {
		return fmt.Errorf("poll %s: %w", p.ID, err)
	}
	rec := p
	return s.schedule(jobKey(PollPrefix, p.ID), trig, func(ctx context.Context) {
		s.sink.DeliverPoll(ctx, rec)
	})
}

// ScheduleReminders schedules a whole collection, skipping records with
// malformed triggers. Returns how many were scheduled.
func (s *Service) ScheduleReminders(rs []record.Reminder) int {
	n := 0
	for _, r := range rs {
		if err := s.ScheduleReminder(r); err != nil {
			s.log.Error("reminder not scheduled", logx.String("id", r.ID), logx.Err(err))
			continue
		}
		n++
	}
	return n
}

// SchedulePolls schedules every Active poll in the collection.
func (s *Service) SchedulePolls(ps []record.Poll) int {
	n := 0
	for _, p := range ps {
		if p.Status != record.StatusActive {
			s.log.Debug("poll not active, skipping", logx.String("id", p.ID), logx.String("status", p.Status))
			continue
		}
		if err := s.SchedulePoll(p); err != nil {
			s.log.Error("poll not scheduled", logx.String("id", p.ID), logx.Err(err))
			continue
		}
		n++
	}
	return n
}

// RescheduleReminders drops every reminder job and rebuilds from the
// given collection.
func (s *Service) RescheduleReminders(rs []record.Reminder) int {
	removed := s.CancelPrefix(ReminderPrefix)
	n := s.ScheduleReminders(rs)
	s.log.Info("reminders rescheduled", logx.Int("removed", removed), logx.Int("scheduled", n))
	return n
}

// ReschedulePolls drops every poll job and rebuilds from the given
// collection.
func (s *Service) ReschedulePolls(ps []record.Poll) int {
	removed := s.CancelPrefix(PollPrefix)
	n := s.SchedulePolls(ps)
	s.log.Info("polls rescheduled", logx.Int("removed", removed), logx.Int("scheduled", n))
	return n
}

// CancelReminder removes the job for one reminder id.
func (s *Service) CancelReminder(id string) bool { return s.cancel(jobKey(ReminderPrefix, id)) }

// CancelPoll removes the job for one poll id.
func (s *Service) CancelPoll(id string) bool { return s.cancel(jobKey(PollPrefix, id)) }

// CancelPrefix removes every job whose key carries the prefix.
func (s *Service) CancelPrefix(prefix string) int {
	removed := 0

	s.mu.Lock()
	for key, eid := range s.entries {
		if strings.HasPrefix(key, prefix) {
			s.c.Remove(eid)
			delete(s.entries, key)
			removed++
		}
	}
	s.mu.Unlock()

	s.tmu.Lock()
	for key, t := range s.timers {
		if strings.HasPrefix(key, prefix) {
			t.Stop()
			delete(s.timers, key)
			s.timerVer[key]++
			removed++
		}
	}
	s.tmu.Unlock()

	return removed
}

// schedule performs the atomic upsert: the previous job under the key
// is gone before the new one is registered, so a record never has two
// live jobs.
func (s *Service) schedule(key string, trig record.Trigger, run func(ctx context.Context)) error {
	s.cancel(key)

	switch t := trig.(type) {
	case record.OnceAt:
		return s.scheduleOnce(key, t, run)
	case record.DailyAt:
		uh, um := s.clk.UTCTimeOfDay(t.Hour, t.Minute)
		return s.scheduleCron(key, fmt.Sprintf("%d %d * * *", um, uh), trig, run)
	case record.WeeklyAt:
		ud, uh, um := s.clk.UTCWeekdayTime(t.Day, t.Hour, t.Minute)
		return s.scheduleCron(key, fmt.Sprintf("%d %d * * %d", um, uh, int(ud)), trig, run)
	default:
		return fmt.Errorf("%s: unsupported trigger", key)
	}
}

func (s *Service) scheduleOnce(key string, t record.OnceAt, run func(ctx context.Context)) error {
	now := s.clk.Now()
	delay := t.At.Sub(now)

	switch {
	case delay > 0:
		// future: fire at the instant
	case -delay <= s.cfg.GraceWindow:
		// missed within the grace window: catch-up fire shortly
		s.log.Warn("missed one-shot within grace window, firing shortly",
			logx.String("job", key),
			logx.Time("was_due", t.At),
			logx.Duration("late_by", -delay))
		delay = s.cfg.CatchupDelay
	default:
		s.log.Warn("stale one-shot skipped",
			logx.String("job", key),
			logx.Time("was_due", t.At),
			logx.Duration("late_by", -delay))
		return nil
	}

	s.tmu.Lock()
	s.timerVer[key]++
	ver := s.timerVer[key]
	timer := time.AfterFunc(delay, func() {
		// A replaced or cancelled timer must not fire its job.
		s.tmu.Lock()
		if s.timerVer[key] != ver {
			s.tmu.Unlock()
			return
		}
		delete(s.timers, key)
		s.tmu.Unlock()

		select {
		case <-s.stopCh:
			return
		default:
		}
		s.enqueue(key, run)
	})
	s.timers[key] = timer
	s.tmu.Unlock()

	s.log.Info("job scheduled",
		logx.String("job", key),
		logx.String("trigger", describeTrigger(t)),
		logx.Duration("in", delay))
	return nil
}

func (s *Service) scheduleCron(key, spec string, trig record.Trigger, run func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	eid, err := s.c.AddFunc(spec, func() { s.enqueue(key, run) })
	if err != nil {
		return fmt.Errorf("%s: cron spec %q: %w", key, spec, err)
	}
	s.entries[key] = eid

	s.log.Info("job scheduled",
		logx.String("job", key),
		logx.String("trigger", describeTrigger(trig)),
		logx.String("spec_utc", spec))
	return nil
}

func (s *Service) cancel(key string) bool {
	removed := false

	s.mu.Lock()
	if eid, ok := s.entries[key]; ok {
		s.c.Remove(eid)
		delete(s.entries, key)
		removed = true
	}
	s.mu.Unlock()

	s.tmu.Lock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
		removed = true
	}
	s.timerVer[key]++
	s.tmu.Unlock()

	if removed {
		s.log.Debug("job cancelled", logx.String("job", key))
	}
	return removed
}
