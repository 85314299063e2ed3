// Package reconcile keeps the flat-file local store aligned with the
// remote backup: restore-on-startup, a periodic sync loop, and a
// scheduler health monitor that re-hydrates jobs when records exist
// but nothing is scheduled.
package reconcile

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/backup"
	"remindbot/internal/record"
	"remindbot/internal/registry"
	"remindbot/internal/scheduler"
	"remindbot/internal/store"
	logx "remindbot/pkg/logx"
)

// Scheduler is the slice of the job scheduler reconciliation drives.
type Scheduler interface {
	RescheduleReminders(rs []record.Reminder) int
	ReschedulePolls(ps []record.Poll) int
	JobCount(prefix string) int
}

type Config struct {
	// SyncInterval paces the periodic backup pull. 0 picks the default.
	SyncInterval time.Duration
	// HealthInterval paces the scheduler health check.
	HealthInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.SyncInterval <= 0 {
		c.SyncInterval = 5 * time.Minute
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 10 * time.Minute
	}
	return c
}

type Service struct {
	cfg   Config
	bk    backup.Client
	store *store.Store
	reg   *registry.Registry
	sched Scheduler
	log   logx.Logger
}

func New(cfg Config, bk backup.Client, st *store.Store, reg *registry.Registry, sched Scheduler, log logx.Logger) *Service {
	if bk == nil {
		bk = backup.Disabled{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), bk: bk, store: st, reg: reg, sched: sched, log: log}
}

// RestoreAll runs the startup restore. The three collections are
// independent: a failure in one never blocks the others, and a backup
// error always keeps whatever local data exists.
func (s *Service) RestoreAll(ctx context.Context) {
	s.restoreSubscribers(ctx)
	s.restoreReminders(ctx)
	s.restorePolls(ctx)
}

// restoreSubscribers pulls the subscriber list from the backup only
// when the local file is missing or empty.
func (s *Service) restoreSubscribers(ctx context.Context) {
	ids, err := s.reg.AllOrRestore(ctx)
	if err != nil {
		s.log.Error("subscriber restore failed", logx.Err(err))
		return
	}
	if len(ids) == 0 {
		s.log.Warn("no subscribers locally or in backup, broadcasts have no audience")
		return
	}
	s.log.Info("subscribers ready", logx.Int("count", len(ids)))
}

// restoreReminders pulls reminders from the backup only when the local
// file is missing or empty. Existing local data wins.
func (s *Service) restoreReminders(ctx context.Context) {
	local, err := s.store.LoadReminders()
	if err == nil && len(local) > 0 {
		s.log.Info("local reminders present, skipping restore", logx.Int("count", len(local)))
		return
	}

	remote, err := s.bk.FetchActiveReminders(ctx)
	if errors.Is(err, backup.ErrDisabled) {
		return
	}
	if err != nil {
		s.log.Error("reminder restore from backup failed", logx.Err(err))
		return
	}
	if err := s.store.SaveReminders(remote); err != nil {
		s.log.Error("restored reminders not saved", logx.Err(err))
		return
	}
	s.log.Info("reminders restored from backup", logx.Int("count", len(remote)))
}

// restorePolls always prefers the backup copy on startup; local data is
// only kept when the backup cannot be reached.
func (s *Service) restorePolls(ctx context.Context) {
	local, lerr := s.store.LoadPolls()

	remote, err := s.bk.FetchActivePolls(ctx)
	if errors.Is(err, backup.ErrDisabled) {
		return
	}
	if err != nil {
		if lerr == nil && len(local) > 0 {
			s.log.Warn("poll sync from backup failed, keeping local data",
				logx.Int("local", len(local)), logx.Err(err))
		} else {
			s.log.Error("poll restore from backup failed", logx.Err(err))
		}
		return
	}

	if err := s.store.SavePolls(remote); err != nil {
		s.log.Error("restored polls not saved", logx.Err(err))
		return
	}
	if len(remote) != len(local) {
		s.log.Info("polls synced from backup",
			logx.Int("before", len(local)), logx.Int("after", len(remote)))
	} else {
		s.log.Info("polls already in sync", logx.Int("count", len(remote)))
	}
}

// Run drives the periodic sync and health loops until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	sync := time.NewTicker(s.cfg.SyncInterval)
	defer sync.Stop()
	health := time.NewTicker(s.cfg.HealthInterval)
	defer health.Stop()

	s.log.Info("reconciliation loop started",
		logx.Duration("sync_interval", s.cfg.SyncInterval),
		logx.Duration("health_interval", s.cfg.HealthInterval))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sync.C:
			s.SyncOnce(ctx)
		case <-health.C:
			s.HealthCheck(ctx)
		}
	}
}

// SyncOnce pulls every collection from the backup, overwrites the local
// files, and reschedules whatever changed.
func (s *Service) SyncOnce(ctx context.Context) {
	s.syncSubscribers(ctx)
	s.syncReminders(ctx)
	s.syncPolls(ctx)
}

func (s *Service) syncSubscribers(ctx context.Context) {
	ids, err := s.bk.FetchSubscriberIDs(ctx)
	if errors.Is(err, backup.ErrDisabled) {
		return
	}
	if err != nil {
		s.log.Warn("subscriber sync failed", logx.Err(err))
		return
	}
	if len(ids) == 0 {
		// An empty backup list is more likely a remote wipe than a real
		// state; never destroy the local audience over it.
		s.log.Warn("backup returned no subscribers, keeping local list")
		return
	}
	if err := s.reg.ReplaceAll(ctx, ids); err != nil {
		s.log.Error("subscriber list not saved", logx.Err(err))
		return
	}
	s.log.Debug("subscribers synced", logx.Int("count", len(ids)))
}

func (s *Service) syncReminders(ctx context.Context) {
	local, _ := s.store.LoadReminders()

	remote, err := s.bk.FetchActiveReminders(ctx)
	if errors.Is(err, backup.ErrDisabled) {
		return
	}
	if err != nil {
		s.log.Warn("reminder sync failed", logx.Err(err))
		if len(local) == 0 {
			s.log.Error("no local reminders and backup unreachable, nothing will fire")
		}
		return
	}

	if err := s.store.SaveReminders(remote); err != nil {
		s.log.Error("synced reminders not saved", logx.Err(err))
		return
	}
	if len(remote) != len(local) {
		n := s.sched.RescheduleReminders(remote)
		s.log.Info("reminders updated by sync",
			logx.Int("before", len(local)), logx.Int("after", len(remote)), logx.Int("scheduled", n))
		return
	}
	s.log.Debug("reminders already in sync", logx.Int("count", len(remote)))
}

func (s *Service) syncPolls(ctx context.Context) {
	local, _ := s.store.LoadPolls()

	remote, err := s.bk.FetchActivePolls(ctx)
	if errors.Is(err, backup.ErrDisabled) {
		return
	}
	if err != nil {
		s.log.Warn("poll sync failed", logx.Err(err))
		if len(local) == 0 {
			s.log.Error("no local polls and backup unreachable, nothing will fire")
		}
		return
	}

	if err := s.store.SavePolls(remote); err != nil {
		s.log.Error("synced polls not saved", logx.Err(err))
		return
	}
	if len(remote) != len(local) {
		n := s.sched.ReschedulePolls(remote)
		s.log.Info("polls updated by sync",
			logx.Int("before", len(local)), logx.Int("after", len(remote)), logx.Int("scheduled", n))
		return
	}
	s.log.Debug("polls already in sync", logx.Int("count", len(remote)))
}

// HealthCheck detects the silent-scheduler failure mode: records exist
// but no jobs are live. When found it restores the collection from the
// backup and rebuilds the jobs.
func (s *Service) HealthCheck(ctx context.Context) {
	remJobs := s.sched.JobCount(scheduler.ReminderPrefix)
	pollJobs := s.sched.JobCount(scheduler.PollPrefix)
	s.log.Info("scheduler health check",
		logx.Int("reminder_jobs", remJobs), logx.Int("poll_jobs", pollJobs))

	if remJobs == 0 {
		s.emergencyReminders(ctx)
	}
	if pollJobs == 0 {
		s.emergencyPolls(ctx)
	}
}

func (s *Service) emergencyReminders(ctx context.Context) {
	local, _ := s.store.LoadReminders()

	remote, err := s.bk.FetchActiveReminders(ctx)
	switch {
	case errors.Is(err, backup.ErrDisabled):
		remote = nil
	case err != nil:
		s.log.Error("emergency reminder restore failed", logx.Err(err))
		remote = nil
	}

	if len(remote) > 0 {
		if err := s.store.SaveReminders(remote); err != nil {
			s.log.Error("emergency reminders not saved", logx.Err(err))
			return
		}
		n := s.sched.RescheduleReminders(remote)
		s.log.Warn("emergency reminder restore completed", logx.Int("scheduled", n))
		return
	}

	if len(local) > 0 {
		// Backup empty or unreachable but local records exist: rebuild
		// jobs from what we have.
		n := s.sched.RescheduleReminders(local)
		s.log.Warn("reminder jobs rebuilt from local store", logx.Int("scheduled", n))
		return
	}
	s.log.Debug("no reminders anywhere, nothing to schedule")
}

func (s *Service) emergencyPolls(ctx context.Context) {
	local, _ := s.store.LoadPolls()

	remote, err := s.bk.FetchActivePolls(ctx)
	switch {
	case errors.Is(err, backup.ErrDisabled):
		remote = nil
	case err != nil:
		s.log.Error("emergency poll restore failed", logx.Err(err))
		remote = nil
	}

	if len(remote) > 0 {
		if err := s.store.SavePolls(remote); err != nil {
			s.log.Error("emergency polls not saved", logx.Err(err))
			return
		}
		n := s.sched.ReschedulePolls(remote)
		s.log.Warn("emergency poll restore completed", logx.Int("scheduled", n))
		return
	}

	if len(local) > 0 {
		n := s.sched.ReschedulePolls(local)
		s.log.Warn("poll jobs rebuilt from local store", logx.Int("scheduled", n))
		return
	}
	s.log.Debug("no polls anywhere, nothing to schedule")
}
