package app

import (
	"time"

	"remindbot/internal/backup"
	"remindbot/internal/clock"
	"remindbot/internal/config"
	"remindbot/internal/guard"
	"remindbot/internal/health"
	"remindbot/internal/history"
	"remindbot/internal/reconcile"
	"remindbot/internal/scheduler"
	telegram "remindbot/internal/transport/telegram/adapter"
	logx "remindbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapClock(cfg *config.Config) *clock.Clock {
	name := cfg.Time.ZoneName
	offset := time.Duration(cfg.Time.UTCOffsetHours) * time.Hour
	if name == "" && cfg.Time.UTCOffsetHours == 0 {
		return clock.Default()
	}
	if name == "" {
		name = "LOCAL"
	}
	return clock.New(name, offset)
}

func mapAdapterConfig(cfg *config.Config) (telegram.Config, error) {
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		SendRate:    cfg.Telegram.SendRate,
		SendBurst:   cfg.Telegram.SendBurst,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	grace, err := config.ParseDurationField("scheduler.grace_window", cfg.Scheduler.GraceWindow)
	if err != nil {
		return scheduler.Config{}, err
	}
	catchup, err := config.ParseDurationField("scheduler.catchup_delay", cfg.Scheduler.CatchupDelay)
	if err != nil {
		return scheduler.Config{}, err
	}
	jobTimeout, err := config.ParseDurationField("scheduler.job_timeout", cfg.Scheduler.JobTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Workers:      cfg.Scheduler.Workers,
		QueueSize:    cfg.Scheduler.QueueSize,
		GraceWindow:  grace,
		CatchupDelay: catchup,
		JobTimeout:   jobTimeout,
	}, nil
}

// mapBackupConfig returns (cfg, enabled, err).
func mapBackupConfig(cfg *config.Config) (backup.Config, bool, error) {
	if cfg.Backup == nil || !cfg.Backup.Enabled {
		return backup.Config{}, false, nil
	}
	timeout, err := config.ParseDurationField("backup.timeout", cfg.Backup.Timeout)
	if err != nil {
		return backup.Config{}, false, err
	}
	return backup.Config{
		BaseURL: cfg.Backup.BaseURL,
		Token:   cfg.Backup.Token,
		Timeout: timeout,
	}, true, nil
}

func mapReconcileConfig(cfg *config.Config) (reconcile.Config, error) {
	var rc reconcile.Config
	if cfg.Reconcile == nil {
		return rc, nil
	}
	var err error
	if rc.SyncInterval, err = config.ParseDurationField("reconcile.sync_interval", cfg.Reconcile.SyncInterval); err != nil {
		return rc, err
	}
	if rc.HealthInterval, err = config.ParseDurationField("reconcile.health_interval", cfg.Reconcile.HealthInterval); err != nil {
		return rc, err
	}
	return rc, nil
}

func mapGuardConfig(cfg *config.Config) (guard.Config, error) {
	var gc guard.Config
	if cfg.Guard == nil {
		return gc, nil
	}
	var err error
	if gc.SettleDelay, err = config.ParseDurationField("guard.settle_delay", cfg.Guard.SettleDelay); err != nil {
		return gc, err
	}
	if gc.ClearDelay, err = config.ParseDurationField("guard.clear_delay", cfg.Guard.ClearDelay); err != nil {
		return gc, err
	}
	if gc.RecoveryPollTimeout, err = config.ParseDurationField("guard.recovery_poll_timeout", cfg.Guard.RecoveryPollTimeout); err != nil {
		return gc, err
	}
	gc.MaxRecoveries = cfg.Guard.MaxRecoveries
	return gc, nil
}

func mapHistoryConfig(cfg *config.Config) (history.Config, error) {
	var hc history.Config
	if cfg.History == nil {
		return hc, nil
	}
	busy, err := config.ParseDurationField("history.busy_timeout", cfg.History.BusyTimeout)
	if err != nil {
		return hc, err
	}
	return history.Config{
		Driver:      cfg.History.Driver,
		Path:        cfg.History.Path,
		BusyTimeout: busy,
	}, nil
}

// mapHealthConfig returns (cfg, enabled, err).
func mapHealthConfig(cfg *config.Config) (health.Config, bool, error) {
	if cfg.Health == nil || !cfg.Health.Enabled {
		return health.Config{}, false, nil
	}
	interval, err := config.ParseDurationField("health.ping_interval", cfg.Health.PingInterval)
	if err != nil {
		return health.Config{}, false, err
	}
	return health.Config{
		Addr:         cfg.Health.Addr,
		PingURL:      cfg.Health.PingURL,
		PingInterval: interval,
	}, true, nil
}
