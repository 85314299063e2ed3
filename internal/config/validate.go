package config

import (
	"fmt"
	"strings"
)

// Validate checks the config before it is committed or published. It
// reports the first problem found; duration fields are parsed here so
// a bad reload never reaches the runtime.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token: required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if c.Telegram.SendRate < 0 {
		return fmt.Errorf("telegram.send_rate: must be >= 0")
	}

	durations := []struct{ path, raw string }{
		{"scheduler.grace_window", c.Scheduler.GraceWindow},
		{"scheduler.catchup_delay", c.Scheduler.CatchupDelay},
		{"scheduler.job_timeout", c.Scheduler.JobTimeout},
	}
	if c.Backup != nil {
		durations = append(durations, struct{ path, raw string }{"backup.timeout", c.Backup.Timeout})
	}
	if c.Reconcile != nil {
		durations = append(durations,
			struct{ path, raw string }{"reconcile.sync_interval", c.Reconcile.SyncInterval},
			struct{ path, raw string }{"reconcile.health_interval", c.Reconcile.HealthInterval})
	}
	if c.Guard != nil {
		durations = append(durations,
			struct{ path, raw string }{"guard.settle_delay", c.Guard.SettleDelay},
			struct{ path, raw string }{"guard.clear_delay", c.Guard.ClearDelay},
			struct{ path, raw string }{"guard.recovery_poll_timeout", c.Guard.RecoveryPollTimeout})
	}
	if c.History != nil {
		durations = append(durations, struct{ path, raw string }{"history.busy_timeout", c.History.BusyTimeout})
	}
	if c.Health != nil {
		durations = append(durations, struct{ path, raw string }{"health.ping_interval", c.Health.PingInterval})
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if c.Backup != nil && c.Backup.Enabled && strings.TrimSpace(c.Backup.BaseURL) == "" {
		return fmt.Errorf("backup.base_url: required when backup is enabled")
	}

	if c.History != nil {
		switch strings.ToLower(strings.TrimSpace(c.History.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("history.driver: unknown driver %q", c.History.Driver)
		}
	}

	if c.Scheduler.Workers < 0 {
		return fmt.Errorf("scheduler.workers: must be >= 0")
	}
	if c.Guard != nil && c.Guard.MaxRecoveries < 0 {
		return fmt.Errorf("guard.max_recoveries: must be >= 0")
	}
	return nil
}
