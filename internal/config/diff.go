package config

import (
	"reflect"
	"strings"

	logx "remindbot/pkg/logx"
)

// SummarizeChange returns the list of changed sections plus safe
// structured attrs for logging. Secrets (telegram token, backup token)
// are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		oldCfg.Telegram.SendRate != newCfg.Telegram.SendRate ||
		oldCfg.Telegram.SendBurst != newCfg.Telegram.SendBurst ||
		oldCfg.Telegram.Token != newCfg.Telegram.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token))
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled))
	}

	if !reflect.DeepEqual(oldCfg.Time, newCfg.Time) {
		changed = append(changed, "time")
	}
	if !reflect.DeepEqual(oldCfg.Store, newCfg.Store) {
		changed = append(changed, "store")
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
	}

	if backupChanged(oldCfg.Backup, newCfg.Backup) {
		changed = append(changed, "backup")
		attrs = append(attrs, logx.Bool("backup.enabled", newCfg.Backup != nil && newCfg.Backup.Enabled))
	}
	if !reflect.DeepEqual(oldCfg.Reconcile, newCfg.Reconcile) {
		changed = append(changed, "reconcile")
	}
	if !reflect.DeepEqual(oldCfg.Guard, newCfg.Guard) {
		changed = append(changed, "guard")
	}
	if !reflect.DeepEqual(oldCfg.History, newCfg.History) {
		changed = append(changed, "history")
	}
	if !reflect.DeepEqual(oldCfg.Health, newCfg.Health) {
		changed = append(changed, "health")
	}

	return changed, attrs
}

func backupChanged(a, b *BackupConfig) bool {
	if a == nil && b == nil {
		return false
	}
	if (a == nil) != (b == nil) {
		return true
	}
	return a.Enabled != b.Enabled ||
		strings.TrimSpace(a.BaseURL) != strings.TrimSpace(b.BaseURL) ||
		a.Token != b.Token ||
		strings.TrimSpace(a.Timeout) != strings.TrimSpace(b.Timeout)
}
