package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Time     TimeConfig     `json:"time"`

	Store     StoreConfig     `json:"store"`
	Scheduler SchedulerConfig `json:"scheduler"`

	Backup    *BackupConfig    `json:"backup,omitempty"`
	Reconcile *ReconcileConfig `json:"reconcile,omitempty"`
	Guard     *GuardConfig     `json:"guard,omitempty"`
	History   *HistoryConfig   `json:"history,omitempty"`
	Health    *HealthConfig    `json:"health,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// SendRate caps outbound messages per second; SendBurst is the
	// limiter burst. Zero keeps the defaults.
	SendRate  float64 `json:"send_rate,omitempty"`
	SendBurst int     `json:"send_burst,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// TimeConfig fixes the wall-clock zone every schedule is written in.
// The zone is a fixed UTC offset on purpose: record times must not
// jump with DST rules of the host machine.
type TimeConfig struct {
	ZoneName string `json:"zone_name,omitempty"` // default: "MSK"
	// UTCOffsetHours is the fixed offset from UTC. Default: 3.
	UTCOffsetHours int `json:"utc_offset_hours,omitempty"`
}

// StoreConfig locates the flat-file data directory.
type StoreConfig struct {
	Dir string `json:"dir"` // default: "."
}

// SchedulerConfig controls job execution.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type SchedulerConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// GraceWindow bounds how late a missed one-shot may still fire.
	GraceWindow string `json:"grace_window,omitempty"`
	// CatchupDelay is the pause before a missed one-shot fires.
	CatchupDelay string `json:"catchup_delay,omitempty"`
	// JobTimeout bounds a single delivery run. "0s" disables it.
	JobTimeout string `json:"job_timeout,omitempty"`
}

// BackupConfig points at the remote mirror. Omitting the section (or
// enabled=false) runs the bot on local files alone.
type BackupConfig struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"base_url"`
	Token   string `json:"token,omitempty"` // do not log
	Timeout string `json:"timeout,omitempty"`
}

type ReconcileConfig struct {
	SyncInterval   string `json:"sync_interval,omitempty"`
	HealthInterval string `json:"health_interval,omitempty"`
}

type GuardConfig struct {
	SettleDelay         string `json:"settle_delay,omitempty"`
	ClearDelay          string `json:"clear_delay,omitempty"`
	RecoveryPollTimeout string `json:"recovery_poll_timeout,omitempty"`
	MaxRecoveries       int    `json:"max_recoveries,omitempty"`
}

// HistoryConfig controls the delivery history sink.
//
// Example:
//
//	"history": { "driver": "sqlite", "path": "./send_history.db" }
type HistoryConfig struct {
	Driver      string `json:"driver"` // "", "none", "file", "sqlite"
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type HealthConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"` // default: ":8000"
	PingURL      string `json:"ping_url,omitempty"`
	PingInterval string `json:"ping_interval,omitempty"`
}
