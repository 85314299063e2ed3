package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validJSON = `{
  "telegram": {"token": "123:abc", "poll_timeout": "10s"},
  "logging": {"level": "INFO", "console": true, "file": {"enabled": false, "path": ""}},
  "time": {"zone_name": "MSK", "utc_offset_hours": 3},
  "store": {"dir": "./data"},
  "scheduler": {"workers": 4, "grace_window": "1h"},
  "backup": {"enabled": true, "base_url": "https://backup.example.com", "timeout": "15s"},
  "history": {"driver": "sqlite", "path": "./history.db"}
}`

func TestParseJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeTemp(t, "config.json", validJSON))

	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Backup == nil || !cfg.Backup.Enabled {
		t.Fatal("backup section lost")
	}
	if cfg.History.Driver != "sqlite" {
		t.Fatalf("history driver = %q", cfg.History.Driver)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	const y = `
telegram:
  token: "123:abc"
  poll_timeout: 10s
logging:
  level: DEBUG
  console: true
  file:
    enabled: true
    path: ./bot.log
time:
  utc_offset_hours: 3
store:
  dir: .
scheduler:
  workers: 2
`
	m := NewManager(writeTemp(t, "config.yaml", y))

	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" || !cfg.Logging.File.Enabled {
		t.Fatalf("unexpected logging section: %+v", cfg.Logging)
	}
	if cfg.Time.UTCOffsetHours != 3 {
		t.Fatalf("utc offset = %d", cfg.Time.UTCOffsetHours)
	}
}

func TestParseTokenFromEnv(t *testing.T) {
	t.Setenv("BOT_TOKEN", "456:def")
	m := NewManager(writeTemp(t, "config.json", `{"telegram": {"token": ""}}`))

	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "456:def" {
		t.Fatalf("token = %q, want env fallback", cfg.Telegram.Token)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeTemp(t, "config.json",
		`{"telegram": {"token": "x", "webhook_url": "https://example.com"}}`))

	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := NewManager(writeTemp(t, "config.json",
		`{"telegram": {"token": "x"}}{"extra": true}`))

	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		mod  func(c *Config)
	}{
		{name: "missing token", mod: func(c *Config) { c.Telegram.Token = " " }},
		{name: "bad duration", mod: func(c *Config) { c.Scheduler.GraceWindow = "soon" }},
		{name: "negative duration", mod: func(c *Config) { c.Telegram.PollTimeout = "-5s" }},
		{name: "backup without url", mod: func(c *Config) {
			c.Backup = &BackupConfig{Enabled: true}
		}},
		{name: "unknown history driver", mod: func(c *Config) {
			c.History = &HistoryConfig{Driver: "redis"}
		}},
		{name: "negative workers", mod: func(c *Config) { c.Scheduler.Workers = -1 }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Telegram: TelegramConfig{Token: "123:abc"}}
			tt.mod(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Telegram: TelegramConfig{Token: "a", PollTimeout: "10s"}}
	newCfg := &Config{
		Telegram: TelegramConfig{Token: "a", PollTimeout: "30s"},
		Logging:  LoggingConfig{Level: "DEBUG"},
	}

	sections, _ := SummarizeChange(oldCfg, newCfg)
	if len(sections) != 2 {
		t.Fatalf("sections = %v, want telegram+logging", sections)
	}

	same, _ := SummarizeChange(newCfg, newCfg)
	if len(same) != 0 {
		t.Fatalf("no-op diff reported changes: %v", same)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("x", " 90s ")
	if err != nil || d.Seconds() != 90 {
		t.Fatalf("ParseDurationField = (%v, %v)", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty duration = (%v, %v), want (0, nil)", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
}
