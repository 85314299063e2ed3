package history

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "remindbot/pkg/logx"
)

// fileStore appends one JSON line per entry. No rotation; the file is
// an operator-facing audit trail, not a queryable database.
type fileStore struct {
	mu  sync.Mutex
	f   *os.File
	log logx.Logger
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./send_history.jsonl"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{f: f, log: log}, nil
}

type fileEntry struct {
	At         string `json:"at"`
	LocalTime  string `json:"local_time,omitempty"`
	RecordKind string `json:"kind"`
	RecordID   string `json:"record_id"`
	ChatID     string `json:"chat_id"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	Preview    string `json:"preview,omitempty"`
}

func (s *fileStore) Append(ctx context.Context, e Entry) error {
	if s == nil || s.f == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	line, err := json.Marshal(fileEntry{
		At:         e.At.UTC().Format(time.RFC3339),
		LocalTime:  e.LocalTime,
		RecordKind: e.RecordKind,
		RecordID:   e.RecordID,
		ChatID:     e.ChatID,
		Status:     e.Status,
		Error:      e.Error,
		Preview:    e.Preview,
	})
	if err != nil {
		return err
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrDisabled
	}
	_, err = s.f.Write(line)
	return err
}

func (s *fileStore) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	if err != nil && errors.Is(err, os.ErrClosed) {
		err = nil
	}
	s.f = nil
	return err
}
