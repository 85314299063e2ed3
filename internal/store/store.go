// Package store is the flat-file local store: three JSON documents
// (reminders, polls, subscribers) under one data directory.
//
// Every write rewrites the whole document via a temp file + rename so
// readers never observe a torn file. Mutations are serialized per
// collection with a load-mutate-save cycle under the collection lock.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"remindbot/internal/record"
	logx "remindbot/pkg/logx"
)

const (
	remindersFile   = "reminders.json"
	pollsFile       = "polls.json"
	subscribersFile = "subscribed_chats.json"
)

type Store struct {
	dir string
	log logx.Logger

	remMu  sync.Mutex
	pollMu sync.Mutex
	subMu  sync.Mutex
}

func Open(dir string, log logx.Logger) (*Store, error) {
	if dir == "" {
		dir = "."
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{dir: dir, log: log}, nil
}

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// readDoc decodes a whole-document JSON file. A missing, empty, or
// corrupt file yields the zero value: the caller decides whether to
// trigger a reconciliation pull.
func readDoc[T any](s *Store, name string) (T, error) {
	var out T
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return out, nil
		}
		return out, fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		s.log.Warn("corrupt local file, treating as empty", logx.String("file", name), logx.Err(err))
		var zero T
		return zero, nil
	}
	return out, nil
}

// writeDoc atomically replaces a whole-document JSON file.
func writeDoc(s *Store, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	tmp := s.path(name) + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path(name)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

// ---- Reminders ----

func (s *Store) LoadReminders() ([]record.Reminder, error) {
	s.remMu.Lock()
	defer s.remMu.Unlock()
	rs, err := readDoc[[]record.Reminder](s, remindersFile)
	if rs == nil {
		rs = []record.Reminder{}
	}
	return rs, err
}

func (s *Store) SaveReminders(rs []record.Reminder) error {
	s.remMu.Lock()
	defer s.remMu.Unlock()
	if rs == nil {
		rs = []record.Reminder{}
	}
	return writeDoc(s, remindersFile, rs)
}

// MutateReminders runs fn on the current collection and persists the
// result, all under the collection lock.
func (s *Store) MutateReminders(fn func([]record.Reminder) []record.Reminder) error {
	s.remMu.Lock()
	defer s.remMu.Unlock()
	rs, err := readDoc[[]record.Reminder](s, remindersFile)
	if err != nil {
		return err
	}
	if rs == nil {
		rs = []record.Reminder{}
	}
	out := fn(rs)
	if out == nil {
		out = []record.Reminder{}
	}
	return writeDoc(s, remindersFile, out)
}

// ---- Polls ----

func (s *Store) LoadPolls() ([]record.Poll, error) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	ps, err := readDoc[[]record.Poll](s, pollsFile)
	if ps == nil {
		ps = []record.Poll{}
	}
	return ps, err
}

func (s *Store) SavePolls(ps []record.Poll) error {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	if ps == nil {
		ps = []record.Poll{}
	}
	return writeDoc(s, pollsFile, ps)
}

func (s *Store) MutatePolls(fn func([]record.Poll) []record.Poll) error {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	ps, err := readDoc[[]record.Poll](s, pollsFile)
	if err != nil {
		return err
	}
	if ps == nil {
		ps = []record.Poll{}
	}
	out := fn(ps)
	if out == nil {
		out = []record.Poll{}
	}
	return writeDoc(s, pollsFile, out)
}

// ---- Subscribers ----

func (s *Store) LoadSubscribers() ([]int64, error) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	ids, err := readDoc[[]int64](s, subscribersFile)
	if ids == nil {
		ids = []int64{}
	}
	return ids, err
}

func (s *Store) SaveSubscribers(ids []int64) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ids == nil {
		ids = []int64{}
	}
	return writeDoc(s, subscribersFile, ids)
}

func (s *Store) MutateSubscribers(fn func([]int64) []int64) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	ids, err := readDoc[[]int64](s, subscribersFile)
	if err != nil {
		return err
	}
	if ids == nil {
		ids = []int64{}
	}
	out := fn(ids)
	if out == nil {
		out = []int64{}
	}
	return writeDoc(s, subscribersFile, out)
}
