package store

import (
	"os"
	"path/filepath"
	"testing"

	"remindbot/internal/record"
	logx "remindbot/pkg/logx"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestRemindersRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTest(t)

	in := []record.Reminder{
		{ID: "1", Kind: record.KindOnce, Text: "standup", DateTime: "2025-06-10 10:00"},
		{ID: "2", Kind: record.KindDaily, Text: "lunch", TimeOfDay: "13:00"},
	}
	if err := s.SaveReminders(in); err != nil {
		t.Fatalf("SaveReminders: %v", err)
	}

	out, err := s.LoadReminders()
	if err != nil {
		t.Fatalf("LoadReminders: %v", err)
	}
	if len(out) != 2 || out[0].ID != "1" || out[1].TimeOfDay != "13:00" {
		t.Fatalf("unexpected round-trip result: %+v", out)
	}
}

func TestLoadMissingFilesYieldEmpty(t *testing.T) {
	t.Parallel()
	s := openTest(t)

	rs, err := s.LoadReminders()
	if err != nil || len(rs) != 0 {
		t.Fatalf("LoadReminders on empty dir: %v %v", rs, err)
	}
	ps, err := s.LoadPolls()
	if err != nil || len(ps) != 0 {
		t.Fatalf("LoadPolls on empty dir: %v %v", ps, err)
	}
	ids, err := s.LoadSubscribers()
	if err != nil || len(ids) != 0 {
		t.Fatalf("LoadSubscribers on empty dir: %v %v", ids, err)
	}
}

func TestCorruptFileTreatedAsEmpty(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := Open(dir, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "polls.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	ps, err := s.LoadPolls()
	if err != nil {
		t.Fatalf("LoadPolls on corrupt file: %v", err)
	}
	if len(ps) != 0 {
		t.Fatalf("expected empty collection, got %d", len(ps))
	}
}

func TestMutateSubscribers(t *testing.T) {
	t.Parallel()
	s := openTest(t)

	if err := s.MutateSubscribers(func(ids []int64) []int64 {
		return append(ids, 100, 200)
	}); err != nil {
		t.Fatalf("MutateSubscribers add: %v", err)
	}
	if err := s.MutateSubscribers(func(ids []int64) []int64 {
		out := ids[:0]
		for _, id := range ids {
			if id != 100 {
				out = append(out, id)
			}
		}
		return out
	}); err != nil {
		t.Fatalf("MutateSubscribers remove: %v", err)
	}

	ids, err := s.LoadSubscribers()
	if err != nil {
		t.Fatalf("LoadSubscribers: %v", err)
	}
	if len(ids) != 1 || ids[0] != 200 {
		t.Fatalf("unexpected subscriber set: %v", ids)
	}
}

func TestMutateNilResultPersistsEmptyList(t *testing.T) {
	t.Parallel()
	s := openTest(t)

	if err := s.SavePolls([]record.Poll{{ID: "1", Kind: record.KindOnce}}); err != nil {
		t.Fatalf("SavePolls: %v", err)
	}
	if err := s.MutatePolls(func([]record.Poll) []record.Poll { return nil }); err != nil {
		t.Fatalf("MutatePolls: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, "polls.json"))
	if err != nil {
		t.Fatalf("read polls.json: %v", err)
	}
	if string(data) != "[]" {
		t.Fatalf("expected empty JSON list, got %q", data)
	}
}
