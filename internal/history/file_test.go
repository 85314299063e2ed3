package history

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "remindbot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q): %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) returned a store, want nil", driver)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileStoreAppend(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.jsonl")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	at := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	entries := []Entry{
		{At: at, LocalTime: "2025-06-10 15:00:00", RecordKind: "reminder", RecordID: "1", ChatID: "42", Status: "SUCCESS", Preview: "hello"},
		{At: at, RecordKind: "poll", RecordID: "2", ChatID: "NO_CHATS", Status: "NO_RECIPIENTS"},
	}
	for _, e := range entries {
		if err := st.Append(context.Background(), e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var got []fileEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var fe fileEntry
		if err := json.Unmarshal(sc.Bytes(), &fe); err != nil {
			t.Fatalf("line not valid JSON: %v", err)
		}
		got = append(got, fe)
	}
	if len(got) != 2 {
		t.Fatalf("got %d lines, want 2", len(got))
	}
	if got[0].At != "2025-06-10T12:00:00Z" || got[0].ChatID != "42" || got[0].Status != "SUCCESS" {
		t.Fatalf("first line = %+v", got[0])
	}
	if got[1].ChatID != "NO_CHATS" || got[1].LocalTime != "" {
		t.Fatalf("second line = %+v", got[1])
	}
}

func TestFileStoreAppendAfterClose(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "h.jsonl")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := st.Append(context.Background(), Entry{Status: "SUCCESS"}); err == nil {
		t.Fatal("expected error appending to closed store")
	}
	// Close is idempotent.
	if err := st.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
