package journal

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewSQLiteStore_EmptyPath(t *testing.T) {
	if _, err := NewSQLiteStore("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestNewPostgresStore_EmptyDSN(t *testing.T) {
	_, err := NewPostgresStore("   ")
	if err == nil || !strings.Contains(err.Error(), "empty postgres dsn") {
		t.Fatalf("error = %v, want contains %q", err, "empty postgres dsn")
	}
}

func TestSQLiteStore_ReopenKeepsEntries(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "journal.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Record(Entry{VideoID: "v", Result: "available"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	_ = s.Close()

	s, err = NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	resp, err := s.List(ListRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("items=%d, want 1", len(resp.Items))
	}
}

func TestSQLiteStore_Retention(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := NewSQLiteStore(
		filepath.Join(t.TempDir(), "journal.db"),
		WithSQLiteNowFunc(func() time.Time { return now }),
		WithSQLiteRetention(time.Hour, time.Minute),
	)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.Record(Entry{VideoID: "old", Result: "available"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	now = now.Add(2 * time.Hour)
	if err := s.Record(Entry{VideoID: "new", Result: "available"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	resp, err := s.List(ListRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].VideoID != "new" {
		t.Fatalf("items=%+v, want only new", resp.Items)
	}
}

func TestMemoryStore_MaxEntries(t *testing.T) {
	s := NewMemoryStore(WithMaxEntries(2))
	for _, v := range []string{"a", "b", "c"} {
		if err := s.Record(Entry{VideoID: v, Result: "available"}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	resp, _ := s.List(ListRequest{})
	if len(resp.Items) != 2 {
		t.Fatalf("items=%d, want 2", len(resp.Items))
	}
	for _, e := range resp.Items {
		if e.VideoID == "a" {
			t.Fatalf("oldest entry was not evicted")
		}
	}
}
