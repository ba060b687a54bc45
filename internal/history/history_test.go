package history

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddAndGetRecent(t *testing.T) {
	s := newTestStore(t)

	rec := &Record{
		MessageID:    "<msg-1@relay>",
		VisitorEmail: "jane@example.com",
		VisitorName:  "Jane Doe",
		Subject:      "New submission",
		Status:       StatusSent,
		SentAt:       time.Now(),
	}
	if err := s.Add(rec); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if rec.ID == 0 {
		t.Error("Add should backfill the row id")
	}

	records, err := s.GetRecent(10)
	if err != nil {
		t.Fatalf("GetRecent: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	got := records[0]
	if got.MessageID != "<msg-1@relay>" || got.VisitorEmail != "jane@example.com" || got.Status != StatusSent {
		t.Errorf("unexpected record: %+v", got)
	}
}

func TestGetByMessageID(t *testing.T) {
	s := newTestStore(t)

	for _, st := range []Status{StatusFailed, StatusSent} {
		if err := s.Add(&Record{MessageID: "<msg-1@relay>", Status: st}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := s.Add(&Record{MessageID: "<msg-2@relay>", Status: StatusSkipped}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	records, err := s.GetByMessageID("<msg-1@relay>")
	if err != nil {
		t.Fatalf("GetByMessageID: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Status != StatusFailed || records[1].Status != StatusSent {
		t.Errorf("records out of order: %+v", records)
	}
}

func TestGetStats(t *testing.T) {
	s := newTestStore(t)

	seed := []Record{
		{MessageID: "<a>", Status: StatusSent},
		{MessageID: "<b>", Status: StatusSent, Fallback: true},
		{MessageID: "<c>", Status: StatusFailed, Error: "smtp down"},
		{MessageID: "<d>", Status: StatusSkipped},
	}
	for i := range seed {
		if err := s.Add(&seed[i]); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	stats, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	want := Stats{Total: 4, Sent: 2, Failed: 1, Skipped: 1, Fallbacks: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
}

func TestEmptyStoreStats(t *testing.T) {
	s := newTestStore(t)

	stats, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats != (Stats{}) {
		t.Errorf("stats = %+v, want zero", stats)
	}
}
