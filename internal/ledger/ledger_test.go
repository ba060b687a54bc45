package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func tempPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "processed_emails.json")
}

func TestMissingFileStartsEmpty(t *testing.T) {
	l := Open(tempPath(t), zerolog.Nop())
	if l.Len() != 0 {
		t.Errorf("Len() = %d, want 0", l.Len())
	}
	if l.Has("<msg-1@relay>") {
		t.Error("empty ledger should not contain anything")
	}
}

func TestRecordThenHas(t *testing.T) {
	l := Open(tempPath(t), zerolog.Nop())

	if err := l.Record("<msg-1@relay>"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !l.Has("<msg-1@relay>") {
		t.Error("recorded id not found")
	}
	if l.Has("<msg-2@relay>") {
		t.Error("unrecorded id reported present")
	}
}

func TestRecordIsIdempotent(t *testing.T) {
	path := tempPath(t)
	l := Open(path, zerolog.Nop())

	if err := l.Record("<msg-1@relay>"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Record("<msg-1@relay>"); err != nil {
		t.Fatalf("second Record: %v", err)
	}
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		t.Fatalf("snapshot not a JSON array: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("snapshot has %d entries, want 1", len(ids))
	}
}

func TestSnapshotSurvivesRestart(t *testing.T) {
	path := tempPath(t)

	l := Open(path, zerolog.Nop())
	for _, id := range []string{"<a@relay>", "<b@relay>", "<c@relay>"} {
		if err := l.Record(id); err != nil {
			t.Fatalf("Record(%q): %v", id, err)
		}
	}

	reloaded := Open(path, zerolog.Nop())
	if reloaded.Len() != 3 {
		t.Errorf("reloaded Len() = %d, want 3", reloaded.Len())
	}
	for _, id := range []string{"<a@relay>", "<b@relay>", "<c@relay>"} {
		if !reloaded.Has(id) {
			t.Errorf("reloaded ledger missing %q", id)
		}
	}
}

func TestCorruptSnapshotStartsEmpty(t *testing.T) {
	path := tempPath(t)
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	l := Open(path, zerolog.Nop())
	if l.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after corrupt load", l.Len())
	}

	// Recording still works and repairs the snapshot
	if err := l.Record("<msg-1@relay>"); err != nil {
		t.Fatalf("Record after corrupt load: %v", err)
	}
	if !Open(path, zerolog.Nop()).Has("<msg-1@relay>") {
		t.Error("repaired snapshot should contain the new id")
	}
}

func TestSnapshotDeduplicatedOnLoad(t *testing.T) {
	path := tempPath(t)
	if err := os.WriteFile(path, []byte(`["<a@relay>","<a@relay>","<b@relay>"]`), 0600); err != nil {
		t.Fatal(err)
	}

	l := Open(path, zerolog.Nop())
	if l.Len() != 2 {
		t.Errorf("Len() = %d, want 2", l.Len())
	}
}
