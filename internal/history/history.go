package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Status string

const (
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Record is one processed (or attempted) submission. The ledger answers
// "did we already reply"; this store answers "what happened", for the
// status command and the web API.
type Record struct {
	ID           int64
	MessageID    string
	VisitorEmail string
	VisitorName  string
	Subject      string
	Status       Status
	Fallback     bool // reply came from the fallback template
	Error        string
	SentAt       time.Time
	CreatedAt    time.Time
}

// Stats summarizes reply outcomes.
type Stats struct {
	Total     int
	Sent      int
	Failed    int
	Skipped   int
	Fallbacks int
}

type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS replies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL,
		visitor_email TEXT,
		visitor_name TEXT,
		subject TEXT,
		status TEXT NOT NULL,
		fallback INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		sent_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_replies_message_id ON replies(message_id);
	CREATE INDEX IF NOT EXISTS idx_replies_status ON replies(status);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate history database: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Add(r *Record) error {
	var sentAt interface{}
	if !r.SentAt.IsZero() {
		sentAt = r.SentAt
	}
	res, err := s.db.Exec(`
		INSERT INTO replies (message_id, visitor_email, visitor_name, subject, status, fallback, error, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.MessageID, r.VisitorEmail, r.VisitorName, r.Subject, r.Status, r.Fallback, r.Error, sentAt)
	if err != nil {
		return fmt.Errorf("failed to add history record: %w", err)
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

// scanRecord handles nullable columns when scanning a row
func scanRecord(scanner interface{ Scan(...any) error }) (*Record, error) {
	var r Record
	var email, name, subject, errStr sql.NullString
	var sentAt, createdAt sql.NullTime
	var fallback int

	err := scanner.Scan(&r.ID, &r.MessageID, &email, &name, &subject,
		&r.Status, &fallback, &errStr, &sentAt, &createdAt)
	if err != nil {
		return nil, err
	}

	r.VisitorEmail = email.String
	r.VisitorName = name.String
	r.Subject = subject.String
	r.Error = errStr.String
	r.Fallback = fallback != 0
	r.SentAt = sentAt.Time
	r.CreatedAt = createdAt.Time
	return &r, nil
}

const recordColumns = `id, message_id, visitor_email, visitor_name, subject, status, fallback, error, sent_at, created_at`

// GetRecent returns the most recent records, newest first.
func (s *Store) GetRecent(limit int) ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT `+recordColumns+` FROM replies
		ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// GetByMessageID returns every attempt for one message, oldest first.
func (s *Store) GetByMessageID(messageID string) ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT `+recordColumns+` FROM replies
		WHERE message_id = ? ORDER BY id ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

func (s *Store) GetStats() (Stats, error) {
	var stats Stats
	err := s.db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'sent' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'skipped' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN fallback != 0 THEN 1 ELSE 0 END), 0)
		FROM replies`).Scan(&stats.Total, &stats.Sent, &stats.Failed, &stats.Skipped, &stats.Fallbacks)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to query history stats: %w", err)
	}
	return stats, nil
}

func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "history.db"
	}
	return filepath.Join(home, ".formecho", "history.db")
}
