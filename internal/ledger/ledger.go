package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Ledger is the durable set of message identifiers that already received a
// reply. It is the only state standing between a visitor and a duplicate
// response, so losing it is degraded behavior, never a fatal one: an
// unreadable or corrupt snapshot starts the set empty with a warning.
type Ledger struct {
	path string
	ids  map[string]struct{}
	// order preserves insertion order so the snapshot stays diffable
	order []string
	log   zerolog.Logger
}

// Open loads the persisted snapshot at path. A missing file is not an
// error; it just means nothing has been processed yet.
func Open(path string, log zerolog.Logger) *Ledger {
	l := &Ledger{
		path:  path,
		ids:   make(map[string]struct{}),
		order: []string{},
		log:   log.With().Str("component", "ledger").Logger(),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			l.log.Warn().Err(err).Str("path", path).
				Msg("ledger unreadable, starting empty (duplicate replies possible)")
		}
		return l
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		l.log.Warn().Err(err).Str("path", path).
			Msg("ledger corrupt, starting empty (duplicate replies possible)")
		return l
	}

	for _, id := range ids {
		if _, seen := l.ids[id]; seen {
			continue
		}
		l.ids[id] = struct{}{}
		l.order = append(l.order, id)
	}
	return l
}

// Has reports whether id was already handled.
func (l *Ledger) Has(id string) bool {
	_, ok := l.ids[id]
	return ok
}

// Record adds id to the set and rewrites the snapshot. Recording an id that
// is already present is a no-op.
func (l *Ledger) Record(id string) error {
	if l.Has(id) {
		return nil
	}
	l.ids[id] = struct{}{}
	l.order = append(l.order, id)
	return l.flush()
}

// Len returns the number of recorded identifiers.
func (l *Ledger) Len() int {
	return len(l.order)
}

func (l *Ledger) flush() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}
	data, err := json.Marshal(l.order)
	if err != nil {
		return fmt.Errorf("failed to serialize ledger: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	return nil
}
