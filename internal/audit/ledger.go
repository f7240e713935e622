package audit

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// Ledger is a secondary, queryable record of the events the audit Trail
// emits (order submissions, polls and cancels, risk denials, trailing-level
// updates, and the open-fill and close-fill state transitions the executor
// reports; other moves between states are not recorded), kept purely for post-hoc
// inspection (`status`, reconciliation diagnostics, spec.md §8 Scenario D).
// It is never the source of truth for a play's current state — the
// filesystem-backed Play Store remains authoritative; Ledger only answers
// "what happened" queries after the fact.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens (creating if absent) a SQLite-backed ledger at path.
func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit ledger %s: %w", path, err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	at TEXT NOT NULL,
	play_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	detail TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_play_id ON events(play_id);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing audit ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Record appends one immutable event row.
func (l *Ledger) Record(playID, kind, detail string) error {
	_, err := l.db.Exec(
		"INSERT INTO events (at, play_id, kind, detail) VALUES (?, ?, ?, ?)",
		time.Now().UTC().Format(time.RFC3339Nano), playID, kind, detail,
	)
	return err
}

// EventRow is one row read back from the ledger.
type EventRow struct {
	At     string
	PlayID string
	Kind   string
	Detail string
}

// ForPlay returns every recorded event for a single play, oldest first.
func (l *Ledger) ForPlay(playID string) ([]EventRow, error) {
	rows, err := l.db.Query("SELECT at, play_id, kind, detail FROM events WHERE play_id = ? ORDER BY id ASC", playID)
	if err != nil {
		return nil, fmt.Errorf("querying audit ledger for play %s: %w", playID, err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(&e.At, &e.PlayID, &e.Kind, &e.Detail); err != nil {
			return nil, fmt.Errorf("scanning audit ledger row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}
