package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// Store persists scheduled reminders and the shown-alert record in
// SQLite, so reminders survive a restart and alert suppression survives
// the whole trip.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS reminders (
	tag     TEXT PRIMARY KEY,
	fire_at INTEGER NOT NULL,
	payload TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS shown_alerts (
	tag      TEXT PRIMARY KEY,
	shown_at INTEGER NOT NULL
);
`

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open notify db: %w", err)
	}
	// single connection: SQLite serializes writers anyway, and this keeps
	// the per-tag read-then-set atomic.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init notify schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close notify db: %w", err)
	}
	return nil
}

// MarkShown records that the tag fired. It reports whether this call was
// the first for the tag; repeated calls change nothing.
func (s *Store) MarkShown(ctx context.Context, tag string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO shown_alerts (tag, shown_at) VALUES (?, ?)`,
		tag, time.Now().Unix())
	if err != nil {
		return false, fmt.Errorf("mark shown %q: %w", tag, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark shown %q: %w", tag, err)
	}
	return n == 1, nil
}

func (s *Store) IsShown(ctx context.Context, tag string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM shown_alerts WHERE tag = ?`, tag).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is shown %q: %w", tag, err)
	}
	return true, nil
}

// ShownCount is used by tests to assert set cardinality.
func (s *Store) ShownCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM shown_alerts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("shown count: %w", err)
	}
	return n, nil
}

type Reminder struct {
	Tag     string
	FireAt  time.Time
	Payload Request
}

// PutReminder upserts by tag: re-scheduling replaces the previous row
// instead of duplicating it.
func (s *Store) PutReminder(ctx context.Context, r Reminder) error {
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return fmt.Errorf("encode reminder %q: %w", r.Tag, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO reminders (tag, fire_at, payload) VALUES (?, ?, ?)`,
		r.Tag, r.FireAt.Unix(), string(payload))
	if err != nil {
		return fmt.Errorf("put reminder %q: %w", r.Tag, err)
	}
	return nil
}

func (s *Store) DeleteReminder(ctx context.Context, tag string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM reminders WHERE tag = ?`, tag); err != nil {
		return fmt.Errorf("delete reminder %q: %w", tag, err)
	}
	return nil
}

// PendingReminders returns every persisted reminder, due or not.
func (s *Store) PendingReminders(ctx context.Context) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag, fire_at, payload FROM reminders ORDER BY fire_at`)
	if err != nil {
		return nil, fmt.Errorf("pending reminders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Reminder
	for rows.Next() {
		var (
			tag     string
			fireAt  int64
			payload string
		)
		if err := rows.Scan(&tag, &fireAt, &payload); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		var req Request
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			return nil, fmt.Errorf("decode reminder %q: %w", tag, err)
		}
		out = append(out, Reminder{Tag: tag, FireAt: time.Unix(fireAt, 0), Payload: req})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pending reminders: %w", err)
	}
	return out, nil
}
