package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oversight-labs/proofvault/pkg/canonical"

	_ "modernc.org/sqlite"
)

// SQLiteTrail persists audit entries to a sqlite table, queryable long
// after process restarts.
type SQLiteTrail struct {
	mu       sync.Mutex
	db       *sql.DB
	sequence uint64
	head     string
	clock    func() time.Time
}

// OpenSQLiteTrail opens the sqlite database at path and migrates the trail
// schema.
func OpenSQLiteTrail(path string) (*SQLiteTrail, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit trail: open sqlite %s: %w", path, err)
	}
	return NewSQLiteTrail(db)
}

// NewSQLiteTrail wraps an existing database handle, migrating the schema
// and restoring the chain head.
func NewSQLiteTrail(db *sql.DB) (*SQLiteTrail, error) {
	t := &SQLiteTrail{db: db, head: canonical.GenesisHash, clock: time.Now}
	if err := t.migrate(); err != nil {
		return nil, err
	}
	if err := t.restoreHead(); err != nil {
		return nil, err
	}
	return t, nil
}

// WithClock overrides the clock for deterministic testing.
func (t *SQLiteTrail) WithClock(clock func() time.Time) *SQLiteTrail {
	t.clock = clock
	return t
}

func (t *SQLiteTrail) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_trail (
		entry_id   TEXT PRIMARY KEY,
		sequence   INTEGER NOT NULL,
		timestamp  DATETIME NOT NULL,
		operation  TEXT NOT NULL,
		target_id  TEXT NOT NULL,
		outcome    TEXT NOT NULL,
		detail     TEXT,
		prev_hash  TEXT NOT NULL,
		entry_hash TEXT NOT NULL
	);`
	if _, err := t.db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("audit trail: migrate: %w", err)
	}
	return nil
}

func (t *SQLiteTrail) restoreHead() error {
	row := t.db.QueryRowContext(context.Background(),
		`SELECT sequence, entry_hash FROM audit_trail ORDER BY sequence DESC LIMIT 1`)
	var seq uint64
	var head string
	switch err := row.Scan(&seq, &head); err {
	case nil:
		t.sequence = seq
		t.head = head
		return nil
	case sql.ErrNoRows:
		return nil
	default:
		return fmt.Errorf("audit trail: restore head: %w", err)
	}
}

func (t *SQLiteTrail) Record(ctx context.Context, operation, targetID, outcome, detail string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := Entry{
		EntryID:   uuid.New().String(),
		Sequence:  t.sequence + 1,
		Timestamp: t.clock().UTC(),
		Operation: operation,
		TargetID:  targetID,
		Outcome:   outcome,
		Detail:    detail,
		PrevHash:  t.head,
	}
	hash, err := computeEntryHash(&entry)
	if err != nil {
		return fmt.Errorf("audit trail: hash entry: %w", err)
	}
	entry.EntryHash = hash

	_, err = t.db.ExecContext(ctx,
		`INSERT INTO audit_trail (entry_id, sequence, timestamp, operation, target_id, outcome, detail, prev_hash, entry_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.EntryID, entry.Sequence, entry.Timestamp.Format(time.RFC3339Nano),
		entry.Operation, entry.TargetID, entry.Outcome, entry.Detail,
		entry.PrevHash, entry.EntryHash,
	)
	if err != nil {
		return fmt.Errorf("audit trail: insert entry: %w", err)
	}

	t.sequence = entry.Sequence
	t.head = entry.EntryHash
	return nil
}

func (t *SQLiteTrail) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT entry_id, sequence, timestamp, operation, target_id, outcome, detail, prev_hash, entry_hash
		 FROM audit_trail ORDER BY sequence ASC`)
	if err != nil {
		return nil, fmt.Errorf("audit trail: query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts string
		var detail sql.NullString
		if err := rows.Scan(&e.EntryID, &e.Sequence, &ts, &e.Operation, &e.TargetID, &e.Outcome, &detail, &e.PrevHash, &e.EntryHash); err != nil {
			return nil, fmt.Errorf("audit trail: scan entry: %w", err)
		}
		e.Detail = detail.String
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("audit trail: parse timestamp %q: %w", ts, err)
		}
		e.Timestamp = parsed
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit trail: iterate entries: %w", err)
	}
	return entries, nil
}

func (t *SQLiteTrail) Trim(ctx context.Context, before time.Time, auth Authorization) (int, error) {
	if !auth.valid() {
		return 0, ErrUnauthorizedRetention
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	res, err := t.db.ExecContext(ctx,
		`DELETE FROM audit_trail WHERE timestamp < ?`,
		before.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("audit trail: trim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("audit trail: trim row count: %w", err)
	}
	return int(n), nil
}

// Close closes the underlying database handle.
func (t *SQLiteTrail) Close() error {
	return t.db.Close()
}
