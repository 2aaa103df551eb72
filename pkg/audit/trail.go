// Package audit implements the best-effort audit trail for store
// operations. The trail is a side channel: a failure to write an audit
// entry is logged but never blocks or fails the primary write it
// describes. Entries are hash-chained so the trail itself is
// tamper-evident, and trimmed only by an explicitly authorized retention
// policy.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oversight-labs/proofvault/pkg/canonical"
)

// ErrUnauthorizedRetention is returned when a trim is attempted without an
// explicit retention authorization.
var ErrUnauthorizedRetention = errors.New("audit trail retention requires explicit authorization")

// Entry is one immutable audit record. The field set is fixed; free-form
// context goes into Detail.
type Entry struct {
	EntryID   string    `json:"entry_id"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	TargetID  string    `json:"target_id"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	PrevHash  string    `json:"prev_hash"`
	EntryHash string    `json:"entry_hash"`
}

type entryHashInput struct {
	EntryID   string `json:"entry_id"`
	Sequence  uint64 `json:"sequence"`
	Timestamp string `json:"timestamp"`
	Operation string `json:"operation"`
	TargetID  string `json:"target_id"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail"`
	PrevHash  string `json:"prev_hash"`
}

func computeEntryHash(e *Entry) (string, error) {
	return canonical.Hash(entryHashInput{
		EntryID:   e.EntryID,
		Sequence:  e.Sequence,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Operation: e.Operation,
		TargetID:  e.TargetID,
		Outcome:   e.Outcome,
		Detail:    e.Detail,
		PrevHash:  e.PrevHash,
	})
}

// Authorization names who approved a retention trim and why. Both fields
// are required.
type Authorization struct {
	ApprovedBy string
	Reason     string
}

func (a Authorization) valid() bool {
	return a.ApprovedBy != "" && a.Reason != ""
}

// Trail records store operations. Implementations must be safe for
// concurrent use.
type Trail interface {
	// Record appends one audit entry.
	Record(ctx context.Context, operation, targetID, outcome, detail string) error
	// Entries returns all retained entries in append order.
	Entries(ctx context.Context) ([]Entry, error)
	// Trim removes entries recorded before the cutoff. It fails with
	// ErrUnauthorizedRetention unless auth is complete.
	Trim(ctx context.Context, before time.Time, auth Authorization) (int, error)
}

// NopTrail discards everything. Used when auditing is disabled.
type NopTrail struct{}

func (NopTrail) Record(context.Context, string, string, string, string) error { return nil }
func (NopTrail) Entries(context.Context) ([]Entry, error)                     { return nil, nil }
func (NopTrail) Trim(_ context.Context, _ time.Time, auth Authorization) (int, error) {
	if !auth.valid() {
		return 0, ErrUnauthorizedRetention
	}
	return 0, nil
}

// FileTrail is a hash-chained JSONL audit log.
type FileTrail struct {
	mu       sync.Mutex
	path     string
	sequence uint64
	head     string
	clock    func() time.Time
}

// NewFileTrail opens (or creates) a JSONL trail at path, restoring the
// chain head from the last retained entry.
func NewFileTrail(path string) (*FileTrail, error) {
	t := &FileTrail{path: path, head: canonical.GenesisHash, clock: time.Now}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o600) //nolint:gosec // path is operator-configured
	if err != nil {
		return nil, fmt.Errorf("audit trail: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	dec := json.NewDecoder(f)
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("audit trail: corrupt entry in %s: %w", path, err)
		}
		t.sequence = e.Sequence
		t.head = e.EntryHash
	}
	return t, nil
}

// WithClock overrides the clock for deterministic testing.
func (t *FileTrail) WithClock(clock func() time.Time) *FileTrail {
	t.clock = clock
	return t
}

func (t *FileTrail) Record(_ context.Context, operation, targetID, outcome, detail string) error {
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

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit trail: marshal entry: %w", err)
	}

	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // path is operator-configured
	if err != nil {
		return fmt.Errorf("audit trail: open for append: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit trail: append: %w", err)
	}

	t.sequence = entry.Sequence
	t.head = entry.EntryHash
	return nil
}

func (t *FileTrail) Entries(_ context.Context) ([]Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readAll()
}

func (t *FileTrail) readAll() ([]Entry, error) {
	f, err := os.Open(t.path) //nolint:gosec // path is operator-configured
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit trail: open %s: %w", t.path, err)
	}
	defer func() { _ = f.Close() }()

	var entries []Entry
	dec := json.NewDecoder(f)
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("audit trail: corrupt entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (t *FileTrail) Trim(_ context.Context, before time.Time, auth Authorization) (int, error) {
	if !auth.valid() {
		return 0, ErrUnauthorizedRetention
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	entries, err := t.readAll()
	if err != nil {
		return 0, err
	}

	var retained []Entry
	removed := 0
	for _, e := range entries {
		if e.Timestamp.Before(before) {
			removed++
			continue
		}
		retained = append(retained, e)
	}
	if removed == 0 {
		return 0, nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(t.path), "audit-trim-*")
	if err != nil {
		return 0, fmt.Errorf("audit trail: trim temp file: %w", err)
	}
	tmpName := tmp.Name()
	enc := json.NewEncoder(tmp)
	for i := range retained {
		if err := enc.Encode(&retained[i]); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
			return 0, fmt.Errorf("audit trail: rewrite retained entries: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("audit trail: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, t.path); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("audit trail: replace trail file: %w", err)
	}

	slog.Info("audit trail trimmed",
		"removed", removed,
		"approved_by", auth.ApprovedBy,
		"reason", auth.Reason)
	return removed, nil
}
