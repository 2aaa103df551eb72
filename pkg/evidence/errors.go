package evidence

import (
	"fmt"

	"github.com/google/uuid"
)

// NotFoundError reports a lookup of a record id the store has never seen.
type NotFoundError struct {
	RecordID uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("evidence record %s not found", e.RecordID)
}

// DuplicateError reports an attempt to create a record under an id that
// already exists. Record ids are never reused.
type DuplicateError struct {
	RecordID uuid.UUID
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate record id: %s already exists and record ids are never reused", e.RecordID)
}

// IntegrityError reports a dangling reference detected at write time: an
// artifact or lineage reference that does not resolve. References are never
// dropped silently.
type IntegrityError struct {
	RecordID uuid.UUID
	Ref      string
	Reason   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("referential integrity violation for record %s: %s (ref %q)", e.RecordID, e.Reason, e.Ref)
}

// CollisionError reports two records with differing content producing the
// same seal. This must never be accepted silently.
type CollisionError struct {
	Seal       string
	ExistingID uuid.UUID
	NewID      uuid.UUID
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("seal collision: records %s and %s both hash to %s with different content", e.ExistingID, e.NewID, e.Seal)
}

// TamperError reports a stored record whose recomputed seal no longer
// matches the seal frozen at write time.
type TamperError struct {
	RecordID uuid.UUID
	Expected string
	Actual   string
}

func (e *TamperError) Error() string {
	return fmt.Sprintf("tamper detected: record %s seal mismatch (stored %s, recomputed %s)", e.RecordID, e.Expected, e.Actual)
}

// ImmutabilityError reports any attempt to update, delete, or otherwise
// mutate a stored record or artifact. These operations exist to fail
// loudly, never to no-op. Target is the record id or artifact key involved.
type ImmutabilityError struct {
	Target    string
	Operation string
}

func (e *ImmutabilityError) Error() string {
	return fmt.Sprintf("immutability violation: %s attempted on %s; evidence is append-only", e.Operation, e.Target)
}
