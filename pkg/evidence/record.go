// Package evidence implements the append-only evidence store: immutable,
// hash-sealed decision records plus a content-addressed artifact blob store.
//
// Records are sealed with a deterministic content hash at write time. The
// seal is computed ONCE by the store and never recomputed to mean something
// different; any later recomputation that disagrees with the stored seal is
// tamper evidence, surfaced as a TamperError rather than returned data.
package evidence

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/oversight-labs/proofvault/pkg/canonical"
)

// SchemaVersion is the current persisted record format version.
const SchemaVersion = "1.0.0"

// Outcome is the decision outcome recorded by an upstream governance lane.
type Outcome string

const (
	OutcomeApproved  Outcome = "approved"
	OutcomeRejected  Outcome = "rejected"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeEscalated Outcome = "escalated"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeApproved, OutcomeRejected, OutcomeDeferred, OutcomeEscalated:
		return true
	}
	return false
}

// ActorKind classifies who produced the decision.
type ActorKind string

const (
	ActorAgent  ActorKind = "agent"
	ActorHuman  ActorKind = "human"
	ActorSystem ActorKind = "system"
)

// Valid reports whether k is a known actor kind.
func (k ActorKind) Valid() bool {
	switch k {
	case ActorAgent, ActorHuman, ActorSystem:
		return true
	}
	return false
}

// Annotations is the fixed, reviewed annotation schema. An open-ended map
// here would make seal inputs unreviewable; new keys go through this struct.
type Annotations struct {
	Jurisdiction string `json:"jurisdiction,omitempty"`
	PolicyRef    string `json:"policy_ref,omitempty"`
	Ticket       string `json:"ticket,omitempty"`
}

// Record is an immutable, hash-sealed evidence record.
//
// Lineage via PreviousRecordID is pure provenance: a record referenced by a
// newer one remains independently valid and queryable.
type Record struct {
	RecordID      uuid.UUID  `json:"record_id"`
	SchemaVersion string     `json:"schema_version"`
	InputRefs     []string   `json:"input_refs"`
	DecisionRef   string     `json:"decision_ref"`
	OutcomeRef    string     `json:"outcome_ref"`
	Outcome       Outcome    `json:"outcome"`
	SourceSystem  string     `json:"source_system"`
	Actor         string     `json:"actor"`
	ActorKind     ActorKind  `json:"actor_kind"`
	RecordedAt    time.Time  `json:"recorded_at"`

	PreviousRecordID *uuid.UUID  `json:"previous_record_id,omitempty"`
	CorrelationID    string      `json:"correlation_id,omitempty"`
	Annotations      Annotations `json:"annotations,omitempty"`
	Tags             []string    `json:"tags,omitempty"`

	Seal          string `json:"seal"`
	SealAlgorithm string `json:"seal_algorithm"`
}

// sealInput mirrors Record minus the seal fields. The seal covers every
// other field; InputRefs keep caller order, Tags are sorted.
type sealInput struct {
	RecordID         uuid.UUID   `json:"record_id"`
	SchemaVersion    string      `json:"schema_version"`
	InputRefs        []string    `json:"input_refs"`
	DecisionRef      string      `json:"decision_ref"`
	OutcomeRef       string      `json:"outcome_ref"`
	Outcome          Outcome     `json:"outcome"`
	SourceSystem     string      `json:"source_system"`
	Actor            string      `json:"actor"`
	ActorKind        ActorKind   `json:"actor_kind"`
	RecordedAt       string      `json:"recorded_at"`
	PreviousRecordID *uuid.UUID  `json:"previous_record_id"`
	CorrelationID    string      `json:"correlation_id"`
	Annotations      Annotations `json:"annotations"`
	Tags             []string    `json:"tags"`
}

// ComputeSeal returns the deterministic content hash over all fields of r
// except the seal itself.
func (r *Record) ComputeSeal() (string, error) {
	tags := append([]string(nil), r.Tags...)
	sort.Strings(tags)

	in := sealInput{
		RecordID:         r.RecordID,
		SchemaVersion:    r.SchemaVersion,
		InputRefs:        r.InputRefs,
		DecisionRef:      r.DecisionRef,
		OutcomeRef:       r.OutcomeRef,
		Outcome:          r.Outcome,
		SourceSystem:     r.SourceSystem,
		Actor:            r.Actor,
		ActorKind:        r.ActorKind,
		RecordedAt:       r.RecordedAt.UTC().Format(time.RFC3339Nano),
		PreviousRecordID: r.PreviousRecordID,
		CorrelationID:    r.CorrelationID,
		Annotations:      r.Annotations,
		Tags:             tags,
	}
	if in.InputRefs == nil {
		in.InputRefs = []string{}
	}
	if in.Tags == nil {
		in.Tags = []string{}
	}
	return canonical.Hash(in)
}

// VerifySeal recomputes the seal and compares it to the stored one.
func (r *Record) VerifySeal() (bool, error) {
	computed, err := r.ComputeSeal()
	if err != nil {
		return false, err
	}
	return computed == r.Seal, nil
}

// Clone returns a deep copy so callers can never mutate stored state.
func (r *Record) Clone() *Record {
	out := *r
	out.InputRefs = append([]string(nil), r.InputRefs...)
	out.Tags = append([]string(nil), r.Tags...)
	if r.PreviousRecordID != nil {
		prev := *r.PreviousRecordID
		out.PreviousRecordID = &prev
	}
	return &out
}

// Draft carries the caller-supplied fields for CreateRecord. RecordedAt and
// the seal are always assigned by the store; RecordID may be pinned by the
// caller (idempotence across lanes) or left zero for store assignment.
type Draft struct {
	RecordID         uuid.UUID
	InputRefs        []string
	DecisionRef      string
	OutcomeRef       string
	Outcome          Outcome
	SourceSystem     string
	Actor            string
	ActorKind        ActorKind
	PreviousRecordID *uuid.UUID
	CorrelationID    string
	Annotations      Annotations
	Tags             []string
}
