//go:build property
// +build property

// Package evidence_test contains property-based tests for seal determinism
// and seal sensitivity.
package evidence_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/oversight-labs/proofvault/pkg/evidence"
)

func baseRecord(actor, source, correlation string, tags []string) *evidence.Record {
	return &evidence.Record{
		RecordID:      uuid.MustParse("6b2b0f5e-9c1c-4bd0-b1cc-5e7a3a3e9a01"),
		SchemaVersion: evidence.SchemaVersion,
		DecisionRef:   "sha256:decision",
		OutcomeRef:    "sha256:outcome",
		Outcome:       evidence.OutcomeApproved,
		SourceSystem:  source,
		Actor:         actor,
		ActorKind:     evidence.ActorHuman,
		RecordedAt:    time.Date(2026, 2, 14, 8, 30, 0, 0, time.UTC),
		CorrelationID: correlation,
		Tags:          tags,
	}
}

// TestSealDeterminism verifies ComputeSeal is a pure function of record
// content. Property: ComputeSeal(r) == ComputeSeal(r) for any r.
func TestSealDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("seal is deterministic", prop.ForAll(
		func(actor, source, correlation string, tags []string) bool {
			r := baseRecord(actor, source, correlation, tags)
			first, err1 := r.ComputeSeal()
			second, err2 := r.ComputeSeal()
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return first == second && len(first) == 64
		},
		gen.AnyString(),
		gen.AnyString(),
		gen.AlphaString(),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestSealSensitivity verifies any actor change changes the seal.
// Property: actor1 != actor2 implies seal1 != seal2.
func TestSealSensitivity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("distinct actors produce distinct seals", prop.ForAll(
		func(actor1, actor2 string) bool {
			if actor1 == actor2 {
				return true
			}
			r1 := baseRecord(actor1, "claims-lane", "case-1", nil)
			r2 := baseRecord(actor2, "claims-lane", "case-1", nil)
			s1, err1 := r1.ComputeSeal()
			s2, err2 := r2.ComputeSeal()
			if err1 != nil || err2 != nil {
				return false
			}
			return s1 != s2
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// TestSealTagOrderInvariance verifies tag permutations seal identically.
func TestSealTagOrderInvariance(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("reversed tags seal identically", prop.ForAll(
		func(tags []string) bool {
			reversed := make([]string, len(tags))
			for i, tag := range tags {
				reversed[len(tags)-1-i] = tag
			}
			r1 := baseRecord("underwriter-7", "claims-lane", "case-1", tags)
			r2 := baseRecord("underwriter-7", "claims-lane", "case-1", reversed)
			s1, err1 := r1.ComputeSeal()
			s2, err2 := r2.ComputeSeal()
			if err1 != nil || err2 != nil {
				return false
			}
			return s1 == s2
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
