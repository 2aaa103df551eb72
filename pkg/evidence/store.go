package evidence

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/oversight-labs/proofvault/pkg/audit"
	"github.com/oversight-labs/proofvault/pkg/canonical"
	"github.com/oversight-labs/proofvault/pkg/hashchain"
	"github.com/oversight-labs/proofvault/pkg/observability"
)

// schemaRange is the range of persisted schema versions this build can load.
var schemaRange = func() *semver.Constraints {
	c, err := semver.NewConstraint(">=1.0.0 <2.0.0")
	if err != nil {
		panic(err)
	}
	return c
}()

func checkSchemaVersion(v string) error {
	ver, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("parse schema version %q: %w", v, err)
	}
	if !schemaRange.Check(ver) {
		return fmt.Errorf("schema version %s outside supported range %s", v, schemaRange)
	}
	return nil
}

// chainEventRecordCreated is the only event type the store appends today.
const chainEventRecordCreated = "record_created"

// Options configures a Store. The zero value gives an in-memory store with
// a no-op audit trail and the wall clock.
type Options struct {
	// Path is where the store snapshot is persisted. Empty means in-memory.
	Path string
	// ArtifactDir backs the artifact blob store. Empty means in-memory.
	ArtifactDir string
	Trail       audit.Trail
	Clock       func() time.Time
	Logger      *slog.Logger
	Metrics     *observability.CoreMetrics
}

// Store is the append-only evidence store. Records can be created and read;
// they can never be updated, deleted, or re-sealed. All mutations serialize
// on a single write lock so chain order, seal index, and snapshot stay
// consistent with each other.
type Store struct {
	mu       sync.RWMutex
	records  map[uuid.UUID]*Record
	order    []uuid.UUID
	bySeal   map[string]uuid.UUID
	sequence uint64

	artifacts *ArtifactStore
	chain     *hashchain.Engine
	trail     audit.Trail
	path      string
	clock     func() time.Time
	logger    *slog.Logger
	metrics   *observability.CoreMetrics
}

// NewStore builds a store from opts and loads the snapshot at opts.Path if
// one exists. Loading fails closed: a record whose seal does not verify
// aborts the load with a TamperError.
func NewStore(opts Options) (*Store, error) {
	artifacts, err := NewArtifactStore(opts.ArtifactDir)
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}
	s := &Store{
		records:   make(map[uuid.UUID]*Record),
		bySeal:    make(map[string]uuid.UUID),
		artifacts: artifacts,
		chain:     hashchain.NewEngine(),
		trail:     opts.Trail,
		path:      opts.Path,
		clock:     opts.Clock,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
	if s.trail == nil {
		s.trail = audit.NopTrail{}
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.chain = s.chain.WithClock(s.clock)
	if s.path != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Artifacts exposes the content-addressed blob store.
func (s *Store) Artifacts() *ArtifactStore { return s.artifacts }

// StoreArtifact writes content-addressed bytes into the artifact store and
// records the write on the audit trail. Storing bytes that already exist is
// an idempotent no-op reported as ArtifactDuplicate.
func (s *Store) StoreArtifact(ctx context.Context, data []byte) (string, StoreOutcome, error) {
	key, outcome, err := s.artifacts.Store(data)
	if err != nil {
		s.audited(ctx, "store_artifact", key, "failed", err.Error())
		return key, outcome, err
	}
	s.audited(ctx, "store_artifact", key, "ok", string(outcome))
	return key, outcome, nil
}

// Chain exposes the hash-chain engine for verification and merkle roots.
func (s *Store) Chain() *hashchain.Engine { return s.chain }

// chainScope groups records under their correlation id when one is set,
// otherwise each record gets its own single-block chain.
func chainScope(r *Record) string {
	if r.CorrelationID != "" {
		return r.CorrelationID
	}
	return r.RecordID.String()
}

// audited records op on the side-channel trail. Trail failures never fail
// the evidence operation; they are logged and dropped.
func (s *Store) audited(ctx context.Context, op, targetID, outcome, detail string) {
	if err := s.trail.Record(ctx, op, targetID, outcome, detail); err != nil {
		s.logger.Warn("audit trail write failed", "operation", op, "target_id", targetID, "error", err)
	}
}

// CreateRecord validates draft, seals it, appends it to the store and the
// hash chain, and persists the snapshot. The returned record is a copy.
//
// Every artifact reference in the draft must already exist in the artifact
// store, and PreviousRecordID must name an existing record; either miss is
// an IntegrityError and nothing is written.
func (s *Store) CreateRecord(ctx context.Context, draft Draft) (*Record, error) {
	if !draft.Outcome.Valid() {
		return nil, fmt.Errorf("create record: unknown outcome %q", draft.Outcome)
	}
	if !draft.ActorKind.Valid() {
		return nil, fmt.Errorf("create record: unknown actor kind %q", draft.ActorKind)
	}
	if draft.SourceSystem == "" {
		return nil, fmt.Errorf("create record: source_system is required")
	}
	if draft.Actor == "" {
		return nil, fmt.Errorf("create record: actor is required")
	}
	if draft.DecisionRef == "" || draft.OutcomeRef == "" {
		return nil, fmt.Errorf("create record: decision_ref and outcome_ref are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := draft.RecordID
	if id == uuid.Nil {
		id = uuid.New()
	} else if _, exists := s.records[id]; exists {
		s.auditedLocked(ctx, "create_record", id.String(), "rejected", "duplicate record id")
		return nil, &DuplicateError{RecordID: id}
	}

	for _, ref := range draft.InputRefs {
		if !s.artifacts.Has(ref) {
			return nil, &IntegrityError{RecordID: id, Ref: ref, Reason: "input artifact not in store"}
		}
	}
	if !s.artifacts.Has(draft.DecisionRef) {
		return nil, &IntegrityError{RecordID: id, Ref: draft.DecisionRef, Reason: "decision artifact not in store"}
	}
	if !s.artifacts.Has(draft.OutcomeRef) {
		return nil, &IntegrityError{RecordID: id, Ref: draft.OutcomeRef, Reason: "outcome artifact not in store"}
	}
	if draft.PreviousRecordID != nil {
		if _, ok := s.records[*draft.PreviousRecordID]; !ok {
			return nil, &IntegrityError{
				RecordID: id,
				Ref:      draft.PreviousRecordID.String(),
				Reason:   "previous record does not exist",
			}
		}
	}

	rec := &Record{
		RecordID:         id,
		SchemaVersion:    SchemaVersion,
		InputRefs:        append([]string(nil), draft.InputRefs...),
		DecisionRef:      draft.DecisionRef,
		OutcomeRef:       draft.OutcomeRef,
		Outcome:          draft.Outcome,
		SourceSystem:     draft.SourceSystem,
		Actor:            draft.Actor,
		ActorKind:        draft.ActorKind,
		RecordedAt:       s.clock().UTC(),
		PreviousRecordID: draft.PreviousRecordID,
		CorrelationID:    draft.CorrelationID,
		Annotations:      draft.Annotations,
		Tags:             append([]string(nil), draft.Tags...),
		SealAlgorithm:    canonical.SealAlgorithm,
	}
	seal, err := rec.ComputeSeal()
	if err != nil {
		return nil, fmt.Errorf("create record: compute seal: %w", err)
	}
	rec.Seal = seal

	if existing, ok := s.bySeal[seal]; ok {
		s.auditedLocked(ctx, "create_record", id.String(), "rejected", "seal collision with "+existing.String())
		return nil, &CollisionError{Seal: seal, ExistingID: existing, NewID: id}
	}

	if _, err := s.chain.Append(chainScope(rec), chainEventRecordCreated, id.String(), rec); err != nil {
		return nil, fmt.Errorf("create record: chain append: %w", err)
	}

	s.records[id] = rec
	s.order = append(s.order, id)
	s.bySeal[seal] = id
	s.sequence++

	if err := s.persistLocked(); err != nil {
		// Unwind every in-memory mutation so a create that reported
		// failure is never served or flushed by a later write.
		delete(s.records, id)
		s.order = s.order[:len(s.order)-1]
		delete(s.bySeal, seal)
		s.sequence--
		s.chain.DropNewest(chainScope(rec))
		s.auditedLocked(ctx, "create_record", id.String(), "failed", "persist: "+err.Error())
		return nil, fmt.Errorf("create record: persist: %w", err)
	}

	s.auditedLocked(ctx, "create_record", id.String(), "ok", "seal="+seal)
	s.metrics.RecordCreated(ctx, rec.SourceSystem)
	s.logger.Info("evidence record created",
		"record_id", id, "source_system", rec.SourceSystem, "outcome", rec.Outcome, "seal", seal)
	return rec.Clone(), nil
}

// auditedLocked is audited for callers already holding s.mu. The trail has
// its own lock, so this is just a naming convention for call sites.
func (s *Store) auditedLocked(ctx context.Context, op, targetID, outcome, detail string) {
	s.audited(ctx, op, targetID, outcome, detail)
}

// Get returns a copy of the record with id. With verify set, the seal is
// recomputed first and a mismatch returns a TamperError instead of data.
func (s *Store) Get(ctx context.Context, id uuid.UUID, verify bool) (*Record, error) {
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{RecordID: id}
	}
	if verify {
		computed, err := rec.ComputeSeal()
		if err != nil {
			return nil, fmt.Errorf("get record: compute seal: %w", err)
		}
		if computed != rec.Seal {
			s.audited(ctx, "get_record", id.String(), "tampered", "seal mismatch")
			s.metrics.TamperDetected(ctx)
			s.logger.Error("tampered evidence record detected",
				"record_id", id, "expected", rec.Seal, "actual", computed)
			return nil, &TamperError{RecordID: id, Expected: rec.Seal, Actual: computed}
		}
	}
	return rec.Clone(), nil
}

// Filter selects records for List. Zero-valued fields match everything.
type Filter struct {
	SourceSystem  string
	Outcome       Outcome
	CorrelationID string
	Actor         string
	Limit         int
	Offset        int
	// Verify recomputes each candidate's seal; a mismatch aborts the
	// listing with a TamperError.
	Verify bool
}

func (f Filter) matches(r *Record) bool {
	if f.SourceSystem != "" && r.SourceSystem != f.SourceSystem {
		return false
	}
	if f.Outcome != "" && r.Outcome != f.Outcome {
		return false
	}
	if f.CorrelationID != "" && r.CorrelationID != f.CorrelationID {
		return false
	}
	if f.Actor != "" && r.Actor != f.Actor {
		return false
	}
	return true
}

// List returns matching records, newest first. Ties on RecordedAt keep the
// later insertion first so ordering is stable across calls.
func (s *Store) List(ctx context.Context, f Filter) ([]*Record, error) {
	s.mu.RLock()
	candidates := make([]*Record, 0, len(s.order))
	position := make(map[uuid.UUID]int, len(s.order))
	for i, id := range s.order {
		position[id] = i
		rec := s.records[id]
		if f.matches(rec) {
			candidates = append(candidates, rec)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		ti, tj := candidates[i].RecordedAt, candidates[j].RecordedAt
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return position[candidates[i].RecordID] > position[candidates[j].RecordID]
	})

	if f.Offset > 0 {
		if f.Offset >= len(candidates) {
			candidates = nil
		} else {
			candidates = candidates[f.Offset:]
		}
	}
	if f.Limit > 0 && f.Limit < len(candidates) {
		candidates = candidates[:f.Limit]
	}

	out := make([]*Record, 0, len(candidates))
	for _, rec := range candidates {
		if f.Verify {
			computed, err := rec.ComputeSeal()
			if err != nil {
				return nil, fmt.Errorf("list records: compute seal: %w", err)
			}
			if computed != rec.Seal {
				s.audited(ctx, "list_records", rec.RecordID.String(), "tampered", "seal mismatch")
				s.metrics.TamperDetected(ctx)
				return nil, &TamperError{RecordID: rec.RecordID, Expected: rec.Seal, Actual: computed}
			}
		}
		out = append(out, rec.Clone())
	}
	return out, nil
}

// GetLineage walks PreviousRecordID links from id back to the lineage root
// and returns the chain oldest first, ending with id itself. A link to a
// missing record or a cycle is an IntegrityError.
func (s *Store) GetLineage(ctx context.Context, id uuid.UUID) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, &NotFoundError{RecordID: id}
	}

	var chain []*Record
	seen := make(map[uuid.UUID]bool)
	for rec != nil {
		if seen[rec.RecordID] {
			return nil, &IntegrityError{RecordID: id, Ref: rec.RecordID.String(), Reason: "lineage cycle"}
		}
		seen[rec.RecordID] = true
		chain = append(chain, rec.Clone())
		if rec.PreviousRecordID == nil {
			break
		}
		prev, ok := s.records[*rec.PreviousRecordID]
		if !ok {
			return nil, &IntegrityError{
				RecordID: rec.RecordID,
				Ref:      rec.PreviousRecordID.String(),
				Reason:   "lineage link to missing record",
			}
		}
		rec = prev
	}

	// Walked newest to oldest; callers get oldest first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// VerifyAll recomputes every stored record's seal and returns the ids that
// failed, in insertion order. An empty slice means the store is clean.
func (s *Store) VerifyAll(ctx context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tampered []uuid.UUID
	for _, id := range s.order {
		rec := s.records[id]
		computed, err := rec.ComputeSeal()
		if err != nil {
			return nil, fmt.Errorf("verify all: compute seal for %s: %w", id, err)
		}
		if computed != rec.Seal {
			tampered = append(tampered, id)
		}
	}
	if len(tampered) > 0 {
		s.metrics.TamperDetected(ctx)
		s.logger.Error("store verification found tampered records", "count", len(tampered))
	}
	return tampered, nil
}

// Count returns the number of stored records.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Update always fails. Evidence records are write-once.
func (s *Store) Update(ctx context.Context, id uuid.UUID, _ Draft) error {
	s.audited(ctx, "update_record", id.String(), "rejected", "store is append-only")
	return &ImmutabilityError{Target: id.String(), Operation: "update"}
}

// Delete always fails. Evidence records are write-once.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	s.audited(ctx, "delete_record", id.String(), "rejected", "store is append-only")
	return &ImmutabilityError{Target: id.String(), Operation: "delete"}
}

// Overwrite always fails. Evidence records are write-once.
func (s *Store) Overwrite(ctx context.Context, id uuid.UUID, _ *Record) error {
	s.audited(ctx, "overwrite_record", id.String(), "rejected", "store is append-only")
	return &ImmutabilityError{Target: id.String(), Operation: "overwrite"}
}

// ReplaceSeal always fails. Seals are assigned once at creation.
func (s *Store) ReplaceSeal(ctx context.Context, id uuid.UUID, _ string) error {
	s.audited(ctx, "replace_seal", id.String(), "rejected", "seals are write-once")
	return &ImmutabilityError{Target: id.String(), Operation: "replace_seal"}
}
