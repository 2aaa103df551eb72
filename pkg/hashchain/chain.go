// Package hashchain implements the per-scope hash-chain engine. Every
// logical scope (a case id, a correlation id) owns an independent chain of
// gapless, 1-based blocks starting from a fixed all-zero genesis hash.
//
// The source systems this store replaces grew several slightly different
// hash-chain shapes; this package is the single scope-parameterized engine
// they collapse into.
package hashchain

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oversight-labs/proofvault/pkg/canonical"
)

// Block is one link in a scope's chain. Position is 1-based, sequential,
// and gapless. Timestamp is observability metadata only; it is not part of
// the block hash preimage.
type Block struct {
	Scope        string    `json:"scope"`
	Position     uint64    `json:"position"`
	EventType    string    `json:"event_type"`
	EventID      string    `json:"event_id"`
	DataHash     string    `json:"data_hash"`
	PreviousHash string    `json:"previous_hash"`
	BlockHash    string    `json:"block_hash"`
	Timestamp    time.Time `json:"timestamp"`
}

// computeBlockHash derives a block's own hash from its chained fields.
func computeBlockHash(position uint64, eventType, eventID, scope, dataHash, previousHash string) string {
	preimage := fmt.Sprintf("%d|%s|%s|%s|%s|%s", position, eventType, eventID, scope, dataHash, previousHash)
	return canonical.HashBytes([]byte(preimage))
}

// Engine maintains one independent hash chain per scope.
type Engine struct {
	mu     sync.RWMutex
	chains map[string][]*Block
	clock  func() time.Time
}

// NewEngine creates an empty chain engine.
func NewEngine() *Engine {
	return &Engine{
		chains: make(map[string][]*Block),
		clock:  time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Append hashes payload canonically and links a new block onto scope's
// chain, advancing the head. Position assignment, hashing, and the head
// advance all happen under one lock.
func (e *Engine) Append(scope, eventType, eventID string, payload any) (*Block, error) {
	if scope == "" {
		return nil, fmt.Errorf("hashchain: scope must not be empty")
	}

	dataHash, err := canonical.Hash(payload)
	if err != nil {
		return nil, fmt.Errorf("hashchain: hash payload for scope %s: %w", scope, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	chain := e.chains[scope]
	position := uint64(len(chain)) + 1
	previous := canonical.GenesisHash
	if len(chain) > 0 {
		previous = chain[len(chain)-1].BlockHash
	}

	block := &Block{
		Scope:        scope,
		Position:     position,
		EventType:    eventType,
		EventID:      eventID,
		DataHash:     dataHash,
		PreviousHash: previous,
		BlockHash:    computeBlockHash(position, eventType, eventID, scope, dataHash, previous),
		Timestamp:    e.clock().UTC(),
	}
	e.chains[scope] = append(chain, block)
	return block, nil
}

// DropNewest removes the newest block of scope and rewinds the head. It
// exists so a caller that commits chain state together with its own write
// can unwind an append whose surrounding write failed. Reports whether a
// block was removed.
func (e *Engine) DropNewest(scope string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	chain := e.chains[scope]
	if len(chain) == 0 {
		return false
	}
	if len(chain) == 1 {
		delete(e.chains, scope)
		return true
	}
	e.chains[scope] = chain[:len(chain)-1]
	return true
}

// Head returns the current head hash of scope's chain, or the genesis hash
// for an unknown or empty scope.
func (e *Engine) Head(scope string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	chain := e.chains[scope]
	if len(chain) == 0 {
		return canonical.GenesisHash
	}
	return chain[len(chain)-1].BlockHash
}

// Length returns the number of blocks in scope's chain.
func (e *Engine) Length(scope string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.chains[scope])
}

// Scopes returns every scope with at least one block.
func (e *Engine) Scopes() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	scopes := make([]string, 0, len(e.chains))
	for s := range e.chains {
		scopes = append(scopes, s)
	}
	return scopes
}

// Blocks returns a copy of scope's chain in position order.
func (e *Engine) Blocks(scope string) []*Block {
	e.mu.RLock()
	defer e.mu.RUnlock()

	chain := e.chains[scope]
	out := make([]*Block, len(chain))
	for i, b := range chain {
		cp := *b
		out[i] = &cp
	}
	return out
}

// DiscontinuityKind classifies a break found while verifying a chain.
type DiscontinuityKind string

const (
	DiscontinuityBlockHash DiscontinuityKind = "block_hash_mismatch"
	DiscontinuityLink      DiscontinuityKind = "previous_hash_mismatch"
	DiscontinuityPosition  DiscontinuityKind = "position_gap"
)

// Discontinuity is one break in a chain, with the position where it was
// found and the expected versus stored hash.
type Discontinuity struct {
	Position uint64            `json:"position"`
	Kind     DiscontinuityKind `json:"kind"`
	Expected string            `json:"expected"`
	Actual   string            `json:"actual"`
}

func (d Discontinuity) String() string {
	return fmt.Sprintf("position %d: %s (expected %s, stored %s)", d.Position, d.Kind, d.Expected, d.Actual)
}

// Report is the result of verifying one scope's chain.
type Report struct {
	Scope           string          `json:"scope"`
	Valid           bool            `json:"valid"`
	Length          int             `json:"length"`
	Discontinuities []Discontinuity `json:"discontinuities,omitempty"`
}

func (r Report) String() string {
	if r.Valid {
		return fmt.Sprintf("scope %s: valid, length %d", r.Scope, r.Length)
	}
	msgs := make([]string, 0, len(r.Discontinuities))
	for _, d := range r.Discontinuities {
		msgs = append(msgs, d.String())
	}
	return fmt.Sprintf("scope %s: %d discontinuities: %s", r.Scope, len(r.Discontinuities), strings.Join(msgs, "; "))
}

// Verify walks scope's chain from genesis, recomputing every block hash
// and confirming every previous-hash link and position. It reports EVERY
// discontinuity found, not just the first.
func (e *Engine) Verify(scope string) Report {
	e.mu.RLock()
	defer e.mu.RUnlock()

	chain := e.chains[scope]
	report := Report{Scope: scope, Valid: true, Length: len(chain)}

	expectedPrev := canonical.GenesisHash
	for i, b := range chain {
		wantPos := uint64(i) + 1
		if b.Position != wantPos {
			report.Discontinuities = append(report.Discontinuities, Discontinuity{
				Position: b.Position,
				Kind:     DiscontinuityPosition,
				Expected: fmt.Sprintf("%d", wantPos),
				Actual:   fmt.Sprintf("%d", b.Position),
			})
		}
		if b.PreviousHash != expectedPrev {
			report.Discontinuities = append(report.Discontinuities, Discontinuity{
				Position: b.Position,
				Kind:     DiscontinuityLink,
				Expected: expectedPrev,
				Actual:   b.PreviousHash,
			})
		}
		recomputed := computeBlockHash(b.Position, b.EventType, b.EventID, b.Scope, b.DataHash, b.PreviousHash)
		if recomputed != b.BlockHash {
			report.Discontinuities = append(report.Discontinuities, Discontinuity{
				Position: b.Position,
				Kind:     DiscontinuityBlockHash,
				Expected: recomputed,
				Actual:   b.BlockHash,
			})
		}
		expectedPrev = b.BlockHash
	}

	report.Valid = len(report.Discontinuities) == 0
	return report
}

// Export returns every block across all scopes, ordered by scope then
// position, for snapshot persistence.
func (e *Engine) Export() []*Block {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*Block
	for _, scope := range sortedScopes(e.chains) {
		for _, b := range e.chains[scope] {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out
}

// validHash reports whether s is a well-formed sha256 hex digest. Merkle
// folding decodes hashes back to bytes, so malformed hex must never enter
// a chain.
func validHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Import restores blocks into an empty engine, preserving append order per
// scope. Blocks must arrive in position order within each scope, and every
// hash field must be well-formed sha256 hex.
func (e *Engine) Import(blocks []*Block) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.chains) > 0 {
		return fmt.Errorf("hashchain: import into non-empty engine")
	}
	for _, b := range blocks {
		chain := e.chains[b.Scope]
		if b.Position != uint64(len(chain))+1 {
			return fmt.Errorf("hashchain: import gap in scope %s: got position %d, want %d", b.Scope, b.Position, len(chain)+1)
		}
		if !validHash(b.DataHash) || !validHash(b.PreviousHash) || !validHash(b.BlockHash) {
			return fmt.Errorf("hashchain: import block %s/%d: malformed hash field", b.Scope, b.Position)
		}
		cp := *b
		e.chains[b.Scope] = append(chain, &cp)
	}
	return nil
}

func sortedScopes(chains map[string][]*Block) []string {
	scopes := make([]string, 0, len(chains))
	for s := range chains {
		scopes = append(scopes, s)
	}
	sort.Strings(scopes)
	return scopes
}
