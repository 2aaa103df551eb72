package hashchain

import (
	"fmt"
	"testing"
	"time"

	"github.com/oversight-labs/proofvault/pkg/canonical"
)

func fixedClock() func() time.Time {
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func appendN(t *testing.T, e *Engine, scope string, n int) []*Block {
	t.Helper()
	blocks := make([]*Block, 0, n)
	for i := 0; i < n; i++ {
		b, err := e.Append(scope, "record_created", fmt.Sprintf("event-%d", i), map[string]int{"n": i})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		blocks = append(blocks, b)
	}
	return blocks
}

func TestAppend_LinksFromGenesis(t *testing.T) {
	e := NewEngine().WithClock(fixedClock())

	if head := e.Head("case-1"); head != canonical.GenesisHash {
		t.Fatalf("empty scope head = %s, want genesis", head)
	}

	blocks := appendN(t, e, "case-1", 3)

	if blocks[0].PreviousHash != canonical.GenesisHash {
		t.Errorf("first block previous = %s, want genesis", blocks[0].PreviousHash)
	}
	for i, b := range blocks {
		if b.Position != uint64(i)+1 {
			t.Errorf("block %d position = %d", i, b.Position)
		}
		if i > 0 && b.PreviousHash != blocks[i-1].BlockHash {
			t.Errorf("block %d not linked to predecessor", i)
		}
	}
	if e.Head("case-1") != blocks[2].BlockHash {
		t.Error("head does not match last block")
	}
	if e.Length("case-1") != 3 {
		t.Errorf("length = %d", e.Length("case-1"))
	}
}

func TestAppend_EmptyScopeRejected(t *testing.T) {
	e := NewEngine()
	if _, err := e.Append("", "record_created", "x", nil); err == nil {
		t.Fatal("empty scope accepted")
	}
}

func TestAppend_ScopesIndependent(t *testing.T) {
	e := NewEngine().WithClock(fixedClock())
	appendN(t, e, "case-1", 2)
	appendN(t, e, "case-2", 5)

	if e.Length("case-1") != 2 || e.Length("case-2") != 5 {
		t.Fatalf("lengths = %d, %d", e.Length("case-1"), e.Length("case-2"))
	}
	b1 := e.Blocks("case-1")[0]
	b2 := e.Blocks("case-2")[0]
	if b1.BlockHash == b2.BlockHash {
		t.Error("same payload in different scopes produced the same block hash")
	}
}

func TestVerify_ValidChain(t *testing.T) {
	e := NewEngine().WithClock(fixedClock())
	appendN(t, e, "case-1", 10)

	report := e.Verify("case-1")
	if !report.Valid {
		t.Fatalf("valid chain reported discontinuities: %s", report)
	}
	if report.Length != 10 {
		t.Errorf("report length = %d", report.Length)
	}
}

func TestVerify_EmptyScopeValid(t *testing.T) {
	e := NewEngine()
	report := e.Verify("nothing-here")
	if !report.Valid || report.Length != 0 {
		t.Fatalf("empty scope report: %+v", report)
	}
}

func TestVerify_DetectsTamperedData(t *testing.T) {
	e := NewEngine().WithClock(fixedClock())
	appendN(t, e, "case-1", 5)

	// Flip the payload hash of the middle block.
	e.chains["case-1"][2].DataHash = canonical.HashBytes([]byte("forged"))

	report := e.Verify("case-1")
	if report.Valid {
		t.Fatal("tampered chain verified clean")
	}
	found := false
	for _, d := range report.Discontinuities {
		if d.Position == 3 && d.Kind == DiscontinuityBlockHash {
			found = true
		}
	}
	if !found {
		t.Errorf("no block hash mismatch at position 3: %s", report)
	}
}

func TestVerify_ReportsEveryDiscontinuity(t *testing.T) {
	e := NewEngine().WithClock(fixedClock())
	appendN(t, e, "case-1", 6)

	chain := e.chains["case-1"]
	chain[1].DataHash = canonical.HashBytes([]byte("forged one"))
	chain[4].PreviousHash = canonical.GenesisHash

	report := e.Verify("case-1")
	if report.Valid {
		t.Fatal("doubly tampered chain verified clean")
	}
	if len(report.Discontinuities) < 2 {
		t.Fatalf("verification stopped early, got %d discontinuities: %s", len(report.Discontinuities), report)
	}
	positions := map[uint64]bool{}
	for _, d := range report.Discontinuities {
		positions[d.Position] = true
	}
	if !positions[2] || !positions[5] {
		t.Errorf("missing discontinuity positions: %v", positions)
	}
}

func TestVerify_DetectsPositionGap(t *testing.T) {
	e := NewEngine().WithClock(fixedClock())
	appendN(t, e, "case-1", 3)

	e.chains["case-1"][2].Position = 9

	report := e.Verify("case-1")
	if report.Valid {
		t.Fatal("position gap verified clean")
	}
	foundGap := false
	for _, d := range report.Discontinuities {
		if d.Kind == DiscontinuityPosition {
			foundGap = true
		}
	}
	if !foundGap {
		t.Errorf("no position_gap in %s", report)
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	e := NewEngine().WithClock(fixedClock())
	appendN(t, e, "case-b", 3)
	appendN(t, e, "case-a", 2)

	blocks := e.Export()
	if len(blocks) != 5 {
		t.Fatalf("exported %d blocks", len(blocks))
	}
	// Scope order is deterministic.
	if blocks[0].Scope != "case-a" {
		t.Errorf("first exported scope = %s", blocks[0].Scope)
	}

	restored := NewEngine()
	if err := restored.Import(blocks); err != nil {
		t.Fatalf("import: %v", err)
	}
	for _, scope := range []string{"case-a", "case-b"} {
		if restored.Head(scope) != e.Head(scope) {
			t.Errorf("scope %s head changed across round trip", scope)
		}
		if report := restored.Verify(scope); !report.Valid {
			t.Errorf("restored scope %s invalid: %s", scope, report)
		}
	}
}

func TestImport_RejectsGaps(t *testing.T) {
	e := NewEngine().WithClock(fixedClock())
	blocks := appendN(t, e, "case-1", 3)

	restored := NewEngine()
	if err := restored.Import([]*Block{blocks[0], blocks[2]}); err == nil {
		t.Fatal("gapped import accepted")
	}
}

func TestImport_RejectsMalformedHashes(t *testing.T) {
	e := NewEngine().WithClock(fixedClock())
	blocks := appendN(t, e, "case-1", 2)

	corrupt := *blocks[1]
	corrupt.BlockHash = "not-hex-" + corrupt.BlockHash[8:]
	restored := NewEngine()
	if err := restored.Import([]*Block{blocks[0], &corrupt}); err == nil {
		t.Fatal("block with malformed hash accepted")
	}

	short := *blocks[1]
	short.DataHash = short.DataHash[:32]
	restored = NewEngine()
	if err := restored.Import([]*Block{blocks[0], &short}); err == nil {
		t.Fatal("block with truncated hash accepted")
	}
}

func TestDropNewest_RewindsHead(t *testing.T) {
	e := NewEngine().WithClock(fixedClock())
	blocks := appendN(t, e, "case-1", 2)

	if !e.DropNewest("case-1") {
		t.Fatal("drop on non-empty scope reported nothing removed")
	}
	if got := e.Head("case-1"); got != blocks[0].BlockHash {
		t.Fatalf("head not rewound: got %s, want %s", got, blocks[0].BlockHash)
	}
	if !e.DropNewest("case-1") {
		t.Fatal("drop of final block reported nothing removed")
	}
	if got := e.Head("case-1"); got != canonical.GenesisHash {
		t.Fatalf("emptied scope head: got %s, want genesis", got)
	}
	if e.DropNewest("case-1") {
		t.Fatal("drop on empty scope reported a removal")
	}
}

func TestImport_RejectsNonEmptyEngine(t *testing.T) {
	e := NewEngine().WithClock(fixedClock())
	blocks := appendN(t, e, "case-1", 1)

	target := NewEngine().WithClock(fixedClock())
	appendN(t, target, "case-2", 1)
	if err := target.Import(blocks); err == nil {
		t.Fatal("import into non-empty engine accepted")
	}
}
