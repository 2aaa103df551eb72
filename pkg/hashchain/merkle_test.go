package hashchain

import (
	"testing"

	"github.com/oversight-labs/proofvault/pkg/canonical"
)

func TestMerkleRoot_EmptyScopeIsGenesis(t *testing.T) {
	e := NewEngine()
	if root := e.MerkleRoot("unknown"); root != canonical.GenesisHash {
		t.Fatalf("empty scope root = %s, want genesis", root)
	}
}

func TestMerkleRoot_SingleBlock(t *testing.T) {
	e := NewEngine().WithClock(fixedClock())
	blocks := appendN(t, e, "case-1", 1)

	root := e.MerkleRoot("case-1")
	if root == canonical.GenesisHash {
		t.Fatal("non-empty chain produced genesis root")
	}
	// One leaf folds with its duplicate, not passes through.
	if root == blocks[0].BlockHash {
		t.Error("single-leaf root equals the leaf hash")
	}
	want := nodeHash(blocks[0].BlockHash, blocks[0].BlockHash)
	if root != want {
		t.Errorf("root = %s, want duplicated-leaf fold %s", root, want)
	}
}

func TestMerkleRoot_OddLeavesDuplicateLast(t *testing.T) {
	e := NewEngine().WithClock(fixedClock())
	blocks := appendN(t, e, "case-1", 3)

	left := nodeHash(blocks[0].BlockHash, blocks[1].BlockHash)
	right := nodeHash(blocks[2].BlockHash, blocks[2].BlockHash)
	want := nodeHash(left, right)
	if root := e.MerkleRoot("case-1"); root != want {
		t.Errorf("root = %s, want %s", root, want)
	}
}

func TestMerkleRoot_Deterministic(t *testing.T) {
	e := NewEngine().WithClock(fixedClock())
	appendN(t, e, "case-1", 7)

	first := e.MerkleRoot("case-1")
	second := e.MerkleRoot("case-1")
	if first != second {
		t.Fatalf("root not deterministic: %s vs %s", first, second)
	}
}

func TestMerkleRoot_ChangesWithAnyBlock(t *testing.T) {
	e := NewEngine().WithClock(fixedClock())
	appendN(t, e, "case-1", 4)
	before := e.MerkleRoot("case-1")

	e.chains["case-1"][1].BlockHash = canonical.HashBytes([]byte("forged"))
	after := e.MerkleRoot("case-1")
	if before == after {
		t.Fatal("root unchanged after block hash changed")
	}
}

func TestMerkleRoot_GrowsWithChain(t *testing.T) {
	e := NewEngine().WithClock(fixedClock())
	appendN(t, e, "case-1", 2)
	before := e.MerkleRoot("case-1")
	appendN(t, e, "case-1", 1)
	if after := e.MerkleRoot("case-1"); after == before {
		t.Fatal("root unchanged after append")
	}
}
