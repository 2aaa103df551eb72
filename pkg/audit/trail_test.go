package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/oversight-labs/proofvault/pkg/canonical"
)

func testClock(start time.Time) func() time.Time {
	at := start
	return func() time.Time {
		at = at.Add(time.Second)
		return at
	}
}

func TestFileTrail_RecordChainsEntries(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	trail, err := NewFileTrail(path)
	if err != nil {
		t.Fatalf("open trail: %v", err)
	}
	trail.WithClock(testClock(time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)))

	for i, op := range []string{"create_record", "get_record", "delete_record"} {
		if err := trail.Record(ctx, op, "target-1", "ok", ""); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	entries, err := trail.Entries(ctx)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[0].PrevHash != canonical.GenesisHash {
		t.Errorf("first entry prev = %s, want genesis", entries[0].PrevHash)
	}
	for i, e := range entries {
		if e.Sequence != uint64(i)+1 {
			t.Errorf("entry %d sequence = %d", i, e.Sequence)
		}
		recomputed, err := computeEntryHash(&e)
		if err != nil {
			t.Fatal(err)
		}
		if recomputed != e.EntryHash {
			t.Errorf("entry %d hash mismatch", i)
		}
		if i > 0 && e.PrevHash != entries[i-1].EntryHash {
			t.Errorf("entry %d not chained", i)
		}
	}
}

func TestFileTrail_RestoresHeadOnReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	trail, err := NewFileTrail(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := trail.Record(ctx, "create_record", "target-1", "ok", ""); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewFileTrail(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := reopened.Record(ctx, "create_record", "target-2", "ok", ""); err != nil {
		t.Fatal(err)
	}

	entries, err := reopened.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[1].PrevHash != entries[0].EntryHash {
		t.Error("chain broken across reopen")
	}
	if entries[1].Sequence != 2 {
		t.Errorf("sequence = %d after reopen", entries[1].Sequence)
	}
}

func TestFileTrail_TrimRequiresAuthorization(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	trail, err := NewFileTrail(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := trail.Record(ctx, "create_record", "target-1", "ok", ""); err != nil {
		t.Fatal(err)
	}

	_, err = trail.Trim(ctx, time.Now(), Authorization{})
	if err != ErrUnauthorizedRetention {
		t.Fatalf("unauthorized trim: got %v", err)
	}
	_, err = trail.Trim(ctx, time.Now(), Authorization{ApprovedBy: "compliance-lead"})
	if err != ErrUnauthorizedRetention {
		t.Fatalf("trim without reason: got %v", err)
	}

	entries, err := trail.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Error("unauthorized trim removed entries")
	}
}

func TestFileTrail_AuthorizedTrim(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	trail, err := NewFileTrail(path)
	if err != nil {
		t.Fatal(err)
	}
	trail.WithClock(testClock(time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)))

	for range [4]struct{}{} {
		if err := trail.Record(ctx, "create_record", "target", "ok", ""); err != nil {
			t.Fatal(err)
		}
	}

	cutoff := time.Date(2026, 7, 1, 9, 0, 2, 500*1e6, time.UTC)
	removed, err := trail.Trim(ctx, cutoff, Authorization{
		ApprovedBy: "compliance-lead",
		Reason:     "90 day retention policy",
	})
	if err != nil {
		t.Fatalf("authorized trim: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed %d entries, want 2", removed)
	}

	entries, err := trail.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("retained %d entries", len(entries))
	}
	for _, e := range entries {
		if e.Timestamp.Before(cutoff) {
			t.Errorf("entry %d survived past cutoff", e.Sequence)
		}
	}
}

func TestNopTrail(t *testing.T) {
	ctx := context.Background()
	var trail Trail = NopTrail{}

	if err := trail.Record(ctx, "create_record", "x", "ok", ""); err != nil {
		t.Fatal(err)
	}
	entries, err := trail.Entries(ctx)
	if err != nil || entries != nil {
		t.Fatalf("nop entries: %v, %v", entries, err)
	}
	if _, err := trail.Trim(ctx, time.Now(), Authorization{}); err != ErrUnauthorizedRetention {
		t.Fatalf("nop trim without auth: %v", err)
	}
}
