package evidence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oversight-labs/proofvault/pkg/hashchain"
)

// snapshot is the on-disk store format. It is versioned for additive
// evolution; readers reject major versions they do not understand.
type snapshot struct {
	SchemaVersion string             `json:"schema_version"`
	Sequence      uint64             `json:"sequence"`
	Records       []*Record          `json:"records"`
	ChainBlocks   []*hashchain.Block `json:"chain_blocks,omitempty"`
}

// writeFileAtomic writes data to path via a temp file in the same directory
// followed by an atomic rename, so a crash mid-write never corrupts the
// primary file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// persistLocked writes the current snapshot. Caller holds the store lock.
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}

	snap := snapshot{
		SchemaVersion: SchemaVersion,
		Sequence:      s.sequence,
		Records:       make([]*Record, 0, len(s.order)),
	}
	for _, id := range s.order {
		snap.Records = append(snap.Records, s.records[id])
	}
	if s.chain != nil {
		snap.ChainBlocks = s.chain.Export()
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return writeFileAtomic(s.path, data)
}

// load reads an existing snapshot, verifying every record seal. A seal
// mismatch on load fails closed with a TamperError rather than serving the
// record.
func (s *Store) load() error {
	data, err := os.ReadFile(s.path) //nolint:gosec // path is operator-configured
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if err := checkSchemaVersion(snap.SchemaVersion); err != nil {
		return err
	}

	s.sequence = snap.Sequence
	for _, rec := range snap.Records {
		ok, err := rec.VerifySeal()
		if err != nil {
			return fmt.Errorf("verify seal of record %s on load: %w", rec.RecordID, err)
		}
		if !ok {
			computed, _ := rec.ComputeSeal()
			return &TamperError{RecordID: rec.RecordID, Expected: rec.Seal, Actual: computed}
		}
		s.records[rec.RecordID] = rec
		s.order = append(s.order, rec.RecordID)
		s.bySeal[rec.Seal] = rec.RecordID
	}
	if s.chain != nil && len(snap.ChainBlocks) > 0 {
		if err := s.chain.Import(snap.ChainBlocks); err != nil {
			return fmt.Errorf("restore chain blocks: %w", err)
		}
	}
	return nil
}
