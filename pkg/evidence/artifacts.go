package evidence

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/oversight-labs/proofvault/pkg/canonical"
)

// StoreOutcome reports what StoreArtifact did with the submitted bytes.
type StoreOutcome string

const (
	// ArtifactStored means the bytes were new and have been persisted.
	ArtifactStored StoreOutcome = "stored"
	// ArtifactDuplicate means identical bytes were already present; the
	// call is an idempotent no-op, never an error.
	ArtifactDuplicate StoreOutcome = "duplicate"
)

// ArtifactStore is a content-addressed blob store keyed by "sha256:<hex>".
// Blobs are write-once: storing identical bytes twice is a no-op, and
// deletion always fails.
type ArtifactStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	dir   string // empty = memory only
}

// NewArtifactStore creates an in-memory artifact store. If dir is
// non-empty, every blob is also persisted as an individual file under dir
// and existing blobs are loaded on construction.
func NewArtifactStore(dir string) (*ArtifactStore, error) {
	s := &ArtifactStore{blobs: make(map[string][]byte), dir: dir}
	if dir == "" {
		return s, nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("artifact store: create dir: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("artifact store: read dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".blob") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name())) //nolint:gosec // dir is operator-configured
		if err != nil {
			return nil, fmt.Errorf("artifact store: read blob %s: %w", e.Name(), err)
		}
		key := canonical.ArtifactKey(data)
		if keyToFilename(key) != e.Name() {
			return nil, fmt.Errorf("artifact store: blob %s content does not match its key: recomputed %s", e.Name(), key)
		}
		s.blobs[key] = data
	}
	return s, nil
}

// Store adds content-addressed bytes. Identical bytes are an idempotent
// no-op reported as ArtifactDuplicate.
func (s *ArtifactStore) Store(data []byte) (string, StoreOutcome, error) {
	key := canonical.ArtifactKey(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[key]; ok {
		return key, ArtifactDuplicate, nil
	}

	if s.dir != "" {
		if err := writeFileAtomic(filepath.Join(s.dir, keyToFilename(key)), data); err != nil {
			return "", "", fmt.Errorf("artifact store: persist %s: %w", key, err)
		}
	}

	stored := append([]byte(nil), data...)
	s.blobs[key] = stored
	return key, ArtifactStored, nil
}

// Get returns the blob for key, or an IntegrityError naming the missing
// reference.
func (s *ArtifactStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[key]
	if !ok {
		return nil, &IntegrityError{Ref: key, Reason: "artifact missing"}
	}
	return append([]byte(nil), data...), nil
}

// Has reports whether key resolves to a stored blob.
func (s *ArtifactStore) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[key]
	return ok
}

// Len returns the number of stored blobs.
func (s *ArtifactStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// Delete always fails: artifacts are write-once.
func (s *ArtifactStore) Delete(key string) error {
	return &ImmutabilityError{Target: key, Operation: "delete_artifact"}
}

func keyToFilename(key string) string {
	return strings.TrimPrefix(key, canonical.ArtifactKeyPrefix) + ".blob"
}
