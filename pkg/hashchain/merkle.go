package hashchain

import (
	"encoding/hex"

	"github.com/oversight-labs/proofvault/pkg/canonical"
)

// MerkleRoot folds scope's ordered block hashes pairwise until one hash
// remains. When a level has an odd number of elements the final element is
// duplicated. An empty chain's root is the genesis hash.
func (e *Engine) MerkleRoot(scope string) string {
	e.mu.RLock()
	chain := e.chains[scope]
	level := make([]string, len(chain))
	for i, b := range chain {
		level[i] = b.BlockHash
	}
	e.mu.RUnlock()

	return foldMerkle(level)
}

func foldMerkle(level []string) string {
	if len(level) == 0 {
		return canonical.GenesisHash
	}
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([]string, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, nodeHash(level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}

func nodeHash(left, right string) string {
	lb, _ := hex.DecodeString(left)
	rb, _ := hex.DecodeString(right)
	return canonical.HashBytes(append(lb, rb...))
}
