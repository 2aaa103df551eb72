// Package canonical provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and SHA-256 digesting. Every hash in the evidence store
// (record seals, chain block hashes, manifest hashes, artifact keys) is
// produced through this package so that all components share one hashing
// vocabulary.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// SealAlgorithm identifies the digest algorithm behind every seal.
const SealAlgorithm = "sha256"

// GenesisHash is the previous-hash of the first block in every scope chain,
// and the merkle root of an empty chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ArtifactKeyPrefix prefixes content-addressed artifact keys.
const ArtifactKeyPrefix = "sha256:"

// Canonical returns the RFC 8785 canonical JSON form of v.
//
// v is first marshaled with encoding/json (so struct tags apply), then
// transformed to canonical form: lexicographically sorted keys, no
// superfluous whitespace, shortest number representation, no HTML escaping.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal failed: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform failed: %w", err)
	}
	return out, nil
}

// CanonicalizeJSON re-serializes an existing JSON document into canonical
// form. The input must be valid JSON.
func CanonicalizeJSON(raw []byte) ([]byte, error) {
	if !json.Valid(raw) {
		return nil, fmt.Errorf("canonical: input is not valid JSON")
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform failed: %w", err)
	}
	return out, nil
}

// Hash returns the SHA-256 hex digest of the canonical JSON form of v.
func Hash(v any) (string, error) {
	b, err := Canonical(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the SHA-256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ArtifactKey returns the content address of raw artifact bytes,
// in the form "sha256:<hex>".
func ArtifactKey(data []byte) string {
	return ArtifactKeyPrefix + HashBytes(data)
}
