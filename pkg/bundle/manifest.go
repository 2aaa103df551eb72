// Package bundle exports self-contained, offline-verifiable proof bundles
// for a single evidence record: the sealed record, its referenced decision,
// outcome, and input artifacts, its full lineage, and a freshness manifest,
// all bound together by a hashed manifest.
//
// Exports are deterministic: exporting the same record twice yields
// byte-identical bundles except for the freshness manifest, whose variance
// is isolated to FRESHNESS.json and the manifest fields that describe it.
package bundle

import (
	"github.com/oversight-labs/proofvault/pkg/canonical"
)

// ManifestVersion is the bundle manifest format version.
const ManifestVersion = "1.0.0"

// Well-known file names inside a bundle directory.
const (
	ManifestFile  = "manifest.json"
	RecordFile    = "record.json"
	DecisionFile  = "decision.json"
	OutcomeFile   = "outcome.json"
	FreshnessFile = "FRESHNESS.json"
	InputsDir     = "inputs"
	LineageDir    = "lineage"
)

// FileEntry describes one file in the bundle. Ref carries the identifier
// the file answers for: an artifact key for content files, a record id for
// lineage files.
type FileEntry struct {
	Path      string `json:"path"`
	Ref       string `json:"ref,omitempty"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
}

// Contents lists every file the manifest covers.
type Contents struct {
	Record    FileEntry   `json:"record"`
	Decision  FileEntry   `json:"decision"`
	Outcome   FileEntry   `json:"outcome"`
	Inputs    []FileEntry `json:"inputs"`
	Lineage   []FileEntry `json:"lineage"`
	Freshness FileEntry   `json:"freshness"`
}

// Integrity binds the bundle together. ManifestHash covers the manifest
// with this section zeroed. BundleHash covers the content files and
// excludes the freshness manifest, so it is stable across repeat exports.
// Signature fields are set only when a signer is configured.
type Integrity struct {
	ManifestHash   string `json:"manifest_hash"`
	BundleHash     string `json:"bundle_hash"`
	SignatureKeyID string `json:"signature_key_id,omitempty"`
	Signature      string `json:"signature,omitempty"`
}

// Manifest is the bundle's table of contents and integrity root, stored as
// manifest.json.
type Manifest struct {
	BundleID        string    `json:"bundle_id"`
	ManifestVersion string    `json:"manifest_version"`
	RecordID        string    `json:"record_id"`
	Contents        Contents  `json:"contents"`
	Integrity       Integrity `json:"integrity"`
}

// ComputeManifestHash hashes the manifest with its integrity section
// zeroed, so the hash can be stored inside the section it covers.
func ComputeManifestHash(m *Manifest) (string, error) {
	shadow := *m
	shadow.Integrity = Integrity{}
	return canonical.Hash(&shadow)
}
