// Package verifier checks exported proof bundles entirely offline: no
// store, no network, just the files in the bundle directory. Verification
// runs a fixed sequence of steps and halts at the first failure, so the
// reported outcome always names the earliest broken layer.
package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/oversight-labs/proofvault/pkg/bundle"
	"github.com/oversight-labs/proofvault/pkg/canonical"
	"github.com/oversight-labs/proofvault/pkg/evidence"
	"github.com/oversight-labs/proofvault/pkg/observability"
)

// Outcome is the final verdict of a bundle verification.
type Outcome string

const (
	OutcomeValid               Outcome = "valid"
	OutcomeInvalidRecordHash   Outcome = "invalid_record_hash"
	OutcomeInvalidArtifactHash Outcome = "invalid_artifact_hash"
	OutcomeInvalidManifestHash Outcome = "invalid_manifest_hash"
	OutcomeInvalidLineage      Outcome = "invalid_lineage"
	OutcomeInvalidReferences   Outcome = "invalid_references"
	// OutcomeIncomplete means the bundle could not even be read: missing
	// or unparseable manifest, missing required files, unsupported
	// versions.
	OutcomeIncomplete Outcome = "incomplete"
)

// Step is one executed verification step.
type Step struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Message  string `json:"message,omitempty"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// Result is the full verification report.
type Result struct {
	Outcome  Outcome `json:"outcome"`
	BundleID string  `json:"bundle_id,omitempty"`
	RecordID string  `json:"record_id,omitempty"`
	Steps    []Step  `json:"steps"`
}

// Valid reports whether the bundle passed every step.
func (r *Result) Valid() bool { return r.Outcome == OutcomeValid }

// manifestSchema is the structural precheck applied before any hashing.
// A manifest that fails it is unreadable, not tampered, so the outcome is
// incomplete rather than an invalid_* verdict.
const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["bundle_id", "manifest_version", "record_id", "contents", "integrity"],
  "properties": {
    "bundle_id": {"type": "string", "minLength": 1},
    "manifest_version": {"type": "string", "minLength": 1},
    "record_id": {"type": "string", "minLength": 1},
    "contents": {
      "type": "object",
      "required": ["record", "decision", "outcome", "freshness"],
      "properties": {
        "record": {"$ref": "#/$defs/entry"},
        "decision": {"$ref": "#/$defs/entry"},
        "outcome": {"$ref": "#/$defs/entry"},
        "freshness": {"$ref": "#/$defs/entry"},
        "inputs": {"type": "array", "items": {"$ref": "#/$defs/entry"}},
        "lineage": {"type": "array", "items": {"$ref": "#/$defs/entry"}}
      }
    },
    "integrity": {
      "type": "object",
      "required": ["manifest_hash", "bundle_hash"],
      "properties": {
        "manifest_hash": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
        "bundle_hash": {"type": "string", "pattern": "^[0-9a-f]{64}$"}
      }
    }
  },
  "$defs": {
    "entry": {
      "type": "object",
      "required": ["path", "sha256", "size_bytes"],
      "properties": {
        "path": {"type": "string", "minLength": 1},
        "sha256": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
        "size_bytes": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

// manifestRange is the range of manifest versions this verifier can read.
var manifestRange = func() *semver.Constraints {
	c, err := semver.NewConstraint(">=1.0.0 <2.0.0")
	if err != nil {
		panic(err)
	}
	return c
}()

// Verifier verifies proof bundles offline.
type Verifier struct {
	schema  *jsonschema.Schema
	logger  *slog.Logger
	metrics *observability.CoreMetrics
}

// Options configures a Verifier. The zero value works.
type Options struct {
	Logger  *slog.Logger
	Metrics *observability.CoreMetrics
}

// New builds a verifier and compiles the manifest schema.
func New(opts Options) (*Verifier, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const schemaURL = "https://proofvault.schemas.local/bundle/manifest.schema.json"
	if err := c.AddResource(schemaURL, strings.NewReader(manifestSchema)); err != nil {
		return nil, fmt.Errorf("verifier: load manifest schema: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("verifier: compile manifest schema: %w", err)
	}
	v := &Verifier{schema: compiled, logger: opts.Logger, metrics: opts.Metrics}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	return v, nil
}

// LoadDir reads every regular file under dir into memory, keyed by
// slash-separated path relative to dir.
func LoadDir(dir string) (map[string][]byte, error) {
	files := make(map[string][]byte)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path) //nolint:gosec // path walked under caller-supplied dir
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("verifier: read bundle dir %s: %w", dir, err)
	}
	return files, nil
}

// VerifyDir loads dir and verifies it.
func (v *Verifier) VerifyDir(ctx context.Context, dir string) (*Result, error) {
	files, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	return v.Verify(ctx, files), nil
}

// Verify runs the verification sequence over an in-memory bundle. Steps
// run in a fixed order and the first failure halts the run; the outcome is
// that step's verdict. Every verdict is a report, never a Go error.
func (v *Verifier) Verify(ctx context.Context, files map[string][]byte) *Result {
	result := &Result{}
	defer func() {
		v.metrics.Verification(ctx, string(result.Outcome))
		v.logger.Info("bundle verification finished",
			"outcome", result.Outcome, "bundle_id", result.BundleID, "steps", len(result.Steps))
	}()

	manifest, rec, ok := v.precheck(result, files)
	if !ok {
		result.Outcome = OutcomeIncomplete
		return result
	}
	result.BundleID = manifest.BundleID
	result.RecordID = manifest.RecordID

	sequence := []struct {
		verdict Outcome
		run     func(*Result, *bundle.Manifest, *evidence.Record, map[string][]byte) bool
	}{
		{OutcomeInvalidRecordHash, v.stepRecordHash},
		{OutcomeInvalidArtifactHash, v.stepArtifactHashes},
		{OutcomeInvalidManifestHash, v.stepManifestHash},
		{OutcomeInvalidLineage, v.stepLineage},
		{OutcomeInvalidReferences, v.stepReferences},
	}
	for _, s := range sequence {
		if !s.run(result, manifest, rec, files) {
			result.Outcome = s.verdict
			return result
		}
	}
	result.Outcome = OutcomeValid
	return result
}

// precheck parses and structurally validates the manifest and record.
// Any failure here means the bundle cannot be judged at all.
func (v *Verifier) precheck(result *Result, files map[string][]byte) (*bundle.Manifest, *evidence.Record, bool) {
	fail := func(msg string) (*bundle.Manifest, *evidence.Record, bool) {
		result.Steps = append(result.Steps, Step{Name: "read_bundle", Message: msg})
		return nil, nil, false
	}

	rawManifest, ok := files[bundle.ManifestFile]
	if !ok {
		return fail("manifest.json is missing")
	}
	var decoded any
	if err := json.Unmarshal(rawManifest, &decoded); err != nil {
		return fail("manifest.json is not valid JSON: " + err.Error())
	}
	if err := v.schema.Validate(decoded); err != nil {
		return fail("manifest.json fails structural validation: " + err.Error())
	}
	var manifest bundle.Manifest
	if err := json.Unmarshal(rawManifest, &manifest); err != nil {
		return fail("manifest.json does not decode: " + err.Error())
	}
	ver, err := semver.NewVersion(manifest.ManifestVersion)
	if err != nil {
		return fail("manifest_version is not a semantic version: " + manifest.ManifestVersion)
	}
	if !manifestRange.Check(ver) {
		return fail(fmt.Sprintf("manifest_version %s outside supported range %s", ver, manifestRange))
	}

	rawRecord, ok := files[bundle.RecordFile]
	if !ok {
		return fail("record.json is missing")
	}
	var rec evidence.Record
	if err := json.Unmarshal(rawRecord, &rec); err != nil {
		return fail("record.json does not decode: " + err.Error())
	}
	if _, ok := files[bundle.FreshnessFile]; !ok {
		return fail("FRESHNESS.json is missing")
	}

	result.Steps = append(result.Steps, Step{Name: "read_bundle", Passed: true})
	return &manifest, &rec, true
}

// stepRecordHash recomputes the record's seal and checks record.json
// against its manifest entry.
func (v *Verifier) stepRecordHash(result *Result, m *bundle.Manifest, rec *evidence.Record, files map[string][]byte) bool {
	step := Step{Name: "record_hash"}
	data := files[bundle.RecordFile]

	if got := canonical.HashBytes(data); got != m.Contents.Record.SHA256 {
		step.Message = "record.json does not match its manifest entry"
		step.Expected = m.Contents.Record.SHA256
		step.Actual = got
		result.Steps = append(result.Steps, step)
		return false
	}
	computed, err := rec.ComputeSeal()
	if err != nil {
		step.Message = "seal recomputation failed: " + err.Error()
		result.Steps = append(result.Steps, step)
		return false
	}
	if computed != rec.Seal {
		step.Message = "record seal does not match record content"
		step.Expected = rec.Seal
		step.Actual = computed
		result.Steps = append(result.Steps, step)
		return false
	}
	step.Passed = true
	result.Steps = append(result.Steps, step)
	return true
}

// stepArtifactHashes checks every content file against its manifest entry.
func (v *Verifier) stepArtifactHashes(result *Result, m *bundle.Manifest, _ *evidence.Record, files map[string][]byte) bool {
	step := Step{Name: "artifact_hashes"}

	entries := append([]bundle.FileEntry{m.Contents.Decision, m.Contents.Outcome, m.Contents.Freshness}, m.Contents.Inputs...)
	entries = append(entries, m.Contents.Lineage...)
	for _, entry := range entries {
		data, ok := files[entry.Path]
		if !ok {
			step.Message = "bundle file missing: " + entry.Path
			result.Steps = append(result.Steps, step)
			return false
		}
		if got := canonical.HashBytes(data); got != entry.SHA256 {
			step.Message = "bundle file does not match its manifest entry: " + entry.Path
			step.Expected = entry.SHA256
			step.Actual = got
			result.Steps = append(result.Steps, step)
			return false
		}
		if int64(len(data)) != entry.SizeBytes {
			step.Message = "bundle file size mismatch: " + entry.Path
			step.Expected = fmt.Sprintf("%d", entry.SizeBytes)
			step.Actual = fmt.Sprintf("%d", len(data))
			result.Steps = append(result.Steps, step)
			return false
		}
	}
	step.Passed = true
	result.Steps = append(result.Steps, step)
	return true
}

// stepManifestHash recomputes the manifest hash and the bundle hash.
func (v *Verifier) stepManifestHash(result *Result, m *bundle.Manifest, _ *evidence.Record, _ map[string][]byte) bool {
	step := Step{Name: "manifest_hash"}

	recomputed, err := bundle.ComputeManifestHash(m)
	if err != nil {
		step.Message = "manifest hash recomputation failed: " + err.Error()
		result.Steps = append(result.Steps, step)
		return false
	}
	if recomputed != m.Integrity.ManifestHash {
		step.Message = "manifest hash does not match manifest content"
		step.Expected = m.Integrity.ManifestHash
		step.Actual = recomputed
		result.Steps = append(result.Steps, step)
		return false
	}

	// Bundle hash covers the content entries, freshness excluded.
	hashes := []string{m.Contents.Record.SHA256, m.Contents.Decision.SHA256, m.Contents.Outcome.SHA256}
	for _, e := range m.Contents.Inputs {
		hashes = append(hashes, e.SHA256)
	}
	for _, e := range m.Contents.Lineage {
		hashes = append(hashes, e.SHA256)
	}
	sort.Strings(hashes)
	bundleHash := canonical.HashBytes([]byte(strings.Join(hashes, "")))
	if bundleHash != m.Integrity.BundleHash {
		step.Message = "bundle hash does not match content hashes"
		step.Expected = m.Integrity.BundleHash
		step.Actual = bundleHash
		result.Steps = append(result.Steps, step)
		return false
	}
	step.Passed = true
	result.Steps = append(result.Steps, step)
	return true
}

// stepLineage checks lineage records: valid seals, consecutive links,
// non-decreasing timestamps, and a final link into the main record.
func (v *Verifier) stepLineage(result *Result, m *bundle.Manifest, rec *evidence.Record, files map[string][]byte) bool {
	step := Step{Name: "lineage"}
	fail := func(msg string) bool {
		step.Message = msg
		result.Steps = append(result.Steps, step)
		return false
	}

	ancestors := make([]*evidence.Record, 0, len(m.Contents.Lineage))
	for _, entry := range m.Contents.Lineage {
		var ancestor evidence.Record
		if err := json.Unmarshal(files[entry.Path], &ancestor); err != nil {
			return fail("lineage file does not decode: " + entry.Path)
		}
		ok, err := ancestor.VerifySeal()
		if err != nil {
			return fail("lineage seal recomputation failed: " + err.Error())
		}
		if !ok {
			return fail("lineage record seal mismatch: " + ancestor.RecordID.String())
		}
		ancestors = append(ancestors, &ancestor)
	}

	// Oldest first: ancestors[0] is the lineage root.
	for i := 1; i < len(ancestors); i++ {
		prev := ancestors[i].PreviousRecordID
		if prev == nil || *prev != ancestors[i-1].RecordID {
			return fail(fmt.Sprintf("lineage break between %s and %s",
				ancestors[i-1].RecordID, ancestors[i].RecordID))
		}
		if ancestors[i].RecordedAt.Before(ancestors[i-1].RecordedAt) {
			return fail("lineage timestamps go backwards at " + ancestors[i].RecordID.String())
		}
	}
	if len(ancestors) > 0 {
		newest := ancestors[len(ancestors)-1]
		if rec.PreviousRecordID == nil || *rec.PreviousRecordID != newest.RecordID {
			return fail("record does not link to the newest lineage entry")
		}
		if rec.RecordedAt.Before(newest.RecordedAt) {
			return fail("record predates its lineage")
		}
	} else if rec.PreviousRecordID != nil {
		return fail("record references a previous record the bundle does not include")
	}

	step.Passed = true
	result.Steps = append(result.Steps, step)
	return true
}

// stepReferences cross-checks every identifier the manifest and record
// claim against each other.
func (v *Verifier) stepReferences(result *Result, m *bundle.Manifest, rec *evidence.Record, files map[string][]byte) bool {
	step := Step{Name: "references"}
	fail := func(msg, expected, actual string) bool {
		step.Message = msg
		step.Expected = expected
		step.Actual = actual
		result.Steps = append(result.Steps, step)
		return false
	}

	if m.RecordID != rec.RecordID.String() {
		return fail("manifest record_id does not match record.json", m.RecordID, rec.RecordID.String())
	}
	if m.Contents.Decision.Ref != rec.DecisionRef {
		return fail("decision artifact reference mismatch", rec.DecisionRef, m.Contents.Decision.Ref)
	}
	if m.Contents.Outcome.Ref != rec.OutcomeRef {
		return fail("outcome artifact reference mismatch", rec.OutcomeRef, m.Contents.Outcome.Ref)
	}
	if len(m.Contents.Inputs) != len(rec.InputRefs) {
		return fail("input artifact count mismatch",
			fmt.Sprintf("%d", len(rec.InputRefs)), fmt.Sprintf("%d", len(m.Contents.Inputs)))
	}
	for i, entry := range m.Contents.Inputs {
		if entry.Ref != rec.InputRefs[i] {
			return fail(fmt.Sprintf("input artifact reference mismatch at %d", i), rec.InputRefs[i], entry.Ref)
		}
	}
	for _, entry := range m.Contents.Lineage {
		var ancestor evidence.Record
		if err := json.Unmarshal(files[entry.Path], &ancestor); err != nil {
			return fail("lineage file does not decode: "+entry.Path, "", "")
		}
		if entry.Ref != ancestor.RecordID.String() {
			return fail("lineage reference mismatch for "+entry.Path, ancestor.RecordID.String(), entry.Ref)
		}
	}

	step.Passed = true
	result.Steps = append(result.Steps, step)
	return true
}
