package bundle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oversight-labs/proofvault/pkg/canonical"
	"github.com/oversight-labs/proofvault/pkg/evidence"
	"github.com/oversight-labs/proofvault/pkg/observability"
)

// RecordSource supplies sealed records and lineage walks. *evidence.Store
// satisfies it.
type RecordSource interface {
	Get(ctx context.Context, id uuid.UUID, verify bool) (*evidence.Record, error)
	GetLineage(ctx context.Context, id uuid.UUID) ([]*evidence.Record, error)
}

// ArtifactSource resolves artifact keys to bytes. *evidence.ArtifactStore
// satisfies it.
type ArtifactSource interface {
	Get(key string) ([]byte, error)
}

// Options configures an Exporter.
type Options struct {
	Records   RecordSource
	Artifacts ArtifactSource
	Signer    Signer
	// MaxStalenessSeconds is the default staleness budget written into
	// FRESHNESS.json. Zero means 24 hours.
	MaxStalenessSeconds int64
	Clock               func() time.Time
	Logger              *slog.Logger
	Metrics             *observability.CoreMetrics
}

// Exporter writes offline-verifiable proof bundles.
type Exporter struct {
	records      RecordSource
	artifacts    ArtifactSource
	signer       Signer
	maxStaleness int64
	clock        func() time.Time
	logger       *slog.Logger
	metrics      *observability.CoreMetrics
}

const defaultMaxStalenessSeconds = 24 * 60 * 60

// NewExporter builds an exporter from opts. Records and Artifacts are
// required.
func NewExporter(opts Options) (*Exporter, error) {
	if opts.Records == nil || opts.Artifacts == nil {
		return nil, fmt.Errorf("bundle: exporter needs a record source and an artifact source")
	}
	e := &Exporter{
		records:      opts.Records,
		artifacts:    opts.Artifacts,
		signer:       opts.Signer,
		maxStaleness: opts.MaxStalenessSeconds,
		clock:        opts.Clock,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}
	if e.maxStaleness <= 0 {
		e.maxStaleness = defaultMaxStalenessSeconds
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e, nil
}

// bundleFile is one content file staged before anything touches disk.
type bundleFile struct {
	entry FileEntry
	data  []byte
}

// Export writes a complete proof bundle for recordID into destDir and
// returns the manifest. The record's seal is verified first; a tamper or a
// lineage break aborts the export with nothing written.
func (e *Exporter) Export(ctx context.Context, recordID uuid.UUID, destDir string) (*Manifest, error) {
	rec, err := e.records.Get(ctx, recordID, true)
	if err != nil {
		return nil, fmt.Errorf("bundle: load record: %w", err)
	}
	lineage, err := e.records.GetLineage(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("bundle: walk lineage: %w", err)
	}

	files := make([]bundleFile, 0, 4+len(rec.InputRefs)+len(lineage))

	recordJSON, err := canonical.Canonical(rec)
	if err != nil {
		return nil, fmt.Errorf("bundle: encode record: %w", err)
	}
	files = append(files, stage(RecordFile, rec.RecordID.String(), recordJSON))

	decision, err := e.stageArtifact(DecisionFile, rec.DecisionRef)
	if err != nil {
		return nil, err
	}
	files = append(files, decision)

	outcome, err := e.stageArtifact(OutcomeFile, rec.OutcomeRef)
	if err != nil {
		return nil, err
	}
	files = append(files, outcome)

	inputs := []FileEntry{}
	for i, ref := range rec.InputRefs {
		name := fmt.Sprintf("%s/%03d_%s", InputsDir, i, shortRef(ref))
		staged, err := e.stageArtifact(name, ref)
		if err != nil {
			return nil, err
		}
		files = append(files, staged)
		inputs = append(inputs, staged.entry)
	}

	// Lineage files cover the ancestors; the record itself is the final
	// element of the walk and already lives in record.json.
	lineageEntries := []FileEntry{}
	for i, ancestor := range lineage[:len(lineage)-1] {
		data, err := canonical.Canonical(ancestor)
		if err != nil {
			return nil, fmt.Errorf("bundle: encode lineage record %s: %w", ancestor.RecordID, err)
		}
		name := fmt.Sprintf("%s/%03d_%s.json", LineageDir, i, ancestor.RecordID)
		staged := stage(name, ancestor.RecordID.String(), data)
		files = append(files, staged)
		lineageEntries = append(lineageEntries, staged.entry)
	}

	bundleHash := computeBundleHash(files)
	bundleID := "bundle-" + bundleHash[:12]

	freshJSON, freshEntry, err := e.stageFreshness(lineage)
	if err != nil {
		return nil, err
	}

	manifest := &Manifest{
		BundleID:        bundleID,
		ManifestVersion: ManifestVersion,
		RecordID:        rec.RecordID.String(),
		Contents: Contents{
			Record:    files[0].entry,
			Decision:  decision.entry,
			Outcome:   outcome.entry,
			Inputs:    inputs,
			Lineage:   lineageEntries,
			Freshness: freshEntry,
		},
		Integrity: Integrity{BundleHash: bundleHash},
	}
	manifestHash, err := ComputeManifestHash(manifest)
	if err != nil {
		return nil, fmt.Errorf("bundle: hash manifest: %w", err)
	}
	manifest.Integrity.ManifestHash = manifestHash
	if e.signer != nil {
		sig, err := e.signer.Sign([]byte(manifestHash))
		if err != nil {
			return nil, fmt.Errorf("bundle: sign manifest: %w", err)
		}
		manifest.Integrity.SignatureKeyID = e.signer.KeyID()
		manifest.Integrity.Signature = sig
	}
	manifestJSON, err := canonical.Canonical(manifest)
	if err != nil {
		return nil, fmt.Errorf("bundle: encode manifest: %w", err)
	}

	if err := writeBundle(destDir, files, manifestJSON, freshJSON); err != nil {
		return nil, err
	}

	e.metrics.BundleExported(ctx)
	e.logger.Info("proof bundle exported",
		"bundle_id", bundleID, "record_id", rec.RecordID, "dest", destDir, "files", len(files)+2)
	return manifest, nil
}

// stageArtifact loads an artifact and canonicalizes it when it is JSON;
// non-JSON bytes are carried verbatim under a .bin name.
func (e *Exporter) stageArtifact(basename, ref string) (bundleFile, error) {
	data, err := e.artifacts.Get(ref)
	if err != nil {
		return bundleFile{}, fmt.Errorf("bundle: load artifact %s: %w", ref, err)
	}
	name := basename
	if canon, err := canonical.CanonicalizeJSON(data); err == nil {
		data = canon
		if !strings.HasSuffix(name, ".json") {
			name += ".json"
		}
	} else if !strings.Contains(filepath.Base(name), ".") {
		name += ".bin"
	}
	return stage(name, ref, data), nil
}

func (e *Exporter) stageFreshness(lineage []*evidence.Record) ([]byte, FileEntry, error) {
	sources := make(map[string]SourceFreshness)
	for _, rec := range lineage {
		cur, ok := sources[rec.SourceSystem]
		if !ok || rec.RecordedAt.After(cur.Timestamp) {
			sources[rec.SourceSystem] = SourceFreshness{
				Timestamp:   rec.RecordedAt,
				Description: "latest evidence record from " + rec.SourceSystem,
			}
		}
	}
	fresh := &FreshnessManifest{
		GeneratedAt:         e.clock().UTC(),
		MaxStalenessSeconds: e.maxStaleness,
		Sources:             sources,
	}
	data, err := canonical.Canonical(fresh)
	if err != nil {
		return nil, FileEntry{}, fmt.Errorf("bundle: encode freshness manifest: %w", err)
	}
	staged := stage(FreshnessFile, "", data)
	return data, staged.entry, nil
}

func stage(path, ref string, data []byte) bundleFile {
	return bundleFile{
		entry: FileEntry{
			Path:      path,
			Ref:       ref,
			SHA256:    canonical.HashBytes(data),
			SizeBytes: int64(len(data)),
		},
		data: data,
	}
}

// computeBundleHash hashes the sorted content-file hashes. The freshness
// manifest and the manifest itself are excluded so the result is stable
// across repeat exports.
func computeBundleHash(files []bundleFile) string {
	hashes := make([]string, len(files))
	for i, f := range files {
		hashes[i] = f.entry.SHA256
	}
	sort.Strings(hashes)
	return canonical.HashBytes([]byte(strings.Join(hashes, "")))
}

func shortRef(ref string) string {
	hexPart := strings.TrimPrefix(ref, canonical.ArtifactKeyPrefix)
	if len(hexPart) > 12 {
		hexPart = hexPart[:12]
	}
	return hexPart
}

func writeBundle(destDir string, files []bundleFile, manifestJSON, freshJSON []byte) error {
	for _, sub := range []string{destDir, filepath.Join(destDir, InputsDir), filepath.Join(destDir, LineageDir)} {
		if err := os.MkdirAll(sub, 0o750); err != nil {
			return fmt.Errorf("bundle: create %s: %w", sub, err)
		}
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(destDir, filepath.FromSlash(f.entry.Path)), f.data, 0o640); err != nil {
			return fmt.Errorf("bundle: write %s: %w", f.entry.Path, err)
		}
	}
	if err := os.WriteFile(filepath.Join(destDir, FreshnessFile), freshJSON, 0o640); err != nil {
		return fmt.Errorf("bundle: write %s: %w", FreshnessFile, err)
	}
	if err := os.WriteFile(filepath.Join(destDir, ManifestFile), manifestJSON, 0o640); err != nil {
		return fmt.Errorf("bundle: write %s: %w", ManifestFile, err)
	}
	return nil
}
