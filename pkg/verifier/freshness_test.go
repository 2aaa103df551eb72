package verifier_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oversight-labs/proofvault/pkg/bundle"
	"github.com/oversight-labs/proofvault/pkg/canonical"
	"github.com/oversight-labs/proofvault/pkg/verifier"
)

func freshnessFiles(t *testing.T, generatedAt time.Time, budget int64, sources map[string]bundle.SourceFreshness) map[string][]byte {
	t.Helper()
	raw, err := canonical.Canonical(&bundle.FreshnessManifest{
		GeneratedAt:         generatedAt,
		MaxStalenessSeconds: budget,
		Sources:             sources,
	})
	require.NoError(t, err)
	return map[string][]byte{bundle.FreshnessFile: raw}
}

func TestCheckFreshness_FreshBundle(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	files := freshnessFiles(t, now.Add(-time.Hour), 24*60*60, map[string]bundle.SourceFreshness{
		"claims-lane": {Timestamp: now.Add(-2 * time.Hour)},
	})

	result, err := verifier.CheckFreshness(files, now, nil)
	require.NoError(t, err)
	assert.True(t, result.Fresh)
	assert.Empty(t, result.Stale)
}

func TestCheckFreshness_StaleSourceReportsExcess(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	files := freshnessFiles(t, now.Add(-time.Hour), 3600, map[string]bundle.SourceFreshness{
		"claims-lane": {Timestamp: now.Add(-2 * time.Hour)},
	})

	result, err := verifier.CheckFreshness(files, now, nil)
	require.NoError(t, err)
	assert.False(t, result.Fresh)
	require.Len(t, result.Stale, 1)
	stale := result.Stale[0]
	assert.Equal(t, "claims-lane", stale.Source)
	assert.Equal(t, int64(7200), stale.AgeSeconds)
	assert.Equal(t, int64(3600), stale.MaxStalenessSeconds)
	assert.Equal(t, int64(3600), stale.ExceededBySeconds)
}

func TestCheckFreshness_StaleExportTime(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	files := freshnessFiles(t, now.Add(-48*time.Hour), 24*60*60, nil)

	result, err := verifier.CheckFreshness(files, now, nil)
	require.NoError(t, err)
	assert.False(t, result.Fresh)
	require.Len(t, result.Stale, 1)
	assert.Equal(t, "bundle", result.Stale[0].Source)
	assert.Greater(t, result.Stale[0].ExceededBySeconds, int64(0))
}

func TestCheckFreshness_PerSourceOverride(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	files := freshnessFiles(t, now.Add(-time.Minute), 24*60*60, map[string]bundle.SourceFreshness{
		"market-data": {Timestamp: now.Add(-10 * time.Minute)},
	})

	// Market data gets a five minute budget, not the bundle default.
	result, err := verifier.CheckFreshness(files, now, map[string]int64{"market-data": 300})
	require.NoError(t, err)
	assert.False(t, result.Fresh)
	require.Len(t, result.Stale, 1)
	assert.Equal(t, "market-data", result.Stale[0].Source)
	assert.Equal(t, int64(300), result.Stale[0].MaxStalenessSeconds)
}

func TestCheckFreshness_MissingManifestFailsClosed(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	_, err := verifier.CheckFreshness(map[string][]byte{}, now, nil)
	require.Error(t, err)
}

func TestCheckFreshness_GarbageManifestFailsClosed(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	files := map[string][]byte{bundle.FreshnessFile: []byte("{broken")}
	_, err := verifier.CheckFreshness(files, now, nil)
	require.Error(t, err)
}

func TestCheckFreshness_ExportedBundlePasses(t *testing.T) {
	files := exportFixture(t)
	now := time.Date(2026, 6, 1, 13, 0, 0, 0, time.UTC)

	result, err := verifier.CheckFreshness(files, now, nil)
	require.NoError(t, err)
	assert.True(t, result.Fresh)
}
