package verifier

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/oversight-labs/proofvault/pkg/bundle"
)

// StaleSource names one data source whose age exceeds its staleness budget.
type StaleSource struct {
	Source              string `json:"source"`
	AgeSeconds          int64  `json:"age_seconds"`
	MaxStalenessSeconds int64  `json:"max_staleness_seconds"`
	ExceededBySeconds   int64  `json:"exceeded_by_seconds"`
}

// FreshnessResult is the outcome of a staleness check, separate from the
// integrity verdict: a bundle can be cryptographically valid and still be
// too old to act on.
type FreshnessResult struct {
	Fresh       bool          `json:"fresh"`
	CheckedAt   time.Time     `json:"checked_at"`
	GeneratedAt time.Time     `json:"generated_at"`
	Stale       []StaleSource `json:"stale,omitempty"`
}

// CheckFreshness evaluates FRESHNESS.json against now. Budgets come from
// the manifest; overrides replaces the budget per source name when set.
// The check fails closed: a missing or unreadable freshness manifest is an
// error, never a pass.
func CheckFreshness(files map[string][]byte, now time.Time, overrides map[string]int64) (*FreshnessResult, error) {
	raw, ok := files[bundle.FreshnessFile]
	if !ok {
		return nil, fmt.Errorf("verifier: %s is missing; cannot establish freshness", bundle.FreshnessFile)
	}
	var fresh bundle.FreshnessManifest
	if err := json.Unmarshal(raw, &fresh); err != nil {
		return nil, fmt.Errorf("verifier: decode %s: %w", bundle.FreshnessFile, err)
	}
	if fresh.GeneratedAt.IsZero() {
		return nil, fmt.Errorf("verifier: %s has no generated_at", bundle.FreshnessFile)
	}

	result := &FreshnessResult{Fresh: true, CheckedAt: now.UTC(), GeneratedAt: fresh.GeneratedAt}

	check := func(source string, at time.Time) {
		budget := fresh.MaxStalenessSeconds
		if override, ok := overrides[source]; ok {
			budget = override
		}
		age := int64(now.Sub(at) / time.Second)
		if age > budget {
			result.Fresh = false
			result.Stale = append(result.Stale, StaleSource{
				Source:              source,
				AgeSeconds:          age,
				MaxStalenessSeconds: budget,
				ExceededBySeconds:   age - budget,
			})
		}
	}

	check("bundle", fresh.GeneratedAt)
	names := make([]string, 0, len(fresh.Sources))
	for name := range fresh.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		src := fresh.Sources[name]
		if src.Timestamp.IsZero() {
			return nil, fmt.Errorf("verifier: source %s has no timestamp", name)
		}
		check(name, src.Timestamp)
	}
	return result, nil
}
