package bundle

import "time"

// SourceFreshness records when one upstream data source was last updated.
type SourceFreshness struct {
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description,omitempty"`
}

// FreshnessManifest is FRESHNESS.json: the export moment, the staleness
// budget, and per-source last-update timestamps. It is the only bundle
// file allowed to differ between repeat exports of the same record.
type FreshnessManifest struct {
	GeneratedAt         time.Time                  `json:"generated_at"`
	MaxStalenessSeconds int64                      `json:"max_staleness_seconds"`
	Sources             map[string]SourceFreshness `json:"sources"`
}
