package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StalenessProfile is a named set of per-source freshness budgets, loaded
// from YAML. Sources absent from the profile fall back to the bundle's
// default budget.
type StalenessProfile struct {
	Name    string                  `yaml:"name" json:"name"`
	Sources map[string]SourceBudget `yaml:"sources" json:"sources"`
}

// SourceBudget is the staleness budget for one data source.
type SourceBudget struct {
	MaxStalenessSeconds int64  `yaml:"max_staleness_seconds" json:"max_staleness_seconds"`
	Description         string `yaml:"description,omitempty" json:"description,omitempty"`
}

// LoadStalenessProfile reads and validates a profile from a YAML file.
func LoadStalenessProfile(path string) (*StalenessProfile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-configured
	if err != nil {
		return nil, fmt.Errorf("config: read staleness profile %s: %w", path, err)
	}
	var profile StalenessProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("config: parse staleness profile %s: %w", path, err)
	}
	if profile.Name == "" {
		return nil, fmt.Errorf("config: staleness profile %s has no name", path)
	}
	for source, budget := range profile.Sources {
		if budget.MaxStalenessSeconds <= 0 {
			return nil, fmt.Errorf("config: source %s in profile %s has non-positive budget", source, profile.Name)
		}
	}
	return &profile, nil
}

// Overrides flattens the profile into the per-source override map the
// freshness checker consumes.
func (p *StalenessProfile) Overrides() map[string]int64 {
	out := make(map[string]int64, len(p.Sources))
	for source, budget := range p.Sources {
		out[source] = budget.MaxStalenessSeconds
	}
	return out
}
