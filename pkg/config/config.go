// Package config loads runtime configuration from the environment and
// staleness profiles from YAML files.
package config

import (
	"os"
	"strconv"
)

// Config holds process configuration.
type Config struct {
	// DataDir is the root for the store snapshot and artifact blobs.
	DataDir string
	// AuditDBPath is the sqlite audit trail location. Empty selects the
	// JSONL file trail under DataDir.
	AuditDBPath string
	LogLevel    string
	// OTLPEndpoint enables telemetry export when set.
	OTLPEndpoint string
	// MaxStalenessSeconds is the default freshness budget for exported
	// bundles.
	MaxStalenessSeconds int64
	// StalenessProfile is an optional YAML file with per-source budgets.
	StalenessProfile string
}

// Load reads configuration from PROOFVAULT_* environment variables.
func Load() *Config {
	dataDir := os.Getenv("PROOFVAULT_DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}

	logLevel := os.Getenv("PROOFVAULT_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	maxStaleness := int64(24 * 60 * 60)
	if raw := os.Getenv("PROOFVAULT_MAX_STALENESS_SECONDS"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil && parsed > 0 {
			maxStaleness = parsed
		}
	}

	return &Config{
		DataDir:             dataDir,
		AuditDBPath:         os.Getenv("PROOFVAULT_AUDIT_DB"),
		LogLevel:            logLevel,
		OTLPEndpoint:        os.Getenv("PROOFVAULT_OTLP_ENDPOINT"),
		MaxStalenessSeconds: maxStaleness,
		StalenessProfile:    os.Getenv("PROOFVAULT_STALENESS_PROFILE"),
	}
}
