// Command proofvault manages the tamper-evident evidence store: exporting
// offline-verifiable proof bundles, verifying them, and inspecting the
// per-scope hash chains.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/oversight-labs/proofvault/pkg/audit"
	"github.com/oversight-labs/proofvault/pkg/config"
	"github.com/oversight-labs/proofvault/pkg/evidence"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the dispatcher, split out for testing.
//
// Exit codes:
//
//	0 = success
//	1 = operation reported a failure (tamper, stale, invalid bundle)
//	2 = usage or runtime error
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "freshness":
		return runFreshnessCmd(args[2:], stdout, stderr)
	case "chain":
		return runChainCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, `proofvault - tamper-evident evidence store

Usage:
  proofvault export    --record <uuid> --out <dir>   Export an offline proof bundle
  proofvault verify    --bundle <dir> [--json]       Verify a bundle offline
  proofvault freshness --bundle <dir>                Check a bundle's staleness budget
  proofvault chain     --scope <scope>               Verify a hash chain and print its merkle root

Configuration comes from PROOFVAULT_* environment variables; see
PROOFVAULT_DATA_DIR, PROOFVAULT_AUDIT_DB, PROOFVAULT_LOG_LEVEL.`)
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToUpper(raw) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openStore assembles the store from configuration: snapshot and artifact
// blobs under DataDir, audit trail on sqlite when configured, JSONL
// otherwise.
func openStore(cfg *config.Config, logger *slog.Logger) (*evidence.Store, func(), error) {
	var trail audit.Trail
	cleanup := func() {}
	if cfg.AuditDBPath != "" {
		sqlTrail, err := audit.OpenSQLiteTrail(cfg.AuditDBPath)
		if err != nil {
			return nil, nil, err
		}
		trail = sqlTrail
		cleanup = func() { _ = sqlTrail.Close() }
	} else {
		fileTrail, err := audit.NewFileTrail(filepath.Join(cfg.DataDir, "audit.jsonl"))
		if err != nil {
			return nil, nil, err
		}
		trail = fileTrail
	}

	store, err := evidence.NewStore(evidence.Options{
		Path:        filepath.Join(cfg.DataDir, "store.json"),
		ArtifactDir: filepath.Join(cfg.DataDir, "artifacts"),
		Trail:       trail,
		Logger:      logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return store, cleanup, nil
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}))
}
