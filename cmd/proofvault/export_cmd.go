package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/oversight-labs/proofvault/pkg/bundle"
	"github.com/oversight-labs/proofvault/pkg/config"
)

// runExportCmd implements `proofvault export`.
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		recordID  string
		outDir    string
		staleness int64
	)
	cmd.StringVar(&recordID, "record", "", "Record UUID to export (REQUIRED)")
	cmd.StringVar(&outDir, "out", "", "Destination directory (REQUIRED)")
	cmd.Int64Var(&staleness, "staleness", 0, "Staleness budget in seconds (default from config)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if recordID == "" || outDir == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --record and --out are required")
		return 2
	}
	id, err := uuid.Parse(recordID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: --record is not a UUID: %v\n", err)
		return 2
	}

	cfg := config.Load()
	logger := newLogger(cfg, stderr)
	store, cleanup, err := openStore(cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open store: %v\n", err)
		return 2
	}
	defer cleanup()

	maxStaleness := cfg.MaxStalenessSeconds
	if staleness > 0 {
		maxStaleness = staleness
	}
	exporter, err := bundle.NewExporter(bundle.Options{
		Records:             store,
		Artifacts:           store.Artifacts(),
		MaxStalenessSeconds: maxStaleness,
		Logger:              logger,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	manifest, err := exporter.Export(context.Background(), id, outDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: export failed: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "Exported %s\n", manifest.BundleID)
	_, _ = fmt.Fprintf(stdout, "  record:      %s\n", manifest.RecordID)
	_, _ = fmt.Fprintf(stdout, "  bundle hash: %s\n", manifest.Integrity.BundleHash)
	_, _ = fmt.Fprintf(stdout, "  files:       %d inputs, %d lineage\n",
		len(manifest.Contents.Inputs), len(manifest.Contents.Lineage))
	return 0
}
