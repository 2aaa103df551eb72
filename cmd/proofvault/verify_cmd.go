package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/oversight-labs/proofvault/pkg/config"
	"github.com/oversight-labs/proofvault/pkg/verifier"
)

// runVerifyCmd implements `proofvault verify`: full offline verification
// of a bundle directory, integrity steps first, then the staleness check.
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		bundleDir   string
		jsonOutput  bool
		jsonOutFile string
		profilePath string
		skipFresh   bool
	)
	cmd.StringVar(&bundleDir, "bundle", "", "Path to bundle directory (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the report as JSON to stdout")
	cmd.StringVar(&jsonOutFile, "json-out", "", "Write the report to a file")
	cmd.StringVar(&profilePath, "profile", "", "YAML staleness profile with per-source budgets")
	cmd.BoolVar(&skipFresh, "skip-freshness", false, "Verify integrity only")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if bundleDir == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --bundle is required")
		return 2
	}

	v, err := verifier.New(verifier.Options{Logger: newLogger(config.Load(), stderr)})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	files, err := verifier.LoadDir(bundleDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	result := v.Verify(context.Background(), files)

	report := struct {
		*verifier.Result
		Freshness *verifier.FreshnessResult `json:"freshness,omitempty"`
	}{Result: result}

	if !skipFresh && result.Valid() {
		var overrides map[string]int64
		if profilePath != "" {
			profile, err := config.LoadStalenessProfile(profilePath)
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
				return 2
			}
			overrides = profile.Overrides()
		}
		fresh, err := verifier.CheckFreshness(files, time.Now(), overrides)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: freshness check failed closed: %v\n", err)
			return 1
		}
		report.Freshness = fresh
	}

	if jsonOutFile != "" {
		data, _ := json.MarshalIndent(report, "", "  ")
		if err := os.WriteFile(jsonOutFile, data, 0o644); err != nil { //nolint:gosec // operator-chosen report path
			_, _ = fmt.Fprintf(stderr, "Error: cannot write report: %v\n", err)
			return 2
		}
	}
	if jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		printResult(stdout, result)
		if report.Freshness != nil {
			printFreshness(stdout, report.Freshness)
		}
	}

	if !result.Valid() {
		return 1
	}
	if report.Freshness != nil && !report.Freshness.Fresh {
		return 1
	}
	return 0
}

func printResult(w io.Writer, result *verifier.Result) {
	for _, step := range result.Steps {
		mark := "PASS"
		if !step.Passed {
			mark = "FAIL"
		}
		line := fmt.Sprintf("  [%s] %s", mark, step.Name)
		if step.Message != "" {
			line += ": " + step.Message
		}
		_, _ = fmt.Fprintln(w, line)
	}
	_, _ = fmt.Fprintf(w, "Outcome: %s\n", result.Outcome)
}

func printFreshness(w io.Writer, fresh *verifier.FreshnessResult) {
	if fresh.Fresh {
		_, _ = fmt.Fprintln(w, "Freshness: ok")
		return
	}
	_, _ = fmt.Fprintln(w, "Freshness: STALE")
	for _, s := range fresh.Stale {
		_, _ = fmt.Fprintf(w, "  %s: %ds old, budget %ds, exceeded by %ds\n",
			s.Source, s.AgeSeconds, s.MaxStalenessSeconds, s.ExceededBySeconds)
	}
}

// runFreshnessCmd implements `proofvault freshness`: the staleness check
// alone, without the integrity steps.
func runFreshnessCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("freshness", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		bundleDir   string
		profilePath string
	)
	cmd.StringVar(&bundleDir, "bundle", "", "Path to bundle directory (REQUIRED)")
	cmd.StringVar(&profilePath, "profile", "", "YAML staleness profile with per-source budgets")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if bundleDir == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --bundle is required")
		return 2
	}

	files, err := verifier.LoadDir(bundleDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	var overrides map[string]int64
	if profilePath != "" {
		profile, err := config.LoadStalenessProfile(profilePath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		overrides = profile.Overrides()
	}

	fresh, err := verifier.CheckFreshness(files, time.Now(), overrides)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: freshness check failed closed: %v\n", err)
		return 1
	}
	printFreshness(stdout, fresh)
	if !fresh.Fresh {
		return 1
	}
	return 0
}
