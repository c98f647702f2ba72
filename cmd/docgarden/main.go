// Package main provides the docgarden CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"docgarden/internal/apply"
	"docgarden/internal/bundle"
	"docgarden/internal/facts"
	"docgarden/internal/garden"
	"docgarden/internal/manifest"
	"docgarden/internal/plan"
	"docgarden/internal/policy"
	"docgarden/internal/validate"
)

// Version is the current docgarden version.
var Version = "0.3.1"

var (
	rootDir string
	verbose bool
	log     zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:     "docgarden",
	Short:   "docgarden - documentation tree reconciliation",
	Long:    `docgarden keeps a repository's docs/ tree in sync with a declared manifest and policy: it scans repository facts, plans corrective actions, applies them idempotently, validates the result, and can drive a bounded repair loop.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		log = zerolog.New(output).With().Timestamp().Logger()
		if verbose {
			log = log.Level(zerolog.DebugLevel)
		} else {
			log = log.Level(zerolog.InfoLevel)
		}
	},
}

var (
	scanOutput string

	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Scan repository facts",
		Long: `Scan the repository for the signals documentation planning depends
on: languages, build manifests, CI configuration, entrypoints, top-level
modules, docs state, and content digests. Writes a facts snapshot JSON.`,
		RunE: runScan,
	}
)

var (
	planMode   string
	planFacts  string
	planOutput string

	planCmd = &cobra.Command{
		Use:   "plan",
		Short: "Plan corrective documentation actions",
		Long: `Diff the desired documentation state (policy + manifest) against the
repository and emit a plan of corrective actions.

Modes:
  bootstrap           first-time setup, scaffolds everything
  audit               read-only drift detection (default)
  apply-safe          plans non-destructive changes
  apply-with-archive  additionally plans archive moves
  repair              machine-repairable subset, used by the garden loop`,
		RunE: runPlan,
	}
)

var (
	applyPlanPath string
	applyDryRun   bool

	applyCmd = &cobra.Command{
		Use:   "apply",
		Short: "Apply a previously generated plan",
		Long: `Execute every action in a plan file idempotently. Per-action failures
are isolated and recorded in the apply report; the exit code is non-zero
only when at least one action errored.`,
		RunE: runApply,
	}
)

var (
	validateFacts   string
	validateOutput  string
	failOnDrift     bool
	failOnFreshness bool

	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Validate the documentation tree",
		Long: `Check required files, internal links, index coverage, metadata
freshness, topology, legacy coverage, quality gates and plan drift.
Writes a validation report and exits non-zero when validation fails.`,
		RunE: runValidate,
	}
)

var (
	gardenPlanMode     string
	gardenApplyMode    string
	gardenSkipValidate bool
	gardenFailDrift    bool
	gardenNoFailDrift  bool
	gardenFailFresh    bool
	gardenNoFailFresh  bool
	gardenReportJSON   string
	gardenReportMD     string
	gardenDryRun       bool

	gardenCmd = &cobra.Command{
		Use:   "garden",
		Short: "Run the automated gardening loop",
		Long: `Run the full scan -> plan -> apply -> validate pipeline, repairing
machine-fixable drift for up to the configured number of iterations.
Writes a JSON and Markdown garden report and records the run in the
gardening history database.`,
		RunE: runGarden,
	}
)

var (
	exportOutput string

	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Export documentation artifacts as a bundle",
		Long: `Collect the managed docs, configuration files and generated reports
into a single zstd-compressed, digest-verified bundle file.`,
		RunE: runExport,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", ".", "Repository root")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")

	scanCmd.Flags().StringVar(&scanOutput, "output", policy.DefaultFactsPath, "Facts output path (relative to root)")

	planCmd.Flags().StringVar(&planMode, "mode", "", "Planning mode (defaults to policy mode_default)")
	planCmd.Flags().StringVar(&planFacts, "facts", policy.DefaultFactsPath, "Facts snapshot path (relative to root)")
	planCmd.Flags().StringVar(&planOutput, "output", plan.DefaultPlanPath, "Plan output path (relative to root)")

	applyCmd.Flags().StringVar(&applyPlanPath, "plan", plan.DefaultPlanPath, "Plan file path (relative to root)")
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "Report what would change without writing")

	validateCmd.Flags().StringVar(&validateFacts, "facts", policy.DefaultFactsPath, "Facts snapshot path (relative to root)")
	validateCmd.Flags().StringVar(&validateOutput, "output", validate.DefaultReportPath, "Validation report path (relative to root)")
	validateCmd.Flags().BoolVar(&failOnDrift, "fail-on-drift", false, "Fail when actionable drift is detected")
	validateCmd.Flags().BoolVar(&failOnFreshness, "fail-on-freshness", false, "Fail when doc metadata is stale")

	gardenCmd.Flags().StringVar(&gardenPlanMode, "plan-mode", "", "Initial planning mode override")
	gardenCmd.Flags().StringVar(&gardenApplyMode, "apply-mode", "", "Apply mode override (none disables applying)")
	gardenCmd.Flags().BoolVar(&gardenSkipValidate, "skip-validate", false, "Skip the validate stage")
	gardenCmd.Flags().BoolVar(&gardenFailDrift, "fail-on-drift", false, "Force the drift gate on")
	gardenCmd.Flags().BoolVar(&gardenNoFailDrift, "no-fail-on-drift", false, "Force the drift gate off")
	gardenCmd.Flags().BoolVar(&gardenFailFresh, "fail-on-freshness", false, "Force the freshness gate on")
	gardenCmd.Flags().BoolVar(&gardenNoFailFresh, "no-fail-on-freshness", false, "Force the freshness gate off")
	gardenCmd.Flags().StringVar(&gardenReportJSON, "report-json", "", "Garden report JSON path override")
	gardenCmd.Flags().StringVar(&gardenReportMD, "report-md", "", "Garden report Markdown path override")
	gardenCmd.Flags().BoolVar(&gardenDryRun, "dry-run", false, "Plan and validate without writing doc changes")

	exportCmd.Flags().StringVar(&exportOutput, "output", bundle.DefaultBundlePath, "Bundle output path (relative to root)")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(gardenCmd)
	rootCmd.AddCommand(exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveRoot validates --root and returns it as an absolute path.
func resolveRoot() (string, error) {
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return "", fmt.Errorf("resolving root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("invalid root path: %s", abs)
	}
	return abs, nil
}

// loadPolicy reads the repository policy, falling back to defaults when
// no policy file exists yet.
func loadPolicy(root string) (policy.Config, bool, error) {
	path := filepath.Join(root, filepath.FromSlash(policy.DefaultPolicyPath))
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return policy.Default(), false, nil
		}
		return policy.Config{}, false, fmt.Errorf("reading policy: %w", err)
	}
	cfg, err := policy.Load(path)
	if err != nil {
		return policy.Config{}, true, err
	}
	return cfg, true, nil
}

// loadFacts reads a facts snapshot; a missing file yields a nil
// snapshot, not an error.
func loadFacts(root, rel string) (*facts.Snapshot, error) {
	path := filepath.Join(root, filepath.FromSlash(rel))
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return facts.Load(path)
}

func runScan(cmd *cobra.Command, args []string) error {
	root, err := resolveRoot()
	if err != nil {
		return err
	}
	snap, err := facts.Scan(root)
	if err != nil {
		return fmt.Errorf("scanning repository: %w", err)
	}
	out := filepath.Join(root, filepath.FromSlash(scanOutput))
	if err := snap.Write(out); err != nil {
		return err
	}
	log.Info().
		Str("output", scanOutput).
		Int("files", snap.Stats.FileCount).
		Int("modules", len(snap.Modules)).
		Msg("wrote facts snapshot")
	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	root, err := resolveRoot()
	if err != nil {
		return err
	}
	cfg, policyExists, err := loadPolicy(root)
	if err != nil {
		return err
	}
	mode := cfg.ModeDefault
	if planMode != "" {
		mode = policy.Mode(planMode)
	}
	if !policy.ValidPlanMode(mode) {
		return fmt.Errorf("invalid plan mode: %s", mode)
	}
	snap, err := loadFacts(root, planFacts)
	if err != nil {
		return err
	}
	p, err := plan.BuildPlan(root, mode, snap, &cfg, plan.Options{
		PolicyExists: policyExists,
		Now:          time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("building plan: %w", err)
	}
	if err := p.Write(filepath.Join(root, filepath.FromSlash(planOutput))); err != nil {
		return err
	}
	log.Info().
		Str("mode", string(mode)).
		Int("actions", p.Summary.ActionCount).
		Bool("actionable_drift", p.Summary.HasActionableDrift).
		Str("output", planOutput).
		Msg("wrote plan")
	return nil
}

func runApply(cmd *cobra.Command, args []string) error {
	root, err := resolveRoot()
	if err != nil {
		return err
	}
	cfg, _, err := loadPolicy(root)
	if err != nil {
		return err
	}
	p, err := plan.LoadPlan(filepath.Join(root, filepath.FromSlash(applyPlanPath)))
	if err != nil {
		return fmt.Errorf("loading plan (run 'docgarden plan' first): %w", err)
	}
	report, err := apply.Run(root, p, &cfg, apply.Options{
		DryRun: applyDryRun,
		Now:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("applying plan: %w", err)
	}
	if err := report.WriteJSON(root, apply.DefaultReportJSONPath); err != nil {
		return err
	}
	if err := report.WriteMarkdown(root, apply.DefaultReportMDPath); err != nil {
		return err
	}
	log.Info().
		Int("applied", report.Summary.Applied).
		Int("skipped", report.Summary.Skipped).
		Int("errors", report.Summary.Errors).
		Bool("dry_run", applyDryRun).
		Msg("apply finished")
	if report.Summary.Errors > 0 {
		return fmt.Errorf("apply finished with %d failed actions", report.Summary.Errors)
	}
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	root, err := resolveRoot()
	if err != nil {
		return err
	}
	cfg, policyExists, err := loadPolicy(root)
	if err != nil {
		return err
	}
	snap, err := loadFacts(root, validateFacts)
	if err != nil {
		return err
	}
	report, err := validate.Run(root, &cfg, snap, validate.Options{
		PolicyExists:    policyExists,
		FailOnDrift:     failOnDrift,
		FailOnFreshness: failOnFreshness,
		Now:             time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("validating: %w", err)
	}
	if err := report.Write(filepath.Join(root, filepath.FromSlash(validateOutput))); err != nil {
		return err
	}
	for _, msg := range report.Errors {
		log.Error().Msg(msg)
	}
	for _, msg := range report.Warnings {
		log.Warn().Msg(msg)
	}
	log.Info().
		Bool("passed", report.Passed).
		Int("errors", report.Metrics.Errors).
		Int("warnings", report.Metrics.Warnings).
		Int("drift_actions", report.Metrics.DriftActionCount).
		Str("output", validateOutput).
		Msg("validation finished")
	if !report.Passed {
		return fmt.Errorf("validation failed: %d errors", report.Metrics.Errors)
	}
	return nil
}

func runGarden(cmd *cobra.Command, args []string) error {
	root, err := resolveRoot()
	if err != nil {
		return err
	}
	cfg, policyExists, err := loadPolicy(root)
	if err != nil {
		return err
	}
	opts := garden.Options{
		PlanMode:        policy.Mode(gardenPlanMode),
		ApplyMode:       policy.Mode(gardenApplyMode),
		SkipValidate:    gardenSkipValidate,
		FailOnDrift:     triState(gardenFailDrift, gardenNoFailDrift),
		FailOnFreshness: triState(gardenFailFresh, gardenNoFailFresh),
		PolicyExists:    policyExists,
		ReportJSON:      gardenReportJSON,
		ReportMD:        gardenReportMD,
		DryRun:          gardenDryRun,
		Now:             time.Now().UTC(),
		Log:             log,
	}
	report, err := garden.Run(root, &cfg, opts)
	if err != nil {
		return fmt.Errorf("garden run: %w", err)
	}
	if report.Summary.Status == garden.StatusFailed {
		return fmt.Errorf("garden run failed after %d cycles", len(report.Repair.Cycles))
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	root, err := resolveRoot()
	if err != nil {
		return err
	}
	cfg, _, err := loadPolicy(root)
	if err != nil {
		return err
	}
	m, ok, err := manifest.Load(filepath.Join(root, filepath.FromSlash(policy.DefaultManifestPath)))
	if err != nil {
		return err
	}
	if !ok {
		m = manifest.Default()
	}
	paths := bundle.CollectPaths(root, &cfg, m)
	if len(paths) == 0 {
		return fmt.Errorf("no documentation artifacts found to export")
	}
	data, header, err := bundle.Build(root, paths, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("building bundle: %w", err)
	}
	out := filepath.Join(root, filepath.FromSlash(exportOutput))
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return fmt.Errorf("writing bundle: %w", err)
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return fmt.Errorf("writing bundle: %w", err)
	}
	// Reopen to confirm the written bundle verifies end to end.
	f, err := os.Open(out)
	if err != nil {
		return fmt.Errorf("verifying bundle: %w", err)
	}
	defer f.Close()
	if _, err := bundle.Open(f); err != nil {
		return fmt.Errorf("verifying bundle: %w", err)
	}
	log.Info().
		Str("output", exportOutput).
		Int("files", len(header.Files)).
		Int("bytes", len(data)).
		Msg("wrote documentation bundle")
	return nil
}

func triState(on, off bool) *bool {
	if on {
		v := true
		return &v
	}
	if off {
		v := false
		return &v
	}
	return nil
}
