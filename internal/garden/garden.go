// Package garden drives the bounded scan -> plan -> apply -> validate
// repair loop. Each cycle plans against fresh facts, applies when the
// configured mode allows mutation, and validates; when validation
// fails on drift that is entirely machine-repairable, another cycle
// runs in the repair plan mode until the iteration budget is spent.
// Every run that gets past configuration loading produces a report.
package garden

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"docgarden/internal/apply"
	"docgarden/internal/facts"
	"docgarden/internal/history"
	"docgarden/internal/plan"
	"docgarden/internal/policy"
	"docgarden/internal/validate"
)

const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Step is one timed pipeline stage within a cycle.
type Step struct {
	Name       string `json:"name"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
	DurationMs int64  `json:"duration_ms"`
	Status     string `json:"status"`
	Detail     string `json:"detail,omitempty"`
}

// Cycle is the audit record of one full pass through the pipeline.
type Cycle struct {
	Label          string `json:"label"`
	PlanMode       string `json:"plan_mode"`
	ActionCount    int    `json:"action_count"`
	AppliedActions *int   `json:"apply_applied"`
	Success        bool   `json:"success"`
	Steps          []Step `json:"steps"`
}

// RepairInfo is the loop's convergence audit trail.
type RepairInfo struct {
	Attempts      int     `json:"attempts"`
	MaxIterations int     `json:"max_iterations"`
	Cycles        []Cycle `json:"cycles"`
}

// Settings echoes the resolved run configuration into the report.
type Settings struct {
	PlanMode        string `json:"plan_mode"`
	ApplyMode       string `json:"apply_mode"`
	RepairPlanMode  string `json:"repair_plan_mode"`
	FailOnDrift     bool   `json:"fail_on_drift"`
	FailOnFreshness bool   `json:"fail_on_freshness"`
	SkipValidate    bool   `json:"skip_validate"`
}

// PlanSummary carries the last cycle's plan shape.
type PlanSummary struct {
	ActionCount  int            `json:"action_count"`
	ActionCounts map[string]int `json:"action_counts"`
}

// ValidateSummary carries the last validation outcome.
type ValidateSummary struct {
	Passed            bool `json:"passed"`
	Errors            int  `json:"errors"`
	Warnings          int  `json:"warnings"`
	DriftActionCount  int  `json:"drift_action_count"`
	MetadataStaleDocs int  `json:"metadata_stale_docs"`
}

// Summary is the run verdict.
type Summary struct {
	Status          string `json:"status"`
	ApplyMode       string `json:"apply_mode"`
	StepCount       int    `json:"step_count"`
	FailedStepCount int    `json:"failed_step_count"`
}

// Report is the full garden run record.
type Report struct {
	GeneratedAt string          `json:"generated_at"`
	Root        string          `json:"root"`
	Settings    Settings        `json:"settings"`
	Steps       []Step          `json:"steps"`
	Plan        PlanSummary     `json:"plan"`
	Apply       apply.Summary   `json:"apply"`
	Validate    ValidateSummary `json:"validate"`
	Repair      RepairInfo      `json:"repair"`
	Summary     Summary         `json:"summary"`
}

// Options carries per-run overrides on top of the gardening policy.
type Options struct {
	// PlanMode overrides the initial planning mode. Empty means the
	// configured apply mode, or audit when applying is off.
	PlanMode policy.Mode
	// ApplyMode overrides doc_gardening.apply_mode; "none" disables the
	// apply stage.
	ApplyMode    policy.Mode
	SkipValidate bool
	// Tri-state gate overrides; nil falls back to policy.
	FailOnDrift     *bool
	FailOnFreshness *bool

	PolicyPath   string
	PolicyExists bool
	FactsPath    string
	PlanPath     string
	ReportJSON   string
	ReportMD     string
	DryRun       bool
	Now          time.Time
	Log          zerolog.Logger
}

// Run executes the garden loop at root. The returned error covers only
// the inability to produce a report; a failed run is reported through
// Summary.Status.
func Run(root string, cfg *policy.Config, opts Options) (*Report, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	log := opts.Log

	applyMode := cfg.Gardening.ApplyMode
	if opts.ApplyMode != "" {
		applyMode = opts.ApplyMode
	}
	planMode := opts.PlanMode
	if planMode == "" {
		if applyMode == "none" {
			planMode = policy.ModeAudit
		} else {
			planMode = applyMode
		}
	}
	failOnDrift := cfg.Gardening.FailOnDrift
	if opts.FailOnDrift != nil {
		failOnDrift = *opts.FailOnDrift
	}
	failOnFreshness := cfg.Gardening.FailOnFreshness
	if opts.FailOnFreshness != nil {
		failOnFreshness = *opts.FailOnFreshness
	}

	factsRel := orDefault(opts.FactsPath, policy.DefaultFactsPath)
	planRel := orDefault(opts.PlanPath, plan.DefaultPlanPath)
	reportJSONRel := orDefault(opts.ReportJSON, cfg.Gardening.ReportJSON)
	reportMDRel := orDefault(opts.ReportMD, cfg.Gardening.ReportMD)

	report := &Report{
		GeneratedAt: now.Format(time.RFC3339),
		Root:        root,
		Settings: Settings{
			PlanMode:        string(planMode),
			ApplyMode:       string(applyMode),
			RepairPlanMode:  string(cfg.Gardening.RepairPlanMode),
			FailOnDrift:     failOnDrift,
			FailOnFreshness: failOnFreshness,
			SkipValidate:    opts.SkipValidate,
		},
		Plan: PlanSummary{ActionCounts: map[string]int{}},
		Repair: RepairInfo{
			MaxIterations: cfg.Gardening.MaxRepairIterations,
			Cycles:        []Cycle{},
		},
		Summary: Summary{ApplyMode: string(applyMode)},
	}

	if !cfg.Gardening.Enabled {
		report.Summary.Status = StatusSkipped
		report.Steps = []Step{}
		log.Info().Msg("doc gardening is disabled by policy")
		if err := writeReports(root, reportJSONRel, reportMDRel, report); err != nil {
			return report, err
		}
		return report, nil
	}

	runner := &loop{
		root:         root,
		cfg:          cfg,
		applyMode:    applyMode,
		skipValidate: opts.SkipValidate,
		policyPath:   orDefault(opts.PolicyPath, policy.DefaultPolicyPath),
		policyExists: opts.PolicyExists,
		factsRel:     factsRel,
		planRel:      planRel,
		dryRun:       opts.DryRun,
		failOnDrift:  failOnDrift,
		failOnFresh:  failOnFreshness,
		now:          now,
		log:          log,
	}

	label := "run"
	mode := planMode
	attempts := 0
	passed := false

	for {
		cycle := runner.runCycle(label, mode)
		report.Repair.Cycles = append(report.Repair.Cycles, cycle)
		report.Steps = append(report.Steps, cycle.Steps...)

		if cycle.Success {
			passed = true
			break
		}
		if !runner.canRepair(attempts, cfg.Gardening.MaxRepairIterations) {
			break
		}
		attempts++
		label = fmt.Sprintf("repair-%d", attempts)
		mode = cfg.Gardening.RepairPlanMode
		log.Info().Str("cycle", label).Msg("drift is repairable, starting repair cycle")
	}

	report.Repair.Attempts = attempts
	if runner.lastPlan != nil {
		report.Plan = PlanSummary{
			ActionCount:  runner.lastPlan.Summary.ActionCount,
			ActionCounts: runner.lastPlan.Summary.ActionCounts,
		}
	}
	if runner.lastApply != nil {
		report.Apply = runner.lastApply.Summary
	}
	if runner.lastValidate != nil {
		report.Validate = ValidateSummary{
			Passed:            runner.lastValidate.Passed,
			Errors:            runner.lastValidate.Metrics.Errors,
			Warnings:          runner.lastValidate.Metrics.Warnings,
			DriftActionCount:  runner.lastValidate.Metrics.DriftActionCount,
			MetadataStaleDocs: runner.lastValidate.Metrics.MetadataStaleDocs,
		}
	}

	report.Summary.StepCount = len(report.Steps)
	for _, step := range report.Steps {
		if step.Status != "ok" {
			report.Summary.FailedStepCount++
		}
	}
	if passed {
		report.Summary.Status = StatusPassed
	} else {
		report.Summary.Status = StatusFailed
	}

	if err := writeReports(root, reportJSONRel, reportMDRel, report); err != nil {
		return report, err
	}
	if cfg.Gardening.HistoryDB != "" {
		if err := recordHistory(root, cfg.Gardening.HistoryDB, report, runner); err != nil {
			log.Warn().Err(err).Msg("failed to record garden history")
		}
	}
	log.Info().
		Str("status", report.Summary.Status).
		Int("cycles", len(report.Repair.Cycles)).
		Int("repair_attempts", attempts).
		Msg("garden run finished")
	return report, nil
}

type loop struct {
	root         string
	cfg          *policy.Config
	applyMode    policy.Mode
	skipValidate bool
	policyPath   string
	policyExists bool
	factsRel     string
	planRel      string
	dryRun       bool
	failOnDrift  bool
	failOnFresh  bool
	now          time.Time
	log          zerolog.Logger

	snap         *facts.Snapshot
	lastPlan     *plan.Plan
	lastApply    *apply.Report
	lastValidate *validate.Report
	runActions   []history.RunAction
	cycleIndex   int
}

func (l *loop) runCycle(label string, mode policy.Mode) Cycle {
	l.cycleIndex++
	cycle := Cycle{Label: label, PlanMode: string(mode)}
	l.log.Info().Str("cycle", label).Str("plan_mode", string(mode)).Msg("starting garden cycle")

	ok := l.step(&cycle, "scan", func() (string, error) {
		snap, err := facts.Scan(l.root)
		if err != nil {
			return "", err
		}
		l.snap = snap
		return "", snap.Write(filepath.Join(l.root, filepath.FromSlash(l.factsRel)))
	})

	if ok {
		ok = l.step(&cycle, "plan", func() (string, error) {
			p, err := plan.BuildPlan(l.root, mode, l.snap, l.cfg, plan.Options{
				PolicyPath:   l.policyPath,
				PolicyExists: l.policyExists,
				Now:          l.now,
			})
			if err != nil {
				return "", err
			}
			l.lastPlan = p
			cycle.ActionCount = p.Summary.ActionCount
			return fmt.Sprintf("%d actions", p.Summary.ActionCount), p.Write(filepath.Join(l.root, filepath.FromSlash(l.planRel)))
		})
	}

	applied := 0
	if ok && l.applyMode != "none" {
		ok = l.step(&cycle, "apply", func() (string, error) {
			report, err := apply.Run(l.root, l.lastPlan, l.cfg, apply.Options{DryRun: l.dryRun, Now: l.now})
			if err != nil {
				return "", err
			}
			l.lastApply = report
			applied = report.Summary.Applied
			l.recordApplyActions(report)
			if err := report.WriteJSON(l.root, apply.DefaultReportJSONPath); err != nil {
				return "", err
			}
			if err := report.WriteMarkdown(l.root, apply.DefaultReportMDPath); err != nil {
				return "", err
			}
			if report.Summary.Errors > 0 {
				return "", fmt.Errorf("%d actions failed", report.Summary.Errors)
			}
			return fmt.Sprintf("%d applied, %d skipped", report.Summary.Applied, report.Summary.Skipped), nil
		})
		cycle.AppliedActions = &applied
	} else if ok {
		l.recordPlannedActions()
	}

	// Re-scan only when apply changed something; a no-op apply leaves
	// the snapshot current.
	if ok && !l.skipValidate && applied > 0 {
		ok = l.step(&cycle, "scan-post-apply", func() (string, error) {
			snap, err := facts.Scan(l.root)
			if err != nil {
				return "", err
			}
			l.snap = snap
			return "", snap.Write(filepath.Join(l.root, filepath.FromSlash(l.factsRel)))
		})
	}

	if ok && !l.skipValidate {
		ok = l.step(&cycle, "validate", func() (string, error) {
			report, err := validate.Run(l.root, l.cfg, l.snap, validate.Options{
				PolicyPath:      l.policyPath,
				PolicyExists:    l.policyExists,
				FailOnDrift:     l.failOnDrift,
				FailOnFreshness: l.failOnFresh,
				Now:             l.now,
			})
			if err != nil {
				return "", err
			}
			l.lastValidate = report
			if err := report.Write(filepath.Join(l.root, filepath.FromSlash(validate.DefaultReportPath))); err != nil {
				return "", err
			}
			if !report.Passed {
				return "", fmt.Errorf("validation failed: %d errors, %d drift actions",
					report.Metrics.Errors, report.Metrics.DriftActionCount)
			}
			return "passed", nil
		})
	}

	cycle.Success = ok
	return cycle
}

func (l *loop) step(cycle *Cycle, name string, fn func() (string, error)) bool {
	started := time.Now().UTC()
	detail, err := fn()
	finished := time.Now().UTC()
	step := Step{
		Name:       name,
		StartedAt:  started.Format(time.RFC3339),
		FinishedAt: finished.Format(time.RFC3339),
		DurationMs: finished.Sub(started).Milliseconds(),
		Status:     "ok",
		Detail:     detail,
	}
	if err != nil {
		step.Status = "failed"
		step.Detail = err.Error()
		l.log.Error().Str("step", name).Err(err).Msg("garden step failed")
	} else {
		l.log.Debug().Str("step", name).Str("detail", detail).Msg("garden step finished")
	}
	cycle.Steps = append(cycle.Steps, step)
	return err == nil
}

// canRepair decides whether another cycle is worth running: the last
// validation must have failed on drift whose actions are all of
// machine-repairable types, the budget must allow it, and applying
// must be enabled so repair can actually change anything.
func (l *loop) canRepair(attempts, maxIterations int) bool {
	if l.applyMode == "none" || attempts >= maxIterations {
		return false
	}
	vr := l.lastValidate
	if vr == nil || vr.Passed || !vr.Drift.HasDrift || len(vr.Drift.Actions) == 0 {
		return false
	}
	for _, entry := range vr.Drift.Actions {
		fields := strings.Fields(entry)
		if len(fields) < 2 || !plan.Repairable(plan.ActionType(fields[1])) {
			return false
		}
	}
	return true
}

func (l *loop) recordApplyActions(report *apply.Report) {
	for _, res := range report.Results {
		if !plan.Actionable(res.Type) {
			continue
		}
		l.runActions = append(l.runActions, history.RunAction{
			Cycle:      l.cycleIndex,
			ActionID:   res.ID,
			ActionType: string(res.Type),
			Path:       res.Path,
			Status:     res.Status,
		})
	}
}

func (l *loop) recordPlannedActions() {
	if l.lastPlan == nil {
		return
	}
	for _, action := range l.lastPlan.Actions {
		if !plan.Actionable(action.Type) {
			continue
		}
		l.runActions = append(l.runActions, history.RunAction{
			Cycle:      l.cycleIndex,
			ActionID:   action.ID,
			ActionType: string(action.Type),
			Path:       action.Path,
			Status:     "planned",
		})
	}
}

func recordHistory(root, dbRel string, report *Report, runner *loop) error {
	db, err := history.Open(filepath.Join(root, filepath.FromSlash(dbRel)))
	if err != nil {
		return err
	}
	defer db.Close()

	summary, err := json.Marshal(map[string]any{
		"plan":   report.Plan,
		"apply":  report.Apply,
		"repair": map[string]int{"attempts": report.Repair.Attempts, "cycles": len(report.Repair.Cycles)},
	})
	if err != nil {
		return err
	}

	run := &history.Run{
		StartedAt:        runner.now.UnixMilli(),
		FinishedAt:       history.NowMs(),
		Mode:             report.Settings.ApplyMode,
		Status:           report.Summary.Status,
		Cycles:           len(report.Repair.Cycles),
		RepairAttempts:   report.Repair.Attempts,
		PlannedActions:   report.Plan.ActionCount,
		AppliedActions:   report.Apply.Applied,
		ApplyErrors:      report.Apply.Errors,
		ValidatePassed:   report.Validate.Passed,
		ValidateErrors:   report.Validate.Errors,
		ValidateWarnings: report.Validate.Warnings,
		Summary:          string(summary),
	}
	_, err = db.RecordRun(run, runner.runActions)
	return err
}

func writeReports(root, jsonRel, mdRel string, report *Report) error {
	if jsonRel != "" {
		path := filepath.Join(root, filepath.FromSlash(jsonRel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("writing garden report: %w", err)
		}
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding garden report: %w", err)
		}
		if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
			return fmt.Errorf("writing garden report: %w", err)
		}
	}
	if mdRel != "" {
		path := filepath.Join(root, filepath.FromSlash(mdRel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("writing garden report: %w", err)
		}
		if err := os.WriteFile(path, []byte(report.RenderMarkdown()), 0644); err != nil {
			return fmt.Errorf("writing garden report: %w", err)
		}
	}
	return nil
}

// RenderMarkdown renders the human-readable run summary.
func (r *Report) RenderMarkdown() string {
	var b strings.Builder
	b.WriteString("# Doc Garden Report\n\n")
	fmt.Fprintf(&b, "- Generated at: %s\n", r.GeneratedAt)
	fmt.Fprintf(&b, "- Root: %s\n", r.Root)
	fmt.Fprintf(&b, "- Status: %s\n", r.Summary.Status)
	fmt.Fprintf(&b, "- Apply mode: %s\n", r.Summary.ApplyMode)
	fmt.Fprintf(&b, "- Repair attempts: %d/%d\n", r.Repair.Attempts, r.Repair.MaxIterations)
	b.WriteString("\n## Steps\n\n")
	for _, step := range r.Steps {
		fmt.Fprintf(&b, "- `%s` status=%s duration=%dms\n", step.Name, step.Status, step.DurationMs)
	}
	if len(r.Repair.Cycles) > 0 {
		b.WriteString("\n## Cycles\n\n")
		for _, cycle := range r.Repair.Cycles {
			applied := "-"
			if cycle.AppliedActions != nil {
				applied = fmt.Sprintf("%d", *cycle.AppliedActions)
			}
			fmt.Fprintf(&b, "- `%s` plan_mode=%s actions=%d applied=%s success=%t\n",
				cycle.Label, cycle.PlanMode, cycle.ActionCount, applied, cycle.Success)
		}
	}
	if r.Plan.ActionCount > 0 || len(r.Plan.ActionCounts) > 0 {
		b.WriteString("\n## Plan\n\n")
		fmt.Fprintf(&b, "- Action count: %d\n", r.Plan.ActionCount)
		fmt.Fprintf(&b, "- Action types: %s\n", formatCounts(r.Plan.ActionCounts))
	}
	if !r.Settings.SkipValidate && r.Summary.Status != StatusSkipped {
		b.WriteString("\n## Validate\n\n")
		fmt.Fprintf(&b, "- Passed: %t\n", r.Validate.Passed)
		fmt.Fprintf(&b, "- Errors: %d\n", r.Validate.Errors)
		fmt.Fprintf(&b, "- Warnings: %d\n", r.Validate.Warnings)
		fmt.Fprintf(&b, "- Drift actions: %d\n", r.Validate.DriftActionCount)
		fmt.Fprintf(&b, "- Metadata stale docs: %d\n", r.Validate.MetadataStaleDocs)
	}
	b.WriteString("\n")
	return b.String()
}

func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

func orDefault(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}
