package garden

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"docgarden/internal/doctpl"
	"docgarden/internal/history"
	"docgarden/internal/policy"
)

var gardenNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

const gardenMeta = "<!-- doc-owner: team-docs -->\n" +
	"<!-- doc-last-reviewed: 2026-07-01 -->\n" +
	"<!-- doc-review-cycle-days: 90 -->\n\n"

func writeGardenFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

// healthyTree lays out a docs tree that validates clean: manifest,
// managed docs with all section markers and fresh metadata, and a
// template AGENTS.md.
func healthyTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeGardenFile(t, root, "docs/.doc-manifest.json", `{
  "version": 1,
  "required": {"files": ["docs/index.md", "docs/architecture.md"], "dirs": []},
  "optional": {"files": []},
  "archive_dir": "docs/archive"
}
`)
	writeGardenFile(t, root, "docs/index.md", gardenMeta+
		"# Documentation Index\n\n"+
		"## Core Documents\n\n"+
		"- [architecture](./architecture.md)\n\n"+
		"## Operational Workflow\n\n"+
		"1. scan\n")
	writeGardenFile(t, root, "docs/architecture.md", gardenMeta+
		"# Repository Architecture\n\n"+
		"## Module Inventory\n\n"+
		"- `internal/garden`: repair loop.\n\n"+
		"## Dependency Manifests\n\n"+
		"- go.mod\n")
	writeGardenFile(t, root, "AGENTS.md", doctpl.AgentsTemplate(doctpl.ProfileEnUS))
	return root
}

func TestRunDisabledWritesSkippedReport(t *testing.T) {
	root := t.TempDir()
	cfg := policy.Default()
	cfg.Gardening.Enabled = false

	report, err := Run(root, &cfg, Options{PolicyExists: true, Now: gardenNow})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Summary.Status != StatusSkipped {
		t.Errorf("status = %q, want %q", report.Summary.Status, StatusSkipped)
	}
	if len(report.Steps) != 0 {
		t.Errorf("expected no steps, got %d", len(report.Steps))
	}
	for _, rel := range []string{cfg.Gardening.ReportJSON, cfg.Gardening.ReportMD} {
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel))); err != nil {
			t.Errorf("expected report %s: %v", rel, err)
		}
	}
}

func TestRunConvergesOnHealthyTree(t *testing.T) {
	root := healthyTree(t)
	cfg := policy.Default()

	report, err := Run(root, &cfg, Options{PolicyExists: true, Now: gardenNow})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Summary.Status != StatusPassed {
		t.Fatalf("status = %q, want %q (steps: %+v)", report.Summary.Status, StatusPassed, report.Steps)
	}
	if len(report.Repair.Cycles) != 1 {
		t.Fatalf("expected 1 cycle, got %d", len(report.Repair.Cycles))
	}
	cycle := report.Repair.Cycles[0]
	if cycle.Label != "run" || !cycle.Success {
		t.Errorf("unexpected cycle: label=%s success=%t", cycle.Label, cycle.Success)
	}
	if report.Repair.Attempts != 0 {
		t.Errorf("repair attempts = %d, want 0", report.Repair.Attempts)
	}
	if !report.Validate.Passed {
		t.Error("expected validation to pass")
	}
	if report.Summary.FailedStepCount != 0 {
		t.Errorf("failed steps = %d", report.Summary.FailedStepCount)
	}

	for _, rel := range []string{
		cfg.Gardening.ReportJSON,
		cfg.Gardening.ReportMD,
		"docs/.repo-facts.json",
		"docs/.doc-plan.json",
		"docs/.doc-validate-report.json",
	} {
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel))); err != nil {
			t.Errorf("expected artifact %s: %v", rel, err)
		}
	}

	db, err := history.Open(filepath.Join(root, filepath.FromSlash(cfg.Gardening.HistoryDB)))
	if err != nil {
		t.Fatalf("failed to open history db: %v", err)
	}
	defer db.Close()
	last, err := db.LastRun()
	if err != nil {
		t.Fatalf("failed to read last run: %v", err)
	}
	if last == nil {
		t.Fatal("expected a recorded run")
	}
	if last.Status != StatusPassed || !last.ValidatePassed {
		t.Errorf("unexpected history run: status=%s validate_passed=%t", last.Status, last.ValidatePassed)
	}
}

func TestRunRepairBudgetExhausted(t *testing.T) {
	// No policy file on disk and PolicyExists=false: the planner emits
	// an add action for it on every audit pass, so drift persists no
	// matter what apply does.
	root := healthyTree(t)
	cfg := policy.Default()
	cfg.Gardening.MaxRepairIterations = 1

	report, err := Run(root, &cfg, Options{PolicyExists: false, Now: gardenNow})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Summary.Status != StatusFailed {
		t.Fatalf("status = %q, want %q", report.Summary.Status, StatusFailed)
	}
	if len(report.Repair.Cycles) != 2 {
		t.Fatalf("expected exactly 2 planning cycles, got %d", len(report.Repair.Cycles))
	}
	if report.Repair.Cycles[0].Label != "run" {
		t.Errorf("first cycle label = %q", report.Repair.Cycles[0].Label)
	}
	if report.Repair.Cycles[1].Label != "repair-1" {
		t.Errorf("second cycle label = %q", report.Repair.Cycles[1].Label)
	}
	if report.Repair.Cycles[1].PlanMode != string(policy.ModeRepair) {
		t.Errorf("repair cycle plan mode = %q", report.Repair.Cycles[1].PlanMode)
	}
	if report.Repair.Attempts != 1 {
		t.Errorf("repair attempts = %d, want 1", report.Repair.Attempts)
	}
	if report.Validate.Passed {
		t.Error("expected validation to stay failed")
	}
	if report.Validate.DriftActionCount == 0 {
		t.Error("expected drift actions in final validation")
	}
}

func TestRunApplyModeNoneSkipsApply(t *testing.T) {
	root := healthyTree(t)
	cfg := policy.Default()

	report, err := Run(root, &cfg, Options{
		ApplyMode:    "none",
		PolicyExists: true,
		Now:          gardenNow,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Summary.Status != StatusPassed {
		t.Fatalf("status = %q, want %q (steps: %+v)", report.Summary.Status, StatusPassed, report.Steps)
	}
	if report.Settings.PlanMode != string(policy.ModeAudit) {
		t.Errorf("plan mode = %q, want audit", report.Settings.PlanMode)
	}
	for _, step := range report.Steps {
		if step.Name == "apply" {
			t.Error("apply step should not run with apply mode none")
		}
	}
	cycle := report.Repair.Cycles[0]
	if cycle.AppliedActions != nil {
		t.Errorf("apply_applied = %v, want null", *cycle.AppliedActions)
	}
}

func TestRenderMarkdown(t *testing.T) {
	applied := 2
	report := &Report{
		GeneratedAt: gardenNow.Format(time.RFC3339),
		Root:        "/tmp/repo",
		Settings:    Settings{ApplyMode: "apply-safe"},
		Steps: []Step{
			{Name: "scan", Status: "ok", DurationMs: 12},
			{Name: "validate", Status: "failed", DurationMs: 40},
		},
		Plan: PlanSummary{ActionCount: 3, ActionCounts: map[string]int{"add": 1, "update": 2}},
		Validate: ValidateSummary{
			Passed:           false,
			Errors:           2,
			DriftActionCount: 3,
		},
		Repair: RepairInfo{
			Attempts:      1,
			MaxIterations: 2,
			Cycles: []Cycle{
				{Label: "run", PlanMode: "apply-safe", ActionCount: 3, AppliedActions: &applied, Success: false},
			},
		},
		Summary: Summary{Status: StatusFailed, ApplyMode: "apply-safe", StepCount: 2, FailedStepCount: 1},
	}

	md := report.RenderMarkdown()
	for _, want := range []string{
		"# Doc Garden Report",
		"- Status: failed",
		"- Repair attempts: 1/2",
		"- `scan` status=ok duration=12ms",
		"- `run` plan_mode=apply-safe actions=3 applied=2 success=false",
		"- Action types: add=1 update=2",
		"- Drift actions: 3",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
}
