package validate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"docgarden/internal/apply"
	"docgarden/internal/doctpl"
	"docgarden/internal/legacy"
	"docgarden/internal/manifest"
	"docgarden/internal/policy"
)

func validateNow() time.Time {
	return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
}

const metaBlock = "<!-- doc-owner: team-docs -->\n" +
	"<!-- doc-last-reviewed: 2026-07-01 -->\n" +
	"<!-- doc-review-cycle-days: 90 -->\n"

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func writeManifest(t *testing.T, root string, m manifest.Manifest) {
	t.Helper()
	if err := manifest.Write(filepath.Join(root, policy.DefaultManifestPath), m); err != nil {
		t.Fatal(err)
	}
}

// healthyTree builds a docs tree that satisfies every default gate.
func healthyTree(t *testing.T) string {
	root := t.TempDir()
	writeManifest(t, root, manifest.Manifest{
		Version: 1,
		Required: manifest.FileSet{
			Files: []string{"docs/index.md", "docs/architecture.md"},
		},
	})
	writeFile(t, root, "docs/index.md", metaBlock+
		"\n# Documentation Index\n\n## Core Documents\n\n"+
		"- [architecture](./architecture.md)\n\n## Operational Workflow\n\n1. scan\n")
	writeFile(t, root, "docs/architecture.md", metaBlock+
		"\n# Repository Architecture\n\n## Module Inventory\n\n"+
		"- `internal/validate`: consistency checks.\n\n## Dependency Manifests\n\n- go.mod\n")
	writeFile(t, root, "AGENTS.md", doctpl.AgentsTemplate(doctpl.ProfileEnUS))
	return root
}

func hasMessage(messages []string, substr string) bool {
	for _, msg := range messages {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

func TestRunPassesOnHealthyTree(t *testing.T) {
	root := healthyTree(t)
	cfg := policy.Default()

	report, err := Run(root, &cfg, nil, Options{
		PolicyExists:    true,
		FailOnDrift:     true,
		FailOnFreshness: true,
		Now:             validateNow(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(report.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", report.Errors)
	}
	if !report.Passed {
		t.Fatalf("expected pass, warnings=%v", report.Warnings)
	}
	if report.Drift.HasDrift {
		t.Fatalf("unexpected drift: %v", report.Drift.Actions)
	}
	if report.Metrics.CheckedLinks != 1 {
		t.Fatalf("checked links = %d", report.Metrics.CheckedLinks)
	}
	if report.Metrics.MetadataCheckedDocs != 2 || report.Metrics.MetadataStaleDocs != 0 {
		t.Fatalf("metadata metrics = %+v", report.Metadata.Metrics)
	}
	// No apply report on disk: the observability gate degrades to a warning.
	if report.Observability.Gate.Status != "warn" {
		t.Fatalf("observability gate = %q", report.Observability.Gate.Status)
	}
	if !hasMessage(report.Warnings, "apply report missing") {
		t.Fatalf("warnings = %v", report.Warnings)
	}
	if report.Agents == nil || report.Agents.Gate.Status != "passed" {
		t.Fatalf("agents report = %+v", report.Agents)
	}
}

func TestRunFlagsMissingArtifacts(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, manifest.Manifest{
		Version: 1,
		Required: manifest.FileSet{
			Files: []string{"docs/index.md", "docs/runbook.md"},
			Dirs:  []string{"docs/adr"},
		},
	})
	writeFile(t, root, "docs/index.md", metaBlock+
		"\n# Documentation Index\n\n## Core Documents\n\n"+
		"- [runbook](./runbook.md)\n\n## Operational Workflow\n\n1. scan\n")

	cfg := policy.Default()
	cfg.Agents.Enabled = false
	report, err := Run(root, &cfg, nil, Options{Now: validateNow()})
	if err != nil {
		t.Fatal(err)
	}

	if report.Passed {
		t.Fatal("expected failure")
	}
	for _, want := range []string{
		"missing required file: docs/runbook.md",
		"missing required directory: docs/adr",
		"broken link in docs/index.md: ./runbook.md",
	} {
		if !hasMessage(report.Errors, want) {
			t.Errorf("missing error %q in %v", want, report.Errors)
		}
	}
	if !report.Drift.HasDrift {
		t.Fatal("expected drift from missing required file")
	}
	if report.Metrics.Errors != len(report.Errors) {
		t.Fatalf("error metric = %d, errors = %d", report.Metrics.Errors, len(report.Errors))
	}
}

func TestRunFreshnessGate(t *testing.T) {
	root := healthyTree(t)
	staleMeta := "<!-- doc-owner: team-docs -->\n" +
		"<!-- doc-last-reviewed: 2026-01-01 -->\n" +
		"<!-- doc-review-cycle-days: 90 -->\n"
	for _, rel := range []string{"docs/index.md", "docs/architecture.md"} {
		data, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			t.Fatal(err)
		}
		writeFile(t, root, rel, strings.Replace(string(data), metaBlock, staleMeta, 1))
	}

	cfg := policy.Default()
	report, err := Run(root, &cfg, nil, Options{
		PolicyExists:    true,
		FailOnFreshness: true,
		Now:             validateNow(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(report.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", report.Errors)
	}
	if report.Metrics.MetadataStaleDocs != 2 {
		t.Fatalf("stale docs = %d", report.Metrics.MetadataStaleDocs)
	}
	if !hasMessage(report.Warnings, "stale doc metadata in docs/index.md") {
		t.Fatalf("warnings = %v", report.Warnings)
	}
	if report.Passed {
		t.Fatal("freshness gate should fail the run")
	}
}

func TestRunIndexCoverageWarning(t *testing.T) {
	root := healthyTree(t)
	writeManifest(t, root, manifest.Manifest{
		Version: 1,
		Required: manifest.FileSet{
			Files: []string{"docs/index.md", "docs/architecture.md", "docs/security.md"},
		},
	})
	writeFile(t, root, "docs/security.md", metaBlock+"\n# Security Overview\n")

	cfg := policy.Default()
	cfg.Agents.Enabled = false
	report, err := Run(root, &cfg, nil, Options{Now: validateNow()})
	if err != nil {
		t.Fatal(err)
	}
	if !hasMessage(report.Warnings, "index may not reference required file: docs/security.md") {
		t.Fatalf("warnings = %v", report.Warnings)
	}
}

func TestCheckExecPlanCloseout(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "docs/exec-plans/active/alpha.md",
		"<!-- exec-plan-status: completed -->\n\n# Alpha\n")
	writeFile(t, root, "docs/exec-plans/active/beta.md",
		"<!-- exec-plan-status: completed -->\n"+
			"<!-- exec-plan-closeout: docs/history/beta-summary.md -->\n\n# Beta\n")
	writeFile(t, root, "docs/history/beta-summary.md", "# Beta Summary\n")
	writeFile(t, root, "docs/exec-plans/active/gamma.md",
		"<!-- exec-plan-status: completed -->\n"+
			"<!-- exec-plan-closeout: docs/history/gamma-summary.md -->\n\n# Gamma\n")
	writeFile(t, root, "docs/exec-plans/active/delta.md",
		"<!-- exec-plan-status: in_progress -->\n\n# Delta\n")

	errors, _, report := checkExecPlanCloseout(root)

	if report.Metrics.ActiveFiles != 4 || report.Metrics.CompletedDeclaredFiles != 3 {
		t.Fatalf("metrics = %+v", report.Metrics)
	}
	if report.Metrics.MissingCloseoutLinkFiles != 1 || report.Metrics.MissingCloseoutTargetFiles != 1 {
		t.Fatalf("metrics = %+v", report.Metrics)
	}
	if !hasMessage(errors, "exec-plan closeout missing link marker: docs/exec-plans/active/alpha.md") {
		t.Fatalf("errors = %v", errors)
	}
	if !hasMessage(errors, "exec-plan closeout target missing for docs/exec-plans/active/gamma.md: docs/history/gamma-summary.md") {
		t.Fatalf("errors = %v", errors)
	}
}

func writeApplyReport(t *testing.T, root string, obs apply.Observability) {
	t.Helper()
	report := apply.Report{GeneratedAt: validateNow().Format(time.RFC3339), Observability: obs}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, root, apply.DefaultReportJSONPath, string(data))
}

func TestCheckSemanticObservability(t *testing.T) {
	cases := []struct {
		name       string
		setup      func(t *testing.T, root string, cfg *policy.Config)
		wantStatus string
		wantError  string
		wantWarn   string
	}{
		{
			name: "disabled",
			setup: func(t *testing.T, root string, cfg *policy.Config) {
				cfg.SemanticGen.Observability.Enabled = false
			},
			wantStatus: "skipped",
		},
		{
			name: "deterministic mode not required",
			setup: func(t *testing.T, root string, cfg *policy.Config) {
				cfg.SemanticGen.Mode = policy.SemanticModeDeterministic
			},
			wantStatus: "not_required",
		},
		{
			name:       "apply report missing",
			setup:      func(t *testing.T, root string, cfg *policy.Config) {},
			wantStatus: "warn",
			wantWarn:   "apply report missing",
		},
		{
			name: "large unattempted gap fails",
			setup: func(t *testing.T, root string, cfg *policy.Config) {
				writeApplyReport(t, root, apply.Observability{
					SemanticActionCount:         4,
					AttemptCount:                1,
					UnattemptedCount:            3,
					UnattemptedWithoutExemption: 3,
				})
			},
			wantStatus: "failed",
			wantError:  "count=3/4",
		},
		{
			name: "small gap warns",
			setup: func(t *testing.T, root string, cfg *policy.Config) {
				writeApplyReport(t, root, apply.Observability{
					SemanticActionCount:         8,
					AttemptCount:                7,
					UnattemptedCount:            1,
					UnattemptedWithoutExemption: 1,
				})
			},
			wantStatus: "passed_with_warning",
			wantWarn:   "count=1/8",
		},
		{
			name: "full coverage passes",
			setup: func(t *testing.T, root string, cfg *policy.Config) {
				writeApplyReport(t, root, apply.Observability{
					SemanticActionCount: 3,
					AttemptCount:        3,
					SuccessCount:        3,
					HitRate:             1,
				})
			},
			wantStatus: "passed",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root := t.TempDir()
			cfg := policy.Default()
			tc.setup(t, root, &cfg)

			errors, warnings, report := checkSemanticObservability(root, &cfg, apply.DefaultReportJSONPath)
			if report.Gate.Status != tc.wantStatus {
				t.Fatalf("gate = %q, want %q", report.Gate.Status, tc.wantStatus)
			}
			if tc.wantError != "" && !hasMessage(errors, tc.wantError) {
				t.Fatalf("errors = %v", errors)
			}
			if tc.wantError == "" && len(errors) != 0 {
				t.Fatalf("unexpected errors: %v", errors)
			}
			if tc.wantWarn != "" && !hasMessage(warnings, tc.wantWarn) {
				t.Fatalf("warnings = %v", warnings)
			}
		})
	}
}

func legacyConfig() policy.Config {
	cfg := policy.Default()
	cfg.Legacy.Enabled = true
	cfg.Legacy.IncludeGlobs = []string{"legacy/**"}
	return cfg
}

func TestCheckLegacyCoverageUnresolved(t *testing.T) {
	root := t.TempDir()
	cfg := legacyConfig()
	writeFile(t, root, "legacy/OLD_PLAN.md", "# Old Plan\n")

	errors, _, report := checkLegacyCoverage(root, &cfg)
	if report.Metrics.UnresolvedSources != 1 {
		t.Fatalf("metrics = %+v", report.Metrics)
	}
	if !hasMessage(errors, "legacy unresolved sources: legacy/OLD_PLAN.md") {
		t.Fatalf("errors = %v", errors)
	}

	cfg.Legacy.ExemptSources = []string{"legacy/OLD_PLAN.md"}
	errors, _, report = checkLegacyCoverage(root, &cfg)
	if len(errors) != 0 || report.Metrics.ExemptSources != 1 {
		t.Fatalf("exempt run: errors=%v metrics=%+v", errors, report.Metrics)
	}
}

func TestCheckLegacyCoverageRegistryIntegrity(t *testing.T) {
	root := t.TempDir()
	cfg := legacyConfig()
	now := validateNow().Format(time.RFC3339)

	registry := legacy.NewRegistry(now)
	registry.Upsert("legacy/worklog.md", legacy.RegistryEntry{
		Status:     "migrated",
		TargetPath: "docs/history/legacy-migration.md",
	}, now)
	registry.Upsert("legacy/notes.md", legacy.RegistryEntry{
		Status:      "archived",
		ArchivePath: "docs/archive/legacy/legacy/notes.md",
		TargetPath:  "docs/history/legacy-migration.md",
	}, now)
	if err := registry.Save(filepath.Join(root, cfg.Legacy.RegistryPath), false); err != nil {
		t.Fatal(err)
	}
	// Target exists and carries the marker only for worklog.md.
	writeFile(t, root, "docs/history/legacy-migration.md",
		"# Legacy Migration\n\n"+legacy.SourceMarker("legacy/worklog.md")+"\n")

	errors, warnings, report := checkLegacyCoverage(root, &cfg)

	if !hasMessage(errors, "legacy archive missing for legacy/notes.md") {
		t.Fatalf("errors = %v", errors)
	}
	if !hasMessage(warnings, "legacy source marker missing in docs/history/legacy-migration.md: legacy/notes.md") {
		t.Fatalf("warnings = %v", warnings)
	}
	if report.Metrics.MissingArchiveFiles != 1 || report.Metrics.MissingSourceMarkers != 1 {
		t.Fatalf("metrics = %+v", report.Metrics)
	}
	if report.Metrics.CompletedSources != 2 {
		t.Fatalf("completed = %d", report.Metrics.CompletedSources)
	}
}

func TestCheckLegacyCoverageDenylistGate(t *testing.T) {
	root := t.TempDir()
	cfg := legacyConfig()
	now := validateNow().Format(time.RFC3339)

	registry := legacy.NewRegistry(now)
	registry.Upsert("AGENTS.md", legacy.RegistryEntry{
		Status:     "migrated",
		TargetPath: "docs/history/legacy-migration.md",
	}, now)
	if err := registry.Save(filepath.Join(root, cfg.Legacy.RegistryPath), false); err != nil {
		t.Fatal(err)
	}
	writeFile(t, root, "docs/history/legacy-migration.md",
		"# Legacy Migration\n\n"+legacy.SourceMarker("AGENTS.md")+"\n")

	errors, _, report := checkLegacyCoverage(root, &cfg)
	if report.Metrics.DenylistMigrationCount != 1 {
		t.Fatalf("metrics = %+v", report.Metrics)
	}
	if !hasMessage(errors, "denylist sources attempted migration: AGENTS.md") {
		t.Fatalf("errors = %v", errors)
	}
}

func TestRunTopologyGate(t *testing.T) {
	root := healthyTree(t)
	cfg := policy.Default()
	cfg.Agents.Enabled = false
	cfg.Topology.Enabled = true

	report, err := Run(root, &cfg, nil, Options{Now: validateNow()})
	if err != nil {
		t.Fatal(err)
	}
	if !hasMessage(report.Errors, "doc-topology: missing topology contract: docs/.doc-topology.json") {
		t.Fatalf("errors = %v", report.Errors)
	}
	if report.Passed {
		t.Fatal("missing contract should fail validation")
	}
}

func TestReportWriteRoundTrip(t *testing.T) {
	root := healthyTree(t)
	cfg := policy.Default()
	report, err := Run(root, &cfg, nil, Options{PolicyExists: true, Now: validateNow()})
	if err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(root, DefaultReportPath)
	if err := report.Write(out); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["passed"] != true {
		t.Fatalf("decoded passed = %v", decoded["passed"])
	}
	if _, ok := decoded["metrics"].(map[string]any); !ok {
		t.Fatal("metrics block missing")
	}
}
