package quality

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"docgarden/internal/docspec"
	"docgarden/internal/evidence"
	"docgarden/internal/facts"
	"docgarden/internal/legacy"
	"docgarden/internal/policy"
	"docgarden/internal/semantic"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func claimEntry(id, status, statement string, citations []string, evidenceTypes ...string) evidence.ClaimEntry {
	entry := evidence.ClaimEntry{
		ClaimID:   id,
		Status:    status,
		Statement: statement,
		Citations: citations,
	}
	for _, et := range evidenceTypes {
		entry.Evidence = append(entry.Evidence, evidence.Item{Type: et, Value: "x"})
	}
	return entry
}

func mapOf(claims ...evidence.ClaimEntry) *evidence.Map {
	return &evidence.Map{
		Documents: []evidence.DocumentEntry{{
			Path: "docs/index.md",
			Sections: []evidence.SectionEntry{{
				SectionID: "overview",
				Claims:    claims,
			}},
		}},
	}
}

func TestComputeConflicts(t *testing.T) {
	claims := []evidence.ClaimEntry{
		claimEntry("c1", evidence.StatusSupported, "modules: 3", nil),
		claimEntry("c1", evidence.StatusSupported, "modules: 4", nil),
		claimEntry("c2", evidence.StatusSupported, "same", nil),
		claimEntry("c2", evidence.StatusSupported, "same", nil),
	}
	conflicts := ComputeConflicts(claims)
	if len(conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(conflicts))
	}
	if conflicts[0].ClaimID != "c1" || conflicts[0].StatementCount != 2 {
		t.Fatalf("unexpected conflict: %+v", conflicts[0])
	}
	if conflicts[0].Statements[0] != "modules: 3" {
		t.Fatalf("statements not sorted: %v", conflicts[0].Statements)
	}
}

func TestComputeCitationIssues(t *testing.T) {
	tests := []struct {
		name  string
		claim evidence.ClaimEntry
		issue string
	}{
		{
			name:  "missing citation",
			claim: claimEntry("c1", evidence.StatusSupported, "s", nil, "repo_scan.stats"),
			issue: "missing_citation",
		},
		{
			name:  "invalid token",
			claim: claimEntry("c2", evidence.StatusSupported, "s", []string{"file://x"}, "repo_scan.stats"),
			issue: "invalid_citation",
		},
		{
			name:  "untraceable token",
			claim: claimEntry("c3", evidence.StatusSupported, "s", []string{"evidence://repo_scan.docs"}, "repo_scan.stats"),
			issue: "untraceable_citation",
		},
		{
			name:  "valid",
			claim: claimEntry("c4", evidence.StatusSupported, "s", []string{"evidence://repo_scan.stats"}, "repo_scan.stats"),
		},
		{
			name:  "non supported ignored",
			claim: claimEntry("c5", evidence.StatusMissing, "TODO", nil),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := ComputeCitationIssues([]evidence.ClaimEntry{tt.claim})
			if tt.issue == "" {
				if len(issues) != 0 {
					t.Fatalf("unexpected issues: %+v", issues)
				}
				return
			}
			if len(issues) != 1 || issues[0].Issue != tt.issue {
				t.Fatalf("issues = %+v, want single %s", issues, tt.issue)
			}
		})
	}
}

func TestEvaluateGateDisabled(t *testing.T) {
	cfg := policy.Default()
	em := mapOf(claimEntry("c1", evidence.StatusMissing, "TODO", nil))
	report := Evaluate(t.TempDir(), &cfg, nil, nil, em, time.Now())
	if report.Enabled {
		t.Fatal("gate should be disabled by default")
	}
	if report.Gate.Status != "passed" {
		t.Fatalf("status = %s, want passed", report.Gate.Status)
	}
	if len(report.Gate.FailedChecks) != 0 {
		t.Fatalf("failed checks on disabled gate: %v", report.Gate.FailedChecks)
	}
	if report.Metrics.EvidenceCoverage != 0 {
		t.Fatalf("coverage = %v, want 0", report.Metrics.EvidenceCoverage)
	}
}

func TestEvaluateGateChecks(t *testing.T) {
	cfg := policy.Default()
	cfg.QualityGates.Enabled = true
	cfg.QualityGates.MinEvidenceCoverage = 0.9
	cfg.QualityGates.MaxStaleMetricsDays = 5

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := &facts.Snapshot{
		GeneratedAt: now.AddDate(0, 0, -10).Format(time.RFC3339),
	}
	em := mapOf(
		claimEntry("c1", evidence.StatusSupported, "ok", []string{"evidence://repo_scan.stats"}, "repo_scan.stats"),
		claimEntry("c2", evidence.StatusMissing, "TODO", nil),
		claimEntry("c3", evidence.StatusUnknown, "UNKNOWN", nil),
	)

	report := Evaluate(t.TempDir(), &cfg, snap, nil, em, now)

	if report.Metrics.TotalClaims != 3 || report.Metrics.SupportedClaims != 1 {
		t.Fatalf("claim counts = %+v", report.Metrics)
	}
	if report.Metrics.UnresolvedTODO != 1 || report.Metrics.UnknownText != 1 {
		t.Fatalf("text counts = %+v", report.Metrics)
	}
	if report.Metrics.FactsAgeDays == nil || *report.Metrics.FactsAgeDays != 10 {
		t.Fatalf("facts age = %v, want 10", report.Metrics.FactsAgeDays)
	}
	if report.Gate.Status != "failed" {
		t.Fatalf("status = %s, want failed", report.Gate.Status)
	}
	want := []string{
		"min_evidence_coverage",
		"max_unknown_claims",
		"max_unresolved_todo",
		"max_stale_metrics_days",
	}
	for _, check := range want {
		if !containsString(report.Gate.FailedChecks, check) {
			t.Errorf("failed checks missing %s: %v", check, report.Gate.FailedChecks)
		}
	}
	if containsString(report.Gate.FailedChecks, "citation_integrity") {
		t.Errorf("citation_integrity should pass: %v", report.Gate.FailedChecks)
	}
}

func TestEvaluateSemantic(t *testing.T) {
	root := t.TempDir()
	cfg := policy.Default()
	cfg.Legacy.Enabled = true
	cfg.Legacy.Semantic.Enabled = true

	classifications := &semantic.ClassificationReport{
		GeneratedAt: "2026-03-01T00:00:00Z",
		Entries: []semantic.Classification{
			{SourcePath: "notes/a.md", Decision: semantic.DecisionManualReview, Category: "progress"},
			{SourcePath: "notes/c.md", Decision: semantic.DecisionAutoMigrate, DecisionSource: "fallback"},
		},
	}
	if err := classifications.Write(filepath.Join(root, cfg.Legacy.SemanticReportPath)); err != nil {
		t.Fatal(err)
	}

	now := "2026-03-01T00:00:00Z"
	registry := legacy.NewRegistry(now)
	registry.Upsert("notes/a.md", legacy.RegistryEntry{
		Status:         "migrated",
		DecisionSource: "semantic",
		Confidence:     0.5,
		TargetPath:     "docs/target.md",
		Category:       "plan",
	}, now)
	registry.Upsert("notes/b.md", legacy.RegistryEntry{
		Status:         "migrated",
		DecisionSource: "semantic",
		TargetPath:     "docs/other.md",
	}, now)
	if err := registry.Save(filepath.Join(root, cfg.Legacy.RegistryPath), false); err != nil {
		t.Fatal(err)
	}

	// Entry block for a.md carries four of the five structured sections.
	target := strings.Join([]string{
		"# Target",
		"",
		"## Legacy Source `notes/a.md`",
		legacy.SourceMarker("notes/a.md"),
		"### 摘要",
		"short summary",
		"### Key Facts",
		"- fact",
		"### Decisions",
		"- decided",
		"### TODO & Risks",
		"- none",
	}, "\n")
	writeFile(t, root, "docs/target.md", target)
	writeFile(t, root, "docs/other.md", "# Other\n\nno marker here\n")

	result := EvaluateSemantic(root, &cfg)
	if !result.Enabled {
		t.Fatal("semantic quality should be enabled")
	}
	m := result.Metrics
	if m.AutoMigrateCount != 1 || m.ManualReviewCount != 1 || m.SkipCount != 0 {
		t.Fatalf("decision counts = %+v", m)
	}
	if m.FallbackAutoMigrateCount != 1 {
		t.Fatalf("fallback count = %d, want 1", m.FallbackAutoMigrateCount)
	}
	if m.LowConfidenceCount != 1 || len(result.LowConfidenceAutoSources) != 1 ||
		result.LowConfidenceAutoSources[0] != "notes/a.md" {
		t.Fatalf("low confidence = %+v", result.LowConfidenceAutoSources)
	}
	if m.MissingSourceMarkerAutoCount != 1 ||
		result.MissingSourceMarkerAutoSources[0] != "notes/b.md" {
		t.Fatalf("missing marker = %+v", result.MissingSourceMarkerAutoSources)
	}
	if m.ConflictCount != 1 || result.Conflicts[0].Kind != "category_mismatch" {
		t.Fatalf("conflicts = %+v", result.Conflicts)
	}
	if m.StructuredSectionCompleteness != 0.8 {
		t.Fatalf("completeness = %v, want 0.8", m.StructuredSectionCompleteness)
	}
	if len(result.IncompleteSources) != 1 || result.IncompleteSources[0] != "notes/a.md" {
		t.Fatalf("incomplete sources = %+v", result.IncompleteSources)
	}
	if len(result.Backlog) != 4 {
		t.Fatalf("backlog = %+v", result.Backlog)
	}
}

func TestEvaluateSemanticDisabled(t *testing.T) {
	cfg := policy.Default()
	result := EvaluateSemantic(t.TempDir(), &cfg)
	if result.Enabled {
		t.Fatal("should be disabled")
	}
	if result.Metrics.StructuredSectionCompleteness != 1.0 {
		t.Fatalf("completeness = %v, want 1.0", result.Metrics.StructuredSectionCompleteness)
	}
}

func TestEvaluateProgressive(t *testing.T) {
	root := t.TempDir()
	cfg := policy.Default().Progressive
	cfg.Enabled = true

	writeFile(t, root, "docs/one.md", strings.Join([]string{
		"# One",
		"### Summary",
		"short",
		"### Key Facts",
		"- a",
		"- b",
		"### Next Steps",
		"- go",
	}, "\n"))
	longSummary := strings.Repeat("word ", 40)
	writeFile(t, root, "docs/two.md", strings.Join([]string{
		"# Two",
		"### Summary",
		longSummary,
		"### Key Facts",
		"- 1", "- 2", "- 3", "- 4", "- 5", "- 6",
	}, "\n"))
	writeFile(t, root, "docs/three.md", "# Three\n\nplain document\n")

	spec := &docspec.Spec{Documents: []docspec.Document{
		{Path: "docs/one.md"},
		{Path: "docs/two.md"},
		{Path: "docs/three.md"},
	}}

	result := EvaluateProgressive(root, spec, cfg)
	m := result.Metrics
	if m.CandidateSections != 2 {
		t.Fatalf("candidates = %d, want 2", m.CandidateSections)
	}
	if m.SlotCompleteness != 0.8333 {
		t.Fatalf("completeness = %v, want 0.8333", m.SlotCompleteness)
	}
	if m.NextStepPresence != 0.5 {
		t.Fatalf("next step presence = %v, want 0.5", m.NextStepPresence)
	}
	if m.VerbosityOverBudget != 2 {
		t.Fatalf("over budget = %d, want 2", m.VerbosityOverBudget)
	}
	if m.MissingSlotsCount != 1 {
		t.Fatalf("missing slots = %d, want 1", m.MissingSlotsCount)
	}

	var two *ProgressiveFinding
	for i := range result.Findings {
		if result.Findings[i].Path == "docs/two.md" {
			two = &result.Findings[i]
		}
	}
	if two == nil {
		t.Fatal("no finding for docs/two.md")
	}
	if len(two.MissingSlots) != 1 || two.MissingSlots[0] != "next_steps" {
		t.Fatalf("missing slots = %v", two.MissingSlots)
	}
	if len(two.VerbosityIssues) != 2 {
		t.Fatalf("verbosity issues = %v", two.VerbosityIssues)
	}
}

func TestEvaluateProgressiveGating(t *testing.T) {
	root := t.TempDir()
	cfg := policy.Default()
	cfg.QualityGates.Enabled = true
	cfg.Progressive.Enabled = true

	writeFile(t, root, "docs/one.md", strings.Join([]string{
		"# One",
		"### Summary",
		strings.Repeat("long text ", 30),
	}, "\n"))
	spec := &docspec.Spec{Documents: []docspec.Document{{Path: "docs/one.md"}}}

	em := mapOf()
	report := Evaluate(root, &cfg, nil, spec, em, time.Now())
	want := []string{
		"min_progressive_slot_completeness",
		"min_next_step_presence",
		"max_section_verbosity_over_budget",
		"progressive_required_slots",
	}
	for _, check := range want {
		if !containsString(report.Gate.FailedChecks, check) {
			t.Errorf("failed checks missing %s: %v", check, report.Gate.FailedChecks)
		}
	}
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
