package semantic

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"docgarden/internal/policy"
)

func classifierConfig() policy.SemanticClassification {
	return policy.SemanticClassification{
		Enabled:              true,
		Engine:               "deterministic_mock",
		Provider:             "deterministic_mock",
		Model:                "deterministic-mock-v1",
		AutoMigrateThreshold: 0.85,
		ReviewThreshold:      0.60,
		MaxCharsPerDoc:       20000,
		DenylistFiles:        []string{"README.md", "AGENTS.md"},
		FailClosed:           true,
	}
}

func writeSource(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestClassifyDisabled(t *testing.T) {
	cfg := classifierConfig()
	cfg.Enabled = false
	got := Classify(t.TempDir(), "notes.md", cfg)
	if got.Decision != DecisionManualReview {
		t.Errorf("decision = %q", got.Decision)
	}
	if got.Rationale != "semantic classifier disabled by policy" {
		t.Errorf("rationale = %q", got.Rationale)
	}
}

func TestClassifyDenylist(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "sub/README.md", "plan roadmap milestone\n")
	got := Classify(root, "sub/README.md", classifierConfig())
	if got.Decision != DecisionSkip || got.Category != CategoryNotMigratable {
		t.Errorf("classification = %+v", got)
	}
	if got.Confidence != 1.0 {
		t.Errorf("confidence = %v", got.Confidence)
	}
}

func TestClassifyReadError(t *testing.T) {
	got := Classify(t.TempDir(), "missing.md", classifierConfig())
	if got.Decision != DecisionManualReview {
		t.Errorf("fail-closed decision = %q", got.Decision)
	}
	cfg := classifierConfig()
	cfg.FailClosed = false
	got = Classify(t.TempDir(), "missing.md", cfg)
	if got.Decision != DecisionSkip {
		t.Errorf("fail-open decision = %q", got.Decision)
	}
}

func TestClassifyDecisionBands(t *testing.T) {
	root := t.TempDir()
	// Three plan keywords: 0.55 + 3*0.12 = 0.91 >= 0.85.
	writeSource(t, root, "notes/high.md", "plan roadmap milestone\n")
	// One progress keyword: 0.55 + 0.12 = 0.67 in review band.
	writeSource(t, root, "notes/mid.md", "status of the work\n")
	// No signals: not_migratable at 0.40.
	writeSource(t, root, "notes/none.md", "nothing relevant here\n")

	cfg := classifierConfig()

	high := Classify(root, "notes/high.md", cfg)
	if high.Decision != DecisionAutoMigrate || high.Category != "plan" {
		t.Errorf("high = %+v", high)
	}
	if high.Confidence != 0.91 {
		t.Errorf("high confidence = %v", high.Confidence)
	}

	mid := Classify(root, "notes/mid.md", cfg)
	if mid.Decision != DecisionManualReview || mid.Category != "progress" {
		t.Errorf("mid = %+v", mid)
	}

	none := Classify(root, "notes/none.md", cfg)
	if none.Decision != DecisionSkip || none.Category != CategoryNotMigratable || none.Confidence != 0.40 {
		t.Errorf("none = %+v", none)
	}
}

func TestClassifyTruncates(t *testing.T) {
	root := t.TempDir()
	content := strings.Repeat("x", 100) + " plan roadmap"
	writeSource(t, root, "long.md", content)
	cfg := classifierConfig()
	cfg.MaxCharsPerDoc = 50

	got := Classify(root, "long.md", cfg)
	if !got.Truncated || got.AnalyzedChars != 50 {
		t.Errorf("truncation = %+v", got)
	}
	// Keywords past the cutoff must not be seen.
	if got.Category != CategoryNotMigratable {
		t.Errorf("category = %q", got.Category)
	}
}

func genConfig() policy.SemanticGeneration {
	return policy.SemanticGeneration{
		Enabled:                  true,
		Mode:                     policy.SemanticModeHybrid,
		PreferAgentFirst:         true,
		RequireSemanticAttempt:   true,
		Source:                   "invoking_agent",
		RuntimeReportPath:        "docs/.semantic-runtime-report.json",
		FailClosed:               true,
		AllowFallbackTemplate:    true,
		MaxOutputCharsPerSection: 4000,
		Actions:                  policy.SemanticActionDefaults(),
	}
}

func TestLoadReportMissing(t *testing.T) {
	entries, meta := LoadReport(t.TempDir(), genConfig())
	if entries != nil || meta.Available {
		t.Errorf("entries = %v meta = %+v", entries, meta)
	}
	if !strings.Contains(meta.Error, "runtime report not found") {
		t.Errorf("error = %q", meta.Error)
	}
}

func TestLoadReportNormalization(t *testing.T) {
	root := t.TempDir()
	report := `{
  "entries": [
    {
      "path": "docs/runbook.md",
      "section_id": "dev_commands",
      "action_type": "update_section",
      "status": "ok",
      "content": "Updated commands.",
      "citations": ["evidence://runbook.dev_commands"]
    },
    {
      "doc_path": "docs/index.md",
      "status": "weird",
      "content": "Index overview."
    },
    {
      "path": "docs/empty.md"
    }
  ]
}`
	writeSource(t, root, "docs/.semantic-runtime-report.json", report)

	entries, meta := LoadReport(root, genConfig())
	if !meta.Available || meta.EntryCount != 2 {
		t.Fatalf("meta = %+v", meta)
	}
	if entries[0].EntryID != "runtime-0000" || entries[0].SectionID != "dev_commands" {
		t.Errorf("entry[0] = %+v", entries[0])
	}
	if entries[1].Status != EntryStatusManualReview {
		t.Errorf("entry[1].status = %q", entries[1].Status)
	}
	foundWarn := false
	for _, w := range meta.Warnings {
		if strings.Contains(w, "requires content or statement or slots") {
			foundWarn = true
		}
	}
	if !foundWarn {
		t.Errorf("warnings = %v", meta.Warnings)
	}
}

func TestLoadReportTruncatesContent(t *testing.T) {
	root := t.TempDir()
	long := strings.Repeat("a", 60)
	writeSource(t, root, "docs/.semantic-runtime-report.json",
		`{"entries":[{"path":"docs/index.md","content":"`+long+`"}]}`)
	cfg := genConfig()
	cfg.MaxOutputCharsPerSection = 10

	entries, meta := LoadReport(root, cfg)
	if len(entries) != 1 || len(entries[0].Content) != 10 {
		t.Fatalf("entries = %+v", entries)
	}
	found := false
	for _, w := range meta.Warnings {
		if strings.Contains(w, "truncated") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v", meta.Warnings)
	}
}

func TestShouldAttempt(t *testing.T) {
	cfg := genConfig()
	if !ShouldAttempt("update_section", cfg) {
		t.Error("hybrid mode should attempt update_section")
	}
	cfg.Mode = policy.SemanticModeDeterministic
	if ShouldAttempt("update_section", cfg) {
		t.Error("deterministic mode must not attempt")
	}
	cfg = genConfig()
	cfg.Actions["update_section"] = false
	if ShouldAttempt("update_section", cfg) {
		t.Error("disabled action must not attempt")
	}
	if ShouldAttempt("archive", genConfig()) {
		t.Error("non-semantic action must not attempt")
	}
}

func TestSelectEntry(t *testing.T) {
	cfg := genConfig()
	entries := []Entry{
		{Path: "docs/runbook.md", EntryID: "generic", Status: EntryStatusOK, Content: "x"},
		{Path: "docs/runbook.md", EntryID: "typed", ActionType: "update_section",
			SectionID: "dev_commands", Status: EntryStatusOK, Content: "y"},
		{Path: "docs/runbook.md", EntryID: "wrong-section", ActionType: "update_section",
			SectionID: "other", Status: EntryStatusOK, Content: "z"},
		{Path: "docs/other.md", EntryID: "other-path", Status: EntryStatusOK, Content: "w"},
	}

	got := SelectEntry("update_section", "docs/runbook.md", "dev_commands", "", entries, cfg)
	if got == nil || got.EntryID != "typed" {
		t.Fatalf("selected = %+v", got)
	}

	if got := SelectEntry("update_section", "docs/absent.md", "", "", entries, cfg); got != nil {
		t.Errorf("selected for absent path = %+v", got)
	}

	cfg.Mode = policy.SemanticModeDeterministic
	if got := SelectEntry("update_section", "docs/runbook.md", "dev_commands", "", entries, cfg); got != nil {
		t.Errorf("deterministic select = %+v", got)
	}
}
