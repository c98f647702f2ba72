package legacy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"docgarden/internal/policy"
)

func legacyConfig() policy.Legacy {
	return policy.Legacy{
		Enabled:      true,
		IncludeGlobs: []string{"notes/**", "*.md"},
		ExcludeGlobs: []string{"docs/**", ".git/**"},
		ArchiveRoot:  "docs/archive/legacy",
		MappingStrategy: "path_based",
		TargetRoot:      "docs/history/legacy",
		TargetDoc:       "docs/history/legacy-migration.md",
		RegistryPath:    "docs/.legacy-migration-map.json",
		AllowNonMarkdown: true,
	}
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "notes/plan.md", "plan\n")
	writeFile(t, root, "notes/data.txt", "data\n")
	writeFile(t, root, "notes/.hidden.md", "hidden\n")
	writeFile(t, root, "TODO.md", "todo\n")
	writeFile(t, root, "docs/index.md", "index\n")
	writeFile(t, root, "docs/archive/legacy/old.md", "old\n")

	got, err := Discover(root, legacyConfig())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"TODO.md", "notes/data.txt", "notes/plan.md"}
	if len(got) != len(want) {
		t.Fatalf("discovered = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("discovered[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	cfg := legacyConfig()
	cfg.AllowNonMarkdown = false
	got, err = Discover(root, cfg)
	if err != nil {
		t.Fatal(err)
	}
	for _, rel := range got {
		if strings.HasSuffix(rel, ".txt") {
			t.Errorf("non-markdown %q discovered", rel)
		}
	}

	cfg = legacyConfig()
	cfg.Enabled = false
	if got, _ := Discover(root, cfg); got != nil {
		t.Errorf("disabled discovery = %v", got)
	}
}

func TestResolveTargetPath(t *testing.T) {
	cfg := legacyConfig()

	if got := ResolveTargetPath("notes/plan.md", cfg); got != "docs/history/legacy/notes/plan.md" {
		t.Errorf("path_based = %q", got)
	}
	if got := ResolveTargetPath("notes/data.txt", cfg); got != "docs/history/legacy/notes/data.txt.md" {
		t.Errorf("non-markdown = %q", got)
	}

	cfg.MappingTable = map[string]string{"notes/plan.md": "docs/history/planning.md"}
	if got := ResolveTargetPath("notes/plan.md", cfg); got != "docs/history/planning.md" {
		t.Errorf("mapping table = %q", got)
	}

	cfg = legacyConfig()
	cfg.MappingStrategy = "tag_based"
	if got := ResolveTargetPath("notes/plan.md", cfg); got != "docs/history/legacy-migration.md" {
		t.Errorf("tag_based = %q", got)
	}
}

func TestResolveArchivePath(t *testing.T) {
	if got := ResolveArchivePath("notes/plan.md", legacyConfig()); got != "docs/archive/legacy/notes/plan.md" {
		t.Errorf("archive path = %q", got)
	}
}

func TestRenderEntry(t *testing.T) {
	content := strings.Join([]string{
		"# Old Plan",
		"",
		"Decision: keep sqlite as the store.",
		"TODO: migrate remaining scripts.",
		"Shipped on 2025-11-02 after review.",
	}, "\n")
	semantic := &SemanticContext{Category: "plan", Confidence: 0.91, HasConfidence: true}

	entry := RenderEntry("notes/plan.md", content, "docs/archive/legacy/notes/plan.md",
		"en-US", "2026-01-01T00:00:00Z", semantic, []string{"evidence://semantic_report.plan"})

	for _, want := range []string{
		"## Legacy Source `notes/plan.md`",
		"<!-- legacy-source: notes/plan.md -->",
		"<!-- legacy-migrated-at: 2026-01-01T00:00:00Z -->",
		"### Summary",
		"Semantic category: `plan`",
		"Semantic confidence: `0.91`",
		"### Key Facts",
		"Source file: `notes/plan.md`",
		"Shipped on 2025-11-02 after review.",
		"### Decisions",
		"Decision: keep sqlite as the store.",
		"### TODO & Risks",
		"TODO: migrate remaining scripts.",
		"### Source Trace",
		"Archive path: `docs/archive/legacy/notes/plan.md`",
		"Evidence references：`evidence://semantic_report.plan`",
		"#### Source Excerpt",
		"````text",
	} {
		if !strings.Contains(entry, want) {
			t.Errorf("entry missing %q", want)
		}
	}
}

func TestRenderEntryEmptySource(t *testing.T) {
	entry := RenderEntry("notes/empty.md", "", "docs/archive/legacy/notes/empty.md",
		"en-US", "2026-01-01T00:00:00Z", nil, nil)
	if !strings.Contains(entry, "(empty)") {
		t.Error("empty source should mark (empty)")
	}
	if !strings.Contains(entry, "- TODO: Add decided constraints") {
		t.Error("missing decisions fallback")
	}
	if !strings.Contains(entry, "- No pending tasks or risks") {
		t.Error("missing risks fallback")
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "docs", ".legacy-migration-map.json")
	now := "2026-01-01T00:00:00Z"

	reg := LoadRegistry(p, now)
	if len(reg.Entries) != 0 || reg.Version != 1 {
		t.Fatalf("fresh registry = %+v", reg)
	}

	reg.Upsert("notes/plan.md", RegistryEntry{
		TargetPath:  "docs/history/legacy/notes/plan.md",
		ArchivePath: "docs/archive/legacy/notes/plan.md",
		Status:      "migrated",
		Category:    "plan",
		Confidence:  0.91,
		Decision:    "auto_migrate",
	}, now)
	if !reg.HasCompleted("notes/plan.md") {
		t.Error("migrated entry should be completed")
	}
	if reg.HasCompleted("notes/other.md") {
		t.Error("unknown entry should not be completed")
	}

	if err := reg.Save(p, false); err != nil {
		t.Fatal(err)
	}
	loaded := LoadRegistry(p, now)
	entry, ok := loaded.Entries["notes/plan.md"]
	if !ok || entry.Status != "migrated" || entry.Category != "plan" {
		t.Errorf("loaded entry = %+v", entry)
	}

	// Upsert keeps fields the patch does not name.
	loaded.Upsert("notes/plan.md", RegistryEntry{Status: "archived"}, now)
	entry = loaded.Entries["notes/plan.md"]
	if entry.TargetPath != "docs/history/legacy/notes/plan.md" || entry.Status != "archived" {
		t.Errorf("patched entry = %+v", entry)
	}
}

func TestRegistrySaveDryRun(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "registry.json")
	reg := NewRegistry("2026-01-01T00:00:00Z")
	if err := reg.Save(p, true); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Error("dry run must not write the registry")
	}
}

func TestCompleted(t *testing.T) {
	for _, status := range []string{"migrated", "archived", "exempted"} {
		if !Completed(status) {
			t.Errorf("%q should be completed", status)
		}
	}
	for _, status := range []string{"", "manual_review", "pending"} {
		if Completed(status) {
			t.Errorf("%q should not be completed", status)
		}
	}
}
