package evidence

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"docgarden/internal/docspec"
	"docgarden/internal/facts"
)

func boolPtr(v bool) *bool { return &v }

func snapshotWithTests() *facts.Snapshot {
	return &facts.Snapshot{
		Stats:     facts.Stats{FileCount: 42},
		Languages: map[string]int{"go": 10},
		Manifests: map[string]bool{"go.mod": true, "package.json": false},
		Signals: facts.Signals{
			Tests: facts.TestSignals{HasTests: true, TestFileCount: 3},
		},
	}
}

func writeRunbook(t *testing.T, root string) {
	t.Helper()
	content := strings.Join([]string{
		"# Runbook",
		"",
		"## Development Commands",
		"",
		"```bash",
		"# build first",
		"go build ./...",
		"go test ./...",
		"go test ./...",
		"```",
		"",
		"## Validation Commands",
		"",
		"```sh",
		"make lint",
		"```",
		"",
	}, "\n")
	if err := os.MkdirAll(filepath.Join(root, "docs"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "docs", "runbook.md"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestResolveRepoScan(t *testing.T) {
	r := NewResolver(t.TempDir(), snapshotWithTests())

	v := r.Resolve("repo_scan.signals.tests.test_file_count")
	if v == nil {
		t.Fatal("test_file_count not resolved")
	}
	if v.(float64) != 3 {
		t.Errorf("test_file_count = %v", v)
	}
	if r.Resolve("repo_scan.no.such.key") != nil {
		t.Error("missing key should resolve to nil")
	}
	if r.Resolve("unsupported.type") != nil {
		t.Error("unknown evidence namespace should resolve to nil")
	}
	if r.Resolve("repo_scan") != nil {
		t.Error("prefix without a key should resolve to nil")
	}
}

type staticSource struct {
	values map[string]any
}

func (s *staticSource) Resolve(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

func TestResolveDispatchesByPrefix(t *testing.T) {
	r := NewResolver(t.TempDir(), nil)
	r.sources["release"] = &staticSource{values: map[string]any{"channel": "stable"}}

	if v := r.Resolve("release.channel"); v != "stable" {
		t.Errorf("release.channel = %v, want stable", v)
	}
	if r.Resolve("release.version") != nil {
		t.Error("unknown key in a registered source should resolve to nil")
	}
	if r.Resolve("repo_scan.signals.tests.test_file_count") != nil {
		t.Error("nil snapshot repo_scan source should resolve to nil")
	}
}

func TestResolveRunbookCommands(t *testing.T) {
	root := t.TempDir()
	writeRunbook(t, root)
	r := NewResolver(root, nil)

	v := r.Resolve("runbook.dev_commands")
	cmds, ok := v.([]string)
	if !ok {
		t.Fatalf("dev_commands = %T", v)
	}
	want := []string{"go build ./...", "go test ./..."}
	if len(cmds) != len(want) {
		t.Fatalf("commands = %v", cmds)
	}
	for i := range want {
		if cmds[i] != want[i] {
			t.Errorf("commands[%d] = %q, want %q", i, cmds[i], want[i])
		}
	}

	v = r.Resolve("runbook.validation_commands")
	if cmds, ok := v.([]string); !ok || len(cmds) != 1 || cmds[0] != "make lint" {
		t.Errorf("validation_commands = %v", v)
	}
	if r.Resolve("runbook.unknown_section") != nil {
		t.Error("unknown runbook section should resolve to nil")
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"nil", nil, "UNKNOWN"},
		{"empty list", []string{}, "UNKNOWN"},
		{"list", []string{"a", "b"}, "a, b"},
		{"bool map", map[string]any{"go.mod": true, "Makefile": false}, "go.mod"},
		{"all false map", map[string]any{"go.mod": false}, "none"},
		{"mixed map", map[string]any{"go": float64(3)}, "go:3"},
		{"scalar", 7, "7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Summarize(tt.value); got != tt.want {
				t.Errorf("Summarize(%v) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestRenderStatement(t *testing.T) {
	if got := RenderStatement("Run {command} now.", "go test"); got != "Run go test now." {
		t.Errorf("got %q", got)
	}
	if got := RenderStatement("Static statement.", "x"); got != "Static statement." {
		t.Errorf("got %q", got)
	}
	if got := RenderStatement("", "fallback"); got != "fallback" {
		t.Errorf("got %q", got)
	}
}

func TestResolveClaimStatuses(t *testing.T) {
	root := t.TempDir()
	writeRunbook(t, root)
	r := NewResolver(root, snapshotWithTests())

	supported := r.ResolveClaim(docspec.Claim{
		ClaimID:               "tests-present",
		StatementTemplate:     "Tests detected: {value}.",
		RequiredEvidenceTypes: []string{"repo_scan.signals.tests.test_file_count"},
		AllowUnknown:          boolPtr(false),
	})
	if supported.Status != StatusSupported {
		t.Fatalf("status = %q", supported.Status)
	}
	if supported.Statement != "Tests detected: 3." {
		t.Errorf("statement = %q", supported.Statement)
	}
	if supported.Citation != "evidence://repo_scan.signals.tests.test_file_count" {
		t.Errorf("citation = %q", supported.Citation)
	}

	unknown := r.ResolveClaim(docspec.Claim{
		ClaimID:               "deploy-target",
		StatementTemplate:     "Deploys to {target}.",
		RequiredEvidenceTypes: []string{"repo_scan.deploy.target"},
		AllowUnknown:          boolPtr(true),
	})
	if unknown.Status != StatusUnknown || unknown.Statement != "Deploys to UNKNOWN." {
		t.Errorf("unknown entry = %+v", unknown)
	}

	missing := r.ResolveClaim(docspec.Claim{
		ClaimID:               "deploy-target-strict",
		StatementTemplate:     "Deploys to {target}.",
		RequiredEvidenceTypes: []string{"repo_scan.deploy.target"},
		AllowUnknown:          boolPtr(false),
	})
	if missing.Status != StatusMissing || missing.Statement != "Deploys to TODO." {
		t.Errorf("missing entry = %+v", missing)
	}
	if len(missing.MissingEvidenceTypes) != 1 {
		t.Errorf("missing types = %v", missing.MissingEvidenceTypes)
	}
}

func TestBuildMetrics(t *testing.T) {
	root := t.TempDir()
	writeRunbook(t, root)
	r := NewResolver(root, snapshotWithTests())

	spec := &docspec.Spec{
		Version: 1,
		Documents: []docspec.Document{
			{
				Path: "docs/runbook.md",
				Sections: []docspec.Section{
					{
						SectionID: "dev_commands",
						Claims: []docspec.Claim{
							{
								ClaimID:               "commands",
								StatementTemplate:     "Commands: {v}.",
								RequiredEvidenceTypes: []string{"runbook.dev_commands"},
								AllowUnknown:          boolPtr(false),
							},
							{
								ClaimID:               "ghost",
								StatementTemplate:     "Ghost: {v}.",
								RequiredEvidenceTypes: []string{"repo_scan.nothing"},
								AllowUnknown:          boolPtr(true),
							},
						},
					},
				},
			},
		},
	}
	m := Build(r, spec, "2026-01-01T00:00:00Z")
	if m.Metrics.Claims != 2 || m.Metrics.Supported != 1 || m.Metrics.Unknown != 1 || m.Metrics.Missing != 0 {
		t.Errorf("metrics = %+v", m.Metrics)
	}

	out := filepath.Join(root, "docs", ".doc-evidence-map.json")
	if err := m.Write(out); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(out)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Metrics != m.Metrics {
		t.Errorf("round trip metrics = %+v", loaded.Metrics)
	}
}
