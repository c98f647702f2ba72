package facts

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

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

func TestScan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "go.mod", "module sample\n")
	writeFile(t, root, "README.md", "# sample\n")
	writeFile(t, root, "AGENTS.md", "# agents\n")
	writeFile(t, root, "cmd/sample/main.go", "package main\n")
	writeFile(t, root, "internal/api/server.go", "package api\n")
	writeFile(t, root, "internal/api/server_test.go", "package api\n")
	writeFile(t, root, "migrations/001_init.sql", "create table t(x int);\n")
	writeFile(t, root, "docs/index.md", "# index\n")
	writeFile(t, root, "docs/runbook.md", "# runbook\n")
	writeFile(t, root, ".github/workflows/ci.yml", "name: ci\n")
	writeFile(t, root, "node_modules/dep/index.js", "module.exports = 1\n")

	snap, err := Scan(root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if !snap.Manifests["go.mod"] {
		t.Error("go.mod manifest not detected")
	}
	if snap.Manifests["package.json"] {
		t.Error("package.json should not be detected")
	}
	if snap.Languages["go"] != 3 {
		t.Errorf("go file count = %d, want 3", snap.Languages["go"])
	}
	if snap.Languages["javascript"] != 0 {
		t.Errorf("ignored dirs leaked into languages: %d js files", snap.Languages["javascript"])
	}
	if !snap.HasAgentsMD {
		t.Error("AGENTS.md not detected")
	}
	if !snap.Docs.DocsExists || snap.Docs.DocsMarkdownCount != 2 {
		t.Errorf("docs state = %+v", snap.Docs)
	}
	if len(snap.CI) != 1 || snap.CI[0] != ".github/workflows/ci.yml" {
		t.Errorf("ci = %v", snap.CI)
	}
	if !snap.Signals.Tests.HasTests || snap.Signals.Tests.TestFileCount != 1 {
		t.Errorf("test signals = %+v", snap.Signals.Tests)
	}
	if !snap.Signals.API.Detected {
		t.Error("api signal not detected for internal/api")
	}
	if !snap.Signals.Data.Detected {
		t.Error("data signal not detected for migrations")
	}
	if snap.Signals.Security.Detected {
		t.Error("security signal should not be detected")
	}
	found := false
	for _, e := range snap.Entrypoints {
		if e == "cmd/sample/main.go" {
			found = true
		}
	}
	if !found {
		t.Errorf("entrypoints = %v, want cmd/sample/main.go", snap.Entrypoints)
	}
	if len(snap.DocDigests) != 2 {
		t.Errorf("doc digests = %v", snap.DocDigests)
	}
	for rel, digest := range snap.DocDigests {
		if len(digest) != 64 {
			t.Errorf("digest for %s has length %d", rel, len(digest))
		}
	}
}

func TestScanModulesExcludeReserved(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "docs/index.md", "# index\n")
	writeFile(t, root, "scripts/run.sh", "echo hi\n")
	writeFile(t, root, "server/main.go", "package main\n")

	snap, err := Scan(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Modules) != 1 || snap.Modules[0] != "server" {
		t.Errorf("modules = %v, want [server]", snap.Modules)
	}
}

func TestLookup(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "go.mod", "module sample\n")
	writeFile(t, root, "docs/index.md", "# index\n")

	snap, err := Scan(root)
	if err != nil {
		t.Fatal(err)
	}

	v, ok := snap.Lookup("docs.docs_exists")
	if !ok || v != true {
		t.Errorf("docs.docs_exists = %v, %v", v, ok)
	}
	v, ok = snap.Lookup("stats.file_count")
	if !ok || v.(float64) != 2 {
		t.Errorf("stats.file_count = %v, %v", v, ok)
	}
	if _, ok := snap.Lookup("no.such.path"); ok {
		t.Error("lookup of missing path should fail")
	}
}

func TestWriteAndLoad(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "docs/index.md", "# index\n")

	snap, err := Scan(root)
	if err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(root, "docs", ".repo-facts.json")
	if err := snap.Write(out); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(out)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Docs.DocsMarkdownCount != snap.Docs.DocsMarkdownCount {
		t.Errorf("round trip markdown count = %d, want %d",
			loaded.Docs.DocsMarkdownCount, snap.Docs.DocsMarkdownCount)
	}
	age, ok := loaded.Age(time.Now().Add(time.Hour))
	if !ok || age <= 0 {
		t.Errorf("age = %v, %v", age, ok)
	}
}
