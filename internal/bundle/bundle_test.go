package bundle

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"docgarden/internal/manifest"
	"docgarden/internal/policy"
)

var bundleNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("mkdir %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func TestBuildOpenRoundTrip(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"docs/index.md":          "# Documentation Index\n",
		"docs/.doc-policy.json":  `{"version": 1}`,
		"docs/adr/0001-store.md": "# ADR 0001\n",
	})

	data, header, err := Build(root, []string{
		"docs/index.md",
		"docs/.doc-policy.json",
		"docs/adr/0001-store.md",
		"docs/index.md", // duplicate
	}, bundleNow)
	if err != nil {
		t.Fatalf("failed to build bundle: %v", err)
	}
	if len(data) < 4 || data[0] != 0x28 || data[1] != 0xB5 || data[2] != 0x2F || data[3] != 0xFD {
		t.Error("bundle doesn't have zstd magic number")
	}
	if header.Version != FormatVersion {
		t.Errorf("header version = %d", header.Version)
	}
	if len(header.Files) != 3 {
		t.Fatalf("expected 3 files in header, got %d", len(header.Files))
	}

	b, err := Open(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("failed to open bundle: %v", err)
	}
	wantPaths := []string{"docs/.doc-policy.json", "docs/adr/0001-store.md", "docs/index.md"}
	gotPaths := b.Paths()
	if len(gotPaths) != len(wantPaths) {
		t.Fatalf("paths = %v", gotPaths)
	}
	for i, want := range wantPaths {
		if gotPaths[i] != want {
			t.Errorf("paths[%d] = %q, want %q", i, gotPaths[i], want)
		}
	}
	content, ok := b.Content("docs/index.md")
	if !ok || string(content) != "# Documentation Index\n" {
		t.Errorf("unexpected index content: %q", content)
	}
}

func TestBuildErrors(t *testing.T) {
	root := t.TempDir()

	if _, _, err := Build(root, nil, bundleNow); err == nil {
		t.Error("expected error for empty path list")
	}
	if _, _, err := Build(root, []string{"docs/missing.md"}, bundleNow); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestOpenRejectsTamperedData(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"docs/index.md": "# Documentation Index\n"})

	data, _, err := Build(root, []string{"docs/index.md"}, bundleNow)
	if err != nil {
		t.Fatalf("failed to build bundle: %v", err)
	}

	// Decompress, flip a byte in the file payload, recompress.
	decoder, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("failed to create decoder: %v", err)
	}
	frame, err := io.ReadAll(decoder)
	decoder.Close()
	if err != nil {
		t.Fatalf("failed to decompress: %v", err)
	}
	frame[len(frame)-1] ^= 0xFF

	var tampered bytes.Buffer
	encoder, err := zstd.NewWriter(&tampered)
	if err != nil {
		t.Fatalf("failed to create encoder: %v", err)
	}
	if _, err := encoder.Write(frame); err != nil {
		t.Fatalf("failed to recompress: %v", err)
	}
	if err := encoder.Close(); err != nil {
		t.Fatalf("failed to close encoder: %v", err)
	}

	if _, err := Open(bytes.NewReader(tampered.Bytes())); err == nil || !strings.Contains(err.Error(), "digest mismatch") {
		t.Errorf("expected digest mismatch, got %v", err)
	}
}

func TestExtract(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"docs/index.md":        "# Documentation Index\n",
		"docs/architecture.md": "# Repository Architecture\n",
	})

	data, _, err := Build(root, []string{"docs/index.md", "docs/architecture.md"}, bundleNow)
	if err != nil {
		t.Fatalf("failed to build bundle: %v", err)
	}
	b, err := Open(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("failed to open bundle: %v", err)
	}

	dest := t.TempDir()
	writeTree(t, dest, map[string]string{"docs/index.md": "local edits\n"})

	written, err := b.Extract(dest, false)
	if err != nil {
		t.Fatalf("failed to extract: %v", err)
	}
	if written != 1 {
		t.Errorf("expected 1 written file, got %d", written)
	}
	kept, err := os.ReadFile(filepath.Join(dest, "docs", "index.md"))
	if err != nil {
		t.Fatalf("failed to read index: %v", err)
	}
	if string(kept) != "local edits\n" {
		t.Error("extract without overwrite clobbered an existing file")
	}

	written, err = b.Extract(dest, true)
	if err != nil {
		t.Fatalf("failed to extract with overwrite: %v", err)
	}
	if written != 2 {
		t.Errorf("expected 2 written files, got %d", written)
	}
	replaced, err := os.ReadFile(filepath.Join(dest, "docs", "index.md"))
	if err != nil {
		t.Fatalf("failed to read index: %v", err)
	}
	if string(replaced) != "# Documentation Index\n" {
		t.Errorf("unexpected index content after overwrite: %q", replaced)
	}
}

func TestCollectPaths(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"docs/index.md":            "# Documentation Index\n",
		"docs/architecture.md":     "# Repository Architecture\n",
		"docs/.doc-policy.json":    `{"version": 1}`,
		"docs/.doc-plan.json":      `{"version": 1}`,
		"docs/adr/0001-history.md": "# ADR 0001\n",
		"docs/adr/notes.txt":       "not markdown\n",
		"AGENTS.md":                "# AGENTS\n",
	})

	cfg := policy.Default()
	m := manifest.Manifest{
		Required: manifest.FileSet{
			Files: []string{"docs/index.md", "docs/architecture.md", "docs/runbook.md"},
			Dirs:  []string{"docs/adr"},
		},
	}

	paths := CollectPaths(root, &cfg, m)
	want := map[string]bool{
		"docs/index.md":            true,
		"docs/architecture.md":     true,
		"docs/.doc-policy.json":    true,
		"docs/.doc-plan.json":      true,
		"docs/adr/0001-history.md": true,
		"AGENTS.md":                true,
	}
	got := make(map[string]bool, len(paths))
	for _, p := range paths {
		got[p] = true
	}
	for p := range want {
		if !got[p] {
			t.Errorf("expected %s in collected paths %v", p, paths)
		}
	}
	if got["docs/runbook.md"] {
		t.Error("collected a missing required file")
	}
	if got["docs/adr/notes.txt"] {
		t.Error("collected non-markdown file from required dir")
	}
}
