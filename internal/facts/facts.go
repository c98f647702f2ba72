// Package facts scans a repository into a signal snapshot consumed by
// manifest resolution and planning.
package facts

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-git/v5"
	"lukechampine.com/blake3"
)

// Directories never descended into during a scan.
var ignoreDirs = map[string]bool{
	".git":          true,
	".idea":         true,
	".vscode":       true,
	".venv":         true,
	"venv":          true,
	"node_modules":  true,
	"dist":          true,
	"build":         true,
	"target":        true,
	"__pycache__":   true,
	".pytest_cache": true,
	".mypy_cache":   true,
	".tmp":          true,
}

var languageByExtension = map[string]string{
	".py":    "python",
	".go":    "go",
	".ts":    "typescript",
	".tsx":   "typescript",
	".js":    "javascript",
	".jsx":   "javascript",
	".java":  "java",
	".kt":    "kotlin",
	".rs":    "rust",
	".rb":    "ruby",
	".php":   "php",
	".cs":    "csharp",
	".cpp":   "cpp",
	".cc":    "cpp",
	".c":     "c",
	".swift": "swift",
}

var buildManifests = []string{
	"go.mod",
	"package.json",
	"pyproject.toml",
	"requirements.txt",
	"Cargo.toml",
	"pom.xml",
	"build.gradle",
	"Makefile",
}

var ciLocations = []string{
	".github/workflows",
	".gitlab-ci.yml",
	"Jenkinsfile",
	".circleci/config.yml",
}

var testFilePatterns = []string{
	"**/test_*.py",
	"**/*_test.py",
	"**/*.spec.ts",
	"**/*.test.ts",
	"**/*.spec.js",
	"**/*.test.js",
	"**/*_test.go",
	"**/*Test.java",
}

var testDirNames = map[string]bool{
	"tests": true, "test": true, "__tests__": true, "spec": true, "specs": true,
}

var apiSignalPatterns = []string{
	"**/*openapi*.yaml",
	"**/*openapi*.yml",
	"**/*swagger*.yaml",
	"**/*swagger*.yml",
	"**/api/**",
	"**/apis/**",
	"**/routes/**",
	"**/router/**",
	"**/controllers/**",
	"**/handlers/**",
}

var dataSignalPatterns = []string{
	"**/migrations/**",
	"**/migration/**",
	"**/alembic/**",
	"**/*.sql",
	"**/schema/**",
	"**/models/**",
}

var deliverySignalPatterns = []string{
	"Dockerfile",
	"docker-compose.yml",
	"docker-compose.yaml",
	"Procfile",
	"helmfile.yaml",
	"helmfile.yml",
	"**/deploy/**",
	"**/deployment/**",
	"**/release/**",
}

var opsSignalPatterns = []string{
	"k8s/**",
	"kubernetes/**",
	"infra/**",
	"terraform/**",
	"ansible/**",
}

var incidentSignalPatterns = []string{
	"incident/**",
	"**/incident/**",
	"**/*incident*.md",
	"**/*postmortem*.md",
	"**/*oncall*",
	"**/*pagerduty*",
}

var securitySignalPatterns = []string{
	"SECURITY.md",
	"**/SECURITY.md",
	"security/**",
	"**/security/**",
	"**/*threat-model*",
	"**/*sast*",
	"**/*gitleaks*",
	"**/*trivy*",
	"**/*.snyk*",
}

var complianceSignalPatterns = []string{
	"compliance/**",
	"**/compliance/**",
	"**/*soc2*",
	"**/*iso27001*",
	"**/*gdpr*",
	"**/*hipaa*",
	"**/*pci*",
	"**/controls/**",
	"**/audit/**",
}

// Stats are the coarse size metrics of the repository.
type Stats struct {
	FileCount         int `json:"file_count"`
	TopLevelFileCount int `json:"top_level_file_count"`
}

// TestSignals describes detected test assets.
type TestSignals struct {
	HasTests      bool     `json:"has_tests"`
	TestFileCount int      `json:"test_file_count"`
	TestFiles     []string `json:"test_files"`
	TestDirs      []string `json:"test_dirs"`
}

// Signal is one pattern-group detection result.
type Signal struct {
	Detected bool     `json:"detected"`
	Count    int      `json:"count"`
	Paths    []string `json:"paths"`
}

// Signals groups every capability-relevant detection.
type Signals struct {
	Tests      TestSignals `json:"tests"`
	API        Signal      `json:"api"`
	Data       Signal      `json:"data"`
	Delivery   Signal      `json:"delivery"`
	Ops        Signal      `json:"ops"`
	Incident   Signal      `json:"incident"`
	Security   Signal      `json:"security"`
	Compliance Signal      `json:"compliance"`
}

// DocsState describes the current docs/ tree.
type DocsState struct {
	DocsExists        bool     `json:"docs_exists"`
	DocsMarkdownFiles []string `json:"docs_markdown_files"`
	DocsMarkdownCount int      `json:"docs_markdown_count"`
}

// Head is the repository head metadata, when the root is a git work tree.
type Head struct {
	Branch string `json:"branch,omitempty"`
	Commit string `json:"commit,omitempty"`
}

// Snapshot is the repository fact document. Its JSON form is stable and
// is the substrate for repo_scan.* evidence lookups.
type Snapshot struct {
	GeneratedAt   string            `json:"generated_at"`
	Root          string            `json:"root"`
	RepoName      string            `json:"repo_name"`
	Stats         Stats             `json:"stats"`
	TopLevelFiles []string          `json:"top_level_files"`
	Modules       []string          `json:"modules"`
	Entrypoints   []string          `json:"entrypoints"`
	Languages     map[string]int    `json:"languages"`
	Manifests     map[string]bool   `json:"manifests"`
	CI            []string          `json:"ci"`
	Docs          DocsState         `json:"docs"`
	Signals       Signals           `json:"signals"`
	HasAgentsMD   bool              `json:"has_agents_md"`
	Git           Head              `json:"git"`
	DocDigests    map[string]string `json:"doc_digests"`

	tree map[string]any
}

// Scan walks root and collects the fact snapshot.
func Scan(root string) (*Snapshot, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", root)
	}

	files, err := walkFiles(root)
	if err != nil {
		return nil, fmt.Errorf("walking repository: %w", err)
	}

	snap := &Snapshot{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Root:        root,
		RepoName:    filepath.Base(absOrSelf(root)),
		Languages:   map[string]int{},
		Manifests:   map[string]bool{},
		DocDigests:  map[string]string{},
	}

	for _, rel := range files {
		if lang, ok := languageByExtension[strings.ToLower(filepath.Ext(rel))]; ok {
			snap.Languages[lang]++
		}
	}
	snap.Stats.FileCount = len(files)
	snap.TopLevelFiles = topLevelFiles(root)
	snap.Stats.TopLevelFileCount = len(snap.TopLevelFiles)
	snap.Modules = topLevelModules(root)
	snap.Entrypoints = entrypoints(root, files)
	for _, m := range buildManifests {
		snap.Manifests[m] = exists(filepath.Join(root, m))
	}
	snap.CI = ciPaths(root)
	snap.Docs = docsState(files)
	snap.Signals = Signals{
		Tests:      testSignals(files),
		API:        matchSignal(files, apiSignalPatterns),
		Data:       matchSignal(files, dataSignalPatterns),
		Delivery:   matchSignal(files, deliverySignalPatterns),
		Ops:        matchSignal(files, opsSignalPatterns),
		Incident:   matchSignal(files, incidentSignalPatterns),
		Security:   matchSignal(files, securitySignalPatterns),
		Compliance: matchSignal(files, complianceSignalPatterns),
	}
	snap.HasAgentsMD = exists(filepath.Join(root, "AGENTS.md"))
	snap.Git = headInfo(root)

	for _, rel := range snap.Docs.DocsMarkdownFiles {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			continue
		}
		sum := blake3.Sum256(data)
		snap.DocDigests[rel] = hex.EncodeToString(sum[:])
	}
	return snap, nil
}

// Load reads a previously written facts JSON document.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading facts: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing facts: %w", err)
	}
	return &snap, nil
}

// Write persists the snapshot as indented JSON.
func (s *Snapshot) Write(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding facts: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating facts directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing facts: %w", err)
	}
	return nil
}

// Age returns how old the snapshot is relative to now. ok is false when
// the timestamp is absent or unparseable.
func (s *Snapshot) Age(now time.Time) (time.Duration, bool) {
	if s == nil || s.GeneratedAt == "" {
		return 0, false
	}
	ts, err := time.Parse(time.RFC3339, s.GeneratedAt)
	if err != nil {
		return 0, false
	}
	return now.Sub(ts), true
}

// Lookup resolves a dotted path (e.g. "signals.tests.has_tests") against
// the snapshot's JSON form.
func (s *Snapshot) Lookup(dotted string) (any, bool) {
	if s == nil {
		return nil, false
	}
	if s.tree == nil {
		data, err := json.Marshal(s)
		if err != nil {
			return nil, false
		}
		if err := json.Unmarshal(data, &s.tree); err != nil {
			return nil, false
		}
	}
	var cur any = s.tree
	for _, part := range strings.Split(dotted, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func walkFiles(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && ignoreDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func topLevelFiles(root string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out
}

func topLevelModules(root string) []string {
	exclude := map[string]bool{
		"docs": true, "scripts": true, "references": true,
		"assets": true, "agents": true,
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") || ignoreDirs[name] || exclude[name] {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func entrypoints(root string, files []string) []string {
	found := map[string]bool{}
	for _, candidate := range []string{"main.py", "main.go", "manage.py", "src/main.py", "src/main.go"} {
		if exists(filepath.Join(root, filepath.FromSlash(candidate))) {
			found[candidate] = true
		}
	}
	for _, rel := range files {
		if strings.HasPrefix(rel, "cmd/") && strings.HasSuffix(rel, "/main.go") {
			found[rel] = true
		}
	}
	out := make([]string, 0, len(found))
	for p := range found {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func ciPaths(root string) []string {
	found := map[string]bool{}
	for _, item := range ciLocations {
		p := filepath.Join(root, filepath.FromSlash(item))
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if info.IsDir() {
			entries, err := os.ReadDir(p)
			if err != nil {
				continue
			}
			for _, e := range entries {
				name := e.Name()
				if strings.HasSuffix(name, ".yml") || strings.HasSuffix(name, ".yaml") {
					found[item+"/"+name] = true
				}
			}
		} else {
			found[item] = true
		}
	}
	out := make([]string, 0, len(found))
	for p := range found {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func docsState(files []string) DocsState {
	var md []string
	docsSeen := false
	for _, rel := range files {
		if strings.HasPrefix(rel, "docs/") {
			docsSeen = true
			if strings.HasSuffix(rel, ".md") {
				md = append(md, rel)
			}
		}
	}
	return DocsState{
		DocsExists:        docsSeen,
		DocsMarkdownFiles: md,
		DocsMarkdownCount: len(md),
	}
}

func testSignals(files []string) TestSignals {
	testFiles := map[string]bool{}
	testDirs := map[string]bool{}
	for _, rel := range files {
		if matchAny(rel, testFilePatterns) {
			testFiles[rel] = true
		}
		parts := strings.Split(rel, "/")
		for i := 0; i < len(parts)-1; i++ {
			if testDirNames[strings.ToLower(parts[i])] {
				testDirs[strings.Join(parts[:i+1], "/")] = true
				break
			}
		}
	}
	return TestSignals{
		HasTests:      len(testFiles) > 0 || len(testDirs) > 0,
		TestFileCount: len(testFiles),
		TestFiles:     sortedKeys(testFiles),
		TestDirs:      sortedKeys(testDirs),
	}
}

func matchSignal(files []string, patterns []string) Signal {
	matched := map[string]bool{}
	for _, rel := range files {
		if matchAny(rel, patterns) {
			matched[rel] = true
		}
	}
	return Signal{
		Detected: len(matched) > 0,
		Count:    len(matched),
		Paths:    sortedKeys(matched),
	}
}

func matchAny(rel string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func headInfo(root string) Head {
	repo, err := git.PlainOpen(root)
	if err != nil {
		return Head{}
	}
	ref, err := repo.Head()
	if err != nil {
		return Head{}
	}
	h := Head{Commit: ref.Hash().String()}
	if ref.Name().IsBranch() {
		h.Branch = ref.Name().Short()
	}
	return h
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func absOrSelf(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
