// Package manifest derives and evolves the documentation manifest from
// repository facts and policy goals.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"docgarden/internal/facts"
	"docgarden/internal/policy"
)

// DefaultArchiveDir receives archived documents.
const DefaultArchiveDir = "docs/archive"

// Manifest is the declared documentation surface of a repository.
type Manifest struct {
	Version    int      `json:"version"`
	Required   FileSet  `json:"required"`
	Optional   Optional `json:"optional"`
	ArchiveDir string   `json:"archive_dir"`
}

// FileSet lists required files and directories.
type FileSet struct {
	Files []string `json:"files"`
	Dirs  []string `json:"dirs"`
}

// Optional lists recommended but not enforced files.
type Optional struct {
	Files []string `json:"files"`
}

// Capability is one documentation capability and the paths it demands.
type Capability struct {
	ID            string
	RequiredFiles []string
	RequiredDirs  []string
	OptionalFiles []string
}

// Decision records whether a capability was enabled and why.
type Decision struct {
	ID            string   `json:"id"`
	Enabled       bool     `json:"enabled"`
	Source        string   `json:"source"`
	Evidence      []string `json:"evidence"`
	RequiredFiles []string `json:"required_files"`
	RequiredDirs  []string `json:"required_dirs"`
	OptionalFiles []string `json:"optional_files"`
}

// Metrics are the scalar repository measurements that drive capability
// decisions.
type Metrics struct {
	FileCount             int `json:"file_count"`
	ModulesCount          int `json:"modules_count"`
	EntrypointsCount      int `json:"entrypoints_count"`
	CICount               int `json:"ci_count"`
	LanguageCount         int `json:"language_count"`
	ManifestsPresentCount int `json:"manifests_present_count"`
	DocsMarkdownCount     int `json:"docs_markdown_count"`
	TestsDetected         int `json:"tests_detected"`
	APIDetected           int `json:"api_detected"`
	DataDetected          int `json:"data_detected"`
	DeliveryDetected      int `json:"delivery_detected"`
	OpsDetected           int `json:"ops_detected"`
	IncidentDetected      int `json:"incident_detected"`
	SecurityDetected      int `json:"security_detected"`
	ComplianceDetected    int `json:"compliance_detected"`
}

var goalAliases = map[string]string{
	"index":             "core.index",
	"core":              "core.index",
	"architecture":      "architecture.overview",
	"runbook":           "operations.runbook",
	"operations":        "operations.runbook",
	"planning":          "planning.workspace",
	"exec-plans":        "planning.workspace",
	"glossary":          "glossary.terms",
	"incident":          "incident.response",
	"incident-response": "incident.response",
	"security":          "security.posture",
	"compliance":        "compliance.controls",
}

var capabilities = []Capability{
	{ID: "core.index", RequiredFiles: []string{"docs/index.md"}},
	{ID: "operations.runbook", RequiredFiles: []string{"docs/runbook.md"}},
	{ID: "architecture.overview", RequiredFiles: []string{"docs/architecture.md"}},
	{ID: "planning.workspace", RequiredDirs: []string{
		"docs/exec-plans/active",
		"docs/exec-plans/completed",
		"docs/tech-debt",
	}},
	{ID: "glossary.terms", OptionalFiles: []string{"docs/glossary.md"}},
	{ID: "incident.response", RequiredFiles: []string{"docs/incident-response.md"}},
	{ID: "security.posture", RequiredFiles: []string{"docs/security.md"}},
	{ID: "compliance.controls", RequiredFiles: []string{"docs/compliance.md"}},
}

// Default returns the fixed baseline manifest.
func Default() Manifest {
	return normalize(Manifest{
		Version: 1,
		Required: FileSet{
			Files: []string{"docs/index.md", "docs/architecture.md", "docs/runbook.md"},
			Dirs: []string{
				"docs/exec-plans/active",
				"docs/exec-plans/completed",
				"docs/tech-debt",
			},
		},
		Optional:   Optional{Files: []string{"docs/glossary.md"}},
		ArchiveDir: DefaultArchiveDir,
	})
}

// Load reads a manifest file, returning ok=false when it does not exist.
func Load(path string) (Manifest, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, false, nil
		}
		return Manifest{}, false, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, false, fmt.Errorf("parsing manifest: %w", err)
	}
	return normalize(m), true, nil
}

// Write persists the manifest as indented JSON.
func Write(path string, m Manifest) error {
	data, err := json.MarshalIndent(normalize(m), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating manifest directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// Equal reports whether two manifests describe the same surface after
// normalization.
func Equal(a, b Manifest) bool {
	na, nb := normalize(a), normalize(b)
	aj, _ := json.Marshal(na)
	bj, _ := json.Marshal(nb)
	return string(aj) == string(bj)
}

func normalize(m Manifest) Manifest {
	requiredFiles := policy.NormalizeRelList(m.Required.Files)
	requiredDirs := policy.NormalizeRelList(m.Required.Dirs)
	optionalFiles := subtract(policy.NormalizeRelList(m.Optional.Files), requiredFiles)
	archive := policy.NormalizeRel(m.ArchiveDir)
	if archive == "" || archive == "." {
		archive = DefaultArchiveDir
	}
	return Manifest{
		Version:    1,
		Required:   FileSet{Files: requiredFiles, Dirs: requiredDirs},
		Optional:   Optional{Files: optionalFiles},
		ArchiveDir: archive,
	}
}

// CollectMetrics reduces a fact snapshot to capability metrics.
func CollectMetrics(snap *facts.Snapshot) Metrics {
	var m Metrics
	if snap == nil {
		return m
	}
	m.FileCount = snap.Stats.FileCount
	m.ModulesCount = len(snap.Modules)
	m.EntrypointsCount = len(snap.Entrypoints)
	m.CICount = len(snap.CI)
	m.LanguageCount = len(snap.Languages)
	for _, present := range snap.Manifests {
		if present {
			m.ManifestsPresentCount++
		}
	}
	m.DocsMarkdownCount = snap.Docs.DocsMarkdownCount
	m.TestsDetected = boolMetric(snap.Signals.Tests.HasTests)
	m.APIDetected = boolMetric(snap.Signals.API.Detected)
	m.DataDetected = boolMetric(snap.Signals.Data.Detected)
	m.DeliveryDetected = boolMetric(snap.Signals.Delivery.Detected)
	m.OpsDetected = boolMetric(snap.Signals.Ops.Detected)
	m.IncidentDetected = boolMetric(snap.Signals.Incident.Detected)
	m.SecurityDetected = boolMetric(snap.Signals.Security.Detected)
	m.ComplianceDetected = boolMetric(snap.Signals.Compliance.Detected)
	return m
}

// Profile buckets the repository by size.
func Profile(m Metrics) string {
	switch {
	case m.FileCount <= 30:
		return "tiny"
	case m.FileCount <= 120:
		return "small"
	case m.FileCount <= 400:
		return "medium"
	default:
		return "large"
	}
}

// NormalizeGoals maps goal aliases to canonical capability IDs.
func NormalizeGoals(raw []string) map[string]bool {
	out := map[string]bool{}
	for _, v := range raw {
		key := policy.NormalizeRel(v)
		if key == "" || key == "." {
			continue
		}
		if canonical, ok := goalAliases[key]; ok {
			key = canonical
		}
		out[key] = true
	}
	return out
}

func signalEvidence(id string, m Metrics) []string {
	var ev []string
	switch id {
	case "core.index":
		return []string{"baseline capability is always required"}
	case "operations.runbook":
		if m.EntrypointsCount > 0 {
			ev = append(ev, fmt.Sprintf("entrypoints=%d", m.EntrypointsCount))
		}
		if m.ManifestsPresentCount > 0 {
			ev = append(ev, fmt.Sprintf("manifests_present=%d", m.ManifestsPresentCount))
		}
		if m.CICount > 0 {
			ev = append(ev, fmt.Sprintf("ci_configs=%d", m.CICount))
		}
		if m.DeliveryDetected > 0 {
			ev = append(ev, "delivery_signals_detected")
		}
	case "architecture.overview":
		if m.ModulesCount >= 2 {
			ev = append(ev, fmt.Sprintf("modules=%d", m.ModulesCount))
		}
		if m.LanguageCount >= 2 {
			ev = append(ev, fmt.Sprintf("languages=%d", m.LanguageCount))
		}
		if m.FileCount >= 50 {
			ev = append(ev, fmt.Sprintf("file_count=%d", m.FileCount))
		}
	case "planning.workspace":
		if m.CICount > 0 {
			ev = append(ev, fmt.Sprintf("ci_configs=%d", m.CICount))
		}
		if m.ModulesCount >= 2 {
			ev = append(ev, fmt.Sprintf("modules=%d", m.ModulesCount))
		}
		if m.FileCount >= 80 {
			ev = append(ev, fmt.Sprintf("file_count=%d", m.FileCount))
		}
	case "glossary.terms":
		if m.DocsMarkdownCount >= 6 {
			ev = append(ev, fmt.Sprintf("docs_markdown_count=%d", m.DocsMarkdownCount))
		}
		if m.ModulesCount >= 5 {
			ev = append(ev, fmt.Sprintf("modules=%d", m.ModulesCount))
		}
	case "incident.response":
		if m.IncidentDetected > 0 {
			ev = append(ev, "incident_signals_detected")
		}
		if m.OpsDetected > 0 && m.CICount > 0 {
			ev = append(ev, "ops_and_ci_detected")
		}
	case "security.posture":
		if m.SecurityDetected > 0 {
			ev = append(ev, "security_signals_detected")
		}
		if m.CICount > 0 && m.ManifestsPresentCount > 0 {
			ev = append(ev, "ci_and_build_manifests_detected")
		}
	case "compliance.controls":
		if m.ComplianceDetected > 0 {
			ev = append(ev, "compliance_signals_detected")
		}
		if m.SecurityDetected > 0 && m.CICount > 0 && m.FileCount >= 150 {
			ev = append(ev, "large_repo_security_ci_detected")
		}
	}
	return ev
}

// DeriveDecisions evaluates every capability against metrics and policy
// goals.
func DeriveDecisions(snap *facts.Snapshot, cfg *policy.Config) ([]Decision, Metrics) {
	metrics := CollectMetrics(snap)
	include := NormalizeGoals(cfg.DocGoals.Include)
	exclude := NormalizeGoals(cfg.DocGoals.Exclude)

	var decisions []Decision
	for _, cap := range capabilities {
		evidence := signalEvidence(cap.ID, metrics)
		enabled := len(evidence) > 0
		source := "disabled"
		if enabled {
			source = "signal"
		}

		if include[cap.ID] {
			enabled = true
			source = "goal_include"
			evidence = append(evidence, "enabled by doc_goals.include")
		}
		if exclude[cap.ID] && cap.ID != "core.index" {
			enabled = false
			source = "goal_exclude"
			evidence = []string{"disabled by doc_goals.exclude"}
		}
		if cap.ID == "core.index" {
			source = "baseline"
			enabled = true
			if exclude[cap.ID] {
				evidence = append(evidence, "core.index cannot be excluded")
			}
		}
		if len(evidence) == 0 {
			evidence = []string{"no enabling signals"}
		}
		decisions = append(decisions, Decision{
			ID:            cap.ID,
			Enabled:       enabled,
			Source:        source,
			Evidence:      evidence,
			RequiredFiles: append([]string(nil), cap.RequiredFiles...),
			RequiredDirs:  append([]string(nil), cap.RequiredDirs...),
			OptionalFiles: append([]string(nil), cap.OptionalFiles...),
		})
	}
	return decisions, metrics
}

// DeriveAdaptive builds the manifest demanded by enabled capabilities,
// adaptive overrides applied, docs/index.md always required.
func DeriveAdaptive(snap *facts.Snapshot, cfg *policy.Config, archiveDir string) (Manifest, []Decision, Metrics, []string) {
	decisions, metrics := DeriveDecisions(snap, cfg)

	var requiredFiles, requiredDirs, optionalFiles []string
	for _, d := range decisions {
		if !d.Enabled {
			continue
		}
		requiredFiles = append(requiredFiles, d.RequiredFiles...)
		requiredDirs = append(requiredDirs, d.RequiredDirs...)
		optionalFiles = append(optionalFiles, d.OptionalFiles...)
	}

	requiredFiles, requiredDirs, optionalFiles, notes := applyOverrides(
		requiredFiles, requiredDirs, optionalFiles, cfg.AdaptiveOverrides)

	if !contains(requiredFiles, "docs/index.md") {
		requiredFiles = append(requiredFiles, "docs/index.md")
	}

	if archiveDir == "" {
		archiveDir = DefaultArchiveDir
	}
	m := normalize(Manifest{
		Version:    1,
		Required:   FileSet{Files: requiredFiles, Dirs: requiredDirs},
		Optional:   Optional{Files: optionalFiles},
		ArchiveDir: archiveDir,
	})
	return m, decisions, metrics, notes
}

func applyOverrides(requiredFiles, requiredDirs, optionalFiles []string, ov policy.AdaptiveOverrides) ([]string, []string, []string, []string) {
	includeFiles := policy.NormalizeRelList(ov.IncludeFiles)
	includeDirs := policy.NormalizeRelList(ov.IncludeDirs)
	excludeFiles := toSet(policy.NormalizeRelList(ov.ExcludeFiles))
	excludeDirs := toSet(policy.NormalizeRelList(ov.ExcludeDirs))

	reqFiles := toSet(policy.NormalizeRelList(requiredFiles))
	for _, f := range includeFiles {
		reqFiles[f] = true
	}
	reqDirs := toSet(policy.NormalizeRelList(requiredDirs))
	for _, d := range includeDirs {
		reqDirs[d] = true
	}
	optFiles := toSet(policy.NormalizeRelList(optionalFiles))

	for f := range excludeFiles {
		delete(reqFiles, f)
		delete(optFiles, f)
	}
	for d := range excludeDirs {
		delete(reqDirs, d)
	}
	// Required outranks optional.
	for f := range reqFiles {
		delete(optFiles, f)
	}

	var notes []string
	if len(includeFiles) > 0 {
		notes = append(notes, fmt.Sprintf("include_files=%d", len(includeFiles)))
	}
	if len(includeDirs) > 0 {
		notes = append(notes, fmt.Sprintf("include_dirs=%d", len(includeDirs)))
	}
	if len(excludeFiles) > 0 {
		notes = append(notes, fmt.Sprintf("exclude_files=%d", len(excludeFiles)))
	}
	if len(excludeDirs) > 0 {
		notes = append(notes, fmt.Sprintf("exclude_dirs=%d", len(excludeDirs)))
	}
	return setToList(reqFiles), setToList(reqDirs), setToList(optFiles), notes
}

// MergeAdditive unions desired into existing without removing anything
// already declared. Notes describe every addition.
func MergeAdditive(existing, desired Manifest) (Manifest, []string) {
	e, d := normalize(existing), normalize(desired)

	mergedRequiredFiles := union(e.Required.Files, d.Required.Files)
	mergedRequiredDirs := union(e.Required.Dirs, d.Required.Dirs)
	mergedOptionalFiles := subtract(union(e.Optional.Files, d.Optional.Files), mergedRequiredFiles)

	archive := e.ArchiveDir
	if archive == "" {
		archive = d.ArchiveDir
	}
	merged := normalize(Manifest{
		Version:    1,
		Required:   FileSet{Files: mergedRequiredFiles, Dirs: mergedRequiredDirs},
		Optional:   Optional{Files: mergedOptionalFiles},
		ArchiveDir: archive,
	})

	var notes []string
	if added := subtract(merged.Required.Files, e.Required.Files); len(added) > 0 {
		notes = append(notes, "new required files: "+join(added))
	}
	if added := subtract(merged.Required.Dirs, e.Required.Dirs); len(added) > 0 {
		notes = append(notes, "new required dirs: "+join(added))
	}
	if added := subtract(merged.Optional.Files, e.Optional.Files); len(added) > 0 {
		notes = append(notes, "new optional files: "+join(added))
	}
	return merged, notes
}

func boolMetric(v bool) int {
	if v {
		return 1
	}
	return 0
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func toSet(list []string) map[string]bool {
	out := map[string]bool{}
	for _, v := range list {
		out[v] = true
	}
	return out
}

func setToList(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func union(a, b []string) []string {
	s := toSet(a)
	for _, v := range b {
		s[v] = true
	}
	return setToList(s)
}

func subtract(a, b []string) []string {
	s := toSet(b)
	var out []string
	for _, v := range a {
		if !s[v] {
			out = append(out, v)
		}
	}
	return out
}

func join(items []string) string {
	out := ""
	for i, v := range items {
		if i > 0 {
			out += ", "
		}
		out += v
	}
	return out
}
