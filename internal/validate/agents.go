package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"docgarden/internal/policy"
)

var (
	commandRefPattern  = regexp.MustCompile(`docgarden\s+([a-z][a-z-]*)`)
	backtickPattern    = regexp.MustCompile("`+")
	leadingMarkPattern = regexp.MustCompile(`^[#>\-\d.\s]+`)
	spaceRunPattern    = regexp.MustCompile(`\s+`)
)

// knownSubcommands are the CLI verbs AGENTS.md is allowed to reference
// in its standard-commands block.
var knownSubcommands = map[string]bool{
	"scan":     true,
	"plan":     true,
	"apply":    true,
	"validate": true,
	"garden":   true,
	"export":   true,
}

var agentsHeadingChecks = []struct {
	name       string
	candidates []string
}{
	{"purpose", []string{"## 目标", "## Purpose"}},
	{"navigation", []string{"## 导航", "## Navigation"}},
	{"commands", []string{"## 标准命令", "## Standard Commands"}},
	{"guardrails", []string{"## Guardrails"}},
}

// AgentsGate is the pass/fail verdict of the AGENTS quality check.
type AgentsGate struct {
	Status       string   `json:"status"`
	FailedChecks []string `json:"failed_checks"`
}

// AgentsMetrics counts AGENTS.md findings.
type AgentsMetrics struct {
	LineCount            int     `json:"line_count"`
	MissingHeadings      int     `json:"missing_headings"`
	MissingRequiredLinks int     `json:"missing_required_links"`
	BrokenLinks          int     `json:"broken_links"`
	InvalidCommandRefs   int     `json:"invalid_command_refs"`
	OverlapRatio         float64 `json:"overlap_ratio"`
}

// AgentsReport is the outcome of validating the AGENTS.md entry point.
type AgentsReport struct {
	GeneratedAt string        `json:"generated_at"`
	Root        string        `json:"root"`
	Enabled     bool          `json:"enabled"`
	Settings    policy.Agents `json:"settings"`
	Gate        AgentsGate    `json:"gate"`
	Errors      []string      `json:"errors"`
	Warnings    []string      `json:"warnings"`
	Metrics     AgentsMetrics `json:"metrics"`
}

// EvaluateAgents checks AGENTS.md for the required structure, dead
// links, command references, and excessive overlap with the docs index.
func EvaluateAgents(root string, cfg *policy.Config, agentsRel, indexRel string, now time.Time) *AgentsReport {
	report := &AgentsReport{
		GeneratedAt: now.UTC().Format(time.RFC3339),
		Root:        root,
		Enabled:     cfg.Agents.Enabled,
		Settings:    cfg.Agents,
		Errors:      []string{},
		Warnings:    []string{},
	}
	failed := []string{}

	agentsAbs := filepath.Join(root, filepath.FromSlash(agentsRel))
	data, err := os.ReadFile(agentsAbs)
	if err != nil {
		report.Errors = append(report.Errors, "AGENTS.md not found: "+policy.NormalizeRel(agentsRel))
		report.Gate = AgentsGate{Status: "failed", FailedChecks: []string{"agents_file_exists"}}
		report.Metrics = AgentsMetrics{
			MissingHeadings:      len(agentsHeadingChecks) + 1,
			MissingRequiredLinks: len(cfg.Agents.RequiredLinks),
		}
		return report
	}
	content := string(data)
	report.Metrics.LineCount = len(strings.Split(content, "\n"))

	var missingHeadings []string
	if !strings.Contains(content, "# AGENTS") {
		missingHeadings = append(missingHeadings, "# AGENTS")
	}
	for _, check := range agentsHeadingChecks {
		found := false
		for _, candidate := range check.candidates {
			if strings.Contains(content, candidate) {
				found = true
				break
			}
		}
		if !found {
			missingHeadings = append(missingHeadings, check.name)
		}
	}
	if len(missingHeadings) > 0 {
		report.Errors = append(report.Errors,
			"missing AGENTS headings: "+strings.Join(missingHeadings, ", "))
		failed = append(failed, "required_headings")
	}
	report.Metrics.MissingHeadings = len(missingHeadings)

	links := extractLinks(content)
	var broken []string
	for _, link := range links {
		if strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") ||
			strings.HasPrefix(link, "mailto:") || strings.HasPrefix(link, "#") {
			continue
		}
		target := link
		if i := strings.Index(target, "#"); i >= 0 {
			target = target[:i]
		}
		target = strings.TrimSpace(strings.TrimPrefix(target, "./"))
		if target == "" {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(target))); err != nil {
			broken = append(broken, link)
		}
	}
	if len(broken) > 0 {
		report.Errors = append(report.Errors,
			"broken AGENTS links: "+strings.Join(dedupeSorted(broken), ", "))
		failed = append(failed, "dead_links")
	}
	report.Metrics.BrokenLinks = len(broken)

	var missingRequired []string
	for _, rel := range cfg.Agents.RequiredLinks {
		found := strings.Contains(content, rel)
		for _, link := range links {
			if link == rel || link == "./"+rel {
				found = true
			}
		}
		if !found {
			missingRequired = append(missingRequired, rel)
		}
	}
	if len(missingRequired) > 0 {
		report.Errors = append(report.Errors,
			"missing required AGENTS links: "+strings.Join(missingRequired, ", "))
		failed = append(failed, "required_links")
	}
	report.Metrics.MissingRequiredLinks = len(missingRequired)

	var invalidRefs []string
	seenRefs := map[string]bool{}
	for _, m := range commandRefPattern.FindAllStringSubmatch(content, -1) {
		sub := m[1]
		if seenRefs[sub] {
			continue
		}
		seenRefs[sub] = true
		if !knownSubcommands[sub] {
			invalidRefs = append(invalidRefs, sub)
		}
	}
	sort.Strings(invalidRefs)
	if len(invalidRefs) > 0 {
		report.Errors = append(report.Errors,
			"unknown subcommands in AGENTS commands: "+strings.Join(invalidRefs, ", "))
		failed = append(failed, "command_refs")
	}
	report.Metrics.InvalidCommandRefs = len(invalidRefs)

	indexText := ""
	if data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(indexRel))); err == nil {
		indexText = string(data)
	}
	ratio := 0.0
	if indexText != "" {
		ratio = overlapRatio(content, indexText)
	}
	report.Metrics.OverlapRatio = ratio
	if ratio > cfg.Agents.MaxOverlapRatio {
		report.Warnings = append(report.Warnings, fmt.Sprintf(
			"AGENTS/index overlap ratio is high: %.2f > %.2f", ratio, cfg.Agents.MaxOverlapRatio))
		failed = append(failed, "overlap_ratio")
	}

	status := "passed"
	if len(failed) > 0 {
		status = "failed"
	}
	report.Gate = AgentsGate{Status: status, FailedChecks: failed}
	return report
}

func extractLinks(content string) []string {
	var out []string
	for _, m := range linkPattern.FindAllStringSubmatch(content, -1) {
		if link := strings.TrimSpace(m[1]); link != "" {
			out = append(out, link)
		}
	}
	return out
}

// overlapRatio measures how much of the smaller document's substantive
// lines also appear in the other, after normalization.
func overlapRatio(a, b string) float64 {
	linesA := normalizedLineSet(a)
	linesB := normalizedLineSet(b)
	if len(linesA) == 0 || len(linesB) == 0 {
		return 0.0
	}
	inter := 0
	for line := range linesA {
		if linesB[line] {
			inter++
		}
	}
	smaller := len(linesA)
	if len(linesB) < smaller {
		smaller = len(linesB)
	}
	return float64(inter) / float64(smaller)
}

func normalizedLineSet(text string) map[string]bool {
	out := map[string]bool{}
	for _, line := range strings.Split(text, "\n") {
		norm := normalizeOverlapLine(line)
		if len(norm) >= 6 {
			out[norm] = true
		}
	}
	return out
}

func normalizeOverlapLine(line string) string {
	text := strings.ToLower(strings.TrimSpace(line))
	text = backtickPattern.ReplaceAllString(text, "")
	text = linkPattern.ReplaceAllString(text, "$1")
	text = leadingMarkPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(spaceRunPattern.ReplaceAllString(text, " "))
}
