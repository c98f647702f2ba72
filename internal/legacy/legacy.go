// Package legacy discovers stray legacy sources and renders their
// structured migration entries and registry.
package legacy

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"docgarden/internal/policy"
)

// Registry entry statuses that count as completed.
var completedStatuses = map[string]bool{
	"migrated": true, "archived": true, "exempted": true,
}

// Completed reports whether a registry status closes out a source.
func Completed(status string) bool {
	return completedStatuses[status]
}

// Discover walks the repository for legacy sources matching the policy
// include globs, minus excludes, archive content, and dotfiles.
func Discover(root string, cfg policy.Legacy) ([]string, error) {
	if !cfg.Enabled || len(cfg.IncludeGlobs) == 0 {
		return nil, nil
	}

	archiveRoot := policy.NormalizeRel(cfg.ArchiveRoot)
	if archiveRoot == "" || archiveRoot == "." {
		archiveRoot = "docs/archive/legacy"
	}
	archivePrefix := strings.TrimRight(archiveRoot, "/") + "/"
	excludes := append([]string(nil), cfg.ExcludeGlobs...)
	hasArchiveExclude := false
	for _, pattern := range excludes {
		if strings.HasPrefix(pattern, archivePrefix) {
			hasArchiveExclude = true
		}
	}
	if !hasArchiveExclude {
		excludes = append(excludes, archivePrefix+"**")
	}
	registryPath := policy.NormalizeRel(cfg.RegistryPath)
	targetDoc := policy.NormalizeRel(cfg.TargetDoc)

	found := map[string]bool{}
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		relNative, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel := filepath.ToSlash(relNative)
		if strings.HasPrefix(rel, archivePrefix) {
			return nil
		}
		if rel == registryPath || rel == targetDoc {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if !matchAny(rel, cfg.IncludeGlobs) {
			return nil
		}
		if matchAny(rel, excludes) {
			return nil
		}
		if !cfg.AllowNonMarkdown && !strings.HasSuffix(strings.ToLower(rel), ".md") {
			return nil
		}
		found[rel] = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discovering legacy sources: %w", err)
	}

	out := make([]string, 0, len(found))
	for rel := range found {
		out = append(out, rel)
	}
	sort.Strings(out)
	return out, nil
}

func matchAny(rel string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// ResolveTargetPath maps a source to its migration target per the
// mapping table and strategy.
func ResolveTargetPath(sourceRel string, cfg policy.Legacy) string {
	sourceRel = policy.NormalizeRel(sourceRel)
	if mapped, ok := cfg.MappingTable[sourceRel]; ok && strings.TrimSpace(mapped) != "" {
		return policy.NormalizeRel(mapped)
	}

	if cfg.MappingStrategy == "path_based" {
		name := path.Base(sourceRel)
		if !strings.HasSuffix(strings.ToLower(name), ".md") {
			name += ".md"
		}
		targetRoot := policy.NormalizeRel(cfg.TargetRoot)
		if targetRoot == "" || targetRoot == "." {
			targetRoot = "docs/history/legacy"
		}
		return policy.NormalizeRel(path.Join(targetRoot, path.Dir(sourceRel), name))
	}

	targetDoc := policy.NormalizeRel(cfg.TargetDoc)
	if targetDoc == "" || targetDoc == "." {
		targetDoc = "docs/history/legacy-migration.md"
	}
	return targetDoc
}

// ResolveArchivePath maps a source to its post-migration archive slot.
func ResolveArchivePath(sourceRel string, cfg policy.Legacy) string {
	archiveRoot := policy.NormalizeRel(cfg.ArchiveRoot)
	if archiveRoot == "" || archiveRoot == "." {
		archiveRoot = "docs/archive/legacy"
	}
	return policy.NormalizeRel(path.Join(archiveRoot, policy.NormalizeRel(sourceRel)))
}

// SourceMarker is the HTML comment that ties a migration entry back to
// its source file.
func SourceMarker(sourceRel string) string {
	return fmt.Sprintf("<!-- legacy-source: %s -->", policy.NormalizeRel(sourceRel))
}

// TargetHeader renders the heading of a fresh migration target doc.
func TargetHeader(profile string) string {
	if profile == "zh-CN" {
		return "# Legacy 迁移记录\n\n该文档由 docgarden 自动维护。\n"
	}
	return "# Legacy Migration Records\n\nThis document is maintained by docgarden.\n"
}

func collectNonEmptyLines(content string, maxLines int) []string {
	var out []string
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) >= maxLines {
			break
		}
	}
	return out
}

func truncateText(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	return strings.TrimRight(text[:maxChars-3], " \t") + "..."
}

func extractByKeywords(lines, keywords []string, maxItems int) []string {
	var out []string
	for _, line := range lines {
		lower := strings.ToLower(line)
		matched := false
		for _, keyword := range keywords {
			if strings.Contains(lower, strings.ToLower(keyword)) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		candidate := truncateText(line, 180)
		if contains(out, candidate) {
			continue
		}
		out = append(out, candidate)
		if len(out) >= maxItems {
			break
		}
	}
	return out
}

var datePattern = regexp.MustCompile(`\b20\d{2}[-/]\d{1,2}[-/]\d{1,2}\b`)

func extractDateLines(lines []string, maxItems int) []string {
	var out []string
	for _, line := range lines {
		if !datePattern.MatchString(line) {
			continue
		}
		candidate := truncateText(line, 180)
		if contains(out, candidate) {
			continue
		}
		out = append(out, candidate)
		if len(out) >= maxItems {
			break
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func renderSection(heading string, items []string, fallback string) []string {
	lines := []string{heading}
	if len(items) == 0 {
		lines = append(lines, "- "+fallback, "")
		return lines
	}
	for _, item := range items {
		lines = append(lines, "- "+item)
	}
	lines = append(lines, "")
	return lines
}

// EntryPayload is the extracted structure of a migration entry.
type EntryPayload struct {
	Summary   []string
	KeyFacts  []string
	Decisions []string
	Risks     []string
	Trace     []string
	Excerpt   string
}

// SemanticContext carries classification results into the rendered
// migration entry.
type SemanticContext struct {
	Category      string
	Confidence    float64
	HasConfidence bool
}

// BuildPayload extracts summary, key facts, decisions, risks, and
// source trace from the legacy content.
func BuildPayload(sourceRel, content, archivePath, profile string, semantic *SemanticContext, evidence []string) EntryPayload {
	sourceRel = policy.NormalizeRel(sourceRel)
	archivePath = policy.NormalizeRel(archivePath)
	lines := collectNonEmptyLines(content, 120)

	firstLine := "(empty)"
	if len(lines) > 0 {
		firstLine = lines[0]
	}
	summary := []string{truncateText(firstLine, 180)}
	if semantic != nil && strings.TrimSpace(semantic.Category) != "" {
		if profile == "zh-CN" {
			summary = append(summary, fmt.Sprintf("语义分类：`%s`", strings.TrimSpace(semantic.Category)))
		} else {
			summary = append(summary, fmt.Sprintf("Semantic category: `%s`", strings.TrimSpace(semantic.Category)))
		}
	}
	if semantic != nil && semantic.HasConfidence {
		if profile == "zh-CN" {
			summary = append(summary, fmt.Sprintf("语义置信度：`%.2f`", semantic.Confidence))
		} else {
			summary = append(summary, fmt.Sprintf("Semantic confidence: `%.2f`", semantic.Confidence))
		}
	}

	moduleHint := path.Dir(sourceRel)
	var keyFacts []string
	if profile == "zh-CN" {
		keyFacts = append(keyFacts, fmt.Sprintf("来源文件：`%s`", sourceRel))
		if moduleHint != "" && moduleHint != "." {
			keyFacts = append(keyFacts, fmt.Sprintf("来源目录：`%s`", moduleHint))
		}
	} else {
		keyFacts = append(keyFacts, fmt.Sprintf("Source file: `%s`", sourceRel))
		if moduleHint != "" && moduleHint != "." {
			keyFacts = append(keyFacts, fmt.Sprintf("Source directory: `%s`", moduleHint))
		}
	}
	keyFacts = append(keyFacts, extractDateLines(lines, 3)...)
	if len(keyFacts) > 5 {
		keyFacts = keyFacts[:5]
	}

	decisions := extractByKeywords(lines,
		[]string{"decision", "decide", "constraint", "must", "结论", "决定", "约束", "需"}, 5)
	risks := extractByKeywords(lines,
		[]string{"todo", "risk", "block", "pending", "issue", "待办", "风险", "阻塞", "问题"}, 6)

	var trace []string
	if profile == "zh-CN" {
		trace = append(trace, fmt.Sprintf("来源路径：`%s`", sourceRel))
		trace = append(trace, fmt.Sprintf("归档路径：`%s`", archivePath))
	} else {
		trace = append(trace, fmt.Sprintf("Source path: `%s`", sourceRel))
		trace = append(trace, fmt.Sprintf("Archive path: `%s`", archivePath))
	}
	for _, item := range evidence {
		if strings.TrimSpace(item) != "" {
			label := "Evidence references"
			if profile == "zh-CN" {
				label = "证据引用"
			}
			trace = append(trace, fmt.Sprintf("%s：`%s`", label, strings.TrimSpace(item)))
			break
		}
	}

	excerptLines := strings.Split(content, "\n")
	if len(excerptLines) > 20 {
		excerptLines = excerptLines[:20]
	}
	excerpt := strings.TrimSpace(strings.Join(excerptLines, "\n"))
	if excerpt == "" {
		excerpt = "(empty)"
	}

	return EntryPayload{
		Summary:   summary,
		KeyFacts:  keyFacts,
		Decisions: decisions,
		Risks:     risks,
		Trace:     trace,
		Excerpt:   excerpt,
	}
}

// RenderEntry renders the structured migration entry for one legacy
// source, marker and timestamp included.
func RenderEntry(sourceRel, content, archivePath, profile, migratedAt string, semantic *SemanticContext, evidence []string) string {
	sourceRel = policy.NormalizeRel(sourceRel)
	archivePath = policy.NormalizeRel(archivePath)
	payload := BuildPayload(sourceRel, content, archivePath, profile, semantic, evidence)

	var summaryHeading, keyFactsHeading, decisionsHeading, risksHeading, traceHeading, excerptHeading string
	var summaryFallback, keyFactsFallback, decisionsFallback, risksFallback string
	if profile == "zh-CN" {
		summaryHeading = "### 摘要"
		keyFactsHeading = "### 关键事实"
		decisionsHeading = "### 决策与结论"
		risksHeading = "### 待办与风险"
		traceHeading = "### 来源追踪"
		excerptHeading = "#### 原文短摘录"
		summaryFallback = "TODO: 补充文档目的与上下文"
		keyFactsFallback = "UNKNOWN"
		decisionsFallback = "TODO: 补充已决定事项与约束"
		risksFallback = "暂无待办或风险"
	} else {
		summaryHeading = "### Summary"
		keyFactsHeading = "### Key Facts"
		decisionsHeading = "### Decisions"
		risksHeading = "### TODO & Risks"
		traceHeading = "### Source Trace"
		excerptHeading = "#### Source Excerpt"
		summaryFallback = "TODO: Add document purpose and context"
		keyFactsFallback = "UNKNOWN"
		decisionsFallback = "TODO: Add decided constraints"
		risksFallback = "No pending tasks or risks"
	}

	lines := []string{
		fmt.Sprintf("## Legacy Source `%s`", sourceRel),
		SourceMarker(sourceRel),
		fmt.Sprintf("<!-- legacy-migrated-at: %s -->", migratedAt),
		"",
	}
	lines = append(lines, renderSection(summaryHeading, payload.Summary, summaryFallback)...)
	lines = append(lines, renderSection(keyFactsHeading, payload.KeyFacts, keyFactsFallback)...)
	lines = append(lines, renderSection(decisionsHeading, payload.Decisions, decisionsFallback)...)
	lines = append(lines, renderSection(risksHeading, payload.Risks, risksFallback)...)
	lines = append(lines, renderSection(traceHeading, payload.Trace, keyFactsFallback)...)
	lines = append(lines,
		excerptHeading,
		"",
		"````text",
		payload.Excerpt,
		"````",
		"",
	)
	return strings.Join(lines, "\n")
}
