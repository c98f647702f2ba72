// Package semantic classifies legacy sources and consumes runtime
// semantic reports produced by an invoking agent.
package semantic

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"docgarden/internal/policy"
)

// Classification decisions.
const (
	DecisionAutoMigrate  = "auto_migrate"
	DecisionManualReview = "manual_review"
	DecisionSkip         = "skip"
)

// CategoryNotMigratable marks content with no migration value.
const CategoryNotMigratable = "not_migratable"

var categorySignals = map[string][]string{
	"requirement": {"requirement", "requirements", "需求", "spec", "scope"},
	"plan":        {"plan", "roadmap", "milestone", "timeline", "phase", "规划", "里程碑"},
	"progress":    {"progress", "status", "update", "完成", "进度", "结论"},
	"worklog":     {"worklog", "journal", "daily", "log", "日志", "记录"},
	"agent_ops":   {"agent", "codex", "automation", "runbook", "script", "执行"},
}

// Classification is the result of classifying one legacy source.
type Classification struct {
	SourcePath    string   `json:"source_path"`
	Category      string   `json:"category"`
	Confidence    float64  `json:"confidence"`
	Rationale     string   `json:"rationale"`
	Signals       []string `json:"signals"`
	Decision      string   `json:"decision"`
	Engine        string   `json:"engine"`
	Provider      string   `json:"provider"`
	Model         string   `json:"model"`
	Truncated     bool     `json:"truncated,omitempty"`
	AnalyzedChars int      `json:"analyzed_chars,omitempty"`

	// Set when the migration decision came from the fallback path
	// rather than the classifier itself.
	DecisionSource      string `json:"decision_source,omitempty"`
	FallbackAutoMigrate bool   `json:"fallback_auto_migrate,omitempty"`
}

// ClassificationReport is the persisted classification output consumed
// by the quality gate.
type ClassificationReport struct {
	GeneratedAt string           `json:"generated_at"`
	Entries     []Classification `json:"entries"`
}

// LoadClassificationReport reads a persisted classification report. A
// missing file yields a nil report without error.
func LoadClassificationReport(path string) (*ClassificationReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading classification report: %w", err)
	}
	var report ClassificationReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decoding classification report: %w", err)
	}
	return &report, nil
}

// Write persists the classification report as indented JSON.
func (r *ClassificationReport) Write(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding classification report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing classification report: %w", err)
	}
	return nil
}

func resolveDecision(category string, confidence float64, cfg policy.SemanticClassification) string {
	if category == CategoryNotMigratable {
		return DecisionSkip
	}
	if confidence >= cfg.AutoMigrateThreshold {
		return DecisionAutoMigrate
	}
	if confidence >= cfg.ReviewThreshold {
		return DecisionManualReview
	}
	return DecisionSkip
}

// classifyDeterministic scores keyword signals over the source path and
// content. Confidence grows with matched keyword count, capped at 0.98.
func classifyDeterministic(sourceRel, content string, cfg policy.SemanticClassification) Classification {
	searchable := strings.ToLower(sourceRel) + "\n" + strings.ToLower(content)
	allowed := map[string]bool{}
	for _, c := range cfg.Categories {
		allowed[c] = true
	}

	scores := map[string]int{}
	matched := map[string][]string{}
	for category, keywords := range categorySignals {
		if len(allowed) > 0 && !allowed[category] {
			continue
		}
		for _, keyword := range keywords {
			if strings.Contains(searchable, strings.ToLower(keyword)) {
				scores[category]++
				matched[category] = append(matched[category], keyword)
			}
		}
	}

	var result Classification
	if len(scores) == 0 {
		result = Classification{
			Category:   CategoryNotMigratable,
			Confidence: 0.40,
			Rationale:  "deterministic mock found no semantic signals",
			Signals:    []string{"no-matched-keyword"},
		}
	} else {
		categories := make([]string, 0, len(scores))
		for c := range scores {
			categories = append(categories, c)
		}
		sort.Slice(categories, func(i, j int) bool {
			if scores[categories[i]] != scores[categories[j]] {
				return scores[categories[i]] > scores[categories[j]]
			}
			return categories[i] < categories[j]
		})
		category := categories[0]
		confidence := 0.55 + float64(scores[category])*0.12
		if confidence > 0.98 {
			confidence = 0.98
		}
		signals := dedupeSorted(matched[category])
		result = Classification{
			Category:   category,
			Confidence: round4(confidence),
			Rationale:  "deterministic mock matched semantic signals",
			Signals:    signals,
		}
	}
	result.Decision = resolveDecision(result.Category, result.Confidence, cfg)
	return result
}

// Classify routes one legacy source through the semantic classifier,
// honoring the denylist and fail-closed behavior.
func Classify(root, sourceRel string, cfg policy.SemanticClassification) Classification {
	sourceRel = policy.NormalizeRel(sourceRel)
	base := Classification{
		SourcePath: sourceRel,
		Engine:     cfg.Engine,
		Provider:   cfg.Provider,
		Model:      cfg.Model,
	}

	if !cfg.Enabled {
		base.Rationale = "semantic classifier disabled by policy"
		base.Signals = []string{}
		base.Decision = DecisionManualReview
		return base
	}

	denyNames := map[string]bool{}
	denyPaths := map[string]bool{}
	for _, item := range cfg.DenylistFiles {
		rel := policy.NormalizeRel(item)
		denyPaths[rel] = true
		denyNames[path.Base(rel)] = true
	}
	if denyPaths[sourceRel] || denyNames[path.Base(sourceRel)] {
		base.Category = CategoryNotMigratable
		base.Confidence = 1.0
		base.Rationale = "source matched semantic denylist_files"
		base.Signals = []string{"denylist_files"}
		base.Decision = DecisionSkip
		return base
	}

	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(sourceRel)))
	if err != nil {
		base.Category = CategoryNotMigratable
		base.Rationale = fmt.Sprintf("semantic classifier failed to read source: %v", err)
		base.Signals = []string{"read-error"}
		if cfg.FailClosed {
			base.Decision = DecisionManualReview
		} else {
			base.Decision = DecisionSkip
		}
		return base
	}

	maxChars := cfg.MaxCharsPerDoc
	if maxChars <= 0 {
		maxChars = 20000
	}
	content := string(data)
	truncated := len(content) > maxChars
	if truncated {
		content = content[:maxChars]
	}

	result := classifyDeterministic(sourceRel, content, cfg)
	result.SourcePath = sourceRel
	result.Engine = cfg.Engine
	result.Provider = cfg.Provider
	result.Model = cfg.Model
	result.Truncated = truncated
	result.AnalyzedChars = len(content)
	return result
}

func dedupeSorted(items []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range items {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func round4(v float64) float64 {
	return float64(int(v*10000+0.5)) / 10000
}
