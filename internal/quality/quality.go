// Package quality evaluates documentation quality gates: evidence
// coverage, claim conflicts, citation integrity, semantic migration
// health and progressive-disclosure completeness.
package quality

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"docgarden/internal/docspec"
	"docgarden/internal/evidence"
	"docgarden/internal/facts"
	"docgarden/internal/legacy"
	"docgarden/internal/policy"
	"docgarden/internal/semantic"
)

// ReportPath is the default location of the persisted quality report.
const ReportPath = "docs/.doc-quality-report.json"

type sectionGroup struct {
	name    string
	markers []string
}

// Structured legacy-entry sections expected in every migrated block.
var structuredSectionGroups = []sectionGroup{
	{"summary", []string{"### 摘要", "### Summary"}},
	{"key_facts", []string{"### 关键事实", "### Key Facts"}},
	{"decisions", []string{"### 决策与结论", "### Decisions"}},
	{"risks", []string{"### 待办与风险", "### TODO & Risks"}},
	{"trace", []string{"### 来源追踪", "### Source Trace"}},
}

var progressiveSlotMarkers = map[string][]string{
	"summary":    {"### 摘要", "### Summary"},
	"key_facts":  {"### 关键事实", "### Key Facts"},
	"next_steps": {"### 下一步", "### Next Steps"},
}

// Conflict records a claim id resolved to more than one statement.
type Conflict struct {
	ClaimID        string   `json:"claim_id"`
	StatementCount int      `json:"statement_count"`
	Statements     []string `json:"statements"`
}

// CitationIssue records a broken citation on a supported claim.
type CitationIssue struct {
	ClaimID string `json:"claim_id"`
	Issue   string `json:"issue"`
	Detail  string `json:"detail"`
}

// SemanticMetrics aggregates semantic migration counters.
type SemanticMetrics struct {
	AutoMigrateCount              int     `json:"semantic_auto_migrate_count"`
	ManualReviewCount             int     `json:"semantic_manual_review_count"`
	SkipCount                     int     `json:"semantic_skip_count"`
	FallbackAutoMigrateCount      int     `json:"fallback_auto_migrate_count"`
	LowConfidenceCount            int     `json:"semantic_low_confidence_count"`
	ConflictCount                 int     `json:"semantic_conflict_count"`
	StructuredSectionCompleteness float64 `json:"structured_section_completeness"`
	MissingSourceMarkerAutoCount  int     `json:"missing_source_marker_auto_count"`
}

// SemanticConflict records a category disagreement between classifier
// output and the migration registry.
type SemanticConflict struct {
	SourcePath       string `json:"source_path"`
	Kind             string `json:"kind"`
	SemanticCategory string `json:"semantic_category"`
	RegistryCategory string `json:"registry_category"`
}

// BacklogItem is a follow-up produced by the semantic quality pass.
type BacklogItem struct {
	SourcePath      string  `json:"source_path"`
	Reason          string  `json:"reason"`
	Kind            string  `json:"kind,omitempty"`
	TargetPath      string  `json:"target_path,omitempty"`
	Confidence      float64 `json:"confidence,omitempty"`
	ReviewThreshold float64 `json:"review_threshold,omitempty"`
	Completeness    float64 `json:"completeness,omitempty"`
}

// SemanticQuality is the semantic migration portion of the report.
type SemanticQuality struct {
	Enabled                        bool               `json:"enabled"`
	Metrics                        SemanticMetrics    `json:"metrics"`
	LowConfidenceAutoSources       []string           `json:"low_confidence_auto_sources"`
	Conflicts                      []SemanticConflict `json:"conflicts"`
	IncompleteSources              []string           `json:"incomplete_sources"`
	MissingSourceMarkerAutoSources []string           `json:"missing_source_marker_auto_sources"`
	Backlog                        []BacklogItem      `json:"backlog"`
}

// ProgressiveMetrics aggregates progressive-disclosure counters.
type ProgressiveMetrics struct {
	CandidateSections   int     `json:"progressive_candidate_sections"`
	SlotCompleteness    float64 `json:"progressive_slot_completeness"`
	NextStepPresence    float64 `json:"next_step_presence"`
	VerbosityOverBudget int     `json:"section_verbosity_over_budget_count"`
	MissingSlotsCount   int     `json:"progressive_missing_slots_count"`
}

// ProgressiveFinding is the per-document result of the slot check.
type ProgressiveFinding struct {
	Path            string   `json:"path"`
	PresentSlots    []string `json:"present_slots"`
	MissingSlots    []string `json:"missing_slots"`
	VerbosityIssues []string `json:"verbosity_issues"`
}

// ProgressiveQuality is the progressive-disclosure portion of the report.
type ProgressiveQuality struct {
	Enabled       bool                 `json:"enabled"`
	RequiredSlots []string             `json:"required_slots"`
	Settings      policy.Progressive   `json:"settings"`
	Metrics       ProgressiveMetrics   `json:"metrics"`
	Findings      []ProgressiveFinding `json:"findings"`
}

// Thresholds snapshots the gate limits in force during evaluation.
type Thresholds struct {
	MinEvidenceCoverage              float64 `json:"min_evidence_coverage"`
	MaxConflicts                     int     `json:"max_conflicts"`
	MaxUnknownClaims                 int     `json:"max_unknown_claims"`
	MaxUnresolvedTODO                int     `json:"max_unresolved_todo"`
	MaxStaleMetricsDays              int     `json:"max_stale_metrics_days"`
	MaxSemanticConflicts             int     `json:"max_semantic_conflicts"`
	MaxSemanticLowConfidenceAuto     int     `json:"max_semantic_low_confidence_auto"`
	MaxFallbackAutoMigrate           int     `json:"max_fallback_auto_migrate"`
	MinStructuredSectionCompleteness float64 `json:"min_structured_section_completeness"`
	MinProgressiveSlotCompleteness   float64 `json:"min_progressive_slot_completeness"`
	MinNextStepPresence              float64 `json:"min_next_step_presence"`
	MaxSectionVerbosityOverBudget    int     `json:"max_section_verbosity_over_budget"`
}

// Metrics is the flat metric block of the quality report.
type Metrics struct {
	TotalClaims                      int     `json:"total_claims"`
	SupportedClaims                  int     `json:"supported_claims"`
	UnknownClaims                    int     `json:"unknown_claims"`
	MissingClaims                    int     `json:"missing_claims"`
	UnknownText                      int     `json:"unknown_text"`
	UnresolvedTODO                   int     `json:"unresolved_todo"`
	EvidenceCoverage                 float64 `json:"evidence_coverage"`
	Conflicts                        int     `json:"conflicts"`
	CitationIssues                   int     `json:"citation_issues"`
	FactsAgeDays                     *int    `json:"facts_age_days"`
	SemanticAutoMigrateCount         int     `json:"semantic_auto_migrate_count"`
	SemanticManualReviewCount        int     `json:"semantic_manual_review_count"`
	SemanticSkipCount                int     `json:"semantic_skip_count"`
	FallbackAutoMigrateCount         int     `json:"fallback_auto_migrate_count"`
	SemanticLowConfidenceCount       int     `json:"semantic_low_confidence_count"`
	SemanticConflictCount            int     `json:"semantic_conflict_count"`
	StructuredSectionCompleteness    float64 `json:"structured_section_completeness"`
	SemanticMissingSourceMarkerCount int     `json:"semantic_missing_source_marker_auto_count"`
	ProgressiveCandidateSections     int     `json:"progressive_candidate_sections"`
	ProgressiveSlotCompleteness      float64 `json:"progressive_slot_completeness"`
	NextStepPresence                 float64 `json:"next_step_presence"`
	VerbosityOverBudgetCount         int     `json:"section_verbosity_over_budget_count"`
	ProgressiveMissingSlotsCount     int     `json:"progressive_missing_slots_count"`
}

// Gate is the pass/fail verdict with the checks that tripped.
type Gate struct {
	Status       string     `json:"status"`
	FailedChecks []string   `json:"failed_checks"`
	Thresholds   Thresholds `json:"thresholds"`
}

// Report is the full quality evaluation output.
type Report struct {
	GeneratedAt    string             `json:"generated_at"`
	Root           string             `json:"root"`
	Enabled        bool               `json:"enabled"`
	Metrics        Metrics            `json:"metrics"`
	Conflicts      []Conflict         `json:"conflicts"`
	CitationIssues []CitationIssue    `json:"citation_issues"`
	Semantic       SemanticQuality    `json:"semantic"`
	Progressive    ProgressiveQuality `json:"progressive"`
	Gate           Gate               `json:"gate"`
}

func round4(v float64) float64 {
	return float64(int(v*10000+0.5)) / 10000
}

func flattenClaims(m *evidence.Map) []evidence.ClaimEntry {
	var claims []evidence.ClaimEntry
	if m == nil {
		return claims
	}
	for _, doc := range m.Documents {
		for _, section := range doc.Sections {
			claims = append(claims, section.Claims...)
		}
	}
	return claims
}

// ComputeConflicts reports claim ids that resolve to more than one
// distinct statement across the evidence map.
func ComputeConflicts(claims []evidence.ClaimEntry) []Conflict {
	byID := map[string]map[string]bool{}
	for _, claim := range claims {
		id := strings.TrimSpace(claim.ClaimID)
		if id == "" {
			continue
		}
		if byID[id] == nil {
			byID[id] = map[string]bool{}
		}
		byID[id][strings.TrimSpace(claim.Statement)] = true
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var conflicts []Conflict
	for _, id := range ids {
		statements := byID[id]
		if len(statements) < 2 {
			continue
		}
		list := make([]string, 0, len(statements))
		for s := range statements {
			list = append(list, s)
		}
		sort.Strings(list)
		conflicts = append(conflicts, Conflict{
			ClaimID:        id,
			StatementCount: len(list),
			Statements:     list,
		})
	}
	return conflicts
}

func claimCitations(claim evidence.ClaimEntry) []string {
	if len(claim.Citations) > 0 {
		out := make([]string, 0, len(claim.Citations))
		for _, c := range claim.Citations {
			if c != "" {
				out = append(out, c)
			}
		}
		return out
	}
	if claim.Citation != "" {
		return []string{claim.Citation}
	}
	return nil
}

func parseCitationToken(token string) (string, bool) {
	const prefix = "evidence://"
	if !strings.HasPrefix(token, prefix) {
		return "", false
	}
	evidenceType := strings.TrimSpace(token[len(prefix):])
	if evidenceType == "" {
		return "", false
	}
	return evidenceType, true
}

// ComputeCitationIssues verifies that every supported claim cites
// evidence actually present in its payload.
func ComputeCitationIssues(claims []evidence.ClaimEntry) []CitationIssue {
	var issues []CitationIssue
	for _, claim := range claims {
		if claim.Status != evidence.StatusSupported {
			continue
		}
		label := claim.ClaimID
		if label == "" {
			label = "UNKNOWN"
		}
		citations := claimCitations(claim)
		evidenceTypes := map[string]bool{}
		for _, item := range claim.Evidence {
			if item.Type != "" {
				evidenceTypes[item.Type] = true
			}
		}

		if len(citations) == 0 {
			issues = append(issues, CitationIssue{
				ClaimID: label,
				Issue:   "missing_citation",
				Detail:  "supported claim is missing citation token",
			})
			continue
		}
		for _, token := range citations {
			evidenceType, ok := parseCitationToken(token)
			if !ok {
				issues = append(issues, CitationIssue{
					ClaimID: label,
					Issue:   "invalid_citation",
					Detail:  "unparseable citation token: " + token,
				})
				continue
			}
			if !evidenceTypes[evidenceType] {
				issues = append(issues, CitationIssue{
					ClaimID: label,
					Issue:   "untraceable_citation",
					Detail:  "citation not present in evidence payload: " + token,
				})
			}
		}
	}
	return issues
}

func extractLegacyEntryBlock(targetText, sourceRel string) (string, bool) {
	marker := legacy.SourceMarker(sourceRel)
	start := strings.Index(targetText, marker)
	if start < 0 {
		return "", false
	}
	rest := targetText[start+len(marker):]
	end := strings.Index(rest, "\n## Legacy Source `")
	if end < 0 {
		return targetText[start:], true
	}
	return targetText[start : start+len(marker)+end], true
}

func structuredPresenceRatio(entryBlock string) float64 {
	hit := 0
	for _, group := range structuredSectionGroups {
		for _, marker := range group.markers {
			if strings.Contains(entryBlock, marker) {
				hit++
				break
			}
		}
	}
	return float64(hit) / float64(len(structuredSectionGroups))
}

func loadSemanticEntries(root string, cfg policy.Legacy) []semantic.Classification {
	reportRel := strings.TrimSpace(cfg.SemanticReportPath)
	if reportRel == "" {
		return nil
	}
	report, err := semantic.LoadClassificationReport(filepath.Join(root, policy.NormalizeRel(reportRel)))
	if err != nil || report == nil {
		return nil
	}
	return report.Entries
}

// EvaluateSemantic inspects the classification report and migration
// registry for semantic migration defects.
func EvaluateSemantic(root string, cfg *policy.Config) SemanticQuality {
	enabled := cfg.Legacy.Enabled && cfg.Legacy.Semantic.Enabled
	result := SemanticQuality{
		Enabled: enabled,
		Metrics: SemanticMetrics{StructuredSectionCompleteness: 1.0},
	}
	if !enabled {
		return result
	}

	entries := loadSemanticEntries(root, cfg.Legacy)
	bySource := map[string]semantic.Classification{}
	for _, entry := range entries {
		switch entry.Decision {
		case semantic.DecisionAutoMigrate:
			result.Metrics.AutoMigrateCount++
			if entry.FallbackAutoMigrate || entry.DecisionSource == "fallback" {
				result.Metrics.FallbackAutoMigrateCount++
			}
		case semantic.DecisionManualReview:
			result.Metrics.ManualReviewCount++
		case semantic.DecisionSkip:
			result.Metrics.SkipCount++
		}
		if rel := strings.TrimSpace(entry.SourcePath); rel != "" {
			bySource[policy.NormalizeRel(rel)] = entry
		}
	}

	registry := legacy.LoadRegistry(filepath.Join(root, cfg.Legacy.RegistryPath), "")
	reviewThreshold := cfg.Legacy.Semantic.ReviewThreshold

	sources := make([]string, 0, len(registry.Entries))
	for source := range registry.Entries {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	var structuredRatios []float64
	for _, source := range sources {
		entry := registry.Entries[source]
		settled := entry.Status == "migrated" || entry.Status == "archived"

		if settled && entry.DecisionSource == "semantic" &&
			entry.Confidence > 0 && entry.Confidence < reviewThreshold {
			result.LowConfidenceAutoSources = append(result.LowConfidenceAutoSources, source)
			result.Backlog = append(result.Backlog, BacklogItem{
				SourcePath:      source,
				Reason:          "low_confidence_auto_migration",
				Confidence:      entry.Confidence,
				ReviewThreshold: reviewThreshold,
			})
		}

		if settled && entry.TargetPath != "" {
			targetAbs := filepath.Join(root, entry.TargetPath)
			if data, err := os.ReadFile(targetAbs); err == nil {
				block, found := extractLegacyEntryBlock(string(data), source)
				if !found {
					if entry.DecisionSource == "semantic" {
						result.MissingSourceMarkerAutoSources = append(
							result.MissingSourceMarkerAutoSources, source)
						result.Backlog = append(result.Backlog, BacklogItem{
							SourcePath: source,
							Reason:     "missing_source_marker_auto",
							TargetPath: entry.TargetPath,
						})
					}
				} else {
					ratio := structuredPresenceRatio(block)
					structuredRatios = append(structuredRatios, ratio)
					if ratio < 1.0 {
						result.IncompleteSources = append(result.IncompleteSources, source)
						result.Backlog = append(result.Backlog, BacklogItem{
							SourcePath:   source,
							Reason:       "structured_section_incomplete",
							TargetPath:   entry.TargetPath,
							Completeness: round4(ratio),
						})
					}
				}
			}
		}

		if classification, ok := bySource[source]; ok {
			semanticCategory := strings.TrimSpace(classification.Category)
			registryCategory := strings.TrimSpace(entry.Category)
			if semanticCategory != "" && registryCategory != "" && semanticCategory != registryCategory {
				result.Conflicts = append(result.Conflicts, SemanticConflict{
					SourcePath:       source,
					Kind:             "category_mismatch",
					SemanticCategory: semanticCategory,
					RegistryCategory: registryCategory,
				})
				result.Backlog = append(result.Backlog, BacklogItem{
					SourcePath: source,
					Reason:     "semantic_conflict",
					Kind:       "category_mismatch",
				})
			}
		}
	}

	result.Metrics.LowConfidenceCount = len(result.LowConfidenceAutoSources)
	result.Metrics.ConflictCount = len(result.Conflicts)
	result.Metrics.MissingSourceMarkerAutoCount = len(result.MissingSourceMarkerAutoSources)
	if len(structuredRatios) > 0 {
		var sum float64
		for _, ratio := range structuredRatios {
			sum += ratio
		}
		result.Metrics.StructuredSectionCompleteness = round4(sum / float64(len(structuredRatios)))
	}
	return result
}

func extractHeadingBlock(content string, markers []string) []string {
	markerSet := map[string]bool{}
	for _, marker := range markers {
		if trimmed := strings.TrimSpace(marker); trimmed != "" {
			markerSet[trimmed] = true
		}
	}
	if len(markerSet) == 0 {
		return nil
	}

	lines := strings.Split(content, "\n")
	for idx, line := range lines {
		if !markerSet[strings.TrimSpace(line)] {
			continue
		}
		end := idx + 1
		for end < len(lines) {
			if strings.HasPrefix(strings.TrimLeft(lines[end], " \t"), "#") {
				break
			}
			end++
		}
		return lines[idx+1 : end]
	}
	return nil
}

func countItems(lines []string) int {
	count := 0
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count
}

// EvaluateProgressive checks managed markdown documents for the
// required disclosure slots and their verbosity budgets.
func EvaluateProgressive(root string, spec *docspec.Spec, cfg policy.Progressive) ProgressiveQuality {
	slots := make([]string, 0, len(cfg.RequiredSlots))
	for _, slot := range cfg.RequiredSlots {
		if trimmed := strings.TrimSpace(slot); trimmed != "" {
			slots = append(slots, trimmed)
		}
	}
	if len(slots) == 0 {
		slots = []string{"summary", "key_facts", "next_steps"}
	}
	settings := cfg
	if settings.SummaryMaxChars <= 0 {
		settings.SummaryMaxChars = 160
	}
	if settings.MaxKeyFacts <= 0 {
		settings.MaxKeyFacts = 5
	}
	if settings.MaxNextSteps <= 0 {
		settings.MaxNextSteps = 3
	}
	settings.RequiredSlots = slots

	result := ProgressiveQuality{
		Enabled:       cfg.Enabled,
		RequiredSlots: slots,
		Settings:      settings,
		Metrics: ProgressiveMetrics{
			SlotCompleteness: 1.0,
			NextStepPresence: 1.0,
		},
	}
	if !cfg.Enabled || spec == nil {
		return result
	}

	seen := map[string]bool{}
	var docPaths []string
	for _, doc := range spec.Documents {
		rel := policy.NormalizeRel(doc.Path)
		if rel == "" || !strings.HasSuffix(rel, ".md") || seen[rel] {
			continue
		}
		seen[rel] = true
		docPaths = append(docPaths, rel)
	}
	sort.Strings(docPaths)

	slotTotals := 0
	slotHits := 0
	nextStepHits := 0
	for _, rel := range docPaths {
		data, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			continue
		}
		text := string(data)

		blocks := map[string][]string{}
		for _, slot := range slots {
			blocks[slot] = extractHeadingBlock(text, progressiveSlotMarkers[slot])
		}
		var present, missing []string
		for _, slot := range slots {
			if len(blocks[slot]) > 0 {
				present = append(present, slot)
			} else {
				missing = append(missing, slot)
			}
		}
		if len(present) == 0 {
			continue
		}

		slotTotals += len(slots)
		slotHits += len(present)
		for _, slot := range present {
			if slot == "next_steps" {
				nextStepHits++
				break
			}
		}
		result.Metrics.MissingSlotsCount += len(missing)

		var verbosity []string
		if summary := blocks["summary"]; len(summary) > 0 {
			var parts []string
			for _, line := range summary {
				if strings.TrimSpace(line) == "" {
					continue
				}
				part := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*+"))
				parts = append(parts, part)
			}
			summaryText := strings.Join(parts, " ")
			if n := utf8.RuneCountInString(summaryText); n > settings.SummaryMaxChars {
				result.Metrics.VerbosityOverBudget++
				verbosity = append(verbosity, fmt.Sprintf(
					"summary chars %d>%d", n, settings.SummaryMaxChars))
			}
		}
		if n := countItems(blocks["key_facts"]); n > settings.MaxKeyFacts {
			result.Metrics.VerbosityOverBudget++
			verbosity = append(verbosity, fmt.Sprintf(
				"key_facts count %d>%d", n, settings.MaxKeyFacts))
		}
		if n := countItems(blocks["next_steps"]); n > settings.MaxNextSteps {
			result.Metrics.VerbosityOverBudget++
			verbosity = append(verbosity, fmt.Sprintf(
				"next_steps count %d>%d", n, settings.MaxNextSteps))
		}

		result.Findings = append(result.Findings, ProgressiveFinding{
			Path:            rel,
			PresentSlots:    present,
			MissingSlots:    missing,
			VerbosityIssues: verbosity,
		})
	}

	result.Metrics.CandidateSections = len(result.Findings)
	if slotTotals > 0 {
		result.Metrics.SlotCompleteness = round4(float64(slotHits) / float64(slotTotals))
	}
	if len(result.Findings) > 0 {
		result.Metrics.NextStepPresence = round4(
			float64(nextStepHits) / float64(len(result.Findings)))
	}
	return result
}

// Evaluate runs every quality check and produces the gate verdict. A
// nil evidence map is rebuilt from the spec and facts snapshot.
func Evaluate(root string, cfg *policy.Config, snap *facts.Snapshot, spec *docspec.Spec, evidenceMap *evidence.Map, now time.Time) *Report {
	generatedAt := now.UTC().Format(time.RFC3339)
	if evidenceMap == nil {
		if spec != nil {
			evidenceMap = evidence.Build(evidence.NewResolver(root, snap), spec, generatedAt)
		} else {
			evidenceMap = &evidence.Map{GeneratedAt: generatedAt}
		}
	}

	claims := flattenClaims(evidenceMap)
	total := len(claims)
	supported, unknown, missing, unresolvedTODO, unknownText := 0, 0, 0, 0, 0
	for _, claim := range claims {
		switch claim.Status {
		case evidence.StatusSupported:
			supported++
		case evidence.StatusUnknown:
			unknown++
		case evidence.StatusMissing:
			missing++
		}
		if claim.Status == evidence.StatusMissing || strings.Contains(claim.Statement, "TODO") {
			unresolvedTODO++
		}
		if strings.Contains(claim.Statement, "UNKNOWN") {
			unknownText++
		}
	}
	coverage := 1.0
	if total > 0 {
		coverage = float64(supported) / float64(total)
	}

	conflicts := ComputeConflicts(claims)
	citationIssues := ComputeCitationIssues(claims)

	var factsAgeDays *int
	if age, ok := snap.Age(now); ok {
		days := int(age.Hours() / 24)
		factsAgeDays = &days
	}

	semanticQuality := EvaluateSemantic(root, cfg)
	progressiveQuality := EvaluateProgressive(root, spec, cfg.Progressive)

	gates := cfg.QualityGates
	thresholds := Thresholds{
		MinEvidenceCoverage:              gates.MinEvidenceCoverage,
		MaxConflicts:                     gates.MaxConflicts,
		MaxUnknownClaims:                 gates.MaxUnknownClaims,
		MaxUnresolvedTODO:                gates.MaxUnresolvedTODO,
		MaxStaleMetricsDays:              gates.MaxStaleMetricsDays,
		MaxSemanticConflicts:             gates.MaxSemanticConflicts,
		MaxSemanticLowConfidenceAuto:     gates.MaxSemanticLowConfidenceAuto,
		MaxFallbackAutoMigrate:           gates.MaxFallbackAutoMigrate,
		MinStructuredSectionCompleteness: gates.MinStructuredSectionCompleteness,
		MinProgressiveSlotCompleteness:   gates.MinProgressiveSlotCompleteness,
		MinNextStepPresence:              gates.MinNextStepPresence,
		MaxSectionVerbosityOverBudget:    gates.MaxSectionVerbosityOverBudget,
	}

	var failed []string
	if gates.Enabled {
		if coverage < thresholds.MinEvidenceCoverage {
			failed = append(failed, "min_evidence_coverage")
		}
		if len(conflicts) > thresholds.MaxConflicts {
			failed = append(failed, "max_conflicts")
		}
		if len(citationIssues) > 0 {
			failed = append(failed, "citation_integrity")
		}
		if unknown > thresholds.MaxUnknownClaims {
			failed = append(failed, "max_unknown_claims")
		}
		if unresolvedTODO > thresholds.MaxUnresolvedTODO {
			failed = append(failed, "max_unresolved_todo")
		}
		if thresholds.MaxStaleMetricsDays > 0 {
			if factsAgeDays == nil || *factsAgeDays > thresholds.MaxStaleMetricsDays {
				failed = append(failed, "max_stale_metrics_days")
			}
		}
		if semanticQuality.Enabled {
			sm := semanticQuality.Metrics
			if sm.ConflictCount > thresholds.MaxSemanticConflicts {
				failed = append(failed, "max_semantic_conflicts")
			}
			if sm.LowConfidenceCount > thresholds.MaxSemanticLowConfidenceAuto {
				failed = append(failed, "max_semantic_low_confidence_auto")
			}
			if sm.FallbackAutoMigrateCount > thresholds.MaxFallbackAutoMigrate {
				failed = append(failed, "max_fallback_auto_migrate")
			}
			if sm.StructuredSectionCompleteness < thresholds.MinStructuredSectionCompleteness {
				failed = append(failed, "min_structured_section_completeness")
			}
			if sm.MissingSourceMarkerAutoCount > 0 {
				failed = append(failed, "semantic_source_marker_integrity")
			}
		}
		if progressiveQuality.Enabled {
			pm := progressiveQuality.Metrics
			if pm.SlotCompleteness < thresholds.MinProgressiveSlotCompleteness {
				failed = append(failed, "min_progressive_slot_completeness")
			}
			if pm.NextStepPresence < thresholds.MinNextStepPresence {
				failed = append(failed, "min_next_step_presence")
			}
			if pm.VerbosityOverBudget > thresholds.MaxSectionVerbosityOverBudget {
				failed = append(failed, "max_section_verbosity_over_budget")
			}
			if progressiveQuality.Settings.FailOnMissingSlots && pm.MissingSlotsCount > 0 {
				failed = append(failed, "progressive_required_slots")
			}
		}
	}

	status := "passed"
	if gates.Enabled && len(failed) > 0 {
		status = "failed"
	}

	return &Report{
		GeneratedAt:    generatedAt,
		Root:           root,
		Enabled:        gates.Enabled,
		Metrics: Metrics{
			TotalClaims:                      total,
			SupportedClaims:                  supported,
			UnknownClaims:                    unknown,
			MissingClaims:                    missing,
			UnknownText:                      unknownText,
			UnresolvedTODO:                   unresolvedTODO,
			EvidenceCoverage:                 coverage,
			Conflicts:                        len(conflicts),
			CitationIssues:                   len(citationIssues),
			FactsAgeDays:                     factsAgeDays,
			SemanticAutoMigrateCount:         semanticQuality.Metrics.AutoMigrateCount,
			SemanticManualReviewCount:        semanticQuality.Metrics.ManualReviewCount,
			SemanticSkipCount:                semanticQuality.Metrics.SkipCount,
			FallbackAutoMigrateCount:         semanticQuality.Metrics.FallbackAutoMigrateCount,
			SemanticLowConfidenceCount:       semanticQuality.Metrics.LowConfidenceCount,
			SemanticConflictCount:            semanticQuality.Metrics.ConflictCount,
			StructuredSectionCompleteness:    semanticQuality.Metrics.StructuredSectionCompleteness,
			SemanticMissingSourceMarkerCount: semanticQuality.Metrics.MissingSourceMarkerAutoCount,
			ProgressiveCandidateSections:     progressiveQuality.Metrics.CandidateSections,
			ProgressiveSlotCompleteness:      progressiveQuality.Metrics.SlotCompleteness,
			NextStepPresence:                 progressiveQuality.Metrics.NextStepPresence,
			VerbosityOverBudgetCount:         progressiveQuality.Metrics.VerbosityOverBudget,
			ProgressiveMissingSlotsCount:     progressiveQuality.Metrics.MissingSlotsCount,
		},
		Conflicts:      conflicts,
		CitationIssues: citationIssues,
		Semantic:       semanticQuality,
		Progressive:    progressiveQuality,
		Gate: Gate{
			Status:       status,
			FailedChecks: failed,
			Thresholds:   thresholds,
		},
	}
}

// Write persists the report as indented JSON.
func (r *Report) Write(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding quality report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing quality report: %w", err)
	}
	return nil
}
