// Package validate checks a repository's documentation tree against its
// manifest, policy gates and plan drift, producing a machine-readable
// report. Validation never mutates docs; it only reads and reports.
package validate

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"docgarden/internal/apply"
	"docgarden/internal/docspec"
	"docgarden/internal/evidence"
	"docgarden/internal/facts"
	"docgarden/internal/legacy"
	"docgarden/internal/manifest"
	"docgarden/internal/metadata"
	"docgarden/internal/plan"
	"docgarden/internal/policy"
	"docgarden/internal/quality"
	"docgarden/internal/semantic"
	"docgarden/internal/topology"
)

// DefaultReportPath is where the validation report lands by default.
const DefaultReportPath = "docs/.doc-validate-report.json"

var (
	linkPattern             = regexp.MustCompile(`\[[^\]]+\]\(([^)]+)\)`)
	execPlanStatusPattern   = regexp.MustCompile(`<!--\s*exec-plan-status:\s*([a-zA-Z_-]+)\s*-->`)
	execPlanCloseoutPattern = regexp.MustCompile(`<!--\s*exec-plan-closeout:\s*([^\s][^>]*)\s*-->`)
)

// Options carries the validation inputs that live outside policy.
type Options struct {
	PolicyPath      string // relative; defaults to policy.DefaultPolicyPath
	ManifestPath    string // relative; defaults to policy.DefaultManifestPath
	ApplyReportPath string // relative; defaults to apply.DefaultReportJSONPath
	PolicyExists    bool
	FailOnDrift     bool
	FailOnFreshness bool
	Now             time.Time
}

// MetadataMetrics counts metadata findings across managed docs.
type MetadataMetrics struct {
	CheckedDocs   int `json:"checked_docs"`
	MissingFields int `json:"missing_fields"`
	InvalidFields int `json:"invalid_fields"`
	StaleDocs     int `json:"stale_docs"`
}

// MetadataReport pairs the effective metadata policy with per-doc findings.
type MetadataReport struct {
	Policy   policy.Metadata       `json:"policy"`
	Metrics  MetadataMetrics       `json:"metrics"`
	Findings []metadata.Evaluation `json:"findings"`
}

// SpecStatus summarizes the claim-spec load outcome.
type SpecStatus struct {
	Path     string   `json:"path"`
	Exists   bool     `json:"exists"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// TopologyAnalysis carries the document lists behind the topology metrics.
type TopologyAnalysis struct {
	ScopeDocs                 []string                   `json:"scope_docs"`
	OrphanDocs                []string                   `json:"orphan_docs"`
	UnreachableDocs           []string                   `json:"unreachable_docs"`
	OverDepthDocs             []string                   `json:"over_depth_docs"`
	NavigationMissingByParent []topology.MissingByParent `json:"navigation_missing_by_parent"`
}

// TopologyReport is the topology-gate section of the validate report.
type TopologyReport struct {
	Enabled  bool               `json:"enabled"`
	Settings policy.Topology    `json:"settings"`
	Path     string             `json:"path"`
	Exists   bool               `json:"exists"`
	Loaded   bool               `json:"loaded"`
	Errors   []string           `json:"errors"`
	Warnings []string           `json:"warnings"`
	Metrics  topology.Metrics   `json:"metrics"`
	Contract *topology.Contract `json:"contract,omitempty"`
	Analysis *TopologyAnalysis  `json:"analysis,omitempty"`
}

// LegacyMetrics counts legacy-coverage findings.
type LegacyMetrics struct {
	Candidates                    int     `json:"candidates"`
	ExemptSources                 int     `json:"exempt_sources"`
	SemanticSkipSources           int     `json:"semantic_skip_sources"`
	UnresolvedSources             int     `json:"unresolved_sources"`
	RegistryEntries               int     `json:"registry_entries"`
	CompletedSources              int     `json:"completed_sources"`
	MissingArchiveFiles           int     `json:"missing_archive_files"`
	MissingTargetDocs             int     `json:"missing_target_docs"`
	MissingSourceMarkers          int     `json:"missing_source_markers"`
	DenylistMigrationCount        int     `json:"denylist_migration_count"`
	SemanticAutoMigrateCount      int     `json:"semantic_auto_migrate_count"`
	SemanticManualReviewCount     int     `json:"semantic_manual_review_count"`
	SemanticSkipCount             int     `json:"semantic_skip_count"`
	FallbackAutoMigrateCount      int     `json:"fallback_auto_migrate_count"`
	SemanticLowConfidenceCount    int     `json:"semantic_low_confidence_count"`
	SemanticConflictCount         int     `json:"semantic_conflict_count"`
	MissingSourceMarkerAutoCount  int     `json:"missing_source_marker_auto_count"`
	StructuredSectionCompleteness float64 `json:"structured_section_completeness"`
}

// LegacyReport is the legacy-coverage section of the validate report.
type LegacyReport struct {
	Enabled           bool          `json:"enabled"`
	SemanticEnabled   bool          `json:"semantic_enabled"`
	Metrics           LegacyMetrics `json:"metrics"`
	UnresolvedSources []string      `json:"unresolved_sources"`
	DenylistSources   []string      `json:"denylist_sources,omitempty"`
}

// ObservabilityGate is the verdict of the semantic observability check.
type ObservabilityGate struct {
	Status       string   `json:"status"`
	FailedChecks []string `json:"failed_checks"`
}

// ObservabilityMetrics summarizes runtime attempt coverage from the
// most recent apply report.
type ObservabilityMetrics struct {
	SemanticActionCount         int            `json:"semantic_action_count"`
	AttemptCount                int            `json:"semantic_attempt_count"`
	SuccessCount                int            `json:"semantic_success_count"`
	FallbackCount               int            `json:"fallback_count"`
	FallbackReasonBreakdown     map[string]int `json:"fallback_reason_breakdown,omitempty"`
	HitRate                     float64        `json:"semantic_hit_rate"`
	UnattemptedCount            int            `json:"semantic_unattempted_count"`
	UnattemptedWithoutExemption int            `json:"semantic_unattempted_without_exemption"`
	UnattemptedRatio            float64        `json:"semantic_unattempted_ratio"`
	UnattemptedSamples          []string       `json:"unattempted_samples,omitempty"`
}

// ObservabilityReport is the semantic observability section of the report.
type ObservabilityReport struct {
	Enabled               bool                         `json:"enabled"`
	SemanticFirstRequired bool                         `json:"semantic_first_required"`
	Settings              policy.SemanticObservability `json:"settings"`
	ApplyReportPath       string                       `json:"apply_report_path"`
	ApplyReportExists     bool                         `json:"apply_report_exists"`
	Metrics               ObservabilityMetrics         `json:"metrics"`
	Gate                  ObservabilityGate            `json:"gate"`
}

// ExecPlanMetrics counts exec-plan closeout findings.
type ExecPlanMetrics struct {
	ActiveFiles                int `json:"active_exec_plan_files"`
	CompletedDeclaredFiles     int `json:"completed_declared_files"`
	MissingCloseoutLinkFiles   int `json:"missing_closeout_link_files"`
	MissingCloseoutTargetFiles int `json:"missing_closeout_target_files"`
}

// ExecPlanReport is the exec-plan closeout section of the report.
type ExecPlanReport struct {
	Errors   []string        `json:"errors"`
	Warnings []string        `json:"warnings"`
	Metrics  ExecPlanMetrics `json:"metrics"`
}

// Drift is the audit re-plan outcome: actions the planner would emit now.
type Drift struct {
	HasDrift bool     `json:"has_drift"`
	Actions  []string `json:"actions"`
}

// Metrics is the flat counter block of the validate report.
type Metrics struct {
	Errors                        int            `json:"errors"`
	Warnings                      int            `json:"warnings"`
	CheckedLinks                  int            `json:"checked_links"`
	DriftActionCount              int            `json:"drift_action_count"`
	FactsLoaded                   bool           `json:"facts_loaded"`
	MetadataCheckedDocs           int            `json:"metadata_checked_docs"`
	MetadataMissingFields         int            `json:"metadata_missing_fields"`
	MetadataInvalidFields         int            `json:"metadata_invalid_fields"`
	MetadataStaleDocs             int            `json:"metadata_stale_docs"`
	DocSpecExists                 bool           `json:"doc_spec_exists"`
	DocSpecErrors                 int            `json:"doc_spec_errors"`
	DocSpecWarnings               int            `json:"doc_spec_warnings"`
	TopologyEnabled               bool           `json:"topology_enabled"`
	TopologyLoaded                bool           `json:"topology_loaded"`
	TopologyErrorCount            int            `json:"topology_error_count"`
	TopologyWarningCount          int            `json:"topology_warning_count"`
	TopologyReachableRatio        float64        `json:"topology_reachable_ratio"`
	TopologyOrphanCount           int            `json:"topology_orphan_count"`
	TopologyUnreachableCount      int            `json:"topology_unreachable_count"`
	TopologyMaxDepth              int            `json:"topology_max_depth"`
	TopologyDepthLimit            int            `json:"topology_depth_limit"`
	TopologyNavigationMissing     int            `json:"topology_navigation_missing_count"`
	QualityEnabled                bool           `json:"doc_quality_enabled"`
	QualityFailed                 bool           `json:"doc_quality_failed"`
	AgentsValidateEnabled         bool           `json:"agents_validate_enabled"`
	AgentsValidateFailed          bool           `json:"agents_validate_failed"`
	LegacyEnabled                 bool           `json:"legacy_enabled"`
	LegacyUnresolvedSources       int            `json:"legacy_unresolved_sources"`
	SemanticAutoMigrateCount      int            `json:"semantic_auto_migrate_count"`
	SemanticManualReviewCount     int            `json:"semantic_manual_review_count"`
	SemanticSkipCount             int            `json:"semantic_skip_count"`
	FallbackAutoMigrateCount      int            `json:"fallback_auto_migrate_count"`
	SemanticLowConfidenceCount    int            `json:"semantic_low_confidence_count"`
	SemanticConflictCount         int            `json:"semantic_conflict_count"`
	DenylistMigrationCount        int            `json:"denylist_migration_count"`
	StructuredSectionCompleteness float64        `json:"structured_section_completeness"`
	ObservabilityEnabled          bool           `json:"semantic_observability_enabled"`
	ObservabilityRequired         bool           `json:"semantic_observability_required"`
	ObservabilityGateStatus       string         `json:"semantic_observability_gate_status"`
	SemanticActionCount           int            `json:"semantic_action_count"`
	SemanticAttemptCount          int            `json:"semantic_attempt_count"`
	SemanticSuccessCount          int            `json:"semantic_success_count"`
	FallbackCount                 int            `json:"fallback_count"`
	FallbackReasonBreakdown       map[string]int `json:"fallback_reason_breakdown,omitempty"`
	SemanticHitRate               float64        `json:"semantic_hit_rate"`
	SemanticUnattemptedCount      int            `json:"semantic_unattempted_count"`
	SemanticUnattemptedNoExempt   int            `json:"semantic_unattempted_without_exemption"`
	ActiveExecPlanFiles           int            `json:"active_exec_plan_files"`
	CompletedDeclaredExecPlans    int            `json:"completed_declared_exec_plans"`
	MissingExecPlanCloseoutLinks  int            `json:"missing_exec_plan_closeout_links"`
	MissingExecPlanTargets        int            `json:"missing_exec_plan_closeout_targets"`
}

// Report is the full validation output.
type Report struct {
	GeneratedAt     string              `json:"generated_at"`
	Root            string              `json:"root"`
	Passed          bool                `json:"passed"`
	FailOnDrift     bool                `json:"fail_on_drift"`
	FailOnFreshness bool                `json:"fail_on_freshness"`
	Metrics         Metrics             `json:"metrics"`
	Errors          []string            `json:"errors"`
	Warnings        []string            `json:"warnings"`
	Drift           Drift               `json:"drift"`
	DocSpec         SpecStatus          `json:"doc_spec"`
	Topology        TopologyReport      `json:"doc_topology"`
	Quality         *quality.Report     `json:"doc_quality,omitempty"`
	Metadata        MetadataReport      `json:"doc_metadata"`
	Agents          *AgentsReport       `json:"agents,omitempty"`
	Legacy          LegacyReport        `json:"legacy"`
	Observability   ObservabilityReport `json:"semantic_observability"`
	ExecPlans       ExecPlanReport      `json:"exec_plan_closeout"`
}

// Run evaluates every validation gate against the docs tree at root.
// A nil facts snapshot degrades the drift and quality checks but does
// not fail the run.
func Run(root string, cfg *policy.Config, snap *facts.Snapshot, opts Options) (*Report, error) {
	if opts.PolicyPath == "" {
		opts.PolicyPath = policy.DefaultPolicyPath
	}
	if opts.ManifestPath == "" {
		opts.ManifestPath = policy.DefaultManifestPath
	}
	if opts.ApplyReportPath == "" {
		opts.ApplyReportPath = apply.DefaultReportJSONPath
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	m, hasManifest, err := manifest.Load(filepath.Join(root, filepath.FromSlash(opts.ManifestPath)))
	if err != nil {
		return nil, err
	}

	var errors, warnings []string

	reqErrors, reqWarnings := checkRequired(root, m, hasManifest)
	errors = append(errors, reqErrors...)
	warnings = append(warnings, reqWarnings...)

	linkErrors, linkWarnings, linkCount := checkInternalLinks(root)
	errors = append(errors, linkErrors...)
	warnings = append(warnings, linkWarnings...)

	idxErrors, idxWarnings := checkIndexCoverage(root, m)
	errors = append(errors, idxErrors...)
	warnings = append(warnings, idxWarnings...)

	managed := managedFiles(m)
	metaErrors, metaWarnings, metaReport := checkDocMetadata(root, managed, cfg.Metadata, now)
	errors = append(errors, metaErrors...)
	warnings = append(warnings, metaWarnings...)

	specPath := cfg.SpecPath
	if specPath == "" {
		specPath = policy.DefaultSpecPath
	}
	spec, specErrors, specWarnings, specErr := docspec.Load(filepath.Join(root, filepath.FromSlash(specPath)))
	if specErr != nil {
		specErrors = append(specErrors, specErr.Error())
	}
	for _, msg := range specErrors {
		errors = append(errors, "doc-spec: "+msg)
	}
	for _, msg := range specWarnings {
		warnings = append(warnings, "doc-spec: "+msg)
	}
	specStatus := SpecStatus{
		Path:     policy.NormalizeRel(specPath),
		Exists:   spec != nil,
		Errors:   specErrors,
		Warnings: specWarnings,
	}

	topoErrors, topoWarnings, topoReport := checkTopology(root, cfg, managed)
	errors = append(errors, topoErrors...)
	warnings = append(warnings, topoWarnings...)

	var qualityReport *quality.Report
	qualityFailed := false
	if cfg.QualityGates.Enabled {
		emap := (*evidence.Map)(nil)
		generatedAt := now.UTC().Format(time.RFC3339)
		if spec != nil && len(specErrors) == 0 {
			emap = evidence.Build(evidence.NewResolver(root, snap), spec, generatedAt)
		}
		qualityReport = quality.Evaluate(root, cfg, snap, spec, emap, now)
		qualityFailed = qualityReport.Gate.Status != "passed"
		if qualityFailed && cfg.QualityGates.FailOnQualityGate {
			errors = append(errors, "doc-quality: quality gate failed")
		}
	}

	var agentsReport *AgentsReport
	agentsFailed := false
	if cfg.Agents.Enabled {
		agentsReport = EvaluateAgents(root, cfg, "AGENTS.md", "docs/index.md", now)
		agentsFailed = agentsReport.Gate.Status != "passed"
		if agentsFailed && cfg.Agents.FailOnAgentsDrift {
			errors = append(errors, "agents-quality: agents gate failed")
		}
		for _, msg := range agentsReport.Warnings {
			warnings = append(warnings, "agents-quality: "+msg)
		}
	}

	legacyErrors, legacyWarnings, legacyReport := checkLegacyCoverage(root, cfg)
	errors = append(errors, legacyErrors...)
	warnings = append(warnings, legacyWarnings...)

	drift, driftErr := checkDrift(root, cfg, snap, opts, now)
	if driftErr != nil {
		return nil, driftErr
	}

	execErrors, execWarnings, execReport := checkExecPlanCloseout(root)
	errors = append(errors, execErrors...)
	warnings = append(warnings, execWarnings...)

	obsErrors, obsWarnings, obsReport := checkSemanticObservability(root, cfg, opts.ApplyReportPath)
	errors = append(errors, obsErrors...)
	warnings = append(warnings, obsWarnings...)

	hasStale := metaReport.Metrics.StaleDocs > 0
	passed := len(errors) == 0 &&
		(!opts.FailOnDrift || !drift.HasDrift) &&
		(!opts.FailOnFreshness || !hasStale) &&
		(!cfg.QualityGates.FailOnQualityGate || !qualityFailed) &&
		(!cfg.Agents.FailOnAgentsDrift || !agentsFailed)

	report := &Report{
		GeneratedAt:     now.UTC().Format(time.RFC3339),
		Root:            root,
		Passed:          passed,
		FailOnDrift:     opts.FailOnDrift,
		FailOnFreshness: opts.FailOnFreshness,
		Errors:          errors,
		Warnings:        warnings,
		Drift:           drift,
		DocSpec:         specStatus,
		Topology:        topoReport,
		Quality:         qualityReport,
		Metadata:        metaReport,
		Agents:          agentsReport,
		Legacy:          legacyReport,
		Observability:   obsReport,
		ExecPlans:       execReport,
	}
	report.Metrics = Metrics{
		Errors:                        len(errors),
		Warnings:                      len(warnings),
		CheckedLinks:                  linkCount,
		DriftActionCount:              len(drift.Actions),
		FactsLoaded:                   snap != nil,
		MetadataCheckedDocs:           metaReport.Metrics.CheckedDocs,
		MetadataMissingFields:         metaReport.Metrics.MissingFields,
		MetadataInvalidFields:         metaReport.Metrics.InvalidFields,
		MetadataStaleDocs:             metaReport.Metrics.StaleDocs,
		DocSpecExists:                 spec != nil,
		DocSpecErrors:                 len(specErrors),
		DocSpecWarnings:               len(specWarnings),
		TopologyEnabled:               topoReport.Enabled,
		TopologyLoaded:                topoReport.Loaded,
		TopologyErrorCount:            len(topoReport.Errors),
		TopologyWarningCount:          len(topoReport.Warnings),
		TopologyReachableRatio:        topoReport.Metrics.TopologyReachableRatio,
		TopologyOrphanCount:           topoReport.Metrics.TopologyOrphanCount,
		TopologyUnreachableCount:      topoReport.Metrics.UnreachableCount,
		TopologyMaxDepth:              topoReport.Metrics.TopologyMaxDepth,
		TopologyDepthLimit:            topoReport.Metrics.TopologyDepthLimit,
		TopologyNavigationMissing:     topoReport.Metrics.NavigationMissingCount,
		QualityEnabled:                cfg.QualityGates.Enabled,
		QualityFailed:                 qualityFailed,
		AgentsValidateEnabled:         cfg.Agents.Enabled,
		AgentsValidateFailed:          agentsFailed,
		LegacyEnabled:                 legacyReport.Enabled,
		LegacyUnresolvedSources:       legacyReport.Metrics.UnresolvedSources,
		SemanticAutoMigrateCount:      legacyReport.Metrics.SemanticAutoMigrateCount,
		SemanticManualReviewCount:     legacyReport.Metrics.SemanticManualReviewCount,
		SemanticSkipCount:             legacyReport.Metrics.SemanticSkipCount,
		FallbackAutoMigrateCount:      legacyReport.Metrics.FallbackAutoMigrateCount,
		SemanticLowConfidenceCount:    legacyReport.Metrics.SemanticLowConfidenceCount,
		SemanticConflictCount:         legacyReport.Metrics.SemanticConflictCount,
		DenylistMigrationCount:        legacyReport.Metrics.DenylistMigrationCount,
		StructuredSectionCompleteness: legacyReport.Metrics.StructuredSectionCompleteness,
		ObservabilityEnabled:          obsReport.Enabled,
		ObservabilityRequired:         obsReport.SemanticFirstRequired,
		ObservabilityGateStatus:       obsReport.Gate.Status,
		SemanticActionCount:           obsReport.Metrics.SemanticActionCount,
		SemanticAttemptCount:          obsReport.Metrics.AttemptCount,
		SemanticSuccessCount:          obsReport.Metrics.SuccessCount,
		FallbackCount:                 obsReport.Metrics.FallbackCount,
		FallbackReasonBreakdown:       obsReport.Metrics.FallbackReasonBreakdown,
		SemanticHitRate:               obsReport.Metrics.HitRate,
		SemanticUnattemptedCount:      obsReport.Metrics.UnattemptedCount,
		SemanticUnattemptedNoExempt:   obsReport.Metrics.UnattemptedWithoutExemption,
		ActiveExecPlanFiles:           execReport.Metrics.ActiveFiles,
		CompletedDeclaredExecPlans:    execReport.Metrics.CompletedDeclaredFiles,
		MissingExecPlanCloseoutLinks:  execReport.Metrics.MissingCloseoutLinkFiles,
		MissingExecPlanTargets:        execReport.Metrics.MissingCloseoutTargetFiles,
	}
	return report, nil
}

// Write persists the report as indented JSON.
func (r *Report) Write(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding validate report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing validate report: %w", err)
	}
	return nil
}

func checkRequired(root string, m manifest.Manifest, hasManifest bool) ([]string, []string) {
	var errors, warnings []string
	if !hasManifest || (len(m.Required.Files) == 0 && len(m.Required.Dirs) == 0) {
		warnings = append(warnings, "manifest has no required files/dirs")
	}
	for _, rel := range m.Required.Files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		if info, err := os.Stat(abs); err != nil || info.IsDir() {
			errors = append(errors, "missing required file: "+rel)
		}
	}
	for _, rel := range m.Required.Dirs {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		if info, err := os.Stat(abs); err != nil || !info.IsDir() {
			errors = append(errors, "missing required directory: "+rel)
		}
	}
	return errors, warnings
}

// checkInternalLinks verifies that every relative markdown link under
// docs/ resolves to an existing file or directory.
func checkInternalLinks(root string) ([]string, []string, int) {
	var errors, warnings []string
	checked := 0
	for _, rel := range markdownFiles(root, "docs") {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		data, err := os.ReadFile(abs)
		if err != nil {
			continue
		}
		for _, match := range linkPattern.FindAllStringSubmatch(string(data), -1) {
			link := strings.TrimSpace(match[1])
			if link == "" || strings.HasPrefix(link, "#") ||
				strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") ||
				strings.HasPrefix(link, "mailto:") {
				continue
			}
			target := link
			if i := strings.Index(target, "#"); i >= 0 {
				target = target[:i]
			}
			target = strings.TrimSpace(target)
			if target == "" {
				continue
			}
			checked++
			resolved := filepath.Join(filepath.Dir(abs), filepath.FromSlash(target))
			if _, err := os.Stat(resolved); err != nil {
				errors = append(errors, fmt.Sprintf("broken link in %s: %s", rel, link))
			}
		}
	}
	if checked == 0 {
		warnings = append(warnings, "no internal markdown links found")
	}
	return errors, warnings, checked
}

func checkIndexCoverage(root string, m manifest.Manifest) ([]string, []string) {
	var errors, warnings []string
	indexAbs := filepath.Join(root, "docs", "index.md")
	data, err := os.ReadFile(indexAbs)
	if err != nil {
		errors = append(errors, "docs/index.md not found for coverage check")
		return errors, warnings
	}
	text := string(data)
	for _, rel := range m.Required.Files {
		rel = policy.NormalizeRel(rel)
		if rel == "docs/index.md" {
			continue
		}
		base := path.Base(rel)
		if !strings.Contains(text, base) && !strings.Contains(text, rel) {
			warnings = append(warnings, "index may not reference required file: "+rel)
		}
	}
	return errors, warnings
}

func checkDocMetadata(root string, managed []string, cfg policy.Metadata, now time.Time) ([]string, []string, MetadataReport) {
	var errors, warnings []string
	report := MetadataReport{Policy: cfg}
	for _, rel := range managed {
		if !metadata.ShouldEnforce(rel, cfg) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			continue
		}
		report.Metrics.CheckedDocs++
		eval := metadata.Evaluate(rel, string(data), cfg, now)
		if len(eval.Missing) > 0 {
			report.Metrics.MissingFields += len(eval.Missing)
			errors = append(errors, fmt.Sprintf("missing doc metadata in %s: %s",
				rel, strings.Join(eval.Missing, ", ")))
		}
		if len(eval.Invalid) > 0 {
			report.Metrics.InvalidFields += len(eval.Invalid)
			errors = append(errors, fmt.Sprintf("invalid doc metadata in %s: %s",
				rel, strings.Join(eval.Invalid, ", ")))
		}
		if eval.Stale {
			report.Metrics.StaleDocs++
			warnings = append(warnings, fmt.Sprintf("stale doc metadata in %s: age_days=%d",
				rel, eval.AgeDays))
		}
		if len(eval.Missing) > 0 || len(eval.Invalid) > 0 || eval.Stale {
			report.Findings = append(report.Findings, eval)
		}
	}
	return errors, warnings, report
}

func checkTopology(root string, cfg *policy.Config, managed []string) ([]string, []string, TopologyReport) {
	report := TopologyReport{
		Enabled:  cfg.Topology.Enabled,
		Settings: cfg.Topology,
		Errors:   []string{},
		Warnings: []string{},
	}
	if !cfg.Topology.Enabled {
		return nil, nil, report
	}

	contract, loadReport := topology.Load(root, cfg.Topology)
	report.Path = loadReport.Path
	report.Exists = loadReport.Exists
	report.Loaded = loadReport.Loaded
	report.Errors = loadReport.Errors
	report.Warnings = loadReport.Warnings
	report.Metrics.NodeCount = loadReport.Metrics.NodeCount

	var errors []string
	if !loadReport.Exists {
		errors = append(errors, "doc-topology: missing topology contract: "+loadReport.Path)
		return errors, nil, report
	}
	for _, msg := range loadReport.Errors {
		errors = append(errors, "doc-topology: "+msg)
	}
	if contract == nil || len(loadReport.Errors) > 0 {
		return errors, nil, report
	}

	var managedDocs []string
	for _, rel := range managed {
		if strings.HasSuffix(rel, ".md") {
			managedDocs = append(managedDocs, rel)
		}
	}
	eval := topology.Evaluate(root, contract, cfg.Topology, managedDocs)
	report.Contract = contract
	report.Metrics = eval.Metrics
	report.Analysis = &TopologyAnalysis{
		ScopeDocs:                 eval.ScopeDocs,
		OrphanDocs:                eval.OrphanDocs,
		UnreachableDocs:           eval.UnreachableDocs,
		OverDepthDocs:             eval.OverDepthDocs,
		NavigationMissingByParent: eval.NavigationMissingByParent,
	}

	if cfg.Topology.FailOnOrphan && eval.Metrics.TopologyOrphanCount > 0 {
		errors = append(errors, fmt.Sprintf("doc-topology: orphan docs detected: %d",
			eval.Metrics.TopologyOrphanCount))
	}
	if cfg.Topology.FailOnUnreachable && eval.Metrics.UnreachableCount > 0 {
		errors = append(errors, fmt.Sprintf("doc-topology: unreachable docs detected: %d",
			eval.Metrics.UnreachableCount))
	}
	if cfg.Topology.EnforceMaxDepth && eval.Metrics.TopologyMaxDepth > eval.Metrics.TopologyDepthLimit {
		errors = append(errors, fmt.Sprintf("doc-topology: depth limit exceeded: max_depth=%d limit=%d",
			eval.Metrics.TopologyMaxDepth, eval.Metrics.TopologyDepthLimit))
	}

	var warnings []string
	for _, msg := range dedupeSorted(eval.Warnings) {
		warnings = append(warnings, "doc-topology: "+msg)
	}
	report.Warnings = append(report.Warnings, eval.Warnings...)
	return errors, warnings, report
}

// checkLegacyCoverage verifies every discovered legacy source is either
// exempt, semantically skipped, or settled in the migration registry,
// and that settled entries left consistent artifacts behind.
func checkLegacyCoverage(root string, cfg *policy.Config) ([]string, []string, LegacyReport) {
	report := LegacyReport{
		Enabled:         cfg.Legacy.Enabled,
		SemanticEnabled: cfg.Legacy.Enabled && cfg.Legacy.Semantic.Enabled,
	}
	report.Metrics.StructuredSectionCompleteness = 1.0
	if !cfg.Legacy.Enabled {
		return nil, nil, report
	}

	var errors, warnings []string
	sources, err := legacy.Discover(root, cfg.Legacy)
	if err != nil {
		errors = append(errors, "legacy discovery failed: "+err.Error())
		return errors, warnings, report
	}
	report.Metrics.Candidates = len(sources)

	skipped := map[string]bool{}
	if rel := strings.TrimSpace(cfg.Legacy.SemanticReportPath); rel != "" {
		if cls, err := semantic.LoadClassificationReport(filepath.Join(root, filepath.FromSlash(policy.NormalizeRel(rel)))); err == nil && cls != nil {
			for _, entry := range cls.Entries {
				if entry.Decision == semantic.DecisionSkip {
					skipped[policy.NormalizeRel(entry.SourcePath)] = true
				}
			}
		}
	}

	registry := legacy.LoadRegistry(filepath.Join(root, filepath.FromSlash(cfg.Legacy.RegistryPath)), "")
	report.Metrics.RegistryEntries = len(registry.Entries)

	var unresolved []string
	for _, rel := range sources {
		if matchAnyGlob(rel, cfg.Legacy.ExemptSources) {
			report.Metrics.ExemptSources++
			continue
		}
		if skipped[rel] {
			report.Metrics.SemanticSkipSources++
			continue
		}
		if registry.HasCompleted(rel) {
			continue
		}
		unresolved = append(unresolved, rel)
	}
	sort.Strings(unresolved)
	report.UnresolvedSources = unresolved
	report.Metrics.UnresolvedSources = len(unresolved)
	if len(unresolved) > 0 {
		sample := unresolved
		if len(sample) > 20 {
			sample = sample[:20]
		}
		msg := "legacy unresolved sources: " + strings.Join(sample, ", ")
		if cfg.Legacy.FailOnLegacyDrift {
			errors = append(errors, msg)
		} else {
			warnings = append(warnings, msg)
		}
	}

	entrySources := make([]string, 0, len(registry.Entries))
	for rel := range registry.Entries {
		entrySources = append(entrySources, rel)
	}
	sort.Strings(entrySources)

	var denylisted []string
	for _, rel := range entrySources {
		entry := registry.Entries[rel]
		if legacy.Completed(entry.Status) {
			report.Metrics.CompletedSources++
		}
		if entry.Status == "archived" {
			archivePath := entry.ArchivePath
			if archivePath == "" || !fileExists(filepath.Join(root, filepath.FromSlash(archivePath))) {
				report.Metrics.MissingArchiveFiles++
				errors = append(errors, fmt.Sprintf("legacy archive missing for %s: %s",
					rel, orUnknown(archivePath)))
			}
		}
		if entry.Status == "migrated" || entry.Status == "archived" {
			targetPath := entry.TargetPath
			targetAbs := filepath.Join(root, filepath.FromSlash(targetPath))
			if targetPath == "" || !fileExists(targetAbs) {
				report.Metrics.MissingTargetDocs++
				errors = append(errors, fmt.Sprintf("legacy target missing for %s: %s",
					rel, orUnknown(targetPath)))
			} else if data, err := os.ReadFile(targetAbs); err == nil {
				if !strings.Contains(string(data), legacy.SourceMarker(rel)) {
					report.Metrics.MissingSourceMarkers++
					warnings = append(warnings, fmt.Sprintf("legacy source marker missing in %s: %s",
						targetPath, rel))
				}
			}
		}
		if entry.Decision == semantic.DecisionAutoMigrate || entry.Status == "migrated" {
			if onDenylist(rel, cfg.Legacy.Semantic.DenylistFiles) {
				denylisted = append(denylisted, rel)
			}
		}
	}
	report.DenylistSources = denylisted
	report.Metrics.DenylistMigrationCount = len(denylisted)

	gateFailures := []string{}
	if len(denylisted) > 0 {
		gateFailures = append(gateFailures,
			"semantic gate failed: denylist sources attempted migration: "+strings.Join(denylisted, ", "))
	}

	if report.SemanticEnabled {
		sq := quality.EvaluateSemantic(root, cfg)
		report.Metrics.SemanticAutoMigrateCount = sq.Metrics.AutoMigrateCount
		report.Metrics.SemanticManualReviewCount = sq.Metrics.ManualReviewCount
		report.Metrics.SemanticSkipCount = sq.Metrics.SkipCount
		report.Metrics.FallbackAutoMigrateCount = sq.Metrics.FallbackAutoMigrateCount
		report.Metrics.SemanticLowConfidenceCount = sq.Metrics.LowConfidenceCount
		report.Metrics.SemanticConflictCount = sq.Metrics.ConflictCount
		report.Metrics.MissingSourceMarkerAutoCount = sq.Metrics.MissingSourceMarkerAutoCount
		report.Metrics.StructuredSectionCompleteness = sq.Metrics.StructuredSectionCompleteness

		gates := cfg.QualityGates
		if sq.Metrics.MissingSourceMarkerAutoCount > 0 {
			gateFailures = append(gateFailures,
				"semantic gate failed: auto migrated entries contain missing source markers")
		}
		if sq.Metrics.LowConfidenceCount > gates.MaxSemanticLowConfidenceAuto {
			gateFailures = append(gateFailures,
				"semantic gate failed: low confidence auto migration exceeds threshold")
		}
		if sq.Metrics.ConflictCount > gates.MaxSemanticConflicts {
			gateFailures = append(gateFailures,
				"semantic gate failed: semantic conflicts exceed threshold")
		}
		if sq.Metrics.FallbackAutoMigrateCount > gates.MaxFallbackAutoMigrate {
			gateFailures = append(gateFailures,
				"semantic gate failed: fallback auto migration exceeds threshold")
		}
		if sq.Metrics.StructuredSectionCompleteness < gates.MinStructuredSectionCompleteness {
			gateFailures = append(gateFailures,
				"semantic gate failed: structured section completeness below threshold")
		}
	}
	if cfg.QualityGates.FailOnSemanticGate {
		errors = append(errors, gateFailures...)
	} else {
		warnings = append(warnings, gateFailures...)
	}

	return errors, warnings, report
}

func checkDrift(root string, cfg *policy.Config, snap *facts.Snapshot, opts Options, now time.Time) (Drift, error) {
	p, err := plan.BuildPlan(root, policy.ModeAudit, snap, cfg, plan.Options{
		PolicyPath:   opts.PolicyPath,
		ManifestPath: opts.ManifestPath,
		PolicyExists: opts.PolicyExists,
		Now:          now,
	})
	if err != nil {
		return Drift{}, fmt.Errorf("drift check: %w", err)
	}
	drift := Drift{Actions: []string{}}
	for _, action := range p.Actions {
		if plan.Actionable(action.Type) {
			drift.Actions = append(drift.Actions,
				fmt.Sprintf("%s %s %s", action.ID, action.Type, action.Path))
		}
	}
	drift.HasDrift = len(drift.Actions) > 0
	return drift, nil
}

// checkExecPlanCloseout enforces that active execution plans declared
// completed carry a closeout link pointing at an existing document.
func checkExecPlanCloseout(root string) ([]string, []string, ExecPlanReport) {
	var errors, warnings []string
	var report ExecPlanReport

	active := markdownFiles(root, "docs/exec-plans/active")
	report.Metrics.ActiveFiles = len(active)
	for _, rel := range active {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		data, err := os.ReadFile(abs)
		if err != nil {
			continue
		}
		text := string(data)
		status := ""
		if m := execPlanStatusPattern.FindStringSubmatch(text); m != nil {
			status = strings.ToLower(strings.TrimSpace(m[1]))
		}
		if status != "completed" {
			continue
		}
		report.Metrics.CompletedDeclaredFiles++
		m := execPlanCloseoutPattern.FindStringSubmatch(text)
		if m == nil {
			report.Metrics.MissingCloseoutLinkFiles++
			errors = append(errors, "exec-plan closeout missing link marker: "+rel)
			continue
		}
		closeout := strings.TrimSpace(m[1])
		resolved := filepath.Join(root, filepath.FromSlash(policy.NormalizeRel(closeout)))
		if strings.HasPrefix(closeout, "./") || strings.HasPrefix(closeout, "../") {
			resolved = filepath.Join(filepath.Dir(abs), filepath.FromSlash(closeout))
		}
		if !fileExists(resolved) {
			report.Metrics.MissingCloseoutTargetFiles++
			errors = append(errors, fmt.Sprintf("exec-plan closeout target missing for %s: %s",
				rel, closeout))
		}
	}
	report.Errors = append([]string{}, errors...)
	report.Warnings = append([]string{}, warnings...)
	return errors, warnings, report
}

// checkSemanticObservability reads the last apply report and fails the
// run when too many semantic-first actions went unattempted by the
// runtime without an exemption.
func checkSemanticObservability(root string, cfg *policy.Config, applyReportPath string) ([]string, []string, ObservabilityReport) {
	gen := cfg.SemanticGen
	obs := gen.Observability
	required := gen.Enabled &&
		gen.Mode != policy.SemanticModeDeterministic &&
		gen.PreferAgentFirst && gen.RequireSemanticAttempt

	report := ObservabilityReport{
		Enabled:               obs.Enabled,
		SemanticFirstRequired: required,
		Settings:              obs,
		ApplyReportPath:       policy.NormalizeRel(applyReportPath),
		Gate:                  ObservabilityGate{FailedChecks: []string{}},
	}
	if !obs.Enabled {
		report.Gate.Status = "skipped"
		return nil, nil, report
	}
	if !required {
		report.Gate.Status = "not_required"
		return nil, nil, report
	}

	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(report.ApplyReportPath)))
	if err != nil {
		report.Gate.Status = "warn"
		return nil, []string{"semantic gate warning: apply report missing; cannot evaluate semantic attempt coverage"}, report
	}
	var applyReport apply.Report
	if err := json.Unmarshal(data, &applyReport); err != nil {
		report.Gate.Status = "warn"
		return nil, []string{"semantic gate warning: apply report unreadable: " + err.Error()}, report
	}
	report.ApplyReportExists = true

	summary := applyReport.Observability
	ratio := 0.0
	if summary.SemanticActionCount > 0 {
		ratio = round4(float64(summary.UnattemptedWithoutExemption) / float64(summary.SemanticActionCount))
	}
	report.Metrics = ObservabilityMetrics{
		SemanticActionCount:         summary.SemanticActionCount,
		AttemptCount:                summary.AttemptCount,
		SuccessCount:                summary.SuccessCount,
		FallbackCount:               summary.FallbackCount,
		FallbackReasonBreakdown:     summary.FallbackReasons,
		HitRate:                     summary.HitRate,
		UnattemptedCount:            summary.UnattemptedCount,
		UnattemptedWithoutExemption: summary.UnattemptedWithoutExemption,
		UnattemptedRatio:            ratio,
		UnattemptedSamples:          summary.UnattemptedSamples,
	}

	largeGap := summary.UnattemptedWithoutExemption >= obs.LargeUnattemptedCount ||
		(summary.SemanticActionCount > 0 && ratio >= obs.LargeUnattemptedRatio)
	if summary.UnattemptedWithoutExemption > 0 {
		msg := fmt.Sprintf(
			"semantic gate warning: semantic-first actions missing runtime attempts: count=%d/%d ratio=%s",
			summary.UnattemptedWithoutExemption, summary.SemanticActionCount,
			strconv.FormatFloat(ratio, 'g', -1, 64))
		if largeGap && obs.FailOnLargeUnattempted {
			report.Gate = ObservabilityGate{
				Status:       "failed",
				FailedChecks: []string{"semantic_unattempted_large_gap"},
			}
			return []string{msg}, nil, report
		}
		report.Gate.Status = "passed_with_warning"
		if largeGap {
			report.Gate.Status = "warn"
			report.Gate.FailedChecks = []string{"semantic_unattempted_large_gap"}
		}
		return nil, []string{msg}, report
	}
	report.Gate.Status = "passed"
	return nil, nil, report
}

func managedFiles(m manifest.Manifest) []string {
	seen := map[string]bool{}
	var out []string
	for _, rel := range append(append([]string{}, m.Required.Files...), m.Optional.Files...) {
		rel = policy.NormalizeRel(rel)
		if rel == "" || seen[rel] {
			continue
		}
		seen[rel] = true
		out = append(out, rel)
	}
	sort.Strings(out)
	return out
}

// markdownFiles lists the markdown files under base, root-relative with
// forward slashes, sorted.
func markdownFiles(root, base string) []string {
	baseAbs := filepath.Join(root, filepath.FromSlash(base))
	var out []string
	_ = filepath.WalkDir(baseAbs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		if rel, err := filepath.Rel(root, p); err == nil {
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	sort.Strings(out)
	return out
}

func matchAnyGlob(rel string, patterns []string) bool {
	for _, pattern := range patterns {
		if pattern == rel {
			return true
		}
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func onDenylist(rel string, denylist []string) bool {
	base := path.Base(rel)
	for _, name := range denylist {
		if rel == name || base == name {
			return true
		}
	}
	return false
}

func dedupeSorted(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

func orUnknown(p string) string {
	if strings.TrimSpace(p) == "" {
		return "UNKNOWN"
	}
	return p
}

func round4(v float64) float64 {
	return float64(int(v*10000+0.5)) / 10000
}
