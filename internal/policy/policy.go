// Package policy loads and resolves the documentation policy configuration.
package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default artifact locations relative to the repository root.
const (
	DefaultPolicyPath   = "docs/.doc-policy.json"
	DefaultManifestPath = "docs/.doc-manifest.json"
	DefaultSpecPath     = "docs/.doc-spec.json"
	DefaultFactsPath    = "docs/.repo-facts.json"
)

// ConfigError marks a malformed policy, manifest, or spec document.
// Callers fail fast on it instead of producing a report.
type ConfigError struct {
	Path string
	Msg  string
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return "config: " + e.Msg
	}
	return fmt.Sprintf("config %s: %s", e.Path, e.Msg)
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Mode is a planning/apply execution mode.
type Mode string

const (
	ModeBootstrap        Mode = "bootstrap"
	ModeAudit            Mode = "audit"
	ModeApplySafe        Mode = "apply-safe"
	ModeApplyWithArchive Mode = "apply-with-archive"
	ModeRepair           Mode = "repair"
)

// ValidPlanMode reports whether m is accepted by the planner.
func ValidPlanMode(m Mode) bool {
	switch m {
	case ModeBootstrap, ModeAudit, ModeApplySafe, ModeApplyWithArchive, ModeRepair:
		return true
	}
	return false
}

// Goals selects documentation capabilities by id or alias.
type Goals struct {
	Include []string `json:"include"`
	Exclude []string `json:"exclude"`
}

// ManifestEvolution controls how a freshly derived manifest is folded
// into a persisted one.
type ManifestEvolution struct {
	AllowAdditive bool `json:"allow_additive"`
	AllowPruning  bool `json:"allow_pruning"`
}

// AdaptiveOverrides force-include or force-exclude manifest entries after
// capability evaluation.
type AdaptiveOverrides struct {
	IncludeFiles []string `json:"include_files"`
	IncludeDirs  []string `json:"include_dirs"`
	ExcludeFiles []string `json:"exclude_files"`
	ExcludeDirs  []string `json:"exclude_dirs"`
}

// Metadata configures the per-document ownership/review metadata block.
type Metadata struct {
	Enabled                bool     `json:"enabled"`
	RequireOwner           bool     `json:"require_owner"`
	RequireLastReviewed    bool     `json:"require_last_reviewed"`
	RequireReviewCycleDays bool     `json:"require_review_cycle_days"`
	DefaultOwner           string   `json:"default_owner"`
	DefaultReviewCycleDays int      `json:"default_review_cycle_days"`
	IgnorePaths            []string `json:"ignore_paths"`
	StaleWarningEnabled    bool     `json:"stale_warning_enabled"`
}

// Gardening configures the repair-loop controller.
type Gardening struct {
	Enabled             bool   `json:"enabled"`
	ApplyMode           Mode   `json:"apply_mode"`
	RepairPlanMode      Mode   `json:"repair_plan_mode"`
	MaxRepairIterations int    `json:"max_repair_iterations"`
	FailOnDrift         bool   `json:"fail_on_drift"`
	FailOnFreshness     bool   `json:"fail_on_freshness"`
	ReportJSON          string `json:"report_json"`
	ReportMD            string `json:"report_md"`
	HistoryDB           string `json:"history_db"`
}

// QualityGates holds the quality-gate thresholds. Zero values are the
// strictest settings; the gate only runs when Enabled is true.
type QualityGates struct {
	Enabled                           bool    `json:"enabled"`
	MinEvidenceCoverage               float64 `json:"min_evidence_coverage"`
	MaxConflicts                      int     `json:"max_conflicts"`
	MaxUnknownClaims                  int     `json:"max_unknown_claims"`
	MaxUnresolvedTODO                 int     `json:"max_unresolved_todo"`
	MaxStaleMetricsDays               int     `json:"max_stale_metrics_days"`
	MaxSemanticConflicts              int     `json:"max_semantic_conflicts"`
	MaxSemanticLowConfidenceAuto      int     `json:"max_semantic_low_confidence_auto"`
	MaxFallbackAutoMigrate            int     `json:"max_fallback_auto_migrate"`
	MinStructuredSectionCompleteness  float64 `json:"min_structured_section_completeness"`
	MinProgressiveSlotCompleteness    float64 `json:"min_progressive_slot_completeness"`
	MinNextStepPresence               float64 `json:"min_next_step_presence"`
	MaxSectionVerbosityOverBudget     int     `json:"max_section_verbosity_over_budget"`
	FailOnQualityGate                 bool    `json:"fail_on_quality_gate"`
	FailOnSemanticGate                bool    `json:"fail_on_semantic_gate"`
}

// SemanticClassification configures legacy-source classification.
type SemanticClassification struct {
	Enabled              bool     `json:"enabled"`
	Engine               string   `json:"engine"`
	Provider             string   `json:"provider"`
	Model                string   `json:"model"`
	AutoMigrateThreshold float64  `json:"auto_migrate_threshold"`
	ReviewThreshold      float64  `json:"review_threshold"`
	MaxCharsPerDoc       int      `json:"max_chars_per_doc"`
	Categories           []string `json:"categories"`
	DenylistFiles        []string `json:"denylist_files"`
	FailClosed           bool     `json:"fail_closed"`
	AllowFallbackAuto    bool     `json:"allow_fallback_auto_migrate"`
}

// Legacy configures legacy-source discovery and migration.
type Legacy struct {
	Enabled            bool                   `json:"enabled"`
	IncludeGlobs       []string               `json:"include_globs"`
	ExcludeGlobs       []string               `json:"exclude_globs"`
	ArchiveRoot        string                 `json:"archive_root"`
	MappingStrategy    string                 `json:"mapping_strategy"`
	TargetRoot         string                 `json:"target_root"`
	TargetDoc          string                 `json:"target_doc"`
	RegistryPath       string                 `json:"registry_path"`
	AllowNonMarkdown   bool                   `json:"allow_non_markdown"`
	ExemptSources      []string               `json:"exempt_sources"`
	MappingTable       map[string]string      `json:"mapping_table"`
	FailOnLegacyDrift  bool                   `json:"fail_on_legacy_drift"`
	SemanticReportPath string                 `json:"semantic_report_path"`
	Semantic           SemanticClassification `json:"semantic"`
}

// SemanticGeneration configures the external runtime-semantics provider.
type SemanticGeneration struct {
	Enabled                  bool     `json:"enabled"`
	Mode                     string   `json:"mode"`
	PreferAgentFirst         bool     `json:"prefer_agent_semantic_first"`
	RequireSemanticAttempt   bool     `json:"require_semantic_attempt"`
	Source                   string   `json:"source"`
	RuntimeReportPath        string   `json:"runtime_report_path"`
	FailClosed               bool     `json:"fail_closed"`
	AllowFallbackTemplate    bool     `json:"allow_fallback_template"`
	AllowExternalLLMAPI      bool     `json:"allow_external_llm_api"`
	MaxOutputCharsPerSection int             `json:"max_output_chars_per_section"`
	RequiredEvidencePrefixes []string        `json:"required_evidence_prefixes"`
	DenyPaths                []string        `json:"deny_paths"`
	Actions                  map[string]bool `json:"actions"`

	Observability SemanticObservability `json:"observability"`
}

// SemanticObservability gates validation on runtime attempt coverage:
// a run that leaves too many semantic-first actions unattempted fails
// closed instead of quietly degrading to templates.
type SemanticObservability struct {
	Enabled                bool    `json:"enabled"`
	LargeUnattemptedRatio  float64 `json:"large_unattempted_ratio"`
	LargeUnattemptedCount  int     `json:"large_unattempted_count"`
	FailOnLargeUnattempted bool    `json:"fail_on_large_unattempted"`
}

// SemanticActionDefaults lists the action types eligible for runtime
// semantics and their default enablement.
func SemanticActionDefaults() map[string]bool {
	return map[string]bool{
		"update_section":   true,
		"fill_claim":       true,
		"semantic_rewrite": true,
		"migrate_legacy":   true,
		"merge_docs":       true,
		"split_doc":        true,
		"agents_generate":  true,
	}
}

// Semantic generation modes.
const (
	SemanticModeDeterministic = "deterministic"
	SemanticModeHybrid        = "hybrid"
	SemanticModeAgentStrict   = "agent_strict"
)

// Topology configures the navigation-contract gate.
type Topology struct {
	Enabled           bool   `json:"enabled"`
	Path              string `json:"path"`
	EnforceMaxDepth   bool   `json:"enforce_max_depth"`
	MaxDepth          int    `json:"max_depth"`
	FailOnOrphan      bool   `json:"fail_on_orphan"`
	FailOnUnreachable bool   `json:"fail_on_unreachable"`
}

// Progressive configures progressive-disclosure slot checks.
type Progressive struct {
	Enabled            bool     `json:"enabled"`
	RequiredSlots      []string `json:"required_slots"`
	SummaryMaxChars    int      `json:"summary_max_chars"`
	MaxKeyFacts        int      `json:"max_key_facts"`
	MaxNextSteps       int      `json:"max_next_steps"`
	FailOnMissingSlots bool     `json:"fail_on_missing_slots"`
}

// Language pins the primary language and template profile used when
// generating managed documents. An empty Primary lets the planner infer
// the profile from existing docs.
type Language struct {
	Primary string `json:"primary"`
	Profile string `json:"profile"`
	Locked  bool   `json:"locked"`
}

// Agents controls regeneration of the AGENTS.md entry-point document.
// Mode "static" writes the scaffold once at bootstrap; "dynamic" also
// regenerates it after structural or semantic changes to managed docs.
type Agents struct {
	Enabled                     bool     `json:"enabled"`
	Mode                        string   `json:"mode"`
	RegenerateOnSemanticActions bool     `json:"regenerate_on_semantic_actions"`
	SyncOnManifestChange        bool     `json:"sync_on_manifest_change"`
	RequiredLinks               []string `json:"required_links"`
	MaxOverlapRatio             float64  `json:"max_overlap_ratio"`
	FailOnAgentsDrift           bool     `json:"fail_on_agents_drift"`
}

// Config is the fully resolved documentation policy. It is a plain value:
// resolution fills every field with a default so callers never consult a
// global.
type Config struct {
	Version                   int               `json:"version"`
	ModeDefault               Mode              `json:"mode_default"`
	RequireEvidence           bool              `json:"require_evidence"`
	DeleteBehavior            string            `json:"delete_behavior"`
	BootstrapManifestStrategy string            `json:"bootstrap_manifest_strategy"`
	DocGoals                  Goals             `json:"doc_goals"`
	ManifestEvolution         ManifestEvolution `json:"manifest_evolution"`
	AdaptiveOverrides         AdaptiveOverrides `json:"adaptive_manifest_overrides"`
	Metadata                  Metadata          `json:"doc_metadata"`
	Gardening                 Gardening         `json:"doc_gardening"`
	QualityGates              QualityGates      `json:"doc_quality_gates"`
	Legacy                    Legacy            `json:"legacy_sources"`
	SemanticGen               SemanticGeneration `json:"semantic_generation"`
	Topology                  Topology          `json:"doc_topology"`
	Progressive               Progressive       `json:"progressive_disclosure"`
	AllowAutoUpdate           []string          `json:"allow_auto_update"`
	ProtectFromAutoOverwrite  []string          `json:"protect_from_auto_overwrite"`
	Language                  Language          `json:"language"`
	Agents                    Agents            `json:"agents_doc"`
	BootstrapAgentsMD         bool              `json:"bootstrap_agents_md"`
	SpecPath                  string            `json:"doc_spec_path"`
	StaleDocThresholdDays     int               `json:"stale_doc_threshold_days"`
}

// Default returns the baseline policy with every knob at its default.
func Default() Config {
	return Config{
		Version:                   1,
		ModeDefault:               ModeAudit,
		RequireEvidence:           true,
		DeleteBehavior:            "archive",
		BootstrapManifestStrategy: "adaptive",
		DocGoals:                  Goals{},
		ManifestEvolution:         ManifestEvolution{AllowAdditive: true, AllowPruning: false},
		AdaptiveOverrides:         AdaptiveOverrides{},
		Metadata: Metadata{
			Enabled:                true,
			RequireOwner:           true,
			RequireLastReviewed:    true,
			RequireReviewCycleDays: true,
			DefaultOwner:           "TODO-owner",
			DefaultReviewCycleDays: 90,
			IgnorePaths:            []string{"docs/archive/**"},
			StaleWarningEnabled:    true,
		},
		Gardening: Gardening{
			Enabled:             true,
			ApplyMode:           ModeApplySafe,
			RepairPlanMode:      ModeRepair,
			MaxRepairIterations: 2,
			FailOnDrift:         true,
			FailOnFreshness:     true,
			ReportJSON:          "docs/.doc-garden-report.json",
			ReportMD:            "docs/.doc-garden-report.md",
			HistoryDB:           "docs/.doc-garden-history.db",
		},
		QualityGates: QualityGates{
			Enabled:                          false,
			MinEvidenceCoverage:              0.0,
			MaxConflicts:                     0,
			MaxUnknownClaims:                 0,
			MaxUnresolvedTODO:                0,
			MaxStaleMetricsDays:              0,
			MaxSemanticConflicts:             0,
			MaxSemanticLowConfidenceAuto:     0,
			MaxFallbackAutoMigrate:           0,
			MinStructuredSectionCompleteness: 0.95,
			MinProgressiveSlotCompleteness:   0.95,
			MinNextStepPresence:              1.0,
			MaxSectionVerbosityOverBudget:    0,
			FailOnQualityGate:                true,
			FailOnSemanticGate:               true,
		},
		Legacy: Legacy{
			Enabled: false,
			ExcludeGlobs: []string{
				"docs/**",
				"docs/archive/**",
				".git/**",
				".agents/**",
				"skills/**",
				"**/__pycache__/**",
				"**/*.pyc",
			},
			ArchiveRoot:        "docs/archive/legacy",
			MappingStrategy:    "path_based",
			TargetRoot:         "docs/history/legacy",
			TargetDoc:          "docs/history/legacy-migration.md",
			RegistryPath:       "docs/.legacy-migration-map.json",
			AllowNonMarkdown:   true,
			MappingTable:       map[string]string{},
			FailOnLegacyDrift:  true,
			SemanticReportPath: "docs/.legacy-semantic-report.json",
			Semantic: SemanticClassification{
				Enabled:              false,
				Engine:               "deterministic_mock",
				Provider:             "deterministic_mock",
				Model:                "deterministic-mock-v1",
				AutoMigrateThreshold: 0.85,
				ReviewThreshold:      0.60,
				MaxCharsPerDoc:       20000,
				Categories: []string{
					"agent_ops", "not_migratable", "plan",
					"progress", "requirement", "worklog",
				},
				DenylistFiles:     []string{"AGENTS.md", "README.md"},
				FailClosed:        true,
				AllowFallbackAuto: false,
			},
		},
		SemanticGen: SemanticGeneration{
			Enabled:                  true,
			Mode:                     SemanticModeHybrid,
			PreferAgentFirst:         true,
			RequireSemanticAttempt:   true,
			Source:                   "invoking_agent",
			RuntimeReportPath:        "docs/.semantic-runtime-report.json",
			FailClosed:               true,
			AllowFallbackTemplate:    true,
			AllowExternalLLMAPI:      false,
			MaxOutputCharsPerSection: 4000,
			RequiredEvidencePrefixes: []string{"repo_scan.", "runbook.", "semantic_report."},
			DenyPaths:                []string{"docs/adr/**"},
			Actions:                  SemanticActionDefaults(),
			Observability: SemanticObservability{
				Enabled:                true,
				LargeUnattemptedRatio:  0.5,
				LargeUnattemptedCount:  3,
				FailOnLargeUnattempted: true,
			},
		},
		Topology: Topology{
			Enabled:           false,
			Path:              "docs/.doc-topology.json",
			EnforceMaxDepth:   true,
			MaxDepth:          3,
			FailOnOrphan:      true,
			FailOnUnreachable: true,
		},
		Progressive: Progressive{
			Enabled:            false,
			RequiredSlots:      []string{"summary", "key_facts", "next_steps"},
			SummaryMaxChars:    160,
			MaxKeyFacts:        5,
			MaxNextSteps:       3,
			FailOnMissingSlots: true,
		},
		AllowAutoUpdate: []string{
			"docs/index.md",
			"docs/architecture.md",
			"docs/runbook.md",
			"docs/glossary.md",
			"docs/incident-response.md",
			"docs/security.md",
			"docs/compliance.md",
		},
		ProtectFromAutoOverwrite: []string{"docs/adr/**"},
		Language:                 Language{Locked: true},
		Agents: Agents{
			Enabled:                     true,
			Mode:                        "dynamic",
			RegenerateOnSemanticActions: true,
			SyncOnManifestChange:        true,
			RequiredLinks:               []string{"docs/index.md"},
			MaxOverlapRatio:             0.7,
			FailOnAgentsDrift:           true,
		},
		BootstrapAgentsMD:        true,
		SpecPath:                 DefaultSpecPath,
		StaleDocThresholdDays:    180,
	}
}

// Resolve merges raw policy bytes over the defaults and normalizes the
// result. It is a pure function of its input.
func Resolve(data []byte, sourcePath string) (Config, error) {
	cfg := Default()
	if len(data) == 0 {
		return cfg, nil
	}

	// Unmarshaling into the default-initialized value merges per key:
	// absent keys keep their defaults, present keys override.
	encoded := data
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "{") {
		// YAML input is re-encoded as JSON so a single set of field
		// tags drives both formats.
		var tree map[string]any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return cfg, &ConfigError{Path: sourcePath, Msg: fmt.Sprintf("parsing policy YAML: %v", err)}
		}
		var err error
		encoded, err = json.Marshal(tree)
		if err != nil {
			return cfg, &ConfigError{Path: sourcePath, Msg: fmt.Sprintf("re-encoding policy YAML: %v", err)}
		}
	}
	if err := json.Unmarshal(encoded, &cfg); err != nil {
		return cfg, &ConfigError{Path: sourcePath, Msg: fmt.Sprintf("parsing policy: %v", err)}
	}

	normalize(&cfg)
	if err := validate(&cfg, sourcePath); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Load reads and resolves the policy file at p. A missing file resolves
// to the defaults.
func Load(p string) (Config, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Default(), fmt.Errorf("reading policy: %w", err)
	}
	return Resolve(data, p)
}

func normalize(cfg *Config) {
	if !ValidPlanMode(cfg.ModeDefault) {
		cfg.ModeDefault = ModeAudit
	}
	switch cfg.Gardening.ApplyMode {
	case ModeBootstrap, ModeApplySafe, ModeApplyWithArchive, "none":
	default:
		cfg.Gardening.ApplyMode = ModeApplySafe
	}
	if !ValidPlanMode(cfg.Gardening.RepairPlanMode) {
		cfg.Gardening.RepairPlanMode = ModeRepair
	}
	switch cfg.BootstrapManifestStrategy {
	case "fixed", "adaptive":
	default:
		cfg.BootstrapManifestStrategy = "adaptive"
	}
	switch cfg.SemanticGen.Mode {
	case SemanticModeDeterministic, SemanticModeHybrid, SemanticModeAgentStrict:
	default:
		cfg.SemanticGen.Mode = SemanticModeHybrid
	}
	// Review threshold may never exceed the auto-migrate threshold.
	if cfg.Legacy.Semantic.ReviewThreshold > cfg.Legacy.Semantic.AutoMigrateThreshold {
		cfg.Legacy.Semantic.ReviewThreshold = cfg.Legacy.Semantic.AutoMigrateThreshold
	}
	cfg.AllowAutoUpdate = NormalizeRelList(cfg.AllowAutoUpdate)
	cfg.ProtectFromAutoOverwrite = NormalizeRelList(cfg.ProtectFromAutoOverwrite)
	cfg.Metadata.IgnorePaths = NormalizeRelList(cfg.Metadata.IgnorePaths)
	cfg.Legacy.IncludeGlobs = NormalizeRelList(cfg.Legacy.IncludeGlobs)
	cfg.Legacy.ExcludeGlobs = NormalizeRelList(cfg.Legacy.ExcludeGlobs)
	cfg.Legacy.ExemptSources = NormalizeRelList(cfg.Legacy.ExemptSources)
	cfg.Topology.Path = NormalizeRel(cfg.Topology.Path)

	// Explicitly blanked paths fall back to the defaults.
	def := Default()
	fallback(&cfg.Gardening.ReportJSON, def.Gardening.ReportJSON)
	fallback(&cfg.Gardening.ReportMD, def.Gardening.ReportMD)
	fallback(&cfg.Legacy.ArchiveRoot, def.Legacy.ArchiveRoot)
	fallback(&cfg.Legacy.TargetRoot, def.Legacy.TargetRoot)
	fallback(&cfg.Legacy.TargetDoc, def.Legacy.TargetDoc)
	fallback(&cfg.Legacy.RegistryPath, def.Legacy.RegistryPath)
	fallback(&cfg.Legacy.SemanticReportPath, def.Legacy.SemanticReportPath)
	fallback(&cfg.SemanticGen.RuntimeReportPath, def.SemanticGen.RuntimeReportPath)
	fallback(&cfg.Topology.Path, def.Topology.Path)
	fallback(&cfg.SpecPath, def.SpecPath)
	fallback(&cfg.Agents.Mode, def.Agents.Mode)
	fallback(&cfg.Metadata.DefaultOwner, def.Metadata.DefaultOwner)
	if cfg.Metadata.DefaultReviewCycleDays <= 0 {
		cfg.Metadata.DefaultReviewCycleDays = def.Metadata.DefaultReviewCycleDays
	}
	if cfg.Topology.MaxDepth <= 0 {
		cfg.Topology.MaxDepth = def.Topology.MaxDepth
	}
	if cfg.SemanticGen.MaxOutputCharsPerSection <= 0 {
		cfg.SemanticGen.MaxOutputCharsPerSection = def.SemanticGen.MaxOutputCharsPerSection
	}
	if cfg.SemanticGen.Observability.LargeUnattemptedRatio <= 0 || cfg.SemanticGen.Observability.LargeUnattemptedRatio > 1 {
		cfg.SemanticGen.Observability.LargeUnattemptedRatio = def.SemanticGen.Observability.LargeUnattemptedRatio
	}
	if cfg.SemanticGen.Observability.LargeUnattemptedCount <= 0 {
		cfg.SemanticGen.Observability.LargeUnattemptedCount = def.SemanticGen.Observability.LargeUnattemptedCount
	}
	if cfg.Agents.MaxOverlapRatio <= 0 || cfg.Agents.MaxOverlapRatio > 1 {
		cfg.Agents.MaxOverlapRatio = def.Agents.MaxOverlapRatio
	}
	cfg.Agents.RequiredLinks = NormalizeRelList(cfg.Agents.RequiredLinks)
	// Partial action maps keep the defaults for unnamed action types.
	actions := SemanticActionDefaults()
	for name, enabled := range cfg.SemanticGen.Actions {
		if _, known := actions[name]; known {
			actions[name] = enabled
		}
	}
	cfg.SemanticGen.Actions = actions
	if cfg.Legacy.Semantic.MaxCharsPerDoc <= 0 {
		cfg.Legacy.Semantic.MaxCharsPerDoc = def.Legacy.Semantic.MaxCharsPerDoc
	}
	if cfg.Gardening.MaxRepairIterations < 0 {
		cfg.Gardening.MaxRepairIterations = 0
	}
	if cfg.StaleDocThresholdDays <= 0 {
		cfg.StaleDocThresholdDays = def.StaleDocThresholdDays
	}
}

func fallback(field *string, def string) {
	if strings.TrimSpace(*field) == "" {
		*field = def
	}
}

func validate(cfg *Config, sourcePath string) error {
	if cfg.Version <= 0 {
		return &ConfigError{Path: sourcePath, Msg: fmt.Sprintf("version must be a positive integer, got %d", cfg.Version)}
	}
	if cfg.Legacy.Semantic.AutoMigrateThreshold < 0 || cfg.Legacy.Semantic.AutoMigrateThreshold > 1 {
		return &ConfigError{Path: sourcePath, Msg: "auto_migrate_threshold must be within [0,1]"}
	}
	if cfg.Legacy.Semantic.ReviewThreshold < 0 || cfg.Legacy.Semantic.ReviewThreshold > 1 {
		return &ConfigError{Path: sourcePath, Msg: "review_threshold must be within [0,1]"}
	}
	return nil
}

// NormalizeRel converts p to a clean, forward-slash relative path.
func NormalizeRel(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	cleaned := path.Clean(p)
	if cleaned == "." {
		return ""
	}
	return strings.TrimPrefix(cleaned, "./")
}

// NormalizeRelList normalizes, deduplicates, and sorts a path list.
func NormalizeRelList(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		n := NormalizeRel(p)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
