// Package plan builds ordered, idempotent action lists that reconcile
// the documentation tree with its policy-declared desired state.
package plan

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"docgarden/internal/docspec"
	"docgarden/internal/doctpl"
	"docgarden/internal/evidence"
	"docgarden/internal/facts"
	"docgarden/internal/legacy"
	"docgarden/internal/manifest"
	"docgarden/internal/metadata"
	"docgarden/internal/policy"
	"docgarden/internal/quality"
	"docgarden/internal/semantic"
	"docgarden/internal/topology"
)

// DefaultPlanPath is where the garden loop persists plans.
const DefaultPlanPath = "docs/.doc-plan.json"

// ActionType enumerates every corrective action the planner can emit.
type ActionType string

const (
	ActionAdd                ActionType = "add"
	ActionUpdate             ActionType = "update"
	ActionArchive            ActionType = "archive"
	ActionSyncManifest       ActionType = "sync_manifest"
	ActionManualReview       ActionType = "manual_review"
	ActionUpdateSection      ActionType = "update_section"
	ActionFillClaim          ActionType = "fill_claim"
	ActionRefreshEvidence    ActionType = "refresh_evidence"
	ActionSemanticRewrite    ActionType = "semantic_rewrite"
	ActionQualityRepair      ActionType = "quality_repair"
	ActionMigrateLegacy      ActionType = "migrate_legacy"
	ActionArchiveLegacy      ActionType = "archive_legacy"
	ActionLegacyManualReview ActionType = "legacy_manual_review"
	ActionTopologyRepair     ActionType = "topology_repair"
	ActionNavigationRepair   ActionType = "navigation_repair"
	ActionMergeDocs          ActionType = "merge_docs"
	ActionSplitDoc           ActionType = "split_doc"
	ActionKeep               ActionType = "keep"
)

// Actionable reports whether t counts as drift when validating.
func Actionable(t ActionType) bool {
	switch t {
	case ActionAdd, ActionUpdate, ActionArchive, ActionManualReview, ActionSyncManifest:
		return true
	}
	return false
}

// Repairable reports whether the repair loop may re-issue t without
// operator review. The repair plan mode filters to this set.
func Repairable(t ActionType) bool {
	switch t {
	case ActionAdd, ActionUpdate, ActionSyncManifest, ActionUpdateSection,
		ActionFillClaim, ActionRefreshEvidence, ActionQualityRepair,
		ActionTopologyRepair, ActionNavigationRepair:
		return true
	}
	return false
}

// Action is one corrective step. The Type discriminates which of the
// optional payload fields are meaningful; every action must be safely
// re-appliable when its precondition no longer holds.
type Action struct {
	ID       string     `json:"id"`
	Type     ActionType `json:"type"`
	Kind     string     `json:"kind"`
	Path     string     `json:"path"`
	Risk     string     `json:"risk"`
	Reason   string     `json:"reason"`
	Evidence []string   `json:"evidence"`

	Template         string             `json:"template,omitempty"`
	ManifestSnapshot *manifest.Manifest `json:"manifest_snapshot,omitempty"`

	MissingSections    []string `json:"missing_sections,omitempty"`
	MissingMarkers     []string `json:"missing_markers,omitempty"`
	MissingDocMetadata []string `json:"missing_doc_metadata,omitempty"`
	InvalidDocMetadata []string `json:"invalid_doc_metadata,omitempty"`
	MissingModules     []string `json:"missing_modules,omitempty"`

	SourcePath  string   `json:"source_path,omitempty"`
	TargetPath  string   `json:"target_path,omitempty"`
	SourcePaths []string `json:"source_paths,omitempty"`
	TargetPaths []string `json:"target_paths,omitempty"`
	IndexPath   string   `json:"index_path,omitempty"`

	SectionID             string   `json:"section_id,omitempty"`
	ClaimID               string   `json:"claim_id,omitempty"`
	RequiredEvidenceTypes []string `json:"required_evidence_types,omitempty"`

	FailedChecks []string `json:"failed_checks,omitempty"`
	MissingLinks []string `json:"missing_links,omitempty"`

	Category       string  `json:"category,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
	Decision       string  `json:"decision,omitempty"`
	DecisionSource string  `json:"decision_source,omitempty"`
	Rationale      string  `json:"rationale,omitempty"`
}

// LanguageSettings pins the template profile chosen for a run.
type LanguageSettings struct {
	Primary string `json:"primary"`
	Profile string `json:"profile"`
	Source  string `json:"source"`
}

// Meta records the planning context for audit.
type Meta struct {
	GeneratedAt         string              `json:"generated_at"`
	Root                string              `json:"root"`
	Mode                string              `json:"mode"`
	PolicyPath          string              `json:"policy_path"`
	ManifestPath        string              `json:"manifest_path"`
	ManifestSource      string              `json:"manifest_source"`
	ManifestProfile     string              `json:"manifest_profile"`
	ManifestChanged     bool                `json:"manifest_changed"`
	ManifestEffective   manifest.Manifest   `json:"manifest_effective"`
	ManifestReasoning   []string            `json:"manifest_reasoning"`
	CapabilityDecisions []manifest.Decision `json:"capability_decisions"`
	Language            LanguageSettings    `json:"language"`
}

// Inputs records which optional inputs were present.
type Inputs struct {
	PolicyExists   bool `json:"policy_exists"`
	ManifestExists bool `json:"manifest_exists"`
	FactsLoaded    bool `json:"facts_loaded"`
}

// Summary aggregates the action list.
type Summary struct {
	ActionCount        int            `json:"action_count"`
	ActionCounts       map[string]int `json:"action_counts"`
	HasActionableDrift bool           `json:"has_actionable_drift"`
}

// Plan is the full planner output.
type Plan struct {
	Meta    Meta     `json:"meta"`
	Inputs  Inputs   `json:"inputs"`
	Summary Summary  `json:"summary"`
	Actions []Action `json:"actions"`
}

// Options carries the planning inputs that live outside policy.
type Options struct {
	PolicyPath   string // relative; defaults to policy.DefaultPolicyPath
	ManifestPath string // relative; defaults to policy.DefaultManifestPath
	PolicyExists bool
	Now          time.Time
}

// ResolveLanguage picks the template profile: an explicit policy block
// wins, otherwise existing docs are sampled for profile-specific
// headings, otherwise the default profile applies.
func ResolveLanguage(root string, cfg *policy.Config, policyExists bool) LanguageSettings {
	primary := strings.TrimSpace(cfg.Language.Primary)
	if policyExists && primary != "" {
		source := "policy"
		if cfg.Language.Locked {
			source = "policy_locked"
		}
		profile := strings.TrimSpace(cfg.Language.Profile)
		if profile == "" {
			profile = primary
		}
		return LanguageSettings{Primary: primary, Profile: doctpl.NormalizeProfile(profile), Source: source}
	}
	if inferred := inferPrimaryFromDocs(root); inferred != "" {
		return LanguageSettings{Primary: inferred, Profile: inferred, Source: "inferred"}
	}
	return LanguageSettings{Primary: doctpl.DefaultProfile, Profile: doctpl.DefaultProfile, Source: "default"}
}

func inferPrimaryFromDocs(root string) string {
	zhHits, enHits := 0, 0
	for _, rel := range []string{
		"docs/index.md",
		"docs/architecture.md",
		"docs/runbook.md",
		"docs/glossary.md",
	} {
		data, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			continue
		}
		text := string(data)
		for _, sectionID := range doctpl.RequiredSections(rel) {
			if strings.Contains(text, doctpl.SectionHeading(rel, sectionID, doctpl.ProfileZhCN)) {
				zhHits++
			}
			if strings.Contains(text, doctpl.SectionHeading(rel, sectionID, doctpl.ProfileEnUS)) {
				enHits++
			}
		}
	}
	if zhHits == 0 && enHits == 0 {
		return ""
	}
	if zhHits >= enHits {
		return doctpl.ProfileZhCN
	}
	return doctpl.ProfileEnUS
}

func missingRequiredSections(absPath, rel string) []string {
	sectionIDs := doctpl.RequiredSections(rel)
	if len(sectionIDs) == 0 {
		return nil
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return sectionIDs
	}
	text := string(data)

	var missing []string
	for _, sectionID := range sectionIDs {
		found := false
		for _, marker := range doctpl.SectionMarkers(rel, sectionID) {
			if strings.Contains(text, marker) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, sectionID)
		}
	}
	return missing
}

func staleDocsCandidates(root string, managed map[string]bool, archiveDir string, protected []string) []string {
	docsRoot := filepath.Join(root, "docs")
	if _, err := os.Stat(docsRoot); err != nil {
		return nil
	}

	archivePrefix := strings.TrimSuffix(policy.NormalizeRel(archiveDir), "/") + "/"
	var stale []string
	filepath.WalkDir(docsRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, ".md") {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, archivePrefix) || managed[rel] {
			return nil
		}
		if strings.HasPrefix(filepath.Base(rel), ".") {
			return nil
		}
		for _, pattern := range protected {
			if ok, _ := doublestar.Match(pattern, rel); ok {
				return nil
			}
		}
		stale = append(stale, rel)
		return nil
	})
	sort.Strings(stale)
	return stale
}

func resolveEffectiveManifest(cfg *policy.Config, snap *facts.Snapshot, existing manifest.Manifest, hasManifest bool) (manifest.Manifest, string, string, []manifest.Decision, []string, bool) {
	metrics := manifest.CollectMetrics(snap)
	profile := manifest.Profile(metrics)

	if hasManifest {
		if !cfg.ManifestEvolution.AllowAdditive || snap == nil {
			return existing, "existing", profile, nil, nil, false
		}
		archiveDir := existing.ArchiveDir
		if archiveDir == "" {
			archiveDir = manifest.DefaultArchiveDir
		}
		desired, decisions, _, overrideNotes := manifest.DeriveAdaptive(snap, cfg, archiveDir)
		merged, mergeNotes := manifest.MergeAdditive(existing, desired)
		notes := append(overrideNotes, mergeNotes...)
		changed := !manifest.Equal(existing, merged)
		source := "existing"
		if changed {
			source = "existing_additive"
		}
		return merged, source, profile, decisions, notes, changed
	}

	if cfg.BootstrapManifestStrategy == "fixed" || snap == nil {
		notes := []string{"bootstrap_manifest_strategy=fixed"}
		if cfg.BootstrapManifestStrategy != "fixed" {
			notes = []string{"facts missing, fallback to fixed"}
		}
		return manifest.Default(), "fixed_fallback", profile, nil, notes, true
	}

	derived, decisions, metrics, overrideNotes := manifest.DeriveAdaptive(snap, cfg, manifest.DefaultArchiveDir)
	notes := append([]string{"bootstrap_manifest_strategy=adaptive"}, overrideNotes...)
	return derived, "adaptive", manifest.Profile(metrics), decisions, notes, true
}

type builder struct {
	actions []Action
}

func (b *builder) add(t ActionType, kind, path, reason string, evidence []string, mutate func(*Action)) {
	risk := "medium"
	switch t {
	case ActionAdd, ActionArchive, ActionSyncManifest:
		risk = "low"
	}
	action := Action{
		ID:       fmt.Sprintf("A%03d", len(b.actions)+1),
		Type:     t,
		Kind:     kind,
		Path:     policy.NormalizeRel(path),
		Risk:     risk,
		Reason:   reason,
		Evidence: evidence,
	}
	if mutate != nil {
		mutate(&action)
	}
	b.actions = append(b.actions, action)
}

// BuildPlan diffs the repository against the effective manifest, claim
// spec, quality gate, legacy sources, and topology contract, and emits
// the ordered action list for mode.
func BuildPlan(root string, mode policy.Mode, snap *facts.Snapshot, cfg *policy.Config, opts Options) (*Plan, error) {
	if !policy.ValidPlanMode(mode) {
		return nil, &policy.ConfigError{Msg: fmt.Sprintf("invalid plan mode: %s", mode)}
	}
	policyPath := opts.PolicyPath
	if policyPath == "" {
		policyPath = policy.DefaultPolicyPath
	}
	manifestPath := opts.ManifestPath
	if manifestPath == "" {
		manifestPath = policy.DefaultManifestPath
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	generatedAt := now.UTC().Format(time.RFC3339)

	existing, hasManifest, err := manifest.Load(filepath.Join(root, manifestPath))
	if err != nil {
		return nil, err
	}
	language := ResolveLanguage(root, cfg, opts.PolicyExists)

	effective, source, profile, decisions, notes, changed := resolveEffectiveManifest(cfg, snap, existing, hasManifest)
	archiveDir := effective.ArchiveDir
	if archiveDir == "" {
		archiveDir = manifest.DefaultArchiveDir
	}

	allowAutoUpdate := map[string]bool{}
	for _, p := range cfg.AllowAutoUpdate {
		allowAutoUpdate[policy.NormalizeRel(p)] = true
	}
	protected := policy.NormalizeRelList(cfg.ProtectFromAutoOverwrite)

	b := &builder{}

	if mode == policy.ModeBootstrap {
		if _, err := os.Stat(filepath.Join(root, "docs")); err != nil {
			b.add(ActionAdd, "dir", "docs", "docs directory is missing",
				[]string{"repository has no docs/ root"}, nil)
		}
	}

	if !opts.PolicyExists {
		b.add(ActionAdd, "file", policyPath, "policy file is missing",
			[]string{"docs automation requires policy boundaries"},
			func(a *Action) { a.Template = "policy" })
	}

	if !hasManifest {
		snapshot := effective
		b.add(ActionAdd, "file", manifestPath, "manifest file is missing",
			[]string{"docs structure requires manifest contract"},
			func(a *Action) {
				a.Template = "manifest"
				a.ManifestSnapshot = &snapshot
			})
	} else if changed {
		snapshot := effective
		evidenceNotes := notes
		if len(evidenceNotes) == 0 {
			evidenceNotes = []string{"adaptive capabilities produced new required docs"}
		}
		b.add(ActionSyncManifest, "file", manifestPath,
			"manifest requires additive evolution based on repository signals",
			evidenceNotes,
			func(a *Action) { a.ManifestSnapshot = &snapshot })
	}

	for _, relDir := range effective.Required.Dirs {
		if _, err := os.Stat(filepath.Join(root, relDir)); err != nil {
			b.add(ActionAdd, "dir", relDir, "required directory is missing",
				[]string{fmt.Sprintf("manifest.required.dirs includes %s", relDir)}, nil)
		}
	}
	for _, relFile := range effective.Required.Files {
		if _, err := os.Stat(filepath.Join(root, relFile)); err != nil {
			b.add(ActionAdd, "file", relFile, "required file is missing",
				[]string{fmt.Sprintf("manifest.required.files includes %s", relFile)},
				func(a *Action) { a.Template = "managed" })
		}
	}
	for _, relFile := range effective.Optional.Files {
		if _, err := os.Stat(filepath.Join(root, relFile)); err != nil && mode == policy.ModeBootstrap {
			b.add(ActionAdd, "file", relFile, "optional managed file missing during bootstrap",
				[]string{fmt.Sprintf("manifest.optional.files includes %s", relFile)},
				func(a *Action) { a.Template = "managed" })
		}
	}

	managed := map[string]bool{}
	for _, relFile := range effective.Required.Files {
		managed[relFile] = true
	}
	for _, relFile := range effective.Optional.Files {
		managed[relFile] = true
	}
	managedSorted := make([]string, 0, len(managed))
	for relFile := range managed {
		managedSorted = append(managedSorted, relFile)
	}
	sort.Strings(managedSorted)

	for _, relFile := range managedSorted {
		absFile := filepath.Join(root, relFile)
		if _, err := os.Stat(absFile); err != nil {
			continue
		}

		missingSections := missingRequiredSections(absFile, relFile)
		var metadataMissing, metadataInvalid []string
		if metadata.ShouldEnforce(relFile, cfg.Metadata) {
			data, readErr := os.ReadFile(absFile)
			if readErr == nil {
				eval := metadata.Evaluate(relFile, string(data), cfg.Metadata, now)
				metadataMissing = eval.Missing
				metadataInvalid = eval.Invalid
			}
		}
		if len(missingSections) == 0 && len(metadataMissing) == 0 && len(metadataInvalid) == 0 {
			continue
		}

		var actionEvidence []string
		var missingHeadings []string
		if len(missingSections) > 0 {
			for _, sectionID := range missingSections {
				missingHeadings = append(missingHeadings,
					doctpl.SectionHeading(relFile, sectionID, language.Profile))
			}
			actionEvidence = append(actionEvidence,
				"missing sections: "+strings.Join(missingHeadings, ", "))
		}
		if len(metadataMissing) > 0 {
			actionEvidence = append(actionEvidence,
				"missing doc metadata: "+strings.Join(metadataMissing, ", "))
		}
		if len(metadataInvalid) > 0 {
			actionEvidence = append(actionEvidence,
				"invalid doc metadata: "+strings.Join(metadataInvalid, ", "))
		}

		if allowAutoUpdate[relFile] {
			reason := "managed file misses required sections"
			if len(missingSections) == 0 {
				reason = "managed file misses required doc metadata"
			}
			sections := missingSections
			headings := missingHeadings
			metaMissing := metadataMissing
			metaInvalid := metadataInvalid
			b.add(ActionUpdate, "file", relFile, reason, actionEvidence, func(a *Action) {
				a.MissingSections = sections
				a.MissingMarkers = headings
				a.MissingDocMetadata = metaMissing
				a.InvalidDocMetadata = metaInvalid
				a.Template = "managed"
			})
		} else {
			b.add(ActionManualReview, "file", relFile,
				"managed file requires manual metadata/section fix", actionEvidence, nil)
		}
	}

	if mode == policy.ModeApplyWithArchive || mode == policy.ModeAudit ||
		mode == policy.ModeApplySafe || mode == policy.ModeRepair {
		for _, stalePath := range staleDocsCandidates(root, managed, archiveDir, protected) {
			if mode == policy.ModeApplyWithArchive {
				relFromDocs := strings.TrimPrefix(stalePath, "docs/")
				target := policy.NormalizeRel(archiveDir + "/" + relFromDocs)
				src := stalePath
				b.add(ActionArchive, "file", target,
					"stale docs candidate archived in migration mode",
					[]string{fmt.Sprintf("not declared in manifest: %s", stalePath)},
					func(a *Action) { a.SourcePath = src })
			} else {
				b.add(ActionManualReview, "file", stalePath,
					"stale docs candidate requires review",
					[]string{fmt.Sprintf("not declared in manifest: %s", stalePath)}, nil)
			}
		}
	}

	if mode == policy.ModeBootstrap && cfg.BootstrapAgentsMD {
		if _, err := os.Stat(filepath.Join(root, "AGENTS.md")); err != nil {
			b.add(ActionAdd, "file", "AGENTS.md",
				"AGENTS navigation file is missing during bootstrap",
				[]string{"policy.bootstrap_agents_md=true"},
				func(a *Action) { a.Template = "agents" })
		}
	}

	if snap != nil && len(snap.Modules) > 0 {
		archFile := filepath.Join(root, "docs/architecture.md")
		if data, err := os.ReadFile(archFile); err == nil {
			content := string(data)
			var missingModules []string
			for _, module := range snap.Modules {
				if !strings.Contains(content, module) {
					missingModules = append(missingModules, module)
				}
			}
			if len(missingModules) > 0 && allowAutoUpdate["docs/architecture.md"] {
				modules := missingModules
				b.add(ActionUpdate, "file", "docs/architecture.md",
					"architecture file does not list discovered modules",
					[]string{"missing modules: " + strings.Join(missingModules, ", ")},
					func(a *Action) {
						a.MissingModules = modules
						a.Template = "managed"
					})
			}
		}
	}

	spec, emap, err := planClaims(b, root, cfg, snap, generatedAt, now)
	if err != nil {
		return nil, err
	}
	planQuality(b, root, cfg, snap, spec, emap, now)
	planLegacy(b, root, cfg)
	planTopology(b, root, cfg, managedSorted)

	actions := b.actions
	if mode == policy.ModeRepair {
		var kept []Action
		for _, action := range actions {
			if Repairable(action.Type) {
				action.ID = fmt.Sprintf("A%03d", len(kept)+1)
				kept = append(kept, action)
			}
		}
		actions = kept
	}

	counts := map[string]int{}
	drift := false
	for _, action := range actions {
		counts[string(action.Type)]++
		if Actionable(action.Type) {
			drift = true
		}
	}

	return &Plan{
		Meta: Meta{
			GeneratedAt:         generatedAt,
			Root:                root,
			Mode:                string(mode),
			PolicyPath:          policy.NormalizeRel(policyPath),
			ManifestPath:        policy.NormalizeRel(manifestPath),
			ManifestSource:      source,
			ManifestProfile:     profile,
			ManifestChanged:     changed,
			ManifestEffective:   effective,
			ManifestReasoning:   notes,
			CapabilityDecisions: decisions,
			Language:            language,
		},
		Inputs: Inputs{
			PolicyExists:   opts.PolicyExists,
			ManifestExists: hasManifest,
			FactsLoaded:    snap != nil,
		},
		Summary: Summary{
			ActionCount:        len(actions),
			ActionCounts:       counts,
			HasActionableDrift: drift,
		},
		Actions: actions,
	}, nil
}

// planClaims resolves the claim spec against available evidence and
// emits fill_claim / refresh_evidence actions.
func planClaims(b *builder, root string, cfg *policy.Config, snap *facts.Snapshot, generatedAt string, now time.Time) (*docspec.Spec, *evidence.Map, error) {
	specPath := cfg.SpecPath
	if specPath == "" {
		specPath = policy.DefaultSpecPath
	}
	spec, specErrors, _, err := docspec.Load(filepath.Join(root, specPath))
	if err != nil {
		return nil, nil, err
	}
	if spec == nil {
		return nil, nil, nil
	}
	if len(specErrors) > 0 {
		return nil, nil, &policy.ConfigError{
			Path: specPath,
			Msg:  "invalid claim spec: " + strings.Join(specErrors, ", "),
		}
	}

	emap := evidence.Build(evidence.NewResolver(root, snap), spec, generatedAt)
	for _, doc := range emap.Documents {
		for _, section := range doc.Sections {
			for _, claim := range section.Claims {
				if claim.Status != evidence.StatusMissing {
					continue
				}
				sectionID := section.SectionID
				entry := claim
				b.add(ActionFillClaim, "file", doc.Path,
					"claim lacks required evidence",
					[]string{"missing evidence types: " + strings.Join(entry.MissingEvidenceTypes, ", ")},
					func(a *Action) {
						a.SectionID = sectionID
						a.ClaimID = entry.ClaimID
						a.RequiredEvidenceTypes = entry.RequiredEvidenceTypes
					})
			}
		}
	}

	if snap != nil && cfg.StaleDocThresholdDays > 0 {
		if age, ok := snap.Age(now); ok {
			ageDays := int(age.Hours() / 24)
			if ageDays > cfg.StaleDocThresholdDays {
				b.add(ActionRefreshEvidence, "file", policy.DefaultFactsPath,
					"facts snapshot is older than the staleness threshold",
					[]string{fmt.Sprintf("facts age %dd exceeds threshold %dd",
						ageDays, cfg.StaleDocThresholdDays)}, nil)
			}
		}
	}
	return spec, emap, nil
}

func planQuality(b *builder, root string, cfg *policy.Config, snap *facts.Snapshot, spec *docspec.Spec, emap *evidence.Map, now time.Time) {
	if !cfg.QualityGates.Enabled {
		return
	}
	report := quality.Evaluate(root, cfg, snap, spec, emap, now)
	if report.Gate.Status != "failed" {
		return
	}
	checks := report.Gate.FailedChecks
	b.add(ActionQualityRepair, "file", quality.ReportPath,
		"documentation quality gate failed",
		[]string{"failed checks: " + strings.Join(checks, ", ")},
		func(a *Action) { a.FailedChecks = checks })
}

// planLegacy routes discovered legacy sources through the semantic
// decision router into migrate/review actions.
func planLegacy(b *builder, root string, cfg *policy.Config) {
	if !cfg.Legacy.Enabled {
		return
	}
	sources, err := legacy.Discover(root, cfg.Legacy)
	if err != nil || len(sources) == 0 {
		return
	}
	registry := legacy.LoadRegistry(filepath.Join(root, cfg.Legacy.RegistryPath), "")

	for _, sourceRel := range sources {
		if registry.HasCompleted(sourceRel) {
			continue
		}
		cls := semantic.Classify(root, sourceRel, cfg.Legacy.Semantic)
		decision := cls.Decision
		decisionSource := "semantic"
		if decision == semantic.DecisionManualReview && cfg.Legacy.Semantic.AllowFallbackAuto {
			if _, ok := cfg.Legacy.MappingTable[sourceRel]; ok {
				decision = semantic.DecisionAutoMigrate
				decisionSource = "fallback"
			}
		}

		src := sourceRel
		classification := cls
		ds := decisionSource
		switch decision {
		case semantic.DecisionAutoMigrate:
			target := legacy.ResolveTargetPath(sourceRel, cfg.Legacy)
			archivePath := legacy.ResolveArchivePath(sourceRel, cfg.Legacy)
			b.add(ActionMigrateLegacy, "file", target,
				"legacy source classified for migration",
				[]string{fmt.Sprintf("category=%s confidence=%.2f", cls.Category, cls.Confidence)},
				func(a *Action) {
					a.SourcePath = src
					a.TargetPath = policy.NormalizeRel(target)
					a.Category = classification.Category
					a.Confidence = classification.Confidence
					a.Decision = semantic.DecisionAutoMigrate
					a.DecisionSource = ds
					a.Rationale = classification.Rationale
				})
			b.add(ActionArchiveLegacy, "file", archivePath,
				"migrated legacy source archived",
				[]string{fmt.Sprintf("migration source: %s", sourceRel)},
				func(a *Action) {
					a.SourcePath = src
					a.Category = classification.Category
					a.DecisionSource = ds
				})
		case semantic.DecisionManualReview:
			b.add(ActionLegacyManualReview, "file", sourceRel,
				"legacy source requires manual migration review",
				[]string{fmt.Sprintf("category=%s confidence=%.2f", cls.Category, cls.Confidence)},
				func(a *Action) {
					a.SourcePath = src
					a.Category = classification.Category
					a.Confidence = classification.Confidence
					a.Decision = semantic.DecisionManualReview
					a.DecisionSource = ds
					a.Rationale = classification.Rationale
				})
		}
	}
}

func planTopology(b *builder, root string, cfg *policy.Config, managedDocs []string) {
	if !cfg.Topology.Enabled {
		return
	}
	contract, report := topology.Load(root, cfg.Topology)
	if contract == nil || len(report.Errors) > 0 {
		return
	}
	eval := topology.Evaluate(root, contract, cfg.Topology, managedDocs)

	for _, doc := range eval.OverDepthDocs {
		b.add(ActionTopologyRepair, "file", doc,
			"document exceeds the topology depth limit",
			[]string{fmt.Sprintf("depth limit %d", eval.Metrics.TopologyDepthLimit)}, nil)
	}
	for _, doc := range eval.OrphanDocs {
		b.add(ActionTopologyRepair, "file", doc,
			"document has no topology node",
			[]string{"not declared in topology contract"}, nil)
	}
	for _, doc := range eval.UnreachableDocs {
		b.add(ActionTopologyRepair, "file", doc,
			"document is not link-reachable from the topology root",
			[]string{fmt.Sprintf("root: %s", contract.Root)}, nil)
	}
	for _, group := range eval.NavigationMissingByParent {
		children := group.MissingChildren
		b.add(ActionNavigationRepair, "file", group.Parent,
			"parent document lacks navigation links to declared children",
			[]string{"missing links: " + strings.Join(children, ", ")},
			func(a *Action) { a.MissingLinks = children })
	}
}

// Write persists the plan as indented JSON.
func (p *Plan) Write(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating plan directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing plan: %w", err)
	}
	return nil
}

// LoadPlan reads a persisted plan.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding plan: %w", err)
	}
	return &p, nil
}
