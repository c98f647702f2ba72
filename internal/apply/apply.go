// Package apply executes a documentation plan: scaffolds and section
// upserts deterministically, runtime semantic content when the
// candidate passes its gates, and archive/migration moves with their
// registry bookkeeping. Apply is idempotent; re-running a plan whose
// actions already hold yields skips, not drift.
package apply

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"lukechampine.com/blake3"

	"docgarden/internal/doctpl"
	"docgarden/internal/legacy"
	"docgarden/internal/manifest"
	"docgarden/internal/metadata"
	"docgarden/internal/plan"
	"docgarden/internal/policy"
	"docgarden/internal/semantic"
	"docgarden/internal/topology"
)

// Result statuses.
const (
	StatusApplied = "applied"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// Default report locations.
const (
	DefaultReportJSONPath = "docs/.doc-apply-report.json"
	DefaultReportMDPath   = "docs/.doc-apply-report.md"
)

// Result is the outcome of executing one action.
type Result struct {
	ID              string          `json:"id"`
	Type            plan.ActionType `json:"type"`
	Path            string          `json:"path"`
	Status          string          `json:"status"`
	Details         string          `json:"details,omitempty"`
	SemanticRuntime *RuntimeTrace   `json:"semantic_runtime,omitempty"`
	MergedSources   []string        `json:"merged_sources,omitempty"`
	SplitTargets    []string        `json:"split_targets,omitempty"`
}

// Summary aggregates result statuses.
type Summary struct {
	TotalActions int `json:"total_actions"`
	Applied      int `json:"applied"`
	Skipped      int `json:"skipped"`
	Errors       int `json:"errors"`
}

// Observability aggregates how runtime semantics behaved across the
// run: attempt coverage, consumption rate, and fallback pressure.
type Observability struct {
	SemanticActionCount         int            `json:"semantic_action_count"`
	AttemptCount                int            `json:"attempt_count"`
	SuccessCount                int            `json:"success_count"`
	FallbackCount               int            `json:"fallback_count"`
	FallbackReasons             map[string]int `json:"fallback_reasons,omitempty"`
	QualityGrades               map[string]int `json:"quality_grades,omitempty"`
	QualityDecisions            map[string]int `json:"quality_decisions,omitempty"`
	QualityDegradedCount        int            `json:"quality_degraded_count"`
	ExemptCount                 int            `json:"exempt_count"`
	UnattemptedCount            int            `json:"unattempted_count"`
	UnattemptedWithoutExemption int            `json:"unattempted_without_exemption"`
	UnattemptedSamples          []string       `json:"unattempted_samples,omitempty"`
	HitRate                     float64        `json:"hit_rate"`
}

// RuntimeReport pairs the generation settings with the loader outcome.
type RuntimeReport struct {
	Settings policy.SemanticGeneration `json:"settings"`
	Runtime  semantic.ReportMeta       `json:"runtime"`
}

// AgentsGeneration records whether and why AGENTS.md was regenerated.
type AgentsGeneration struct {
	Enabled   bool     `json:"enabled"`
	Triggered bool     `json:"triggered"`
	Reasons   []string `json:"reasons,omitempty"`
	Result    *Result  `json:"result,omitempty"`
}

// Report is the persisted apply outcome.
type Report struct {
	GeneratedAt     string                `json:"generated_at"`
	Root            string                `json:"root"`
	Mode            string                `json:"mode"`
	DryRun          bool                  `json:"dry_run"`
	Language        plan.LanguageSettings `json:"language"`
	Summary         Summary               `json:"summary"`
	Results         []Result              `json:"results"`
	SemanticRuntime RuntimeReport         `json:"semantic_runtime"`
	Observability   Observability         `json:"semantic_observability"`
	Agents          *AgentsGeneration     `json:"agents_generation,omitempty"`
}

// Options tunes one apply run.
type Options struct {
	DryRun bool
	Now    time.Time
}

// Action types whose applied results structurally change the docs tree
// and therefore refresh AGENTS.md.
var agentsStructuralTriggers = map[plan.ActionType]bool{
	plan.ActionSyncManifest:    true,
	plan.ActionAdd:             true,
	plan.ActionArchive:         true,
	plan.ActionArchiveLegacy:   true,
	plan.ActionMigrateLegacy:   true,
	plan.ActionSemanticRewrite: true,
}

// Action types whose applied results change semantic content.
var agentsSemanticTriggers = map[plan.ActionType]bool{
	plan.ActionUpdateSection:   true,
	plan.ActionFillClaim:       true,
	plan.ActionSemanticRewrite: true,
	plan.ActionMigrateLegacy:   true,
	plan.ActionMergeDocs:       true,
	plan.ActionSplitDoc:        true,
}

type applier struct {
	root    string
	dryRun  bool
	now     time.Time
	cfg     *policy.Config
	profile string

	entries     []semantic.Entry
	runtimeMeta semantic.ReportMeta

	registry      *legacy.Registry
	registryDirty bool
}

// Run executes every action in the plan against root and returns the
// full apply report. Per-action failures are recorded as error results;
// the returned error covers only report-level failures.
func Run(root string, p *plan.Plan, cfg *policy.Config, opts Options) (*Report, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	a := &applier{
		root:    root,
		dryRun:  opts.DryRun,
		now:     now.UTC(),
		cfg:     cfg,
		profile: doctpl.NormalizeProfile(p.Meta.Language.Profile),
	}
	a.entries, a.runtimeMeta = semantic.LoadReport(root, cfg.SemanticGen)

	results := make([]Result, 0, len(p.Actions))
	for _, action := range p.Actions {
		res := Result{ID: action.ID, Type: action.Type, Path: action.Path}
		a.dispatch(&res, action)
		results = append(results, res)
	}

	if a.registryDirty && a.registry != nil {
		path := filepath.Join(root, filepath.FromSlash(cfg.Legacy.RegistryPath))
		if err := a.registry.Save(path, a.dryRun); err != nil {
			results = append(results, Result{
				ID:      "REGISTRY",
				Type:    plan.ActionMigrateLegacy,
				Path:    cfg.Legacy.RegistryPath,
				Status:  StatusError,
				Details: fmt.Sprintf("legacy registry save failed: %v", err),
			})
		}
	}

	agents := a.generateAgents(p, results)
	if agents != nil && agents.Result != nil {
		results = append(results, *agents.Result)
	}

	report := &Report{
		GeneratedAt: a.now.Format(time.RFC3339),
		Root:        root,
		Mode:        p.Meta.Mode,
		DryRun:      a.dryRun,
		Language:    p.Meta.Language,
		Summary:     summarize(results),
		Results:     results,
		SemanticRuntime: RuntimeReport{
			Settings: cfg.SemanticGen,
			Runtime:  a.runtimeMeta,
		},
		Observability: a.observe(results),
		Agents:        agents,
	}
	return report, nil
}

func summarize(results []Result) Summary {
	s := Summary{TotalActions: len(results)}
	for _, res := range results {
		switch res.Status {
		case StatusApplied:
			s.Applied++
		case StatusError:
			s.Errors++
		default:
			s.Skipped++
		}
	}
	return s
}

func (a *applier) dispatch(res *Result, action plan.Action) {
	defer func() {
		if res.Status == "" {
			res.Status = StatusError
			res.Details = fmt.Sprintf("unsupported action type: %s", action.Type)
		}
	}()

	switch action.Type {
	case plan.ActionAdd:
		a.applyAdd(res, action)
	case plan.ActionUpdate:
		a.applyUpdate(res, action)
	case plan.ActionUpdateSection:
		a.applyUpdateSection(res, action)
	case plan.ActionFillClaim:
		a.applyFillClaim(res, action)
	case plan.ActionRefreshEvidence:
		res.Status = StatusApplied
		res.Details = "facts snapshot refresh delegated to the scan pipeline"
	case plan.ActionQualityRepair:
		res.Status = StatusApplied
		details := "quality repair recorded; rerun plan after content fixes"
		if len(action.FailedChecks) > 0 {
			details += " (failed checks: " + strings.Join(action.FailedChecks, ", ") + ")"
		}
		res.Details = details
	case plan.ActionSemanticRewrite:
		a.applySemanticRewrite(res, action)
	case plan.ActionArchive:
		a.applyArchive(res, action, false)
	case plan.ActionArchiveLegacy:
		a.applyArchive(res, action, true)
	case plan.ActionMigrateLegacy:
		a.applyMigrateLegacy(res, action)
	case plan.ActionLegacyManualReview:
		a.applyLegacyManualReview(res, action)
	case plan.ActionSyncManifest:
		a.applySyncManifest(res, action)
	case plan.ActionMergeDocs:
		a.applyMergeDocs(res, action)
	case plan.ActionSplitDoc:
		a.applySplitDoc(res, action)
	case plan.ActionTopologyRepair:
		a.applyTopologyRepair(res, action)
	case plan.ActionNavigationRepair:
		a.applyNavigationRepair(res, action)
	case plan.ActionManualReview:
		res.Status = StatusSkipped
		res.Details = "no automatic action; manual review required"
	case plan.ActionKeep:
		res.Status = StatusSkipped
		res.Details = "no action required"
	}
}

// File helpers. All writes go through writeDoc so dry runs and
// byte-stable normalization hold everywhere.

func (a *applier) abs(rel string) string {
	return filepath.Join(a.root, filepath.FromSlash(rel))
}

func (a *applier) readDoc(rel string) (string, bool) {
	data, err := os.ReadFile(a.abs(rel))
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (a *applier) writeDoc(rel, content string) (bool, error) {
	content = normalizeDoc(content)
	if existing, ok := a.readDoc(rel); ok && existing == content {
		return false, nil
	}
	if a.dryRun {
		return true, nil
	}
	path := a.abs(rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return false, fmt.Errorf("writing %s: %w", rel, err)
	}
	return true, nil
}

func (a *applier) writeJSONDoc(rel string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", rel, err)
	}
	_, err = a.writeDoc(rel, string(data))
	return err
}

func (a *applier) legacyRegistry() *legacy.Registry {
	if a.registry == nil {
		path := filepath.Join(a.root, filepath.FromSlash(a.cfg.Legacy.RegistryPath))
		a.registry = legacy.LoadRegistry(path, a.nowISO())
	}
	return a.registry
}

func (a *applier) nowISO() string {
	return a.now.Format(time.RFC3339)
}

// ensureMetadata prepends the metadata block when the path is subject
// to metadata enforcement.
func (a *applier) ensureMetadata(rel, text string) (string, bool) {
	if !metadata.ShouldEnforce(rel, a.cfg.Metadata) {
		return text, false
	}
	return metadata.EnsureBlock(text, a.cfg.Metadata, a.now)
}

// applyAdd creates a missing directory or scaffolds a missing file.
func (a *applier) applyAdd(res *Result, action plan.Action) {
	if action.Kind == "dir" {
		if info, err := os.Stat(a.abs(action.Path)); err == nil && info.IsDir() {
			res.Status = StatusSkipped
			res.Details = "directory already exists"
			return
		}
		if !a.dryRun {
			if err := os.MkdirAll(a.abs(action.Path), 0755); err != nil {
				res.Status = StatusError
				res.Details = fmt.Sprintf("creating directory: %v", err)
				return
			}
		}
		res.Status = StatusApplied
		res.Details = "directory created"
		return
	}

	if _, err := os.Stat(a.abs(action.Path)); err == nil {
		res.Status = StatusSkipped
		res.Details = "file already exists"
		return
	}

	var err error
	switch {
	case action.Template == "policy":
		cfg := policy.Default()
		cfg.Language = a.cfg.Language
		if cfg.Language.Primary == "" {
			cfg.Language.Primary = doctpl.DefaultProfile
			cfg.Language.Profile = doctpl.DefaultProfile
		}
		err = a.writeJSONDoc(action.Path, cfg)
	case action.Template == "manifest":
		if action.ManifestSnapshot == nil {
			res.Status = StatusError
			res.Details = "add action missing manifest snapshot"
			return
		}
		err = a.writeJSONDoc(action.Path, action.ManifestSnapshot)
	case action.Template == "agents":
		_, err = a.writeDoc(action.Path, doctpl.AgentsTemplate(a.profile))
	case action.Path == a.cfg.Topology.Path:
		err = a.writeJSONDoc(action.Path, topology.DefaultContract(a.cfg.Topology))
	default:
		text := doctpl.ManagedTemplate(action.Path, a.profile)
		text, _ = a.ensureMetadata(action.Path, text)
		_, err = a.writeDoc(action.Path, text)
	}
	if err != nil {
		res.Status = StatusError
		res.Details = err.Error()
		return
	}
	res.Status = StatusApplied
	res.Details = "file created"
}

// applyUpdate repairs a managed file in place: missing sections, the
// module inventory, and the metadata block.
func (a *applier) applyUpdate(res *Result, action plan.Action) {
	text, ok := a.readDoc(action.Path)
	if !ok {
		res.Status = StatusError
		res.Details = "update target missing: " + action.Path
		return
	}

	var details []string
	text, addedSections := appendMissingSections(text, action.Path, a.profile)
	if len(addedSections) > 0 {
		details = append(details, "sections upserted: "+strings.Join(addedSections, ", "))
	}
	if action.Path == "docs/architecture.md" && len(action.MissingModules) > 0 {
		var added int
		text, added = upsertModuleInventory(text, action.MissingModules, a.profile)
		if added > 0 {
			details = append(details, "module inventory updated")
		}
	}
	if updated, changed := a.ensureMetadata(action.Path, text); changed {
		text = updated
		details = append(details, "doc metadata upserted")
	}

	changed, err := a.writeDoc(action.Path, text)
	if err != nil {
		res.Status = StatusError
		res.Details = err.Error()
		return
	}
	if !changed || len(details) == 0 {
		res.Status = StatusSkipped
		res.Details = "no update required"
		return
	}
	res.Status = StatusApplied
	res.Details = strings.Join(details, "; ")
}

// applyUpdateSection rewrites one section: runtime content when the
// candidate passes its gates, otherwise the deterministic scaffold.
func (a *applier) applyUpdateSection(res *Result, action plan.Action) {
	att := a.attachCandidate(action)
	res.SemanticRuntime = att.trace

	text, exists := a.readDoc(action.Path)
	if !exists {
		text = doctpl.ManagedTemplate(action.Path, a.profile)
		text, _ = a.ensureMetadata(action.Path, text)
	}

	if att.candidate != nil {
		content, gateFails := resolveSectionPayload(att.candidate, a.cfg, a.profile)
		if len(gateFails) == 0 {
			text = upsertSectionContent(text, action.Path, action.SectionID, a.profile, content)
			if _, err := a.writeDoc(action.Path, text); err != nil {
				res.Status = StatusError
				res.Details = err.Error()
				return
			}
			att.trace.Status = rtSectionApplied
			att.trace.Consumed = true
			res.Status = StatusApplied
			res.Details = fmt.Sprintf("section %s updated from runtime entry %s",
				action.SectionID, att.candidate.EntryID)
			return
		}
		att.trace.GateFailures = gateFails
		att.failures = append(att.failures, reasonGateFailed)
	}
	if !a.settleFallback(res, action, att) {
		return
	}

	updated, changed := upsertSection(text, action.Path, action.SectionID, a.profile)
	if !changed && exists {
		res.Status = StatusSkipped
		res.Details = fmt.Sprintf("section %s already present", action.SectionID)
		return
	}
	if _, err := a.writeDoc(action.Path, updated); err != nil {
		res.Status = StatusError
		res.Details = err.Error()
		return
	}
	res.Status = StatusApplied
	if att.attempted {
		res.Details = fmt.Sprintf("section %s scaffold upserted via deterministic fallback (reason=%s)",
			action.SectionID, att.trace.FallbackReason)
	} else {
		res.Details = fmt.Sprintf("section %s scaffold upserted", action.SectionID)
	}
}

// applyFillClaim writes the claim statement from runtime evidence or
// records a follow-up TODO.
func (a *applier) applyFillClaim(res *Result, action plan.Action) {
	att := a.attachCandidate(action)
	res.SemanticRuntime = att.trace

	text, exists := a.readDoc(action.Path)
	if !exists {
		res.Status = StatusError
		res.Details = "claim target missing: " + action.Path
		return
	}

	if att.candidate != nil {
		statement, citations, gateFails := resolveClaimPayload(att.candidate, action, a.cfg.SemanticGen)
		if len(gateFails) == 0 {
			updated, changed := upsertClaimStatement(text, action.ClaimID, statement, citations, a.profile)
			if changed {
				if _, err := a.writeDoc(action.Path, updated); err != nil {
					res.Status = StatusError
					res.Details = err.Error()
					return
				}
			}
			att.trace.Status = rtClaimApplied
			att.trace.Consumed = true
			res.Status = StatusApplied
			res.Details = fmt.Sprintf("claim %s statement written from runtime entry %s",
				action.ClaimID, att.candidate.EntryID)
			return
		}
		att.trace.GateFailures = gateFails
		att.failures = append(att.failures, reasonGateFailed)
	}
	if !a.settleFallback(res, action, att) {
		return
	}

	updated, changed := upsertClaimTodo(text, action.ClaimID, action.SectionID, action.RequiredEvidenceTypes, a.profile)
	if !changed {
		res.Status = StatusSkipped
		res.Details = fmt.Sprintf("claim %s follow-up already recorded", action.ClaimID)
		return
	}
	if _, err := a.writeDoc(action.Path, updated); err != nil {
		res.Status = StatusError
		res.Details = err.Error()
		return
	}
	res.Status = StatusApplied
	if att.attempted {
		res.Details = fmt.Sprintf("claim %s follow-up recorded via deterministic fallback (reason=%s)",
			action.ClaimID, att.trace.FallbackReason)
	} else {
		res.Details = fmt.Sprintf("claim %s follow-up recorded", action.ClaimID)
	}
}

// applySemanticRewrite replaces a document body with runtime content.
// There is no deterministic rewrite; without a consumable candidate the
// action is deferred to review.
func (a *applier) applySemanticRewrite(res *Result, action plan.Action) {
	att := a.attachCandidate(action)
	res.SemanticRuntime = att.trace

	if att.candidate != nil {
		content, gateFails := resolveContentPayload(att.candidate, a.profile)
		if len(gateFails) == 0 {
			text, _ := a.ensureMetadata(action.Path, content)
			if _, err := a.writeDoc(action.Path, text); err != nil {
				res.Status = StatusError
				res.Details = err.Error()
				return
			}
			att.trace.Status = rtRewriteApplied
			att.trace.Consumed = true
			res.Status = StatusApplied
			res.Details = "document rewritten from runtime entry " + att.candidate.EntryID
			return
		}
		att.trace.GateFailures = gateFails
		att.failures = append(att.failures, reasonGateFailed)
	}
	if !a.settleFallback(res, action, att) {
		return
	}
	res.Status = StatusSkipped
	res.Details = "semantic rewrite requires runtime content; deferred to manual review"
}

// applyArchive moves a document to its archive location. The legacy
// variant also records the move in the migration registry.
func (a *applier) applyArchive(res *Result, action plan.Action, legacySource bool) {
	src := action.SourcePath
	target := action.Path
	if src == "" {
		res.Status = StatusError
		res.Details = "archive action missing source path"
		return
	}
	if _, err := os.Stat(a.abs(src)); err != nil {
		res.Status = StatusSkipped
		res.Details = "archive source missing: " + src
		return
	}
	if _, err := os.Stat(a.abs(target)); err == nil {
		res.Status = StatusSkipped
		res.Details = "archive target already exists: " + target
		return
	}
	if !a.dryRun {
		if err := os.MkdirAll(filepath.Dir(a.abs(target)), 0755); err != nil {
			res.Status = StatusError
			res.Details = fmt.Sprintf("creating archive directory: %v", err)
			return
		}
		if err := os.Rename(a.abs(src), a.abs(target)); err != nil {
			res.Status = StatusError
			res.Details = fmt.Sprintf("archiving %s: %v", src, err)
			return
		}
	}
	if legacySource {
		a.legacyRegistry().Upsert(src, legacy.RegistryEntry{
			Status:         "archived",
			ArchivePath:    target,
			Category:       action.Category,
			DecisionSource: action.DecisionSource,
		}, a.nowISO())
		a.registryDirty = true
	}
	res.Status = StatusApplied
	res.Details = fmt.Sprintf("archived %s to %s", src, target)
}

// applyMigrateLegacy appends a structured migration entry for a legacy
// source to its target document and records it in the registry.
func (a *applier) applyMigrateLegacy(res *Result, action plan.Action) {
	att := a.attachCandidate(action)
	res.SemanticRuntime = att.trace

	src := action.SourcePath
	if src == "" {
		res.Status = StatusError
		res.Details = "migrate action missing source path"
		return
	}
	sourceData, ok := a.readDoc(src)
	if !ok {
		res.Status = StatusError
		res.Details = "legacy source missing: " + src
		return
	}

	base, targetExists := a.readDoc(action.Path)
	if !targetExists {
		base = legacy.TargetHeader(a.profile)
		base, _ = a.ensureMetadata(action.Path, base)
	}

	archiveRel := legacy.ResolveArchivePath(src, a.cfg.Legacy)
	semCtx := &legacy.SemanticContext{
		Category:      action.Category,
		Confidence:    action.Confidence,
		HasConfidence: action.Confidence > 0,
	}

	if strings.Contains(base, legacy.SourceMarker(src)) {
		a.legacyRegistry().Upsert(src, legacy.RegistryEntry{
			Status:         "migrated",
			TargetPath:     action.Path,
			ArchivePath:    archiveRel,
			Category:       action.Category,
			Confidence:     action.Confidence,
			Decision:       action.Decision,
			DecisionSource: action.DecisionSource,
		}, a.nowISO())
		a.registryDirty = true
		res.Status = StatusSkipped
		res.Details = "legacy source already migrated"
		return
	}

	content := sourceData
	var evidence []string
	if att.candidate != nil {
		runtimeContent, gateFails := resolveContentPayload(att.candidate, a.profile)
		if len(gateFails) == 0 {
			content = runtimeContent
			evidence = append(evidence, "semantic runtime entry consumed: "+att.candidate.EntryID)
			for i, citation := range att.candidate.Citations {
				if i >= 3 {
					break
				}
				evidence = append(evidence, "semantic runtime citation: "+citation)
			}
			for i, note := range att.candidate.RiskNotes {
				if i >= 2 {
					break
				}
				evidence = append(evidence, "semantic runtime risk note: "+note)
			}
			att.trace.Consumed = true
		} else {
			att.trace.GateFailures = gateFails
			att.failures = append(att.failures, reasonGateFailed)
			att.candidate = nil
		}
	}
	if att.candidate == nil && !a.settleFallback(res, action, att) {
		return
	}

	entry := legacy.RenderEntry(src, content, archiveRel, a.profile,
		a.now.Format("2006-01-02"), semCtx, evidence)
	updated := normalizeDoc(base) + "\n" + strings.TrimRight(entry, "\n") + "\n"
	updated, _ = a.ensureMetadata(action.Path, updated)
	if _, err := a.writeDoc(action.Path, updated); err != nil {
		res.Status = StatusError
		res.Details = err.Error()
		return
	}

	hash := blake3.Sum256([]byte(entry))
	a.legacyRegistry().Upsert(src, legacy.RegistryEntry{
		Status:         "migrated",
		TargetPath:     action.Path,
		ArchivePath:    archiveRel,
		Category:       action.Category,
		Confidence:     action.Confidence,
		Decision:       action.Decision,
		DecisionSource: action.DecisionSource,
		Note:           fmt.Sprintf("summary_hash=%x", hash[:8]),
	}, a.nowISO())
	a.registryDirty = true

	res.Status = StatusApplied
	if att.trace != nil && att.trace.Consumed {
		res.Details = fmt.Sprintf("legacy source migrated to %s using runtime entry %s",
			action.Path, att.trace.EntryID)
	} else {
		res.Details = fmt.Sprintf("legacy source migrated to %s", action.Path)
	}
}

func (a *applier) applyLegacyManualReview(res *Result, action plan.Action) {
	src := action.SourcePath
	if src == "" {
		src = action.Path
	}
	a.legacyRegistry().Upsert(src, legacy.RegistryEntry{
		Status:         "manual_review",
		Category:       action.Category,
		Confidence:     action.Confidence,
		Decision:       action.Decision,
		DecisionSource: action.DecisionSource,
		Note:           action.Rationale,
	}, a.nowISO())
	a.registryDirty = true
	res.Status = StatusSkipped
	res.Details = "no automatic action; manual review recorded in legacy registry"
}

func (a *applier) applySyncManifest(res *Result, action plan.Action) {
	if action.ManifestSnapshot == nil {
		res.Status = StatusError
		res.Details = "sync_manifest action missing manifest snapshot"
		return
	}
	if !a.dryRun {
		if err := manifest.Write(a.abs(action.Path), *action.ManifestSnapshot); err != nil {
			res.Status = StatusError
			res.Details = err.Error()
			return
		}
	}
	res.Status = StatusApplied
	res.Details = "manifest snapshot written (additive evolution)"
}

// applyMergeDocs consolidates declared sources into the target, from
// runtime content or the deterministic per-source layout.
func (a *applier) applyMergeDocs(res *Result, action plan.Action) {
	att := a.attachCandidate(action)
	res.SemanticRuntime = att.trace

	if att.candidate != nil {
		content, sources, gateFails := resolveMergePayload(att.candidate, action)
		if len(gateFails) == 0 {
			text, _ := a.ensureMetadata(action.Path, content)
			if _, err := a.writeDoc(action.Path, text); err != nil {
				res.Status = StatusError
				res.Details = err.Error()
				return
			}
			att.trace.Status = rtMergeApplied
			att.trace.Consumed = true
			res.MergedSources = sources
			res.Status = StatusApplied
			res.Details = fmt.Sprintf("merged %d sources from runtime entry %s",
				len(sources), att.candidate.EntryID)
			return
		}
		att.trace.GateFailures = gateFails
		att.failures = append(att.failures, reasonGateFailed)
	}
	if !a.settleFallback(res, action, att) {
		return
	}

	if len(action.SourcePaths) == 0 {
		res.Status = StatusError
		res.Details = "merge_docs action missing source paths"
		return
	}
	content, missing := renderMergeFallback(action.SourcePaths, func(rel string) (string, bool) {
		return a.readDoc(rel)
	})
	if len(missing) > 0 {
		res.Status = StatusError
		res.Details = "merge sources unavailable: " + strings.Join(missing, ", ")
		return
	}
	text, _ := a.ensureMetadata(action.Path, content)
	if _, err := a.writeDoc(action.Path, text); err != nil {
		res.Status = StatusError
		res.Details = err.Error()
		return
	}
	res.MergedSources = action.SourcePaths
	res.Status = StatusApplied
	res.Details = fmt.Sprintf("merged %d sources via deterministic fallback", len(action.SourcePaths))
}

// applySplitDoc materializes split targets from the source document and
// records them in the index.
func (a *applier) applySplitDoc(res *Result, action plan.Action) {
	att := a.attachCandidate(action)
	res.SemanticRuntime = att.trace

	sourceText, ok := a.readDoc(action.Path)
	if !ok {
		res.Status = StatusError
		res.Details = "split source missing: " + action.Path
		return
	}

	indexRel := action.IndexPath
	if indexRel == "" {
		indexRel = "docs/index.md"
	}

	writeTargets := func(targets map[string]string, links []string) bool {
		paths := make([]string, 0, len(targets))
		for rel := range targets {
			paths = append(paths, rel)
		}
		sort.Strings(paths)
		for _, rel := range paths {
			text, _ := a.ensureMetadata(rel, targets[rel])
			if _, err := a.writeDoc(rel, text); err != nil {
				res.Status = StatusError
				res.Details = err.Error()
				return false
			}
		}
		indexText, indexExists := a.readDoc(indexRel)
		indexText, added := upsertIndexLinks(indexText, indexRel, indexExists, links, a.profile)
		if added > 0 {
			if _, err := a.writeDoc(indexRel, indexText); err != nil {
				res.Status = StatusError
				res.Details = err.Error()
				return false
			}
		}
		res.SplitTargets = paths
		return true
	}

	if att.candidate != nil {
		outputs, links, gateFails := resolveSplitPayload(att.candidate, action)
		if len(gateFails) == 0 {
			targets := make(map[string]string, len(outputs))
			for _, out := range outputs {
				targets[out.Path] = out.Content
			}
			if !writeTargets(targets, links) {
				return
			}
			att.trace.Status = rtSplitApplied
			att.trace.Consumed = true
			res.Status = StatusApplied
			res.Details = fmt.Sprintf("split into %d documents from runtime entry %s",
				len(outputs), att.candidate.EntryID)
			return
		}
		att.trace.GateFailures = gateFails
		att.failures = append(att.failures, reasonGateFailed)
	}
	if !a.settleFallback(res, action, att) {
		return
	}

	if len(action.TargetPaths) == 0 {
		res.Status = StatusError
		res.Details = "split_doc action missing target paths"
		return
	}
	targets := make(map[string]string, len(action.TargetPaths))
	for _, target := range action.TargetPaths {
		targets[target] = renderSplitFallback(action.Path, sourceText, target)
	}
	if !writeTargets(targets, action.TargetPaths) {
		return
	}
	res.Status = StatusApplied
	res.Details = fmt.Sprintf("split into %d documents via deterministic fallback", len(action.TargetPaths))
}

// applyTopologyRepair initializes a missing contract file; structural
// drift on existing contracts needs an operator decision.
func (a *applier) applyTopologyRepair(res *Result, action plan.Action) {
	if action.Path == a.cfg.Topology.Path {
		if _, err := os.Stat(a.abs(action.Path)); err == nil {
			res.Status = StatusSkipped
			res.Details = "topology contract present; structural repair requires manual review"
			return
		}
		if err := a.writeJSONDoc(action.Path, topology.DefaultContract(a.cfg.Topology)); err != nil {
			res.Status = StatusError
			res.Details = err.Error()
			return
		}
		res.Status = StatusApplied
		res.Details = "topology contract initialized"
		return
	}
	res.Status = StatusSkipped
	res.Details = "topology drift requires manual restructuring: " + action.Reason
}

// applyNavigationRepair renders missing child links on the parent.
func (a *applier) applyNavigationRepair(res *Result, action plan.Action) {
	text, ok := a.readDoc(action.Path)
	if !ok {
		res.Status = StatusError
		res.Details = "navigation parent missing: " + action.Path
		return
	}
	if len(action.MissingLinks) == 0 {
		res.Status = StatusSkipped
		res.Details = "no navigation targets declared"
		return
	}
	updated, added := upsertNavigationLinks(text, action.Path, action.MissingLinks, a.profile)
	if added == 0 {
		res.Status = StatusSkipped
		res.Details = "navigation links already present"
		return
	}
	if _, err := a.writeDoc(action.Path, updated); err != nil {
		res.Status = StatusError
		res.Details = err.Error()
		return
	}
	res.Status = StatusApplied
	res.Details = fmt.Sprintf("navigation links added: %d", added)
}

// generateAgents refreshes AGENTS.md after runs that changed the docs
// tree structurally or semantically.
func (a *applier) generateAgents(p *plan.Plan, results []Result) *AgentsGeneration {
	settings := a.cfg.Agents
	gen := &AgentsGeneration{Enabled: settings.Enabled}
	if !settings.Enabled {
		return gen
	}

	var reasons []string
	if p.Meta.Mode == string(policy.ModeBootstrap) {
		reasons = append(reasons, "bootstrap_mode")
	}
	if _, err := os.Stat(a.abs("AGENTS.md")); err != nil {
		reasons = append(reasons, "agents_doc_missing")
	}
	structural := false
	semanticChange := false
	manifestSynced := false
	for _, res := range results {
		if res.Status != StatusApplied {
			continue
		}
		if agentsStructuralTriggers[res.Type] {
			structural = true
		}
		if agentsSemanticTriggers[res.Type] {
			semanticChange = true
		}
		if res.Type == plan.ActionSyncManifest {
			manifestSynced = true
		}
	}
	if settings.Mode != "static" {
		if structural {
			reasons = append(reasons, "structural_change")
		}
		if settings.RegenerateOnSemanticActions && semanticChange {
			reasons = append(reasons, "semantic_change")
		}
		if settings.SyncOnManifestChange && (p.Meta.ManifestChanged || manifestSynced) {
			reasons = append(reasons, "manifest_change")
		}
	}
	if len(reasons) == 0 {
		return gen
	}
	gen.Triggered = true
	gen.Reasons = reasons

	result := Result{ID: "AGENTS", Type: "agents_generate", Path: "AGENTS.md"}
	action := plan.Action{ID: "AGENTS", Type: "agents_generate", Path: "AGENTS.md"}
	att := a.attachCandidate(action)
	result.SemanticRuntime = att.trace

	content := ""
	fromRuntime := false
	if att.candidate != nil {
		payload, gateFails := resolveContentPayload(att.candidate, a.profile)
		if len(gateFails) == 0 {
			content = payload
			fromRuntime = true
		} else {
			att.trace.GateFailures = gateFails
			att.failures = append(att.failures, reasonGateFailed)
		}
	}
	if !fromRuntime {
		if att.attempted && !a.settleFallback(&result, action, att) {
			gen.Result = &result
			return gen
		}
		content = doctpl.AgentsTemplate(a.profile)
	}

	changed, err := a.writeDoc("AGENTS.md", content)
	switch {
	case err != nil:
		result.Status = StatusError
		result.Details = err.Error()
	case !changed:
		result.Status = StatusSkipped
		result.Details = "AGENTS.md already up to date"
	case fromRuntime:
		att.trace.Status = rtAgentsApplied
		att.trace.Consumed = true
		result.Status = StatusApplied
		result.Details = "AGENTS.md generated from runtime entry " + att.candidate.EntryID
	default:
		result.Status = StatusApplied
		if att.attempted {
			result.Details = fmt.Sprintf("AGENTS.md generated via deterministic fallback (reason=%s)",
				att.trace.FallbackReason)
		} else {
			result.Details = "AGENTS.md generated from template"
		}
	}
	gen.Result = &result
	return gen
}

// observe aggregates runtime participation across the results.
func (a *applier) observe(results []Result) Observability {
	obs := Observability{
		FallbackReasons:  map[string]int{},
		QualityGrades:    map[string]int{},
		QualityDecisions: map[string]int{},
	}
	enabled := a.cfg.SemanticGen.Actions
	for _, res := range results {
		if !enabled[string(res.Type)] {
			continue
		}
		obs.SemanticActionCount++
		trace := res.SemanticRuntime
		if trace == nil {
			obs.UnattemptedCount++
			obs.UnattemptedWithoutExemption++
			if len(obs.UnattemptedSamples) < 20 {
				obs.UnattemptedSamples = append(obs.UnattemptedSamples, res.ID)
			}
			continue
		}
		if !trace.Attempted {
			obs.UnattemptedCount++
			if observabilityExemptStatuses[trace.Status] {
				obs.ExemptCount++
			} else {
				obs.UnattemptedWithoutExemption++
				if len(obs.UnattemptedSamples) < 20 {
					obs.UnattemptedSamples = append(obs.UnattemptedSamples, res.ID)
				}
			}
			continue
		}
		obs.AttemptCount++
		if trace.Consumed || runtimeHitStatuses[trace.Status] {
			obs.SuccessCount++
		}
		if trace.FallbackUsed {
			obs.FallbackCount++
			if trace.FallbackReason != "" {
				obs.FallbackReasons[trace.FallbackReason]++
			}
		}
		if trace.Quality != nil {
			obs.QualityGrades[trace.Quality.Grade]++
			obs.QualityDecisions[trace.Quality.Decision]++
			switch trace.Quality.Decision {
			case semantic.QualityFallback, semantic.QualityManualReview, semantic.QualityBlock:
				obs.QualityDegradedCount++
			}
		}
	}
	if obs.AttemptCount > 0 {
		obs.HitRate = math.Round(float64(obs.SuccessCount)/float64(obs.AttemptCount)*10000) / 10000
	}
	if len(obs.FallbackReasons) == 0 {
		obs.FallbackReasons = nil
	}
	if len(obs.QualityGrades) == 0 {
		obs.QualityGrades = nil
	}
	if len(obs.QualityDecisions) == 0 {
		obs.QualityDecisions = nil
	}
	return obs
}

// WriteJSON persists the report at rel under root.
func (r *Report) WriteJSON(root, rel string) error {
	if rel == "" {
		rel = DefaultReportJSONPath
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding apply report: %w", err)
	}
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing apply report: %w", err)
	}
	return nil
}

// RenderMarkdown renders the human-readable apply summary.
func (r *Report) RenderMarkdown() string {
	var b strings.Builder
	b.WriteString("# Doc Apply Report\n\n")
	fmt.Fprintf(&b, "- Generated: %s\n", r.GeneratedAt)
	fmt.Fprintf(&b, "- Root: `%s`\n", r.Root)
	fmt.Fprintf(&b, "- Mode: `%s`\n", r.Mode)
	fmt.Fprintf(&b, "- Dry run: %t\n", r.DryRun)
	fmt.Fprintf(&b, "- Language: %s (%s)\n", r.Language.Primary, r.Language.Profile)

	b.WriteString("\n## Summary\n\n")
	fmt.Fprintf(&b, "- Total actions: %d\n", r.Summary.TotalActions)
	fmt.Fprintf(&b, "- Applied: %d\n", r.Summary.Applied)
	fmt.Fprintf(&b, "- Skipped: %d\n", r.Summary.Skipped)
	fmt.Fprintf(&b, "- Errors: %d\n", r.Summary.Errors)
	if r.Observability.AttemptCount > 0 {
		fmt.Fprintf(&b, "- Semantic runtime hit rate: %.2f (%d/%d)\n",
			r.Observability.HitRate, r.Observability.SuccessCount, r.Observability.AttemptCount)
	}

	b.WriteString("\n## Action Results\n\n")
	for _, res := range r.Results {
		line := fmt.Sprintf("- %s `%s` `%s` -> %s", res.ID, res.Type, res.Path, res.Status)
		if res.Details != "" {
			line += " (" + res.Details + ")"
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// WriteMarkdown persists the Markdown report at rel under root.
func (r *Report) WriteMarkdown(root, rel string) error {
	if rel == "" {
		rel = DefaultReportMDPath
	}
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(r.RenderMarkdown()), 0644); err != nil {
		return fmt.Errorf("writing apply report: %w", err)
	}
	return nil
}
