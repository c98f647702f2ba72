package apply

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"docgarden/internal/plan"
	"docgarden/internal/policy"
	"docgarden/internal/semantic"
)

// Runtime trace statuses. Exempt statuses mark actions that never owed
// a runtime attempt; hit statuses mark consumed runtime content.
const (
	rtDeterministicMode  = "deterministic_mode"
	rtSemanticDisabled   = "semantic_disabled"
	rtActionDisabled     = "action_disabled"
	rtSemanticNotEnabled = "semantic_not_enabled"

	rtCandidateLoaded     = "candidate_loaded"
	rtPathDenied          = "path_denied"
	rtRuntimeUnavailable  = "runtime_unavailable"
	rtEntryNotFound       = "runtime_entry_not_found"
	rtGradeCDowngraded    = "quality_grade_c_downgraded"
	rtQualityManualReview = "quality_manual_review"
	rtQualityBlocked      = "quality_blocked"
	rtFallbackBlocked     = "fallback_blocked"
	rtAttemptMissing      = "semantic_attempt_missing"

	rtSectionApplied = "section_runtime_applied"
	rtClaimApplied   = "claim_runtime_applied"
	rtRewriteApplied = "semantic_rewrite_applied"
	rtMergeApplied   = "merge_docs_runtime_applied"
	rtSplitApplied   = "split_doc_runtime_applied"
	rtAgentsApplied  = "agents_runtime_applied"
)

// Fallback reason codes accepted for deterministic fallback.
const (
	reasonRuntimeUnavailable  = "runtime_unavailable"
	reasonEntryNotFound       = "runtime_entry_not_found"
	reasonGateFailed          = "runtime_gate_failed"
	reasonPathDenied          = "path_denied"
	reasonQualityGradeC       = "runtime_quality_grade_c"
	reasonQualityGradeD       = "runtime_quality_grade_d"
	reasonQualityManualReview = "runtime_quality_manual_review"
)

var fallbackReasonCodes = map[string]bool{
	reasonRuntimeUnavailable: true,
	reasonEntryNotFound:      true,
	reasonGateFailed:         true,
	reasonPathDenied:         true,
	reasonQualityGradeC:      true,
}

var runtimeHitStatuses = map[string]bool{
	rtCandidateLoaded: true,
	rtSectionApplied:  true,
	rtClaimApplied:    true,
	rtRewriteApplied:  true,
	rtMergeApplied:    true,
	rtSplitApplied:    true,
	rtAgentsApplied:   true,
}

var observabilityExemptStatuses = map[string]bool{
	rtDeterministicMode:  true,
	rtSemanticDisabled:   true,
	rtActionDisabled:     true,
	rtSemanticNotEnabled: true,
}

// RuntimeTrace records how runtime semantics participated in one action.
type RuntimeTrace struct {
	Status          string            `json:"status"`
	Attempted       bool              `json:"attempted"`
	Required        bool              `json:"required,omitempty"`
	Mode            string            `json:"mode,omitempty"`
	Source          string            `json:"source,omitempty"`
	EntryID         string            `json:"entry_id,omitempty"`
	CandidateStatus string            `json:"candidate_status,omitempty"`
	Quality         *semantic.Quality `json:"quality,omitempty"`
	GateFailures    []string          `json:"gate_failures,omitempty"`
	Consumed        bool              `json:"consumed,omitempty"`
	FallbackUsed    bool              `json:"fallback_used,omitempty"`
	FallbackAllowed bool              `json:"fallback_allowed,omitempty"`
	FallbackReason  string            `json:"fallback_reason,omitempty"`
}

type runtimeAttempt struct {
	trace     *RuntimeTrace
	candidate *semantic.Entry
	failures  []string
	attempted bool
}

// exemptStatus explains why no runtime attempt was owed.
func exemptStatus(cfg policy.SemanticGeneration, actionType string) string {
	switch {
	case !cfg.Enabled:
		return rtSemanticDisabled
	case cfg.Mode == policy.SemanticModeDeterministic:
		return rtDeterministicMode
	case !cfg.Actions[actionType]:
		return rtActionDisabled
	default:
		return rtSemanticNotEnabled
	}
}

// attachCandidate runs the shared gating front half for a semantic-
// capable action: exemption, deny paths, selection, quality grading.
func (a *applier) attachCandidate(action plan.Action) runtimeAttempt {
	cfg := a.cfg.SemanticGen
	actionType := string(action.Type)
	trace := &RuntimeTrace{
		Mode:     cfg.Mode,
		Source:   cfg.Source,
		Required: semantic.AttemptRequired(actionType, cfg),
	}
	att := runtimeAttempt{trace: trace}

	if !semantic.ShouldAttempt(actionType, cfg) {
		trace.Status = exemptStatus(cfg, actionType)
		return att
	}
	att.attempted = true
	trace.Attempted = true

	for _, pattern := range cfg.DenyPaths {
		if ok, _ := doublestar.Match(pattern, action.Path); ok {
			trace.Status = rtPathDenied
			att.failures = append(att.failures, reasonPathDenied)
			return att
		}
	}

	candidate := semantic.SelectEntry(actionType, action.Path, action.SectionID, action.ClaimID, a.entries, cfg)
	if candidate == nil {
		if !a.runtimeMeta.Available {
			trace.Status = rtRuntimeUnavailable
			att.failures = append(att.failures, reasonRuntimeUnavailable)
		} else {
			trace.Status = rtEntryNotFound
			att.failures = append(att.failures, reasonEntryNotFound)
		}
		return att
	}

	trace.EntryID = candidate.EntryID
	trace.CandidateStatus = candidate.Status
	quality := semantic.GradeEntry(candidate, cfg)
	trace.Quality = &quality
	switch quality.Decision {
	case semantic.QualityConsume:
		trace.Status = rtCandidateLoaded
		att.candidate = candidate
	case semantic.QualityFallback:
		trace.Status = rtGradeCDowngraded
		att.failures = append(att.failures, reasonQualityGradeC)
	case semantic.QualityManualReview:
		trace.Status = rtQualityManualReview
		att.failures = append(att.failures, reasonQualityManualReview)
	default:
		trace.Status = rtQualityBlocked
		att.failures = append(att.failures, reasonQualityGradeD)
	}
	return att
}

// resolveFallbackReason picks the dominant failure code in severity
// order; anything unrecognized collapses to a gate failure.
func resolveFallbackReason(failures []string) string {
	priority := []string{
		reasonQualityManualReview,
		reasonQualityGradeD,
		reasonQualityGradeC,
		reasonPathDenied,
		reasonRuntimeUnavailable,
		reasonEntryNotFound,
	}
	for _, code := range priority {
		for _, f := range failures {
			if f == code {
				return code
			}
		}
	}
	return reasonGateFailed
}

// fallbackAllowed reports whether the deterministic fallback may run
// for the given failure reason.
func fallbackAllowed(reason string, cfg policy.SemanticGeneration) bool {
	if cfg.Mode == policy.SemanticModeAgentStrict {
		return false
	}
	if reason == reasonQualityGradeD || reason == reasonQualityManualReview {
		return false
	}
	return cfg.AllowFallbackTemplate && fallbackReasonCodes[reason]
}

// settleFallback finishes a failed runtime attempt: either clears the
// action for deterministic fallback or records the block/error.
// Returns true when the deterministic path may proceed.
func (a *applier) settleFallback(res *Result, action plan.Action, att runtimeAttempt) bool {
	if !att.attempted {
		return true
	}
	reason := resolveFallbackReason(att.failures)
	att.trace.FallbackReason = reason
	if fallbackAllowed(reason, a.cfg.SemanticGen) {
		att.trace.FallbackAllowed = true
		att.trace.FallbackUsed = true
		return true
	}
	if a.cfg.SemanticGen.Mode == policy.SemanticModeAgentStrict {
		res.Status = StatusError
		res.Details = fmt.Sprintf(
			"agent_strict requires runtime semantic candidate with passing gate for %s", action.Type)
		return false
	}
	res.Status = StatusSkipped
	att.trace.Status = rtFallbackBlocked
	res.Details = fmt.Sprintf("semantic runtime fallback blocked (reason=%s)", reason)
	return false
}

// citationFailures validates citation tokens against the evidence
// prefix allow-list.
func citationFailures(citations []string, cfg policy.SemanticGeneration) []string {
	var fails []string
	if len(citations) == 0 {
		return []string{"missing_citations"}
	}
	invalid := false
	badPrefix := false
	for _, token := range citations {
		if !semantic.ValidCitationToken(token) {
			invalid = true
			continue
		}
		if !semantic.CitationPrefixAllowed(token, cfg.RequiredEvidencePrefixes) {
			badPrefix = true
		}
	}
	if invalid {
		fails = append(fails, "invalid_citation_token")
	}
	if badPrefix {
		fails = append(fails, "citation_prefix_not_allowed")
	}
	return fails
}

// resolveSectionPayload extracts section content from a runtime entry.
// Slot entries are validated against the progressive budgets before
// rendering; plain entries only need non-empty content.
func resolveSectionPayload(entry *semantic.Entry, cfg *policy.Config, profile string) (string, []string) {
	if !entry.Slots.Empty() {
		fails := citationFailures(entry.Citations, cfg.SemanticGen)
		slots := entry.Slots
		required := cfg.Progressive.RequiredSlots
		if len(required) == 0 {
			required = []string{"summary", "key_facts", "next_steps"}
		}
		for _, slot := range required {
			switch slot {
			case "summary":
				if slots.Summary == "" {
					fails = append(fails, "missing_slot_summary")
				}
			case "key_facts":
				if len(slots.KeyFacts) == 0 {
					fails = append(fails, "missing_slot_key_facts")
				}
			case "next_steps":
				if len(slots.NextSteps) == 0 {
					fails = append(fails, "missing_slot_next_steps")
				}
			}
		}
		if cfg.Progressive.SummaryMaxChars > 0 && len(slots.Summary) > cfg.Progressive.SummaryMaxChars {
			fails = append(fails, "summary_over_budget")
		}
		if cfg.Progressive.MaxKeyFacts > 0 && len(slots.KeyFacts) > cfg.Progressive.MaxKeyFacts {
			fails = append(fails, "key_facts_over_budget")
		}
		if cfg.Progressive.MaxNextSteps > 0 && len(slots.NextSteps) > cfg.Progressive.MaxNextSteps {
			fails = append(fails, "next_steps_over_budget")
		}
		if len(fails) > 0 {
			return "", fails
		}
		return renderSlotsContent(slots, profile), nil
	}

	content := strings.TrimSpace(entry.Content)
	if content == "" {
		content = strings.TrimSpace(entry.Statement)
	}
	if content == "" {
		return "", []string{"missing_content"}
	}
	return content, nil
}

// resolveClaimPayload extracts the statement and citations for a
// fill_claim action and validates them against the claim's declared
// evidence requirements.
func resolveClaimPayload(entry *semantic.Entry, action plan.Action, cfg policy.SemanticGeneration) (string, []string, []string) {
	var fails []string
	if entry.Status != semantic.EntryStatusOK {
		fails = append(fails, "runtime_status_not_ok")
	}
	statement := strings.TrimSpace(entry.Statement)
	if statement == "" {
		statement = strings.TrimSpace(entry.Content)
	}
	if statement == "" {
		fails = append(fails, "missing_statement")
	}
	fails = append(fails, citationFailures(entry.Citations, cfg)...)

	for _, required := range action.RequiredEvidenceTypes {
		satisfied := false
		for _, token := range entry.Citations {
			if token == required || strings.HasPrefix(token, required) {
				satisfied = true
				break
			}
		}
		if !satisfied {
			fails = append(fails, "missing_required_citations")
			break
		}
	}
	if len(fails) > 0 {
		return "", nil, fails
	}
	return statement, entry.Citations, nil
}

// resolveContentPayload extracts full-document content for rewrite and
// migrate actions: slot entries render, otherwise raw content is used.
func resolveContentPayload(entry *semantic.Entry, profile string) (string, []string) {
	if !entry.Slots.Empty() {
		return renderSlotsContent(entry.Slots, profile), nil
	}
	content := strings.TrimSpace(entry.Content)
	if content == "" {
		return "", []string{"missing_content"}
	}
	return content, nil
}

// resolveMergePayload validates a merge entry against the declared
// source set and returns the merged content plus the source union.
func resolveMergePayload(entry *semantic.Entry, action plan.Action) (string, []string, []string) {
	var fails []string
	content := strings.TrimSpace(entry.Content)
	if content == "" {
		fails = append(fails, "missing_content")
	}
	declared := map[string]bool{}
	for _, src := range entry.SourcePaths {
		declared[src] = true
	}
	for _, src := range action.SourcePaths {
		if !declared[src] {
			fails = append(fails, "missing_declared_sources")
			break
		}
	}
	if len(fails) > 0 {
		return "", nil, fails
	}
	sources := append([]string{}, action.SourcePaths...)
	for _, src := range entry.SourcePaths {
		found := false
		for _, existing := range sources {
			if existing == src {
				found = true
				break
			}
		}
		if !found {
			sources = append(sources, src)
		}
	}
	return content, sources, nil
}

// resolveSplitPayload validates a split entry against the declared
// target set and returns the outputs plus index links.
func resolveSplitPayload(entry *semantic.Entry, action plan.Action) ([]semantic.SplitOutput, []string, []string) {
	if len(entry.SplitOut) == 0 {
		return nil, nil, []string{"missing_split_outputs"}
	}
	produced := map[string]bool{}
	for _, out := range entry.SplitOut {
		produced[out.Path] = true
	}
	for _, target := range action.TargetPaths {
		if !produced[target] {
			return nil, nil, []string{"missing_declared_split_targets"}
		}
	}
	links := entry.IndexLinks
	if len(links) == 0 {
		for _, out := range entry.SplitOut {
			links = append(links, out.Path)
		}
	}
	return entry.SplitOut, links, nil
}

// resolveNavigationPayload returns the navigation targets a runtime
// entry contributes, falling back to the action's missing links.
func resolveNavigationPayload(entry *semantic.Entry, action plan.Action) ([]string, []string) {
	targets := entry.TargetPaths
	if len(targets) == 0 {
		targets = entry.IndexLinks
	}
	if len(targets) == 0 {
		targets = action.MissingLinks
	}
	if len(targets) == 0 {
		return nil, []string{"missing_navigation_targets"}
	}
	declared := map[string]bool{}
	for _, t := range targets {
		declared[t] = true
	}
	for _, required := range action.MissingLinks {
		if !declared[required] {
			return nil, []string{"missing_declared_navigation_targets"}
		}
	}
	return targets, nil
}
