package semantic

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"docgarden/internal/policy"
)

// Runtime entry statuses.
const (
	EntryStatusOK           = "ok"
	EntryStatusManualReview = "manual_review"
)

// SplitOutput is one target document produced by a split_doc entry.
type SplitOutput struct {
	Path        string   `json:"path"`
	Content     string   `json:"content"`
	Title       string   `json:"title,omitempty"`
	SourcePaths []string `json:"source_paths,omitempty"`
}

// Slots carries progressive-disclosure content from the runtime.
type Slots struct {
	Summary   string   `json:"summary,omitempty"`
	KeyFacts  []string `json:"key_facts,omitempty"`
	NextSteps []string `json:"next_steps,omitempty"`
}

// Empty reports whether no slot carries content.
func (s Slots) Empty() bool {
	return s.Summary == "" && len(s.KeyFacts) == 0 && len(s.NextSteps) == 0
}

// Entry is a normalized runtime semantic candidate.
type Entry struct {
	Path        string              `json:"path"`
	EntryID     string              `json:"entry_id"`
	SectionID   string              `json:"section_id,omitempty"`
	ClaimID     string              `json:"claim_id,omitempty"`
	ActionType  string              `json:"action_type,omitempty"`
	Status      string              `json:"status"`
	Content     string              `json:"content,omitempty"`
	Statement   string              `json:"statement,omitempty"`
	Slots       Slots               `json:"slots,omitempty"`
	Citations   []string            `json:"citations,omitempty"`
	RiskNotes   []string            `json:"risk_notes,omitempty"`
	SourcePaths []string            `json:"source_paths,omitempty"`
	TargetPaths []string            `json:"target_paths,omitempty"`
	IndexLinks  []string            `json:"index_links,omitempty"`
	EvidenceMap map[string][]string `json:"evidence_map,omitempty"`
	SplitOut    []SplitOutput       `json:"split_outputs,omitempty"`
}

// ReportMeta describes whether and how the runtime report loaded.
type ReportMeta struct {
	Enabled           bool     `json:"enabled"`
	Mode              string   `json:"mode"`
	Source            string   `json:"source"`
	RuntimeReportPath string   `json:"runtime_report_path"`
	Available         bool     `json:"available"`
	EntryCount        int      `json:"entry_count"`
	Error             string   `json:"error,omitempty"`
	Warnings          []string `json:"warnings"`
}

type rawEntry struct {
	Path       string `json:"path"`
	DocPath    string `json:"doc_path"`
	EntryID    any    `json:"entry_id"`
	SectionID  string `json:"section_id"`
	ClaimID    string `json:"claim_id"`
	ActionType string `json:"action_type"`
	Status     any    `json:"status"`
	Slots      any    `json:"slots"`
	Content    any    `json:"content"`
	Statement  any    `json:"statement"`
	Citations  any    `json:"citations"`
	RiskNotes  any    `json:"risk_notes"`
	Sources    any    `json:"source_paths"`
	Targets    any    `json:"target_paths"`
	IndexLinks any    `json:"index_links"`
	Evidence   any    `json:"evidence_map"`
	SplitOut   any    `json:"split_outputs"`
}

func normalizeStringList(value any, normalizePaths bool) []string {
	list, ok := value.([]any)
	if !ok {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if normalizePaths {
			s = policy.NormalizeRel(s)
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func normalizeSplitOutputs(value any, entryIndex int) ([]SplitOutput, []string) {
	var warnings []string
	if value == nil {
		return nil, nil
	}
	list, ok := value.([]any)
	if !ok {
		return nil, []string{fmt.Sprintf("entry[%d] split_outputs ignored: expected list", entryIndex)}
	}
	var outputs []SplitOutput
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("entry[%d] split_outputs[%d] ignored: expected object", entryIndex, i))
			continue
		}
		p, _ := m["path"].(string)
		content, _ := m["content"].(string)
		if strings.TrimSpace(p) == "" {
			warnings = append(warnings, fmt.Sprintf("entry[%d] split_outputs[%d] ignored: missing path", entryIndex, i))
			continue
		}
		if strings.TrimSpace(content) == "" {
			warnings = append(warnings, fmt.Sprintf("entry[%d] split_outputs[%d] ignored: missing content", entryIndex, i))
			continue
		}
		out := SplitOutput{
			Path:    policy.NormalizeRel(p),
			Content: strings.TrimSpace(content),
		}
		if title, ok := m["title"].(string); ok && strings.TrimSpace(title) != "" {
			out.Title = strings.TrimSpace(title)
		}
		out.SourcePaths = normalizeStringList(m["source_paths"], true)
		outputs = append(outputs, out)
	}
	return outputs, warnings
}

func normalizeEntry(raw rawEntry, entryIndex, maxChars int) (*Entry, []string) {
	var warnings []string

	p := strings.TrimSpace(raw.Path)
	if p == "" {
		p = strings.TrimSpace(raw.DocPath)
	}
	if p == "" {
		return nil, []string{fmt.Sprintf("entry[%d] missing path/doc_path", entryIndex)}
	}
	normalized := policy.NormalizeRel(p)
	if normalized == "" || normalized == "." {
		return nil, []string{fmt.Sprintf("entry[%d] path invalid", entryIndex)}
	}

	entry := &Entry{Path: normalized}
	if raw.EntryID != nil {
		entry.EntryID = fmt.Sprintf("%v", raw.EntryID)
	}
	if entry.EntryID == "" {
		entry.EntryID = fmt.Sprintf("runtime-%04d", entryIndex)
	}
	entry.SectionID = strings.TrimSpace(raw.SectionID)
	entry.ClaimID = strings.TrimSpace(raw.ClaimID)
	entry.ActionType = strings.TrimSpace(raw.ActionType)

	status := EntryStatusOK
	if s, ok := raw.Status.(string); ok && strings.TrimSpace(s) != "" {
		status = strings.TrimSpace(s)
	}
	if status != EntryStatusOK && status != EntryStatusManualReview {
		warnings = append(warnings, fmt.Sprintf(
			"entry[%d] status unsupported: %s; fallback to manual_review", entryIndex, status))
		status = EntryStatusManualReview
	}
	entry.Status = status

	if raw.Slots != nil {
		slotsMap, ok := raw.Slots.(map[string]any)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("entry[%d] slots ignored: expected object", entryIndex))
		} else {
			if summaryRaw, present := slotsMap["summary"]; present {
				if s, ok := summaryRaw.(string); ok && strings.TrimSpace(s) != "" {
					entry.Slots.Summary = strings.TrimSpace(s)
				} else {
					warnings = append(warnings, fmt.Sprintf(
						"entry[%d] slots.summary ignored: expected non-empty string", entryIndex))
				}
			}
			if factsRaw, present := slotsMap["key_facts"]; present {
				if facts := normalizeStringList(factsRaw, false); len(facts) > 0 {
					entry.Slots.KeyFacts = facts
				} else {
					warnings = append(warnings, fmt.Sprintf(
						"entry[%d] slots.key_facts ignored: empty or invalid list", entryIndex))
				}
			}
			if stepsRaw, present := slotsMap["next_steps"]; present {
				if steps := normalizeStringList(stepsRaw, false); len(steps) > 0 {
					entry.Slots.NextSteps = steps
				} else {
					warnings = append(warnings, fmt.Sprintf(
						"entry[%d] slots.next_steps ignored: empty or invalid list", entryIndex))
				}
			}
		}
	}

	splitOutputs, splitWarnings := normalizeSplitOutputs(raw.SplitOut, entryIndex)
	warnings = append(warnings, splitWarnings...)

	if raw.Content == nil && raw.Statement == nil && entry.Slots.Empty() && len(splitOutputs) == 0 {
		return nil, []string{fmt.Sprintf("entry[%d] requires content or statement or slots", entryIndex)}
	}

	var content string
	if raw.Content != nil {
		s, ok := raw.Content.(string)
		if !ok {
			return nil, []string{fmt.Sprintf("entry[%d] content must be string", entryIndex)}
		}
		content = s
		if len(content) > maxChars {
			warnings = append(warnings, fmt.Sprintf(
				"entry[%d] content exceeds max_output_chars_per_section; truncated", entryIndex))
			content = content[:maxChars]
		}
	}

	var statement string
	if raw.Statement != nil {
		s, ok := raw.Statement.(string)
		if !ok {
			return nil, []string{fmt.Sprintf("entry[%d] statement must be string", entryIndex)}
		}
		statement = strings.TrimSpace(s)
		if len(statement) > maxChars {
			warnings = append(warnings, fmt.Sprintf(
				"entry[%d] statement exceeds max_output_chars_per_section; truncated", entryIndex))
			statement = statement[:maxChars]
		}
	}

	if entry.ActionType == "fill_claim" && statement == "" && strings.TrimSpace(content) != "" {
		statement = strings.TrimSpace(content)
		warnings = append(warnings, fmt.Sprintf(
			"entry[%d] fill_claim missing statement; fallback to content", entryIndex))
	}
	if content == "" && statement != "" {
		content = statement
	}
	entry.Content = content
	entry.Statement = statement

	entry.Citations = normalizeStringList(raw.Citations, false)
	entry.RiskNotes = normalizeStringList(raw.RiskNotes, false)
	entry.SourcePaths = normalizeStringList(raw.Sources, true)
	entry.TargetPaths = normalizeStringList(raw.Targets, true)
	entry.IndexLinks = normalizeStringList(raw.IndexLinks, true)

	if raw.Evidence != nil {
		m, ok := raw.Evidence.(map[string]any)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("entry[%d] evidence_map ignored: expected object", entryIndex))
		} else {
			normalized := map[string][]string{}
			for source, evidence := range m {
				if strings.TrimSpace(source) == "" {
					continue
				}
				normalized[policy.NormalizeRel(source)] = normalizeStringList(evidence, false)
			}
			if len(normalized) > 0 {
				entry.EvidenceMap = normalized
			}
		}
	}
	entry.SplitOut = splitOutputs

	return entry, warnings
}

// LoadReport reads the runtime semantic report and normalizes its
// entries against the generation settings.
func LoadReport(root string, cfg policy.SemanticGeneration) ([]Entry, ReportMeta) {
	rel := policy.NormalizeRel(cfg.RuntimeReportPath)
	meta := ReportMeta{
		Enabled:           cfg.Enabled,
		Mode:              cfg.Mode,
		Source:            cfg.Source,
		RuntimeReportPath: rel,
		Warnings:          []string{},
	}
	if !cfg.Enabled {
		return nil, meta
	}
	if rel == "" || rel == "." {
		meta.Error = "runtime_report_path is empty"
		return nil, meta
	}

	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		if os.IsNotExist(err) {
			meta.Error = "runtime report not found: " + rel
		} else {
			meta.Error = fmt.Sprintf("runtime report unreadable: %v", err)
		}
		return nil, meta
	}

	var payload struct {
		Entries json.RawMessage `json:"entries"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		meta.Error = fmt.Sprintf("runtime report unreadable: %v", err)
		return nil, meta
	}
	if len(payload.Entries) == 0 {
		meta.Error = "runtime report entries must be list"
		return nil, meta
	}
	var rawItems []json.RawMessage
	if err := json.Unmarshal(payload.Entries, &rawItems); err != nil {
		meta.Error = "runtime report entries must be list"
		return nil, meta
	}

	maxChars := cfg.MaxOutputCharsPerSection
	if maxChars <= 0 {
		maxChars = 4000
	}
	var entries []Entry
	for i, item := range rawItems {
		var raw rawEntry
		if err := json.Unmarshal(item, &raw); err != nil {
			meta.Warnings = append(meta.Warnings, fmt.Sprintf("entry[%d] ignored: entry must be object", i))
			continue
		}
		entry, warnings := normalizeEntry(raw, i, maxChars)
		meta.Warnings = append(meta.Warnings, warnings...)
		if entry != nil {
			entries = append(entries, *entry)
		}
	}
	meta.Available = true
	meta.EntryCount = len(entries)
	return entries, meta
}

// ShouldAttempt reports whether runtime semantics apply to an action
// type under the generation settings.
func ShouldAttempt(actionType string, cfg policy.SemanticGeneration) bool {
	if !cfg.Enabled || cfg.Mode == policy.SemanticModeDeterministic || !cfg.PreferAgentFirst {
		return false
	}
	return cfg.Actions[actionType]
}

// AttemptRequired reports whether a runtime attempt must be recorded
// for the action type before any fallback.
func AttemptRequired(actionType string, cfg policy.SemanticGeneration) bool {
	if !cfg.Enabled || cfg.Mode == policy.SemanticModeDeterministic || !cfg.Actions[actionType] {
		return false
	}
	return cfg.RequireSemanticAttempt
}

// matchFieldScore compares an optional action field against an entry
// field. A nil result disqualifies the entry.
func matchFieldScore(actionValue, entryValue string, weight int) (int, bool) {
	if actionValue != "" {
		if entryValue != "" {
			if entryValue != actionValue {
				return 0, false
			}
			return weight, true
		}
		return 1, true
	}
	if entryValue != "" {
		return -1, true
	}
	return 0, true
}

// SelectEntry picks the best runtime entry for an action, preferring
// exact action/section/claim matches and ok status.
func SelectEntry(actionType, path, sectionID, claimID string, entries []Entry, cfg policy.SemanticGeneration) *Entry {
	if !ShouldAttempt(actionType, cfg) {
		return nil
	}
	path = policy.NormalizeRel(path)
	if path == "" || path == "." {
		return nil
	}

	bestScore := 0
	var best *Entry
	found := false
	for i := range entries {
		entry := &entries[i]
		if entry.Path != path {
			continue
		}
		actionScore := 1
		if entry.ActionType != "" {
			if entry.ActionType != actionType {
				continue
			}
			actionScore = 8
		}
		sectionScore, ok := matchFieldScore(sectionID, entry.SectionID, 4)
		if !ok {
			continue
		}
		claimScore, ok := matchFieldScore(claimID, entry.ClaimID, 4)
		if !ok {
			continue
		}
		statusScore := 0
		if entry.Status == EntryStatusOK {
			statusScore = 2
		}
		score := actionScore + sectionScore + claimScore + statusScore
		if !found || score > bestScore {
			bestScore = score
			best = entry
			found = true
		}
	}
	if best == nil {
		return nil
	}
	copied := *best
	return &copied
}
