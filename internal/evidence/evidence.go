// Package evidence resolves claim evidence against repository facts and
// runbook command sections, producing the evidence map.
package evidence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"docgarden/internal/docspec"
	"docgarden/internal/doctpl"
	"docgarden/internal/facts"
)

// Claim resolution statuses.
const (
	StatusSupported = "supported"
	StatusUnknown   = "unknown"
	StatusMissing   = "missing"
)

// Item is one resolved evidence binding.
type Item struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// ClaimEntry is the resolved state of a single claim.
type ClaimEntry struct {
	ClaimID               string   `json:"claim_id"`
	Status                string   `json:"status"`
	Statement             string   `json:"statement"`
	StatementTemplate     string   `json:"statement_template"`
	RequiredEvidenceTypes []string `json:"required_evidence_types"`
	MissingEvidenceTypes  []string `json:"missing_evidence_types"`
	AllowUnknown          bool     `json:"allow_unknown"`
	Evidence              []Item   `json:"evidence"`
	Citations             []string `json:"citations"`
	Citation              string   `json:"citation,omitempty"`
}

// SectionEntry groups resolved claims per spec section.
type SectionEntry struct {
	SectionID string       `json:"section_id"`
	Claims    []ClaimEntry `json:"claims"`
}

// DocumentEntry groups resolved sections per spec document.
type DocumentEntry struct {
	Path     string         `json:"path"`
	Sections []SectionEntry `json:"sections"`
}

// Metrics counts claim outcomes across the whole map.
type Metrics struct {
	Claims    int `json:"claims"`
	Supported int `json:"supported"`
	Unknown   int `json:"unknown"`
	Missing   int `json:"missing"`
}

// Map is the full evidence resolution output.
type Map struct {
	GeneratedAt string          `json:"generated_at"`
	Metrics     Metrics         `json:"metrics"`
	Documents   []DocumentEntry `json:"documents"`
}

// Source resolves the keys of one evidence-type family. The returned
// bool reports whether the key is known to the source at all; an empty
// value for a known key is returned as (value, true).
type Source interface {
	Resolve(key string) (any, bool)
}

// repoScanSource serves repo_scan.* keys from the facts snapshot.
type repoScanSource struct {
	facts *facts.Snapshot
}

func (s *repoScanSource) Resolve(key string) (any, bool) {
	if s.facts == nil {
		return nil, false
	}
	return s.facts.Lookup(key)
}

// runbookSource serves runbook.<section> keys by extracting fenced
// shell commands from docs/runbook.md.
type runbookSource struct {
	root  string
	cache map[string][]string
}

func (s *runbookSource) Resolve(sectionID string) (any, bool) {
	allowed := false
	for _, id := range doctpl.CommandSections {
		if id == sectionID {
			allowed = true
		}
	}
	if !allowed {
		return nil, false
	}
	if cached, ok := s.cache[sectionID]; ok {
		return cached, true
	}
	commands := s.commands(sectionID)
	s.cache[sectionID] = commands
	return commands, true
}

// Resolver dispatches evidence types to the Source registered for
// their prefix.
type Resolver struct {
	sources map[string]Source
}

// NewResolver builds a resolver rooted at the repository. facts may be
// nil when no scan has run.
func NewResolver(root string, snap *facts.Snapshot) *Resolver {
	return &Resolver{
		sources: map[string]Source{
			"repo_scan": &repoScanSource{facts: snap},
			"runbook":   &runbookSource{root: root, cache: map[string][]string{}},
		},
	}
}

// Resolve returns the value bound to an evidence type, or nil when the
// type is unknown or its source is empty.
func (r *Resolver) Resolve(evidenceType string) any {
	prefix, key, ok := strings.Cut(evidenceType, ".")
	if !ok {
		return nil
	}
	source, ok := r.sources[prefix]
	if !ok {
		return nil
	}
	value, ok := source.Resolve(key)
	if !ok {
		return nil
	}
	return value
}

var headingPattern = regexp.MustCompile(`^##\s+`)

// commands extracts the fenced shell commands under a runbook section,
// in order, deduplicated.
func (s *runbookSource) commands(sectionID string) []string {
	data, err := os.ReadFile(filepath.Join(s.root, "docs", "runbook.md"))
	if err != nil {
		return nil
	}
	markers := map[string]bool{}
	for _, m := range doctpl.SectionMarkers("docs/runbook.md", sectionID) {
		if strings.TrimSpace(m) != "" {
			markers[strings.TrimSpace(m)] = true
		}
	}
	if len(markers) == 0 {
		return nil
	}

	lines := strings.Split(string(data), "\n")
	start, end := -1, len(lines)
	for i, line := range lines {
		stripped := strings.TrimSpace(line)
		if start < 0 && markers[stripped] {
			start = i + 1
			continue
		}
		if start >= 0 && headingPattern.MatchString(stripped) {
			end = i
			break
		}
	}
	if start < 0 {
		return nil
	}

	var commands []string
	seen := map[string]bool{}
	inBlock := false
	for _, line := range lines[start:end] {
		stripped := strings.TrimSpace(line)
		if strings.HasPrefix(stripped, "```") {
			if inBlock {
				inBlock = false
			} else {
				lang := strings.ToLower(strings.TrimSpace(stripped[3:]))
				inBlock = lang == "" || lang == "bash" || lang == "sh" || lang == "zsh"
			}
			continue
		}
		if !inBlock || stripped == "" || strings.HasPrefix(stripped, "#") {
			continue
		}
		if seen[stripped] {
			continue
		}
		seen[stripped] = true
		commands = append(commands, stripped)
	}
	return commands
}

// IsEmpty reports whether a resolved value carries no evidence.
func IsEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []string:
		return len(v) == 0
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return false
}

// Summarize renders a resolved value as a short inline statement value.
func Summarize(value any) string {
	switch v := value.(type) {
	case nil:
		return "UNKNOWN"
	case map[string]any:
		if len(v) == 0 {
			return "UNKNOWN"
		}
		allBool := true
		for _, item := range v {
			if _, ok := item.(bool); !ok {
				allBool = false
				break
			}
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if allBool {
			var on []string
			for _, k := range keys {
				if v[k].(bool) {
					on = append(on, k)
				}
			}
			if len(on) == 0 {
				return "none"
			}
			return strings.Join(on, ", ")
		}
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s:%v", k, v[k]))
		}
		return strings.Join(parts, ", ")
	case []string:
		if len(v) == 0 {
			return "UNKNOWN"
		}
		return strings.Join(v, ", ")
	case []any:
		if len(v) == 0 {
			return "UNKNOWN"
		}
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprintf("%v", item))
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprintf("%v", value)
}

// CitationToken builds the stable citation URI for an evidence type.
func CitationToken(evidenceType string) string {
	return "evidence://" + evidenceType
}

var templateField = regexp.MustCompile(`\{[^{}]*\}`)

// RenderStatement substitutes every template field with value. A
// template without fields is returned unchanged.
func RenderStatement(template, value string) string {
	if template == "" {
		return value
	}
	if !templateField.MatchString(template) {
		return template
	}
	return templateField.ReplaceAllString(template, value)
}

// ResolveClaim evaluates one claim against the resolver's sources.
func (r *Resolver) ResolveClaim(claim docspec.Claim) ClaimEntry {
	var missing []string
	var items []Item
	for _, evidenceType := range claim.RequiredEvidenceTypes {
		value := r.Resolve(evidenceType)
		if IsEmpty(value) {
			missing = append(missing, evidenceType)
		} else {
			items = append(items, Item{Type: evidenceType, Value: value})
		}
	}

	allowUnknown := claim.AllowsUnknown()
	var status, statement string
	if len(missing) > 0 {
		if allowUnknown {
			status = StatusUnknown
			statement = RenderStatement(claim.StatementTemplate, "UNKNOWN")
		} else {
			status = StatusMissing
			statement = RenderStatement(claim.StatementTemplate, "TODO")
		}
	} else {
		status = StatusSupported
		summary := "UNKNOWN"
		if len(items) > 0 {
			summary = Summarize(items[0].Value)
		}
		statement = RenderStatement(claim.StatementTemplate, summary)
	}

	var citations []string
	seen := map[string]bool{}
	for _, item := range items {
		token := CitationToken(item.Type)
		if seen[token] {
			continue
		}
		seen[token] = true
		citations = append(citations, token)
	}
	entry := ClaimEntry{
		ClaimID:               claim.ClaimID,
		Status:                status,
		Statement:             statement,
		StatementTemplate:     claim.StatementTemplate,
		RequiredEvidenceTypes: claim.RequiredEvidenceTypes,
		MissingEvidenceTypes:  missing,
		AllowUnknown:          allowUnknown,
		Evidence:              items,
		Citations:             citations,
	}
	if len(citations) > 0 {
		entry.Citation = citations[0]
	}
	return entry
}

// Build resolves every claim in the spec into an evidence map. A nil
// spec yields an empty map.
func Build(r *Resolver, spec *docspec.Spec, generatedAt string) *Map {
	out := &Map{GeneratedAt: generatedAt, Documents: []DocumentEntry{}}
	if spec == nil {
		return out
	}
	for _, doc := range spec.Documents {
		if strings.TrimSpace(doc.Path) == "" || len(doc.Sections) == 0 {
			continue
		}
		docEntry := DocumentEntry{Path: strings.TrimSpace(doc.Path)}
		for _, section := range doc.Sections {
			if strings.TrimSpace(section.SectionID) == "" || len(section.Claims) == 0 {
				continue
			}
			secEntry := SectionEntry{SectionID: strings.TrimSpace(section.SectionID)}
			for _, claim := range section.Claims {
				entry := r.ResolveClaim(claim)
				secEntry.Claims = append(secEntry.Claims, entry)
				out.Metrics.Claims++
				switch entry.Status {
				case StatusSupported:
					out.Metrics.Supported++
				case StatusUnknown:
					out.Metrics.Unknown++
				case StatusMissing:
					out.Metrics.Missing++
				}
			}
			docEntry.Sections = append(docEntry.Sections, secEntry)
		}
		out.Documents = append(out.Documents, docEntry)
	}
	return out
}

// Write persists the evidence map as indented JSON.
func (m *Map) Write(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding evidence map: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating evidence map directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing evidence map: %w", err)
	}
	return nil
}

// Load reads a previously written evidence map; missing file yields nil.
func Load(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading evidence map: %w", err)
	}
	var m Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing evidence map: %w", err)
	}
	return &m, nil
}
