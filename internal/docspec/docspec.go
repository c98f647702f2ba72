// Package docspec loads and validates the claim specification that
// binds document sections to evidence-backed statements.
package docspec

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"docgarden/internal/policy"
)

// Claim is one evidence-backed statement slot.
type Claim struct {
	ClaimID               string   `json:"claim_id"`
	StatementTemplate     string   `json:"statement_template"`
	RequiredEvidenceTypes []string `json:"required_evidence_types"`
	AllowUnknown          *bool    `json:"allow_unknown"`
}

// Section groups claims under a stable section identifier.
type Section struct {
	SectionID string  `json:"section_id"`
	Claims    []Claim `json:"claims"`
}

// Document binds a docs path to its sections and ordering contract.
type Document struct {
	Path             string    `json:"path"`
	RequiredSections []string  `json:"required_sections"`
	RenderOrder      []string  `json:"render_order"`
	Sections         []Section `json:"sections"`
}

// Spec is the full claim specification document.
type Spec struct {
	Version   int        `json:"version"`
	Documents []Document `json:"documents"`
}

// Validate checks the spec's structural invariants and returns the
// errors and warnings found.
func Validate(spec *Spec) ([]string, []string) {
	var errors, warnings []string

	if spec.Version <= 0 {
		errors = append(errors, "version must be positive")
	}
	if len(spec.Documents) == 0 {
		errors = append(errors, "documents must be non-empty list")
		return errors, warnings
	}

	seenPaths := map[string]bool{}
	for di, doc := range spec.Documents {
		docLabel := fmt.Sprintf("documents[%d]", di)

		path := strings.TrimSpace(doc.Path)
		if path == "" {
			errors = append(errors, docLabel+".path must be non-empty string")
		} else {
			normalized := policy.NormalizeRel(path)
			if normalized != path {
				errors = append(errors, fmt.Sprintf("%s.path must be POSIX style: %s", docLabel, path))
			}
			if seenPaths[normalized] {
				errors = append(errors, fmt.Sprintf("%s.path duplicated: %s", docLabel, normalized))
			}
			seenPaths[normalized] = true
		}

		if len(doc.Sections) == 0 {
			errors = append(errors, docLabel+".sections must be non-empty list")
			continue
		}

		sectionIDs := map[string]bool{}
		docClaimIDs := map[string]bool{}
		for si, section := range doc.Sections {
			secLabel := fmt.Sprintf("%s.sections[%d]", docLabel, si)

			sectionID := strings.TrimSpace(section.SectionID)
			if sectionID == "" {
				errors = append(errors, secLabel+".section_id must be non-empty string")
			} else {
				if sectionIDs[sectionID] {
					errors = append(errors, fmt.Sprintf("%s.section_id duplicated: %s", secLabel, sectionID))
				}
				sectionIDs[sectionID] = true
			}

			if len(section.Claims) == 0 {
				errors = append(errors, secLabel+".claims must be non-empty list")
				continue
			}

			claimIDs := map[string]bool{}
			for ci, claim := range section.Claims {
				claimLabel := fmt.Sprintf("%s.claims[%d]", secLabel, ci)

				claimID := strings.TrimSpace(claim.ClaimID)
				if claimID == "" {
					errors = append(errors, claimLabel+".claim_id must be non-empty string")
				} else {
					if claimIDs[claimID] {
						errors = append(errors, fmt.Sprintf("%s.claim_id duplicated in section: %s", claimLabel, claimID))
					}
					if docClaimIDs[claimID] {
						errors = append(errors, fmt.Sprintf("%s.claim_id duplicated in document: %s", claimLabel, claimID))
					}
					claimIDs[claimID] = true
					docClaimIDs[claimID] = true
				}

				if strings.TrimSpace(claim.StatementTemplate) == "" {
					errors = append(errors, claimLabel+".statement_template must be non-empty string")
				}
				types := nonEmpty(claim.RequiredEvidenceTypes)
				if len(types) == 0 {
					errors = append(errors, claimLabel+".required_evidence_types must be non-empty")
				}
				if claim.AllowUnknown == nil {
					errors = append(errors, claimLabel+".allow_unknown must be boolean")
				}
			}
		}

		if missing := missingFrom(doc.RequiredSections, sectionIDs); len(missing) > 0 {
			errors = append(errors, fmt.Sprintf("%s.required_sections missing definitions: %s",
				docLabel, strings.Join(missing, ", ")))
		}
		if missing := missingFrom(doc.RenderOrder, sectionIDs); len(missing) > 0 {
			errors = append(errors, fmt.Sprintf("%s.render_order missing sections: %s",
				docLabel, strings.Join(missing, ", ")))
		}
	}
	return errors, warnings
}

// Load reads and validates the spec at path. A missing file returns a
// nil spec with no errors.
func Load(path string) (*Spec, []string, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil, nil
		}
		return nil, nil, nil, fmt.Errorf("reading doc spec: %w", err)
	}
	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, nil, nil, fmt.Errorf("parsing doc spec: %w", err)
	}
	errors, warnings := Validate(&spec)
	return &spec, errors, warnings, nil
}

// Document returns the spec entry for a normalized docs path.
func (s *Spec) Document(rel string) (Document, bool) {
	if s == nil {
		return Document{}, false
	}
	rel = policy.NormalizeRel(rel)
	for _, doc := range s.Documents {
		if policy.NormalizeRel(doc.Path) == rel {
			return doc, true
		}
	}
	return Document{}, false
}

// AllowsUnknown reports the claim's tolerance for unresolved evidence.
func (c Claim) AllowsUnknown() bool {
	return c.AllowUnknown != nil && *c.AllowUnknown
}

func nonEmpty(items []string) []string {
	var out []string
	for _, v := range items {
		if strings.TrimSpace(v) != "" {
			out = append(out, strings.TrimSpace(v))
		}
	}
	return out
}

func missingFrom(wanted []string, defined map[string]bool) []string {
	var out []string
	for _, w := range nonEmpty(wanted) {
		if !defined[w] {
			out = append(out, w)
		}
	}
	return out
}
