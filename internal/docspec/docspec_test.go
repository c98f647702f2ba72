package docspec

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func boolPtr(v bool) *bool { return &v }

func validSpec() *Spec {
	return &Spec{
		Version: 1,
		Documents: []Document{
			{
				Path:             "docs/runbook.md",
				RequiredSections: []string{"dev_commands"},
				RenderOrder:      []string{"dev_commands"},
				Sections: []Section{
					{
						SectionID: "dev_commands",
						Claims: []Claim{
							{
								ClaimID:               "run-tests",
								StatementTemplate:     "Run {command} to execute tests.",
								RequiredEvidenceTypes: []string{"runbook.command"},
								AllowUnknown:          boolPtr(false),
							},
						},
					},
				},
			},
		},
	}
}

func TestValidateOK(t *testing.T) {
	errs, warns := Validate(validSpec())
	if len(errs) != 0 {
		t.Fatalf("errors = %v", errs)
	}
	if len(warns) != 0 {
		t.Fatalf("warnings = %v", warns)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Spec)
		wantErr string
	}{
		{
			"non-positive version",
			func(s *Spec) { s.Version = 0 },
			"version must be positive",
		},
		{
			"no documents",
			func(s *Spec) { s.Documents = nil },
			"documents must be non-empty list",
		},
		{
			"duplicate path",
			func(s *Spec) { s.Documents = append(s.Documents, s.Documents[0]) },
			"documents[1].path duplicated: docs/runbook.md",
		},
		{
			"non-posix path",
			func(s *Spec) { s.Documents[0].Path = "docs\\runbook.md" },
			"must be POSIX style",
		},
		{
			"empty sections",
			func(s *Spec) { s.Documents[0].Sections = nil },
			"documents[0].sections must be non-empty list",
		},
		{
			"duplicate claim id in document",
			func(s *Spec) {
				s.Documents[0].Sections = append(s.Documents[0].Sections, Section{
					SectionID: "other",
					Claims:    []Claim{s.Documents[0].Sections[0].Claims[0]},
				})
			},
			"claim_id duplicated in document: run-tests",
		},
		{
			"missing evidence types",
			func(s *Spec) { s.Documents[0].Sections[0].Claims[0].RequiredEvidenceTypes = nil },
			"required_evidence_types must be non-empty",
		},
		{
			"missing allow_unknown",
			func(s *Spec) { s.Documents[0].Sections[0].Claims[0].AllowUnknown = nil },
			"allow_unknown must be boolean",
		},
		{
			"required section undefined",
			func(s *Spec) { s.Documents[0].RequiredSections = []string{"ghost"} },
			"required_sections missing definitions: ghost",
		},
		{
			"render order undefined",
			func(s *Spec) { s.Documents[0].RenderOrder = []string{"ghost"} },
			"render_order missing sections: ghost",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.mutate(spec)
			errs, _ := Validate(spec)
			found := false
			for _, e := range errs {
				if strings.Contains(e, tt.wantErr) {
					found = true
				}
			}
			if !found {
				t.Errorf("errors %v missing %q", errs, tt.wantErr)
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	spec, errs, warns, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil || spec != nil || errs != nil || warns != nil {
		t.Fatalf("missing spec: %v %v %v %v", spec, errs, warns, err)
	}
}

func TestLoadAndLookup(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "spec.json")
	content := `{
  "version": 1,
  "documents": [
    {
      "path": "docs/runbook.md",
      "sections": [
        {
          "section_id": "dev_commands",
          "claims": [
            {
              "claim_id": "run-tests",
              "statement_template": "Run {command}.",
              "required_evidence_types": ["runbook.command"],
              "allow_unknown": true
            }
          ]
        }
      ]
    }
  ]
}`
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	spec, errs, _, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 0 {
		t.Fatalf("errors = %v", errs)
	}
	doc, ok := spec.Document("./docs/runbook.md")
	if !ok || doc.Path != "docs/runbook.md" {
		t.Fatalf("lookup = %+v, %v", doc, ok)
	}
	if !doc.Sections[0].Claims[0].AllowsUnknown() {
		t.Error("allow_unknown true not honored")
	}
}
