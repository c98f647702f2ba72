package metadata

import (
	"strings"
	"testing"
	"time"

	"docgarden/internal/policy"
)

func refDate(t *testing.T, v string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02", v)
	if err != nil {
		t.Fatalf("parse date %q: %v", v, err)
	}
	return ts
}

func TestShouldEnforce(t *testing.T) {
	cfg := policy.Default().Metadata
	cases := []struct {
		path string
		want bool
	}{
		{"docs/index.md", true},
		{"docs/runbook.md", true},
		{"docs/archive/old.md", false},
		{"README.md", false},
		{"docs/diagram.png", false},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			if got := ShouldEnforce(tc.path, cfg); got != tc.want {
				t.Errorf("ShouldEnforce(%q) = %v, want %v", tc.path, got, tc.want)
			}
		})
	}

	cfg.Enabled = false
	if ShouldEnforce("docs/index.md", cfg) {
		t.Error("disabled policy should not enforce")
	}
}

func TestEvaluate(t *testing.T) {
	cfg := policy.Default().Metadata
	ref := refDate(t, "2026-08-30")

	cases := []struct {
		name        string
		text        string
		wantMissing []string
		wantInvalid []string
		wantStale   bool
	}{
		{
			name: "complete and fresh",
			text: "<!-- doc-owner: docs-team -->\n<!-- doc-last-reviewed: 2026-08-01 -->\n<!-- doc-review-cycle-days: 90 -->\n\n# Doc\n",
		},
		{
			name:        "empty document",
			text:        "# Doc\n",
			wantMissing: []string{"doc-owner", "doc-last-reviewed", "doc-review-cycle-days"},
		},
		{
			name:        "invalid date and cycle",
			text:        "<!-- doc-owner: docs-team -->\n<!-- doc-last-reviewed: someday -->\n<!-- doc-review-cycle-days: -3 -->\n",
			wantInvalid: []string{"doc-last-reviewed", "doc-review-cycle-days"},
		},
		{
			name:      "stale beyond cycle",
			text:      "<!-- doc-owner: docs-team -->\n<!-- doc-last-reviewed: 2026-01-01 -->\n<!-- doc-review-cycle-days: 90 -->\n",
			wantStale: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eval := Evaluate("docs/index.md", tc.text, cfg, ref)
			if strings.Join(eval.Missing, ",") != strings.Join(tc.wantMissing, ",") {
				t.Errorf("Missing = %v, want %v", eval.Missing, tc.wantMissing)
			}
			if strings.Join(eval.Invalid, ",") != strings.Join(tc.wantInvalid, ",") {
				t.Errorf("Invalid = %v, want %v", eval.Invalid, tc.wantInvalid)
			}
			if eval.Stale != tc.wantStale {
				t.Errorf("Stale = %v, want %v", eval.Stale, tc.wantStale)
			}
		})
	}
}

func TestEvaluateAgeDays(t *testing.T) {
	cfg := policy.Default().Metadata
	eval := Evaluate("docs/index.md",
		"<!-- doc-last-reviewed: 2026-08-20 -->\n", cfg, refDate(t, "2026-08-30"))
	if !eval.HasAge {
		t.Fatal("expected age to be computed")
	}
	if eval.AgeDays != 10 {
		t.Errorf("AgeDays = %d, want 10", eval.AgeDays)
	}
}

func TestEnsureBlock(t *testing.T) {
	cfg := policy.Default().Metadata
	ref := refDate(t, "2026-08-30")

	t.Run("adds block to bare document", func(t *testing.T) {
		updated, changed := EnsureBlock("# Doc\n\nbody\n", cfg, ref)
		if !changed {
			t.Fatal("expected change")
		}
		if !strings.HasPrefix(updated, "<!-- doc-owner: TODO-owner -->\n<!-- doc-last-reviewed: 2026-08-30 -->\n<!-- doc-review-cycle-days: 90 -->\n\n# Doc") {
			t.Errorf("unexpected output:\n%s", updated)
		}
	})

	t.Run("keeps valid existing values", func(t *testing.T) {
		text := "<!-- doc-owner: platform -->\n<!-- doc-last-reviewed: 2026-07-01 -->\n<!-- doc-review-cycle-days: 30 -->\n\n# Doc\n"
		updated, changed := EnsureBlock(text, cfg, ref)
		if changed {
			t.Errorf("expected no change, got:\n%s", updated)
		}
	})

	t.Run("repairs invalid values", func(t *testing.T) {
		text := "<!-- doc-owner: platform -->\n<!-- doc-last-reviewed: whenever -->\n\n# Doc\n"
		updated, changed := EnsureBlock(text, cfg, ref)
		if !changed {
			t.Fatal("expected change")
		}
		if !strings.Contains(updated, "<!-- doc-last-reviewed: 2026-08-30 -->") {
			t.Errorf("invalid date not repaired:\n%s", updated)
		}
		if !strings.Contains(updated, "<!-- doc-owner: platform -->") {
			t.Errorf("valid owner should be kept:\n%s", updated)
		}
		if strings.Count(updated, "doc-last-reviewed") != 1 {
			t.Errorf("old metadata lines should be stripped:\n%s", updated)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		first, _ := EnsureBlock("# Doc\n", cfg, ref)
		second, changed := EnsureBlock(first, cfg, ref)
		if changed {
			t.Errorf("second pass should not change:\n%s", second)
		}
	})
}
