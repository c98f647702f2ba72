// Package metadata manages the ownership/review metadata block carried
// by managed markdown documents as HTML comments.
package metadata

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"docgarden/internal/policy"
)

// Metadata keys, in block order.
const (
	KeyOwner           = "doc-owner"
	KeyLastReviewed    = "doc-last-reviewed"
	KeyReviewCycleDays = "doc-review-cycle-days"
)

var keys = []string{KeyOwner, KeyLastReviewed, KeyReviewCycleDays}

var (
	linePatterns = func() map[string]*regexp.Regexp {
		out := make(map[string]*regexp.Regexp, len(keys))
		for _, key := range keys {
			out[key] = regexp.MustCompile(`(?m)^\s*<!--\s*` + regexp.QuoteMeta(key) + `\s*:\s*(.*?)\s*-->\s*$`)
		}
		return out
	}()
	linePrefix = regexp.MustCompile(`^\s*<!--\s*doc-(?:owner|last-reviewed|review-cycle-days)\s*:.*?-->\s*$`)
)

// Evaluation is the metadata health of one document.
type Evaluation struct {
	Path    string            `json:"path"`
	Values  map[string]string `json:"values"`
	Missing []string          `json:"missing"`
	Invalid []string          `json:"invalid"`
	Stale   bool              `json:"stale"`
	AgeDays int               `json:"age_days"`
	HasAge  bool              `json:"-"`
}

// ShouldEnforce reports whether rel is subject to metadata checks:
// markdown under docs/ and not matched by an ignore glob.
func ShouldEnforce(rel string, cfg policy.Metadata) bool {
	rel = policy.NormalizeRel(rel)
	if !cfg.Enabled {
		return false
	}
	if !strings.HasPrefix(rel, "docs/") || !strings.HasSuffix(rel, ".md") {
		return false
	}
	for _, pattern := range cfg.IgnorePaths {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return false
		}
	}
	return true
}

// Extract pulls the metadata values out of a document.
func Extract(text string) map[string]string {
	values := make(map[string]string)
	for key, pattern := range linePatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			values[key] = strings.TrimSpace(m[1])
		}
	}
	return values
}

// Evaluate checks a document's metadata block against policy as of ref.
func Evaluate(rel, text string, cfg policy.Metadata, ref time.Time) Evaluation {
	values := Extract(text)
	eval := Evaluation{
		Path:   policy.NormalizeRel(rel),
		Values: values,
	}

	owner := values[KeyOwner]
	lastReviewed := values[KeyLastReviewed]
	cycleRaw := values[KeyReviewCycleDays]

	if cfg.RequireOwner && owner == "" {
		eval.Missing = append(eval.Missing, KeyOwner)
	}
	if cfg.RequireLastReviewed {
		switch {
		case lastReviewed == "":
			eval.Missing = append(eval.Missing, KeyLastReviewed)
		case !validISODate(lastReviewed):
			eval.Invalid = append(eval.Invalid, KeyLastReviewed)
		}
	}
	cycle, cycleOK := parsePositiveInt(cycleRaw)
	if cfg.RequireReviewCycleDays {
		switch {
		case cycleRaw == "":
			eval.Missing = append(eval.Missing, KeyReviewCycleDays)
		case !cycleOK:
			eval.Invalid = append(eval.Invalid, KeyReviewCycleDays)
		}
	}

	if cfg.StaleWarningEnabled && lastReviewed != "" && validISODate(lastReviewed) {
		reviewed, _ := time.Parse("2006-01-02", lastReviewed)
		days := int(ref.Sub(reviewed).Hours() / 24)
		eval.AgeDays = days
		eval.HasAge = true
		effectiveCycle := cycle
		if !cycleOK {
			effectiveCycle = cfg.DefaultReviewCycleDays
		}
		if days > effectiveCycle {
			eval.Stale = true
		}
	}
	return eval
}

// BuildBlock renders a fresh metadata block from policy defaults.
func BuildBlock(cfg policy.Metadata, ref time.Time) string {
	return strings.Join([]string{
		fmt.Sprintf("<!-- %s: %s -->", KeyOwner, cfg.DefaultOwner),
		fmt.Sprintf("<!-- %s: %s -->", KeyLastReviewed, ref.Format("2006-01-02")),
		fmt.Sprintf("<!-- %s: %d -->", KeyReviewCycleDays, cfg.DefaultReviewCycleDays),
	}, "\n")
}

// EnsureBlock rewrites text so it starts with a complete metadata block,
// keeping any valid existing values. Returns the updated text and
// whether it changed.
func EnsureBlock(text string, cfg policy.Metadata, ref time.Time) (string, bool) {
	values := Extract(text)

	owner := values[KeyOwner]
	if owner == "" {
		owner = cfg.DefaultOwner
	}
	lastReviewed := values[KeyLastReviewed]
	if lastReviewed == "" || !validISODate(lastReviewed) {
		lastReviewed = ref.Format("2006-01-02")
	}
	cycle, ok := parsePositiveInt(values[KeyReviewCycleDays])
	if !ok {
		cycle = cfg.DefaultReviewCycleDays
	}

	block := strings.Join([]string{
		fmt.Sprintf("<!-- %s: %s -->", KeyOwner, owner),
		fmt.Sprintf("<!-- %s: %s -->", KeyLastReviewed, lastReviewed),
		fmt.Sprintf("<!-- %s: %d -->", KeyReviewCycleDays, cycle),
	}, "\n")

	body := stripMetadataLines(text)
	var updated string
	if body != "" {
		updated = block + "\n\n" + body + "\n"
	} else {
		updated = block + "\n"
	}
	return updated, updated != text
}

func stripMetadataLines(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if linePrefix.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Trim(strings.Join(kept, "\n"), "\n")
}

func validISODate(v string) bool {
	_, err := time.Parse("2006-01-02", v)
	return err == nil
}

func parsePositiveInt(v string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
