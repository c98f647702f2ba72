package semantic

import (
	"math"
	"strings"

	"docgarden/internal/policy"
)

// Quality decisions for a graded runtime entry.
const (
	QualityConsume      = "consume"
	QualityFallback     = "fallback"
	QualityManualReview = "manual_review"
	QualityBlock        = "block"
)

// Quality summarizes how trustworthy a runtime entry is. Grades A and B
// are consumed directly, C falls back to the deterministic template when
// allowed, and D is blocked outright. A manual_review entry status
// always routes to manual review regardless of score.
type Quality struct {
	Grade          string   `json:"grade"`
	Score          float64  `json:"score"`
	Decision       string   `json:"decision"`
	DecisionReason string   `json:"decision_reason"`
	Findings       []string `json:"findings,omitempty"`
}

// ValidCitationToken reports whether a citation token is usable: non-empty
// after trimming and free of whitespace.
func ValidCitationToken(token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	return !strings.ContainsAny(token, " \t\r\n")
}

// CitationPrefixAllowed reports whether the token starts with one of the
// allowed evidence prefixes. An empty prefix list allows everything.
func CitationPrefixAllowed(token string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(token, prefix) {
			return true
		}
	}
	return false
}

// GradeEntry scores a runtime entry against the generation settings and
// derives the consume/fallback/manual_review/block decision.
func GradeEntry(entry *Entry, cfg policy.SemanticGeneration) Quality {
	score := 1.0
	var findings []string

	penalize := func(finding string, penalty float64) {
		findings = append(findings, finding)
		score -= penalty
	}

	if entry.Status != EntryStatusOK {
		penalize("status_not_ok", 0.45)
	}
	hasPayload := strings.TrimSpace(entry.Content) != "" ||
		strings.TrimSpace(entry.Statement) != "" ||
		!entry.Slots.Empty() ||
		len(entry.SplitOut) > 0
	if !hasPayload {
		penalize("missing_content", 0.5)
	}
	if len(entry.Citations) == 0 {
		penalize("missing_citations", 0.3)
	} else {
		invalidToken := false
		badPrefix := false
		for _, citation := range entry.Citations {
			if !ValidCitationToken(citation) {
				invalidToken = true
				continue
			}
			if !CitationPrefixAllowed(citation, cfg.RequiredEvidencePrefixes) {
				badPrefix = true
			}
		}
		if invalidToken {
			penalize("invalid_citation_token", 0.15)
		}
		if badPrefix {
			penalize("citation_prefix_not_allowed", 0.2)
		}
	}
	if cfg.MaxOutputCharsPerSection > 0 && len(entry.Content) > cfg.MaxOutputCharsPerSection {
		penalize("content_over_budget", 0.1)
	}

	score = math.Round(math.Max(0, math.Min(1, score))*100) / 100

	grade := "D"
	switch {
	case score >= 0.9:
		grade = "A"
	case score >= 0.75:
		grade = "B"
	case score >= 0.5:
		grade = "C"
	}

	q := Quality{Grade: grade, Score: score, Findings: findings}
	switch {
	case entry.Status == EntryStatusManualReview:
		q.Decision = QualityManualReview
		q.DecisionReason = "runtime_status_manual_review"
	case grade == "A" || grade == "B":
		q.Decision = QualityConsume
		q.DecisionReason = "quality_grade_pass"
	case grade == "C":
		q.Decision = QualityFallback
		q.DecisionReason = "quality_grade_c"
	default:
		q.Decision = QualityBlock
		q.DecisionReason = "quality_grade_d"
	}
	return q
}
