package apply

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"docgarden/internal/doctpl"
	"docgarden/internal/semantic"
)

// Claim bookkeeping headings per profile.
func claimTodoHeading(profile string) string {
	if doctpl.NormalizeProfile(profile) == doctpl.ProfileZhCN {
		return "### Claim 待补项"
	}
	return "### Claim Follow-ups"
}

func claimStatementHeading(profile string) string {
	if doctpl.NormalizeProfile(profile) == doctpl.ProfileZhCN {
		return "### Claim 陈述"
	}
	return "### Claim Statements"
}

func navigationHeading(profile string) string {
	if doctpl.NormalizeProfile(profile) == doctpl.ProfileZhCN {
		return "## 子级文档导航"
	}
	return "## Child Document Links"
}

func splitArtifactsHeading(profile string) string {
	if doctpl.NormalizeProfile(profile) == doctpl.ProfileZhCN {
		return "## 结构化拆分产物"
	}
	return "## Split Artifacts"
}

func sectionTodoBody(profile string) string {
	if doctpl.NormalizeProfile(profile) == doctpl.ProfileZhCN {
		return "TODO: 补充本节内容。"
	}
	return "TODO: Add section content."
}

// normalizeDoc trims trailing whitespace and guarantees a single final
// newline so rewrites stay byte-stable across runs.
func normalizeDoc(text string) string {
	return strings.TrimRight(text, " \t\r\n") + "\n"
}

// sectionExists reports whether any marker for the section appears in
// the document.
func sectionExists(text, rel, sectionID string) bool {
	for _, marker := range doctpl.SectionMarkers(rel, sectionID) {
		if marker != "" && strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// resolveSectionHeading returns the profile heading for a known managed
// section, or a generic H2 for sections outside the templates.
func resolveSectionHeading(rel, sectionID, profile string) string {
	if h := doctpl.SectionHeading(rel, sectionID, profile); h != "" {
		return h
	}
	return "## " + sectionID
}

// appendMissingSections adds every required section the document lacks
// and returns the headings that were appended.
func appendMissingSections(text, rel, profile string) (string, []string) {
	var added []string
	for _, sectionID := range doctpl.RequiredSections(rel) {
		if sectionExists(text, rel, sectionID) {
			continue
		}
		block := doctpl.SectionContent(rel, sectionID, profile)
		if block == "" {
			block = resolveSectionHeading(rel, sectionID, profile) + "\n\n" + sectionTodoBody(profile)
		}
		text = normalizeDoc(text) + "\n" + strings.TrimRight(block, "\n") + "\n"
		added = append(added, resolveSectionHeading(rel, sectionID, profile))
	}
	return text, added
}

// upsertSection guarantees the section heading exists, appending a
// scaffold with a TODO body when it does not.
func upsertSection(text, rel, sectionID, profile string) (string, bool) {
	if sectionExists(text, rel, sectionID) {
		return text, false
	}
	heading := resolveSectionHeading(rel, sectionID, profile)
	if strings.Contains(text, heading) {
		return text, false
	}
	text = normalizeDoc(text) + "\n" + heading + "\n\n" + sectionTodoBody(profile) + "\n"
	return text, true
}

// findSectionBlockRange locates [start,end) line indexes of a section
// block: the heading line through the line before the next heading.
// Fenced code blocks do not terminate the section.
func findSectionBlockRange(lines []string, rel, sectionID, profile string) (int, int, bool) {
	markers := doctpl.SectionMarkers(rel, sectionID)
	if len(markers) == 0 {
		markers = []string{resolveSectionHeading(rel, sectionID, profile)}
	}
	isMarker := func(line string) bool {
		stripped := strings.TrimSpace(line)
		for _, m := range markers {
			if m != "" && stripped == m {
				return true
			}
		}
		return false
	}
	start := -1
	for i, line := range lines {
		if isMarker(line) {
			start = i
			break
		}
	}
	if start < 0 {
		return 0, 0, false
	}
	inFence := false
	for i := start + 1; i < len(lines); i++ {
		stripped := strings.TrimSpace(lines[i])
		if strings.HasPrefix(stripped, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if strings.HasPrefix(stripped, "# ") || strings.HasPrefix(stripped, "## ") ||
			strings.HasPrefix(stripped, "### ") {
			return start, i, true
		}
	}
	return start, len(lines), true
}

// upsertSectionContent replaces the body of a section with the given
// content, creating the section first when needed.
func upsertSectionContent(text, rel, sectionID, profile, content string) string {
	text, _ = upsertSection(text, rel, sectionID, profile)
	lines := strings.Split(normalizeDoc(text), "\n")
	start, end, ok := findSectionBlockRange(lines, rel, sectionID, profile)
	contentLines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if !ok {
		heading := resolveSectionHeading(rel, sectionID, profile)
		out := append([]string{}, lines...)
		out = append(out, heading, "")
		out = append(out, contentLines...)
		return normalizeDoc(strings.Join(out, "\n"))
	}
	heading := strings.TrimSpace(lines[start])
	var out []string
	out = append(out, lines[:start]...)
	out = append(out, heading, "")
	out = append(out, contentLines...)
	out = append(out, "")
	after := lines[end:]
	for len(after) > 0 && strings.TrimSpace(after[0]) == "" {
		after = after[1:]
	}
	out = append(out, after...)
	return normalizeDoc(strings.Join(out, "\n"))
}

// claimTodoLine renders the deterministic follow-up bullet for a claim.
func claimTodoLine(claimID, sectionID string, evidenceTypes []string, profile string) string {
	types := strings.Join(evidenceTypes, ", ")
	if doctpl.NormalizeProfile(profile) == doctpl.ProfileZhCN {
		return fmt.Sprintf("- TODO(claim:%s): 为章节 `%s` 补充证据类型 `%s` 并更新相关内容。",
			claimID, sectionID, types)
	}
	return fmt.Sprintf("- TODO(claim:%s): Add evidence types `%s` for section `%s` and update the related content.",
		claimID, types, sectionID)
}

// appendUnderHeading appends a bullet below a heading, creating the
// heading block at the end of the document when absent.
func appendUnderHeading(text, heading, bullet string) string {
	text = normalizeDoc(text)
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) != heading {
			continue
		}
		insert := i + 1
		for insert < len(lines) && (strings.TrimSpace(lines[insert]) == "" ||
			strings.HasPrefix(strings.TrimSpace(lines[insert]), "- ")) {
			insert++
		}
		out := append([]string{}, lines[:insert]...)
		if insert > 0 && strings.TrimSpace(out[len(out)-1]) != "" &&
			!strings.HasPrefix(strings.TrimSpace(out[len(out)-1]), "- ") {
			out = append(out, "")
		}
		out = append(out, bullet)
		out = append(out, lines[insert:]...)
		return normalizeDoc(strings.Join(out, "\n"))
	}
	return normalizeDoc(text) + "\n" + heading + "\n\n" + bullet + "\n"
}

// upsertClaimTodo records a follow-up for a claim lacking evidence. The
// TODO token keeps the operation idempotent.
func upsertClaimTodo(text, claimID, sectionID string, evidenceTypes []string, profile string) (string, bool) {
	token := fmt.Sprintf("TODO(claim:%s)", claimID)
	if strings.Contains(text, token) {
		return text, false
	}
	line := claimTodoLine(claimID, sectionID, evidenceTypes, profile)
	return appendUnderHeading(text, claimTodoHeading(profile), line), true
}

// upsertClaimStatement writes the resolved claim statement, replacing a
// prior statement or pending TODO for the same claim.
func upsertClaimStatement(text, claimID, statement string, citations []string, profile string) (string, bool) {
	claimToken := fmt.Sprintf("CLAIM(claim:%s)", claimID)
	todoToken := fmt.Sprintf("TODO(claim:%s)", claimID)
	line := fmt.Sprintf("- %s: %s (citations: %s)", claimToken, statement, strings.Join(citations, ", "))

	lines := strings.Split(normalizeDoc(text), "\n")
	for i, existing := range lines {
		if strings.Contains(existing, claimToken) || strings.Contains(existing, todoToken) {
			if strings.TrimSpace(existing) == line {
				return text, false
			}
			lines[i] = line
			return normalizeDoc(strings.Join(lines, "\n")), true
		}
	}
	return appendUnderHeading(text, claimStatementHeading(profile), line), true
}

// renderSlotsContent renders progressive-disclosure slots as a section
// body: summary, key facts, then numbered next steps.
func renderSlotsContent(slots semantic.Slots, profile string) string {
	zh := doctpl.NormalizeProfile(profile) == doctpl.ProfileZhCN
	heading := func(en, zhText string) string {
		if zh {
			return zhText
		}
		return en
	}
	var blocks []string
	if slots.Summary != "" {
		blocks = append(blocks, heading("### Summary", "### 摘要")+"\n\n"+slots.Summary)
	}
	if len(slots.KeyFacts) > 0 {
		var b strings.Builder
		b.WriteString(heading("### Key Facts", "### 关键事实") + "\n")
		for _, fact := range slots.KeyFacts {
			b.WriteString("\n- " + fact)
		}
		blocks = append(blocks, b.String())
	}
	if len(slots.NextSteps) > 0 {
		var b strings.Builder
		b.WriteString(heading("### Next Steps", "### 下一步") + "\n")
		for i, step := range slots.NextSteps {
			b.WriteString(fmt.Sprintf("\n%d. %s", i+1, step))
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

// relativeDocLink renders a child path relative to the parent document's
// directory, in ./-prefixed form.
func relativeDocLink(parentRel, childRel string) string {
	rel, err := filepath.Rel(path.Dir(parentRel), childRel)
	if err != nil {
		return childRel
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "../") {
		return rel
	}
	return "./" + rel
}

// upsertNavigationLinks appends missing child links under the
// navigation heading and returns how many were added.
func upsertNavigationLinks(text, parentRel string, children []string, profile string) (string, int) {
	added := 0
	for _, child := range children {
		link := relativeDocLink(parentRel, child)
		if strings.Contains(text, child) || strings.Contains(text, "]("+link+")") {
			continue
		}
		name := strings.TrimSuffix(path.Base(child), ".md")
		bullet := fmt.Sprintf("- [%s](%s)", name, link)
		text = appendUnderHeading(text, navigationHeading(profile), bullet)
		added++
	}
	return text, added
}

// upsertIndexLinks records split artifacts in the index document,
// creating the document from its managed template when missing.
func upsertIndexLinks(text, indexRel string, exists bool, links []string, profile string) (string, int) {
	if !exists {
		text = doctpl.ManagedTemplate(indexRel, profile)
	}
	added := 0
	for _, target := range links {
		link := relativeDocLink(indexRel, target)
		if strings.Contains(text, "]("+link+")") {
			continue
		}
		name := strings.TrimSuffix(path.Base(target), ".md")
		bullet := fmt.Sprintf("- [%s](%s)", name, link)
		text = appendUnderHeading(text, splitArtifactsHeading(profile), bullet)
		added++
	}
	return text, added
}

// upsertModuleInventory appends bullets for modules missing from the
// architecture inventory and returns how many were added.
func upsertModuleInventory(text string, modules []string, profile string) (string, int) {
	heading := doctpl.ModuleInventoryHeading(profile)
	added := 0
	for _, module := range modules {
		token := "`" + module + "`"
		if strings.Contains(text, token) {
			continue
		}
		text = appendUnderHeading(text, heading, doctpl.ModuleLine(module, profile))
		added++
	}
	return text, added
}

// renderMergeFallback builds the deterministic merge document from the
// source texts. Missing sources surface as errors, not partial merges.
func renderMergeFallback(sources []string, read func(rel string) (string, bool)) (string, []string) {
	var missing []string
	var b strings.Builder
	b.WriteString("# Document Merge Result\n")
	for _, src := range sources {
		text, ok := read(src)
		if !ok {
			missing = append(missing, "missing_source:"+src)
			continue
		}
		b.WriteString("\n## Source `" + src + "`\n\n")
		b.WriteString("<!-- source-path: " + src + " -->\n\n")
		b.WriteString(strings.TrimRight(text, "\n") + "\n")
	}
	return normalizeDoc(b.String()), missing
}

// renderSplitFallback builds one deterministic split artifact carrying
// a trace back to the source and its leading excerpt.
func renderSplitFallback(sourceRel, sourceText, targetRel string) string {
	lines := strings.Split(strings.TrimRight(sourceText, "\n"), "\n")
	if len(lines) > 20 {
		lines = lines[:20]
	}
	var b strings.Builder
	b.WriteString("# Split Document: " + strings.TrimSuffix(path.Base(targetRel), ".md") + "\n\n")
	b.WriteString("<!-- split-from: " + sourceRel + " -->\n\n")
	b.WriteString("## Source Trace\n\n")
	b.WriteString("- Source: `" + sourceRel + "`\n")
	b.WriteString("- Target: `" + targetRel + "`\n\n")
	b.WriteString("## Source Excerpt\n\n```markdown\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n```\n")
	return b.String()
}
