// Package topology loads the documentation topology contract and
// evaluates depth, orphan, and navigation reachability gates.
package topology

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"docgarden/internal/policy"
)

// Supported node layers.
var supportedLayers = map[string]bool{
	"root": true, "section": true, "leaf": true, "archive": true,
}

var linkPattern = regexp.MustCompile(`\[[^\]]+\]\(([^)]+)\)`)

// Node is one entry in the topology contract.
type Node struct {
	Path   string  `json:"path"`
	Layer  string  `json:"layer"`
	Parent *string `json:"parent"`
	Domain string  `json:"domain"`
}

// Archive configures how archived docs interact with the depth gate.
type Archive struct {
	Root                  string `json:"root"`
	ExcludedFromDepthGate bool   `json:"excluded_from_depth_gate"`
}

// Contract is the normalized topology document.
type Contract struct {
	Version  int     `json:"version"`
	Root     string  `json:"root"`
	MaxDepth int     `json:"max_depth"`
	Nodes    []Node  `json:"nodes"`
	Archive  Archive `json:"archive"`
}

// LoadReport records the outcome of loading the contract file.
type LoadReport struct {
	Enabled  bool     `json:"enabled"`
	Path     string   `json:"path"`
	Exists   bool     `json:"exists"`
	Loaded   bool     `json:"loaded"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Metrics  struct {
		NodeCount int `json:"node_count"`
	} `json:"metrics"`
}

// MissingLink is an unrendered parent-to-child navigation edge.
type MissingLink struct {
	Parent string `json:"parent"`
	Child  string `json:"child"`
}

// MissingByParent groups missing navigation links per parent document.
type MissingByParent struct {
	Parent          string   `json:"parent"`
	MissingChildren []string `json:"missing_children"`
}

// Metrics summarizes a topology evaluation.
type Metrics struct {
	NodeCount              int     `json:"node_count"`
	ManagedMarkdownCount   int     `json:"managed_markdown_count"`
	TopologyReachableRatio float64 `json:"topology_reachable_ratio"`
	TopologyOrphanCount    int     `json:"topology_orphan_count"`
	UnreachableCount       int     `json:"topology_unreachable_count"`
	TopologyMaxDepth       int     `json:"topology_max_depth"`
	TopologyDepthLimit     int     `json:"topology_depth_limit"`
	OverDepthCount         int     `json:"topology_over_depth_count"`
	NavigationMissingCount int     `json:"navigation_missing_count"`
}

// Evaluation is the full result of evaluating a contract against the
// docs on disk.
type Evaluation struct {
	Metrics                  Metrics           `json:"metrics"`
	Warnings                 []string          `json:"warnings"`
	ScopeDocs                []string          `json:"scope_docs"`
	OrphanDocs               []string          `json:"orphan_docs"`
	UnreachableDocs          []string          `json:"unreachable_docs"`
	OverDepthDocs            []string          `json:"over_depth_docs"`
	MissingNodeFiles         []string          `json:"missing_node_files"`
	NavigationMissingLinks   []MissingLink     `json:"navigation_missing_links"`
	NavigationMissingByParent []MissingByParent `json:"navigation_missing_by_parent"`
}

// DefaultContract returns the bootstrap contract covering only the
// docs index, with archived docs exempt from the depth gate.
func DefaultContract(settings policy.Topology) *Contract {
	maxDepth := settings.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 3
	}
	return &Contract{
		Version:  1,
		Root:     "docs/index.md",
		MaxDepth: maxDepth,
		Nodes:    []Node{{Path: "docs/index.md", Layer: "root", Domain: "core"}},
		Archive:  Archive{Root: "docs/archive", ExcludedFromDepthGate: true},
	}
}

// rawContract accepts loose JSON before normalization.
type rawContract struct {
	Version  *int            `json:"version"`
	Root     string          `json:"root"`
	MaxDepth *int            `json:"max_depth"`
	Nodes    []rawNode       `json:"nodes"`
	Archive  json.RawMessage `json:"archive"`
}

type rawNode struct {
	Path   string  `json:"path"`
	Layer  string  `json:"layer"`
	Parent *string `json:"parent"`
	Domain string  `json:"domain"`
}

// Normalize validates a raw payload and applies the contract's
// defaults, splitting findings into errors and warnings.
func Normalize(data []byte, settings policy.Topology) (*Contract, []string, []string) {
	var errors, warnings []string
	var raw rawContract
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, []string{fmt.Sprintf("topology file unreadable: %v", err)}, nil
	}

	version := 1
	if raw.Version != nil {
		if *raw.Version <= 0 {
			errors = append(errors, "version must be positive integer")
		} else {
			version = *raw.Version
		}
	}

	root := "docs/index.md"
	if strings.TrimSpace(raw.Root) == "" {
		errors = append(errors, "root must be non-empty string")
	} else {
		root = policy.NormalizeRel(raw.Root)
	}

	maxDepth := settings.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 3
	}
	if raw.MaxDepth != nil {
		if *raw.MaxDepth > 0 {
			maxDepth = *raw.MaxDepth
		} else {
			warnings = append(warnings, fmt.Sprintf("max_depth invalid, fallback to %d", maxDepth))
		}
	}

	var nodes []Node
	seen := map[string]bool{}
	for i, n := range raw.Nodes {
		if strings.TrimSpace(n.Path) == "" {
			errors = append(errors, fmt.Sprintf("nodes[%d].path must be non-empty string", i))
			continue
		}
		p := policy.NormalizeRel(n.Path)
		if seen[p] {
			warnings = append(warnings, "nodes duplicated path: "+p)
		}
		seen[p] = true

		layer := strings.TrimSpace(n.Layer)
		if layer == "" {
			errors = append(errors, fmt.Sprintf("nodes[%d].layer must be non-empty string", i))
			continue
		}
		if !supportedLayers[layer] {
			errors = append(errors, fmt.Sprintf(
				"nodes[%d].layer invalid: %s (expected one of root|section|leaf|archive)", i, layer))
			continue
		}

		var parent *string
		if n.Parent != nil {
			if strings.TrimSpace(*n.Parent) == "" {
				errors = append(errors, fmt.Sprintf("nodes[%d].parent must be string or null", i))
				continue
			}
			rel := policy.NormalizeRel(*n.Parent)
			parent = &rel
		}
		nodes = append(nodes, Node{
			Path:   p,
			Layer:  layer,
			Parent: parent,
			Domain: strings.TrimSpace(n.Domain),
		})
	}
	if len(nodes) == 0 {
		warnings = append(warnings, "nodes is empty")
	}

	pathSet := map[string]bool{}
	for _, n := range nodes {
		pathSet[n.Path] = true
	}
	if !pathSet[root] {
		warnings = append(warnings, "topology root not present in nodes")
	}
	for _, n := range nodes {
		if n.Parent != nil && !pathSet[*n.Parent] {
			warnings = append(warnings, fmt.Sprintf("parent node missing for %s: %s", n.Path, *n.Parent))
		}
	}

	archive := Archive{Root: "docs/archive", ExcludedFromDepthGate: true}
	if len(raw.Archive) > 0 && string(raw.Archive) != "null" {
		var a struct {
			Root                  *string `json:"root"`
			ExcludedFromDepthGate *bool   `json:"excluded_from_depth_gate"`
		}
		if err := json.Unmarshal(raw.Archive, &a); err != nil {
			errors = append(errors, "archive must be object")
		} else {
			if a.Root != nil && strings.TrimSpace(*a.Root) != "" {
				archive.Root = policy.NormalizeRel(*a.Root)
			}
			if a.ExcludedFromDepthGate != nil {
				archive.ExcludedFromDepthGate = *a.ExcludedFromDepthGate
			}
		}
	}

	contract := &Contract{
		Version:  version,
		Root:     root,
		MaxDepth: maxDepth,
		Nodes:    nodes,
		Archive:  archive,
	}
	return contract, errors, warnings
}

// Load reads and normalizes the contract named by settings. The
// returned contract is nil when topology is disabled, absent, or
// invalid; the report explains which.
func Load(root string, settings policy.Topology) (*Contract, LoadReport) {
	rel := policy.NormalizeRel(settings.Path)
	if rel == "" || rel == "." {
		rel = "docs/.doc-topology.json"
	}
	report := LoadReport{
		Enabled:  settings.Enabled,
		Path:     rel,
		Errors:   []string{},
		Warnings: []string{},
	}
	if !settings.Enabled {
		return nil, report
	}

	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		if os.IsNotExist(err) {
			report.Warnings = append(report.Warnings, "topology file not found: "+rel)
			return nil, report
		}
		report.Errors = append(report.Errors, fmt.Sprintf("topology file unreadable: %v", err))
		return nil, report
	}
	report.Exists = true

	contract, errors, warnings := Normalize(data, settings)
	report.Errors = append(report.Errors, errors...)
	report.Warnings = append(report.Warnings, warnings...)
	if contract != nil {
		report.Metrics.NodeCount = len(contract.Nodes)
	}
	report.Loaded = len(report.Errors) == 0
	if !report.Loaded {
		return nil, report
	}
	return contract, report
}

func isMarkdown(p string) bool {
	return strings.HasSuffix(strings.ToLower(policy.NormalizeRel(p)), ".md")
}

func isArchivePath(p, archiveRoot string) bool {
	p = policy.NormalizeRel(p)
	root := strings.TrimRight(policy.NormalizeRel(archiveRoot), "/")
	return p == root || strings.HasPrefix(p, root+"/")
}

func skipArchive(p string, archive Archive) bool {
	return archive.ExcludedFromDepthGate && isArchivePath(p, archive.Root)
}

// extractDocLinks collects relative markdown link targets of one doc,
// resolved against the repository root.
func extractDocLinks(root, sourceRel string) map[string]bool {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(sourceRel)))
	if err != nil {
		return nil
	}
	links := map[string]bool{}
	sourceDir := path.Dir(sourceRel)
	for _, m := range linkPattern.FindAllStringSubmatch(string(data), -1) {
		link := strings.TrimSpace(m[1])
		if link == "" ||
			strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") ||
			strings.HasPrefix(link, "mailto:") || strings.HasPrefix(link, "#") {
			continue
		}
		target := strings.TrimSpace(strings.SplitN(link, "#", 2)[0])
		if target == "" {
			continue
		}
		resolved := path.Clean(path.Join(sourceDir, target))
		if strings.HasPrefix(resolved, "../") || resolved == ".." {
			continue
		}
		links[resolved] = true
	}
	return links
}

// Evaluate checks the docs on disk against the contract: depth over
// limit, orphans outside the contract, link reachability from the
// topology root, and missing parent navigation links.
func Evaluate(root string, contract *Contract, settings policy.Topology, managedDocs []string) Evaluation {
	archive := contract.Archive
	if archive.Root == "" {
		archive.Root = "docs/archive"
	}
	rootPath := contract.Root
	if rootPath == "" {
		rootPath = "docs/index.md"
	}

	nodeMap := map[string]Node{}
	children := map[string]map[string]bool{}
	for _, n := range contract.Nodes {
		if n.Path == "" {
			continue
		}
		nodeMap[n.Path] = n
	}
	for p, n := range nodeMap {
		if skipArchive(p, archive) || n.Parent == nil || strings.TrimSpace(*n.Parent) == "" {
			continue
		}
		parent := policy.NormalizeRel(*n.Parent)
		if skipArchive(parent, archive) {
			continue
		}
		if children[parent] == nil {
			children[parent] = map[string]bool{}
		}
		children[parent][p] = true
	}

	nodePaths := sortedKeys(nodeMap)
	scope := map[string]bool{}
	for _, list := range [][]string{managedDocs, nodePaths} {
		for _, rel := range list {
			p := policy.NormalizeRel(rel)
			if !isMarkdown(p) || skipArchive(p, archive) {
				continue
			}
			if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(p))); err == nil {
				scope[p] = true
			}
		}
	}
	scopeDocs := sortedKeys(scope)

	// Min-depth BFS over the declared parent/child edges.
	depths := map[string]int{rootPath: 0}
	queue := []string{rootPath}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range sortedKeys(children[current]) {
			next := depths[current] + 1
			if existing, ok := depths[child]; ok && existing <= next {
				continue
			}
			depths[child] = next
			queue = append(queue, child)
		}
	}

	maxDepth := 0
	for _, p := range scopeDocs {
		if d, ok := depths[p]; ok && d > maxDepth {
			maxDepth = d
		}
	}
	depthLimit := settings.MaxDepth
	if depthLimit <= 0 {
		depthLimit = contract.MaxDepth
	}
	if depthLimit <= 0 {
		depthLimit = 3
	}
	var overDepth []string
	for _, p := range scopeDocs {
		if d, ok := depths[p]; ok && d > depthLimit {
			overDepth = append(overDepth, p)
		}
	}

	var orphans []string
	for _, p := range scopeDocs {
		if _, ok := nodeMap[p]; !ok {
			orphans = append(orphans, p)
		}
	}

	adjacency := map[string]map[string]bool{}
	for _, p := range scopeDocs {
		adjacency[p] = map[string]bool{}
		for target := range extractDocLinks(root, p) {
			if scope[target] {
				adjacency[p][target] = true
			}
		}
	}

	reachable := map[string]bool{}
	if scope[rootPath] {
		queue = []string{rootPath}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			if reachable[current] {
				continue
			}
			reachable[current] = true
			for _, target := range sortedKeys(adjacency[current]) {
				if !reachable[target] {
					queue = append(queue, target)
				}
			}
		}
	}
	var unreachable []string
	for _, p := range scopeDocs {
		if !reachable[p] {
			unreachable = append(unreachable, p)
		}
	}

	var missingLinks []MissingLink
	for _, childPath := range nodePaths {
		n := nodeMap[childPath]
		if !scope[childPath] || skipArchive(childPath, archive) || reachable[childPath] {
			continue
		}
		if n.Parent == nil || strings.TrimSpace(*n.Parent) == "" {
			continue
		}
		parent := policy.NormalizeRel(*n.Parent)
		if !scope[parent] || skipArchive(parent, archive) {
			continue
		}
		if !adjacency[parent][childPath] {
			missingLinks = append(missingLinks, MissingLink{Parent: parent, Child: childPath})
		}
	}

	grouped := map[string]map[string]bool{}
	for _, link := range missingLinks {
		if grouped[link.Parent] == nil {
			grouped[link.Parent] = map[string]bool{}
		}
		grouped[link.Parent][link.Child] = true
	}
	var byParent []MissingByParent
	for _, parent := range sortedKeys(grouped) {
		byParent = append(byParent, MissingByParent{
			Parent:          parent,
			MissingChildren: sortedKeys(grouped[parent]),
		})
	}

	var missingNodeFiles []string
	for _, p := range nodePaths {
		if !isMarkdown(p) || skipArchive(p, archive) {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(p))); err != nil {
			missingNodeFiles = append(missingNodeFiles, p)
		}
	}

	ratio := 1.0
	if len(scopeDocs) > 0 {
		ratio = round4(float64(len(scopeDocs)-len(unreachable)) / float64(len(scopeDocs)))
	}

	var warnings []string
	if len(missingNodeFiles) > 0 {
		sample := missingNodeFiles
		if len(sample) > 20 {
			sample = sample[:20]
		}
		warnings = append(warnings,
			"topology nodes reference missing markdown files: "+strings.Join(sample, ", "))
	}

	return Evaluation{
		Metrics: Metrics{
			NodeCount:              len(nodePaths),
			ManagedMarkdownCount:   len(scopeDocs),
			TopologyReachableRatio: ratio,
			TopologyOrphanCount:    len(orphans),
			UnreachableCount:       len(unreachable),
			TopologyMaxDepth:       maxDepth,
			TopologyDepthLimit:     depthLimit,
			OverDepthCount:         len(overDepth),
			NavigationMissingCount: len(missingLinks),
		},
		Warnings:                  warnings,
		ScopeDocs:                 scopeDocs,
		OrphanDocs:                orphans,
		UnreachableDocs:           unreachable,
		OverDepthDocs:             overDepth,
		MissingNodeFiles:          missingNodeFiles,
		NavigationMissingLinks:    missingLinks,
		NavigationMissingByParent: byParent,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func round4(v float64) float64 {
	return float64(int(v*10000+0.5)) / 10000
}
