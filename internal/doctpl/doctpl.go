// Package doctpl defines the managed documentation set: per-document
// structural sections, their heading markers, and scaffold templates.
package doctpl

import "strings"

// Template profiles. Markers for every profile participate in section
// detection so a repository written under either profile validates.
const (
	ProfileEnUS = "en-US"
	ProfileZhCN = "zh-CN"

	DefaultProfile = ProfileEnUS
)

// NormalizeProfile maps raw profile/language identifiers to a supported
// template profile.
func NormalizeProfile(raw string) string {
	switch strings.TrimSpace(raw) {
	case ProfileZhCN, "zh", "zh-Hans", "zh_CN":
		return ProfileZhCN
	case ProfileEnUS, "en", "en_US":
		return ProfileEnUS
	}
	return DefaultProfile
}

// Section is one structural block of a managed document.
type Section struct {
	ID      string
	Marker  map[string]string // profile -> heading literal used for detection
	Content map[string]string // profile -> scaffold block
}

// Definition describes a managed document.
type Definition struct {
	Path             string
	RequiredSections []string
	TemplateOrder    []string
	Sections         map[string]Section
}

// Runbook sections whose fenced command blocks feed runbook.* evidence.
var CommandSections = []string{"dev_commands", "validation_commands"}

var definitions = map[string]Definition{
	"docs/index.md": {
		Path:             "docs/index.md",
		RequiredSections: []string{"title", "core_docs", "workflow"},
		TemplateOrder:    []string{"title", "core_docs", "workflow"},
		Sections: map[string]Section{
			"title": {
				ID:      "title",
				Marker:  map[string]string{ProfileEnUS: "# Documentation Index", ProfileZhCN: "# 文档索引"},
				Content: map[string]string{ProfileEnUS: "# Documentation Index", ProfileZhCN: "# 文档索引"},
			},
			"core_docs": {
				ID:     "core_docs",
				Marker: map[string]string{ProfileEnUS: "## Core Documents", ProfileZhCN: "## 核心文档"},
				Content: map[string]string{
					ProfileEnUS: "## Core Documents\n\n- `docs/.doc-policy.json`\n- `docs/.doc-manifest.json`\n- Add specialized docs like `docs/architecture.md` and `docs/runbook.md` as the repository evolves.",
					ProfileZhCN: "## 核心文档\n\n- `docs/.doc-policy.json`\n- `docs/.doc-manifest.json`\n- 按仓库演进逐步补充 `docs/architecture.md`、`docs/runbook.md` 等专题文档。",
				},
			},
			"workflow": {
				ID:     "workflow",
				Marker: map[string]string{ProfileEnUS: "## Operational Workflow", ProfileZhCN: "## 操作流程"},
				Content: map[string]string{
					ProfileEnUS: "## Operational Workflow\n\n1. Run repository scan and generate a doc plan.\n2. Review actions and apply with safe mode.\n3. Validate links and drift status before merge.",
					ProfileZhCN: "## 操作流程\n\n1. 运行 repository scan 并生成 doc plan。\n2. 审阅 actions 后执行 safe mode。\n3. 合并前校验 links 与 drift 状态。",
				},
			},
		},
	},
	"docs/architecture.md": {
		Path:             "docs/architecture.md",
		RequiredSections: []string{"title", "module_inventory", "dependency_manifests"},
		TemplateOrder:    []string{"title", "summary", "module_inventory", "dependency_manifests"},
		Sections: map[string]Section{
			"title": {
				ID:      "title",
				Marker:  map[string]string{ProfileEnUS: "# Repository Architecture", ProfileZhCN: "# 仓库架构"},
				Content: map[string]string{ProfileEnUS: "# Repository Architecture", ProfileZhCN: "# 仓库架构"},
			},
			"summary": {
				ID:     "summary",
				Marker: map[string]string{ProfileEnUS: "## Summary", ProfileZhCN: "## 概述"},
				Content: map[string]string{
					ProfileEnUS: "## Summary\n\nDescribe the repository boundaries and execution model.",
					ProfileZhCN: "## 概述\n\n描述仓库边界与运行模型。",
				},
			},
			"module_inventory": {
				ID:     "module_inventory",
				Marker: map[string]string{ProfileEnUS: "## Module Inventory", ProfileZhCN: "## 模块清单"},
				Content: map[string]string{
					ProfileEnUS: "## Module Inventory\n\nList top-level modules and their responsibilities.",
					ProfileZhCN: "## 模块清单\n\n列出顶层模块及其职责。",
				},
			},
			"dependency_manifests": {
				ID:     "dependency_manifests",
				Marker: map[string]string{ProfileEnUS: "## Dependency Manifests", ProfileZhCN: "## 依赖清单"},
				Content: map[string]string{
					ProfileEnUS: "## Dependency Manifests\n\nList build/dependency manifests used by this repository.",
					ProfileZhCN: "## 依赖清单\n\n列出仓库使用的构建与依赖清单。",
				},
			},
		},
	},
	"docs/runbook.md": {
		Path:             "docs/runbook.md",
		RequiredSections: []string{"title", "dev_commands", "validation_commands"},
		TemplateOrder:    []string{"title", "dev_commands", "validation_commands"},
		Sections: map[string]Section{
			"title": {
				ID:      "title",
				Marker:  map[string]string{ProfileEnUS: "# Runbook", ProfileZhCN: "# 运行手册"},
				Content: map[string]string{ProfileEnUS: "# Runbook", ProfileZhCN: "# 运行手册"},
			},
			"dev_commands": {
				ID:     "dev_commands",
				Marker: map[string]string{ProfileEnUS: "## Development Commands", ProfileZhCN: "## 开发命令"},
				Content: map[string]string{
					ProfileEnUS: "## Development Commands\n\nDocument build, run, and local workflow commands.",
					ProfileZhCN: "## 开发命令\n\n记录构建、运行与本地工作流命令。",
				},
			},
			"validation_commands": {
				ID:     "validation_commands",
				Marker: map[string]string{ProfileEnUS: "## Validation Commands", ProfileZhCN: "## 校验命令"},
				Content: map[string]string{
					ProfileEnUS: "## Validation Commands\n\nDocument lint, test, and drift check commands.",
					ProfileZhCN: "## 校验命令\n\n记录 lint、测试与 drift 检查命令。",
				},
			},
		},
	},
	"docs/glossary.md": {
		Path:             "docs/glossary.md",
		RequiredSections: []string{"title"},
		TemplateOrder:    []string{"title", "summary"},
		Sections: map[string]Section{
			"title": {
				ID:      "title",
				Marker:  map[string]string{ProfileEnUS: "# Glossary", ProfileZhCN: "# 术语表"},
				Content: map[string]string{ProfileEnUS: "# Glossary", ProfileZhCN: "# 术语表"},
			},
			"summary": {
				ID:     "summary",
				Marker: map[string]string{ProfileEnUS: "repository-specific terminology", ProfileZhCN: "仓库特有术语"},
				Content: map[string]string{
					ProfileEnUS: "Document repository-specific terminology.",
					ProfileZhCN: "记录仓库特有术语。",
				},
			},
		},
	},
	"docs/incident-response.md": {
		Path:             "docs/incident-response.md",
		RequiredSections: []string{"title", "severity_levels", "response_flow", "postmortem"},
		TemplateOrder:    []string{"title", "severity_levels", "response_flow", "postmortem"},
		Sections: map[string]Section{
			"title": {
				ID:      "title",
				Marker:  map[string]string{ProfileEnUS: "# Incident Response", ProfileZhCN: "# 事故响应"},
				Content: map[string]string{ProfileEnUS: "# Incident Response", ProfileZhCN: "# 事故响应"},
			},
			"severity_levels": {
				ID:     "severity_levels",
				Marker: map[string]string{ProfileEnUS: "## Severity Levels", ProfileZhCN: "## 严重级别"},
				Content: map[string]string{
					ProfileEnUS: "## Severity Levels\n\n- `SEV1`: Core functionality unavailable, immediate response required.\n- `SEV2`: Key functionality degraded, urgent mitigation required.\n- `SEV3`: Limited impact, plan and track remediation.",
					ProfileZhCN: "## 严重级别\n\n- `SEV1`：核心功能不可用,需立即响应。\n- `SEV2`:关键功能受损,需尽快缓解。\n- `SEV3`:影响有限,纳入计划跟踪修复。",
				},
			},
			"response_flow": {
				ID:     "response_flow",
				Marker: map[string]string{ProfileEnUS: "## Response Flow", ProfileZhCN: "## 响应流程"},
				Content: map[string]string{
					ProfileEnUS: "## Response Flow\n\n1. Trigger alert and confirm incident commander.\n2. Create incident channel and capture timeline.\n3. Execute mitigation and publish status updates.\n4. After recovery, start postmortem workflow.",
					ProfileZhCN: "## 响应流程\n\n1. 触发告警并确认事故指挥。\n2. 建立事故频道并记录时间线。\n3. 执行缓解措施并同步状态。\n4. 恢复后启动复盘流程。",
				},
			},
			"postmortem": {
				ID:     "postmortem",
				Marker: map[string]string{ProfileEnUS: "## Postmortem Requirements", ProfileZhCN: "## 复盘要求"},
				Content: map[string]string{
					ProfileEnUS: "## Postmortem Requirements\n\n- Document root cause, impact scope, recovery timeline, and action items.\n- Track each action item with an owner in the task system.",
					ProfileZhCN: "## 复盘要求\n\n- 记录根因、影响范围、恢复时间线与行动项。\n- 每个行动项在任务系统中指定负责人跟踪。",
				},
			},
		},
	},
	"docs/security.md": {
		Path:             "docs/security.md",
		RequiredSections: []string{"title", "threat_model", "security_controls", "vuln_management"},
		TemplateOrder:    []string{"title", "threat_model", "security_controls", "vuln_management"},
		Sections: map[string]Section{
			"title": {
				ID:      "title",
				Marker:  map[string]string{ProfileEnUS: "# Security Baseline", ProfileZhCN: "# 安全基线"},
				Content: map[string]string{ProfileEnUS: "# Security Baseline", ProfileZhCN: "# 安全基线"},
			},
			"threat_model": {
				ID:     "threat_model",
				Marker: map[string]string{ProfileEnUS: "## Threat Model", ProfileZhCN: "## 威胁模型"},
				Content: map[string]string{
					ProfileEnUS: "## Threat Model\n\nDescribe critical assets, threat actors, attack surfaces, and risk assumptions.",
					ProfileZhCN: "## 威胁模型\n\n描述关键资产、威胁主体、攻击面与风险假设。",
				},
			},
			"security_controls": {
				ID:     "security_controls",
				Marker: map[string]string{ProfileEnUS: "## Security Controls", ProfileZhCN: "## 安全控制"},
				Content: map[string]string{
					ProfileEnUS: "## Security Controls\n\n- Authentication and authorization policy\n- Secret and credential management\n- Dependency and image scanning policy",
					ProfileZhCN: "## 安全控制\n\n- 认证与授权策略\n- 密钥与凭据管理\n- 依赖与镜像扫描策略",
				},
			},
			"vuln_management": {
				ID:     "vuln_management",
				Marker: map[string]string{ProfileEnUS: "## Vulnerability Management", ProfileZhCN: "## 漏洞管理"},
				Content: map[string]string{
					ProfileEnUS: "## Vulnerability Management\n\nDefine vulnerability severity levels, response SLA, remediation verification, and disclosure workflow.",
					ProfileZhCN: "## 漏洞管理\n\n定义漏洞分级、响应 SLA、修复验证与披露流程。",
				},
			},
		},
	},
	"docs/compliance.md": {
		Path:             "docs/compliance.md",
		RequiredSections: []string{"title", "framework_scope", "control_mapping", "evidence_retention"},
		TemplateOrder:    []string{"title", "framework_scope", "control_mapping", "evidence_retention"},
		Sections: map[string]Section{
			"title": {
				ID:      "title",
				Marker:  map[string]string{ProfileEnUS: "# Compliance Controls", ProfileZhCN: "# 合规控制"},
				Content: map[string]string{ProfileEnUS: "# Compliance Controls", ProfileZhCN: "# 合规控制"},
			},
			"framework_scope": {
				ID:     "framework_scope",
				Marker: map[string]string{ProfileEnUS: "## Framework Scope", ProfileZhCN: "## 框架范围"},
				Content: map[string]string{
					ProfileEnUS: "## Framework Scope\n\nList applicable frameworks (for example SOC2, ISO27001, GDPR) and system boundaries in scope.",
					ProfileZhCN: "## 框架范围\n\n列出适用框架(如 SOC2、ISO27001、GDPR)与在辖系统边界。",
				},
			},
			"control_mapping": {
				ID:     "control_mapping",
				Marker: map[string]string{ProfileEnUS: "## Control Mapping", ProfileZhCN: "## 控制映射"},
				Content: map[string]string{
					ProfileEnUS: "## Control Mapping\n\nMap key controls to implementation locations, owners, and validation methods.",
					ProfileZhCN: "## 控制映射\n\n将关键控制映射到实现位置、负责人与验证方式。",
				},
			},
			"evidence_retention": {
				ID:     "evidence_retention",
				Marker: map[string]string{ProfileEnUS: "## Evidence Retention", ProfileZhCN: "## 证据留存"},
				Content: map[string]string{
					ProfileEnUS: "## Evidence Retention\n\nDefine audit evidence sources, retention windows, access controls, and sampling process.",
					ProfileZhCN: "## 证据留存\n\n定义审计证据来源、留存窗口、访问控制与抽样流程。",
				},
			},
		},
	},
}

// Lookup returns the definition for a managed path.
func Lookup(relPath string) (Definition, bool) {
	def, ok := definitions[relPath]
	return def, ok
}

// ManagedPaths lists every path with a definition.
func ManagedPaths() []string {
	out := make([]string, 0, len(definitions))
	for p := range definitions {
		out = append(out, p)
	}
	return out
}

// RequiredSections returns the structural sections a managed file must
// contain, or nil for unmanaged paths.
func RequiredSections(relPath string) []string {
	def, ok := definitions[relPath]
	if !ok {
		return nil
	}
	return append([]string(nil), def.RequiredSections...)
}

// TemplateSections returns the section render order for scaffolding.
func TemplateSections(relPath string) []string {
	def, ok := definitions[relPath]
	if !ok {
		return nil
	}
	return append([]string(nil), def.TemplateOrder...)
}

// SectionMarkers returns the heading literals for a section across all
// profiles; a file containing any of them has the section.
func SectionMarkers(relPath, sectionID string) []string {
	def, ok := definitions[relPath]
	if !ok {
		return nil
	}
	sec, ok := def.Sections[sectionID]
	if !ok {
		return nil
	}
	out := make([]string, 0, 2)
	for _, profile := range []string{ProfileZhCN, ProfileEnUS} {
		if m := sec.Marker[profile]; m != "" {
			out = append(out, m)
		}
	}
	return out
}

// SectionHeading returns a section's heading in the given profile.
func SectionHeading(relPath, sectionID, profile string) string {
	def, ok := definitions[relPath]
	if !ok {
		return ""
	}
	sec, ok := def.Sections[sectionID]
	if !ok {
		return ""
	}
	if h := sec.Marker[NormalizeProfile(profile)]; h != "" {
		return h
	}
	return sec.Marker[DefaultProfile]
}

// SectionContent returns a section's scaffold block in the given profile.
func SectionContent(relPath, sectionID, profile string) string {
	def, ok := definitions[relPath]
	if !ok {
		return ""
	}
	sec, ok := def.Sections[sectionID]
	if !ok {
		return ""
	}
	if c := sec.Content[NormalizeProfile(profile)]; c != "" {
		return c
	}
	return sec.Content[DefaultProfile]
}

// ManagedTemplate renders the full scaffold for a managed path, or a
// generic placeholder document for paths without a definition.
func ManagedTemplate(relPath, profile string) string {
	def, ok := definitions[relPath]
	if !ok {
		return genericTemplate(relPath, profile)
	}
	blocks := make([]string, 0, len(def.TemplateOrder))
	for _, id := range def.TemplateOrder {
		if c := SectionContent(relPath, id, profile); c != "" {
			blocks = append(blocks, c)
		}
	}
	return strings.Join(blocks, "\n\n") + "\n"
}

func genericTemplate(relPath, profile string) string {
	title := relPath
	if idx := strings.LastIndex(relPath, "/"); idx >= 0 {
		title = relPath[idx+1:]
	}
	title = strings.TrimSuffix(title, ".md")
	if NormalizeProfile(profile) == ProfileZhCN {
		return "# " + title + "\n\nTODO: 补充内容。\n"
	}
	return "# " + title + "\n\nTODO: document this topic.\n"
}

// Module inventory rendering on docs/architecture.md.

// ModuleInventoryMarkers lists the inventory heading in every profile.
func ModuleInventoryMarkers() []string {
	return SectionMarkers("docs/architecture.md", "module_inventory")
}

// ModuleInventoryHeading returns the inventory heading for a profile.
func ModuleInventoryHeading(profile string) string {
	return SectionHeading("docs/architecture.md", "module_inventory", profile)
}

// ModuleLine renders one module-inventory bullet.
func ModuleLine(module, profile string) string {
	if NormalizeProfile(profile) == ProfileZhCN {
		return "- `" + module + "`: TODO 补充职责说明。"
	}
	return "- `" + module + "`: TODO define responsibility."
}

// AgentsTemplate renders the repository AGENTS.md scaffold.
func AgentsTemplate(profile string) string {
	intro := "# AGENTS\n\n## Purpose\n\nTreat `docs/` as the repository system of record.\n\n## Navigation\n\n- Start at `docs/index.md`.\n- Policy: `docs/.doc-policy.json`.\n- Target structure: `docs/.doc-manifest.json`.\n"
	commands := "\n## Standard Commands\n\n```bash\ndocgarden scan --root .\ndocgarden plan --root . --mode audit\ndocgarden validate --root . --fail-on-drift --fail-on-freshness\n```\n"
	guardrailsEn := "\n## Guardrails\n\n- Keep AGENTS concise; store detailed knowledge under `docs/`.\n- Do not hard-delete docs; archive to `docs/archive/`.\n- Apply changes through PR flow in CI-driven repositories.\n"
	guardrailsZh := "\n## Guardrails\n\n- 保持 AGENTS 精简,详细知识沉淀到 `docs/`。\n- 禁止硬删除文档,统一归档到 `docs/archive/`。\n- CI 驱动的仓库通过 PR 流程落地变更。\n"
	if NormalizeProfile(profile) == ProfileZhCN {
		return intro + commands + guardrailsZh
	}
	return intro + commands + guardrailsEn
}
