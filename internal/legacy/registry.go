package legacy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"docgarden/internal/policy"
)

// RegistryEntry tracks the migration state of one legacy source.
type RegistryEntry struct {
	SourcePath     string  `json:"source_path"`
	TargetPath     string  `json:"target_path,omitempty"`
	ArchivePath    string  `json:"archive_path,omitempty"`
	Status         string  `json:"status,omitempty"`
	Category       string  `json:"category,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
	Decision       string  `json:"decision,omitempty"`
	DecisionSource string  `json:"decision_source,omitempty"`
	UpdatedAt      string  `json:"updated_at,omitempty"`
	Note           string  `json:"note,omitempty"`
}

// Registry is the persisted legacy migration map.
type Registry struct {
	Version   int                      `json:"version"`
	UpdatedAt string                   `json:"updated_at"`
	Entries   map[string]RegistryEntry `json:"entries"`
}

// NewRegistry returns an empty registry stamped at now.
func NewRegistry(now string) *Registry {
	return &Registry{Version: 1, UpdatedAt: now, Entries: map[string]RegistryEntry{}}
}

// LoadRegistry reads the registry file, normalizing entry paths. A
// missing or malformed file yields a fresh registry.
func LoadRegistry(path, now string) *Registry {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewRegistry(now)
	}
	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return NewRegistry(now)
	}
	if reg.Version <= 0 {
		reg.Version = 1
	}
	if reg.UpdatedAt == "" {
		reg.UpdatedAt = now
	}
	normalized := map[string]RegistryEntry{}
	for key, entry := range reg.Entries {
		rel := policy.NormalizeRel(key)
		entry.SourcePath = rel
		if entry.TargetPath != "" {
			entry.TargetPath = policy.NormalizeRel(entry.TargetPath)
		}
		if entry.ArchivePath != "" {
			entry.ArchivePath = policy.NormalizeRel(entry.ArchivePath)
		}
		normalized[rel] = entry
	}
	reg.Entries = normalized
	return &reg
}

// Save persists the registry as indented JSON. A dry run writes
// nothing.
func (r *Registry) Save(path string, dryRun bool) error {
	if dryRun {
		return nil
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding legacy registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing legacy registry: %w", err)
	}
	return nil
}

// Upsert merges patch into the entry for sourceRel and bumps the
// registry timestamp.
func (r *Registry) Upsert(sourceRel string, patch RegistryEntry, now string) RegistryEntry {
	key := policy.NormalizeRel(sourceRel)
	if r.Entries == nil {
		r.Entries = map[string]RegistryEntry{}
	}
	current := r.Entries[key]

	if patch.TargetPath != "" {
		current.TargetPath = policy.NormalizeRel(patch.TargetPath)
	}
	if patch.ArchivePath != "" {
		current.ArchivePath = policy.NormalizeRel(patch.ArchivePath)
	}
	if patch.Status != "" {
		current.Status = patch.Status
	}
	if patch.Category != "" {
		current.Category = patch.Category
	}
	if patch.Confidence != 0 {
		current.Confidence = patch.Confidence
	}
	if patch.Decision != "" {
		current.Decision = patch.Decision
	}
	if patch.DecisionSource != "" {
		current.DecisionSource = patch.DecisionSource
	}
	if patch.Note != "" {
		current.Note = patch.Note
	}
	current.UpdatedAt = now
	current.SourcePath = key
	r.Entries[key] = current
	r.UpdatedAt = now
	return current
}

// HasCompleted reports whether the source already reached a terminal
// migration status.
func (r *Registry) HasCompleted(sourceRel string) bool {
	if r == nil || r.Entries == nil {
		return false
	}
	entry, ok := r.Entries[policy.NormalizeRel(sourceRel)]
	return ok && Completed(entry.Status)
}
