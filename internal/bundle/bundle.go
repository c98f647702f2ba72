// Package bundle packs a repository's documentation artifacts into a
// single zstd-compressed archive for export, and restores them on
// import. Every file carries a blake3 digest so a tampered or
// truncated bundle is rejected instead of silently extracting garbage.
package bundle

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"lukechampine.com/blake3"

	"docgarden/internal/apply"
	"docgarden/internal/manifest"
	"docgarden/internal/plan"
	"docgarden/internal/policy"
	"docgarden/internal/quality"
	"docgarden/internal/validate"
)

// Bundle format:
// [4 bytes: header length (big-endian)]
// [header JSON: Header]
// [file data...]
//
// The header describes each file's repo-relative path, blake3 digest,
// offset (relative to data start) and length. File data follows
// immediately after the header. The whole frame is zstd-compressed.

const (
	FormatVersion    = 1
	HeaderLengthSize = 4
	MaxHeaderSize    = 10 * 1024 * 1024

	DefaultBundlePath = "doc-bundle.zst"
)

// FileEntry describes one file inside a bundle.
type FileEntry struct {
	Path   string `json:"path"`
	Digest string `json:"digest"`
	Offset int64  `json:"offset"`
	Length int64  `json:"length"`
}

// Header is the bundle's JSON preamble.
type Header struct {
	Version     int         `json:"version"`
	GeneratedAt string      `json:"generated_at"`
	Files       []FileEntry `json:"files"`
}

// Build reads the given repo-relative paths under root and packs them
// into a compressed bundle. Paths are deduplicated and sorted so the
// same tree always produces the same layout.
func Build(root string, paths []string, now time.Time) ([]byte, *Header, error) {
	rels := dedupeSorted(paths)
	if len(rels) == 0 {
		return nil, nil, fmt.Errorf("nothing to bundle")
	}

	header := &Header{
		Version:     FormatVersion,
		GeneratedAt: now.UTC().Format(time.RFC3339),
	}
	var data bytes.Buffer

	for _, rel := range rels {
		content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return nil, nil, fmt.Errorf("reading %s: %w", rel, err)
		}
		sum := blake3.Sum256(content)
		header.Files = append(header.Files, FileEntry{
			Path:   rel,
			Digest: hex.EncodeToString(sum[:]),
			Offset: int64(data.Len()),
			Length: int64(len(content)),
		})
		data.Write(content)
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling header: %w", err)
	}

	var frame bytes.Buffer
	headerLen := make([]byte, HeaderLengthSize)
	binary.BigEndian.PutUint32(headerLen, uint32(len(headerJSON)))
	frame.Write(headerLen)
	frame.Write(headerJSON)
	frame.Write(data.Bytes())

	var compressed bytes.Buffer
	encoder, err := zstd.NewWriter(&compressed)
	if err != nil {
		return nil, nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	if _, err := encoder.Write(frame.Bytes()); err != nil {
		encoder.Close()
		return nil, nil, fmt.Errorf("compressing: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, nil, fmt.Errorf("closing encoder: %w", err)
	}

	return compressed.Bytes(), header, nil
}

// Bundle is a decoded, digest-verified archive.
type Bundle struct {
	Header   *Header
	contents map[string][]byte
}

// Open decompresses and parses a bundle, verifying every file digest.
func Open(r io.Reader) (*Bundle, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	decompressed, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}

	if len(decompressed) < HeaderLengthSize {
		return nil, fmt.Errorf("bundle too small: %d bytes", len(decompressed))
	}

	headerLen := binary.BigEndian.Uint32(decompressed[:HeaderLengthSize])
	if headerLen > MaxHeaderSize {
		return nil, fmt.Errorf("header too large: %d bytes", headerLen)
	}
	if int(HeaderLengthSize+headerLen) > len(decompressed) {
		return nil, fmt.Errorf("header length exceeds bundle size")
	}

	var header Header
	if err := json.Unmarshal(decompressed[HeaderLengthSize:HeaderLengthSize+headerLen], &header); err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported bundle version: %d", header.Version)
	}

	data := decompressed[HeaderLengthSize+headerLen:]
	contents := make(map[string][]byte, len(header.Files))
	for _, entry := range header.Files {
		if entry.Offset < 0 || entry.Length < 0 || entry.Offset+entry.Length > int64(len(data)) {
			return nil, fmt.Errorf("file %s extends beyond bundle data", entry.Path)
		}
		content := data[entry.Offset : entry.Offset+entry.Length]
		sum := blake3.Sum256(content)
		if hex.EncodeToString(sum[:]) != entry.Digest {
			return nil, fmt.Errorf("digest mismatch for %s", entry.Path)
		}
		contents[entry.Path] = content
	}

	return &Bundle{Header: &header, contents: contents}, nil
}

// Paths returns the bundled file paths in header order.
func (b *Bundle) Paths() []string {
	paths := make([]string, 0, len(b.Header.Files))
	for _, entry := range b.Header.Files {
		paths = append(paths, entry.Path)
	}
	return paths
}

// Content returns a bundled file's content.
func (b *Bundle) Content(path string) ([]byte, bool) {
	content, ok := b.contents[path]
	return content, ok
}

// Extract writes the bundle's files under destRoot. Existing files are
// left alone unless overwrite is set. Returns how many files were
// written.
func (b *Bundle) Extract(destRoot string, overwrite bool) (int, error) {
	written := 0
	for _, entry := range b.Header.Files {
		rel := policy.NormalizeRel(entry.Path)
		if rel == "" || strings.HasPrefix(rel, "..") {
			return written, fmt.Errorf("refusing to extract path: %s", entry.Path)
		}
		dest := filepath.Join(destRoot, filepath.FromSlash(rel))
		if !overwrite {
			if _, err := os.Stat(dest); err == nil {
				continue
			}
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return written, fmt.Errorf("creating directory for %s: %w", rel, err)
		}
		if err := os.WriteFile(dest, b.contents[entry.Path], 0644); err != nil {
			return written, fmt.Errorf("writing %s: %w", rel, err)
		}
		written++
	}
	return written, nil
}

// CollectPaths gathers the documentation artifacts worth exporting:
// managed docs, configuration files, the legacy registry and every
// generated report that exists on disk. Markdown under required
// directories is swept in too.
func CollectPaths(root string, cfg *policy.Config, m manifest.Manifest) []string {
	candidates := []string{
		policy.DefaultPolicyPath,
		policy.DefaultManifestPath,
		policy.DefaultSpecPath,
		policy.DefaultFactsPath,
		plan.DefaultPlanPath,
		apply.DefaultReportJSONPath,
		apply.DefaultReportMDPath,
		quality.ReportPath,
		validate.DefaultReportPath,
		"AGENTS.md",
	}
	candidates = append(candidates, m.Required.Files...)
	candidates = append(candidates, m.Optional.Files...)
	if cfg != nil {
		candidates = append(candidates,
			cfg.Legacy.RegistryPath,
			cfg.Topology.Path,
			cfg.Gardening.ReportJSON,
			cfg.Gardening.ReportMD,
			cfg.Gardening.HistoryDB,
		)
	}

	var paths []string
	for _, rel := range candidates {
		rel = policy.NormalizeRel(rel)
		if rel == "" {
			continue
		}
		if info, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel))); err == nil && !info.IsDir() {
			paths = append(paths, rel)
		}
	}

	for _, dir := range m.Required.Dirs {
		dir = policy.NormalizeRel(dir)
		if dir == "" {
			continue
		}
		base := filepath.Join(root, filepath.FromSlash(dir))
		filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return fs.SkipAll
			}
			if d.IsDir() || !strings.HasSuffix(p, ".md") {
				return nil
			}
			if rel, relErr := filepath.Rel(root, p); relErr == nil {
				paths = append(paths, filepath.ToSlash(rel))
			}
			return nil
		})
	}

	return dedupeSorted(paths)
}

func dedupeSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
