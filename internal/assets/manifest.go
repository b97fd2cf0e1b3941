// Package assets computes a content manifest over local skills, diffs it
// against a sandbox-resident manifest, and uploads only on drift (spec
// §4.6).
package assets

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileMeta is one file's content-hash-relevant metadata.
type FileMeta struct {
	Size    int64 `json:"size"`
	MTimeNs int64 `json:"mtime_ns"`
}

// Manifest is the sandbox-resident drift-detection descriptor (spec §6,
// "Sandbox skills manifest").
type Manifest struct {
	Version string              `json:"version"`
	Files   map[string]FileMeta `json:"files"`
}

// SkillFile is one file belonging to one named skill, with its root-of-
// origin tracked so later roots can override earlier ones.
type SkillFile struct {
	SkillName    string
	RelativePath string
	AbsolutePath string
	Meta         FileMeta
}

// ManifestPath is the known sandbox-resident path for the manifest file.
const ManifestPath = ".skills_manifest.json"

// ScanSkillRoots enumerates local skill roots in precedence order (user <
// project; later overrides earlier). Each root's children that contain a
// SKILL.md file are treated as one named skill; when the same skill name
// appears in a later root, the earlier root's files for that name are
// entirely discarded (spec §4.6 step 2).
func ScanSkillRoots(roots []string) (map[string][]SkillFile, error) {
	bySkill := map[string][]SkillFile{}

	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("assets: read skill root %s: %w", root, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			skillDir := filepath.Join(root, entry.Name())
			skillMD := filepath.Join(skillDir, "SKILL.md")
			if _, err := os.Stat(skillMD); err != nil {
				continue
			}
			files, err := collectSkillFiles(skillDir)
			if err != nil {
				return nil, err
			}
			// Later roots fully override earlier roots for this skill name.
			bySkill[entry.Name()] = files
		}
	}
	return bySkill, nil
}

func collectSkillFiles(skillDir string) ([]SkillFile, error) {
	var files []SkillFile
	skillName := filepath.Base(skillDir)

	err := filepath.WalkDir(skillDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(skillDir, path)
		if err != nil {
			return err
		}
		files = append(files, SkillFile{
			SkillName:    skillName,
			RelativePath: filepath.ToSlash(filepath.Join(skillName, rel)),
			AbsolutePath: path,
			Meta:         FileMeta{Size: info.Size(), MTimeNs: info.ModTime().UnixNano()},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// BuildManifest computes {version: sha256(sorted("path:size:mtime_ns")),
// files: {...}} over the given skill files (spec §4.6 step 3).
func BuildManifest(bySkill map[string][]SkillFile) Manifest {
	files := map[string]FileMeta{}
	entries := make([]string, 0)
	for _, skillFiles := range bySkill {
		for _, f := range skillFiles {
			files[f.RelativePath] = f.Meta
			entries = append(entries, fmt.Sprintf("%s:%d:%d", f.RelativePath, f.Meta.Size, f.Meta.MTimeNs))
		}
	}
	sort.Strings(entries)
	sum := sha256.Sum256([]byte(strings.Join(entries, "\n")))
	return Manifest{Version: hex.EncodeToString(sum[:]), Files: files}
}

// LoadSkillContent reads a named skill's SKILL.md from local roots in
// precedence order, later overriding earlier, mirroring ScanSkillRoots'
// per-skill override rule (spec §4.9 step 7, §4.6 step 2).
func LoadSkillContent(roots []string, name string) (string, bool) {
	var content string
	found := false
	for _, root := range roots {
		skillMD := filepath.Join(root, name, "SKILL.md")
		raw, err := os.ReadFile(skillMD)
		if err != nil {
			continue
		}
		content = string(raw)
		found = true
	}
	return content, found
}

// ParseManifest parses a sandbox-resident manifest, treating missing or
// corrupt content as "no manifest" (spec §4.6 step 4).
func ParseManifest(raw []byte) (*Manifest, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return &m, true
}
