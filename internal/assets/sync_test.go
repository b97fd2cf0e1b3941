package assets

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

type fakeSandboxTarget struct {
	files   map[string][]byte
	removed []string
	uploads int
}

func newFakeSandboxTarget() *fakeSandboxTarget {
	return &fakeSandboxTarget{files: map[string][]byte{}}
}

func (f *fakeSandboxTarget) ReadFile(ctx context.Context, path string, allowDenied bool) ([]byte, error) {
	return f.files[path], nil
}
func (f *fakeSandboxTarget) WriteFile(ctx context.Context, path string, content []byte) error {
	f.uploads++
	f.files[path] = content
	return nil
}
func (f *fakeSandboxTarget) RemoveDir(ctx context.Context, path string) error {
	f.removed = append(f.removed, path)
	return nil
}

func writeSkill(t *testing.T, root, name, body string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanSkillRootsLaterRootOverridesEarlier(t *testing.T) {
	userRoot := t.TempDir()
	projectRoot := t.TempDir()
	writeSkill(t, userRoot, "research", "user version")
	writeSkill(t, projectRoot, "research", "project version")

	bySkill, err := ScanSkillRoots([]string{userRoot, projectRoot})
	if err != nil {
		t.Fatal(err)
	}
	files, ok := bySkill["research"]
	if !ok || len(files) != 1 {
		t.Fatalf("expected exactly 1 file for research skill, got %+v", files)
	}
	content, _ := os.ReadFile(files[0].AbsolutePath)
	if string(content) != "project version" {
		t.Fatalf("expected project root to win, got %q", content)
	}
}

func TestSyncSkillsSecondRunWithNoChangesUploadsNothing(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "research", "instructions")

	sync := NewSynchronizer("skills", []string{root}, nil)
	target := newFakeSandboxTarget()

	if err := sync.SyncSkills(context.Background(), target, true); err != nil {
		t.Fatal(err)
	}
	firstUploads := target.uploads
	if firstUploads == 0 {
		t.Fatal("expected at least one upload on first (fresh sandbox) sync")
	}

	if err := sync.SyncSkills(context.Background(), target, false); err != nil {
		t.Fatal(err)
	}
	if target.uploads != firstUploads {
		t.Fatalf("expected zero additional uploads on unchanged second run, went from %d to %d", firstUploads, target.uploads)
	}
}

func TestSyncSkillsUploadsOnDrift(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "research", "v1")

	sync := NewSynchronizer("skills", []string{root}, nil)
	target := newFakeSandboxTarget()
	if err := sync.SyncSkills(context.Background(), target, true); err != nil {
		t.Fatal(err)
	}
	firstUploads := target.uploads

	writeSkill(t, root, "research", "v2 changed content")
	if err := sync.SyncSkills(context.Background(), target, false); err != nil {
		t.Fatal(err)
	}
	if target.uploads <= firstUploads {
		t.Fatal("expected additional uploads after local content changed")
	}
}

func TestBuildManifestIsOrderIndependent(t *testing.T) {
	bySkill := map[string][]SkillFile{
		"a": {{RelativePath: "a/SKILL.md", Meta: FileMeta{Size: 10, MTimeNs: 1}}},
		"b": {{RelativePath: "b/SKILL.md", Meta: FileMeta{Size: 20, MTimeNs: 2}}},
	}
	m1 := BuildManifest(bySkill)
	m2 := BuildManifest(map[string][]SkillFile{
		"b": bySkill["b"],
		"a": bySkill["a"],
	})
	if m1.Version != m2.Version {
		t.Fatalf("expected manifest version to be map-iteration-order independent, got %s vs %s", m1.Version, m2.Version)
	}
}
