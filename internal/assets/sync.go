package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/semaphore"

	"orchestrator/internal/logging"
)

// uploadConcurrency is the semaphore width for concurrent skill file
// uploads (spec §4.6 step 6 / §5).
const uploadConcurrency = 4

// SandboxTarget is the narrow capability the synchronizer needs from the
// sandbox driver: read/write files and remove a directory tree.
type SandboxTarget interface {
	ReadFile(ctx context.Context, virtualPath string, allowDenied bool) ([]byte, error)
	WriteFile(ctx context.Context, virtualPath string, content []byte) error
	RemoveDir(ctx context.Context, virtualPath string) error
}

// ToolStubTarget is the narrow capability needed to rebuild tool stubs;
// kept separate from SandboxTarget because tool-stub refresh is driven by
// the mcp registry, not the skills content scan.
type ToolStubTarget interface {
	WriteFile(ctx context.Context, virtualPath string, content []byte) error
}

// Synchronizer computes and uploads the skills manifest, and serializes
// tool-stub refreshes behind its own mutex (spec §4.6).
type Synchronizer struct {
	skillsBase string
	roots      []string
	logger     logging.Logger

	refreshMu sync.Mutex
}

// NewSynchronizer constructs a Synchronizer over the given skill roots in
// precedence order (user < project).
func NewSynchronizer(skillsBase string, roots []string, logger logging.Logger) *Synchronizer {
	return &Synchronizer{
		skillsBase: skillsBase,
		roots:      roots,
		logger:     logging.OrNop(logger).With("assets.sync"),
	}
}

// SyncSkills performs the full skills sync algorithm of spec §4.6:
// scan local roots, compute a manifest, compare against the
// sandbox-resident manifest, and upload only on drift (or when the
// sandbox is newly created).
func (s *Synchronizer) SyncSkills(ctx context.Context, target SandboxTarget, freshSandbox bool) error {
	bySkill, err := ScanSkillRoots(s.roots)
	if err != nil {
		return err
	}
	local := BuildManifest(bySkill)

	remoteRaw, _ := target.ReadFile(ctx, s.manifestPath(), true)
	remote, ok := ParseManifest(remoteRaw)

	if !freshSandbox && ok && remote.Version == local.Version {
		s.logger.Debug("skills manifest unchanged (version %s), skipping upload", local.Version)
		return nil
	}
	if freshSandbox {
		remote = nil
	}

	changedSkills := diffSkillNames(remote, bySkill)
	if err := s.uploadSkills(ctx, target, bySkill, changedSkills); err != nil {
		return err
	}

	raw, err := json.Marshal(local)
	if err != nil {
		return err
	}
	return target.WriteFile(ctx, s.manifestPath(), raw)
}

func (s *Synchronizer) manifestPath() string {
	return s.skillsBase + "/" + ManifestPath
}

// diffSkillNames returns the set of skill names that changed relative to
// the remote manifest; when remote is nil (no manifest, or a fresh
// sandbox) every local skill is considered changed.
func diffSkillNames(remote *Manifest, bySkill map[string][]SkillFile) map[string]bool {
	changed := map[string]bool{}
	if remote == nil {
		for name := range bySkill {
			changed[name] = true
		}
		return changed
	}

	localFilesBySkill := map[string]map[string]FileMeta{}
	for name, files := range bySkill {
		m := map[string]FileMeta{}
		for _, f := range files {
			m[f.RelativePath] = f.Meta
		}
		localFilesBySkill[name] = m
	}

	for name, files := range localFilesBySkill {
		for relPath, meta := range files {
			remoteMeta, ok := remote.Files[relPath]
			if !ok || remoteMeta != meta {
				changed[name] = true
				break
			}
		}
	}
	return changed
}

func (s *Synchronizer) uploadSkills(ctx context.Context, target SandboxTarget, bySkill map[string][]SkillFile, changedSkills map[string]bool) error {
	if len(changedSkills) == 0 {
		return nil
	}

	sem := semaphore.NewWeighted(uploadConcurrency)
	var wg sync.WaitGroup
	errs := make(chan error, len(changedSkills))

	for name := range changedSkills {
		files := bySkill[name]
		if err := target.RemoveDir(ctx, s.skillsBase+"/"+name); err != nil {
			s.logger.Warn("removing stale skill dir %s: %v", name, err)
		}

		for _, f := range files {
			f := f
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer sem.Release(1)
				content, err := os.ReadFile(f.AbsolutePath)
				if err != nil {
					errs <- fmt.Errorf("assets: read %s: %w", f.AbsolutePath, err)
					return
				}
				if err := target.WriteFile(ctx, s.skillsBase+"/"+f.RelativePath, content); err != nil {
					errs <- fmt.Errorf("assets: upload %s: %w", f.RelativePath, err)
				}
			}()
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// RefreshToolStubs rebuilds and uploads tool stub modules. A mutex
// prevents concurrent refreshes (spec §4.6).
func (s *Synchronizer) RefreshToolStubs(ctx context.Context, target ToolStubTarget, modules []ToolStubModule) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	for _, m := range modules {
		if err := target.WriteFile(ctx, m.Path, []byte(m.Content)); err != nil {
			return fmt.Errorf("assets: upload tool stub %s: %w", m.Path, err)
		}
	}
	return nil
}

// ToolStubModule mirrors toolstub.Module without importing that package,
// keeping the dependency direction one-way (sandbox bootstrap depends on
// both assets and toolstub; assets stays a leaf).
type ToolStubModule struct {
	Path    string
	Content string
}
