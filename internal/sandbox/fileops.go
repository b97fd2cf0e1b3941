package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"orchestrator/internal/retry"
)

func parseLineJSONArray(s string) ([]string, error) {
	var out []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &out); err != nil {
		return nil, fmt.Errorf("parse glob/grep output: %w", err)
	}
	return out, nil
}

// ReadFile reads a virtual path, validated against the allow/deny list.
func (d *Driver) ReadFile(ctx context.Context, virtualPath string, allowDenied bool) ([]byte, error) {
	if err := d.paths.Validate(virtualPath, allowDenied); err != nil {
		return nil, err
	}
	real := d.paths.Normalize(virtualPath)
	sandboxID := d.SandboxID()

	result, err := d.gate.Call(ctx, retry.SAFE, true, func(ctx context.Context) (any, error) {
		return d.provider.ReadFile(ctx, sandboxID, real)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// WriteFile writes content to a virtual path.
func (d *Driver) WriteFile(ctx context.Context, virtualPath string, content []byte) error {
	if err := d.paths.Validate(virtualPath, false); err != nil {
		return err
	}
	real := d.paths.Normalize(virtualPath)
	sandboxID := d.SandboxID()

	_, err := d.gate.Call(ctx, retry.SAFE, true, func(ctx context.Context) (any, error) {
		return nil, d.provider.WriteFile(ctx, sandboxID, real, content)
	})
	return err
}

// EditFile reads the current content, replaces the first occurrence of
// oldString with newString, and writes it back. Returns an error if
// oldString is not found.
func (d *Driver) EditFile(ctx context.Context, virtualPath, oldString, newString string) error {
	content, err := d.ReadFile(ctx, virtualPath, false)
	if err != nil {
		return err
	}
	text := string(content)
	if !strings.Contains(text, oldString) {
		return fmt.Errorf("sandbox edit_file: old_string not found in %s", virtualPath)
	}
	updated := strings.Replace(text, oldString, newString, 1)
	return d.WriteFile(ctx, virtualPath, []byte(updated))
}

// Mkdir creates a virtual directory (and its parents).
func (d *Driver) Mkdir(ctx context.Context, virtualPath string) error {
	if err := d.paths.Validate(virtualPath, false); err != nil {
		return err
	}
	real := d.paths.Normalize(virtualPath)
	sandboxID := d.SandboxID()

	_, err := d.gate.Call(ctx, retry.SAFE, true, func(ctx context.Context) (any, error) {
		return nil, d.provider.MkdirAll(ctx, sandboxID, real)
	})
	return err
}

// ListDir returns entries in a virtual directory, with paths translated
// back to their virtual form.
func (d *Driver) ListDir(ctx context.Context, virtualPath string) ([]FileEntry, error) {
	if err := d.paths.Validate(virtualPath, false); err != nil {
		return nil, err
	}
	real := d.paths.Normalize(virtualPath)
	sandboxID := d.SandboxID()

	result, err := d.gate.Call(ctx, retry.SAFE, true, func(ctx context.Context) (any, error) {
		return d.provider.ListDir(ctx, sandboxID, real)
	})
	if err != nil {
		return nil, err
	}
	entries := result.([]FileEntry)
	for i := range entries {
		entries[i].Path = d.paths.Virtualize(entries[i].Path)
	}
	return entries, nil
}

// RemoveDir recursively removes a virtual directory, used by the asset
// synchronizer before re-uploading a skill whose earlier-root version
// must be cleared first (spec §4.6).
func (d *Driver) RemoveDir(ctx context.Context, virtualPath string) error {
	if err := d.paths.Validate(virtualPath, false); err != nil {
		return err
	}
	real := d.paths.Normalize(virtualPath)
	_, err := d.ExecBash(ctx, fmt.Sprintf("rm -rf %q", real), defaultExecTimeout)
	return err
}

// Download reads a file and returns its raw bytes, for callers that need
// to hand the content back to an external caller unmodified (spec §4.5's
// "read/write/edit/glob/grep/list/mkdir/download" enumeration). Unlike a
// default ReadFile, it always reads with allowDenied set, so the deny
// list does not apply.
func (d *Driver) Download(ctx context.Context, virtualPath string) ([]byte, error) {
	return d.ReadFile(ctx, virtualPath, true)
}

// globGrepScript is the generated Python wrapper used to invoke the
// sandbox's native rg/glob tools (spec §4.5: "Grep/glob are implemented
// by executing the sandbox's native rg / glob through a short generated
// Python wrapper").
const globGrepScript = `import json
import subprocess
import sys

mode, pattern, root = sys.argv[1], sys.argv[2], sys.argv[3]
if mode == "glob":
    proc = subprocess.run(["bash", "-lc", f"cd {root} && compgen -G '{pattern}'"], capture_output=True, text=True)
else:
    proc = subprocess.run(["rg", "--files-with-matches", pattern, root], capture_output=True, text=True)
print(json.dumps(proc.stdout.splitlines()))
`

// Glob runs the sandbox's native glob through the generated wrapper
// script and returns matching virtual paths.
func (d *Driver) Glob(ctx context.Context, pattern, rootVirtual string) ([]string, error) {
	return d.runGlobGrep(ctx, "glob", pattern, rootVirtual)
}

// Grep runs the sandbox's native rg through the generated wrapper script
// and returns matching virtual paths.
func (d *Driver) Grep(ctx context.Context, pattern, rootVirtual string) ([]string, error) {
	return d.runGlobGrep(ctx, "grep", pattern, rootVirtual)
}

func (d *Driver) runGlobGrep(ctx context.Context, mode, pattern, rootVirtual string) ([]string, error) {
	if err := d.paths.Validate(rootVirtual, false); err != nil {
		return nil, err
	}
	root := d.paths.Normalize(rootVirtual)
	sandboxID := d.SandboxID()
	scriptPath := "_internal/src/_globgrep.py"

	result, err := d.gate.Call(ctx, retry.SAFE, true, func(ctx context.Context) (any, error) {
		if err := d.provider.WriteFile(ctx, sandboxID, scriptPath, []byte(globGrepScript)); err != nil {
			return nil, err
		}
		return d.provider.RunCommand(ctx, sandboxID, fmt.Sprintf("python3 %s %s %q %s", scriptPath, mode, pattern, root), defaultExecTimeout)
	})
	if err != nil {
		return nil, err
	}
	exec := result.(ExecResult)
	if exec.ExitCode != 0 {
		return nil, fmt.Errorf("sandbox %s failed: %s", mode, exec.Stderr)
	}
	paths, parseErr := parseLineJSONArray(exec.Stdout)
	if parseErr != nil {
		return nil, parseErr
	}
	for i := range paths {
		paths[i] = d.paths.Virtualize(paths[i])
	}
	return paths, nil
}
