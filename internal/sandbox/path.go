package sandbox

import (
	"fmt"
	"path"
	"strings"
)

// allowedAbsolutePrefixes are virtual paths left untouched by Normalize
// because they refer to locations outside the sandbox's per-workspace
// working directory (spec §4.5).
var allowedAbsolutePrefixes = []string{"/tmp"}

// deniedPrefixes guard the provider's own control files; Validate rejects
// them unless allowDenied is set.
var deniedPrefixes = []string{"/proc", "/sys", "/etc/shadow"}

// PathValidator normalizes, virtualizes and validates paths against the
// sandbox's single working directory, per spec §4.5.
type PathValidator struct {
	workingDir string
}

// NewPathValidator builds a validator rooted at workingDir (e.g.
// "/home/user/workspace").
func NewPathValidator(workingDir string) *PathValidator {
	return &PathValidator{workingDir: strings.TrimRight(workingDir, "/")}
}

// Normalize maps "" | "." | "/" to the working directory, and any other
// virtual path (e.g. "/results/x") under the working directory, unless it
// starts with an allowed absolute prefix (e.g. "/tmp/...").
func (v *PathValidator) Normalize(p string) string {
	if p == "" || p == "." || p == "/" {
		return v.workingDir
	}
	for _, prefix := range allowedAbsolutePrefixes {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return path.Clean(p)
		}
	}
	if strings.HasPrefix(p, "/") {
		return path.Clean(v.workingDir + p)
	}
	return path.Clean(v.workingDir + "/" + p)
}

// Virtualize inverts Normalize: a real path under the working directory
// is returned relative to it (prefixed with "/"); paths under an allowed
// absolute prefix are returned unchanged.
func (v *PathValidator) Virtualize(real string) string {
	for _, prefix := range allowedAbsolutePrefixes {
		if real == prefix || strings.HasPrefix(real, prefix+"/") {
			return real
		}
	}
	if real == v.workingDir {
		return "/"
	}
	if strings.HasPrefix(real, v.workingDir+"/") {
		return strings.TrimPrefix(real, v.workingDir)
	}
	return real
}

// Validate enforces the allow-list with a deny-list override. allowDenied
// permits explicit user-initiated inspection to bypass the deny-list
// (spec §4.5).
func (v *PathValidator) Validate(p string, allowDenied bool) error {
	normalized := v.Normalize(p)
	if !allowDenied {
		for _, denied := range deniedPrefixes {
			if normalized == denied || strings.HasPrefix(normalized, denied+"/") {
				return fmt.Errorf("path %q is denied", p)
			}
		}
	}
	return nil
}
