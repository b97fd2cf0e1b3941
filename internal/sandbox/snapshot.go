package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// SnapshotSpec is the canonical set of inputs that determine a snapshot's
// identity (spec §4.5, §6 "Snapshot naming").
type SnapshotSpec struct {
	PythonVersion string
	Dependencies  []string
	AptPackages   []string
	MCPPackages   []string
}

type canonicalSnapshotSpec struct {
	PythonVersion string   `json:"python_version"`
	Dependencies  []string `json:"deps"`
	AptPackages   []string `json:"apt_packages"`
	MCPPackages   []string `json:"mcp_packages"`
}

// SnapshotName computes "<base>-<8hex>" where the hex is
// sha256(canonical(spec))[:8], order-independent over each list (spec §8,
// property 9 "Snapshot hash stability").
func SnapshotName(base string, spec SnapshotSpec) string {
	return base + "-" + snapshotHash(spec)
}

func snapshotHash(spec SnapshotSpec) string {
	canonical := canonicalSnapshotSpec{
		PythonVersion: spec.PythonVersion,
		Dependencies:  sortedCopy(spec.Dependencies),
		AptPackages:   sortedCopy(spec.AptPackages),
		MCPPackages:   sortedCopy(spec.MCPPackages),
	}
	raw, _ := json.Marshal(canonical)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:8]
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
