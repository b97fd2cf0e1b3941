package sandbox

import "testing"

func TestSnapshotNamePermutationInvariant(t *testing.T) {
	specA := SnapshotSpec{
		PythonVersion: "3.11",
		Dependencies:  []string{"pandas", "numpy"},
		MCPPackages:   []string{"a", "b"},
	}
	specB := SnapshotSpec{
		PythonVersion: "3.11",
		Dependencies:  []string{"numpy", "pandas"},
		MCPPackages:   []string{"b", "a"},
	}

	nameA := SnapshotName("workspace-base", specA)
	nameB := SnapshotName("workspace-base", specB)
	if nameA != nameB {
		t.Fatalf("expected permutation-invariant snapshot names, got %s vs %s", nameA, nameB)
	}
}

func TestSnapshotNameChangesWithDifferentDeps(t *testing.T) {
	base := SnapshotSpec{PythonVersion: "3.11", Dependencies: []string{"pandas"}}
	changed := SnapshotSpec{PythonVersion: "3.11", Dependencies: []string{"pandas", "numpy"}}
	if SnapshotName("x", base) == SnapshotName("x", changed) {
		t.Fatal("expected different dependency sets to produce different snapshot names")
	}
}

func TestSnapshotNameHasExpectedShape(t *testing.T) {
	name := SnapshotName("orchestrator", SnapshotSpec{PythonVersion: "3.11"})
	if len(name) != len("orchestrator")+1+8 {
		t.Fatalf("expected base + '-' + 8 hex chars, got %q", name)
	}
}
