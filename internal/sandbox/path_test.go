package sandbox

import "testing"

func TestNormalizeEmptyDotSlashMapToWorkingDir(t *testing.T) {
	v := NewPathValidator("/home/user/workspace")
	for _, p := range []string{"", ".", "/"} {
		if got := v.Normalize(p); got != "/home/user/workspace" {
			t.Fatalf("Normalize(%q) = %q, want working dir", p, got)
		}
	}
}

func TestNormalizeVirtualPathUnderWorkingDir(t *testing.T) {
	v := NewPathValidator("/home/user/workspace")
	got := v.Normalize("/results/x.csv")
	if got != "/home/user/workspace/results/x.csv" {
		t.Fatalf("unexpected normalization: %q", got)
	}
}

func TestNormalizeAllowedAbsolutePrefixUnchanged(t *testing.T) {
	v := NewPathValidator("/home/user/workspace")
	got := v.Normalize("/tmp/scratch.txt")
	if got != "/tmp/scratch.txt" {
		t.Fatalf("expected /tmp path untouched, got %q", got)
	}
}

func TestVirtualizeNormalizeRoundTripIsStable(t *testing.T) {
	v := NewPathValidator("/home/user/workspace")
	for _, p := range []string{"/results/x.csv", "/tmp/scratch.txt", "/"} {
		if err := v.Validate(p, false); err != nil {
			t.Fatalf("validate(%q) unexpectedly failed: %v", p, err)
		}
		real := v.Normalize(p)
		virtual := v.Virtualize(real)
		virtualAgain := v.Virtualize(v.Normalize(virtual))
		if virtual != virtualAgain {
			t.Fatalf("round-trip not stable for %q: %q vs %q", p, virtual, virtualAgain)
		}
	}
}

func TestValidateRejectsDeniedPathsByDefault(t *testing.T) {
	v := NewPathValidator("/home/user/workspace")
	if err := v.Validate("/proc/1/mem", false); err == nil {
		t.Fatal("expected denied path to fail validation")
	}
	if err := v.Validate("/proc/1/mem", true); err != nil {
		t.Fatalf("expected allow-denied mode to bypass deny-list, got %v", err)
	}
}
