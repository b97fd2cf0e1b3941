package session

import (
	"context"
	"testing"
	"time"

	"orchestrator/internal/sandbox"
)

type fakeProvider struct {
	state SandboxState
}

type SandboxState = sandbox.SandboxState

func newFakeProvider() *fakeProvider { return &fakeProvider{state: sandbox.StateStarted} }

func (f *fakeProvider) CreateFromSnapshot(ctx context.Context, name string) (string, error) {
	return "sandbox-1", nil
}
func (f *fakeProvider) CreateDefault(ctx context.Context) (string, error) { return "sandbox-1", nil }
func (f *fakeProvider) GetState(ctx context.Context, id string) (sandbox.SandboxState, error) {
	return f.state, nil
}
func (f *fakeProvider) Start(ctx context.Context, id string, timeout time.Duration) error {
	f.state = sandbox.StateStarted
	return nil
}
func (f *fakeProvider) Stop(ctx context.Context, id string) error {
	f.state = sandbox.StateStopped
	return nil
}
func (f *fakeProvider) Delete(ctx context.Context, id string) error { return nil }
func (f *fakeProvider) SnapshotExists(ctx context.Context, name string) (bool, bool, error) {
	return false, false, nil
}
func (f *fakeProvider) BuildSnapshot(ctx context.Context, name string, spec sandbox.ImageSpec) error {
	return nil
}
func (f *fakeProvider) DeleteSnapshot(ctx context.Context, name string) error { return nil }
func (f *fakeProvider) RunCode(ctx context.Context, id, path string, timeout time.Duration) (sandbox.ExecResult, error) {
	return sandbox.ExecResult{}, nil
}
func (f *fakeProvider) RunCommand(ctx context.Context, id, command string, timeout time.Duration) (sandbox.ExecResult, error) {
	return sandbox.ExecResult{}, nil
}
func (f *fakeProvider) PipInstall(ctx context.Context, id string, packages []string) error { return nil }
func (f *fakeProvider) ReadFile(ctx context.Context, id, path string) ([]byte, error)      { return nil, nil }
func (f *fakeProvider) WriteFile(ctx context.Context, id, path string, content []byte) error {
	return nil
}
func (f *fakeProvider) DeleteFile(ctx context.Context, id, path string) error { return nil }
func (f *fakeProvider) MkdirAll(ctx context.Context, id, path string) error  { return nil }
func (f *fakeProvider) ListDir(ctx context.Context, id, path string) ([]sandbox.FileEntry, error) {
	return nil, nil
}

func TestSessionInitializeIsIdempotent(t *testing.T) {
	provider := newFakeProvider()
	sess := New("ws-1", CoreConfig{SnapshotBase: "orchestrator", SkillsBase: "skills"}, provider, nil)

	if err := sess.Initialize(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	if !sess.Initialized() {
		t.Fatal("expected session to be initialized")
	}

	if err := sess.Initialize(context.Background(), ""); err != nil {
		t.Fatalf("second Initialize call should be a no-op, got error: %v", err)
	}
}

func TestSessionStopMarksUninitialized(t *testing.T) {
	provider := newFakeProvider()
	sess := New("ws-1", CoreConfig{SnapshotBase: "orchestrator", SkillsBase: "skills"}, provider, nil)
	if err := sess.Initialize(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	if err := sess.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sess.Initialized() {
		t.Fatal("expected session to be uninitialized after Stop")
	}
}

func TestSessionReconnectWithExistingSandboxID(t *testing.T) {
	provider := newFakeProvider()
	provider.state = sandbox.StateStopped
	sess := New("ws-1", CoreConfig{SnapshotBase: "orchestrator", SkillsBase: "skills"}, provider, nil)

	if err := sess.Initialize(context.Background(), "sandbox-1"); err != nil {
		t.Fatal(err)
	}
	if sess.Driver.SandboxID() != "sandbox-1" {
		t.Fatalf("expected reconnect to bind sandbox-1, got %s", sess.Driver.SandboxID())
	}
}
