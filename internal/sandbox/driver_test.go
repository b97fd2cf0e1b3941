package sandbox

import (
	"context"
	"testing"
	"time"
)

type fakeProvider struct {
	state            SandboxState
	started          bool
	runCodeCalls     int
	pipInstallCalled []string
	files            map[string][]byte
	execSequence     []ExecResult
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{state: StateStopped, files: map[string][]byte{}}
}

func (f *fakeProvider) CreateFromSnapshot(ctx context.Context, name string) (string, error) {
	return "sandbox-1", nil
}
func (f *fakeProvider) CreateDefault(ctx context.Context) (string, error) { return "sandbox-1", nil }
func (f *fakeProvider) GetState(ctx context.Context, id string) (SandboxState, error) {
	return f.state, nil
}
func (f *fakeProvider) Start(ctx context.Context, id string, timeout time.Duration) error {
	f.started = true
	f.state = StateStarted
	return nil
}
func (f *fakeProvider) Stop(ctx context.Context, id string) error   { f.state = StateStopped; return nil }
func (f *fakeProvider) Delete(ctx context.Context, id string) error { return nil }

func (f *fakeProvider) SnapshotExists(ctx context.Context, name string) (bool, bool, error) {
	return true, true, nil
}
func (f *fakeProvider) BuildSnapshot(ctx context.Context, name string, spec ImageSpec) error {
	return nil
}
func (f *fakeProvider) DeleteSnapshot(ctx context.Context, name string) error { return nil }

func (f *fakeProvider) RunCode(ctx context.Context, id, path string, timeout time.Duration) (ExecResult, error) {
	f.runCodeCalls++
	if len(f.execSequence) == 0 {
		return ExecResult{ExitCode: 0}, nil
	}
	result := f.execSequence[0]
	f.execSequence = f.execSequence[1:]
	return result, nil
}
func (f *fakeProvider) RunCommand(ctx context.Context, id, command string, timeout time.Duration) (ExecResult, error) {
	return ExecResult{ExitCode: 0}, nil
}
func (f *fakeProvider) PipInstall(ctx context.Context, id string, packages []string) error {
	f.pipInstallCalled = append(f.pipInstallCalled, packages...)
	return nil
}

func (f *fakeProvider) ReadFile(ctx context.Context, id, path string) ([]byte, error) {
	return f.files[path], nil
}
func (f *fakeProvider) WriteFile(ctx context.Context, id, path string, content []byte) error {
	f.files[path] = content
	return nil
}
func (f *fakeProvider) DeleteFile(ctx context.Context, id, path string) error {
	delete(f.files, path)
	return nil
}
func (f *fakeProvider) MkdirAll(ctx context.Context, id, path string) error { return nil }
func (f *fakeProvider) ListDir(ctx context.Context, id, path string) ([]FileEntry, error) {
	return nil, nil
}

func TestSetupWorkspaceBootstrapsDirectories(t *testing.T) {
	provider := newFakeProvider()
	driver := NewDriver("ws-1", provider, nil)
	err := driver.SetupWorkspace(context.Background(), "orchestrator-abc123", ImageSpec{PythonVersion: "3.11"})
	if err != nil {
		t.Fatal(err)
	}
	if driver.SandboxID() != "sandbox-1" {
		t.Fatalf("expected sandbox-1, got %s", driver.SandboxID())
	}
}

func TestReconnectStartsStoppedSandbox(t *testing.T) {
	provider := newFakeProvider()
	driver := NewDriver("ws-1", provider, nil)
	if err := driver.Reconnect(context.Background(), "sandbox-1"); err != nil {
		t.Fatal(err)
	}
	if !provider.started {
		t.Fatal("expected Start to be called for a stopped sandbox")
	}
}

func TestReconnectNoOpWhenAlreadyStarted(t *testing.T) {
	provider := newFakeProvider()
	provider.state = StateStarted
	driver := NewDriver("ws-1", provider, nil)
	if err := driver.Reconnect(context.Background(), "sandbox-1"); err != nil {
		t.Fatal(err)
	}
	if provider.started {
		t.Fatal("expected Start not to be called when already started")
	}
}

func TestReconnectHardErrorOnOtherState(t *testing.T) {
	provider := newFakeProvider()
	provider.state = StateError
	driver := NewDriver("ws-1", provider, nil)
	if err := driver.Reconnect(context.Background(), "sandbox-1"); err == nil {
		t.Fatal("expected hard error for error-state sandbox")
	}
}

func TestExecCodeAutoInstallsMissingModuleAndRetries(t *testing.T) {
	provider := newFakeProvider()
	provider.execSequence = []ExecResult{
		{ExitCode: 1, Stderr: "ModuleNotFoundError: No module named 'pandas'"},
		{ExitCode: 0, Stdout: "ok"},
	}
	driver := NewDriver("ws-1", provider, nil)
	driver.sandboxID = "sandbox-1"

	result, err := driver.ExecCode(context.Background(), "import pandas", time.Second, 2)
	if err != nil {
		t.Fatal(err)
	}
	if result.ExitCode != 0 || result.Stdout != "ok" {
		t.Fatalf("expected successful retry, got %+v", result)
	}
	if len(provider.pipInstallCalled) != 1 || provider.pipInstallCalled[0] != "pandas" {
		t.Fatalf("expected pip install pandas, got %v", provider.pipInstallCalled)
	}
}

func TestExecBashWritesScriptWithTimeoutWrapper(t *testing.T) {
	provider := newFakeProvider()
	driver := NewDriver("ws-1", provider, nil)
	driver.sandboxID = "sandbox-1"

	_, err := driver.ExecBash(context.Background(), "echo hi", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for path, content := range provider.files {
		if path == "code/1.sh" {
			found = true
			if !containsString(string(content), "timeout 5 echo hi") {
				t.Fatalf("expected timeout wrapper, got %q", content)
			}
		}
	}
	if !found {
		t.Fatal("expected code/1.sh to be written")
	}
}

func containsString(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
