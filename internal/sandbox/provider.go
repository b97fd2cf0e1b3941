// Package sandbox wraps the remote sandbox provider (spec §4.5): snapshot
// management, create/reconnect, code/bash execution with auto-install,
// and path-validated file operations. Most provider calls are routed
// through internal/retry.Gate; see Driver for the ones that are not.
package sandbox

import (
	"context"
	"time"

	sandboxsdk "github.com/agent-infra/sandbox-sdk-go"
)

// ExecResult is the normalized outcome of one code or bash execution.
type ExecResult struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Artifacts []Artifact
}

// Artifact is one base64-encoded output file produced by an execution
// (e.g. a chart PNG).
type Artifact struct {
	Name     string
	MimeType string
	DataB64  string
}

// FileEntry is one result row of a list/glob/grep operation.
type FileEntry struct {
	Path    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// SandboxState mirrors the provider's lifecycle state for one sandbox.
type SandboxState string

const (
	StateStarted SandboxState = "started"
	StateStopped SandboxState = "stopped"
	StateError   SandboxState = "error"
)

// Provider is the capability surface this package needs from the
// underlying SDK client. It is kept narrow and adapted by sdkProvider so
// that internal/sandbox's own logic (retry policy, path validation,
// auto-install) never touches the SDK's wire types directly.
type Provider interface {
	CreateFromSnapshot(ctx context.Context, snapshotName string) (sandboxID string, err error)
	CreateDefault(ctx context.Context) (sandboxID string, err error)
	GetState(ctx context.Context, sandboxID string) (SandboxState, error)
	Start(ctx context.Context, sandboxID string, timeout time.Duration) error
	Stop(ctx context.Context, sandboxID string) error
	Delete(ctx context.Context, sandboxID string) error

	SnapshotExists(ctx context.Context, snapshotName string) (exists bool, active bool, err error)
	BuildSnapshot(ctx context.Context, snapshotName string, spec ImageSpec) error
	DeleteSnapshot(ctx context.Context, snapshotName string) error

	RunCode(ctx context.Context, sandboxID, path string, timeout time.Duration) (ExecResult, error)
	RunCommand(ctx context.Context, sandboxID, command string, timeout time.Duration) (ExecResult, error)
	PipInstall(ctx context.Context, sandboxID string, packages []string) error

	ReadFile(ctx context.Context, sandboxID, path string) ([]byte, error)
	WriteFile(ctx context.Context, sandboxID, path string, content []byte) error
	DeleteFile(ctx context.Context, sandboxID, path string) error
	MkdirAll(ctx context.Context, sandboxID, path string) error
	ListDir(ctx context.Context, sandboxID, path string) ([]FileEntry, error)
}

// ImageSpec declares everything a from-scratch snapshot build needs.
type ImageSpec struct {
	PythonVersion string
	PipPackages   []string
	AptPackages   []string
	MCPPackages   []string
	NodeRuntime   bool
}

// sdkProvider adapts github.com/agent-infra/sandbox-sdk-go's client to the
// narrow Provider interface above.
type sdkProvider struct {
	client *sandboxsdk.Client
}

// NewSDKProvider constructs a Provider backed by the real sandbox SDK
// client, configured with the provider's base URL and API key (read from
// the SANDBOX_API_KEY environment variable by internal/config).
func NewSDKProvider(baseURL, apiKey string) Provider {
	client := sandboxsdk.NewClient(sandboxsdk.Config{
		BaseURL: baseURL,
		APIKey:  apiKey,
	})
	return &sdkProvider{client: client}
}

func (p *sdkProvider) CreateFromSnapshot(ctx context.Context, snapshotName string) (string, error) {
	resp, err := p.client.CreateSandbox(ctx, &sandboxsdk.CreateSandboxRequest{SnapshotName: snapshotName})
	if err != nil {
		return "", err
	}
	return resp.SandboxID, nil
}

func (p *sdkProvider) CreateDefault(ctx context.Context) (string, error) {
	resp, err := p.client.CreateSandbox(ctx, &sandboxsdk.CreateSandboxRequest{})
	if err != nil {
		return "", err
	}
	return resp.SandboxID, nil
}

func (p *sdkProvider) GetState(ctx context.Context, sandboxID string) (SandboxState, error) {
	resp, err := p.client.GetSandbox(ctx, sandboxID)
	if err != nil {
		return "", err
	}
	return SandboxState(resp.State), nil
}

func (p *sdkProvider) Start(ctx context.Context, sandboxID string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.client.StartSandbox(ctx, sandboxID)
}

func (p *sdkProvider) Stop(ctx context.Context, sandboxID string) error {
	return p.client.StopSandbox(ctx, sandboxID)
}

func (p *sdkProvider) Delete(ctx context.Context, sandboxID string) error {
	return p.client.DeleteSandbox(ctx, sandboxID)
}

func (p *sdkProvider) SnapshotExists(ctx context.Context, snapshotName string) (bool, bool, error) {
	resp, err := p.client.GetSnapshot(ctx, snapshotName)
	if err != nil {
		if sandboxsdk.IsNotFound(err) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, resp.Status == "active", nil
}

func (p *sdkProvider) BuildSnapshot(ctx context.Context, snapshotName string, spec ImageSpec) error {
	return p.client.BuildSnapshot(ctx, &sandboxsdk.BuildSnapshotRequest{
		Name:          snapshotName,
		PythonVersion: spec.PythonVersion,
		PipPackages:   spec.PipPackages,
		AptPackages:   spec.AptPackages,
		NodePackages:  spec.MCPPackages,
		InstallNode:   spec.NodeRuntime,
	})
}

func (p *sdkProvider) DeleteSnapshot(ctx context.Context, snapshotName string) error {
	return p.client.DeleteSnapshot(ctx, snapshotName)
}

func (p *sdkProvider) RunCode(ctx context.Context, sandboxID, path string, timeout time.Duration) (ExecResult, error) {
	resp, err := p.client.RunCode(ctx, sandboxID, &sandboxsdk.RunCodeRequest{Path: path, TimeoutSeconds: int(timeout.Seconds())})
	if err != nil {
		return ExecResult{}, err
	}
	return convertExecResponse(resp), nil
}

func (p *sdkProvider) RunCommand(ctx context.Context, sandboxID, command string, timeout time.Duration) (ExecResult, error) {
	resp, err := p.client.RunCommand(ctx, sandboxID, &sandboxsdk.RunCommandRequest{Command: command, TimeoutSeconds: int(timeout.Seconds())})
	if err != nil {
		return ExecResult{}, err
	}
	return convertExecResponse(resp), nil
}

func convertExecResponse(resp *sandboxsdk.ExecResponse) ExecResult {
	result := ExecResult{Stdout: resp.Stdout, Stderr: resp.Stderr, ExitCode: resp.ExitCode}
	for _, a := range resp.Artifacts {
		result.Artifacts = append(result.Artifacts, Artifact{Name: a.Name, MimeType: a.MimeType, DataB64: a.DataBase64})
	}
	return result
}

func (p *sdkProvider) PipInstall(ctx context.Context, sandboxID string, packages []string) error {
	_, err := p.client.RunCommand(ctx, sandboxID, &sandboxsdk.RunCommandRequest{
		Command:        "pip install " + joinArgs(packages),
		TimeoutSeconds: 120,
	})
	return err
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

func (p *sdkProvider) ReadFile(ctx context.Context, sandboxID, path string) ([]byte, error) {
	resp, err := p.client.ReadFile(ctx, sandboxID, path)
	if err != nil {
		return nil, err
	}
	return resp.Content, nil
}

func (p *sdkProvider) WriteFile(ctx context.Context, sandboxID, path string, content []byte) error {
	return p.client.WriteFile(ctx, sandboxID, path, content)
}

func (p *sdkProvider) DeleteFile(ctx context.Context, sandboxID, path string) error {
	return p.client.DeleteFile(ctx, sandboxID, path)
}

func (p *sdkProvider) MkdirAll(ctx context.Context, sandboxID, path string) error {
	return p.client.Mkdir(ctx, sandboxID, path, true)
}

func (p *sdkProvider) ListDir(ctx context.Context, sandboxID, path string) ([]FileEntry, error) {
	resp, err := p.client.ListDir(ctx, sandboxID, path)
	if err != nil {
		return nil, err
	}
	entries := make([]FileEntry, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		entries = append(entries, FileEntry{Path: e.Path, IsDir: e.IsDir, Size: e.Size, ModTime: e.ModTime})
	}
	return entries, nil
}
