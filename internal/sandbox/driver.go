package sandbox

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"orchestrator/internal/apperrors"
	"orchestrator/internal/logging"
	"orchestrator/internal/retry"
)

const (
	reconnectStartTimeout = 60 * time.Second
	defaultExecTimeout    = 120 * time.Second
	defaultMaxExecRetries = 2
)

// bootstrapDirs are created in parallel when a workspace's sandbox is set
// up for the first time (spec §4.5).
var bootstrapDirs = []string{"tools", "tools/docs", "results", "data", "code", "_internal/src"}

// Driver presents a stable capability interface over the remote sandbox
// provider (spec §4.5). Provider calls flow through a retry.Gate, except
// Reconnect's GetState/Start, Delete, the bootstrap MkdirAll calls and
// ExecCode's PipInstall, which call the provider directly without retry.
type Driver struct {
	workspaceID string
	provider    Provider
	gate        *retry.Gate
	logger      logging.Logger
	paths       *PathValidator

	mu        sync.RWMutex
	sandboxID string
	state     SandboxState

	reconnectMu sync.Mutex
	refreshMu   sync.Mutex

	execCounter atomic.Int64
	bashCounter atomic.Int64
}

// NewDriver constructs a Driver for one workspace; it does not create or
// connect to a sandbox until SetupWorkspace or Reconnect is called.
func NewDriver(workspaceID string, provider Provider, logger logging.Logger) *Driver {
	d := &Driver{
		workspaceID: workspaceID,
		provider:    provider,
		logger:      logging.OrNop(logger).With("sandbox." + workspaceID),
		paths:       NewPathValidator("/home/user/workspace"),
	}
	d.gate = retry.NewGate(d, d.logger)
	return d
}

// EnsureConnected implements retry.Reconnector: it is invoked by the Gate
// before a retry, coalesced across concurrent callers.
func (d *Driver) EnsureConnected(ctx context.Context) error {
	d.mu.RLock()
	sandboxID := d.sandboxID
	d.mu.RUnlock()
	if sandboxID == "" {
		return fmt.Errorf("sandbox: no sandbox bound yet")
	}
	return d.Reconnect(ctx, sandboxID)
}

// SandboxID returns the currently bound opaque sandbox id, or "" if none.
func (d *Driver) SandboxID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sandboxID
}

// SetupWorkspace creates a sandbox, preferring the snapshot fast path and
// falling back to a full bootstrap on failure (spec §4.5).
func (d *Driver) SetupWorkspace(ctx context.Context, snapshotName string, spec ImageSpec) error {
	result, err := d.gate.Call(ctx, retry.SAFE, false, func(ctx context.Context) (any, error) {
		return d.createFromSnapshotOrBootstrap(ctx, snapshotName, spec)
	})
	if err != nil {
		return err
	}
	sandboxID := result.(string)

	d.mu.Lock()
	d.sandboxID = sandboxID
	d.state = StateStarted
	d.mu.Unlock()

	return d.bootstrapDirectories(ctx)
}

func (d *Driver) createFromSnapshotOrBootstrap(ctx context.Context, snapshotName string, spec ImageSpec) (string, error) {
	exists, active, err := d.provider.SnapshotExists(ctx, snapshotName)
	if err == nil && exists && !active {
		_ = d.provider.DeleteSnapshot(ctx, snapshotName)
		exists = false
	}
	if err == nil && !exists {
		if buildErr := d.provider.BuildSnapshot(ctx, snapshotName, spec); buildErr != nil {
			d.logger.Warn("snapshot build failed, falling back to default image: %v", buildErr)
			return d.provider.CreateDefault(ctx)
		}
	}

	sandboxID, err := d.provider.CreateFromSnapshot(ctx, snapshotName)
	if err != nil {
		d.logger.Warn("create-from-snapshot failed, falling back to default image: %v", err)
		return d.provider.CreateDefault(ctx)
	}
	return sandboxID, nil
}

func (d *Driver) bootstrapDirectories(ctx context.Context) error {
	d.mu.RLock()
	sandboxID := d.sandboxID
	d.mu.RUnlock()

	group, gctx := errgroup.WithContext(ctx)
	for _, dir := range bootstrapDirs {
		dir := dir
		group.Go(func() error {
			return d.provider.MkdirAll(gctx, sandboxID, dir)
		})
	}
	return group.Wait()
}

// Reconnect checks the sandbox's state and starts it if stopped; a no-op
// if already started; any other state is a hard error (spec §4.5).
func (d *Driver) Reconnect(ctx context.Context, sandboxID string) error {
	state, err := d.provider.GetState(ctx, sandboxID)
	if err != nil {
		return fmt.Errorf("sandbox reconnect: get state: %w", err)
	}

	switch state {
	case StateStopped:
		if err := d.provider.Start(ctx, sandboxID, reconnectStartTimeout); err != nil {
			return &apperrors.SandboxTerminal{WorkspaceID: d.workspaceID, State: string(state)}
		}
	case StateStarted:
		// no-op
	default:
		return &apperrors.SandboxTerminal{WorkspaceID: d.workspaceID, State: string(state)}
	}

	d.mu.Lock()
	d.sandboxID = sandboxID
	d.state = StateStarted
	d.mu.Unlock()
	return nil
}

// Stop stops the sandbox without deleting it.
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.RLock()
	sandboxID := d.sandboxID
	d.mu.RUnlock()
	if sandboxID == "" {
		return nil
	}
	_, err := d.gate.Call(ctx, retry.SAFE, false, func(ctx context.Context) (any, error) {
		return nil, d.provider.Stop(ctx, sandboxID)
	})
	if err == nil {
		d.mu.Lock()
		d.state = StateStopped
		d.mu.Unlock()
	}
	return err
}

// Delete deletes the sandbox entirely.
func (d *Driver) Delete(ctx context.Context) error {
	d.mu.RLock()
	sandboxID := d.sandboxID
	d.mu.RUnlock()
	if sandboxID == "" {
		return nil
	}
	return d.provider.Delete(ctx, sandboxID)
}

var moduleNotFoundPattern = regexp.MustCompile(`(?:ModuleNotFoundError|ImportError): No module named '([\w.]+)'`)

// ExecCode writes source to code/<exec_id>.py and runs it, auto-installing
// missing modules on failure and retrying up to maxRetries times (spec
// §4.5). Transport-transient errors from the gate propagate unchanged.
func (d *Driver) ExecCode(ctx context.Context, source string, timeout time.Duration, maxRetries int) (ExecResult, error) {
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxExecRetries
	}

	d.mu.RLock()
	sandboxID := d.sandboxID
	d.mu.RUnlock()

	execID := d.execCounter.Add(1)
	path := fmt.Sprintf("code/%d.py", execID)

	result, err := d.gate.Call(ctx, retry.UNSAFE, true, func(ctx context.Context) (any, error) {
		if err := d.provider.WriteFile(ctx, sandboxID, path, []byte(source)); err != nil {
			return ExecResult{}, err
		}
		return d.provider.RunCode(ctx, sandboxID, path, timeout)
	})
	if err != nil {
		return ExecResult{}, err
	}
	execResult := result.(ExecResult)

	for attempt := 0; attempt < maxRetries && execResult.ExitCode != 0; attempt++ {
		missing := moduleNotFoundPattern.FindStringSubmatch(execResult.Stderr)
		if missing == nil {
			break
		}
		if err := d.provider.PipInstall(ctx, sandboxID, []string{missing[1]}); err != nil {
			d.logger.Warn("pip install %s failed: %v", missing[1], err)
			break
		}
		next, err := d.gate.Call(ctx, retry.UNSAFE, false, func(ctx context.Context) (any, error) {
			return d.provider.RunCode(ctx, sandboxID, path, timeout)
		})
		if err != nil {
			return ExecResult{}, err
		}
		execResult = next.(ExecResult)
	}
	return execResult, nil
}

// ExecBash wraps command in a generated shell script, runs it with a
// timeout, and maps a timeout to exit code 124 (spec §4.5).
func (d *Driver) ExecBash(ctx context.Context, command string, timeout time.Duration) (ExecResult, error) {
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	d.mu.RLock()
	sandboxID := d.sandboxID
	d.mu.RUnlock()

	bashID := d.bashCounter.Add(1)
	path := fmt.Sprintf("code/%d.sh", bashID)
	script := fmt.Sprintf("#!/bin/sh\ntimeout %d %s\n", int(timeout.Seconds()), command)

	result, err := d.gate.Call(ctx, retry.UNSAFE, true, func(ctx context.Context) (any, error) {
		if err := d.provider.WriteFile(ctx, sandboxID, path, []byte(script)); err != nil {
			return ExecResult{}, err
		}
		return d.provider.RunCommand(ctx, sandboxID, "sh "+path, timeout+5*time.Second)
	})
	if err != nil {
		return ExecResult{}, err
	}
	return result.(ExecResult), nil
}
