// Package session implements the Session component (spec §4.7): it binds
// one workspace to one MCP Registry and one Sandbox Driver and owns their
// joint initialize/stop/cleanup lifecycle.
package session

import (
	"context"
	"sync"

	"orchestrator/internal/apperrors"
	"orchestrator/internal/assets"
	"orchestrator/internal/logging"
	"orchestrator/internal/mcp"
	"orchestrator/internal/sandbox"
	"orchestrator/internal/toolstub"
)

// CoreConfig is the subset of configuration a Session needs to bring up
// its sandbox and MCP servers.
type CoreConfig struct {
	MCPServers   []*mcp.ServerConfig
	SnapshotBase string
	ImageSpec    sandbox.ImageSpec
	SkillsBase   string
	SkillRoots   []string
}

// Session binds one workspace_id to one live sandbox + MCP registry
// (spec §3, "Session"). Not persisted; the Workspace Manager owns it.
type Session struct {
	WorkspaceID string

	config   CoreConfig
	provider sandbox.Provider
	logger   logging.Logger

	Driver   *sandbox.Driver
	Registry *mcp.Registry
	Sync     *assets.Synchronizer

	mu             sync.Mutex
	initialized    bool
	userDataSynced bool
}

// New constructs an uninitialized Session for one workspace.
func New(workspaceID string, config CoreConfig, provider sandbox.Provider, logger logging.Logger) *Session {
	log := logging.OrNop(logger).With("session." + workspaceID)
	return &Session{
		WorkspaceID: workspaceID,
		config:      config,
		provider:    provider,
		logger:      log,
		Driver:      sandbox.NewDriver(workspaceID, provider, log),
		Registry:    mcp.NewRegistry(log),
		Sync:        assets.NewSynchronizer(config.SkillsBase, config.SkillRoots, log),
	}
}

// Initialized reports whether the session's sandbox and MCP registry are
// live.
func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// UserDataSynced reports whether user-data sync has already run once in
// this process for this session (spec §4.8 asset sync policy).
func (s *Session) UserDataSynced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userDataSynced
}

// MarkUserDataSynced records that user-data sync has completed.
func (s *Session) MarkUserDataSynced() {
	s.mu.Lock()
	s.userDataSynced = true
	s.mu.Unlock()
}

// Initialize brings the session up. If sandboxID is non-empty, it
// reconnects the existing sandbox and connects the MCP registry in
// parallel; otherwise it bootstraps a fresh sandbox and connects the
// registry in parallel, then runs setupToolsAndMCP once both finish.
// Idempotent: a second call on an already-initialized session is a no-op
// (spec §4.7).
func (s *Session) Initialize(ctx context.Context, sandboxID string) error {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	var sandboxErr, mcpErr error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if sandboxID != "" {
			sandboxErr = s.Driver.Reconnect(ctx, sandboxID)
		} else {
			snapshotName := sandbox.SnapshotName(s.config.SnapshotBase, sandbox.SnapshotSpec{
				PythonVersion: s.config.ImageSpec.PythonVersion,
				Dependencies:  s.config.ImageSpec.PipPackages,
				AptPackages:   s.config.ImageSpec.AptPackages,
				MCPPackages:   s.config.ImageSpec.MCPPackages,
			})
			sandboxErr = s.Driver.SetupWorkspace(ctx, snapshotName, s.config.ImageSpec)
		}
	}()
	go func() {
		defer wg.Done()
		mcpErr = s.Registry.ConnectAll(ctx, s.config.MCPServers)
	}()
	wg.Wait()

	if sandboxErr != nil {
		return sandboxErr
	}
	if mcpErr != nil {
		return mcpErr
	}

	if sandboxID == "" {
		if err := s.setupToolsAndMCP(ctx, true); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	return nil
}

// setupToolsAndMCP generates tool stubs from discovered MCP tools,
// uploads them, and syncs skills (spec §4.5 "Write tool stubs", §4.6).
func (s *Session) setupToolsAndMCP(ctx context.Context, freshSandbox bool) error {
	allTools := s.Registry.GetAllTools()

	clientModule := toolstub.GenerateMCPClientModule(s.config.MCPServers)
	if err := s.Driver.WriteFile(ctx, clientModule.Path, []byte(clientModule.Content)); err != nil {
		return err
	}

	for serverName, tools := range allTools {
		module := toolstub.GenerateServerModule(serverName, tools)
		if err := s.Driver.WriteFile(ctx, module.Path, []byte(module.Content)); err != nil {
			return err
		}
		for _, tool := range tools {
			doc := toolstub.GenerateToolDoc(serverName, tool)
			if err := s.Driver.WriteFile(ctx, doc.Path, []byte(doc.Content)); err != nil {
				return err
			}
		}
	}

	return s.Sync.SyncSkills(ctx, s.Driver, freshSandbox)
}

// Stop disconnects the registry and stops (but does not delete) the
// sandbox, and marks the session uninitialized so a later Initialize
// reconnects (spec §4.7).
//
// Whether Stop should wait for in-flight tool calls to drain is an open
// question the source spec leaves unresolved (spec §9); this
// implementation does not serialize against them, matching the source's
// behavior, because MCP connectors already serialize calls per-server
// (spec §4.2) and a mid-flight call simply fails with a transport error
// that the caller observes as a normal tool-call failure.
func (s *Session) Stop(ctx context.Context) error {
	mcpErr := s.Registry.DisconnectAll(ctx)
	sandboxErr := s.Driver.Stop(ctx)

	s.mu.Lock()
	s.initialized = false
	s.mu.Unlock()

	if sandboxErr != nil {
		return sandboxErr
	}
	return mcpErr
}

// Cleanup disconnects the registry and deletes the sandbox entirely.
func (s *Session) Cleanup(ctx context.Context) error {
	mcpErr := s.Registry.DisconnectAll(ctx)
	sandboxErr := s.Driver.Delete(ctx)

	s.mu.Lock()
	s.initialized = false
	s.mu.Unlock()

	if sandboxErr != nil {
		return sandboxErr
	}
	return mcpErr
}

// RequireInitialized returns apperrors.ErrSessionNotFound if the session
// has not completed Initialize.
func (s *Session) RequireInitialized() error {
	if !s.Initialized() {
		return apperrors.ErrSessionNotFound
	}
	return nil
}
