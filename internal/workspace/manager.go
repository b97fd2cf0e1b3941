package workspace

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"orchestrator/internal/apperrors"
	"orchestrator/internal/async"
	"orchestrator/internal/logging"
	"orchestrator/internal/session"
)

// defaultCacheSize bounds the session cache; it is sized well above any
// realistic number of concurrently live workspaces so it behaves as a
// plain concurrent map in practice, while still giving an LRU safety net
// against unbounded growth if eviction ever falls behind (spec §4.8
// describes the cache only as "workspace_id → Session", not an LRU by
// capacity).
const defaultCacheSize = 4096

// SessionFactory builds a new, uninitialized Session for one workspace.
type SessionFactory func(workspaceID string) *session.Session

// Manager is the process-wide singleton authoritative over the workspace
// FSM, session cache, and idle-eviction worker (spec §4.8).
type Manager struct {
	repo    Repository
	newSess SessionFactory
	logger  logging.Logger

	cleanupInterval time.Duration
	idleTimeout     time.Duration

	mu     sync.Mutex
	cache  *lru.Cache[string, *session.Session]
	synced map[string]bool
}

// Config configures eviction timing; zero values fall back to spec
// defaults (cleanup_interval=300s, idle_timeout=1800s).
type Config struct {
	CleanupInterval time.Duration
	IdleTimeout     time.Duration
}

// NewManager constructs a Manager. Call StartEvictionWorker to begin the
// background idle-eviction loop.
func NewManager(repo Repository, newSess SessionFactory, cfg Config, logger logging.Logger) (*Manager, error) {
	cache, err := lru.New[string, *session.Session](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("workspace: create session cache: %w", err)
	}
	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = 300 * time.Second
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 1800 * time.Second
	}
	return &Manager{
		repo:            repo,
		newSess:         newSess,
		logger:          logging.OrNop(logger).With("workspace.manager"),
		cleanupInterval: cleanupInterval,
		idleTimeout:     idleTimeout,
		cache:           cache,
		synced:          make(map[string]bool),
	}, nil
}

// Create runs the (none)→creating→running FSM transition of spec §4.8:
// DB insert, Session.Initialize, asset sync, sandbox_id assignment,
// status=running.
func (m *Manager) Create(ctx context.Context, userID, name, description string, config map[string]any) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	ws := &Workspace{
		WorkspaceID: newWorkspaceID(),
		UserID:      userID,
		Name:        name,
		Description: description,
		Status:      StatusCreating,
		CreatedAt:   now,
		UpdatedAt:   now,
		Config:      config,
	}
	if err := m.repo.CreateWorkspace(ctx, ws); err != nil {
		return nil, &apperrors.PersistenceError{Op: "CreateWorkspace", Cause: err}
	}

	sess := m.newSess(ws.WorkspaceID)
	if err := sess.Initialize(ctx, ""); err != nil {
		_ = m.repo.UpdateStatus(ctx, ws.WorkspaceID, StatusError)
		ws.Status = StatusError
		return ws, err
	}

	sandboxID := sess.Driver.SandboxID()
	if err := m.repo.SetSandboxID(ctx, ws.WorkspaceID, sandboxID); err != nil {
		return nil, &apperrors.PersistenceError{Op: "SetSandboxID", Cause: err}
	}
	if err := m.repo.UpdateStatus(ctx, ws.WorkspaceID, StatusRunning); err != nil {
		return nil, &apperrors.PersistenceError{Op: "UpdateStatus", Cause: err}
	}
	ws.SandboxID = sandboxID
	ws.Status = StatusRunning

	sess.MarkUserDataSynced()
	m.cache.Add(ws.WorkspaceID, sess)
	m.synced[ws.WorkspaceID] = true

	return ws, nil
}

// GetSessionForWorkspace is the single entry point used by the Turn
// Pipeline (spec §4.8). It rejects deleted/error as terminal and
// creating/stopping as busy, and reconnects a stopped workspace on
// demand.
func (m *Manager) GetSessionForWorkspace(ctx context.Context, workspaceID, userID string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, err := m.repo.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, apperrors.ErrWorkspaceNotFound
	}
	if userID != "" && ws.UserID != userID {
		return nil, apperrors.ErrForbidden
	}

	switch ws.Status {
	case StatusDeleted:
		return nil, apperrors.ErrWorkspaceDeleted
	case StatusError:
		return nil, apperrors.ErrWorkspaceError
	case StatusCreating, StatusStopping:
		return nil, &apperrors.SandboxBusy{WorkspaceID: workspaceID, State: string(ws.Status)}
	}

	if sess, ok := m.cache.Get(workspaceID); ok {
		_ = m.repo.TouchLastActivity(ctx, workspaceID, time.Now())
		if !m.synced[workspaceID] {
			if err := sess.Sync.SyncSkills(ctx, sess.Driver, false); err != nil {
				m.logger.Warn("user-data sync on cache hit failed: %v", err)
			}
			m.synced[workspaceID] = true
		}
		return sess, nil
	}

	// stopped → getSession: reconnect using the persisted sandbox_id.
	sess := m.newSess(workspaceID)
	if err := sess.Initialize(ctx, ws.SandboxID); err != nil {
		_ = m.repo.UpdateStatus(ctx, workspaceID, StatusError)
		return nil, err
	}
	if err := sess.Sync.SyncSkills(ctx, sess.Driver, false); err != nil {
		m.logger.Warn("reconnect asset sync failed: %v", err)
	}
	if err := m.repo.UpdateStatus(ctx, workspaceID, StatusRunning); err != nil {
		return nil, &apperrors.PersistenceError{Op: "UpdateStatus", Cause: err}
	}
	_ = m.repo.TouchLastActivity(ctx, workspaceID, time.Now())

	m.cache.Add(workspaceID, sess)
	m.synced[workspaceID] = true
	return sess, nil
}

// Stop runs the running→stopping→stopped transition: Session.Stop(),
// remove from cache, clear the sync marker.
func (m *Manager) Stop(ctx context.Context, workspaceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(ctx, workspaceID)
}

func (m *Manager) stopLocked(ctx context.Context, workspaceID string) error {
	if err := m.repo.UpdateStatus(ctx, workspaceID, StatusStopping); err != nil {
		return &apperrors.PersistenceError{Op: "UpdateStatus", Cause: err}
	}

	if sess, ok := m.cache.Get(workspaceID); ok {
		if err := sess.Stop(ctx); err != nil {
			m.logger.Warn("session stop for %s: %v", workspaceID, err)
		}
	}
	m.cache.Remove(workspaceID)
	delete(m.synced, workspaceID)

	if err := m.repo.UpdateStatus(ctx, workspaceID, StatusStopped); err != nil {
		return &apperrors.PersistenceError{Op: "UpdateStatus", Cause: err}
	}
	return nil
}

// Delete runs running/stopped→deleted: Session.Cleanup() (deletes the
// sandbox), soft-delete row.
func (m *Manager) Delete(ctx context.Context, workspaceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.cache.Get(workspaceID); ok {
		if err := sess.Cleanup(ctx); err != nil {
			m.logger.Warn("session cleanup for %s: %v", workspaceID, err)
		}
	} else {
		sess := m.newSess(workspaceID)
		ws, err := m.repo.GetWorkspace(ctx, workspaceID)
		if err == nil && ws.SandboxID != "" {
			_ = sess.Initialize(ctx, ws.SandboxID)
			_ = sess.Cleanup(ctx)
		}
	}
	m.cache.Remove(workspaceID)
	delete(m.synced, workspaceID)

	return m.repo.SoftDelete(ctx, workspaceID)
}

func newWorkspaceID() string {
	return "ws_" + uuid.New().String()
}

// StartEvictionWorker launches the background loop that stops workspaces
// idle longer than idleTimeout (spec §4.8). Cancelling ctx stops the
// worker cleanly without stopping any Session.
func (m *Manager) StartEvictionWorker(ctx context.Context) {
	async.Go(m.logger, "workspace-eviction", func() {
		ticker := time.NewTicker(m.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.evictIdle(ctx)
			}
		}
	})
}

func (m *Manager) evictIdle(ctx context.Context) {
	running, err := m.repo.ListRunning(ctx)
	if err != nil {
		m.logger.Warn("list running workspaces for eviction: %v", err)
		return
	}
	cutoff := time.Now().Add(-m.idleTimeout)
	for _, ws := range running {
		if ws.LastActivityAt == nil || ws.LastActivityAt.After(cutoff) {
			continue
		}
		m.logger.Info("evicting idle workspace %s (last activity %s)", ws.WorkspaceID, ws.LastActivityAt)
		m.mu.Lock()
		if err := m.stopLocked(ctx, ws.WorkspaceID); err != nil {
			m.logger.Warn("idle eviction stop for %s: %v", ws.WorkspaceID, err)
		}
		m.mu.Unlock()
	}
}
