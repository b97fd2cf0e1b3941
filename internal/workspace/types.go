// Package workspace implements the Workspace Manager (spec §4.8): the
// process-wide singleton that owns the authoritative workspace FSM, the
// in-process Session cache, and the idle-eviction worker.
package workspace

import (
	"context"
	"time"
)

// Status is the workspace lifecycle state (spec §3).
type Status string

const (
	StatusCreating Status = "creating"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
	StatusDeleted  Status = "deleted"
)

// Workspace is the persisted entity (spec §3).
type Workspace struct {
	WorkspaceID    string
	UserID         string
	Name           string
	Description    string
	SandboxID      string
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastActivityAt *time.Time
	StoppedAt      *time.Time
	Config         map[string]any
}

// Repository is the persistence capability the Workspace Manager needs;
// implemented by internal/storage (component J).
type Repository interface {
	CreateWorkspace(ctx context.Context, w *Workspace) error
	GetWorkspace(ctx context.Context, workspaceID string) (*Workspace, error)
	UpdateStatus(ctx context.Context, workspaceID string, status Status) error
	SetSandboxID(ctx context.Context, workspaceID, sandboxID string) error
	TouchLastActivity(ctx context.Context, workspaceID string, at time.Time) error
	ListRunning(ctx context.Context) ([]*Workspace, error)
	SoftDelete(ctx context.Context, workspaceID string) error
}
