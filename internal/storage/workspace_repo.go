package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"orchestrator/internal/apperrors"
	"orchestrator/internal/workspace"
)

// WorkspaceRepo implements workspace.Repository over the shared pool.
type WorkspaceRepo struct {
	pool *pgxpool.Pool
}

func NewWorkspaceRepo(pool *pgxpool.Pool) *WorkspaceRepo {
	return &WorkspaceRepo{pool: pool}
}

var _ workspace.Repository = (*WorkspaceRepo)(nil)

func (r *WorkspaceRepo) CreateWorkspace(ctx context.Context, w *workspace.Workspace) error {
	cfg, err := json.Marshal(w.Config)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO workspace (workspace_id, user_id, name, description, status, created_at, updated_at, config)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		w.WorkspaceID, w.UserID, w.Name, w.Description, string(w.Status), w.CreatedAt, w.UpdatedAt, cfg,
	)
	return err
}

func (r *WorkspaceRepo) GetWorkspace(ctx context.Context, workspaceID string) (*workspace.Workspace, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT workspace_id, user_id, name, description, sandbox_id, status,
		        created_at, updated_at, last_activity_at, stopped_at, config
		 FROM workspace WHERE workspace_id = $1`, workspaceID)

	var w workspace.Workspace
	var description, sandboxID *string
	var status string
	var cfg []byte
	if err := row.Scan(&w.WorkspaceID, &w.UserID, &w.Name, &description, &sandboxID, &status,
		&w.CreatedAt, &w.UpdatedAt, &w.LastActivityAt, &w.StoppedAt, &cfg); err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrWorkspaceNotFound
		}
		return nil, err
	}
	if description != nil {
		w.Description = *description
	}
	if sandboxID != nil {
		w.SandboxID = *sandboxID
	}
	w.Status = workspace.Status(status)
	if len(cfg) > 0 {
		_ = json.Unmarshal(cfg, &w.Config)
	}
	return &w, nil
}

func (r *WorkspaceRepo) UpdateStatus(ctx context.Context, workspaceID string, status workspace.Status) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE workspace SET status = $1, updated_at = now(),
		        stopped_at = CASE WHEN $1 = 'stopped' THEN now() ELSE stopped_at END
		 WHERE workspace_id = $2`, string(status), workspaceID)
	return err
}

func (r *WorkspaceRepo) SetSandboxID(ctx context.Context, workspaceID, sandboxID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE workspace SET sandbox_id = $1, updated_at = now() WHERE workspace_id = $2`,
		sandboxID, workspaceID)
	return err
}

func (r *WorkspaceRepo) TouchLastActivity(ctx context.Context, workspaceID string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE workspace SET last_activity_at = $1 WHERE workspace_id = $2`, at, workspaceID)
	return err
}

func (r *WorkspaceRepo) ListRunning(ctx context.Context) ([]*workspace.Workspace, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT workspace_id, user_id, name, description, sandbox_id, status,
		        created_at, updated_at, last_activity_at, stopped_at, config
		 FROM workspace WHERE status = 'running'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*workspace.Workspace
	for rows.Next() {
		var w workspace.Workspace
		var description, sandboxID *string
		var status string
		var cfg []byte
		if err := rows.Scan(&w.WorkspaceID, &w.UserID, &w.Name, &description, &sandboxID, &status,
			&w.CreatedAt, &w.UpdatedAt, &w.LastActivityAt, &w.StoppedAt, &cfg); err != nil {
			return nil, err
		}
		if description != nil {
			w.Description = *description
		}
		if sandboxID != nil {
			w.SandboxID = *sandboxID
		}
		w.Status = workspace.Status(status)
		if len(cfg) > 0 {
			_ = json.Unmarshal(cfg, &w.Config)
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

func (r *WorkspaceRepo) SoftDelete(ctx context.Context, workspaceID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE workspace SET status = 'deleted', updated_at = now() WHERE workspace_id = $1`, workspaceID)
	return err
}
