package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// statements creates every table named in spec §6's "Persisted state
// layout" (abstract schema, not a literal one); grounded on the
// CREATE-TABLE-IF-NOT-EXISTS-with-JSONB idiom the source uses for its own
// Postgres-backed stores.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS workspace (
		workspace_id     TEXT PRIMARY KEY,
		user_id          TEXT NOT NULL,
		name             TEXT NOT NULL,
		description      TEXT,
		sandbox_id       TEXT,
		status           TEXT NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_activity_at TIMESTAMPTZ,
		stopped_at       TIMESTAMPTZ,
		config           JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_workspace_status ON workspace (status)`,
	`CREATE INDEX IF NOT EXISTS idx_workspace_user ON workspace (user_id)`,

	`CREATE TABLE IF NOT EXISTS conversation_thread (
		thread_id      TEXT PRIMARY KEY,
		workspace_id   TEXT NOT NULL REFERENCES workspace(workspace_id),
		thread_index   INTEGER NOT NULL,
		current_status TEXT NOT NULL,
		msg_type       TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (workspace_id, thread_index)
	)`,

	`CREATE TABLE IF NOT EXISTS conversation_query (
		thread_id      TEXT NOT NULL REFERENCES conversation_thread(thread_id),
		pair_index     INTEGER NOT NULL,
		query_id       TEXT NOT NULL,
		content        JSONB NOT NULL,
		type           TEXT NOT NULL,
		feedback_action TEXT,
		metadata       JSONB,
		timestamp      TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (thread_id, pair_index)
	)`,

	`CREATE TABLE IF NOT EXISTS conversation_response (
		thread_id        TEXT NOT NULL,
		pair_index       INTEGER NOT NULL,
		response_id      TEXT NOT NULL,
		status           TEXT NOT NULL,
		interrupt_reason TEXT,
		agent_messages   JSONB,
		metadata         JSONB,
		state_snapshot   JSONB,
		warnings         JSONB,
		errors           JSONB,
		execution_time   DOUBLE PRECISION,
		timestamp        TIMESTAMPTZ NOT NULL DEFAULT now(),
		streaming_chunks JSONB,
		PRIMARY KEY (thread_id, pair_index),
		FOREIGN KEY (thread_id, pair_index) REFERENCES conversation_query(thread_id, pair_index)
	)`,

	`CREATE TABLE IF NOT EXISTS file (
		file_id                TEXT PRIMARY KEY,
		filesystem_id          TEXT NOT NULL,
		file_path              TEXT NOT NULL,
		content                TEXT,
		line_count             INTEGER,
		updated_in_thread_id   TEXT,
		updated_in_pair_index  INTEGER,
		created_in_thread_id   TEXT,
		created_in_pair_index  INTEGER,
		created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (filesystem_id, file_path)
	)`,

	`CREATE TABLE IF NOT EXISTS file_operation (
		operation_id    TEXT PRIMARY KEY,
		file_id         TEXT NOT NULL REFERENCES file(file_id),
		thread_id       TEXT NOT NULL,
		pair_index      INTEGER NOT NULL,
		agent           TEXT,
		operation_index INTEGER NOT NULL,
		operation       TEXT NOT NULL,
		old_string      TEXT,
		new_string      TEXT,
		timestamp       TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (file_id, operation_index)
	)`,
}

// EnsureSchema creates every table and index the core needs if absent.
// Intended to run once at startup (cmd "migrate" subcommand).
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("storage: ensure schema: %w", err)
		}
	}
	return nil
}
