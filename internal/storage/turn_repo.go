package storage

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"orchestrator/internal/turnpipeline"
)

// TurnRepo implements turnpipeline.Repository over the shared pool (spec
// §4.9, §6 persisted layout). All writes for one turn reuse pool-acquired
// connections transparently through pgxpool; pgxpool.Pool itself already
// behaves as the single logical connection per call the spec requires,
// since a turn's sequence of statements runs sequentially from one
// goroutine.
type TurnRepo struct {
	pool *pgxpool.Pool
}

func NewTurnRepo(pool *pgxpool.Pool) *TurnRepo {
	return &TurnRepo{pool: pool}
}

var _ turnpipeline.Repository = (*TurnRepo)(nil)

// EnsureThread implements spec §4.9 step 3: look up by thread_id; if
// missing, create with thread_index = count(threads for workspace).
// Idempotent.
func (r *TurnRepo) EnsureThread(ctx context.Context, workspaceID, threadID string) (*turnpipeline.Thread, error) {
	if existing, err := r.GetThread(ctx, threadID); err == nil {
		return existing, nil
	} else if err != pgx.ErrNoRows {
		return nil, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var count int
	if err := tx.QueryRow(ctx,
		`SELECT count(*) FROM conversation_thread WHERE workspace_id = $1`, workspaceID,
	).Scan(&count); err != nil {
		return nil, err
	}

	t := &turnpipeline.Thread{
		ThreadID:      threadID,
		WorkspaceID:   workspaceID,
		ThreadIndex:   count,
		CurrentStatus: turnpipeline.ThreadInProgress,
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO conversation_thread (thread_id, workspace_id, thread_index, current_status)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (thread_id) DO NOTHING`,
		t.ThreadID, t.WorkspaceID, t.ThreadIndex, string(t.CurrentStatus),
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return r.GetThread(ctx, threadID)
}

func (r *TurnRepo) GetThread(ctx context.Context, threadID string) (*turnpipeline.Thread, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT thread_id, workspace_id, thread_index, current_status, msg_type, created_at, updated_at
		 FROM conversation_thread WHERE thread_id = $1`, threadID)

	var t turnpipeline.Thread
	var status string
	var msgType *string
	if err := row.Scan(&t.ThreadID, &t.WorkspaceID, &t.ThreadIndex, &status, &msgType, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.CurrentStatus = turnpipeline.ThreadStatus(status)
	if msgType != nil {
		t.MsgType = *msgType
	}
	return &t, nil
}

func (r *TurnRepo) UpdateThreadStatus(ctx context.Context, threadID string, status turnpipeline.ThreadStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE conversation_thread SET current_status = $1, updated_at = now() WHERE thread_id = $2`,
		string(status), threadID)
	return err
}

// NextPairIndex implements spec §4.9 step 4: pair_index = count(queries
// where thread_id=...).
func (r *TurnRepo) NextPairIndex(ctx context.Context, threadID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM conversation_query WHERE thread_id = $1`, threadID).Scan(&count)
	return count, err
}

// UpsertQuery is idempotent on (thread_id, pair_index) (spec §3, testable
// property 3 applies symmetrically to query and response).
func (r *TurnRepo) UpsertQuery(ctx context.Context, q *turnpipeline.Query) error {
	content, err := json.Marshal(q.Content)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(q.Metadata)
	if err != nil {
		return err
	}
	if q.QueryID == "" {
		q.QueryID = uuid.New().String()
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO conversation_query (thread_id, pair_index, query_id, content, type, feedback_action, metadata, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (thread_id, pair_index) DO UPDATE SET
		   query_id = EXCLUDED.query_id, content = EXCLUDED.content, type = EXCLUDED.type,
		   feedback_action = EXCLUDED.feedback_action, metadata = EXCLUDED.metadata, timestamp = EXCLUDED.timestamp`,
		q.ThreadID, q.PairIndex, q.QueryID, content, q.Type, q.FeedbackAction, metadata, q.Timestamp)
	return err
}

// UpsertResponse is idempotent on (thread_id, pair_index) (spec §7.8,
// testable property 3).
func (r *TurnRepo) UpsertResponse(ctx context.Context, resp *turnpipeline.Response) error {
	agentMessages, err := json.Marshal(resp.AgentMessages)
	if err != nil {
		return err
	}
	stateSnapshot, err := json.Marshal(resp.StateSnapshot)
	if err != nil {
		return err
	}
	warnings, err := json.Marshal(resp.Warnings)
	if err != nil {
		return err
	}
	errs, err := json.Marshal(resp.Errors)
	if err != nil {
		return err
	}
	chunks, err := json.Marshal(resp.StreamingChunks)
	if err != nil {
		return err
	}
	if resp.ResponseID == "" {
		resp.ResponseID = uuid.New().String()
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO conversation_response
		   (thread_id, pair_index, response_id, status, interrupt_reason, agent_messages,
		    state_snapshot, warnings, errors, execution_time, timestamp, streaming_chunks)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (thread_id, pair_index) DO UPDATE SET
		   response_id = EXCLUDED.response_id, status = EXCLUDED.status,
		   interrupt_reason = EXCLUDED.interrupt_reason, agent_messages = EXCLUDED.agent_messages,
		   state_snapshot = EXCLUDED.state_snapshot, warnings = EXCLUDED.warnings,
		   errors = EXCLUDED.errors, execution_time = EXCLUDED.execution_time,
		   timestamp = EXCLUDED.timestamp, streaming_chunks = EXCLUDED.streaming_chunks`,
		resp.ThreadID, resp.PairIndex, resp.ResponseID, resp.Status, resp.InterruptReason, agentMessages,
		stateSnapshot, warnings, errs, resp.ExecutionTime, resp.Timestamp, chunks)
	return err
}

func (r *TurnRepo) LatestResponse(ctx context.Context, threadID string) (*turnpipeline.Response, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT thread_id, pair_index, response_id, status, interrupt_reason, agent_messages,
		        state_snapshot, warnings, errors, execution_time, timestamp, streaming_chunks
		 FROM conversation_response WHERE thread_id = $1 ORDER BY pair_index DESC LIMIT 1`, threadID)
	return scanResponse(row)
}

func (r *TurnRepo) QueriesAndResponses(ctx context.Context, threadID string) ([]*turnpipeline.Query, []*turnpipeline.Response, error) {
	qRows, err := r.pool.Query(ctx,
		`SELECT thread_id, pair_index, query_id, content, type, feedback_action, metadata, timestamp
		 FROM conversation_query WHERE thread_id = $1 ORDER BY pair_index ASC`, threadID)
	if err != nil {
		return nil, nil, err
	}
	defer qRows.Close()

	var queries []*turnpipeline.Query
	for qRows.Next() {
		var q turnpipeline.Query
		var content, metadata []byte
		var feedbackAction *string
		if err := qRows.Scan(&q.ThreadID, &q.PairIndex, &q.QueryID, &content, &q.Type, &feedbackAction, &metadata, &q.Timestamp); err != nil {
			return nil, nil, err
		}
		if feedbackAction != nil {
			q.FeedbackAction = *feedbackAction
		}
		_ = json.Unmarshal(content, &q.Content)
		_ = json.Unmarshal(metadata, &q.Metadata)
		queries = append(queries, &q)
	}
	if err := qRows.Err(); err != nil {
		return nil, nil, err
	}

	rRows, err := r.pool.Query(ctx,
		`SELECT thread_id, pair_index, response_id, status, interrupt_reason, agent_messages,
		        state_snapshot, warnings, errors, execution_time, timestamp, streaming_chunks
		 FROM conversation_response WHERE thread_id = $1 ORDER BY pair_index ASC`, threadID)
	if err != nil {
		return nil, nil, err
	}
	defer rRows.Close()

	var responses []*turnpipeline.Response
	for rRows.Next() {
		resp, err := scanResponseRows(rRows)
		if err != nil {
			return nil, nil, err
		}
		responses = append(responses, resp)
	}
	return queries, responses, rRows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResponse(row rowScanner) (*turnpipeline.Response, error) {
	return scanResponseRows(row)
}

func scanResponseRows(row rowScanner) (*turnpipeline.Response, error) {
	var resp turnpipeline.Response
	var interruptReason *string
	var agentMessages, stateSnapshot, warnings, errs, chunks []byte
	if err := row.Scan(&resp.ThreadID, &resp.PairIndex, &resp.ResponseID, &resp.Status, &interruptReason,
		&agentMessages, &stateSnapshot, &warnings, &errs, &resp.ExecutionTime, &resp.Timestamp, &chunks); err != nil {
		return nil, err
	}
	if interruptReason != nil {
		resp.InterruptReason = *interruptReason
	}
	_ = json.Unmarshal(agentMessages, &resp.AgentMessages)
	_ = json.Unmarshal(stateSnapshot, &resp.StateSnapshot)
	_ = json.Unmarshal(warnings, &resp.Warnings)
	_ = json.Unmarshal(errs, &resp.Errors)
	_ = json.Unmarshal(chunks, &resp.StreamingChunks)
	return &resp, nil
}
