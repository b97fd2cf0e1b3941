// Package turnpipeline implements the streaming chat endpoint (spec
// §4.9): the Turn Pipeline that ties workspace/thread/query/response
// persistence to a live Session and the agent graph, encoding its event
// stream onto SSE frames.
package turnpipeline

import (
	"context"
	"time"
)

// ThreadStatus mirrors spec §3 ConversationThread.current_status.
type ThreadStatus string

const (
	ThreadInProgress ThreadStatus = "in_progress"
	ThreadCompleted  ThreadStatus = "completed"
	ThreadInterrupted ThreadStatus = "interrupted"
	ThreadError      ThreadStatus = "error"
	ThreadTimeout    ThreadStatus = "timeout"
)

// Thread is the persisted ConversationThread entity (spec §3).
type Thread struct {
	ThreadID      string
	WorkspaceID   string
	ThreadIndex   int
	CurrentStatus ThreadStatus
	MsgType       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Message is one input chat message (spec §6 request body).
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ContextItem is a discriminated additional_context entry (spec §6).
type ContextItem struct {
	Type        string `json:"type"`
	ID          string `json:"id,omitempty"`          // last_thread
	Name        string `json:"name,omitempty"`        // skills
	Instruction string `json:"instruction,omitempty"` // skills
}

// Query is the persisted ConversationQuery entity (spec §3).
type Query struct {
	ThreadID       string
	PairIndex      int
	QueryID        string
	Content        []Message
	Type           string
	FeedbackAction string
	Metadata       map[string]any
	Timestamp      time.Time
}

// Response is the persisted ConversationResponse entity (spec §3).
type Response struct {
	ThreadID        string
	PairIndex       int
	ResponseID      string
	Status          string
	InterruptReason string
	AgentMessages   []map[string]any
	StateSnapshot   map[string]any
	Warnings        []string
	Errors          []string
	ExecutionTime   float64
	Timestamp       time.Time
	StreamingChunks []map[string]any
}

// Repository is the persistence seam the Turn Pipeline needs from
// component J; every write must reuse one connection per turn (spec §5).
type Repository interface {
	EnsureThread(ctx context.Context, workspaceID, threadID string) (*Thread, error)
	GetThread(ctx context.Context, threadID string) (*Thread, error)
	UpdateThreadStatus(ctx context.Context, threadID string, status ThreadStatus) error

	NextPairIndex(ctx context.Context, threadID string) (int, error)
	UpsertQuery(ctx context.Context, q *Query) error
	UpsertResponse(ctx context.Context, r *Response) error
	LatestResponse(ctx context.Context, threadID string) (*Response, error)
	QueriesAndResponses(ctx context.Context, threadID string) ([]*Query, []*Response, error)
}
