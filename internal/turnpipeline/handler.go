package turnpipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"orchestrator/internal/agentgraph"
	"orchestrator/internal/apperrors"
	"orchestrator/internal/assets"
	"orchestrator/internal/logging"
	"orchestrator/internal/normalize"
	"orchestrator/internal/pricing"
	"orchestrator/internal/session"
)

// sessionAcquirer is the subset of workspace.Manager the handler needs,
// so tests can supply a fake.
type sessionAcquirer interface {
	GetSessionForWorkspace(ctx context.Context, workspaceID, userID string) (*session.Session, error)
}

// GraphFactory builds the agent graph invocation for one turn; swapped
// out in tests for agentgraph.EchoGraph.
type GraphFactory func(sess *session.Session) agentgraph.Graph

// Checkpoints is the in-memory fallback chain's first link: one
// in-process checkpoint per thread, independent of the DB (spec §4.9
// step 6(i)). Not persisted across process restarts.
type Checkpoints struct {
	byThread map[string]agentgraph.State
}

func NewCheckpoints() *Checkpoints {
	return &Checkpoints{byThread: make(map[string]agentgraph.State)}
}

func (c *Checkpoints) Get(threadID string) (agentgraph.State, bool) {
	s, ok := c.byThread[threadID]
	return s, ok
}

func (c *Checkpoints) Set(threadID string, s agentgraph.State) {
	c.byThread[threadID] = s
}

// Handler implements the streaming chat endpoint (spec §4.9, §6).
type Handler struct {
	workspaces  sessionAcquirer
	repo        Repository
	newGraph    GraphFactory
	checkpoints *Checkpoints
	skillRoots  []string
	tracker     *pricing.Tracker
	logger      logging.Logger
}

func NewHandler(workspaces sessionAcquirer, repo Repository, newGraph GraphFactory, checkpoints *Checkpoints, skillRoots []string, tracker *pricing.Tracker, logger logging.Logger) *Handler {
	return &Handler{
		workspaces:  workspaces,
		repo:        repo,
		newGraph:    newGraph,
		checkpoints: checkpoints,
		skillRoots:  skillRoots,
		tracker:     tracker,
		logger:      logging.OrNop(logger).With("turnpipeline.handler"),
	}
}

// Register wires the streaming route onto a gin engine (spec §6).
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/api/v1/workspaces/:workspace_id/chat/stream", h.Stream)
}

type chatRequest struct {
	ThreadID          string         `json:"thread_id"`
	Messages          []Message      `json:"messages" binding:"required"`
	AdditionalContext []ContextItem  `json:"additional_context"`
	Flags             map[string]any `json:"flags"`
}

// Stream implements the ten-step flow of spec §4.9.
func (h *Handler) Stream(c *gin.Context) {
	workspaceID := c.Param("workspace_id")
	userID := c.GetHeader("X-User-Id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-User-Id header required"})
		return
	}

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messages must be non-empty"})
		return
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = "th_" + uuid.New().String()
	}
	queryID := "q_" + uuid.New().String()

	ctx := c.Request.Context()

	sess, err := h.workspaces.GetSessionForWorkspace(ctx, workspaceID, userID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	_, err = h.repo.EnsureThread(ctx, workspaceID, threadID)
	if err != nil {
		h.writeError(c, fmt.Errorf("ensure thread: %w", err))
		return
	}

	pairIndex, err := h.repo.NextPairIndex(ctx, threadID)
	if err != nil {
		h.writeError(c, fmt.Errorf("next pair index: %w", err))
		return
	}

	now := time.Now()
	query := &Query{
		ThreadID:  threadID,
		PairIndex: pairIndex,
		QueryID:   queryID,
		Content:   req.Messages,
		Type:      "chat",
		Metadata:  req.Flags,
		Timestamp: now,
	}
	if err := h.repo.UpsertQuery(ctx, query); err != nil {
		h.writeError(c, fmt.Errorf("upsert query: %w", err))
		return
	}

	state := h.buildInitialState(threadID, req.Messages, req.AdditionalContext)

	sw := newSSEWriter(c.Writer)
	sw.writeHeaders()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	graph := h.newGraph(sess)
	events, finalState := graph.Run(runCtx, state)

	start := time.Now()
	var chunks []map[string]any
	var agentMessages []map[string]any
	var warnings, errs []string
	status := "completed"
	responseID := "r_" + uuid.New().String()
	doneSent := false

loop:
	for {
		select {
		case <-c.Request.Context().Done():
			cancel()
			status = "interrupted"
			break loop
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			frame := h.encodeEvent(ev)
			if frame == nil {
				continue
			}
			chunks = append(chunks, frame)
			if ev.Kind == agentgraph.EventDone {
				doneSent = true
				if ev.Status != "" {
					status = ev.Status
				}
				if ev.ResponseID != "" {
					responseID = ev.ResponseID
				} else {
					frame["response_id"] = responseID
				}
			}
			if err := sw.writeFrame(frame); err != nil {
				h.logger.Warn("sse write failed for thread %s: %v", threadID, err)
				cancel()
				status = "interrupted"
				break loop
			}
		}
	}

	final := finalState()
	h.checkpoints.Set(threadID, final)
	for _, m := range final.Messages {
		agentMessages = append(agentMessages, map[string]any{"role": m.Role, "content": m.Content})
	}

	stateSnapshot, _ := stateToMap(final)

	resp := &Response{
		ThreadID:        threadID,
		PairIndex:       pairIndex,
		ResponseID:      responseID,
		Status:          status,
		AgentMessages:   agentMessages,
		StateSnapshot:   stateSnapshot,
		Warnings:        warnings,
		Errors:          errs,
		ExecutionTime:   time.Since(start).Seconds(),
		Timestamp:       time.Now(),
		StreamingChunks: chunks,
	}
	if status == "interrupted" {
		resp.InterruptReason = "client disconnected"
	}

	if err := h.repo.UpsertResponse(ctx, resp); err != nil {
		h.logger.Error("upsert response for thread %s pair %d: %v", threadID, pairIndex, err)
	}

	threadStatus := ThreadCompleted
	switch status {
	case "interrupted":
		threadStatus = ThreadInterrupted
	case "error":
		threadStatus = ThreadError
	case "timeout":
		threadStatus = ThreadTimeout
	}
	if err := h.repo.UpdateThreadStatus(ctx, threadID, threadStatus); err != nil {
		h.logger.Error("update thread status for %s: %v", threadID, err)
	}

	if !doneSent {
		_ = sw.writeFrame(map[string]any{"type": "done", "status": status, "response_id": responseID})
	}
}

// buildInitialState runs spec §4.9 steps 6-7: resume fallback chain then
// skill-context injection.
func (h *Handler) buildInitialState(threadID string, messages []Message, ctxItems []ContextItem) agentgraph.State {
	fresh := agentgraph.State{}
	for _, m := range messages {
		fresh.Messages = append(fresh.Messages, agentgraph.Message{Role: m.Role, Content: m.Content})
	}

	var resumeThreadID string
	for _, item := range ctxItems {
		if item.Type == "last_thread" {
			resumeThreadID = item.ID
		}
	}

	state := fresh
	if resumeThreadID != "" {
		prior, ok := h.resolveResumeState(resumeThreadID)
		if ok {
			state = agentgraph.MergeResume(prior, fresh)
		}
	}

	var skillMessages []agentgraph.Message
	for _, item := range ctxItems {
		if item.Type != "skills" {
			continue
		}
		content, found := assets.LoadSkillContent(h.skillRoots, item.Name)
		if !found {
			continue
		}
		text := content
		if item.Instruction != "" {
			text = content + "\n\n" + item.Instruction
		}
		skillMessages = append(skillMessages, agentgraph.Message{Role: "user", Content: text})
	}
	if len(skillMessages) > 0 {
		state.Messages = append(append([]agentgraph.Message{}, skillMessages...), state.Messages...)
	}
	return state
}

// resolveResumeState implements the fallback chain of spec §4.9 step 6:
// in-memory checkpoint, then latest persisted state_snapshot, then
// reconstruction from persisted messages.
func (h *Handler) resolveResumeState(threadID string) (agentgraph.State, bool) {
	if s, ok := h.checkpoints.Get(threadID); ok {
		return s, true
	}

	ctx := context.Background()
	if latest, err := h.repo.LatestResponse(ctx, threadID); err == nil && latest != nil && latest.StateSnapshot != nil {
		if s, ok := stateFromMap(latest.StateSnapshot); ok {
			return s, true
		}
	}

	queries, responses, err := h.repo.QueriesAndResponses(ctx, threadID)
	if err != nil || (len(queries) == 0 && len(responses) == 0) {
		return agentgraph.State{}, false
	}
	var reconstructed agentgraph.State
	for _, q := range queries {
		for _, m := range q.Content {
			reconstructed.Messages = append(reconstructed.Messages, agentgraph.Message{Role: m.Role, Content: m.Content})
		}
	}
	for _, r := range responses {
		for _, m := range r.AgentMessages {
			role, _ := m["role"].(string)
			content, _ := m["content"].(string)
			reconstructed.Messages = append(reconstructed.Messages, agentgraph.Message{Role: role, Content: content})
		}
	}
	return reconstructed, true
}

// encodeEvent applies the shared content-normalization rule (spec §4.10)
// and returns nil for pure status signals, which must not reach the wire.
func (h *Handler) encodeEvent(ev agentgraph.Event) map[string]any {
	switch ev.Kind {
	case agentgraph.EventMessageChunk:
		var raw any
		if ev.ContentType == "reasoning" {
			raw = map[string]any{"type": "thinking", "thinking": ev.Text}
		} else {
			raw = map[string]any{"text": ev.Text}
		}
		res := normalize.Content(raw)
		if res.IsSignal() {
			return nil
		}
		contentType := "text"
		if res.Kind == normalize.KindReasoning {
			contentType = "reasoning"
		}
		return map[string]any{"type": "message_chunk", "content_type": contentType, "text": res.Text}
	case agentgraph.EventSummarizationSignal:
		frame := map[string]any{"type": "summarization_signal", "signal": ev.Signal}
		if ev.SummaryLength > 0 {
			frame["summary_length"] = ev.SummaryLength
		}
		if ev.SignalError != "" {
			frame["error"] = ev.SignalError
		}
		return frame
	case agentgraph.EventTokenUsage:
		if h.tracker != nil {
			h.tracker.Record(pricing.CallRecord{
				Usage:     pricing.Usage{InputTokens: ev.InputTokens, OutputTokens: ev.OutputTokens},
				Timestamp: time.Now(),
			})
		}
		return map[string]any{
			"type": "token_usage", "input_tokens": ev.InputTokens,
			"output_tokens": ev.OutputTokens, "total_tokens": ev.TotalTokens,
		}
	case agentgraph.EventDone:
		return map[string]any{"type": "done", "status": ev.Status, "response_id": ev.ResponseID}
	default:
		return nil
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var busy *apperrors.SandboxBusy
	switch {
	case errors.Is(err, apperrors.ErrWorkspaceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, apperrors.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, apperrors.ErrWorkspaceDeleted), errors.Is(err, apperrors.ErrWorkspaceError):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.As(err, &busy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func stateToMap(s agentgraph.State) (map[string]any, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	for k, v := range s.Extra {
		m[k] = v
	}
	return m, nil
}

func stateFromMap(m map[string]any) (agentgraph.State, bool) {
	raw, err := json.Marshal(m)
	if err != nil {
		return agentgraph.State{}, false
	}
	var s agentgraph.State
	if err := json.Unmarshal(raw, &s); err != nil {
		return agentgraph.State{}, false
	}
	return s, true
}
