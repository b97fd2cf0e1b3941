package turnpipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"orchestrator/internal/agentgraph"
	"orchestrator/internal/apperrors"
	"orchestrator/internal/session"
)

type fakeTurnRepo struct {
	mu        sync.Mutex
	threads   map[string]*Thread
	queries   map[string][]*Query
	responses map[string][]*Response
}

func newFakeTurnRepo() *fakeTurnRepo {
	return &fakeTurnRepo{
		threads:   make(map[string]*Thread),
		queries:   make(map[string][]*Query),
		responses: make(map[string][]*Response),
	}
}

func (r *fakeTurnRepo) EnsureThread(ctx context.Context, workspaceID, threadID string) (*Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.threads[threadID]; ok {
		return t, nil
	}
	t := &Thread{ThreadID: threadID, WorkspaceID: workspaceID, ThreadIndex: len(r.threads), CurrentStatus: ThreadInProgress}
	r.threads[threadID] = t
	return t, nil
}

func (r *fakeTurnRepo) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[threadID]
	if !ok {
		return nil, apperrors.ErrWorkspaceNotFound
	}
	return t, nil
}

func (r *fakeTurnRepo) UpdateThreadStatus(ctx context.Context, threadID string, status ThreadStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.threads[threadID]; ok {
		t.CurrentStatus = status
	}
	return nil
}

func (r *fakeTurnRepo) NextPairIndex(ctx context.Context, threadID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queries[threadID]), nil
}

func (r *fakeTurnRepo) UpsertQuery(ctx context.Context, q *Query) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries[q.ThreadID] = append(r.queries[q.ThreadID], q)
	return nil
}

func (r *fakeTurnRepo) UpsertResponse(ctx context.Context, resp *Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[resp.ThreadID] = append(r.responses[resp.ThreadID], resp)
	return nil
}

func (r *fakeTurnRepo) LatestResponse(ctx context.Context, threadID string) (*Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs := r.responses[threadID]
	if len(rs) == 0 {
		return nil, nil
	}
	return rs[len(rs)-1], nil
}

func (r *fakeTurnRepo) QueriesAndResponses(ctx context.Context, threadID string) ([]*Query, []*Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries[threadID], r.responses[threadID], nil
}

var _ Repository = (*fakeTurnRepo)(nil)

type fakeAcquirer struct {
	sess *session.Session
	err  error
}

func (f *fakeAcquirer) GetSessionForWorkspace(ctx context.Context, workspaceID, userID string) (*session.Session, error) {
	return f.sess, f.err
}

func newFakeHandler(repo *fakeTurnRepo, graphFn GraphFactory) (*Handler, *fakeAcquirer) {
	acq := &fakeAcquirer{sess: session.New("ws_test", session.CoreConfig{}, nil, nil)}
	h := NewHandler(acq, repo, graphFn, NewCheckpoints(), nil, nil, nil)
	return h, acq
}

func TestStreamMissingUserHeaderReturns400(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := newFakeTurnRepo()
	h, _ := newFakeHandler(repo, func(sess *session.Session) agentgraph.Graph { return agentgraph.EchoGraph{} })

	r := gin.New()
	h.Register(r)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/workspaces/ws1/chat/stream", bytes.NewBufferString(`{"messages":[{"role":"user","content":"hi"}]}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestStreamRunsEchoGraphAndPersistsResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := newFakeTurnRepo()
	h, _ := newFakeHandler(repo, func(sess *session.Session) agentgraph.Graph { return agentgraph.EchoGraph{} })

	r := gin.New()
	h.Register(r)

	body := `{"thread_id":"th1","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workspaces/ws1/chat/stream", bytes.NewBufferString(body))
	req.Header.Set("X-User-Id", "u1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"type":"message_chunk"`) {
		t.Fatalf("expected a message_chunk frame, got %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"type":"done"`) {
		t.Fatalf("expected a done frame, got %s", w.Body.String())
	}

	resp, err := repo.LatestResponse(context.Background(), "th1")
	if err != nil || resp == nil {
		t.Fatalf("expected a persisted response, got %v / %v", resp, err)
	}
	if resp.Status != "completed" {
		t.Fatalf("expected completed status, got %s", resp.Status)
	}
}

func TestEncodeEventSuppressesStatusSignal(t *testing.T) {
	h := &Handler{}
	frame := h.encodeEvent(agentgraph.Event{Kind: agentgraph.EventMessageChunk, ContentType: "reasoning", Text: ""})
	if frame != nil {
		t.Fatalf("expected nil frame for empty reasoning chunk, got %v", frame)
	}
}

func TestEncodeEventMessageChunkText(t *testing.T) {
	h := &Handler{}
	frame := h.encodeEvent(agentgraph.Event{Kind: agentgraph.EventMessageChunk, ContentType: "text", Text: "hello"})
	if frame == nil || frame["text"] != "hello" || frame["content_type"] != "text" {
		t.Fatalf("unexpected frame: %v", frame)
	}
}

func TestWriteErrorMapsSentinelsToStatusCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &Handler{}
	cases := []struct {
		err  error
		code int
	}{
		{apperrors.ErrWorkspaceNotFound, http.StatusNotFound},
		{apperrors.ErrForbidden, http.StatusForbidden},
		{apperrors.ErrWorkspaceDeleted, http.StatusServiceUnavailable},
		{&apperrors.SandboxBusy{WorkspaceID: "ws1", State: "creating"}, http.StatusConflict},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		h.writeError(c, tc.err)
		if w.Code != tc.code {
			t.Errorf("err %v: expected %d, got %d", tc.err, tc.code, w.Code)
		}
	}
}

func TestStateToMapRoundTripsExtra(t *testing.T) {
	s := agentgraph.State{
		FinalReport: "done",
		Extra:       map[string]any{"market_type": "spot"},
	}
	m, err := stateToMap(s)
	if err != nil {
		t.Fatalf("stateToMap: %v", err)
	}
	if m["market_type"] != "spot" {
		t.Fatalf("expected market_type preserved, got %v", m)
	}
	back, ok := stateFromMap(m)
	if !ok || back.FinalReport != "done" {
		t.Fatalf("stateFromMap round trip failed: %v", back)
	}
}

func TestSSEWriterFramesAsDataLines(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := newSSEWriter(rec)
	sw.writeHeaders()
	if err := sw.writeFrame(map[string]any{"type": "done"}); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "data: ") || !strings.HasSuffix(body, "\n\n") {
		t.Fatalf("unexpected SSE framing: %q", body)
	}
	var decoded map[string]any
	payload := strings.TrimSuffix(strings.TrimPrefix(body, "data: "), "\n\n")
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		t.Fatalf("decode frame payload: %v", err)
	}
	if decoded["type"] != "done" {
		t.Fatalf("unexpected frame: %v", decoded)
	}
}

func TestCheckpointsGetSet(t *testing.T) {
	c := NewCheckpoints()
	if _, ok := c.Get("th1"); ok {
		t.Fatalf("expected no checkpoint initially")
	}
	c.Set("th1", agentgraph.State{FinalReport: "x"})
	s, ok := c.Get("th1")
	if !ok || s.FinalReport != "x" {
		t.Fatalf("expected checkpoint round trip, got %v / %v", s, ok)
	}
}
