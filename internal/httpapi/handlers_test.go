package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"recap/internal/approval"
	"recap/internal/audit"
	"recap/internal/events"
	"recap/internal/llm"
	"recap/internal/mcp"
	"recap/internal/orchestrator"
	"recap/internal/pipeline"
	"recap/internal/recording"
)

// instantLLM finishes every run on its first turn.
type instantLLM struct{}

func (instantLLM) GenerateText(ctx context.Context, req llm.Request) (string, error) {
	return "summary", nil
}

func (instantLLM) GenerateWithTools(ctx context.Context, req llm.Request, tools []llm.ToolDef) (*llm.Result, error) {
	return &llm.Result{Text: "work item created"}, nil
}

func (instantLLM) Model() string { return "instant" }
func (instantLLM) Close() error  { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()

	store, err := recording.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	registry := mcp.NewRegistry()
	echo := mcp.NewInMemoryServer("echo", "1.0.0")
	err = echo.RegisterTool(&mcp.ToolInfo{Name: "echo"}, func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
		return mcp.TextResult("pong"), nil
	})
	if err != nil {
		t.Fatalf("RegisterTool: %v", err)
	}
	if err := registry.Register("echo", echo); err != nil {
		t.Fatalf("Register: %v", err)
	}

	manager := mcp.NewManager(registry, nil)
	t.Cleanup(manager.Shutdown)
	err = manager.ConnectAll(context.Background(), []mcp.ServerConfig{
		{ID: "echo", Name: "echo", Transport: mcp.TransportInMemory, Enabled: true},
	})
	if err != nil {
		t.Fatalf("ConnectAll: %v", err)
	}

	gate := approval.NewGate(approval.ModeYolo, nil)
	broadcaster := events.NewBroadcaster()
	t.Cleanup(broadcaster.Close)
	client := instantLLM{}
	orch := orchestrator.New(client, manager, gate, broadcaster, orchestrator.Options{})
	pipe := pipeline.New(store, nil, nil, client, orch)

	srv := New("127.0.0.1:0", Deps{
		Pipeline:     pipe,
		Orchestrator: orch,
		Manager:      manager,
		Gate:         gate,
		Events:       broadcaster,
		Store:        store,
	})
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv
}

func waitForRun(t *testing.T, orch *orchestrator.Orchestrator, runID string) orchestrator.Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if status, ok := orch.RunStatus(runID); ok {
			if status.State == orchestrator.StateDone || status.State == orchestrator.StateFailed {
				return status
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish in time", runID)
	return orchestrator.Status{}
}

func postJSON(t *testing.T, handler http.HandlerFunc, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(data))
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestRunsSubmitAndStatus(t *testing.T) {
	srv := newTestServer(t)

	w := postJSON(t, srv.handleRuns, "/api/runs", map[string]string{"goal": "write the ticket"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d, want 202: %s", w.Code, w.Body)
	}
	var accepted map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &accepted); err != nil {
		t.Fatal(err)
	}
	runID := accepted["run_id"]
	if runID == "" {
		t.Fatal("no run_id in response")
	}

	status := waitForRun(t, srv.deps.Orchestrator, runID)
	if status.Output != "work item created" {
		t.Errorf("output = %q", status.Output)
	}

	// The finished run shows up on both list and detail endpoints.
	w = httptest.NewRecorder()
	srv.handleRuns(w, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var runs []orchestrator.Status
	if err := json.Unmarshal(w.Body.Bytes(), &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != runID {
		t.Errorf("runs = %+v, want the submitted run", runs)
	}

	w = httptest.NewRecorder()
	srv.handleRunStatus(w, httptest.NewRequest(http.MethodGet, "/api/runs/"+runID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("detail status = %d", w.Code)
	}
	var detail orchestrator.Status
	if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
		t.Fatal(err)
	}
	if detail.State != orchestrator.StateDone {
		t.Errorf("state = %s, want done", detail.State)
	}
}

func TestRunsValidation(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		handler    http.HandlerFunc
		wantStatus int
	}{
		{
			name:       "empty submit",
			method:     http.MethodPost,
			target:     "/api/runs",
			body:       `{}`,
			handler:    srv.handleRuns,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "broken json",
			method:     http.MethodPost,
			target:     "/api/runs",
			body:       `{goal:`,
			handler:    srv.handleRuns,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown recording",
			method:     http.MethodPost,
			target:     "/api/runs",
			body:       `{"recording_id": "nope"}`,
			handler:    srv.handleRuns,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "method not allowed",
			method:     http.MethodDelete,
			target:     "/api/runs",
			handler:    srv.handleRuns,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "unknown run status",
			method:     http.MethodGet,
			target:     "/api/runs/absent",
			handler:    srv.handleRunStatus,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "nested run path",
			method:     http.MethodGet,
			target:     "/api/runs/a/b",
			handler:    srv.handleRunStatus,
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body *bytes.Reader
			if tt.body != "" {
				body = bytes.NewReader([]byte(tt.body))
			} else {
				body = bytes.NewReader(nil)
			}
			req := httptest.NewRequest(tt.method, tt.target, body)
			w := httptest.NewRecorder()
			tt.handler(w, req)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body)
			}
		})
	}
}

func TestRunsRetryRequiresPreparedRecording(t *testing.T) {
	srv := newTestServer(t)

	rec := &recording.Recording{ID: "rec-1", Title: "fresh", CapturedAt: time.Now()}
	if err := srv.deps.Store.Save(rec); err != nil {
		t.Fatal(err)
	}

	w := postJSON(t, srv.handleRuns, "/api/runs", map[string]any{"recording_id": "rec-1", "retry": true})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", w.Code, w.Body)
	}

	// Once prepared, the same request is accepted and the run finishes.
	rec.VideoURL = "https://media.example.com/rec-1.mp4"
	rec.Transcript = "t"
	rec.Summary = "s"
	if err := srv.deps.Store.Save(rec); err != nil {
		t.Fatal(err)
	}

	w = postJSON(t, srv.handleRuns, "/api/runs", map[string]any{"recording_id": "rec-1", "retry": true})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body)
	}
	var accepted map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &accepted); err != nil {
		t.Fatal(err)
	}
	status := waitForRun(t, srv.deps.Orchestrator, accepted["run_id"])
	if status.Outcome != orchestrator.OutcomeCompleted {
		t.Errorf("outcome = %s, want completed", status.Outcome)
	}
}

func TestApprovalsEndpoints(t *testing.T) {
	srv := newTestServer(t)
	gate := approval.NewGate(approval.ModeAsk, nil)
	srv.deps.Gate = gate

	pending := gate.Require("run-1", "jira_create", "jira", map[string]any{"title": "x"})
	if pending == nil {
		t.Fatal("ask mode did not create a request")
	}

	w := httptest.NewRecorder()
	srv.handleApprovalsList(w, httptest.NewRequest(http.MethodGet, "/api/approvals", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list []approval.Request
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != pending.ID {
		t.Fatalf("pending list = %+v, want the open request", list)
	}
	if !strings.Contains(list[0].Reason, "jira_create") {
		t.Errorf("reason = %q, want the tool name", list[0].Reason)
	}

	w = postJSON(t, srv.handleApprovalResolve, "/api/approvals/"+pending.ID, map[string]bool{"approved": true})
	if w.Code != http.StatusOK {
		t.Fatalf("resolve status = %d: %s", w.Code, w.Body)
	}
	if pending.Decision() != approval.DecisionApproved {
		t.Errorf("decision = %s, want approved", pending.Decision())
	}

	// Resolved requests drop off the pending list.
	w = httptest.NewRecorder()
	srv.handleApprovalsList(w, httptest.NewRequest(http.MethodGet, "/api/approvals", nil))
	var after []approval.Request
	if err := json.Unmarshal(w.Body.Bytes(), &after); err != nil {
		t.Fatal(err)
	}
	if len(after) != 0 {
		t.Errorf("pending after resolve = %+v, want none", after)
	}

	w = postJSON(t, srv.handleApprovalResolve, "/api/approvals/ghost", map[string]bool{"approved": true})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown approval status = %d, want 404", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/approvals/"+pending.ID, strings.NewReader("{broken"))
	w = httptest.NewRecorder()
	srv.handleApprovalResolve(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("broken body status = %d, want 400", w.Code)
	}
}

func TestServersEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := httptest.NewRecorder()
	srv.handleServers(w, httptest.NewRequest(http.MethodGet, "/api/servers", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var statuses []serverStatus
	if err := json.Unmarshal(w.Body.Bytes(), &statuses); err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 1 {
		t.Fatalf("servers = %+v, want one entry", statuses)
	}
	got := statuses[0]
	if got.ID != "echo" || got.State != string(mcp.StateConnected) || got.Tools != 1 {
		t.Errorf("server = %+v, want a connected echo entry with one tool", got)
	}

	w = httptest.NewRecorder()
	srv.handleServers(w, httptest.NewRequest(http.MethodPost, "/api/servers", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", w.Code)
	}
}

func TestRecordingsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := &recording.Recording{ID: "rec-1", Title: "demo", CapturedAt: time.Now()}
	if err := srv.deps.Store.Save(rec); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	srv.handleRecordings(w, httptest.NewRequest(http.MethodGet, "/api/recordings", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var recs []recording.Recording
	if err := json.Unmarshal(w.Body.Bytes(), &recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].ID != "rec-1" {
		t.Errorf("recordings = %+v, want the stored one", recs)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	srv := newTestServer(t)

	t.Run("disabled", func(t *testing.T) {
		w := httptest.NewRecorder()
		srv.handleHistory(w, httptest.NewRequest(http.MethodGet, "/api/history", nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404 while no recorder is wired", w.Code)
		}
	})

	rec, err := audit.NewRecorder(t.TempDir(), audit.Options{})
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	t.Cleanup(func() { rec.Close() })
	srv.deps.History = rec
	srv.deps.Events.AttachSink(rec)

	reporter := srv.deps.Events.ForRun("run-h1")
	reporter.ToolCall(1, "c1", "echo_echo", "echo", map[string]any{"text": "hi"})
	reporter.ToolResult(1, "c1", "echo_echo", "pong", false)
	reporter.ToolCall(2, "c2", "echo_echo", "echo", nil)
	reporter.ToolDenied(2, "c2", "echo_echo")

	get := func(target string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		srv.handleHistory(w, httptest.NewRequest(http.MethodGet, target, nil))
		return w
	}

	w := get("/api/history?run_id=run-h1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	var entries []audit.Entry
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Status != audit.StatusDenied || entries[1].Status != audit.StatusOK {
		t.Errorf("order/status wrong: %s, %s", entries[0].Status, entries[1].Status)
	}
	if entries[1].Result != "pong" || entries[1].Server != "echo" {
		t.Errorf("completed entry = %+v", entries[1])
	}

	w = get("/api/history?status=ok")
	entries = nil
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Tool != "echo_echo" {
		t.Errorf("status filter returned %+v", entries)
	}

	w = get("/api/history?limit=1")
	entries = nil
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Status != audit.StatusDenied {
		t.Errorf("limit returned %+v, want just the newest entry", entries)
	}

	if w := get("/api/history?limit=potato"); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", w.Code)
	}

	w = httptest.NewRecorder()
	srv.handleHistory(w, httptest.NewRequest(http.MethodPost, "/api/history", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", w.Code)
	}
}
