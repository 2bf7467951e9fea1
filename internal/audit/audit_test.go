package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"recap/internal/events"
)

func deliverCall(t *testing.T, r *Recorder, runID, callID, tool, server string, args map[string]any) {
	t.Helper()
	r.Deliver(events.Event{
		Type:      events.TypeToolCall,
		RunID:     runID,
		Seq:       1,
		Timestamp: time.Now(),
		Step:      1,
		CallID:    callID,
		Tool:      tool,
		Server:    server,
		Args:      args,
	})
}

func deliverResult(t *testing.T, r *Recorder, runID, callID, tool, result string, isError bool) {
	t.Helper()
	r.Deliver(events.Event{
		Type:      events.TypeToolResult,
		RunID:     runID,
		Seq:       2,
		Timestamp: time.Now().Add(50 * time.Millisecond),
		Step:      1,
		CallID:    callID,
		Tool:      tool,
		Result:    result,
		IsError:   isError,
	})
}

func TestRecorderAssemblesEntries(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir, Options{})
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	deliverCall(t, r, "run-1", "c1", "jira_create_issue", "jira", map[string]any{
		"title":   "login bug",
		"api_key": "sk-very-secret",
	})
	deliverResult(t, r, "run-1", "c1", "jira_create_issue", "created PROJ-12", false)

	deliverCall(t, r, "run-1", "c2", "jira_delete_project", "jira", nil)
	r.Deliver(events.Event{
		Type:      events.TypeToolDenied,
		RunID:     "run-1",
		Timestamp: time.Now(),
		Step:      2,
		CallID:    "c2",
		Tool:      "jira_delete_project",
	})

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries := r.Entries(Filter{RunID: "run-1"})
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	// Newest first: the denial completed after the create.
	if entries[0].Tool != "jira_delete_project" || entries[0].Status != StatusDenied {
		t.Errorf("entries[0] = %s/%s, want jira_delete_project/denied", entries[0].Tool, entries[0].Status)
	}
	created := entries[1]
	if created.Status != StatusOK {
		t.Errorf("Status = %s, want ok", created.Status)
	}
	if created.Server != "jira" || created.Step != 1 {
		t.Errorf("Server/Step = %s/%d, want jira/1", created.Server, created.Step)
	}
	if created.Result != "created PROJ-12" {
		t.Errorf("Result = %q", created.Result)
	}
	if created.Args["api_key"] != "[REDACTED]" {
		t.Errorf("api_key survived sanitization: %v", created.Args["api_key"])
	}
	if created.Args["title"] != "login bug" {
		t.Errorf("title = %v", created.Args["title"])
	}
	if created.Duration < 0 {
		t.Errorf("Duration = %v, want >= 0", created.Duration)
	}

	// The log file holds one JSON line per completed entry.
	data, err := os.ReadFile(filepath.Join(dir, "audit.log"))
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("log has %d lines, want 2", len(lines))
	}
	if strings.Contains(string(data), "sk-very-secret") {
		t.Error("secret value reached the log file")
	}
}

func TestRecorderErrorResults(t *testing.T) {
	r, err := NewRecorder(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	defer r.Close()

	deliverCall(t, r, "run-1", "c1", "web_fetch_page", "web", map[string]any{"url": "ftp://x"})
	deliverResult(t, r, "run-1", "c1", "web_fetch_page", "only http and https urls are supported", true)

	entries := r.Entries(Filter{Status: StatusError})
	if len(entries) != 1 {
		t.Fatalf("got %d error entries, want 1", len(entries))
	}
	if entries[0].Result != "only http and https urls are supported" {
		t.Errorf("Result = %q", entries[0].Result)
	}
}

func TestRecorderDiscardsUnfinishedCallsAtRunEnd(t *testing.T) {
	r, err := NewRecorder(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	defer r.Close()

	deliverCall(t, r, "run-1", "c1", "slow_tool", "x", nil)
	r.Deliver(events.Event{Type: events.TypeError, RunID: "run-1", Timestamp: time.Now(), Message: "canceled"})

	if got := r.Len(); got != 0 {
		t.Errorf("Len = %d, want 0", got)
	}

	// A result without a prior call still records, so a recorder
	// attached mid-run loses nothing that completed.
	deliverResult(t, r, "run-2", "c9", "late_tool", "fine", false)
	entries := r.Entries(Filter{RunID: "run-2"})
	if len(entries) != 1 || entries[0].Tool != "late_tool" {
		t.Fatalf("mid-run attach entry missing: %+v", entries)
	}
}

func TestRecorderReloadsAndCompacts(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir, Options{MaxEntries: 3})
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		deliverCall(t, r, "run-1", id, "tool_"+id, "srv", nil)
		deliverResult(t, r, "run-1", id, "tool_"+id, "done", false)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewRecorder(dir, Options{MaxEntries: 3})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if got := reopened.Len(); got != 3 {
		t.Fatalf("Len after reload = %d, want 3", got)
	}
	entries := reopened.Entries(Filter{})
	if entries[0].Tool != "tool_e" || entries[2].Tool != "tool_c" {
		t.Errorf("kept wrong tail: %s..%s", entries[0].Tool, entries[2].Tool)
	}

	data, err := os.ReadFile(filepath.Join(dir, "audit.log"))
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Errorf("compacted log has %d lines, want 3", len(lines))
	}
}

func TestRecorderSkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	good := `{"id":"1","run_id":"r","tool":"t","status":"ok","timestamp":"2026-08-20T10:00:00Z","duration_ms":5}`
	content := good + "\n{broken json\n"
	if err := os.WriteFile(filepath.Join(dir, "audit.log"), []byte(content), 0600); err != nil {
		t.Fatalf("seeding log: %v", err)
	}

	r, err := NewRecorder(dir, Options{})
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	defer r.Close()
	if got := r.Len(); got != 1 {
		t.Errorf("Len = %d, want 1", got)
	}
}

func TestEntryFilter(t *testing.T) {
	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	e := Entry{
		RunID:     "run-1",
		Server:    "jira",
		Tool:      "jira_search",
		Status:    StatusOK,
		Timestamp: now,
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter", Filter{}, true},
		{"run match", Filter{RunID: "run-1"}, true},
		{"run mismatch", Filter{RunID: "run-2"}, false},
		{"server match", Filter{Server: "jira"}, true},
		{"tool mismatch", Filter{Tool: "jira_create"}, false},
		{"status match", Filter{Status: StatusOK}, true},
		{"status mismatch", Filter{Status: StatusDenied}, false},
		{"since before", Filter{Since: now.Add(-time.Hour)}, true},
		{"since after", Filter{Since: now.Add(time.Hour)}, false},
		{"until before", Filter{Until: now.Add(-time.Hour)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Matches(tt.filter); got != tt.want {
				t.Errorf("Matches(%+v) = %v, want %v", tt.filter, got, tt.want)
			}
		})
	}
}

func TestSanitizeArgs(t *testing.T) {
	args := map[string]any{
		"query":        "open bugs",
		"password":     "hunter2",
		"GitHub_Token": "ghp_abc",
		"auth_header":  "Bearer xyz",
		"count":        5,
	}
	got := SanitizeArgs(args)
	if got["query"] != "open bugs" || got["count"] != 5 {
		t.Errorf("benign values changed: %+v", got)
	}
	for _, key := range []string{"password", "GitHub_Token", "auth_header"} {
		if got[key] != "[REDACTED]" {
			t.Errorf("%s = %v, want [REDACTED]", key, got[key])
		}
	}
	if args["password"] != "hunter2" {
		t.Error("SanitizeArgs mutated its input")
	}
	if SanitizeArgs(nil) != nil {
		t.Error("SanitizeArgs(nil) != nil")
	}
}

func TestTruncateResult(t *testing.T) {
	long := strings.Repeat("x", 50)
	got := TruncateResult(long, 10)
	if got != strings.Repeat("x", 10)+"...[truncated]" {
		t.Errorf("TruncateResult = %q", got)
	}
	if TruncateResult("short", 10) != "short" {
		t.Error("short strings must pass through")
	}
	if len(TruncateResult(strings.Repeat("y", 5000), 0)) != 1000+len("...[truncated]") {
		t.Error("zero limit must use the default cap")
	}
}

func TestEntryJSONDuration(t *testing.T) {
	e := Entry{ID: "1", RunID: "r", Tool: "t", Status: StatusOK, Duration: 1500 * time.Millisecond}
	data, err := e.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if !strings.Contains(string(data), `"duration_ms":1500`) {
		t.Errorf("marshaled form missing duration_ms: %s", data)
	}

	var back Entry
	if err := back.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if back.Duration != 1500*time.Millisecond {
		t.Errorf("Duration = %v, want 1.5s", back.Duration)
	}
}
