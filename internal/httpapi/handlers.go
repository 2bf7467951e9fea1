package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"recap/internal/approval"
	"recap/internal/audit"
	"recap/internal/logging"
	"recap/internal/orchestrator"
	"recap/internal/recording"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type runRequest struct {
	// RecordingID selects a stored recording to process.
	RecordingID string `json:"recording_id,omitempty"`
	// Retry reruns only the orchestrated stage of a prepared recording.
	Retry bool `json:"retry,omitempty"`
	// Goal starts an ad-hoc run without a recording.
	Goal    string `json:"goal,omitempty"`
	Context string `json:"context,omitempty"`
}

// handleRuns serves POST /api/runs (submit) and GET /api/runs (list).
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.deps.Orchestrator.Runs())
	case http.MethodPost:
		s.submitRun(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// submitRun starts the requested run in the background and answers with
// its id. Progress is observable on /api/events and /api/runs/{id}.
func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RecordingID == "" && req.Goal == "" {
		writeError(w, http.StatusBadRequest, "recording_id or goal is required")
		return
	}

	runID := uuid.NewString()

	if req.RecordingID != "" {
		rec, err := s.deps.Pipeline.Lookup(req.RecordingID)
		if err != nil {
			if errors.Is(err, recording.ErrNotFound) {
				writeError(w, http.StatusNotFound, err.Error())
			} else {
				writeError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}
		if req.Retry && (!rec.Uploaded() || rec.Summary == "") {
			writeError(w, http.StatusConflict, "recording has not finished its preparation stages")
			return
		}

		go func() {
			var err error
			if req.Retry {
				_, err = s.deps.Pipeline.Retry(s.runCtx, rec.ID, runID)
			} else {
				_, err = s.deps.Pipeline.Process(s.runCtx, rec, runID)
			}
			if err != nil {
				logging.Error("processing failed", "recording", rec.ID, "run_id", runID, "error", err)
			}
		}()
	} else {
		task := orchestrator.Task{RunID: runID, Goal: req.Goal, Context: req.Context}
		go func() {
			if _, err := s.deps.Orchestrator.Run(s.runCtx, task); err != nil {
				logging.Error("run failed", "run_id", runID, "error", err)
			}
		}()
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// handleRunStatus serves GET /api/runs/{id}.
func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	status, ok := s.deps.Orchestrator.RunStatus(id)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleApprovalsList serves GET /api/approvals.
func (s *Server) handleApprovalsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Gate.Pending())
}

type approvalRequest struct {
	Approved bool `json:"approved"`
}

// handleApprovalResolve serves POST /api/approvals/{id}.
func (s *Server) handleApprovalResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/approvals/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "approval request not found")
		return
	}

	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.deps.Gate.Resolve(id, req.Approved); err != nil {
		if errors.Is(err, approval.ErrUnknownRequest) {
			writeError(w, http.StatusNotFound, "approval request not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

type serverStatus struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Transport string `json:"transport"`
	State     string `json:"state"`
	Tools     int    `json:"tools"`
}

// handleServers serves GET /api/servers.
func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sessions := s.deps.Manager.Sessions()
	statuses := make([]serverStatus, 0, len(sessions))
	for _, sess := range sessions {
		cfg := sess.Config()
		statuses = append(statuses, serverStatus{
			ID:        cfg.ID,
			Name:      cfg.Name,
			Transport: cfg.Transport,
			State:     string(sess.State()),
			Tools:     len(sess.Tools()),
		})
	}
	writeJSON(w, http.StatusOK, statuses)
}

// handleRecordings serves GET /api/recordings.
func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	recs, err := s.deps.Store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// handleHistory serves GET /api/history: the audit log of tool
// invocations, newest first. Filterable by run_id, server, tool,
// status, and limit.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.History == nil {
		writeError(w, http.StatusNotFound, "audit log is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		RunID:  q.Get("run_id"),
		Server: q.Get("server"),
		Tool:   q.Get("tool"),
		Status: audit.Status(q.Get("status")),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	entries := s.deps.History.Entries(filter)
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
