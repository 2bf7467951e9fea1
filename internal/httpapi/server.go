// Package httpapi exposes the orchestrator to the desktop shell over a
// local HTTP API: run submission, approval decisions, server health,
// and a WebSocket stream of progress events.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"recap/internal/approval"
	"recap/internal/audit"
	"recap/internal/events"
	"recap/internal/logging"
	"recap/internal/mcp"
	"recap/internal/orchestrator"
	"recap/internal/pipeline"
	"recap/internal/recording"
)

// Deps are the components the API serves.
type Deps struct {
	Pipeline     *pipeline.Pipeline
	Orchestrator *orchestrator.Orchestrator
	Manager      *mcp.Manager
	Gate         *approval.Gate
	Events       *events.Broadcaster
	Store        *recording.Store
	History      *audit.Recorder // nil when auditing is disabled
}

// Server is the local HTTP API server.
type Server struct {
	addr string
	deps Deps

	httpSrv *http.Server
	runCtx  context.Context
	cancel  context.CancelFunc
}

// New creates the server. Runs started over the API keep going until
// Shutdown cancels them.
func New(addr string, deps Deps) *Server {
	runCtx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:   addr,
		deps:   deps,
		runCtx: runCtx,
		cancel: cancel,
	}
}

// Start listens and serves until Shutdown.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/runs", s.handleRuns)
	mux.HandleFunc("/api/runs/", s.handleRunStatus)
	mux.HandleFunc("/api/approvals", s.handleApprovalsList)
	mux.HandleFunc("/api/approvals/", s.handleApprovalResolve)
	mux.HandleFunc("/api/servers", s.handleServers)
	mux.HandleFunc("/api/recordings", s.handleRecordings)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/events", s.handleEvents)

	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logging.Info("api server listening", "addr", s.addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the listener and cancels runs started over the API.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
