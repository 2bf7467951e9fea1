package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// mcpHTTPServer serves the protocol over streamable HTTP. While locked it
// rejects every request with a 401 challenge.
func mcpHTTPServer(locked *atomic.Bool) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if locked != nil && locked.Load() {
			w.Header().Set("WWW-Authenticate", `Bearer resource_metadata="https://rs.example.com/.well-known/oauth-protected-resource"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var msg JSONRPCMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if msg.IsNotification() {
			w.WriteHeader(http.StatusAccepted)
			return
		}

		var result any
		switch msg.Method {
		case MethodInitialize:
			result = &InitializeResult{
				ProtocolVersion: ProtocolVersion,
				ServerInfo:      &ServerInfo{Name: "remote", Version: "1.0.0"},
			}
		case MethodToolsList:
			result = &ListToolsResult{Tools: []*ToolInfo{{Name: "search", Description: "Remote search"}}}
		case MethodToolsCall:
			result = TextResult("found")
		default:
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(&JSONRPCMessage{JSONRPC: "2.0", ID: msg.ID, Error: &Error{
				Code:    ErrCodeMethodNotFound,
				Message: "method not supported: " + msg.Method,
			}})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(&JSONRPCMessage{JSONRPC: "2.0", ID: msg.ID, Result: result})
	}))
}

// scriptedAuthorizer unlocks the server when asked to authorize, standing
// in for the interactive flow.
type scriptedAuthorizer struct {
	locked    *atomic.Bool
	calls     int
	challenge string
}

func (s *scriptedAuthorizer) HTTPClient(ctx context.Context, cfg ServerConfig) (*http.Client, error) {
	return &http.Client{}, nil
}

func (s *scriptedAuthorizer) Authorize(ctx context.Context, cfg ServerConfig, challenge string) error {
	s.calls++
	s.challenge = challenge
	s.locked.Store(false)
	return nil
}

func TestManagerConnectHTTP(t *testing.T) {
	srv := mcpHTTPServer(nil)
	defer srv.Close()

	manager := NewManager(NewRegistry(), nil)
	defer manager.Shutdown()

	cfg := ServerConfig{ID: "remote", Name: "remote", Transport: TransportHTTP, URL: srv.URL, Enabled: true}
	sess, err := manager.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if info := sess.ServerInfo(); info == nil || info.Name != "remote" {
		t.Errorf("ServerInfo() = %+v, want name remote", info)
	}
	tools := sess.Tools()
	if len(tools) != 1 || tools[0].Name != "search" {
		t.Fatalf("tools = %+v, want the search tool", tools)
	}

	result, err := sess.CallTool(context.Background(), "search", map[string]any{"q": "anything"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if got := FlattenContent(result.Content); got != "found" {
		t.Errorf("tool returned %q, want %q", got, "found")
	}
}

func TestManagerConnectAuthorizesOnce(t *testing.T) {
	var locked atomic.Bool
	locked.Store(true)
	srv := mcpHTTPServer(&locked)
	defer srv.Close()

	auth := &scriptedAuthorizer{locked: &locked}
	manager := NewManager(NewRegistry(), auth)
	defer manager.Shutdown()

	cfg := ServerConfig{ID: "remote", Name: "remote", Transport: TransportHTTP, URL: srv.URL, Enabled: true}
	sess, err := manager.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect after authorization: %v", err)
	}

	if auth.calls != 1 {
		t.Errorf("Authorize called %d times, want 1", auth.calls)
	}
	if !strings.Contains(auth.challenge, "resource_metadata") {
		t.Errorf("challenge = %q, want the WWW-Authenticate value", auth.challenge)
	}
	if sess.State() != StateConnected {
		t.Errorf("session state = %s, want %s", sess.State(), StateConnected)
	}

	// An already-authorized server connects without another prompt.
	if _, err := manager.Connect(context.Background(), cfg); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if auth.calls != 1 {
		t.Errorf("second connect ran the flow again (%d calls)", auth.calls)
	}
}

func TestManagerConnectAuthorizationFails(t *testing.T) {
	var locked atomic.Bool
	locked.Store(true)
	srv := mcpHTTPServer(&locked)
	defer srv.Close()

	manager := NewManager(NewRegistry(), nil)
	defer manager.Shutdown()

	// Without an authorizer the rejection surfaces as a typed error.
	cfg := ServerConfig{ID: "remote", Name: "remote", Transport: TransportHTTP, URL: srv.URL, Enabled: true}
	_, err := manager.Connect(context.Background(), cfg)
	if err == nil {
		t.Fatal("Connect to a locked server succeeded")
	}
	var authErr *AuthRequiredError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want AuthRequiredError", err)
	}
	if !strings.Contains(authErr.Challenge, "resource_metadata") {
		t.Errorf("challenge = %q", authErr.Challenge)
	}
}
