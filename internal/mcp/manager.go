package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"sync"
	"time"

	"recap/internal/logging"
)

// toolDiscoveryTimeout bounds the tools/list call during connect.
const toolDiscoveryTimeout = 5 * time.Second

// connectTimeout bounds one server connection attempt during ConnectAll.
const connectTimeout = 15 * time.Second

// Authorizer supplies credentials for OAuth-protected HTTP servers.
type Authorizer interface {
	// HTTPClient returns a client that attaches cached credentials for the
	// server and refreshes them transparently when they expire.
	HTTPClient(ctx context.Context, cfg ServerConfig) (*http.Client, error)

	// Authorize runs the interactive authorization flow for the server and
	// persists the resulting tokens. challenge carries the WWW-Authenticate
	// header from the rejection, when present.
	Authorize(ctx context.Context, cfg ServerConfig, challenge string) error
}

// Session is a live connection to one tool server: the transport-backed
// client, the last reported tool list, and the session health.
type Session struct {
	cfg     ServerConfig
	manager *Manager

	mu     sync.RWMutex
	client *Client
	state  SessionState
	tools  []*ToolInfo
}

// Config returns the server configuration backing the session.
func (s *Session) Config() ServerConfig {
	return s.cfg
}

// State returns the session health.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Tools returns the last reported tool list.
func (s *Session) Tools() []*ToolInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ToolInfo, len(s.tools))
	copy(out, s.tools)
	return out
}

// ServerInfo returns the handshake info, when connected.
func (s *Session) ServerInfo() *ServerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil
	}
	return s.client.ServerInfo()
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) swap(client *Client, tools []*ToolInfo) *Client {
	s.mu.Lock()
	old := s.client
	s.client = client
	s.tools = tools
	s.state = StateConnected
	s.mu.Unlock()
	return old
}

// CallTool invokes a tool by its original name. A call that hits a dead
// session triggers exactly one reconnect attempt before the failure
// surfaces; tool-level errors pass through untouched.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	s.mu.RLock()
	client := s.client
	state := s.state
	s.mu.RUnlock()

	if state != StateConnected || client == nil {
		if err := s.manager.redial(ctx, s); err != nil {
			return nil, err
		}
		s.mu.RLock()
		client = s.client
		s.mu.RUnlock()
		return s.invoke(ctx, client, name, args)
	}

	result, err := s.invoke(ctx, client, name, args)
	if err == nil || !isTransportFailure(err) {
		return result, err
	}

	logging.Warn("session lost, reconnecting once",
		"server", s.cfg.Name,
		"tool", name,
		"error", err)
	if rerr := s.manager.redial(ctx, s); rerr != nil {
		return nil, err
	}

	s.mu.RLock()
	client = s.client
	s.mu.RUnlock()
	return s.invoke(ctx, client, name, args)
}

func (s *Session) invoke(ctx context.Context, client *Client, name string, args map[string]any) (*CallToolResult, error) {
	result, err := client.CallTool(ctx, name, args)
	if err != nil && isTransportFailure(err) {
		s.setState(StateError)
	}
	return result, err
}

func isTransportFailure(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// Manager is the server connection layer. It owns the sessions for all
// enabled configs and the merged catalog rebuilt from them.
type Manager struct {
	registry *Registry
	auth     Authorizer

	mu       sync.RWMutex
	sessions map[string]*Session
	catalog  *Catalog
}

// NewManager creates a connection manager. registry supplies in-process
// endpoints; auth may be nil when no OAuth-protected servers exist.
func NewManager(registry *Registry, auth Authorizer) *Manager {
	return &Manager{
		registry: registry,
		auth:     auth,
		sessions: make(map[string]*Session),
		catalog:  BuildCatalog(nil),
	}
}

// openTransport selects the transport strategy for a config.
func (m *Manager) openTransport(ctx context.Context, cfg ServerConfig) (Transport, error) {
	switch cfg.Transport {
	case TransportInMemory:
		srv, err := m.registry.Get(cfg.Endpoint())
		if err != nil {
			return nil, err
		}
		return srv.Connect(), nil

	case TransportStdio:
		return NewStdioTransport(cfg.Command, cfg.Args, cfg.Env)

	case TransportHTTP:
		var httpClient *http.Client
		if m.auth != nil {
			var err error
			httpClient, err = m.auth.HTTPClient(ctx, cfg)
			if err != nil {
				return nil, err
			}
		}
		return NewHTTPTransport(cfg.URL, cfg.Headers, cfg.Timeout, httpClient)

	default:
		return nil, fmt.Errorf("unknown transport type: %q", cfg.Transport)
	}
}

// dial opens a transport, performs the handshake, and discovers tools.
// An authorization rejection triggers the interactive flow and exactly one
// handshake retry with fresh credentials.
func (m *Manager) dial(ctx context.Context, cfg ServerConfig) (*Client, []*ToolInfo, error) {
	client, err := m.handshake(ctx, cfg)
	if err != nil {
		var authErr *AuthRequiredError
		if !errors.As(err, &authErr) || cfg.Transport != TransportHTTP || m.auth == nil {
			return nil, nil, err
		}

		logging.Info("server requires authorization", "server", cfg.Name)
		if aerr := m.auth.Authorize(ctx, cfg, authErr.Challenge); aerr != nil {
			return nil, nil, fmt.Errorf("authorization for %s failed: %w", cfg.Name, aerr)
		}
		client, err = m.handshake(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
	}

	discCtx, cancel := context.WithTimeout(ctx, toolDiscoveryTimeout)
	defer cancel()

	tools, err := client.ListTools(discCtx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("tool discovery for %s failed: %w", cfg.Name, err)
	}
	return client, tools, nil
}

func (m *Manager) handshake(ctx context.Context, cfg ServerConfig) (*Client, error) {
	transport, err := m.openTransport(ctx, cfg)
	if err != nil {
		return nil, &ConnectionError{Server: cfg.Name, Err: err}
	}

	client := NewClient(transport, cfg.Name, cfg.Timeout)
	if err := client.Initialize(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// Connect establishes a session for one config and rebuilds the catalog.
func (m *Manager) Connect(ctx context.Context, cfg ServerConfig) (*Session, error) {
	client, tools, err := m.dial(ctx, cfg)
	if err != nil {
		return nil, err
	}

	session := &Session{
		cfg:     cfg,
		manager: m,
		client:  client,
		state:   StateConnected,
		tools:   tools,
	}

	m.mu.Lock()
	old := m.sessions[cfg.ID]
	m.sessions[cfg.ID] = session
	m.mu.Unlock()
	if old != nil {
		old.close()
	}

	m.rebuildCatalog()
	logging.Info("server connected", "name", cfg.Name, "tools", len(tools))
	return session, nil
}

type connectResult struct {
	cfg ServerConfig
	err error
}

// ConnectAll connects every enabled config in parallel. A failing server is
// skipped, its error collected; the others proceed.
func (m *Manager) ConnectAll(ctx context.Context, cfgs []ServerConfig) error {
	var toConnect []ServerConfig
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			logging.Debug("server skipped (disabled)", "name", cfg.Name)
			continue
		}
		toConnect = append(toConnect, cfg)
	}
	if len(toConnect) == 0 {
		return nil
	}

	results := make(chan connectResult, len(toConnect))
	var wg sync.WaitGroup
	for _, cfg := range toConnect {
		wg.Add(1)
		go func(cfg ServerConfig) {
			defer wg.Done()

			connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
			defer cancel()

			_, err := m.Connect(connectCtx, cfg)
			results <- connectResult{cfg: cfg, err: err}
		}(cfg)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var errs []error
	for res := range results {
		if res.err != nil {
			logging.Warn("server connection failed", "name", res.cfg.Name, "error", res.err)
			errs = append(errs, fmt.Errorf("%s: %w", res.cfg.Name, res.err))
		}
	}
	return errors.Join(errs...)
}

// redial re-establishes a session in place after a transport failure.
func (m *Manager) redial(ctx context.Context, s *Session) error {
	cfg := s.Config()
	client, tools, err := m.dial(ctx, cfg)
	if err != nil {
		s.setState(StateError)
		return err
	}

	if old := s.swap(client, tools); old != nil {
		old.Close()
	}
	m.rebuildCatalog()
	logging.Info("server reconnected", "name", cfg.Name)
	return nil
}

// Disconnect tears down the session for a server id. Idempotent: unknown
// ids are a no-op.
func (m *Manager) Disconnect(id string) error {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	session.close()
	m.rebuildCatalog()
	logging.Info("server disconnected", "name", session.cfg.Name)
	return nil
}

func (s *Session) close() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if client != nil {
		if err := client.Close(); err != nil {
			logging.Warn("session close error", "server", s.cfg.Name, "error", err)
		}
	}
}

// Reconcile applies a changed config set: new servers connect, removed
// servers disconnect, changed servers reconnect. Driven by settings updates.
func (m *Manager) Reconcile(ctx context.Context, cfgs []ServerConfig) error {
	desired := make(map[string]ServerConfig)
	for _, cfg := range cfgs {
		if cfg.Enabled {
			desired[cfg.ID] = cfg
		}
	}

	m.mu.RLock()
	current := make(map[string]ServerConfig, len(m.sessions))
	for id, session := range m.sessions {
		current[id] = session.Config()
	}
	m.mu.RUnlock()

	var toConnect []ServerConfig
	for id, cfg := range desired {
		have, ok := current[id]
		if !ok {
			toConnect = append(toConnect, cfg)
			continue
		}
		if !reflect.DeepEqual(have, cfg) {
			if err := m.Disconnect(id); err != nil {
				logging.Warn("reconcile disconnect failed", "name", have.Name, "error", err)
			}
			toConnect = append(toConnect, cfg)
		}
	}
	for id := range current {
		if _, ok := desired[id]; !ok {
			if err := m.Disconnect(id); err != nil {
				logging.Warn("reconcile disconnect failed", "id", id, "error", err)
			}
		}
	}

	return m.ConnectAll(ctx, toConnect)
}

// Session returns the session for a server id.
func (m *Manager) Session(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	return session, ok
}

// Sessions returns all sessions sorted by server id.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].cfg.ID < out[j].cfg.ID })
	return out
}

// Catalog returns the current merged tool catalog.
func (m *Manager) Catalog() *Catalog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.catalog
}

// rebuildCatalog recomputes the catalog wholesale from all sessions.
// Sessions in the error state keep contributing their last reported tools
// so that the next dispatch can trigger the reconnect path.
func (m *Manager) rebuildCatalog() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.RUnlock()

	catalog := BuildCatalog(sessions)

	m.mu.Lock()
	m.catalog = catalog
	m.mu.Unlock()
}

// Shutdown disconnects every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, session := range sessions {
		session.close()
	}
	m.rebuildCatalog()
	logging.Debug("connection manager shut down")
}
