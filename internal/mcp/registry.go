package mcp

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the in-process transport registry. Builtin servers register
// an endpoint once at process start; the connection layer dials them by
// endpoint id and enumerates their configs alongside external servers.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]*InMemoryServer
	configs map[string]ServerConfig
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		servers: make(map[string]*InMemoryServer),
		configs: make(map[string]ServerConfig),
	}
}

// Register binds an in-process server to an endpoint id.
// Registering the same id twice errors.
func (r *Registry) Register(serverID string, srv *InMemoryServer) error {
	if serverID == "" {
		return fmt.Errorf("endpoint id must not be empty")
	}
	if srv == nil {
		return fmt.Errorf("server must not be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.servers[serverID]; exists {
		return fmt.Errorf("endpoint already registered: %s", serverID)
	}
	r.servers[serverID] = srv
	return nil
}

// Get returns the server bound to an endpoint id.
func (r *Registry) Get(serverID string) (*InMemoryServer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	srv, ok := r.servers[serverID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, serverID)
	}
	return srv, nil
}

// RegisterConfig records the configuration of an in-process server so the
// connection layer can enumerate builtins next to external servers. Only
// in-memory configs are accepted; anything else fails fast.
func (r *Registry) RegisterConfig(cfg ServerConfig) error {
	if cfg.Transport != TransportInMemory {
		return fmt.Errorf("registry only accepts in-memory configs, got transport %q for %s", cfg.Transport, cfg.Name)
	}
	if cfg.ID == "" {
		return fmt.Errorf("config for %s has no id", cfg.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.configs[cfg.ID]; exists {
		return fmt.Errorf("config already registered: %s", cfg.ID)
	}
	r.configs[cfg.ID] = cfg
	return nil
}

// Configs returns the registered in-process configs, sorted by id.
func (r *Registry) Configs() []ServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServerConfig, 0, len(r.configs))
	for _, cfg := range r.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
