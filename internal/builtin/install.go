package builtin

import (
	"recap/internal/mcp"
	"recap/internal/recording"
)

// Install registers the builtin servers on the registry so the
// connection layer can dial them like any configured server. The
// returned configs are ready to connect.
func Install(reg *mcp.Registry, store *recording.Store) ([]mcp.ServerConfig, error) {
	servers := []struct {
		endpoint string
		srv      *mcp.InMemoryServer
	}{
		{RecordingsEndpoint, NewRecordingsServer(store)},
		{WebEndpoint, NewWebServer()},
	}

	configs := make([]mcp.ServerConfig, 0, len(servers))
	for _, s := range servers {
		if err := reg.Register(s.endpoint, s.srv); err != nil {
			return nil, err
		}
		cfg := mcp.ServerConfig{
			ID:        s.endpoint,
			Name:      s.srv.Name(),
			Transport: mcp.TransportInMemory,
			Enabled:   true,
			Builtin:   true,
		}
		if err := reg.RegisterConfig(cfg); err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}
