package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"recap/internal/mcp"
)

// clearEnv blanks every variable Load consults so host settings cannot
// leak into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"RECAP_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY",
		"RECAP_MODEL", "RECAP_PROVIDER", "RECAP_APPROVAL_MODE",
		"RECAP_DATA_DIR", "RECAP_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	dataDir := t.TempDir()
	t.Setenv("RECAP_DATA_DIR", dataDir)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LLM.Model != DefaultModel {
		t.Errorf("model = %q, want %q", cfg.LLM.Model, DefaultModel)
	}
	if cfg.Approval.Mode != "ask" {
		t.Errorf("approval mode = %q, want ask", cfg.Approval.Mode)
	}
	if cfg.Approval.WaitDelay != DefaultWaitDelay {
		t.Errorf("wait delay = %v, want %v", cfg.Approval.WaitDelay, DefaultWaitDelay)
	}
	if cfg.Run.MaxSteps != DefaultMaxSteps {
		t.Errorf("max steps = %d, want %d", cfg.Run.MaxSteps, DefaultMaxSteps)
	}
	if cfg.Serve.Addr != DefaultServeAddr {
		t.Errorf("serve addr = %q, want %q", cfg.Serve.Addr, DefaultServeAddr)
	}
	if cfg.Pipeline.Transcribe.Model != DefaultTranscribeModel {
		t.Errorf("transcribe model = %q, want %q", cfg.Pipeline.Transcribe.Model, DefaultTranscribeModel)
	}
	if cfg.DataDir != dataDir {
		t.Errorf("data dir = %q, want %q", cfg.DataDir, dataDir)
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
llm:
  model: gemini-3-pro-preview
  api_key: file-key
approval:
  mode: wait
  wait_delay: 5s
servers:
  - name: github
    transport: stdio
    command: github-mcp
    enabled: true
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LLM.Model != "gemini-3-pro-preview" {
		t.Errorf("model = %q, want the file value", cfg.LLM.Model)
	}
	if cfg.Approval.Mode != "wait" || cfg.Approval.WaitDelay != 5*time.Second {
		t.Errorf("approval = %+v, want wait/5s", cfg.Approval)
	}
	// Untouched keys keep their defaults.
	if cfg.Run.MaxSteps != DefaultMaxSteps {
		t.Errorf("max steps = %d, want the default", cfg.Run.MaxSteps)
	}
	// Transcription borrows the model key when it has none of its own.
	if cfg.Pipeline.Transcribe.APIKey != "file-key" {
		t.Errorf("transcribe api key = %q, want the llm key", cfg.Pipeline.Transcribe.APIKey)
	}
	if len(cfg.Servers) != 1 {
		t.Fatalf("servers = %d, want 1", len(cfg.Servers))
	}
	// A server without an explicit id is identified by its name.
	if cfg.Servers[0].ID != "github" {
		t.Errorf("server id = %q, want github", cfg.Servers[0].ID)
	}
}

func TestLoadExpandsEnvReferences(t *testing.T) {
	clearEnv(t)
	t.Setenv("RECAP_TEST_SECRET", "sekrit")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "llm:\n  api_key: ${RECAP_TEST_SECRET}\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "sekrit" {
		t.Errorf("api key = %q, want the expanded value", cfg.LLM.APIKey)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "llm:\n  model: from-file\napproval:\n  mode: yolo\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("RECAP_MODEL", "from-env")
	t.Setenv("RECAP_APPROVAL_MODE", "ask")
	t.Setenv("GEMINI_API_KEY", "gemini-key")
	t.Setenv("RECAP_API_KEY", "recap-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Model != "from-env" {
		t.Errorf("model = %q, want the env value", cfg.LLM.Model)
	}
	if cfg.Approval.Mode != "ask" {
		t.Errorf("approval mode = %q, want the env value", cfg.Approval.Mode)
	}
	if cfg.LLM.APIKey != "recap-key" {
		t.Errorf("api key = %q, RECAP_API_KEY should win over GEMINI_API_KEY", cfg.LLM.APIKey)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults pass",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad approval mode",
			mutate:  func(c *Config) { c.Approval.Mode = "sometimes" },
			wantErr: "approval mode",
		},
		{
			name:    "missing model",
			mutate:  func(c *Config) { c.LLM.Model = "" },
			wantErr: "llm.model",
		},
		{
			name: "server without name",
			mutate: func(c *Config) {
				c.Servers = []mcp.ServerConfig{{ID: "x", Transport: mcp.TransportStdio, Command: "x"}}
			},
			wantErr: "no name",
		},
		{
			name: "duplicate server id",
			mutate: func(c *Config) {
				c.Servers = []mcp.ServerConfig{
					{ID: "a", Name: "a", Transport: mcp.TransportStdio, Command: "a"},
					{ID: "a", Name: "b", Transport: mcp.TransportStdio, Command: "b"},
				}
			},
			wantErr: "duplicate server id",
		},
		{
			name: "stdio without command",
			mutate: func(c *Config) {
				c.Servers = []mcp.ServerConfig{{ID: "a", Name: "a", Transport: mcp.TransportStdio}}
			},
			wantErr: "requires a command",
		},
		{
			name: "http without url",
			mutate: func(c *Config) {
				c.Servers = []mcp.ServerConfig{{ID: "a", Name: "a", Transport: mcp.TransportHTTP}}
			},
			wantErr: "requires a url",
		},
		{
			name: "unknown transport",
			mutate: func(c *Config) {
				c.Servers = []mcp.ServerConfig{{ID: "a", Name: "a", Transport: "carrier-pigeon"}}
			},
			wantErr: "unknown transport",
		},
		{
			name: "inmemory needs no endpoint config",
			mutate: func(c *Config) {
				c.Servers = []mcp.ServerConfig{{ID: "a", Name: "a", Transport: mcp.TransportInMemory}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate passed, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Model = "gemini-3-pro-preview"
	cfg.Approval.Mode = "wait"
	cfg.Servers = []mcp.ServerConfig{{
		ID: "linear", Name: "linear", Transport: mcp.TransportHTTP,
		URL: "https://mcp.linear.app/mcp", Enabled: true,
	}}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config file mode = %o, want 0600", perm)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.LLM.Model != cfg.LLM.Model {
		t.Errorf("model = %q, want %q", loaded.LLM.Model, cfg.LLM.Model)
	}
	if len(loaded.Servers) != 1 || loaded.Servers[0].URL != cfg.Servers[0].URL {
		t.Errorf("servers did not survive the round trip: %+v", loaded.Servers)
	}
}
