package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"recap/internal/approval"
	"recap/internal/mcp"
)

// Load loads configuration from the given file and environment
// variables. An empty path uses the default location; a missing file is
// not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = getConfigPath()
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	loadFromEnv(cfg)
	cfg.normalize()

	return cfg, nil
}

// getConfigPath returns the path to the config file.
func getConfigPath() string {
	// Check XDG_CONFIG_HOME first
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "recap", "config.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	// For macOS, favor Library/Application Support/recap if it exists or if we're on darwin
	if runtime.GOOS == "darwin" {
		appSupport := filepath.Join(homeDir, "Library", "Application Support", "recap", "config.yaml")
		if _, err := os.Stat(appSupport); err == nil {
			return appSupport
		}
		// Fall back to .config if it already exists there
		dotConfig := filepath.Join(homeDir, ".config", "recap", "config.yaml")
		if _, err := os.Stat(dotConfig); err == nil {
			return dotConfig
		}
		// Default to App Support for new installs on macOS
		return appSupport
	}

	// Default for other Unix-like systems
	return filepath.Join(homeDir, ".config", "recap", "config.yaml")
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// Expand environment variables in the config file
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
func loadFromEnv(cfg *Config) {
	// API key from environment
	// Priority: RECAP_API_KEY > GEMINI_API_KEY > OPENAI_API_KEY
	if apiKey := os.Getenv("RECAP_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	} else if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	} else if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
		if cfg.LLM.Provider == "" {
			cfg.LLM.Provider = "openai"
		}
	}

	if model := os.Getenv("RECAP_MODEL"); model != "" {
		cfg.LLM.Model = model
	}

	if provider := os.Getenv("RECAP_PROVIDER"); provider != "" {
		cfg.LLM.Provider = provider
	}

	if mode := os.Getenv("RECAP_APPROVAL_MODE"); mode != "" {
		cfg.Approval.Mode = mode
	}

	if dataDir := os.Getenv("RECAP_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}

	if level := os.Getenv("RECAP_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

// normalize fills derived and defaulted fields after loading.
func (c *Config) normalize() {
	if c.DataDir == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			c.DataDir = filepath.Join(homeDir, ".recap")
		}
	}
	if c.Run.MaxSteps <= 0 {
		c.Run.MaxSteps = DefaultMaxSteps
	}
	if c.Approval.WaitDelay <= 0 {
		c.Approval.WaitDelay = DefaultWaitDelay
	}
	if c.Pipeline.Transcribe.Model == "" {
		c.Pipeline.Transcribe.Model = DefaultTranscribeModel
	}
	if c.Pipeline.Transcribe.APIKey == "" {
		c.Pipeline.Transcribe.APIKey = c.LLM.APIKey
	}
	if c.Serve.Addr == "" {
		c.Serve.Addr = DefaultServeAddr
	}

	// Servers without an explicit id keep using their name as identity.
	for i := range c.Servers {
		if c.Servers[i].ID == "" {
			c.Servers[i].ID = c.Servers[i].Name
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := approval.ParseMode(c.Approval.Mode); err != nil {
		return err
	}

	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model must be set")
	}

	seen := make(map[string]bool, len(c.Servers))
	for _, srv := range c.Servers {
		if srv.Name == "" {
			return fmt.Errorf("server with id %q has no name", srv.ID)
		}
		if seen[srv.ID] {
			return fmt.Errorf("duplicate server id: %s", srv.ID)
		}
		seen[srv.ID] = true

		switch srv.Transport {
		case mcp.TransportStdio:
			if srv.Command == "" {
				return fmt.Errorf("server %s: stdio transport requires a command", srv.Name)
			}
		case mcp.TransportHTTP:
			if srv.URL == "" {
				return fmt.Errorf("server %s: http transport requires a url", srv.Name)
			}
		case mcp.TransportInMemory:
		default:
			return fmt.Errorf("server %s: unknown transport %q", srv.Name, srv.Transport)
		}
	}

	return nil
}

// GetConfigPath returns the path to the config file (exported for external use).
func GetConfigPath() string {
	return getConfigPath()
}

// Save saves the configuration to the given file, or the default
// location when path is empty.
func (c *Config) Save(path string) error {
	if path == "" {
		path = getConfigPath()
	}
	if path == "" {
		return fmt.Errorf("could not determine config path")
	}

	// Ensure config directory exists (0700 for security - only owner can access)
	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write to file atomically (write to temp file then rename)
	// Use 0600 permissions for security - config may contain API keys
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	// Rename temp file to actual config file (atomic on POSIX systems)
	if err := os.Rename(tmpPath, path); err != nil {
		// If rename fails, try direct write (Windows filesystem)
		if err := os.WriteFile(path, data, 0600); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}
