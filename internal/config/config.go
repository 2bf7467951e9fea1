package config

import (
	"time"

	"recap/internal/mcp"
)

// Config represents the main application configuration.
type Config struct {
	LLM      LLMConfig          `yaml:"llm"`
	Approval ApprovalConfig     `yaml:"approval"`
	Servers  []mcp.ServerConfig `yaml:"servers"`
	Run      RunConfig          `yaml:"run"`
	OAuth    OAuthConfig        `yaml:"oauth"`
	Pipeline PipelineConfig     `yaml:"pipeline"`
	Serve    ServeConfig        `yaml:"serve"`
	Audit    AuditConfig        `yaml:"audit"`
	Logging  LoggingConfig      `yaml:"logging"`

	// DataDir holds recordings and cached credentials.
	DataDir string `yaml:"data_dir"`

	// Runtime version information
	Version string `yaml:"-"`
}

// LLMConfig holds model provider settings.
type LLMConfig struct {
	Provider    string      `yaml:"provider"` // gemini, openai, ollama; empty = detect from model name
	Model       string      `yaml:"model"`
	APIKey      string      `yaml:"api_key,omitempty"`
	BaseURL     string      `yaml:"base_url,omitempty"` // OpenAI-compatible or Ollama endpoint override
	MaxTokens   int         `yaml:"max_tokens"`
	Temperature float64     `yaml:"temperature"`
	Retry       RetryConfig `yaml:"retry"`
}

// RetryConfig holds retry settings for model calls.
type RetryConfig struct {
	MaxRetries  int           `yaml:"max_retries"`  // Maximum number of retry attempts (default: 3)
	RetryDelay  time.Duration `yaml:"retry_delay"`  // Initial delay between retries (default: 1s)
	HTTPTimeout time.Duration `yaml:"http_timeout"` // HTTP request timeout (default: 120s)
}

// ApprovalConfig holds tool approval settings.
type ApprovalConfig struct {
	Mode      string        `yaml:"mode"`       // yolo, wait, or ask (default: ask)
	Whitelist []string      `yaml:"whitelist"`  // Namespaced tool names or glob patterns that skip approval
	WaitDelay time.Duration `yaml:"wait_delay"` // Auto-approve delay in wait mode (default: 15s)
}

// RunConfig holds orchestration settings.
type RunConfig struct {
	MaxSteps     int    `yaml:"max_steps"`               // Step budget per run (default: 50)
	SystemPrompt string `yaml:"system_prompt,omitempty"` // Override for the built-in system prompt
}

// OAuthConfig holds settings for authorizing against protected servers.
type OAuthConfig struct {
	ClientID     string   `yaml:"client_id,omitempty"` // Pre-registered client id, skips dynamic registration
	ClientSecret string   `yaml:"client_secret,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty"` // Requested scopes; empty uses server defaults
	RedirectPort int      `yaml:"redirect_port"`    // Loopback callback port; 0 picks an ephemeral port
	PreferDevice bool     `yaml:"prefer_device"`    // Use the device flow even when a browser is available
}

// PipelineConfig holds processing stage settings.
type PipelineConfig struct {
	Upload     UploadConfig     `yaml:"upload"`
	Transcribe TranscribeConfig `yaml:"transcribe"`
}

// UploadConfig holds the video host connection settings.
type UploadConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	KeyPath        string        `yaml:"key_path,omitempty"`
	KeyPassphrase  string        `yaml:"key_passphrase,omitempty"`
	Password       string        `yaml:"password,omitempty"`    // Fallback if no key
	KnownHostsPath string        `yaml:"known_hosts,omitempty"` // Defaults to ~/.ssh/known_hosts
	RemoteDir      string        `yaml:"remote_dir"`
	PublicBaseURL  string        `yaml:"public_base_url"` // URL prefix uploaded files are served from
	Timeout        time.Duration `yaml:"timeout"`
}

// TranscribeConfig holds transcription settings.
type TranscribeConfig struct {
	Model  string `yaml:"model"`
	APIKey string `yaml:"api_key,omitempty"` // Falls back to llm.api_key
}

// ServeConfig holds the local API server settings.
type ServeConfig struct {
	Addr string `yaml:"addr"` // Listen address (default: 127.0.0.1:7483)
}

// AuditConfig holds the tool invocation log settings.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`     // Record every tool invocation (default: true)
	MaxEntries int  `yaml:"max_entries"` // Entries retained for queries (default: 1000)
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // Logging level: debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "gemini",
			Model:       DefaultModel,
			MaxTokens:   DefaultMaxTokens,
			Temperature: 1.0,
			Retry: RetryConfig{
				MaxRetries:  DefaultMaxRetries,
				RetryDelay:  DefaultRetryDelay,
				HTTPTimeout: DefaultHTTPTimeout,
			},
		},
		Approval: ApprovalConfig{
			Mode:      "ask",
			Whitelist: []string{},
			WaitDelay: DefaultWaitDelay,
		},
		Servers: []mcp.ServerConfig{},
		Run: RunConfig{
			MaxSteps: DefaultMaxSteps,
		},
		OAuth: OAuthConfig{
			RedirectPort: 0, // Ephemeral port
		},
		Pipeline: PipelineConfig{
			Upload: UploadConfig{
				Port:    22,
				Timeout: DefaultUploadTimeout,
			},
			Transcribe: TranscribeConfig{
				Model: DefaultTranscribeModel,
			},
		},
		Serve: ServeConfig{
			Addr: DefaultServeAddr,
		},
		Audit: AuditConfig{
			Enabled:    true,
			MaxEntries: DefaultAuditEntries,
		},
		Logging: LoggingConfig{
			Level: "warn", // Default to warn level (less verbose)
		},
	}
}
