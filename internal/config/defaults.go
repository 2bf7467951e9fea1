package config

import "time"

// Default configuration values.
const (
	// Model settings
	DefaultModel           = "gemini-3-flash-preview"
	DefaultTranscribeModel = "gemini-3-flash-preview"
	DefaultMaxTokens       = 8192

	// Retry settings
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultHTTPTimeout = 120 * time.Second

	// Orchestration settings
	DefaultMaxSteps  = 50
	DefaultWaitDelay = 15 * time.Second

	// Pipeline settings
	DefaultUploadTimeout = 30 * time.Second

	// Serve settings
	DefaultServeAddr = "127.0.0.1:7483"

	// Audit settings
	DefaultAuditEntries = 1000
)
