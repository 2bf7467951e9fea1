package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JSON-RPC 2.0 types

// JSONRPCMessage represents a JSON-RPC 2.0 message (request, response, or notification).
type JSONRPCMessage struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`     // string, int, or nil for notifications
	Method  string `json:"method,omitempty"` // for requests/notifications
	Params  any    `json:"params,omitempty"` // for requests/notifications
	Result  any    `json:"result,omitempty"` // for successful responses
	Error   *Error `json:"error,omitempty"`  // for error responses
}

// IsRequest returns true if the message is a request (has ID and method).
func (m *JSONRPCMessage) IsRequest() bool {
	return m.ID != nil && m.Method != ""
}

// IsNotification returns true if the message is a notification (has method but no ID).
func (m *JSONRPCMessage) IsNotification() bool {
	return m.ID == nil && m.Method != ""
}

// IsResponse returns true if the message is a response (has ID but no method).
func (m *JSONRPCMessage) IsResponse() bool {
	return m.ID != nil && m.Method == ""
}

// Error represents a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Standard JSON-RPC error codes
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCP protocol types

// ServerInfo contains information about an MCP server.
type ServerInfo struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Capabilities *ServerCapability `json:"capabilities,omitempty"`
}

// ServerCapability describes server capabilities.
type ServerCapability struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability describes tool capabilities.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ClientInfo contains information about the MCP client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams are the parameters for the initialize request.
type InitializeParams struct {
	ProtocolVersion string      `json:"protocolVersion"`
	ClientInfo      *ClientInfo `json:"clientInfo"`
	Capabilities    any         `json:"capabilities,omitempty"`
}

// InitializeResult is the result of the initialize request.
type InitializeResult struct {
	ProtocolVersion string      `json:"protocolVersion"`
	ServerInfo      *ServerInfo `json:"serverInfo"`
	Capabilities    any         `json:"capabilities,omitempty"`
}

// ToolInfo describes a tool offered by a server.
type ToolInfo struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema *JSONSchema `json:"inputSchema,omitempty"`
}

// JSONSchema represents a JSON Schema object.
type JSONSchema struct {
	Type        string                 `json:"type,omitempty"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]*JSONSchema `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Items       *JSONSchema            `json:"items,omitempty"`
	Enum        []string               `json:"enum,omitempty"`
	Default     any                    `json:"default,omitempty"`
}

// Map returns the schema as a generic JSON object, the form the model
// clients consume.
func (s *JSONSchema) Map() map[string]any {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// ListToolsResult is the result of the tools/list request.
type ListToolsResult struct {
	Tools []*ToolInfo `json:"tools"`
}

// CallToolParams are the parameters for the tools/call request.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// CallToolResult is the result of the tools/call request.
type CallToolResult struct {
	Content []*ContentBlock `json:"content"`
	IsError bool            `json:"isError,omitempty"`
}

// ContentBlock represents a content block in tool results.
type ContentBlock struct {
	Type     string `json:"type"`               // "text", "image", "resource"
	Text     string `json:"text,omitempty"`     // for text content
	MIMEType string `json:"mimeType,omitempty"` // for image/resource content
	Data     string `json:"data,omitempty"`     // base64 data for images
	URI      string `json:"uri,omitempty"`      // for resource references
}

// TextContent builds a single-block text result.
func TextContent(text string) []*ContentBlock {
	return []*ContentBlock{{Type: "text", Text: text}}
}

// TextResult builds a successful text-only tool result.
func TextResult(text string) *CallToolResult {
	return &CallToolResult{Content: TextContent(text)}
}

// ErrorResult builds a failed text-only tool result.
func ErrorResult(text string) *CallToolResult {
	return &CallToolResult{Content: TextContent(text), IsError: true}
}

// FlattenContent renders content blocks as plain text for the model.
// Non-text blocks are described, never passed through raw.
func FlattenContent(blocks []*ContentBlock) string {
	if len(blocks) == 0 {
		return "(no output)"
	}

	var parts []string
	for _, block := range blocks {
		switch block.Type {
		case "text":
			if block.Text != "" {
				parts = append(parts, block.Text)
			}
		case "image":
			parts = append(parts, fmt.Sprintf("[Image: %s]", block.MIMEType))
		case "resource":
			parts = append(parts, fmt.Sprintf("[Resource: %s]", block.URI))
		default:
			if block.Text != "" {
				parts = append(parts, block.Text)
			}
		}
	}

	if len(parts) == 0 {
		return "(no output)"
	}
	return strings.Join(parts, "\n")
}

// Transport kinds for server configurations.
const (
	TransportInMemory = "inmemory"
	TransportStdio    = "stdio"
	TransportHTTP     = "http"
)

// ServerConfig holds configuration for one tool server integration.
// ID is the stable identity: it survives renames and keys sessions,
// token caches, and collision disambiguation.
type ServerConfig struct {
	ID        string `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	Transport string `yaml:"transport" json:"transport"` // "inmemory", "stdio", or "http"

	// stdio transport
	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// http transport
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// inmemory transport: registry endpoint id, defaults to ID
	Channel string `yaml:"channel,omitempty" json:"channel,omitempty"`

	// ToolWhitelist restricts which tools the server contributes to the
	// catalog. Entries are original tool names or glob patterns; empty
	// admits all tools.
	ToolWhitelist []string `yaml:"tool_whitelist,omitempty" json:"toolWhitelist,omitempty"`

	Enabled bool          `yaml:"enabled" json:"enabled"`
	Builtin bool          `yaml:"builtin,omitempty" json:"builtin,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Endpoint returns the registry endpoint id for an in-memory config.
func (c ServerConfig) Endpoint() string {
	if c.Channel != "" {
		return c.Channel
	}
	return c.ID
}

// SessionState is the health of a server session.
type SessionState string

const (
	StateConnected    SessionState = "connected"
	StateDisconnected SessionState = "disconnected"
	StateError        SessionState = "error"
)

// MCP protocol version
const ProtocolVersion = "2024-11-05"

// MCP method names
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
	MethodPing        = "ping"
)
