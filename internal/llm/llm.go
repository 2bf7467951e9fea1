// Package llm provides a provider-neutral client for tool-calling chat models.
package llm

import (
	"context"
	"time"
)

// Role identifies the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult carries the outcome of a tool call back to the model.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// Message is a single entry in a run transcript. User messages carry Text,
// assistant messages carry Text and/or ToolCalls, tool messages carry Result.
type Message struct {
	Role      Role
	Text      string
	ToolCalls []ToolCall
	Result    *ToolResult
}

// UserMessage builds a user text message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Text: text}
}

// AssistantMessage builds an assistant message with optional tool calls.
func AssistantMessage(text string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Text: text, ToolCalls: calls}
}

// ToolMessage builds a tool-result message.
func ToolMessage(result ToolResult) Message {
	return Message{Role: RoleTool, Result: &result}
}

// ToolDef describes a callable tool offered to the model. InputSchema is a
// JSON Schema object in generic map form.
type ToolDef struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Request is a single completion request over a transcript.
type Request struct {
	System   string
	Messages []Message
}

// Result is one model turn: final text, or requested tool calls with
// optional accompanying text.
type Result struct {
	Text      string
	ToolCalls []ToolCall
}

// Client is the interface to a chat model provider.
type Client interface {
	// GenerateText runs a plain completion and returns the response text.
	GenerateText(ctx context.Context, req Request) (string, error)

	// GenerateWithTools runs a completion with the given tools offered.
	GenerateWithTools(ctx context.Context, req Request, tools []ToolDef) (*Result, error)

	// Model returns the configured model identifier.
	Model() string

	// Close releases provider resources.
	Close() error
}

// Config selects and parameterizes a provider backend.
type Config struct {
	Provider    string // "gemini", "openai", or "ollama"; empty = detect from model
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Retry       RetryConfig
}

func ptr[T any](v T) *T {
	return &v
}
