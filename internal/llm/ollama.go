package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"recap/internal/logging"
)

const defaultOllamaURL = "http://localhost:11434"

// ollamaClient talks to a local or remote Ollama server.
type ollamaClient struct {
	client      *api.Client
	model       string
	maxTokens   int
	temperature float64
	retry       RetryConfig
}

func newOllamaClient(cfg Config) (*ollamaClient, error) {
	base := cfg.BaseURL
	if base == "" {
		base = defaultOllamaURL
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("ollama: invalid base URL: %w", err)
	}

	if baseURL.Scheme == "http" {
		host := baseURL.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			logging.Warn("ollama connection uses unencrypted HTTP to remote host", "host", host)
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &ollamaClient{
		client:      api.NewClient(baseURL, &http.Client{Timeout: timeout}),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		retry:       cfg.Retry.withDefaults(),
	}, nil
}

func (c *ollamaClient) Model() string { return c.model }

func (c *ollamaClient) Close() error { return nil }

func (c *ollamaClient) GenerateText(ctx context.Context, req Request) (string, error) {
	result, err := c.generate(ctx, req, nil)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

func (c *ollamaClient) GenerateWithTools(ctx context.Context, req Request, tools []ToolDef) (*Result, error) {
	return c.generate(ctx, req, tools)
}

func (c *ollamaClient) generate(ctx context.Context, req Request, tools []ToolDef) (*Result, error) {
	chatReq := &api.ChatRequest{
		Model:    c.model,
		Messages: ollamaMessages(req),
		Stream:   ptr(false),
		Options:  map[string]any{},
	}
	if c.maxTokens > 0 {
		chatReq.Options["num_predict"] = c.maxTokens
	}
	if c.temperature > 0 {
		chatReq.Options["temperature"] = c.temperature
	}
	if len(tools) > 0 {
		chatReq.Tools = ollamaTools(tools)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := CalculateBackoff(c.retry.RetryDelay, attempt-1, c.retry.MaxDelay)
			logging.Debug("ollama request retry", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result := &Result{}
		err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				result.Text += resp.Message.Content
			}
			for i, tc := range resp.Message.ToolCalls {
				id := tc.ID
				if id == "" {
					id = fmt.Sprintf("call_%d", i)
				}
				result.ToolCalls = append(result.ToolCalls, ToolCall{
					ID:   id,
					Name: tc.Function.Name,
					Args: tc.Function.Arguments.ToMap(),
				})
			}
			return nil
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsRetryableError(err) {
			return nil, fmt.Errorf("ollama request failed: %w", err)
		}
	}

	return nil, fmt.Errorf("ollama request failed after %d retries: %w", c.retry.MaxRetries, lastErr)
}

func ollamaMessages(req Request) []api.Message {
	messages := make([]api.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.System})
	}

	for _, m := range req.Messages {
		switch m.Role {
		case RoleUser:
			messages = append(messages, api.Message{Role: "user", Content: m.Text})

		case RoleAssistant:
			msg := api.Message{Role: "assistant", Content: m.Text}
			for _, tc := range m.ToolCalls {
				args := api.NewToolCallFunctionArguments()
				for k, v := range tc.Args {
					args.Set(k, v)
				}
				msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
					ID: tc.ID,
					Function: api.ToolCallFunction{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			messages = append(messages, msg)

		case RoleTool:
			if m.Result == nil {
				continue
			}
			content := m.Result.Content
			if m.Result.IsError {
				content = "Error: " + content
			}
			messages = append(messages, api.Message{
				Role:       "tool",
				Content:    content,
				ToolName:   m.Result.Name,
				ToolCallID: m.Result.CallID,
			})
		}
	}
	return messages
}

func ollamaTools(tools []ToolDef) []api.Tool {
	out := make([]api.Tool, 0, len(tools))
	for _, t := range tools {
		params := api.ToolFunctionParameters{
			Type:       "object",
			Properties: api.NewToolPropertiesMap(),
		}

		if t.InputSchema != nil {
			if req, ok := t.InputSchema["required"].([]any); ok {
				for _, v := range req {
					if s, ok := v.(string); ok {
						params.Required = append(params.Required, s)
					}
				}
			}
			if props, ok := t.InputSchema["properties"].(map[string]any); ok {
				for name, raw := range props {
					pm, ok := raw.(map[string]any)
					if !ok {
						continue
					}
					prop := api.ToolProperty{}
					if d, ok := pm["description"].(string); ok {
						prop.Description = d
					}
					if typ, ok := pm["type"].(string); ok && typ != "" {
						prop.Type = api.PropertyType{strings.ToLower(typ)}
					}
					if enum, ok := pm["enum"].([]any); ok && len(enum) > 0 {
						prop.Enum = enum
					}
					params.Properties.Set(name, prop)
				}
			}
		}

		out = append(out, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
