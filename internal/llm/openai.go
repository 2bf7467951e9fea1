package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"recap/internal/logging"
)

// openaiClient talks to OpenAI or any OpenAI-compatible endpoint.
type openaiClient struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	retry       RetryConfig
}

func newOpenAIClient(cfg Config) (*openaiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: missing API key")
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	return &openaiClient{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		retry:       cfg.Retry.withDefaults(),
	}, nil
}

func (c *openaiClient) Model() string { return c.model }

func (c *openaiClient) Close() error { return nil }

func (c *openaiClient) GenerateText(ctx context.Context, req Request) (string, error) {
	result, err := c.generate(ctx, req, nil)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

func (c *openaiClient) GenerateWithTools(ctx context.Context, req Request, tools []ToolDef) (*Result, error) {
	return c.generate(ctx, req, tools)
}

func (c *openaiClient) generate(ctx context.Context, req Request, tools []ToolDef) (*Result, error) {
	messages, err := openaiMessages(req)
	if err != nil {
		return nil, err
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: float32(c.temperature),
	}
	if c.maxTokens > 0 {
		chatReq.MaxTokens = c.maxTokens
	}
	if len(tools) > 0 {
		chatReq.Tools, err = openaiTools(tools)
		if err != nil {
			return nil, err
		}
	}

	var resp openai.ChatCompletionResponse
	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := CalculateBackoff(c.retry.RetryDelay, attempt-1, c.retry.MaxDelay)
			logging.Debug("openai request retry", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, lastErr = c.client.CreateChatCompletion(ctx, chatReq)
		if lastErr == nil {
			return parseOpenAIResponse(resp)
		}
		if !IsRetryableError(lastErr) {
			return nil, fmt.Errorf("openai request failed: %w", lastErr)
		}
	}

	return nil, fmt.Errorf("openai request failed after %d retries: %w", c.retry.MaxRetries, lastErr)
}

func openaiMessages(req Request) ([]openai.ChatCompletionMessage, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	for _, m := range req.Messages {
		switch m.Role {
		case RoleUser:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: m.Text,
			})

		case RoleAssistant:
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: m.Text,
			}
			for _, tc := range m.ToolCalls {
				args, err := json.Marshal(tc.Args)
				if err != nil {
					return nil, fmt.Errorf("openai: failed to marshal tool call args: %w", err)
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
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
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    content,
				Name:       m.Result.Name,
				ToolCallID: m.Result.CallID,
			})
		}
	}
	return messages, nil
}

func openaiTools(tools []ToolDef) ([]openai.Tool, error) {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		params, err := json.Marshal(schema)
		if err != nil {
			return nil, fmt.Errorf("openai: failed to marshal tool schema for %s: %w", t.Name, err)
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return out, nil
}

func parseOpenAIResponse(resp openai.ChatCompletionResponse) (*Result, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: response contained no choices")
	}

	msg := resp.Choices[0].Message
	result := &Result{Text: msg.Content}
	for i, tc := range msg.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]any{"raw_arguments": tc.Function.Arguments}
			}
		}
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:   id,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return result, nil
}
