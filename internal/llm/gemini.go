package llm

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"recap/internal/logging"
)

// geminiClient talks to the Gemini API through the official genai SDK.
type geminiClient struct {
	client      *genai.Client
	model       string
	maxTokens   int32
	temperature float64
	retry       RetryConfig
}

func newGeminiClient(ctx context.Context, cfg Config) (*geminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: missing API key")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}

	return &geminiClient{
		client:      client,
		model:       cfg.Model,
		maxTokens:   int32(cfg.MaxTokens),
		temperature: cfg.Temperature,
		retry:       cfg.Retry.withDefaults(),
	}, nil
}

func (c *geminiClient) Model() string { return c.model }

func (c *geminiClient) Close() error {
	// The genai client has no explicit close.
	return nil
}

func (c *geminiClient) GenerateText(ctx context.Context, req Request) (string, error) {
	result, err := c.generate(ctx, req, nil)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

func (c *geminiClient) GenerateWithTools(ctx context.Context, req Request, tools []ToolDef) (*Result, error) {
	return c.generate(ctx, req, tools)
}

func (c *geminiClient) generate(ctx context.Context, req Request, tools []ToolDef) (*Result, error) {
	contents := geminiContents(req.Messages)

	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if c.maxTokens > 0 {
		config.MaxOutputTokens = c.maxTokens
	}
	if c.temperature > 0 {
		config.Temperature = ptr(float32(c.temperature))
	}
	if len(tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: geminiDeclarations(tools)}}
	}

	var resp *genai.GenerateContentResponse
	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := CalculateBackoff(c.retry.RetryDelay, attempt-1, c.retry.MaxDelay)
			logging.Debug("gemini request retry", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, lastErr = c.client.Models.GenerateContent(ctx, c.model, contents, config)
		if lastErr == nil {
			return parseGeminiResponse(resp), nil
		}
		if !IsRetryableError(lastErr) {
			return nil, fmt.Errorf("gemini request failed: %w", lastErr)
		}
	}

	return nil, fmt.Errorf("gemini request failed after %d retries: %w", c.retry.MaxRetries, lastErr)
}

// geminiContents converts a neutral transcript to genai contents. Each part
// carries exactly one of Text, FunctionCall, or FunctionResponse.
func geminiContents(msgs []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			if m.Text == "" {
				continue
			}
			contents = append(contents, genai.NewContentFromText(m.Text, genai.RoleUser))

		case RoleAssistant:
			var parts []*genai.Part
			if m.Text != "" {
				parts = append(parts, &genai.Part{Text: m.Text})
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   tc.ID,
					Name: tc.Name,
					Args: tc.Args,
				}})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})

		case RoleTool:
			if m.Result == nil {
				continue
			}
			response := map[string]any{"content": m.Result.Content}
			if m.Result.IsError {
				response = map[string]any{"error": m.Result.Content}
			}
			part := genai.NewPartFromFunctionResponse(m.Result.Name, response)
			part.FunctionResponse.ID = m.Result.CallID
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{part}})
		}
	}
	return contents
}

func geminiDeclarations(tools []ToolDef) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  geminiSchema(t.InputSchema),
		})
	}
	return decls
}

// geminiSchema converts a generic JSON Schema map to a genai Schema.
func geminiSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}

	schema := &genai.Schema{}
	if d, ok := m["description"].(string); ok {
		schema.Description = d
	}

	typ, _ := m["type"].(string)
	switch typ {
	case "string":
		schema.Type = genai.TypeString
		if enum, ok := m["enum"].([]any); ok {
			for _, v := range enum {
				if s, ok := v.(string); ok {
					schema.Enum = append(schema.Enum, s)
				}
			}
		}
	case "number":
		schema.Type = genai.TypeNumber
	case "integer":
		schema.Type = genai.TypeInteger
	case "boolean":
		schema.Type = genai.TypeBoolean
	case "array":
		schema.Type = genai.TypeArray
		if items, ok := m["items"].(map[string]any); ok {
			schema.Items = geminiSchema(items)
		}
	case "object":
		schema.Type = genai.TypeObject
		if props, ok := m["properties"].(map[string]any); ok && len(props) > 0 {
			schema.Properties = make(map[string]*genai.Schema, len(props))
			for name, prop := range props {
				if pm, ok := prop.(map[string]any); ok {
					schema.Properties[name] = geminiSchema(pm)
				}
			}
		}
		if req, ok := m["required"].([]any); ok {
			for _, v := range req {
				if s, ok := v.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
	default:
		schema.Type = genai.TypeString
	}

	return schema
}

func parseGeminiResponse(resp *genai.GenerateContentResponse) *Result {
	result := &Result{}
	if resp == nil || len(resp.Candidates) == 0 {
		return result
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return result
	}

	for i, part := range candidate.Content.Parts {
		if part.Thought {
			continue
		}
		if part.Text != "" {
			result.Text += part.Text
		}
		if part.FunctionCall != nil {
			id := part.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", i)
			}
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:   id,
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			})
		}
	}
	return result
}
