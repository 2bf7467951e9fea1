package llm

import (
	"encoding/json"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func TestOpenAIMessages(t *testing.T) {
	req := Request{
		System: "be terse",
		Messages: []Message{
			UserMessage("create a ticket"),
			AssistantMessage("on it", ToolCall{
				ID: "c1", Name: "jira_create", Args: map[string]any{"title": "login bug"},
			}),
			ToolMessage(ToolResult{CallID: "c1", Name: "jira_create", Content: "PROJ-12"}),
			ToolMessage(ToolResult{CallID: "c2", Name: "jira_create", Content: "boom", IsError: true}),
		},
	}

	msgs, err := openaiMessages(req)
	if err != nil {
		t.Fatalf("openaiMessages: %v", err)
	}
	if len(msgs) != 5 {
		t.Fatalf("got %d messages, want 5", len(msgs))
	}

	if msgs[0].Role != openai.ChatMessageRoleSystem || msgs[0].Content != "be terse" {
		t.Errorf("system message = %+v", msgs[0])
	}
	if msgs[1].Role != openai.ChatMessageRoleUser {
		t.Errorf("user role = %q", msgs[1].Role)
	}

	asst := msgs[2]
	if asst.Role != openai.ChatMessageRoleAssistant || len(asst.ToolCalls) != 1 {
		t.Fatalf("assistant message = %+v", asst)
	}
	if asst.ToolCalls[0].ID != "c1" || asst.ToolCalls[0].Function.Name != "jira_create" {
		t.Errorf("tool call = %+v", asst.ToolCalls[0])
	}
	if asst.ToolCalls[0].Function.Arguments != `{"title":"login bug"}` {
		t.Errorf("arguments = %q", asst.ToolCalls[0].Function.Arguments)
	}

	if msgs[3].Role != openai.ChatMessageRoleTool || msgs[3].ToolCallID != "c1" || msgs[3].Content != "PROJ-12" {
		t.Errorf("tool result = %+v", msgs[3])
	}
	// Failures reach the model prefixed, not dropped.
	if msgs[4].Content != "Error: boom" {
		t.Errorf("error result content = %q", msgs[4].Content)
	}
}

func TestOpenAIToolDefaultsSchema(t *testing.T) {
	tools, err := openaiTools([]ToolDef{{Name: "bare"}})
	if err != nil {
		t.Fatalf("openaiTools: %v", err)
	}
	if len(tools) != 1 {
		t.Fatalf("got %d tools, want 1", len(tools))
	}
	if tools[0].Function.Name != "bare" {
		t.Errorf("name = %q", tools[0].Function.Name)
	}
	params, ok := tools[0].Function.Parameters.(json.RawMessage)
	if !ok {
		t.Fatalf("parameters have type %T, want raw json", tools[0].Function.Parameters)
	}
	if !strings.Contains(string(params), `"type":"object"`) {
		t.Errorf("schema = %s, want an empty object schema", params)
	}
}

func TestParseOpenAIResponse(t *testing.T) {
	resp := openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Content: "created",
				ToolCalls: []openai.ToolCall{
					{
						ID:   "call-a",
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      "jira_create",
							Arguments: `{"title":"x"}`,
						},
					},
					{
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      "jira_comment",
							Arguments: `{broken`,
						},
					},
				},
			},
		}},
	}

	result, err := parseOpenAIResponse(resp)
	if err != nil {
		t.Fatalf("parseOpenAIResponse: %v", err)
	}
	if result.Text != "created" {
		t.Errorf("text = %q", result.Text)
	}
	if len(result.ToolCalls) != 2 {
		t.Fatalf("got %d tool calls, want 2", len(result.ToolCalls))
	}
	if result.ToolCalls[0].Args["title"] != "x" {
		t.Errorf("args = %+v", result.ToolCalls[0].Args)
	}
	// Unparseable arguments survive as raw text; a missing id is filled in.
	if result.ToolCalls[1].ID != "call_1" {
		t.Errorf("generated id = %q, want call_1", result.ToolCalls[1].ID)
	}
	if result.ToolCalls[1].Args["raw_arguments"] != `{broken` {
		t.Errorf("raw args = %+v", result.ToolCalls[1].Args)
	}
}

func TestParseOpenAIResponseNoChoices(t *testing.T) {
	if _, err := parseOpenAIResponse(openai.ChatCompletionResponse{}); err == nil {
		t.Fatal("empty response did not error")
	}
}
