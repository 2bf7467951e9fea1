// Package events carries run progress out of the orchestration loop to
// whoever is watching: the CLI printer, the HTTP event stream, tests.
// Events within one run are strictly ordered by Seq; delivery to any
// individual subscriber is best effort.
package events

import "time"

// Type identifies what happened.
type Type string

const (
	// TypeStart opens a run.
	TypeStart Type = "start"
	// TypeReasoning carries model commentary produced alongside tool calls.
	TypeReasoning Type = "reasoning"
	// TypeToolCall records that the model requested a tool invocation.
	TypeToolCall Type = "tool_call"
	// TypeToolResult carries the outcome of an invocation, including
	// tool-level failures.
	TypeToolResult Type = "tool_result"
	// TypeToolApprovalRequired means an invocation is waiting at the gate.
	TypeToolApprovalRequired Type = "tool_approval_required"
	// TypeToolDenied means the gate refused an invocation.
	TypeToolDenied Type = "tool_denied"
	// TypeFinalResult carries the run's answer.
	TypeFinalResult Type = "final_result"
	// TypeError reports a fatal run failure.
	TypeError Type = "error"
)

// Event is one progress record. Fields beyond the header are populated
// according to Type.
type Event struct {
	Type      Type      `json:"type"`
	RunID     string    `json:"run_id"`
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Step      int       `json:"step,omitempty"`

	// Message holds reasoning text, the final answer, or an error.
	Message string `json:"message,omitempty"`

	// Tool invocation details.
	Tool       string         `json:"tool,omitempty"`
	Server     string         `json:"server,omitempty"`
	CallID     string         `json:"call_id,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	Result     string         `json:"result,omitempty"`
	IsError    bool           `json:"is_error,omitempty"`
	ApprovalID string         `json:"approval_id,omitempty"`
}
