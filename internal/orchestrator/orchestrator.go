// Package orchestrator drives the tool-calling loop that turns prepared
// source material into a finished work item: send context to the model,
// execute the tool calls it requests through the approval gate, feed the
// results back, and repeat until the model answers or the step budget
// runs out.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"recap/internal/approval"
	"recap/internal/events"
	"recap/internal/llm"
	"recap/internal/logging"
	"recap/internal/mcp"
)

// DefaultMaxSteps bounds how many model turns one run may take.
const DefaultMaxSteps = 50

// resultPreviewLimit caps how much tool output goes into progress events.
// The model always sees the full text.
const resultPreviewLimit = 2000

// ToolSource supplies the current tool catalog. The connection manager
// implements it.
type ToolSource interface {
	Catalog() *mcp.Catalog
}

// Options tunes an Orchestrator.
type Options struct {
	// MaxSteps overrides the step budget; <= 0 keeps the default.
	MaxSteps int
	// Prompts supplies the system prompt; nil uses the built-in one.
	Prompts PromptProvider
}

// Orchestrator executes runs. Safe for concurrent use; each run keeps
// its own conversation.
type Orchestrator struct {
	llm      llm.Client
	tools    ToolSource
	gate     *approval.Gate
	events   *events.Broadcaster
	prompts  PromptProvider
	maxSteps int

	mu   sync.Mutex
	runs map[string]*Run
}

// New creates an orchestrator over the given model, tool source, gate,
// and event broadcaster.
func New(client llm.Client, tools ToolSource, gate *approval.Gate, broadcaster *events.Broadcaster, opts Options) *Orchestrator {
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Orchestrator{
		llm:      client,
		tools:    tools,
		gate:     gate,
		events:   broadcaster,
		prompts:  opts.Prompts,
		maxSteps: maxSteps,
		runs:     make(map[string]*Run),
	}
}

// Run executes one task to completion. It blocks until the run ends;
// callers wanting concurrency start their own goroutine and follow the
// event stream. Fatal errors are returned and also reported as error
// events; tool-level failures are fed back to the model instead.
func (o *Orchestrator) Run(ctx context.Context, task Task) (*Result, error) {
	runID := task.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	run := newRun(runID, task.Goal)
	o.mu.Lock()
	o.runs[runID] = run
	o.mu.Unlock()
	defer o.gate.EndRun(runID)

	reporter := o.events.ForRun(runID)
	reporter.Start(task.Goal)
	logging.Info("run started", "run_id", runID, "goal", task.Goal)

	messages := []llm.Message{llm.UserMessage(buildUserPrompt(task))}

	var lastText string
	for step := 1; step <= o.maxSteps; step++ {
		run.setStep(step)

		if err := ctx.Err(); err != nil {
			return o.fail(run, reporter, OutcomeCanceled, err)
		}

		run.setState(StateThinking)
		resp, err := o.llm.GenerateWithTools(ctx, llm.Request{
			System:   o.systemPrompt(),
			Messages: messages,
		}, o.toolDefs())
		if err != nil {
			return o.fail(run, reporter, OutcomeFailed, fmt.Errorf("model response error: %w", err))
		}

		messages = append(messages, llm.AssistantMessage(resp.Text, resp.ToolCalls...))
		if resp.Text != "" {
			lastText = resp.Text
		}

		if len(resp.ToolCalls) == 0 {
			return o.complete(run, reporter, OutcomeCompleted, resp.Text)
		}

		// Commentary alongside tool calls is progress, not the answer.
		if resp.Text != "" {
			reporter.Reasoning(step, resp.Text)
		}

		run.setState(StateExecuting)
		for _, call := range resp.ToolCalls {
			toolResult, fatal := o.invokeTool(ctx, run, reporter, step, call)
			if fatal != nil {
				outcome := OutcomeFailed
				if ctx.Err() != nil {
					outcome = OutcomeCanceled
				}
				return o.fail(run, reporter, outcome, fatal)
			}
			messages = append(messages, llm.ToolMessage(toolResult))
		}
	}

	logging.Warn("run hit step budget", "run_id", runID, "steps", o.maxSteps)
	return o.complete(run, reporter, OutcomeStepBudget, lastText)
}

// invokeTool resolves, gates, and executes one tool call. Everything
// short of a canceled context comes back as a tool result for the model;
// the returned error is reserved for fatal conditions.
func (o *Orchestrator) invokeTool(ctx context.Context, run *Run, reporter *events.Reporter, step int, call llm.ToolCall) (llm.ToolResult, error) {
	entry, err := o.tools.Catalog().Resolve(call.Name)
	if err != nil {
		// The model asked for a tool that does not exist. Tell it and
		// let it pick another.
		reporter.ToolCall(step, call.ID, call.Name, "", call.Args)
		msg := fmt.Sprintf("%s. Available tools: %v", err, o.tools.Catalog().Names())
		reporter.ToolResult(step, call.ID, call.Name, preview(msg), true)
		return errorResult(call, msg), nil
	}
	server := entry.Session.Config().Name

	reporter.ToolCall(step, call.ID, call.Name, server, call.Args)

	if req := o.gate.Require(run.ID, call.Name, server, call.Args); req != nil {
		run.setState(StateAwaitingApproval)
		reporter.ApprovalRequired(step, req.ID, call.Name, req.Reason)

		decision, err := o.gate.Await(ctx, req)
		run.setState(StateExecuting)
		if err != nil {
			return llm.ToolResult{}, err
		}
		if decision != approval.DecisionApproved {
			reporter.ToolDenied(step, call.ID, call.Name)
			return errorResult(call, "Tool call denied by the user. Do not retry it; continue without this tool or try a different approach."), nil
		}
	}

	result, err := entry.Session.CallTool(ctx, entry.Tool.Name, call.Args)
	if err != nil {
		if ctx.Err() != nil {
			return llm.ToolResult{}, ctx.Err()
		}
		msg := fmt.Sprintf("tool %s failed: %v", call.Name, err)
		logging.Warn("tool invocation failed", "run_id", run.ID, "tool", call.Name, "error", err)
		reporter.ToolResult(step, call.ID, call.Name, preview(msg), true)
		return errorResult(call, msg), nil
	}

	text := mcp.FlattenContent(result.Content)
	reporter.ToolResult(step, call.ID, call.Name, preview(text), result.IsError)
	return llm.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: text,
		IsError: result.IsError,
	}, nil
}

func errorResult(call llm.ToolCall, msg string) llm.ToolResult {
	return llm.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: msg,
		IsError: true,
	}
}

func preview(s string) string {
	if len(s) > resultPreviewLimit {
		return s[:resultPreviewLimit] + "..."
	}
	return s
}

func (o *Orchestrator) complete(run *Run, reporter *events.Reporter, outcome Outcome, output string) (*Result, error) {
	run.finish(StateDone, outcome, output, nil)
	reporter.FinalResult(output)
	logging.Info("run finished", "run_id", run.ID, "outcome", string(outcome), "steps", run.Steps())
	return &Result{RunID: run.ID, Outcome: outcome, Output: output, Steps: run.Steps()}, nil
}

func (o *Orchestrator) fail(run *Run, reporter *events.Reporter, outcome Outcome, err error) (*Result, error) {
	run.finish(StateFailed, outcome, "", err)
	reporter.Error(err)
	logging.Error("run failed", "run_id", run.ID, "outcome", string(outcome), "error", err)
	return &Result{RunID: run.ID, Outcome: outcome, Steps: run.Steps()}, err
}

func (o *Orchestrator) systemPrompt() string {
	if o.prompts != nil {
		if prompt, ok := o.prompts.ActivePrompt(); ok {
			return prompt
		}
	}
	return defaultSystemPrompt
}

func (o *Orchestrator) toolDefs() []llm.ToolDef {
	entries := o.tools.Catalog().Entries()
	defs := make([]llm.ToolDef, 0, len(entries))
	for _, entry := range entries {
		defs = append(defs, llm.ToolDef{
			Name:        entry.Name,
			Description: entry.Tool.Description,
			InputSchema: entry.Tool.InputSchema.Map(),
		})
	}
	return defs
}

// RunStatus returns the snapshot of a tracked run.
func (o *Orchestrator) RunStatus(id string) (Status, bool) {
	o.mu.Lock()
	run, ok := o.runs[id]
	o.mu.Unlock()
	if !ok {
		return Status{}, false
	}
	return run.Snapshot(), true
}

// Runs lists all tracked runs, oldest first.
func (o *Orchestrator) Runs() []Status {
	o.mu.Lock()
	out := make([]Status, 0, len(o.runs))
	for _, run := range o.runs {
		out = append(out, run.Snapshot())
	}
	o.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}
