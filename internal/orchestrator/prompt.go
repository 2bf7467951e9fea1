package orchestrator

import "fmt"

// PromptProvider supplies the system prompt for runs. ActivePrompt
// returns false when no custom prompt is configured, in which case the
// built-in default is used.
type PromptProvider interface {
	ActivePrompt() (string, bool)
}

// StaticPrompt is a PromptProvider holding a fixed prompt. The empty
// string means none.
type StaticPrompt string

// ActivePrompt implements PromptProvider.
func (p StaticPrompt) ActivePrompt() (string, bool) {
	return string(p), p != ""
}

const defaultSystemPrompt = `You turn a recorded work session into a finished work item.

You receive the recording's transcript, a summary, and a link to the
uploaded video. Use the available tools to look up whatever else you
need and to create or update the work item. Work step by step:

1. Understand what was demonstrated or discussed in the recording.
2. Gather missing details with the tools before writing anything.
3. Produce the work item: a clear title, a description of what happened
   and what should be done, and the video link for reference.

Rules:
- Ground every claim in the transcript or a tool result. Do not invent
  reproduction steps, error messages, or names.
- If a tool fails, read the error and try a different approach instead
  of repeating the same call.
- When the work item is created, reply with a short confirmation that
  includes its identifier or URL. Your final reply without tool calls
  ends the run.`

func buildUserPrompt(task Task) string {
	if task.Context == "" {
		return task.Goal
	}
	return fmt.Sprintf("%s\n\n%s", task.Goal, task.Context)
}
