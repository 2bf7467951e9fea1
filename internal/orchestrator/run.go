package orchestrator

import (
	"sync"
	"time"
)

// State is where a run currently is in its loop.
type State string

const (
	// StateThinking means the run is waiting on the model.
	StateThinking State = "thinking"
	// StateExecuting means the run is executing tool calls.
	StateExecuting State = "executing"
	// StateAwaitingApproval means an invocation is held at the gate.
	StateAwaitingApproval State = "awaiting_approval"
	// StateDone means the run finished with a result.
	StateDone State = "done"
	// StateFailed means the run stopped on a fatal error.
	StateFailed State = "failed"
)

// Outcome classifies how a run ended.
type Outcome string

const (
	// OutcomeCompleted means the model produced a final answer.
	OutcomeCompleted Outcome = "completed"
	// OutcomeStepBudget means the run stopped at the step limit.
	OutcomeStepBudget Outcome = "step_budget_exhausted"
	// OutcomeFailed means a fatal error ended the run.
	OutcomeFailed Outcome = "failed"
	// OutcomeCanceled means the run's context was canceled.
	OutcomeCanceled Outcome = "canceled"
)

// Task is the input to one run.
type Task struct {
	// RunID names the run; empty picks a fresh id.
	RunID string
	// Goal states what the run should produce.
	Goal string
	// Context is the source material the goal refers to.
	Context string
}

// Result is what a finished run returned.
type Result struct {
	RunID   string
	Outcome Outcome
	Output  string
	Steps   int
}

// Run tracks one orchestration in flight.
type Run struct {
	ID        string
	Goal      string
	StartedAt time.Time

	mu         sync.Mutex
	state      State
	steps      int
	outcome    Outcome
	output     string
	err        error
	finishedAt time.Time
}

func newRun(id, goal string) *Run {
	return &Run{
		ID:        id,
		Goal:      goal,
		StartedAt: time.Now(),
		state:     StateThinking,
	}
}

func (r *Run) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Run) setStep(n int) {
	r.mu.Lock()
	r.steps = n
	r.mu.Unlock()
}

func (r *Run) finish(state State, outcome Outcome, output string, err error) {
	r.mu.Lock()
	r.state = state
	r.outcome = outcome
	r.output = output
	r.err = err
	r.finishedAt = time.Now()
	r.mu.Unlock()
}

// Steps returns how many loop steps the run has taken.
func (r *Run) Steps() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.steps
}

// State returns where the run currently is.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Status is a point-in-time snapshot of a run for reporting surfaces.
type Status struct {
	ID         string    `json:"id"`
	Goal       string    `json:"goal"`
	State      State     `json:"state"`
	Outcome    Outcome   `json:"outcome,omitempty"`
	Steps      int       `json:"steps"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Output     string    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Snapshot captures the run's current status.
func (r *Run) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := Status{
		ID:         r.ID,
		Goal:       r.Goal,
		State:      r.state,
		Outcome:    r.outcome,
		Steps:      r.steps,
		StartedAt:  r.StartedAt,
		FinishedAt: r.finishedAt,
		Output:     r.output,
	}
	if r.err != nil {
		status.Error = r.err.Error()
	}
	return status
}
