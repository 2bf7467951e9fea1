package approval

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Mode controls how tool invocations pass the gate.
type Mode string

const (
	// ModeYolo approves every invocation without asking.
	ModeYolo Mode = "yolo"
	// ModeWait asks, and approves automatically when no answer arrives
	// within the wait window.
	ModeWait Mode = "wait"
	// ModeAsk asks and blocks until someone answers.
	ModeAsk Mode = "ask"
)

// ParseMode validates a mode string from configuration.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeYolo, ModeWait, ModeAsk:
		return Mode(s), nil
	case "":
		return ModeAsk, nil
	default:
		return "", fmt.Errorf("unknown approval mode: %q", s)
	}
}

// Decision is the outcome of one approval request.
type Decision int

const (
	// DecisionPending means nobody has answered yet.
	DecisionPending Decision = iota
	// DecisionApproved lets the invocation proceed.
	DecisionApproved
	// DecisionDenied blocks the invocation.
	DecisionDenied
)

func (d Decision) String() string {
	switch d {
	case DecisionPending:
		return "pending"
	case DecisionApproved:
		return "approved"
	case DecisionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Request is one pending approval: a tool invocation waiting for an
// answer.
type Request struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	Tool      string         `json:"tool"`
	Server    string         `json:"server"`
	Args      map[string]any `json:"args,omitempty"`
	Reason    string         `json:"reason"`
	CreatedAt time.Time      `json:"created_at"`

	mu       sync.Mutex
	decision Decision
	auto     bool
	decided  chan struct{}
}

// Decision returns the current decision for the request.
func (r *Request) Decision() Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decision
}

// Done returns a channel closed once the request is resolved, by
// whichever of user answer, wait window, or run teardown comes first.
func (r *Request) Done() <-chan struct{} {
	return r.decided
}

// Auto reports whether the decision was made by the gate itself rather
// than a user.
func (r *Request) Auto() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.auto
}

// resolve records the first decision and wakes the waiter. Later calls
// are no-ops; the first answer wins.
func (r *Request) resolve(d Decision, auto bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.decision != DecisionPending {
		return false
	}
	r.decision = d
	r.auto = auto
	close(r.decided)
	return true
}

// buildReason summarizes an invocation for whoever has to answer.
func buildReason(tool, server string, args map[string]any) string {
	if len(args) == 0 {
		return fmt.Sprintf("Call %s on %s", tool, server)
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("Call %s on %s", tool, server)
	}
	preview := string(encoded)
	if len(preview) > 150 {
		preview = preview[:147] + "..."
	}
	return fmt.Sprintf("Call %s on %s with %s", tool, server, preview)
}
