package approval

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"recap/internal/logging"
)

// DefaultWaitDelay is how long wait mode holds an invocation before
// approving it on its own.
const DefaultWaitDelay = 15 * time.Second

// ErrUnknownRequest is returned when resolving an id the gate is not
// tracking.
var ErrUnknownRequest = errors.New("unknown approval request")

// Gate decides whether tool invocations may proceed. Depending on the
// mode it approves outright, waits briefly for an objection, or blocks
// until someone answers. Whitelisted tools bypass the gate entirely.
type Gate struct {
	mode      Mode
	whitelist []string
	waitDelay time.Duration
	timerFn   func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	pending map[string]*Request
}

// NewGate creates a gate. whitelist holds glob patterns matched against
// qualified tool names; matching tools never wait for approval.
func NewGate(mode Mode, whitelist []string) *Gate {
	return &Gate{
		mode:      mode,
		whitelist: whitelist,
		waitDelay: DefaultWaitDelay,
		timerFn:   time.After,
		pending:   make(map[string]*Request),
	}
}

// Mode returns the gate's configured mode.
func (g *Gate) Mode() Mode {
	return g.mode
}

// SetWaitDelay overrides the wait-mode window. Zero or negative keeps
// the current value.
func (g *Gate) SetWaitDelay(d time.Duration) {
	if d > 0 {
		g.waitDelay = d
	}
}

// Require registers an approval request for an invocation, or returns nil
// when the invocation needs none: yolo mode and whitelisted tools pass
// straight through.
func (g *Gate) Require(runID, tool, server string, args map[string]any) *Request {
	if g.mode == ModeYolo || g.whitelisted(tool) {
		return nil
	}

	req := &Request{
		ID:        uuid.NewString(),
		RunID:     runID,
		Tool:      tool,
		Server:    server,
		Args:      args,
		Reason:    buildReason(tool, server, args),
		CreatedAt: time.Now(),
		decided:   make(chan struct{}),
	}

	g.mu.Lock()
	g.pending[req.ID] = req
	g.mu.Unlock()

	logging.Debug("approval required", "id", req.ID, "tool", tool)
	return req
}

// Await blocks until the request is resolved. In wait mode an unanswered
// request is approved once the wait window passes. Context cancellation
// resolves the request as denied so a late answer cannot race the caller.
func (g *Gate) Await(ctx context.Context, req *Request) (Decision, error) {
	var timeout <-chan time.Time
	if g.mode == ModeWait {
		timeout = g.timerFn(g.waitDelay)
	}

	select {
	case <-req.decided:
	case <-timeout:
		if req.resolve(DecisionApproved, true) {
			logging.Info("approval window passed, proceeding", "id", req.ID, "tool", req.Tool)
		}
	case <-ctx.Done():
		req.resolve(DecisionDenied, true)
		return DecisionDenied, ctx.Err()
	}

	return req.Decision(), nil
}

// Resolve answers a pending request by id. The first answer wins;
// resolving an already-answered request is a no-op.
func (g *Gate) Resolve(id string, approved bool) error {
	g.mu.Lock()
	req, ok := g.pending[id]
	g.mu.Unlock()
	if !ok {
		return ErrUnknownRequest
	}

	decision := DecisionDenied
	if approved {
		decision = DecisionApproved
	}
	if req.resolve(decision, false) {
		logging.Info("approval resolved", "id", id, "decision", decision.String())
	}
	return nil
}

// Pending returns unanswered requests, oldest first.
func (g *Gate) Pending() []*Request {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*Request, 0, len(g.pending))
	for _, req := range g.pending {
		if req.Decision() == DecisionPending {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Get returns a tracked request by id.
func (g *Gate) Get(id string) (*Request, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.pending[id]
	return req, ok
}

// EndRun drops all requests belonging to a finished run. Unanswered ones
// are denied first so no waiter hangs.
func (g *Gate) EndRun(runID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, req := range g.pending {
		if req.RunID != runID {
			continue
		}
		req.resolve(DecisionDenied, true)
		delete(g.pending, id)
	}
}

func (g *Gate) whitelisted(tool string) bool {
	for _, pattern := range g.whitelist {
		if pattern == tool {
			return true
		}
		if ok, err := doublestar.Match(pattern, tool); err == nil && ok {
			return true
		}
	}
	return false
}
