package events

import (
	"sync"
	"sync/atomic"
	"time"

	"recap/internal/logging"
)

// defaultBuffer is the per-subscriber channel depth.
const defaultBuffer = 64

// Sink receives every published event. Implementations must return
// quickly; slow sinks should buffer internally.
type Sink interface {
	Deliver(ev Event)
}

// Subscription is one reader's view of the event stream.
type Subscription struct {
	ch      chan Event
	b       *Broadcaster
	once    sync.Once
	dropped atomic.Int64
}

// Events returns the channel events arrive on. It closes when the
// subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped returns how many events this subscriber missed because its
// buffer was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Unsubscribe detaches the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.b.remove(s)
		close(s.ch)
	})
}

// Broadcaster fans events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full loses that event and the loss is
// counted against it.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	sinks  []Sink
	closed bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a reader. buffer <= 0 uses the default depth.
func (b *Broadcaster) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	sub := &Subscription{
		ch: make(chan Event, buffer),
		b:  b,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// AttachSink registers a sink that sees every event.
func (b *Broadcaster) AttachSink(sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.sinks = append(b.sinks, sink)
	}
}

func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}

// publish delivers an event to every subscriber and sink.
func (b *Broadcaster) publish(ev Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	sinks := b.sinks
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			n := sub.dropped.Add(1)
			if n == 1 || n%100 == 0 {
				logging.Warn("slow event subscriber, dropping", "run_id", ev.RunID, "dropped", n)
			}
		}
	}
	for _, sink := range sinks {
		sink.Deliver(ev)
	}
}

// Close ends all subscriptions. Further publishes are ignored.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()

	for sub := range subs {
		sub.once.Do(func() { close(sub.ch) })
	}
}

// Reporter emits the events of a single run, stamping each with the next
// sequence number. One reporter per run; its methods are called from the
// run's own goroutine so ordering follows emission order.
type Reporter struct {
	runID string
	b     *Broadcaster
	seq   atomic.Int64
}

// ForRun creates a reporter for a run id.
func (b *Broadcaster) ForRun(runID string) *Reporter {
	return &Reporter{runID: runID, b: b}
}

// RunID returns the id this reporter stamps on its events.
func (r *Reporter) RunID() string {
	return r.runID
}

func (r *Reporter) emit(ev Event) {
	ev.RunID = r.runID
	ev.Seq = r.seq.Add(1)
	ev.Timestamp = time.Now()
	r.b.publish(ev)
}

// Start opens the run. message describes what the run is working on.
func (r *Reporter) Start(message string) {
	r.emit(Event{Type: TypeStart, Message: message})
}

// Reasoning reports model commentary at a step.
func (r *Reporter) Reasoning(step int, text string) {
	r.emit(Event{Type: TypeReasoning, Step: step, Message: text})
}

// ToolCall reports a requested invocation.
func (r *Reporter) ToolCall(step int, callID, tool, server string, args map[string]any) {
	r.emit(Event{Type: TypeToolCall, Step: step, CallID: callID, Tool: tool, Server: server, Args: args})
}

// ToolResult reports an invocation outcome. isError marks tool-level
// failures that the run continues past.
func (r *Reporter) ToolResult(step int, callID, tool, result string, isError bool) {
	r.emit(Event{Type: TypeToolResult, Step: step, CallID: callID, Tool: tool, Result: result, IsError: isError})
}

// ApprovalRequired reports that an invocation is waiting at the gate.
func (r *Reporter) ApprovalRequired(step int, approvalID, tool, reason string) {
	r.emit(Event{Type: TypeToolApprovalRequired, Step: step, ApprovalID: approvalID, Tool: tool, Message: reason})
}

// ToolDenied reports a refusal.
func (r *Reporter) ToolDenied(step int, callID, tool string) {
	r.emit(Event{Type: TypeToolDenied, Step: step, CallID: callID, Tool: tool})
}

// FinalResult closes the run with its answer.
func (r *Reporter) FinalResult(text string) {
	r.emit(Event{Type: TypeFinalResult, Message: text})
}

// Error closes the run with a fatal failure.
func (r *Reporter) Error(err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	r.emit(Event{Type: TypeError, Message: msg})
}
