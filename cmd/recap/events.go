package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"recap/internal/approval"
	"recap/internal/events"
)

// renderer prints run progress to the terminal and answers approval
// prompts from stdin.
type renderer struct {
	gate  *approval.Gate
	sub   *events.Subscription
	lines chan string
	wg    sync.WaitGroup
}

func newRenderer(broadcaster *events.Broadcaster, gate *approval.Gate) *renderer {
	r := &renderer{
		gate:  gate,
		sub:   broadcaster.Subscribe(64),
		lines: make(chan string, 1),
	}
	go r.readInput()
	r.wg.Add(1)
	go r.loop()
	return r
}

// Stop detaches from the event stream and waits for the printer to
// drain. The stdin reader stays parked until the process exits.
func (r *renderer) Stop() {
	r.sub.Unsubscribe()
	r.wg.Wait()
}

func (r *renderer) readInput() {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case r.lines <- scanner.Text():
		default:
		}
	}
}

func (r *renderer) loop() {
	defer r.wg.Done()
	for ev := range r.sub.Events() {
		r.print(ev)
	}
}

func (r *renderer) print(ev events.Event) {
	switch ev.Type {
	case events.TypeStart:
		fmt.Printf("run %s\n%s\n", ev.RunID, ev.Message)
	case events.TypeReasoning:
		fmt.Printf("  [%d] %s\n", ev.Step, firstLine(ev.Message))
	case events.TypeToolCall:
		fmt.Printf("  [%d] -> %s\n", ev.Step, ev.Tool)
	case events.TypeToolResult:
		status := "ok"
		if ev.IsError {
			status = "error"
		}
		fmt.Printf("  [%d] <- %s (%s)\n", ev.Step, ev.Tool, status)
	case events.TypeToolApprovalRequired:
		r.prompt(ev)
	case events.TypeToolDenied:
		fmt.Printf("  [%d] denied %s\n", ev.Step, ev.Tool)
	case events.TypeFinalResult:
		if ev.Message != "" {
			fmt.Printf("\n%s\n", ev.Message)
		}
	case events.TypeError:
		fmt.Fprintf(os.Stderr, "run failed: %s\n", ev.Message)
	}
}

// prompt asks the user to answer one approval request. It returns when
// the user answers or the request is resolved elsewhere, whichever
// comes first; in wait mode that includes the automatic approval.
func (r *renderer) prompt(ev events.Event) {
	req, ok := r.gate.Get(ev.ApprovalID)
	if !ok {
		return
	}

	// Drop anything typed before the question was asked.
	select {
	case <-r.lines:
	default:
	}

	fmt.Printf("\n%s\nallow? [y/N] ", req.Reason)

	select {
	case line := <-r.lines:
		answer := strings.ToLower(strings.TrimSpace(line))
		approved := answer == "y" || answer == "yes"
		if err := r.gate.Resolve(req.ID, approved); err != nil {
			fmt.Printf("(%s)\n", req.Decision())
		}
	case <-req.Done():
		fmt.Printf("(%s)\n", req.Decision())
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
