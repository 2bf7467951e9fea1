package mcp

import (
	"errors"
	"fmt"
)

// ErrServerNotFound is returned by the registry for unknown endpoint ids.
var ErrServerNotFound = errors.New("server not found")

// ErrTransportClosed is returned when sending on a closed transport.
var ErrTransportClosed = errors.New("transport is closed")

// ConnectionError is a transport-level failure: unreachable server, dead
// process, request timeout. Sessions retry once on it before surfacing.
type ConnectionError struct {
	Server string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Server, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError is a handshake or message-shape violation. Fatal to the
// session, never to the process.
type ProtocolError struct {
	Server string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error from %s: %s", e.Server, e.Reason)
}

// AuthRequiredError signals that an HTTP server rejected the request for
// missing credentials. Challenge carries the WWW-Authenticate header for
// resource metadata discovery.
type AuthRequiredError struct {
	URL       string
	Challenge string
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf("authorization required by %s", e.URL)
}

// UnknownToolError is returned by catalog dispatch for names no session
// offers. The orchestrator reports it to the model and continues.
type UnknownToolError struct {
	Tool string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Tool)
}

// ToolExecutionError is a failure inside a tool invocation. It flows back
// to the model as an error result; the run continues.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }
