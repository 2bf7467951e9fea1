package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"recap/internal/logging"
)

const inMemoryQueueSize = 16

// inMemoryTransport is one end of a paired channel transport. Both ends
// share the closed channel so closing either side tears down the pair.
type inMemoryTransport struct {
	in     chan *JSONRPCMessage
	out    chan *JSONRPCMessage
	closed chan struct{}
	once   *sync.Once
}

func newInMemoryPair() (clientEnd, serverEnd *inMemoryTransport) {
	toServer := make(chan *JSONRPCMessage, inMemoryQueueSize)
	toClient := make(chan *JSONRPCMessage, inMemoryQueueSize)
	closed := make(chan struct{})
	once := &sync.Once{}

	clientEnd = &inMemoryTransport{in: toClient, out: toServer, closed: closed, once: once}
	serverEnd = &inMemoryTransport{in: toServer, out: toClient, closed: closed, once: once}
	return clientEnd, serverEnd
}

func (t *inMemoryTransport) Send(msg *JSONRPCMessage) error {
	msg.JSONRPC = "2.0"
	select {
	case t.out <- msg:
		return nil
	case <-t.closed:
		return ErrTransportClosed
	}
}

func (t *inMemoryTransport) Receive() (*JSONRPCMessage, error) {
	select {
	case msg := <-t.in:
		return msg, nil
	case <-t.closed:
		// Drain anything already queued before reporting EOF.
		select {
		case msg := <-t.in:
			return msg, nil
		default:
			return nil, io.EOF
		}
	}
}

func (t *inMemoryTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

// ToolHandler executes one tool call on an in-process server.
type ToolHandler func(ctx context.Context, args map[string]any) (*CallToolResult, error)

// InMemoryServer is a tool server hosted inside the process. It speaks the
// same protocol as external servers, over paired channels instead of pipes,
// so sessions treat all servers uniformly.
type InMemoryServer struct {
	name    string
	version string

	mu       sync.RWMutex
	tools    []*ToolInfo
	handlers map[string]ToolHandler
}

// NewInMemoryServer creates an empty in-process server.
func NewInMemoryServer(name, version string) *InMemoryServer {
	return &InMemoryServer{
		name:     name,
		version:  version,
		handlers: make(map[string]ToolHandler),
	}
}

// Name returns the server's advertised name.
func (s *InMemoryServer) Name() string { return s.name }

// RegisterTool adds a tool and its handler. Duplicate names error.
func (s *InMemoryServer) RegisterTool(info *ToolInfo, handler ToolHandler) error {
	if info == nil || info.Name == "" {
		return fmt.Errorf("tool info must have a name")
	}
	if handler == nil {
		return fmt.Errorf("tool %s has no handler", info.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.handlers[info.Name]; exists {
		return fmt.Errorf("tool already registered: %s", info.Name)
	}
	s.handlers[info.Name] = handler
	s.tools = append(s.tools, info)
	return nil
}

// Connect opens a new session against the server and returns the client
// end of the transport. Each call gets its own channel pair, so multiple
// sessions can attach independently.
func (s *InMemoryServer) Connect() Transport {
	clientEnd, serverEnd := newInMemoryPair()
	go s.serve(serverEnd)
	return clientEnd
}

func (s *InMemoryServer) serve(t Transport) {
	defer t.Close()

	for {
		msg, err := t.Receive()
		if err != nil {
			return
		}
		if msg.IsNotification() {
			continue
		}
		if !msg.IsRequest() {
			continue
		}
		if err := t.Send(s.handle(msg)); err != nil {
			return
		}
	}
}

func (s *InMemoryServer) handle(msg *JSONRPCMessage) *JSONRPCMessage {
	switch msg.Method {
	case MethodInitialize:
		return &JSONRPCMessage{
			ID: msg.ID,
			Result: &InitializeResult{
				ProtocolVersion: ProtocolVersion,
				ServerInfo: &ServerInfo{
					Name:         s.name,
					Version:      s.version,
					Capabilities: &ServerCapability{Tools: &ToolsCapability{}},
				},
			},
		}

	case MethodToolsList:
		s.mu.RLock()
		tools := make([]*ToolInfo, len(s.tools))
		copy(tools, s.tools)
		s.mu.RUnlock()
		return &JSONRPCMessage{ID: msg.ID, Result: &ListToolsResult{Tools: tools}}

	case MethodToolsCall:
		return s.handleCall(msg)

	case MethodPing:
		return &JSONRPCMessage{ID: msg.ID, Result: map[string]any{}}

	default:
		return &JSONRPCMessage{ID: msg.ID, Error: &Error{
			Code:    ErrCodeMethodNotFound,
			Message: fmt.Sprintf("method not supported: %s", msg.Method),
		}}
	}
}

func (s *InMemoryServer) handleCall(msg *JSONRPCMessage) *JSONRPCMessage {
	var params CallToolParams
	raw, err := json.Marshal(msg.Params)
	if err == nil {
		err = json.Unmarshal(raw, &params)
	}
	if err != nil || params.Name == "" {
		return &JSONRPCMessage{ID: msg.ID, Error: &Error{
			Code:    ErrCodeInvalidParams,
			Message: "invalid tools/call params",
		}}
	}

	s.mu.RLock()
	handler, ok := s.handlers[params.Name]
	s.mu.RUnlock()
	if !ok {
		return &JSONRPCMessage{ID: msg.ID, Error: &Error{
			Code:    ErrCodeInvalidParams,
			Message: fmt.Sprintf("unknown tool: %s", params.Name),
		}}
	}

	result, err := handler(context.Background(), params.Arguments)
	if err != nil {
		logging.Debug("in-process tool failed", "server", s.name, "tool", params.Name, "error", err)
		result = ErrorResult(err.Error())
	}
	if result == nil {
		result = TextResult("")
	}
	return &JSONRPCMessage{ID: msg.ID, Result: result}
}
