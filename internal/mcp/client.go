package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"recap/internal/logging"
)

// clientInfo identifies this client in handshakes.
var clientInfo = &ClientInfo{Name: "recap", Version: "1.0.0"}

// Client handles JSON-RPC request/response traffic with one server over a
// transport. A background loop routes responses to pending requests by id.
type Client struct {
	transport  Transport
	serverName string
	timeout    time.Duration

	serverInfo  *ServerInfo
	initialized bool
	mu          sync.RWMutex

	nextID    int64
	pending   map[int64]chan *JSONRPCMessage
	pendingMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient wraps a transport and starts the receive loop. The connection
// layer selects and builds the transport.
func NewClient(transport Transport, serverName string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		transport:  transport,
		serverName: serverName,
		timeout:    timeout,
		pending:    make(map[int64]chan *JSONRPCMessage),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	go c.receiveLoop()
	return c
}

func (c *Client) receiveLoop() {
	defer close(c.done)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		msg, err := c.transport.Receive()
		if err != nil {
			if c.ctx.Err() == nil {
				logging.Debug("receive loop ended", "server", c.serverName, "error", err)
			}
			return
		}
		c.route(msg)
	}
}

func (c *Client) route(msg *JSONRPCMessage) {
	if msg.IsResponse() {
		id, ok := msg.ID.(float64) // JSON numbers decode as float64
		if !ok {
			if n, isInt := msg.ID.(int64); isInt {
				id, ok = float64(n), true
			}
		}
		if !ok {
			logging.Warn("response with invalid id type", "server", c.serverName, "id", msg.ID)
			return
		}

		c.pendingMu.Lock()
		ch, exists := c.pending[int64(id)]
		if exists {
			delete(c.pending, int64(id))
		}
		c.pendingMu.Unlock()

		if !exists {
			logging.Warn("response for unknown request", "server", c.serverName, "id", id)
			return
		}
		select {
		case ch <- msg:
		default:
		}
		return
	}

	if msg.IsNotification() {
		logging.Debug("notification received", "server", c.serverName, "method", msg.Method)
	}
}

// request sends a request and waits for its response.
func (c *Client) request(ctx context.Context, method string, params any) (*JSONRPCMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)

	respCh := make(chan *JSONRPCMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	msg := &JSONRPCMessage{ID: id, Method: method, Params: params}
	if err := c.transport.Send(msg); err != nil {
		return nil, &ConnectionError{Server: c.serverName, Err: err}
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp, nil
	case <-time.After(c.timeout):
		return nil, &ConnectionError{
			Server: c.serverName,
			Err:    fmt.Errorf("%s timed out after %v", method, c.timeout),
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, &ConnectionError{Server: c.serverName, Err: ErrTransportClosed}
	}
}

func (c *Client) notify(method string, params any) error {
	return c.transport.Send(&JSONRPCMessage{Method: method, Params: params})
}

func decodeResult(result any, out any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// Initialize performs the protocol handshake: initialize request followed
// by the initialized notification.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}

	params := &InitializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      clientInfo,
		Capabilities:    map[string]any{},
	}

	resp, err := c.request(ctx, MethodInitialize, params)
	if err != nil {
		if rpcErr, ok := err.(*Error); ok {
			return &ProtocolError{Server: c.serverName, Reason: rpcErr.Message}
		}
		return fmt.Errorf("initialize failed: %w", err)
	}

	var result InitializeResult
	if err := decodeResult(resp.Result, &result); err != nil {
		return &ProtocolError{Server: c.serverName, Reason: fmt.Sprintf("malformed initialize result: %v", err)}
	}
	if result.ServerInfo == nil || result.ProtocolVersion == "" {
		return &ProtocolError{Server: c.serverName, Reason: "initialize result missing server info"}
	}
	if result.ProtocolVersion != ProtocolVersion {
		logging.Warn("server speaks a different protocol version",
			"server", c.serverName,
			"version", result.ProtocolVersion)
	}

	c.serverInfo = result.ServerInfo

	if err := c.notify(MethodInitialized, nil); err != nil {
		return &ConnectionError{Server: c.serverName, Err: err}
	}

	c.initialized = true
	logging.Info("server initialized",
		"name", c.serverName,
		"server", result.ServerInfo.Name,
		"version", result.ServerInfo.Version)
	return nil
}

func (c *Client) requireInitialized() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.initialized {
		return &ConnectionError{Server: c.serverName, Err: fmt.Errorf("client not initialized")}
	}
	return nil
}

// ListTools retrieves the server's tool descriptors.
func (c *Client) ListTools(ctx context.Context) ([]*ToolInfo, error) {
	if err := c.requireInitialized(); err != nil {
		return nil, err
	}

	resp, err := c.request(ctx, MethodToolsList, nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list failed: %w", err)
	}

	var result ListToolsResult
	if err := decodeResult(resp.Result, &result); err != nil {
		return nil, &ProtocolError{Server: c.serverName, Reason: fmt.Sprintf("malformed tools/list result: %v", err)}
	}

	logging.Debug("tools listed", "server", c.serverName, "count", len(result.Tools))
	return result.Tools, nil
}

// CallTool invokes a tool by its original name on the server.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	if err := c.requireInitialized(); err != nil {
		return nil, err
	}

	resp, err := c.request(ctx, MethodToolsCall, &CallToolParams{Name: name, Arguments: args})
	if err != nil {
		if rpcErr, ok := err.(*Error); ok {
			return nil, &ToolExecutionError{Tool: name, Err: rpcErr}
		}
		return nil, err
	}

	var result CallToolResult
	if err := decodeResult(resp.Result, &result); err != nil {
		return nil, &ProtocolError{Server: c.serverName, Reason: fmt.Sprintf("malformed tools/call result: %v", err)}
	}

	logging.Debug("tool called", "server", c.serverName, "tool", name, "is_error", result.IsError)
	return &result, nil
}

// Ping verifies the connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.requireInitialized(); err != nil {
		return err
	}
	_, err := c.request(ctx, MethodPing, nil)
	return err
}

// ServerInfo returns the info reported during the handshake.
func (c *Client) ServerInfo() *ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// Close stops the receive loop and closes the transport. Idempotent.
func (c *Client) Close() error {
	c.cancel()

	if err := c.transport.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}

	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		logging.Warn("receive loop did not stop in time", "server", c.serverName)
	}
	return nil
}
