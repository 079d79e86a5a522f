package adapter

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ymera-labs/ymera/core"
)

// wsRequest is a correlation-ID-tagged RPC call sent down an agent's
// persistent connection.
type wsRequest struct {
	RequestID  string     `json:"request_id"`
	Capability string     `json:"capability"`
	Payload    core.Value `json:"payload"`
}

// wsResponse is the matching reply the agent sends back.
type wsResponse struct {
	RequestID string            `json:"request_id"`
	Payload   core.Value        `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Error     string            `json:"error"`
}

type pendingCall struct {
	reply chan wsResponse
}

// wsConn wraps one agent's live connection plus a write mutex — gorilla's
// *websocket.Conn is not safe for concurrent writers.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// WebSocket is a core.AgentAdapter for agents that hold a persistent
// connection open to the control plane rather than exposing an HTTP
// endpoint of their own. Invoke sends a correlation-ID-tagged request over
// the agent's connection and blocks until the matching response arrives or
// the deadline (or ctx) ends. A connection that drops while a call is
// waiting does not end that wait early.
type WebSocket struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	conns   map[string]*wsConn     // agentID -> live connection
	pending map[string]pendingCall // requestID -> waiter
}

// NewWebSocket constructs a WebSocket adapter ready to accept agent
// connections via its HTTP handler (Handler).
func NewWebSocket() *WebSocket {
	return &WebSocket{
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		conns:    make(map[string]*wsConn),
		pending:  make(map[string]pendingCall),
	}
}

// Handler upgrades an incoming HTTP request from agentID to a WebSocket
// and reads responses off it until the connection closes.
func (a *WebSocket) Handler(agentID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := a.upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, fmt.Sprintf("websocket upgrade failed: %v", err), http.StatusBadRequest)
			return
		}
		wc := &wsConn{conn: conn}

		a.mu.Lock()
		a.conns[agentID] = wc
		a.mu.Unlock()

		defer func() {
			a.mu.Lock()
			if a.conns[agentID] == wc {
				delete(a.conns, agentID)
			}
			a.mu.Unlock()
			conn.Close()
		}()

		for {
			var resp wsResponse
			if err := conn.ReadJSON(&resp); err != nil {
				return
			}
			a.deliver(resp)
		}
	}
}

func (a *WebSocket) deliver(resp wsResponse) {
	a.mu.Lock()
	call, ok := a.pending[resp.RequestID]
	if ok {
		delete(a.pending, resp.RequestID)
	}
	a.mu.Unlock()
	if ok {
		call.reply <- resp
	}
}

// Disconnect forcibly drops agentID's connection, e.g. on isolate/freeze.
func (a *WebSocket) Disconnect(agentID string) {
	a.mu.Lock()
	wc, ok := a.conns[agentID]
	delete(a.conns, agentID)
	a.mu.Unlock()
	if ok {
		wc.conn.Close()
	}
}

// Has reports whether agentID currently holds a live connection open.
func (a *WebSocket) Has(agentID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.conns[agentID]
	return ok
}

// Invoke implements core.AgentAdapter.
func (a *WebSocket) Invoke(ctx context.Context, agentID, capability string, payload core.Value, deadline time.Time) (*core.InvocationResult, error) {
	a.mu.RLock()
	wc, ok := a.conns[agentID]
	a.mu.RUnlock()
	if !ok {
		return nil, core.NewError("Invoke", core.KindNotFound, core.ErrAgentNotFound)
	}

	requestID := uuid.NewString()
	waiter := pendingCall{reply: make(chan wsResponse, 1)}

	a.mu.Lock()
	a.pending[requestID] = waiter
	a.mu.Unlock()

	if err := wc.writeJSON(wsRequest{RequestID: requestID, Capability: capability, Payload: payload}); err != nil {
		a.mu.Lock()
		delete(a.pending, requestID)
		a.mu.Unlock()
		return nil, core.NewError("Invoke", core.KindDependencyFailure, fmt.Errorf("agent %s write failed: %w", agentID, err))
	}

	callCtx := ctx
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	select {
	case resp := <-waiter.reply:
		if resp.Error != "" {
			return nil, core.NewError("Invoke", core.KindInternal, fmt.Errorf("agent %s reported: %s", agentID, resp.Error))
		}
		return &core.InvocationResult{Payload: resp.Payload, Metadata: resp.Metadata}, nil
	case <-callCtx.Done():
		a.mu.Lock()
		delete(a.pending, requestID)
		a.mu.Unlock()
		return nil, core.NewError("Invoke", core.KindTimeout, callCtx.Err())
	}
}
