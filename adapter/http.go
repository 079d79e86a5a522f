package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ymera-labs/ymera/core"
	"github.com/ymera-labs/ymera/telemetry"
)

// invokeRequest is the wire body posted to an HTTP agent's capability
// endpoint.
type invokeRequest struct {
	Capability string     `json:"capability"`
	Payload    core.Value `json:"payload"`
}

type invokeResponse struct {
	Payload  core.Value        `json:"payload"`
	Metadata map[string]string `json:"metadata"`
	Error    string            `json:"error"`
}

// HTTP is a core.AgentAdapter that invokes capabilities over HTTP(S),
// using telemetry.NewTracedHTTPClient so every call propagates the
// caller's trace context to the agent process.
type HTTP struct {
	client *http.Client

	mu       sync.RWMutex
	baseURLs map[string]string // agentID -> base URL
}

// NewHTTP constructs an HTTP adapter. A nil client defaults to
// telemetry.NewTracedHTTPClient(nil).
func NewHTTP(client *http.Client) *HTTP {
	if client == nil {
		client = telemetry.NewTracedHTTPClient(nil)
	}
	return &HTTP{client: client, baseURLs: make(map[string]string)}
}

// Register binds agentID to the base URL its capability endpoints are
// served from, e.g. "http://agent-1.internal:8080".
func (a *HTTP) Register(agentID, baseURL string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.baseURLs[agentID] = baseURL
}

// Unregister removes a previously registered base URL.
func (a *HTTP) Unregister(agentID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.baseURLs, agentID)
}

// Has reports whether agentID has a registered base URL.
func (a *HTTP) Has(agentID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.baseURLs[agentID]
	return ok
}

// Invoke implements core.AgentAdapter by POSTing to
// "<baseURL>/capabilities/<capability>".
func (a *HTTP) Invoke(ctx context.Context, agentID, capability string, payload core.Value, deadline time.Time) (*core.InvocationResult, error) {
	a.mu.RLock()
	baseURL, ok := a.baseURLs[agentID]
	a.mu.RUnlock()
	if !ok {
		return nil, core.NewError("Invoke", core.KindNotFound, core.ErrAgentNotFound)
	}

	callCtx := ctx
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	body, err := json.Marshal(invokeRequest{Capability: capability, Payload: payload})
	if err != nil {
		return nil, core.NewError("Invoke", core.KindInternal, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, baseURL+"/capabilities/"+capability, bytes.NewReader(body))
	if err != nil {
		return nil, core.NewError("Invoke", core.KindInternal, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, core.NewError("Invoke", core.KindDependencyFailure, fmt.Errorf("agent %s unreachable: %w", agentID, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewError("Invoke", core.KindInternal, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, core.NewError("Invoke", core.KindInternal, fmt.Errorf("agent %s returned %d: %s", agentID, resp.StatusCode, raw))
	}

	var out invokeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, core.NewError("Invoke", core.KindInternal, fmt.Errorf("decode response: %w", err))
	}
	if out.Error != "" {
		return nil, core.NewError("Invoke", core.KindInternal, fmt.Errorf("agent %s reported: %s", agentID, out.Error))
	}

	return &core.InvocationResult{Payload: out.Payload, Metadata: out.Metadata}, nil
}
