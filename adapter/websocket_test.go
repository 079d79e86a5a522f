package adapter

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ymera-labs/ymera/core"
)

func TestWebSocketInvokeRoundTrip(t *testing.T) {
	a := NewWebSocket()
	server := httptest.NewServer(a.Handler("agent-1"))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Simulate the agent: read one request, echo a response.
	go func() {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		conn.WriteJSON(wsResponse{RequestID: req.RequestID, Payload: core.String("pong")})
	}()

	time.Sleep(50 * time.Millisecond) // let the upgrade register the connection

	result, err := a.Invoke(context.Background(), "agent-1", "ping", core.Null(), time.Time{})
	require.NoError(t, err)
	s, _ := result.Payload.AsString()
	assert.Equal(t, "pong", s)
}

func TestWebSocketInvokeUnknownAgentFails(t *testing.T) {
	a := NewWebSocket()
	_, err := a.Invoke(context.Background(), "ghost", "x", core.Null(), time.Time{})
	assert.True(t, core.IsNotFound(err))
}

func TestWebSocketInvokeTimesOutWithoutResponse(t *testing.T) {
	a := NewWebSocket()
	server := httptest.NewServer(a.Handler("agent-1"))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)

	_, err = a.Invoke(context.Background(), "agent-1", "ping", core.Null(), time.Now().Add(100*time.Millisecond))
	assert.True(t, core.IsTimeout(err))
}
