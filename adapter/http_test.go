package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ymera-labs/ymera/core"
)

func TestHTTPInvokeRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/capabilities/summarize", r.URL.Path)
		var req invokeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(invokeResponse{Payload: core.String("done")})
	}))
	defer server.Close()

	a := NewHTTP(server.Client())
	a.Register("agent-1", server.URL)

	result, err := a.Invoke(context.Background(), "agent-1", "summarize", core.Null(), time.Time{})
	require.NoError(t, err)
	s, _ := result.Payload.AsString()
	assert.Equal(t, "done", s)
}

func TestHTTPInvokeUnregisteredAgentFails(t *testing.T) {
	a := NewHTTP(nil)
	_, err := a.Invoke(context.Background(), "ghost", "x", core.Null(), time.Time{})
	assert.True(t, core.IsNotFound(err))
}

func TestHTTPInvokeNonOKStatusFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer server.Close()

	a := NewHTTP(server.Client())
	a.Register("agent-1", server.URL)

	_, err := a.Invoke(context.Background(), "agent-1", "x", core.Null(), time.Time{})
	assert.Error(t, err)
}

func TestHTTPInvokeAgentReportedErrorFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(invokeResponse{Error: "capability not supported"})
	}))
	defer server.Close()

	a := NewHTTP(server.Client())
	a.Register("agent-1", server.URL)

	_, err := a.Invoke(context.Background(), "agent-1", "x", core.Null(), time.Time{})
	assert.Error(t, err)
}
