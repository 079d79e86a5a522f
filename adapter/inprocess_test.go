package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ymera-labs/ymera/core"
)

func TestInProcessInvokeDispatchesToRegisteredHandler(t *testing.T) {
	a := NewInProcess()
	a.Register("agent-1", func(ctx context.Context, payload core.Value) (*core.InvocationResult, error) {
		name, _ := payload.Get("name")
		return &core.InvocationResult{Payload: core.Map(map[string]core.Value{"greeting": core.String("hi " + mustStr(name))})}, nil
	})

	result, err := a.Invoke(context.Background(), "agent-1", "greet", core.Map(map[string]core.Value{"name": core.String("ada")}), time.Time{})
	require.NoError(t, err)
	greeting, _ := result.Payload.Get("greeting")
	s, _ := greeting.AsString()
	assert.Equal(t, "hi ada", s)
}

func TestInProcessInvokeUnknownAgentFails(t *testing.T) {
	a := NewInProcess()
	_, err := a.Invoke(context.Background(), "ghost", "x", core.Null(), time.Time{})
	assert.True(t, core.IsNotFound(err))
}

func TestInProcessUnregisterRemovesHandler(t *testing.T) {
	a := NewInProcess()
	a.Register("agent-1", func(ctx context.Context, payload core.Value) (*core.InvocationResult, error) {
		return &core.InvocationResult{}, nil
	})
	a.Unregister("agent-1")

	_, err := a.Invoke(context.Background(), "agent-1", "x", core.Null(), time.Time{})
	assert.True(t, core.IsNotFound(err))
}

func mustStr(v core.Value) string {
	s, _ := v.AsString()
	return s
}
