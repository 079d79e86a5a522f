package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ymera-labs/ymera/core"
)

func TestMultiRoutesToOwningTransport(t *testing.T) {
	inproc := NewInProcess()
	inproc.Register("local-agent", func(ctx context.Context, payload core.Value) (*core.InvocationResult, error) {
		return &core.InvocationResult{Payload: core.String("from-inprocess")}, nil
	})
	http := NewHTTP(nil)

	m := NewMulti(inproc, http)

	result, err := m.Invoke(context.Background(), "local-agent", "x", core.Null(), time.Time{})
	require.NoError(t, err)
	s, _ := result.Payload.AsString()
	assert.Equal(t, "from-inprocess", s)
}

func TestMultiUnknownAgentFails(t *testing.T) {
	m := NewMulti(NewInProcess(), NewHTTP(nil), NewWebSocket())
	_, err := m.Invoke(context.Background(), "ghost", "x", core.Null(), time.Time{})
	assert.True(t, core.IsNotFound(err))
}
