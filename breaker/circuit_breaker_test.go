package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ymera-labs/ymera/core"
)

func testConfig() *Config {
	cfg := DefaultConfig("test")
	cfg.FailureThreshold = 5
	cfg.SuccessThreshold = 2
	cfg.OpenTimeout = 20 * time.Millisecond
	cfg.MinThroughput = 100 // disable rolling-rate trip for these tests
	return cfg
}

func TestCircuitBreakerTripsOnFailureThreshold(t *testing.T) {
	cb := New(testConfig())
	boom := errors.New("boom")

	for i := 0; i < 4; i++ {
		_ = cb.Call(context.Background(), func(ctx context.Context) error { return boom })
	}
	assert.Equal(t, Closed, cb.State(), "4 failures in 4 calls with threshold 5 stays CLOSED")

	_ = cb.Call(context.Background(), func(ctx context.Context) error { return boom })
	assert.Equal(t, Open, cb.State())
}

func TestCircuitBreakerRejectsWhileOpen(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 1
	cb := New(cfg)
	boom := errors.New("boom")

	_ = cb.Call(context.Background(), func(ctx context.Context) error { return boom })
	require.Equal(t, Open, cb.State())

	called := false
	err := cb.Call(context.Background(), func(ctx context.Context) error { called = true; return nil })
	require.Error(t, err)
	assert.False(t, called, "wrapped function must not run while OPEN")
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 1
	cfg.SuccessThreshold = 2
	cfg.OpenTimeout = 10 * time.Millisecond
	cb := New(cfg)
	boom := errors.New("boom")

	_ = cb.Call(context.Background(), func(ctx context.Context) error { return boom })
	require.Equal(t, Open, cb.State())

	time.Sleep(15 * time.Millisecond)

	err := cb.Call(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, HalfOpen, cb.State(), "a single success does not close the breaker")

	err = cb.Call(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, Closed, cb.State(), "success_threshold consecutive successes close it")
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 1
	cfg.OpenTimeout = 10 * time.Millisecond
	cb := New(cfg)
	boom := errors.New("boom")

	_ = cb.Call(context.Background(), func(ctx context.Context) error { return boom })
	time.Sleep(15 * time.Millisecond)

	err := cb.Call(context.Background(), func(ctx context.Context) error { return boom })
	require.Error(t, err)
	assert.Equal(t, Open, cb.State())
}

func TestCircuitBreakerExcludedErrorsBypassAccounting(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 1
	cb := New(cfg)

	notFound := core.NewError("lookup", core.KindNotFound, core.ErrAgentNotFound)
	for i := 0; i < 10; i++ {
		_ = cb.Call(context.Background(), func(ctx context.Context) error { return notFound })
	}
	assert.Equal(t, Closed, cb.State())
}

func TestRegistryGetOrCreateIsIdempotent(t *testing.T) {
	reg := NewRegistry(DefaultConfig("template"))
	a := reg.GetOrCreate("agent-1")
	b := reg.GetOrCreate("agent-1")
	assert.Same(t, a, b)
	assert.Equal(t, "agent-1", a.Name())
}
