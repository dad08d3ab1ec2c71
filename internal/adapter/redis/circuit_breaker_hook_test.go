package redis

import (
	"context"
	"errors"
	"net"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tripped(t *testing.T) *CircuitBreakerHook {
	t.Helper()
	hook := NewCircuitBreakerHook()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		process := hook.ProcessHook(func(context.Context, goredis.Cmder) error {
			return errors.New("redis down")
		})
		_ = process(ctx, goredis.NewStringCmd(ctx, "get", "key"))
	}
	require.Equal(t, gobreaker.StateOpen, hook.State())
	return hook
}

func TestCircuitBreakerHook_NormalOperation(t *testing.T) {
	hook := NewCircuitBreakerHook()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		process := hook.ProcessHook(func(context.Context, goredis.Cmder) error { return nil })
		assert.NoError(t, process(ctx, goredis.NewStringCmd(ctx, "get", "key")))
	}
	assert.Equal(t, gobreaker.StateClosed, hook.State())
}

func TestCircuitBreakerHook_NilIsNotAFailure(t *testing.T) {
	hook := NewCircuitBreakerHook()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		process := hook.ProcessHook(func(context.Context, goredis.Cmder) error { return goredis.Nil })
		err := process(ctx, goredis.NewStringCmd(ctx, "get", "missing"))
		assert.ErrorIs(t, err, goredis.Nil)
	}
	assert.Equal(t, gobreaker.StateClosed, hook.State())
}

func TestCircuitBreakerHook_FailsFastWhenOpen(t *testing.T) {
	hook := tripped(t)
	ctx := context.Background()

	called := false
	process := hook.ProcessHook(func(context.Context, goredis.Cmder) error {
		called = true
		return nil
	})
	err := process(ctx, goredis.NewStringCmd(ctx, "xadd", "stream", "*", "k", "v"))

	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Contains(t, err.Error(), "circuit breaker open")
	assert.False(t, called, "redis must not be called while the circuit is open")
}

func TestCircuitBreakerHook_PipelineFailsWhenOpen(t *testing.T) {
	hook := tripped(t)
	ctx := context.Background()

	pipeline := hook.ProcessPipelineHook(func(context.Context, []goredis.Cmder) error {
		t.Fatal("pipeline must not run while the circuit is open")
		return nil
	})
	err := pipeline(ctx, []goredis.Cmder{goredis.NewStringCmd(ctx, "get", "a")})

	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestCircuitBreakerHook_DialFailsWhenOpen(t *testing.T) {
	hook := tripped(t)

	dial := hook.DialHook(func(context.Context, string, string) (net.Conn, error) {
		t.Fatal("dial must not run while the circuit is open")
		return nil, nil
	})
	conn, err := dial(context.Background(), "tcp", "127.0.0.1:6379")

	assert.Nil(t, conn)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
