package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nulzo/gatewayctl/internal/core/domain"
	"github.com/nulzo/gatewayctl/internal/core/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need a live server; point REDIS_ADDR at one to run them.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s, err := New(ctx, Config{Addr: addr, Prefix: "gatewayctl-test:" + t.Name() + ":"})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Clear(context.Background())
		_ = s.Close()
	})
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cred := domain.ConsumerCredential{Username: "gatewayctl", APIKey: "k1"}
	require.NoError(t, s.Set(ctx, "consumer", cred, time.Minute))

	var got domain.ConsumerCredential
	require.NoError(t, s.Get(ctx, "consumer", &got))
	assert.Equal(t, cred, got)

	require.NoError(t, s.Delete(ctx, "consumer"))
	assert.ErrorIs(t, s.Get(ctx, "consumer", &got), ports.ErrCacheMiss)
}

func TestStore_Clear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", "1", 0))
	require.NoError(t, s.Set(ctx, "b", "2", 0))
	require.NoError(t, s.Clear(ctx))

	var v string
	assert.ErrorIs(t, s.Get(ctx, "a", &v), ports.ErrCacheMiss)
	assert.ErrorIs(t, s.Get(ctx, "b", &v), ports.ErrCacheMiss)
}

func TestNew_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := New(ctx, Config{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
