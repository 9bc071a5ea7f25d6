package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/nulzo/gatewayctl/internal/core/domain"
	"github.com/nulzo/gatewayctl/internal/core/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestStore_RoundTrip(t *testing.T) {
	s, path := newTestStore(t)
	ctx := context.Background()

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	cred := domain.ConsumerCredential{Username: "gatewayctl", APIKey: "k1"}
	require.NoError(t, s.Set(ctx, "consumer", cred, 0))
	cred.APIKey = "k2"
	require.NoError(t, s.Set(ctx, "consumer", cred, 0))

	var got domain.ConsumerCredential
	require.NoError(t, s.Get(ctx, "consumer", &got))
	assert.Equal(t, "k2", got.APIKey)

	require.NoError(t, s.Delete(ctx, "consumer"))
	assert.ErrorIs(t, s.Get(ctx, "consumer", &got), ports.ErrCacheMiss)
}

func TestStore_ExpiryAndClear(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "short", "v", time.Millisecond))
	require.NoError(t, s.Set(ctx, "long", "v", time.Hour))
	time.Sleep(5 * time.Millisecond)

	var v string
	assert.ErrorIs(t, s.Get(ctx, "short", &v), ports.ErrCacheMiss)
	require.NoError(t, s.Get(ctx, "long", &v))

	require.NoError(t, s.Clear(ctx))
	assert.ErrorIs(t, s.Get(ctx, "long", &v), ports.ErrCacheMiss)
}

func TestNew_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), "k", "v", 0))
	require.NoError(t, s.Close())

	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()
	var v string
	require.NoError(t, s.Get(context.Background(), "k", &v))
	assert.Equal(t, "v", v)
}
