package cache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nulzo/gatewayctl/internal/adapters/cache/file"
	"github.com/nulzo/gatewayctl/internal/adapters/cache/memory"
	"github.com/nulzo/gatewayctl/internal/adapters/cache/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := New(ctx, Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &memory.MemoryCache{}, s)

	s, err = New(ctx, Config{Enabled: true, Backend: BackendFile, Path: filepath.Join(dir, "c.json")}, nil)
	require.NoError(t, err)
	assert.IsType(t, &file.Store{}, s)

	s, err = New(ctx, Config{Enabled: true, Backend: BackendSQLite, Path: filepath.Join(dir, "c.db")}, nil)
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Store{}, s)
	require.NoError(t, s.Close())

	_, err = New(ctx, Config{Enabled: true, Backend: "etcd"}, nil)
	assert.Error(t, err)
}
