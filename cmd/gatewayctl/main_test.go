package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/gatewayctl/internal/core/domain"
	"github.com/nulzo/gatewayctl/internal/httpclient"
	"github.com/nulzo/gatewayctl/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminKey = "test-admin-key"

type stack struct {
	sim      *server.Server
	admin    *httptest.Server
	proxy    *httptest.Server
	upstream *httptest.Server
	config   string
}

func newStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &stack{sim: server.New(server.Config{AdminKey: adminKey}, nil)}
	s.admin = httptest.NewServer(s.sim.AdminHandler())
	t.Cleanup(s.admin.Close)
	s.proxy = httptest.NewServer(s.sim.ProxyHandler())
	t.Cleanup(s.proxy.Close)
	s.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-upstream" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	t.Cleanup(s.upstream.Close)

	s.config = filepath.Join(t.TempDir(), "gatewayctl.yaml")
	require.NoError(t, os.WriteFile(s.config, []byte(`
gateway:
  admin_url: `+s.admin.URL+`
  admin_key: `+adminKey+`
  url: `+s.proxy.URL+`
  timeout: 2s
readiness:
  interval: 10ms
  max_attempts: 3
consumer:
  username: gatewayctl
  api_key: client-key
bench:
  rate: 20
  duration: 150ms
providers:
  - provider_id: openai
    kind: openai-compatible
    base_url: `+s.upstream.URL+`/v1
    auth_scheme: bearer
    auth_secret_ref: literal:sk-upstream
    models: [gpt-4o-mini]
`), 0o600))
	return s
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(append([]string{"--no-color", "--quiet"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSetup_ProvisionsAndDiagnoses(t *testing.T) {
	s := newStack(t)

	out, err := execute(t, "--config", s.config)
	require.NoError(t, err)
	assert.Contains(t, out, "route provisioning")
	assert.Contains(t, out, "applied 3, failed 0")
	assert.Contains(t, out, "root cause: "+string(domain.CauseHealthy))
	assert.NotContains(t, out, "remediation:")

	// running again converges instead of duplicating
	out, err = execute(t, "setup", "--config", s.config, "--no-diagnose")
	require.NoError(t, err)
	assert.Contains(t, out, "applied 3, failed 0")
	assert.Contains(t, out, "functional diagnostics (skipped)")

	out, err = execute(t, "diagnose", "--config", s.config, "--fail-unhealthy")
	require.NoError(t, err)
	assert.Contains(t, out, "openai/chat")

	out, err = execute(t, "cleanup", "--config", s.config)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 3 routes")
}

func TestSetup_CleanupFlag(t *testing.T) {
	s := newStack(t)
	_, err := execute(t, "--config", s.config, "--no-diagnose")
	require.NoError(t, err)

	out, err := execute(t, "--config", s.config, "--deepcleanup")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 3 routes")

	_, err = execute(t, "--config", s.config, "--cleanup", "--deepcleanup")
	assert.Error(t, err)
}

func TestSetup_UnreachableGatewayFails(t *testing.T) {
	s := newStack(t)
	s.admin.Close()

	out, err := execute(t, "--config", s.config)
	require.Error(t, err)
	assert.Contains(t, out, "control-plane readiness")
}

func TestSetup_MissingAdminKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gatewayctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gateway:\n  admin_key: \"\"\n"), 0o600))

	_, err := execute(t, "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APISIX_ADMIN_KEY")
}

func TestRender_RedactsCredentials(t *testing.T) {
	s := newStack(t)

	out, err := execute(t, "render", "--config", s.config)
	require.NoError(t, err)
	assert.Contains(t, out, "id: ai-openai-compatible-openai-chat")
	assert.Contains(t, out, redacted)
	assert.NotContains(t, out, "sk-upstream")

	out, err = execute(t, "render", "--config", s.config, "--show-secrets")
	require.NoError(t, err)
	assert.Contains(t, out, "Bearer sk-upstream")

	out, err = execute(t, "render", "--config", s.config, "missing")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)
}

func TestBench(t *testing.T) {
	s := newStack(t)
	_, err := execute(t, "--config", s.config, "--no-diagnose")
	require.NoError(t, err)

	out, err := execute(t, "bench", "--config", s.config, "--rate", "20", "--duration", "100ms")
	require.NoError(t, err)
	assert.Contains(t, out, "ai-openai-compatible-openai-models")
}

func TestCredsClear(t *testing.T) {
	s := newStack(t)
	out, err := execute(t, "creds", "clear", "--config", s.config)
	require.NoError(t, err)
	assert.Contains(t, out, "clear credential cache")
}

func TestSelectProfiles(t *testing.T) {
	profiles := []domain.ProviderProfile{{ProviderID: "a"}, {ProviderID: "b"}}
	assert.Len(t, selectProfiles(profiles, nil), 2)
	got := selectProfiles(profiles, []string{"b"})
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ProviderID)
}

func TestRedact(t *testing.T) {
	specs := []domain.RouteSpec{{
		ID:           "x",
		PluginConfig: domain.PluginConfig{HeaderOverrides: map[string]string{"Authorization": "Bearer secret"}},
	}}
	got := redact(specs)
	assert.Equal(t, redacted, got[0].PluginConfig.HeaderOverrides["Authorization"])
	assert.Equal(t, "Bearer secret", specs[0].PluginConfig.HeaderOverrides["Authorization"])
}

func TestCheckForUpdates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name":"v1.2.0"}`))
	}))
	defer srv.Close()
	client := httpclient.New(0)

	latest, newer, err := checkForUpdates(context.Background(), client, srv.URL, "v1.1.9")
	require.NoError(t, err)
	assert.Equal(t, "v1.2.0", latest)
	assert.True(t, newer)

	_, newer, err = checkForUpdates(context.Background(), client, srv.URL, "v1.2.0")
	require.NoError(t, err)
	assert.False(t, newer)

	_, _, err = checkForUpdates(context.Background(), client, srv.URL, "not-a-version")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "gatewayctl "+Version)
}
