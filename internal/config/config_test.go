package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nulzo/gatewayctl/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inTempDir runs the test from an empty directory so no stray .env or
// gatewayctl.yaml is picked up.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadConfig_Defaults(t *testing.T) {
	inTempDir(t)
	t.Setenv("APISIX_ADMIN_KEY", "edd1c9f034335f136f87ad84b625c8f1")
	t.Setenv("GATEWAY_CONSUMER_KEY", "")

	cfg, err := LoadConfig(nil, "")
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:9180", cfg.Gateway.AdminURL)
	assert.Equal(t, "edd1c9f034335f136f87ad84b625c8f1", cfg.Gateway.AdminKey)
	assert.Equal(t, 10*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, "ai", cfg.Routes.Prefix)
	assert.True(t, cfg.Routes.AuthRequired)
	assert.Equal(t, 30, cfg.Readiness.MaxAttempts)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, ":9180", cfg.Simulator.AdminAddr)
	assert.Equal(t, "3.9.1", cfg.Simulator.Version)

	assert.Empty(t, cfg.Consumer.APIKey)
	assert.Contains(t, cfg.Unresolved, "consumer.api_key")
	assert.NoError(t, cfg.Validate())
	assert.NoError(t, cfg.RequireAdminKey())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	inTempDir(t)
	t.Setenv("GATEWAY_ADMIN_URL", "http://apisix:9180")
	t.Setenv("GATEWAY_ADMIN_KEY", "literal-key")
	t.Setenv("READINESS_MAX_ATTEMPTS", "5")
	t.Setenv("CACHE_ENABLED", "true")
	t.Setenv("CACHE_BACKEND", "sqlite")

	cfg, err := LoadConfig(nil, "")
	require.NoError(t, err)

	assert.Equal(t, "http://apisix:9180", cfg.Gateway.AdminURL)
	assert.Equal(t, "literal-key", cfg.Gateway.AdminKey)
	assert.Equal(t, 5, cfg.Readiness.MaxAttempts)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "sqlite", cfg.Cache.Backend)
}

func TestLoadConfig_FileAndReferences(t *testing.T) {
	dir := inTempDir(t)
	t.Setenv("TEST_CONSUMER_KEY", "ck-12345")
	secretPath := filepath.Join(dir, "admin.key")
	writeFile(t, secretPath, "from-file\n")

	writeFile(t, filepath.Join(dir, "gatewayctl.yaml"), `
gateway:
  admin_key: "file:`+secretPath+`"
consumer:
  api_key: "ENV:TEST_CONSUMER_KEY"
routes:
  prefix: llm
providers:
  - provider_id: azure
    kind: openai-compatible
    base_url: https://example.openai.azure.com/openai
    auth_scheme: apiKeyHeader
    auth_secret_ref: ENV:AZURE_KEY
    models: [gpt-4o]
`)

	cfg, err := LoadConfig(nil, "")
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Gateway.AdminKey)
	assert.Equal(t, "ck-12345", cfg.Consumer.APIKey)
	assert.Equal(t, "llm", cfg.Routes.Prefix)
	require.Len(t, cfg.Providers, 1)
	p := cfg.Providers[0]
	assert.Equal(t, domain.KindOpenAICompatible, p.Kind)
	assert.Equal(t, domain.DefaultAPIKeyHeader, p.AuthHeader)
	assert.Equal(t, "ENV:AZURE_KEY", p.AuthSecretRef, "provider secrets are resolved by the route builder")
	assert.Equal(t, []string{"gpt-4o"}, p.ModelList)
	assert.False(t, p.Disabled)
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := inTempDir(t)
	writeFile(t, filepath.Join(dir, ".env"), "DOTENV_ADMIN_KEY=from-dotenv\n")
	t.Cleanup(func() { _ = os.Unsetenv("DOTENV_ADMIN_KEY") })
	t.Setenv("GATEWAY_ADMIN_KEY", "ENV:DOTENV_ADMIN_KEY")

	cfg, err := LoadConfig(nil, "")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Gateway.AdminKey)
}

func TestLoadConfig_ExplicitPathMustExist(t *testing.T) {
	dir := inTempDir(t)
	_, err := LoadConfig(nil, filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	inTempDir(t)
	t.Setenv("GATEWAY_URL", "not a url")
	cfg, err := LoadConfig(nil, "")
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.True(t, domain.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "url")

	cfg.Gateway.URL = "http://127.0.0.1:9080"
	cfg.Identity.Enabled = true
	cfg.Identity.URL = ""
	assert.Error(t, cfg.Validate())
}

func TestRequireAdminKey(t *testing.T) {
	cfg := &Config{}
	err := cfg.RequireAdminKey()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APISIX_ADMIN_KEY")
}

func TestIsReference(t *testing.T) {
	assert.True(t, IsReference("ENV:X"))
	assert.True(t, IsReference("env:X"))
	assert.True(t, IsReference("file:/run/secrets/x"))
	assert.False(t, IsReference("plain"))
	assert.False(t, IsReference("literal:x"))
}
