package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/gatewayctl/internal/adapters/apisix"
	"github.com/nulzo/gatewayctl/internal/core/domain"
	"github.com/nulzo/gatewayctl/internal/core/services/provisioner"
	"github.com/nulzo/gatewayctl/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type harness struct {
	sim      *Server
	admin    *httptest.Server
	proxy    *httptest.Server
	client   *apisix.Client
	upstream *url.URL

	mu       sync.Mutex
	seenPath string
	seenAuth string
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	if cfg.AdminKey == "" {
		cfg.AdminKey = "admin-key"
	}
	h := &harness{sim: New(cfg, nil)}

	h.admin = httptest.NewServer(h.sim.AdminHandler())
	t.Cleanup(h.admin.Close)
	h.proxy = httptest.NewServer(h.sim.ProxyHandler())
	t.Cleanup(h.proxy.Close)

	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		h.seenPath, h.seenAuth = r.URL.Path, r.Header.Get("Authorization")
		h.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	t.Cleanup(up.Close)
	h.upstream, _ = url.Parse(up.URL)

	h.client = apisix.NewClient(apisix.Config{BaseURL: h.admin.URL, AdminKey: cfg.AdminKey}, nil, nil)
	return h
}

func (h *harness) spec(capability domain.Capability, method, path string) domain.RouteSpec {
	port, _ := strconv.Atoi(h.upstream.Port())
	id := "ai-local-ollama-" + string(capability)
	return domain.RouteSpec{
		ID:         id,
		Provider:   "ollama",
		Capability: capability,
		URIPattern: "/ai/local/ollama/" + path,
		Methods:    []string{method},
		Upstream:   domain.Upstream{Scheme: "http", Host: h.upstream.Hostname(), Port: port},
		PluginConfig: domain.PluginConfig{
			AuthRequired:    true,
			RewriteRule:     domain.RewriteRule{Regex: "^/ai/local/ollama/(.*)", Replacement: "/v1/$1"},
			HeaderOverrides: map[string]string{"Authorization": "Bearer upstream-secret"},
		},
		Enabled: true,
	}
}

func (h *harness) call(t *testing.T, method, path, key string) int {
	t.Helper()
	req, err := http.NewRequest(method, h.proxy.URL+path, strings.NewReader(`{}`))
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("apikey", key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func TestAdmin_RequiresKey(t *testing.T) {
	h := newHarness(t, Config{})

	resp, err := http.Get(h.admin.URL + "/apisix/admin/routes")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	bad := apisix.NewClient(apisix.Config{BaseURL: h.admin.URL, AdminKey: "wrong"}, nil, nil)
	_, err = bad.Ping(context.Background())
	var cpErr *domain.ControlPlaneError
	require.ErrorAs(t, err, &cpErr)
	assert.Equal(t, http.StatusUnauthorized, cpErr.Status)
}

func TestAdmin_ClientRoundTrip(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	v, err := h.client.Ping(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultVersion, v)

	routes, err := h.client.ListRoutes(ctx)
	require.NoError(t, err)
	assert.Empty(t, routes)

	route, err := provisioner.BuildRoute(h.spec(domain.CapabilityModels, "GET", "models"), "ai-local-ollama-models-01")
	require.NoError(t, err)
	_, err = h.client.PutRoute(ctx, route.ID, route)
	require.NoError(t, err)

	got, err := h.client.GetRoute(ctx, route.ID)
	require.NoError(t, err)
	assert.Empty(t, got.MissingParts())
	assert.True(t, got.Enabled())
	assert.NotZero(t, got.CreateTime)

	plugin, err := h.client.GetPlugin(ctx, api.PluginKeyAuth)
	require.NoError(t, err)
	assert.Equal(t, "object", plugin["type"])
	_, err = h.client.GetPlugin(ctx, "limit-count")
	assert.True(t, apisix.IsNotFound(err))

	require.NoError(t, h.client.DeleteRoute(ctx, route.ID))
	require.NoError(t, h.client.DeleteRoute(ctx, route.ID))
	_, err = h.client.GetRoute(ctx, route.ID)
	assert.True(t, apisix.IsNotFound(err))
}

func (h *harness) listTotal(t *testing.T, label string) int {
	t.Helper()
	target := h.admin.URL + "/apisix/admin/routes"
	if label != "" {
		target += "?label=" + url.QueryEscape(label)
	}
	req, err := http.NewRequest(http.MethodGet, target, nil)
	require.NoError(t, err)
	req.Header.Set("X-API-KEY", "admin-key")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "APISIX/"+h.sim.config.Version, resp.Header.Get("Server"))

	var body struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Total
}

func seedLabelled(s *Store) {
	s.PutRoute("a-1", api.Route{URI: "/a", Labels: map[string]string{domain.LabelLogicalID: "a"}})
	s.PutRoute("b-1", api.Route{URI: "/b", Labels: map[string]string{domain.LabelLogicalID: "b"}})
}

func TestAdmin_LabelQuery(t *testing.T) {
	h := newHarness(t, Config{})
	seedLabelled(h.sim.Store())

	assert.Equal(t, 2, h.listTotal(t, ""))
	assert.Equal(t, 1, h.listTotal(t, domain.LabelLogicalID+":a"))
	assert.Equal(t, 0, h.listTotal(t, domain.LabelLogicalID+":zzz"))

	ctx := context.Background()
	_, err := h.client.Ping(ctx)
	require.NoError(t, err)
	found, err := h.client.FindCandidates(ctx, "a")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "a-1", found[0].ID)
}

func TestAdmin_OldVersionIgnoresLabels(t *testing.T) {
	h := newHarness(t, Config{Version: "2.15.3"})
	seedLabelled(h.sim.Store())

	assert.Equal(t, 2, h.listTotal(t, domain.LabelLogicalID+":a"))

	ctx := context.Background()
	_, err := h.client.Ping(ctx)
	require.NoError(t, err)
	found, err := h.client.FindCandidates(ctx, "a")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "a-1", found[0].ID)
}

func TestAdmin_RejectsInvalidRoutes(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, err := h.client.PutRoute(ctx, "r-1", &api.Route{Methods: []string{"GET"}})
	var cpErr *domain.ControlPlaneError
	require.ErrorAs(t, err, &cpErr)
	assert.Equal(t, http.StatusBadRequest, cpErr.Status)
	assert.Contains(t, err.Error(), "uri")

	route := &api.Route{URI: "/x", Methods: []string{"GET"}}
	require.NoError(t, route.SetPlugin("limit-count", map[string]int{"count": 1}))
	_, err = h.client.PutRoute(ctx, "r-1", route)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown plugin")

	_, err = h.client.PutRoute(ctx, "bad id!", &api.Route{URI: "/x"})
	require.Error(t, err)
}

func TestProxy_EndToEnd(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	p := provisioner.New(h.client, nil)

	require.NoError(t, p.EnsureConsumer(ctx, domain.ConsumerCredential{Username: "gatewayctl", APIKey: "client-key"}))
	_, summary := p.ApplyAll(ctx, []domain.RouteSpec{
		h.spec(domain.CapabilityModels, "GET", "models"),
		h.spec(domain.CapabilityChat, "POST", "chat/completions"),
	})
	require.Equal(t, provisioner.Summary{Applied: 2}, summary)

	assert.Equal(t, http.StatusOK, h.call(t, http.MethodPost, "/ai/local/ollama/chat/completions", "client-key"))
	h.mu.Lock()
	assert.Equal(t, "/v1/chat/completions", h.seenPath)
	assert.Equal(t, "Bearer upstream-secret", h.seenAuth)
	h.mu.Unlock()

	assert.Equal(t, http.StatusUnauthorized, h.call(t, http.MethodPost, "/ai/local/ollama/chat/completions", ""))
	assert.Equal(t, http.StatusUnauthorized, h.call(t, http.MethodPost, "/ai/local/ollama/chat/completions", "nope"))
	assert.Equal(t, http.StatusNotFound, h.call(t, http.MethodGet, "/ai/local/ollama/chat/completions", "client-key"))
	assert.Equal(t, http.StatusNotFound, h.call(t, http.MethodGet, "/ai/local/other/models", "client-key"))
	assert.Equal(t, http.StatusOK, h.call(t, http.MethodGet, "/health", ""))

	// re-applying converges on one object per logical id
	_, summary = p.ApplyAll(ctx, []domain.RouteSpec{h.spec(domain.CapabilityModels, "GET", "models")})
	require.Equal(t, 1, summary.Applied)
	assert.Len(t, h.sim.Store().Routes(""), 2)
}

func TestProxy_EmptyMethodsNeverMatch(t *testing.T) {
	h := newHarness(t, Config{})
	h.sim.Store().PutRoute("r-1", api.Route{
		URI:      "/x",
		Upstream: &api.Upstream{Nodes: map[string]int{h.upstream.Host: 1}},
	})
	assert.Equal(t, http.StatusNotFound, h.call(t, http.MethodGet, "/x", ""))
}

func TestProxy_UpstreamDown(t *testing.T) {
	h := newHarness(t, Config{})
	dead := httptest.NewServer(http.NotFoundHandler())
	addr := dead.Listener.Addr().String()
	dead.Close()

	h.sim.Store().PutRoute("r-1", api.Route{
		URI:      "/x",
		Methods:  []string{"GET"},
		Upstream: &api.Upstream{Nodes: map[string]int{addr: 1}},
	})
	assert.Equal(t, http.StatusBadGateway, h.call(t, http.MethodGet, "/x", ""))
}

func TestAdmin_RateLimit(t *testing.T) {
	h := newHarness(t, Config{AdminRPS: 0.001, AdminBurst: 1})
	ctx := context.Background()

	_, err := h.client.Ping(ctx)
	require.NoError(t, err)
	_, err = h.client.Ping(ctx)
	var cpErr *domain.ControlPlaneError
	require.ErrorAs(t, err, &cpErr)
	assert.Equal(t, http.StatusTooManyRequests, cpErr.Status)
}

func TestPickNode(t *testing.T) {
	assert.Equal(t, "", pickNode(nil))
	assert.Equal(t, "b:1", pickNode(&api.Upstream{Nodes: map[string]int{"a:1": 1, "b:1": 5}}))
	assert.Equal(t, "a:1", pickNode(&api.Upstream{Nodes: map[string]int{"b:1": 1, "a:1": 1}}))
}
