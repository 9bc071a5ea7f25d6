package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/gatewayctl/internal/adapters/apisix"
	"github.com/nulzo/gatewayctl/internal/adapters/cache/memory"
	"github.com/nulzo/gatewayctl/internal/adapters/secrets"
	"github.com/nulzo/gatewayctl/internal/core/domain"
	"github.com/nulzo/gatewayctl/internal/core/ports"
	"github.com/nulzo/gatewayctl/internal/core/services/diagnose"
	"github.com/nulzo/gatewayctl/internal/core/services/readiness"
	"github.com/nulzo/gatewayctl/internal/core/services/routeset"
	"github.com/nulzo/gatewayctl/internal/server"
	"github.com/nulzo/gatewayctl/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const adminKey = "test-admin-key"

type mockIdentity struct {
	mock.Mock
}

func (m *mockIdentity) Token(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockIdentity) EnsureRealm(ctx context.Context, realm string) error {
	return m.Called(ctx, realm).Error(0)
}

func (m *mockIdentity) EnsureClient(ctx context.Context, realm, clientID string, redirectURIs []string) error {
	return m.Called(ctx, realm, clientID, redirectURIs).Error(0)
}

func (m *mockIdentity) EnsureUser(ctx context.Context, realm, username, password string) error {
	return m.Called(ctx, realm, username, password).Error(0)
}

func (m *mockIdentity) DeleteRealm(ctx context.Context, realm string) error {
	return m.Called(ctx, realm).Error(0)
}

type env struct {
	sim      *server.Server
	admin    *httptest.Server
	proxy    *httptest.Server
	upstream *httptest.Server
	identity *httptest.Server
	store    ports.CredentialStore
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	e := &env{sim: server.New(server.Config{AdminKey: adminKey}, nil), store: memory.NewMemoryCache()}
	e.admin = httptest.NewServer(e.sim.AdminHandler())
	t.Cleanup(e.admin.Close)
	e.proxy = httptest.NewServer(e.sim.ProxyHandler())
	t.Cleanup(e.proxy.Close)

	e.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-upstream" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	t.Cleanup(e.upstream.Close)

	e.identity = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/realms/master" {
			_, _ = w.Write([]byte(`{"realm":"master"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(e.identity.Close)
	return e
}

func (e *env) profiles() []domain.ProviderProfile {
	return []domain.ProviderProfile{
		{
			ProviderID:    "openai",
			Kind:          domain.KindOpenAICompatible,
			BaseURL:       e.upstream.URL + "/v1",
			AuthScheme:    domain.AuthBearer,
			AuthSecretRef: "literal:sk-upstream",
			ModelList:     []string{"gpt-4o-mini"},
		},
		{
			ProviderID: "broken",
			Kind:       domain.KindLocal,
			AuthScheme: domain.AuthNone,
		},
	}
}

func (e *env) runner(identity ports.IdentityAdmin, adminURL string, opts Options) *Runner {
	if adminURL == "" {
		adminURL = e.admin.URL
	}
	admin := apisix.NewClient(apisix.Config{BaseURL: adminURL, AdminKey: adminKey, Timeout: time.Second}, nil, nil)

	if opts.Interval == 0 {
		opts.Interval = time.Millisecond
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	if opts.Consumer.Username == "" {
		opts.Consumer.Username = "gatewayctl"
	}
	opts.DiagnoseConfig = diagnose.Config{AdminURL: adminURL, GatewayURL: e.proxy.URL, DialTimeout: time.Second}

	return NewRunner(Deps{
		Admin:    admin,
		Identity: identity,
		Store:    e.store,
		Builder:  routeset.NewBuilder(routeset.Options{Prefix: "ai", AuthRequired: true}, secrets.NewResolver(nil), nil),
		Prober:   readiness.NewProber(nil),
	}, opts, nil)
}

func phaseNames(out *Outcome) []string {
	names := make([]string, 0, len(out.Phases))
	for _, p := range out.Phases {
		if !p.Skipped {
			names = append(names, p.Name)
		}
	}
	return names
}

func TestRun_EndToEnd(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	id := &mockIdentity{}
	id.On("EnsureRealm", mock.Anything, "gatewayctl").Return(nil).Once()
	id.On("EnsureClient", mock.Anything, "gatewayctl", "gatewayctl-app", []string{"http://localhost/*"}).Return(nil).Once()
	id.On("EnsureUser", mock.Anything, "gatewayctl", "alice", "pw").Return(nil).Once()

	r := e.runner(id, "", Options{
		IdentityURL:  e.identity.URL,
		Realm:        "gatewayctl",
		ClientID:     "gatewayctl-app",
		RedirectURIs: []string{"http://localhost/*"},
		User:         "alice",
		UserPassword: "pw",
		AppHealthURL: e.proxy.URL + "/health",
		Consumer:     domain.ConsumerCredential{APIKey: "client-key"},
		Diagnose:     true,
	})

	out, err := r.Run(ctx, e.profiles())
	require.NoError(t, err)
	id.AssertExpectations(t)

	assert.Equal(t, []string{
		PhaseControlPlane, PhaseIdentity, PhaseApp, PhaseIdentitySet,
		PhaseConsumer, PhaseProvision, PhaseDiagnose,
	}, phaseNames(out))

	require.Len(t, out.Skipped, 1)
	assert.Equal(t, "broken", out.Skipped[0].ProviderID)
	assert.Equal(t, 3, out.Summary.Applied)
	assert.Len(t, e.sim.Store().Routes(""), 3)

	require.Len(t, out.Reports, 3)
	for _, report := range out.Reports {
		assert.Equal(t, domain.CauseHealthy, report.RootCause, report.Target)
	}
	assert.True(t, out.Healthy())

	var cached domain.ConsumerCredential
	require.NoError(t, e.store.Get(ctx, consumerCacheKey("gatewayctl"), &cached))
	assert.Equal(t, "client-key", cached.APIKey)

	// a second run converges on the same set of routes
	out, err = e.runner(nil, "", Options{Consumer: domain.ConsumerCredential{APIKey: "client-key"}}).Run(ctx, e.profiles())
	require.NoError(t, err)
	assert.Equal(t, 3, out.Summary.Applied)
	assert.Len(t, e.sim.Store().Routes(""), 3)
}

func TestRun_ControlPlaneTimeout(t *testing.T) {
	e := newEnv(t)
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	out, err := e.runner(nil, deadURL, Options{MaxAttempts: 2}).Run(context.Background(), e.profiles())
	require.Error(t, err)
	assert.ErrorIs(t, err, readiness.ErrTimedOut)
	require.Len(t, out.Phases, 1)
	assert.Equal(t, PhaseControlPlane, out.Phases[0].Name)
	assert.Empty(t, e.sim.Store().Routes(""))
}

func TestRun_IdentityFailureStopsRun(t *testing.T) {
	e := newEnv(t)
	id := &mockIdentity{}
	id.On("EnsureRealm", mock.Anything, "gatewayctl").Return(&domain.ControlPlaneError{Op: "create realm", Status: 403}).Once()

	_, err := e.runner(id, "", Options{Realm: "gatewayctl", Consumer: domain.ConsumerCredential{APIKey: "k"}}).Run(context.Background(), e.profiles())
	require.Error(t, err)
	assert.Contains(t, err.Error(), PhaseIdentitySet)
	assert.Empty(t, e.sim.Store().Routes(""))
	id.AssertNotCalled(t, "EnsureClient", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_ConsumerKeyFromCache(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.runner(nil, "", Options{}).Run(ctx, e.profiles())
	assert.ErrorIs(t, err, ErrNoConsumerKey)

	require.NoError(t, e.store.Set(ctx, consumerCacheKey("gatewayctl"), domain.ConsumerCredential{Username: "gatewayctl", APIKey: "cached-key"}, 0))
	r := e.runner(nil, "", Options{})
	key, err := r.ConsumerKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cached-key", key)

	_, err = r.Run(ctx, e.profiles())
	require.NoError(t, err)
	consumer, ok := e.sim.Store().Consumer("gatewayctl")
	require.True(t, ok)
	assert.Equal(t, "cached-key", consumer.Key())
}

func TestRun_NothingProvisioned(t *testing.T) {
	e := newEnv(t)
	profiles := e.profiles()[1:]

	out, err := e.runner(nil, "", Options{Consumer: domain.ConsumerCredential{APIKey: "k"}}).Run(context.Background(), profiles)
	assert.ErrorIs(t, err, ErrNothingProvisioned)
	assert.Len(t, out.Skipped, 1)
}

func TestRun_UnhealthyRouteIsNotFatal(t *testing.T) {
	e := newEnv(t)
	profiles := e.profiles()[:1]
	profiles[0].AuthSecretRef = "literal:wrong-secret"

	out, err := e.runner(nil, "", Options{Consumer: domain.ConsumerCredential{APIKey: "k"}, Diagnose: true}).Run(context.Background(), profiles)
	require.NoError(t, err)
	require.Len(t, out.Reports, 3)
	assert.False(t, out.Healthy())
	assert.Equal(t, domain.CauseUpstreamCredentialRejected, out.Reports[0].RootCause)
}

func TestDeepCleanup(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	r := e.runner(nil, "", Options{Consumer: domain.ConsumerCredential{APIKey: "k"}})
	_, err := r.Run(ctx, e.profiles())
	require.NoError(t, err)

	// unrelated routes survive
	e.sim.Store().PutRoute("other-route", api.Route{URI: "/other", Methods: []string{"GET"}})

	id := &mockIdentity{}
	id.On("DeleteRealm", mock.Anything, "gatewayctl").Return(nil).Once()
	deep := e.runner(id, "", Options{Realm: "gatewayctl", Consumer: domain.ConsumerCredential{APIKey: "k"}})

	deleted, err := deep.DeepCleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
	id.AssertExpectations(t)
	remaining := e.sim.Store().Routes("")
	require.Len(t, remaining, 1)
	assert.Equal(t, "other-route", remaining[0].ID)

	_, ok := e.sim.Store().Consumer("gatewayctl")
	assert.False(t, ok)
	var cached domain.ConsumerCredential
	assert.ErrorIs(t, e.store.Get(ctx, consumerCacheKey("gatewayctl"), &cached), ports.ErrCacheMiss)
}

func TestDeepCleanup_ReportsEveryFailure(t *testing.T) {
	e := newEnv(t)
	id := &mockIdentity{}
	id.On("DeleteRealm", mock.Anything, "gatewayctl").Return(errors.New("boom")).Once()

	r := e.runner(id, "", Options{Realm: "gatewayctl"})
	_, err := r.DeepCleanup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete realm gatewayctl")
}

func TestTargets(t *testing.T) {
	specs := []domain.RouteSpec{
		{ID: "a", Provider: "openai"},
		{ID: "b", Provider: "ollama"},
	}
	profiles := []domain.ProviderProfile{{ProviderID: "openai", ModelList: []string{"gpt-4o", "gpt-4o-mini"}}}

	targets := Targets(specs, profiles, "")
	assert.Equal(t, "gpt-4o", targets[0].Model)
	assert.Equal(t, "", targets[1].Model)

	targets = Targets(specs, profiles, "override")
	assert.Equal(t, "override", targets[1].Model)
}
