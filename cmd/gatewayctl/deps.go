package main

import (
	"context"
	"os"
	"time"

	"github.com/nulzo/gatewayctl/internal/adapters/apisix"
	"github.com/nulzo/gatewayctl/internal/adapters/cache"
	"github.com/nulzo/gatewayctl/internal/adapters/keycloak"
	"github.com/nulzo/gatewayctl/internal/adapters/secrets"
	"github.com/nulzo/gatewayctl/internal/core/domain"
	"github.com/nulzo/gatewayctl/internal/core/ports"
	"github.com/nulzo/gatewayctl/internal/core/services/bootstrap"
	"github.com/nulzo/gatewayctl/internal/core/services/diagnose"
	"github.com/nulzo/gatewayctl/internal/core/services/readiness"
	"github.com/nulzo/gatewayctl/internal/core/services/routeset"
	"github.com/nulzo/gatewayctl/internal/httpclient"
	"go.uber.org/zap"
)

// builder returns the route set builder. Provider secrets are resolved from
// the process environment, which includes anything loaded from .env.
func (a *app) builder() *routeset.Builder {
	return routeset.NewBuilder(routeset.Options{
		Prefix:       a.cfg.Routes.Prefix,
		AuthRequired: a.cfg.Routes.AuthRequired,
	}, secrets.NewResolver(os.Getenv), a.log)
}

// runner wires a bootstrap runner from the loaded configuration. The
// returned close func releases the credential cache.
func (a *app) runner(ctx context.Context, diagnoseAfter bool) (*bootstrap.Runner, func(), error) {
	cfg := a.cfg
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if err := cfg.RequireAdminKey(); err != nil {
		return nil, nil, err
	}

	httpClient := httpclient.New(cfg.Gateway.Timeout)

	admin := apisix.NewClient(apisix.Config{
		BaseURL:           cfg.Gateway.AdminURL,
		AdminKey:          cfg.Gateway.AdminKey,
		Timeout:           cfg.Gateway.Timeout,
		RequestsPerSecond: cfg.Gateway.RequestsPerSecond,
		Burst:             cfg.Gateway.Burst,
	}, httpClient, a.log.Named("apisix"))

	// left as a nil interface when disabled so the runner skips identity phases
	var identity ports.IdentityAdmin
	identityURL := ""
	if cfg.Identity.Enabled {
		identity = keycloak.NewClient(keycloak.Config{
			BaseURL:  cfg.Identity.URL,
			Username: cfg.Identity.AdminUser,
			Password: cfg.Identity.AdminPassword,
			Timeout:  cfg.Identity.Timeout,
		}, nil, a.log.Named("keycloak"))
		identityURL = cfg.Identity.URL
	}

	store, err := cache.New(ctx, cfg.Cache, a.log)
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() {
		if err := store.Close(); err != nil {
			a.log.Warn("Could not close credential cache", zap.Error(err))
		}
	}

	prober := readiness.NewProber(a.log.Named("readiness"))
	prober.Backoff = cfg.Readiness.Backoff
	prober.MaxInterval = cfg.Readiness.MaxInterval

	r := bootstrap.NewRunner(bootstrap.Deps{
		Admin:    admin,
		Identity: identity,
		Store:    store,
		HTTP:     httpClient,
		Builder:  a.builder(),
		Prober:   prober,
	}, bootstrap.Options{
		Interval:     cfg.Readiness.Interval,
		MaxAttempts:  cfg.Readiness.MaxAttempts,
		IdentityURL:  identityURL,
		Realm:        cfg.Identity.Realm,
		ClientID:     cfg.Identity.ClientID,
		RedirectURIs: cfg.Identity.RedirectURIs,
		User:         cfg.Identity.User,
		UserPassword: cfg.Identity.UserPassword,
		AppHealthURL: cfg.App.HealthURL,
		Consumer: domain.ConsumerCredential{
			Username: cfg.Consumer.Username,
			APIKey:   cfg.Consumer.APIKey,
		},
		Diagnose:       diagnoseAfter,
		DiagnoseConfig: a.diagnoseConfig(),
		Model:          cfg.Diagnose.Model,
	}, a.log)

	return r, closeStore, nil
}

func (a *app) diagnoseConfig() diagnose.Config {
	dial := a.cfg.Diagnose.DialTimeout
	if dial <= 0 {
		dial = 3 * time.Second
	}
	return diagnose.Config{
		AdminURL:    a.cfg.Gateway.AdminURL,
		GatewayURL:  a.cfg.Gateway.URL,
		KeyHeader:   a.cfg.Gateway.KeyHeader,
		MinVersion:  a.cfg.Gateway.MinVersion,
		DialTimeout: dial,
	}
}
