// Package config loads gatewayctl settings from gatewayctl.yaml, .env and
// the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nulzo/gatewayctl/internal/adapters/cache"
	"github.com/nulzo/gatewayctl/internal/adapters/secrets"
	"github.com/nulzo/gatewayctl/internal/core/domain"
	"github.com/nulzo/gatewayctl/internal/server"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in "." and "./config".
const FileName = "gatewayctl"

type Config struct {
	Gateway   GatewayConfig            `mapstructure:"gateway" yaml:"gateway"`
	Identity  IdentityConfig           `mapstructure:"identity" yaml:"identity"`
	App       AppConfig                `mapstructure:"app" yaml:"app"`
	Readiness ReadinessConfig          `mapstructure:"readiness" yaml:"readiness"`
	Routes    RoutesConfig             `mapstructure:"routes" yaml:"routes"`
	Consumer  ConsumerConfig           `mapstructure:"consumer" yaml:"consumer"`
	Diagnose  DiagnoseConfig           `mapstructure:"diagnose" yaml:"diagnose"`
	Bench     BenchConfig              `mapstructure:"bench" yaml:"bench"`
	Cache     cache.Config             `mapstructure:"cache" yaml:"cache"`
	Simulator SimulatorConfig          `mapstructure:"simulator" yaml:"simulator"`
	Log       LogConfig                `mapstructure:"log" yaml:"log"`
	Providers []domain.ProviderProfile `mapstructure:"providers" yaml:"providers"`

	// Unresolved lists the settings whose ENV:/file: reference could not be
	// resolved. They are left empty.
	Unresolved []string `mapstructure:"-" yaml:"-"`
}

type GatewayConfig struct {
	AdminURL          string        `mapstructure:"admin_url" yaml:"admin_url" validate:"required,url"`
	AdminKey          string        `mapstructure:"admin_key" yaml:"admin_key"`
	URL               string        `mapstructure:"url" yaml:"url" validate:"required,url"`
	KeyHeader         string        `mapstructure:"key_header" yaml:"key_header"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second" validate:"gte=0"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	MinVersion        string        `mapstructure:"min_version" yaml:"min_version"`
}

type IdentityConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	URL           string        `mapstructure:"url" yaml:"url" validate:"omitempty,url"`
	AdminUser     string        `mapstructure:"admin_user" yaml:"admin_user"`
	AdminPassword string        `mapstructure:"admin_password" yaml:"admin_password"`
	Realm         string        `mapstructure:"realm" yaml:"realm"`
	ClientID      string        `mapstructure:"client_id" yaml:"client_id"`
	RedirectURIs  []string      `mapstructure:"redirect_uris" yaml:"redirect_uris"`
	User          string        `mapstructure:"user" yaml:"user"`
	UserPassword  string        `mapstructure:"user_password" yaml:"user_password"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type AppConfig struct {
	// HealthURL is polled before provisioning when set.
	HealthURL string `mapstructure:"health_url" yaml:"health_url" validate:"omitempty,url"`
}

type ReadinessConfig struct {
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts" validate:"gte=1"`
	Backoff     float64       `mapstructure:"backoff" yaml:"backoff"`
	MaxInterval time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
}

type RoutesConfig struct {
	Prefix       string `mapstructure:"prefix" yaml:"prefix" validate:"required"`
	AuthRequired bool   `mapstructure:"auth_required" yaml:"auth_required"`
}

type ConsumerConfig struct {
	Username string `mapstructure:"username" yaml:"username" validate:"required"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key"`
}

type DiagnoseConfig struct {
	// Model is sent in probe bodies for chat and embeddings routes. Empty
	// means the provider's first listed model.
	Model       string        `mapstructure:"model" yaml:"model"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

type BenchConfig struct {
	Rate     int           `mapstructure:"rate" yaml:"rate" validate:"gte=0"`
	Duration time.Duration `mapstructure:"duration" yaml:"duration"`
	// MaxErrorRate fails the bench when exceeded, between 0 and 1.
	MaxErrorRate float64 `mapstructure:"max_error_rate" yaml:"max_error_rate" validate:"gte=0,lte=1"`
}

type SimulatorConfig struct {
	AdminAddr     string `mapstructure:"admin_addr" yaml:"admin_addr"`
	ProxyAddr     string `mapstructure:"proxy_addr" yaml:"proxy_addr"`
	server.Config `mapstructure:",squash" yaml:",inline"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=console json"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.admin_url", "http://127.0.0.1:9180")
	v.SetDefault("gateway.admin_key", "ENV:APISIX_ADMIN_KEY")
	v.SetDefault("gateway.url", "http://127.0.0.1:9080")
	v.SetDefault("gateway.key_header", "apikey")
	v.SetDefault("gateway.timeout", 10*time.Second)
	v.SetDefault("gateway.requests_per_second", 0.0)
	v.SetDefault("gateway.burst", 1)
	v.SetDefault("gateway.min_version", "3.0.0")

	v.SetDefault("identity.enabled", false)
	v.SetDefault("identity.url", "")
	v.SetDefault("identity.admin_user", "admin")
	v.SetDefault("identity.admin_password", "ENV:KEYCLOAK_ADMIN_PASSWORD")
	v.SetDefault("identity.realm", "gatewayctl")
	v.SetDefault("identity.client_id", "gatewayctl-app")
	v.SetDefault("identity.redirect_uris", []string{})
	v.SetDefault("identity.user", "")
	v.SetDefault("identity.user_password", "")
	v.SetDefault("identity.timeout", 10*time.Second)

	v.SetDefault("app.health_url", "")

	v.SetDefault("readiness.interval", 2*time.Second)
	v.SetDefault("readiness.max_attempts", 30)
	v.SetDefault("readiness.backoff", 1.5)
	v.SetDefault("readiness.max_interval", 10*time.Second)

	v.SetDefault("routes.prefix", "ai")
	v.SetDefault("routes.auth_required", true)

	v.SetDefault("consumer.username", "gatewayctl")
	v.SetDefault("consumer.api_key", "ENV:GATEWAY_CONSUMER_KEY")

	v.SetDefault("diagnose.model", "")
	v.SetDefault("diagnose.dial_timeout", 3*time.Second)

	v.SetDefault("bench.rate", 5)
	v.SetDefault("bench.duration", 10*time.Second)
	v.SetDefault("bench.max_error_rate", 0.0)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.backend", cache.BackendFile)
	v.SetDefault("cache.path", "")
	v.SetDefault("cache.redis_addr", "127.0.0.1:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)

	v.SetDefault("simulator.admin_addr", ":9180")
	v.SetDefault("simulator.proxy_addr", ":9080")
	v.SetDefault("simulator.admin_key", "ENV:APISIX_ADMIN_KEY")
	v.SetDefault("simulator.version", server.DefaultVersion)
	v.SetDefault("simulator.key_header", "apikey")
	v.SetDefault("simulator.admin_rps", 0.0)
	v.SetDefault("simulator.admin_burst", 0)
	v.SetDefault("simulator.env", "development")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// NewViper returns a viper instance with defaults, search paths and
// environment overrides ("gateway.admin_url" ← GATEWAY_ADMIN_URL) set up.
// Callers may bind flags to it before LoadConfig.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig reads .env, the config file (path, or the search paths when
// empty) and the environment into a Config, then resolves ENV: and file:
// references in credential settings.
func LoadConfig(v *viper.Viper, path string) (*Config, error) {
	// Load .env file if present
	_ = godotenv.Load()

	if v == nil {
		v = NewViper()
	}
	if path != "" {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	resolver := secrets.NewResolver(v.GetString)
	refs := map[string]*string{
		"gateway.admin_key":       &cfg.Gateway.AdminKey,
		"identity.admin_password": &cfg.Identity.AdminPassword,
		"identity.user_password":  &cfg.Identity.UserPassword,
		"consumer.api_key":        &cfg.Consumer.APIKey,
		"cache.redis_password":    &cfg.Cache.RedisPassword,
		"simulator.admin_key":     &cfg.Simulator.AdminKey,
	}
	for key, field := range refs {
		if !IsReference(*field) {
			continue
		}
		val, err := resolver.Resolve(context.Background(), *field)
		if err != nil {
			cfg.Unresolved = append(cfg.Unresolved, key)
			val = ""
		}
		*field = val
	}

	for i := range cfg.Providers {
		if cfg.Providers[i].AuthScheme == domain.AuthAPIKeyHeader && cfg.Providers[i].AuthHeader == "" {
			cfg.Providers[i].AuthHeader = domain.DefaultAPIKeyHeader
		}
	}

	return &cfg, nil
}

// IsReference reports whether s points at a secret instead of holding one.
func IsReference(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "env:") || strings.HasPrefix(lower, "file:")
}

// Validate checks the settings every command relies on.
func (c *Config) Validate() error {
	if err := domain.ValidateStruct(c); err != nil {
		return domain.NewConfigurationError(FileName+".yaml", domain.ValidationSummary(err), err)
	}
	if c.Identity.Enabled && (c.Identity.URL == "" || c.Identity.Realm == "") {
		return domain.NewConfigurationError("identity", "url and realm are required when identity setup is enabled", nil)
	}
	return nil
}

// RequireAdminKey fails when the admin key is missing, naming the variable
// the default reference points at.
func (c *Config) RequireAdminKey() error {
	if c.Gateway.AdminKey != "" {
		return nil
	}
	return domain.NewConfigurationError("gateway.admin_key", "admin key is empty; set APISIX_ADMIN_KEY or gateway.admin_key", nil)
}
