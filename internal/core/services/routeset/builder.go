// Package routeset expands provider profiles into the routes they require.
package routeset

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/nulzo/gatewayctl/internal/core/domain"
	"github.com/nulzo/gatewayctl/internal/core/ports"
	"go.uber.org/zap"
)

// DefaultPrefix namespaces every provisioned URI and logical id.
const DefaultPrefix = "ai"

type capabilityDef struct {
	Capability domain.Capability
	Method     string
	Path       string
}

// capabilities is the fixed set every provider kind exposes, in the order
// they are provisioned.
var capabilities = []capabilityDef{
	{domain.CapabilityModels, "GET", "models"},
	{domain.CapabilityChat, "POST", "chat/completions"},
	{domain.CapabilityEmbeddings, "POST", "embeddings"},
}

var (
	providerIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	unsafeIDChars     = regexp.MustCompile(`[^a-z0-9-]+`)
)

// Options configure a Builder.
type Options struct {
	Prefix string
	// AuthRequired turns on client-facing key authentication for every route.
	AuthRequired bool
}

// Builder translates provider profiles into RouteSpecs.
type Builder struct {
	prefix       string
	authRequired bool
	secrets      ports.SecretResolver
	logger       *zap.Logger
}

// RouteSet is the routes produced for one provider.
type RouteSet struct {
	Profile domain.ProviderProfile
	Routes  []domain.RouteSpec
}

// Skipped records a profile that produced no routes and why.
type Skipped struct {
	ProviderID string
	Err        error
}

func NewBuilder(opts Options, secrets ports.SecretResolver, logger *zap.Logger) *Builder {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		prefix:       strings.Trim(opts.Prefix, "/"),
		authRequired: opts.AuthRequired,
		secrets:      secrets,
		logger:       logger,
	}
}

// Prefix returns the namespace used for URIs and logical ids.
func (b *Builder) Prefix() string { return b.prefix }

// Build translates every profile that is not disabled. Invalid profiles,
// and profiles whose logical ids collide with an earlier profile's, are
// logged and skipped; the rest are still processed.
func (b *Builder) Build(ctx context.Context, profiles []domain.ProviderProfile) ([]RouteSet, []Skipped) {
	var (
		sets    []RouteSet
		skipped []Skipped
		owners  = map[string]string{}
	)

	for _, profile := range profiles {
		if profile.Disabled {
			b.logger.Info("Provider disabled, not building routes", zap.String("provider", profile.ProviderID))
			continue
		}

		routes, err := b.Translate(ctx, profile)
		if err == nil {
			err = claim(owners, profile.ProviderID, routes)
		}
		if err != nil {
			b.logger.Warn("Skipping provider profile",
				zap.String("provider", profile.ProviderID),
				zap.Error(err),
			)
			skipped = append(skipped, Skipped{ProviderID: profile.ProviderID, Err: err})
			continue
		}

		sets = append(sets, RouteSet{Profile: profile, Routes: routes})
	}

	if len(sets) == 0 {
		b.logger.Warn("No provider profiles produced routes. Nothing will be provisioned.")
	}

	return sets, skipped
}

// Translate emits one RouteSpec per capability. It fails with a
// ConfigurationError instead of emitting a broken route.
func (b *Builder) Translate(ctx context.Context, profile domain.ProviderProfile) ([]domain.RouteSpec, error) {
	item := profile.ProviderID
	if item == "" {
		item = "provider"
	}

	if err := domain.ValidateStruct(profile); err != nil {
		return nil, domain.NewConfigurationError(item, domain.ValidationSummary(err), nil)
	}
	if !providerIDPattern.MatchString(profile.ProviderID) {
		return nil, domain.NewConfigurationError(item, "provider_id may only contain letters, digits, '.', '_' and '-'", nil)
	}

	upstream, basePath, err := parseBaseURL(profile.BaseURL)
	if err != nil {
		return nil, domain.NewConfigurationError(item, "invalid base_url", err)
	}

	headers, err := b.authHeaders(ctx, profile)
	if err != nil {
		return nil, domain.NewConfigurationError(item, "cannot resolve auth_secret_ref", err)
	}

	namespace := fmt.Sprintf("/%s/%s/%s", b.prefix, profile.Kind, profile.ProviderID)
	rewrite := domain.RewriteRule{
		Regex:       "^" + regexp.QuoteMeta(namespace+"/") + "(.*)",
		Replacement: basePath + "/$1",
	}

	specs := make([]domain.RouteSpec, 0, len(capabilities))
	for _, c := range capabilities {
		id := LogicalID(b.prefix, profile.Kind, profile.ProviderID, c.Capability)
		spec := domain.RouteSpec{
			ID:         id,
			Provider:   profile.ProviderID,
			Capability: c.Capability,
			URIPattern: namespace + "/" + c.Path,
			Methods:    []string{c.Method},
			Upstream:   upstream,
			PluginConfig: domain.PluginConfig{
				AuthRequired:    b.authRequired,
				RewriteRule:     rewrite,
				HeaderOverrides: copyHeaders(headers),
			},
			Enabled: true,
			Labels: map[string]string{
				domain.LabelLogicalID:   id,
				"gatewayctl.provider":   sanitize(profile.ProviderID),
				"gatewayctl.capability": string(c.Capability),
			},
		}
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}

	return specs, nil
}

// claim records providerID as the owner of the routes' logical ids. Provider
// ids that differ only in case or punctuation sanitize to the same logical
// id; the first profile keeps it.
func claim(owners map[string]string, providerID string, routes []domain.RouteSpec) error {
	for _, r := range routes {
		if owner, ok := owners[r.ID]; ok {
			return domain.NewConfigurationError(providerID,
				fmt.Sprintf("logical id %s is already used by provider %q", r.ID, owner), nil)
		}
	}
	for _, r := range routes {
		owners[r.ID] = providerID
	}
	return nil
}

func (b *Builder) authHeaders(ctx context.Context, profile domain.ProviderProfile) (map[string]string, error) {
	if profile.AuthScheme == domain.AuthNone {
		return nil, nil
	}
	if b.secrets == nil {
		return nil, fmt.Errorf("no secret resolver configured")
	}
	secret, err := b.secrets.Resolve(ctx, profile.AuthSecretRef)
	if err != nil {
		return nil, err
	}

	switch profile.AuthScheme {
	case domain.AuthBearer:
		return map[string]string{"Authorization": "Bearer " + secret}, nil
	case domain.AuthAPIKeyHeader:
		header := profile.AuthHeader
		if header == "" {
			header = domain.DefaultAPIKeyHeader
		}
		return map[string]string{header: secret}, nil
	default:
		return nil, fmt.Errorf("unsupported auth scheme %q", profile.AuthScheme)
	}
}

// LogicalID builds the id shared by every object provisioned for one
// (provider, capability) pair.
func LogicalID(prefix string, kind domain.ProviderKind, providerID string, capability domain.Capability) string {
	return sanitize(strings.Join([]string{prefix, string(kind), providerID, string(capability)}, "-"))
}

// NamespacedPath returns the gateway path a client calls for a capability.
func NamespacedPath(prefix string, kind domain.ProviderKind, providerID string, capability domain.Capability) string {
	for _, c := range capabilities {
		if c.Capability == capability {
			return fmt.Sprintf("/%s/%s/%s/%s", strings.Trim(prefix, "/"), kind, providerID, c.Path)
		}
	}
	return ""
}

func sanitize(s string) string {
	s = unsafeIDChars.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(s, "-")
}

func parseBaseURL(raw string) (domain.Upstream, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return domain.Upstream{}, "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return domain.Upstream{}, "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return domain.Upstream{}, "", fmt.Errorf("missing host")
	}

	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return domain.Upstream{}, "", fmt.Errorf("invalid port %q", p)
		}
	}

	return domain.Upstream{Scheme: u.Scheme, Host: host, Port: port}, strings.TrimRight(u.Path, "/"), nil
}

func copyHeaders(h map[string]string) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
