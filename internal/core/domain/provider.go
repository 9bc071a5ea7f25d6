package domain

// ProviderKind selects how a provider's URIs are namespaced.
type ProviderKind string

const (
	KindOpenAICompatible ProviderKind = "openai-compatible"
	KindCustomOpenAPI    ProviderKind = "custom-openapi"
	KindLocal            ProviderKind = "local"
)

// AuthScheme describes how the upstream expects its static credential.
type AuthScheme string

const (
	AuthBearer       AuthScheme = "bearer"
	AuthAPIKeyHeader AuthScheme = "apiKeyHeader"
	AuthNone         AuthScheme = "none"
)

// DefaultAPIKeyHeader is used for AuthAPIKeyHeader profiles that do not name one.
const DefaultAPIKeyHeader = "api-key"

// ProviderProfile describes one upstream AI model service to expose.
type ProviderProfile struct {
	ProviderID    string       `json:"provider_id" yaml:"provider_id" mapstructure:"provider_id" validate:"required"`
	Kind          ProviderKind `json:"kind" yaml:"kind" mapstructure:"kind" validate:"required,oneof=openai-compatible custom-openapi local"`
	BaseURL       string       `json:"base_url" yaml:"base_url" mapstructure:"base_url" validate:"required,url"`
	AuthScheme    AuthScheme   `json:"auth_scheme" yaml:"auth_scheme" mapstructure:"auth_scheme" validate:"required,oneof=bearer apiKeyHeader none"`
	AuthHeader    string       `json:"auth_header" yaml:"auth_header" mapstructure:"auth_header"`
	AuthSecretRef string       `json:"auth_secret_ref" yaml:"auth_secret_ref" mapstructure:"auth_secret_ref" validate:"required_unless=AuthScheme none"`
	ModelList     []string     `json:"models" yaml:"models" mapstructure:"models"`
	// Disabled opts a profile out of provisioning. Profiles are built unless
	// it is set.
	Disabled      bool         `json:"disabled,omitempty" yaml:"disabled,omitempty" mapstructure:"disabled"`
}
