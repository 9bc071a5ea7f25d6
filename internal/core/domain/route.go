package domain

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Capability names one endpoint family a provider exposes through the gateway.
type Capability string

const (
	CapabilityModels     Capability = "models"
	CapabilityChat       Capability = "chat"
	CapabilityEmbeddings Capability = "embeddings"
)

// LabelLogicalID is the route label carrying the logical id. It is what the
// control plane is queried by when looking for candidates of a logical route.
const LabelLogicalID = "gatewayctl.logical_id"

// Upstream is the single node a route forwards to.
type Upstream struct {
	Scheme string `json:"scheme" yaml:"scheme"`
	Host   string `json:"host" yaml:"host"`
	Port   int    `json:"port" yaml:"port"`
}

// Node returns the "host:port" key used in the gateway's upstream nodes map.
func (u Upstream) Node() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(u.Port))
}

// RewriteRule rewrites the inbound path before it reaches the upstream.
type RewriteRule struct {
	Regex       string `json:"regex" yaml:"regex"`
	Replacement string `json:"replacement" yaml:"replacement"`
}

// PluginConfig is the plugin block of a route in gateway-neutral form.
type PluginConfig struct {
	// AuthRequired enables client-facing key authentication on the route.
	AuthRequired bool        `json:"auth_required" yaml:"auth_required"`
	RewriteRule  RewriteRule `json:"rewrite_rule" yaml:"rewrite_rule"`
	// HeaderOverrides are set on the upstream request. Provider credentials
	// live here, never in the inbound request.
	HeaderOverrides map[string]string `json:"header_overrides,omitempty" yaml:"header_overrides,omitempty"`
}

// RouteSpec is the declarative description of one routable endpoint.
type RouteSpec struct {
	// ID is the logical id, unique per (provider, capability). The object
	// stored on the control plane carries ID plus a fresh suffix.
	ID           string            `json:"id" yaml:"id"`
	Provider     string            `json:"provider" yaml:"provider"`
	Capability   Capability        `json:"capability" yaml:"capability"`
	URIPattern   string            `json:"uri" yaml:"uri"`
	Methods      []string          `json:"methods" yaml:"methods"`
	Upstream     Upstream          `json:"upstream" yaml:"upstream"`
	PluginConfig PluginConfig      `json:"plugins" yaml:"plugins"`
	Enabled      bool              `json:"enabled" yaml:"enabled"`
	Labels       map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// Validate reports the first structural problem with the route spec as a
// ConfigurationError. An empty method list can never match a request.
func (s RouteSpec) Validate() error {
	switch {
	case s.ID == "":
		return NewConfigurationError("route", "route id is empty", nil)
	case len(s.ID) > MaxLogicalIDLength:
		return NewConfigurationError(s.ID, fmt.Sprintf("route id longer than %d characters; shorten the prefix or provider_id", MaxLogicalIDLength), nil)
	case len(s.Methods) == 0:
		return NewConfigurationError(s.ID, "route has no methods and can never match a request", nil)
	case s.URIPattern == "" || !strings.HasPrefix(s.URIPattern, "/"):
		return NewConfigurationError(s.ID, fmt.Sprintf("invalid uri pattern %q", s.URIPattern), nil)
	case s.Upstream.Host == "" || s.Upstream.Port <= 0:
		return NewConfigurationError(s.ID, "upstream host and port are required", nil)
	}
	for _, m := range s.Methods {
		if strings.TrimSpace(m) == "" {
			return NewConfigurationError(s.ID, "route contains an empty method", nil)
		}
	}
	return nil
}

// HasMethod reports whether the route accepts the given HTTP method.
func (s RouteSpec) HasMethod(method string) bool {
	for _, m := range s.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// MaxObjectIDLength is the longest object id the control plane accepts.
const MaxObjectIDLength = 64

// SuffixLength is the length of the fresh suffix appended to logical ids.
const SuffixLength = 16

// MaxLogicalIDLength leaves room for the separator and the suffix.
const MaxLogicalIDLength = MaxObjectIDLength - 1 - SuffixLength

// ObjectID joins a logical id and a suffix into a control-plane object id.
func ObjectID(logicalID, suffix string) string {
	return logicalID + "-" + suffix
}

// IsObjectSuffix reports whether s is what a provisioning run appends to a
// logical id: SuffixLength lowercase hex digits, or nothing at all when the
// run was aborted.
func IsObjectSuffix(s string) bool {
	if s == "" {
		return true
	}
	if len(s) != SuffixLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// IsMalformedObjectID reports whether an object id ends in a bare separator,
// which is what an aborted provisioning run leaves behind.
func IsMalformedObjectID(id string) bool {
	return id == "" || strings.HasSuffix(id, "-") || strings.HasSuffix(id, "_")
}

// ApplyStatus is the outcome of provisioning one route.
type ApplyStatus string

const (
	ApplyApplied ApplyStatus = "applied"
	ApplyFailed  ApplyStatus = "failed"
)

// ApplyResult is returned for every route handed to the provisioner.
type ApplyResult struct {
	LogicalID string
	ObjectID  string
	Status    ApplyStatus
	Reason    string
	Err       error
}

func (r ApplyResult) OK() bool { return r.Status == ApplyApplied }

// ConsumerCredential is the gateway consumer clients authenticate as.
type ConsumerCredential struct {
	Username string `json:"username" mapstructure:"username" validate:"required"`
	APIKey   string `json:"api_key" mapstructure:"api_key" validate:"required"`
}
