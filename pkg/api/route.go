package api

import (
	"encoding/json"
)

// Route status values as stored by the control plane.
const (
	RouteEnabled  = 1
	RouteDisabled = 0
)

// Plugin names the provisioner relies on.
const (
	PluginKeyAuth      = "key-auth"
	PluginProxyRewrite = "proxy-rewrite"
)

// Route mirrors the gateway's route object.
type Route struct {
	ID       string                     `json:"id,omitempty"`
	Name     string                     `json:"name,omitempty"`
	URI      string                     `json:"uri"`
	Methods  []string                   `json:"methods"`
	Status   *int                       `json:"status,omitempty"`
	Labels   map[string]string          `json:"labels,omitempty"`
	Upstream *Upstream                  `json:"upstream,omitempty"`
	Plugins  map[string]json.RawMessage `json:"plugins,omitempty"`

	CreateTime int64 `json:"create_time,omitempty"`
	UpdateTime int64 `json:"update_time,omitempty"`
}

// Upstream is the inline upstream of a route.
type Upstream struct {
	Type     string         `json:"type,omitempty"`
	Scheme   string         `json:"scheme,omitempty"`
	PassHost string         `json:"pass_host,omitempty"`
	Nodes    map[string]int `json:"nodes"`
}

// ProxyRewrite is the proxy-rewrite plugin configuration.
type ProxyRewrite struct {
	RegexURI []string       `json:"regex_uri,omitempty"`
	Headers  *HeaderRewrite `json:"headers,omitempty"`
}

// HeaderRewrite holds header operations applied before proxying.
type HeaderRewrite struct {
	Set    map[string]string `json:"set,omitempty"`
	Remove []string          `json:"remove,omitempty"`
}

// KeyAuth is the key-auth plugin configuration. On routes it is empty; on
// consumers it carries the key.
type KeyAuth struct {
	Key             string `json:"key,omitempty"`
	HideCredentials bool   `json:"hide_credentials,omitempty"`
}

// Enabled treats a missing status as enabled, matching the gateway default.
func (r *Route) Enabled() bool {
	return r.Status == nil || *r.Status == RouteEnabled
}

// SetPlugin marshals cfg into the plugin map under name.
func (r *Route) SetPlugin(name string, cfg interface{}) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	if r.Plugins == nil {
		r.Plugins = make(map[string]json.RawMessage)
	}
	r.Plugins[name] = raw
	return nil
}

// HasPlugin reports whether the plugin is configured at all.
func (r *Route) HasPlugin(name string) bool {
	_, ok := r.Plugins[name]
	return ok
}

// ProxyRewrite decodes the proxy-rewrite plugin, if present and well formed.
func (r *Route) ProxyRewrite() (*ProxyRewrite, bool) {
	raw, ok := r.Plugins[PluginProxyRewrite]
	if !ok {
		return nil, false
	}
	var pr ProxyRewrite
	if err := json.Unmarshal(raw, &pr); err != nil {
		return nil, false
	}
	return &pr, true
}

// StatusPtr is a helper for building routes.
func StatusPtr(enabled bool) *int {
	s := RouteDisabled
	if enabled {
		s = RouteEnabled
	}
	return &s
}

// MissingParts lists what a route read back from the control plane lacks to
// be considered fully applied. An empty result means complete.
func (r *Route) MissingParts() []string {
	var missing []string
	if len(r.Methods) == 0 {
		missing = append(missing, "methods")
	}
	if r.Upstream == nil || len(r.Upstream.Nodes) == 0 {
		missing = append(missing, "upstream.nodes")
	}
	if len(r.Plugins) == 0 {
		missing = append(missing, "plugins")
	}
	return missing
}
