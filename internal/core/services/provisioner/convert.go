package provisioner

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/nulzo/gatewayctl/internal/core/domain"
	"github.com/nulzo/gatewayctl/pkg/api"
)

// NewSuffix returns a fresh object-id suffix. It is the time-ordered half of
// a UUIDv7 (millisecond timestamp plus the in-process sequence), hex encoded,
// so suffixes sort by creation and never repeat within a process.
func NewSuffix() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return hex.EncodeToString(id[:domain.SuffixLength/2])
}

// BuildRoute renders a RouteSpec into the gateway's route object under the
// given object id.
func BuildRoute(spec domain.RouteSpec, objectID string) (*api.Route, error) {
	labels := make(map[string]string, len(spec.Labels)+1)
	for k, v := range spec.Labels {
		labels[k] = v
	}
	labels[domain.LabelLogicalID] = spec.ID

	route := &api.Route{
		ID:      objectID,
		Name:    spec.ID,
		URI:     spec.URIPattern,
		Methods: append([]string(nil), spec.Methods...),
		Status:  api.StatusPtr(spec.Enabled),
		Labels:  labels,
		Upstream: &api.Upstream{
			Type:     "roundrobin",
			Scheme:   spec.Upstream.Scheme,
			PassHost: "node",
			Nodes:    map[string]int{spec.Upstream.Node(): 1},
		},
	}

	if spec.PluginConfig.AuthRequired {
		if err := route.SetPlugin(api.PluginKeyAuth, api.KeyAuth{}); err != nil {
			return nil, fmt.Errorf("encode %s: %w", api.PluginKeyAuth, err)
		}
	}

	rewrite := api.ProxyRewrite{}
	if rule := spec.PluginConfig.RewriteRule; rule.Regex != "" {
		rewrite.RegexURI = []string{rule.Regex, rule.Replacement}
	}
	if len(spec.PluginConfig.HeaderOverrides) > 0 {
		rewrite.Headers = &api.HeaderRewrite{Set: spec.PluginConfig.HeaderOverrides}
	}
	if err := route.SetPlugin(api.PluginProxyRewrite, rewrite); err != nil {
		return nil, fmt.Errorf("encode %s: %w", api.PluginProxyRewrite, err)
	}

	return route, nil
}
