package main

import (
	"fmt"
	"io"

	"github.com/nulzo/gatewayctl/internal/core/domain"
	"github.com/nulzo/gatewayctl/internal/core/services/bootstrap"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "<redacted>"

func newRenderCmd(a *app) *cobra.Command {
	var showSecrets bool
	cmd := &cobra.Command{
		Use:   "render [provider...]",
		Short: "Print the routes that would be provisioned as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			sets, skipped := a.builder().Build(cmd.Context(), selectProfiles(a.cfg.Providers, args))
			for _, s := range skipped {
				_, _ = fmt.Fprintf(a.errOut, "# skipped %s: %v\n", s.ProviderID, s.Err)
			}
			specs := bootstrap.Flatten(sets)
			if !showSecrets {
				specs = redact(specs)
			}
			return renderYAML(a.out, specs)
		},
	}
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print upstream credentials instead of redacting them")
	return cmd
}

func renderYAML(w io.Writer, specs []domain.RouteSpec) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(specs); err != nil {
		return fmt.Errorf("encode routes: %w", err)
	}
	return enc.Close()
}

// redact returns copies of specs with header override values hidden.
func redact(specs []domain.RouteSpec) []domain.RouteSpec {
	out := make([]domain.RouteSpec, len(specs))
	for i, spec := range specs {
		if len(spec.PluginConfig.HeaderOverrides) > 0 {
			headers := make(map[string]string, len(spec.PluginConfig.HeaderOverrides))
			for k := range spec.PluginConfig.HeaderOverrides {
				headers[k] = redacted
			}
			spec.PluginConfig.HeaderOverrides = headers
		}
		out[i] = spec
	}
	return out
}

// selectProfiles keeps the profiles named in ids, or all of them when ids is
// empty.
func selectProfiles(profiles []domain.ProviderProfile, ids []string) []domain.ProviderProfile {
	if len(ids) == 0 {
		return profiles
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []domain.ProviderProfile
	for _, p := range profiles {
		if want[p.ProviderID] {
			out = append(out, p)
		}
	}
	return out
}
