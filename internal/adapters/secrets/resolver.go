package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nulzo/gatewayctl/internal/core/ports"
)

// Resolver resolves secret references:
//
//	ENV:OPENAI_API_KEY   environment variable (also the meaning of a bare name)
//	file:/run/secrets/k  file contents, trailing whitespace trimmed
//	literal:sk-...       the value itself
type Resolver struct {
	// Lookup is consulted after the process environment, e.g. viper.GetString
	// so values from .env or the config file are visible.
	Lookup func(key string) string
}

var _ ports.SecretResolver = (*Resolver)(nil)

func NewResolver(lookup func(string) string) *Resolver {
	return &Resolver{Lookup: lookup}
}

func (r *Resolver) Resolve(_ context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty secret reference")
	}

	scheme, rest, found := strings.Cut(ref, ":")
	if !found {
		return r.env(ref)
	}

	switch strings.ToLower(scheme) {
	case "env":
		return r.env(rest)
	case "file":
		return readSecretFile(rest)
	case "literal":
		if rest == "" {
			return "", fmt.Errorf("empty literal secret")
		}
		return rest, nil
	default:
		return "", fmt.Errorf("unsupported secret reference scheme %q", scheme)
	}
}

func (r *Resolver) env(name string) (string, error) {
	if val, ok := os.LookupEnv(name); ok && val != "" {
		return val, nil
	}
	if r.Lookup != nil {
		if val := r.Lookup(name); val != "" {
			return val, nil
		}
	}
	return "", fmt.Errorf("environment variable %s is not set", name)
}

func readSecretFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty secret file path")
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}
	val := strings.TrimSpace(string(data))
	if val == "" {
		return "", fmt.Errorf("secret file %s is empty", path)
	}
	return val, nil
}
