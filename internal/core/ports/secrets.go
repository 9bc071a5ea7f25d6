package ports

import "context"

// SecretResolver turns an authSecretRef into the secret value.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}
