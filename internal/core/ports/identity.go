package ports

import "context"

// IdentityAdmin is the contract consumed from the identity provider.
type IdentityAdmin interface {
	Token(ctx context.Context) (string, error)
	EnsureRealm(ctx context.Context, realm string) error
	EnsureClient(ctx context.Context, realm, clientID string, redirectURIs []string) error
	EnsureUser(ctx context.Context, realm, username, password string) error
	DeleteRealm(ctx context.Context, realm string) error
}
