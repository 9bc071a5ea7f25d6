package ports

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by CredentialStore.Get for absent or expired keys.
var ErrCacheMiss = errors.New("cache miss")

// CredentialStore is the opt-in local credential cache. It is the only state
// kept between invocations.
type CredentialStore interface {
	// Get unmarshals the stored value into dest.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores value; a zero ttl means no expiry.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Clear removes every entry owned by the store.
	Clear(ctx context.Context) error
	Close() error
}
