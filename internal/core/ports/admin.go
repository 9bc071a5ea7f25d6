package ports

import (
	"context"

	"github.com/nulzo/gatewayctl/pkg/api"
)

// GatewayAdmin is the control-plane surface the provisioner and the
// diagnostic engine depend on.
type GatewayAdmin interface {
	// Ping performs an authenticated no-op request and returns the gateway
	// version when the server advertises one.
	Ping(ctx context.Context) (string, error)

	ListRoutes(ctx context.Context) ([]api.Route, error)
	GetRoute(ctx context.Context, id string) (*api.Route, error)
	PutRoute(ctx context.Context, id string, route *api.Route) (*api.Route, error)
	// DeleteRoute treats a missing route as success.
	DeleteRoute(ctx context.Context, id string) error

	// FindCandidates returns every route belonging to a logical id, whether
	// found by label or by id prefix.
	FindCandidates(ctx context.Context, logicalID string) ([]api.Route, error)

	GetConsumer(ctx context.Context, username string) (*api.Consumer, error)
	PutConsumer(ctx context.Context, consumer *api.Consumer) (*api.Consumer, error)
	DeleteConsumer(ctx context.Context, username string) error

	GetPlugin(ctx context.Context, name string) (map[string]interface{}, error)
}
