// Package provisioner applies RouteSpecs to the gateway control plane using
// delete-then-create, so repeated runs converge on one object per logical id.
package provisioner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nulzo/gatewayctl/internal/core/domain"
	"github.com/nulzo/gatewayctl/internal/core/ports"
	"github.com/nulzo/gatewayctl/pkg/api"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/nulzo/gatewayctl/provisioner"

// Summary counts the outcome of an ApplyAll run.
type Summary struct {
	Applied int
	Failed  int
}

func (s Summary) String() string {
	return fmt.Sprintf("%d applied, %d failed", s.Applied, s.Failed)
}

type Provisioner struct {
	admin     ports.GatewayAdmin
	logger    *zap.Logger
	tracer    trace.Tracer
	newSuffix func() string
}

func New(admin ports.GatewayAdmin, logger *zap.Logger) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{
		admin:     admin,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
		newSuffix: NewSuffix,
	}
}

// Apply converges the control plane on exactly one object for spec.ID.
// Errors are reported in the result, never returned.
func (p *Provisioner) Apply(ctx context.Context, spec domain.RouteSpec) domain.ApplyResult {
	ctx, span := p.tracer.Start(ctx, "provisioner.Apply", trace.WithAttributes(
		attribute.String("route.logical_id", spec.ID),
	))
	defer span.End()

	result := p.apply(ctx, spec)
	span.SetAttributes(
		attribute.String("route.object_id", result.ObjectID),
		attribute.String("route.status", string(result.Status)),
	)
	if !result.OK() {
		span.SetStatus(codes.Error, result.Reason)
		if result.Err != nil {
			span.RecordError(result.Err)
		}
	}
	return result
}

func (p *Provisioner) apply(ctx context.Context, spec domain.RouteSpec) domain.ApplyResult {
	log := p.logger.With(zap.String("route", spec.ID))

	if err := spec.Validate(); err != nil {
		log.Warn("Route rejected before provisioning", zap.Error(err))
		return failed(spec.ID, "", "invalid route", err)
	}

	candidates, err := p.admin.FindCandidates(ctx, spec.ID)
	if err != nil {
		return failed(spec.ID, "", "cannot list existing routes", err)
	}

	for _, c := range candidates {
		if err := p.admin.DeleteRoute(ctx, c.ID); err != nil {
			return failed(spec.ID, "", fmt.Sprintf("cannot delete stale route %s", c.ID), err)
		}
		log.Debug("Deleted stale route", zap.String("object_id", c.ID))
	}

	objectID := domain.ObjectID(spec.ID, p.newSuffix())
	route, err := BuildRoute(spec, objectID)
	if err != nil {
		return failed(spec.ID, objectID, "cannot encode route", err)
	}

	if _, err := p.admin.PutRoute(ctx, objectID, route); err != nil {
		return failed(spec.ID, objectID, "create rejected", err)
	}

	stored, err := p.admin.GetRoute(ctx, objectID)
	if err != nil {
		return failed(spec.ID, objectID, "cannot read back route", err)
	}
	if missing := stored.MissingParts(); len(missing) > 0 {
		err := fmt.Errorf("%w: missing %s", domain.ErrIncompleteConfiguration, strings.Join(missing, ", "))
		log.Warn("Route stored without required parts", zap.Strings("missing", missing))
		return failed(spec.ID, objectID, "incomplete configuration", err)
	}

	log.Info("Route applied",
		zap.String("object_id", objectID),
		zap.Int("replaced", len(candidates)),
	)
	return domain.ApplyResult{LogicalID: spec.ID, ObjectID: objectID, Status: domain.ApplyApplied}
}

// ApplyAll applies specs one at a time. A failed route does not stop the
// others; cancellation does.
func (p *Provisioner) ApplyAll(ctx context.Context, specs []domain.RouteSpec) ([]domain.ApplyResult, Summary) {
	results := make([]domain.ApplyResult, 0, len(specs))
	var summary Summary

	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("Provisioning cancelled", zap.Int("remaining", len(specs)-len(results)), zap.Error(err))
			break
		}

		r := p.Apply(ctx, spec)
		if r.OK() {
			summary.Applied++
		} else {
			summary.Failed++
			p.logger.Error("Route failed",
				zap.String("route", r.LogicalID),
				zap.String("reason", r.Reason),
				zap.Error(r.Err),
			)
		}
		results = append(results, r)
	}

	return results, summary
}

// Cleanup deletes every route whose logical id starts with prefix. It keeps
// going past individual failures and returns them joined.
func (p *Provisioner) Cleanup(ctx context.Context, prefix string) (int, error) {
	ctx, span := p.tracer.Start(ctx, "provisioner.Cleanup", trace.WithAttributes(
		attribute.String("route.prefix", prefix),
	))
	defer span.End()

	routes, err := p.admin.ListRoutes(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("list routes: %w", err)
	}

	var (
		deleted int
		errs    []error
	)
	for _, r := range routes {
		if !OwnedBy(r, prefix) {
			continue
		}
		if err := p.admin.DeleteRoute(ctx, r.ID); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", r.ID, err))
			continue
		}
		deleted++
		p.logger.Debug("Deleted route", zap.String("object_id", r.ID))
	}

	p.logger.Info("Cleanup finished", zap.String("prefix", prefix), zap.Int("deleted", deleted))
	if len(errs) > 0 {
		err := errors.Join(errs...)
		span.SetStatus(codes.Error, err.Error())
		return deleted, err
	}
	return deleted, nil
}

// EnsureConsumer replaces the gateway consumer clients authenticate as.
func (p *Provisioner) EnsureConsumer(ctx context.Context, cred domain.ConsumerCredential) error {
	if err := domain.ValidateStruct(cred); err != nil {
		return domain.NewConfigurationError("consumer", domain.ValidationSummary(err), nil)
	}
	consumer, err := api.KeyAuthConsumer(cred.Username, cred.APIKey)
	if err != nil {
		return err
	}
	if _, err := p.admin.PutConsumer(ctx, consumer); err != nil {
		return fmt.Errorf("put consumer %s: %w", cred.Username, err)
	}
	p.logger.Info("Consumer ready", zap.String("username", cred.Username))
	return nil
}

// RemoveConsumer deletes the consumer; a missing consumer is not an error.
func (p *Provisioner) RemoveConsumer(ctx context.Context, username string) error {
	if err := p.admin.DeleteConsumer(ctx, username); err != nil {
		return fmt.Errorf("delete consumer %s: %w", username, err)
	}
	return nil
}

// OwnedBy reports whether a route was provisioned under prefix, going by its
// logical-id label first and its object id second. An unlabeled route only
// counts when its id has the shape this tool writes: prefix, a logical id
// body, then a fresh suffix or the bare separator of an aborted run.
func OwnedBy(r api.Route, prefix string) bool {
	p := strings.Trim(prefix, "-") + "-"
	if id, ok := r.Labels[domain.LabelLogicalID]; ok {
		return strings.HasPrefix(id, p)
	}
	body, ok := strings.CutPrefix(r.ID, p)
	if !ok {
		return false
	}
	i := strings.LastIndex(body, "-")
	return i > 0 && domain.IsObjectSuffix(body[i+1:])
}

func failed(logicalID, objectID, reason string, err error) domain.ApplyResult {
	return domain.ApplyResult{
		LogicalID: logicalID,
		ObjectID:  objectID,
		Status:    domain.ApplyFailed,
		Reason:    reason,
		Err:       err,
	}
}
