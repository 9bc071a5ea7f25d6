// Package bootstrap runs the phase-ordered setup: wait for dependencies,
// set up identity and the gateway consumer, provision routes, then diagnose
// them. Each phase assumes the previous one's postconditions.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nulzo/gatewayctl/internal/core/domain"
	"github.com/nulzo/gatewayctl/internal/core/ports"
	"github.com/nulzo/gatewayctl/internal/core/services/diagnose"
	"github.com/nulzo/gatewayctl/internal/core/services/provisioner"
	"github.com/nulzo/gatewayctl/internal/core/services/readiness"
	"github.com/nulzo/gatewayctl/internal/core/services/routeset"
	"github.com/nulzo/gatewayctl/internal/httpclient"
	"go.uber.org/zap"
)

// Phase names, in run order.
const (
	PhaseControlPlane = "control-plane readiness"
	PhaseIdentity     = "identity-provider readiness"
	PhaseApp          = "application readiness"
	PhaseIdentitySet  = "identity setup"
	PhaseConsumer     = "gateway consumer"
	PhaseProvision    = "route provisioning"
	PhaseDiagnose     = "functional diagnostics"
)

var (
	// ErrNothingProvisioned means every route failed or none were built.
	ErrNothingProvisioned = errors.New("no routes were provisioned")
	// ErrNoConsumerKey means no key was configured and none was cached.
	ErrNoConsumerKey = errors.New("consumer api key is not configured")
)

// Options configure one run.
type Options struct {
	Interval    time.Duration
	MaxAttempts int

	// IdentityURL gates the run on the identity provider when set.
	IdentityURL  string
	Realm        string
	ClientID     string
	RedirectURIs []string
	// User and UserPassword create a realm user when User is set.
	User         string
	UserPassword string

	// AppHealthURL gates the run on the application API when set.
	AppHealthURL string

	Consumer domain.ConsumerCredential

	// Diagnose runs functional diagnostics after provisioning.
	Diagnose       bool
	DiagnoseConfig diagnose.Config
	// Model overrides the model put in probe bodies.
	Model string
}

// Deps are the collaborators a Runner drives. Identity may be nil when
// identity setup is disabled; Store may be nil when nothing is cached.
type Deps struct {
	Admin    ports.GatewayAdmin
	Identity ports.IdentityAdmin
	Store    ports.CredentialStore
	HTTP     httpclient.HTTPClient
	Builder  *routeset.Builder
	Prober   *readiness.Prober
}

// PhaseResult records how a phase ended.
type PhaseResult struct {
	Name    string
	Skipped bool
	Err     error
	Elapsed time.Duration
}

// Outcome is everything a run produced. It is returned even when the run
// fails part way.
type Outcome struct {
	Phases  []PhaseResult
	Skipped []routeset.Skipped
	Results []domain.ApplyResult
	Summary provisioner.Summary
	Reports []*domain.Report
}

// Healthy reports whether every diagnosed route ended healthy.
func (o *Outcome) Healthy() bool {
	for _, r := range o.Reports {
		if !r.Healthy() {
			return false
		}
	}
	return true
}

type Runner struct {
	deps        Deps
	opts        Options
	provisioner *provisioner.Provisioner
	logger      *zap.Logger
}

func NewRunner(deps Deps, opts Options, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Prober == nil {
		deps.Prober = readiness.NewProber(logger)
	}
	if deps.HTTP == nil {
		deps.HTTP = httpclient.New(10 * time.Second)
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Runner{
		deps:        deps,
		opts:        opts,
		provisioner: provisioner.New(deps.Admin, logger),
		logger:      logger,
	}
}

// Provisioner exposes the provisioner the runner applies routes with.
func (r *Runner) Provisioner() *provisioner.Provisioner { return r.provisioner }

func (r *Runner) phase(out *Outcome, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	out.Phases = append(out.Phases, PhaseResult{Name: name, Err: err, Elapsed: time.Since(start)})
	if err != nil {
		r.logger.Error("Phase failed", zap.String("phase", name), zap.Error(err))
		return fmt.Errorf("%s: %w", name, err)
	}
	r.logger.Info("Phase complete", zap.String("phase", name), zap.Duration("elapsed", time.Since(start)))
	return nil
}

func skip(out *Outcome, name string) {
	out.Phases = append(out.Phases, PhaseResult{Name: name, Skipped: true})
}

// Run executes every phase in order. Readiness timeouts, identity or
// consumer failures, and a provisioning phase that applied nothing abort the
// run with an error; individual route failures do not.
func (r *Runner) Run(ctx context.Context, profiles []domain.ProviderProfile) (*Outcome, error) {
	out := &Outcome{}

	if err := r.phase(out, PhaseControlPlane, func() error {
		return r.wait(ctx, readiness.Target{
			Name: "control plane",
			Check: func(ctx context.Context) (bool, error) {
				_, err := r.deps.Admin.Ping(ctx)
				return err == nil, err
			},
		})
	}); err != nil {
		return out, err
	}

	if r.deps.Identity != nil && r.opts.IdentityURL != "" {
		url := strings.TrimRight(r.opts.IdentityURL, "/") + "/realms/master"
		if err := r.phase(out, PhaseIdentity, func() error {
			return r.wait(ctx, readiness.HTTPTarget("identity provider", r.deps.HTTP, url, nil, nil))
		}); err != nil {
			return out, err
		}
	} else {
		skip(out, PhaseIdentity)
	}

	if r.opts.AppHealthURL != "" {
		if err := r.phase(out, PhaseApp, func() error {
			return r.wait(ctx, readiness.HTTPTarget("application api", r.deps.HTTP, r.opts.AppHealthURL, nil, nil))
		}); err != nil {
			return out, err
		}
	} else {
		skip(out, PhaseApp)
	}

	if r.deps.Identity != nil {
		if err := r.phase(out, PhaseIdentitySet, func() error { return r.setupIdentity(ctx) }); err != nil {
			return out, err
		}
	} else {
		skip(out, PhaseIdentitySet)
	}

	var cred domain.ConsumerCredential
	if err := r.phase(out, PhaseConsumer, func() error {
		var err error
		cred, err = r.ensureConsumer(ctx)
		return err
	}); err != nil {
		return out, err
	}

	var applied []domain.RouteSpec
	if err := r.phase(out, PhaseProvision, func() error {
		sets, skipped := r.deps.Builder.Build(ctx, profiles)
		out.Skipped = skipped

		specs := Flatten(sets)
		out.Results, out.Summary = r.provisioner.ApplyAll(ctx, specs)
		r.logger.Info("Provisioning finished", zap.Stringer("summary", out.Summary))

		for i, res := range out.Results {
			if res.OK() {
				applied = append(applied, specs[i])
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if out.Summary.Applied == 0 {
			return ErrNothingProvisioned
		}
		return nil
	}); err != nil {
		return out, err
	}

	if !r.opts.Diagnose {
		skip(out, PhaseDiagnose)
		return out, nil
	}
	_ = r.phase(out, PhaseDiagnose, func() error {
		out.Reports = r.Diagnose(ctx, cred.APIKey, Targets(applied, profiles, r.opts.Model))
		return ctx.Err()
	})
	return out, ctx.Err()
}

func (r *Runner) wait(ctx context.Context, target readiness.Target) error {
	res, err := r.deps.Prober.Poll(ctx, target, r.opts.Interval, r.opts.MaxAttempts)
	if err != nil {
		return err
	}
	return res.Err()
}

func (r *Runner) setupIdentity(ctx context.Context) error {
	id := r.deps.Identity
	if err := id.EnsureRealm(ctx, r.opts.Realm); err != nil {
		return err
	}
	if r.opts.ClientID != "" {
		if err := id.EnsureClient(ctx, r.opts.Realm, r.opts.ClientID, r.opts.RedirectURIs); err != nil {
			return err
		}
	}
	if r.opts.User != "" {
		if err := id.EnsureUser(ctx, r.opts.Realm, r.opts.User, r.opts.UserPassword); err != nil {
			return err
		}
	}
	return nil
}

func consumerCacheKey(username string) string { return "consumer:" + username }

// ConsumerKey returns the configured consumer key, falling back to the one
// cached by an earlier run.
func (r *Runner) ConsumerKey(ctx context.Context) (string, error) {
	if r.opts.Consumer.APIKey != "" {
		return r.opts.Consumer.APIKey, nil
	}
	if r.deps.Store == nil {
		return "", ErrNoConsumerKey
	}
	var cached domain.ConsumerCredential
	if err := r.deps.Store.Get(ctx, consumerCacheKey(r.opts.Consumer.Username), &cached); err != nil {
		if errors.Is(err, ports.ErrCacheMiss) {
			return "", ErrNoConsumerKey
		}
		return "", fmt.Errorf("read credential cache: %w", err)
	}
	return cached.APIKey, nil
}

func (r *Runner) ensureConsumer(ctx context.Context) (domain.ConsumerCredential, error) {
	key, err := r.ConsumerKey(ctx)
	if err != nil {
		return domain.ConsumerCredential{}, err
	}
	cred := domain.ConsumerCredential{Username: r.opts.Consumer.Username, APIKey: key}
	if err := r.provisioner.EnsureConsumer(ctx, cred); err != nil {
		return cred, err
	}
	if r.deps.Store != nil {
		if err := r.deps.Store.Set(ctx, consumerCacheKey(cred.Username), cred, 0); err != nil {
			r.logger.Warn("Could not cache consumer credential", zap.Error(err))
		}
	}
	return cred, nil
}

// Diagnose runs the engine against every target with the given consumer key.
func (r *Runner) Diagnose(ctx context.Context, consumerKey string, targets []diagnose.Target) []*domain.Report {
	cfg := r.opts.DiagnoseConfig
	cfg.ConsumerKey = consumerKey
	engine := diagnose.NewEngine(r.deps.Admin, r.deps.HTTP, cfg, r.logger)
	return engine.RunAll(ctx, targets)
}

// Cleanup deletes every route under the builder's prefix.
func (r *Runner) Cleanup(ctx context.Context) (int, error) {
	return r.provisioner.Cleanup(ctx, r.deps.Builder.Prefix())
}

// DeepCleanup also removes the consumer, the identity realm and the
// credential cache. It keeps going after a failure and reports all of them.
func (r *Runner) DeepCleanup(ctx context.Context) (int, error) {
	deleted, err := r.Cleanup(ctx)
	errs := []error{err}

	if r.opts.Consumer.Username != "" {
		errs = append(errs, r.provisioner.RemoveConsumer(ctx, r.opts.Consumer.Username))
	}
	if r.deps.Identity != nil && r.opts.Realm != "" {
		if err := r.deps.Identity.DeleteRealm(ctx, r.opts.Realm); err != nil {
			errs = append(errs, fmt.Errorf("delete realm %s: %w", r.opts.Realm, err))
		}
	}
	if r.deps.Store != nil {
		if err := r.deps.Store.Clear(ctx); err != nil {
			errs = append(errs, fmt.Errorf("clear credential cache: %w", err))
		}
	}
	return deleted, errors.Join(errs...)
}

// Flatten lists the routes of every set in provisioning order.
func Flatten(sets []routeset.RouteSet) []domain.RouteSpec {
	var specs []domain.RouteSpec
	for _, set := range sets {
		specs = append(specs, set.Routes...)
	}
	return specs
}

// Targets pairs each route with the model its probe should name: model when
// set, otherwise the provider's first listed model.
func Targets(specs []domain.RouteSpec, profiles []domain.ProviderProfile, model string) []diagnose.Target {
	first := make(map[string]string, len(profiles))
	for _, p := range profiles {
		if len(p.ModelList) > 0 {
			first[p.ProviderID] = p.ModelList[0]
		}
	}

	targets := make([]diagnose.Target, 0, len(specs))
	for _, spec := range specs {
		m := model
		if m == "" {
			m = first[spec.Provider]
		}
		targets = append(targets, diagnose.Target{Route: spec, Model: m})
	}
	return targets
}
