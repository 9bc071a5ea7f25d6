// Package diagnose walks a fixed sequence of fault-isolation levels against
// one provisioned route and ends with a single root cause.
package diagnose

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/nulzo/gatewayctl/internal/core/domain"
	"github.com/nulzo/gatewayctl/internal/core/ports"
	"github.com/nulzo/gatewayctl/internal/httpclient"
	"github.com/nulzo/gatewayctl/pkg/api"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Level identifies a node in the fault-isolation walk.
type Level int

const (
	done Level = iota
	LevelControlPlane
	LevelRouteExistence
	LevelCompleteness
	LevelFunctional
	LevelUpstream
)

var levelNames = map[Level]string{
	LevelControlPlane:   "control-plane-reachability",
	LevelRouteExistence: "route-existence",
	LevelCompleteness:   "configuration-completeness",
	LevelFunctional:     "functional-reachability",
	LevelUpstream:       "upstream-verification",
}

func (l Level) String() string { return levelNames[l] }

// step is what a level's test function returns.
type step struct {
	outcome    domain.Outcome
	evidence   []string
	hypothesis domain.RootCause
}

func pass(evidence ...string) step {
	return step{outcome: domain.OutcomePass, evidence: evidence}
}

func fail(cause domain.RootCause, evidence ...string) step {
	return step{outcome: domain.OutcomeFail, evidence: evidence, hypothesis: cause}
}

func warn(cause domain.RootCause, evidence ...string) step {
	return step{outcome: domain.OutcomeWarn, evidence: evidence, hypothesis: cause}
}

// edge keys the transition table. An empty family matches any hypothesis.
type edge struct {
	from    Level
	outcome domain.Outcome
	family  string
}

// transitions decides where the walk goes after each level. Lookups try the
// hypothesis family first and fall back to the family-less entry.
var transitions = map[edge]Level{
	{LevelControlPlane, domain.OutcomePass, ""}:            LevelRouteExistence,
	{LevelControlPlane, domain.OutcomeWarn, ""}:            LevelRouteExistence,
	{LevelControlPlane, domain.OutcomeFail, ""}:            done,
	{LevelRouteExistence, domain.OutcomePass, ""}:          LevelCompleteness,
	{LevelRouteExistence, domain.OutcomeWarn, ""}:          LevelCompleteness,
	{LevelRouteExistence, domain.OutcomeFail, ""}:          done,
	{LevelCompleteness, domain.OutcomePass, ""}:            LevelFunctional,
	{LevelCompleteness, domain.OutcomeWarn, ""}:            LevelFunctional,
	{LevelCompleteness, domain.OutcomeFail, ""}:            done,
	{LevelFunctional, domain.OutcomePass, ""}:              done,
	{LevelFunctional, domain.OutcomeFail, ""}:              LevelUpstream,
	{LevelFunctional, domain.OutcomeFail, "matching"}:      done,
	{LevelFunctional, domain.OutcomeFail, "network"}:       done,
	{LevelFunctional, domain.OutcomeFail, "control-plane"}: done,
	{LevelFunctional, domain.OutcomeWarn, ""}:              LevelUpstream,
	{LevelUpstream, domain.OutcomePass, ""}:                done,
	{LevelUpstream, domain.OutcomeWarn, ""}:                done,
	{LevelUpstream, domain.OutcomeFail, ""}:                done,
}

func next(from Level, s step) Level {
	if to, ok := transitions[edge{from, s.outcome, s.hypothesis.Family()}]; ok {
		return to
	}
	if to, ok := transitions[edge{from, s.outcome, ""}]; ok {
		return to
	}
	return done
}

// Config holds the addresses the engine probes outside the admin client.
type Config struct {
	// AdminURL is the control-plane base URL; its host:port is dialed at
	// level 1.
	AdminURL string
	// GatewayURL is the data-plane base URL the functional probe calls.
	GatewayURL string
	// ConsumerKey is sent in the key-auth header on the functional probe.
	ConsumerKey string
	// KeyHeader defaults to "apikey".
	KeyHeader string
	// MinVersion is the oldest control-plane version that is not flagged.
	MinVersion  string
	DialTimeout time.Duration
	// ProcessCheck optionally confirms the gateway process is alive.
	ProcessCheck func(ctx context.Context) error
}

// Target is one route to diagnose.
type Target struct {
	Route domain.RouteSpec
	// Model is put into the probe body for POST capabilities.
	Model string
}

func (t Target) name() string {
	if t.Route.Provider != "" && t.Route.Capability != "" {
		return t.Route.Provider + "/" + string(t.Route.Capability)
	}
	return t.Route.ID
}

type Engine struct {
	admin  ports.GatewayAdmin
	client httpclient.HTTPClient
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer
	dial   func(ctx context.Context, network, addr string) (net.Conn, error)
	levels map[Level]func(ctx context.Context, r *run) step
}

func NewEngine(admin ports.GatewayAdmin, client httpclient.HTTPClient, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.KeyHeader == "" {
		cfg.KeyHeader = "apikey"
	}
	if cfg.MinVersion == "" {
		cfg.MinVersion = DefaultMinVersion
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}
	cfg.GatewayURL = strings.TrimRight(cfg.GatewayURL, "/")

	e := &Engine{
		admin:  admin,
		client: client,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("github.com/nulzo/gatewayctl/diagnose"),
	}
	d := &net.Dialer{Timeout: cfg.DialTimeout}
	e.dial = d.DialContext
	e.levels = map[Level]func(context.Context, *run) step{
		LevelControlPlane:   e.controlPlane,
		LevelRouteExistence: e.routeExistence,
		LevelCompleteness:   e.completeness,
		LevelFunctional:     e.functional,
		LevelUpstream:       e.upstream,
	}
	return e
}

// run is the state carried between levels of one walk.
type run struct {
	target     Target
	candidates []api.Route
	current    *api.Route
	status     int
	hypothesis domain.RootCause
}

// Run walks the levels for one target. The report is always returned; the
// error is a DiagnosticInconclusive when no level explains the failure.
func (e *Engine) Run(ctx context.Context, target Target) (*domain.Report, error) {
	ctx, span := e.tracer.Start(ctx, "diagnose.Run", trace.WithAttributes(
		attribute.String("route.logical_id", target.Route.ID),
	))
	defer span.End()

	report := &domain.Report{Target: target.name()}
	r := &run{target: target}
	log := e.logger.With(zap.String("target", report.Target))

	var (
		level = LevelControlPlane
		last  step
		from  Level
	)
	for level != done {
		if err := ctx.Err(); err != nil {
			last = warn(domain.CauseReviewLogs, "diagnostics cancelled: "+err.Error())
			break
		}

		last = e.evaluate(ctx, level, r)
		report.Add(domain.DiagnosticResult{
			Level:               int(level),
			TestName:            level.String(),
			Outcome:             last.outcome,
			Evidence:            strings.Join(last.evidence, "; "),
			RootCauseHypothesis: string(last.hypothesis),
		})
		log.Debug("Diagnostic level evaluated",
			zap.Int("level", int(level)),
			zap.String("outcome", string(last.outcome)),
			zap.String("hypothesis", string(last.hypothesis)),
		)
		if last.hypothesis != "" {
			r.hypothesis = last.hypothesis
		}
		from, level = level, next(level, last)
	}

	report.RootCause = conclude(from, last)
	report.Remediation = Remediation(report.RootCause)
	span.SetAttributes(attribute.String("diagnose.root_cause", string(report.RootCause)))

	if report.RootCause == domain.CauseReviewLogs {
		err := &domain.DiagnosticInconclusive{DeepestLevel: report.DeepestLevel, Evidence: evidenceOf(report)}
		span.SetStatus(codes.Error, err.Error())
		log.Warn("Diagnostics inconclusive", zap.Int("deepest_level", report.DeepestLevel))
		return report, err
	}
	if !report.Healthy() {
		span.SetStatus(codes.Error, string(report.RootCause))
	}
	return report, nil
}

// RunAll diagnoses each target in order.
func (e *Engine) RunAll(ctx context.Context, targets []Target) []*domain.Report {
	reports := make([]*domain.Report, 0, len(targets))
	for _, t := range targets {
		if ctx.Err() != nil {
			break
		}
		report, _ := e.Run(ctx, t)
		reports = append(reports, report)
	}
	return reports
}

func (e *Engine) evaluate(ctx context.Context, level Level, r *run) step {
	ctx, span := e.tracer.Start(ctx, "diagnose."+level.String())
	defer span.End()

	s := e.levels[level](ctx, r)
	span.SetAttributes(attribute.String("diagnose.outcome", string(s.outcome)))
	return s
}

// conclude maps the terminal step to exactly one root cause.
func conclude(level Level, last step) domain.RootCause {
	switch last.outcome {
	case domain.OutcomePass:
		if level == LevelFunctional {
			return domain.CauseHealthy
		}
	case domain.OutcomeFail, domain.OutcomeWarn:
		if last.hypothesis != "" {
			return last.hypothesis
		}
	}
	return domain.CauseReviewLogs
}

func evidenceOf(report *domain.Report) []string {
	out := make([]string, 0, len(report.Results))
	for _, res := range report.Results {
		if res.Evidence != "" {
			out = append(out, res.TestName+": "+res.Evidence)
		}
	}
	return out
}
