package domain

// Outcome of a single diagnostic level.
type Outcome string

const (
	OutcomePass Outcome = "pass"
	OutcomeFail Outcome = "fail"
	OutcomeWarn Outcome = "warn"
)

// RootCause is the single classification a diagnostic run ends with.
type RootCause string

const (
	CauseHealthy                    RootCause = "healthy"
	CauseControlPlaneUnreachable    RootCause = "control-plane-unreachable"
	CauseRoutesNotProvisioned       RootCause = "routes-not-provisioned"
	CauseIncompleteRouteConfig      RootCause = "incomplete-route-configuration"
	CauseGatewayCredentialRejected  RootCause = "gateway-credential-rejected"
	CauseUpstreamCredentialRejected RootCause = "upstream-credential-rejected"
	CauseAuthenticationFailed       RootCause = "authentication-failed"
	CauseRouteDisabled              RootCause = "route-disabled"
	CauseRouteURIMismatch           RootCause = "route-uri-mismatch"
	CauseRouteMethodMismatch        RootCause = "route-method-mismatch"
	CauseRouteIdentifierMalformed   RootCause = "route-identifier-malformed"
	CauseRouteNotMatched            RootCause = "route-not-matched"
	CauseDataPlaneUnreachable       RootCause = "gateway-dataplane-unreachable"
	CauseUpstreamUnreachable        RootCause = "upstream-unreachable"
	CauseUpstreamProviderError      RootCause = "upstream-provider-error"
	CauseGatewayUpstreamMisconfig   RootCause = "gateway-upstream-misconfigured"
	CauseReviewLogs                 RootCause = "review-logs"
)

// Family groups root causes so callers can branch without enumerating them.
func (c RootCause) Family() string {
	switch c {
	case CauseGatewayCredentialRejected, CauseUpstreamCredentialRejected, CauseAuthenticationFailed:
		return "authentication"
	case CauseRouteDisabled, CauseRouteURIMismatch, CauseRouteMethodMismatch,
		CauseRouteIdentifierMalformed, CauseRouteNotMatched:
		return "matching"
	case CauseUpstreamUnreachable, CauseUpstreamProviderError, CauseGatewayUpstreamMisconfig:
		return "upstream"
	case CauseControlPlaneUnreachable, CauseRoutesNotProvisioned, CauseIncompleteRouteConfig:
		return "control-plane"
	case CauseDataPlaneUnreachable:
		return "network"
	case CauseHealthy:
		return "none"
	default:
		return "unknown"
	}
}

// DiagnosticResult is emitted once per evaluated level.
type DiagnosticResult struct {
	Level               int     `json:"level"`
	TestName            string  `json:"test_name"`
	Outcome             Outcome `json:"outcome"`
	Evidence            string  `json:"evidence"`
	RootCauseHypothesis string  `json:"root_cause_hypothesis,omitempty"`
}

// Report is the outcome of a full diagnostic run against one target.
type Report struct {
	Target       string             `json:"target"`
	Results      []DiagnosticResult `json:"results"`
	Passed       int                `json:"passed"`
	Failed       int                `json:"failed"`
	Warned       int                `json:"warned"`
	DeepestLevel int                `json:"deepest_level"`
	RootCause    RootCause          `json:"root_cause"`
	Remediation  string             `json:"remediation"`
}

// Add appends a result and keeps the counters and deepest level current.
func (r *Report) Add(res DiagnosticResult) {
	r.Results = append(r.Results, res)
	switch res.Outcome {
	case OutcomePass:
		r.Passed++
	case OutcomeFail:
		r.Failed++
	case OutcomeWarn:
		r.Warned++
	}
	if res.Level > r.DeepestLevel {
		r.DeepestLevel = res.Level
	}
}

// Healthy reports whether the run ended without a fault.
func (r *Report) Healthy() bool { return r.RootCause == CauseHealthy }
