package diagnose

import "github.com/nulzo/gatewayctl/internal/core/domain"

var remediations = map[domain.RootCause]string{
	domain.CauseHealthy:                    "No action needed.",
	domain.CauseControlPlaneUnreachable:    "Start the gateway and confirm the admin API port is published and the admin key matches the gateway's admin key configuration.",
	domain.CauseRoutesNotProvisioned:       "Run setup to provision the provider routes.",
	domain.CauseIncompleteRouteConfig:      "Re-run setup so the route is recreated with its rewrite, key-auth and upstream blocks; check the gateway log for rejected plugin configuration.",
	domain.CauseGatewayCredentialRejected:  "The gateway rejected the client credential. Make sure the consumer API key sent in the apikey header matches the gateway consumer's key-auth credential, or clear the cached credential and re-run setup.",
	domain.CauseUpstreamCredentialRejected: "The provider rejected the static credential injected by the route. Rotate the provider API key referenced by auth_secret_ref and re-run setup.",
	domain.CauseAuthenticationFailed:       "Authentication failed. Check both the consumer API key and the provider credential referenced by auth_secret_ref.",
	domain.CauseRouteDisabled:              "Enable the route (status 1) or re-run setup.",
	domain.CauseRouteURIMismatch:           "The route uri does not cover the requested path. Re-run setup with the same prefix the clients use.",
	domain.CauseRouteMethodMismatch:        "The route does not accept the request method. Re-run setup to restore the capability's methods.",
	domain.CauseRouteIdentifierMalformed:   "A route id without a suffix was left by an interrupted run. Run cleanup, then setup.",
	domain.CauseRouteNotMatched:            "The route is stored but not matched. Check for a conflicting route with higher priority and reload the gateway.",
	domain.CauseDataPlaneUnreachable:       "The gateway data plane is not accepting connections. Check the gateway container and the published proxy port.",
	domain.CauseUpstreamUnreachable:        "The provider host is unreachable from here. Check base_url, DNS and any egress proxy.",
	domain.CauseUpstreamProviderError:      "The provider is returning server errors. Check its status page or logs and retry later.",
	domain.CauseGatewayUpstreamMisconfig:   "The provider answers directly but not through the gateway. Check the route's proxy-rewrite target path, the upstream scheme and TLS settings, and pass_host; re-run setup to restore them.",
	domain.CauseReviewLogs:                 "No single check explains the failure. Review the gateway error log and the evidence above.",
}

// Remediation returns the recommended action for a root cause. Every root
// cause has one; unknown values fall back to reviewing logs.
func Remediation(cause domain.RootCause) string {
	if r, ok := remediations[cause]; ok {
		return r
	}
	return remediations[domain.CauseReviewLogs]
}

// RootCauses lists every classification the engine can end with.
func RootCauses() []domain.RootCause {
	return []domain.RootCause{
		domain.CauseHealthy,
		domain.CauseControlPlaneUnreachable,
		domain.CauseRoutesNotProvisioned,
		domain.CauseIncompleteRouteConfig,
		domain.CauseGatewayCredentialRejected,
		domain.CauseUpstreamCredentialRejected,
		domain.CauseAuthenticationFailed,
		domain.CauseRouteDisabled,
		domain.CauseRouteURIMismatch,
		domain.CauseRouteMethodMismatch,
		domain.CauseRouteIdentifierMalformed,
		domain.CauseRouteNotMatched,
		domain.CauseDataPlaneUnreachable,
		domain.CauseUpstreamUnreachable,
		domain.CauseUpstreamProviderError,
		domain.CauseGatewayUpstreamMisconfig,
		domain.CauseReviewLogs,
	}
}
