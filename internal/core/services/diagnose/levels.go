package diagnose

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-version"
	"github.com/nulzo/gatewayctl/internal/core/domain"
	"github.com/nulzo/gatewayctl/internal/httpclient"
	"github.com/nulzo/gatewayctl/pkg/api"
)

// DefaultMinVersion is the oldest control plane that supports label queries.
const DefaultMinVersion = "3.0.0"

func (e *Engine) controlPlane(ctx context.Context, r *run) step {
	addr, err := hostPort(e.cfg.AdminURL)
	if err != nil {
		return fail(domain.CauseControlPlaneUnreachable, fmt.Sprintf("invalid admin url %q: %v", e.cfg.AdminURL, err))
	}

	conn, err := e.dial(ctx, "tcp", addr)
	if err != nil {
		return fail(domain.CauseControlPlaneUnreachable, fmt.Sprintf("admin port %s not accepting connections: %v", addr, err))
	}
	_ = conn.Close()
	evidence := []string{"admin port " + addr + " open"}

	if e.cfg.ProcessCheck != nil {
		if err := e.cfg.ProcessCheck(ctx); err != nil {
			return fail(domain.CauseControlPlaneUnreachable, append(evidence, "gateway process check failed: "+err.Error())...)
		}
		evidence = append(evidence, "gateway process alive")
	}

	v, err := e.admin.Ping(ctx)
	if err != nil {
		return fail(domain.CauseControlPlaneUnreachable, append(evidence, "admin API request failed: "+err.Error())...)
	}
	if v == "" {
		return pass(append(evidence, "admin API answered, version not advertised")...)
	}

	below, err := belowMinimum(v, e.cfg.MinVersion)
	switch {
	case err != nil:
		return warn("", append(evidence, fmt.Sprintf("cannot compare version %q: %v", v, err))...)
	case below:
		return warn("", append(evidence, fmt.Sprintf("control plane %s is older than %s; label queries disabled", v, e.cfg.MinVersion))...)
	}
	return pass(append(evidence, "admin API answered, version "+v)...)
}

func (e *Engine) routeExistence(ctx context.Context, r *run) step {
	id := r.target.Route.ID
	candidates, err := e.admin.FindCandidates(ctx, id)
	if err != nil {
		return fail(domain.CauseReviewLogs, "route listing failed: "+err.Error())
	}
	if len(candidates) == 0 {
		return fail(domain.CauseRoutesNotProvisioned, fmt.Sprintf("no route matches logical id %s", id))
	}

	r.candidates = candidates
	r.current = selectCurrent(candidates)

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}
	if len(candidates) > 1 {
		return warn("", fmt.Sprintf("%d objects share logical id %s: %s", len(candidates), id, strings.Join(ids, ", ")))
	}
	return pass("found " + ids[0])
}

func (e *Engine) completeness(ctx context.Context, r *run) step {
	route := r.current
	var missing []string

	if pr, ok := route.ProxyRewrite(); !ok || len(pr.RegexURI) != 2 {
		missing = append(missing, "proxy-rewrite regex_uri")
	}
	if r.target.Route.PluginConfig.AuthRequired && !route.HasPlugin(api.PluginKeyAuth) {
		missing = append(missing, api.PluginKeyAuth)
	}
	if route.Upstream == nil || len(route.Upstream.Nodes) == 0 {
		missing = append(missing, "upstream.nodes")
	}
	if len(route.Methods) == 0 {
		missing = append(missing, "methods")
	}
	if len(missing) > 0 {
		return fail(domain.CauseIncompleteRouteConfig, fmt.Sprintf("route %s is missing %s", route.ID, strings.Join(missing, ", ")))
	}

	if r.target.Route.PluginConfig.AuthRequired {
		if _, err := e.admin.GetPlugin(ctx, api.PluginKeyAuth); err != nil {
			return warn("", fmt.Sprintf("route %s complete but plugin %s not available: %v", route.ID, api.PluginKeyAuth, err))
		}
	}
	return pass(fmt.Sprintf("route %s has rewrite, auth and %d upstream node(s)", route.ID, len(route.Upstream.Nodes)))
}

func (e *Engine) functional(ctx context.Context, r *run) step {
	spec := r.target.Route
	if len(spec.Methods) == 0 {
		return fail(domain.CauseIncompleteRouteConfig, "expected route has no methods")
	}
	method := spec.Methods[0]
	target := e.cfg.GatewayURL + spec.URIPattern

	headers := map[string]string{}
	if e.cfg.ConsumerKey != "" {
		headers[e.cfg.KeyHeader] = e.cfg.ConsumerKey
	}

	resp, err := e.send(ctx, method, target, headers, ProbeBody(method, spec.Capability, r.target.Model))
	if resp == nil {
		return fail(domain.CauseDataPlaneUnreachable, fmt.Sprintf("%s %s: %v", method, target, err))
	}
	r.status = resp.StatusCode
	evidence := fmt.Sprintf("%s %s returned %d", method, spec.URIPattern, resp.StatusCode)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return pass(evidence)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fail(domain.CauseAuthenticationFailed, evidence)
	case resp.StatusCode == http.StatusNotFound:
		cause, why := matching(r, method, spec.URIPattern)
		return fail(cause, evidence, why)
	case resp.StatusCode >= 500:
		return fail(domain.CauseUpstreamProviderError, evidence)
	default:
		return warn(domain.CauseReviewLogs, evidence)
	}
}

// matching narrows a 404 down to the first route property that explains it.
func matching(r *run, method, path string) (domain.RootCause, string) {
	route := r.current
	switch {
	case !route.Enabled():
		return domain.CauseRouteDisabled, "route " + route.ID + " is disabled"
	case !uriMatches(route.URI, path):
		return domain.CauseRouteURIMismatch, fmt.Sprintf("route uri %q does not match %q", route.URI, path)
	case !hasMethod(route.Methods, method):
		return domain.CauseRouteMethodMismatch, fmt.Sprintf("route methods %v do not include %s", route.Methods, method)
	}
	for _, c := range r.candidates {
		if domain.IsMalformedObjectID(c.ID) {
			return domain.CauseRouteIdentifierMalformed, fmt.Sprintf("route id %q ends without a suffix", c.ID)
		}
	}
	return domain.CauseRouteNotMatched, "route looks correct but the data plane did not match it"
}

func (e *Engine) upstream(ctx context.Context, r *run) step {
	spec := r.target.Route
	if len(spec.Methods) == 0 {
		return fail(domain.CauseIncompleteRouteConfig, "expected route has no methods")
	}
	scheme, node := spec.Upstream.Scheme, spec.Upstream.Node()
	if u := r.current.Upstream; u != nil {
		for n := range u.Nodes {
			node = n
			break
		}
		if u.Scheme != "" {
			scheme = u.Scheme
		}
	}
	if scheme == "" {
		scheme = "http"
	}

	headers := map[string]string{}
	path := spec.URIPattern
	if pr, ok := r.current.ProxyRewrite(); ok {
		path = rewritePath(pr, path)
		if pr.Headers != nil {
			for k, v := range pr.Headers.Set {
				headers[k] = v
			}
		}
	}
	auth := r.hypothesis.Family() == "authentication"

	conn, err := e.dial(ctx, "tcp", node)
	if err != nil {
		unreachable := fmt.Sprintf("upstream %s not accepting connections from here: %v", node, err)
		if !auth {
			return fail(domain.CauseUpstreamUnreachable, unreachable)
		}
		// A 401/403 from the gateway stands on its own; the upstream may only
		// be unreachable from this host.
		if len(headers) == 0 {
			return warn(domain.CauseGatewayCredentialRejected, unreachable,
				fmt.Sprintf("gateway returned %d and the route injects no credential; the consumer key was rejected before the upstream", r.status))
		}
		return warn(domain.CauseAuthenticationFailed, unreachable,
			fmt.Sprintf("gateway returned %d; cannot tell whether the consumer key or the provider credential was rejected", r.status))
	}
	_ = conn.Close()

	method := spec.Methods[0]
	direct := scheme + "://" + node + path

	if auth && len(headers) == 0 {
		return fail(domain.CauseGatewayCredentialRejected, "upstream "+node+" reachable and needs no credential; the gateway rejected the consumer key")
	}

	resp, err := e.send(ctx, method, direct, headers, ProbeBody(method, spec.Capability, r.target.Model))
	if resp == nil {
		if auth {
			return warn(domain.CauseAuthenticationFailed, fmt.Sprintf("%s %s: %v", method, direct, err),
				fmt.Sprintf("gateway returned %d", r.status))
		}
		return fail(domain.CauseUpstreamUnreachable, fmt.Sprintf("%s %s: %v", method, direct, err))
	}
	evidence := fmt.Sprintf("direct %s %s returned %d (gateway returned %d)", method, path, resp.StatusCode, r.status)

	switch r.hypothesis.Family() {
	case "authentication":
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return fail(domain.CauseUpstreamCredentialRejected, evidence)
		}
		return fail(domain.CauseGatewayCredentialRejected, evidence)
	case "upstream":
		switch {
		case resp.StatusCode >= 500:
			return fail(domain.CauseUpstreamProviderError, evidence)
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return fail(domain.CauseGatewayUpstreamMisconfig, evidence, "the provider answers directly, so the gateway's upstream settings are at fault")
		}
		return warn(domain.CauseReviewLogs, evidence)
	default:
		return warn(domain.CauseReviewLogs, evidence)
	}
}

// send returns the response whenever one arrived, even for non-2xx status.
func (e *Engine) send(ctx context.Context, method, target string, headers map[string]string, body interface{}) (*httpclient.Response, error) {
	return httpclient.SendRequest(ctx, e.client, method, target, headers, body, nil)
}

// ProbeBody is the smallest request body a capability accepts. GET probes
// have none.
func ProbeBody(method string, capability domain.Capability, model string) interface{} {
	if method == http.MethodGet {
		return nil
	}
	switch capability {
	case domain.CapabilityChat:
		return map[string]interface{}{
			"model":      model,
			"messages":   []map[string]string{{"role": "user", "content": "ping"}},
			"max_tokens": 1,
		}
	case domain.CapabilityEmbeddings:
		return map[string]interface{}{"model": model, "input": "ping"}
	default:
		return map[string]interface{}{}
	}
}

// selectCurrent picks the newest well-formed candidate. Suffixes are time
// ordered, so the highest id is the newest.
func selectCurrent(candidates []api.Route) *api.Route {
	sorted := append([]api.Route(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID > sorted[j].ID })
	for i := range sorted {
		if !domain.IsMalformedObjectID(sorted[i].ID) {
			return &sorted[i]
		}
	}
	return &sorted[0]
}

func uriMatches(pattern, path string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(path, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == path
}

func hasMethod(methods []string, method string) bool {
	for _, m := range methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func rewritePath(pr *api.ProxyRewrite, path string) string {
	if len(pr.RegexURI) != 2 {
		return path
	}
	re, err := regexp.Compile(pr.RegexURI[0])
	if err != nil || !re.MatchString(path) {
		return path
	}
	return re.ReplaceAllString(path, pr.RegexURI[1])
}

func belowMinimum(current, minimum string) (bool, error) {
	cur, err := version.NewVersion(current)
	if err != nil {
		return false, err
	}
	floor, err := version.NewVersion(minimum)
	if err != nil {
		return false, err
	}
	return cur.LessThan(floor), nil
}

func hostPort(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("missing host")
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid port %q", port)
	}
	return net.JoinHostPort(host, port), nil
}
