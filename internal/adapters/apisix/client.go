package apisix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/nulzo/gatewayctl/internal/core/domain"
	"github.com/nulzo/gatewayctl/internal/core/ports"
	"github.com/nulzo/gatewayctl/internal/httpclient"
	"github.com/nulzo/gatewayctl/pkg/api"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	adminPrefix  = "/apisix/admin"
	headerAPIKey = "X-API-KEY"
)

// labelQueryConstraint is the first control-plane release that filters
// route listings by label server-side.
var labelQueryConstraint = version.MustConstraints(version.NewConstraint(">= 3.0.0"))

// Config configures the admin client.
type Config struct {
	BaseURL  string
	AdminKey string
	Timeout  time.Duration
	// RequestsPerSecond throttles admin calls; zero disables throttling.
	RequestsPerSecond float64
	Burst             int
}

// Client talks to the gateway Admin API.
type Client struct {
	baseURL  string
	adminKey string
	http     httpclient.HTTPClient
	limiter  *rate.Limiter
	logger   *zap.Logger

	mu          sync.RWMutex
	labelsKnown bool
	labelsOK    bool
}

var _ ports.GatewayAdmin = (*Client)(nil)

// NewClient builds a client. If httpClient is nil a client with cfg.Timeout
// is created.
func NewClient(cfg Config, httpClient httpclient.HTTPClient, logger *zap.Logger) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = httpclient.New(timeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		adminKey: cfg.AdminKey,
		http:     httpClient,
		limiter:  limiter,
		logger:   logger,
	}
}

func (c *Client) url(path string, query url.Values) string {
	u := c.baseURL + adminPrefix + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) send(ctx context.Context, op, method, path string, query url.Values, body, out interface{}) (*httpclient.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	target := c.url(path, query)
	c.logger.Debug("admin api request", zap.String("op", op), zap.String("method", method), zap.String("url", target))

	resp, err := httpclient.SendRequest(ctx, c.http, method, target, map[string]string{headerAPIKey: c.adminKey}, body, out)
	if err == nil {
		return resp, nil
	}
	if httpclient.IsNetworkError(err) {
		return resp, &domain.TransientNetworkError{Target: c.baseURL, Err: err}
	}
	status := httpclient.StatusCode(err)
	if status != 0 {
		var upstreamErr *httpclient.UpstreamError
		if errors.As(err, &upstreamErr) {
			var apiErr api.ErrorResponse
			if json.Unmarshal(upstreamErr.Body, &apiErr) == nil && apiErr.Error() != "" {
				err = fmt.Errorf("%w: %s", err, apiErr.Error())
			}
		}
	}
	return resp, &domain.ControlPlaneError{Op: op, Status: status, Err: err}
}

func isNotFound(err error) bool {
	var cpErr *domain.ControlPlaneError
	return errors.As(err, &cpErr) && cpErr.Status == http.StatusNotFound
}

// Ping issues an authenticated listing and returns the advertised version,
// e.g. "3.9.1" from "Server: APISIX/3.9.1".
func (c *Client) Ping(ctx context.Context) (string, error) {
	resp, err := c.send(ctx, "ping", http.MethodGet, "/routes", nil, nil, nil)
	if err != nil {
		return "", err
	}
	v := parseServerVersion(resp.Header.Get("Server"))
	c.rememberVersion(v)
	return v, nil
}

func parseServerVersion(server string) string {
	_, v, ok := strings.Cut(server, "/")
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

func (c *Client) rememberVersion(v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.labelsKnown = true
	c.labelsOK = SupportsLabelQuery(v)
}

// SupportsLabelQuery reports whether a control plane of version v filters
// listings by label. Unknown versions are treated as unsupported.
func SupportsLabelQuery(v string) bool {
	parsed, err := version.NewVersion(v)
	if err != nil {
		return false
	}
	return labelQueryConstraint.Check(parsed)
}

func (c *Client) ListRoutes(ctx context.Context) ([]api.Route, error) {
	return c.listRoutes(ctx, nil)
}

func (c *Client) listRoutes(ctx context.Context, query url.Values) ([]api.Route, error) {
	var raw rawList
	if _, err := c.send(ctx, "list routes", http.MethodGet, "/routes", query, nil, &raw); err != nil {
		return nil, err
	}
	items, err := decodeList[api.Route](raw)
	if err != nil {
		return nil, &domain.ControlPlaneError{Op: "list routes", Err: err}
	}

	routes := make([]api.Route, 0, len(items))
	for _, it := range items {
		r := it.Value
		if r.ID == "" {
			r.ID = keyID(it.Key)
		}
		routes = append(routes, r)
	}
	return routes, nil
}

func (c *Client) GetRoute(ctx context.Context, id string) (*api.Route, error) {
	var item api.Item[api.Route]
	if _, err := c.send(ctx, "get route", http.MethodGet, "/routes/"+url.PathEscape(id), nil, nil, &item); err != nil {
		return nil, err
	}
	if item.Value.ID == "" {
		item.Value.ID = id
	}
	return &item.Value, nil
}

func (c *Client) PutRoute(ctx context.Context, id string, route *api.Route) (*api.Route, error) {
	var item api.Item[api.Route]
	if _, err := c.send(ctx, "put route", http.MethodPut, "/routes/"+url.PathEscape(id), nil, route, &item); err != nil {
		return nil, err
	}
	if item.Value.ID == "" {
		item.Value.ID = id
	}
	return &item.Value, nil
}

func (c *Client) DeleteRoute(ctx context.Context, id string) error {
	_, err := c.send(ctx, "delete route", http.MethodDelete, "/routes/"+url.PathEscape(id), nil, nil, nil)
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// FindCandidates queries by label when the control plane supports it and
// always filters client-side, so an older server that ignores the label
// parameter still yields the right set.
func (c *Client) FindCandidates(ctx context.Context, logicalID string) ([]api.Route, error) {
	var query url.Values
	if c.labelQueryEnabled() {
		query = url.Values{"label": {domain.LabelLogicalID + ":" + logicalID}}
	}

	routes, err := c.listRoutes(ctx, query)
	if err != nil && query != nil && !domain.IsTransient(err) {
		c.logger.Debug("label query rejected, falling back to full listing", zap.Error(err))
		routes, err = c.listRoutes(ctx, nil)
	}
	if err != nil {
		return nil, err
	}

	return FilterCandidates(routes, logicalID), nil
}

func (c *Client) labelQueryEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.labelsKnown && c.labelsOK
}

// FilterCandidates keeps the routes that belong to logicalID either by label
// or, for unlabeled routes, by an object id of logicalID plus a suffix.
// Another capability's id that happens to extend logicalID is not a match.
func FilterCandidates(routes []api.Route, logicalID string) []api.Route {
	var out []api.Route
	for _, r := range routes {
		if label, ok := r.Labels[domain.LabelLogicalID]; ok {
			if label == logicalID {
				out = append(out, r)
			}
			continue
		}
		if r.ID == logicalID {
			out = append(out, r)
			continue
		}
		if rest, ok := strings.CutPrefix(r.ID, logicalID+"-"); ok && domain.IsObjectSuffix(rest) {
			out = append(out, r)
		}
	}
	return out
}

func (c *Client) GetConsumer(ctx context.Context, username string) (*api.Consumer, error) {
	var item api.Item[api.Consumer]
	if _, err := c.send(ctx, "get consumer", http.MethodGet, "/consumers/"+url.PathEscape(username), nil, nil, &item); err != nil {
		return nil, err
	}
	return &item.Value, nil
}

func (c *Client) PutConsumer(ctx context.Context, consumer *api.Consumer) (*api.Consumer, error) {
	var item api.Item[api.Consumer]
	if _, err := c.send(ctx, "put consumer", http.MethodPut, "/consumers/"+url.PathEscape(consumer.Username), nil, consumer, &item); err != nil {
		return nil, err
	}
	return &item.Value, nil
}

func (c *Client) DeleteConsumer(ctx context.Context, username string) error {
	_, err := c.send(ctx, "delete consumer", http.MethodDelete, "/consumers/"+url.PathEscape(username), nil, nil, nil)
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (c *Client) GetPlugin(ctx context.Context, name string) (map[string]interface{}, error) {
	var out map[string]interface{}
	if _, err := c.send(ctx, "get plugin", http.MethodGet, "/plugins/"+url.PathEscape(name), nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// IsNotFound reports whether err is a 404 from the admin API.
func IsNotFound(err error) bool { return isNotFound(err) }
