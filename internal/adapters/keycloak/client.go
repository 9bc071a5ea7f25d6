// Package keycloak provisions the realm, client and user the application
// authenticates against.
package keycloak

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nulzo/gatewayctl/internal/core/domain"
	"github.com/nulzo/gatewayctl/internal/core/ports"
	"github.com/nulzo/gatewayctl/internal/httpclient"
	"go.uber.org/zap"
)

// tokenSkew renews the admin token slightly before it expires.
const tokenSkew = 10 * time.Second

type Config struct {
	BaseURL  string
	Username string
	Password string
	// ClientID is the admin client used for the password grant.
	ClientID string
	Timeout  time.Duration
}

type Client struct {
	cfg    Config
	http   httpclient.HTTPClient
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

var _ ports.IdentityAdmin = (*Client)(nil)

func NewClient(cfg Config, httpClient httpclient.HTTPClient, logger *zap.Logger) *Client {
	if cfg.ClientID == "" {
		cfg.ClientID = "admin-cli"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
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
	return &Client{cfg: cfg, http: httpClient, logger: logger, now: time.Now}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token returns a cached admin token, requesting a new one via the password
// grant on the master realm when needed.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expires) {
		return c.token, nil
	}

	form := url.Values{
		"grant_type": {"password"},
		"client_id":  {c.cfg.ClientID},
		"username":   {c.cfg.Username},
		"password":   {c.cfg.Password},
	}
	var tok tokenResponse
	_, err := httpclient.SendForm(ctx, c.http, c.cfg.BaseURL+"/realms/master/protocol/openid-connect/token", nil, form, &tok)
	if err != nil {
		return "", c.wrap("token", err)
	}
	if tok.AccessToken == "" {
		return "", &domain.ControlPlaneError{Op: "token", Err: errEmptyToken}
	}

	c.token = tok.AccessToken
	c.expires = c.now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenSkew)
	c.logger.Debug("identity admin token issued", zap.Int("expires_in", tok.ExpiresIn))
	return c.token, nil
}

func (c *Client) send(ctx context.Context, op, method, path string, query url.Values, body, out interface{}) (*httpclient.Response, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	target := c.cfg.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	c.logger.Debug("identity admin request", zap.String("op", op), zap.String("method", method), zap.String("url", target))

	resp, err := httpclient.SendRequest(ctx, c.http, method, target, map[string]string{"Authorization": "Bearer " + token}, body, out)
	if err != nil {
		if httpclient.StatusCode(err) == http.StatusUnauthorized {
			c.forgetToken()
		}
		return resp, c.wrap(op, err)
	}
	return resp, nil
}

func (c *Client) wrap(op string, err error) error {
	if httpclient.IsNetworkError(err) {
		return &domain.TransientNetworkError{Target: c.cfg.BaseURL, Err: err}
	}
	return &domain.ControlPlaneError{Op: op, Status: httpclient.StatusCode(err), Err: err}
}

func (c *Client) forgetToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func realmPath(realm string) string {
	return "/admin/realms/" + url.PathEscape(realm)
}

func (c *Client) EnsureRealm(ctx context.Context, realm string) error {
	_, err := c.send(ctx, "get realm", http.MethodGet, realmPath(realm), nil, nil, nil)
	if err == nil {
		c.logger.Debug("realm exists", zap.String("realm", realm))
		return nil
	}
	if status(err) != http.StatusNotFound {
		return err
	}

	body := map[string]interface{}{"realm": realm, "enabled": true}
	if _, err := c.send(ctx, "create realm", http.MethodPost, "/admin/realms", nil, body, nil); err != nil && status(err) != http.StatusConflict {
		return err
	}
	c.logger.Info("Realm created", zap.String("realm", realm))
	return nil
}

type clientRepresentation struct {
	ID       string `json:"id,omitempty"`
	ClientID string `json:"clientId"`
}

func (c *Client) EnsureClient(ctx context.Context, realm, clientID string, redirectURIs []string) error {
	var existing []clientRepresentation
	q := url.Values{"clientId": {clientID}}
	if _, err := c.send(ctx, "list clients", http.MethodGet, realmPath(realm)+"/clients", q, nil, &existing); err != nil {
		return err
	}
	for _, cl := range existing {
		if cl.ClientID == clientID {
			return nil
		}
	}

	if len(redirectURIs) == 0 {
		redirectURIs = []string{"*"}
	}
	body := map[string]interface{}{
		"clientId":                  clientID,
		"enabled":                   true,
		"publicClient":              true,
		"standardFlowEnabled":       true,
		"directAccessGrantsEnabled": true,
		"redirectUris":              redirectURIs,
		"webOrigins":                []string{"+"},
	}
	if _, err := c.send(ctx, "create client", http.MethodPost, realmPath(realm)+"/clients", nil, body, nil); err != nil && status(err) != http.StatusConflict {
		return err
	}
	c.logger.Info("Client created", zap.String("realm", realm), zap.String("client_id", clientID))
	return nil
}

type userRepresentation struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type credentialRepresentation struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

// EnsureUser creates the user or resets the password of an existing one.
func (c *Client) EnsureUser(ctx context.Context, realm, username, password string) error {
	cred := credentialRepresentation{Type: "password", Value: password}

	var users []userRepresentation
	q := url.Values{"username": {username}, "exact": {"true"}}
	if _, err := c.send(ctx, "list users", http.MethodGet, realmPath(realm)+"/users", q, nil, &users); err != nil {
		return err
	}
	for _, u := range users {
		if strings.EqualFold(u.Username, username) {
			path := realmPath(realm) + "/users/" + url.PathEscape(u.ID) + "/reset-password"
			if _, err := c.send(ctx, "reset password", http.MethodPut, path, nil, cred, nil); err != nil {
				return err
			}
			c.logger.Debug("user password reset", zap.String("realm", realm), zap.String("username", username))
			return nil
		}
	}

	body := map[string]interface{}{
		"username":      username,
		"enabled":       true,
		"emailVerified": true,
		"credentials":   []credentialRepresentation{cred},
	}
	if _, err := c.send(ctx, "create user", http.MethodPost, realmPath(realm)+"/users", nil, body, nil); err != nil {
		return err
	}
	c.logger.Info("User created", zap.String("realm", realm), zap.String("username", username))
	return nil
}

// DeleteRealm removes the realm; a missing realm is not an error.
func (c *Client) DeleteRealm(ctx context.Context, realm string) error {
	_, err := c.send(ctx, "delete realm", http.MethodDelete, realmPath(realm), nil, nil, nil)
	if err != nil && status(err) != http.StatusNotFound {
		return err
	}
	return nil
}

func status(err error) int {
	return httpclient.StatusCode(err)
}
