package server

import (
	"net/http"
	"net/http/httputil"
	"regexp"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/gatewayctl/internal/server/middleware"
	"github.com/nulzo/gatewayctl/pkg/api"
	"go.uber.org/zap"
)

// serveProxy matches the request against stored routes, enforces key-auth,
// applies proxy-rewrite and forwards to the route's upstream node.
func (s *Server) serveProxy(c *gin.Context) {
	route, ok := s.store.Match(c.Request.Method, c.Request.URL.Path)
	if !ok {
		c.JSON(http.StatusNotFound, api.ErrorResponse{ErrorMsg: "404 Route Not Found"})
		return
	}
	c.Set(middleware.ContextKeyRouteID, route.ID)

	if route.HasPlugin(api.PluginKeyAuth) {
		key := c.GetHeader(s.config.KeyHeader)
		if key == "" {
			key = c.Query(s.config.KeyHeader)
		}
		if key == "" {
			c.JSON(http.StatusUnauthorized, api.ErrorResponse{Message: "Missing API key in request"})
			return
		}
		if _, ok := s.store.ConsumerByKey(key); !ok {
			c.JSON(http.StatusUnauthorized, api.ErrorResponse{Message: "Invalid API key in request"})
			return
		}
	}

	node := pickNode(route.Upstream)
	if node == "" {
		c.JSON(http.StatusServiceUnavailable, api.ErrorResponse{ErrorMsg: "no upstream node"})
		return
	}
	scheme, passHost := route.Upstream.Scheme, route.Upstream.PassHost
	if scheme == "" {
		scheme = "http"
	}

	path := c.Request.URL.Path
	var setHeaders map[string]string
	if pr, ok := route.ProxyRewrite(); ok {
		if len(pr.RegexURI) == 2 {
			if re, err := regexp.Compile(pr.RegexURI[0]); err == nil && re.MatchString(path) {
				path = re.ReplaceAllString(path, pr.RegexURI[1])
			}
		}
		if pr.Headers != nil {
			setHeaders = pr.Headers.Set
		}
	}

	proxy := &httputil.ReverseProxy{
		Transport: s.transport,
		Rewrite: func(r *httputil.ProxyRequest) {
			r.Out.URL.Scheme = scheme
			r.Out.URL.Host = node
			r.Out.URL.Path = path
			r.Out.URL.RawPath = ""
			if passHost == "node" {
				r.Out.Host = node
			}
			for k, v := range setHeaders {
				r.Out.Header.Set(k, v)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.logger.Warn("Upstream request failed", zap.String("route", route.ID), zap.String("node", node), zap.Error(err))
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	proxy.ServeHTTP(c.Writer, c.Request)
}

// pickNode returns the heaviest node, breaking ties by address.
func pickNode(u *api.Upstream) string {
	if u == nil || len(u.Nodes) == 0 {
		return ""
	}
	nodes := make([]string, 0, len(u.Nodes))
	for n := range u.Nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if u.Nodes[nodes[i]] != u.Nodes[nodes[j]] {
			return u.Nodes[nodes[i]] > u.Nodes[nodes[j]]
		}
		return nodes[i] < nodes[j]
	})
	return nodes[0]
}
