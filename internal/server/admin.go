package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/gatewayctl/internal/server/middleware"
	"github.com/nulzo/gatewayctl/internal/server/validator"
	"github.com/nulzo/gatewayctl/pkg/api"
)

var (
	objectIDPattern = regexp.MustCompile(`^[a-zA-Z0-9-_.]{1,64}$`)
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_\-]+$`)
)

// pluginSchemas are the plugins the simulator knows. Anything else is
// rejected on PUT, like an unloaded plugin on the real gateway.
var pluginSchemas = map[string]gin.H{
	api.PluginKeyAuth: {
		"type": "object",
		"properties": gin.H{
			"header":           gin.H{"type": "string", "default": "apikey"},
			"query":            gin.H{"type": "string", "default": "apikey"},
			"hide_credentials": gin.H{"type": "boolean", "default": false},
		},
	},
	api.PluginProxyRewrite: {
		"type": "object",
		"properties": gin.H{
			"uri":       gin.H{"type": "string"},
			"regex_uri": gin.H{"type": "array", "minItems": 2, "maxItems": 2},
			"headers":   gin.H{"type": "object"},
		},
	},
}

type routeInput struct {
	Name     string                     `json:"name"`
	URI      string                     `json:"uri" binding:"required,startswith=/"`
	Methods  []string                   `json:"methods" binding:"omitempty,dive,oneof=GET POST PUT DELETE PATCH HEAD OPTIONS"`
	Status   *int                       `json:"status" binding:"omitempty,oneof=0 1"`
	Labels   map[string]string          `json:"labels"`
	Upstream *api.Upstream              `json:"upstream"`
	Plugins  map[string]json.RawMessage `json:"plugins"`
}

type consumerInput struct {
	Username string                     `json:"username"`
	Desc     string                     `json:"desc"`
	Plugins  map[string]json.RawMessage `json:"plugins"`
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, api.ErrorResponse{Message: "Key not found"})
}

func (s *Server) listRoutes(c *gin.Context) {
	label := ""
	if s.labels {
		label = c.Query("label")
	}
	routes := s.store.Routes(label)
	if len(routes) == 0 {
		// the real control plane encodes an empty list as an object
		c.JSON(http.StatusOK, gin.H{"total": 0, "list": gin.H{}})
		return
	}

	list := api.List[api.Route]{Total: len(routes)}
	for _, r := range routes {
		list.List = append(list.List, api.Item[api.Route]{Key: "/apisix/routes/" + r.ID, Value: r})
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getRoute(c *gin.Context) {
	id := c.Param("id")
	r, ok := s.store.Route(id)
	if !ok {
		notFound(c)
		return
	}
	c.JSON(http.StatusOK, api.Item[api.Route]{Key: "/apisix/routes/" + id, Value: r})
}

func (s *Server) putRoute(c *gin.Context) {
	id := c.Param("id")
	if !objectIDPattern.MatchString(id) {
		_ = c.Error(middleware.NewStatusError(http.StatusBadRequest, `invalid configuration: property "id" validation failed`))
		return
	}

	var in routeInput
	if err := c.ShouldBindJSON(&in); err != nil {
		_ = c.Error(middleware.NewStatusError(http.StatusBadRequest, validator.Summary(err)))
		return
	}
	if err := checkPlugins(in.Plugins); err != nil {
		_ = c.Error(middleware.NewStatusError(http.StatusBadRequest, err.Error()))
		return
	}

	stored, created := s.store.PutRoute(id, api.Route{
		Name:     in.Name,
		URI:      in.URI,
		Methods:  in.Methods,
		Status:   in.Status,
		Labels:   in.Labels,
		Upstream: in.Upstream,
		Plugins:  in.Plugins,
	})

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, api.Item[api.Route]{Key: "/apisix/routes/" + id, Value: stored})
}

func (s *Server) deleteRoute(c *gin.Context) {
	id := c.Param("id")
	if !s.store.DeleteRoute(id) {
		notFound(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": "1", "key": "/apisix/routes/" + id})
}

func (s *Server) getConsumer(c *gin.Context) {
	username := c.Param("username")
	consumer, ok := s.store.Consumer(username)
	if !ok {
		notFound(c)
		return
	}
	c.JSON(http.StatusOK, api.Item[api.Consumer]{Key: "/apisix/consumers/" + username, Value: consumer})
}

func (s *Server) putConsumer(c *gin.Context) {
	var in consumerInput
	if err := c.ShouldBindJSON(&in); err != nil {
		_ = c.Error(middleware.NewStatusError(http.StatusBadRequest, validator.Summary(err)))
		return
	}
	if p := c.Param("username"); p != "" {
		if in.Username != "" && in.Username != p {
			_ = c.Error(middleware.NewStatusError(http.StatusBadRequest, "wrong username"))
			return
		}
		in.Username = p
	}
	if !usernamePattern.MatchString(in.Username) {
		_ = c.Error(middleware.NewStatusError(http.StatusBadRequest, `invalid configuration: property "username" validation failed`))
		return
	}
	if err := checkPlugins(in.Plugins); err != nil {
		_ = c.Error(middleware.NewStatusError(http.StatusBadRequest, err.Error()))
		return
	}

	consumer := api.Consumer{Username: in.Username, Desc: in.Desc, Plugins: in.Plugins}
	if consumer.HasPlugin(api.PluginKeyAuth) && consumer.Key() == "" {
		_ = c.Error(middleware.NewStatusError(http.StatusBadRequest, `failed to check the configuration of plugin key-auth err: property "key" is required`))
		return
	}

	status := http.StatusOK
	if s.store.PutConsumer(consumer) {
		status = http.StatusCreated
	}
	c.JSON(status, api.Item[api.Consumer]{Key: "/apisix/consumers/" + consumer.Username, Value: consumer})
}

func (s *Server) deleteConsumer(c *gin.Context) {
	username := c.Param("username")
	if !s.store.DeleteConsumer(username) {
		notFound(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": "1", "key": "/apisix/consumers/" + username})
}

func (s *Server) getPlugin(c *gin.Context) {
	schema, ok := pluginSchemas[c.Param("name")]
	if !ok {
		_ = c.Error(middleware.NewStatusError(http.StatusNotFound, "plugin not found"))
		return
	}
	c.JSON(http.StatusOK, schema)
}

func checkPlugins(plugins map[string]json.RawMessage) error {
	names := make([]string, 0, len(plugins))
	for name := range plugins {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, ok := pluginSchemas[name]; !ok {
			return fmt.Errorf("unknown plugin [%s]", name)
		}
		if name != api.PluginProxyRewrite {
			continue
		}
		var pr api.ProxyRewrite
		if err := json.Unmarshal(plugins[name], &pr); err != nil {
			return fmt.Errorf("failed to check the configuration of plugin proxy-rewrite err: %v", err)
		}
		if n := len(pr.RegexURI); n != 0 && n != 2 {
			return fmt.Errorf("failed to check the configuration of plugin proxy-rewrite err: regex_uri needs a pattern and a replacement")
		}
		if len(pr.RegexURI) == 2 {
			if _, err := regexp.Compile(pr.RegexURI[0]); err != nil {
				return fmt.Errorf("invalid regex_uri %q: %v", pr.RegexURI[0], err)
			}
		}
	}
	return nil
}
