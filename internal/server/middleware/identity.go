package middleware

import "github.com/gin-gonic/gin"

// ContextKeyRouteID is set by the proxy once a route matched.
const ContextKeyRouteID = "route_id"

// Identity stamps the Server header the way the real gateway does, e.g.
// "APISIX/3.9.1". Clients read the version from it.
func Identity(server string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if server != "" {
			c.Header("Server", server)
		}
		c.Next()
	}
}
