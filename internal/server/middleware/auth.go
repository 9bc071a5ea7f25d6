package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/gatewayctl/pkg/api"
)

// HeaderAdminKey carries the admin key on control-plane requests.
const HeaderAdminKey = "X-API-KEY"

// AdminKey rejects admin requests that do not carry the configured key. An
// empty key disables the check.
func AdminKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}

		got := c.GetHeader(HeaderAdminKey)
		if got == "" {
			got = c.Query("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, api.ErrorResponse{Message: "failed to check token"})
			return
		}

		c.Next()
	}
}
