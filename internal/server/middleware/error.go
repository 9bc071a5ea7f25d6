package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/gatewayctl/pkg/api"
	"go.uber.org/zap"
)

// StatusError is attached to the gin context by handlers that want a
// specific status in the admin error envelope.
type StatusError struct {
	Status int
	Msg    string
}

func (e *StatusError) Error() string { return e.Msg }

func NewStatusError(status int, msg string) *StatusError {
	return &StatusError{Status: status, Msg: msg}
}

// ErrorHandler renders the last handler error as {"error_msg": ...}.
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			c.JSON(statusErr.Status, api.ErrorResponse{ErrorMsg: statusErr.Msg})
			c.Abort()
			return
		}

		logger.Error("Unhandled Error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{ErrorMsg: "internal server error"})
		c.Abort()
	}
}
