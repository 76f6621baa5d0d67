package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/deevents/backend/pkg/response"
)

// RequireStaff allows only platform staff. Call after JWT.
func RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(ContextIsStaff)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		if staff, _ := v.(bool); !staff {
			response.Forbidden(c, "staff access required")
			c.Abort()
			return
		}
		c.Next()
	}
}
