package organizations

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/deevents/backend/internal/middleware"
	"github.com/deevents/backend/pkg/response"
)

// ContextAccess is the context key for the caller's *Access.
const ContextAccess = "organization_access"

// RequireAccess resolves the organization in the :id path parameter together
// with the caller's membership. Call after JWT. Whether the caller may act is
// decided per operation by the service.
func RequireAccess(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			response.BadRequest(c, "invalid organization id")
			c.Abort()
			return
		}
		acc, err := svc.Resolve(c.Request.Context(), orgID, middleware.UserID(c))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		c.Set(ContextAccess, acc)
		c.Next()
	}
}

// AccessFrom returns the access resolved by RequireAccess.
func AccessFrom(c *gin.Context) *Access {
	acc, _ := c.Get(ContextAccess)
	a, _ := acc.(*Access)
	return a
}
