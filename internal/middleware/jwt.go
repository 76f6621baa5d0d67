package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/deevents/backend/pkg/response"
)

const (
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = "user_id"
	// ContextIsStaff is the key for the staff flag in gin context.
	ContextIsStaff = "is_staff"
)

// SessionValidator checks an access token and returns its subject.
type SessionValidator interface {
	ValidateSession(token string) (userID uuid.UUID, isStaff bool, err error)
}

// JWT returns a middleware that validates the bearer token and sets user claims in context.
func JWT(sessions SessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		userID, isStaff, err := sessions.ValidateSession(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextUserID, userID)
		c.Set(ContextIsStaff, isStaff)
		c.Next()
	}
}

// UserID returns the authenticated user id set by JWT.
func UserID(c *gin.Context) uuid.UUID {
	return c.MustGet(ContextUserID).(uuid.UUID)
}
