package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
)

// UserIDHeader carries the authenticated user identity, attached by the
// upstream gateway that terminates sessions. This service trusts it as-is.
const UserIDHeader = "X-User-ID"

// UserMiddleware copies the gateway-attached user identity into gin.Context
// (key: "userID") and the request context (key: "user_id") so handlers and
// loggers see the same value.
func UserMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID := c.GetHeader(UserIDHeader); userID != "" {
			c.Set("userID", userID)
			ctx := context.WithValue(c.Request.Context(), "user_id", userID)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

// UserID returns the authenticated user for the request, or "" when the
// gateway attached none.
func UserID(c *gin.Context) string {
	return c.GetString("userID")
}
