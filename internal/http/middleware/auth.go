package middleware

import (
	"net/http"
	"strings"

	"ticketbackend/internal/auth"
	"ticketbackend/internal/domain"

	"github.com/gin-gonic/gin"
)

const (
	userIDKey   = "userID"
	userRoleKey = "userRole"
)

func abortJSON(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success":    false,
		"message":    message,
		"code":       code,
		"retryable":  false,
		"request_id": GetRequestID(c),
	})
}

// RequireAuth verifies the bearer token and stores the caller in the context.
func RequireAuth(tokens auth.Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			abortJSON(c, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
			return
		}
		claims, err := tokens.Parse(strings.TrimSpace(raw))
		if err != nil {
			abortJSON(c, http.StatusUnauthorized, "unauthenticated", "invalid or expired token")
			return
		}
		c.Set(userIDKey, claims.UserID)
		c.Set(userRoleKey, claims.Role)
		c.Next()
	}
}

// CurrentUser returns the authenticated caller set by RequireAuth.
func CurrentUser(c *gin.Context) domain.RequestContext {
	return domain.RequestContext{
		UserID: c.GetInt64(userIDKey),
		Role:   c.GetString(userRoleKey),
	}
}
