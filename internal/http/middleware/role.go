package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequireRoles only lets through callers whose role is in allowedRoles.
// RequireAuth must run first.
func RequireRoles(allowedRoles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, r := range allowedRoles {
		allowed[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
	}

	return func(c *gin.Context) {
		role := strings.ToLower(strings.TrimSpace(c.GetString(userRoleKey)))
		if role == "" {
			abortJSON(c, http.StatusUnauthorized, "unauthenticated", "no role on request")
			return
		}
		if _, ok := allowed[role]; !ok {
			abortJSON(c, http.StatusForbidden, "not_authorized", "role not allowed")
			return
		}
		c.Next()
	}
}
