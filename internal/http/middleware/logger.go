package middleware

import (
	"time"

	"ticketbackend/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Logger writes one structured access line per request.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		status := c.Writer.Status()
		entry := utils.Log(GetRequestID(c), "http").WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency_ms": float64(latency.Microseconds()) / 1000.0,
			"ip":         c.ClientIP(),
		})
		if uid := c.GetInt64(userIDKey); uid > 0 {
			entry = entry.WithField("user_id", uid)
		}
		switch {
		case status >= 500:
			entry.Error("[HTTP]")
		case status >= 400:
			entry.Warn("[HTTP]")
		default:
			entry.Info("[HTTP]")
		}
	}
}
