package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// LogApi writes one structured line per request. WebSocket upgrades are
// logged when the handler returns, which is right after the upgrade.
func LogApi(logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "http").Logger()

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}
		if msg := c.Errors.ByType(gin.ErrorTypeAny).String(); msg != "" {
			event = event.Str("error", msg)
		}
		event.
			Str("clientIP", c.ClientIP()).
			Int("status", status).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("userAgent", c.Request.UserAgent()).
			Dur("latency", time.Since(start)).
			Str("proto", c.Request.Proto).
			Msg("request")
	}
}
