package mw

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger logs one line per request. Server errors log at error level,
// client errors at warn and everything else at debug.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := zerolog.DebugLevel
		switch {
		case status >= 500:
			level = zerolog.ErrorLevel
		case status >= 400:
			level = zerolog.WarnLevel
		}

		log.WithLevel(level).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Str("client_ip", c.ClientIP()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	}
}
