package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	statusWarnThreshold  = 400
	statusErrorThreshold = 500
)

// quietPaths are polled continuously and only logged at debug level.
var quietPaths = map[string]struct{}{
	"/metrics":               {},
	"/api/v1/uploads":        {},
	"/api/v1/uploads/events": {},
}

// ZerologLogger is a Gin middleware that logs requests using zerolog.
func ZerologLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		status := c.Writer.Status()
		var evt *zerolog.Event
		switch {
		case status >= statusErrorThreshold:
			evt = log.Error()
		case status >= statusWarnThreshold:
			evt = log.Warn()
		case method == "GET" && isQuiet(path):
			evt = log.Debug()
		default:
			evt = log.Info()
		}

		if id := c.Param("id"); id != "" {
			evt = evt.Str("upload_id", id)
		}
		evt.
			Int("status", status).
			Str("method", method).
			Str("path", path).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("http request completed")
	}
}

func isQuiet(path string) bool {
	_, ok := quietPaths[path]
	return ok
}
