package middleware

import (
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"
)

const (
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"
)

// LoggerMiddleware logs one line per request and tags it with a request id,
// reusing the caller's X-Request-ID when present.
func LoggerMiddleware() ginext.HandlerFunc {
	return func(c *ginext.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(requestIDHeader, requestID)

		c.Next()

		status := c.Writer.Status()
		event := zlog.Logger.Info()
		if status >= 500 {
			event = zlog.Logger.Error()
		} else if status >= 400 {
			event = zlog.Logger.Warn()
		}

		event.
			Str("request_id", requestID).
			Str("method", method).
			Str("path", path).
			Str("query", c.Request.URL.RawQuery).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}
