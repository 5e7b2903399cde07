package middleware

import (
	"net/http"
	"slices"

	"github.com/wb-go/wbf/ginext"
)

// CORSMiddleware allows the listed origins. An empty list or "*" allows any.
func CORSMiddleware(origins ...string) ginext.HandlerFunc {
	anyOrigin := len(origins) == 0 || slices.Contains(origins, "*")

	return func(c *ginext.Context) {
		h := c.Writer.Header()
		origin := c.GetHeader("Origin")
		switch {
		case anyOrigin:
			h.Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(origins, origin):
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, "+requestIDHeader)
		h.Set("Access-Control-Expose-Headers", requestIDHeader+", Content-Disposition")
		h.Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
