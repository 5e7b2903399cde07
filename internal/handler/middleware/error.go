package middleware

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/batchflow/internal/dto"
)

// ErrorHandlerMiddleware turns a handler panic into a JSON 500 so one bad
// request never takes the API process down.
func ErrorHandlerMiddleware() ginext.HandlerFunc {
	return func(c *ginext.Context) {
		defer func() {
			if err := recover(); err != nil {
				zlog.Logger.Error().
					Interface("error", err).
					Str("method", c.Request.Method).
					Str("path", c.Request.URL.Path).
					Str("request_id", c.GetString(requestIDKey)).
					Msg("panic recovered")

				c.AbortWithStatusJSON(http.StatusInternalServerError, dto.ErrorResponse{
					Error:   "internal_error",
					Message: "An internal error occurred",
					Code:    http.StatusInternalServerError,
				})
			}
		}()

		c.Next()
	}
}
