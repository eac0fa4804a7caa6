package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"globlept.co.uk/app/internal/shared/apperr"
)

func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// ErrorHandler renders the last error attached to the request. Client errors
// log at warn, everything else at error.
func ErrorHandler(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status := apperr.HTTPStatus(err)
		rid := GetRequestID(c)

		level := slog.LevelWarn
		if status >= 500 {
			level = slog.LevelError
		}
		l.LogAttrs(c.Request.Context(), level, "request_failed",
			slog.String("request_id", rid),
			slog.Int("status", status),
			slog.Any("err", err),
		)

		payload := gin.H{
			"error":      apperr.PublicMessage(err),
			"request_id": rid,
		}
		if ae, ok := apperr.As(err); ok {
			payload["code"] = string(ae.Kind)
			if len(ae.Fields) > 0 {
				payload["fields"] = ae.Fields
			}
			if ae.Kind == apperr.InvalidState {
				payload["current_status"] = ae.Current
				payload["allowed_transitions"] = ae.Allowed
			}
		} else {
			payload["code"] = string(apperr.Internal)
		}
		if apperr.Retryable(err) {
			payload["retryable"] = true
		}
		c.AbortWithStatusJSON(status, payload)
	}
}
