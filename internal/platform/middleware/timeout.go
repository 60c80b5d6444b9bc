package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/mortuary/internal/platform/apperr"
)

// RequestTimeout puts a deadline on the request context. Handlers pass that
// context down to the database and hold sources, so a slow dependency fails
// the request with 503 instead of holding the connection.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 || c.Path() == "/metrics" {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Response().Committed {
				return c.JSON(http.StatusServiceUnavailable, apperr.Body{
					Code:      apperr.CodeDependencyUnavailable,
					Message:   "request processing exceeded the allowed time limit",
					Retryable: true,
				})
			}
			return err
		}
	}
}
