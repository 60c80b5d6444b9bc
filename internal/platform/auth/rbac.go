package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/mortuary/internal/platform/apperr"
)

// RequireRole guards a route group. Anonymous requests get 401; an actor
// holding none of roles gets the FORBIDDEN envelope.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor := ActorFromContext(c.Request().Context())
			if strings.TrimSpace(actor.ID) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if err := actor.Require(roles...); err != nil {
				return apperr.HTTPError(err)
			}
			return next(c)
		}
	}
}
