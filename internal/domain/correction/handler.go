package correction

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/mortuary/internal/platform/apperr"
	"github.com/ehr/mortuary/internal/platform/auth"
	"github.com/ehr/mortuary/pkg/pagination"
)

// Handler serves the read side of correction requests. Resolution changes
// the case state and is routed through the case controller.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleNurse, auth.RoleGuard, auth.RoleGuardSupervisor))
	read.GET("/corrections", h.ListCorrections)
	read.GET("/corrections/:id", h.GetCorrection)
}

// ListCorrections lists pending requests with their SLA alert flags.
// Optional ?case_id= returns every request for one case instead.
func (h *Handler) ListCorrections(c echo.Context) error {
	ctx := c.Request().Context()
	now := time.Now().UTC()

	if raw := c.QueryParam("case_id"); raw != "" {
		caseID, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid case_id")
		}
		views, err := h.svc.ListByCase(ctx, caseID, now)
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(http.StatusOK, views)
	}

	if status := c.QueryParam("status"); status != "" && status != string(StatusPending) {
		return echo.NewHTTPError(http.StatusBadRequest, "status must be pending")
	}
	pg := pagination.FromContext(c)
	views, total, err := h.svc.ListPending(ctx, now, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) GetCorrection(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	v, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}
