package tray

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/mortuary/internal/platform/apperr"
	"github.com/ehr/mortuary/internal/platform/auth"
)

// Handler serves tray administration and occupancy reads. Assignment and
// release move cases too and are routed through the case controller.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleNurse, auth.RoleGuard, auth.RoleGuardSupervisor))
	read.GET("/trays", h.ListTrays)
	read.GET("/trays/statistics", h.GetStatistics)
	read.GET("/trays/:id", h.GetTray)
	read.GET("/trays/:id/history", h.GetHistory)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/trays", h.CreateTray)
	admin.PUT("/trays/:id/state", h.SetState)
}

type createTrayRequest struct {
	Code  string `json:"code"`
	Notes string `json:"notes"`
}

func (h *Handler) CreateTray(c echo.Context) error {
	var req createTrayRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	t, err := h.svc.Create(ctx, req.Code, req.Notes, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTray(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, NewView(t, time.Now().UTC(), h.svc.Thresholds()))
}

func (h *Handler) ListTrays(c echo.Context) error {
	views, err := h.svc.ListWithOccupancy(c.Request().Context(), time.Now().UTC())
	if err != nil {
		return apperr.HTTPError(err)
	}
	if state := State(c.QueryParam("state")); state != "" {
		filtered := views[:0]
		for _, v := range views {
			if v.State == state {
				filtered = append(filtered, v)
			}
		}
		views = filtered
	}
	return c.JSON(http.StatusOK, views)
}

func (h *Handler) GetStatistics(c echo.Context) error {
	stats, err := h.svc.ComputeStatistics(c.Request().Context(), time.Now().UTC())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetHistory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.History(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

type setStateRequest struct {
	State State  `json:"state"`
	Notes string `json:"notes"`
}

func (h *Handler) SetState(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req setStateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	t, err := h.svc.SetState(ctx, id, req.State, req.Notes, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, t)
}
