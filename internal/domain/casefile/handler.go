package casefile

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/mortuary/internal/domain/verification"
	"github.com/ehr/mortuary/internal/platform/apperr"
	"github.com/ehr/mortuary/internal/platform/auth"
	"github.com/ehr/mortuary/pkg/pagination"
)

// Handler exposes every operation that moves a case: registration,
// custody, verification, correction resolution, tray assignment and
// release.
type Handler struct {
	ctrl *Controller
}

func NewHandler(ctrl *Controller) *Handler {
	return &Handler{ctrl: ctrl}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleNurse, auth.RoleGuard, auth.RoleAmbulanceTech, auth.RoleGuardSupervisor))
	read.GET("/cases", h.ListCases)
	read.GET("/cases/:id", h.GetCase)
	read.GET("/cases/:id/history", h.GetHistory)
	read.GET("/cases/:id/verifications", h.ListVerifications)
	read.GET("/cases/:id/transfers", h.ListTransfers)
	read.GET("/cases/:id/corrections", h.ListCorrections)

	nurse := api.Group("", auth.RequireRole(auth.RoleNurse))
	nurse.POST("/cases", h.RegisterCase)
	nurse.POST("/corrections/:id/resolve", h.ResolveCorrection)

	carriers := api.Group("", auth.RequireRole(auth.RoleGuard, auth.RoleAmbulanceTech, auth.RoleGuardSupervisor))
	carriers.POST("/custody/transfers", h.TransferCustody)

	guards := api.Group("", auth.RequireRole(auth.RoleGuard, auth.RoleGuardSupervisor))
	guards.POST("/cases/:id/verifications", h.RegisterVerification)
	guards.POST("/cases/:id/release", h.AttemptRelease)
	guards.POST("/trays/allocate", h.AllocateTray)
	guards.POST("/trays/:id/assign", h.AssignTray)
	guards.POST("/trays/:id/release", h.ReleaseTray)

	supervisors := api.Group("", auth.RequireRole(auth.RoleGuardSupervisor))
	supervisors.POST("/trays/:id/manual-release", h.ManualReleaseTray)
	supervisors.POST("/cases/:id/holds", h.PlaceHold)
	supervisors.DELETE("/cases/:id/holds", h.LiftHold)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) RegisterCase(c echo.Context) error {
	var in RegisterInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	created, err := h.ctrl.RegisterCase(ctx, in, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

// ListCases lists cases newest first, optionally filtered by ?state=.
// ?code= looks up a single case by its code instead.
func (h *Handler) ListCases(c echo.Context) error {
	ctx := c.Request().Context()
	if code := c.QueryParam("code"); code != "" {
		found, err := h.ctrl.GetCaseByCode(ctx, code)
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(http.StatusOK, pagination.NewResponse([]*Case{found}, 1, 1, 0))
	}
	pg := pagination.FromContext(c)
	items, total, err := h.ctrl.ListCases(ctx, State(c.QueryParam("state")), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) GetCase(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	found, err := h.ctrl.GetCase(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, found)
}

func (h *Handler) GetHistory(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.ctrl.History(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListVerifications(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.ctrl.ListVerificationAttempts(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListTransfers(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.ctrl.ListTransfers(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListCorrections(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.ctrl.ListCorrections(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

type transferRequest struct {
	Code string `json:"code"`
}

func (h *Handler) TransferCustody(c echo.Context) error {
	var req transferRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	out, err := h.ctrl.TransferCustody(ctx, req.Code, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) RegisterVerification(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var w verification.Wristband
	if err := c.Bind(&w); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	out, err := h.ctrl.RegisterVerification(ctx, id, w, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.HTTPError(err)
	}
	status := http.StatusCreated
	if out.Replayed {
		status = http.StatusOK
	}
	return c.JSON(status, out)
}

type resolveRequest struct {
	ResolutionDescription string `json:"resolution_description"`
	WristbandReprinted    bool   `json:"wristband_reprinted"`
}

func (h *Handler) ResolveCorrection(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	out, err := h.ctrl.ResolveCorrectionRequest(ctx, id, req.ResolutionDescription, req.WristbandReprinted, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}

type assignRequest struct {
	CaseID uuid.UUID `json:"case_id"`
	Notes  string    `json:"notes"`
}

func (h *Handler) AssignTray(c echo.Context) error {
	trayID, err := parseID(c)
	if err != nil {
		return err
	}
	return h.assign(c, &trayID)
}

// AllocateTray assigns the first available tray by code.
func (h *Handler) AllocateTray(c echo.Context) error {
	return h.assign(c, nil)
}

func (h *Handler) assign(c echo.Context, trayID *uuid.UUID) error {
	var req assignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.CaseID == uuid.Nil {
		return apperr.HTTPError(apperr.Validation("case_id is required"))
	}
	ctx := c.Request().Context()
	out, err := h.ctrl.AssignTray(ctx, trayID, req.CaseID, req.Notes, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}

type releaseTrayRequest struct {
	Notes string `json:"notes"`
}

func (h *Handler) ReleaseTray(c echo.Context) error {
	trayID, err := parseID(c)
	if err != nil {
		return err
	}
	var req releaseTrayRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	out, err := h.ctrl.ReleaseTray(ctx, trayID, req.Notes, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}

type manualReleaseRequest struct {
	Reason       string `json:"reason"`
	Observations string `json:"observations"`
}

func (h *Handler) ManualReleaseTray(c echo.Context) error {
	trayID, err := parseID(c)
	if err != nil {
		return err
	}
	var req manualReleaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	out, err := h.ctrl.ManualReleaseTray(ctx, trayID, req.Reason, req.Observations, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}

// AttemptRelease answers 200 with the released case, or 409
// BLOCKED_BY_HOLD listing the hold reasons in details.
func (h *Handler) AttemptRelease(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	out, err := h.ctrl.AttemptRelease(ctx, id, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}

type holdRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) PlaceHold(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req holdRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	out, err := h.ctrl.PlaceReleaseHold(ctx, id, req.Reason, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) LiftHold(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	out, err := h.ctrl.LiftReleaseHold(ctx, id, c.QueryParam("note"), auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}
