package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Body is the JSON error envelope returned by HTTP handlers.
type Body struct {
	Code      Code              `json:"code"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Details   []string          `json:"details,omitempty"`
}

// HTTPError translates err into an *echo.HTTPError. Domain errors keep their
// code and message; anything else becomes an opaque 500.
func HTTPError(err error) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	var e *Error
	if !errors.As(err, &e) {
		return echo.NewHTTPError(http.StatusInternalServerError, Body{
			Code:    CodeUnknown,
			Message: "internal server error",
		}).SetInternal(err)
	}
	return echo.NewHTTPError(e.Code.HTTPStatus(), Body{
		Code:      e.Code,
		Message:   e.Message,
		Retryable: e.Code.Retryable(),
		Metadata:  e.Metadata,
		Details:   e.Details,
	}).SetInternal(err)
}
