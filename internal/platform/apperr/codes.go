// Package apperr provides the typed error taxonomy shared by the mortuary
// domain packages and its mapping onto HTTP status codes.
package apperr

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Validation errors
	CodeValidation                 Code = "VALIDATION_FAILED"
	CodeObservationsTooShort       Code = "MANUAL_RELEASE_OBSERVATIONS_TOO_SHORT"
	CodeResolutionDescriptionEmpty Code = "RESOLUTION_DESCRIPTION_REQUIRED"

	// Guard violations
	CodeInvalidTransition         Code = "INVALID_TRANSITION"
	CodeTrayUnavailable           Code = "TRAY_UNAVAILABLE"
	CodeTrayNotOccupied           Code = "TRAY_NOT_OCCUPIED"
	CodeTrayOccupied              Code = "TRAY_OCCUPIED"
	CodeTrayCodeTaken             Code = "TRAY_CODE_TAKEN"
	CodeCaseAlreadyAssigned       Code = "CASE_ALREADY_ASSIGNED"
	CodeCaseAlreadyOpen           Code = "CASE_ALREADY_OPEN"
	CodeCorrectionAlreadyPending  Code = "CORRECTION_ALREADY_PENDING"
	CodeCorrectionAlreadyResolved Code = "CORRECTION_ALREADY_RESOLVED"
	CodeBlockedByHold             Code = "BLOCKED_BY_HOLD"
	CodeInvalidOrExpiredCode      Code = "INVALID_OR_EXPIRED_CODE"
	CodeNoTrayAvailable           Code = "NO_TRAY_AVAILABLE"

	// Not found
	CodeCaseNotFound       Code = "CASE_NOT_FOUND"
	CodeTrayNotFound       Code = "TRAY_NOT_FOUND"
	CodeCorrectionNotFound Code = "CORRECTION_NOT_FOUND"

	// Authorization
	CodeForbidden Code = "FORBIDDEN"

	// External dependencies
	CodeDependencyUnavailable Code = "DEPENDENCY_UNAVAILABLE"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation,
		CodeResolutionDescriptionEmpty:
		return http.StatusBadRequest

	case CodeObservationsTooShort:
		return http.StatusUnprocessableEntity

	case CodeInvalidTransition,
		CodeTrayUnavailable,
		CodeTrayNotOccupied,
		CodeTrayOccupied,
		CodeTrayCodeTaken,
		CodeCaseAlreadyAssigned,
		CodeCaseAlreadyOpen,
		CodeCorrectionAlreadyPending,
		CodeCorrectionAlreadyResolved,
		CodeBlockedByHold,
		CodeInvalidOrExpiredCode,
		CodeNoTrayAvailable:
		return http.StatusConflict

	case CodeCaseNotFound,
		CodeTrayNotFound,
		CodeCorrectionNotFound:
		return http.StatusNotFound

	case CodeForbidden:
		return http.StatusForbidden

	case CodeDependencyUnavailable:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a caller may retry the same request unchanged.
func (c Code) Retryable() bool {
	return c == CodeDependencyUnavailable
}
