package common

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"tidewater.systems/callintake/internal/bulkimport"
)

// ErrBadRequest returns a 400 Bad Request error.
func ErrBadRequest(msg string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}

// ErrNotFound returns a 404 Not Found error.
func ErrNotFound(msg string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusNotFound, msg)
}

// ErrUnauthorized returns a 401 Unauthorized error.
func ErrUnauthorized() *echo.HTTPError {
	return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
}

// ErrConflict returns a 409 Conflict error.
func ErrConflict(msg string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusConflict, msg)
}

// ErrInternal returns a 500 Internal Server Error.
func ErrInternal(msg string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusInternalServerError, msg)
}

// MapDomainError translates store/domain errors into HTTP errors so handlers
// stay free of status-code case switches.
func MapDomainError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bulkimport.ErrNotFound):
		return ErrNotFound("not found")
	case errors.Is(err, bulkimport.ErrConflict):
		return ErrConflict(err.Error())
	case errors.Is(err, bulkimport.ErrValidation):
		return ErrBadRequest(err.Error())
	case errors.Is(err, bulkimport.ErrUnauthorized):
		return ErrUnauthorized()
	default:
		slog.Error("unexpected error in handler", "error", err)
		return ErrInternal("internal error")
	}
}
