package utils

import (
	"errors"
	"net/http"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrDeactivated         = errors.New("session deactivated")
	ErrUpstreamUnavailable = errors.New("storage unavailable")
	ErrNoPermission        = errors.New("you do not have permission")
)

// StatusFor maps an error from the service layer to the HTTP status the API answers with.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrDeactivated):
		// 410 lets the customer app tell "code no longer valid" apart from "code does not exist".
		return http.StatusGone
	case errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrNoPermission):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
