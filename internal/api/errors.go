package api

import (
	"errors"
	"net/http"

	"github.com/samcharles93/stratum/internal/status"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// httpStatus maps an error to its response code and error type. Requests
// no strategy covers are well formed but cannot be served, hence 422.
func httpStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, status.ErrUnsupported):
		return http.StatusUnprocessableEntity, "unsupported_error"
	case errors.Is(err, status.ErrConfiguration):
		return http.StatusBadRequest, "configuration_error"
	case errors.Is(err, status.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}
