package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/stratum/internal/status"
)

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeError(c *echo.Context, code int, errType, msg, param, kind string) error {
	return c.JSON(code, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    kind,
			Param:   param,
		},
	})
}

// writeErr reports err with the status its taxonomy class maps to. A
// strategy rejection also names the strategy.
func writeErr(c *echo.Context, err error) error {
	code, errType := httpStatus(err)
	if errors.Is(err, ErrInvalidRequest) {
		return writeBadRequest(c, err.Error())
	}
	body := ResponseError{
		Message: status.Reason(err),
		Type:    errType,
		Code:    status.Kind(err),
	}
	var ve *status.ValidationError
	if errors.As(err, &ve) {
		body.Strategy = ve.Strategy
	}
	return c.JSON(code, map[string]any{"error": body})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	if r == nil {
		return out, errors.New("empty request body")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return out, errors.New("empty request body")
		}
		return out, err
	}
	return out, nil
}
