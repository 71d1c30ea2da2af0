package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ErrorResponse is the JSON body written for failed requests.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// HTTPErrorHandler renders *Error values with their mapped status code and
// falls back to echo's own handling for *echo.HTTPError.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		rid, _ := c.Get("request_id").(string)

		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg, ok := he.Message.(string)
			if !ok {
				msg = http.StatusText(he.Code)
			}
			writeError(c, he.Code, ErrorResponse{Error: http.StatusText(he.Code), Message: msg, RequestID: rid})
			return
		}

		status := HTTPStatus(err)
		kind := KindOf(err)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			logger.Error().Err(err).Str("request_id", rid).Msg("internal error")
			if kind == "" {
				kind = KindPersistence
			}
			msg = "internal server error"
		}
		writeError(c, status, ErrorResponse{Error: string(kind), Message: msg, RequestID: rid})
	}
}

func writeError(c echo.Context, status int, body ErrorResponse) {
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, body)
}
