package rest

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nikilm-offx/TNEA-Insight/internal/common"
)

var errorStatuses = []struct {
	err    error
	status int
}{
	{common.ErrorNotFound, http.StatusNotFound},
	{common.ErrCsrfValidationFailed, http.StatusForbidden},
	{common.ErrMissingParameters, http.StatusBadRequest},
	{common.ErrInvalidPolicy, http.StatusBadRequest},
	{common.ErrorIncorrectPayload, http.StatusBadRequest},
	{common.ErrorUnauthorized, http.StatusUnauthorized},
	{common.ErrNoUsableToken, http.StatusUnauthorized},
	{common.ErrInvalidTransition, http.StatusConflict},
	{common.ErrVersionConflict, http.StatusConflict},
	{common.ErrIntegrityMismatch, http.StatusConflict},
	{common.ErrRetrievalFailed, http.StatusBadGateway},
	{common.ErrProviderUnavailable, http.StatusBadGateway},
	{common.ErrCredentialsNotConfigured, http.StatusServiceUnavailable},
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) (int, string) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			return e.status, e.err.Error()
		}
	}
	return http.StatusInternalServerError, common.ErrorInternal.Error()
}

// errorHandler is installed as echo's HTTPErrorHandler. Raw error text of
// unmapped errors never reaches the client.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		_ = c.JSON(he.Code, echo.Map{"error": msg})
		return
	}

	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(c.Request().Context(), "request failed", "path", c.Request().URL.Path, "error", err)
	}
	_ = c.JSON(status, echo.Map{"error": msg})
}
