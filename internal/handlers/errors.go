package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/anonto42/nearme/backend/pkg/errs"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func codeForHTTPStatus(status int) errs.Code {
	switch status {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType:
		return errs.CodeInvalidInput
	case http.StatusUnauthorized:
		return errs.CodeUnauthenticated
	case http.StatusForbidden:
		return errs.CodePermissionDenied
	case http.StatusNotFound:
		return errs.CodeNotFound
	case http.StatusServiceUnavailable:
		return errs.CodeServerError
	}
	return errs.CodeUnknown
}

// HTTPErrorHandler renders every error as an errs.Alert. Coded errors pick
// their status from the code; echo's own errors keep theirs.
func HTTPErrorHandler(log *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var (
			alert  errs.Alert
			status int
			he     *echo.HTTPError
		)
		if errors.As(err, &he) && errs.CodeOf(err) == errs.CodeUnknown {
			status = he.Code
			alert = errs.AlertOf(errs.New(codeForHTTPStatus(he.Code), fmt.Sprint(he.Message)))
		} else {
			alert = errs.AlertOf(err)
			status = errs.HTTPStatus(alert.Code)
		}

		if status >= http.StatusInternalServerError {
			log.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Int("status", status),
				zap.Error(err),
			)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, alert)
		}
		if err != nil {
			log.Warn("writing error response failed", zap.Error(err))
		}
	}
}
