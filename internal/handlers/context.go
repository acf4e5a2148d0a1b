package handlers

import (
	"strconv"

	"github.com/anonto42/nearme/backend/internal/middleware"
	"github.com/anonto42/nearme/backend/internal/models"
	"github.com/anonto42/nearme/backend/pkg/errs"
	"github.com/labstack/echo/v4"
)

// getUserIDFromContext returns the authenticated user id, or "" outside the JWT group.
func getUserIDFromContext(c echo.Context) string {
	claims, ok := c.Get(middleware.UserContextKey).(*models.JwtCustomClaims)
	if !ok || claims == nil {
		return ""
	}
	return claims.UserID
}

func requireUserID(c echo.Context) (string, error) {
	uid := getUserIDFromContext(c)
	if uid == "" {
		return "", errs.New(errs.CodeUnauthenticated, "user not authenticated")
	}
	return uid, nil
}

func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return errs.Wrap(errs.CodeInvalidInput, err, "invalid request payload")
	}
	return c.Validate(req)
}

// queryInt reads a positive int query param, falling back to def and capping at max.
func queryInt(c echo.Context, name string, def, max int) int {
	n, err := strconv.Atoi(c.QueryParam(name))
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
