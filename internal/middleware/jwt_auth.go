package middleware

import (
	"errors"
	"strings"

	"github.com/anonto42/nearme/backend/internal/models"
	"github.com/anonto42/nearme/backend/pkg/errs"
	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

// UserContextKey is where the authenticated *models.JwtCustomClaims are stored.
const UserContextKey = "user"

// bearerToken reads "Authorization: Bearer <token>". Browsers cannot set
// headers on a WebSocket upgrade, so a token query parameter is accepted too.
func bearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if authHeader == "" {
		if t := c.QueryParam("token"); t != "" {
			return t, nil
		}
		return "", errs.New(errs.CodeUnauthenticated, "missing Authorization header")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
		return "", errs.New(errs.CodeUnauthenticated, "invalid Authorization header format")
	}
	return parts[1], nil
}

// ParseToken validates a locally issued HS256 token.
func ParseToken(tokenString, secret string) (*models.JwtCustomClaims, error) {
	claims := &models.JwtCustomClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.CodeUnauthenticated, err, "invalid token")
	}
	if !token.Valid || claims.UserID == "" {
		return nil, errs.New(errs.CodeUnauthenticated, "invalid token")
	}
	return claims, nil
}

// JWTAuthMiddleware checks for a valid local JWT and stores the claims under
// UserContextKey. When fallback is set, tokens that fail local validation are
// tried as Firebase ID tokens.
func JWTAuthMiddleware(secret string, fallback TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenString, err := bearerToken(c)
			if err != nil {
				return err
			}

			claims, err := ParseToken(tokenString, secret)
			if err != nil && fallback != nil {
				claims, err = claimsFromFirebase(c.Request().Context(), fallback, tokenString)
			}
			if err != nil {
				return err
			}

			c.Set(UserContextKey, claims)
			return next(c)
		}
	}
}
