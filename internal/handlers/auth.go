package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/anonto42/nearme/backend/internal/middleware"
	"github.com/anonto42/nearme/backend/internal/models"
	"github.com/anonto42/nearme/backend/internal/repositories"
	"github.com/anonto42/nearme/backend/internal/services"
	"github.com/anonto42/nearme/backend/pkg/errs"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const tokenLifetime = 72 * time.Hour

// AuthHandler issues local JWTs for email/password accounts and Firebase users.
type AuthHandler struct {
	profiles  repositories.ProfileRepository
	verifier  middleware.TokenVerifier
	jwtSecret string
	now       func() time.Time
}

// NewAuthHandler creates a new AuthHandler. verifier may be nil, which disables Firebase login.
func NewAuthHandler(profiles repositories.ProfileRepository, verifier middleware.TokenVerifier, jwtSecret string) *AuthHandler {
	return &AuthHandler{
		profiles:  profiles,
		verifier:  verifier,
		jwtSecret: jwtSecret,
		now:       time.Now,
	}
}

// RegisterAuthRoutes registers authentication-related routes
func (h *AuthHandler) RegisterAuthRoutes(g *echo.Group) {
	g.POST("/signup", h.Signup)
	g.POST("/signin", h.SignIn)
	g.POST("/firebase-login", h.FirebaseLogin)
}

type tokenResponse struct {
	Token   string                `json:"token"`
	Profile models.ProfileCompact `json:"profile"`
}

// Signup handles local registration with email and password
func (h *AuthHandler) Signup(c echo.Context) error {
	var req models.CreateLocalProfileRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	_, err := h.profiles.GetProfileByEmail(req.Email)
	if err == nil {
		return errs.New(errs.CodeEmailInUse, req.Email)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.Wrap(errs.CodeServerError, err, "profile lookup")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return errs.Wrap(errs.CodeServerError, err, "hash password")
	}

	profile := &models.Profile{
		UID:          uuid.NewString(),
		DisplayName:  req.DisplayName,
		Email:        req.Email,
		PasswordHash: string(hashed),
	}
	if err := h.profiles.CreateProfile(profile); err != nil {
		return errs.Wrap(errs.CodeServerError, err, "create profile")
	}

	return h.respondWithToken(c, http.StatusCreated, profile)
}

// SignIn authenticates a local account with email and password
func (h *AuthHandler) SignIn(c echo.Context) error {
	var req models.SignInRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	profile, err := h.profiles.GetProfileByEmail(req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.New(errs.CodeInvalidCredential, "no account for "+req.Email)
		}
		return errs.Wrap(errs.CodeServerError, err, "profile lookup")
	}
	if profile.PasswordHash == "" {
		return errs.New(errs.CodeInvalidCredential, "account has no password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(req.Password)); err != nil {
		return errs.New(errs.CodeInvalidCredential, "password mismatch")
	}

	return h.respondWithToken(c, http.StatusOK, profile)
}

// FirebaseLoginRequest defines the request body for Firebase login
type FirebaseLoginRequest struct {
	IDToken string `json:"idToken" validate:"required"`
}

// FirebaseLogin verifies a Firebase ID token and issues a local JWT. The
// profile uid is the Firebase uid, so connections keyed by it stay valid.
func (h *AuthHandler) FirebaseLogin(c echo.Context) error {
	if h.verifier == nil {
		return errs.New(errs.CodeServerError, "firebase login is not configured")
	}

	var req FirebaseLoginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	token, err := h.verifier.VerifyIDToken(c.Request().Context(), req.IDToken)
	if err != nil {
		return errs.Wrap(errs.CodeInvalidCredential, err, "firebase id token")
	}
	email, _ := token.Claims["email"].(string)
	name, _ := token.Claims["name"].(string)

	profile, err := h.profiles.GetProfileByUID(token.UID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if name == "" {
			name = services.FallbackName(token.UID)
		}
		profile = &models.Profile{UID: token.UID, DisplayName: name, Email: email}
		if err := h.profiles.CreateProfile(profile); err != nil {
			return errs.Wrap(errs.CodeServerError, err, "create profile")
		}
	case err != nil:
		return errs.Wrap(errs.CodeServerError, err, "profile lookup")
	default:
		changed := false
		if email != "" && email != profile.Email {
			profile.Email = email
			changed = true
		}
		if name != "" && name != profile.DisplayName {
			profile.DisplayName = name
			changed = true
		}
		if changed {
			if err := h.profiles.UpdateProfile(profile); err != nil {
				return errs.Wrap(errs.CodeServerError, err, "update profile")
			}
		}
	}

	return h.respondWithToken(c, http.StatusOK, profile)
}

func (h *AuthHandler) respondWithToken(c echo.Context, status int, profile *models.Profile) error {
	token, err := h.generateJWT(profile)
	if err != nil {
		return errs.Wrap(errs.CodeServerError, err, "sign token")
	}
	return c.JSON(status, tokenResponse{Token: token, Profile: profile.ToCompact()})
}

// generateJWT generates a JWT token for a given profile
func (h *AuthHandler) generateJWT(profile *models.Profile) (string, error) {
	now := h.now()
	claims := &models.JwtCustomClaims{
		UserID: profile.UID,
		Email:  profile.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   profile.UID,
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.jwtSecret))
}
