package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/anonto42/nearme/backend/internal/models"
	"github.com/anonto42/nearme/backend/internal/repositories"
	"github.com/anonto42/nearme/backend/internal/services"
	"github.com/anonto42/nearme/backend/pkg/errs"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// ProfileHandler handles HTTP requests related to profiles
type ProfileHandler struct {
	profiles repositories.ProfileRepository
	names    *services.NameResolver
}

func NewProfileHandler(profiles repositories.ProfileRepository, names *services.NameResolver) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, names: names}
}

// RegisterProfileRoutes registers profile-related routes
func (h *ProfileHandler) RegisterProfileRoutes(g *echo.Group) {
	g.GET("/profile", h.GetProfile)
	g.PUT("/profile", h.UpdateProfile)
	g.DELETE("/profile", h.DeleteProfile)
	g.GET("/users/search", h.SearchProfiles)
	g.GET("/users/:id", h.GetUser)
}

func profileError(err error, uid string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.New(errs.CodeNotFound, "profile "+uid)
	}
	return errs.Wrap(errs.CodeServerError, err, "profile "+uid)
}

func (h *ProfileHandler) GetUser(c echo.Context) error {
	uid := c.Param("id")
	profile, err := h.profiles.GetProfileByUID(uid)
	if err != nil {
		return profileError(err, uid)
	}
	return c.JSON(http.StatusOK, profile.ToCompact())
}

// GetProfile retrieves the authenticated user's profile
func (h *ProfileHandler) GetProfile(c echo.Context) error {
	uid, err := requireUserID(c)
	if err != nil {
		return err
	}
	profile, err := h.profiles.GetProfileByUID(uid)
	if err != nil {
		return profileError(err, uid)
	}
	return c.JSON(http.StatusOK, profile)
}

// UpdateProfile updates the authenticated user's profile
func (h *ProfileHandler) UpdateProfile(c echo.Context) error {
	uid, err := requireUserID(c)
	if err != nil {
		return err
	}

	var req models.UpdateProfileRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	profile, err := h.profiles.GetProfileByUID(uid)
	if err != nil {
		return profileError(err, uid)
	}
	if req.DisplayName != "" {
		profile.DisplayName = strings.TrimSpace(req.DisplayName)
	}
	if req.Headline != "" {
		profile.Headline = strings.TrimSpace(req.Headline)
	}
	if err := h.profiles.UpdateProfile(profile); err != nil {
		return profileError(err, uid)
	}
	h.names.Forget(uid)

	return c.JSON(http.StatusOK, profile)
}

// DeleteProfile deletes the authenticated user's profile
func (h *ProfileHandler) DeleteProfile(c echo.Context) error {
	uid, err := requireUserID(c)
	if err != nil {
		return err
	}
	if err := h.profiles.DeleteProfile(uid); err != nil {
		return profileError(err, uid)
	}
	h.names.Forget(uid)
	return c.NoContent(http.StatusNoContent)
}

// SearchProfiles searches profiles by display name or email
func (h *ProfileHandler) SearchProfiles(c echo.Context) error {
	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		return errs.New(errs.CodeRequiredField, "q")
	}

	profiles, err := h.profiles.SearchProfiles(query, queryInt(c, "limit", 20, 50))
	if err != nil {
		return errs.Wrap(errs.CodeServerError, err, "search profiles")
	}

	out := make([]models.ProfileCompact, 0, len(profiles))
	for i := range profiles {
		out = append(out, profiles[i].ToCompact())
	}
	return c.JSON(http.StatusOK, out)
}
