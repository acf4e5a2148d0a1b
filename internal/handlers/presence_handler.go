package handlers

import (
	"net/http"
	"strings"

	"github.com/anonto42/nearme/backend/internal/models"
	"github.com/anonto42/nearme/backend/internal/repositories"
	"github.com/anonto42/nearme/backend/internal/services"
	"github.com/labstack/echo/v4"
)

// PresenceHandler manages the caller's visibility and the nearby feed.
type PresenceHandler struct {
	presence repositories.PresenceRepository
	svc      *services.ConnectionService
	names    *services.NameResolver
}

func NewPresenceHandler(presence repositories.PresenceRepository, svc *services.ConnectionService, names *services.NameResolver) *PresenceHandler {
	return &PresenceHandler{presence: presence, svc: svc, names: names}
}

func (h *PresenceHandler) RegisterPresenceRoutes(g *echo.Group) {
	g.PUT("/presence", h.UpdatePresence)
	g.GET("/presence/nearby", h.Nearby)
	g.DELETE("/presence", h.RemovePresence)
}

func (h *PresenceHandler) UpdatePresence(c echo.Context) error {
	uid, err := requireUserID(c)
	if err != nil {
		return err
	}
	var req models.UpdatePresenceRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		name = h.names.DisplayName(ctx, uid)
	}

	p, err := h.presence.UpdatePresence(ctx, uid, name, *req.IsVisible)
	if err != nil {
		return err
	}
	if req.Latitude != nil && req.Longitude != nil {
		loc := models.Location{Latitude: *req.Latitude, Longitude: *req.Longitude}
		if req.Accuracy != nil {
			loc.Accuracy = *req.Accuracy
		}
		if err := h.presence.UpdateLocation(ctx, uid, loc); err != nil {
			return err
		}
		p.Location = &loc
	}
	return c.JSON(http.StatusOK, p)
}

// Nearby lists visible users, newest first, each annotated with the caller's
// active connection to them.
func (h *PresenceHandler) Nearby(c echo.Context) error {
	uid, err := requireUserID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	users, err := h.presence.NearbyUsers(ctx, uid, queryInt(c, "limit", repositories.DefaultNearbyLimit, repositories.MaxNearbyLimit))
	if err != nil {
		return err
	}
	conns, err := h.svc.ListConnections(ctx, uid)
	if err != nil {
		return err
	}

	byUser := make(map[string]models.Connection, len(conns))
	for _, conn := range conns {
		other := conn.Other(uid)
		if _, seen := byUser[other]; !seen {
			byUser[other] = conn
		}
	}

	out := make([]models.NearbyUser, 0, len(users))
	for _, p := range users {
		nu := models.NearbyUser{Presence: p}
		if conn, ok := byUser[p.UserID]; ok {
			nu.ConnectionStatus = conn.Status
			nu.ConnectionID = conn.ID
		}
		out = append(out, nu)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *PresenceHandler) RemovePresence(c echo.Context) error {
	uid, err := requireUserID(c)
	if err != nil {
		return err
	}
	if err := h.presence.RemovePresence(c.Request().Context(), uid); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
