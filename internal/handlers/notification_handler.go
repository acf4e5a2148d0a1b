package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/anonto42/nearme/backend/internal/models"
	"github.com/anonto42/nearme/backend/internal/repositories"
	"github.com/anonto42/nearme/backend/internal/services"
	"github.com/anonto42/nearme/backend/pkg/errs"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// NotificationHandler handles notification-related HTTP requests
type NotificationHandler struct {
	notificationRepository repositories.NotificationRepository
	profileRepository      repositories.ProfileRepository
}

// NewNotificationHandler creates a new NotificationHandler
func NewNotificationHandler(notifRepo repositories.NotificationRepository, profileRepo repositories.ProfileRepository) *NotificationHandler {
	return &NotificationHandler{
		notificationRepository: notifRepo,
		profileRepository:      profileRepo,
	}
}

// RegisterNotificationRoutes registers notification routes
func (h *NotificationHandler) RegisterNotificationRoutes(g *echo.Group) {
	g.GET("/notifications", h.GetNotifications)
	g.GET("/notifications/grouped", h.GetGroupedNotifications)
	g.GET("/notifications/unread-count", h.GetUnreadCount)
	g.PUT("/notifications/read-all", h.MarkAllAsRead)
	g.PUT("/notifications/:id/read", h.MarkAsRead)
}

// EnrichedNotification includes actor info
type EnrichedNotification struct {
	models.Notification
	Actor *models.ProfileCompact `json:"actor,omitempty"`
}

// enrichNotifications attaches actor profiles in one lookup. Actors without a
// profile get a fallback name.
func (h *NotificationHandler) enrichNotifications(notifications ...[]models.Notification) [][]EnrichedNotification {
	seen := make(map[string]bool)
	var uids []string
	for _, list := range notifications {
		for _, n := range list {
			if n.ActorID != "" && !seen[n.ActorID] {
				seen[n.ActorID] = true
				uids = append(uids, n.ActorID)
			}
		}
	}

	actors := make(map[string]models.ProfileCompact, len(uids))
	if profiles, err := h.profileRepository.GetProfilesByUIDs(uids); err == nil {
		for i := range profiles {
			actors[profiles[i].UID] = profiles[i].ToCompact()
		}
	}

	out := make([][]EnrichedNotification, len(notifications))
	for li, list := range notifications {
		out[li] = make([]EnrichedNotification, len(list))
		for i, n := range list {
			out[li][i] = EnrichedNotification{Notification: n}
			if n.ActorID == "" {
				continue
			}
			actor, ok := actors[n.ActorID]
			if !ok {
				actor = models.ProfileCompact{UID: n.ActorID, DisplayName: services.FallbackName(n.ActorID)}
			}
			out[li][i].Actor = &actor
		}
	}
	return out
}

// GetNotifications returns paginated notifications
func (h *NotificationHandler) GetNotifications(c echo.Context) error {
	currentUserID, err := requireUserID(c)
	if err != nil {
		return err
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	limit := queryInt(c, "limit", 20, 50)

	notifications, total, err := h.notificationRepository.GetByRecipientID(currentUserID, page, limit)
	if err != nil {
		return errs.Wrap(errs.CodeServerError, err, "list notifications")
	}

	totalPages := int(math.Ceil(float64(total) / float64(limit)))
	enriched := h.enrichNotifications(notifications)[0]

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"data": echo.Map{
			"notifications": enriched,
		},
		"meta": echo.Map{
			"currentPage":     page,
			"totalPages":      totalPages,
			"totalItems":      total,
			"itemsPerPage":    limit,
			"hasNextPage":     page < totalPages,
			"hasPreviousPage": page > 1,
		},
	})
}

// GetGroupedNotifications returns notifications grouped by time period
func (h *NotificationHandler) GetGroupedNotifications(c echo.Context) error {
	currentUserID, err := requireUserID(c)
	if err != nil {
		return err
	}

	today, yesterday, thisWeek, older, err := h.notificationRepository.GetGrouped(currentUserID)
	if err != nil {
		return errs.Wrap(errs.CodeServerError, err, "group notifications")
	}

	unreadCount, _ := h.notificationRepository.GetUnreadCount(currentUserID)
	groups := h.enrichNotifications(today, yesterday, thisWeek, older)

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"data": echo.Map{
			"notifications": echo.Map{
				"today":     groups[0],
				"yesterday": groups[1],
				"thisWeek":  groups[2],
				"older":     groups[3],
			},
			"unreadCount": unreadCount,
		},
	})
}

// GetUnreadCount returns the unread notification count
func (h *NotificationHandler) GetUnreadCount(c echo.Context) error {
	currentUserID, err := requireUserID(c)
	if err != nil {
		return err
	}

	count, err := h.notificationRepository.GetUnreadCount(currentUserID)
	if err != nil {
		return errs.Wrap(errs.CodeServerError, err, "count notifications")
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": echo.Map{"count": count}})
}

// MarkAsRead marks one of the caller's notifications as read
func (h *NotificationHandler) MarkAsRead(c echo.Context) error {
	currentUserID, err := requireUserID(c)
	if err != nil {
		return err
	}

	notifID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return errs.Wrap(errs.CodeInvalidInput, err, "notification id")
	}

	if err := h.notificationRepository.MarkAsRead(currentUserID, uint(notifID)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.New(errs.CodeNotFound, "notification "+c.Param("id"))
		}
		return errs.Wrap(errs.CodeServerError, err, "mark notification")
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": echo.Map{"success": true}})
}

// MarkAllAsRead marks all notifications as read
func (h *NotificationHandler) MarkAllAsRead(c echo.Context) error {
	currentUserID, err := requireUserID(c)
	if err != nil {
		return err
	}

	if err := h.notificationRepository.MarkAllAsRead(currentUserID); err != nil {
		return errs.Wrap(errs.CodeServerError, err, "mark all notifications")
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": echo.Map{"success": true}})
}
