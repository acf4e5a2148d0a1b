package handlers

import (
	"net/http"

	"github.com/anonto42/nearme/backend/internal/models"
	"github.com/anonto42/nearme/backend/internal/services"
	"github.com/labstack/echo/v4"
)

// ConnectionHandler exposes connection requests and chat over HTTP. Every
// rule lives in the service; handlers only bind and render.
type ConnectionHandler struct {
	svc *services.ConnectionService
}

func NewConnectionHandler(svc *services.ConnectionService) *ConnectionHandler {
	return &ConnectionHandler{svc: svc}
}

func (h *ConnectionHandler) RegisterConnectionRoutes(g *echo.Group) {
	g.POST("/connections", h.SendRequest)
	g.GET("/connections", h.ListConnections)
	g.GET("/connections/outgoing", h.ListOutgoing)
	g.GET("/connections/incoming", h.ListIncoming)
	g.GET("/connections/declined", h.ListDeclined)
	g.GET("/connections/with/:userId", h.GetConnectionWith)
	g.PUT("/connections/:id/accept", h.Accept)
	g.PUT("/connections/:id/decline", h.Decline)
	g.PUT("/connections/:id/resend", h.Resend)

	g.POST("/connections/:id/messages", h.SendMessage)
	g.GET("/connections/:id/messages", h.ListMessages)
	g.PUT("/messages/:id/read", h.MarkMessageAsRead)
}

func (h *ConnectionHandler) SendRequest(c echo.Context) error {
	var req models.CreateConnectionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	conn, err := h.svc.SendConnectionRequest(c.Request().Context(), getUserIDFromContext(c), req.ToUserID, req.Message)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, conn)
}

func (h *ConnectionHandler) ListConnections(c echo.Context) error {
	conns, err := h.svc.ListConnections(c.Request().Context(), getUserIDFromContext(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conns)
}

func (h *ConnectionHandler) ListOutgoing(c echo.Context) error {
	conns, err := h.svc.ListOutgoing(c.Request().Context(), getUserIDFromContext(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conns)
}

func (h *ConnectionHandler) ListIncoming(c echo.Context) error {
	conns, err := h.svc.ListIncoming(c.Request().Context(), getUserIDFromContext(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conns)
}

func (h *ConnectionHandler) ListDeclined(c echo.Context) error {
	conns, err := h.svc.ListDeclined(c.Request().Context(), getUserIDFromContext(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conns)
}

// GetConnectionWith answers {"connection": null} when the two users have never connected.
func (h *ConnectionHandler) GetConnectionWith(c echo.Context) error {
	conn, err := h.svc.GetConnectionWith(c.Request().Context(), getUserIDFromContext(c), c.Param("userId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"connection": conn})
}

func (h *ConnectionHandler) Accept(c echo.Context) error {
	conn, err := h.svc.AcceptConnection(c.Request().Context(), getUserIDFromContext(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conn)
}

func (h *ConnectionHandler) Decline(c echo.Context) error {
	conn, err := h.svc.DeclineConnection(c.Request().Context(), getUserIDFromContext(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conn)
}

func (h *ConnectionHandler) Resend(c echo.Context) error {
	var req models.ResendConnectionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	conn, err := h.svc.ResendConnectionRequest(c.Request().Context(), getUserIDFromContext(c), c.Param("id"), req.Message)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conn)
}

func (h *ConnectionHandler) SendMessage(c echo.Context) error {
	var req models.SendMessageRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	msg, err := h.svc.SendMessage(c.Request().Context(), getUserIDFromContext(c), c.Param("id"), req.Content)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, msg)
}

func (h *ConnectionHandler) ListMessages(c echo.Context) error {
	msgs, err := h.svc.ListMessages(c.Request().Context(), getUserIDFromContext(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, msgs)
}

func (h *ConnectionHandler) MarkMessageAsRead(c echo.Context) error {
	if err := h.svc.MarkMessageAsRead(c.Request().Context(), getUserIDFromContext(c), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
