package handlers

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/anonto42/nearme/backend/internal/repositories"
	"github.com/anonto42/nearme/backend/internal/services"
	"github.com/anonto42/nearme/backend/pkg/errs"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxInboundSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsFrame is the only thing written to a stream socket.
type wsFrame struct {
	Type  string      `json:"type"` // view, messages or error
	Data  interface{} `json:"data,omitempty"`
	Error *errs.Alert `json:"error,omitempty"`
}

// latestFrame holds the newest frame not yet written. A slow client skips
// intermediate frames; every frame is a full snapshot so nothing is lost.
type latestFrame struct {
	mu      sync.Mutex
	frame   wsFrame
	seq     uint64
	pending bool
	wake    chan struct{}
}

func newLatestFrame() *latestFrame {
	return &latestFrame{wake: make(chan struct{}, 1)}
}

// put stores f unless a frame with a higher seq was already stored.
func (l *latestFrame) put(f wsFrame, seq uint64) {
	l.mu.Lock()
	if seq < l.seq {
		l.mu.Unlock()
		return
	}
	l.frame, l.seq, l.pending = f, seq, true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *latestFrame) take() (wsFrame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.pending {
		return wsFrame{}, false
	}
	l.pending = false
	return l.frame, true
}

// StreamHandler pushes live connection views and chat messages over WebSocket.
type StreamHandler struct {
	svc *services.ConnectionService
	log *zap.Logger
}

func NewStreamHandler(svc *services.ConnectionService, log *zap.Logger) *StreamHandler {
	return &StreamHandler{svc: svc, log: log.Named("ws")}
}

func (h *StreamHandler) RegisterStreamRoutes(g *echo.Group) {
	g.GET("/ws/connections", h.StreamConnections)
	g.GET("/ws/connections/:id/messages", h.StreamMessages)
}

// StreamConnections sends the caller's session view on connect and after every change.
func (h *StreamHandler) StreamConnections(c echo.Context) error {
	uid, err := requireUserID(c)
	if err != nil {
		return err
	}
	return h.serve(c, uid, func(ctx context.Context, out *latestFrame) (func(), error) {
		sess, err := h.svc.OpenSession(ctx, uid)
		if err != nil {
			return nil, err
		}
		remove := sess.OnChange(func(v services.View) {
			out.put(wsFrame{Type: "view", Data: v}, v.Version)
		})
		v := sess.View()
		out.put(wsFrame{Type: "view", Data: v}, v.Version)
		return func() {
			remove()
			sess.Close()
		}, nil
	})
}

// StreamMessages sends the full message list of one connection on every change.
func (h *StreamHandler) StreamMessages(c echo.Context) error {
	uid, err := requireUserID(c)
	if err != nil {
		return err
	}
	connectionID := c.Param("id")
	return h.serve(c, uid, func(ctx context.Context, out *latestFrame) (func(), error) {
		var (
			mu  sync.Mutex
			seq uint64
		)
		unsub, err := h.svc.SubscribeToMessages(ctx, uid, connectionID, func(snap repositories.MessageSnapshot) {
			mu.Lock()
			seq++
			n := seq
			mu.Unlock()

			if snap.Err != nil {
				alert := errs.AlertOf(snap.Err)
				out.put(wsFrame{Type: "error", Error: &alert}, n)
				return
			}
			out.put(wsFrame{Type: "messages", Data: snap.Messages}, n)
		})
		if err != nil {
			return nil, err
		}
		return func() { unsub() }, nil
	})
}

// serve upgrades the request, starts the stream and runs until either side closes.
func (h *StreamHandler) serve(c echo.Context, uid string, start func(context.Context, *latestFrame) (func(), error)) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Info("upgrade failed", zap.String("user", uid), zap.Error(err))
		return nil
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	out := newLatestFrame()
	stop, err := start(ctx, out)
	if err != nil {
		alert := errs.AlertOf(err)
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = ws.WriteJSON(wsFrame{Type: "error", Error: &alert})
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, string(alert.Code)))
		return nil
	}
	defer stop()

	h.log.Debug("stream opened", zap.String("user", uid), zap.String("path", c.Path()))
	done := make(chan struct{})
	go h.readLoop(ws, uid, done)
	h.writeLoop(ws, out, done)
	h.log.Debug("stream closed", zap.String("user", uid), zap.String("path", c.Path()))
	return nil
}

// readLoop only drains control frames; it closes done when the peer goes away.
func (h *StreamHandler) readLoop(ws *websocket.Conn, uid string, done chan<- struct{}) {
	defer close(done)
	ws.SetReadLimit(maxInboundSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				h.log.Info("stream read timeout", zap.String("user", uid))
			} else if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				h.log.Info("stream read error", zap.String("user", uid), zap.Error(err))
			}
			return
		}
	}
}

// writeLoop is the socket's single writer.
func (h *StreamHandler) writeLoop(ws *websocket.Conn, out *latestFrame, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-out.wake:
			f, ok := out.take()
			if !ok {
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(f); err != nil {
				h.log.Info("stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
