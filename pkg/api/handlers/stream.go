package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jordanlanch/bioforge/pkg/access"
	apierrors "github.com/jordanlanch/bioforge/pkg/api/errors"
	"github.com/jordanlanch/bioforge/pkg/api/middleware"
	"github.com/jordanlanch/bioforge/pkg/logger"
	"github.com/jordanlanch/bioforge/pkg/models"
	"github.com/jordanlanch/bioforge/pkg/session"
	"github.com/labstack/echo/v4"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
	streamReadLimit  = 512
)

// StreamHandler pushes entitlement changes to the browser over a websocket.
// The client may send {"type":"visible"|"hidden"|"focus"} lifecycle events
// on the same connection.
type StreamHandler struct {
	sessions *session.Manager
	upgrader websocket.Upgrader
	log      logger.Logger
}

// NewStreamHandler creates a stream handler accepting the given browser origins
func NewStreamHandler(sessions *session.Manager, allowedOrigins []string, log logger.Logger) *StreamHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	h := &StreamHandler{sessions: sessions, log: log}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		},
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			log.Warn("websocket upgrade failed", "status", status, "error", reason)
			http.Error(w, http.StatusText(status), status)
		},
	}
	return h
}

// Stream upgrades the connection and writes an AccessResponse after every state change
func (h *StreamHandler) Stream(c echo.Context) error {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return apierrors.UnauthorizedError(c)
	}
	ctx := c.Request().Context()
	ctrl := h.sessions.Get(ctx, id)

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}
	defer conn.Close()

	log := h.log.With("user_id", id.UserID)
	log.Debug("access stream opened")

	updates, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(streamReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})

		for {
			var msg models.AccessEventRequest
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			ev, ok := access.ParseEvent(msg.Type)
			if !ok {
				log.Debug("ignoring unknown stream event", "type", msg.Type)
				continue
			}
			// The session may have been evicted and replaced; the client must reconnect.
			if h.sessions.Get(ctx, id) != ctrl {
				return
			}
			_ = ctrl.Notify(ctx, ev)
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return nil
		case _, ok := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
				return nil
			}
			if err := conn.WriteJSON(ctrl.Response()); err != nil {
				log.Debug("access stream write failed", "error", err)
				return nil
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}
