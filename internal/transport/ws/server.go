// Package ws provides the WebSocket endpoint for observing a session's
// live event stream.
package ws

import (
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/deskd/deskd/internal/config"
	"github.com/deskd/deskd/internal/service"
)

// closeSessionNotFound is sent when the stream targets an unknown session.
const closeSessionNotFound = 4404

// ErrBufferFull is returned by a connection whose send buffer is full; the
// hub reacts by unsubscribing the connection.
var ErrBufferFull = errors.New("send buffer full")

// Server handles WebSocket observer connections.
type Server struct {
	cfg      *config.Config
	service  *service.Service
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, svc *service.Service) *Server {
	return &Server{
		cfg:     cfg,
		service: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// connection is one observer. Writes go through a buffered channel drained
// by writePump so the hub's Publish never blocks on the network.
type connection struct {
	id        string
	sessionID string
	ws        *websocket.Conn
	send      chan []byte
	dropped   chan struct{}
	dropOnce  sync.Once
}

// Send queues data for delivery. It never blocks; a full buffer marks the
// connection dropped so writePump tears it down and the client can
// reconnect instead of sitting on a silent stream.
func (c *connection) Send(data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		c.drop()
		return ErrBufferFull
	}
}

func (c *connection) drop() {
	c.dropOnce.Do(func() { close(c.dropped) })
}

// HandleStream upgrades the request and subscribes the connection to the
// session's event stream until it disconnects.
// GET /v1/sessions/:session_id/stream
func (s *Server) HandleStream(c echo.Context) error {
	sessionID := c.Param("session_id")

	_, err := s.service.GetSession(c.Request().Context(), sessionID)
	notFound := errors.Is(err, service.ErrSessionNotFound)
	if err != nil && !notFound {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("WARN: failed to upgrade stream for session %s: %v", sessionID, err)
		return err
	}

	if notFound {
		// Upgrade succeeded, so refuse over the socket with a close frame.
		deadline := time.Now().Add(s.cfg.WSWriteTimeout)
		msg := websocket.FormatCloseMessage(closeSessionNotFound, "session not found")
		_ = ws.WriteControl(websocket.CloseMessage, msg, deadline)
		return ws.Close()
	}

	conn := &connection{
		id:        "conn_" + uuid.New().String()[:8],
		sessionID: sessionID,
		ws:        ws,
		send:      make(chan []byte, s.cfg.WSSendBuffer),
		dropped:   make(chan struct{}),
	}
	s.service.Subscribe(sessionID, conn)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump discards inbound frames; its job is to notice disconnects and
// keep read deadlines fresh via pongs.
func (s *Server) readPump(conn *connection) {
	defer func() {
		s.service.Unsubscribe(conn.sessionID, conn)
		conn.ws.Close()
	}()

	conn.ws.SetReadLimit(1 << 20)
	conn.ws.SetReadDeadline(time.Now().Add(s.cfg.WSReadTimeout))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(s.cfg.WSReadTimeout))
		return nil
	})

	for {
		if _, _, err := conn.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("WARN: stream %s read error: %v", conn.id, err)
			}
			return
		}
	}
}

// writePump delivers queued events and keeps the connection alive with
// pings.
func (s *Server) writePump(conn *connection) {
	ticker := time.NewTicker(s.cfg.WSPingInterval)
	defer func() {
		ticker.Stop()
		conn.ws.Close()
	}()

	for {
		select {
		case <-conn.dropped:
			// The send buffer overflowed; the hub already unsubscribed this
			// observer. Close the socket so the client knows to reconnect.
			log.Printf("WARN: stream %s dropped, closing slow consumer", conn.id)
			deadline := time.Now().Add(s.cfg.WSWriteTimeout)
			msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "event buffer overflow")
			_ = conn.ws.WriteControl(websocket.CloseMessage, msg, deadline)
			return

		case data := <-conn.send:
			conn.ws.SetWriteDeadline(time.Now().Add(s.cfg.WSWriteTimeout))
			if err := conn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(s.cfg.WSWriteTimeout))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
