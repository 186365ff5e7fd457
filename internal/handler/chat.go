package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/course-seat-watch/internal/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
	HandshakeTimeout: 10 * time.Second,
	// Clients connect from anywhere; identity is the user_id they
	// present, not their origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ChatHandler upgrades websocket connections and hands them to the
// hub.
type ChatHandler struct {
	Hub *transport.Hub
}

// Connect serves GET /ws?user_id=<id>. The user id must be present
// before the upgrade so a bad request still gets a plain HTTP error.
func (h *ChatHandler) Connect(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "user_id is required"})
	}
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		return nil
	}
	h.Hub.Register(userID, ws)
	return nil
}
