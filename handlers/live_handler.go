package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ShahidDS/game-time-tracker/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Origins are enforced by the CORS middleware ahead of the upgrade.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type LiveHandler struct {
	hub *services.Hub
	log *slog.Logger
}

func NewLiveHandler(hub *services.Hub, log *slog.Logger) *LiveHandler {
	return &LiveHandler{hub: hub, log: log}
}

// Sessions upgrades to a websocket that streams session changes, optionally
// filtered by userId and gameId.
func (h *LiveHandler) Sessions(c *gin.Context) {
	userID, ok := optionalID(c, "userId")
	if !ok {
		return
	}
	gameID, ok := optionalID(c, "gameId")
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("ws_upgrade_failed", slog.Any("error", err))
		return
	}
	h.hub.RegisterClient(conn, userID, gameID)
}

func optionalID(c *gin.Context, name string) (uint, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + name + ": must be a positive integer",
			"field": name,
		})
		return 0, false
	}
	return uint(id), true
}
