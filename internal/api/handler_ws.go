package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ServeWS upgrades the connection and hands it to the hub.
func (h *Handler) ServeWS(c *gin.Context) {
	if h.hub == nil {
		fail(c, http.StatusServiceUnavailable, "websocket hub is not running")
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied to the client
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.hub.Attach(conn)
}
